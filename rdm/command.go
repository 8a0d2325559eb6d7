package rdm

// Wire-level constants from ANSI E1.20, carried as named values rather than
// magic numbers (grounded on include/ola/rdm/RDMCommand.h).
const (
	StartCode    byte = 0xCC
	SubStartCode byte = 0x01

	// HeaderSize is the number of bytes from sub-start-code through
	// parameter-data-length, inclusive, not counting the leading start
	// code or the trailing parameter data and checksum.
	HeaderSize = 23

	// MaxParamDataLength is the largest parameter-data block a single
	// RDM frame can carry (RDMCommandSerializer.cpp's
	// MAX_PARAM_DATA_LENGTH).
	MaxParamDataLength = 231

	// MaxOverflowSize is the cap on concatenated ACK_OVERFLOW parameter
	// data (RDMResponse::MAX_OVERFLOW_SIZE, 4 KiB).
	MaxOverflowSize = 4 << 10

	// AllRDMSubdevices addresses every sub-device on a responder and is
	// exempt from the sub-device match check in deserialize_response.
	AllRDMSubdevices uint16 = 0xFFFF

	// QueuedMessagePID is PID_QUEUED_MESSAGE; a GET request using this
	// PID is exempt from the sub-device and command-class match checks
	// in DeserializeResponse, since the responder may return queued
	// data for a different message entirely.
	QueuedMessagePID uint16 = 0x0020

	// CommandClassOffset is the byte offset of the command-class field
	// measured from the sub-start code (the byte after the start code),
	// so the field sits at data[CommandClassOffset+1], used by the generic
	// deserialize entry point to guess request-vs-response shape before
	// full validation (RDMCommand.cpp's GuessMessageType).
	CommandClassOffset = 19
)

// CommandClass identifies the RDM message's role and direction.
type CommandClass byte

const (
	DiscoverCommand         CommandClass = 0x10
	DiscoverCommandResponse CommandClass = 0x11
	GetCommand              CommandClass = 0x20
	GetCommandResponse      CommandClass = 0x21
	SetCommand              CommandClass = 0x30
	SetCommandResponse      CommandClass = 0x31
	InvalidCommand          CommandClass = 0xFF
)

func (c CommandClass) String() string {
	switch c {
	case DiscoverCommand:
		return "DISCOVER_COMMAND"
	case DiscoverCommandResponse:
		return "DISCOVER_COMMAND_RESPONSE"
	case GetCommand:
		return "GET_COMMAND"
	case GetCommandResponse:
		return "GET_COMMAND_RESPONSE"
	case SetCommand:
		return "SET_COMMAND"
	case SetCommandResponse:
		return "SET_COMMAND_RESPONSE"
	default:
		return "INVALID_COMMAND"
	}
}

// IsRequest reports whether c is a request-side class.
func (c CommandClass) IsRequest() bool {
	return c == DiscoverCommand || c == GetCommand || c == SetCommand
}

// IsResponse reports whether c is a response-side class.
func (c CommandClass) IsResponse() bool {
	return c == DiscoverCommandResponse || c == GetCommandResponse || c == SetCommandResponse
}

// ResponseClass returns the *_RESPONSE class matching a request class, or
// InvalidCommand if c is not a request class.
func (c CommandClass) ResponseClass() CommandClass {
	switch c {
	case DiscoverCommand:
		return DiscoverCommandResponse
	case GetCommand:
		return GetCommandResponse
	case SetCommand:
		return SetCommandResponse
	default:
		return InvalidCommand
	}
}

// ResponseType occupies the same header byte as a request's port-id.
type ResponseType byte

const (
	ResponseAck         ResponseType = 0x00
	ResponseAckTimer    ResponseType = 0x01
	ResponseNackReason  ResponseType = 0x02
	ResponseAckOverflow ResponseType = 0x03
)

func (r ResponseType) String() string {
	switch r {
	case ResponseAck:
		return "ACK"
	case ResponseAckTimer:
		return "ACK_TIMER"
	case ResponseNackReason:
		return "NACK_REASON"
	case ResponseAckOverflow:
		return "ACK_OVERFLOW"
	default:
		return "UNKNOWN_RESPONSE_TYPE"
	}
}

// NackReason is the 16-bit reason code carried as parameter data in a
// NACK_REASON response.
type NackReason uint16

const (
	NackUnknownPID         NackReason = 0x0000
	NackFormatError        NackReason = 0x0001
	NackHardwareFault      NackReason = 0x0002
	NackProxyReject        NackReason = 0x0003
	NackWriteProtect       NackReason = 0x0004
	NackUnsupportedCommand NackReason = 0x0005
	NackDataOutOfRange     NackReason = 0x0006
	NackBufferFull         NackReason = 0x0007
	NackPacketSizeExceeded NackReason = 0x0008
	NackSubDeviceOutOfRange NackReason = 0x0009
	NackProxyBufferFull    NackReason = 0x000A
)

// Header carries every RDM header field in wire order. Request and
// Response both embed it (spec.md §3: "the header fields ... reused for
// both roles"). The codec does not read or write PortIDOrResponse: the
// "port-id-or-response-type" byte goes to and from Request.PortID or
// Response.ResponseType instead.
type Header struct {
	DestinationUID     UID
	SourceUID          UID
	TransactionNumber  byte
	PortIDOrResponse   byte
	MessageCount       byte
	SubDevice          uint16
	CommandClass       CommandClass
	ParameterID        uint16
	ParameterData      []byte
}

// Overrides lets a test harness force specific header bytes to values the
// Command's own fields would not normally produce, in order to build
// deliberately malformed frames. Nil fields mean "compute normally".
// Grounded on RDMCommandSerializer.cpp's PopulateHeader, which reads each
// of these independently from the command, and on
// RDMCommandSerializerTest.cpp's pattern of constructing malformed frames
// via per-field overrides.
type Overrides struct {
	SubStartCode  *byte
	MessageLength *byte
	MessageCount  *byte
	Checksum      *uint16
}

// Request is an RDM GET/SET/DISCOVER command value. Immutable after
// construction except for TransactionNumber and PortID, which a
// transaction controller may rewrite before sending (spec.md §4 "RDM
// Request").
type Request struct {
	Header
	PortID    byte
	Overrides Overrides
}

// Response is an RDM reply value: the same header shape as Request, but
// with ResponseType in place of PortID.
type Response struct {
	Header
	ResponseType ResponseType
	Overrides    Overrides
}

// ParamDataSize returns the number of parameter-data bytes.
func (h Header) ParamDataSize() int { return len(h.ParameterData) }

// NewGetRequest builds a GET_COMMAND request with the given addressing
// and parameter, zero transaction number and port-id. Nothing on the
// send path assigns these afterwards; callers set them on the returned
// value where needed.
func NewGetRequest(src, dst UID, subDevice uint16, pid uint16, paramData []byte) Request {
	return Request{
		Header: Header{
			DestinationUID: dst,
			SourceUID:      src,
			SubDevice:      subDevice,
			CommandClass:   GetCommand,
			ParameterID:    pid,
			ParameterData:  paramData,
		},
	}
}

// NewSetRequest builds a SET_COMMAND request.
func NewSetRequest(src, dst UID, subDevice uint16, pid uint16, paramData []byte) Request {
	return Request{
		Header: Header{
			DestinationUID: dst,
			SourceUID:      src,
			SubDevice:      subDevice,
			CommandClass:   SetCommand,
			ParameterID:    pid,
			ParameterData:  paramData,
		},
	}
}
