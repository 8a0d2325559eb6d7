package rdm

// StatusCode is the closed set of outcomes a caller can observe from the
// codec or from an RDM request/response exchange. It implements error so
// it can be returned and compared directly.
type StatusCode int

const (
	// OK indicates a successful ACK response.
	OK StatusCode = iota
	// WasBroadcast indicates a broadcast request that completed without
	// waiting for a reply.
	WasBroadcast
	// FailedToSend indicates the request could not be queued or sent
	// (e.g. a transaction is already in flight on this port).
	FailedToSend
	// Timeout indicates no reply arrived within the reply window.
	Timeout
	// UnknownUID indicates the destination UID was not found by the
	// transport (e.g. an RDM_UNKNOWN_UID reply over Art-Net).
	UnknownUID
	// PluginDiscoveryNotSupported indicates a DISCOVER-class request was
	// submitted through a path that only supports GET/SET.
	PluginDiscoveryNotSupported
	// InvalidResponse indicates the codec input was nil or otherwise
	// fundamentally unusable.
	InvalidResponse
	// ChecksumIncorrect indicates the frame's trailing checksum did not
	// match its computed value.
	ChecksumIncorrect
	// PacketTooShort indicates the buffer was shorter than the minimum
	// RDM frame length.
	PacketTooShort
	// PacketLengthMismatch indicates the buffer was shorter than the
	// frame's own message-length field claims.
	PacketLengthMismatch
	// ParamLengthMismatch indicates parameter-data-length exceeded the
	// bytes actually available (or the serializer's 231-byte cap).
	ParamLengthMismatch
	// WrongSubStartCode indicates the sub-start-code byte was not 0x01.
	WrongSubStartCode
	// TransactionMismatch indicates a response's transaction number did
	// not match the originating request.
	TransactionMismatch
	// SubDeviceMismatch indicates a response's sub-device did not match
	// the originating request (outside the QUEUED_MESSAGE/ALL_SUBDEVICES
	// exceptions).
	SubDeviceMismatch
	// SrcUIDMismatch indicates a response's source UID was not the
	// request's destination UID.
	SrcUIDMismatch
	// DestUIDMismatch indicates a response's destination UID was not the
	// request's source UID.
	DestUIDMismatch
	// CommandClassMismatch indicates a response's command class was not
	// the expected *_RESPONSE class for the request.
	CommandClassMismatch
	// InvalidCommandClass indicates the command-class byte did not match
	// any recognised value, or did not match the role the caller expected.
	InvalidCommandClass
	// InvalidResponseType indicates the response-type byte exceeded
	// ACK_OVERFLOW.
	InvalidResponseType
)

var statusNames = map[StatusCode]string{
	OK:                          "OK",
	WasBroadcast:                "WAS_BROADCAST",
	FailedToSend:                "FAILED_TO_SEND",
	Timeout:                     "TIMEOUT",
	UnknownUID:                  "UNKNOWN_UID",
	PluginDiscoveryNotSupported: "PLUGIN_DISCOVERY_NOT_SUPPORTED",
	InvalidResponse:             "INVALID_RESPONSE",
	ChecksumIncorrect:           "CHECKSUM_INCORRECT",
	PacketTooShort:              "PACKET_TOO_SHORT",
	PacketLengthMismatch:        "PACKET_LENGTH_MISMATCH",
	ParamLengthMismatch:         "PARAM_LENGTH_MISMATCH",
	WrongSubStartCode:           "WRONG_SUB_START_CODE",
	TransactionMismatch:         "TRANSACTION_MISMATCH",
	SubDeviceMismatch:           "SUB_DEVICE_MISMATCH",
	SrcUIDMismatch:              "SRC_UID_MISMATCH",
	DestUIDMismatch:             "DEST_UID_MISMATCH",
	CommandClassMismatch:        "COMMAND_CLASS_MISMATCH",
	InvalidCommandClass:         "INVALID_COMMAND_CLASS",
	InvalidResponseType:         "INVALID_RESPONSE_TYPE",
}

// String renders the status code's name.
func (s StatusCode) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN_STATUS"
}

// Error implements the error interface so a StatusCode can be returned
// directly from functions that fail with one of these closed outcomes.
func (s StatusCode) Error() string {
	return "rdm: " + s.String()
}

// IsError reports whether s represents anything other than a successful
// completion (OK or WasBroadcast both count as success for callback
// purposes; every other code is a failure).
func (s StatusCode) IsError() bool {
	return s != OK && s != WasBroadcast
}
