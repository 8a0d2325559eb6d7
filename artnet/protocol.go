// Package artnet implements the Art-Net UDP transport for RDM and DMX512:
// wire packet parsing/building, the node state machine (ArtPoll/ArtPollReply
// discovery, DMX transmission with HTP/LTP merging, and RDM-over-Art-Net
// request/response correlation with TOD-based discovery).
package artnet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Port is the UDP port Art-Net uses for all traffic, unicast and
	// broadcast alike, including RDM-over-Art-Net.
	Port = 6454

	// Opcodes, little-endian on the wire (spec.md §4.3.1/§6).
	OpPoll       = 0x2000
	OpPollReply  = 0x2100
	OpDmx        = 0x5000
	OpTodRequest = 0x8000
	OpTodData    = 0x8100
	OpTodControl = 0x8200
	OpRdm        = 0x8300
	OpTimeCode   = 0x9700
	OpIPProgram  = 0xF800

	// ProtocolVersion is the fixed Art-Net protocol version carried
	// big-endian in every packet except PollReply, whose leading fields
	// carry no version (spec.md §6).
	ProtocolVersion = 14

	// MaxTodUIDsPerPacket bounds a single ArtTodData packet's UID slots
	// (spec.md §6: "200x UID slots").
	MaxTodUIDsPerPacket = 200

	// MaxTodAddresses bounds ArtTodRequest's address list.
	MaxTodAddresses = 32

	commonHeaderLen = 10 // 8-byte ID + 2-byte opcode
)

var (
	// ArtNetID is the 8-byte magic beginning every Art-Net packet.
	ArtNetID = [8]byte{'A', 'r', 't', '-', 'N', 'e', 't', 0x00}

	ErrInvalidHeader  = errors.New("artnet: invalid packet header")
	ErrPacketTooShort = errors.New("artnet: packet too short")
	ErrWrongVersion   = errors.New("artnet: unsupported protocol version")
)

// Universe is an Art-Net port address: a 15-bit field split into Net
// (bits 14-8, 7 bits), SubNet (bits 7-4) and Universe (bits 3-0), per
// spec.md's GLOSSARY entry for "Universe". Adapted from the teacher's
// artnet.Universe bit-packing.
type Universe uint16

// NewUniverse packs a net/subnet/universe triple into a Universe.
func NewUniverse(net, subnet, universe uint8) Universe {
	return Universe((uint16(net&0x7F) << 8) | (uint16(subnet&0x0F) << 4) | uint16(universe&0x0F))
}

func (u Universe) Net() uint8      { return uint8((u >> 8) & 0x7F) }
func (u Universe) SubNet() uint8   { return uint8((u >> 4) & 0x0F) }
func (u Universe) Universe() uint8 { return uint8(u & 0x0F) }

// SubUni is the 8-bit "sub-net + universe" byte Art-Net carries on the
// wire alongside a separate net byte.
func (u Universe) SubUni() uint8 { return uint8(u & 0xFF) }

func (u Universe) String() string {
	return fmt.Sprintf("%d.%d.%d", u.Net(), u.SubNet(), u.Universe())
}

// --- Packet structs -------------------------------------------------------

// PollPacket is ArtPoll (0x2000).
type PollPacket struct {
	TalkToMe byte // bit 1 (0x02): send ArtPollReply whenever node config changes
	Priority byte
}

// TalkToMeSendOnChange reports whether bit 1 of TalkToMe is set.
func (p PollPacket) TalkToMeSendOnChange() bool { return p.TalkToMe&0x02 != 0 }

// Port type bits (spec.md §6).
const (
	PortTypeOutput = 0x80
	PortTypeInput  = 0x40
)

// Status2 bits.
const Status2SupportsPortAddr15Bit = 0x08

// PollReplyPacket is ArtPollReply (0x2100).
type PollReplyPacket struct {
	IP          [4]byte
	UDPPort     uint16
	FirmwareVer uint16
	NetSwitch   uint8
	SubSwitch   uint8
	Oem         uint16
	UbeaVersion uint8
	Status1     uint8
	EstaMan     uint16
	ShortName   [18]byte
	LongName    [64]byte
	NodeReport  [64]byte
	NumPorts    uint16
	PortTypes   [4]byte
	GoodInput   [4]byte
	GoodOutput  [4]byte
	SwIn        [4]byte
	SwOut       [4]byte
	MAC         [6]byte
	BindIP      [4]byte
	BindIndex   uint8
	Status2     uint8
}

// DMXPacket is ArtDmx (0x5000).
type DMXPacket struct {
	Sequence uint8
	Physical uint8
	Universe Universe
	Data     []byte
}

// TodRequestPacket is ArtTodRequest (0x8000).
type TodRequestPacket struct {
	Net       uint8
	Command   uint8
	Addresses []uint8
}

// TodDataPacket is ArtTodData (0x8100).
type TodDataPacket struct {
	RdmVersion      uint8
	Port            uint8
	Net             uint8
	CommandResponse uint8
	Address         uint8
	UidTotal        uint16
	BlockCount      uint8
	UIDs            [][6]byte
}

// TodControlPacket is ArtTodControl (0x8200).
const TodControlFlush = 1

type TodControlPacket struct {
	Net     uint8
	Command uint8
	Address uint8
}

// RdmPacket is ArtRDM (0x8300): an RDM frame body (no leading start code)
// carried over Art-Net.
type RdmPacket struct {
	RdmVersion uint8
	Net        uint8
	Command    uint8
	Address    uint8
	Data       []byte
}

// TimeCodePacket is ArtTimeCode (0x9700).
type TimeCodePacket struct {
	Frames  uint8
	Seconds uint8
	Minutes uint8
	Hours   uint8
	Type    uint8
}

// IPProgramPacket is ArtIpProg (0xF800): used only to probe/reconfigure a
// node's network settings. This module parses it for completeness but
// never acts on it (see Node.handleIPProgram).
type IPProgramPacket struct {
	Command uint8
	IP      [4]byte
	Subnet  [4]byte
}

// Packet is the sum type returned by ParsePacket; exactly one field other
// than Opcode is populated, matching the opcode.
type Packet struct {
	Opcode uint16

	Poll       *PollPacket
	PollReply  *PollReplyPacket
	Dmx        *DMXPacket
	TodRequest *TodRequestPacket
	TodData    *TodDataPacket
	TodControl *TodControlPacket
	Rdm        *RdmPacket
	TimeCode   *TimeCodePacket
	IPProgram  *IPProgramPacket
}

// ParsePacket validates the common Art-Net header and dispatches to a
// per-opcode parser. Unrecognised opcodes are returned with a nil payload
// so the caller can log-and-ignore per spec.md §4.3.1.
func ParsePacket(data []byte) (Packet, error) {
	if len(data) < commonHeaderLen {
		return Packet{}, ErrPacketTooShort
	}
	if !bytes.Equal(data[:8], ArtNetID[:]) {
		return Packet{}, ErrInvalidHeader
	}
	opcode := binary.LittleEndian.Uint16(data[8:10])

	switch opcode {
	case OpPoll:
		pkt, err := parsePoll(data)
		return Packet{Opcode: opcode, Poll: pkt}, err
	case OpPollReply:
		pkt, err := parsePollReply(data)
		return Packet{Opcode: opcode, PollReply: pkt}, err
	case OpDmx:
		pkt, err := parseDmx(data)
		return Packet{Opcode: opcode, Dmx: pkt}, err
	case OpTodRequest:
		pkt, err := parseTodRequest(data)
		return Packet{Opcode: opcode, TodRequest: pkt}, err
	case OpTodData:
		pkt, err := parseTodData(data)
		return Packet{Opcode: opcode, TodData: pkt}, err
	case OpTodControl:
		pkt, err := parseTodControl(data)
		return Packet{Opcode: opcode, TodControl: pkt}, err
	case OpRdm:
		pkt, err := parseRdm(data)
		return Packet{Opcode: opcode, Rdm: pkt}, err
	case OpTimeCode:
		pkt, err := parseTimeCode(data)
		return Packet{Opcode: opcode, TimeCode: pkt}, err
	case OpIPProgram:
		pkt, err := parseIPProgram(data)
		return Packet{Opcode: opcode, IPProgram: pkt}, err
	default:
		return Packet{Opcode: opcode}, nil
	}
}

func checkVersion(data []byte) error {
	if len(data) < commonHeaderLen+2 {
		return ErrPacketTooShort
	}
	if binary.BigEndian.Uint16(data[10:12]) != ProtocolVersion {
		return ErrWrongVersion
	}
	return nil
}

func parsePoll(data []byte) (*PollPacket, error) {
	if len(data) < 14 {
		return nil, ErrPacketTooShort
	}
	if err := checkVersion(data); err != nil {
		return nil, err
	}
	return &PollPacket{TalkToMe: data[12], Priority: data[13]}, nil
}

func parsePollReply(data []byte) (*PollReplyPacket, error) {
	// Tolerate the absence of the bind-ip/status2 trailer for older
	// senders, per spec.md §4.3.3.
	if len(data) < 200 {
		return nil, ErrPacketTooShort
	}
	pkt := &PollReplyPacket{
		UDPPort:     binary.LittleEndian.Uint16(data[14:16]),
		FirmwareVer: binary.BigEndian.Uint16(data[16:18]),
		NetSwitch:   data[18],
		SubSwitch:   data[19],
		Oem:         binary.BigEndian.Uint16(data[20:22]),
		UbeaVersion: data[22],
		Status1:     data[23],
		EstaMan:     binary.LittleEndian.Uint16(data[24:26]),
		NumPorts:    binary.BigEndian.Uint16(data[172:174]),
	}
	copy(pkt.IP[:], data[10:14])
	copy(pkt.ShortName[:], data[26:44])
	copy(pkt.LongName[:], data[44:108])
	copy(pkt.NodeReport[:], data[108:172])
	copy(pkt.PortTypes[:], data[174:178])
	copy(pkt.GoodInput[:], data[178:182])
	copy(pkt.GoodOutput[:], data[182:186])
	copy(pkt.SwIn[:], data[186:190])
	copy(pkt.SwOut[:], data[190:194])
	copy(pkt.MAC[:], data[194:200])
	if len(data) >= 206 {
		copy(pkt.BindIP[:], data[200:204])
		pkt.BindIndex = data[204]
		pkt.Status2 = data[205]
	}
	return pkt, nil
}

func parseDmx(data []byte) (*DMXPacket, error) {
	if len(data) < 18 {
		return nil, ErrPacketTooShort
	}
	if err := checkVersion(data); err != nil {
		return nil, err
	}
	length := int(binary.BigEndian.Uint16(data[16:18]))
	if length < 2 || length > 512 || len(data) < 18+length {
		return nil, ErrPacketTooShort
	}
	pkt := &DMXPacket{
		Sequence: data[12],
		Physical: data[13],
		Universe: Universe(binary.LittleEndian.Uint16(data[14:16])),
		Data:     append([]byte(nil), data[18:18+length]...),
	}
	return pkt, nil
}

func parseTodRequest(data []byte) (*TodRequestPacket, error) {
	if len(data) < 22 {
		return nil, ErrPacketTooShort
	}
	if err := checkVersion(data); err != nil {
		return nil, err
	}
	net := data[19]
	command := data[20]
	addrCount := int(data[21])
	if addrCount > MaxTodAddresses {
		addrCount = MaxTodAddresses
	}
	if len(data) < 22+addrCount {
		addrCount = len(data) - 22
	}
	addrs := append([]byte(nil), data[22:22+addrCount]...)
	return &TodRequestPacket{Net: net, Command: command, Addresses: addrs}, nil
}

func parseTodData(data []byte) (*TodDataPacket, error) {
	if len(data) < 24 {
		return nil, ErrPacketTooShort
	}
	if err := checkVersion(data); err != nil {
		return nil, err
	}
	pkt := &TodDataPacket{
		RdmVersion:      data[12],
		Port:            data[13],
		Net:             data[19],
		CommandResponse: data[20],
		Address:         data[21],
		UidTotal:        binary.BigEndian.Uint16(data[22:24]),
	}
	if len(data) < 26 {
		return pkt, nil
	}
	pkt.BlockCount = data[24]
	uidCount := int(data[25])
	if uidCount > MaxTodUIDsPerPacket {
		uidCount = MaxTodUIDsPerPacket
	}
	need := 26 + uidCount*6
	if len(data) < need {
		uidCount = (len(data) - 26) / 6
	}
	for i := 0; i < uidCount; i++ {
		var u [6]byte
		copy(u[:], data[26+i*6:26+i*6+6])
		pkt.UIDs = append(pkt.UIDs, u)
	}
	return pkt, nil
}

func parseTodControl(data []byte) (*TodControlPacket, error) {
	if len(data) < 22 {
		return nil, ErrPacketTooShort
	}
	if err := checkVersion(data); err != nil {
		return nil, err
	}
	return &TodControlPacket{Net: data[19], Command: data[20], Address: data[21]}, nil
}

func parseRdm(data []byte) (*RdmPacket, error) {
	if len(data) < 21 {
		return nil, ErrPacketTooShort
	}
	if err := checkVersion(data); err != nil {
		return nil, err
	}
	pkt := &RdmPacket{
		RdmVersion: data[12],
		Net:        data[19],
		Command:    data[20],
	}
	if len(data) > 21 {
		pkt.Address = data[21]
	}
	if len(data) > 22 {
		pkt.Data = append([]byte(nil), data[22:]...)
	}
	return pkt, nil
}

func parseTimeCode(data []byte) (*TimeCodePacket, error) {
	if len(data) < 19 {
		return nil, ErrPacketTooShort
	}
	if err := checkVersion(data); err != nil {
		return nil, err
	}
	return &TimeCodePacket{
		Frames:  data[14],
		Seconds: data[15],
		Minutes: data[16],
		Hours:   data[17],
		Type:    data[18],
	}, nil
}

func parseIPProgram(data []byte) (*IPProgramPacket, error) {
	if len(data) < 24 {
		return nil, ErrPacketTooShort
	}
	if err := checkVersion(data); err != nil {
		return nil, err
	}
	pkt := &IPProgramPacket{Command: data[12]}
	copy(pkt.IP[:], data[16:20])
	copy(pkt.Subnet[:], data[20:24])
	return pkt, nil
}

// --- Builders --------------------------------------------------------------

func commonHeader(opcode uint16) []byte {
	buf := make([]byte, commonHeaderLen)
	copy(buf[0:8], ArtNetID[:])
	binary.LittleEndian.PutUint16(buf[8:10], opcode)
	return buf
}

// BuildPoll builds an ArtPoll packet.
func BuildPoll(talkToMe, priority byte) []byte {
	buf := append(commonHeader(OpPoll), 0, 0, talkToMe, priority)
	binary.BigEndian.PutUint16(buf[10:12], ProtocolVersion)
	return buf
}

// BuildPollReply builds an ArtPollReply packet from pkt.
func BuildPollReply(pkt PollReplyPacket, localIP [4]byte) []byte {
	buf := make([]byte, 206)
	copy(buf[0:8], ArtNetID[:])
	binary.LittleEndian.PutUint16(buf[8:10], OpPollReply)
	copy(buf[10:14], localIP[:])
	binary.LittleEndian.PutUint16(buf[14:16], uint16(Port))
	binary.BigEndian.PutUint16(buf[16:18], pkt.FirmwareVer)
	buf[18] = pkt.NetSwitch
	buf[19] = pkt.SubSwitch
	binary.BigEndian.PutUint16(buf[20:22], pkt.Oem)
	buf[22] = pkt.UbeaVersion
	buf[23] = pkt.Status1
	binary.LittleEndian.PutUint16(buf[24:26], pkt.EstaMan)
	copy(buf[26:44], pkt.ShortName[:])
	copy(buf[44:108], pkt.LongName[:])
	copy(buf[108:172], pkt.NodeReport[:])
	binary.BigEndian.PutUint16(buf[172:174], pkt.NumPorts)
	copy(buf[174:178], pkt.PortTypes[:])
	copy(buf[178:182], pkt.GoodInput[:])
	copy(buf[182:186], pkt.GoodOutput[:])
	copy(buf[186:190], pkt.SwIn[:])
	copy(buf[190:194], pkt.SwOut[:])
	copy(buf[194:200], pkt.MAC[:])
	copy(buf[200:204], pkt.BindIP[:])
	buf[204] = pkt.BindIndex
	buf[205] = pkt.Status2
	return buf
}

// BuildDMX builds an ArtDmx packet. data is zero-padded to an even length.
func BuildDMX(universe Universe, sequence, physical byte, data []byte) []byte {
	length := len(data)
	if length > 512 {
		length = 512
	}
	padded := length
	if padded%2 != 0 {
		padded++
	}
	buf := append(commonHeader(OpDmx), make([]byte, 8+padded)...)
	binary.BigEndian.PutUint16(buf[10:12], ProtocolVersion)
	buf[12] = sequence
	buf[13] = physical
	binary.LittleEndian.PutUint16(buf[14:16], uint16(universe))
	binary.BigEndian.PutUint16(buf[16:18], uint16(padded))
	copy(buf[18:18+length], data[:length])
	return buf
}

// BuildTodRequest builds an ArtTodRequest packet.
func BuildTodRequest(net byte, addresses []byte) []byte {
	if len(addresses) > MaxTodAddresses {
		addresses = addresses[:MaxTodAddresses]
	}
	buf := append(commonHeader(OpTodRequest), make([]byte, 12)...)
	binary.BigEndian.PutUint16(buf[10:12], ProtocolVersion)
	buf[19] = net
	buf[20] = 0
	buf[21] = byte(len(addresses))
	buf = append(buf, addresses...)
	return buf
}

// BuildTodData builds a single ArtTodData packet carrying uids (at most
// MaxTodUIDsPerPacket), tagged with the overall uidTotal and blockCount for
// multi-packet TOD replies (SPEC_FULL.md's "chunked SendTod" supplement).
func BuildTodData(net, port byte, address byte, uidTotal uint16, blockCount byte, uids [][6]byte) []byte {
	if len(uids) > MaxTodUIDsPerPacket {
		uids = uids[:MaxTodUIDsPerPacket]
	}
	buf := append(commonHeader(OpTodData), make([]byte, 16)...)
	binary.BigEndian.PutUint16(buf[10:12], ProtocolVersion)
	buf[12] = 0x01 // rdm-version
	buf[13] = port
	buf[19] = net
	buf[20] = 0 // command-response: full TOD
	buf[21] = address
	binary.BigEndian.PutUint16(buf[22:24], uidTotal)
	buf[24] = blockCount
	buf[25] = byte(len(uids))
	for _, u := range uids {
		buf = append(buf, u[:]...)
	}
	return buf
}

// BuildTodControl builds an ArtTodControl packet.
func BuildTodControl(net byte, command byte, address byte) []byte {
	buf := append(commonHeader(OpTodControl), make([]byte, 12)...)
	binary.BigEndian.PutUint16(buf[10:12], ProtocolVersion)
	buf[19] = net
	buf[20] = command
	buf[21] = address
	return buf
}

// BuildRdm builds an ArtRDM packet carrying an RDM frame body (no leading
// start code) in data.
func BuildRdm(net byte, address byte, data []byte) []byte {
	buf := append(commonHeader(OpRdm), make([]byte, 12)...)
	binary.BigEndian.PutUint16(buf[10:12], ProtocolVersion)
	buf[12] = 0x01 // rdm-version
	buf[19] = net
	buf[20] = 0 // command
	buf[21] = address
	buf = append(buf, data...)
	return buf
}

// BuildTimeCode builds an ArtTimeCode packet.
func BuildTimeCode(frames, seconds, minutes, hours, typ byte) []byte {
	buf := append(commonHeader(OpTimeCode), make([]byte, 9)...)
	binary.BigEndian.PutUint16(buf[10:12], ProtocolVersion)
	buf[14] = frames
	buf[15] = seconds
	buf[16] = minutes
	buf[17] = hours
	buf[18] = typ
	return buf
}
