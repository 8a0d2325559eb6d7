package artnet

import (
	"net"
	"sync"
)

// Sender transmits Art-Net packets through a shared UDP socket, normally
// the same socket the Node reads incoming packets from, so outgoing traffic appears
// to originate from port 6454 as real Art-Net nodes expect.
type Sender struct {
	conn      *net.UDPConn
	broadcast *net.UDPAddr

	mu   sync.Mutex
	tods map[Universe]uint8 // TOD block sequence isn't needed per-universe but kept for future multi-block numbering
}

// NewSender wraps conn for sending, using broadcast as the default
// destination for discovery/poll/broadcast-DMX traffic.
func NewSender(conn *net.UDPConn, broadcast *net.UDPAddr) *Sender {
	return &Sender{conn: conn, broadcast: broadcast, tods: make(map[Universe]uint8)}
}

// BroadcastAddr returns the configured broadcast address.
func (s *Sender) BroadcastAddr() *net.UDPAddr { return s.broadcast }

func (s *Sender) writeTo(data []byte, addr *net.UDPAddr) error {
	if addr == nil {
		addr = s.broadcast
	}
	_, err := s.conn.WriteToUDP(data, addr)
	return err
}

// SendDMX sends an ArtDmx packet to addr (or broadcast if addr is nil).
func (s *Sender) SendDMX(addr *net.UDPAddr, universe Universe, sequence, physical byte, data []byte) error {
	return s.writeTo(BuildDMX(universe, sequence, physical, data), addr)
}

// SendPoll broadcasts an ArtPoll packet.
func (s *Sender) SendPoll(talkToMe, priority byte) error {
	return s.writeTo(BuildPoll(talkToMe, priority), nil)
}

// SendPollReply sends an ArtPollReply to addr.
func (s *Sender) SendPollReply(addr *net.UDPAddr, pkt PollReplyPacket, localIP [4]byte) error {
	return s.writeTo(BuildPollReply(pkt, localIP), addr)
}

// SendTodRequest broadcasts an ArtTodRequest for a single universe.
func (s *Sender) SendTodRequest(universe Universe) error {
	return s.writeTo(BuildTodRequest(universe.Net(), []byte{universe.SubUni()}), nil)
}

// SendTodControl broadcasts an ArtTodControl command for a single
// universe (command is typically TodControlFlush).
func (s *Sender) SendTodControl(universe Universe, command byte) error {
	return s.writeTo(BuildTodControl(universe.Net(), command, universe.SubUni()), nil)
}

// SendTodData broadcasts a node's full TOD for a universe, splitting
// into multiple ArtTodData packets of at most MaxTodUIDsPerPacket UID
// slots each, per spec.md's chunked-SendTod supplement.
func (s *Sender) SendTodData(universe Universe, port uint8, uids [][6]byte) error {
	total := len(uids)
	if total == 0 {
		pkt := BuildTodData(universe.Net(), port, universe.SubUni(), 0, 0, nil)
		return s.writeTo(pkt, nil)
	}

	blocks := (total + MaxTodUIDsPerPacket - 1) / MaxTodUIDsPerPacket
	for i := 0; i < blocks; i++ {
		start := i * MaxTodUIDsPerPacket
		end := start + MaxTodUIDsPerPacket
		if end > total {
			end = total
		}
		// BlockCount 0 marks the final block, matching parseTodData's
		// BlockCount==0 "final block" convention used by discovery.go.
		blockCount := byte(blocks - 1 - i)
		pkt := BuildTodData(universe.Net(), port, universe.SubUni(), uint16(total), blockCount, uids[start:end])
		if err := s.writeTo(pkt, nil); err != nil {
			return err
		}
	}
	return nil
}

// SendRDM sends an RDM frame (frame is the full wire frame including its
// start code, matching rdm.SerializeRequest's output) wrapped in ArtRDM
// for universe, to dst (or broadcast if dst is nil).
func (s *Sender) SendRDM(universe Universe, frame []byte, dst *net.UDPAddr) error {
	// ArtRDM carries the RDM message without the leading start code
	// (spec.md §6): the receiving stack re-synthesizes it on arrival.
	body := frame
	if len(body) > 0 && body[0] == 0xCC {
		body = body[1:]
	}
	return s.writeTo(BuildRdm(universe.Net(), universe.SubUni(), body), dst)
}

// SendTimeCode broadcasts an ArtTimeCode packet.
func (s *Sender) SendTimeCode(frames, seconds, minutes, hours, typ byte) error {
	return s.writeTo(BuildTimeCode(frames, seconds, minutes, hours, typ), nil)
}
