package artnet

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// PcapReceiver is an optional, diagnostic-only packet source that
// sniffs Art-Net traffic directly off the wire via libpcap instead of
// through the node's own UDP socket. Useful for capturing traffic a
// node's socket would not otherwise see (e.g. packets destined for
// another host on the same broadcast domain, for troubleshooting).
// Captured frames are fed into a Node's normal dispatch path via
// HandleRawPacket. Grounded on the teacher's PcapReceiver, retargeted
// from its own PacketHandler interface onto *Node.
type PcapReceiver struct {
	handle *pcap.Handle
	node   *Node
	done   chan struct{}
}

// NewPcapReceiver opens iface for live capture, filtered to Art-Net's
// UDP port, and forwards parsed packets to node.
func NewPcapReceiver(iface string, node *Node) (*PcapReceiver, error) {
	handle, err := pcap.OpenLive(iface, 1600, true, pcap.BlockForever)
	if err != nil {
		return nil, err
	}
	if err := handle.SetBPFFilter("udp port 6454"); err != nil {
		handle.Close()
		return nil, err
	}
	return &PcapReceiver{handle: handle, node: node, done: make(chan struct{})}, nil
}

// Start begins the capture loop in a background goroutine.
func (r *PcapReceiver) Start() {
	go r.receiveLoop()
}

// Stop halts capture and releases the pcap handle.
func (r *PcapReceiver) Stop() {
	close(r.done)
	r.handle.Close()
}

func (r *PcapReceiver) receiveLoop() {
	source := gopacket.NewPacketSource(r.handle, r.handle.LinkType())
	for {
		select {
		case <-r.done:
			return
		case packet, ok := <-source.Packets():
			if !ok {
				return
			}
			r.handlePacket(packet)
		}
	}
}

func (r *PcapReceiver) handlePacket(packet gopacket.Packet) {
	udpLayer := packet.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return
	}
	udp, ok := udpLayer.(*layers.UDP)
	if !ok {
		return
	}

	var srcIP [4]byte
	if ipLayer := packet.Layer(layers.LayerTypeIPv4); ipLayer != nil {
		if ip, ok := ipLayer.(*layers.IPv4); ok {
			copy(srcIP[:], ip.SrcIP.To4())
		}
	}

	if len(udp.Payload) < commonHeaderLen {
		return
	}

	src := &net.UDPAddr{IP: net.IP(srcIP[:]), Port: int(udp.SrcPort)}
	r.node.HandleRawPacket(src, udp.Payload)
}
