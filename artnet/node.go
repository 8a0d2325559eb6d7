package artnet

import (
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OpenLightingProject/ola-sub002/queue"
	"github.com/OpenLightingProject/ola-sub002/rdm"
)

// Options configures a Node. Zero-value fields take the defaults noted
// below, matching ArtNetNode.cpp's ola::plugin::artnet::ArtNetNodeOptions.
type Options struct {
	// ListenAddr is the local UDP address to bind, usually ":6454".
	ListenAddr string
	// BroadcastAddr is the destination for broadcast traffic. If empty,
	// it is derived from the bound interface's subnet.
	BroadcastAddr string
	// AlwaysBroadcast is stored for DMX output addressing but is not
	// read by Node, which has no DMX send path of its own.
	AlwaysBroadcast bool
	// UseLimitedBroadcastAddress sends to 255.255.255.255 instead of
	// the subnet-directed broadcast address.
	UseLimitedBroadcastAddress bool
	// BroadcastThreshold is the subscriber count for switching DMX
	// output from per-subscriber unicast to broadcast (default 4). It is
	// stored but not read by Node: no output port switches addressing
	// mode on it.
	BroadcastThreshold int
	// RDMQueueSize bounds the per-port Queueing RDM Controller (see
	// package queue); 0 uses queue.DefaultQueueSize.
	RDMQueueSize int
	ShortName    string
	LongName     string
	NetAddress   uint8
}

func (o Options) withDefaults() Options {
	if o.ListenAddr == "" {
		o.ListenAddr = fmt.Sprintf(":%d", Port)
	}
	if o.BroadcastThreshold <= 0 {
		o.BroadcastThreshold = 4
	}
	if o.ShortName == "" {
		o.ShortName = "ola-sub002"
	}
	if o.LongName == "" {
		o.LongName = "OLA Art-Net/RDM node"
	}
	return o
}

// Node is an Art-Net endpoint: it answers ArtPoll, carries DMX on its
// input/output ports with HTP/LTP merging, and drives RDM discovery and
// request/response correlation over ArtTodRequest/ArtTodData/ArtRDM.
// Grounded on ArtNetNode.cpp's top-level class, adapted from the
// teacher's Discovery/Sender/Receiver trio into a single owning type
// that wires them together, matching the teacher's goroutine+channel
// lifecycle pattern (Start/Stop with a done channel).
type Node struct {
	opts      Options
	conn      *net.UDPConn
	localIP   [4]byte
	localMAC  [6]byte
	broadcast *net.UDPAddr

	sender     *Sender
	discovery  *Discovery
	rdmControl *RDMControl

	mu          sync.RWMutex
	inputPorts  map[Universe]*InputPort
	outputPorts map[Universe]*OutputPort
	rdmQueues   map[Universe]*queue.Controller

	configMode   bool
	pendingPolls map[[4]byte]net.UDPAddr

	reportCounter uint32

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Node bound per opts but does not start its network
// goroutines; call Start to begin operation.
func New(opts Options) (*Node, error) {
	opts = opts.withDefaults()

	addr, err := net.ResolveUDPAddr("udp4", opts.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("artnet: resolve listen addr: %w", err)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("artnet: listen: %w", err)
	}

	localIP, localMAC := detectLocalInterface()
	broadcast := resolveBroadcast(opts, localIP)

	n := &Node{
		opts:         opts,
		conn:         conn,
		localIP:      localIP,
		localMAC:     localMAC,
		broadcast:    broadcast,
		inputPorts:   make(map[Universe]*InputPort),
		outputPorts:  make(map[Universe]*OutputPort),
		rdmQueues:    make(map[Universe]*queue.Controller),
		pendingPolls: make(map[[4]byte]net.UDPAddr),
		done:         make(chan struct{}),
	}
	n.sender = NewSender(conn, broadcast)
	n.discovery = NewDiscovery(n.sender)
	n.rdmControl = NewRDMControl(n.sender)
	return n, nil
}

// AddInputPort registers universe as an input: DMX arriving from remote
// sources on this universe is merged and delivered through onUpdate.
func (n *Node) AddInputPort(universe Universe, merge MergeMode, onUpdate func(Universe, []byte)) *InputPort {
	port := NewInputPort(universe, merge)
	port.SetUpdateCallback(onUpdate)
	n.mu.Lock()
	n.inputPorts[universe] = port
	n.mu.Unlock()
	return port
}

// AddOutputPort registers universe as an output: RDM discovery tracks
// its responder UIDs and a queueing RDM controller is created for it.
// Node has no DMX send method; DMX for this universe goes out only
// through Sender.SendDMX called directly.
func (n *Node) AddOutputPort(universe Universe) *OutputPort {
	port := NewOutputPort(universe)
	q := queue.New(queueSenderAdapter{control: n.rdmControl}, n.opts.RDMQueueSize)
	q.SetDiscoveryRunner(queueDiscoveryAdapter{discovery: n.discovery})
	n.mu.Lock()
	n.outputPorts[universe] = port
	n.rdmQueues[universe] = q
	n.mu.Unlock()
	n.discovery.RegisterPort(universe, port)
	n.rdmControl.RegisterPort(universe, port)
	return port
}

// OutputPort returns the registered output port for universe, if any.
func (n *Node) OutputPort(universe Universe) (*OutputPort, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.outputPorts[universe]
	return p, ok
}

// Discovery returns the node's RDM TOD discovery controller.
func (n *Node) Discovery() *Discovery { return n.discovery }

// RDMControl returns the node's RDM request/response correlator.
func (n *Node) RDMControl() *RDMControl { return n.rdmControl }

// SendRDMRequest submits req for universe through that port's Queueing
// RDM Controller (package queue), which serializes it against any
// other in-flight or queued transaction on the same port before handing
// it to the underlying RDMControl. Returns rdm.FailedToSend if universe
// has no registered output port or its queue is full.
func (n *Node) SendRDMRequest(universe Universe, req rdm.Request, cb RDMCallback) rdm.StatusCode {
	n.mu.RLock()
	q, ok := n.rdmQueues[universe]
	n.mu.RUnlock()
	if !ok {
		return rdm.FailedToSend
	}
	return q.Submit(uint16(universe), req, queue.Callback(cb))
}

// RunFullDiscovery starts a full RDM TOD discovery pass on universe
// through that port's Queueing RDM Controller, so it waits behind any
// in-flight RDM request rather than racing it on the wire (spec.md
// §4.4's "pass-through for discovery methods"). Returns rdm.FailedToSend
// if universe has no registered output port or its queue is full.
func (n *Node) RunFullDiscovery(universe Universe) rdm.StatusCode {
	n.mu.RLock()
	q, ok := n.rdmQueues[universe]
	n.mu.RUnlock()
	if !ok {
		return rdm.FailedToSend
	}
	return q.RunFullDiscovery(uint16(universe))
}

// RunIncrementalDiscovery is RunFullDiscovery's incremental counterpart.
func (n *Node) RunIncrementalDiscovery(universe Universe) rdm.StatusCode {
	n.mu.RLock()
	q, ok := n.rdmQueues[universe]
	n.mu.RUnlock()
	if !ok {
		return rdm.FailedToSend
	}
	return q.RunIncrementalDiscovery(uint16(universe))
}

// queueSenderAdapter satisfies queue.Sender on top of an RDMControl,
// bridging queue's transport-agnostic uint16 universe id to artnet's
// distinct Universe type.
type queueSenderAdapter struct {
	control *RDMControl
}

func (a queueSenderAdapter) SendRequest(universe uint16, req rdm.Request, cb queue.Callback) error {
	return a.control.SendRequest(Universe(universe), req, RDMCallback(cb))
}

// queueDiscoveryAdapter satisfies queue.DiscoveryRunner on top of a
// Discovery, bridging queue's transport-agnostic uint16 universe id to
// artnet's distinct Universe type.
type queueDiscoveryAdapter struct {
	discovery *Discovery
}

func (a queueDiscoveryAdapter) RunFullDiscovery(universe uint16) error {
	return a.discovery.RunFullDiscovery(Universe(universe))
}

func (a queueDiscoveryAdapter) RunIncrementalDiscovery(universe uint16) error {
	return a.discovery.RunIncrementalDiscovery(Universe(universe))
}

// Start begins the node's single dispatch goroutine, which services
// incoming UDP packets and periodic housekeeping (expiring stale input
// sources). Matches the teacher's single-threaded reactor model: all
// packet handling and timer callbacks run without additional locking
// beyond what each port/discovery/rdmControl type already does
// internally.
func (n *Node) Start() {
	n.wg.Add(1)
	go n.dispatchLoop()
}

// Stop synchronously fails every pending RDM callback with rdm.Timeout
// and every pending discovery callback with an empty UID set (spec.md
// §3/§5/§7), then announces an empty TOD for every output port before
// closing the socket (see DESIGN.md's Open Question 1: the TOD
// announcement deliberately does not carry forward whatever UIDs were
// last known, unlike the original's actual runtime behavior).
func (n *Node) Stop() {
	n.mu.RLock()
	universes := make([]Universe, 0, len(n.outputPorts))
	queues := make([]*queue.Controller, 0, len(n.rdmQueues))
	for u := range n.outputPorts {
		universes = append(universes, u)
	}
	for _, q := range n.rdmQueues {
		queues = append(queues, q)
	}
	n.mu.RUnlock()

	for _, q := range queues {
		q.CancelAll()
	}
	n.rdmControl.CancelAll()
	n.discovery.CancelAll()

	for _, u := range universes {
		if err := n.sender.SendTodData(u, 0, nil); err != nil {
			log.Printf("[artnet] shutdown TOD announce error universe=%s err=%v", u, err)
		}
	}

	close(n.done)
	n.conn.Close()
	n.wg.Wait()
}

func (n *Node) dispatchLoop() {
	defer n.wg.Done()

	expireTicker := time.NewTicker(dmxSourceMergeWindow)
	defer expireTicker.Stop()

	readDone := make(chan struct{})
	packets := make(chan readResult, 16)
	go n.readLoop(packets, readDone)

	for {
		select {
		case <-n.done:
			<-readDone
			return
		case r := <-packets:
			n.handlePacket(r.src, r.data)
		case <-expireTicker.C:
			n.mu.RLock()
			inputs := make([]*InputPort, 0, len(n.inputPorts))
			for _, p := range n.inputPorts {
				inputs = append(inputs, p)
			}
			n.mu.RUnlock()
			for _, p := range inputs {
				p.ExpireSources(dmxSourceMergeWindow)
			}
		}
	}
}

type readResult struct {
	src  *net.UDPAddr
	data []byte
}

func (n *Node) readLoop(out chan<- readResult, done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, 2048)
	for {
		sz, src, err := n.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-n.done:
				return
			default:
				log.Printf("[artnet] read error: %v", err)
				return
			}
		}
		data := make([]byte, sz)
		copy(data, buf[:sz])
		select {
		case out <- readResult{src: src, data: data}:
		case <-n.done:
			return
		}
	}
}

// HandleRawPacket feeds a packet captured outside the node's own UDP
// socket (e.g. by an optional PcapReceiver sniffing the wire for
// diagnostic purposes) through the same dispatch path as packets read
// directly off the socket.
func (n *Node) HandleRawPacket(src *net.UDPAddr, data []byte) {
	n.handlePacket(src, data)
}

func (n *Node) handlePacket(src *net.UDPAddr, data []byte) {
	pkt, err := ParsePacket(data)
	if err != nil {
		return
	}

	switch pkt.Opcode {
	case OpPoll:
		n.handlePoll(src, pkt.Poll)
	case OpPollReply:
		log.Printf("[artnet] pollreply src=%s", src.IP)
	case OpDmx:
		n.handleDMX(src, pkt.Dmx)
	case OpTodRequest:
		log.Printf("[artnet] todrequest src=%s net=%d addrs=%v", src.IP, pkt.TodRequest.Net, pkt.TodRequest.Addresses)
	case OpTodData:
		n.handleTodData(src, pkt.TodData)
	case OpTodControl:
		log.Printf("[artnet] todcontrol src=%s net=%d cmd=%d", src.IP, pkt.TodControl.Net, pkt.TodControl.Command)
	case OpRdm:
		n.handleRdm(pkt.Rdm)
	case OpTimeCode:
		log.Printf("[artnet] timecode src=%s %02d:%02d:%02d:%02d", src.IP, pkt.TimeCode.Hours, pkt.TimeCode.Minutes, pkt.TimeCode.Seconds, pkt.TimeCode.Frames)
	case OpIPProgram:
		n.handleIPProgram(src, pkt.IPProgram)
	}
}

func (n *Node) handleDMX(src *net.UDPAddr, pkt *DMXPacket) {
	if pkt == nil {
		return
	}
	n.mu.RLock()
	port, ok := n.inputPorts[pkt.Universe]
	n.mu.RUnlock()
	if !ok {
		return
	}
	var srcIP [4]byte
	copy(srcIP[:], src.IP.To4())
	port.HandleDMX(srcIP, pkt.Data)
}

func (n *Node) handleTodData(src *net.UDPAddr, pkt *TodDataPacket) {
	if pkt == nil {
		return
	}
	universe := NewUniverse(pkt.Net, pkt.Address>>4, pkt.Address&0x0F)
	var srcIP [4]byte
	copy(srcIP[:], src.IP.To4())
	n.discovery.HandleTodData(universe, srcIP, pkt)
}

func (n *Node) handleRdm(pkt *RdmPacket) {
	if pkt == nil {
		return
	}
	universe := NewUniverse(pkt.Net, pkt.Address>>4, pkt.Address&0x0F)
	n.rdmControl.HandleRDMPacket(universe, pkt)
}

// handleIPProgram only logs the probe; this node never reconfigures its
// own network settings remotely (SPEC_FULL.md's diagnostic-only
// ArtIpProg supplement).
func (n *Node) handleIPProgram(src *net.UDPAddr, pkt *IPProgramPacket) {
	if pkt == nil {
		return
	}
	log.Printf("[artnet] ipprog probe src=%s command=%#x", src.IP, pkt.Command)
}

func (n *Node) handlePoll(src *net.UDPAddr, pkt *PollPacket) {
	if pkt == nil {
		return
	}
	reply := n.buildPollReply()

	n.mu.Lock()
	if n.configMode {
		var key [4]byte
		copy(key[:], src.IP.To4())
		n.pendingPolls[key] = *src
		n.mu.Unlock()
		return
	}
	n.mu.Unlock()

	if err := n.sender.SendPollReply(src, reply, n.localIP); err != nil {
		log.Printf("[artnet] pollreply send error dst=%s err=%v", src.IP, err)
	}
}

// EnterConfigurationMode defers ArtPollReply transmission: incoming
// ArtPoll packets are recorded but not answered until
// ExitConfigurationMode flushes them, so a burst of port reconfiguration
// produces one reply per poller instead of one per change.
func (n *Node) EnterConfigurationMode() {
	n.mu.Lock()
	n.configMode = true
	n.mu.Unlock()
}

// ExitConfigurationMode flushes any ArtPollReply responses deferred
// since EnterConfigurationMode.
func (n *Node) ExitConfigurationMode() {
	n.mu.Lock()
	n.configMode = false
	pending := n.pendingPolls
	n.pendingPolls = make(map[[4]byte]net.UDPAddr)
	n.mu.Unlock()

	reply := n.buildPollReply()
	for _, addr := range pending {
		addr := addr
		if err := n.sender.SendPollReply(&addr, reply, n.localIP); err != nil {
			log.Printf("[artnet] pollreply send error dst=%s err=%v", addr.IP, err)
		}
	}
}

func (n *Node) buildPollReply() PollReplyPacket {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var pkt PollReplyPacket
	copy(pkt.MAC[:], n.localMAC[:])
	pkt.NetSwitch = n.opts.NetAddress
	pkt.Status1 = 0xD0 // RDM supported, normal indicators, booted fine
	pkt.Status2 = Status2SupportsPortAddr15Bit

	short := n.opts.ShortName
	if len(short) > 17 {
		short = short[:17]
	}
	copy(pkt.ShortName[:], short)

	long := n.opts.LongName
	if len(long) > 63 {
		long = long[:63]
	}
	copy(pkt.LongName[:], long)

	report := n.formatNodeReport()
	copy(pkt.NodeReport[:], report)

	pkt.NumPorts = uint16(len(n.outputPorts) + len(n.inputPorts))

	i := 0
	for u := range n.outputPorts {
		if i >= 4 {
			break
		}
		pkt.PortTypes[i] = PortTypeOutput
		pkt.SwOut[i] = u.Universe()
		i++
	}
	i = 0
	for u := range n.inputPorts {
		if i >= 4 {
			break
		}
		pkt.PortTypes[i] |= PortTypeInput
		pkt.SwIn[i] = u.Universe()
		i++
	}

	return pkt
}

// formatNodeReport reproduces the original's "#%04d [%d] OLA" node
// status line, incrementing a counter each time it's formatted so
// successive ArtPollReply packets show distinguishable report sequence
// numbers (spec.md's supplemented node_report formatting).
func (n *Node) formatNodeReport() string {
	counter := atomic.AddUint32(&n.reportCounter, 1)
	return fmt.Sprintf("#%04d [%d] OLA", counter, rdm.OK)
}

func detectLocalInterface() ([4]byte, [6]byte) {
	var ip [4]byte
	var mac [6]byte

	ifaces, err := net.Interfaces()
	if err != nil {
		return ip, mac
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil {
				continue
			}
			copy(ip[:], ip4)
			copy(mac[:], iface.HardwareAddr)
			return ip, mac
		}
	}
	return ip, mac
}

func resolveBroadcast(opts Options, localIP [4]byte) *net.UDPAddr {
	if opts.BroadcastAddr != "" {
		addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", opts.BroadcastAddr, Port))
		if err == nil {
			return addr
		}
	}
	if opts.UseLimitedBroadcastAddress {
		return &net.UDPAddr{IP: net.IPv4bcast, Port: Port}
	}

	ifaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
				continue
			}
			addrs, err := iface.Addrs()
			if err != nil {
				continue
			}
			for _, addr := range addrs {
				ipnet, ok := addr.(*net.IPNet)
				if !ok {
					continue
				}
				ip4 := ipnet.IP.To4()
				if ip4 == nil || len(ipnet.Mask) != 4 {
					continue
				}
				bcast := make(net.IP, 4)
				for i := 0; i < 4; i++ {
					bcast[i] = ip4[i] | ^ipnet.Mask[i]
				}
				return &net.UDPAddr{IP: bcast, Port: Port}
			}
		}
	}
	return &net.UDPAddr{IP: net.IPv4bcast, Port: Port}
}
