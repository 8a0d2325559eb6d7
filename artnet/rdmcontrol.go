package artnet

import (
	"log"
	"net"
	"sync"
	"time"

	"github.com/OpenLightingProject/ola-sub002/rdm"
)

// DefaultRDMTimeout bounds how long a sent RDM request waits for its
// ArtRDM response before the transaction is failed with rdm.Timeout
// (spec.md §4.3.5).
const DefaultRDMTimeout = 2 * time.Second

// RDMCallback receives the outcome of a single RDM-over-Art-Net request:
// either a validated Response and rdm.OK, or a non-OK rdm.StatusCode
// with a zero Response.
type RDMCallback func(rdm.Response, rdm.StatusCode)

type pendingRDM struct {
	request rdm.Request
	timer   *time.Timer
	cb      RDMCallback
}

// RDMControl correlates outgoing RDM requests sent over Art-Net with
// their ArtRDM responses, one in-flight request per universe at a time
// (the Art-Net transport itself is half-duplex per-port; the Queueing
// RDM Controller in package queue enforces this same one-at-a-time rule
// one layer up, across multiple logical clients sharing a port).
// Grounded on ArtNetNode.cpp's SendRDMRequest / HandleRDMResponse /
// RDMRequestCompletion / TimeoutRDMRequest.
type RDMControl struct {
	mu      sync.Mutex
	sender  rdmSender
	ports   map[Universe]*OutputPort
	pending map[Universe]*pendingRDM
	timeout time.Duration
}

// rdmSender is the subset of *Sender that RDMControl needs, narrowed so
// tests can drive request/response correlation with a fake. dst is the
// resolved unicast destination, or nil to broadcast.
type rdmSender interface {
	SendRDM(universe Universe, frame []byte, dst *net.UDPAddr) error
}

// NewRDMControl creates an RDMControl sending through sender.
func NewRDMControl(sender rdmSender) *RDMControl {
	return &RDMControl{
		sender:  sender,
		ports:   make(map[Universe]*OutputPort),
		pending: make(map[Universe]*pendingRDM),
		timeout: DefaultRDMTimeout,
	}
}

// SetTimeout overrides the default per-request timeout.
func (c *RDMControl) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	c.timeout = timeout
	c.mu.Unlock()
}

// RegisterPort associates an output port with a universe so SendRequest
// can resolve a destination UID to the Art-Net node IP that last
// reported it in discovery, for unicast delivery.
func (c *RDMControl) RegisterPort(universe Universe, port *OutputPort) {
	c.mu.Lock()
	c.ports[universe] = port
	c.mu.Unlock()
}

// resolveDestination picks the Art-Net node IP to send an RDM request
// addressed to uid on universe to: the IP last reported for uid in the
// port's UID map, or nil to broadcast if uid is unknown (spec.md
// §4.3.5's send-path "Determine the destination IP").
func (c *RDMControl) resolveDestination(universe Universe, uid rdm.UID) *net.UDPAddr {
	c.mu.Lock()
	port, ok := c.ports[universe]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	ip, ok := port.ResolveUID(uid)
	if !ok {
		return nil
	}
	return &net.UDPAddr{IP: net.IP(ip[:]), Port: Port}
}

// SendRequest transmits req over universe's Art-Net output and arranges
// for cb to be invoked with the matching response (or a timeout/failure
// status). DISCOVER-class requests are rejected with
// rdm.PluginDiscoveryNotSupported: RDM discovery is handled by the
// Art-Net TOD protocol (ArtTodRequest/ArtTodControl/ArtTodData), not by
// sending a DISCOVER-class command over ArtRDM (spec.md §4.3.5). A
// request addressed to a broadcast UID completes immediately with
// rdm.WasBroadcast, since RDM responders never answer broadcasts
// (spec.md §4 "RDM Request", §7).
func (c *RDMControl) SendRequest(universe Universe, req rdm.Request, cb RDMCallback) error {
	if req.CommandClass == rdm.DiscoverCommand {
		cb(rdm.Response{}, rdm.PluginDiscoveryNotSupported)
		return nil
	}

	if req.DestinationUID.IsBroadcast() {
		frame, status := rdm.SerializeRequest(req)
		if status != rdm.OK {
			cb(rdm.Response{}, status)
			return nil
		}
		if err := c.sender.SendRDM(universe, frame, nil); err != nil {
			cb(rdm.Response{}, rdm.FailedToSend)
			return err
		}
		cb(rdm.Response{}, rdm.WasBroadcast)
		return nil
	}

	frame, status := rdm.SerializeRequest(req)
	if status != rdm.OK {
		cb(rdm.Response{}, status)
		return nil
	}

	dst := c.resolveDestination(universe, req.DestinationUID)
	if dst == nil {
		log.Printf("[artnet] broadcasting RDM request to non-broadcast UID=%s universe=%s: no known address", req.DestinationUID, universe)
	}

	c.mu.Lock()
	if existing, busy := c.pending[universe]; busy {
		c.mu.Unlock()
		_ = existing
		cb(rdm.Response{}, rdm.FailedToSend)
		return nil
	}
	timeout := c.timeout
	pending := &pendingRDM{request: req, cb: cb}
	c.pending[universe] = pending
	c.mu.Unlock()

	if err := c.sender.SendRDM(universe, frame, dst); err != nil {
		c.mu.Lock()
		delete(c.pending, universe)
		c.mu.Unlock()
		cb(rdm.Response{}, rdm.FailedToSend)
		return err
	}

	pending.timer = time.AfterFunc(timeout, func() { c.handleTimeout(universe) })
	return nil
}

func (c *RDMControl) handleTimeout(universe Universe) {
	c.mu.Lock()
	pending, ok := c.pending[universe]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, universe)
	c.mu.Unlock()

	pending.cb(rdm.Response{}, rdm.Timeout)
}

// HandleRDMPacket processes an incoming ArtRDM packet on universe. The
// pending transaction is only completed when the packet is a validated
// match for it (rdm.OK from DeserializeResponse, covering UID swap,
// transaction number, sub-device, and command-class correlation) whose
// parameter-id also equals the request's, unless the request is a
// QUEUED_MESSAGE GET; any other packet is dropped silently, leaving the transaction pending for
// the real response or the timeout (spec.md §4.3.5 "Receive
// correlation").
func (c *RDMControl) HandleRDMPacket(universe Universe, pkt *RdmPacket) {
	c.mu.Lock()
	pending, ok := c.pending[universe]
	c.mu.Unlock()
	if !ok {
		return
	}

	// ArtRDM carries the RDM message without its leading start code
	// (spec.md §6); DeserializeResponse expects the full wire frame.
	frame := append([]byte{rdm.StartCode}, pkt.Data...)
	resp, status := rdm.DeserializeResponse(frame, pending.request)
	if status != rdm.OK {
		return
	}
	if pending.request.ParameterID != rdm.QueuedMessagePID && resp.ParameterID != pending.request.ParameterID {
		return
	}

	c.mu.Lock()
	current, ok := c.pending[universe]
	if !ok || current != pending {
		c.mu.Unlock()
		return
	}
	delete(c.pending, universe)
	if current.timer != nil {
		current.timer.Stop()
	}
	c.mu.Unlock()

	pending.cb(resp, status)
}

// Busy reports whether universe currently has an in-flight RDM request.
func (c *RDMControl) Busy(universe Universe) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[universe]
	return ok
}

// CancelAll synchronously fails every in-flight RDM request with
// rdm.Timeout and stops its timer (spec.md §5's Stop() behavior).
// Called from Node.Stop before the underlying socket is closed so no
// request completes after shutdown.
func (c *RDMControl) CancelAll() {
	c.mu.Lock()
	failed := make([]*pendingRDM, 0, len(c.pending))
	for universe, pending := range c.pending {
		if pending.timer != nil {
			pending.timer.Stop()
		}
		failed = append(failed, pending)
		delete(c.pending, universe)
	}
	c.mu.Unlock()

	for _, pending := range failed {
		pending.cb(rdm.Response{}, rdm.Timeout)
	}
}
