// Package queue implements the Queueing RDM Controller: a bounded FIFO
// in front of a half-duplex RDM transport that enforces RDM's one
// outstanding transaction at a time rule, with TOD discovery passes
// passed through the same gate so they never race an in-flight RDM
// request on the wire.
package queue

import (
	"log"
	"sync"

	"github.com/OpenLightingProject/ola-sub002/rdm"
)

// DefaultQueueSize bounds the number of requests/discovery passes a
// Controller will hold pending before rejecting new ones with
// rdm.FailedToSend back-pressure (spec.md's Queueing RDM Controller
// "bounded FIFO").
const DefaultQueueSize = 50

// Callback receives the outcome of a single queued RDM request.
type Callback func(rdm.Response, rdm.StatusCode)

// Sender is the half-duplex transport a Controller multiplexes onto: at
// most one request may be outstanding on it at a time. Implemented by
// artnet.RDMControl (adapted to this shape) for Art-Net-carried RDM.
type Sender interface {
	SendRequest(universe uint16, req rdm.Request, cb Callback) error
}

// DiscoveryRunner is the subset of *artnet.Discovery a Controller needs
// to pass TOD discovery operations through, queued behind whatever RDM
// request or discovery pass is currently in flight on the same port
// (spec.md §4.4's "pass-through for discovery methods"). Unlike
// SendRequest, these calls only initiate the pass; its eventual
// completion (ArtTodData or timeout) is reported separately through
// Discovery's own completion callback, not through this interface.
type DiscoveryRunner interface {
	RunFullDiscovery(universe uint16) error
	RunIncrementalDiscovery(universe uint16) error
}

type itemKind int

const (
	kindRequest itemKind = iota
	kindFullDiscovery
	kindIncrementalDiscovery
)

type queued struct {
	kind     itemKind
	universe uint16
	req      rdm.Request
	cb       Callback
}

// Controller is a Queueing RDM Controller for one RDM port: it accepts
// GET/SET requests and full/incremental discovery passes from any
// number of concurrent callers and serializes them one at a time behind
// whichever is currently in flight, bounded by maxSize.
type Controller struct {
	mu       sync.Mutex
	sender   Sender
	discover DiscoveryRunner
	maxSize  int
	busy     bool
	pending  []queued
}

// New creates a Controller sending through sender, with room for at
// most maxSize queued items (DefaultQueueSize if maxSize is 0 or
// negative).
func New(sender Sender, maxSize int) *Controller {
	if maxSize <= 0 {
		maxSize = DefaultQueueSize
	}
	return &Controller{sender: sender, maxSize: maxSize}
}

// SetDiscoveryRunner installs the target that RunFullDiscovery and
// RunIncrementalDiscovery pass through to. Discovery calls made before
// this is set are silently dropped (logged) rather than panicking.
func (c *Controller) SetDiscoveryRunner(runner DiscoveryRunner) {
	c.mu.Lock()
	c.discover = runner
	c.mu.Unlock()
}

// Submit enqueues req for universe and eventually invokes cb exactly
// once with the transaction's outcome. If nothing is currently in
// flight, req is sent immediately. Returns rdm.FailedToSend if the
// queue is already at capacity.
func (c *Controller) Submit(universe uint16, req rdm.Request, cb Callback) rdm.StatusCode {
	return c.enqueue(queued{kind: kindRequest, universe: universe, req: req, cb: cb})
}

// RunFullDiscovery queues a full TOD discovery pass on universe behind
// whatever RDM request or discovery pass is currently in flight.
// Returns rdm.FailedToSend if the queue is already at capacity.
func (c *Controller) RunFullDiscovery(universe uint16) rdm.StatusCode {
	return c.enqueue(queued{kind: kindFullDiscovery, universe: universe})
}

// RunIncrementalDiscovery queues an incremental TOD discovery pass on
// universe behind whatever RDM request or discovery pass is currently in
// flight. Returns rdm.FailedToSend if the queue is already at capacity.
func (c *Controller) RunIncrementalDiscovery(universe uint16) rdm.StatusCode {
	return c.enqueue(queued{kind: kindIncrementalDiscovery, universe: universe})
}

func (c *Controller) enqueue(item queued) rdm.StatusCode {
	c.mu.Lock()
	if c.busy {
		if len(c.pending) >= c.maxSize {
			c.mu.Unlock()
			return rdm.FailedToSend
		}
		c.pending = append(c.pending, item)
		c.mu.Unlock()
		return rdm.OK
	}
	c.busy = true
	c.mu.Unlock()
	c.dispatch(item)
	return rdm.OK
}

// QueueLength reports the number of items currently waiting (not
// counting one in flight).
func (c *Controller) QueueLength() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// CancelAll synchronously fails every queued-but-not-yet-dispatched RDM
// request with rdm.Timeout and drops queued discovery passes, used by
// Node.Stop to make sure no caller is left waiting on a callback that
// will never fire once the transport shuts down. The item currently in
// flight (if any) is owned by the underlying Sender/DiscoveryRunner and
// must be canceled there.
func (c *Controller) CancelAll() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, item := range pending {
		if item.cb != nil {
			item.cb(rdm.Response{}, rdm.Timeout)
		}
	}
}

func (c *Controller) dispatch(item queued) {
	switch item.kind {
	case kindFullDiscovery, kindIncrementalDiscovery:
		c.mu.Lock()
		runner := c.discover
		c.mu.Unlock()

		if runner == nil {
			log.Printf("[queue] discovery requested on universe=%d before a discovery runner was set", item.universe)
		} else {
			var err error
			if item.kind == kindFullDiscovery {
				err = runner.RunFullDiscovery(item.universe)
			} else {
				err = runner.RunIncrementalDiscovery(item.universe)
			}
			if err != nil {
				log.Printf("[queue] discovery dispatch error universe=%d err=%v", item.universe, err)
			}
		}
		c.advance()

	default:
		if err := c.sender.SendRequest(item.universe, item.req, func(resp rdm.Response, status rdm.StatusCode) {
			c.completeAndAdvance(item, resp, status)
		}); err != nil {
			c.completeAndAdvance(item, rdm.Response{}, rdm.FailedToSend)
		}
	}
}

func (c *Controller) completeAndAdvance(item queued, resp rdm.Response, status rdm.StatusCode) {
	item.cb(resp, status)
	c.advance()
}

func (c *Controller) advance() {
	c.mu.Lock()
	var next queued
	var ok bool
	if len(c.pending) > 0 {
		next, c.pending = c.pending[0], c.pending[1:]
		ok = true
	} else {
		c.busy = false
	}
	c.mu.Unlock()

	if ok {
		c.dispatch(next)
	}
}
