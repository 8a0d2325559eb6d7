package artnet

import (
	"log"
	"sync"
	"time"

	"github.com/OpenLightingProject/ola-sub002/rdm"
)

// dmxFrame is a full 512-slot DMX universe buffer plus which slots are
// considered "set" by at least one source, used by the HTP merge in
// merge.go.
type dmxFrame struct {
	data     [512]byte
	set      [512]bool
	lastSeen time.Time
}

// subscriber is a remote Art-Net node recorded through Subscribe as a
// receiver of DMX for an output port, aged out after
// staleSubscriberAfter of silence. Node itself never calls Subscribe:
// neither ArtPoll, ArtPollReply nor ArtDmx adds a subscriber. Grounded on the
// teacher's senders.UniverseSenders staleness map, adapted from a
// protocol-keyed map to a single Art-Net subscriber table per port.
type subscriber struct {
	addr     [4]byte
	port     uint16
	lastSeen time.Time
}

// staleSubscriberAfter is the Art-Net node-subscription staleness
// timeout (spec.md §9: "Node-subscription staleness is 31 s").
const staleSubscriberAfter = 31 * time.Second

// dmxSourceMergeWindow is how long an input port keeps a source's last
// frame live in the HTP/LTP merge before treating it as gone (spec.md
// §9: "DMX source merge-window is 10 s").
const dmxSourceMergeWindow = 10 * time.Second

// InputPort receives DMX from one or more remote Art-Net sources onto a
// single universe and HTP/LTP-merges them into one local frame
// (spec.md §4.3.4).
type InputPort struct {
	mu        sync.Mutex
	universe  Universe
	merge     MergeMode
	sources   map[[4]byte]*dmxFrame
	lastFrame [512]byte
	onUpdate  func(universe Universe, data []byte)
}

// NewInputPort creates an InputPort listening for the given universe.
func NewInputPort(universe Universe, merge MergeMode) *InputPort {
	return &InputPort{
		universe: universe,
		merge:    merge,
		sources:  make(map[[4]byte]*dmxFrame),
	}
}

// SetUpdateCallback installs the callback invoked after each merge
// produces new output data (e.g. to forward to a local DMX output or a
// downstream consumer).
func (p *InputPort) SetUpdateCallback(fn func(universe Universe, data []byte)) {
	p.mu.Lock()
	p.onUpdate = fn
	p.mu.Unlock()
}

// HandleDMX merges an incoming ArtDmx packet from srcIP into this port's
// per-source frame table and recomputes the merged output. Grounded on
// spec.md §4.3.4's merge-slot algorithm: drop sources past the merge
// window, locate (or create) srcIP's slot, refresh its timestamp, then
// recompute the HTP/LTP merge over every still-live source. At most two
// sources are merged; a frame from a third source is dropped while both
// slots are live.
func (p *InputPort) HandleDMX(srcIP [4]byte, data []byte) {
	const maxSources = 2
	p.mu.Lock()
	p.expireLocked()
	frame, ok := p.sources[srcIP]
	if !ok {
		if len(p.sources) >= maxSources {
			p.mu.Unlock()
			log.Printf("[artnet] universe=%s: dropping DMX from %v, already merging %d sources", p.universe, srcIP, maxSources)
			return
		}
		frame = &dmxFrame{}
		p.sources[srcIP] = frame
	}
	n := len(data)
	if n > 512 {
		n = 512
	}
	for i := 0; i < 512; i++ {
		if i < n {
			frame.data[i] = data[i]
			frame.set[i] = true
		} else {
			frame.set[i] = false
		}
	}
	frame.lastSeen = time.Now()

	merged := mergeFrames(p.merge, p.sources, srcIP, true)
	changed := merged != p.lastFrame
	p.lastFrame = merged
	cb := p.onUpdate
	p.mu.Unlock()

	if changed && cb != nil {
		out := make([]byte, 512)
		copy(out, merged[:])
		cb(p.universe, out)
	}
}

// expireLocked drops sources whose last frame is older than
// dmxSourceMergeWindow. Caller must hold p.mu.
func (p *InputPort) expireLocked() {
	cutoff := time.Now().Add(-dmxSourceMergeWindow)
	for srcIP, frame := range p.sources {
		if frame.lastSeen.Before(cutoff) {
			delete(p.sources, srcIP)
		}
	}
}

// ExpireSources drops sources that have gone silent for longer than the
// DMX source merge-window and recomputes the merged output, so a
// source's departure is reflected even without a subsequent ArtDmx
// arrival from a surviving source (spec.md §8 scenario 7's "B has timed
// out" case when A does not immediately resend).
func (p *InputPort) ExpireSources(maxAge time.Duration) {
	p.mu.Lock()
	cutoff := time.Now().Add(-maxAge)
	changedSet := false
	for srcIP, frame := range p.sources {
		if frame.lastSeen.Before(cutoff) {
			delete(p.sources, srcIP)
			changedSet = true
		}
	}
	if !changedSet {
		p.mu.Unlock()
		return
	}
	merged := mergeFrames(p.merge, p.sources, [4]byte{}, false)
	changed := merged != p.lastFrame
	p.lastFrame = merged
	cb := p.onUpdate
	p.mu.Unlock()

	if changed && cb != nil {
		out := make([]byte, 512)
		copy(out, merged[:])
		cb(p.universe, out)
	}
}

// Snapshot returns the current merged frame.
func (p *InputPort) Snapshot() [512]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastFrame
}

// uidEntry is one RDM responder UID's entry in an OutputPort's table:
// the Art-Net node IP that last reported it in an ArtTodData, and how
// many consecutive full TOD reports it has since been absent from.
type uidEntry struct {
	ip        [4]byte
	missCount int
}

// OutputPort transmits DMX for a universe to any subscribed Art-Net
// nodes (unicast) or the configured broadcast address, and tracks the
// RDM responder UID -> (ip, miss-count) table discovered behind it
// (spec.md §3, §4.3.5/§4.3.6).
type OutputPort struct {
	mu          sync.Mutex
	universe    Universe
	sequence    uint8
	subscribers map[[4]byte]*subscriber
	uids        map[rdm.UID]uidEntry
}

// NewOutputPort creates an OutputPort for the given universe.
func NewOutputPort(universe Universe) *OutputPort {
	return &OutputPort{
		universe:    universe,
		subscribers: make(map[[4]byte]*subscriber),
		uids:        make(map[rdm.UID]uidEntry),
	}
}

// NextSequence returns the next ArtDmx sequence number for this port,
// skipping zero (spec.md §4.3.1: "sequence 0 disables sequencing").
func (p *OutputPort) NextSequence() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sequence++
	if p.sequence == 0 {
		p.sequence = 1
	}
	return p.sequence
}

// Subscribe records that a node at addr (Art-Net UDP port) wants this
// port's DMX stream, refreshing its last-seen time.
func (p *OutputPort) Subscribe(addr [4]byte, udpPort uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers[addr] = &subscriber{addr: addr, port: udpPort, lastSeen: time.Now()}
}

// Subscribers returns the currently fresh (non-stale) subscriber list.
func (p *OutputPort) Subscribers() []subscriber {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := time.Now().Add(-staleSubscriberAfter)
	result := make([]subscriber, 0, len(p.subscribers))
	for addr, s := range p.subscribers {
		if s.lastSeen.Before(cutoff) {
			delete(p.subscribers, addr)
			continue
		}
		result = append(result, *s)
	}
	return result
}

// MergeTod merges a freshly-reported UID set, all sourced from one
// ArtTodData-sending Art-Net node at srcIP, into the port's known table:
// resetting miss counts and refreshing the IP for UIDs present, and
// ageing others (spec.md §4.3.6's "a UID absent from N consecutive full
// TOD reports is considered gone"). Matches the original's miss-count
// aging rather than literal per-block removal (see DESIGN.md Open
// Question 5).
func (p *OutputPort) MergeTod(present []rdm.UID, srcIP [4]byte, maxMisses int) (added, removed []rdm.UID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	seen := make(map[rdm.UID]bool, len(present))
	for _, u := range present {
		seen[u] = true
		if _, ok := p.uids[u]; !ok {
			added = append(added, u)
		}
		p.uids[u] = uidEntry{ip: srcIP}
	}
	for u, entry := range p.uids {
		if seen[u] {
			continue
		}
		entry.missCount++
		if entry.missCount >= maxMisses {
			delete(p.uids, u)
			removed = append(removed, u)
			continue
		}
		p.uids[u] = entry
	}
	return added, removed
}

// KnownUIDs returns the current TOD for this port.
func (p *OutputPort) KnownUIDs() []rdm.UID {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]rdm.UID, 0, len(p.uids))
	for u := range p.uids {
		result = append(result, u)
	}
	return result
}

// ResolveUID returns the Art-Net node IP last reporting uid in an
// ArtTodData, for use as the unicast destination of an RDM request
// addressed to it (spec.md §4.3.5's send-path UID map lookup).
func (p *OutputPort) ResolveUID(uid rdm.UID) ([4]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.uids[uid]
	return entry.ip, ok
}
