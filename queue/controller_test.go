package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/OpenLightingProject/ola-sub002/rdm"
)

// fakeSender records submitted requests and lets the test complete them
// on demand, modelling the one-at-a-time half-duplex transport a
// Controller sits in front of.
type fakeSender struct {
	mu      sync.Mutex
	inFlight []func(rdm.Response, rdm.StatusCode)
	sent     []rdm.Request
}

func (f *fakeSender) SendRequest(universe uint16, req rdm.Request, cb Callback) error {
	f.mu.Lock()
	f.sent = append(f.sent, req)
	f.inFlight = append(f.inFlight, cb)
	f.mu.Unlock()
	return nil
}

// complete resolves the oldest not-yet-completed request.
func (f *fakeSender) complete(resp rdm.Response, status rdm.StatusCode) {
	f.mu.Lock()
	cb := f.inFlight[0]
	f.inFlight = f.inFlight[1:]
	f.mu.Unlock()
	cb(resp, status)
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestControllerQueuesBehindInFlightRequest(t *testing.T) {
	sender := &fakeSender{}
	c := New(sender, 10)

	var results []rdm.StatusCode
	var mu sync.Mutex
	record := func(_ rdm.Response, status rdm.StatusCode) {
		mu.Lock()
		results = append(results, status)
		mu.Unlock()
	}

	req := rdm.NewGetRequest(rdm.UID{}, rdm.UID{}, 0, 0x0128, nil)
	require.Equal(t, rdm.OK, c.Submit(1, req, record))
	require.Equal(t, rdm.OK, c.Submit(1, req, record))
	require.Equal(t, rdm.OK, c.Submit(1, req, record))

	require.Equal(t, 1, sender.sentCount())
	require.Equal(t, 2, c.QueueLength())

	sender.complete(rdm.Response{}, rdm.OK)
	require.Equal(t, 2, sender.sentCount())
	require.Equal(t, 1, c.QueueLength())

	sender.complete(rdm.Response{}, rdm.OK)
	require.Equal(t, 3, sender.sentCount())
	require.Equal(t, 0, c.QueueLength())

	sender.complete(rdm.Response{}, rdm.OK)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 3)
	for _, r := range results {
		require.Equal(t, rdm.OK, r)
	}
}

func TestControllerRejectsWhenQueueFull(t *testing.T) {
	sender := &fakeSender{}
	c := New(sender, 1)

	noop := func(rdm.Response, rdm.StatusCode) {}
	req := rdm.NewGetRequest(rdm.UID{}, rdm.UID{}, 0, 0x0128, nil)

	require.Equal(t, rdm.OK, c.Submit(1, req, noop))  // sent immediately
	require.Equal(t, rdm.OK, c.Submit(1, req, noop))  // queued (fills capacity 1)
	require.Equal(t, rdm.FailedToSend, c.Submit(1, req, noop)) // queue full
}

// fakeDiscoveryRunner records RunFullDiscovery/RunIncrementalDiscovery
// calls, modelling artnet.Discovery's pass-through target.
type fakeDiscoveryRunner struct {
	mu          sync.Mutex
	full        []uint16
	incremental []uint16
}

func (f *fakeDiscoveryRunner) RunFullDiscovery(universe uint16) error {
	f.mu.Lock()
	f.full = append(f.full, universe)
	f.mu.Unlock()
	return nil
}

func (f *fakeDiscoveryRunner) RunIncrementalDiscovery(universe uint16) error {
	f.mu.Lock()
	f.incremental = append(f.incremental, universe)
	f.mu.Unlock()
	return nil
}

// TestControllerDiscoveryQueuesBehindInFlightRequest is spec.md §4.4's
// "pass-through for discovery methods": a full discovery pass waits its
// turn behind an in-flight RDM request on the same port rather than
// jumping ahead of it.
func TestControllerDiscoveryQueuesBehindInFlightRequest(t *testing.T) {
	sender := &fakeSender{}
	runner := &fakeDiscoveryRunner{}
	c := New(sender, 10)
	c.SetDiscoveryRunner(runner)

	noop := func(rdm.Response, rdm.StatusCode) {}
	getReq := rdm.NewGetRequest(rdm.UID{}, rdm.UID{}, 0, 0x0128, nil)

	require.Equal(t, rdm.OK, c.Submit(1, getReq, noop))          // in flight
	require.Equal(t, rdm.OK, c.RunFullDiscovery(1))              // queued behind it
	require.Equal(t, rdm.OK, c.RunIncrementalDiscovery(1))       // queued behind that

	require.Equal(t, 1, sender.sentCount())
	require.Empty(t, runner.full)
	require.Empty(t, runner.incremental)

	sender.complete(rdm.Response{}, rdm.OK)

	require.Equal(t, []uint16{1}, runner.full)
	require.Equal(t, []uint16{1}, runner.incremental)
	require.Equal(t, 0, c.QueueLength())
}

func TestControllerRunFullDiscoveryImmediateWhenIdle(t *testing.T) {
	sender := &fakeSender{}
	runner := &fakeDiscoveryRunner{}
	c := New(sender, 10)
	c.SetDiscoveryRunner(runner)

	require.Equal(t, rdm.OK, c.RunFullDiscovery(7))
	require.Equal(t, []uint16{7}, runner.full)
	require.Equal(t, 0, sender.sentCount())
}
