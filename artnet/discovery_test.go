package artnet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/OpenLightingProject/ola-sub002/rdm"
)

type fakeDiscoverySender struct {
	flushes  int
	requests int
}

func (f *fakeDiscoverySender) SendTodControl(universe Universe, command byte) error {
	f.flushes++
	return nil
}

func (f *fakeDiscoverySender) SendTodRequest(universe Universe) error {
	f.requests++
	return nil
}

func newTestDiscovery(t *testing.T, universe Universe) (*Discovery, *OutputPort, *fakeDiscoverySender) {
	t.Helper()
	sender := &fakeDiscoverySender{}
	d := NewDiscovery(sender)
	d.SetTimeout(20 * time.Millisecond)
	port := NewOutputPort(universe)
	d.RegisterPort(universe, port)
	return d, port, sender
}

// TestDiscoveryCompletesOnceForTwoResponders is spec.md §8 scenario 6:
// two ArtTodData packets from different source IPs, each reporting one
// UID, fold into a single completion callback once the pass times out.
func TestDiscoveryCompletesOnceForTwoResponders(t *testing.T) {
	universe := NewUniverse(0, 0, 1)
	d, _, sender := newTestDiscovery(t, universe)

	var calls int
	var gotAdded []rdm.UID
	var gotTimedOut bool
	done := make(chan struct{})
	d.SetCompletionCallback(func(u Universe, added, removed []rdm.UID, timedOut bool) {
		calls++
		gotAdded = added
		gotTimedOut = timedOut
		close(done)
	})

	require.NoError(t, d.RunFullDiscovery(universe))
	require.Equal(t, 1, sender.flushes)
	require.Equal(t, 1, sender.requests)

	d.HandleTodData(universe, [4]byte{10, 0, 0, 1}, &TodDataPacket{UIDs: [][6]byte{{0, 1, 0, 0, 0, 1}}})
	d.HandleTodData(universe, [4]byte{10, 0, 0, 2}, &TodDataPacket{UIDs: [][6]byte{{0, 1, 0, 0, 0, 2}}})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("completion callback never fired")
	}

	require.Equal(t, 1, calls)
	require.Len(t, gotAdded, 2)
	require.False(t, gotTimedOut)
}

// TestDiscoveryTimesOutWithNoResponders covers the genuine-timeout case:
// no ArtTodData arrives before the deadline, so completion fires with an
// empty set and timedOut=true.
func TestDiscoveryTimesOutWithNoResponders(t *testing.T) {
	universe := NewUniverse(0, 0, 2)
	d, _, _ := newTestDiscovery(t, universe)

	done := make(chan struct{})
	var gotTimedOut bool
	d.SetCompletionCallback(func(u Universe, added, removed []rdm.UID, timedOut bool) {
		gotTimedOut = timedOut
		close(done)
	})

	require.NoError(t, d.RunFullDiscovery(universe))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("completion callback never fired")
	}
	require.True(t, gotTimedOut)
}

func TestDiscoveryStatusTransitions(t *testing.T) {
	universe := NewUniverse(0, 0, 3)
	d, _, _ := newTestDiscovery(t, universe)
	require.Equal(t, DiscoveryIdle, d.Status(universe))

	require.NoError(t, d.RunFullDiscovery(universe))
	require.Equal(t, DiscoveryFullInProgress, d.Status(universe))
}

// TestCancelAllFailsInProgressPasses is spec.md §5's shutdown behavior:
// Stop must synchronously complete every in-progress discovery pass with
// an empty UID set rather than let it fire later from its own timer.
func TestCancelAllFailsInProgressPasses(t *testing.T) {
	universe := NewUniverse(0, 0, 4)
	d, _, _ := newTestDiscovery(t, universe)
	d.SetTimeout(time.Hour)

	var calls int
	var gotTimedOut bool
	d.SetCompletionCallback(func(u Universe, added, removed []rdm.UID, timedOut bool) {
		calls++
		gotTimedOut = timedOut
	})

	require.NoError(t, d.RunFullDiscovery(universe))
	require.Equal(t, DiscoveryFullInProgress, d.Status(universe))

	d.CancelAll()

	require.Equal(t, 1, calls)
	require.True(t, gotTimedOut)
	require.Equal(t, DiscoveryIdle, d.Status(universe))
}
