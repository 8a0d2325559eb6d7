package artnet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/OpenLightingProject/ola-sub002/rdm"
)

var (
	srcA = [4]byte{10, 0, 0, 1}
	srcB = [4]byte{10, 0, 0, 2}
)

// TestHTPMergeTwoSources is spec.md §8 scenario 7's merge half: source A
// sends {0,1,2,3,4,5}, source B sends {5,4,3,2,1,0}; HTP takes the
// per-slot max, so the merged frame is {5,4,3,3,4,5}.
func TestHTPMergeTwoSources(t *testing.T) {
	p := NewInputPort(NewUniverse(0, 0, 1), MergeHTP)

	var got [512]byte
	p.SetUpdateCallback(func(u Universe, data []byte) {
		copy(got[:], data)
	})

	p.HandleDMX(srcA, []byte{0, 1, 2, 3, 4, 5})
	p.HandleDMX(srcB, []byte{5, 4, 3, 2, 1, 0})

	require.Equal(t, []byte{5, 4, 3, 3, 4, 5}, got[:6])
	require.Equal(t, p.Snapshot(), got)
}

// TestHTPMergeExpiresStaleSource is spec.md §8 scenario 7's timeout half:
// once B's last frame is older than the merge window, ExpireSources drops
// B without any new ArtDmx arriving, and the merged output reflects only A.
func TestHTPMergeExpiresStaleSource(t *testing.T) {
	p := NewInputPort(NewUniverse(0, 0, 1), MergeHTP)

	var got [512]byte
	var calls int
	p.SetUpdateCallback(func(u Universe, data []byte) {
		calls++
		copy(got[:], data)
	})

	p.HandleDMX(srcA, []byte{0, 1, 2, 3, 4, 5})
	p.HandleDMX(srcB, []byte{5, 4, 3, 2, 1, 0})

	// Age srcB's frame past the merge window without a fresh ArtDmx.
	p.mu.Lock()
	p.sources[srcB].lastSeen = time.Now().Add(-dmxSourceMergeWindow - time.Second)
	p.mu.Unlock()

	p.ExpireSources(dmxSourceMergeWindow)

	require.Equal(t, []byte{0, 1, 2, 3, 4, 5}, got[:6])
	require.Equal(t, 3, calls)
}

func TestExpireSourcesNoopWhenNothingStale(t *testing.T) {
	p := NewInputPort(NewUniverse(0, 0, 1), MergeHTP)
	var calls int
	p.SetUpdateCallback(func(u Universe, data []byte) { calls++ })

	p.HandleDMX(srcA, []byte{1})
	p.ExpireSources(dmxSourceMergeWindow)

	require.Equal(t, 1, calls)
}

// TestLTPMergeTakesJustUpdatedSourceWholesale is spec.md §4.3.4 step 5:
// LTP output is the entire buffer of whichever source just sent a
// frame, not a per-slot blend across sources.
func TestLTPMergeTakesJustUpdatedSourceWholesale(t *testing.T) {
	p := NewInputPort(NewUniverse(0, 0, 1), MergeLTP)

	var got [512]byte
	p.SetUpdateCallback(func(u Universe, data []byte) {
		copy(got[:], data)
	})

	p.HandleDMX(srcA, []byte{1, 2, 3})
	require.Equal(t, []byte{1, 2, 3}, got[:3])

	p.HandleDMX(srcB, []byte{9, 9})
	require.Equal(t, []byte{9, 9, 0}, got[:3])

	// A resending doesn't blend with B's last frame; A's whole buffer
	// takes over again.
	p.HandleDMX(srcA, []byte{4, 5, 6})
	require.Equal(t, []byte{4, 5, 6}, got[:3])
}

// TestLTPMergeFallsBackToMostRecentOnExpiry covers the ticker-driven
// recomputation path, where there is no just-updated source: LTP output
// tracks whichever remaining source was most recently active.
func TestLTPMergeFallsBackToMostRecentOnExpiry(t *testing.T) {
	p := NewInputPort(NewUniverse(0, 0, 1), MergeLTP)

	var got [512]byte
	p.SetUpdateCallback(func(u Universe, data []byte) {
		copy(got[:], data)
	})

	p.HandleDMX(srcA, []byte{1, 2, 3})
	p.HandleDMX(srcB, []byte{9, 9})

	p.mu.Lock()
	p.sources[srcB].lastSeen = time.Now().Add(-dmxSourceMergeWindow - time.Second)
	p.mu.Unlock()

	p.ExpireSources(dmxSourceMergeWindow)

	require.Equal(t, []byte{1, 2, 3}, got[:3])
}

func TestOutputPortSubscriberStaleness(t *testing.T) {
	p := NewOutputPort(NewUniverse(0, 0, 1))
	p.Subscribe(srcA, Port)
	p.subscribers[srcA].lastSeen = time.Now().Add(-staleSubscriberAfter - time.Second)
	p.Subscribe(srcB, Port)

	subs := p.Subscribers()
	require.Len(t, subs, 1)
	require.Equal(t, srcB, subs[0].addr)
}

// TestMergeTodAgesOutAfterMaxMisses is spec.md §8 scenario 8: across
// three successive discovery cycles where only U1 persists, U2 and U3
// are dropped once their miss count reaches maxMisses.
func TestMergeTodAgesOutAfterMaxMisses(t *testing.T) {
	p := NewOutputPort(NewUniverse(0, 0, 1))
	u1 := rdm.UID{Manufacturer: 1, Device: 1}
	u2 := rdm.UID{Manufacturer: 1, Device: 2}
	u3 := rdm.UID{Manufacturer: 1, Device: 3}

	nodeIP := [4]byte{10, 0, 0, 9}
	added, removed := p.MergeTod([]rdm.UID{u1, u2, u3}, nodeIP, 3)
	require.ElementsMatch(t, []rdm.UID{u1, u2, u3}, added)
	require.Empty(t, removed)

	for i := 0; i < 3; i++ {
		added, removed = p.MergeTod([]rdm.UID{u1}, nodeIP, 3)
		require.Empty(t, added)
	}
	require.ElementsMatch(t, []rdm.UID{u2, u3}, removed)

	require.Equal(t, []rdm.UID{u1}, p.KnownUIDs())

	ip, ok := p.ResolveUID(u1)
	require.True(t, ok)
	require.Equal(t, nodeIP, ip)

	_, ok = p.ResolveUID(u2)
	require.False(t, ok)
}
