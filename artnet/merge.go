package artnet

// MergeMode selects how an InputPort combines DMX frames from multiple
// sources into one, per spec.md §4.3.4.
type MergeMode int

const (
	// MergeHTP takes, per slot, the highest value across all sources.
	// This is Art-Net's default merge mode.
	MergeHTP MergeMode = iota
	// MergeLTP takes the whole buffer of the source that just sent a
	// frame, regardless of value; slots are not blended across sources.
	MergeLTP
)

func (m MergeMode) String() string {
	if m == MergeLTP {
		return "LTP"
	}
	return "HTP"
}

// mergeFrames combines the per-source frames of an input port into a
// single 512-slot output, grounded on ArtNetNode.cpp's
// UpdatePortFromSource HTP merge loop and adapted from the teacher's
// remap engine's per-slot combination shape to operate over a source map
// instead of a single transform.
//
// For MergeLTP, the merged output is the entire buffer of whichever
// source just sent a frame (spec.md §4.3.4 step 5), identified by
// lastUpdated when haveLastUpdated is true. When there is no
// just-updated source (a ticker-driven recomputation after a source
// expired rather than a fresh ArtDmx arrival), the most recently active
// remaining source's buffer is used instead, so LTP output still tracks
// whichever source is actually live.
func mergeFrames(mode MergeMode, sources map[[4]byte]*dmxFrame, lastUpdated [4]byte, haveLastUpdated bool) [512]byte {
	if mode == MergeLTP {
		if haveLastUpdated {
			if frame, ok := sources[lastUpdated]; ok {
				return frame.data
			}
		}
		var latest *dmxFrame
		for _, frame := range sources {
			if latest == nil || frame.lastSeen.After(latest.lastSeen) {
				latest = frame
			}
		}
		if latest != nil {
			return latest.data
		}
		return [512]byte{}
	}

	var out [512]byte
	for _, frame := range sources {
		for i := 0; i < 512; i++ {
			if frame.set[i] && frame.data[i] > out[i] {
				out[i] = frame.data[i]
			}
		}
	}
	return out
}
