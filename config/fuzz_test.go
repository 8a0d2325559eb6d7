package config

import (
	"testing"

	"github.com/OpenLightingProject/ola-sub002/rdm"
)

// FuzzUIDValueRoundTrip exercises UIDValue's text decoding the way the
// teacher's fuzz tests exercise its own TOML scalar types.
func FuzzUIDValueRoundTrip(f *testing.F) {
	f.Add("0001:00000002")
	f.Add("ffff:ffffffff")
	f.Add("")
	f.Add("not-a-uid")
	f.Add("0001")

	f.Fuzz(func(t *testing.T, input string) {
		var v UIDValue
		if err := v.UnmarshalText([]byte(input)); err != nil {
			return
		}
		s := v.String()
		u2, err := rdm.ParseUID(s)
		if err != nil {
			t.Fatalf("roundtrip failed: parsed %q -> %v -> %q, but re-parse failed: %v", input, v.UID, s, err)
		}
		if v.UID != u2 {
			t.Fatalf("roundtrip mismatch: %v != %v", v.UID, u2)
		}
	})
}

// FuzzPortConfigMergeMode checks MergeMode never panics for arbitrary
// configured merge strings and only recognises the two documented
// values.
func FuzzPortConfigMergeMode(f *testing.F) {
	f.Add("htp")
	f.Add("ltp")
	f.Add("")
	f.Add("HTP")
	f.Add("bogus")

	f.Fuzz(func(t *testing.T, merge string) {
		p := PortConfig{Merge: merge}
		mode := p.MergeMode()
		if merge == "ltp" {
			if mode.String() != "LTP" {
				t.Fatalf("expected LTP for merge=%q, got %v", merge, mode)
			}
		} else if mode.String() != "HTP" {
			t.Fatalf("expected HTP for merge=%q, got %v", merge, mode)
		}
	})
}
