// Package config loads a Node's configuration from TOML, following the
// teacher's BurntSushi/toml-based loader and its UnmarshalText/UnmarshalTOML
// pattern for a domain-specific scalar type (here rdm.UID in place of the
// teacher's UniverseAddr).
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/OpenLightingProject/ola-sub002/artnet"
	"github.com/OpenLightingProject/ola-sub002/rdm"
)

// PortConfig describes one universe a Node should bind as an input,
// output, or both.
type PortConfig struct {
	Net      uint8  `toml:"net"`
	SubNet   uint8  `toml:"subnet"`
	Universe uint8  `toml:"universe"`
	Input    bool   `toml:"input"`
	Output   bool   `toml:"output"`
	Merge    string `toml:"merge"` // "htp" (default) or "ltp"
}

// ArtNetUniverse returns the artnet.Universe this port config addresses.
func (p PortConfig) ArtNetUniverse() artnet.Universe {
	return artnet.NewUniverse(p.Net, p.SubNet, p.Universe)
}

// MergeMode resolves the configured merge string to an artnet.MergeMode.
func (p PortConfig) MergeMode() artnet.MergeMode {
	if p.Merge == "ltp" {
		return artnet.MergeLTP
	}
	return artnet.MergeHTP
}

// Config is a Node's full configuration, loaded from a TOML file.
type Config struct {
	ShortName                  string       `toml:"short_name"`
	LongName                   string       `toml:"long_name"`
	ListenAddr                 string       `toml:"listen_addr"`
	BroadcastAddr              string       `toml:"broadcast_addr"`
	NetAddress                 uint8        `toml:"net_address"`
	AlwaysBroadcast            bool         `toml:"always_broadcast"`
	UseLimitedBroadcastAddress bool         `toml:"use_limited_broadcast_address"`
	BroadcastThreshold         int          `toml:"broadcast_threshold"`
	RDMQueueSize               int          `toml:"rdm_queue_size"`
	Ports                      []PortConfig `toml:"port"`

	// KnownUIDs lists responders the operator already knows about,
	// keyed by an arbitrary label for readability in the TOML file. It
	// is parsed and validated only: nothing seeds an output port's RDM
	// TOD from it, so discovery always starts from an empty table.
	KnownUIDs map[string]UIDValue `toml:"known_uid"`
}

// UIDValue wraps rdm.UID with TOML text-scalar decoding, mirroring the
// teacher's UniverseAddr.UnmarshalText/UnmarshalTOML pair.
type UIDValue struct {
	rdm.UID
}

func (v *UIDValue) UnmarshalText(text []byte) error {
	u, err := rdm.ParseUID(string(text))
	if err != nil {
		return err
	}
	v.UID = u
	return nil
}

func (v *UIDValue) UnmarshalTOML(data interface{}) error {
	s, ok := data.(string)
	if !ok {
		return fmt.Errorf("config: uid value must be a string, got %T", data)
	}
	return v.UnmarshalText([]byte(s))
}

// Load reads and validates a Node configuration from path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	for i, p := range c.Ports {
		if !p.Input && !p.Output {
			return fmt.Errorf("config: port %d: must be input, output, or both", i)
		}
		if p.Merge != "" && p.Merge != "htp" && p.Merge != "ltp" {
			return fmt.Errorf("config: port %d: merge must be \"htp\" or \"ltp\", got %q", i, p.Merge)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = fmt.Sprintf(":%d", artnet.Port)
	}
	if c.ShortName == "" {
		c.ShortName = "ola-sub002"
	}
	if c.LongName == "" {
		c.LongName = "OLA Art-Net/RDM node"
	}
	if c.BroadcastThreshold <= 0 {
		c.BroadcastThreshold = 4
	}
}

// NodeOptions converts the loaded config into artnet.Options.
func (c *Config) NodeOptions() artnet.Options {
	return artnet.Options{
		ListenAddr:                 c.ListenAddr,
		BroadcastAddr:              c.BroadcastAddr,
		AlwaysBroadcast:            c.AlwaysBroadcast,
		UseLimitedBroadcastAddress: c.UseLimitedBroadcastAddress,
		BroadcastThreshold:         c.BroadcastThreshold,
		RDMQueueSize:               c.RDMQueueSize,
		ShortName:                  c.ShortName,
		LongName:                   c.LongName,
		NetAddress:                 c.NetAddress,
	}
}
