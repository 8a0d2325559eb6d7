// Package rdm implements the RDM (Remote Device Management, ANSI E1.20)
// command codec: UID/frame value types and the serialize/deserialize/
// combine operations used to pack and unpack RDM commands carried over
// Art-Net (see the artnet package) or any other DMX512 transport.
package rdm

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// UID is a 48-bit RDM unique identifier: a 16-bit ESTA manufacturer id and
// a 32-bit device id, packed big-endian on the wire.
type UID struct {
	Manufacturer uint16
	Device       uint32
}

// BroadcastDeviceID is the device id reserved for manufacturer broadcasts
// and the all-devices UID.
const BroadcastDeviceID uint32 = 0xFFFFFFFF

// BroadcastManufacturerID is the manufacturer id reserved for
// broadcast-to-all-manufacturers.
const BroadcastManufacturerID uint16 = 0xFFFF

// AllDevices is the UID matching every device on every manufacturer.
var AllDevices = UID{Manufacturer: BroadcastManufacturerID, Device: BroadcastDeviceID}

// VendorcastUID returns the UID that broadcasts to every device belonging
// to manufacturer m.
func VendorcastUID(m uint16) UID {
	return UID{Manufacturer: m, Device: BroadcastDeviceID}
}

// IsBroadcast reports whether u addresses more than one device: either a
// vendorcast (any manufacturer, all-ones device id) or the all-devices UID.
func (u UID) IsBroadcast() bool {
	return u.Device == BroadcastDeviceID
}

// IsAllManufacturers reports whether u broadcasts across every manufacturer.
func (u UID) IsAllManufacturers() bool {
	return u.Manufacturer == BroadcastManufacturerID
}

// Pack writes the 6-byte big-endian wire representation of u into dst,
// which must have length >= 6.
func (u UID) Pack(dst []byte) {
	binary.BigEndian.PutUint16(dst[0:2], u.Manufacturer)
	binary.BigEndian.PutUint32(dst[2:6], u.Device)
}

// Bytes returns the 6-byte big-endian wire representation of u.
func (u UID) Bytes() [6]byte {
	var b [6]byte
	u.Pack(b[:])
	return b
}

// ParseUIDBytes unpacks a 6-byte big-endian wire representation.
func ParseUIDBytes(b []byte) (UID, error) {
	if len(b) < 6 {
		return UID{}, fmt.Errorf("rdm: short UID: need 6 bytes, got %d", len(b))
	}
	return UID{
		Manufacturer: binary.BigEndian.Uint16(b[0:2]),
		Device:       binary.BigEndian.Uint32(b[2:6]),
	}, nil
}

// Compare orders UIDs lexicographically on their packed big-endian bytes:
// manufacturer first, then device id. It returns -1, 0, or 1.
func (u UID) Compare(other UID) int {
	if u.Manufacturer != other.Manufacturer {
		if u.Manufacturer < other.Manufacturer {
			return -1
		}
		return 1
	}
	switch {
	case u.Device < other.Device:
		return -1
	case u.Device > other.Device:
		return 1
	default:
		return 0
	}
}

// String renders the UID in "mmmm:dddddddd" hex form, e.g. "0001:00000002".
func (u UID) String() string {
	return fmt.Sprintf("%04x:%08x", u.Manufacturer, u.Device)
}

// ParseUID parses the "mmmm:dddddddd" hex form produced by String.
func ParseUID(s string) (UID, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return UID{}, fmt.Errorf("rdm: invalid UID %q: want manufacturer:device", s)
	}
	m, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return UID{}, fmt.Errorf("rdm: invalid UID manufacturer %q: %w", parts[0], err)
	}
	d, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return UID{}, fmt.Errorf("rdm: invalid UID device %q: %w", parts[1], err)
	}
	return UID{Manufacturer: uint16(m), Device: uint32(d)}, nil
}

// MarshalText implements encoding.TextMarshaler so UIDs serialise cleanly
// through TOML/JSON configuration, mirroring the teacher's
// config.UniverseAddr text round-trip.
func (u UID) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *UID) UnmarshalText(text []byte) error {
	parsed, err := ParseUID(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
