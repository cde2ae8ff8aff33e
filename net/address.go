package net

import (
	"fmt"
	"strings"

	"github.com/lcx/xbee/utils"
)

const (
	// BroadcastShort is the 16-bit broadcast address.
	BroadcastShort uint16 = 0xFFFF
	// BroadcastLong is the 64-bit broadcast address.
	BroadcastLong uint64 = 0x000000000000FFFF
	// UnknownShort is reported by the radio when the 16-bit address is not known.
	UnknownShort uint16 = 0xFFFE
)

// Address identifies the remote end of a connection. Each field group is
// optional and only takes part in matching when its Enabled flag is set.
type Address struct {
	ShortEnabled bool
	Short        uint16

	LongEnabled bool
	Long        uint64

	EndpointsEnabled bool
	LocalEndpoint    byte
	RemoteEndpoint   byte

	ProfileEnabled bool
	ProfileID      uint16

	ClusterEnabled bool
	ClusterID      uint16
}

// ShortAddr returns an address with only the 16-bit field enabled.
func ShortAddr(v uint16) Address {
	return Address{ShortEnabled: true, Short: v}
}

// LongAddr returns an address with only the 64-bit field enabled.
func LongAddr(v uint64) Address {
	return Address{LongEnabled: true, Long: v}
}

// WithEndpoints returns a copy of a with the endpoint pair enabled.
func (a Address) WithEndpoints(local, remote byte) Address {
	a.EndpointsEnabled = true
	a.LocalEndpoint = local
	a.RemoteEndpoint = remote
	return a
}

// HasAddr reports whether a network address (short or long) is present.
func (a Address) HasAddr() bool {
	return a.ShortEnabled || a.LongEnabled
}

// IsEmpty reports whether no address field is enabled at all.
func (a Address) IsEmpty() bool {
	return !a.ShortEnabled && !a.LongEnabled && !a.EndpointsEnabled
}

// Matches reports whether an inbound address a selects a connection bound to
// b. When both sides carry a long address only the long address is compared;
// the short address is consulted otherwise. Endpoints enabled on both sides
// must also agree on the local endpoint.
func (a Address) Matches(b Address) bool {
	switch {
	case a.LongEnabled && b.LongEnabled:
		if a.Long != b.Long {
			return false
		}
	case a.ShortEnabled && b.ShortEnabled:
		if a.Short != b.Short {
			return false
		}
	default:
		return false
	}
	if a.EndpointsEnabled && b.EndpointsEnabled && a.LocalEndpoint != b.LocalEndpoint {
		return false
	}
	return true
}

func (a Address) String() string {
	if a.IsEmpty() && !a.ProfileEnabled && !a.ClusterEnabled {
		return "local"
	}
	var parts []string
	if a.LongEnabled {
		parts = append(parts, "long="+utils.FormatLongAddr(a.Long))
	}
	if a.ShortEnabled {
		parts = append(parts, "short="+utils.FormatShortAddr(a.Short))
	}
	if a.EndpointsEnabled {
		parts = append(parts, fmt.Sprintf("ep=%02X>%02X", a.LocalEndpoint, a.RemoteEndpoint))
	}
	if a.ProfileEnabled {
		parts = append(parts, fmt.Sprintf("profile=0x%04X", a.ProfileID))
	}
	if a.ClusterEnabled {
		parts = append(parts, fmt.Sprintf("cluster=0x%04X", a.ClusterID))
	}
	return strings.Join(parts, " ")
}
