// Package sanitize validates lookup identifiers.
//
// An identifier is either a domain name or an IPv4/IPv6 address. Anything else
// is rejected with ErrInvalidIdentifier so callers can decide whether to
// re-prompt or skip; rejection is an expected outcome, not a fault.
package sanitize

import (
	"errors"
	"net/netip"
	"regexp"
	"strings"
)

// ErrInvalidIdentifier is returned for input that is neither a domain name nor
// an IP address.
var ErrInvalidIdentifier = errors.New("invalid identifier: expected a domain name or an IP address")

// domainRegexp accepts dot-joined labels of 1-63 letters, digits and hyphens
// (no leading/trailing hyphen) followed by an alphabetic TLD of length >= 2.
var domainRegexp = regexp.MustCompile(`^(?i:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+(?i:[a-z]{2,})$`)

// Kind tells which grammar an Identifier matched.
type Kind int

const (
	KindDomain Kind = iota + 1
	KindIPv4
	KindIPv6
)

func (k Kind) String() string {
	switch k {
	case KindDomain:
		return "domain"
	case KindIPv4:
		return "ipv4"
	case KindIPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// Identifier is a validated domain name or IP address.
//
// The zero value is not a valid identifier; obtain one through Sanitize.
type Identifier struct {
	value string
	kind  Kind
	addr  netip.Addr
}

// Sanitize trims raw and accepts it if it is a domain name or an IP address.
//
// The returned identifier keeps the trimmed input verbatim (no case folding,
// no address canonicalisation), so "2001:DB8::1" stays "2001:DB8::1".
func Sanitize(raw string) (Identifier, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Identifier{}, ErrInvalidIdentifier
	}

	if addr, err := netip.ParseAddr(s); err == nil && addr.Zone() == "" {
		kind := KindIPv6
		if addr.Is4() {
			kind = KindIPv4
		}
		return Identifier{value: s, kind: kind, addr: addr}, nil
	}

	if domainRegexp.MatchString(s) {
		return Identifier{value: s, kind: KindDomain}, nil
	}
	return Identifier{}, ErrInvalidIdentifier
}

// MustSanitize is like Sanitize but panics on rejection. Intended for tests
// and static tables.
func MustSanitize(raw string) Identifier {
	id, err := Sanitize(raw)
	if err != nil {
		panic(err.Error() + ": " + raw)
	}
	return id
}

func (id Identifier) String() string { return id.value }

func (id Identifier) Kind() Kind { return id.kind }

func (id Identifier) IsIP() bool { return id.kind == KindIPv4 || id.kind == KindIPv6 }

// IsZero reports whether id was not produced by Sanitize.
func (id Identifier) IsZero() bool { return id.kind == 0 }

// Addr returns the parsed address for IP identifiers.
func (id Identifier) Addr() (netip.Addr, bool) {
	return id.addr, id.IsIP()
}

// IsPublic reports whether id is a globally routable IP address.
//
// Domains always report false: resolving them is outside this package.
func IsPublic(id Identifier) bool {
	addr, ok := id.Addr()
	if !ok {
		return false
	}
	return IsPublicAddr(addr)
}

// IsPublicAddr reports whether addr is routable on the public internet.
func IsPublicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	switch {
	case !addr.IsValid(),
		addr.IsUnspecified(),
		addr.IsLoopback(),
		addr.IsPrivate(),
		addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast(),
		addr.IsInterfaceLocalMulticast(),
		addr.IsMulticast():
		return false
	}
	return true
}
