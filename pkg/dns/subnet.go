package dns

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// Family is the EDNS0 Client Subnet address family (RFC 7871).
type Family uint16

// Address families
const (
	FamilyIPv4 Family = 1
	FamilyIPv6 Family = 2
)

// Fixed source prefix lengths announced to the upstream resolver.
const (
	IPv4PrefixBits = 24
	IPv6PrefixBits = 56
)

// Subnet is the privacy-truncated client subnet sent in the ECS option.
type Subnet struct {
	Family  Family
	Address string // truncated; IPv6 is fully expanded
	Prefix  uint8
}

// String returns the subnet in address/prefix notation, e.g. "203.0.113.0/24".
func (s *Subnet) String() string {
	return s.Address + "/" + strconv.Itoa(int(s.Prefix))
}

// DeriveSubnet maps a textual client address to its truncated subnet.
// An empty address yields ErrNoClientAddress.
func DeriveSubnet(clientAddr string) (*Subnet, error) {
	addr := strings.TrimSpace(clientAddr)
	addr = strings.TrimSuffix(strings.TrimPrefix(addr, "["), "]")
	if i := strings.IndexByte(addr, '%'); i >= 0 {
		addr = addr[:i]
	}
	if addr == "" {
		return nil, ErrNoClientAddress
	}

	if !strings.Contains(addr, ":") {
		return deriveIPv4(addr)
	}

	// IPv4-mapped IPv6, e.g. ::ffff:203.0.113.77
	if strings.Contains(addr, ".") {
		ip, err := netip.ParseAddr(addr)
		if err != nil || !ip.Is4In6() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, clientAddr)
		}
		return deriveIPv4(ip.Unmap().String())
	}

	return deriveIPv6(addr)
}

func deriveIPv4(addr string) (*Subnet, error) {
	parts := strings.Split(addr, ".")
	if len(parts) != 4 {
		return nil, fmt.Errorf("%w: %q has %d octets", ErrInvalidAddress, addr, len(parts))
	}

	return &Subnet{
		Family:  FamilyIPv4,
		Address: strings.Join(parts[:3], ".") + ".0",
		Prefix:  IPv4PrefixBits,
	}, nil
}

// deriveIPv6 keeps groups 1-4 and the high byte of group 5, zeroing the rest.
// Deployed resolvers have seen this exact textual form, so it is not a
// bitwise /56 mask; the option encoder applies the prefix at byte level.
func deriveIPv6(addr string) (*Subnet, error) {
	groups, err := expandIPv6(addr)
	if err != nil {
		return nil, err
	}

	truncated := make([]string, 0, 8)
	truncated = append(truncated, groups[:4]...)
	truncated = append(truncated, groups[4][:2]+"00", "0000", "0000", "0000")

	return &Subnet{
		Family:  FamilyIPv6,
		Address: strings.Join(truncated, ":"),
		Prefix:  IPv6PrefixBits,
	}, nil
}

// expandIPv6 returns the eight groups of addr, each padded to 4 lower-case
// hex digits, with any "::" shorthand filled with zero groups.
func expandIPv6(addr string) ([]string, error) {
	head, tail, compressed := strings.Cut(addr, "::")
	if compressed && strings.Contains(tail, "::") {
		return nil, fmt.Errorf("%w: %q has more than one \"::\"", ErrInvalidAddress, addr)
	}

	split := func(s string) []string {
		if s == "" {
			return nil
		}
		return strings.Split(s, ":")
	}

	h, t := split(head), split(tail)
	n := len(h) + len(t)
	if (compressed && n > 7) || (!compressed && n != 8) {
		return nil, fmt.Errorf("%w: %q does not have 8 groups", ErrInvalidAddress, addr)
	}

	groups := make([]string, 0, 8)
	groups = append(groups, h...)
	for i := n; i < 8; i++ {
		groups = append(groups, "0000")
	}
	groups = append(groups, t...)

	for i, g := range groups {
		if len(g) == 0 || len(g) > 4 || !isHex(g) {
			return nil, fmt.Errorf("%w: %q has invalid group %q", ErrInvalidAddress, addr, g)
		}
		groups[i] = strings.Repeat("0", 4-len(g)) + strings.ToLower(g)
	}

	return groups, nil
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}
