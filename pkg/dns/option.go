package dns

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// ecsFixedLen is FAMILY + SOURCE PREFIX-LENGTH + SCOPE PREFIX-LENGTH.
const ecsFixedLen = 4

// EncodeECSOption serializes a subnet into a complete EDNS0 option:
// OPTION-CODE, OPTION-LENGTH, FAMILY, SOURCE PREFIX-LENGTH, SCOPE PREFIX-LENGTH
// and the address truncated to ceil(prefix/8) bytes. Scope is always 0.
func EncodeECSOption(s *Subnet) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil subnet", ErrInvalidAddress)
	}

	raw, err := subnetAddressBytes(s)
	if err != nil {
		return nil, err
	}

	prefix := int(s.Prefix)
	if prefix > len(raw)*8 {
		return nil, fmt.Errorf("%w: prefix /%d exceeds %d address bits", ErrInvalidAddress, prefix, len(raw)*8)
	}

	addrLen := (prefix + 7) / 8
	addr := make([]byte, addrLen)
	copy(addr, raw)
	if rem := prefix % 8; rem != 0 {
		addr[addrLen-1] &= byte(0xFF << (8 - rem))
	}

	opt := make([]byte, 0, 4+ecsFixedLen+addrLen)
	opt = binary.BigEndian.AppendUint16(opt, EDNS0OptionECS)
	opt = binary.BigEndian.AppendUint16(opt, uint16(ecsFixedLen+addrLen))
	opt = binary.BigEndian.AppendUint16(opt, uint16(s.Family))
	opt = append(opt, s.Prefix, 0)
	opt = append(opt, addr...)

	return opt, nil
}

// subnetAddressBytes decomposes the truncated address: 4 octets for IPv4,
// the first 5 groups (10 bytes) for IPv6.
func subnetAddressBytes(s *Subnet) ([]byte, error) {
	switch s.Family {
	case FamilyIPv4:
		parts := strings.Split(s.Address, ".")
		if len(parts) != 4 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, s.Address)
		}
		b := make([]byte, 0, 4)
		for _, p := range parts {
			v, err := strconv.ParseUint(p, 10, 8)
			if err != nil {
				return nil, fmt.Errorf("%w: octet %q in %q", ErrInvalidAddress, p, s.Address)
			}
			b = append(b, byte(v))
		}
		return b, nil

	case FamilyIPv6:
		groups := strings.Split(s.Address, ":")
		if len(groups) != 8 {
			return nil, fmt.Errorf("%w: %q is not fully expanded", ErrInvalidAddress, s.Address)
		}
		b := make([]byte, 0, 10)
		for _, g := range groups[:5] {
			if len(g) != 4 {
				return nil, fmt.Errorf("%w: group %q in %q", ErrInvalidAddress, g, s.Address)
			}
			v, err := strconv.ParseUint(g, 16, 16)
			if err != nil {
				return nil, fmt.Errorf("%w: group %q in %q", ErrInvalidAddress, g, s.Address)
			}
			b = binary.BigEndian.AppendUint16(b, uint16(v))
		}
		return b, nil

	default:
		return nil, fmt.Errorf("%w: unknown family %d", ErrInvalidAddress, s.Family)
	}
}
