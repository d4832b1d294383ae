package dns

import (
	"bytes"
	"errors"
	"testing"
)

// TestEncodeECSOption tests the EDNS0 Client Subnet option layout
func TestEncodeECSOption(t *testing.T) {
	tests := []struct {
		name   string
		subnet *Subnet
		want   []byte
	}{
		{
			name:   "ipv4",
			subnet: &Subnet{Family: FamilyIPv4, Address: "203.0.113.0", Prefix: 24},
			want:   []byte{0x00, 0x08, 0x00, 0x07, 0x00, 0x01, 0x18, 0x00, 0xCB, 0x00, 0x71},
		},
		{
			name:   "ipv6",
			subnet: &Subnet{Family: FamilyIPv6, Address: "2001:0db8:85a3:1234:5600:0000:0000:0000", Prefix: 56},
			want: []byte{
				0x00, 0x08, 0x00, 0x0B, 0x00, 0x02, 0x38, 0x00,
				0x20, 0x01, 0x0D, 0xB8, 0x85, 0xA3, 0x12,
			},
		},
		{
			name:   "ipv4 unaligned prefix",
			subnet: &Subnet{Family: FamilyIPv4, Address: "203.0.113.255", Prefix: 20},
			want:   []byte{0x00, 0x08, 0x00, 0x07, 0x00, 0x01, 0x14, 0x00, 0xCB, 0x00, 0x70},
		},
		{
			name:   "zero prefix",
			subnet: &Subnet{Family: FamilyIPv4, Address: "0.0.0.0", Prefix: 0},
			want:   []byte{0x00, 0x08, 0x00, 0x04, 0x00, 0x01, 0x00, 0x00},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeECSOption(tt.subnet)
			if err != nil {
				t.Fatalf("EncodeECSOption failed: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("EncodeECSOption = % X, want % X", got, tt.want)
			}
		})
	}
}

// TestEncodeECSOptionFromDerived tests encoder output length for derived subnets
func TestEncodeECSOptionFromDerived(t *testing.T) {
	tests := []struct {
		addr    string
		wantLen int
	}{
		{"203.0.113.77", 8 + 3},
		{"2001:db8:85a3:1234:5678::1", 8 + 7},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			s, err := DeriveSubnet(tt.addr)
			if err != nil {
				t.Fatalf("DeriveSubnet failed: %v", err)
			}
			opt, err := EncodeECSOption(s)
			if err != nil {
				t.Fatalf("EncodeECSOption failed: %v", err)
			}
			if len(opt) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(opt), tt.wantLen)
			}
			if int(opt[2])<<8|int(opt[3]) != tt.wantLen-4 {
				t.Errorf("OPTION-LENGTH = %d, want %d", int(opt[2])<<8|int(opt[3]), tt.wantLen-4)
			}
		})
	}
}

// TestEncodeECSOptionErrors tests rejected subnets
func TestEncodeECSOptionErrors(t *testing.T) {
	tests := []struct {
		name   string
		subnet *Subnet
	}{
		{"nil", nil},
		{"octet out of range", &Subnet{Family: FamilyIPv4, Address: "300.1.2.0", Prefix: 24}},
		{"octet not numeric", &Subnet{Family: FamilyIPv4, Address: "a.b.c.0", Prefix: 24}},
		{"three octets", &Subnet{Family: FamilyIPv4, Address: "1.2.3", Prefix: 24}},
		{"ipv6 compressed", &Subnet{Family: FamilyIPv6, Address: "2001:db8::", Prefix: 56}},
		{"ipv6 short group", &Subnet{Family: FamilyIPv6, Address: "2001:db8:0:0:0:0:0:0", Prefix: 56}},
		{"ipv6 bad hex", &Subnet{Family: FamilyIPv6, Address: "zzzz:0db8:0000:0000:0000:0000:0000:0000", Prefix: 56}},
		{"prefix too long ipv4", &Subnet{Family: FamilyIPv4, Address: "1.2.3.0", Prefix: 33}},
		{"prefix too long ipv6", &Subnet{Family: FamilyIPv6, Address: "2001:0db8:0000:0000:0000:0000:0000:0000", Prefix: 96}},
		{"unknown family", &Subnet{Family: 3, Address: "1.2.3.0", Prefix: 24}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeECSOption(tt.subnet)
			if !errors.Is(err, ErrInvalidAddress) {
				t.Errorf("EncodeECSOption error = %v, want %v", err, ErrInvalidAddress)
			}
		})
	}
}
