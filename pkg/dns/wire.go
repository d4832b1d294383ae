// Package dns implements the EDNS Client Subnet injection engine: subnet
// derivation, ECS option encoding, wire-format patching and the base64url
// codec used by DoH GET requests. It also extracts query details for logging.
package dns

import (
	"encoding/binary"
	"fmt"
	"strings"

	mdns "github.com/miekg/dns"
)

// DNS message constants
const (
	HeaderSize     = 12
	MaxMessageSize = 65535

	// DNS record types
	TypeA     = 1
	TypeNS    = 2
	TypeCNAME = 5
	TypeSOA   = 6
	TypePTR   = 12
	TypeMX    = 15
	TypeTXT   = 16
	TypeAAAA  = 28
	TypeSRV   = 33
	TypeOPT   = 41 // EDNS0 OPT record
	TypeSVCB  = 64 // SVCB record (RFC 9460)
	TypeHTTPS = 65 // HTTPS SVCB record (RFC 9460)
	TypeCAA   = 257

	// EDNS0 option codes
	EDNS0OptionECS    = 8  // EDNS Client Subnet (RFC 7871)
	EDNS0OptionCookie = 10 // DNS Cookie (RFC 7873)

	// EDNS0 constants
	EDNS0UDPSize = 4096
)

// TypeToString returns the mnemonic for t, or TYPEn for types without one.
func TypeToString(t uint16) string {
	return mdns.Type(t).String()
}

// Question is the first entry of a message's question section.
type Question struct {
	Name string
	Type uint16
}

// ParseQuestion reads the first question of msg. Compressed names are
// followed, so it also works on upstream responses.
func ParseQuestion(msg []byte) (Question, error) {
	if len(msg) < HeaderSize {
		return Question{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrMalformedMessage, len(msg), HeaderSize)
	}
	if binary.BigEndian.Uint16(msg[4:6]) == 0 {
		return Question{}, fmt.Errorf("%w: empty question section", ErrMalformedMessage)
	}

	c := newCursor(msg, HeaderSize)
	name, err := c.readName()
	if err != nil {
		return Question{}, err
	}
	qtype, err := c.readUint16()
	if err != nil {
		return Question{}, err
	}
	return Question{Name: name, Type: qtype}, nil
}

// QueryOptions DNS query options
type QueryOptions struct {
	DO      bool     // Include DNSSEC records (DNSSEC OK)
	EDNS    bool     // Add an OPT record even without options
	Options [][]byte // Encoded EDNS0 options (code + length + data)
}

// BuildQuery builds a DNS query message
func BuildQuery(name string, qtype uint16) ([]byte, error) {
	return BuildQueryWithOpts(name, qtype, QueryOptions{})
}

// BuildQueryWithOpts builds a DNS query message with QueryOptions
func BuildQueryWithOpts(name string, qtype uint16, opts QueryOptions) ([]byte, error) {
	var labels []string
	if trimmed := strings.TrimSuffix(name, "."); trimmed != "" {
		labels = strings.Split(trimmed, ".")
	}
	for _, label := range labels {
		if len(label) == 0 || len(label) > 63 {
			return nil, fmt.Errorf("invalid label %q", label)
		}
	}

	needEDNS := opts.EDNS || opts.DO || len(opts.Options) > 0
	rdataLen := 0
	for _, o := range opts.Options {
		rdataLen += len(o)
	}

	buf := make([]byte, 0, HeaderSize+len(name)+6+optRecordHeaderLen+rdataLen)

	// Header: ID, flags (RD), QDCOUNT=1, ANCOUNT=0, NSCOUNT=0
	buf = append(buf, 0x00, 0x01, 0x01, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00)

	// ARCOUNT
	if needEDNS {
		buf = append(buf, 0x00, 0x01)
	} else {
		buf = append(buf, 0x00, 0x00)
	}

	// Question
	for _, label := range labels {
		buf = append(buf, byte(len(label)))
		buf = append(buf, label...)
	}
	buf = append(buf, 0x00, byte(qtype>>8), byte(qtype), 0x00, 0x01)

	if !needEDNS {
		return buf, nil
	}

	// OPT record: name(root) + type + udp_size
	buf = append(buf, 0x00, byte(TypeOPT>>8), byte(TypeOPT&0xFF), byte(EDNS0UDPSize>>8), byte(EDNS0UDPSize&0xFF))
	// Extended RCODE and flags (DO flag in high bit)
	if opts.DO {
		buf = append(buf, 0x00, 0x00, 0x80, 0x00)
	} else {
		buf = append(buf, 0x00, 0x00, 0x00, 0x00)
	}
	buf = append(buf, byte(rdataLen>>8), byte(rdataLen))
	for _, o := range opts.Options {
		buf = append(buf, o...)
	}

	return buf, nil
}
