package dns

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	mdns "github.com/miekg/dns"
)

// TestTypeToString tests type to string conversion
func TestTypeToString(t *testing.T) {
	tests := []struct {
		typ      uint16
		expected string
	}{
		{TypeA, "A"},
		{TypeAAAA, "AAAA"},
		{TypeCNAME, "CNAME"},
		{TypeMX, "MX"},
		{TypeTXT, "TXT"},
		{TypeHTTPS, "HTTPS"},
		{TypeSVCB, "SVCB"},
		{TypeCAA, "CAA"},
		{TypeOPT, "OPT"},
		{9999, "TYPE9999"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := TypeToString(tt.typ); got != tt.expected {
				t.Errorf("TypeToString(%d) = %s, want %s", tt.typ, got, tt.expected)
			}
		})
	}
}

// TestBuildQuery tests query building against an independent parser
func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name  string
		qtype uint16
	}{
		{"example.com", TypeA},
		{"google.com.", TypeAAAA},
		{"sub.example.org", TypeHTTPS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, err := BuildQuery(tt.name, tt.qtype)
			if err != nil {
				t.Fatalf("BuildQuery failed: %v", err)
			}

			var m mdns.Msg
			if err := m.Unpack(query); err != nil {
				t.Fatalf("Unpack failed: %v", err)
			}
			if len(m.Question) != 1 {
				t.Fatalf("questions = %d, want 1", len(m.Question))
			}
			if got := m.Question[0].Name; got != mdns.Fqdn(tt.name) {
				t.Errorf("question name = %s, want %s", got, mdns.Fqdn(tt.name))
			}
			if m.Question[0].Qtype != tt.qtype {
				t.Errorf("question type = %d, want %d", m.Question[0].Qtype, tt.qtype)
			}
			if !m.RecursionDesired {
				t.Error("RD flag not set")
			}
			if m.IsEdns0() != nil {
				t.Error("plain query carries an OPT record")
			}
		})
	}
}

// TestBuildQueryWithOpts tests EDNS0 options on built queries
func TestBuildQueryWithOpts(t *testing.T) {
	query, err := BuildQueryWithOpts("example.com", TypeA, QueryOptions{DO: true, Options: [][]byte{cookieOption}})
	if err != nil {
		t.Fatalf("BuildQueryWithOpts failed: %v", err)
	}

	if arcount := binary.BigEndian.Uint16(query[10:12]); arcount != 1 {
		t.Errorf("ARCOUNT = %d, want 1", arcount)
	}

	var m mdns.Msg
	if err := m.Unpack(query); err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	opt := m.IsEdns0()
	if opt == nil {
		t.Fatal("no OPT record")
	}
	if !opt.Do() {
		t.Error("DO bit not set")
	}
	if opt.UDPSize() != EDNS0UDPSize {
		t.Errorf("UDP size = %d, want %d", opt.UDPSize(), EDNS0UDPSize)
	}
	if len(opt.Option) != 1 || opt.Option[0].Option() != EDNS0OptionCookie {
		t.Errorf("options = %v, want one cookie", opt.Option)
	}

	empty, err := BuildQueryWithOpts("example.com", TypeA, QueryOptions{EDNS: true})
	if err != nil {
		t.Fatalf("BuildQueryWithOpts failed: %v", err)
	}
	if rdlen := binary.BigEndian.Uint16(empty[len(empty)-2:]); rdlen != 0 {
		t.Errorf("empty OPT RDLENGTH = %d, want 0", rdlen)
	}
}

// TestBuildQueryLabelTooLong tests query building with oversized label
func TestBuildQueryLabelTooLong(t *testing.T) {
	_, err := BuildQuery(strings.Repeat("a", 64)+".com", TypeA)
	if err == nil {
		t.Error("BuildQuery should fail with label > 63 characters")
	}

	_, err = BuildQuery("a..com", TypeA)
	if err == nil {
		t.Error("BuildQuery should fail with an empty label")
	}
}

// TestBuildQueryRoot tests a query for the root name
func TestBuildQueryRoot(t *testing.T) {
	query, err := BuildQuery("", TypeSOA)
	if err != nil {
		t.Fatalf("BuildQuery failed: %v", err)
	}

	q, err := ParseQuestion(query)
	if err != nil {
		t.Fatalf("ParseQuestion failed: %v", err)
	}
	if q.Name != "." || q.Type != TypeSOA {
		t.Errorf("ParseQuestion = %+v, want . SOA", q)
	}
	if len(query) != HeaderSize+5 {
		t.Errorf("len = %d, want %d", len(query), HeaderSize+5)
	}
}

// TestParseQuestion tests question extraction from built and compressed messages
func TestParseQuestion(t *testing.T) {
	for _, want := range []uint16{TypeA, TypeAAAA, TypeMX, TypeTXT, TypeHTTPS} {
		t.Run(TypeToString(want), func(t *testing.T) {
			query, err := BuildQuery("example.com", want)
			if err != nil {
				t.Fatalf("BuildQuery failed: %v", err)
			}

			q, err := ParseQuestion(query)
			if err != nil {
				t.Fatalf("ParseQuestion failed: %v", err)
			}
			if q.Name != "example.com." || q.Type != want {
				t.Errorf("ParseQuestion = %+v, want example.com. %d", q, want)
			}
		})
	}

	t.Run("compressed response", func(t *testing.T) {
		m := new(mdns.Msg)
		m.SetQuestion("www.example.com.", mdns.TypeAAAA)
		m.Response = true
		m.Answer = []mdns.RR{&mdns.CNAME{
			Hdr:    mdns.RR_Header{Name: "www.example.com.", Rrtype: mdns.TypeCNAME, Class: mdns.ClassINET, Ttl: 60},
			Target: "cdn.example.com.",
		}}
		m.Compress = true
		resp, err := m.Pack()
		if err != nil {
			t.Fatalf("Pack failed: %v", err)
		}

		q, err := ParseQuestion(resp)
		if err != nil {
			t.Fatalf("ParseQuestion failed: %v", err)
		}
		if q.Name != "www.example.com." || q.Type != TypeAAAA {
			t.Errorf("ParseQuestion = %+v, want www.example.com. AAAA", q)
		}
	})
}

// TestParseQuestionErrors tests extraction from unusable messages
func TestParseQuestionErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte{0x00, 0x01, 0x00}},
		{"no questions", make([]byte, HeaderSize)},
		{"truncated label", []byte{0, 1, 1, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0x05, 'a', 'b'}},
		{"missing type", []byte{0, 1, 1, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0x01, 'a', 0x00, 0x00}},
		{"pointer loop", []byte{0, 1, 1, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0xC0, 0x0C, 0x00, 0x01, 0x00, 0x01}},
		{"extended label", []byte{0, 1, 1, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0x41, 0x00, 0x00, 0x01, 0x00, 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseQuestion(tt.data)
			if !errors.Is(err, ErrMalformedMessage) {
				t.Errorf("ParseQuestion error = %v, want ErrMalformedMessage", err)
			}
		})
	}
}

// TestReadName tests domain name decoding with compression
func TestReadName(t *testing.T) {
	// "example.com." at 0, "www" + pointer to 0 at 13, pointer to 13 at 19
	data := []byte{
		7, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 3, 'c', 'o', 'm', 0,
		3, 'w', 'w', 'w', 0xC0, 0x00,
		0xC0, 0x0D,
	}

	tests := []struct {
		offset     int
		wantName   string
		wantOffset int
	}{
		{0, "example.com.", 13},
		{13, "www.example.com.", 19},
		{19, "www.example.com.", 21},
	}

	for _, tt := range tests {
		c := newCursor(data, tt.offset)
		name, err := c.readName()
		if err != nil {
			t.Errorf("readName(%d) failed: %v", tt.offset, err)
			continue
		}
		if name != tt.wantName || c.off != tt.wantOffset {
			t.Errorf("readName(%d) = %s, %d, want %s, %d", tt.offset, name, c.off, tt.wantName, tt.wantOffset)
		}
	}

	// two pointers referring to each other
	loop := []byte{0xC0, 0x02, 0xC0, 0x00}
	if _, err := newCursor(loop, 0).readName(); !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("readName on a pointer loop = %v, want ErrMalformedMessage", err)
	}
}
