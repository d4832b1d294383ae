package dns

import (
	"encoding/binary"
	"fmt"
)

// optRecordHeaderLen is root owner + TYPE + CLASS + TTL + RDLENGTH.
const optRecordHeaderLen = 11

// optLocation is where the OPT pseudo-record sits inside a message.
type optLocation struct {
	present    bool
	start      int // owner name
	rdlenOff   int // RDLENGTH field
	rdataStart int
	rdlength   int
	hasECS     bool
}

// PatchECS adds the encoded ECS option to a wire-format DNS query.
//
// A query whose OPT record already carries ECS is returned as is (the
// returned slice aliases message). Otherwise a new buffer is returned: the
// option is spliced in front of the existing OPT options, with RDLENGTH
// updated, or a new OPT record is appended and ARCOUNT incremented.
func PatchECS(message, option []byte) ([]byte, error) {
	out, _, err := patchECS(message, option)
	return out, err
}

func patchECS(message, option []byte) (out []byte, patched bool, err error) {
	if err := validateOption(option); err != nil {
		return nil, false, err
	}

	loc, err := locateOPT(message)
	if err != nil {
		return nil, false, err
	}

	switch {
	case loc.present && loc.hasECS:
		return message, false, nil
	case loc.present:
		out, err = insertIntoOPT(message, loc, option)
	default:
		out, err = appendOPT(message, option)
	}
	if err != nil {
		return nil, false, err
	}
	if len(out) > MaxMessageSize {
		return nil, false, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(out))
	}
	return out, true, nil
}

// locateOPT walks past the question, answer and authority sections and
// scans the additional section for the first OPT record.
func locateOPT(message []byte) (optLocation, error) {
	if len(message) < HeaderSize {
		return optLocation{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrMalformedMessage, len(message), HeaderSize)
	}

	qdcount := int(binary.BigEndian.Uint16(message[4:6]))
	ancount := int(binary.BigEndian.Uint16(message[6:8]))
	nscount := int(binary.BigEndian.Uint16(message[8:10]))
	arcount := int(binary.BigEndian.Uint16(message[10:12]))

	c := newCursor(message, HeaderSize)

	for i := 0; i < qdcount; i++ {
		if err := c.skipName(false); err != nil {
			return optLocation{}, err
		}
		// QTYPE, QCLASS
		if err := c.skip(4); err != nil {
			return optLocation{}, err
		}
	}

	for i := 0; i < ancount+nscount; i++ {
		if err := c.skipRecord(); err != nil {
			return optLocation{}, err
		}
	}

	for i := 0; i < arcount; i++ {
		start := c.off
		if err := c.skipName(true); err != nil {
			return optLocation{}, err
		}
		rrtype, err := c.readUint16()
		if err != nil {
			return optLocation{}, err
		}
		// CLASS, TTL
		if err := c.skip(6); err != nil {
			return optLocation{}, err
		}
		rdlenOff := c.off
		rdlength, err := c.readUint16()
		if err != nil {
			return optLocation{}, err
		}
		rdataStart := c.off
		if err := c.skip(int(rdlength)); err != nil {
			return optLocation{}, err
		}

		if rrtype != TypeOPT {
			continue
		}

		hasECS, err := hasOption(message[rdataStart:rdataStart+int(rdlength)], EDNS0OptionECS)
		if err != nil {
			return optLocation{}, err
		}
		return optLocation{
			present:    true,
			start:      start,
			rdlenOff:   rdlenOff,
			rdataStart: rdataStart,
			rdlength:   int(rdlength),
			hasECS:     hasECS,
		}, nil
	}

	return optLocation{}, nil
}

// hasOption walks an OPT RDATA option list looking for code.
func hasOption(rdata []byte, code uint16) (bool, error) {
	c := newCursor(rdata, 0)
	for c.remaining() > 0 {
		optCode, err := c.readUint16()
		if err != nil {
			return false, err
		}
		optLen, err := c.readUint16()
		if err != nil {
			return false, err
		}
		if optCode == code {
			return true, nil
		}
		if err := c.skip(int(optLen)); err != nil {
			return false, err
		}
	}
	return false, nil
}

func insertIntoOPT(message []byte, loc optLocation, option []byte) ([]byte, error) {
	rdlength := loc.rdlength + len(option)
	if rdlength > 0xFFFF {
		return nil, fmt.Errorf("%w: OPT RDLENGTH %d", ErrMalformedMessage, rdlength)
	}

	out := make([]byte, 0, len(message)+len(option))
	out = append(out, message[:loc.rdataStart]...)
	out = append(out, option...)
	out = append(out, message[loc.rdataStart:]...)
	binary.BigEndian.PutUint16(out[loc.rdlenOff:], uint16(rdlength))

	return out, nil
}

func appendOPT(message, option []byte) ([]byte, error) {
	arcount := binary.BigEndian.Uint16(message[10:12])
	if arcount == 0xFFFF {
		return nil, ErrARCountOverflow
	}

	out := make([]byte, 0, len(message)+optRecordHeaderLen+len(option))
	out = append(out, message...)
	// Root name + Type OPT(41) + UDP size(4096) + Extended RCODE/flags + RDLEN
	out = append(out,
		0x00,
		byte(TypeOPT>>8), byte(TypeOPT&0xFF),
		byte(EDNS0UDPSize>>8), byte(EDNS0UDPSize&0xFF),
		0x00, 0x00, 0x00, 0x00,
		byte(len(option)>>8), byte(len(option)),
	)
	out = append(out, option...)
	binary.BigEndian.PutUint16(out[10:12], arcount+1)

	return out, nil
}

func validateOption(option []byte) error {
	if len(option) < 4 {
		return fmt.Errorf("%w: %d bytes", ErrInvalidOption, len(option))
	}
	if int(binary.BigEndian.Uint16(option[2:4])) != len(option)-4 {
		return fmt.Errorf("%w: length field %d, payload %d", ErrInvalidOption, binary.BigEndian.Uint16(option[2:4]), len(option)-4)
	}
	return nil
}
