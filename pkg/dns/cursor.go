package dns

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// maxPointerJumps bounds compression pointer chains. Real messages need a
// handful at most; anything longer is treated as a loop.
const maxPointerJumps = 16

// cursor walks a DNS message. Every advance is bounds checked so that
// attacker supplied counts and lengths can never index past the buffer.
type cursor struct {
	buf []byte
	off int
}

func newCursor(buf []byte, off int) *cursor {
	return &cursor{buf: buf, off: off}
}

func (c *cursor) remaining() int {
	return len(c.buf) - c.off
}

func (c *cursor) skip(n int) error {
	if n < 0 || n > c.remaining() {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformedMessage, n, c.off, c.remaining())
	}
	c.off += n
	return nil
}

func (c *cursor) readByte() (byte, error) {
	if c.remaining() < 1 {
		return 0, fmt.Errorf("%w: unexpected end of message at offset %d", ErrMalformedMessage, c.off)
	}
	b := c.buf[c.off]
	c.off++
	return b, nil
}

func (c *cursor) readUint16() (uint16, error) {
	if c.remaining() < 2 {
		return 0, fmt.Errorf("%w: need 2 bytes at offset %d, have %d", ErrMalformedMessage, c.off, c.remaining())
	}
	v := binary.BigEndian.Uint16(c.buf[c.off : c.off+2])
	c.off += 2
	return v, nil
}

// skipName advances past an encoded domain name. A compression pointer ends
// the name and is only accepted when allowPointer is set.
func (c *cursor) skipName(allowPointer bool) error {
	for {
		start := c.off
		b, err := c.readByte()
		if err != nil {
			return err
		}

		switch {
		case b == 0:
			return nil
		case b&0xC0 == 0xC0:
			if !allowPointer {
				return fmt.Errorf("%w: compression pointer at offset %d", ErrMalformedMessage, start)
			}
			return c.skip(1)
		case b&0xC0 != 0:
			return fmt.Errorf("%w: unsupported label type 0x%02x at offset %d", ErrMalformedMessage, b, start)
		}

		if err := c.skip(int(b)); err != nil {
			return err
		}
	}
}

// skipRecord advances past a whole resource record.
func (c *cursor) skipRecord() error {
	if err := c.skipName(true); err != nil {
		return err
	}
	// TYPE, CLASS, TTL
	if err := c.skip(8); err != nil {
		return err
	}
	rdlength, err := c.readUint16()
	if err != nil {
		return err
	}
	return c.skip(int(rdlength))
}

// readName decodes a domain name into dotted form, following compression
// pointers. The cursor ends after the name as stored at its start offset,
// not after the pointer target.
func (c *cursor) readName() (string, error) {
	var sb strings.Builder
	pos := c.off
	jumps := 0

	for {
		if pos >= len(c.buf) {
			return "", fmt.Errorf("%w: name runs past end of message", ErrMalformedMessage)
		}

		b := c.buf[pos]
		switch {
		case b == 0:
			if jumps == 0 {
				c.off = pos + 1
			}
			if sb.Len() == 0 {
				return ".", nil
			}
			return sb.String(), nil
		case b&0xC0 == 0xC0:
			if pos+1 >= len(c.buf) {
				return "", fmt.Errorf("%w: truncated pointer at offset %d", ErrMalformedMessage, pos)
			}
			if jumps == 0 {
				c.off = pos + 2
			}
			if jumps++; jumps > maxPointerJumps {
				return "", fmt.Errorf("%w: pointer loop at offset %d", ErrMalformedMessage, pos)
			}
			pos = int(binary.BigEndian.Uint16(c.buf[pos:]) & 0x3FFF)
			continue
		case b&0xC0 != 0:
			return "", fmt.Errorf("%w: unsupported label type 0x%02x at offset %d", ErrMalformedMessage, b, pos)
		}

		end := pos + 1 + int(b)
		if end > len(c.buf) {
			return "", fmt.Errorf("%w: label at offset %d runs past end of message", ErrMalformedMessage, pos)
		}
		sb.Write(c.buf[pos+1 : end])
		sb.WriteByte('.')
		pos = end
	}
}
