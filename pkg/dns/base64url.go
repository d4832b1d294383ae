package dns

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// EncodeBase64URL encodes data with the URL-safe alphabet and no padding,
// as used by the "dns" parameter of RFC 8484 GET requests.
func EncodeBase64URL(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeBase64URL decodes a URL-safe base64 string. Trailing "=" padding is
// tolerated; any other character outside the URL-safe alphabet is rejected.
func DecodeBase64URL(s string) ([]byte, error) {
	trimmed := strings.TrimRight(s, "=")
	if pad := len(s) - len(trimmed); pad > 0 && (pad > 2 || len(s)%4 != 0) {
		return nil, fmt.Errorf("%w: bad padding", ErrInvalidEncoding)
	}

	for i := 0; i < len(trimmed); i++ {
		if !isBase64URLChar(trimmed[i]) {
			return nil, fmt.Errorf("%w: character %q at offset %d", ErrInvalidEncoding, trimmed[i], i)
		}
	}

	data, err := base64.RawURLEncoding.Strict().DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	return data, nil
}

func isBase64URLChar(c byte) bool {
	return 'A' <= c && c <= 'Z' ||
		'a' <= c && c <= 'z' ||
		'0' <= c && c <= '9' ||
		c == '-' || c == '_'
}
