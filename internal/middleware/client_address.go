package middleware

import (
	"net"
	"net/netip"
	"strings"

	"github.com/gin-gonic/gin"
)

const clientAddressKey = "client_address"

// ClientAddressMiddleware records the end-client address announced by the
// edge proxy in header. The header is only honoured when the connecting peer
// is one of trustedProxies (IPs or CIDRs); an empty list trusts every peer.
// With fallback set, the peer address itself is used when the header is
// missing or untrusted.
func ClientAddressMiddleware(trustedProxies []string, header string, fallback bool) gin.HandlerFunc {
	trusted := parsePrefixes(trustedProxies)

	return func(c *gin.Context) {
		peer := remoteHost(c.Request.RemoteAddr)

		addr := ""
		if isTrusted(trusted, peer) {
			addr = firstAddress(c.GetHeader(header))
		}
		if addr == "" && fallback {
			addr = peer
		}

		if addr != "" {
			c.Set(clientAddressKey, addr)
		}
		c.Next()
	}
}

// GetClientAddress returns the client address recorded by
// ClientAddressMiddleware, or "" when none is known.
func GetClientAddress(c *gin.Context) string {
	return c.GetString(clientAddressKey)
}

func parsePrefixes(entries []string) []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if strings.Contains(e, "/") {
			if p, err := netip.ParsePrefix(e); err == nil {
				prefixes = append(prefixes, p.Masked())
			}
			continue
		}
		if a, err := netip.ParseAddr(e); err == nil {
			prefixes = append(prefixes, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return prefixes
}

func isTrusted(trusted []netip.Prefix, peer string) bool {
	if len(trusted) == 0 {
		return true
	}
	a, err := netip.ParseAddr(peer)
	if err != nil {
		return false
	}
	a = a.Unmap()
	for _, p := range trusted {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// remoteHost strips the port from an http.Request RemoteAddr
func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// firstAddress returns the first entry of a possibly comma-separated list
func firstAddress(value string) string {
	first, _, _ := strings.Cut(value, ",")
	return strings.TrimSpace(first)
}
