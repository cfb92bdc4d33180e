package http

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// IPConfig holds the proxies whose forwarding headers are believed
type IPConfig struct {
	TrustedProxies []string // CIDR ranges of trusted proxies
	prefixes       []netip.Prefix
	parsed         bool
}

// NewIPConfig parses trusted proxy CIDRs once. Invalid entries are skipped.
func NewIPConfig(trustedProxies []string) *IPConfig {
	cfg := &IPConfig{TrustedProxies: trustedProxies}
	cfg.prefixes = parsePrefixes(trustedProxies)
	cfg.parsed = true
	return cfg
}

func (c *IPConfig) trusted(addr netip.Addr) bool {
	prefixes := c.prefixes
	if !c.parsed {
		prefixes = parsePrefixes(c.TrustedProxies)
	}
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func parsePrefixes(cidrs []string) []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, cidr := range cidrs {
		p, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			continue
		}
		prefixes = append(prefixes, p.Masked())
	}
	return prefixes
}

// ExtractClientIP returns the source address the throttling counters are keyed by.
// Forwarding headers are only honoured when the direct peer is a trusted proxy, so a client
// cannot pick its own key. Addresses are returned in canonical form (IPv4-mapped IPv6
// addresses are unmapped) so one client never spreads across several keys.
//
// Flow:
// 1. If request is from trusted proxy, use the first valid X-Forwarded-For entry
// 2. If request is from trusted proxy, use X-Real-IP
// 3. Fall back to RemoteAddr
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remote := getRemoteAddr(r)

	remoteAddr, err := netip.ParseAddr(remote)
	if err != nil {
		return remote
	}
	remoteAddr = remoteAddr.Unmap()

	if config != nil && config.trusted(remoteAddr) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			for _, candidate := range strings.Split(xff, ",") {
				if addr, ok := canonicalIP(candidate); ok {
					return addr
				}
			}
		}

		if addr, ok := canonicalIP(r.Header.Get("X-Real-IP")); ok {
			return addr
		}
	}

	return remoteAddr.String()
}

// getRemoteAddr extracts the IP address from RemoteAddr (removing port if present)
func getRemoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func canonicalIP(s string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
