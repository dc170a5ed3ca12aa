package attribution

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ResolveClientIP returns the visitor's address. The first IPv6 entry of
// X-Forwarded-For wins, then its first entry, then the socket address
// without its port.
func ResolveClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		var first string
		for _, raw := range strings.Split(xff, ",") {
			addr, ok := parseAddr(raw)
			if !ok {
				continue
			}
			if first == "" {
				first = addr.String()
			}
			if addr.Is6() {
				return addr.String()
			}
		}
		if first != "" {
			return first
		}
	}
	return StripPort(r.RemoteAddr)
}

// StripPort removes a trailing :port (and IPv6 brackets) from a socket address.
func StripPort(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.Trim(addr, "[]")
}

// IsPublicIP reports whether ip parses and is routable on the internet.
func IsPublicIP(ip string) bool {
	addr, ok := parseAddr(ip)
	if !ok {
		return false
	}
	return !(addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsUnspecified())
}

func parseAddr(raw string) (netip.Addr, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return netip.Addr{}, false
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().Unmap(), true
	}
	addr, err := netip.ParseAddr(strings.Trim(s, "[]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
