package scheduler

import (
	"net"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// CIDRMiddleware guards the /_sys/fetch endpoints. An empty allowlist (or one
// where no entry parses) admits loopback clients only.
//
// Proxy headers are honored only when the immediate peer falls inside
// trustedProxies; with no trusted proxies they are ignored.
func CIDRMiddleware(allowlist, trustedProxies []string) echo.MiddlewareFunc {
	allowed := parseNets(allowlist)
	trusted := parseNets(trustedProxies)
	loopbackOnly := len(allowed) == 0

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := net.ParseIP(clientIP(c.Request(), trusted))
			if ip == nil {
				return echo.NewHTTPError(http.StatusForbidden, "Invalid IP address")
			}

			switch {
			case loopbackOnly && !ip.IsLoopback():
				return echo.NewHTTPError(http.StatusForbidden, "Access denied: localhost-only")
			case !loopbackOnly && !containsIP(allowed, ip):
				return echo.NewHTTPError(http.StatusForbidden, "Access denied: IP not in allowlist")
			}

			return next(c)
		}
	}
}

// parseNets skips entries that are not valid CIDR notation.
func parseNets(cidrs []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			continue
		}
		nets = append(nets, ipNet)
	}
	return nets
}

// clientIP returns the client address. Forwarding headers are read only when
// the immediate peer is a trusted proxy: X-Forwarded-For first, then
// X-Real-IP, then the peer itself.
func clientIP(r *http.Request, trusted []*net.IPNet) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr without a port.
		peer = r.RemoteAddr
	}

	if len(trusted) == 0 {
		return peer
	}
	if peerIP := net.ParseIP(peer); peerIP == nil || !containsIP(trusted, peerIP) {
		return peer
	}

	if xff := r.Header.Get(echo.HeaderXForwardedFor); xff != "" {
		if ip := resolveXForwardedFor(xff, trusted); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get(echo.HeaderXRealIP); xri != "" {
		return strings.TrimSpace(xri)
	}
	return peer
}

// resolveXForwardedFor walks the chain right-to-left and returns the first
// address outside trusted, e.g. "203.0.113.1, 10.0.0.5" with 10.0.0.0/8
// trusted yields 203.0.113.1. A fully trusted chain yields its leftmost entry.
func resolveXForwardedFor(xff string, trusted []*net.IPNet) string {
	hops := strings.Split(xff, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		ip := net.ParseIP(hop)
		if ip != nil && !containsIP(trusted, ip) {
			return hop
		}
	}
	return strings.TrimSpace(hops[0])
}

func containsIP(nets []*net.IPNet, ip net.IP) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
