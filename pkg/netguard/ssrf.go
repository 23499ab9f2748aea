// Package netguard validates outbound targets before the proxy dials them.
//
// Everything here fails closed: an unparseable URL, an unresolvable host, or
// an empty resolution set is treated exactly like a private address.
package netguard

import (
	"context"
	"fmt"
	"net"
	"net/url"

	"go.uber.org/zap"
)

// Error is returned for every blocked target. ResolvedIPs is populated when
// DNS resolution happened so the operator can see what tripped the guard.
type Error struct {
	Hostname    string
	ResolvedIPs []net.IP
	Reason      string
}

func (e *Error) Error() string {
	return fmt.Sprintf("request blocked (ssrf protection): %s: %s", e.Reason, e.Hostname)
}

// Resolver is the subset of net.Resolver the guard needs; injectable for tests.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

// Guard classifies outbound URLs.
type Guard struct {
	resolver Resolver
	log      *zap.SugaredLogger
}

func New(log *zap.SugaredLogger) *Guard {
	return &Guard{resolver: net.DefaultResolver, log: log}
}

// NewWithResolver is used by tests to avoid real DNS.
func NewWithResolver(r Resolver, log *zap.SugaredLogger) *Guard {
	return &Guard{resolver: r, log: log}
}

// AssertSafe verifies that rawURL's host matches expectedHost and that every
// address it resolves to is publicly routable.
func (g *Guard) AssertSafe(ctx context.Context, rawURL, expectedHost string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return &Error{Hostname: rawURL, Reason: "unparseable url"}
	}
	host := u.Hostname()
	if expectedHost != "" && host != expectedHost {
		g.log.Errorw("blocked request to unexpected hostname", "hostname", host, "expected", expectedHost)
		return &Error{Hostname: host, Reason: "hostname mismatch"}
	}

	// Literal IPs are classified directly, no DNS involved.
	if ip := net.ParseIP(host); ip != nil {
		if isPrivate(ip) {
			g.log.Errorw("blocked request to private address", "url", rawURL, "ip", ip.String())
			return &Error{Hostname: host, ResolvedIPs: []net.IP{ip}, Reason: "private address"}
		}
		return nil
	}

	ips, err := g.resolver.LookupIP(ctx, "ip", host)
	if err != nil || len(ips) == 0 {
		g.log.Errorw("blocked request to unresolvable hostname", "url", rawURL, "err", err)
		return &Error{Hostname: host, Reason: "unresolvable hostname"}
	}
	for _, ip := range ips {
		if isPrivate(ip) {
			g.log.Errorw("blocked request to private address", "url", rawURL, "resolved", ipStrings(ips))
			return &Error{Hostname: host, ResolvedIPs: ips, Reason: "private address"}
		}
	}
	return nil
}

// isPrivate reports whether ip falls in a loopback, RFC1918, link-local
// (including the 169.254.169.254 cloud metadata address), unspecified, or
// IPv6 unique-local/link-local range.
func isPrivate(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		switch {
		case v4[0] == 0:
			return true
		case v4[0] == 10:
			return true
		case v4[0] == 172 && v4[1] >= 16 && v4[1] <= 31:
			return true
		case v4[0] == 192 && v4[1] == 168:
			return true
		case v4[0] == 169 && v4[1] == 254:
			return true
		}
		return false
	}
	// fc00::/7 covers fd00::/8 as well.
	return len(ip) == net.IPv6len && ip[0]&0xfe == 0xfc
}

func ipStrings(ips []net.IP) []string {
	out := make([]string, len(ips))
	for i, ip := range ips {
		out[i] = ip.String()
	}
	return out
}
