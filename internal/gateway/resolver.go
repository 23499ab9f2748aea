package gateway

import (
	"regexp"
	"strings"
)

// HostKind classifies an inbound hostname.
type HostKind int

const (
	// HostInvalid covers malformed subdomains and custom domains. Custom
	// domains are a future capability; until they ship they are rejected
	// rather than silently accepted.
	HostInvalid HostKind = iota
	// HostRoot is the apex domain; traffic belongs to the marketing site.
	HostRoot
	// HostTenant is <sub>.<root-domain>.
	HostTenant
	// HostLocalhost bypasses tenant resolution in development.
	HostLocalhost
)

var subdomainRe = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Resolution is the outcome of classifying a hostname. Subdomain is set only
// for HostTenant.
type Resolution struct {
	Kind      HostKind
	Subdomain string
}

// ResolveHost maps a hostname to its routing class. Pure and total: no
// network calls, never fails, any port suffix is ignored.
func ResolveHost(hostname, rootDomain string) Resolution {
	if i := strings.LastIndex(hostname, ":"); i > 0 && !strings.Contains(hostname, "]") {
		hostname = hostname[:i]
	}
	hostname = strings.ToLower(hostname)

	if strings.Contains(hostname, "localhost") {
		return Resolution{Kind: HostLocalhost}
	}
	if hostname == rootDomain {
		return Resolution{Kind: HostRoot}
	}
	if !strings.HasSuffix(hostname, "."+rootDomain) {
		return Resolution{Kind: HostInvalid}
	}
	sub := strings.TrimSuffix(hostname, "."+rootDomain)
	if !subdomainRe.MatchString(sub) {
		return Resolution{Kind: HostInvalid}
	}
	return Resolution{Kind: HostTenant, Subdomain: sub}
}
