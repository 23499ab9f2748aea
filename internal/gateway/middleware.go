package gateway

import (
	"context"
	"net/http"
	"strings"

	"vendin/pkg/tenants"
)

type ctxTenantKey struct{}

// TenantFrom returns the active tenant resolved for this request, if any.
func TenantFrom(ctx context.Context) (tenants.Tenant, bool) {
	if v := ctx.Value(ctxTenantKey{}); v != nil {
		return v.(tenants.Tenant), true
	}
	return tenants.Tenant{}, false
}

// withTenant routes by hostname before any handler runs:
//
//	root/www/unknown  → redirect to the marketing origin
//	non-active tenant → placeholder page, backend never contacted
//	active tenant     → tenant injected into context, request continues
//
// Lookup failures deliberately collapse into the redirect branch — a control
// plane outage must degrade to marketing, not surface internals.
func (s *Service) withTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz", "/metrics":
			next.ServeHTTP(w, r)
			return
		}

		res := ResolveHost(r.Host, s.cfg.RootDomain)
		switch res.Kind {
		case HostLocalhost:
			// Development bypass: no tenant record, fallback backend applies.
			next.ServeHTTP(w, r)
			return
		case HostRoot:
			s.met.RoutingDecisions.WithLabelValues("redirect").Inc()
			http.Redirect(w, r, s.cfg.MarketingURL, http.StatusTemporaryRedirect)
			return
		case HostInvalid:
			s.met.RoutingDecisions.WithLabelValues("redirect").Inc()
			http.Redirect(w, r, s.cfg.MarketingURL, http.StatusTemporaryRedirect)
			return
		}

		if res.Subdomain == "www" {
			s.met.RoutingDecisions.WithLabelValues("redirect").Inc()
			http.Redirect(w, r, "https://"+s.cfg.RootDomain+r.URL.RequestURI(), http.StatusMovedPermanently)
			return
		}

		lk := s.registry.FindBySubdomain(r.Context(), res.Subdomain)
		if lk.Outcome != Found {
			// NotFound and LookupFailed look identical to the browser; tenant
			// existence is not leaked.
			s.met.RoutingDecisions.WithLabelValues("redirect").Inc()
			http.Redirect(w, r, s.cfg.MarketingURL, http.StatusTemporaryRedirect)
			return
		}

		if lk.Tenant.Status != tenants.StatusActive {
			s.met.RoutingDecisions.WithLabelValues("placeholder").Inc()
			s.renderPlaceholder(w, lk.Tenant)
			return
		}

		ctx := context.WithValue(r.Context(), ctxTenantKey{}, lk.Tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// backendURL picks the target for a proxied request: the resolved tenant's
// apiUrl, the upstream-set header, or the environment fallback.
func (s *Service) backendURL(r *http.Request) string {
	if t, ok := TenantFrom(r.Context()); ok && t.APIURL != nil && *t.APIURL != "" {
		return strings.TrimRight(*t.APIURL, "/")
	}
	if h := r.Header.Get("x-medusa-backend-url"); h != "" {
		return strings.TrimRight(h, "/")
	}
	if s.cfg.MedusaBackendURL != "" {
		return strings.TrimRight(s.cfg.MedusaBackendURL, "/")
	}
	return ""
}
