package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// hop-by-hop headers stripped before forwarding. Content-Length is dropped so
// the transport recalculates it for the rewritten body.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Content-Length",
}

// proxy forwards the inbound request to the tenant backend. The outbound
// call inherits the inbound context so a client disconnect cancels it rather
// than leaking the upstream fetch.
func (s *Service) proxy(w http.ResponseWriter, r *http.Request) {
	backend := s.backendURL(r)
	if backend == "" {
		s.met.RoutingDecisions.WithLabelValues("error").Inc()
		writeJSONError(w, "Backend URL not found for this tenant.", http.StatusInternalServerError)
		return
	}

	target, err := url.Parse(backend)
	if err != nil {
		s.met.RoutingDecisions.WithLabelValues("error").Inc()
		writeJSONError(w, "Backend URL not found for this tenant.", http.StatusInternalServerError)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/medusa")
	targetURL := backend + path
	if r.URL.RawQuery != "" {
		targetURL += "?" + r.URL.RawQuery
	}

	// Only the gateway can mint these tokens; a missing credential must
	// abort the request, never fall through to unauthenticated access.
	authHeader, err := s.broker.AuthorizationHeader(r.Context(), backend)
	if err != nil {
		s.log.Errorw("identity token issuance failed", "backend", backend, "err", err)
		s.met.RoutingDecisions.WithLabelValues("error").Inc()
		writeJSONError(w, "Internal Server Error during proxying", http.StatusInternalServerError)
		return
	}

	if err := s.guard.AssertSafe(r.Context(), targetURL, target.Hostname()); err != nil {
		s.met.RoutingDecisions.WithLabelValues("blocked").Inc()
		writeJSONError(w, "Internal Server Error during proxying", http.StatusInternalServerError)
		return
	}

	var body io.Reader
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		body = r.Body
	}
	out, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL, body)
	if err != nil {
		s.met.RoutingDecisions.WithLabelValues("error").Inc()
		writeJSONError(w, "Internal Server Error during proxying", http.StatusInternalServerError)
		return
	}

	out.Header = r.Header.Clone()
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	out.Header.Del("x-medusa-backend-url")
	out.Header.Set("Authorization", authHeader)
	out.Host = target.Host

	start := time.Now()
	resp, err := s.client.Do(out)
	if err != nil {
		s.log.Errorw("proxy error", "target", targetURL, "method", r.Method, "err", err)
		s.met.RoutingDecisions.WithLabelValues("error").Inc()
		writeJSONError(w, "Internal Server Error during proxying", http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()
	s.met.ProxyDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	s.met.RoutingDecisions.WithLabelValues("proxied").Inc()

	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func writeJSONError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
