package gateway

import (
	"fmt"
	"net/http"

	"vendin/pkg/tenants"
)

// renderPlaceholder serves the terminal page for tenants that exist but are
// not reachable. No request is made to the backend from here.
func (s *Service) renderPlaceholder(w http.ResponseWriter, t tenants.Tenant) {
	var title, body string
	status := http.StatusServiceUnavailable
	switch t.Status {
	case tenants.StatusSuspended:
		title = "Store suspended"
		body = "This store is temporarily unavailable. If you are the owner, check your account status."
	case tenants.StatusProvisioning:
		title = "Store being prepared"
		body = "This store is being set up and will be available shortly."
	case tenants.StatusProvisioningFailed:
		title = "Store unavailable"
		body = "This store could not be set up. The owner has been notified."
	default:
		title = "Store unavailable"
		body = "This store is not available."
		status = http.StatusNotFound
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<!doctype html><html><head><title>%s</title></head><body><h1>%s</h1><p>%s</p></body></html>`, title, title, body)
}
