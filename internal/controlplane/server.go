package controlplane

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vendin/pkg/middleware"
)

// Handler builds the HTTP handler with routes and middleware.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(a.log))
	r.Use(middleware.Tracing(a.cfg))
	r.Use(middleware.APIKeyAuth(a.cfg.ControlPlaneAPIKey))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/tenants", func(tr chi.Router) {
		tr.Get("/", a.listTenants)
		tr.Post("/", a.createTenant)
		tr.Get("/lookup", a.lookupTenant)
		tr.Get("/{id}", a.getTenant)
		tr.Patch("/{id}", a.updateTenant)
		tr.Delete("/{id}", a.deleteTenant)
		tr.Post("/{id}/suspend", a.suspendTenant)
		tr.Post("/{id}/resume", a.resumeTenant)
	})

	return r
}
