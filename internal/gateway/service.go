package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"vendin/pkg/config"
	"vendin/pkg/metrics"
	"vendin/pkg/middleware"
	"vendin/pkg/netguard"
)

// AuthBroker is the credential broker surface the proxy needs.
type AuthBroker interface {
	AuthorizationHeader(ctx context.Context, targetAudience string) (string, error)
}

// Service is the storefront gateway: hostname resolution, tenant lookup,
// credential issuance, SSRF guarding, and proxying.
type Service struct {
	cfg      config.Config
	log      *zap.SugaredLogger
	registry *Registry
	broker   AuthBroker
	guard    *netguard.Guard
	met      *metrics.Metrics
	client   *http.Client
}

func NewService(cfg config.Config, log *zap.SugaredLogger, registry *Registry, broker AuthBroker, guard *netguard.Guard, met *metrics.Metrics) *Service {
	return &Service{
		cfg:      cfg,
		log:      log,
		registry: registry,
		broker:   broker,
		guard:    guard,
		met:      met,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

// Handler builds the HTTP handler with routes and middleware.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(s.log))
	r.Use(middleware.Tracing(s.cfg))
	r.Use(s.withTenant)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	// The documented proxy surface plus a catch-all: every path on an active
	// tenant host is forwarded to its backend.
	r.HandleFunc("/api/medusa/*", s.proxy)
	r.NotFound(s.proxy)

	return r
}
