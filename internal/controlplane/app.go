package controlplane

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"vendin/internal/provisioning"
	"vendin/pkg/config"
	"vendin/pkg/tenants"
)

// App is the control-plane application container.
//
// Keep it lean: shared deps and config only.
// Request-scoped work should use context.
type App struct {
	cfg   config.Config
	log   *zap.SugaredLogger
	store tenants.Store
	orch  *provisioning.Orchestrator

	// background provisioning runs detach from the request context
	runAsync func(func(ctx context.Context))
}

func New(cfg config.Config, log *zap.SugaredLogger, store tenants.Store, orch *provisioning.Orchestrator) *App {
	return &App{
		cfg:   cfg,
		log:   log,
		store: store,
		orch:  orch,
		runAsync: func(fn func(ctx context.Context)) {
			go fn(context.Background())
		},
	}
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
