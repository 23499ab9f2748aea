// cmd/control-plane/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vendin/internal/controlplane"
	"vendin/internal/provisioning"
	"vendin/pkg/config"
	"vendin/pkg/credentials"
	"vendin/pkg/db"
	"vendin/pkg/logger"
	"vendin/pkg/metrics"
	"vendin/pkg/tenants"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)

	var pool = db.MustConnect(cfg, log)

	var store tenants.Store
	if pool != nil {
		store = tenants.NewPostgresStore(pool, log)
		if err := tenants.EnsureSchema(context.Background(), pool); err != nil {
			log.Fatalw("schema", "err", err)
		}
	} else {
		store = tenants.NewMemoryStore(log)
	}

	plans, err := provisioning.LoadCatalog(cfg.PlanCatalogPath)
	if err != nil {
		log.Fatalw("plan catalog", "err", err)
	}

	var compute provisioning.Provisioner
	if cfg.GCPProjectID != "" && cfg.GCPRegion != "" && cfg.TenantImageTag != "" {
		sa, err := credentials.ParseServiceAccount(cfg.GoogleCredentials)
		if err != nil {
			log.Fatalw("service account credentials", "err", err)
		}
		tokens, err := credentials.NewAccessTokenSource(sa, nil)
		if err != nil {
			log.Fatalw("access token source", "err", err)
		}
		compute = provisioning.NewCloudRun(cfg.RunAPIBaseURL, cfg.GCPProjectID, cfg.GCPRegion,
			cfg.TenantServiceAccount, cfg.TenantImageTag, cfg.RootDomain, plans, tokens, log)
	} else {
		log.Warnw("provisioning platform not configured; tenant deployment disabled")
		compute = provisioning.Unconfigured{}
	}

	var dbProv provisioning.DatabaseProvider
	if cfg.NeonAPIKey != "" && cfg.NeonProjectID != "" {
		dbProv = provisioning.NewNeon(cfg.NeonAPIBaseURL, cfg.NeonAPIKey, cfg.NeonProjectID, log)
	} else {
		log.Warnw("database provider not configured; tenants must carry a database url")
	}

	met := metrics.New("controlplane")
	orch := provisioning.NewOrchestrator(store, compute, dbProv, log, met)
	app := controlplane.New(cfg, log, store, orch)

	srv := &http.Server{Addr: cfg.ControlAddr, Handler: app.Handler()}
	go func() {
		log.Infow("control-plane listening", "addr", cfg.ControlAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	fmt.Println("control-plane stopped")
}
