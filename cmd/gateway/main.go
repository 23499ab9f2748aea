package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vendin/internal/gateway"
	"vendin/pkg/config"
	"vendin/pkg/credentials"
	"vendin/pkg/db"
	"vendin/pkg/logger"
	"vendin/pkg/metrics"
	"vendin/pkg/netguard"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	defer log.Sync()

	met := metrics.New("gateway")

	registry := gateway.NewRegistry(cfg.ControlPlaneAPIURL, cfg.ControlPlaneAPIKey, log, met)
	if cfg.EnableTenantCache {
		if rdb := db.MustRedis(cfg, log); rdb != nil {
			registry = registry.WithCache(rdb, cfg.TenantCacheTTL)
		} else {
			log.Warnw("tenant cache enabled but no redis url; running uncached")
		}
	}

	broker := credentials.NewBroker(cfg.GoogleCredentials, log)
	guard := netguard.New(log)

	svc := gateway.NewService(cfg, log, registry, broker, guard, met)

	srv := &http.Server{Addr: cfg.GatewayAddr, Handler: svc.Handler()}
	go func() {
		log.Infow("gateway listening", "addr", cfg.GatewayAddr, "rootDomain", cfg.RootDomain)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("serve", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	fmt.Println("gateway stopped")
}
