// pkg/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	ControlAddr string // control-plane
	GatewayAddr string // gateway

	// Multi-tenant routing
	RootDomain   string // apex domain tenants hang off (sub.vendin.store)
	MarketingURL string // where non-tenant traffic is redirected

	// Control-plane lookup API (consumed by the gateway)
	ControlPlaneAPIURL string
	ControlPlaneAPIKey string

	// Gateway tenant cache
	EnableTenantCache bool
	TenantCacheTTL    time.Duration

	// Fallback backend for local development / single-tenant setups
	MedusaBackendURL string

	// Provisioning platform
	GCPProjectID         string
	GCPRegion            string
	TenantServiceAccount string
	TenantImageTag       string
	RunAPIBaseURL        string

	// Database provider (optional; tenant databases created on demand)
	NeonAPIKey     string
	NeonProjectID  string
	NeonAPIBaseURL string

	// Service-account credential material (JSON blob, file path, or split parts)
	GoogleCredentials string

	// Plan catalog (resource ceilings per plan)
	PlanCatalogPath string

	// Redis & Postgres
	RedisURL    string
	DatabaseURL string
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:                  env("VENDIN_ENV", "dev"),
		ControlAddr:          env("VENDIN_CONTROL_ADDR", ":8080"),
		GatewayAddr:          env("VENDIN_GATEWAY_ADDR", ":8081"),
		RootDomain:           env("ROOT_DOMAIN", "vendin.store"),
		MarketingURL:         env("MARKETING_URL", "https://vendin.store"),
		ControlPlaneAPIURL:   env("CONTROL_PLANE_API_URL", ""),
		ControlPlaneAPIKey:   env("CONTROL_PLANE_API_KEY", ""),
		EnableTenantCache:    envBool("ENABLE_TENANT_CACHE", false),
		TenantCacheTTL:       envDur("TENANT_CACHE_TTL", 300) * time.Second,
		MedusaBackendURL:     env("MEDUSA_BACKEND_URL", ""),
		GCPProjectID:         env("GCP_PROJECT_ID", ""),
		GCPRegion:            env("GCP_REGION", ""),
		TenantServiceAccount: env("GCP_TENANT_SERVICE_ACCOUNT", ""),
		TenantImageTag:       env("TENANT_IMAGE_TAG", ""),
		RunAPIBaseURL:        env("RUN_API_BASE_URL", "https://run.googleapis.com"),
		NeonAPIKey:           env("NEON_API_KEY", ""),
		NeonProjectID:        env("NEON_PROJECT_ID", ""),
		NeonAPIBaseURL:       env("NEON_API_BASE_URL", "https://console.neon.tech"),
		GoogleCredentials:    googleCredentials(),
		PlanCatalogPath:      env("PLAN_CATALOG_PATH", ""),
		RedisURL:             env("REDIS_URL", ""),
		DatabaseURL:          env("DATABASE_URL", ""),
	}
	if cfg.DatabaseURL == "" {
		log.Println("[WARN] DATABASE_URL not set — using in-memory tenant store for dev")
	}
	return cfg
}

// googleCredentials returns the service-account material. Some secret stores
// cap value sizes below a typical key JSON, so the blob may arrive split
// across three variables that concatenate in order.
func googleCredentials() string {
	if v := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" {
		return v
	}
	p1 := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_PART_1")
	p2 := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_PART_2")
	p3 := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_PART_3")
	if p1 != "" && p2 != "" && p3 != "" {
		return p1 + p2 + p3
	}
	return ""
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		b, _ := strconv.ParseBool(v)
		return b
	}
	return def
}
func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		i, _ := strconv.Atoi(v)
		return time.Duration(i)
	}
	return time.Duration(def)
}
