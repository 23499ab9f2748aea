package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"vendin/pkg/metrics"
	"vendin/pkg/tenants"
)

// Outcome distinguishes a genuinely absent tenant from an infrastructure
// failure. The router treats both as "redirect to marketing", but operators
// and tests need to tell them apart.
type Outcome int

const (
	Found Outcome = iota
	NotFound
	LookupFailed
)

// Lookup is the result of a registry query.
type Lookup struct {
	Outcome Outcome
	Tenant  tenants.Tenant
}

// Registry looks up tenant records from the control plane over its lookup
// API, with an optional read-through Redis cache. Lookup never returns an
// error: infrastructure failures are logged and normalized to LookupFailed
// so browsing degrades to a redirect instead of a 500.
type Registry struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *zap.SugaredLogger
	met     *metrics.Metrics

	cache    *redis.Client // nil disables caching
	cacheTTL time.Duration
}

func NewRegistry(baseURL, apiKey string, log *zap.SugaredLogger, met *metrics.Metrics) *Registry {
	return &Registry{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 5 * time.Second},
		log:     log,
		met:     met,
	}
}

// WithCache enables read-through caching. Staleness up to ttl is accepted;
// the cache changes latency, never observable behavior.
func (r *Registry) WithCache(client *redis.Client, ttl time.Duration) *Registry {
	r.cache = client
	r.cacheTTL = ttl
	return r
}

// FindBySubdomain resolves a tenant record by its subdomain.
func (r *Registry) FindBySubdomain(ctx context.Context, subdomain string) Lookup {
	return r.lookup(ctx, "subdomain:"+subdomain,
		r.baseURL+"/api/tenants/lookup?subdomain="+url.QueryEscape(subdomain))
}

// FindByID resolves a tenant record by id.
func (r *Registry) FindByID(ctx context.Context, id string) Lookup {
	return r.lookup(ctx, "id:"+id, r.baseURL+"/api/tenants/"+url.PathEscape(id))
}

func (r *Registry) lookup(ctx context.Context, cacheKey, endpoint string) Lookup {
	if r.baseURL == "" || r.apiKey == "" {
		r.log.Errorw("control plane configuration missing")
		return Lookup{Outcome: LookupFailed}
	}

	if t, ok := r.cached(ctx, cacheKey); ok {
		r.met.TenantCacheHits.Inc()
		return Lookup{Outcome: Found, Tenant: t}
	}
	if r.cache != nil {
		r.met.TenantCacheMiss.Inc()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		r.log.Errorw("tenant lookup request", "err", err)
		r.met.LookupFailures.Inc()
		return Lookup{Outcome: LookupFailed}
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.http.Do(req)
	if err != nil {
		r.log.Errorw("tenant lookup failed", "err", err)
		r.met.LookupFailures.Inc()
		return Lookup{Outcome: LookupFailed}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Lookup{Outcome: NotFound}
	case resp.StatusCode != http.StatusOK:
		r.log.Errorw("tenant lookup unexpected status", "status", resp.StatusCode)
		r.met.LookupFailures.Inc()
		return Lookup{Outcome: LookupFailed}
	}

	var t tenants.Tenant
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		r.log.Errorw("tenant lookup malformed payload", "err", err)
		r.met.LookupFailures.Inc()
		return Lookup{Outcome: LookupFailed}
	}
	r.store(ctx, cacheKey, t)
	return Lookup{Outcome: Found, Tenant: t}
}

func (r *Registry) cached(ctx context.Context, key string) (tenants.Tenant, bool) {
	if r.cache == nil {
		return tenants.Tenant{}, false
	}
	raw, err := r.cache.Get(ctx, r.redisKey(key)).Bytes()
	if err != nil {
		return tenants.Tenant{}, false
	}
	var t tenants.Tenant
	if err := json.Unmarshal(raw, &t); err != nil {
		return tenants.Tenant{}, false
	}
	return t, true
}

func (r *Registry) store(ctx context.Context, key string, t tenants.Tenant) {
	if r.cache == nil {
		return
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, r.redisKey(key), raw, r.cacheTTL).Err(); err != nil {
		r.log.Warnw("tenant cache write failed", "key", key, "err", err)
	}
}

func (r *Registry) redisKey(key string) string {
	return fmt.Sprintf("gw:tenant:%s", key)
}
