package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics shared by the services.
type Metrics struct {
	// Gateway
	RoutingDecisions *prometheus.CounterVec // decision: proxied|redirect|placeholder|blocked|error
	ProxyDuration    *prometheus.HistogramVec
	TenantCacheHits  prometheus.Counter
	TenantCacheMiss  prometheus.Counter
	LookupFailures   prometheus.Counter

	// Control plane
	ProvisionsTotal *prometheus.CounterVec // outcome: active|failed
	RollbacksTotal  *prometheus.CounterVec // outcome: ok|failed
}

// New creates and registers the metrics on the default registry.
func New(namespace string) *Metrics {
	return NewWith(prometheus.DefaultRegisterer, namespace)
}

// NewWith registers the metrics on an explicit registerer. Tests pass a
// fresh registry so repeated construction does not collide.
func NewWith(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RoutingDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "routing_decisions_total",
				Help:      "Routing outcomes per inbound request",
			},
			[]string{"decision"},
		),
		ProxyDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "proxy_duration_seconds",
				Help:      "Duration of proxied backend calls",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		TenantCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_cache_hits_total",
			Help:      "Tenant lookups served from cache",
		}),
		TenantCacheMiss: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_cache_misses_total",
			Help:      "Tenant lookups that fell through to the control plane",
		}),
		LookupFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_lookup_failures_total",
			Help:      "Tenant lookups that failed for infrastructure reasons",
		}),
		ProvisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provisions_total",
				Help:      "Tenant provisioning attempts by outcome",
			},
			[]string{"outcome"},
		),
		RollbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollbacks_total",
				Help:      "Provisioning rollbacks by outcome",
			},
			[]string{"outcome"},
		),
	}
}
