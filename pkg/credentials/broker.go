// pkg/credentials/broker.go
package credentials

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HeaderClient is the per-audience client the broker caches. Satisfied by
// *IDTokenClient; tests substitute fakes.
type HeaderClient interface {
	AuthorizationHeader(ctx context.Context) (string, error)
}

// Broker hands out "Bearer <token>" headers for audience-bound identity
// tokens. Client construction is single-flight per audience: N concurrent
// callers for the same audience trigger exactly one credential resolution
// and one client build, and all share the result. Header fetches against an
// established client may race freely; each caller gets its own value.
type Broker struct {
	log      *zap.SugaredLogger
	material string // raw credential material, resolved lazily
	build    func(audience string) (HeaderClient, error)

	// maxAge, when non-zero, bounds how long a cached client is reused so a
	// rotated signing key is eventually picked up. Zero keeps clients for the
	// process lifetime.
	maxAge time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

// entry is a future: ready closes once build finishes, after which exactly
// one of client/err is set.
type entry struct {
	ready   chan struct{}
	client  HeaderClient
	err     error
	builtAt time.Time
}

type BrokerOption func(*Broker)

// WithClientMaxAge enables time-based re-resolution of cached clients.
func WithClientMaxAge(d time.Duration) BrokerOption {
	return func(b *Broker) { b.maxAge = d }
}

// WithClientBuilder overrides client construction (tests).
func WithClientBuilder(build func(audience string) (HeaderClient, error)) BrokerOption {
	return func(b *Broker) { b.build = build }
}

func NewBroker(material string, log *zap.SugaredLogger, opts ...BrokerOption) *Broker {
	b := &Broker{
		log:      log,
		material: material,
		entries:  map[string]*entry{},
	}
	b.build = func(audience string) (HeaderClient, error) {
		sa, err := ParseServiceAccount(b.material)
		if err != nil {
			return nil, err
		}
		return NewIDTokenClient(sa, audience, &http.Client{Timeout: 10 * time.Second})
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// AuthorizationHeader returns the header value to present to the backend at
// targetAudience.
func (b *Broker) AuthorizationHeader(ctx context.Context, targetAudience string) (string, error) {
	e := b.resolve(targetAudience)
	select {
	case <-e.ready:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if e.err != nil {
		return "", e.err
	}
	// Header retrieval failures are propagated but the client is kept: a
	// transient refresh failure should not force re-resolving credentials.
	return e.client.AuthorizationHeader(ctx)
}

// resolve returns the entry for the audience, installing a pending one (and
// kicking off the build) if absent. A failed build removes its entry so a
// later call can retry instead of observing a poisoned cache.
func (b *Broker) resolve(audience string) *entry {
	b.mu.Lock()
	if e, ok := b.entries[audience]; ok && !b.expired(e) {
		b.mu.Unlock()
		return e
	}
	e := &entry{ready: make(chan struct{})}
	b.entries[audience] = e
	b.mu.Unlock()

	go func() {
		client, err := b.build(audience)
		e.client, e.err = client, err
		e.builtAt = time.Now()
		close(e.ready)
		if err != nil {
			b.mu.Lock()
			if b.entries[audience] == e {
				delete(b.entries, audience)
			}
			b.mu.Unlock()
			b.log.Errorw("credential client build failed", "audience", audience, "err", err)
		}
	}()
	return e
}

func (b *Broker) expired(e *entry) bool {
	if b.maxAge == 0 {
		return false
	}
	select {
	case <-e.ready:
	default:
		return false // still building
	}
	return e.err == nil && time.Since(e.builtAt) > b.maxAge
}
