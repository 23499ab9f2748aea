// pkg/tenants/memory.go
package tenants

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// memStore is the dev/test fallback used when DATABASE_URL is not set.
type memStore struct {
	log *zap.SugaredLogger

	mu   sync.RWMutex
	byID map[string]Tenant
}

func NewMemoryStore(log *zap.SugaredLogger) Store {
	return &memStore{log: log, byID: map[string]Tenant{}}
}

func (m *memStore) Create(ctx context.Context, in CreateInput) (Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in.Subdomain != nil {
		for _, t := range m.byID {
			if t.Subdomain != nil && *t.Subdomain == *in.Subdomain && t.Status != StatusDeleted {
				return Tenant{}, ErrSubdomainTaken
			}
		}
	}
	now := time.Now().UTC()
	plan := in.Plan
	if plan == "" {
		plan = PlanFree
	}
	t := Tenant{
		ID:            uuid.NewString(),
		Name:          in.Name,
		MerchantEmail: in.MerchantEmail,
		Subdomain:     in.Subdomain,
		Status:        StatusProvisioning,
		Plan:          plan,
		CreatedAt:     now,
		UpdatedAt:     now,
		Metadata:      in.Metadata,
	}
	m.byID[t.ID] = t
	return t, nil
}

func (m *memStore) GetByID(ctx context.Context, id string) (Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.byID[id]; ok && t.Status != StatusDeleted {
		return t, nil
	}
	return Tenant{}, ErrNotFound
}

func (m *memStore) GetBySubdomain(ctx context.Context, subdomain string) (Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.byID {
		if t.Subdomain != nil && *t.Subdomain == subdomain && t.Status != StatusDeleted {
			return t, nil
		}
	}
	return Tenant{}, ErrNotFound
}

func (m *memStore) Update(ctx context.Context, id string, in UpdateInput) (Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok || t.Status == StatusDeleted {
		return Tenant{}, ErrNotFound
	}
	if in.Name != nil {
		t.Name = *in.Name
	}
	if in.DatabaseURL != nil {
		t.DatabaseURL = in.DatabaseURL
	}
	if in.APIURL != nil {
		t.APIURL = in.APIURL
	}
	if in.Metadata != nil {
		t.Metadata = in.Metadata
	}
	t.UpdatedAt = time.Now().UTC()
	m.byID[id] = t
	return t, nil
}

func (m *memStore) SetStatus(ctx context.Context, id string, to Status) (Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	if !t.Status.CanTransition(to) {
		return Tenant{}, ErrBadTransition
	}
	t.Status = to
	t.UpdatedAt = time.Now().UTC()
	m.byID[id] = t
	return t, nil
}

func (m *memStore) SoftDelete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok || t.Status == StatusDeleted {
		return ErrNotFound
	}
	if !t.Status.CanTransition(StatusDeleted) {
		return ErrBadTransition
	}
	now := time.Now().UTC()
	t.Status = StatusDeleted
	t.DeletedAt = &now
	t.UpdatedAt = now
	m.byID[id] = t
	return nil
}

func (m *memStore) List(ctx context.Context) ([]Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Tenant, 0, len(m.byID))
	for _, t := range m.byID {
		if t.Status != StatusDeleted {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) LogEvent(ctx context.Context, tenantID, step, status string, detail string) error {
	m.log.Debugw("provisioning event", "tenant", tenantID, "step", step, "status", status, "detail", detail)
	return nil
}
