package tenants

import (
	"context"
	"errors"
)

var (
	// ErrNotFound means no non-deleted tenant matches the key.
	ErrNotFound = errors.New("tenant not found")
	// ErrSubdomainTaken means the subdomain is held by another non-deleted tenant.
	ErrSubdomainTaken = errors.New("subdomain already in use")
	// ErrBadTransition means the requested status change violates the lifecycle.
	ErrBadTransition = errors.New("illegal status transition")
)

// Store owns tenant records. Implementations must enforce subdomain
// uniqueness among non-deleted tenants and guard status changes with
// Status.CanTransition.
type Store interface {
	Create(ctx context.Context, in CreateInput) (Tenant, error)
	GetByID(ctx context.Context, id string) (Tenant, error)
	GetBySubdomain(ctx context.Context, subdomain string) (Tenant, error)
	Update(ctx context.Context, id string, in UpdateInput) (Tenant, error)
	// SetStatus performs a guarded transition and returns the updated record.
	SetStatus(ctx context.Context, id string, to Status) (Tenant, error)
	// SoftDelete marks the tenant deleted and stamps deletedAt. The caller is
	// responsible for having torn down resources first.
	SoftDelete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Tenant, error)
	// LogEvent appends a provisioning audit event (best effort for callers).
	LogEvent(ctx context.Context, tenantID, step, status string, detail string) error
}
