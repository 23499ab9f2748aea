package provisioning

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when no provisioning platform is set up.
var ErrNotConfigured = errors.New("provisioning: platform not configured")

// Unconfigured is the dev fallback when platform credentials are absent:
// every provision attempt fails closed and destroys are no-ops.
type Unconfigured struct{}

func (Unconfigured) Provision(ctx context.Context, req Request) (string, error) {
	return "", ErrNotConfigured
}

func (Unconfigured) Destroy(ctx context.Context, tenantID string) error { return nil }
