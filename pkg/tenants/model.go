package tenants

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a tenant. The control plane is the only
// writer; every other component treats it as read-only.
type Status string

const (
	StatusProvisioning       Status = "provisioning"
	StatusActive             Status = "active"
	StatusSuspended          Status = "suspended"
	StatusDeleted            Status = "deleted"
	StatusProvisioningFailed Status = "provisioning_failed"
)

// ParseStatus rejects anything outside the known set. Payloads from the wire
// go through this before the rest of the router ever sees them.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusProvisioning, StatusActive, StatusSuspended, StatusDeleted, StatusProvisioningFailed:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown tenant status %q", s)
}

// CanTransition encodes the state machine:
// provisioning → {active, provisioning_failed}; active ↔ suspended;
// {active, suspended} → deleted. deleted is terminal and provisioning is
// never re-entered.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusProvisioning:
		return to == StatusActive || to == StatusProvisioningFailed
	case StatusActive:
		return to == StatusSuspended || to == StatusDeleted
	case StatusSuspended:
		return to == StatusActive || to == StatusDeleted
	case StatusProvisioningFailed:
		return to == StatusDeleted
	}
	return false
}

// Reachable reports whether a compute service exists for this status.
// apiUrl must be non-null exactly when this is true.
func (s Status) Reachable() bool {
	return s == StatusActive || s == StatusSuspended
}

type Plan string

const (
	PlanFree         Plan = "free"
	PlanStarter      Plan = "starter"
	PlanProfessional Plan = "professional"
	PlanEnterprise   Plan = "enterprise"
)

// Tenant represents one merchant's isolated store.
type Tenant struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	MerchantEmail string         `json:"merchantEmail"`
	Subdomain     *string        `json:"subdomain"`
	DatabaseURL   *string        `json:"databaseUrl"`
	APIURL        *string        `json:"apiUrl"`
	Status        Status         `json:"status"`
	Plan          Plan           `json:"plan"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	DeletedAt     *time.Time     `json:"deletedAt"`
	Metadata      map[string]any `json:"metadata"`
}

// UnmarshalJSON validates the status enum instead of trusting arbitrary JSON
// deep into the router.
func (t *Tenant) UnmarshalJSON(b []byte) error {
	type alias Tenant
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	if _, err := ParseStatus(string(a.Status)); err != nil {
		return err
	}
	*t = Tenant(a)
	return nil
}

// CreateInput is the payload accepted by the control plane when a merchant
// signs up. Subdomain is optional at creation and immutable once assigned.
type CreateInput struct {
	Name          string         `json:"name"`
	MerchantEmail string         `json:"merchantEmail"`
	Subdomain     *string        `json:"subdomain"`
	Plan          Plan           `json:"plan"`
	Metadata      map[string]any `json:"metadata"`
}

// UpdateInput carries partial updates. Nil fields are left untouched.
type UpdateInput struct {
	Name        *string        `json:"name"`
	DatabaseURL *string        `json:"databaseUrl"`
	APIURL      *string        `json:"apiUrl"`
	Metadata    map[string]any `json:"metadata"`
}
