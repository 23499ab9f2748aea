package tenants

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"provisioning", "active", "suspended", "deleted", "provisioning_failed"} {
		got, err := ParseStatus(s)
		require.NoError(t, err)
		assert.Equal(t, Status(s), got)
	}
	_, err := ParseStatus("archived")
	assert.Error(t, err)
	_, err = ParseStatus("")
	assert.Error(t, err)
	_, err = ParseStatus("Active")
	assert.Error(t, err)
}

func TestCanTransition(t *testing.T) {
	all := []Status{StatusProvisioning, StatusActive, StatusSuspended, StatusDeleted, StatusProvisioningFailed}
	allowed := map[[2]Status]bool{
		{StatusProvisioning, StatusActive}:             true,
		{StatusProvisioning, StatusProvisioningFailed}: true,
		{StatusActive, StatusSuspended}:                true,
		{StatusActive, StatusDeleted}:                  true,
		{StatusSuspended, StatusActive}:                true,
		{StatusSuspended, StatusDeleted}:               true,
		{StatusProvisioningFailed, StatusDeleted}:      true,
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestDeletedIsTerminal(t *testing.T) {
	for _, to := range []Status{StatusProvisioning, StatusActive, StatusSuspended, StatusProvisioningFailed, StatusDeleted} {
		assert.False(t, StatusDeleted.CanTransition(to))
	}
}

func TestReachable(t *testing.T) {
	assert.True(t, StatusActive.Reachable())
	assert.True(t, StatusSuspended.Reachable())
	assert.False(t, StatusProvisioning.Reachable())
	assert.False(t, StatusDeleted.Reachable())
	assert.False(t, StatusProvisioningFailed.Reachable())
}

func TestTenantUnmarshalRejectsUnknownStatus(t *testing.T) {
	var tenant Tenant
	err := json.Unmarshal([]byte(`{"id":"t1","status":"archived"}`), &tenant)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archived")

	err = json.Unmarshal([]byte(`{"id":"t1","status":"active","subdomain":"shop"}`), &tenant)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, tenant.Status)
	require.NotNil(t, tenant.Subdomain)
	assert.Equal(t, "shop", *tenant.Subdomain)
}
