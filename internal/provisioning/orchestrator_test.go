package provisioning

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vendin/pkg/metrics"
	"vendin/pkg/tenants"
)

type fakeCompute struct {
	url          string
	provisionErr error
	destroyErr   error

	provisioned []Request
	destroyed   []string
}

func (f *fakeCompute) Provision(_ context.Context, req Request) (string, error) {
	f.provisioned = append(f.provisioned, req)
	if f.provisionErr != nil {
		return "", f.provisionErr
	}
	return f.url, nil
}

func (f *fakeCompute) Destroy(_ context.Context, tenantID string) error {
	f.destroyed = append(f.destroyed, tenantID)
	return f.destroyErr
}

type fakeDatabases struct {
	url       string
	createErr error
	dropErr   error

	created []string
	dropped []string
}

func (f *fakeDatabases) CreateDatabase(_ context.Context, tenantID string) (string, error) {
	f.created = append(f.created, tenantID)
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.url, nil
}

func (f *fakeDatabases) DropDatabase(_ context.Context, tenantID string) error {
	f.dropped = append(f.dropped, tenantID)
	return f.dropErr
}

type orchFixture struct {
	store   tenants.Store
	compute *fakeCompute
	db      *fakeDatabases
	met     *metrics.Metrics
	orch    *Orchestrator
}

func newFixture() *orchFixture {
	log := zap.NewNop().Sugar()
	f := &orchFixture{
		store:   tenants.NewMemoryStore(log),
		compute: &fakeCompute{url: "https://tenant-x.a.run.test"},
		db:      &fakeDatabases{url: "postgres://tenant_x@db.test/tenant_x"},
		met:     metrics.NewWith(prometheus.NewRegistry(), "test"),
	}
	f.orch = NewOrchestrator(f.store, f.compute, f.db, log, f.met)
	return f
}

func (f *orchFixture) createTenant(t *testing.T) tenants.Tenant {
	t.Helper()
	sub := "acme"
	tn, err := f.store.Create(context.Background(), tenants.CreateInput{
		Name: "Acme", MerchantEmail: "owner@acme.test", Subdomain: &sub, Plan: tenants.PlanStarter,
	})
	require.NoError(t, err)
	return tn
}

func TestProvisionHappyPath(t *testing.T) {
	f := newFixture()
	tn := f.createTenant(t)

	require.NoError(t, f.orch.Provision(context.Background(), tn.ID))

	got, err := f.store.GetByID(context.Background(), tn.ID)
	require.NoError(t, err)
	assert.Equal(t, tenants.StatusActive, got.Status)
	require.NotNil(t, got.APIURL)
	assert.Equal(t, "https://tenant-x.a.run.test", *got.APIURL)
	require.NotNil(t, got.DatabaseURL)
	assert.Equal(t, f.db.url, *got.DatabaseURL)

	require.Len(t, f.compute.provisioned, 1)
	req := f.compute.provisioned[0]
	assert.Equal(t, tn.ID, req.TenantID)
	assert.Equal(t, "acme", req.Subdomain)
	assert.Equal(t, f.db.url, req.DatabaseURL)
	assert.Equal(t, tenants.PlanStarter, req.Plan)
	assert.Empty(t, f.compute.destroyed)
	assert.Empty(t, f.db.dropped)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.met.ProvisionsTotal.WithLabelValues("active")))
}

func TestProvisionReusesExistingDatabase(t *testing.T) {
	f := newFixture()
	tn := f.createTenant(t)
	existing := "postgres://precreated@db.test/d"
	_, err := f.store.Update(context.Background(), tn.ID, tenants.UpdateInput{DatabaseURL: &existing})
	require.NoError(t, err)

	require.NoError(t, f.orch.Provision(context.Background(), tn.ID))
	assert.Empty(t, f.db.created)
	require.Len(t, f.compute.provisioned, 1)
	assert.Equal(t, existing, f.compute.provisioned[0].DatabaseURL)
}

func TestProvisionRequiresProvisioningStatus(t *testing.T) {
	f := newFixture()
	tn := f.createTenant(t)
	require.NoError(t, f.orch.Provision(context.Background(), tn.ID))

	err := f.orch.Provision(context.Background(), tn.ID)
	assert.ErrorIs(t, err, tenants.ErrBadTransition)
	assert.Len(t, f.compute.provisioned, 1, "second run must not deploy again")
}

func TestProvisionDatabaseFailureRollsBack(t *testing.T) {
	f := newFixture()
	f.db.createErr = errors.New("quota exceeded")
	tn := f.createTenant(t)

	err := f.orch.Provision(context.Background(), tn.ID)
	require.Error(t, err)

	got, _ := f.store.GetByID(context.Background(), tn.ID)
	assert.Equal(t, tenants.StatusProvisioningFailed, got.Status)
	assert.Nil(t, got.APIURL)
	assert.Empty(t, f.compute.provisioned)
	assert.Empty(t, f.compute.destroyed, "no service was created, none to destroy")
}

func TestProvisionComputeFailureRollsBack(t *testing.T) {
	f := newFixture()
	f.compute.provisionErr = ErrMissingServiceURL
	tn := f.createTenant(t)

	err := f.orch.Provision(context.Background(), tn.ID)
	assert.ErrorIs(t, err, ErrMissingServiceURL)

	got, _ := f.store.GetByID(context.Background(), tn.ID)
	assert.Equal(t, tenants.StatusProvisioningFailed, got.Status)
	assert.Nil(t, got.APIURL)
	assert.Equal(t, []string{tn.ID}, f.compute.destroyed)
	assert.Equal(t, []string{tn.ID}, f.db.dropped, "the database created this run must be dropped")
	assert.Equal(t, float64(1), testutil.ToFloat64(f.met.ProvisionsTotal.WithLabelValues("failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.met.RollbacksTotal.WithLabelValues("ok")))
}

func TestProvisionRollbackFailureIsRecorded(t *testing.T) {
	f := newFixture()
	f.compute.provisionErr = errors.New("deploy rejected")
	f.compute.destroyErr = errors.New("delete also failed")
	tn := f.createTenant(t)

	require.Error(t, f.orch.Provision(context.Background(), tn.ID))

	got, _ := f.store.GetByID(context.Background(), tn.ID)
	assert.Equal(t, tenants.StatusProvisioningFailed, got.Status, "status flips even when rollback fails")
	assert.Equal(t, float64(1), testutil.ToFloat64(f.met.RollbacksTotal.WithLabelValues("failed")))
}

func TestSuspendResume(t *testing.T) {
	f := newFixture()
	tn := f.createTenant(t)
	require.NoError(t, f.orch.Provision(context.Background(), tn.ID))

	got, err := f.orch.Suspend(context.Background(), tn.ID)
	require.NoError(t, err)
	assert.Equal(t, tenants.StatusSuspended, got.Status)
	require.NotNil(t, got.APIURL, "suspension keeps resources allocated")

	got, err = f.orch.Resume(context.Background(), tn.ID)
	require.NoError(t, err)
	assert.Equal(t, tenants.StatusActive, got.Status)

	// suspending twice is rejected by the lifecycle
	_, err = f.orch.Suspend(context.Background(), tn.ID)
	require.NoError(t, err)
	_, err = f.orch.Suspend(context.Background(), tn.ID)
	assert.ErrorIs(t, err, tenants.ErrBadTransition)
}

func TestDeprovisionTearsDownBeforeDelete(t *testing.T) {
	f := newFixture()
	tn := f.createTenant(t)
	require.NoError(t, f.orch.Provision(context.Background(), tn.ID))

	require.NoError(t, f.orch.Deprovision(context.Background(), tn.ID))
	assert.Equal(t, []string{tn.ID}, f.compute.destroyed)
	assert.Equal(t, []string{tn.ID}, f.db.dropped)

	_, err := f.store.GetByID(context.Background(), tn.ID)
	assert.ErrorIs(t, err, tenants.ErrNotFound)
}

func TestDeprovisionKeepsTenantWhenTeardownFails(t *testing.T) {
	f := newFixture()
	tn := f.createTenant(t)
	require.NoError(t, f.orch.Provision(context.Background(), tn.ID))

	f.compute.destroyErr = errors.New("platform down")
	require.Error(t, f.orch.Deprovision(context.Background(), tn.ID))

	got, err := f.store.GetByID(context.Background(), tn.ID)
	require.NoError(t, err)
	assert.Equal(t, tenants.StatusActive, got.Status, "retryable: nothing deleted while resources remain")

	// Retry after the platform recovers.
	f.compute.destroyErr = nil
	require.NoError(t, f.orch.Deprovision(context.Background(), tn.ID))
	_, err = f.store.GetByID(context.Background(), tn.ID)
	assert.ErrorIs(t, err, tenants.ErrNotFound)
}

func TestDeprovisionRejectsProvisioningTenant(t *testing.T) {
	f := newFixture()
	tn := f.createTenant(t)

	err := f.orch.Deprovision(context.Background(), tn.ID)
	assert.ErrorIs(t, err, tenants.ErrBadTransition)
	assert.Empty(t, f.compute.destroyed)
}

func TestUnconfiguredPlatform(t *testing.T) {
	f := newFixture()
	log := zap.NewNop().Sugar()
	f.orch = NewOrchestrator(f.store, Unconfigured{}, f.db, log, f.met)
	tn := f.createTenant(t)

	err := f.orch.Provision(context.Background(), tn.ID)
	assert.ErrorIs(t, err, ErrNotConfigured)

	got, _ := f.store.GetByID(context.Background(), tn.ID)
	assert.Equal(t, tenants.StatusProvisioningFailed, got.Status)
}
