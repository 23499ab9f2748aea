package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vendin/internal/provisioning"
	"vendin/pkg/config"
	"vendin/pkg/metrics"
	"vendin/pkg/tenants"
)

const testAPIKey = "test-key"

type fakeCompute struct {
	url       string
	destroyed []string
}

func (f *fakeCompute) Provision(context.Context, provisioning.Request) (string, error) {
	return f.url, nil
}

func (f *fakeCompute) Destroy(_ context.Context, tenantID string) error {
	f.destroyed = append(f.destroyed, tenantID)
	return nil
}

type fakeDatabases struct{}

func (fakeDatabases) CreateDatabase(context.Context, string) (string, error) {
	return "postgres://tenant@db.test/d", nil
}
func (fakeDatabases) DropDatabase(context.Context, string) error { return nil }

type cpFixture struct {
	app     *App
	store   tenants.Store
	handler http.Handler
}

// newCPFixture wires the app with fakes and synchronous background runs so
// tests observe final state immediately after the handler returns.
func newCPFixture() *cpFixture {
	log := zap.NewNop().Sugar()
	store := tenants.NewMemoryStore(log)
	met := metrics.NewWith(prometheus.NewRegistry(), "test")
	orch := provisioning.NewOrchestrator(store, &fakeCompute{url: "https://tenant-x.run.test"}, fakeDatabases{}, log, met)

	app := New(config.Config{ControlPlaneAPIKey: testAPIKey}, log, store, orch)
	app.runAsync = func(fn func(ctx context.Context)) { fn(context.Background()) }
	return &cpFixture{app: app, store: store, handler: app.Handler()}
}

func (f *cpFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *cpFixture) createActive(t *testing.T, subdomain string) tenants.Tenant {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/tenants/",
		`{"name":"Acme","merchantEmail":"owner@acme.test","subdomain":"`+subdomain+`"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var tn tenants.Tenant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tn))
	return tn
}

func TestAPIKeyRequired(t *testing.T) {
	f := newCPFixture()

	req := httptest.NewRequest(http.MethodGet, "/api/tenants/", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/tenants/", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// health stays open
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateTenantProvisionsInBackground(t *testing.T) {
	f := newCPFixture()

	rec := f.do(t, http.MethodPost, "/api/tenants/",
		`{"name":"Acme","merchantEmail":"owner@acme.test","subdomain":"acme","plan":"starter"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	// The response snapshot is taken before provisioning finishes.
	var created tenants.Tenant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, tenants.StatusProvisioning, created.Status)
	assert.Nil(t, created.APIURL)

	// With runAsync synchronous, the tenant is active by now.
	got, err := f.store.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, tenants.StatusActive, got.Status)
	require.NotNil(t, got.APIURL)
	assert.Equal(t, "https://tenant-x.run.test", *got.APIURL)
}

func TestCreateTenantValidation(t *testing.T) {
	f := newCPFixture()

	rec := f.do(t, http.MethodPost, "/api/tenants/", `{"name":"NoEmail"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/tenants/", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTenantSubdomainConflict(t *testing.T) {
	f := newCPFixture()
	f.createActive(t, "shop")

	rec := f.do(t, http.MethodPost, "/api/tenants/",
		`{"name":"Copycat","merchantEmail":"b@x.test","subdomain":"shop"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLookupTenant(t *testing.T) {
	f := newCPFixture()
	f.createActive(t, "acme")

	rec := f.do(t, http.MethodGet, "/api/tenants/lookup?subdomain=acme", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var tn tenants.Tenant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tn))
	assert.Equal(t, tenants.StatusActive, tn.Status)

	rec = f.do(t, http.MethodGet, "/api/tenants/lookup?subdomain=ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/tenants/lookup", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAndListTenants(t *testing.T) {
	f := newCPFixture()
	tn := f.createActive(t, "acme")

	rec := f.do(t, http.MethodGet, "/api/tenants/"+tn.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/tenants/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/tenants/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []tenants.Tenant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestUpdateTenant(t *testing.T) {
	f := newCPFixture()
	tn := f.createActive(t, "acme")

	rec := f.do(t, http.MethodPatch, "/api/tenants/"+tn.ID, `{"name":"Acme Intl"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var got tenants.Tenant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Acme Intl", got.Name)
}

func TestSuspendResumeTenant(t *testing.T) {
	f := newCPFixture()
	tn := f.createActive(t, "acme")

	rec := f.do(t, http.MethodPost, "/api/tenants/"+tn.ID+"/suspend", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got tenants.Tenant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, tenants.StatusSuspended, got.Status)

	// suspending twice violates the lifecycle
	rec = f.do(t, http.MethodPost, "/api/tenants/"+tn.ID+"/suspend", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/tenants/"+tn.ID+"/resume", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/tenants/nope/suspend", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteTenant(t *testing.T) {
	f := newCPFixture()
	tn := f.createActive(t, "acme")

	rec := f.do(t, http.MethodDelete, "/api/tenants/"+tn.ID, "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	_, err := f.store.GetByID(context.Background(), tn.ID)
	assert.ErrorIs(t, err, tenants.ErrNotFound)
}

func TestDeleteTenantDuringProvisioningRejected(t *testing.T) {
	f := newCPFixture()
	// Leave the tenant stuck in provisioning by skipping the background run.
	f.app.runAsync = func(func(ctx context.Context)) {}
	tn := f.createActive(t, "stuck")

	rec := f.do(t, http.MethodDelete, "/api/tenants/"+tn.ID, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}
