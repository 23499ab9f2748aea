package provisioning

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"vendin/pkg/metrics"
	"vendin/pkg/tenants"
)

// Orchestrator drives tenants through their lifecycle. It is the only writer
// of tenant status; the proxy path never transitions anything.
type Orchestrator struct {
	store   tenants.Store
	compute Provisioner
	db      DatabaseProvider // nil when databases are supplied by the caller
	log     *zap.SugaredLogger
	met     *metrics.Metrics
}

func NewOrchestrator(store tenants.Store, compute Provisioner, db DatabaseProvider, log *zap.SugaredLogger, met *metrics.Metrics) *Orchestrator {
	return &Orchestrator{store: store, compute: compute, db: db, log: log, met: met}
}

// Provision takes a tenant in `provisioning` to `active`, or to
// `provisioning_failed` with every partially created resource rolled back.
// Nothing billable may remain allocated after a failed run.
func (o *Orchestrator) Provision(ctx context.Context, tenantID string) error {
	t, err := o.store.GetByID(ctx, tenantID)
	if err != nil {
		return err
	}
	if t.Status != tenants.StatusProvisioning {
		return fmt.Errorf("tenant %s is %s, not provisioning: %w", tenantID, t.Status, tenants.ErrBadTransition)
	}

	dbURL, createdDB, err := o.ensureDatabase(ctx, t)
	if err != nil {
		o.fail(ctx, tenantID, "create_db", err, false, createdDB)
		return err
	}

	_ = o.store.LogEvent(ctx, tenantID, "deploy_service", "started", "")
	sub := ""
	if t.Subdomain != nil {
		sub = *t.Subdomain
	}
	serviceURL, err := o.compute.Provision(ctx, Request{
		TenantID:    tenantID,
		Subdomain:   sub,
		DatabaseURL: dbURL,
		Plan:        t.Plan,
	})
	if err != nil {
		// A completed operation without a URL may still have left a service
		// behind; a platform rejection may not. Tear down in both cases —
		// Destroy tolerates absence.
		destroyService := true
		_ = o.store.LogEvent(ctx, tenantID, "deploy_service", "failed", err.Error())
		o.fail(ctx, tenantID, "deploy_service", err, destroyService, createdDB)
		return err
	}
	_ = o.store.LogEvent(ctx, tenantID, "deploy_service", "completed", serviceURL)

	// apiUrl is stored exactly as the platform returned it, then the tenant
	// goes reachable. Order matters: status active implies apiUrl set.
	if _, err := o.store.Update(ctx, tenantID, tenants.UpdateInput{APIURL: &serviceURL}); err != nil {
		o.fail(ctx, tenantID, "activate_tenant", err, true, createdDB)
		return err
	}
	if _, err := o.store.SetStatus(ctx, tenantID, tenants.StatusActive); err != nil {
		o.fail(ctx, tenantID, "activate_tenant", err, true, createdDB)
		return err
	}
	o.met.ProvisionsTotal.WithLabelValues("active").Inc()
	o.log.Infow("tenant provisioned", "tenant", tenantID, "url", serviceURL)
	return nil
}

func (o *Orchestrator) ensureDatabase(ctx context.Context, t tenants.Tenant) (dbURL string, created bool, err error) {
	if t.DatabaseURL != nil && *t.DatabaseURL != "" {
		return *t.DatabaseURL, false, nil
	}
	if o.db == nil {
		return "", false, errors.New("no database url and no database provider configured")
	}
	_ = o.store.LogEvent(ctx, t.ID, "create_db", "started", "")
	url, err := o.db.CreateDatabase(ctx, t.ID)
	if err != nil {
		_ = o.store.LogEvent(ctx, t.ID, "create_db", "failed", err.Error())
		return "", false, err
	}
	_ = o.store.LogEvent(ctx, t.ID, "create_db", "completed", "")
	if _, err := o.store.Update(ctx, t.ID, tenants.UpdateInput{DatabaseURL: &url}); err != nil {
		return "", true, err
	}
	return url, true, nil
}

// fail transitions to provisioning_failed and compensates. Rollback failures
// are logged distinctly from the original failure so an operator can act;
// they are never retried to deletion here.
func (o *Orchestrator) fail(ctx context.Context, tenantID, step string, cause error, destroyService, dropDB bool) {
	o.log.Errorw("provisioning failed", "tenant", tenantID, "step", step, "err", cause)
	o.met.ProvisionsTotal.WithLabelValues("failed").Inc()

	rollbackOK := true
	if destroyService {
		if err := o.compute.Destroy(ctx, tenantID); err != nil {
			rollbackOK = false
			o.log.Errorw("rollback failed: compute service not deleted", "tenant", tenantID, "err", err)
			_ = o.store.LogEvent(ctx, tenantID, "rollback", "failed", err.Error())
		}
	}
	if dropDB && o.db != nil {
		if err := o.db.DropDatabase(ctx, tenantID); err != nil {
			rollbackOK = false
			o.log.Errorw("rollback failed: database not dropped", "tenant", tenantID, "err", err)
			_ = o.store.LogEvent(ctx, tenantID, "rollback", "failed", err.Error())
		}
	}
	if rollbackOK {
		o.met.RollbacksTotal.WithLabelValues("ok").Inc()
		_ = o.store.LogEvent(ctx, tenantID, "rollback", "completed", "")
	} else {
		o.met.RollbacksTotal.WithLabelValues("failed").Inc()
	}

	if _, err := o.store.SetStatus(ctx, tenantID, tenants.StatusProvisioningFailed); err != nil {
		o.log.Errorw("status transition to provisioning_failed failed", "tenant", tenantID, "err", err)
	}
}

// Suspend makes an active tenant unreachable without touching its resources.
func (o *Orchestrator) Suspend(ctx context.Context, tenantID string) (tenants.Tenant, error) {
	return o.store.SetStatus(ctx, tenantID, tenants.StatusSuspended)
}

// Resume reactivates a suspended tenant.
func (o *Orchestrator) Resume(ctx context.Context, tenantID string) (tenants.Tenant, error) {
	return o.store.SetStatus(ctx, tenantID, tenants.StatusActive)
}

// Deprovision tears down the tenant's resources and only then marks it
// deleted. If teardown fails the tenant keeps its current status so the
// operation can be retried; deleted is terminal and must not be reachable
// while anything is still serving traffic.
func (o *Orchestrator) Deprovision(ctx context.Context, tenantID string) error {
	t, err := o.store.GetByID(ctx, tenantID)
	if err != nil {
		return err
	}
	if !t.Status.CanTransition(tenants.StatusDeleted) {
		return tenants.ErrBadTransition
	}

	_ = o.store.LogEvent(ctx, tenantID, "teardown", "started", "")
	if err := o.compute.Destroy(ctx, tenantID); err != nil {
		_ = o.store.LogEvent(ctx, tenantID, "teardown", "failed", err.Error())
		return fmt.Errorf("deleting compute service: %w", err)
	}
	if o.db != nil {
		if err := o.db.DropDatabase(ctx, tenantID); err != nil {
			_ = o.store.LogEvent(ctx, tenantID, "teardown", "failed", err.Error())
			return fmt.Errorf("dropping database: %w", err)
		}
	}
	_ = o.store.LogEvent(ctx, tenantID, "teardown", "completed", "")

	if err := o.store.SoftDelete(ctx, tenantID); err != nil {
		return err
	}
	o.log.Infow("tenant deprovisioned", "tenant", tenantID)
	return nil
}
