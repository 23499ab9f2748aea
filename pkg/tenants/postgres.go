// pkg/tenants/postgres.go
package tenants

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// pgStore implements Store backed by PostgreSQL.
type pgStore struct {
	dbPool *pgxpool.Pool
	log    *zap.SugaredLogger
}

// NewPostgresStore constructs a PostgreSQL-backed tenant store.
func NewPostgresStore(dbPool *pgxpool.Pool, log *zap.SugaredLogger) Store {
	return &pgStore{dbPool: dbPool, log: log}
}

// EnsureSchema creates required tables if they do not already exist.
// Safe to call repeatedly (idempotent).
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tenants (
  id uuid PRIMARY KEY,
  name text NOT NULL,
  merchant_email text NOT NULL,
  subdomain text,
  database_url text,
  api_url text,
  status text NOT NULL DEFAULT 'provisioning',
  plan text NOT NULL DEFAULT 'free',
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW(),
  deleted_at timestamptz,
  metadata jsonb DEFAULT '{}'::jsonb
);
-- Subdomain is immutable once assigned and unique among non-deleted tenants.
CREATE UNIQUE INDEX IF NOT EXISTS tenants_subdomain_live_idx
  ON tenants(subdomain) WHERE subdomain IS NOT NULL AND status <> 'deleted';
CREATE TABLE IF NOT EXISTS tenant_provisioning_events (
  id BIGSERIAL PRIMARY KEY,
  tenant_id uuid NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
  step text NOT NULL,
  status text NOT NULL,
  detail text,
  created_at timestamptz NOT NULL DEFAULT NOW()
);
`)
	return err
}

const tenantCols = `id,name,merchant_email,subdomain,database_url,api_url,status,plan,created_at,updated_at,deleted_at,metadata`

func scanTenant(row pgx.Row) (Tenant, error) {
	var t Tenant
	var status string
	var metaJSON []byte
	if err := row.Scan(&t.ID, &t.Name, &t.MerchantEmail, &t.Subdomain, &t.DatabaseURL, &t.APIURL,
		&status, &t.Plan, &t.CreatedAt, &t.UpdatedAt, &t.DeletedAt, &metaJSON); err != nil {
		return Tenant{}, err
	}
	st, err := ParseStatus(status)
	if err != nil {
		return Tenant{}, err
	}
	t.Status = st
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &t.Metadata)
	}
	return t, nil
}

func (p *pgStore) Create(ctx context.Context, in CreateInput) (Tenant, error) {
	plan := in.Plan
	if plan == "" {
		plan = PlanFree
	}
	metaJSON, _ := json.Marshal(in.Metadata)
	id := uuid.NewString()
	row := p.dbPool.QueryRow(ctx, `INSERT INTO tenants(id,name,merchant_email,subdomain,status,plan,metadata)
	  VALUES ($1,$2,$3,$4,'provisioning',$5,$6) RETURNING `+tenantCols,
		id, in.Name, in.MerchantEmail, in.Subdomain, plan, metaJSON)
	t, err := scanTenant(row)
	if err != nil {
		// Unique index violation on the live-subdomain index.
		if isUniqueViolation(err) {
			return Tenant{}, ErrSubdomainTaken
		}
		return Tenant{}, err
	}
	return t, nil
}

func (p *pgStore) GetByID(ctx context.Context, id string) (Tenant, error) {
	row := p.dbPool.QueryRow(ctx, `SELECT `+tenantCols+` FROM tenants WHERE id=$1 AND status <> 'deleted'`, id)
	t, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, err
	}
	return t, nil
}

func (p *pgStore) GetBySubdomain(ctx context.Context, subdomain string) (Tenant, error) {
	row := p.dbPool.QueryRow(ctx, `SELECT `+tenantCols+` FROM tenants WHERE subdomain=$1 AND status <> 'deleted'`, subdomain)
	t, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, err
	}
	return t, nil
}

func (p *pgStore) Update(ctx context.Context, id string, in UpdateInput) (Tenant, error) {
	var metaJSON []byte
	if in.Metadata != nil {
		metaJSON, _ = json.Marshal(in.Metadata)
	}
	row := p.dbPool.QueryRow(ctx, `UPDATE tenants SET
	  name=COALESCE($1,name),
	  database_url=COALESCE($2,database_url),
	  api_url=COALESCE($3,api_url),
	  metadata=COALESCE($4,metadata),
	  updated_at=NOW()
	  WHERE id=$5 AND status <> 'deleted' RETURNING `+tenantCols,
		in.Name, in.DatabaseURL, in.APIURL, metaJSON, id)
	t, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, err
	}
	return t, nil
}

func (p *pgStore) SetStatus(ctx context.Context, id string, to Status) (Tenant, error) {
	cur, err := p.GetByID(ctx, id)
	if err != nil {
		return Tenant{}, err
	}
	if !cur.Status.CanTransition(to) {
		return Tenant{}, ErrBadTransition
	}
	// Compare-and-set on the status read above so a concurrent transition
	// cannot sneak an illegal edge through.
	row := p.dbPool.QueryRow(ctx, `UPDATE tenants SET status=$1, updated_at=NOW()
	  WHERE id=$2 AND status=$3 RETURNING `+tenantCols, to, id, cur.Status)
	t, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, ErrBadTransition
		}
		return Tenant{}, err
	}
	return t, nil
}

func (p *pgStore) SoftDelete(ctx context.Context, id string) error {
	cur, err := p.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !cur.Status.CanTransition(StatusDeleted) {
		return ErrBadTransition
	}
	tag, err := p.dbPool.Exec(ctx, `UPDATE tenants SET status='deleted', deleted_at=NOW(), updated_at=NOW()
	  WHERE id=$1 AND status=$2`, id, cur.Status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBadTransition
	}
	return nil
}

func (p *pgStore) List(ctx context.Context) ([]Tenant, error) {
	rows, err := p.dbPool.Query(ctx, `SELECT `+tenantCols+` FROM tenants WHERE status <> 'deleted' ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *pgStore) LogEvent(ctx context.Context, tenantID, step, status string, detail string) error {
	_, err := p.dbPool.Exec(ctx, `INSERT INTO tenant_provisioning_events(tenant_id,step,status,detail)
	  VALUES ($1,$2,$3,$4)`, tenantID, step, status, detail)
	if err != nil {
		p.log.Warnw("provisioning event insert failed", "tenant", tenantID, "step", step, "err", err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	type coder interface{ SQLState() string }
	var c coder
	if errors.As(err, &c) {
		return c.SQLState() == "23505"
	}
	return false
}
