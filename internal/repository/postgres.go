package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallbiznis/railzway-connect/internal/domain"
	"github.com/smallbiznis/railzway-connect/internal/domain/connection"
)

// Compile-time interface assertions.
var (
	_ ConnectionRepository = (*PostgresConnectionRepo)(nil)
	_ TenantRepository     = (*PostgresTenantRepo)(nil)
)

const uniqueViolation = "23505"

// PostgresConnectionRepo implements ConnectionRepository on pgx.
type PostgresConnectionRepo struct {
	db *pgxpool.Pool
}

func NewPostgresConnectionRepo(pool *pgxpool.Pool) *PostgresConnectionRepo {
	return &PostgresConnectionRepo{db: pool}
}

const connectionColumns = `id, provider, tenant_id, user_id, encrypted_payload, account_summary,
expires_at, last_verified_at, verification_failed_at, is_active, created_at, updated_at, deactivated_at`

const deactivateActiveSQL = `UPDATE integration_connections
SET is_active = FALSE, deactivated_at = $4, updated_at = $4
WHERE tenant_id = $1 AND user_id = $2 AND provider = $3 AND is_active`

const insertConnectionSQL = `INSERT INTO integration_connections
(id, provider, tenant_id, user_id, encrypted_payload, account_summary, expires_at, last_verified_at, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, $9, $9)
RETURNING ` + connectionColumns

// ReplaceActive swaps the active row inside one transaction serialized per owner and provider.
// A unique violation from the partial index is retried once.
func (r *PostgresConnectionRepo) ReplaceActive(ctx context.Context, rec connection.Record) (connection.Record, error) {
	saved, err := r.replaceActive(ctx, rec)
	if err != nil && isUniqueViolation(err) {
		saved, err = r.replaceActive(ctx, rec)
	}
	if err != nil {
		return connection.Record{}, fmt.Errorf("replace active connection: %w", err)
	}
	return saved, nil
}

func (r *PostgresConnectionRepo) replaceActive(ctx context.Context, rec connection.Record) (connection.Record, error) {
	account, err := json.Marshal(rec.Account)
	if err != nil {
		return connection.Record{}, fmt.Errorf("marshal account summary: %w", err)
	}

	var saved connection.Record
	err = pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		lockKey := fmt.Sprintf("%d:%s:%s", rec.TenantID, rec.UserID, rec.Provider)
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
			return fmt.Errorf("lock owner: %w", err)
		}
		if _, err := tx.Exec(ctx, deactivateActiveSQL, rec.TenantID, rec.UserID, rec.Provider.String(), rec.CreatedAt); err != nil {
			return fmt.Errorf("deactivate previous: %w", err)
		}
		row := tx.QueryRow(ctx, insertConnectionSQL,
			rec.ID,
			rec.Provider.String(),
			rec.TenantID,
			rec.UserID,
			rec.EncryptedPayload,
			account,
			rec.ExpiresAt,
			rec.LastVerifiedAt,
			rec.CreatedAt,
		)
		scanned, err := scanConnection(row)
		if err != nil {
			return fmt.Errorf("insert connection: %w", err)
		}
		saved = scanned
		return nil
	})
	return saved, err
}

func (r *PostgresConnectionRepo) GetActive(ctx context.Context, owner connection.Owner, provider connection.Provider) (connection.Record, error) {
	query := `SELECT ` + connectionColumns + ` FROM integration_connections
WHERE tenant_id = $1 AND user_id = $2 AND provider = $3 AND is_active
LIMIT 1`
	rec, err := scanConnection(r.db.QueryRow(ctx, query, owner.TenantID, owner.UserID, provider.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return connection.Record{}, connection.ErrNotFound
		}
		return connection.Record{}, fmt.Errorf("get active connection: %w", err)
	}
	return rec, nil
}

func (r *PostgresConnectionRepo) ListActive(ctx context.Context, owner connection.Owner) ([]connection.Record, error) {
	query := `SELECT ` + connectionColumns + ` FROM integration_connections
WHERE tenant_id = $1 AND user_id = $2 AND is_active
ORDER BY provider`
	rows, err := r.db.Query(ctx, query, owner.TenantID, owner.UserID)
	if err != nil {
		return nil, fmt.Errorf("list active connections: %w", err)
	}
	return collectConnections(rows)
}

func (r *PostgresConnectionRepo) ListHistory(ctx context.Context, owner connection.Owner, provider connection.Provider) ([]connection.Record, error) {
	query := `SELECT ` + connectionColumns + ` FROM integration_connections
WHERE tenant_id = $1 AND user_id = $2 AND provider = $3
ORDER BY created_at DESC, id DESC`
	rows, err := r.db.Query(ctx, query, owner.TenantID, owner.UserID, provider.String())
	if err != nil {
		return nil, fmt.Errorf("list connection history: %w", err)
	}
	return collectConnections(rows)
}

func (r *PostgresConnectionRepo) ListActiveAfter(ctx context.Context, afterID int64, limit int) ([]connection.Record, error) {
	query := `SELECT ` + connectionColumns + ` FROM integration_connections
WHERE is_active AND id > $1
ORDER BY id
LIMIT $2`
	rows, err := r.db.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("page active connections: %w", err)
	}
	return collectConnections(rows)
}

func (r *PostgresConnectionRepo) Deactivate(ctx context.Context, owner connection.Owner, provider connection.Provider, at time.Time) error {
	tag, err := r.db.Exec(ctx, deactivateActiveSQL, owner.TenantID, owner.UserID, provider.String(), at)
	if err != nil {
		return fmt.Errorf("deactivate connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return connection.ErrNotFound
	}
	return nil
}

func (r *PostgresConnectionRepo) UpdateCredential(ctx context.Context, id int64, payload string, expiresAt *time.Time, at time.Time) error {
	const query = `UPDATE integration_connections
SET encrypted_payload = $2, expires_at = $3, last_verified_at = $4, updated_at = $4
WHERE id = $1 AND is_active`
	return r.execOne(ctx, "update credential", query, id, payload, expiresAt, at)
}

func (r *PostgresConnectionRepo) MarkVerified(ctx context.Context, id int64, at time.Time) error {
	const query = `UPDATE integration_connections SET last_verified_at = $2, updated_at = $2 WHERE id = $1`
	return r.execOne(ctx, "mark verified", query, id, at)
}

func (r *PostgresConnectionRepo) MarkVerificationFailed(ctx context.Context, id int64, at time.Time) error {
	const query = `UPDATE integration_connections SET verification_failed_at = $2, updated_at = $2 WHERE id = $1`
	return r.execOne(ctx, "mark verification failed", query, id, at)
}

func (r *PostgresConnectionRepo) execOne(ctx context.Context, op, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return connection.ErrNotFound
	}
	return nil
}

func scanConnection(row pgx.Row) (connection.Record, error) {
	var (
		rec      connection.Record
		provider string
		account  []byte
	)
	if err := row.Scan(
		&rec.ID,
		&provider,
		&rec.TenantID,
		&rec.UserID,
		&rec.EncryptedPayload,
		&account,
		&rec.ExpiresAt,
		&rec.LastVerifiedAt,
		&rec.VerificationFailedAt,
		&rec.IsActive,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.DeactivatedAt,
	); err != nil {
		return connection.Record{}, err
	}
	rec.Provider = connection.Provider(provider)
	if len(account) > 0 {
		if err := json.Unmarshal(account, &rec.Account); err != nil {
			return connection.Record{}, fmt.Errorf("decode account summary: %w", err)
		}
	}
	return rec, nil
}

func collectConnections(rows pgx.Rows) ([]connection.Record, error) {
	defer rows.Close()
	var res []connection.Record
	for rows.Next() {
		rec, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		res = append(res, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connections: %w", err)
	}
	return res, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// PostgresTenantRepo implements TenantRepository.
type PostgresTenantRepo struct {
	db *pgxpool.Pool
}

func NewPostgresTenantRepo(pool *pgxpool.Pool) *PostgresTenantRepo {
	return &PostgresTenantRepo{db: pool}
}

const tenantColumns = `id, name, slug, tier, subscription_status, created_at, updated_at`

func (r *PostgresTenantRepo) GetTenant(ctx context.Context, tenantID int64) (domain.Tenant, error) {
	row := r.db.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, tenantID)
	tenant, err := scanTenant(row)
	if err != nil {
		return domain.Tenant{}, mapTenantErr("get tenant", err)
	}
	return tenant, nil
}

func (r *PostgresTenantRepo) GetTenantBySlug(ctx context.Context, slug string) (domain.Tenant, error) {
	row := r.db.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug)
	tenant, err := scanTenant(row)
	if err != nil {
		return domain.Tenant{}, mapTenantErr("get tenant by slug", err)
	}
	return tenant, nil
}

func (r *PostgresTenantRepo) GetMembership(ctx context.Context, tenantID int64, userID string) (domain.Membership, error) {
	const query = `SELECT tenant_id, user_id, role, created_at FROM tenant_memberships WHERE tenant_id = $1 AND user_id = $2`
	var (
		m    domain.Membership
		role string
	)
	if err := r.db.QueryRow(ctx, query, tenantID, userID).Scan(&m.TenantID, &m.UserID, &role, &m.CreatedAt); err != nil {
		return domain.Membership{}, mapTenantErr("get membership", err)
	}
	m.Role = domain.Role(role)
	return m, nil
}

func (r *PostgresTenantRepo) UpsertTenant(ctx context.Context, tenant domain.Tenant) (domain.Tenant, error) {
	const query = `INSERT INTO tenants (id, name, slug, tier, subscription_status)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, slug = EXCLUDED.slug,
    tier = EXCLUDED.tier, subscription_status = EXCLUDED.subscription_status, updated_at = now()
RETURNING ` + tenantColumns
	row := r.db.QueryRow(ctx, query, tenant.ID, tenant.Name, tenant.Slug, string(tenant.Tier), tenant.SubscriptionStatus)
	saved, err := scanTenant(row)
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("upsert tenant: %w", err)
	}
	return saved, nil
}

func (r *PostgresTenantRepo) UpsertMembership(ctx context.Context, m domain.Membership) error {
	const query = `INSERT INTO tenant_memberships (tenant_id, user_id, role)
VALUES ($1, $2, $3)
ON CONFLICT (tenant_id, user_id) DO UPDATE SET role = EXCLUDED.role`
	if _, err := r.db.Exec(ctx, query, m.TenantID, m.UserID, string(m.Role)); err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

func scanTenant(row pgx.Row) (domain.Tenant, error) {
	var (
		t    domain.Tenant
		tier string
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Slug, &tier, &t.SubscriptionStatus, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return domain.Tenant{}, err
	}
	t.Tier = domain.Tier(tier)
	return t, nil
}

func mapTenantErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrTenantNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
