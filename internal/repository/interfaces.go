package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/railzway-connect/internal/domain"
	"github.com/smallbiznis/railzway-connect/internal/domain/connection"
)

// ErrTenantNotFound signals a missing tenant or membership row.
var ErrTenantNotFound = errors.New("repository: tenant not found")

// ConnectionRepository persists credential records. Implementations enforce at most one
// active row per (tenant, user, provider) at the storage layer.
type ConnectionRepository interface {
	// ReplaceActive deactivates any active row for rec's triple and inserts rec as active, atomically.
	ReplaceActive(ctx context.Context, rec connection.Record) (connection.Record, error)
	GetActive(ctx context.Context, owner connection.Owner, provider connection.Provider) (connection.Record, error)
	ListActive(ctx context.Context, owner connection.Owner) ([]connection.Record, error)
	ListHistory(ctx context.Context, owner connection.Owner, provider connection.Provider) ([]connection.Record, error)
	// ListActiveAfter pages through every active row ordered by id.
	ListActiveAfter(ctx context.Context, afterID int64, limit int) ([]connection.Record, error)
	Deactivate(ctx context.Context, owner connection.Owner, provider connection.Provider, at time.Time) error
	UpdateCredential(ctx context.Context, id int64, payload string, expiresAt *time.Time, at time.Time) error
	MarkVerified(ctx context.Context, id int64, at time.Time) error
	MarkVerificationFailed(ctx context.Context, id int64, at time.Time) error
}

// TenantRepository exposes tenant and membership lookups.
type TenantRepository interface {
	GetTenant(ctx context.Context, tenantID int64) (domain.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (domain.Tenant, error)
	GetMembership(ctx context.Context, tenantID int64, userID string) (domain.Membership, error)
	UpsertTenant(ctx context.Context, tenant domain.Tenant) (domain.Tenant, error)
	UpsertMembership(ctx context.Context, m domain.Membership) error
}

// OAuthStateStore persists short-lived authorize state nonces.
type OAuthStateStore interface {
	SaveState(ctx context.Context, key string, data connection.OAuthState, ttl time.Duration) error
	// TakeState returns and deletes the entry, or nil when absent.
	TakeState(ctx context.Context, key string) (*connection.OAuthState, error)
}
