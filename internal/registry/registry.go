// Package registry owns the canonical credential record for each (tenant, user, provider).
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/smallbiznis/railzway-connect/internal/domain/connection"
	"github.com/smallbiznis/railzway-connect/internal/repository"
)

// DefaultSweepBatch is the page size used by Sweep.
const DefaultSweepBatch = 200

// Sealer is the subset of the token vault the registry needs.
type Sealer interface {
	SealJSON(ctx context.Context, value any) (string, error)
	OpenJSON(ctx context.Context, blob string, out any) error
}

// Registry seals credentials and persists them with ownership checks.
type Registry struct {
	repo   repository.ConnectionRepository
	vault  Sealer
	ids    *snowflake.Node
	logger *zap.Logger
	now    func() time.Time
}

// New constructs a Registry.
func New(repo repository.ConnectionRepository, vault Sealer, ids *snowflake.Node, logger *zap.Logger) *Registry {
	return &Registry{
		repo:   repo,
		vault:  vault,
		ids:    ids,
		logger: logger,
		now:    time.Now,
	}
}

// Upsert seals token and summary and makes the result the single active record for the
// owner's provider, deactivating whatever was active before.
func (r *Registry) Upsert(ctx context.Context, caller connection.Caller, owner connection.Owner, provider connection.Provider, token connection.RawToken, summary connection.AccountSummary) (connection.Record, error) {
	if err := authorizeMutation(caller, owner, "connect"); err != nil {
		return connection.Record{}, err
	}
	if token.AccessToken == "" {
		return connection.Record{}, fmt.Errorf("%w: access token required", connection.ErrInvalidRequest)
	}

	now := r.now().UTC()
	blob, err := r.vault.SealJSON(ctx, connection.Payload{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Scope:        token.Scope,
		Account:      summary,
		ObtainedAt:   now,
	})
	if err != nil {
		return connection.Record{}, fmt.Errorf("seal payload: %w", err)
	}

	rec, err := r.repo.ReplaceActive(ctx, connection.Record{
		ID:               r.ids.Generate().Int64(),
		Provider:         provider,
		TenantID:         owner.TenantID,
		UserID:           owner.UserID,
		EncryptedPayload: blob,
		Account:          summary,
		ExpiresAt:        token.ExpiresAt,
		LastVerifiedAt:   &now,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return connection.Record{}, err
	}

	r.log().Info("connection stored",
		zap.Int64("tenant_id", owner.TenantID),
		zap.String("provider", provider.String()),
		zap.Int64("record_id", rec.ID),
	)
	return rec, nil
}

// GetActive returns the active record or connection.ErrNotFound.
func (r *Registry) GetActive(ctx context.Context, caller connection.Caller, owner connection.Owner, provider connection.Provider) (connection.Record, error) {
	if err := authorizeRead(caller, owner, "read"); err != nil {
		return connection.Record{}, err
	}
	return r.repo.GetActive(ctx, owner, provider)
}

// List returns every active record of owner.
func (r *Registry) List(ctx context.Context, caller connection.Caller, owner connection.Owner) ([]connection.Record, error) {
	if err := authorizeRead(caller, owner, "list"); err != nil {
		return nil, err
	}
	return r.repo.ListActive(ctx, owner)
}

// History returns all rows for the triple, newest first, including inactive ones.
func (r *Registry) History(ctx context.Context, caller connection.Caller, owner connection.Owner, provider connection.Provider) ([]connection.Record, error) {
	if err := authorizeRead(caller, owner, "history"); err != nil {
		return nil, err
	}
	return r.repo.ListHistory(ctx, owner, provider)
}

// Deactivate soft-deletes the active record. History is preserved.
func (r *Registry) Deactivate(ctx context.Context, caller connection.Caller, owner connection.Owner, provider connection.Provider) (connection.Record, error) {
	if err := authorizeMutation(caller, owner, "disconnect"); err != nil {
		return connection.Record{}, err
	}
	rec, err := r.repo.GetActive(ctx, owner, provider)
	if err != nil {
		return connection.Record{}, err
	}
	if err := r.repo.Deactivate(ctx, owner, provider, r.now().UTC()); err != nil {
		return connection.Record{}, err
	}
	rec.IsActive = false
	return rec, nil
}

// OpenPayload decrypts rec's payload. Failures are DecryptionError and are never retried.
func (r *Registry) OpenPayload(ctx context.Context, rec connection.Record) (connection.Payload, error) {
	var payload connection.Payload
	if err := r.vault.OpenJSON(ctx, rec.EncryptedPayload, &payload); err != nil {
		return connection.Payload{}, &connection.DecryptionError{RecordID: rec.ID, Err: err}
	}
	return payload, nil
}

// Rotate replaces the credential of an active record after a refresh, keeping its account
// summary, and counts as a successful verification.
func (r *Registry) Rotate(ctx context.Context, rec connection.Record, previous connection.Payload, token connection.RawToken) (connection.Record, error) {
	now := r.now().UTC()
	refresh := token.RefreshToken
	if refresh == "" {
		refresh = previous.RefreshToken
	}
	payload := connection.Payload{
		AccessToken:  token.AccessToken,
		RefreshToken: refresh,
		TokenType:    token.TokenType,
		Scope:        token.Scope,
		Account:      previous.Account,
		ObtainedAt:   now,
	}
	if payload.Scope == "" {
		payload.Scope = previous.Scope
	}
	blob, err := r.vault.SealJSON(ctx, payload)
	if err != nil {
		return connection.Record{}, fmt.Errorf("seal payload: %w", err)
	}
	if err := r.repo.UpdateCredential(ctx, rec.ID, blob, token.ExpiresAt, now); err != nil {
		return connection.Record{}, err
	}
	rec.EncryptedPayload = blob
	rec.ExpiresAt = token.ExpiresAt
	rec.LastVerifiedAt = &now
	rec.UpdatedAt = now
	return rec, nil
}

// MarkVerified records a successful live check, clearing the error flag.
func (r *Registry) MarkVerified(ctx context.Context, rec connection.Record) (connection.Record, error) {
	now := r.now().UTC()
	if err := r.repo.MarkVerified(ctx, rec.ID, now); err != nil {
		return connection.Record{}, err
	}
	rec.LastVerifiedAt = &now
	rec.UpdatedAt = now
	return rec, nil
}

// MarkVerificationFailed sets the error flag after an explicit provider rejection.
func (r *Registry) MarkVerificationFailed(ctx context.Context, rec connection.Record) (connection.Record, error) {
	now := r.now().UTC()
	if err := r.repo.MarkVerificationFailed(ctx, rec.ID, now); err != nil {
		return connection.Record{}, err
	}
	rec.VerificationFailedAt = &now
	rec.UpdatedAt = now
	return rec, nil
}

// Sweep calls fn for every active record across all tenants, page by page. A failing fn
// is logged and the sweep continues; only repository errors abort it.
func (r *Registry) Sweep(ctx context.Context, batch int, fn func(context.Context, connection.Record) error) (int, error) {
	if batch <= 0 {
		batch = DefaultSweepBatch
	}
	var (
		afterID int64
		visited int
	)
	for {
		if err := ctx.Err(); err != nil {
			return visited, err
		}
		page, err := r.repo.ListActiveAfter(ctx, afterID, batch)
		if err != nil {
			return visited, err
		}
		for _, rec := range page {
			visited++
			if err := fn(ctx, rec); err != nil {
				r.log().Warn("sweep item failed",
					zap.Int64("record_id", rec.ID),
					zap.String("provider", rec.Provider.String()),
					zap.Error(err),
				)
			}
			afterID = rec.ID
		}
		if len(page) < batch {
			return visited, nil
		}
	}
}

func authorizeMutation(caller connection.Caller, owner connection.Owner, action string) error {
	if !owner.Valid() {
		return fmt.Errorf("%w: tenant and user required", connection.ErrInvalidRequest)
	}
	if caller.Owner != owner {
		return &connection.AuthorizationError{Action: action, Caller: caller.Owner, Target: owner}
	}
	return nil
}

// authorizeRead lets tenant admins and owners inspect other members' credentials.
func authorizeRead(caller connection.Caller, owner connection.Owner, action string) error {
	if !owner.Valid() {
		return fmt.Errorf("%w: tenant and user required", connection.ErrInvalidRequest)
	}
	if caller.Owner == owner {
		return nil
	}
	if caller.TenantID == owner.TenantID && caller.Role.IsAdministrative() {
		return nil
	}
	return &connection.AuthorizationError{Action: action, Caller: caller.Owner, Target: owner}
}

// IsAuthorizationError reports whether err is an ownership denial.
func IsAuthorizationError(err error) bool {
	var authErr *connection.AuthorizationError
	return errors.As(err, &authErr)
}

func (r *Registry) log() *zap.Logger {
	if r != nil && r.logger != nil {
		return r.logger
	}
	return zap.L()
}
