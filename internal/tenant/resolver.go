package tenant

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/smallbiznis/railzway-connect/internal/domain"
	"github.com/smallbiznis/railzway-connect/internal/domain/connection"
	"github.com/smallbiznis/railzway-connect/internal/repository"
)

var (
	// ErrUnknownTenant is returned when the reference matches no tenant.
	ErrUnknownTenant = errors.New("tenant: unknown tenant")
	// ErrNotMember is returned when the user holds no membership in the tenant.
	ErrNotMember = errors.New("tenant: user is not a member")
)

// Context stores resolved tenant metadata used throughout the request lifecycle.
type Context struct {
	Tenant domain.Tenant
	Caller connection.Caller
}

// Resolver loads tenants and memberships from repositories.
type Resolver struct {
	repo   repository.TenantRepository
	logger *zap.Logger
}

// NewResolver creates a tenant resolver.
func NewResolver(repo repository.TenantRepository, logger *zap.Logger) *Resolver {
	return &Resolver{repo: repo, logger: logger}
}

// Resolve loads the tenant named by ref, which is either its numeric id or its slug.
// When userID is set the caller's membership is loaded as well.
func (r *Resolver) Resolve(ctx context.Context, ref, userID string) (*Context, error) {
	cleaned := strings.ToLower(strings.TrimSpace(ref))
	if cleaned == "" {
		return nil, fmt.Errorf("resolve tenant: %w", ErrUnknownTenant)
	}

	var (
		tenantRow domain.Tenant
		err       error
	)
	if id, parseErr := strconv.ParseInt(cleaned, 10, 64); parseErr == nil {
		tenantRow, err = r.repo.GetTenant(ctx, id)
	} else {
		tenantRow, err = r.repo.GetTenantBySlug(ctx, cleaned)
	}
	if err != nil {
		if errors.Is(err, repository.ErrTenantNotFound) {
			return nil, fmt.Errorf("resolve tenant: %w", ErrUnknownTenant)
		}
		r.log().Error("failed to resolve tenant", zap.String("ref", cleaned), zap.Error(err))
		return nil, fmt.Errorf("resolve tenant: %w", err)
	}

	out := &Context{
		Tenant: tenantRow,
		Caller: connection.Caller{
			Owner:        connection.Owner{TenantID: tenantRow.ID},
			Subscription: tenantRow.Subscription(),
		},
	}

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return out, nil
	}
	membership, err := r.repo.GetMembership(ctx, tenantRow.ID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrTenantNotFound) {
			return nil, fmt.Errorf("resolve membership: %w", ErrNotMember)
		}
		r.log().Error("failed to resolve membership", zap.Int64("tenant_id", tenantRow.ID), zap.Error(err))
		return nil, fmt.Errorf("resolve membership: %w", err)
	}
	out.Caller.UserID = membership.UserID
	out.Caller.Role = membership.Role

	r.log().Debug("tenant context resolved", zap.Int64("tenant_id", tenantRow.ID), zap.String("role", string(membership.Role)))
	return out, nil
}

func (r *Resolver) log() *zap.Logger {
	if r != nil && r.logger != nil {
		return r.logger
	}
	return zap.L()
}
