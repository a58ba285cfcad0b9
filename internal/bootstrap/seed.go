package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/railzway-connect/internal/config"
	"github.com/smallbiznis/railzway-connect/internal/domain"
	"github.com/smallbiznis/railzway-connect/internal/repository"
)

// EnsureDefaultTenant seeds a tenant and its owner for dev/e2e when DEFAULT_TENANT_ID is set.
func EnsureDefaultTenant(lc fx.Lifecycle, cfg config.Config, tenants repository.TenantRepository, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureDefaultTenant(ctx, cfg, tenants, logger)
		},
	})
}

func ensureDefaultTenant(ctx context.Context, cfg config.Config, tenants repository.TenantRepository, logger *zap.Logger) error {
	if cfg.DefaultTenantID == 0 {
		return nil
	}
	slug := strings.ToLower(strings.TrimSpace(cfg.DefaultTenantSlug))
	if slug == "" {
		slug = "default"
	}

	existing, err := tenants.GetTenant(ctx, cfg.DefaultTenantID)
	switch {
	case err == nil:
		slug = existing.Slug
	case errors.Is(err, repository.ErrTenantNotFound):
		if _, err := tenants.UpsertTenant(ctx, domain.Tenant{
			ID:                 cfg.DefaultTenantID,
			Name:               slug,
			Slug:               slug,
			Tier:               domain.TierFree,
			SubscriptionStatus: "active",
		}); err != nil {
			return fmt.Errorf("bootstrap create tenant: %w", err)
		}
	default:
		return fmt.Errorf("bootstrap tenant lookup: %w", err)
	}

	owner := strings.TrimSpace(cfg.DefaultOwnerUserID)
	if owner != "" {
		if err := tenants.UpsertMembership(ctx, domain.Membership{
			TenantID: cfg.DefaultTenantID,
			UserID:   owner,
			Role:     domain.RoleOwner,
		}); err != nil {
			return fmt.Errorf("bootstrap owner membership: %w", err)
		}
	}

	if logger != nil {
		logger.Info("default tenant ensured",
			zap.Int64("tenant_id", cfg.DefaultTenantID),
			zap.String("slug", slug),
			zap.Bool("owner_seeded", owner != ""),
		)
	}
	return nil
}
