package bootstrap

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/railzway-connect/internal/config"
	"github.com/smallbiznis/railzway-connect/internal/domain"
	"github.com/smallbiznis/railzway-connect/internal/repository"
)

func TestEnsureDefaultTenant(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:bootstrap_seed?mode=memory&cache=shared"), repository.GormConfig(zap.NewNop(), "warn"))
	require.NoError(t, err)
	require.NoError(t, repository.AutoMigrate(db))
	tenants := repository.NewGormTenantRepo(db)
	ctx := context.Background()

	require.NoError(t, ensureDefaultTenant(ctx, config.Config{}, tenants, zap.NewNop()))
	_, err = tenants.GetTenant(ctx, 7)
	require.ErrorIs(t, err, repository.ErrTenantNotFound)

	cfg := config.Config{DefaultTenantID: 7, DefaultTenantSlug: "Acme", DefaultOwnerUserID: "owner-1"}
	require.NoError(t, ensureDefaultTenant(ctx, cfg, tenants, zap.NewNop()))
	require.NoError(t, ensureDefaultTenant(ctx, cfg, tenants, zap.NewNop()))

	tenant, err := tenants.GetTenant(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, "acme", tenant.Slug)
	require.Equal(t, domain.TierFree, tenant.Tier)

	m, err := tenants.GetMembership(ctx, 7, "owner-1")
	require.NoError(t, err)
	require.Equal(t, domain.RoleOwner, m.Role)
}

func TestMigrateURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@db:5432/connect?sslmode=disable", migrateURL("postgres://u:p@db:5432/connect?sslmode=disable"))
	require.Equal(t, "pgx5://db/connect", migrateURL("postgresql://db/connect"))
	require.Equal(t, "pgx5://db/connect", migrateURL("pgx5://db/connect"))
}
