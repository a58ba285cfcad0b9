package tenant_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/railzway-connect/internal/domain"
	"github.com/smallbiznis/railzway-connect/internal/repository"
	"github.com/smallbiznis/railzway-connect/internal/tenant"
)

func TestResolverResolveByID(t *testing.T) {
	resolver := tenant.NewResolver(newMockTenantRepo(), zap.NewNop())

	ctx, err := resolver.Resolve(context.Background(), "1", "alice")
	require.NoError(t, err)
	require.Equal(t, int64(1), ctx.Tenant.ID)
	require.Equal(t, int64(1), ctx.Caller.TenantID)
	require.Equal(t, "alice", ctx.Caller.UserID)
	require.Equal(t, domain.RoleAdmin, ctx.Caller.Role)
	require.Equal(t, domain.TierFree, ctx.Caller.Subscription.Tier)
	require.True(t, ctx.Caller.Subscription.Active)
}

func TestResolverResolveBySlug(t *testing.T) {
	resolver := tenant.NewResolver(newMockTenantRepo(), zap.NewNop())

	ctx, err := resolver.Resolve(context.Background(), "  SmallBiznis ", "")
	require.NoError(t, err)
	require.Equal(t, int64(1), ctx.Tenant.ID)
	require.Empty(t, ctx.Caller.UserID)
}

func TestResolverErrors(t *testing.T) {
	resolver := tenant.NewResolver(newMockTenantRepo(), zap.NewNop())

	_, err := resolver.Resolve(context.Background(), "unknown", "")
	require.ErrorIs(t, err, tenant.ErrUnknownTenant)

	_, err = resolver.Resolve(context.Background(), "", "")
	require.ErrorIs(t, err, tenant.ErrUnknownTenant)

	_, err = resolver.Resolve(context.Background(), "smallbiznis", "mallory")
	require.ErrorIs(t, err, tenant.ErrNotMember)
}

type mockTenantRepo struct {
	tenants     map[int64]domain.Tenant
	memberships map[string]domain.Membership
}

func newMockTenantRepo() *mockTenantRepo {
	return &mockTenantRepo{
		tenants: map[int64]domain.Tenant{
			1: {ID: 1, Name: "SmallBiznis", Slug: "smallbiznis", Tier: domain.TierFree, SubscriptionStatus: "active"},
		},
		memberships: map[string]domain.Membership{
			"alice": {TenantID: 1, UserID: "alice", Role: domain.RoleAdmin},
		},
	}
}

func (m *mockTenantRepo) GetTenant(_ context.Context, tenantID int64) (domain.Tenant, error) {
	t, ok := m.tenants[tenantID]
	if !ok {
		return domain.Tenant{}, repository.ErrTenantNotFound
	}
	return t, nil
}

func (m *mockTenantRepo) GetTenantBySlug(_ context.Context, slug string) (domain.Tenant, error) {
	for _, t := range m.tenants {
		if t.Slug == slug {
			return t, nil
		}
	}
	return domain.Tenant{}, repository.ErrTenantNotFound
}

func (m *mockTenantRepo) GetMembership(_ context.Context, tenantID int64, userID string) (domain.Membership, error) {
	ms, ok := m.memberships[userID]
	if !ok || ms.TenantID != tenantID {
		return domain.Membership{}, repository.ErrTenantNotFound
	}
	return ms, nil
}

func (m *mockTenantRepo) UpsertTenant(_ context.Context, t domain.Tenant) (domain.Tenant, error) {
	m.tenants[t.ID] = t
	return t, nil
}

func (m *mockTenantRepo) UpsertMembership(_ context.Context, ms domain.Membership) error {
	m.memberships[ms.UserID] = ms
	return nil
}
