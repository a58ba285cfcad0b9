package integration

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/railzway-connect/internal/adapter/provider"
	"github.com/smallbiznis/railzway-connect/internal/domain"
	"github.com/smallbiznis/railzway-connect/internal/domain/connection"
	"github.com/smallbiznis/railzway-connect/internal/events"
	"github.com/smallbiznis/railzway-connect/internal/health"
	"github.com/smallbiznis/railzway-connect/internal/jwt"
	"github.com/smallbiznis/railzway-connect/internal/registry"
	"github.com/smallbiznis/railzway-connect/internal/repository"
	"github.com/smallbiznis/railzway-connect/internal/vault"
)

type serviceHarness struct {
	service   *Service
	registry  *registry.Registry
	adapters  map[connection.Provider]*fakeAdapter
	publisher *recordingPublisher
}

func newServiceHarness(t *testing.T) *serviceHarness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), repository.GormConfig(zap.NewNop(), "warn"))
	require.NoError(t, err)
	require.NoError(t, repository.AutoMigrate(db))

	v, err := vault.New("service-test-master-secret-0123456789", vault.WithParams(vault.Params{Time: 1, Memory: 8 * 1024, Threads: 1}))
	require.NoError(t, err)
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	reg := registry.New(repository.NewGormConnectionRepo(db), v, node, zap.NewNop())

	signer, err := jwt.NewStateSigner("service-test-state-secret-0123456789", time.Minute, newMemoryStateStore())
	require.NoError(t, err)

	dir := &fakeDirectory{adapters: map[connection.Provider]*fakeAdapter{}}
	for _, p := range []connection.Provider{
		connection.ProviderGoogleAds,
		connection.ProviderMetaAds,
		connection.ProviderHubSpot,
		connection.ProviderSalesforce,
	} {
		dir.order = append(dir.order, p)
		dir.adapters[p] = &fakeAdapter{
			provider: p,
			token:    connection.RawToken{AccessToken: "at-" + p.String(), RefreshToken: "rt-" + p.String()},
			summary:  connection.AccountSummary{ID: "acct-" + p.String(), Name: "Account " + p.String(), Verified: true},
		}
	}

	pub := &recordingPublisher{}
	svc := NewService(reg, dir, signer, pub, nil, Options{Policy: health.DefaultPolicy(), PreviewLimit: 2}, zap.NewNop())
	return &serviceHarness{service: svc, registry: reg, adapters: dir.adapters, publisher: pub}
}

func paidMember(tenantID int64, userID string) connection.Caller {
	return connection.Caller{
		Owner:        connection.Owner{TenantID: tenantID, UserID: userID},
		Role:         domain.RoleMember,
		Subscription: domain.Subscription{Tier: domain.TierPro, Active: true},
	}
}

func freeMember(tenantID int64, userID string) connection.Caller {
	return connection.Caller{
		Owner:        connection.Owner{TenantID: tenantID, UserID: userID},
		Role:         domain.RoleMember,
		Subscription: domain.Subscription{Tier: domain.TierFree, Active: true},
	}
}

// connect drives a full authorize and callback round trip.
func (h *serviceHarness) connect(t *testing.T, caller connection.Caller, p connection.Provider) connection.Record {
	t.Helper()
	ctx := context.Background()
	authURL, err := h.service.StartAuthorization(ctx, caller, p, "onboarding")
	require.NoError(t, err)
	result, err := h.service.HandleCallback(ctx, CallbackInput{Provider: p, Code: "code-123", State: stateFrom(t, authURL)})
	require.NoError(t, err)
	require.Equal(t, "onboarding", result.Source)
	return result.Record
}

func stateFrom(t *testing.T, authURL string) string {
	t.Helper()
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestHandleCallbackStoresConnection(t *testing.T) {
	h := newServiceHarness(t)
	caller := paidMember(1, "alice")

	rec := h.connect(t, caller, connection.ProviderGoogleAds)
	require.True(t, rec.IsActive)
	require.Equal(t, "acct-google_ads", rec.Account.ID)
	require.Equal(t, caller.Owner, rec.Owner())

	payload, err := h.registry.OpenPayload(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, "at-google_ads", payload.AccessToken)

	require.Equal(t, []events.Type{events.TypeConnected}, h.publisher.types())
}

func TestHandleCallbackReconnectKeepsOneActive(t *testing.T) {
	h := newServiceHarness(t)
	caller := paidMember(1, "alice")

	h.connect(t, caller, connection.ProviderHubSpot)
	second := h.connect(t, caller, connection.ProviderHubSpot)

	status, err := h.service.Status(context.Background(), caller, caller.Owner)
	require.NoError(t, err)
	require.Equal(t, 1, status.ConnectedCount)

	history, err := h.service.History(context.Background(), caller, caller.Owner, connection.ProviderHubSpot)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, second.ID, history[0].ID)
	require.True(t, history[0].IsActive)
	require.False(t, history[1].IsActive)
}

func TestHandleCallbackFailures(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	caller := paidMember(1, "alice")
	p := connection.ProviderMetaAds

	issue := func() string {
		authURL, err := h.service.StartAuthorization(ctx, caller, p, "settings")
		require.NoError(t, err)
		return stateFrom(t, authURL)
	}

	result, err := h.service.HandleCallback(ctx, CallbackInput{Provider: p, State: issue(), Error: "access_denied"})
	require.ErrorIs(t, err, connection.ErrOAuthDenied)
	require.Equal(t, "settings", result.Source)

	_, err = h.service.HandleCallback(ctx, CallbackInput{Provider: p, State: issue(), Error: "server_error"})
	require.ErrorIs(t, err, connection.ErrOAuthFailed)

	_, err = h.service.HandleCallback(ctx, CallbackInput{Provider: p, State: issue()})
	require.ErrorIs(t, err, connection.ErrMissingCode)

	_, err = h.service.HandleCallback(ctx, CallbackInput{Provider: p, Code: "c", State: "forged"})
	require.ErrorIs(t, err, connection.ErrInvalidState)

	_, err = h.service.HandleCallback(ctx, CallbackInput{Provider: p, Code: "c"})
	require.ErrorIs(t, err, connection.ErrInvalidState)

	state := issue()
	_, err = h.service.HandleCallback(ctx, CallbackInput{Provider: connection.ProviderGoogleAds, Code: "c", State: state})
	require.ErrorIs(t, err, connection.ErrInvalidState)

	h.adapters[p].exchangeErr = &connection.TokenExchangeError{Provider: p, StatusCode: 400, Reason: "invalid_grant"}
	_, err = h.service.HandleCallback(ctx, CallbackInput{Provider: p, Code: "c", State: issue()})
	var exErr *connection.TokenExchangeError
	require.True(t, errors.As(err, &exErr))

	_, err = h.service.HandleCallback(ctx, CallbackInput{Provider: connection.ProviderMailchimp, Code: "c", State: "x"})
	require.ErrorIs(t, err, connection.ErrProviderNotSupported)

	require.Empty(t, h.publisher.types())
}

func TestHandleCallbackSwallowsSummaryFailure(t *testing.T) {
	h := newServiceHarness(t)
	caller := paidMember(3, "bob")
	h.adapters[connection.ProviderSalesforce].summaryErr = &connection.ProviderUnavailableError{Provider: connection.ProviderSalesforce, StatusCode: 503}

	rec := h.connect(t, caller, connection.ProviderSalesforce)
	require.True(t, rec.Account.Empty())
}

func TestStartAuthorizationRequiresUser(t *testing.T) {
	h := newServiceHarness(t)
	_, err := h.service.StartAuthorization(context.Background(), paidMember(1, ""), connection.ProviderGoogleAds, "")
	require.ErrorIs(t, err, connection.ErrMissingUserID)

	_, err = h.service.StartAuthorization(context.Background(), paidMember(1, "u"), connection.ProviderMailchimp, "")
	require.ErrorIs(t, err, connection.ErrProviderNotSupported)
}

func TestStatusFullAccess(t *testing.T) {
	h := newServiceHarness(t)
	caller := paidMember(1, "alice")
	h.connect(t, caller, connection.ProviderGoogleAds)

	overview, err := h.service.Status(context.Background(), caller, caller.Owner)
	require.NoError(t, err)
	require.False(t, overview.Preview)
	require.True(t, overview.Access.HasFullAccess)
	require.Len(t, overview.Connections, 4)
	require.Equal(t, 1, overview.ConnectedCount)
	require.Equal(t, 4, overview.TotalProviders)
	require.Equal(t, 25, overview.HealthScore)

	row := overview.Connections[0]
	require.Equal(t, connection.ProviderGoogleAds, row.Provider)
	require.Equal(t, connection.StatusActive, row.Status)
	require.NotNil(t, row.AccountSummary)
	require.NotNil(t, row.LastSync)
	require.Equal(t, connection.StatusNotConnected, overview.Connections[1].Status)
	require.Nil(t, overview.Connections[1].AccountSummary)
}

func TestStatusPreviewForLimitedCaller(t *testing.T) {
	h := newServiceHarness(t)
	caller := freeMember(1, "carol")
	h.connect(t, caller, connection.ProviderSalesforce)

	overview, err := h.service.Status(context.Background(), caller, caller.Owner)
	require.NoError(t, err)
	require.True(t, overview.Preview)
	require.False(t, overview.Access.HasFullAccess)
	require.Len(t, overview.Connections, 2)
	require.Equal(t, connection.ProviderSalesforce, overview.Connections[0].Provider)
	require.True(t, overview.Connections[0].Connected)
	for _, row := range overview.Connections {
		require.Nil(t, row.AccountSummary)
		require.Nil(t, row.LastSync)
		require.Nil(t, row.ExpiresAt)
	}
	require.Equal(t, 1, overview.ConnectedCount)

	admin := connection.Caller{Owner: connection.Owner{TenantID: 1, UserID: "root"}, Role: domain.RoleAdmin}
	full, err := h.service.Status(context.Background(), admin, caller.Owner)
	require.NoError(t, err)
	require.False(t, full.Preview)
	require.Len(t, full.Connections, 4)
}

func TestStatusPreviewDefaultsLimit(t *testing.T) {
	h := newServiceHarness(t)
	svc := NewService(h.service.registry, h.service.providers, h.service.states, nil, nil, Options{Policy: health.DefaultPolicy()}, zap.NewNop())
	require.Equal(t, DefaultPreviewLimit, svc.opts.PreviewLimit)

	caller := freeMember(1, "dave")
	overview, err := svc.Status(context.Background(), caller, caller.Owner)
	require.NoError(t, err)
	require.True(t, overview.Preview)
	require.Len(t, overview.Connections, DefaultPreviewLimit)

	negative := NewService(h.service.registry, h.service.providers, h.service.states, nil, nil, Options{PreviewLimit: -1}, zap.NewNop())
	require.Equal(t, DefaultPreviewLimit, negative.opts.PreviewLimit)
}

func TestDisconnectThenStatus(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	caller := paidMember(1, "alice")
	h.connect(t, caller, connection.ProviderGoogleAds)

	require.NoError(t, h.service.Disconnect(ctx, caller, caller.Owner, connection.ProviderGoogleAds))
	require.ErrorIs(t, h.service.Disconnect(ctx, caller, caller.Owner, connection.ProviderGoogleAds), connection.ErrNotFound)

	row, err := h.service.ProviderStatus(ctx, caller, caller.Owner, connection.ProviderGoogleAds)
	require.NoError(t, err)
	require.Equal(t, connection.StatusNotConnected, row.Status)
	require.False(t, row.Connected)

	history, err := h.service.History(ctx, caller, caller.Owner, connection.ProviderGoogleAds)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.False(t, history[0].IsActive)

	require.Equal(t, []events.Type{events.TypeConnected, events.TypeDisconnected}, h.publisher.types())
}

func TestVerifyConnectionOutcomes(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	caller := paidMember(1, "alice")
	p := connection.ProviderHubSpot
	rec := h.connect(t, caller, p)
	adapter := h.adapters[p]

	adapter.summaryErr = &connection.ProviderUnavailableError{Provider: p, StatusCode: 502}
	status, err := h.service.VerifyConnection(ctx, rec)
	require.Error(t, err)
	require.Equal(t, connection.StatusActive, status)

	adapter.summaryErr = fmt.Errorf("summary: %w", connection.ErrCredentialRejected)
	status, err = h.service.VerifyConnection(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, connection.StatusError, status)

	stored, err := h.registry.GetActive(ctx, caller, caller.Owner, p)
	require.NoError(t, err)
	require.True(t, stored.VerificationFailed())
	require.Contains(t, h.publisher.types(), events.TypeVerificationFailed)

	time.Sleep(2 * time.Millisecond)
	adapter.summaryErr = nil
	status, err = h.service.VerifyConnection(ctx, stored)
	require.NoError(t, err)
	require.Equal(t, connection.StatusActive, status)

	stored, err = h.registry.GetActive(ctx, caller, caller.Owner, p)
	require.NoError(t, err)
	require.False(t, stored.VerificationFailed())
}

func TestVerifyConnectionRefreshesExpired(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	caller := paidMember(1, "alice")
	p := connection.ProviderSalesforce
	past := time.Now().Add(-time.Hour)
	h.adapters[p].token.ExpiresAt = &past
	rec := h.connect(t, caller, p)

	future := time.Now().Add(30 * 24 * time.Hour)
	h.adapters[p].refreshed = connection.RawToken{AccessToken: "fresh", ExpiresAt: &future}

	status, err := h.service.VerifyConnection(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, connection.StatusActive, status)
	require.Equal(t, "fresh", h.adapters[p].lastSummaryToken)

	stored, err := h.registry.GetActive(ctx, caller, caller.Owner, p)
	require.NoError(t, err)
	payload, err := h.registry.OpenPayload(ctx, stored)
	require.NoError(t, err)
	require.Equal(t, "fresh", payload.AccessToken)
	require.Equal(t, "rt-salesforce", payload.RefreshToken)
}

func TestVerifyConnectionUnreadablePayload(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	caller := paidMember(1, "alice")
	rec := h.connect(t, caller, connection.ProviderMetaAds)

	rec.EncryptedPayload = "AAAA" + rec.EncryptedPayload[4:]
	status, err := h.service.VerifyConnection(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, connection.StatusError, status)
}

func TestVerifyAll(t *testing.T) {
	h := newServiceHarness(t)
	for i := 1; i <= 3; i++ {
		h.connect(t, paidMember(int64(i), "u"), connection.ProviderGoogleAds)
	}
	h.connect(t, paidMember(9, "u"), connection.ProviderMetaAds)
	h.adapters[connection.ProviderMetaAds].summaryErr = connection.ErrCredentialRejected

	report, err := h.service.VerifyAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, report.Visited)
	require.Equal(t, 3, report.Verified)
	require.Equal(t, 1, report.Failed)
}

type fakeDirectory struct {
	order    []connection.Provider
	adapters map[connection.Provider]*fakeAdapter
}

func (d *fakeDirectory) Get(p connection.Provider) (provider.Adapter, error) {
	a, ok := d.adapters[p]
	if !ok {
		return nil, connection.ErrProviderNotSupported
	}
	return a, nil
}

func (d *fakeDirectory) Known(p connection.Provider) bool {
	_, ok := d.adapters[p]
	return ok
}

func (d *fakeDirectory) Enabled() []provider.Descriptor {
	out := make([]provider.Descriptor, 0, len(d.order))
	for _, p := range d.order {
		out = append(out, provider.Descriptor{Provider: p, DisplayName: p.String()})
	}
	return out
}

type fakeAdapter struct {
	provider         connection.Provider
	token            connection.RawToken
	exchangeErr      error
	summary          connection.AccountSummary
	summaryErr       error
	refreshed        connection.RawToken
	refreshErr       error
	lastSummaryToken string
}

func (a *fakeAdapter) Provider() connection.Provider { return a.provider }

func (a *fakeAdapter) BuildAuthorizeURL(_ context.Context, state string) (string, error) {
	return "https://provider.test/authorize?client_id=test&state=" + url.QueryEscape(state), nil
}

func (a *fakeAdapter) ExchangeCode(context.Context, string) (connection.RawToken, error) {
	if a.exchangeErr != nil {
		return connection.RawToken{}, a.exchangeErr
	}
	return a.token, nil
}

func (a *fakeAdapter) FetchAccountSummary(_ context.Context, accessToken string) (connection.AccountSummary, error) {
	a.lastSummaryToken = accessToken
	if a.summaryErr != nil {
		return connection.AccountSummary{}, a.summaryErr
	}
	return a.summary, nil
}

func (a *fakeAdapter) Refresh(context.Context, string) (connection.RawToken, error) {
	if a.refreshErr != nil {
		return connection.RawToken{}, a.refreshErr
	}
	return a.refreshed, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type memoryStateStore struct {
	mu     sync.Mutex
	values map[string]connection.OAuthState
}

func newMemoryStateStore() *memoryStateStore {
	return &memoryStateStore{values: map[string]connection.OAuthState{}}
}

func (m *memoryStateStore) SaveState(_ context.Context, key string, state connection.OAuthState, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = state
	return nil
}

func (m *memoryStateStore) TakeState(_ context.Context, key string) (*connection.OAuthState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.values[key]
	if !ok {
		return nil, nil
	}
	delete(m.values, key)
	return &state, nil
}
