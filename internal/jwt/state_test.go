package jwt

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/railzway-connect/internal/domain/connection"
)

const testSecret = "state-signing-secret-for-tests-0123456789"

func TestStateRoundTrip(t *testing.T) {
	store := newMemoryStateStore()
	signer, err := NewStateSigner(testSecret, time.Minute, store)
	require.NoError(t, err)
	ctx := context.Background()
	owner := connection.Owner{TenantID: 42, UserID: "user-9"}

	token, err := signer.Issue(ctx, owner, connection.ProviderGoogleAds, "onboarding")
	require.NoError(t, err)
	require.Len(t, strings.Split(token, "."), 3)

	state, err := signer.Consume(ctx, token, connection.ProviderGoogleAds)
	require.NoError(t, err)
	require.Equal(t, int64(42), state.TenantID)
	require.Equal(t, "user-9", state.UserID)
	require.Equal(t, "onboarding", state.Source)
}

func TestStateIsSingleUse(t *testing.T) {
	store := newMemoryStateStore()
	signer, err := NewStateSigner(testSecret, time.Minute, store)
	require.NoError(t, err)
	ctx := context.Background()

	token, err := signer.Issue(ctx, connection.Owner{TenantID: 1, UserID: "u"}, connection.ProviderHubSpot, "")
	require.NoError(t, err)

	_, err = signer.Consume(ctx, token, connection.ProviderHubSpot)
	require.NoError(t, err)
	_, err = signer.Consume(ctx, token, connection.ProviderHubSpot)
	require.ErrorIs(t, err, connection.ErrInvalidState)
}

func TestStateRejectsWrongProvider(t *testing.T) {
	signer, err := NewStateSigner(testSecret, time.Minute, newMemoryStateStore())
	require.NoError(t, err)
	ctx := context.Background()

	token, err := signer.Issue(ctx, connection.Owner{TenantID: 1, UserID: "u"}, connection.ProviderMetaAds, "")
	require.NoError(t, err)

	_, err = signer.Consume(ctx, token, connection.ProviderGoogleAds)
	require.ErrorIs(t, err, connection.ErrInvalidState)
}

func TestStateRejectsExpiredToken(t *testing.T) {
	signer, err := NewStateSigner(testSecret, time.Minute, newMemoryStateStore())
	require.NoError(t, err)
	ctx := context.Background()
	issuedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	signer.now = func() time.Time { return issuedAt }

	token, err := signer.Issue(ctx, connection.Owner{TenantID: 1, UserID: "u"}, connection.ProviderMailchimp, "")
	require.NoError(t, err)

	signer.now = func() time.Time { return issuedAt.Add(2 * time.Minute) }
	_, err = signer.Consume(ctx, token, connection.ProviderMailchimp)
	require.ErrorIs(t, err, connection.ErrInvalidState)
}

func TestStateRejectsForgedToken(t *testing.T) {
	store := newMemoryStateStore()
	signer, err := NewStateSigner(testSecret, time.Minute, store)
	require.NoError(t, err)
	forger, err := NewStateSigner("another-secret-that-is-long-enough-000000", time.Minute, store)
	require.NoError(t, err)
	ctx := context.Background()

	token, err := forger.Issue(ctx, connection.Owner{TenantID: 1, UserID: "victim"}, connection.ProviderSalesforce, "")
	require.NoError(t, err)

	_, err = signer.Consume(ctx, token, connection.ProviderSalesforce)
	require.ErrorIs(t, err, connection.ErrInvalidState)

	_, err = signer.Consume(ctx, "guessable-user-id", connection.ProviderSalesforce)
	require.ErrorIs(t, err, connection.ErrInvalidState)
}

func TestStateRequiresOwner(t *testing.T) {
	signer, err := NewStateSigner(testSecret, time.Minute, newMemoryStateStore())
	require.NoError(t, err)

	_, err = signer.Issue(context.Background(), connection.Owner{TenantID: 1}, connection.ProviderGoogleAds, "")
	require.ErrorIs(t, err, connection.ErrMissingUserID)
}

func TestNewStateSignerRejectsShortSecret(t *testing.T) {
	_, err := NewStateSigner("short", time.Minute, newMemoryStateStore())
	require.ErrorIs(t, err, ErrWeakSecret)
}

type memoryStateStore struct {
	mu   sync.Mutex
	data map[string]connection.OAuthState
}

func newMemoryStateStore() *memoryStateStore {
	return &memoryStateStore{data: map[string]connection.OAuthState{}}
}

func (m *memoryStateStore) SaveState(_ context.Context, key string, data connection.OAuthState, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return nil
}

func (m *memoryStateStore) TakeState(_ context.Context, key string) (*connection.OAuthState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	delete(m.data, key)
	return &state, nil
}
