package jwt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/smallbiznis/railzway-connect/internal/domain/connection"
	"github.com/smallbiznis/railzway-connect/internal/repository"
)

const (
	stateIssuer    = "railzway-connect"
	statePrefix    = "connect:state:"
	minSecretBytes = 32
)

// ErrWeakSecret is returned when the signing secret is too short for HS256.
var ErrWeakSecret = errors.New("jwt: state signing secret must be at least 32 bytes")

// StateClaims are the private claims carried in an authorize state token.
type StateClaims struct {
	TenantID int64  `json:"tid"`
	UserID   string `json:"uid"`
	Provider string `json:"prv"`
	Source   string `json:"src,omitempty"`
}

// StateSigner issues and redeems signed, time-boxed, single-use OAuth state tokens.
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	store  repository.OAuthStateStore
	now    func() time.Time
}

// NewStateSigner constructs a StateSigner. The secret must be at least 32 bytes.
func NewStateSigner(secret string, ttl time.Duration, store repository.OAuthStateStore) (*StateSigner, error) {
	trimmed := strings.TrimSpace(secret)
	if len(trimmed) < minSecretBytes {
		return nil, ErrWeakSecret
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StateSigner{secret: []byte(trimmed), ttl: ttl, store: store, now: time.Now}, nil
}

// Issue signs a state token for owner and records its nonce server-side.
func (s *StateSigner) Issue(ctx context.Context, owner connection.Owner, provider connection.Provider, source string) (string, error) {
	if !owner.Valid() {
		return "", connection.ErrMissingUserID
	}

	signer, err := gojose.NewSigner(gojose.SigningKey{Algorithm: gojose.HS256, Key: s.secret}, (&gojose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	now := s.now().UTC()
	nonce := uuid.NewString()
	std := gojwt.Claims{
		ID:        nonce,
		Issuer:    stateIssuer,
		Subject:   owner.UserID,
		IssuedAt:  gojwt.NewNumericDate(now),
		NotBefore: gojwt.NewNumericDate(now),
		Expiry:    gojwt.NewNumericDate(now.Add(s.ttl)),
	}
	custom := StateClaims{
		TenantID: owner.TenantID,
		UserID:   owner.UserID,
		Provider: provider.String(),
		Source:   source,
	}

	token, err := gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize state: %w", err)
	}

	record := connection.OAuthState{
		Nonce:     nonce,
		Provider:  provider,
		TenantID:  owner.TenantID,
		UserID:    owner.UserID,
		Source:    source,
		CreatedAt: now,
	}
	if err := s.store.SaveState(ctx, statePrefix+nonce, record, s.ttl); err != nil {
		return "", fmt.Errorf("persist state: %w", err)
	}
	return token, nil
}

// Consume verifies token for provider and deletes its nonce so it cannot be replayed.
func (s *StateSigner) Consume(ctx context.Context, token string, provider connection.Provider) (*connection.OAuthState, error) {
	if strings.TrimSpace(token) == "" {
		return nil, connection.ErrInvalidState
	}

	parsed, err := gojwt.ParseSigned(token, []gojose.SignatureAlgorithm{gojose.HS256})
	if err != nil {
		return nil, fmt.Errorf("%w: parse: %v", connection.ErrInvalidState, err)
	}

	var (
		std    gojwt.Claims
		custom StateClaims
	)
	if err := parsed.Claims(s.secret, &std, &custom); err != nil {
		return nil, fmt.Errorf("%w: signature: %v", connection.ErrInvalidState, err)
	}
	if err := std.ValidateWithLeeway(gojwt.Expected{Issuer: stateIssuer, Time: s.now()}, 0); err != nil {
		return nil, fmt.Errorf("%w: claims: %v", connection.ErrInvalidState, err)
	}
	if custom.Provider != provider.String() {
		return nil, fmt.Errorf("%w: provider mismatch", connection.ErrInvalidState)
	}

	stored, err := s.store.TakeState(ctx, statePrefix+std.ID)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if stored == nil {
		return nil, fmt.Errorf("%w: unknown or reused nonce", connection.ErrInvalidState)
	}
	if stored.TenantID != custom.TenantID || stored.UserID != custom.UserID || stored.Provider != provider {
		return nil, fmt.Errorf("%w: binding mismatch", connection.ErrInvalidState)
	}
	return stored, nil
}
