package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
)

const sessionLeeway = 30 * time.Second

// ErrInvalidSession is returned for any bearer token that fails verification.
var ErrInvalidSession = errors.New("jwt: invalid session token")

// SessionClaims are the private claims the dashboard puts in a session token.
type SessionClaims struct {
	Org string `json:"org,omitempty"`
}

// Session is a verified dashboard session.
type Session struct {
	UserID string
	Org    string
	Expiry time.Time
}

// SessionVerifier checks HS256 session tokens minted by the dashboard gateway.
type SessionVerifier struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// NewSessionVerifier constructs a verifier. The secret must be at least 32 bytes.
func NewSessionVerifier(secret, issuer, audience string) (*SessionVerifier, error) {
	trimmed := strings.TrimSpace(secret)
	if len(trimmed) < minSecretBytes {
		return nil, fmt.Errorf("session secret: %w", ErrWeakSecret)
	}
	return &SessionVerifier{
		secret:   []byte(trimmed),
		issuer:   issuer,
		audience: audience,
		now:      time.Now,
	}, nil
}

// Verify parses token and returns the session it carries. The subject is required.
func (v *SessionVerifier) Verify(token string) (*Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidSession
	}
	parsed, err := gojwt.ParseSigned(token, []gojose.SignatureAlgorithm{gojose.HS256})
	if err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrInvalidSession, err)
	}

	var (
		std    gojwt.Claims
		custom SessionClaims
	)
	if err := parsed.Claims(v.secret, &std, &custom); err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrInvalidSession, err)
	}
	expected := gojwt.Expected{Issuer: v.issuer, Time: v.now()}
	if v.audience != "" {
		expected.AnyAudience = gojwt.Audience{v.audience}
	}
	if err := std.ValidateWithLeeway(expected, sessionLeeway); err != nil {
		return nil, fmt.Errorf("%w: claims: %v", ErrInvalidSession, err)
	}
	if std.Expiry == nil {
		return nil, fmt.Errorf("%w: no expiry", ErrInvalidSession)
	}
	subject := strings.TrimSpace(std.Subject)
	if subject == "" {
		return nil, fmt.Errorf("%w: no subject", ErrInvalidSession)
	}

	return &Session{
		UserID: subject,
		Org:    strings.TrimSpace(custom.Org),
		Expiry: std.Expiry.Time(),
	}, nil
}

// Issue mints a session token for userID. The gateway holds the same secret; this is used by
// operator tooling and tests.
func (v *SessionVerifier) Issue(userID, org string, ttl time.Duration) (string, error) {
	signer, err := gojose.NewSigner(gojose.SigningKey{Algorithm: gojose.HS256, Key: v.secret}, (&gojose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}
	now := v.now().UTC()
	std := gojwt.Claims{
		Issuer:    v.issuer,
		Subject:   userID,
		IssuedAt:  gojwt.NewNumericDate(now),
		NotBefore: gojwt.NewNumericDate(now),
		Expiry:    gojwt.NewNumericDate(now.Add(ttl)),
	}
	if v.audience != "" {
		std.Audience = gojwt.Audience{v.audience}
	}
	token, err := gojwt.Signed(signer).Claims(std).Claims(SessionClaims{Org: org}).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize session: %w", err)
	}
	return token, nil
}
