package connection

import (
	"strings"
	"time"

	"github.com/smallbiznis/railzway-connect/internal/domain"
)

// Provider identifies an external system that issues OAuth credentials.
type Provider string

const (
	ProviderGoogleAds        Provider = "google_ads"
	ProviderGoogleAnalytics  Provider = "google_analytics"
	ProviderMetaAds          Provider = "meta_ads"
	ProviderLinkedInAds      Provider = "linkedin_ads"
	ProviderHubSpot          Provider = "hubspot"
	ProviderSalesforce       Provider = "salesforce"
	ProviderWhatsAppBusiness Provider = "whatsapp_business"
	ProviderMailchimp        Provider = "mailchimp"
)

// ParseProvider normalizes a path or query value into a Provider.
func ParseProvider(raw string) Provider {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	return Provider(strings.ReplaceAll(cleaned, "-", "_"))
}

func (p Provider) String() string {
	return string(p)
}

// Status is the derived health classification of a credential. It is never persisted.
type Status string

const (
	StatusNotConnected Status = "not_connected"
	StatusActive       Status = "active"
	StatusExpiringSoon Status = "expiring_soon"
	StatusExpired      Status = "expired"
	StatusError        Status = "error"
)

// Connected reports whether the status still represents a usable credential.
func (s Status) Connected() bool {
	return s == StatusActive || s == StatusExpiringSoon
}

// Owner is the (tenant, user) pair that exclusively holds a credential.
type Owner struct {
	TenantID int64  `json:"tenantId"`
	UserID   string `json:"userId"`
}

// Valid reports whether both halves of the owner are present.
func (o Owner) Valid() bool {
	return o.TenantID > 0 && strings.TrimSpace(o.UserID) != ""
}

// Caller is the authenticated actor performing an operation.
type Caller struct {
	Owner
	Role         domain.Role
	Subscription domain.Subscription
}

// Record is the durable representation of one OAuth grant.
type Record struct {
	ID                   int64
	Provider             Provider
	TenantID             int64
	UserID               string
	EncryptedPayload     string
	Account              AccountSummary
	ExpiresAt            *time.Time
	LastVerifiedAt       *time.Time
	VerificationFailedAt *time.Time
	IsActive             bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
	DeactivatedAt        *time.Time
}

// Owner returns the record's owning pair.
func (r Record) Owner() Owner {
	return Owner{TenantID: r.TenantID, UserID: r.UserID}
}

// VerificationFailed reports whether the last live check explicitly failed.
func (r Record) VerificationFailed() bool {
	if r.VerificationFailedAt == nil {
		return false
	}
	if r.LastVerifiedAt == nil {
		return true
	}
	return !r.LastVerifiedAt.After(*r.VerificationFailedAt)
}

// RawToken is the normalized result of a provider code exchange.
type RawToken struct {
	AccessToken  string         `json:"accessToken"`
	RefreshToken string         `json:"refreshToken,omitempty"`
	TokenType    string         `json:"tokenType,omitempty"`
	Scope        string         `json:"scope,omitempty"`
	ExpiresAt    *time.Time     `json:"expiresAt,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// AccountSummary is the minimal "connected as" description of the external account.
type AccountSummary struct {
	ID       string            `json:"id,omitempty"`
	Name     string            `json:"name,omitempty"`
	Verified bool              `json:"verified"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// Empty reports whether no account details were captured.
func (a AccountSummary) Empty() bool {
	return a.ID == "" && a.Name == "" && len(a.Extra) == 0
}

// Payload is the plaintext sealed into Record.EncryptedPayload.
type Payload struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	TokenType    string         `json:"token_type,omitempty"`
	Scope        string         `json:"scope,omitempty"`
	Account      AccountSummary `json:"account"`
	ObtainedAt   time.Time      `json:"obtained_at"`
}

// OAuthState is the server-side half of a signed authorize state token.
type OAuthState struct {
	Nonce     string
	Provider  Provider
	TenantID  int64
	UserID    string
	Source    string
	CreatedAt time.Time
}
