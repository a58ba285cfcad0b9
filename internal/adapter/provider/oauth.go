package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/smallbiznis/railzway-connect/internal/domain/connection"
)

// DefaultTimeout bounds every outbound provider call.
const DefaultTimeout = 10 * time.Second

// Adapter is the capability every external provider implements.
type Adapter interface {
	Provider() connection.Provider
	// BuildAuthorizeURL returns the consent URL carrying the signed state token.
	BuildAuthorizeURL(ctx context.Context, state string) (string, error)
	ExchangeCode(ctx context.Context, code string) (connection.RawToken, error)
	FetchAccountSummary(ctx context.Context, accessToken string) (connection.AccountSummary, error)
}

// Refresher is implemented by adapters able to mint a new access token from a refresh token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (connection.RawToken, error)
}

type summaryFunc func(ctx context.Context, api *apiClient, cfg Config, accessToken string) (connection.AccountSummary, error)

// oauthAdapter is the shared authorization-code implementation. Providers differ only in
// configuration and in how the account summary is fetched.
type oauthAdapter struct {
	cfg        Config
	oauth      *oauth2.Config
	options    []oauth2.AuthCodeOption
	httpClient *http.Client
	api        *apiClient
	summarize  summaryFunc
}

var (
	_ Adapter   = (*oauthAdapter)(nil)
	_ Refresher = (*oauthAdapter)(nil)
)

func newOAuthAdapter(cfg Config, redirectBase string, httpClient *http.Client, summarize summaryFunc) *oauthAdapter {
	options := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.ApprovalForce}
	for k, v := range cfg.AuthParams {
		options = append(options, oauth2.SetAuthURLParam(k, v))
	}
	return &oauthAdapter{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{AuthURL: cfg.AuthURL, TokenURL: cfg.TokenURL},
			RedirectURL:  CallbackURL(redirectBase, cfg.Provider),
			Scopes:       append([]string(nil), cfg.Scopes...),
		},
		options:    options,
		httpClient: httpClient,
		api:        &apiClient{provider: cfg.Provider, httpClient: httpClient},
		summarize:  summarize,
	}
}

// CallbackURL is the redirect_uri registered with each provider.
func CallbackURL(base string, p connection.Provider) string {
	return strings.TrimRight(base, "/") + "/auth/callback/" + p.String()
}

func (a *oauthAdapter) Provider() connection.Provider {
	return a.cfg.Provider
}

func (a *oauthAdapter) BuildAuthorizeURL(_ context.Context, state string) (string, error) {
	if strings.TrimSpace(state) == "" {
		return "", fmt.Errorf("%w: state required", connection.ErrInvalidRequest)
	}
	if !a.cfg.Active() {
		return "", connection.ErrProviderNotSupported
	}
	return a.oauth.AuthCodeURL(state, a.options...), nil
}

// ExchangeCode performs the single code-for-token POST. It is never retried.
func (a *oauthAdapter) ExchangeCode(ctx context.Context, code string) (connection.RawToken, error) {
	if strings.TrimSpace(code) == "" {
		return connection.RawToken{}, connection.ErrMissingCode
	}
	tok, err := a.oauth.Exchange(a.clientContext(ctx), code)
	if err != nil {
		return connection.RawToken{}, a.exchangeError(err)
	}
	if strings.TrimSpace(tok.AccessToken) == "" {
		return connection.RawToken{}, &connection.TokenExchangeError{Provider: a.cfg.Provider, Reason: "missing access token"}
	}
	return toRawToken(tok), nil
}

// Refresh redeems a refresh token. Permanent grant failures wrap ErrCredentialRejected.
func (a *oauthAdapter) Refresh(ctx context.Context, refreshToken string) (connection.RawToken, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return connection.RawToken{}, fmt.Errorf("%s refresh: %w", a.cfg.Provider, connection.ErrCredentialRejected)
	}
	tok, err := a.oauth.TokenSource(a.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		if isPermanentRefreshError(err) {
			return connection.RawToken{}, fmt.Errorf("%s refresh: %v: %w", a.cfg.Provider, err, connection.ErrCredentialRejected)
		}
		return connection.RawToken{}, &connection.ProviderUnavailableError{Provider: a.cfg.Provider, Err: err}
	}
	return toRawToken(tok), nil
}

func (a *oauthAdapter) FetchAccountSummary(ctx context.Context, accessToken string) (connection.AccountSummary, error) {
	if a.summarize == nil {
		return connection.AccountSummary{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout())
	defer cancel()
	return a.summarize(ctx, a.api, a.cfg, accessToken)
}

func (a *oauthAdapter) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

func (a *oauthAdapter) timeout() time.Duration {
	if a.httpClient != nil && a.httpClient.Timeout > 0 {
		return a.httpClient.Timeout
	}
	return DefaultTimeout
}

func (a *oauthAdapter) exchangeError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		return &connection.TokenExchangeError{Provider: a.cfg.Provider, StatusCode: status, Reason: re.ErrorCode, Err: err}
	}
	return &connection.TokenExchangeError{Provider: a.cfg.Provider, Err: err}
}

func toRawToken(tok *oauth2.Token) connection.RawToken {
	raw := connection.RawToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		Scope:        stringValue(tok.Extra("scope")),
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		raw.ExpiresAt = &exp
	}
	for _, key := range []string{"instance_url", "id"} {
		if v := stringValue(tok.Extra(key)); v != "" {
			if raw.Extra == nil {
				raw.Extra = map[string]any{}
			}
			raw.Extra[key] = v
		}
	}
	return raw
}

func isPermanentRefreshError(err error) bool {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		switch re.ErrorCode {
		case "invalid_grant", "invalid_client", "unauthorized_client":
			return true
		}
		if re.Response != nil && (re.Response.StatusCode == http.StatusUnauthorized || re.Response.StatusCode == http.StatusForbidden) {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalid_grant") || strings.Contains(msg, "revoked")
}
