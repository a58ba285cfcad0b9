package provider

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/smallbiznis/railzway-connect/internal/domain/connection"
)

// Config describes one provider's OAuth endpoints and client credentials.
type Config struct {
	Provider     connection.Provider `yaml:"-"`
	DisplayName  string              `yaml:"display_name"`
	Enabled      *bool               `yaml:"enabled"`
	ClientID     string              `yaml:"client_id"`
	ClientSecret string              `yaml:"client_secret"`
	AuthURL      string              `yaml:"auth_url"`
	TokenURL     string              `yaml:"token_url"`
	APIBaseURL   string              `yaml:"api_base_url"`
	Scopes       []string            `yaml:"scopes"`
	AuthParams   map[string]string   `yaml:"auth_params"`
	Extra        map[string]string   `yaml:"extra"`
}

// Active reports whether the provider can be offered to users.
func (c Config) Active() bool {
	if c.Enabled != nil && !*c.Enabled {
		return false
	}
	return strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.ClientSecret) != ""
}

type fileConfig struct {
	Providers map[string]Config `yaml:"providers"`
}

// Catalog is the resolved provider configuration keyed by provider.
type Catalog map[connection.Provider]Config

// Providers returns the catalogued providers in stable order.
func (c Catalog) Providers() []connection.Provider {
	res := make([]connection.Provider, 0, len(c))
	for p := range c {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// DefaultCatalog returns the built-in endpoints for every supported provider. Client
// credentials are left empty.
func DefaultCatalog() Catalog {
	return Catalog{
		connection.ProviderGoogleAds: {
			DisplayName: "Google Ads",
			AuthURL:     "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:    "https://oauth2.googleapis.com/token",
			APIBaseURL:  "https://googleads.googleapis.com/v17",
			Scopes:      []string{"https://www.googleapis.com/auth/adwords"},
		},
		connection.ProviderGoogleAnalytics: {
			DisplayName: "Google Analytics",
			AuthURL:     "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:    "https://oauth2.googleapis.com/token",
			APIBaseURL:  "https://analyticsadmin.googleapis.com/v1beta",
			Scopes:      []string{"https://www.googleapis.com/auth/analytics.readonly"},
		},
		connection.ProviderMetaAds: {
			DisplayName: "Meta Ads",
			AuthURL:     "https://www.facebook.com/v19.0/dialog/oauth",
			TokenURL:    "https://graph.facebook.com/v19.0/oauth/access_token",
			APIBaseURL:  "https://graph.facebook.com/v19.0",
			Scopes:      []string{"ads_read", "ads_management", "business_management"},
		},
		connection.ProviderLinkedInAds: {
			DisplayName: "LinkedIn Ads",
			AuthURL:     "https://www.linkedin.com/oauth/v2/authorization",
			TokenURL:    "https://www.linkedin.com/oauth/v2/accessToken",
			APIBaseURL:  "https://api.linkedin.com/v2",
			Scopes:      []string{"openid", "profile", "r_ads", "r_ads_reporting"},
		},
		connection.ProviderHubSpot: {
			DisplayName: "HubSpot",
			AuthURL:     "https://app.hubspot.com/oauth/authorize",
			TokenURL:    "https://api.hubapi.com/oauth/v1/token",
			APIBaseURL:  "https://api.hubapi.com",
			Scopes:      []string{"oauth", "crm.objects.contacts.read", "crm.objects.deals.read"},
		},
		connection.ProviderSalesforce: {
			DisplayName: "Salesforce",
			AuthURL:     "https://login.salesforce.com/services/oauth2/authorize",
			TokenURL:    "https://login.salesforce.com/services/oauth2/token",
			APIBaseURL:  "https://login.salesforce.com",
			Scopes:      []string{"api", "refresh_token", "openid"},
		},
		connection.ProviderWhatsAppBusiness: {
			DisplayName: "WhatsApp Business",
			AuthURL:     "https://www.facebook.com/v19.0/dialog/oauth",
			TokenURL:    "https://graph.facebook.com/v19.0/oauth/access_token",
			APIBaseURL:  "https://graph.facebook.com/v19.0",
			Scopes:      []string{"whatsapp_business_management", "whatsapp_business_messaging", "business_management"},
		},
		connection.ProviderMailchimp: {
			DisplayName: "Mailchimp",
			AuthURL:     "https://login.mailchimp.com/oauth2/authorize",
			TokenURL:    "https://login.mailchimp.com/oauth2/token",
			APIBaseURL:  "https://login.mailchimp.com",
		},
	}
}

// LoadCatalog merges the optional YAML file at path over the defaults and then applies
// <PROVIDER>_CLIENT_ID / <PROVIDER>_CLIENT_SECRET from lookup.
func LoadCatalog(path string, lookup func(string) string) (Catalog, error) {
	catalog := DefaultCatalog()

	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read provider catalog: %w", err)
		}
		var file fileConfig
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return nil, fmt.Errorf("parse provider catalog: %w", err)
		}
		for name, override := range file.Providers {
			p := connection.ParseProvider(name)
			base, ok := catalog[p]
			if !ok {
				return nil, fmt.Errorf("provider catalog: %s: %w", name, connection.ErrProviderNotSupported)
			}
			catalog[p] = merge(base, override)
		}
	}

	if lookup == nil {
		lookup = os.Getenv
	}
	for p, cfg := range catalog {
		prefix := strings.ToUpper(p.String())
		if v := strings.TrimSpace(lookup(prefix + "_CLIENT_ID")); v != "" {
			cfg.ClientID = v
		}
		if v := strings.TrimSpace(lookup(prefix + "_CLIENT_SECRET")); v != "" {
			cfg.ClientSecret = v
		}
		if p == connection.ProviderGoogleAds {
			if v := strings.TrimSpace(lookup("GOOGLE_ADS_DEVELOPER_TOKEN")); v != "" {
				cfg.Extra = withExtra(cfg.Extra, "developer_token", v)
			}
		}
		cfg.Provider = p
		catalog[p] = cfg
	}
	return catalog, nil
}

func merge(base, override Config) Config {
	if override.DisplayName != "" {
		base.DisplayName = override.DisplayName
	}
	if override.Enabled != nil {
		enabled := *override.Enabled
		base.Enabled = &enabled
	}
	if override.ClientID != "" {
		base.ClientID = override.ClientID
	}
	if override.ClientSecret != "" {
		base.ClientSecret = override.ClientSecret
	}
	if override.AuthURL != "" {
		base.AuthURL = override.AuthURL
	}
	if override.TokenURL != "" {
		base.TokenURL = override.TokenURL
	}
	if override.APIBaseURL != "" {
		base.APIBaseURL = override.APIBaseURL
	}
	if len(override.Scopes) > 0 {
		base.Scopes = append([]string(nil), override.Scopes...)
	}
	for k, v := range override.AuthParams {
		base.AuthParams = withExtra(base.AuthParams, k, v)
	}
	for k, v := range override.Extra {
		base.Extra = withExtra(base.Extra, k, v)
	}
	return base
}

func withExtra(m map[string]string, key, value string) map[string]string {
	if m == nil {
		m = map[string]string{}
	}
	m[key] = value
	return m
}
