package provider

import (
	"net/http"
	"time"

	"github.com/smallbiznis/railzway-connect/internal/domain/connection"
)

var summarizers = map[connection.Provider]summaryFunc{
	connection.ProviderGoogleAds:        googleAdsSummary,
	connection.ProviderGoogleAnalytics:  googleAnalyticsSummary,
	connection.ProviderMetaAds:          metaAdsSummary,
	connection.ProviderWhatsAppBusiness: whatsAppSummary,
	connection.ProviderLinkedInAds:      linkedInSummary,
	connection.ProviderHubSpot:          hubSpotSummary,
	connection.ProviderSalesforce:       salesforceSummary,
	connection.ProviderMailchimp:        mailchimpSummary,
}

// Descriptor is the public view of an enabled provider.
type Descriptor struct {
	Provider    connection.Provider `json:"provider"`
	DisplayName string              `json:"displayName"`
}

// Directory resolves adapters for catalogued providers.
type Directory struct {
	catalog  Catalog
	adapters map[connection.Provider]Adapter
}

// NewDirectory builds one adapter per catalogued provider. redirectBase is the public
// origin that hosts /auth/callback/:provider.
func NewDirectory(catalog Catalog, redirectBase string, timeout time.Duration) *Directory {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := &http.Client{Timeout: timeout}
	adapters := make(map[connection.Provider]Adapter, len(catalog))
	for p, cfg := range catalog {
		cfg.Provider = p
		adapters[p] = newOAuthAdapter(cfg, redirectBase, httpClient, summarizers[p])
	}
	return &Directory{catalog: catalog, adapters: adapters}
}

// Get returns the adapter for an enabled provider.
func (d *Directory) Get(p connection.Provider) (Adapter, error) {
	cfg, ok := d.catalog[p]
	if !ok || !cfg.Active() {
		return nil, connection.ErrProviderNotSupported
	}
	return d.adapters[p], nil
}

// Known reports whether p is catalogued at all, enabled or not.
func (d *Directory) Known(p connection.Provider) bool {
	_, ok := d.catalog[p]
	return ok
}

// Enabled lists providers with client credentials configured.
func (d *Directory) Enabled() []Descriptor {
	var res []Descriptor
	for _, p := range d.catalog.Providers() {
		cfg := d.catalog[p]
		if !cfg.Active() {
			continue
		}
		res = append(res, Descriptor{Provider: p, DisplayName: cfg.DisplayName})
	}
	return res
}
