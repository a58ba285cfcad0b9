package provider

import (
	"context"
	"strings"

	"github.com/smallbiznis/railzway-connect/internal/domain/connection"
)

func metaAdsSummary(ctx context.Context, api *apiClient, cfg Config, accessToken string) (connection.AccountSummary, error) {
	raw, err := api.getJSON(ctx, cfg.APIBaseURL+"/me?fields=id,name", bearer(accessToken))
	if err != nil {
		return connection.AccountSummary{}, err
	}
	return connection.AccountSummary{
		ID:       stringValue(raw["id"]),
		Name:     stringValue(raw["name"]),
		Verified: true,
	}, nil
}

// whatsAppSummary reports the first business the token can manage. Verified mirrors the
// business verification status, which gates production messaging limits.
func whatsAppSummary(ctx context.Context, api *apiClient, cfg Config, accessToken string) (connection.AccountSummary, error) {
	raw, err := api.getJSON(ctx, cfg.APIBaseURL+"/me/businesses?fields=id,name,verification_status", bearer(accessToken))
	if err != nil {
		return connection.AccountSummary{}, err
	}
	business := firstObject(raw["data"])
	if business == nil {
		return connection.AccountSummary{}, nil
	}
	status := stringValue(business["verification_status"])
	return connection.AccountSummary{
		ID:       stringValue(business["id"]),
		Name:     stringValue(business["name"]),
		Verified: strings.EqualFold(status, "verified"),
		Extra:    map[string]string{"verification_status": status},
	}, nil
}
