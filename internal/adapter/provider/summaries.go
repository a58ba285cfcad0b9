package provider

import (
	"context"
	"net/url"
	"strconv"

	"github.com/smallbiznis/railzway-connect/internal/domain/connection"
)

func linkedInSummary(ctx context.Context, api *apiClient, cfg Config, accessToken string) (connection.AccountSummary, error) {
	raw, err := api.getJSON(ctx, cfg.APIBaseURL+"/userinfo", bearer(accessToken))
	if err != nil {
		return connection.AccountSummary{}, err
	}
	return connection.AccountSummary{
		ID:       stringValue(raw["sub"]),
		Name:     stringValue(coalesce(raw["name"], raw["email"])),
		Verified: boolValue(raw["email_verified"]),
	}, nil
}

// hubSpotSummary uses token introspection, which needs no extra scope.
func hubSpotSummary(ctx context.Context, api *apiClient, cfg Config, accessToken string) (connection.AccountSummary, error) {
	raw, err := api.getJSON(ctx, cfg.APIBaseURL+"/oauth/v1/access-tokens/"+url.PathEscape(accessToken), nil)
	if err != nil {
		return connection.AccountSummary{}, err
	}
	hubID := int64Value(raw["hub_id"])
	summary := connection.AccountSummary{
		Name:     stringValue(coalesce(raw["hub_domain"], raw["user"])),
		Verified: true,
	}
	if hubID > 0 {
		summary.ID = strconv.FormatInt(hubID, 10)
	}
	if user := stringValue(raw["user"]); user != "" {
		summary.Extra = map[string]string{"user": user}
	}
	return summary, nil
}

func salesforceSummary(ctx context.Context, api *apiClient, cfg Config, accessToken string) (connection.AccountSummary, error) {
	raw, err := api.getJSON(ctx, cfg.APIBaseURL+"/services/oauth2/userinfo", bearer(accessToken))
	if err != nil {
		return connection.AccountSummary{}, err
	}
	summary := connection.AccountSummary{
		ID:       stringValue(coalesce(raw["user_id"], raw["sub"])),
		Name:     stringValue(coalesce(raw["name"], raw["preferred_username"])),
		Verified: boolValue(raw["email_verified"]),
	}
	if org := stringValue(raw["organization_id"]); org != "" {
		summary.Extra = map[string]string{"organization_id": org}
	}
	return summary, nil
}

// mailchimpSummary resolves the account's datacenter, which every later API call needs.
func mailchimpSummary(ctx context.Context, api *apiClient, cfg Config, accessToken string) (connection.AccountSummary, error) {
	raw, err := api.getJSON(ctx, cfg.APIBaseURL+"/oauth2/metadata", map[string]string{"Authorization": "OAuth " + accessToken})
	if err != nil {
		return connection.AccountSummary{}, err
	}
	summary := connection.AccountSummary{
		ID:       stringValue(raw["user_id"]),
		Name:     stringValue(raw["accountname"]),
		Verified: true,
		Extra:    map[string]string{},
	}
	if login := objectValue(raw["login"]); login != nil && summary.ID == "" {
		summary.ID = stringValue(login["login_id"])
	}
	if dc := stringValue(raw["dc"]); dc != "" {
		summary.Extra["dc"] = dc
	}
	if endpoint := stringValue(raw["api_endpoint"]); endpoint != "" {
		summary.Extra["api_endpoint"] = endpoint
	}
	return summary, nil
}
