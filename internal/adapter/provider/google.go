package provider

import (
	"context"
	"strconv"

	"github.com/smallbiznis/railzway-connect/internal/domain/connection"
)

func googleAdsSummary(ctx context.Context, api *apiClient, cfg Config, accessToken string) (connection.AccountSummary, error) {
	headers := bearer(accessToken)
	if dev := cfg.Extra["developer_token"]; dev != "" {
		headers["developer-token"] = dev
	}
	raw, err := api.getJSON(ctx, cfg.APIBaseURL+"/customers:listAccessibleCustomers", headers)
	if err != nil {
		return connection.AccountSummary{}, err
	}
	names, _ := raw["resourceNames"].([]any)
	summary := connection.AccountSummary{
		Verified: true,
		Extra:    map[string]string{"customers": strconv.Itoa(len(names))},
	}
	if len(names) > 0 {
		summary.ID = lastSegment(stringValue(names[0]))
		summary.Name = "Customer " + summary.ID
	}
	return summary, nil
}

func googleAnalyticsSummary(ctx context.Context, api *apiClient, cfg Config, accessToken string) (connection.AccountSummary, error) {
	raw, err := api.getJSON(ctx, cfg.APIBaseURL+"/accountSummaries?pageSize=1", bearer(accessToken))
	if err != nil {
		return connection.AccountSummary{}, err
	}
	account := firstObject(raw["accountSummaries"])
	if account == nil {
		return connection.AccountSummary{Verified: true}, nil
	}
	summary := connection.AccountSummary{
		ID:       lastSegment(stringValue(account["account"])),
		Name:     stringValue(account["displayName"]),
		Verified: true,
	}
	if property := firstObject(account["propertySummaries"]); property != nil {
		summary.Extra = map[string]string{
			"property_id":   lastSegment(stringValue(property["property"])),
			"property_name": stringValue(property["displayName"]),
		}
	}
	return summary, nil
}
