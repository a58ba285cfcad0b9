package access

import (
	"strings"

	"github.com/smallbiznis/railzway-connect/internal/domain"
)

// FeatureKey identifies a gated product feature.
type FeatureKey string

const (
	FeatureExport            FeatureKey = "export"
	FeatureAdvancedAnalytics FeatureKey = "advanced_analytics"
	FeatureHistoricalData    FeatureKey = "historical_data"
	FeatureRealTimeUpdates   FeatureKey = "real_time_updates"
	FeatureAPIAccess         FeatureKey = "api_access"
	FeatureIntegrations      FeatureKey = "integrations"
	FeatureBulkOperations    FeatureKey = "bulk_operations"
	FeatureCustomReports     FeatureKey = "custom_reports"
)

// limitedCatalogue is the fixed set marked limited for callers without full access.
var limitedCatalogue = []FeatureKey{
	FeatureExport,
	FeatureAdvancedAnalytics,
	FeatureHistoricalData,
	FeatureRealTimeUpdates,
	FeatureAPIAccess,
	FeatureIntegrations,
	FeatureBulkOperations,
	FeatureCustomReports,
}

// LimitedCatalogue returns a copy of the features limited on restricted plans.
func LimitedCatalogue() []FeatureKey {
	return append([]FeatureKey(nil), limitedCatalogue...)
}

// Decision is the derived access result for one caller.
type Decision struct {
	HasFullAccess   bool         `json:"hasFullAccess"`
	Role            domain.Role  `json:"role"`
	LimitedFeatures []FeatureKey `json:"limitedFeatures"`
}

// Decide grants full access to paid active subscriptions and to administrative roles.
func Decide(sub domain.Subscription, role domain.Role) Decision {
	role = domain.Role(strings.ToLower(strings.TrimSpace(string(role))))
	paid := sub.Active && sub.Tier != "" && !strings.EqualFold(string(sub.Tier), string(domain.TierFree))
	if paid || role.IsAdministrative() {
		return Decision{HasFullAccess: true, Role: role, LimitedFeatures: []FeatureKey{}}
	}
	return Decision{HasFullAccess: false, Role: role, LimitedFeatures: LimitedCatalogue()}
}

// IsLimited reports whether feature is restricted for this decision.
func (d Decision) IsLimited(feature FeatureKey) bool {
	for _, f := range d.LimitedFeatures {
		if f == feature {
			return true
		}
	}
	return false
}
