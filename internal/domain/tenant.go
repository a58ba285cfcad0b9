package domain

import (
	"strings"
	"time"
)

// Tier is the subscription plan an organization is billed under.
type Tier string

const (
	TierFree       Tier = "free"
	TierStarter    Tier = "starter"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Role is a member's role within an organization.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// IsAdministrative reports whether the role carries tenant-wide operational rights.
func (r Role) IsAdministrative() bool {
	switch Role(strings.ToLower(string(r))) {
	case RoleOwner, RoleAdmin:
		return true
	default:
		return false
	}
}

// Subscription is the billing state consulted by the access gate.
type Subscription struct {
	Tier   Tier
	Active bool
}

// Tenant represents an organization, the unit of data isolation and billing.
type Tenant struct {
	ID                 int64
	Name               string
	Slug               string
	Tier               Tier
	SubscriptionStatus string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Subscription derives the gate input from the tenant row.
func (t Tenant) Subscription() Subscription {
	status := strings.ToLower(strings.TrimSpace(t.SubscriptionStatus))
	return Subscription{
		Tier:   t.Tier,
		Active: status == "active" || status == "trialing",
	}
}

// Membership binds an external user id to a tenant with a role.
type Membership struct {
	TenantID  int64
	UserID    string
	Role      Role
	CreatedAt time.Time
}
