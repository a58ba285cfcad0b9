package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/railzway-connect/internal/domain/connection"
	"github.com/smallbiznis/railzway-connect/internal/tenant"
)

const tenantContextKey = "tenantContext"

type tenantCtxKey struct{}

// Tenant resolves the organization from X-Org-ID (or the orgId query parameter for browser
// navigations) for the authenticated session. X-User-ID and userId are only cross-checked
// against the session subject.
func Tenant(resolver *tenant.Resolver, fail FailureFunc) gin.HandlerFunc {
	if fail == nil {
		fail = RespondJSON
	}
	return func(c *gin.Context) {
		session, ok := GetSession(c)
		if !ok {
			fail(c, http.StatusUnauthorized, "invalid_token", "Authentication required.")
			return
		}

		ref := strings.TrimSpace(c.GetHeader("X-Org-ID"))
		if ref == "" {
			ref = strings.TrimSpace(c.GetHeader("X-Tenant-ID"))
		}
		if ref == "" {
			ref = strings.TrimSpace(c.Query("orgId"))
		}
		if ref == "" {
			ref = session.Org
		}
		if ref == "" {
			fail(c, http.StatusBadRequest, "invalid_tenant", "Organization is required.")
			return
		}

		for _, claimed := range []string{c.GetHeader("X-User-ID"), c.Query("userId")} {
			claimed = strings.TrimSpace(claimed)
			if claimed != "" && claimed != session.UserID {
				fail(c, http.StatusForbidden, "forbidden", "User identity mismatch.")
				return
			}
		}

		tenantCtx, err := resolver.Resolve(c.Request.Context(), ref, session.UserID)
		switch {
		case err == nil:
		case errors.Is(err, tenant.ErrUnknownTenant):
			fail(c, http.StatusNotFound, "invalid_tenant", "Unknown organization.")
			return
		case errors.Is(err, tenant.ErrNotMember):
			fail(c, http.StatusForbidden, "forbidden", "User is not a member of this organization.")
			return
		default:
			fail(c, http.StatusInternalServerError, "server_error", "Unable to resolve organization.")
			return
		}
		if session.Org != "" && !orgMatches(session.Org, tenantCtx) {
			fail(c, http.StatusForbidden, "forbidden", "Session is bound to another organization.")
			return
		}

		ctx := context.WithValue(c.Request.Context(), tenantCtxKey{}, tenantCtx)
		c.Request = c.Request.WithContext(ctx)
		c.Set(tenantContextKey, tenantCtx)
		c.Next()
	}
}

func orgMatches(claim string, tenantCtx *tenant.Context) bool {
	claim = strings.TrimSpace(claim)
	return claim == strconv.FormatInt(tenantCtx.Tenant.ID, 10) || strings.EqualFold(claim, tenantCtx.Tenant.Slug)
}

// GetTenantContext extracts the tenant context from gin.
func GetTenantContext(c *gin.Context) (*tenant.Context, bool) {
	value, ok := c.Get(tenantContextKey)
	if !ok {
		return nil, false
	}
	tenantCtx, ok := value.(*tenant.Context)
	return tenantCtx, ok
}

// TenantContextFromContext extracts the tenant context from a standard context.
func TenantContextFromContext(ctx context.Context) (*tenant.Context, bool) {
	tenantCtx, ok := ctx.Value(tenantCtxKey{}).(*tenant.Context)
	return tenantCtx, ok
}

// GetCaller returns the resolved caller. ok is false when no tenant was resolved.
func GetCaller(c *gin.Context) (connection.Caller, bool) {
	tenantCtx, ok := GetTenantContext(c)
	if !ok || tenantCtx == nil {
		return connection.Caller{}, false
	}
	return tenantCtx.Caller, true
}
