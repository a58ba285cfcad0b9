package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/railzway-connect/internal/jwt"
)

const (
	sessionKey        = "session"
	sessionCookieName = "connect_session"
)

// FailureFunc writes a rejection and aborts the request. API routes answer with JSON while
// browser navigations are sent back to the dashboard.
type FailureFunc func(c *gin.Context, status int, code, description string)

// RespondJSON is the FailureFunc for API routes.
func RespondJSON(c *gin.Context, status int, code, description string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code, "error_description": description})
}

// Authenticate verifies the dashboard session. The token is read from the Authorization
// bearer header, then the session cookie, then access_token for full-page navigations.
func Authenticate(verifier *jwt.SessionVerifier, fail FailureFunc) gin.HandlerFunc {
	if fail == nil {
		fail = RespondJSON
	}
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			fail(c, http.StatusUnauthorized, "invalid_token", "Bearer token required.")
			return
		}
		session, err := verifier.Verify(token)
		if err != nil {
			fail(c, http.StatusUnauthorized, "invalid_token", "Invalid session token.")
			return
		}
		c.Set(sessionKey, session)
		c.Next()
	}
}

// GetSession returns the verified session.
func GetSession(c *gin.Context) (*jwt.Session, bool) {
	value, ok := c.Get(sessionKey)
	if !ok {
		return nil, false
	}
	session, ok := value.(*jwt.Session)
	return session, ok && session != nil
}

func bearerToken(c *gin.Context) (string, bool) {
	if header := strings.TrimSpace(c.GetHeader("Authorization")); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", false
		}
		return strings.TrimSpace(parts[1]), strings.TrimSpace(parts[1]) != ""
	}
	if cookie, err := c.Cookie(sessionCookieName); err == nil && strings.TrimSpace(cookie) != "" {
		return strings.TrimSpace(cookie), true
	}
	if token := strings.TrimSpace(c.Query("access_token")); token != "" {
		return token, true
	}
	return "", false
}
