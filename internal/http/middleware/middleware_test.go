package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/railzway-connect/internal/config"
	"github.com/smallbiznis/railzway-connect/internal/jwt"
)

// withTestSession stands in for Authenticate: X-Test-Subject becomes the session subject.
func withTestSession(c *gin.Context) {
	if subject := c.GetHeader("X-Test-Subject"); subject != "" {
		c.Set(sessionKey, &jwt.Session{UserID: subject})
	}
	c.Next()
}

func newLimitedEngine(r *RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(withTestSession, r.Handler())
	engine.GET("/api/v1/connections", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.GET("/auth/callback/:provider", func(c *gin.Context) { c.Status(http.StatusOK) })
	return engine
}

func doRequest(engine *gin.Engine, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestRateLimiterDisabled(t *testing.T) {
	r := NewRateLimiter(0)
	require.Nil(t, r)
	engine := newLimitedEngine(r)
	for i := 0; i < 20; i++ {
		require.Equal(t, http.StatusOK, doRequest(engine, "/api/v1/connections", nil).Code)
	}
}

func TestRateLimiterPerCaller(t *testing.T) {
	limiter := NewRateLimiter(60)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	engine := newLimitedEngine(limiter)

	alice := map[string]string{"X-Test-Subject": "alice"}
	bob := map[string]string{"X-Test-Subject": "bob"}

	for i := 0; i < 6; i++ {
		require.Equal(t, http.StatusOK, doRequest(engine, "/api/v1/connections", alice).Code)
	}
	limited := doRequest(engine, "/api/v1/connections", alice)
	require.Equal(t, http.StatusTooManyRequests, limited.Code)
	require.Equal(t, "1", limited.Header().Get("Retry-After"))
	require.Contains(t, limited.Body.String(), "rate_limited")

	require.Equal(t, http.StatusOK, doRequest(engine, "/api/v1/connections", bob).Code)

	now = now.Add(2 * time.Second)
	require.Equal(t, http.StatusOK, doRequest(engine, "/api/v1/connections", alice).Code)
}

func TestRateLimiterSweepsIdleBuckets(t *testing.T) {
	limiter := NewRateLimiter(60)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	engine := newLimitedEngine(limiter)

	doRequest(engine, "/api/v1/connections", map[string]string{"X-Test-Subject": "alice"})
	doRequest(engine, "/auth/callback/meta_ads?orgId=acme&userId=alice", nil)
	require.Len(t, limiter.buckets, 2)

	now = now.Add(idleWindow + time.Minute)
	doRequest(engine, "/api/v1/connections", map[string]string{"X-Test-Subject": "bob"})
	require.Len(t, limiter.buckets, 1)
}

func TestRateKeyIgnoresUnverifiedIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/connections?userId=alice", nil)
	c.Request.Header.Set("X-Org-ID", "acme")
	c.Request.Header.Set("X-User-ID", "alice")
	require.Equal(t, "ip:192.0.2.1", rateKey(c))

	c.Set(sessionKey, &jwt.Session{UserID: "alice"})
	require.Equal(t, "u:alice", rateKey(c))
}

func TestCORSAllowsDashboardOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.Config{
		AppBaseURL:           "https://app.example.com/",
		CORSAllowedOrigins:   []string{"https://admin.example.com"},
		CORSAllowedMethods:   []string{"GET", "DELETE"},
		CORSAllowedHeaders:   []string{"X-Org-ID"},
		CORSAllowCredentials: true,
	}
	engine := gin.New()
	engine.Use(CORS(cfg))
	engine.GET("/api/v1/connections", func(c *gin.Context) { c.Status(http.StatusOK) })

	preflight := httptest.NewRequest(http.MethodOptions, "/api/v1/connections", nil)
	preflight.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, preflight)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	require.Equal(t, "GET, DELETE", w.Header().Get("Access-Control-Allow-Methods"))

	foreign := httptest.NewRequest(http.MethodGet, "/api/v1/connections", nil)
	foreign.Header.Set("Origin", "https://evil.example.net")
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, foreign)
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestWithAppOriginDeduplicates(t *testing.T) {
	got := withAppOrigin([]string{"*", "https://app.example.com"}, "https://app.example.com/")
	require.Equal(t, []string{"*", "https://app.example.com"}, got)
}
