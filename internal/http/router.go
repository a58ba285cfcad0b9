package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/smallbiznis/railzway-connect/internal/config"
	"github.com/smallbiznis/railzway-connect/internal/http/handler"
	"github.com/smallbiznis/railzway-connect/internal/http/middleware"
	"github.com/smallbiznis/railzway-connect/internal/jwt"
	"github.com/smallbiznis/railzway-connect/internal/tenant"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, h *handler.ConnectionHandler, resolver *tenant.Resolver, sessions *jwt.SessionVerifier, rateLimiter *middleware.RateLimiter, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	limit := rateLimiter.Handler()
	// API calls answer with JSON; full-page navigations are bounced back to the dashboard.
	api := []gin.HandlerFunc{
		middleware.Authenticate(sessions, middleware.RespondJSON),
		limit,
		middleware.Tenant(resolver, middleware.RespondJSON),
	}
	browser := []gin.HandlerFunc{
		middleware.Authenticate(sessions, h.RedirectFailure),
		limit,
		middleware.Tenant(resolver, h.RedirectFailure),
	}

	r.GET("/healthz", h.Healthz)

	authGroup := r.Group("/auth")
	{
		// The callback is identified by its signed state, not by a session.
		authGroup.GET("/callback/:provider", limit, h.Callback)
		authGroup.GET("/:provider", append(browser, h.Authorize)...)
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/providers", limit, h.Providers)
		v1.GET("/access", append(api, h.Access)...)

		connections := v1.Group("/connections")
		{
			connections.GET("", append(api, h.List)...)
			connections.GET("/:provider", append(api, h.Get)...)
			connections.DELETE("/:provider", append(api, h.Disconnect)...)
			connections.GET("/:provider/history", append(api, h.History)...)
			connections.GET("/:provider/prompt", append(api, h.Prompt)...)
			connections.POST("/:provider/prompt/dismiss", append(api, h.DismissPrompt)...)
			connections.GET("/:provider/reconnect", append(browser, h.Reconnect)...)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "error_description": "Route not found."})
	})

	return r
}
