package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/railzway-connect/internal/domain/connection"
	"github.com/smallbiznis/railzway-connect/internal/http/middleware"
	"github.com/smallbiznis/railzway-connect/internal/reconnect"
	"github.com/smallbiznis/railzway-connect/internal/registry"
	"github.com/smallbiznis/railzway-connect/internal/service/integration"
)

const defaultReturnPath = "/integrations"

// namedReturnPaths maps well-known source labels to dashboard pages.
var namedReturnPaths = map[string]string{
	"onboarding": "/onboarding",
	"settings":   "/settings/integrations",
	"reconnect":  defaultReturnPath,
}

// ConnectionHandler serves the connect flow and the connection management API.
type ConnectionHandler struct {
	Service    *integration.Service
	Prompts    *reconnect.Coordinator
	AppBaseURL string
	Logger     *zap.Logger
}

// NewConnectionHandler creates the handler set.
func NewConnectionHandler(svc *integration.Service, coordinator *reconnect.Coordinator, appBaseURL string, logger *zap.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		Service:    svc,
		Prompts:    coordinator,
		AppBaseURL: strings.TrimRight(appBaseURL, "/"),
		Logger:     logger,
	}
}

// Authorize redirects the browser to the provider consent screen.
func (h *ConnectionHandler) Authorize(c *gin.Context) {
	p := connection.ParseProvider(c.Param("provider"))
	source := strings.TrimSpace(c.Query("source"))

	caller, ok := middleware.GetCaller(c)
	if !ok || strings.TrimSpace(caller.UserID) == "" {
		h.appRedirect(c, source, "error", "missing_user_id")
		return
	}

	authURL, err := h.Service.StartAuthorization(c.Request.Context(), caller, p, source)
	if err != nil {
		h.log().Warn("start authorization failed", zap.String("provider", p.String()), zap.Error(err))
		h.appRedirect(c, source, "error", callbackErrorCode(err))
		return
	}
	c.Redirect(http.StatusFound, authURL)
}

// Callback completes the flow and sends the browser back to the dashboard.
func (h *ConnectionHandler) Callback(c *gin.Context) {
	p := connection.ParseProvider(c.Param("provider"))
	result, err := h.Service.HandleCallback(c.Request.Context(), integration.CallbackInput{
		Provider:         p,
		Code:             c.Query("code"),
		State:            c.Query("state"),
		Error:            c.Query("error"),
		ErrorDescription: c.Query("error_description"),
	})

	source := ""
	if result != nil {
		source = result.Source
	}
	if err != nil {
		code := callbackErrorCode(err)
		h.log().Warn("oauth callback failed", zap.String("provider", p.String()), zap.String("code", code), zap.Error(err))
		h.appRedirect(c, source, "error", code)
		return
	}
	h.appRedirect(c, source, "success", p.String()+"_connected")
}

// List returns the health overview of every enabled provider.
func (h *ConnectionHandler) List(c *gin.Context) {
	caller, ok := h.requireCaller(c)
	if !ok {
		return
	}
	overview, err := h.Service.Status(c.Request.Context(), caller, ownerFrom(c, caller))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

// Get returns a single provider's status.
func (h *ConnectionHandler) Get(c *gin.Context) {
	caller, ok := h.requireCaller(c)
	if !ok {
		return
	}
	row, err := h.Service.ProviderStatus(c.Request.Context(), caller, ownerFrom(c, caller), connection.ParseProvider(c.Param("provider")))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

// Disconnect deactivates the caller's credential.
func (h *ConnectionHandler) Disconnect(c *gin.Context) {
	caller, ok := h.requireCaller(c)
	if !ok {
		return
	}
	if err := h.Service.Disconnect(c.Request.Context(), caller, ownerFrom(c, caller), connection.ParseProvider(c.Param("provider"))); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// History lists audit rows for a provider.
func (h *ConnectionHandler) History(c *gin.Context) {
	caller, ok := h.requireCaller(c)
	if !ok {
		return
	}
	rows, err := h.Service.History(c.Request.Context(), caller, ownerFrom(c, caller), connection.ParseProvider(c.Param("provider")))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": rows})
}

// Prompt evaluates the caller's credential and returns the reconnection prompt state.
func (h *ConnectionHandler) Prompt(c *gin.Context) {
	caller, ok := h.requireCaller(c)
	if !ok {
		return
	}
	p := connection.ParseProvider(c.Param("provider"))
	row, err := h.Service.ProviderStatus(c.Request.Context(), caller, caller.Owner, p)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	state, err := h.Prompts.Check(c.Request.Context(), reconnect.Key{Owner: caller.Owner, Provider: p}, row.Status)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, promptResponse(p, state))
}

// DismissPrompt hides a visible prompt for its cooldown.
func (h *ConnectionHandler) DismissPrompt(c *gin.Context) {
	caller, ok := h.requireCaller(c)
	if !ok {
		return
	}
	p := connection.ParseProvider(c.Param("provider"))
	row, err := h.Service.ProviderStatus(c.Request.Context(), caller, caller.Owner, p)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	state, err := h.Prompts.Dismiss(c.Request.Context(), reconnect.Key{Owner: caller.Owner, Provider: p}, row.Status)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, promptResponse(p, state))
}

// Reconnect redirects to a fresh authorize URL for the provider. Failures go back to the
// dashboard with an error code since this is a full-page navigation.
func (h *ConnectionHandler) Reconnect(c *gin.Context) {
	source := strings.TrimSpace(c.Query("source"))
	caller, ok := middleware.GetCaller(c)
	if !ok || strings.TrimSpace(caller.UserID) == "" {
		h.appRedirect(c, source, "error", "missing_user_id")
		return
	}
	p := connection.ParseProvider(c.Param("provider"))
	authURL, err := h.Prompts.InitiateReconnect(c.Request.Context(), caller, p, source)
	if err != nil {
		h.log().Warn("reconnect failed", zap.String("provider", p.String()), zap.Error(err))
		h.appRedirect(c, source, "error", callbackErrorCode(err))
		return
	}
	c.Redirect(http.StatusFound, authURL)
}

// RedirectFailure is the middleware FailureFunc for browser navigations: it sends the user
// back to the dashboard with missing_user_id for authentication failures and oauth_failed
// otherwise.
func (h *ConnectionHandler) RedirectFailure(c *gin.Context, status int, code, description string) {
	value := "oauth_failed"
	if status == http.StatusUnauthorized {
		value = "missing_user_id"
	}
	h.log().Info("browser navigation rejected",
		zap.Int("status", status),
		zap.String("reason", code),
		zap.String("description", description),
	)
	h.appRedirect(c, c.Query("source"), "error", value)
	c.Abort()
}

// Access returns the gate decision for the caller.
func (h *ConnectionHandler) Access(c *gin.Context) {
	caller, ok := middleware.GetCaller(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_tenant", "error_description": "Organization is required."})
		return
	}
	c.JSON(http.StatusOK, h.Service.Access(caller))
}

// Providers lists enabled providers.
func (h *ConnectionHandler) Providers(c *gin.Context) {
	providers := h.Service.Providers()
	c.JSON(http.StatusOK, gin.H{"providers": providers, "total": len(providers)})
}

// Healthz reports liveness.
func (h *ConnectionHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *ConnectionHandler) requireCaller(c *gin.Context) (connection.Caller, bool) {
	caller, ok := middleware.GetCaller(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_tenant", "error_description": "Organization is required."})
		return connection.Caller{}, false
	}
	if strings.TrimSpace(caller.UserID) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing_user_id", "error_description": "User identity is required."})
		return connection.Caller{}, false
	}
	return caller, true
}

// ownerFrom lets administrators address another member through ownerId.
func ownerFrom(c *gin.Context, caller connection.Caller) connection.Owner {
	userID := strings.TrimSpace(c.Query("ownerId"))
	if userID == "" {
		return caller.Owner
	}
	return connection.Owner{TenantID: caller.TenantID, UserID: userID}
}

func promptResponse(p connection.Provider, state reconnect.State) gin.H {
	return gin.H{
		"provider":    p,
		"status":      state.Status,
		"phase":       state.Phase,
		"visible":     state.Phase == reconnect.PhaseVisible,
		"dismissedAt": state.DismissedAt,
	}
}

func (h *ConnectionHandler) appRedirect(c *gin.Context, source, key, value string) {
	target, err := url.Parse(h.AppBaseURL + returnPath(source))
	if err != nil {
		target = &url.URL{Path: defaultReturnPath}
	}
	q := target.Query()
	q.Set(key, value)
	target.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, target.String())
}

// returnPath resolves a source label or accepts a same-origin absolute path.
func returnPath(source string) string {
	source = strings.TrimSpace(source)
	if path, ok := namedReturnPaths[strings.ToLower(source)]; ok {
		return path
	}
	if !strings.HasPrefix(source, "/") || strings.HasPrefix(source, "//") || strings.ContainsAny(source, "\\@") {
		return defaultReturnPath
	}
	if parsed, err := url.Parse(source); err != nil || parsed.Host != "" || parsed.Scheme != "" {
		return defaultReturnPath
	}
	return source
}

func callbackErrorCode(err error) string {
	var exchangeErr *connection.TokenExchangeError
	switch {
	case errors.Is(err, connection.ErrMissingCode):
		return "missing_code"
	case errors.Is(err, connection.ErrMissingUserID):
		return "missing_user_id"
	case errors.Is(err, connection.ErrOAuthDenied):
		return "oauth_denied"
	case errors.As(err, &exchangeErr):
		return "token_exchange_failed"
	default:
		return "oauth_failed"
	}
}

func (h *ConnectionHandler) respondServiceError(c *gin.Context, err error) {
	logger := h.log()
	switch {
	case registry.IsAuthorizationError(err):
		logger.Warn("connection access denied", zap.Error(err))
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "error_description": "Not allowed to act on this connection."})
	case errors.Is(err, connection.ErrProviderNotSupported):
		c.JSON(http.StatusNotFound, gin.H{"error": "provider_not_supported", "error_description": "Provider is not supported."})
	case errors.Is(err, connection.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "error_description": "No active connection for this provider."})
	case errors.Is(err, connection.ErrInvalidRequest), errors.Is(err, connection.ErrMissingUserID):
		logger.Warn("connection invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": err.Error()})
	case errors.Is(err, reconnect.ErrNotVisible):
		c.JSON(http.StatusConflict, gin.H{"error": "prompt_not_visible", "error_description": "No reconnection prompt is shown."})
	default:
		logger.Error("connection service failure", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal server error."})
	}
}

func (h *ConnectionHandler) log() *zap.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return zap.L()
}
