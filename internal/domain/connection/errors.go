package connection

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals that no active credential exists for the requested triple.
	ErrNotFound = errors.New("connection: not found")
	// ErrProviderNotSupported signals an unknown or unconfigured provider.
	ErrProviderNotSupported = errors.New("connection: provider not supported")
	// ErrInvalidRequest indicates caller input validation errors.
	ErrInvalidRequest = errors.New("connection: invalid request")
	// ErrInvalidState indicates the authorize state token is forged, expired, or already used.
	ErrInvalidState = errors.New("connection: invalid state")
	// ErrMissingCode indicates the provider callback carried no authorization code.
	ErrMissingCode = errors.New("connection: missing code")
	// ErrMissingUserID indicates no user identity could be bound to the flow.
	ErrMissingUserID = errors.New("connection: missing user id")
	// ErrOAuthDenied indicates the user declined consent at the provider.
	ErrOAuthDenied = errors.New("connection: oauth denied")
	// ErrOAuthFailed indicates the provider reported a non-consent failure on callback.
	ErrOAuthFailed = errors.New("connection: oauth failed")
	// ErrCredentialRejected indicates the provider refused the stored credential (401/403).
	ErrCredentialRejected = errors.New("connection: credential rejected")
)

// TokenExchangeError is returned when a provider rejects a code or returns no access token.
type TokenExchangeError struct {
	Provider   Provider
	StatusCode int
	Reason     string
	Err        error
}

func (e *TokenExchangeError) Error() string {
	msg := fmt.Sprintf("connection: token exchange with %s failed", e.Provider)
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(": status=%d", e.StatusCode)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

// DecryptionError is returned when a stored payload cannot be opened.
type DecryptionError struct {
	RecordID int64
	Err      error
}

func (e *DecryptionError) Error() string {
	if e.RecordID != 0 {
		return fmt.Sprintf("connection: payload of record %d is unreadable: %v", e.RecordID, e.Err)
	}
	return fmt.Sprintf("connection: payload is unreadable: %v", e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// AuthorizationError is returned when a caller acts on a credential it does not own.
type AuthorizationError struct {
	Action string
	Caller Owner
	Target Owner
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("connection: %s denied: caller tenant=%d user=%q cannot act on tenant=%d user=%q",
		e.Action, e.Caller.TenantID, e.Caller.UserID, e.Target.TenantID, e.Target.UserID)
}

// ProviderUnavailableError is returned on network failures or 5xx responses from a provider.
type ProviderUnavailableError struct {
	Provider   Provider
	StatusCode int
	Err        error
}

func (e *ProviderUnavailableError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("connection: provider %s unavailable: status=%d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("connection: provider %s unavailable: %v", e.Provider, e.Err)
}

func (e *ProviderUnavailableError) Unwrap() error { return e.Err }
