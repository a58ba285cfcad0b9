package reconnect

import (
	"errors"
	"time"

	"github.com/smallbiznis/railzway-connect/internal/domain/connection"
)

// Phase is the visibility of the reconnection prompt.
type Phase string

const (
	PhaseHidden    Phase = "hidden"
	PhaseVisible   Phase = "visible"
	PhaseDismissed Phase = "dismissed"
)

const (
	expiredCooldown      = 24 * time.Hour
	expiringSoonCooldown = 3 * 24 * time.Hour
)

// ErrNotVisible is returned when dismissing a prompt that is not shown.
var ErrNotVisible = errors.New("reconnect: prompt not visible")

// State is the serialized UI bookkeeping for one (tenant, user, provider) prompt.
type State struct {
	Phase        Phase             `json:"phase"`
	Status       connection.Status `json:"status,omitempty"`
	DismissedAt  *time.Time        `json:"dismissedAt,omitempty"`
	DismissedFor connection.Status `json:"dismissedFor,omitempty"`
}

// Cooldown returns how long a dismissal is honored for status.
func Cooldown(status connection.Status) time.Duration {
	switch status {
	case connection.StatusExpired, connection.StatusError:
		return expiredCooldown
	case connection.StatusExpiringSoon:
		return expiringSoonCooldown
	default:
		return 0
	}
}

func needsPrompt(status connection.Status) bool {
	return Cooldown(status) > 0
}

// Advance applies a status observation at now.
// Healthy or absent credentials always hide the prompt and clear any dismissal.
func Advance(s State, status connection.Status, now time.Time) State {
	if !needsPrompt(status) {
		return State{Phase: PhaseHidden, Status: status}
	}
	if s.Phase == PhaseDismissed && s.DismissedAt != nil && s.DismissedFor == status {
		if now.Sub(*s.DismissedAt) < Cooldown(status) {
			s.Status = status
			return s
		}
	}
	return State{Phase: PhaseVisible, Status: status}
}

// Dismiss records a user dismissal of a visible prompt.
func Dismiss(s State, now time.Time) (State, error) {
	switch s.Phase {
	case PhaseDismissed:
		return s, nil
	case PhaseVisible:
		at := now.UTC()
		return State{
			Phase:        PhaseDismissed,
			Status:       s.Status,
			DismissedAt:  &at,
			DismissedFor: s.Status,
		}, nil
	default:
		return s, ErrNotVisible
	}
}
