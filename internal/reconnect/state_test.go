package reconnect

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/railzway-connect/internal/domain/connection"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func TestAdvanceShowsPromptForDegradedStatus(t *testing.T) {
	for _, status := range []connection.Status{connection.StatusExpired, connection.StatusExpiringSoon, connection.StatusError} {
		s := Advance(State{Phase: PhaseHidden}, status, t0)
		require.Equal(t, PhaseVisible, s.Phase, string(status))
		require.Equal(t, status, s.Status)
	}
}

func TestAdvanceKeepsHiddenWhenHealthy(t *testing.T) {
	for _, status := range []connection.Status{connection.StatusActive, connection.StatusNotConnected} {
		s := Advance(State{Phase: PhaseHidden}, status, t0)
		require.Equal(t, PhaseHidden, s.Phase)
	}
}

func TestExpiredDismissalCooldown(t *testing.T) {
	s := Advance(State{}, connection.StatusExpired, t0)
	s, err := Dismiss(s, t0)
	require.NoError(t, err)
	require.Equal(t, PhaseDismissed, s.Phase)

	before := Advance(s, connection.StatusExpired, t0.Add(23*time.Hour))
	require.Equal(t, PhaseDismissed, before.Phase)

	after := Advance(before, connection.StatusExpired, t0.Add(24*time.Hour))
	require.Equal(t, PhaseVisible, after.Phase)
	require.Nil(t, after.DismissedAt)
}

func TestExpiringSoonDismissalCooldown(t *testing.T) {
	s := Advance(State{}, connection.StatusExpiringSoon, t0)
	s, err := Dismiss(s, t0)
	require.NoError(t, err)

	require.Equal(t, PhaseDismissed, Advance(s, connection.StatusExpiringSoon, t0.Add(71*time.Hour)).Phase)
	require.Equal(t, PhaseVisible, Advance(s, connection.StatusExpiringSoon, t0.Add(72*time.Hour)).Phase)
}

func TestStatusChangeReopensDismissedPrompt(t *testing.T) {
	s := Advance(State{}, connection.StatusExpiringSoon, t0)
	s, err := Dismiss(s, t0)
	require.NoError(t, err)

	s = Advance(s, connection.StatusExpired, t0.Add(time.Hour))
	require.Equal(t, PhaseVisible, s.Phase)
	require.Equal(t, connection.StatusExpired, s.Status)
}

func TestActiveAlwaysHidesAndClearsDismissal(t *testing.T) {
	s := Advance(State{}, connection.StatusExpired, t0)
	s, err := Dismiss(s, t0)
	require.NoError(t, err)

	s = Advance(s, connection.StatusActive, t0.Add(time.Minute))
	require.Equal(t, PhaseHidden, s.Phase)
	require.Nil(t, s.DismissedAt)

	// A fresh expiry after reconnection is shown immediately.
	s = Advance(s, connection.StatusExpired, t0.Add(2*time.Minute))
	require.Equal(t, PhaseVisible, s.Phase)
}

func TestDismissRequiresVisiblePrompt(t *testing.T) {
	_, err := Dismiss(State{Phase: PhaseHidden}, t0)
	require.ErrorIs(t, err, ErrNotVisible)

	dismissed := State{Phase: PhaseDismissed, DismissedAt: &t0, DismissedFor: connection.StatusExpired}
	again, err := Dismiss(dismissed, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, t0, *again.DismissedAt)
}

func TestStateSerializesAsValueObject(t *testing.T) {
	s := Advance(State{}, connection.StatusExpired, t0)
	s, err := Dismiss(s, t0)
	require.NoError(t, err)

	raw, err := json.Marshal(s)
	require.NoError(t, err)
	require.JSONEq(t, `{"phase":"dismissed","status":"expired","dismissedAt":"2026-05-01T09:00:00Z","dismissedFor":"expired"}`, string(raw))

	var decoded State
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, PhaseDismissed, Advance(decoded, connection.StatusExpired, t0.Add(time.Hour)).Phase)
}
