package health_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/railzway-connect/internal/domain/connection"
	"github.com/smallbiznis/railzway-connect/internal/health"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func timePtr(t time.Time) *time.Time { return &t }

func TestClassify(t *testing.T) {
	week := 7 * 24 * time.Hour

	cases := []struct {
		name string
		rec  *connection.Record
		want connection.Status
	}{
		{name: "no record", rec: nil, want: connection.StatusNotConnected},
		{name: "inactive record", rec: &connection.Record{IsActive: false}, want: connection.StatusNotConnected},
		{name: "no expiry", rec: &connection.Record{IsActive: true}, want: connection.StatusActive},
		{name: "far expiry", rec: &connection.Record{IsActive: true, ExpiresAt: timePtr(fixedNow.Add(30 * 24 * time.Hour))}, want: connection.StatusActive},
		{name: "three days left", rec: &connection.Record{IsActive: true, ExpiresAt: timePtr(fixedNow.Add(3 * 24 * time.Hour))}, want: connection.StatusExpiringSoon},
		{name: "exactly at threshold", rec: &connection.Record{IsActive: true, ExpiresAt: timePtr(fixedNow.Add(week))}, want: connection.StatusExpiringSoon},
		{name: "just past threshold", rec: &connection.Record{IsActive: true, ExpiresAt: timePtr(fixedNow.Add(week + time.Second))}, want: connection.StatusActive},
		{name: "expires now", rec: &connection.Record{IsActive: true, ExpiresAt: timePtr(fixedNow)}, want: connection.StatusExpired},
		{name: "expired one second ago", rec: &connection.Record{IsActive: true, ExpiresAt: timePtr(fixedNow.Add(-time.Second))}, want: connection.StatusExpired},
		{
			name: "failed verification",
			rec:  &connection.Record{IsActive: true, VerificationFailedAt: timePtr(fixedNow.Add(-time.Hour))},
			want: connection.StatusError,
		},
		{
			name: "verification recovered",
			rec: &connection.Record{
				IsActive:             true,
				VerificationFailedAt: timePtr(fixedNow.Add(-2 * time.Hour)),
				LastVerifiedAt:       timePtr(fixedNow.Add(-time.Hour)),
			},
			want: connection.StatusActive,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, health.Classify(tc.rec, fixedNow, week))
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	rec := &connection.Record{IsActive: true, ExpiresAt: timePtr(fixedNow.Add(48 * time.Hour))}
	first := health.Classify(rec, fixedNow, 0)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, health.Classify(rec, fixedNow, 0))
	}
	require.Equal(t, connection.StatusExpiringSoon, first)
}

func TestEvaluate(t *testing.T) {
	rec := &connection.Record{
		IsActive:       true,
		ExpiresAt:      timePtr(fixedNow.Add(36 * time.Hour)),
		LastVerifiedAt: timePtr(fixedNow.Add(-40 * 24 * time.Hour)),
		CreatedAt:      fixedNow.Add(-60 * 24 * time.Hour),
	}

	ev := health.Evaluate(rec, fixedNow, health.DefaultPolicy())
	require.Equal(t, connection.StatusExpiringSoon, ev.Status)
	require.NotNil(t, ev.DaysUntilExpiry)
	require.Equal(t, 2, *ev.DaysUntilExpiry)
	require.True(t, ev.Stale)
	require.Equal(t, rec.LastVerifiedAt, ev.LastSync)
}

func TestEvaluateNotConnected(t *testing.T) {
	ev := health.Evaluate(nil, fixedNow, health.Policy{})
	require.Equal(t, connection.StatusNotConnected, ev.Status)
	require.Nil(t, ev.ExpiresAt)
	require.Nil(t, ev.DaysUntilExpiry)
	require.False(t, ev.Stale)
}

func TestEvaluateFreshNonExpiring(t *testing.T) {
	rec := &connection.Record{IsActive: true, CreatedAt: fixedNow.Add(-24 * time.Hour)}
	ev := health.Evaluate(rec, fixedNow, health.DefaultPolicy())
	require.Equal(t, connection.StatusActive, ev.Status)
	require.Nil(t, ev.DaysUntilExpiry)
	require.False(t, ev.Stale)
}

func TestDaysUntil(t *testing.T) {
	require.Equal(t, 0, health.DaysUntil(fixedNow.Add(-time.Hour), fixedNow))
	require.Equal(t, 1, health.DaysUntil(fixedNow.Add(time.Minute), fixedNow))
	require.Equal(t, 3, health.DaysUntil(fixedNow.Add(72*time.Hour), fixedNow))
}

func TestScoreOf(t *testing.T) {
	score := health.ScoreOf([]connection.Status{
		connection.StatusActive,
		connection.StatusExpiringSoon,
		connection.StatusExpired,
		connection.StatusError,
		connection.StatusNotConnected,
	}, 8)
	require.Equal(t, 2, score.Connected)
	require.Equal(t, 8, score.Total)
	require.Equal(t, 25, score.Percent)

	require.Equal(t, 0, health.ScoreOf(nil, 0).Percent)
}
