package health

import (
	"math"
	"time"

	"github.com/smallbiznis/railzway-connect/internal/domain/connection"
)

const (
	// DefaultExpiringSoonThreshold is how far ahead of expiry a credential is flagged.
	DefaultExpiringSoonThreshold = 7 * 24 * time.Hour
	// DefaultStaleAfter is how long a credential may go without a successful live check.
	DefaultStaleAfter = 30 * 24 * time.Hour
)

// Policy holds the tunable windows used during evaluation.
type Policy struct {
	ExpiringSoonThreshold time.Duration
	StaleAfter            time.Duration
}

// DefaultPolicy returns the standard evaluation windows.
func DefaultPolicy() Policy {
	return Policy{
		ExpiringSoonThreshold: DefaultExpiringSoonThreshold,
		StaleAfter:            DefaultStaleAfter,
	}
}

func (p Policy) normalized() Policy {
	if p.ExpiringSoonThreshold <= 0 {
		p.ExpiringSoonThreshold = DefaultExpiringSoonThreshold
	}
	if p.StaleAfter <= 0 {
		p.StaleAfter = DefaultStaleAfter
	}
	return p
}

// Classify maps a credential to its status at now. A nil or inactive record is not connected.
// The explicit verification-failure flag wins over expiry math.
func Classify(rec *connection.Record, now time.Time, threshold time.Duration) connection.Status {
	if rec == nil || !rec.IsActive {
		return connection.StatusNotConnected
	}
	if threshold <= 0 {
		threshold = DefaultExpiringSoonThreshold
	}
	if rec.VerificationFailed() {
		return connection.StatusError
	}
	if rec.ExpiresAt != nil {
		expiresAt := *rec.ExpiresAt
		if !expiresAt.After(now) {
			return connection.StatusExpired
		}
		if !expiresAt.After(now.Add(threshold)) {
			return connection.StatusExpiringSoon
		}
	}
	return connection.StatusActive
}

// Evaluation is the read-side view of one provider's credential.
type Evaluation struct {
	Status          connection.Status `json:"status"`
	ExpiresAt       *time.Time        `json:"expiresAt"`
	LastSync        *time.Time        `json:"lastSync"`
	DaysUntilExpiry *int              `json:"daysUntilExpiry,omitempty"`
	Stale           bool              `json:"stale"`
}

// Evaluate classifies rec and derives the countdown and staleness flag.
func Evaluate(rec *connection.Record, now time.Time, policy Policy) Evaluation {
	policy = policy.normalized()
	ev := Evaluation{Status: Classify(rec, now, policy.ExpiringSoonThreshold)}
	if ev.Status == connection.StatusNotConnected {
		return ev
	}

	ev.ExpiresAt = rec.ExpiresAt
	ev.LastSync = rec.LastVerifiedAt
	if rec.ExpiresAt != nil {
		days := DaysUntil(*rec.ExpiresAt, now)
		ev.DaysUntilExpiry = &days
	}

	reference := rec.CreatedAt
	if rec.LastVerifiedAt != nil {
		reference = *rec.LastVerifiedAt
	}
	ev.Stale = !reference.IsZero() && now.Sub(reference) > policy.StaleAfter
	return ev
}

// DaysUntil returns the whole days remaining until t, rounded up, or zero once t has passed.
func DaysUntil(t, now time.Time) int {
	remaining := t.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Hours() / 24))
}

// Score is the aggregate "N of M platforms connected" figure.
type Score struct {
	Connected int `json:"connectedCount"`
	Total     int `json:"totalProviders"`
	Percent   int `json:"healthScore"`
}

// ScoreOf counts usable credentials among statuses against total providers.
func ScoreOf(statuses []connection.Status, total int) Score {
	s := Score{Total: total}
	for _, st := range statuses {
		if st.Connected() {
			s.Connected++
		}
	}
	if s.Total > 0 {
		s.Percent = s.Connected * 100 / s.Total
	}
	return s
}
