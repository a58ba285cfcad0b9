package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/railzway-connect/internal/service/integration"
)

type countingVerifier struct {
	calls atomic.Int32
	err   error
}

func (v *countingVerifier) VerifyAll(context.Context) (integration.VerifyReport, error) {
	v.calls.Add(1)
	return integration.VerifyReport{Visited: 1}, v.err
}

func TestDisabledScheduler(t *testing.T) {
	v := &countingVerifier{}
	s, err := New("", v, zap.NewNop())
	require.NoError(t, err)
	require.False(t, s.Enabled())

	s.Start()
	s.Stop()
	require.Zero(t, v.calls.Load())
}

func TestInvalidSchedule(t *testing.T) {
	_, err := New("every tuesday", &countingVerifier{}, zap.NewNop())
	require.Error(t, err)
}

func TestScheduledSweep(t *testing.T) {
	v := &countingVerifier{}
	s, err := New("0 3 * * *", v, zap.NewNop())
	require.NoError(t, err)
	require.True(t, s.Enabled())

	s.Start()
	s.Start()
	s.RunOnce()
	s.Stop()
	require.Equal(t, int32(1), v.calls.Load())
}

func TestRunOnceSurvivesErrors(t *testing.T) {
	v := &countingVerifier{err: errors.New("database gone")}
	s, err := New("", v, zap.NewNop())
	require.NoError(t, err)

	s.RunOnce()
	s.RunOnce()
	require.Equal(t, int32(2), v.calls.Load())
}
