// Package scheduler runs the periodic live-verification sweep.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/smallbiznis/railzway-connect/internal/service/integration"
)

// sweepTimeout bounds a single sweep so a stuck provider cannot pin the job.
const sweepTimeout = 30 * time.Minute

// Verifier sweeps active credentials.
type Verifier interface {
	VerifyAll(ctx context.Context) (integration.VerifyReport, error)
}

// Scheduler owns the cron scheduler and the verification job.
type Scheduler struct {
	cron     *gocron.Scheduler
	verifier Verifier
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	running  bool
}

// New registers the verification job on schedule, a standard five-field cron expression.
// An empty schedule yields a disabled scheduler.
func New(schedule string, verifier Verifier, logger *zap.Logger) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{verifier: verifier, logger: logger, ctx: ctx, cancel: cancel}

	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return s, nil
	}

	cron := gocron.NewScheduler(time.UTC)
	cron.SingletonModeAll()
	if _, err := cron.Cron(schedule).Tag("verify-connections").Do(s.RunOnce); err != nil {
		cancel()
		return nil, fmt.Errorf("schedule verification %q: %w", schedule, err)
	}
	s.cron = cron
	return s, nil
}

// Enabled reports whether a schedule was configured.
func (s *Scheduler) Enabled() bool {
	return s.cron != nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil || s.running {
		return
	}
	s.log().Info("starting verification scheduler", zap.Int("jobs", len(s.cron.Jobs())))
	s.cron.StartAsync()
	s.running = true
}

// Stop halts the scheduler and cancels an in-flight sweep.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel()
	if s.cron == nil || !s.running {
		return
	}
	s.cron.Stop()
	s.running = false
	s.log().Info("verification scheduler stopped")
}

// RunOnce performs one sweep.
func (s *Scheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(s.ctx, sweepTimeout)
	defer cancel()

	start := time.Now()
	report, err := s.verifier.VerifyAll(ctx)
	if err != nil {
		s.log().Error("verification sweep failed", zap.Error(err), zap.Int("visited", report.Visited))
		return
	}
	s.log().Debug("verification sweep done", zap.Duration("took", time.Since(start)))
}

func (s *Scheduler) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
