package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
)

// Runner executes one pipeline pass.
type Runner interface {
	Run(ctx context.Context) error
}

// Scheduler triggers runs on a cron schedule or on demand. At most one run is
// in flight; overlapping triggers are skipped.
type Scheduler struct {
	runner  Runner
	cron    *cron.Cron
	logger  *slog.Logger
	running atomic.Bool
	wg      sync.WaitGroup
	ctx     context.Context
}

// NewScheduler validates spec, a standard five-field cron expression or a
// descriptor such as @monthly. Every run, scheduled or triggered, uses ctx.
func NewScheduler(ctx context.Context, runner Runner, spec string, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		runner: runner,
		cron:   cron.New(),
		logger: logger,
		ctx:    ctx,
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins firing scheduled runs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "next_run", s.cron.Entries()[0].Next)
}

// Stop halts the schedule and waits for an in-flight run to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

// TriggerRun starts a run in the background. It returns false when a run is
// already in progress.
func (s *Scheduler) TriggerRun() bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		// Run logs and records its own failure.
		_ = s.runner.Run(s.ctx)
	}()
	return true
}

func (s *Scheduler) tick() {
	if !s.TriggerRun() {
		s.logger.Warn("previous run still in progress, skipping scheduled run")
	}
}
