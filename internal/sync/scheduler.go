package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner performs one sync pass.
type Runner interface {
	SyncAll(ctx context.Context) (Report, error)
}

// Scheduler triggers a Runner on a standard five-field cron schedule.
type Scheduler struct {
	runner   Runner
	schedule string
	timeout  time.Duration
	logger   *slog.Logger

	cron *cron.Cron
}

// NewScheduler validates schedule. timeout bounds a single run; zero means
// no bound beyond the scheduler's context.
func NewScheduler(runner Runner, schedule string, timeout time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid sync schedule %q: %w", schedule, err)
	}
	return &Scheduler{
		runner:   runner,
		schedule: schedule,
		timeout:  timeout,
		logger:   logger.With("component", "sync-scheduler"),
	}, nil
}

// Start registers the job and begins ticking. Runs stop when ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cron != nil {
		return errors.New("scheduler already started")
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule sync: %w", err)
	}
	s.cron = c
	c.Start()
	s.logger.Info("sync scheduler started", "schedule", s.schedule)
	return nil
}

// RunOnce performs a pass immediately, logging the outcome.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	report, err := s.runner.SyncAll(ctx)
	switch {
	case errors.Is(err, ErrBusy):
		s.logger.Debug("sync skipped, previous run still active")
	case err != nil:
		s.logger.Error("sync run failed", "error", err)
	case report.Failed > 0:
		s.logger.Warn("sync run finished with failures",
			"channels", report.Channels, "failed", report.Failed, "error", report.Err())
	}
}

// Stop halts the schedule and waits for a running pass to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
