package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carrydesk/carrybot/internal/domain"
)

// Scheduler runs each job on its own interval until the context ends. When a
// lock manager is configured, each pass first takes a cross-process lock so
// only one bot instance runs a given job at a time; a held lock is a normal
// skip, not an error.
type Scheduler struct {
	jobs   []Job
	locks  domain.LockManager
	logger *slog.Logger
}

// NewScheduler creates a Scheduler. locks may be nil for single-instance
// deployments.
func NewScheduler(jobs []Job, locks domain.LockManager, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		jobs:   jobs,
		locks:  locks,
		logger: logger.With("component", "scheduler"),
	}
}

// Run blocks until ctx is cancelled. Every job gets an immediate first pass,
// then ticks on its interval.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, job := range s.jobs {
		job := job
		g.Go(func() error {
			s.logger.Info("job scheduled",
				"job", job.Name(), "interval", job.Interval().String())

			s.runGuarded(ctx, job)

			ticker := time.NewTicker(job.Interval())
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					s.runGuarded(ctx, job)
				}
			}
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runGuarded runs one pass under the distributed lock and logs its result.
func (s *Scheduler) runGuarded(ctx context.Context, job Job) {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "jobs:"+job.Name(), job.Interval())
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				s.logger.Debug("pass skipped, lock held elsewhere", "job", job.Name())
				return
			}
			// A broken lock backend should not stall the bot; run anyway.
			s.logger.Warn("lock acquisition failed, running unguarded",
				"job", job.Name(), "error", err)
		} else {
			defer unlock()
		}
	}

	res := job.RunOnce(ctx)
	attrs := []any{
		"job", job.Name(),
		"success", res.Success,
		"duration_ms", res.ExecutionTimeMs,
	}
	if res.Message != "" {
		attrs = append(attrs, "message", res.Message)
	}
	for k, v := range res.Data {
		attrs = append(attrs, k, v)
	}

	if !res.Success {
		attrs = append(attrs, "error", res.Err)
		s.logger.Error("job pass failed", attrs...)
		return
	}
	s.logger.Info("job pass complete", attrs...)
}
