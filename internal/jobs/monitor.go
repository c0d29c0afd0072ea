package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/carrydesk/carrybot/internal/domain"
	"github.com/carrydesk/carrybot/internal/engine"
)

// MonitorJob evaluates auto-close conditions on open trades and then runs
// the orphan-leg reconciliation sweep.
type MonitorJob struct {
	eng      *engine.Engine
	interval time.Duration
	logger   *slog.Logger
}

// NewMonitorJob creates the job.
func NewMonitorJob(eng *engine.Engine, interval time.Duration, logger *slog.Logger) *MonitorJob {
	if interval <= 0 {
		interval = time.Minute
	}
	return &MonitorJob{
		eng:      eng,
		interval: interval,
		logger:   logger.With("job", "monitor"),
	}
}

func (j *MonitorJob) Name() string            { return "monitor" }
func (j *MonitorJob) Interval() time.Duration { return j.interval }

// RunOnce runs one monitoring pass followed by the reconciliation sweep. An
// already-running pass in this process is reported as a successful skip.
func (j *MonitorJob) RunOnce(ctx context.Context) Result {
	return timed(func() Result {
		res, err := j.eng.MonitorAndAutoClose(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrPassInProgress) {
				return success("pass already in progress, skipped", nil)
			}
			return failure(fmt.Errorf("jobs: monitor: %w", err), "monitoring pass failed")
		}

		swept, err := j.eng.ReconcileOrphanLegs(ctx)
		if err != nil {
			j.logger.Error("reconciliation sweep failed", "error", err)
		}

		return success("monitoring pass complete", map[string]any{
			"checked":       res.Checked,
			"closed":        res.Closed,
			"check_errors":  res.Errors,
			"orphans_swept": swept,
		})
	})
}
