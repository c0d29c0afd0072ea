package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/carrydesk/carrybot/internal/domain"
	"github.com/carrydesk/carrybot/internal/engine"
)

// TradingJob runs one automated trading pass for every enabled user.
type TradingJob struct {
	eng      *engine.Engine
	settings domain.UserSettingsStore
	interval time.Duration
	logger   *slog.Logger
}

// NewTradingJob creates the job.
func NewTradingJob(eng *engine.Engine, settings domain.UserSettingsStore, interval time.Duration, logger *slog.Logger) *TradingJob {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &TradingJob{
		eng:      eng,
		settings: settings,
		interval: interval,
		logger:   logger.With("job", "trading"),
	}
}

func (j *TradingJob) Name() string            { return "trading" }
func (j *TradingJob) Interval() time.Duration { return j.interval }

// RunOnce opens eligible trades for each enabled user. One user's failure
// does not stop the others.
func (j *TradingJob) RunOnce(ctx context.Context) Result {
	return timed(func() Result {
		users, err := j.settings.ListEnabled(ctx)
		if err != nil {
			return failure(fmt.Errorf("jobs: list enabled users: %w", err), "trading pass failed")
		}

		opened := 0
		failedUsers := 0
		for _, u := range users {
			n, err := j.eng.ExecuteUserTrading(ctx, u.UserID)
			if err != nil {
				failedUsers++
				j.logger.Error("user trading pass failed",
					"owner", u.UserID, "error", err)
				continue
			}
			opened += n
		}

		return success("trading pass complete", map[string]any{
			"users":        len(users),
			"users_failed": failedUsers,
			"opened":       opened,
		})
	})
}
