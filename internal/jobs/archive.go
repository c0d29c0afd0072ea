package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/carrydesk/carrybot/internal/domain"
)

// ArchiveJob moves aged funding-rate history into blob storage.
type ArchiveJob struct {
	archiver      domain.Archiver
	interval      time.Duration
	olderThanDays int
	logger        *slog.Logger
}

// NewArchiveJob creates the job.
func NewArchiveJob(archiver domain.Archiver, interval time.Duration, olderThanDays int, logger *slog.Logger) *ArchiveJob {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if olderThanDays <= 0 {
		olderThanDays = 30
	}
	return &ArchiveJob{
		archiver:      archiver,
		interval:      interval,
		olderThanDays: olderThanDays,
		logger:        logger.With("job", "archive"),
	}
}

func (j *ArchiveJob) Name() string            { return "archive" }
func (j *ArchiveJob) Interval() time.Duration { return j.interval }

// RunOnce archives everything older than the configured age.
func (j *ArchiveJob) RunOnce(ctx context.Context) Result {
	return timed(func() Result {
		archived, err := j.archiver.ArchiveFundingRates(ctx, j.olderThanDays)
		if err != nil {
			return failure(fmt.Errorf("jobs: archive: %w", err), "archive pass failed")
		}
		return success("archive pass complete", map[string]any{
			"archived":        archived,
			"older_than_days": j.olderThanDays,
		})
	})
}
