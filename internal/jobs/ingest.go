package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/carrydesk/carrybot/internal/domain"
)

// rateUpdateChannel carries a notification after each ingest pass so live
// consumers can re-run detection immediately.
const rateUpdateChannel = "rates.updated"

// IngestConfig tunes the ingestion job.
type IngestConfig struct {
	Interval     time.Duration
	Instruments  []string // empty = everything each venue lists
	RequestLimit int      // per-venue requests per window; 0 disables budgeting
	LimitWindow  time.Duration
}

// IngestJob pulls funding-rate snapshots from every connector into the store
// and the hot cache.
type IngestJob struct {
	connectors []domain.Connector
	rates      domain.FundingRateStore
	cache      domain.RateCache
	bus        domain.SignalBus
	limiter    domain.RateLimiter
	cfg        IngestConfig
	logger     *slog.Logger
}

// NewIngestJob creates the job. cache, bus, and limiter may be nil; the job
// degrades to store-only ingestion.
func NewIngestJob(
	connectors []domain.Connector,
	rates domain.FundingRateStore,
	cache domain.RateCache,
	bus domain.SignalBus,
	limiter domain.RateLimiter,
	cfg IngestConfig,
	logger *slog.Logger,
) *IngestJob {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.LimitWindow <= 0 {
		cfg.LimitWindow = time.Minute
	}
	return &IngestJob{
		connectors: connectors,
		rates:      rates,
		cache:      cache,
		bus:        bus,
		limiter:    limiter,
		cfg:        cfg,
		logger:     logger.With("job", "ingest"),
	}
}

func (j *IngestJob) Name() string            { return "ingest" }
func (j *IngestJob) Interval() time.Duration { return j.cfg.Interval }

// RunOnce fetches snapshots from every venue. One venue failing does not
// stop the others; the pass fails only when every venue failed.
func (j *IngestJob) RunOnce(ctx context.Context) Result {
	return timed(func() Result {
		total := 0
		failedVenues := 0
		for _, conn := range j.connectors {
			n, err := j.ingestVenue(ctx, conn)
			if err != nil {
				failedVenues++
				j.logger.Error("venue ingest failed",
					"venue", conn.Name(), "error", err)
				continue
			}
			total += n
		}

		if failedVenues == len(j.connectors) && len(j.connectors) > 0 {
			return failure(fmt.Errorf("jobs: all %d venues failed", failedVenues), "ingest failed")
		}

		if j.bus != nil && total > 0 {
			if err := j.bus.Publish(ctx, rateUpdateChannel, []byte(fmt.Sprintf(`{"snapshots":%d}`, total))); err != nil {
				j.logger.Warn("rate update publish failed", "error", err)
			}
		}

		return success("ingest complete", map[string]any{
			"snapshots":     total,
			"venues":        len(j.connectors),
			"venues_failed": failedVenues,
		})
	})
}

func (j *IngestJob) ingestVenue(ctx context.Context, conn domain.Connector) (int, error) {
	if j.limiter != nil && j.cfg.RequestLimit > 0 {
		ok, err := j.limiter.Allow(ctx, "venue:"+conn.Name(), j.cfg.RequestLimit, j.cfg.LimitWindow)
		if err != nil {
			j.logger.Warn("rate limiter unavailable", "venue", conn.Name(), "error", err)
		} else if !ok {
			return 0, fmt.Errorf("request budget exhausted: %w", domain.ErrRateLimited)
		}
	}

	snapshots, err := conn.FundingRates(ctx, j.cfg.Instruments)
	if err != nil {
		return 0, fmt.Errorf("fetch funding rates: %w", err)
	}
	if len(snapshots) == 0 {
		return 0, nil
	}

	if err := j.rates.UpsertBatch(ctx, snapshots); err != nil {
		return 0, fmt.Errorf("persist snapshots: %w", err)
	}

	if j.cache != nil {
		for _, s := range snapshots {
			if err := j.cache.SetRate(ctx, s); err != nil {
				j.logger.Warn("cache rate failed",
					"venue", s.Venue, "instrument", s.Instrument, "error", err)
			}
		}
	}

	return len(snapshots), nil
}
