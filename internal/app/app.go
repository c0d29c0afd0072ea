// Package app wires configuration into the running bot: stores, caches,
// venue connectors, the detection and execution layers, and the periodic
// jobs for the selected mode.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/carrydesk/carrybot/internal/config"
	"github.com/carrydesk/carrybot/internal/detector"
	"github.com/carrydesk/carrybot/internal/domain"
	"github.com/carrydesk/carrybot/internal/engine"
	"github.com/carrydesk/carrybot/internal/jobs"
	"github.com/carrydesk/carrybot/internal/venue/vest"
)

// App is the assembled bot.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	deps    *Dependencies
	cleanup func()

	scheduler *jobs.Scheduler
	stream    *vest.FundingStream
}

// New builds the application for cfg.Mode. The caller must Close it.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	wireCtx, cancel := context.WithTimeout(ctx, wireTimeout)
	defer cancel()

	deps, cleanup, err := Wire(wireCtx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		logger:  logger,
		deps:    deps,
		cleanup: cleanup,
	}

	det := detector.New(deps.RateStore, detector.Config{
		MaxStaleness:      cfg.Detector.MaxStaleness.Duration,
		MinSpreadAPR:      cfg.Detector.MinSpreadAPR,
		MaxPriceDeviation: cfg.Detector.MaxPriceDeviation,
		MaxResults:        cfg.Detector.MaxResults,
		AllowedVenues:     cfg.Detector.AllowedVenues,
		EstablishedVenues: cfg.Detector.EstablishedVenues,
	}, logger)

	eng := engine.New(
		deps.TradeStore,
		deps.PositionStore,
		deps.SettingsStore,
		deps.AuditStore,
		deps.RateStore,
		det,
		deps.Notifier,
		engine.Config{
			RecheckDeviation:  cfg.Engine.RecheckDeviation,
			MaxPriceDeviation: cfg.Engine.MaxPriceDeviation,
			OpeningGrace:      cfg.Engine.OpeningGrace.Duration,
		},
		logger,
	)

	jobList, err := a.buildJobs(eng)
	if err != nil {
		cleanup()
		return nil, err
	}
	a.scheduler = jobs.NewScheduler(jobList, deps.LockManager, logger)

	if a.runsIngest() && cfg.Vest.Enabled && cfg.Vest.WsURL != "" {
		a.stream = vest.NewFundingStream(cfg.Vest.WsURL, cfg.Jobs.Instruments, logger)
	}

	return a, nil
}

// buildJobs selects the periodic jobs for the configured mode.
func (a *App) buildJobs(eng *engine.Engine) ([]jobs.Job, error) {
	cfg := a.cfg
	var list []jobs.Job

	if a.runsIngest() {
		list = append(list, jobs.NewIngestJob(
			a.deps.Connectors,
			a.deps.RateStore,
			a.deps.RateCache,
			a.deps.SignalBus,
			a.deps.RateLimiter,
			jobs.IngestConfig{
				Interval:     cfg.Jobs.IngestInterval.Duration,
				Instruments:  cfg.Jobs.Instruments,
				RequestLimit: cfg.Jobs.VenueRequestLimit,
				LimitWindow:  cfg.Jobs.VenueRequestWindow.Duration,
			},
			a.logger,
		))
	}
	if cfg.Mode == "trade" || cfg.Mode == "full" {
		list = append(list, jobs.NewTradingJob(eng, a.deps.SettingsStore, cfg.Jobs.TradingInterval.Duration, a.logger))
	}
	if cfg.Mode == "trade" || cfg.Mode == "monitor" || cfg.Mode == "full" {
		list = append(list, jobs.NewMonitorJob(eng, cfg.Jobs.MonitorInterval.Duration, a.logger))
	}
	if cfg.Mode == "archive" || cfg.Mode == "full" {
		if a.deps.Archiver == nil {
			if cfg.Mode == "archive" {
				return nil, fmt.Errorf("app: mode %q requires s3.enabled", cfg.Mode)
			}
			a.logger.Info("s3 disabled, archive job skipped")
		} else {
			list = append(list, jobs.NewArchiveJob(
				a.deps.Archiver,
				cfg.Jobs.ArchiveInterval.Duration,
				cfg.Jobs.ArchiveOlderDays,
				a.logger,
			))
		}
	}

	if len(list) == 0 {
		return nil, fmt.Errorf("app: no jobs selected for mode %q", cfg.Mode)
	}
	return list, nil
}

func (a *App) runsIngest() bool {
	return a.cfg.Mode == "ingest" || a.cfg.Mode == "trade" || a.cfg.Mode == "monitor" || a.cfg.Mode == "full"
}

// Run blocks until ctx is cancelled. The job scheduler and the live funding
// stream (when configured) run side by side; the stream is best-effort and
// its snapshots land in the same store and cache as polled ones.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.scheduler.Run(ctx)
	})

	if a.stream != nil {
		out := make(chan domain.FundingRate, 64)
		g.Go(func() error {
			return a.stream.Run(ctx, out)
		})
		g.Go(func() error {
			a.consumeStream(ctx, out)
			return nil
		})
	}

	return g.Wait()
}

// consumeStream persists live snapshots until the channel closes.
func (a *App) consumeStream(ctx context.Context, out <-chan domain.FundingRate) {
	for snap := range out {
		if err := a.deps.RateStore.Upsert(ctx, snap); err != nil {
			a.logger.Warn("live snapshot persist failed",
				"venue", snap.Venue, "instrument", snap.Instrument, "error", err)
			continue
		}
		if err := a.deps.RateCache.SetRate(ctx, snap); err != nil {
			a.logger.Warn("live snapshot cache failed",
				"venue", snap.Venue, "instrument", snap.Instrument, "error", err)
		}
	}
}

// Close releases all resources acquired by New.
func (a *App) Close() {
	if a.cleanup != nil {
		a.cleanup()
	}
}
