// Package detector scans fresh funding-rate snapshots for cross-venue carry
// opportunities and scores them.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/carrydesk/carrybot/internal/domain"
)

// rateNoiseFloor is the hourly rate difference below which a spread is
// treated as noise and penalized in the confidence score.
const rateNoiseFloor = 1e-4

// minViableNotional is the smallest per-trade notional worth executing;
// users capped below it are filtered out.
const minViableNotional = 10.0

// Config tunes detection. Zero values fall back to the defaults set in
// New.
type Config struct {
	MaxStaleness      time.Duration // snapshot freshness window
	MinSpreadAPR      float64       // percent
	MaxPriceDeviation float64       // percent
	MaxResults        int           // 0 = unlimited
	AllowedVenues     []string      // empty = all registered venues
	EstablishedVenues []string      // venues granted the confidence bonus
}

// Filters scopes one detection pass. Zero values fall back to the
// detector-level config.
type Filters struct {
	Instrument        string
	Venue             string
	MinSpreadAPR      float64
	MaxPriceDeviation float64
	Limit             int
}

// Detector finds and ranks opportunities. It is stateless between calls;
// every pass reads the latest snapshots from the store.
type Detector struct {
	rates       domain.FundingRateStore
	cfg         Config
	allowed     map[string]bool
	established map[string]bool
	logger      *slog.Logger
}

// New creates a Detector.
func New(rates domain.FundingRateStore, cfg Config, logger *slog.Logger) *Detector {
	if cfg.MaxStaleness <= 0 {
		cfg.MaxStaleness = 2 * time.Hour
	}
	if cfg.MaxPriceDeviation <= 0 {
		cfg.MaxPriceDeviation = 0.5
	}

	allowed := make(map[string]bool, len(cfg.AllowedVenues))
	for _, v := range cfg.AllowedVenues {
		allowed[v] = true
	}
	established := make(map[string]bool, len(cfg.EstablishedVenues))
	for _, v := range cfg.EstablishedVenues {
		established[v] = true
	}

	return &Detector{
		rates:       rates,
		cfg:         cfg,
		allowed:     allowed,
		established: established,
		logger:      logger.With("component", "detector"),
	}
}

// FindOpportunities returns the current opportunity set sorted descending by
// spread APR. Store errors are wrapped and propagated; there is no retry.
func (d *Detector) FindOpportunities(ctx context.Context, f Filters) ([]domain.Opportunity, error) {
	snapshots, err := d.rates.GetLatest(ctx, domain.RateQuery{
		Instrument: f.Instrument,
		Venue:      f.Venue,
		MaxAge:     d.cfg.MaxStaleness,
	})
	if err != nil {
		return nil, fmt.Errorf("detector: fetch snapshots: %w", err)
	}

	minAPR := f.MinSpreadAPR
	if minAPR == 0 {
		minAPR = d.cfg.MinSpreadAPR
	}
	maxDev := f.MaxPriceDeviation
	if maxDev == 0 {
		maxDev = d.cfg.MaxPriceDeviation
	}

	byInstrument := make(map[string][]domain.FundingRate)
	for _, s := range snapshots {
		if len(d.allowed) > 0 && !d.allowed[s.Venue] {
			continue
		}
		byInstrument[s.Instrument] = append(byInstrument[s.Instrument], s)
	}

	now := time.Now().UTC()
	var opps []domain.Opportunity
	for _, group := range byInstrument {
		if len(group) < 2 {
			continue
		}
		// Cheapest funding first: earlier entries are long candidates,
		// later ones short candidates.
		sort.Slice(group, func(i, j int) bool {
			return group[i].HourlyRate() < group[j].HourlyRate()
		})

		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				long, short := group[i], group[j]
				if long.Venue == short.Venue {
					continue
				}
				opp, ok := d.score(long, short, minAPR, maxDev, now)
				if ok {
					opps = append(opps, opp)
				}
			}
		}
	}

	sort.Slice(opps, func(i, j int) bool {
		return opps[i].SpreadAPR > opps[j].SpreadAPR
	})

	limit := f.Limit
	if limit == 0 {
		limit = d.cfg.MaxResults
	}
	if limit > 0 && len(opps) > limit {
		opps = opps[:limit]
	}

	d.logger.Debug("detection pass complete",
		"snapshots", len(snapshots), "opportunities", len(opps))
	return opps, nil
}

// score builds one scored opportunity from a long/short snapshot pair, or
// reports false when a filter rejects it.
func (d *Detector) score(long, short domain.FundingRate, minAPR, maxDev float64, now time.Time) (domain.Opportunity, bool) {
	spreadAPR := short.AnnualizedPct() - long.AnnualizedPct()
	if spreadAPR < minAPR {
		return domain.Opportunity{}, false
	}

	avg := (long.MarkPrice + short.MarkPrice) / 2
	if avg <= 0 {
		return domain.Opportunity{}, false
	}
	deviation := math.Abs(long.MarkPrice-short.MarkPrice) / avg * 100
	if deviation > maxDev {
		return domain.Opportunity{}, false
	}

	confidence := 90.0 - 10*deviation
	if math.Abs(short.HourlyRate()-long.HourlyRate()) < rateNoiseFloor {
		confidence -= 20
	}
	if d.established[long.Venue] && d.established[short.Venue] {
		confidence += 10
	}
	confidence = clamp(confidence, 50, 95)

	var tier domain.RiskTier
	switch {
	case deviation > 0.3 || spreadAPR > 50:
		tier = domain.RiskTierHigh
	case deviation > 0.1 || spreadAPR > 20:
		tier = domain.RiskTierMedium
	default:
		tier = domain.RiskTierLow
	}

	return domain.Opportunity{
		Instrument:       long.Instrument,
		LongVenue:        long.Venue,
		ShortVenue:       short.Venue,
		LongHourlyRate:   long.HourlyRate(),
		ShortHourlyRate:  short.HourlyRate(),
		SpreadAPR:        spreadAPR,
		PriceDeviation:   deviation,
		Confidence:       confidence,
		RiskTier:         tier,
		LongMarkPrice:    long.MarkPrice,
		ShortMarkPrice:   short.MarkPrice,
		LongNextFunding:  long.NextFunding,
		ShortNextFunding: short.NextFunding,
		DetectedAt:       now,
	}, true
}

// FilterByUserSettings narrows an opportunity list to what one user's
// preferences admit. Pure; the input slice is not modified.
func (d *Detector) FilterByUserSettings(opps []domain.Opportunity, settings domain.UserSettings) []domain.Opportunity {
	out := make([]domain.Opportunity, 0, len(opps))
	for _, o := range opps {
		if o.SpreadAPR < settings.MinAPR {
			continue
		}
		if settings.MaxPositionSize < minViableNotional {
			continue
		}
		if !settings.Accepts(o.RiskTier, o.Confidence) {
			continue
		}
		if !settings.AllowsVenue(o.LongVenue) || !settings.AllowsVenue(o.ShortVenue) {
			continue
		}
		out = append(out, o)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
