package detector

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carrydesk/carrybot/internal/domain"
)

// fakeRateStore serves a fixed snapshot set for detection passes.
type fakeRateStore struct {
	domain.FundingRateStore
	snapshots []domain.FundingRate
}

func (s *fakeRateStore) GetLatest(_ context.Context, q domain.RateQuery) ([]domain.FundingRate, error) {
	var out []domain.FundingRate
	for _, r := range s.snapshots {
		if q.Instrument != "" && r.Instrument != q.Instrument {
			continue
		}
		if q.Venue != "" && r.Venue != q.Venue {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func snapshot(venue, instrument string, rate, cycleHours, mark float64) domain.FundingRate {
	return domain.FundingRate{
		Venue:      venue,
		Instrument: instrument,
		Rate:       rate,
		CycleHours: cycleHours,
		MarkPrice:  mark,
		ObservedAt: time.Now().UTC(),
	}
}

func newTestDetector(store *fakeRateStore, cfg Config) *Detector {
	return New(store, cfg, testLogger())
}

func TestFindOpportunities_SpreadAndDirection(t *testing.T) {
	store := &fakeRateStore{snapshots: []domain.FundingRate{
		snapshot("vest", "ETH-PERP", 0.0003, 1, 1000),   // expensive funding: short here
		snapshot("bitmara", "ETH-PERP", -0.0008, 8, 1000), // -0.0001/h: long here
	}}
	d := newTestDetector(store, Config{
		MinSpreadAPR:      10,
		EstablishedVenues: []string{"vest", "bitmara"},
	})

	opps, err := d.FindOpportunities(context.Background(), Filters{})
	require.NoError(t, err)
	require.Len(t, opps, 1)

	opp := opps[0]
	// (0.0003 - (-0.0001)) * 8760 * 100 = 350.4% annualized carry.
	assert.InDelta(t, 350.4, opp.SpreadAPR, 1e-9)
	assert.Equal(t, "bitmara", opp.LongVenue)
	assert.Equal(t, "vest", opp.ShortVenue)
	assert.InDelta(t, -0.0001, opp.LongHourlyRate, 1e-12)
	assert.InDelta(t, 0.0003, opp.ShortHourlyRate, 1e-12)
	assert.Equal(t, domain.RiskTierHigh, opp.RiskTier)
	// dev 0, no noise penalty, both venues established: 90+10 clamped to 95.
	assert.InDelta(t, 95.0, opp.Confidence, 1e-9)
}

func TestFindOpportunities_MinSpreadFilter(t *testing.T) {
	store := &fakeRateStore{snapshots: []domain.FundingRate{
		snapshot("vest", "BTC-PERP", 0.00001, 1, 50000),
		snapshot("bitmara", "BTC-PERP", 0.0, 8, 50000),
	}}
	d := newTestDetector(store, Config{MinSpreadAPR: 20})

	opps, err := d.FindOpportunities(context.Background(), Filters{})
	require.NoError(t, err)
	assert.Empty(t, opps)
}

func TestFindOpportunities_DeviationFilter(t *testing.T) {
	store := &fakeRateStore{snapshots: []domain.FundingRate{
		snapshot("vest", "ETH-PERP", 0.0003, 1, 1000),
		snapshot("bitmara", "ETH-PERP", -0.0001, 1, 1010), // ~1% apart
	}}
	d := newTestDetector(store, Config{MinSpreadAPR: 10, MaxPriceDeviation: 0.5})

	opps, err := d.FindOpportunities(context.Background(), Filters{})
	require.NoError(t, err)
	assert.Empty(t, opps)

	// The per-pass override can relax the cap.
	opps, err = d.FindOpportunities(context.Background(), Filters{MaxPriceDeviation: 2})
	require.NoError(t, err)
	assert.Len(t, opps, 1)
}

func TestFindOpportunities_NoiseFloorPenalty(t *testing.T) {
	// Hourly rates 0.00006 apart: below the noise floor, confidence drops 20.
	store := &fakeRateStore{snapshots: []domain.FundingRate{
		snapshot("vest", "SOL-PERP", 0.00008, 1, 100),
		snapshot("bitmara", "SOL-PERP", 0.00002, 1, 100),
	}}
	d := newTestDetector(store, Config{MinSpreadAPR: 1})

	opps, err := d.FindOpportunities(context.Background(), Filters{})
	require.NoError(t, err)
	require.Len(t, opps, 1)
	// 90 - 0 deviation - 20 noise penalty, no establishment bonus.
	assert.InDelta(t, 70.0, opps[0].Confidence, 1e-9)
}

func TestFindOpportunities_ConfidenceClampedLow(t *testing.T) {
	// Deviation costs 10 points per percent and the noise penalty stacks on
	// top; the result must stay inside the [50, 95] clamp.
	store := &fakeRateStore{snapshots: []domain.FundingRate{
		snapshot("vest", "DOGE-PERP", 0.00008, 1, 100.0),
		snapshot("bitmara", "DOGE-PERP", 0.00002, 1, 100.4),
	}}
	d := newTestDetector(store, Config{MinSpreadAPR: 1, MaxPriceDeviation: 5})

	opps, err := d.FindOpportunities(context.Background(), Filters{})
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.GreaterOrEqual(t, opps[0].Confidence, 50.0)
	assert.LessOrEqual(t, opps[0].Confidence, 95.0)
}

func TestFindOpportunities_SortedAndLimited(t *testing.T) {
	store := &fakeRateStore{snapshots: []domain.FundingRate{
		snapshot("vest", "ETH-PERP", 0.0003, 1, 1000),
		snapshot("bitmara", "ETH-PERP", -0.0001, 1, 1000),
		snapshot("vest", "BTC-PERP", 0.0001, 1, 50000),
		snapshot("bitmara", "BTC-PERP", 0.0, 1, 50000),
	}}
	d := newTestDetector(store, Config{MinSpreadAPR: 10})

	opps, err := d.FindOpportunities(context.Background(), Filters{})
	require.NoError(t, err)
	require.Len(t, opps, 2)
	assert.Equal(t, "ETH-PERP", opps[0].Instrument)
	assert.Greater(t, opps[0].SpreadAPR, opps[1].SpreadAPR)

	opps, err = d.FindOpportunities(context.Background(), Filters{Limit: 1})
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.Equal(t, "ETH-PERP", opps[0].Instrument)
}

func TestFindOpportunities_SingleVenueNoPair(t *testing.T) {
	store := &fakeRateStore{snapshots: []domain.FundingRate{
		snapshot("vest", "ETH-PERP", 0.0003, 1, 1000),
	}}
	d := newTestDetector(store, Config{MinSpreadAPR: 1})

	opps, err := d.FindOpportunities(context.Background(), Filters{})
	require.NoError(t, err)
	assert.Empty(t, opps)
}

func TestFindOpportunities_VenueAllowlist(t *testing.T) {
	store := &fakeRateStore{snapshots: []domain.FundingRate{
		snapshot("vest", "ETH-PERP", 0.0003, 1, 1000),
		snapshot("shadyvenue", "ETH-PERP", -0.0001, 1, 1000),
	}}
	d := newTestDetector(store, Config{MinSpreadAPR: 1, AllowedVenues: []string{"vest", "bitmara"}})

	opps, err := d.FindOpportunities(context.Background(), Filters{})
	require.NoError(t, err)
	assert.Empty(t, opps)
}

func TestFilterByUserSettings(t *testing.T) {
	base := domain.Opportunity{
		Instrument: "ETH-PERP",
		LongVenue:  "bitmara",
		ShortVenue: "vest",
		SpreadAPR:  40,
		Confidence: 85,
		RiskTier:   domain.RiskTierMedium,
	}
	settings := domain.UserSettings{
		UserID:          "u1",
		Enabled:         true,
		MinAPR:          20,
		MaxPositionSize: 1000,
		RiskTolerance:   domain.RiskToleranceMedium,
	}
	d := newTestDetector(&fakeRateStore{}, Config{})

	t.Run("passes", func(t *testing.T) {
		out := d.FilterByUserSettings([]domain.Opportunity{base}, settings)
		assert.Len(t, out, 1)
	})

	t.Run("apr below user floor", func(t *testing.T) {
		s := settings
		s.MinAPR = 50
		assert.Empty(t, d.FilterByUserSettings([]domain.Opportunity{base}, s))
	})

	t.Run("cap below viable notional", func(t *testing.T) {
		s := settings
		s.MaxPositionSize = 5
		assert.Empty(t, d.FilterByUserSettings([]domain.Opportunity{base}, s))
	})

	t.Run("risk tier too hot", func(t *testing.T) {
		o := base
		o.RiskTier = domain.RiskTierHigh
		assert.Empty(t, d.FilterByUserSettings([]domain.Opportunity{o}, settings))
	})

	t.Run("confidence below tolerance floor", func(t *testing.T) {
		o := base
		o.Confidence = 65
		assert.Empty(t, d.FilterByUserSettings([]domain.Opportunity{o}, settings))
	})

	t.Run("venue not preferred", func(t *testing.T) {
		s := settings
		s.PreferredVenues = []string{"vest"}
		assert.Empty(t, d.FilterByUserSettings([]domain.Opportunity{base}, s))
	})
}
