package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to TradeStatus
		want     bool
	}{
		{TradeStatusOpening, TradeStatusOpen, true},
		{TradeStatusOpening, TradeStatusClosing, true},
		{TradeStatusOpening, TradeStatusError, true},
		{TradeStatusOpening, TradeStatusClosed, false}, // must pass through closing
		{TradeStatusOpen, TradeStatusClosing, true},
		{TradeStatusOpen, TradeStatusError, true},
		{TradeStatusOpen, TradeStatusClosed, false},
		{TradeStatusOpen, TradeStatusOpening, false},
		{TradeStatusClosing, TradeStatusClosed, true},
		{TradeStatusClosing, TradeStatusError, true},
		{TradeStatusClosing, TradeStatusOpen, false},
		{TradeStatusClosed, TradeStatusOpening, false},
		{TradeStatusClosed, TradeStatusError, false},
		{TradeStatusError, TradeStatusClosing, true}, // force-close an errored trade
		{TradeStatusError, TradeStatusOpen, false},
		{TradeStatusError, TradeStatusClosed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTradeStatusPredicates(t *testing.T) {
	assert.True(t, TradeStatusOpening.IsActive())
	assert.True(t, TradeStatusOpen.IsActive())
	assert.True(t, TradeStatusClosing.IsActive())
	assert.False(t, TradeStatusClosed.IsActive())
	assert.False(t, TradeStatusError.IsActive())

	assert.True(t, TradeStatusClosed.IsTerminal())
	assert.True(t, TradeStatusError.IsTerminal())
	assert.False(t, TradeStatusOpen.IsTerminal())
}

func TestTradeHoursOpen(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	trade := Trade{CreatedAt: now.Add(-90 * time.Minute)}
	assert.InDelta(t, 1.5, trade.HoursOpen(now), 1e-9)
}

func TestFundingRateNormalization(t *testing.T) {
	eightHour := FundingRate{Rate: -0.0008, CycleHours: 8}
	assert.InDelta(t, -0.0001, eightHour.HourlyRate(), 1e-12)
	assert.InDelta(t, -87.6, eightHour.AnnualizedPct(), 1e-9)

	oneHour := FundingRate{Rate: 0.0003, CycleHours: 1}
	assert.InDelta(t, 0.0003, oneHour.HourlyRate(), 1e-12)
	assert.InDelta(t, 262.8, oneHour.AnnualizedPct(), 1e-9)

	// A bad cycle length never divides by zero.
	broken := FundingRate{Rate: 0.0003, CycleHours: 0}
	assert.Zero(t, broken.HourlyRate())
	assert.Zero(t, broken.AnnualizedPct())
}

func TestFundingRateFresh(t *testing.T) {
	now := time.Now().UTC()
	r := FundingRate{ObservedAt: now.Add(-30 * time.Minute)}
	assert.True(t, r.Fresh(now, time.Hour))
	assert.False(t, r.Fresh(now, 10*time.Minute))
}

func TestPositionPnLPct(t *testing.T) {
	p := Position{CostBasis: 500, UnrealizedPnL: -30}
	assert.InDelta(t, 6.0, p.PnLPct(), 1e-9) // absolute value

	p.RealizedPnL = 10
	assert.InDelta(t, 4.0, p.PnLPct(), 1e-9)

	assert.Zero(t, Position{UnrealizedPnL: 100}.PnLPct())
}

func TestPositionSideOpposite(t *testing.T) {
	assert.Equal(t, PositionSideShort, PositionSideLong.Opposite())
	assert.Equal(t, PositionSideLong, PositionSideShort.Opposite())
}

func TestUserSettingsAccepts(t *testing.T) {
	tests := []struct {
		tolerance  RiskTolerance
		tier       RiskTier
		confidence float64
		want       bool
	}{
		{RiskToleranceLow, RiskTierLow, 85, true},
		{RiskToleranceLow, RiskTierLow, 75, false},
		{RiskToleranceLow, RiskTierMedium, 95, false},
		{RiskToleranceMedium, RiskTierMedium, 75, true},
		{RiskToleranceMedium, RiskTierHigh, 95, false},
		{RiskToleranceMedium, RiskTierLow, 65, false},
		{RiskToleranceHigh, RiskTierHigh, 65, true},
		{RiskToleranceHigh, RiskTierHigh, 55, false},
		{"", RiskTierLow, 95, false}, // unset tolerance admits nothing
	}
	for _, tt := range tests {
		s := UserSettings{RiskTolerance: tt.tolerance}
		assert.Equal(t, tt.want, s.Accepts(tt.tier, tt.confidence),
			"tolerance=%s tier=%s confidence=%v", tt.tolerance, tt.tier, tt.confidence)
	}
}

func TestUserSettingsAllowsVenue(t *testing.T) {
	open := UserSettings{}
	assert.True(t, open.AllowsVenue("vest"))

	picky := UserSettings{PreferredVenues: []string{"vest"}}
	assert.True(t, picky.AllowsVenue("vest"))
	assert.False(t, picky.AllowsVenue("bitmara"))
}

func TestLegKey(t *testing.T) {
	assert.Equal(t, "ETH-PERP@vest", LegKey("ETH-PERP", "vest"))
}
