package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carrydesk/carrybot/internal/domain"
)

func openLeg(side domain.PositionSide) domain.Position {
	return domain.Position{
		Side:         side,
		Status:       domain.TradeStatusOpen,
		VenueOrderID: "o1",
		CostBasis:    500,
	}
}

func TestCheckAutoCloseConditions(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	baseTrade := domain.Trade{
		Status:       domain.TradeStatusOpen,
		AutoClose:    true,
		MinAPR:       10,
		MaxPnLPct:    5,
		MaxHoursOpen: 48,
		CreatedAt:    now.Add(-24 * time.Hour),
	}
	bothLegs := []domain.Position{openLeg(domain.PositionSideLong), openLeg(domain.PositionSideShort)}

	tests := []struct {
		name       string
		mutate     func(*domain.Trade, *[]domain.Position)
		liveAPR    float64
		wantClose  bool
		wantReason string
	}{
		{
			name:    "healthy trade stays open",
			liveAPR: 30,
		},
		{
			name: "missing leg always closes",
			mutate: func(_ *domain.Trade, legs *[]domain.Position) {
				(*legs)[1].Status = domain.TradeStatusClosed
			},
			liveAPR:    30,
			wantClose:  true,
			wantReason: CloseReasonLegsMissing,
		},
		{
			name: "missing leg wins even with auto-close off",
			mutate: func(tr *domain.Trade, legs *[]domain.Position) {
				tr.AutoClose = false
				*legs = (*legs)[:1]
			},
			liveAPR:    30,
			wantClose:  true,
			wantReason: CloseReasonLegsMissing,
		},
		{
			name: "stuck opening unwinds even with both legs live",
			mutate: func(tr *domain.Trade, _ *[]domain.Position) {
				tr.Status = domain.TradeStatusOpening
				tr.AutoClose = false
			},
			liveAPR:    30,
			wantClose:  true,
			wantReason: CloseReasonStuckOpening,
		},
		{
			name:       "apr decay",
			liveAPR:    5,
			wantClose:  true,
			wantReason: CloseReasonAPRDecay,
		},
		{
			name: "apr decay ignored when auto-close off",
			mutate: func(tr *domain.Trade, _ *[]domain.Position) {
				tr.AutoClose = false
			},
			liveAPR: 5,
		},
		{
			name: "pnl stop",
			mutate: func(_ *domain.Trade, legs *[]domain.Position) {
				(*legs)[0].UnrealizedPnL = 30 // 6% of 500 cost basis
			},
			liveAPR:    30,
			wantClose:  true,
			wantReason: CloseReasonPnLStop,
		},
		{
			name: "pnl stop is absolute, losses trigger too",
			mutate: func(_ *domain.Trade, legs *[]domain.Position) {
				(*legs)[0].UnrealizedPnL = -30
			},
			liveAPR:    30,
			wantClose:  true,
			wantReason: CloseReasonPnLStop,
		},
		{
			name: "pnl stop outranks apr decay when both fire",
			mutate: func(_ *domain.Trade, legs *[]domain.Position) {
				(*legs)[0].UnrealizedPnL = 30
			},
			liveAPR:    5,
			wantClose:  true,
			wantReason: CloseReasonPnLStop,
		},
		{
			name: "max hours exceeded",
			mutate: func(tr *domain.Trade, _ *[]domain.Position) {
				tr.CreatedAt = now.Add(-49 * time.Hour)
			},
			liveAPR:    30,
			wantClose:  true,
			wantReason: CloseReasonMaxHours,
		},
		{
			name: "thresholds at zero are disabled",
			mutate: func(tr *domain.Trade, _ *[]domain.Position) {
				tr.MinAPR = 0
				tr.MaxPnLPct = 0
				tr.MaxHoursOpen = 0
			},
			liveAPR: -100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trade := baseTrade
			legs := make([]domain.Position, len(bothLegs))
			copy(legs, bothLegs)
			if tt.mutate != nil {
				tt.mutate(&trade, &legs)
			}

			shouldClose, reason := CheckAutoCloseConditions(trade, legs, tt.liveAPR, now)
			assert.Equal(t, tt.wantClose, shouldClose)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestMonitorAndAutoClose_SecondPassRejected(t *testing.T) {
	f := newEngineFixture(t)

	// Simulate a pass already running in this process.
	require.True(t, f.eng.monitorBusy.CompareAndSwap(false, true))
	defer f.eng.monitorBusy.Store(false)

	_, err := f.eng.MonitorAndAutoClose(context.Background())
	assert.ErrorIs(t, err, domain.ErrPassInProgress)
}

func TestMonitorAndAutoClose_ReleasesGuard(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.eng.MonitorAndAutoClose(context.Background())
	require.NoError(t, err)

	// A second pass after the first returns must run normally.
	_, err = f.eng.MonitorAndAutoClose(context.Background())
	require.NoError(t, err)
}

func TestMonitorAndAutoClose_ClosesDecayedTrade(t *testing.T) {
	f := newEngineFixture(t)

	settings := testSettings()
	settings.AutoCloseMinAPR = 100
	trade, err := f.eng.ExecuteTrade(context.Background(), "u1", testOpportunity(), settings)
	require.NoError(t, err)

	// Live rates now spread only ~8.76% APR, below the 100% floor.
	f.rates.latest[domain.LegKey("ETH-PERP", "bitmara")] = domain.FundingRate{
		Venue: "bitmara", Instrument: "ETH-PERP", Rate: 0, CycleHours: 1, MarkPrice: 1000,
	}
	f.rates.latest[domain.LegKey("ETH-PERP", "vest")] = domain.FundingRate{
		Venue: "vest", Instrument: "ETH-PERP", Rate: 0.00001, CycleHours: 1, MarkPrice: 1000,
	}

	res, err := f.eng.MonitorAndAutoClose(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked)
	assert.Equal(t, 1, res.Closed)
	assert.Zero(t, res.Errors)

	stored, err := f.trades.GetByID(context.Background(), trade.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusClosed, stored.Status)
	assert.Equal(t, CloseReasonAPRDecay, stored.CloseReason)
}

func TestMonitorAndAutoClose_StaleRatesDegradeToLastAPR(t *testing.T) {
	f := newEngineFixture(t)

	// Healthy trade, but no live rates available at all.
	settings := testSettings()
	settings.AutoCloseMinAPR = 10
	trade, err := f.eng.ExecuteTrade(context.Background(), "u1", testOpportunity(), settings)
	require.NoError(t, err)

	res, err := f.eng.MonitorAndAutoClose(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked)
	// Entry APR (350.4) is still above the floor, so the trade survives.
	assert.Zero(t, res.Closed)
	assert.Zero(t, res.Errors)

	stored, err := f.trades.GetByID(context.Background(), trade.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusOpen, stored.Status)
}

func TestMonitorAndAutoClose_UnwindsStuckOpeningTrade(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	// An open that never settled: the trade is still OPENING two hours on,
	// with only the long leg live. The terminal-parent orphan sweep cannot
	// reach it; the monitoring pass must.
	created := time.Now().UTC().Add(-2 * time.Hour)
	trade := domain.Trade{
		ID:         "t-stuck",
		Owner:      "u1",
		Instrument: "ETH-PERP",
		Status:     domain.TradeStatusOpening,
		AutoClose:  true,
		CreatedAt:  created,
	}
	require.NoError(t, f.trades.Create(ctx, trade))
	require.NoError(t, f.positions.Create(ctx, domain.Position{
		ID: "p-long", TradeID: trade.ID, Owner: "u1", Venue: "bitmara",
		Instrument: "ETH-PERP", Side: domain.PositionSideLong, Size: 0.75,
		EntryPrice: 1000, VenueOrderID: "bitmara-order-1",
		Status: domain.TradeStatusOpen, OpenedAt: created,
	}))
	require.NoError(t, f.positions.Create(ctx, domain.Position{
		ID: "p-short", TradeID: trade.ID, Owner: "u1", Venue: "vest",
		Instrument: "ETH-PERP", Side: domain.PositionSideShort, Size: 0.25,
		EntryPrice: 1000, Status: domain.TradeStatusError, OpenedAt: created,
	}))

	res, err := f.eng.MonitorAndAutoClose(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked)
	assert.Equal(t, 1, res.Closed)
	assert.Zero(t, res.Errors)

	stored, err := f.trades.GetByID(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusClosed, stored.Status)
	assert.Equal(t, CloseReasonLegsMissing, stored.CloseReason)
	assert.EqualValues(t, 1, f.long.closes.Load(), "the live long leg must be closed out")
}

func TestMonitorAndAutoClose_StuckOpeningWithBothLegsLive(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	// Both venue orders landed but the trade never advanced past OPENING
	// (say the process died between the opens and the status flip).
	created := time.Now().UTC().Add(-time.Hour)
	trade := domain.Trade{
		ID:         "t-limbo",
		Owner:      "u1",
		Instrument: "ETH-PERP",
		Status:     domain.TradeStatusOpening,
		CreatedAt:  created,
	}
	require.NoError(t, f.trades.Create(ctx, trade))
	for _, leg := range []struct {
		id, venueName, orderID string
		side                   domain.PositionSide
	}{
		{"p-long", "bitmara", "bitmara-order-1", domain.PositionSideLong},
		{"p-short", "vest", "vest-order-1", domain.PositionSideShort},
	} {
		require.NoError(t, f.positions.Create(ctx, domain.Position{
			ID: leg.id, TradeID: trade.ID, Owner: "u1", Venue: leg.venueName,
			Instrument: "ETH-PERP", Side: leg.side, Size: 0.5,
			EntryPrice: 1000, VenueOrderID: leg.orderID,
			Status: domain.TradeStatusOpen, OpenedAt: created,
		}))
	}

	res, err := f.eng.MonitorAndAutoClose(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Closed)

	stored, err := f.trades.GetByID(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusClosed, stored.Status)
	assert.Equal(t, CloseReasonStuckOpening, stored.CloseReason)
	assert.EqualValues(t, 1, f.long.closes.Load())
	assert.EqualValues(t, 1, f.short.closes.Load())
}

func TestMonitorAndAutoClose_FreshOpeningTradeLeftToSettle(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	// Still inside the settle grace; the pass must not touch it.
	trade := domain.Trade{
		ID:         "t-fresh",
		Owner:      "u1",
		Instrument: "ETH-PERP",
		Status:     domain.TradeStatusOpening,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, f.trades.Create(ctx, trade))

	res, err := f.eng.MonitorAndAutoClose(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Checked)

	stored, err := f.trades.GetByID(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusOpening, stored.Status)
}

func TestMonitorAndAutoClose_ClosesOneSidedTrade(t *testing.T) {
	f := newEngineFixture(t)

	trade, err := f.eng.ExecuteTrade(context.Background(), "u1", testOpportunity(), testSettings())
	require.NoError(t, err)

	// One leg vanished on the venue side.
	legs, err := f.positions.ListByTrade(context.Background(), trade.ID)
	require.NoError(t, err)
	for _, leg := range legs {
		if leg.Side == domain.PositionSideShort {
			require.NoError(t, f.positions.UpdateStatus(context.Background(), leg.ID, domain.TradeStatusError))
		}
	}

	res, err := f.eng.MonitorAndAutoClose(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Closed)

	stored, err := f.trades.GetByID(context.Background(), trade.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusClosed, stored.Status)
	assert.Equal(t, CloseReasonLegsMissing, stored.CloseReason)
}
