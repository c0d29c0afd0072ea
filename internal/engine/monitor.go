package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/carrydesk/carrybot/internal/domain"
)

// Close reasons recorded on auto-closed trades.
const (
	CloseReasonLegsMissing  = "legs missing"
	CloseReasonStuckOpening = "open never settled"
	CloseReasonAPRDecay     = "apr decayed below floor"
	CloseReasonPnLStop      = "pnl stop hit"
	CloseReasonMaxHours     = "max hours open exceeded"
)

// MonitorResult summarizes one monitoring pass.
type MonitorResult struct {
	Checked int
	Closed  int
	Errors  int
}

// CheckAutoCloseConditions decides whether a trade should be closed and why.
// Pure. Fewer than two active legs always wins: a one-sided book must be
// unwound regardless of how well it is doing. A trade still OPENING here was
// selected past its settle grace, so the open never completed and the trade
// must be unwound even with both legs live. The configurable exit rules run
// in order: per-leg PnL stop, APR decay floor, max hours open.
func CheckAutoCloseConditions(trade domain.Trade, legs []domain.Position, liveAPR float64, now time.Time) (bool, string) {
	activeLegs := 0
	for _, l := range legs {
		if l.Status.IsActive() {
			activeLegs++
		}
	}
	if activeLegs < 2 {
		return true, CloseReasonLegsMissing
	}
	if trade.Status == domain.TradeStatusOpening {
		return true, CloseReasonStuckOpening
	}

	if !trade.AutoClose {
		return false, ""
	}
	if trade.MaxPnLPct > 0 {
		for _, l := range legs {
			if l.PnLPct() >= trade.MaxPnLPct {
				return true, CloseReasonPnLStop
			}
		}
	}
	if trade.MinAPR > 0 && liveAPR < trade.MinAPR {
		return true, CloseReasonAPRDecay
	}
	if trade.MaxHoursOpen > 0 && trade.HoursOpen(now) > trade.MaxHoursOpen {
		return true, CloseReasonMaxHours
	}
	return false, ""
}

// MonitorAndAutoClose evaluates every monitorable trade once: refresh its
// live APR and PnL, then close it if any exit condition holds. The pass
// covers OPEN trades plus OPENING trades older than the settle grace, so a
// stranded open is unwound instead of leaking forever. One trade's failure
// never stops the batch. At most one pass runs at a time; a second caller
// gets ErrPassInProgress.
func (e *Engine) MonitorAndAutoClose(ctx context.Context) (MonitorResult, error) {
	if !e.monitorBusy.CompareAndSwap(false, true) {
		return MonitorResult{}, domain.ErrPassInProgress
	}
	defer e.monitorBusy.Store(false)

	now := time.Now().UTC()
	trades, err := e.trades.ListAutoCloseCandidates(ctx, now.Add(-e.cfg.OpeningGrace))
	if err != nil {
		return MonitorResult{}, fmt.Errorf("engine: list monitorable trades: %w", err)
	}

	var res MonitorResult
	for _, trade := range trades {
		res.Checked++
		closed, err := e.monitorOne(ctx, trade, now)
		if err != nil {
			res.Errors++
			e.logger.Error("monitoring trade failed",
				"trade_id", trade.ID, "error", err)
			continue
		}
		if closed {
			res.Closed++
		}
	}

	e.logger.Info("monitoring pass complete",
		"checked", res.Checked, "closed", res.Closed, "errors", res.Errors)
	return res, nil
}

func (e *Engine) monitorOne(ctx context.Context, trade domain.Trade, now time.Time) (bool, error) {
	legs, err := e.positions.ListByTrade(ctx, trade.ID)
	if err != nil {
		return false, fmt.Errorf("list legs: %w", err)
	}

	liveAPR, err := e.refreshTradeState(ctx, &trade, legs)
	if err != nil {
		// Stale or missing rates degrade to the last known APR; the
		// legs-missing check still runs below.
		e.logger.Warn("live APR refresh failed",
			"trade_id", trade.ID, "error", err)
		liveAPR = trade.CurrentAPR
	}

	shouldClose, reason := CheckAutoCloseConditions(trade, legs, liveAPR, now)
	if !shouldClose {
		return false, nil
	}

	e.logger.Info("auto-closing trade",
		"trade_id", trade.ID, "reason", reason, "live_apr", liveAPR)
	if err := e.CloseTrade(ctx, trade.ID, reason); err != nil {
		return false, fmt.Errorf("auto-close: %w", err)
	}
	return true, nil
}

// refreshTradeState recomputes the live spread APR and per-leg unrealized
// PnL from the latest snapshots, persisting what changed. Returns the live
// APR.
func (e *Engine) refreshTradeState(ctx context.Context, trade *domain.Trade, legs []domain.Position) (float64, error) {
	var longLeg, shortLeg *domain.Position
	for i := range legs {
		switch legs[i].Side {
		case domain.PositionSideLong:
			longLeg = &legs[i]
		case domain.PositionSideShort:
			shortLeg = &legs[i]
		}
	}
	if longLeg == nil || shortLeg == nil {
		return trade.CurrentAPR, fmt.Errorf("trade %s has %d legs", trade.ID, len(legs))
	}

	longRate, err := e.rates.GetLatestForInstrumentAndVenue(ctx, trade.Instrument, longLeg.Venue)
	if err != nil {
		return trade.CurrentAPR, fmt.Errorf("long rate: %w", err)
	}
	shortRate, err := e.rates.GetLatestForInstrumentAndVenue(ctx, trade.Instrument, shortLeg.Venue)
	if err != nil {
		return trade.CurrentAPR, fmt.Errorf("short rate: %w", err)
	}

	liveAPR := shortRate.AnnualizedPct() - longRate.AnnualizedPct()

	totalPnL := 0.0
	for _, pair := range []struct {
		leg  *domain.Position
		mark float64
	}{
		{longLeg, longRate.MarkPrice},
		{shortLeg, shortRate.MarkPrice},
	} {
		if pair.mark <= 0 {
			continue
		}
		pnl := (pair.mark - pair.leg.EntryPrice) * pair.leg.Size
		if pair.leg.Side == domain.PositionSideShort {
			pnl = -pnl
		}
		pair.leg.UnrealizedPnL = pnl
		totalPnL += pnl + pair.leg.RealizedPnL
		if err := e.positions.Update(ctx, *pair.leg); err != nil {
			e.logger.Error("persist leg pnl failed",
				"position_id", pair.leg.ID, "error", err)
		}
	}

	trade.CurrentAPR = liveAPR
	trade.PnL = totalPnL
	if err := e.trades.Update(ctx, *trade); err != nil {
		e.logger.Error("persist trade state failed",
			"trade_id", trade.ID, "error", err)
	}
	return liveAPR, nil
}
