package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/carrydesk/carrybot/internal/domain"
	"github.com/carrydesk/carrybot/internal/notify"
)

// ReconcileOrphanLegs closes legs that are still live on a venue while their
// parent trade has already terminated. This is the compensating sweep for
// the non-atomic two-leg open/close: it runs every monitoring cycle and is
// idempotent, so a leg it fails to close is simply retried next cycle.
// Returns the number of legs swept.
func (e *Engine) ReconcileOrphanLegs(ctx context.Context) (int, error) {
	orphans, err := e.positions.ListOrphanOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("engine: list orphan legs: %w", err)
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	e.logger.Warn("orphan legs found", "count", len(orphans))

	swept := 0
	for _, leg := range orphans {
		if err := e.sweepOrphan(ctx, leg); err != nil {
			e.logger.Error("orphan sweep failed",
				"position_id", leg.ID, "venue", leg.Venue, "error", err)
			continue
		}
		swept++
	}
	return swept, nil
}

func (e *Engine) sweepOrphan(ctx context.Context, leg domain.Position) error {
	conn, err := e.lookup(leg.Venue)
	if err != nil {
		return fmt.Errorf("resolve venue: %w", err)
	}

	price, err := conn.GetPrice(ctx, leg.Instrument)
	if err != nil {
		price = leg.EntryPrice
	}

	_, err = conn.ClosePosition(ctx, domain.OrderRequest{
		Instrument: leg.Instrument,
		Side:       leg.Side.Opposite(),
		Size:       leg.Size,
		Price:      price,
		Slippage:   leg.Slippage,
		ReduceOnly: true,
	})
	if err != nil {
		if rerr := e.positions.RecordError(ctx, leg.ID,
			fmt.Sprintf("orphan sweep: %v", err)); rerr != nil {
			e.logger.Error("record sweep error failed", "position_id", leg.ID, "error", rerr)
		}
		return fmt.Errorf("close orphan: %w", err)
	}

	pnl := (price - leg.EntryPrice) * leg.Size
	if leg.Side == domain.PositionSideShort {
		pnl = -pnl
	}
	leg.RealizedPnL += pnl
	leg.UnrealizedPnL = 0
	leg.Status = domain.TradeStatusClosed
	now := time.Now().UTC()
	leg.ClosedAt = &now
	if err := e.positions.Update(ctx, leg); err != nil {
		return fmt.Errorf("persist swept leg: %w", err)
	}

	e.auditLog(ctx, notify.EventOrphanSwept, map[string]any{
		"position_id": leg.ID, "trade_id": leg.TradeID,
		"venue": leg.Venue, "side": string(leg.Side), "realized_pnl": pnl,
	})
	e.logger.Info("orphan leg closed",
		"position_id", leg.ID, "trade_id", leg.TradeID, "venue", leg.Venue)
	return nil
}
