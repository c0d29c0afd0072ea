// Package engine opens, monitors, and closes delta-neutral carry trades.
// The two-leg open and close are not atomic across venues; every partial
// outcome is recorded and either compensated immediately or repaired by the
// reconciliation sweep.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/carrydesk/carrybot/internal/detector"
	"github.com/carrydesk/carrybot/internal/domain"
	"github.com/carrydesk/carrybot/internal/notify"
	"github.com/carrydesk/carrybot/internal/venue"
)

// ConnectorLookup resolves a venue name to its connector. Defaults to the
// static registry; injectable for tests.
type ConnectorLookup func(name string) (domain.Connector, error)

// Config tunes the engine.
type Config struct {
	RecheckDeviation  bool          // re-validate price deviation on live prices before submitting
	MaxPriceDeviation float64       // percent, used by the live re-check
	OpeningGrace      time.Duration // how long an OPENING trade may settle before monitoring unwinds it
}

// Engine orchestrates trade execution against the stores and connectors.
type Engine struct {
	trades    domain.TradeStore
	positions domain.PositionStore
	settings  domain.UserSettingsStore
	audit     domain.AuditStore
	rates     domain.FundingRateStore
	detector  *detector.Detector
	notifier  *notify.Notifier
	lookup    ConnectorLookup
	cfg       Config
	logger    *slog.Logger

	monitorBusy atomic.Bool
}

// New creates an Engine. notifier may be nil when no channels are configured.
func New(
	trades domain.TradeStore,
	positions domain.PositionStore,
	settings domain.UserSettingsStore,
	audit domain.AuditStore,
	rates domain.FundingRateStore,
	det *detector.Detector,
	notifier *notify.Notifier,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	if cfg.MaxPriceDeviation <= 0 {
		cfg.MaxPriceDeviation = 0.5
	}
	if cfg.OpeningGrace <= 0 {
		cfg.OpeningGrace = 10 * time.Minute
	}
	return &Engine{
		trades:    trades,
		positions: positions,
		settings:  settings,
		audit:     audit,
		rates:     rates,
		detector:  det,
		notifier:  notifier,
		lookup:    venue.Lookup,
		cfg:       cfg,
		logger:    logger.With("component", "engine"),
	}
}

// SetConnectorLookup overrides connector resolution. Test hook.
func (e *Engine) SetConnectorLookup(fn ConnectorLookup) {
	e.lookup = fn
}

// legOutcome is the result of one concurrent open or close attempt.
type legOutcome struct {
	position domain.Position
	order    domain.PlacedOrder
	err      error
}

// ExecuteTrade opens both legs of an opportunity for one user. The returned
// trade reflects the final persisted state; a non-nil error means the trade
// did not reach OPEN (it ends in ERROR, with any surviving leg compensated
// best-effort).
func (e *Engine) ExecuteTrade(ctx context.Context, userID string, opp domain.Opportunity, settings domain.UserSettings) (domain.Trade, error) {
	longConn, err := e.lookup(opp.LongVenue)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("engine: resolve long venue: %w", err)
	}
	shortConn, err := e.lookup(opp.ShortVenue)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("engine: resolve short venue: %w", err)
	}

	longPrice, shortPrice, err := e.refreshPrices(ctx, longConn, shortConn, opp.Instrument)
	if err != nil {
		return domain.Trade{}, err
	}

	if e.cfg.RecheckDeviation {
		avg := (longPrice + shortPrice) / 2
		if avg > 0 {
			dev := math.Abs(longPrice-shortPrice) / avg * 100
			if dev > e.cfg.MaxPriceDeviation {
				return domain.Trade{}, fmt.Errorf("engine: live prices diverged %.3f%% (cap %.3f%%)",
					dev, e.cfg.MaxPriceDeviation)
			}
		}
	}

	sizes, err := CalculateLegSizes(
		longPrice, shortPrice,
		settings.MaxPositionSize, settings.Leverage,
		longConn.MarketType() == domain.MarketTypeSpot,
		shortConn.MarketType() == domain.MarketTypeSpot,
	)
	if err != nil {
		return domain.Trade{}, err
	}

	now := time.Now().UTC()
	trade := domain.Trade{
		ID:           uuid.New().String(),
		Owner:        userID,
		Instrument:   opp.Instrument,
		Status:       domain.TradeStatusOpening,
		Size:         sizes.TotalNotional,
		EntryPrice:   (longPrice + shortPrice) / 2,
		Cost:         sizes.TotalNotional,
		ExpectedAPR:  opp.SpreadAPR,
		CurrentAPR:   opp.SpreadAPR,
		AutoClose:    settings.AutoClose,
		MinAPR:       settings.AutoCloseMinAPR,
		MaxPnLPct:    settings.AutoClosePnLPct,
		MaxHoursOpen: settings.AutoCloseHours,
		CreatedAt:    now,
	}
	if err := e.trades.Create(ctx, trade); err != nil {
		return domain.Trade{}, fmt.Errorf("engine: persist trade: %w", err)
	}

	longLeg := e.buildLeg(trade, opp.LongVenue, domain.PositionSideLong, sizes.LongSize, longPrice, sizes.LongNotional, settings, now)
	shortLeg := e.buildLeg(trade, opp.ShortVenue, domain.PositionSideShort, sizes.ShortSize, shortPrice, sizes.ShortNotional, settings, now)
	if err := e.positions.Create(ctx, longLeg); err != nil {
		return trade, fmt.Errorf("engine: persist long leg: %w", err)
	}
	if err := e.positions.Create(ctx, shortLeg); err != nil {
		return trade, fmt.Errorf("engine: persist short leg: %w", err)
	}

	e.prepareLeverage(ctx, longConn, shortConn, opp.Instrument, settings.Leverage)

	outcomes := e.dispatchOpens(ctx, longConn, shortConn, longLeg, shortLeg)
	return e.settleOpen(ctx, trade, outcomes, map[string]domain.Connector{
		opp.LongVenue:  longConn,
		opp.ShortVenue: shortConn,
	})
}

func (e *Engine) buildLeg(t domain.Trade, venueName string, side domain.PositionSide, size, price, notional float64, settings domain.UserSettings, now time.Time) domain.Position {
	return domain.Position{
		ID:         uuid.New().String(),
		TradeID:    t.ID,
		Owner:      t.Owner,
		Venue:      venueName,
		Instrument: t.Instrument,
		Side:       side,
		Size:       size,
		EntryPrice: price,
		Leverage:   settings.Leverage,
		Slippage:   settings.SlippageTolerance,
		Status:     domain.TradeStatusOpening,
		CostBasis:  notional,
		OpenedAt:   now,
	}
}

// refreshPrices fetches both live prices concurrently.
func (e *Engine) refreshPrices(ctx context.Context, longConn, shortConn domain.Connector, instrument string) (float64, float64, error) {
	var (
		wg                    sync.WaitGroup
		longPrice, shortPrice float64
		longErr, shortErr     error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		longPrice, longErr = longConn.GetPrice(ctx, instrument)
	}()
	go func() {
		defer wg.Done()
		shortPrice, shortErr = shortConn.GetPrice(ctx, instrument)
	}()
	wg.Wait()

	if longErr != nil {
		return 0, 0, fmt.Errorf("engine: refresh %s price on %s: %w", instrument, longConn.Name(), longErr)
	}
	if shortErr != nil {
		return 0, 0, fmt.Errorf("engine: refresh %s price on %s: %w", instrument, shortConn.Name(), shortErr)
	}
	return longPrice, shortPrice, nil
}

// prepareLeverage sets leverage on margined venues before opening. Spot-like
// venues reject it; that is expected and only logged.
func (e *Engine) prepareLeverage(ctx context.Context, longConn, shortConn domain.Connector, instrument string, leverage float64) {
	if leverage <= 1 {
		return
	}
	for _, c := range []domain.Connector{longConn, shortConn} {
		if c.MarketType() != domain.MarketTypePerp {
			continue
		}
		if err := c.SetLeverage(ctx, instrument, leverage); err != nil {
			e.logger.Warn("set leverage failed",
				"venue", c.Name(), "instrument", instrument, "error", err)
		}
	}
}

// dispatchOpens submits both venue opens concurrently and waits for both
// independent outcomes. Neither result gates the other.
func (e *Engine) dispatchOpens(ctx context.Context, longConn, shortConn domain.Connector, longLeg, shortLeg domain.Position) [2]legOutcome {
	var (
		wg       sync.WaitGroup
		outcomes [2]legOutcome
	)
	submit := func(idx int, conn domain.Connector, leg domain.Position) {
		defer wg.Done()
		order, err := conn.OpenPosition(ctx, domain.OrderRequest{
			Instrument: leg.Instrument,
			Side:       leg.Side,
			Size:       leg.Size,
			Price:      leg.EntryPrice,
			Leverage:   leg.Leverage,
			Slippage:   leg.Slippage,
		})
		outcomes[idx] = legOutcome{position: leg, order: order, err: err}
	}

	wg.Add(2)
	go submit(0, longConn, longLeg)
	go submit(1, shortConn, shortLeg)
	wg.Wait()
	return outcomes
}

// settleOpen persists both leg outcomes and resolves the trade's status:
// both legs up means OPEN; exactly one up triggers a single compensating
// cancel of the survivor; none up is a plain failed open.
func (e *Engine) settleOpen(ctx context.Context, trade domain.Trade, outcomes [2]legOutcome, conns map[string]domain.Connector) (domain.Trade, error) {
	succeeded := 0
	var survivor *legOutcome
	for i := range outcomes {
		o := &outcomes[i]
		if o.err != nil {
			e.logger.Error("leg open failed",
				"trade_id", trade.ID, "venue", o.position.Venue, "error", o.err)
			if rerr := e.positions.RecordError(ctx, o.position.ID, o.err.Error()); rerr != nil {
				e.logger.Error("record leg error failed", "position_id", o.position.ID, "error", rerr)
			}
			_ = e.positions.UpdateStatus(ctx, o.position.ID, domain.TradeStatusError)
			continue
		}
		succeeded++
		survivor = o
		if err := e.positions.SetVenueOrderID(ctx, o.position.ID, o.order.ID); err != nil {
			e.logger.Error("record venue order id failed", "position_id", o.position.ID, "error", err)
		}
		_ = e.positions.UpdateStatus(ctx, o.position.ID, domain.TradeStatusOpen)
	}

	switch succeeded {
	case 2:
		if err := e.trades.UpdateStatus(ctx, trade.ID, domain.TradeStatusOpen, ""); err != nil {
			return trade, fmt.Errorf("engine: mark trade open: %w", err)
		}
		trade.Status = domain.TradeStatusOpen
		e.auditLog(ctx, notify.EventTradeOpened, map[string]any{
			"trade_id": trade.ID, "owner": trade.Owner, "instrument": trade.Instrument,
			"notional": trade.Size, "expected_apr": trade.ExpectedAPR,
		})
		e.send(ctx, notify.EventTradeOpened, "Trade opened",
			fmt.Sprintf("%s %s, notional %.2f, expected APR %.1f%%",
				trade.Owner, trade.Instrument, trade.Size, trade.ExpectedAPR))
		return trade, nil

	case 1:
		e.compensate(ctx, trade, *survivor, conns)
		if err := e.trades.UpdateStatus(ctx, trade.ID, domain.TradeStatusError, "one leg failed to open"); err != nil {
			e.logger.Error("mark trade error failed", "trade_id", trade.ID, "error", err)
		}
		trade.Status = domain.TradeStatusError
		return trade, fmt.Errorf("engine: trade %s: one leg failed to open", trade.ID)

	default:
		if err := e.trades.UpdateStatus(ctx, trade.ID, domain.TradeStatusError, "both legs failed to open"); err != nil {
			e.logger.Error("mark trade error failed", "trade_id", trade.ID, "error", err)
		}
		trade.Status = domain.TradeStatusError
		e.auditLog(ctx, notify.EventTradeError, map[string]any{
			"trade_id": trade.ID, "reason": "both legs failed to open",
		})
		return trade, fmt.Errorf("engine: trade %s: both legs failed to open", trade.ID)
	}
}

// compensate best-effort-cancels the one leg that opened so the book is not
// left one-sided. A failed cancel is not retried here; the leg stays live,
// the trade lands in ERROR, and the operator is alerted. The reconciliation
// sweep picks it up on the next cycle.
func (e *Engine) compensate(ctx context.Context, trade domain.Trade, survivor legOutcome, conns map[string]domain.Connector) {
	conn := conns[survivor.position.Venue]
	if conn == nil {
		e.logger.Error("no connector for surviving leg", "venue", survivor.position.Venue)
		return
	}

	if err := conn.CancelOrder(ctx, survivor.order.ID); err != nil {
		e.logger.Error("compensating cancel failed, leg exposed",
			"trade_id", trade.ID,
			"venue", survivor.position.Venue,
			"order_id", survivor.order.ID,
			"error", err)
		if rerr := e.positions.RecordError(ctx, survivor.position.ID,
			fmt.Sprintf("compensating cancel failed: %v", err)); rerr != nil {
			e.logger.Error("record cancel error failed", "position_id", survivor.position.ID, "error", rerr)
		}
		e.auditLog(ctx, notify.EventLegExposed, map[string]any{
			"trade_id": trade.ID, "position_id": survivor.position.ID,
			"venue": survivor.position.Venue, "order_id": survivor.order.ID,
			"error": err.Error(),
		})
		e.send(ctx, notify.EventLegExposed, "Leg exposed",
			fmt.Sprintf("trade %s: cancel of surviving %s leg on %s failed; position is one-sided",
				trade.ID, survivor.position.Side, survivor.position.Venue))
		return
	}

	_ = e.positions.UpdateStatus(ctx, survivor.position.ID, domain.TradeStatusClosed)
	e.auditLog(ctx, notify.EventTradeError, map[string]any{
		"trade_id": trade.ID, "compensated_position": survivor.position.ID,
	})
}

// ExecuteUserTrading runs one automated pass for a single user: find, filter,
// and open as many eligible opportunities as their concurrency budget allows.
// Returns the number of trades opened.
func (e *Engine) ExecuteUserTrading(ctx context.Context, userID string) (int, error) {
	settings, err := e.settings.Get(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("engine: load settings for %s: %w", userID, err)
	}
	if !settings.Enabled {
		return 0, nil
	}

	active, err := e.trades.CountActiveByOwner(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("engine: count active trades: %w", err)
	}
	slots := settings.MaxSimultaneous - active
	if slots <= 0 {
		return 0, nil
	}

	opps, err := e.detector.FindOpportunities(ctx, detector.Filters{})
	if err != nil {
		return 0, fmt.Errorf("engine: find opportunities: %w", err)
	}
	opps = e.detector.FilterByUserSettings(opps, settings)
	if len(opps) == 0 {
		return 0, nil
	}

	held, err := e.heldLegKeys(ctx, userID)
	if err != nil {
		return 0, err
	}

	opened := 0
	for _, opp := range opps {
		if opened >= slots {
			break
		}
		// Never double up on an instrument+venue pair the user already holds.
		if held[domain.LegKey(opp.Instrument, opp.LongVenue)] || held[domain.LegKey(opp.Instrument, opp.ShortVenue)] {
			continue
		}

		if _, err := e.ExecuteTrade(ctx, userID, opp, settings); err != nil {
			e.logger.Error("trade execution failed",
				"owner", userID, "instrument", opp.Instrument, "error", err)
			continue
		}
		held[domain.LegKey(opp.Instrument, opp.LongVenue)] = true
		held[domain.LegKey(opp.Instrument, opp.ShortVenue)] = true
		opened++
	}
	return opened, nil
}

func (e *Engine) heldLegKeys(ctx context.Context, userID string) (map[string]bool, error) {
	positions, err := e.positions.ListActiveByOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("engine: list active positions: %w", err)
	}
	held := make(map[string]bool, len(positions))
	for _, p := range positions {
		held[domain.LegKey(p.Instrument, p.Venue)] = true
	}
	return held, nil
}

// CloseTrade closes both legs of a trade. Reason is recorded on the trade.
// A trade in ERROR can be force-closed; a CLOSED trade cannot.
func (e *Engine) CloseTrade(ctx context.Context, tradeID, reason string) error {
	trade, err := e.trades.GetByID(ctx, tradeID)
	if err != nil {
		return fmt.Errorf("engine: load trade %s: %w", tradeID, err)
	}
	if err := e.trades.UpdateStatus(ctx, tradeID, domain.TradeStatusClosing, reason); err != nil {
		return fmt.Errorf("engine: begin close of %s: %w", tradeID, err)
	}

	legs, err := e.positions.ListByTrade(ctx, tradeID)
	if err != nil {
		return fmt.Errorf("engine: list legs of %s: %w", tradeID, err)
	}

	failed := 0
	var wg sync.WaitGroup
	results := make([]error, len(legs))
	for i, leg := range legs {
		if leg.Status == domain.TradeStatusClosed {
			continue
		}
		// A leg with no venue order never reached the venue; there is
		// nothing to unwind, so retire it directly.
		if leg.VenueOrderID == "" {
			if err := e.positions.UpdateStatus(ctx, leg.ID, domain.TradeStatusClosed); err != nil {
				e.logger.Error("retire unfilled leg failed", "position_id", leg.ID, "error", err)
			}
			continue
		}
		wg.Add(1)
		go func(i int, leg domain.Position) {
			defer wg.Done()
			results[i] = e.closeLeg(ctx, leg)
		}(i, leg)
	}
	wg.Wait()

	for _, err := range results {
		if err != nil {
			failed++
		}
	}

	if failed > 0 {
		if err := e.trades.UpdateStatus(ctx, tradeID, domain.TradeStatusError,
			fmt.Sprintf("%s (close incomplete)", reason)); err != nil {
			e.logger.Error("mark trade error failed", "trade_id", tradeID, "error", err)
		}
		e.auditLog(ctx, notify.EventTradeError, map[string]any{
			"trade_id": tradeID, "reason": reason, "legs_failed": failed,
		})
		return fmt.Errorf("engine: trade %s: %d leg close(s) failed", tradeID, failed)
	}

	if err := e.trades.UpdateStatus(ctx, tradeID, domain.TradeStatusClosed, reason); err != nil {
		return fmt.Errorf("engine: mark trade closed: %w", err)
	}
	e.auditLog(ctx, notify.EventTradeClosed, map[string]any{
		"trade_id": tradeID, "owner": trade.Owner, "reason": reason,
	})
	e.send(ctx, notify.EventTradeClosed, "Trade closed",
		fmt.Sprintf("%s %s closed: %s", trade.Owner, trade.Instrument, reason))
	return nil
}

// closeLeg submits one reduce-only closing order and records the outcome.
// The leg moves through CLOSING before CLOSED so a crash mid-close leaves a
// visible in-flight state rather than a silently half-done one.
func (e *Engine) closeLeg(ctx context.Context, leg domain.Position) error {
	conn, err := e.lookup(leg.Venue)
	if err != nil {
		_ = e.positions.RecordError(ctx, leg.ID, err.Error())
		return err
	}

	if err := e.positions.UpdateStatus(ctx, leg.ID, domain.TradeStatusClosing); err != nil {
		e.logger.Error("mark leg closing failed", "position_id", leg.ID, "error", err)
	}
	leg.Status = domain.TradeStatusClosing

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
		e.logger.Error("leg close failed",
			"position_id", leg.ID, "venue", leg.Venue, "error", err)
		if rerr := e.positions.RecordError(ctx, leg.ID, err.Error()); rerr != nil {
			e.logger.Error("record leg error failed", "position_id", leg.ID, "error", rerr)
		}
		return err
	}

	// Realize PnL at the close price before marking the leg closed.
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
		e.logger.Error("persist closed leg failed", "position_id", leg.ID, "error", err)
	}
	return nil
}

func (e *Engine) auditLog(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.Error("audit log failed", "event", event, "error", err)
	}
}

func (e *Engine) send(ctx context.Context, event, title, message string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event, title, message); err != nil {
		e.logger.Warn("notification failed", "event", event, "error", err)
	}
}
