package domain

import "time"

// TradeStatus tracks the lifecycle of a delta-neutral trade and of each of its
// legs. A trade is created OPENING before any venue call, becomes OPEN once
// both legs have confirmed venue order ids, moves to CLOSING when a close is
// initiated, and reaches CLOSED or ERROR only as a terminal outcome of a close
// or a reconciliation sweep.
type TradeStatus string

const (
	TradeStatusOpening TradeStatus = "opening"
	TradeStatusOpen    TradeStatus = "open"
	TradeStatusClosing TradeStatus = "closing"
	TradeStatusClosed  TradeStatus = "closed"
	TradeStatusError   TradeStatus = "error"
)

// validTransitions enumerates the legal status moves. There is deliberately
// no opening -> closed edge: a trade must pass through closing (or error) to
// reach a terminal state.
var validTransitions = map[TradeStatus][]TradeStatus{
	TradeStatusOpening: {TradeStatusOpen, TradeStatusClosing, TradeStatusError},
	TradeStatusOpen:    {TradeStatusClosing, TradeStatusError},
	TradeStatusClosing: {TradeStatusClosed, TradeStatusError},
	TradeStatusClosed:  {},
	TradeStatusError:   {TradeStatusClosing},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to TradeStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ActiveStatuses are the statuses that count against a user's concurrent
// trade cap.
var ActiveStatuses = []TradeStatus{TradeStatusOpening, TradeStatusOpen, TradeStatusClosing}

// IsActive reports whether the status counts as an in-flight trade.
func (s TradeStatus) IsActive() bool {
	return s == TradeStatusOpening || s == TradeStatusOpen || s == TradeStatusClosing
}

// IsTerminal reports whether the status is a final state.
func (s TradeStatus) IsTerminal() bool {
	return s == TradeStatusClosed || s == TradeStatusError
}

// Trade is the aggregate root for one delta-neutral carry position. It owns
// exactly two Position legs (one long, one short) for its lifetime.
type Trade struct {
	ID           string
	Owner        string
	Instrument   string
	Status       TradeStatus
	Size         float64 // total notional across both legs, USD
	EntryPrice   float64 // average mark at open
	Cost         float64 // capital committed
	PnL          float64 // running realized+unrealized
	CurrentAPR   float64 // live spread APR, refreshed by monitoring
	ExpectedAPR  float64 // spread APR at detection time
	AutoClose    bool
	MinAPR       float64 // close when live APR decays below this
	MaxPnLPct    float64 // absolute PnL stop, percent of cost
	MaxHoursOpen float64 // close after this many hours regardless
	CloseReason  string
	CreatedAt    time.Time
	ClosedAt     *time.Time
}

// HoursOpen returns how long the trade has been open as of now.
func (t Trade) HoursOpen(now time.Time) float64 {
	return now.Sub(t.CreatedAt).Hours()
}
