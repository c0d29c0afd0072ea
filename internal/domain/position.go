package domain

import "time"

// PositionSide is the direction of one leg.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Opposite returns the mirrored side, used when issuing closing orders.
func (s PositionSide) Opposite() PositionSide {
	if s == PositionSideLong {
		return PositionSideShort
	}
	return PositionSideLong
}

// Position is one leg of a delta-neutral trade, held on a single venue. The
// TradeID is a back-reference; the trade owns the leg, not the other way
// around. A leg is implicitly open once VenueOrderID is non-empty.
type Position struct {
	ID            string
	TradeID       string
	Owner         string
	Venue         string
	Instrument    string
	Side          PositionSide
	Size          float64
	EntryPrice    float64
	Leverage      float64
	Slippage      float64 // tolerance, fraction (0.005 = 0.5%)
	VenueOrderID  string
	Status        TradeStatus
	CostBasis     float64
	UnrealizedPnL float64
	RealizedPnL   float64
	LastError     string
	OpenedAt      time.Time
	ClosedAt      *time.Time
}

// PnLPct returns the leg's total PnL as an absolute percentage of its cost
// basis. Returns 0 when the cost basis is not set.
func (p Position) PnLPct() float64 {
	if p.CostBasis == 0 {
		return 0
	}
	pct := (p.UnrealizedPnL + p.RealizedPnL) / p.CostBasis * 100
	if pct < 0 {
		return -pct
	}
	return pct
}
