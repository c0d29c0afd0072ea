package domain

import (
	"context"
	"time"
)

// MarketType distinguishes margined perpetual venues from spot-like venues
// with no borrow/margin facility.
type MarketType string

const (
	MarketTypePerp MarketType = "perp"
	MarketTypeSpot MarketType = "spot"
)

// OrderRequest describes one position-opening or closing order submitted to a
// venue connector.
type OrderRequest struct {
	Instrument string
	Side       PositionSide
	Size       float64
	Price      float64
	Leverage   float64
	Slippage   float64 // tolerance, fraction
	ReduceOnly bool
}

// PlacedOrder is the connector's confirmation of an accepted order.
type PlacedOrder struct {
	ID     string
	Price  float64
	Size   float64
	Placed time.Time
}

// OpenOrder is a resting order as reported by a venue.
type OpenOrder struct {
	ID         string
	Instrument string
	Side       PositionSide
	Size       float64
	Price      float64
	CreatedAt  time.Time
}

// VenuePosition is an open position as reported by a venue.
type VenuePosition struct {
	Instrument    string
	Side          PositionSide
	Size          float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	Leverage      float64
}

// Connector is the uniform capability contract every venue adapter implements.
// Retry, backoff, authentication and wire formats all live behind this
// boundary; the engine depends only on the contract. Adapters for spot-like
// venues must return ErrLeverageNotSupported from SetLeverage rather than
// silently succeeding.
type Connector interface {
	Name() string
	MarketType() MarketType

	GetPrice(ctx context.Context, instrument string) (float64, error)
	SetLeverage(ctx context.Context, instrument string, leverage float64) error
	OpenPosition(ctx context.Context, req OrderRequest) (PlacedOrder, error)
	CancelOrder(ctx context.Context, orderID string) error
	ClosePosition(ctx context.Context, req OrderRequest) (PlacedOrder, error)
	ListOpenOrders(ctx context.Context, instrument string) ([]OpenOrder, error)
	ListOpenPositions(ctx context.Context) ([]VenuePosition, error)
	FundingRates(ctx context.Context, instruments []string) ([]FundingRate, error)
}
