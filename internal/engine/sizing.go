package engine

import (
	"fmt"

	"github.com/carrydesk/carrybot/internal/domain"
)

// LegSizes is the output of sizing: base-asset sizes and USD notionals for
// both legs of a delta-neutral pair.
type LegSizes struct {
	LongSize      float64
	ShortSize     float64
	LongNotional  float64
	ShortNotional float64
	TotalNotional float64
}

// CalculateLegSizes splits a total notional across the two legs. Pure and
// deterministic: identical inputs always produce identical output.
//
// Three cases:
//   - short leg on an unmargined venue: rejected, shorting needs margin.
//   - long unmargined, short margined: the unmargined leg carries
//     leverage/(leverage+1) of the notional so its dollar exposure equals the
//     margin-backed short's.
//   - both margined: symmetric split, identical base size on each leg.
func CalculateLegSizes(longPrice, shortPrice, totalNotional, leverage float64, longMarginless, shortMarginless bool) (LegSizes, error) {
	if shortMarginless {
		return LegSizes{}, fmt.Errorf("engine: sizing: %w", domain.ErrShortOnSpotVenue)
	}
	if longPrice <= 0 || shortPrice <= 0 {
		return LegSizes{}, fmt.Errorf("engine: sizing: prices must be positive (long=%v short=%v)", longPrice, shortPrice)
	}
	if totalNotional <= 0 {
		return LegSizes{}, fmt.Errorf("engine: sizing: total notional must be positive, got %v", totalNotional)
	}
	if leverage < 1 {
		leverage = 1
	}

	if longMarginless {
		shortNotional := totalNotional / (leverage + 1)
		longNotional := shortNotional * leverage
		return LegSizes{
			LongSize:      longNotional / longPrice,
			ShortSize:     shortNotional / shortPrice,
			LongNotional:  longNotional,
			ShortNotional: shortNotional,
			TotalNotional: totalNotional,
		}, nil
	}

	avgPrice := (longPrice + shortPrice) / 2
	size := totalNotional / avgPrice / 2
	return LegSizes{
		LongSize:      size,
		ShortSize:     size,
		LongNotional:  size * longPrice,
		ShortNotional: size * shortPrice,
		TotalNotional: totalNotional,
	}, nil
}
