package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carrydesk/carrybot/internal/domain"
)

func TestCalculateLegSizes_LongUnmargined(t *testing.T) {
	// With 3x leverage and 1000 USD total, the margin-backed short carries
	// 1000/(3+1)=250 and the unmargined long the remaining 750.
	sizes, err := CalculateLegSizes(1000, 1000, 1000, 3, true, false)
	require.NoError(t, err)

	assert.InDelta(t, 250.0, sizes.ShortNotional, 1e-9)
	assert.InDelta(t, 750.0, sizes.LongNotional, 1e-9)
	assert.InDelta(t, 0.75, sizes.LongSize, 1e-9)
	assert.InDelta(t, 0.25, sizes.ShortSize, 1e-9)
	assert.InDelta(t, 1000.0, sizes.TotalNotional, 1e-9)
}

func TestCalculateLegSizes_BothMargined(t *testing.T) {
	sizes, err := CalculateLegSizes(100, 102, 1000, 2, false, false)
	require.NoError(t, err)

	// Symmetric split: identical base size on each leg.
	assert.Equal(t, sizes.LongSize, sizes.ShortSize)
	avg := (100.0 + 102.0) / 2
	assert.InDelta(t, 1000/avg/2, sizes.LongSize, 1e-9)
	assert.InDelta(t, sizes.LongSize*100, sizes.LongNotional, 1e-9)
	assert.InDelta(t, sizes.ShortSize*102, sizes.ShortNotional, 1e-9)
}

func TestCalculateLegSizes_ShortUnmarginedRejected(t *testing.T) {
	_, err := CalculateLegSizes(1000, 1000, 1000, 3, false, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrShortOnSpotVenue)

	// Rejected regardless of the long leg's venue type.
	_, err = CalculateLegSizes(1000, 1000, 1000, 3, true, true)
	assert.ErrorIs(t, err, domain.ErrShortOnSpotVenue)
}

func TestCalculateLegSizes_LeverageClampedToOne(t *testing.T) {
	clamped, err := CalculateLegSizes(1000, 1000, 1000, 0.5, true, false)
	require.NoError(t, err)
	one, err := CalculateLegSizes(1000, 1000, 1000, 1, true, false)
	require.NoError(t, err)
	assert.Equal(t, one, clamped)

	// lev=1 splits the unmargined case 50/50.
	assert.InDelta(t, 500.0, one.LongNotional, 1e-9)
	assert.InDelta(t, 500.0, one.ShortNotional, 1e-9)
}

func TestCalculateLegSizes_InvalidInputs(t *testing.T) {
	tests := []struct {
		name                    string
		longPrice, shortPrice   float64
		totalNotional, leverage float64
	}{
		{"zero long price", 0, 1000, 1000, 2},
		{"negative short price", 1000, -1, 1000, 2},
		{"zero notional", 1000, 1000, 0, 2},
		{"negative notional", 1000, 1000, -500, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CalculateLegSizes(tt.longPrice, tt.shortPrice, tt.totalNotional, tt.leverage, false, false)
			assert.Error(t, err)
		})
	}
}

func TestCalculateLegSizes_Deterministic(t *testing.T) {
	a, err := CalculateLegSizes(1234.5, 1236.7, 5000, 4, true, false)
	require.NoError(t, err)
	b, err := CalculateLegSizes(1234.5, 1236.7, 5000, 4, true, false)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
