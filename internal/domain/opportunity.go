package domain

import "time"

// RiskTier buckets an opportunity by how aggressive its carry profile is.
type RiskTier string

const (
	RiskTierLow    RiskTier = "low"
	RiskTierMedium RiskTier = "medium"
	RiskTierHigh   RiskTier = "high"
)

// Opportunity is a detected funding-rate differential between two venues for
// one instrument. It is derived from fresh snapshots and never persisted.
// The long leg goes on the venue with the cheaper (lower) funding rate, the
// short leg on the more expensive one; the position collects the difference.
type Opportunity struct {
	Instrument       string
	LongVenue        string
	ShortVenue       string
	LongHourlyRate   float64
	ShortHourlyRate  float64
	SpreadAPR        float64 // annualized carry, percent
	PriceDeviation   float64 // |markLong - markShort| / avg * 100
	Confidence       float64 // clamped to [50, 95]
	RiskTier         RiskTier
	LongMarkPrice    float64
	ShortMarkPrice   float64
	LongNextFunding  time.Time
	ShortNextFunding time.Time
	DetectedAt       time.Time
}

// LegKey identifies an instrument+venue combination, used to prevent a user
// from doubling up on the same pair.
func LegKey(instrument, venue string) string {
	return instrument + "@" + venue
}
