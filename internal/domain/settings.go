package domain

import "time"

// RiskTolerance is a user's appetite for opportunity risk tiers.
type RiskTolerance string

const (
	RiskToleranceLow    RiskTolerance = "low"
	RiskToleranceMedium RiskTolerance = "medium"
	RiskToleranceHigh   RiskTolerance = "high"
)

// UserSettings are the per-user trading preferences. The engine treats them as
// read-only input; they are never mutated by orchestration.
type UserSettings struct {
	UserID           string
	Enabled          bool
	MinAPR           float64 // skip opportunities below this spread APR
	MaxPositionSize  float64 // total notional per trade, USD
	MaxSimultaneous  int     // concurrent active trades cap
	RiskTolerance    RiskTolerance
	PreferredVenues  []string
	AutoClose        bool
	AutoCloseMinAPR  float64 // APR decay floor
	AutoClosePnLPct  float64 // absolute PnL stop, percent of cost
	AutoCloseHours   float64 // max hours a trade may stay open
	Leverage         float64
	SlippageTolerance float64
	UpdatedAt        time.Time
}

// AllowsVenue reports whether the venue is in the user's preferred set. An
// empty set allows every venue.
func (s UserSettings) AllowsVenue(venue string) bool {
	if len(s.PreferredVenues) == 0 {
		return true
	}
	for _, v := range s.PreferredVenues {
		if v == venue {
			return true
		}
	}
	return false
}

// Accepts applies the risk-tolerance gate to an opportunity's tier and
// confidence score.
func (s UserSettings) Accepts(tier RiskTier, confidence float64) bool {
	switch s.RiskTolerance {
	case RiskToleranceLow:
		return tier == RiskTierLow && confidence >= 80
	case RiskToleranceMedium:
		return (tier == RiskTierLow || tier == RiskTierMedium) && confidence >= 70
	case RiskToleranceHigh:
		return confidence >= 60
	default:
		return false
	}
}
