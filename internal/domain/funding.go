package domain

import "time"

// HoursPerYear is used to annualize per-cycle funding rates.
const HoursPerYear = 8760

// FundingRate is one observed funding-rate snapshot for an instrument on a
// venue. Rate is the raw per-cycle rate (e.g. 0.0001 = 0.01% per cycle);
// CycleHours is the length of one funding cycle.
type FundingRate struct {
	Venue       string
	Instrument  string
	Rate        float64
	CycleHours  float64
	MarkPrice   float64
	IndexPrice  float64
	NextFunding time.Time
	ObservedAt  time.Time
}

// HourlyRate returns the funding rate normalized to a one-hour cycle.
func (f FundingRate) HourlyRate() float64 {
	if f.CycleHours <= 0 {
		return 0
	}
	return f.Rate / f.CycleHours
}

// AnnualizedPct returns the rate annualized and expressed as a percentage:
// rate * (8760 / cycleHours) * 100.
func (f FundingRate) AnnualizedPct() float64 {
	if f.CycleHours <= 0 {
		return 0
	}
	return f.Rate * (HoursPerYear / f.CycleHours) * 100
}

// Fresh reports whether the snapshot was observed within maxAge of now.
func (f FundingRate) Fresh(now time.Time, maxAge time.Duration) bool {
	return now.Sub(f.ObservedAt) <= maxAge
}
