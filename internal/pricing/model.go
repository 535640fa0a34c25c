// Package pricing is the synthetic option pricing model behind paper trading and backtests.
//
// Premium = intrinsic + 0.4 * spot * iv * sqrt(T) * exp(-|spot-strike| / (spot * DistanceScale)),
// the at-the-money Black-Scholes approximation damped exponentially with distance from spot.
// iv is India VIX / 100 and T is years to settlement.
package pricing

import (
	"math"

	"github.com/eddiefleurent/nifty_condor/internal/models"
	"github.com/eddiefleurent/nifty_condor/internal/util"
)

const (
	// atmFactor approximates N'(0) in the ATM Black-Scholes price.
	atmFactor = 0.4
	// DistanceScale is the fraction of spot over which time value decays by 1/e.
	DistanceScale = 0.02
	// Floor is the minimum quoted premium.
	Floor = 0.05
	// MinDaysToExpiry keeps expiry-day premiums from collapsing before the close.
	MinDaysToExpiry = 0.02
)

// IV converts a VIX reading into a decimal volatility.
func IV(vix float64) float64 {
	if vix <= 0 {
		return 0
	}
	return vix / 100
}

// Intrinsic returns the exercise value at spot.
func Intrinsic(spot float64, strike int, typ models.OptionType) float64 {
	if typ == models.OptionCall {
		return math.Max(0, spot-float64(strike))
	}
	return math.Max(0, float64(strike)-spot)
}

// Premium prices one contract, rounded to the exchange tick.
func Premium(spot float64, strike int, typ models.OptionType, iv, years float64) float64 {
	if spot <= 0 {
		return 0
	}
	if years < 0 {
		years = 0
	}
	dist := math.Abs(spot - float64(strike))
	timeValue := atmFactor * spot * iv * math.Sqrt(years) * math.Exp(-dist/(spot*DistanceScale))
	p := Intrinsic(spot, strike, typ) + timeValue
	return math.Max(Floor, util.RoundToTick(p, util.NSETick))
}

// OpenInterest is a deterministic synthetic open-interest profile: writers cluster just out of
// the money, with extra interest on round 500-point strikes.
func OpenInterest(spot float64, strike int, typ models.OptionType) int64 {
	if spot <= 0 {
		return 0
	}
	otm := float64(strike) - spot
	if typ == models.OptionPut {
		otm = -otm
	}
	// peak roughly 1% out of the money, thin on the in-the-money side
	peak := spot * 0.01
	width := spot * 0.012
	if otm < 0 {
		width = spot * 0.004
	}
	base := 2_000_000 * math.Exp(-math.Pow((otm-peak)/width, 2))
	if strike%500 == 0 {
		base *= 1.8
	} else if strike%100 == 0 {
		base *= 1.25
	}
	return int64(base) + 1000
}
