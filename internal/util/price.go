// Package util provides strike and premium rounding helpers and id formatting.
package util

import "math"

// NSETick is the minimum premium increment for index options.
const NSETick = 0.05

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.05, 101.33 becomes 101.35.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// ATMStrike returns the listed strike nearest to spot for the given strike step.
func ATMStrike(spot float64, step int) int {
	if step <= 0 {
		return int(math.Round(spot))
	}
	return int(math.Round(spot/float64(step))) * step
}

// IsStrikeMultiple reports whether strike sits on the step grid.
func IsStrikeMultiple(strike, step int) bool {
	if step <= 0 {
		return false
	}
	return strike%step == 0
}

// Abs returns the absolute value of an integer strike distance.
func Abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
