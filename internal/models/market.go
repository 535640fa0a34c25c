package models

import "time"

// ExitReason explains why a position (or part of it) was closed.
type ExitReason string

const (
	ExitNone           ExitReason = ""
	ExitTarget         ExitReason = "TARGET"
	ExitStopLoss       ExitReason = "STOP_LOSS"
	ExitTrailingStop   ExitReason = "TRAILING_STOP"
	ExitTimeExit       ExitReason = "TIME_EXIT"
	ExitDailyLossLimit ExitReason = "DAILY_LOSS_LIMIT"
	ExitAdjustment     ExitReason = "ADJUSTMENT"
	ExitManual         ExitReason = "MANUAL"
)

// IsStop reports whether the exit counts as a stop-out for same-day re-entry.
func (r ExitReason) IsStop() bool {
	switch r {
	case ExitStopLoss, ExitDailyLossLimit, ExitAdjustment:
		return true
	default:
		return false
	}
}

// MarketSnapshot is what one polling tick (or one simulated tick) knows about the market.
// A missing or non-positive quote means the quote is unavailable.
type MarketSnapshot struct {
	Time   time.Time
	Spot   float64
	VIX    float64
	Quotes map[LegKey]float64
}

// Quote returns the price for key and whether it is usable.
func (s MarketSnapshot) Quote(key LegKey) (float64, bool) {
	p, ok := s.Quotes[key]
	return p, ok && p > 0
}

// DayState carries what happened earlier today for one strategy.
type DayState struct {
	Date        string  `json:"date"` // YYYY-MM-DD in exchange time
	Entries     int     `json:"entries"`
	RealizedPnL float64 `json:"realized_pnl"`
	StoppedOut  bool    `json:"stopped_out"`
	HasOpen     bool    `json:"has_open"`
}

// DayKey formats t as the calendar date used by DayState.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// RecordExit folds a closed position into the day.
func (d *DayState) RecordExit(reason ExitReason, pnl float64) {
	d.RealizedPnL += pnl
	if reason.IsStop() {
		d.StoppedOut = true
	}
	d.HasOpen = false
}
