package models

import "time"

// BacktestTrade is one simulated day's outcome. It is a value and never mutated once produced.
type BacktestTrade struct {
	Day          string     `json:"day"`
	Strategy     string     `json:"strategy"`
	EntryTime    time.Time  `json:"entry_time"`
	ExitTime     time.Time  `json:"exit_time"`
	Expiry       string     `json:"expiry"`
	Spot         float64    `json:"spot"`
	VIX          float64    `json:"vix"`
	Legs         []Leg      `json:"legs"`
	EntryPremium float64    `json:"entry_premium"`
	ExitPremium  float64    `json:"exit_premium"`
	GrossPnL     float64    `json:"gross_pnl"`
	Charges      float64    `json:"charges"`
	PnL          float64    `json:"pnl"`
	ExitReason   ExitReason `json:"exit_reason"`
	Adjusted     bool       `json:"adjusted"`
}

// Win reports whether the trade made money after charges.
func (t BacktestTrade) Win() bool {
	return t.PnL > 0
}
