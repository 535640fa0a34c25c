package strategy

import (
	"fmt"
	"math"

	"github.com/eddiefleurent/nifty_condor/internal/config"
	"github.com/eddiefleurent/nifty_condor/internal/models"
)

// ExitDecision is what the evaluator wants done with a position on one tick.
type ExitDecision struct {
	Reason        models.ExitReason
	ProfitPct     float64
	PeakProfitPct float64
	// Partial is set for a one-sided adjustment; only LegsToClose are closed and the
	// position carries on as ADJUSTED.
	Partial     bool
	LegsToClose []int
	Ambiguous   bool
	Missing     []models.LegKey
	Detail      string
}

// Hold reports whether nothing should be done.
func (d ExitDecision) Hold() bool {
	return d.Reason == models.ExitNone
}

// Terminal reports whether the whole position should be closed.
func (d ExitDecision) Terminal() bool {
	return !d.Hold() && !d.Partial
}

func (d ExitDecision) String() string {
	if d.Hold() {
		return fmt.Sprintf("hold (pnl %.1f%%, peak %.1f%%)", d.ProfitPct, d.PeakProfitPct)
	}
	return fmt.Sprintf("%s: %s", d.Reason, d.Detail)
}

// Evaluator applies one variant's exit rules. The variant is data; there is a single rule set.
type Evaluator struct {
	cfg config.StrategyConfig
}

// NewEvaluator builds an evaluator for one variant.
func NewEvaluator(cfg config.StrategyConfig) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Tick marks pos to snap and evaluates it. The live monitor and the simulator both drive
// positions through Tick.
func (e *Evaluator) Tick(pos *models.Position, snap models.MarketSnapshot, day models.DayState) ExitDecision {
	if pos == nil {
		return ExitDecision{}
	}
	pos.MarkToMarket(snap.Quotes, snap.Time)
	return e.Evaluate(pos, snap, day)
}

// Evaluate checks, in order: peak update, trailing activation, trailing stop, target,
// premium stop, spot stop, daily loss limit, time exit, then the one-sided adjustment.
// Checks that need option prices are skipped while any open leg lacks a quote; the time
// exit never is. Evaluate updates pos.PeakProfitPct and pos.TrailingActive.
func (e *Evaluator) Evaluate(pos *models.Position, snap models.MarketSnapshot, day models.DayState) ExitDecision {
	var d ExitDecision
	if pos == nil || (pos.State != models.StateOpen && pos.State != models.StateAdjusted) {
		return d
	}
	c := e.cfg

	d.Missing = missingQuotes(pos, snap)
	priced := len(d.Missing) == 0
	pct, ok := pos.ProfitPct()
	priced = priced && ok

	if priced {
		d.ProfitPct = pct
		if pct > pos.PeakProfitPct {
			pos.PeakProfitPct = pct
		}
		if c.TrailingEnabled && !pos.TrailingActive && pct >= c.TrailActivatePct {
			pos.TrailingActive = true
		}
	}
	d.PeakProfitPct = pos.PeakProfitPct

	exit := func(r models.ExitReason, format string, args ...interface{}) ExitDecision {
		d.Reason = r
		d.Detail = fmt.Sprintf(format, args...)
		return d
	}

	if priced {
		if pos.TrailingActive && pct <= pos.PeakProfitPct-c.TrailOffsetPct {
			return exit(models.ExitTrailingStop, "profit %.1f%% gave back %.1f%% from peak %.1f%%",
				pct, pos.PeakProfitPct-pct, pos.PeakProfitPct)
		}
		if pct >= c.TargetPct {
			return exit(models.ExitTarget, "profit %.1f%% reached target %.1f%%", pct, c.TargetPct)
		}
		if pct <= -c.StopLossPct {
			return exit(models.ExitStopLoss, "loss %.1f%% reached stop %.1f%%", -pct, c.StopLossPct)
		}
	}

	if c.SpotSLPoints > 0 && snap.Spot > 0 && pos.EntrySpot > 0 {
		if move := math.Abs(snap.Spot - pos.EntrySpot); move >= c.SpotSLPoints {
			return exit(models.ExitStopLoss, "spot moved %.1f points from %.1f", move, pos.EntrySpot)
		}
	}

	if priced && c.DailyLossLimit > 0 {
		if total := day.RealizedPnL + pos.TotalPnL(); total <= -c.DailyLossLimit {
			return exit(models.ExitDailyLossLimit, "day P&L %.2f at or below -%.2f", total, c.DailyLossLimit)
		}
	}

	if !snap.Time.Before(c.ExitTime.On(snap.Time)) {
		return exit(models.ExitTimeExit, "exit time %s reached", c.ExitTime)
	}

	if priced && c.AdjustmentEnabled && pos.CanAdjust() {
		if adj, ok := e.adjustment(pos); ok {
			adj.ProfitPct, adj.PeakProfitPct, adj.Missing = d.ProfitPct, d.PeakProfitPct, d.Missing
			return adj
		}
	}
	return d
}

// adjustment closes a side once its own loss reaches PerLegSLPct while the other side is in
// profit. When both sides breach together there is no winning side to keep, so everything
// is closed and the event is flagged ambiguous.
func (e *Evaluator) adjustment(pos *models.Position) (ExitDecision, bool) {
	callPct, callOK := pos.SideProfitPct(models.OptionCall)
	putPct, putOK := pos.SideProfitPct(models.OptionPut)
	if !callOK || !putOK {
		return ExitDecision{}, false
	}
	limit := -e.cfg.PerLegSLPct
	callBreach, putBreach := callPct <= limit, putPct <= limit

	switch {
	case callBreach && putBreach:
		return ExitDecision{
			Reason:      models.ExitAdjustment,
			LegsToClose: pos.OpenLegs(),
			Ambiguous:   true,
			Detail:      fmt.Sprintf("both sides breached (call %.1f%%, put %.1f%%)", callPct, putPct),
		}, true
	case callBreach && putPct > 0:
		return ExitDecision{
			Reason:      models.ExitAdjustment,
			Partial:     true,
			LegsToClose: pos.SideLegs(models.OptionCall),
			Detail:      fmt.Sprintf("call side %.1f%% breached, put side %.1f%%", callPct, putPct),
		}, true
	case putBreach && callPct > 0:
		return ExitDecision{
			Reason:      models.ExitAdjustment,
			Partial:     true,
			LegsToClose: pos.SideLegs(models.OptionPut),
			Detail:      fmt.Sprintf("put side %.1f%% breached, call side %.1f%%", putPct, callPct),
		}, true
	}
	return ExitDecision{}, false
}

func missingQuotes(pos *models.Position, snap models.MarketSnapshot) []models.LegKey {
	var missing []models.LegKey
	for _, l := range pos.Legs {
		if l.Closed {
			continue
		}
		if _, ok := snap.Quote(l.Key()); !ok {
			missing = append(missing, l.Key())
		}
	}
	return missing
}
