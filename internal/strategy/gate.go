package strategy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/eddiefleurent/nifty_condor/internal/calendar"
	"github.com/eddiefleurent/nifty_condor/internal/config"
	"github.com/eddiefleurent/nifty_condor/internal/models"
	"github.com/eddiefleurent/nifty_condor/internal/util"
)

// Rejection names one reason an entry was refused.
type Rejection string

const (
	RejectAlreadyOpen      Rejection = "AlreadyOpen"
	RejectOutsideWindow    Rejection = "OutsideWindow"
	RejectReentryBlocked   Rejection = "ReentryBlocked"
	RejectEntryLimit       Rejection = "EntryLimitReached"
	RejectDailyLoss        Rejection = "DailyLossLimit"
	RejectVixFilter        Rejection = "VixFilter"
	RejectExpiryDay        Rejection = "ExpiryDayBlocked"
	RejectPremiumTooLow    Rejection = "PremiumTooLow"
	RejectQuoteUnavailable Rejection = "QuoteUnavailable"
)

// Failure is one failed entry check.
type Failure struct {
	Reason Rejection `json:"reason"`
	Detail string    `json:"detail"`
}

// EntryDecision is the outcome of every entry check. When Allowed, Legs carry the quoted
// entry premiums and the caller may open the position.
type EntryDecision struct {
	Allowed    bool
	Failures   []Failure
	Legs       []models.Leg
	Quantity   int
	NetPremium float64
	ATM        int
	Expiry     time.Time
	Spot       float64
	VIX        float64
	// Err is the first market data error seen while pricing, for the caller to classify.
	Err error
}

// Rejected reports whether r is among the failures.
func (d EntryDecision) Rejected(r Rejection) bool {
	for _, f := range d.Failures {
		if f.Reason == r {
			return true
		}
	}
	return false
}

// Reasons lists failure reasons in check order.
func (d EntryDecision) Reasons() []Rejection {
	out := make([]Rejection, 0, len(d.Failures))
	for _, f := range d.Failures {
		out = append(out, f.Reason)
	}
	return out
}

// Summary renders the failures on one line.
func (d EntryDecision) Summary() string {
	if d.Allowed {
		return fmt.Sprintf("entry allowed: net premium %.2f", d.NetPremium)
	}
	parts := make([]string, 0, len(d.Failures))
	for _, f := range d.Failures {
		parts = append(parts, fmt.Sprintf("%s (%s)", f.Reason, f.Detail))
	}
	return strings.Join(parts, "; ")
}

// EntryGate decides whether a variant may open a position now.
type EntryGate struct {
	cfg  config.StrategyConfig
	inst config.InstrumentConfig
	cal  *calendar.Calendar
}

// NewEntryGate builds a gate for one variant.
func NewEntryGate(cfg config.StrategyConfig, inst config.InstrumentConfig, cal *calendar.Calendar) *EntryGate {
	return &EntryGate{cfg: cfg, inst: inst, cal: cal}
}

// Config returns the variant the gate was built for.
func (g *EntryGate) Config() config.StrategyConfig {
	return g.cfg
}

// Evaluate runs every entry check against snap (time, spot and VIX) and the day so far.
// All failing checks are reported, not just the first.
func (g *EntryGate) Evaluate(ctx context.Context, snap models.MarketSnapshot, day models.DayState, src MarketSource) EntryDecision {
	now := snap.Time.In(g.cal.Location())
	d := EntryDecision{
		Quantity: g.cfg.Quantity(g.inst.LotSize),
		Spot:     snap.Spot,
		VIX:      snap.VIX,
	}
	fail := func(r Rejection, format string, args ...interface{}) {
		d.Failures = append(d.Failures, Failure{Reason: r, Detail: fmt.Sprintf(format, args...)})
	}

	if day.HasOpen {
		fail(RejectAlreadyOpen, "position already open")
	}

	start, end := g.cfg.EntryStart.On(now), g.cfg.EntryEnd.On(now)
	switch {
	case !g.cal.IsTradingDay(now):
		fail(RejectOutsideWindow, "%s is not a trading day", models.DayKey(now))
	case now.Before(start) || now.After(end):
		fail(RejectOutsideWindow, "%s outside %s-%s", now.Format("15:04:05"), g.cfg.EntryStart, g.cfg.EntryEnd)
	case !now.Before(g.cfg.ExitTime.On(now)):
		fail(RejectOutsideWindow, "%s at or after exit time %s", now.Format("15:04:05"), g.cfg.ExitTime)
	}

	if g.cfg.BlockReentryAfterStop && day.StoppedOut {
		fail(RejectReentryBlocked, "stopped out earlier today")
	}
	if g.cfg.MaxEntriesPerDay > 0 && day.Entries >= g.cfg.MaxEntriesPerDay {
		fail(RejectEntryLimit, "%d of %d entries used", day.Entries, g.cfg.MaxEntriesPerDay)
	}
	if g.cfg.DailyLossLimit > 0 && day.RealizedPnL <= -g.cfg.DailyLossLimit {
		fail(RejectDailyLoss, "day P&L %.2f at or below -%.2f", day.RealizedPnL, g.cfg.DailyLossLimit)
	}

	switch {
	case snap.VIX <= 0:
		fail(RejectVixFilter, "VIX unavailable")
	case snap.VIX < g.cfg.MinVIX || snap.VIX > g.cfg.MaxVIX:
		fail(RejectVixFilter, "VIX %.2f outside [%.2f, %.2f]", snap.VIX, g.cfg.MinVIX, g.cfg.MaxVIX)
	}

	expiry, err := g.cal.ResolveExpiry(now, g.cfg)
	if err != nil {
		fail(RejectExpiryDay, "resolve expiry: %v", err)
	} else {
		d.Expiry = expiry
		if g.cfg.AvoidExpiryDay && g.cal.IsExpiryDay(now, expiry) {
			fail(RejectExpiryDay, "today is expiry day %s", models.DayKey(expiry))
		}
	}

	g.price(ctx, &d, snap.Spot, src, fail)

	d.Allowed = len(d.Failures) == 0
	return d
}

func (g *EntryGate) price(ctx context.Context, d *EntryDecision, spot float64, src MarketSource, fail func(Rejection, string, ...interface{})) {
	if spot <= 0 {
		fail(RejectQuoteUnavailable, "spot unavailable")
		return
	}
	if src == nil {
		fail(RejectQuoteUnavailable, "no market source")
		return
	}

	d.ATM = util.ATMStrike(spot, g.inst.StrikeStep)

	var oi map[models.LegKey]int64
	if g.cfg.StrikeMode == config.StrikeDynamic {
		var err error
		if oi, err = src.OpenInterest(ctx); err != nil {
			// fixed offsets still apply; remember the error for the caller
			d.Err = err
			oi = nil
		}
	}

	legs := SelectLegs(g.cfg, g.inst, d.ATM, oi)
	var missing []string
	var net float64
	for i := range legs {
		p, err := src.Premium(ctx, legs[i].Key())
		if err != nil || p <= 0 {
			if err != nil && d.Err == nil {
				d.Err = err
			}
			missing = append(missing, legs[i].Key().String())
			continue
		}
		legs[i].EntryPrice = p
		legs[i].CurrentPrice = p
		net += legs[i].Sign() * p
	}
	d.Legs = legs

	if len(missing) > 0 {
		fail(RejectQuoteUnavailable, "no quote for %s", strings.Join(missing, ","))
		return
	}
	d.NetPremium = net
	if net < g.cfg.MinPremium {
		fail(RejectPremiumTooLow, "net premium %.2f below %.2f", net, g.cfg.MinPremium)
	}
}
