// Package backtest replays the entry gate and exit evaluator against synthetic intraday price
// paths, one simulated trade per trading day.
//
// Per day, spot drifts by a seeded gaussian return and VIX by mean-reverting noise. Entry is
// drawn uniformly inside the variant's window. From entry to the exit cutoff, spot takes one
// log-normal step per tick scaled by VIX, and each open leg is quoted at the pricing model's
// value for the remaining time with log-normal noise on top. Time decay in the model pulls a
// short book's premium down on average.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/nifty_condor/internal/calendar"
	"github.com/eddiefleurent/nifty_condor/internal/config"
	"github.com/eddiefleurent/nifty_condor/internal/metrics"
	"github.com/eddiefleurent/nifty_condor/internal/models"
	"github.com/eddiefleurent/nifty_condor/internal/pricing"
	"github.com/eddiefleurent/nifty_condor/internal/strategy"
	"github.com/eddiefleurent/nifty_condor/internal/util"
)

// tradingMinutesPerYear scales annual volatility to one tick.
const tradingMinutesPerYear = 252 * 375

// maxRangeDays bounds a single request.
const maxRangeDays = 3 * 366

// Request is one backtest over a date range for one variant.
type Request struct {
	Strategy config.StrategyConfig
	From     time.Time
	To       time.Time
	Capital  float64
	// Seed overrides the configured seed when non-zero.
	Seed int64
}

// Validate checks the request shape.
func (r Request) Validate() error {
	if r.From.IsZero() || r.To.IsZero() {
		return errors.New("from and to dates are required")
	}
	if r.To.Before(r.From) {
		return fmt.Errorf("to %s is before from %s", models.DayKey(r.To), models.DayKey(r.From))
	}
	if r.To.Sub(r.From) > maxRangeDays*24*time.Hour {
		return fmt.Errorf("range longer than %d days", maxRangeDays)
	}
	if r.Capital <= 0 {
		return errors.New("capital must be positive")
	}
	return nil
}

// Simulator holds the immutable inputs shared by runs. Each Run builds its own random source,
// so one Simulator can serve concurrent runs without shared mutable state.
type Simulator struct {
	cfg    config.BacktestConfig
	inst   config.InstrumentConfig
	cal    *calendar.Calendar
	logger *logrus.Entry
}

// NewSimulator builds a simulator. The calendar must not be nil.
func NewSimulator(cfg config.BacktestConfig, inst config.InstrumentConfig, cal *calendar.Calendar, logger *logrus.Entry) *Simulator {
	if cal == nil {
		panic("backtest.NewSimulator: calendar must not be nil")
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	return &Simulator{cfg: cfg, inst: inst, cal: cal, logger: logger}
}

// run is the mutable state of one backtest.
type run struct {
	*Simulator
	req  Request
	seed int64
	rng  *rand.Rand
	gate *strategy.EntryGate
	eval *strategy.Evaluator
	log  *logrus.Entry

	spot float64
	vix  float64
}

// Run simulates every trading day in [req.From, req.To]. The same request and seed always
// produce the same trades.
func (s *Simulator) Run(ctx context.Context, req Request) (*Report, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid backtest request: %w", err)
	}
	seed := req.Seed
	if seed == 0 {
		seed = s.cfg.Seed
	}
	u := uint64(seed)
	r := &run{
		Simulator: s,
		req:       req,
		seed:      seed,
		rng:       rand.New(rand.NewPCG(u, u^0x9e3779b97f4a7c15)),
		gate:      strategy.NewEntryGate(req.Strategy, s.inst, s.cal),
		eval:      strategy.NewEvaluator(req.Strategy),
		log:       s.logger.WithField("strategy", req.Strategy.ID()),
		spot:      s.cfg.ReferenceSpot,
		vix:       s.cfg.ReferenceVIX,
	}

	days := s.cal.TradingDays(req.From, req.To)
	r.log.WithFields(logrus.Fields{
		"from":    models.DayKey(req.From),
		"to":      models.DayKey(req.To),
		"days":    len(days),
		"seed":    seed,
		"capital": req.Capital,
	}).Info("backtest started")

	rep := newReport(req, seed)
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("backtest canceled: %w", err)
		}
		trade, skip := r.simulateDay(ctx, day)
		if skip != "" {
			rep.skip(skip)
			continue
		}
		rep.add(trade)
	}
	rep.finish()

	metrics.BacktestRuns.WithLabelValues(req.Strategy.ID()).Inc()
	r.log.WithFields(logrus.Fields{
		"trades":     rep.TotalTrades,
		"win_rate":   fmt.Sprintf("%.1f", rep.WinRate),
		"total_pnl":  fmt.Sprintf("%.2f", rep.TotalPnL),
		"return_pct": fmt.Sprintf("%.2f", rep.ReturnPct),
	}).Info("backtest finished")
	return rep, nil
}

// advanceDay moves the daily spot and VIX.
func (r *run) advanceDay() {
	r.spot *= math.Exp(r.rng.NormFloat64() * r.cfg.DailySpotSigma)
	r.vix += 0.2*(r.cfg.ReferenceVIX-r.vix) + r.rng.NormFloat64()*0.6
	r.vix = math.Min(40, math.Max(9, r.vix))
}

// simulateDay returns the day's trade, or the rejection that skipped it.
func (r *run) simulateDay(ctx context.Context, day time.Time) (models.BacktestTrade, strategy.Rejection) {
	r.advanceDay()
	sc := r.req.Strategy

	window := sc.EntryEnd.Minutes() - sc.EntryStart.Minutes()
	entryAt := sc.EntryStart.On(day).Add(time.Duration(r.rng.IntN(window+1)) * time.Minute)
	exitAt := sc.ExitTime.On(day)

	dayState := models.DayState{Date: models.DayKey(day)}
	expiry, err := r.cal.ResolveExpiry(entryAt, sc)
	if err != nil {
		return models.BacktestTrade{}, strategy.RejectExpiryDay
	}
	src := &modelSource{at: entryAt, spot: r.spot, vix: r.vix, expiry: expiry, cal: r.cal, step: r.inst.StrikeStep, radius: sc.DynamicRadius}

	d := r.gate.Evaluate(ctx, models.MarketSnapshot{Time: entryAt, Spot: r.spot, VIX: r.vix}, dayState, src)
	if !d.Allowed {
		reason := d.Failures[0].Reason
		r.log.WithFields(logrus.Fields{"day": dayState.Date, "reason": reason}).Debug("day skipped: " + d.Summary())
		return models.BacktestTrade{}, reason
	}

	pos := models.NewPosition(fmt.Sprintf("bt-%s-%s", sc.ID(), dayState.Date), sc.ID(), d.Legs, d.Expiry, dayState.Date)
	pos.EntrySpot = r.spot
	_ = pos.TransitionState(models.StateOpen, models.ConditionLegsFilled, entryAt)
	dayState.Entries, dayState.HasOpen = 1, true

	spot := r.spot
	iv := pricing.IV(r.vix)
	stepSigma := iv * math.Sqrt(r.cfg.TickInterval.Minutes()/tradingMinutesPerYear)
	last := entryAt

	for t := entryAt; t.Before(exitAt) && !pos.IsClosed(); {
		// the final step lands on the cutoff even when the interval does not divide the day
		t = t.Add(r.cfg.TickInterval)
		if t.After(exitAt) {
			t = exitAt
		}
		spot *= math.Exp(r.rng.NormFloat64() * stepSigma)
		snap := models.MarketSnapshot{Time: t, Spot: spot, VIX: r.vix, Quotes: r.quote(pos, spot, iv, t)}
		last = t

		decision := r.eval.Tick(pos, snap, dayState)
		switch {
		case decision.Hold():
		case decision.Partial:
			for _, i := range decision.LegsToClose {
				pos.CloseLeg(i, pos.Legs[i].CurrentPrice, "")
			}
			_ = pos.TransitionState(models.StateAdjusted, models.ConditionLegAdjusted, t)
		default:
			r.closeAll(pos, decision.Reason, decision.Ambiguous, t)
		}
	}
	if !pos.IsClosed() {
		// entry at or after the cutoff never ticks
		r.closeAll(pos, models.ExitTimeExit, false, last)
	}

	r.spot = spot
	return r.trade(pos, d), ""
}

func (r *run) quote(pos *models.Position, spot, iv float64, at time.Time) map[models.LegKey]float64 {
	years := r.cal.YearsToExpiry(at, pos.Expiry, pricing.MinDaysToExpiry)
	quotes := make(map[models.LegKey]float64, len(pos.Legs))
	for _, l := range pos.Legs {
		if l.Closed {
			continue
		}
		model := pricing.Premium(spot, l.Strike, l.OptionType, iv, years)
		noisy := model * math.Exp(r.rng.NormFloat64()*r.cfg.NoiseSigma)
		quotes[l.Key()] = math.Max(pricing.Floor, util.RoundToTick(noisy, util.NSETick))
	}
	return quotes
}

func (r *run) closeAll(pos *models.Position, reason models.ExitReason, ambiguous bool, at time.Time) {
	_ = pos.BeginExit(reason, ambiguous, at)
	for _, i := range pos.OpenLegs() {
		pos.CloseLeg(i, pos.Legs[i].CurrentPrice, "")
	}
	_, _ = pos.FinishExit(at)
}

func (r *run) trade(pos *models.Position, d strategy.EntryDecision) models.BacktestTrade {
	var units int
	var exitPremium float64
	for _, l := range pos.Legs {
		units += l.Quantity
		exitPremium += l.Sign() * l.ExitPrice
	}
	orders := float64(2 * len(pos.Legs))
	charges := r.cfg.BrokeragePerOrder*orders + r.cfg.SlippagePerUnit*float64(2*units)

	legs := make([]models.Leg, len(pos.Legs))
	copy(legs, pos.Legs)
	return models.BacktestTrade{
		Day:          pos.DayKey,
		Strategy:     pos.StrategyID,
		EntryTime:    pos.EntryTime,
		ExitTime:     pos.ExitTime,
		Expiry:       models.DayKey(pos.Expiry),
		Spot:         d.Spot,
		VIX:          d.VIX,
		Legs:         legs,
		EntryPremium: d.NetPremium,
		ExitPremium:  exitPremium,
		GrossPnL:     pos.RealizedPnL,
		Charges:      charges,
		PnL:          pos.RealizedPnL - charges,
		ExitReason:   pos.ExitReason,
		Adjusted:     pos.Adjusted,
	}
}

// modelSource prices entry candidates from the pricing model.
type modelSource struct {
	at     time.Time
	spot   float64
	vix    float64
	expiry time.Time
	cal    *calendar.Calendar
	step   int
	radius int
}

func (m *modelSource) Premium(_ context.Context, key models.LegKey) (float64, error) {
	years := m.cal.YearsToExpiry(m.at, m.expiry, pricing.MinDaysToExpiry)
	return pricing.Premium(m.spot, key.Strike, key.Type, pricing.IV(m.vix), years), nil
}

func (m *modelSource) OpenInterest(_ context.Context) (map[models.LegKey]int64, error) {
	atm := util.ATMStrike(m.spot, m.step)
	oi := make(map[models.LegKey]int64)
	for strike := atm - m.radius; strike <= atm+m.radius; strike += m.step {
		for _, typ := range []models.OptionType{models.OptionCall, models.OptionPut} {
			oi[models.LegKey{Strike: strike, Type: typ}] = pricing.OpenInterest(m.spot, strike, typ)
		}
	}
	return oi, nil
}

// newRunID tags a report; it is not part of the simulated trade sequence.
func newRunID() string {
	return uuid.NewString()
}
