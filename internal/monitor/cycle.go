package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/nifty_condor/internal/broker"
	"github.com/eddiefleurent/nifty_condor/internal/metrics"
	"github.com/eddiefleurent/nifty_condor/internal/models"
	"github.com/eddiefleurent/nifty_condor/internal/notify"
	"github.com/eddiefleurent/nifty_condor/internal/retry"
	"github.com/eddiefleurent/nifty_condor/internal/storage"
	"github.com/eddiefleurent/nifty_condor/internal/strategy"
	"github.com/eddiefleurent/nifty_condor/internal/util"
)

// RunCycle executes one polling cycle. It returns false without doing anything when another
// cycle (or a forced close) is still in flight.
func (r *Runner) RunCycle(ctx context.Context) bool {
	if !r.cycleMu.TryLock() {
		r.logger.Warn("previous cycle still running, skipping")
		return false
	}
	defer r.cycleMu.Unlock()

	started := time.Now()
	defer func() {
		metrics.CycleSeconds.WithLabelValues(r.id).Observe(time.Since(started).Seconds())
	}()

	now := r.clock.Now().In(r.cal.Location())
	r.mu.Lock()
	r.lastCycle = now
	r.mu.Unlock()

	dayErr := r.rollDay(ctx, now)

	if pos := r.position(); pos != nil {
		r.managePosition(ctx, pos, now)
		return true
	}
	if dayErr != nil {
		r.logger.WithError(dayErr).Warn("day state unavailable, skipping entry check")
		return true
	}
	r.checkEntry(ctx, now)
	return true
}

// rollDay rebuilds the day's counters from the ledger when the exchange date changes.
func (r *Runner) rollDay(ctx context.Context, now time.Time) error {
	today := models.DayKey(now)
	r.mu.Lock()
	current := r.day.Date
	r.mu.Unlock()
	if current == today {
		return nil
	}

	trades, err := r.store.TradesForDay(ctx, r.id, today)
	if err != nil {
		r.setError(err)
		return fmt.Errorf("loading today's trades: %w", err)
	}
	day := models.DayState{Date: today, Entries: len(trades)}
	for _, t := range trades {
		day.RealizedPnL += t.PnL
		if t.ExitReason.IsStop() {
			day.StoppedOut = true
		}
	}

	r.mu.Lock()
	if r.pos != nil {
		day.HasOpen = true
		if r.pos.DayKey == today {
			day.Entries++
		}
	}
	r.day = day
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"day":          today,
		"entries":      day.Entries,
		"realized_pnl": day.RealizedPnL,
		"stopped_out":  day.StoppedOut,
	}).Info("new trading day")
	return nil
}

func (r *Runner) managePosition(ctx context.Context, pos *models.Position, now time.Time) {
	log := r.logger.WithField("position", util.ShortID(pos.ID))

	switch pos.State {
	case models.StateClosing:
		log.WithField("open_legs", len(pos.OpenLegs())).Info("retrying close of remaining legs")
		if err := r.closeRemaining(ctx, pos); err != nil {
			log.WithError(err).Warn("position still closing")
		}
		return
	case models.StateOpen, models.StateAdjusted:
	default:
		log.WithField("state", pos.State).Error("unexpected position state, dropping from monitor")
		r.mu.Lock()
		r.pos = nil
		r.mu.Unlock()
		return
	}

	if pos.DayKey != models.DayKey(now) {
		log.WithField("opened", pos.DayKey).Warn("position carried over from an earlier session, exiting")
		r.exit(ctx, pos, strategy.ExitDecision{Reason: models.ExitTimeExit, Detail: "carried over from " + pos.DayKey}, now)
		return
	}

	snap, err := r.fetchSnapshot(ctx, pos, now)
	if err != nil {
		r.setError(err)
		if broker.Classify(err) == broker.OutcomeAuthExpired {
			r.sessionExpired(ctx, err)
			return
		}
		if now.Before(r.cfg.ExitTime.On(now)) {
			log.WithError(err).Warn("market data unavailable, skipping cycle")
			return
		}
		log.WithError(err).Warn("market data unavailable at exit time, exiting on last known prices")
		snap = models.MarketSnapshot{Time: now}
	}

	r.mu.Lock()
	decision := r.eval.Tick(pos, snap, r.day)
	if snap.Spot > 0 {
		r.lastSpot = snap.Spot
	}
	if snap.VIX > 0 {
		r.lastVIX = snap.VIX
	}
	r.lastDecision = decision.String()
	pnl := pos.TotalPnL()
	r.mu.Unlock()
	metrics.PositionPnL.WithLabelValues(r.id).Set(pnl)

	if len(decision.Missing) > 0 {
		log.WithField("missing", fmt.Sprint(decision.Missing)).Warn("quotes unavailable, price checks skipped this tick")
	}

	switch {
	case decision.Hold():
		log.WithFields(logrus.Fields{"pnl_pct": fmt.Sprintf("%.1f", decision.ProfitPct), "pnl": pnl}).Debug(decision.String())
		r.persist(ctx, pos)
	case decision.Partial:
		r.adjust(ctx, pos, decision, now)
	default:
		r.exit(ctx, pos, decision, now)
	}
}

// adjust closes the losing side. If any of its legs cannot be closed the whole position is
// exited instead, so no half-closed side is left running.
func (r *Runner) adjust(ctx context.Context, pos *models.Position, d strategy.ExitDecision, now time.Time) {
	log := r.logger.WithField("position", util.ShortID(pos.ID))
	log.WithField("legs", fmt.Sprint(d.LegsToClose)).Warn("adjusting: " + d.Detail)

	legs := r.legsCopy(pos)
	fills, err := r.executor.Close(ctx, pos.ID, pos.Expiry, legs, d.LegsToClose)

	r.mu.Lock()
	r.applyCloseFills(pos, fills)
	complete := true
	for _, i := range d.LegsToClose {
		if !pos.Legs[i].Closed {
			complete = false
		}
	}
	var stateErr error
	if complete {
		stateErr = pos.TransitionState(models.StateAdjusted, models.ConditionLegAdjusted, now)
	}
	snapshot := pos.Snapshot()
	r.mu.Unlock()

	if stateErr != nil {
		log.WithError(stateErr).Error("failed to mark position adjusted")
	}
	if !complete {
		r.setError(err)
		log.WithError(err).Error("adjustment incomplete, exiting whole position")
		r.notify(ctx, notify.EventError, fmt.Sprintf("adjustment failed, closing position: %v", err), snapshot)
		if broker.Classify(err) == broker.OutcomeAuthExpired {
			r.sessionExpired(ctx, err)
		}
		r.exit(ctx, pos, strategy.ExitDecision{Reason: models.ExitAdjustment, Detail: "adjustment incomplete"}, now)
		return
	}

	metrics.Adjustments.WithLabelValues(r.id, "one_sided").Inc()
	r.persist(ctx, pos)
	r.notify(ctx, notify.EventAdjustment, d.Detail, snapshot)
}

// exit moves the position to CLOSING and closes what is still open.
func (r *Runner) exit(ctx context.Context, pos *models.Position, d strategy.ExitDecision, now time.Time) {
	log := r.logger.WithFields(logrus.Fields{"position": util.ShortID(pos.ID), "reason": d.Reason})
	if d.Ambiguous {
		metrics.Adjustments.WithLabelValues(r.id, "ambiguous").Inc()
		log.Warn("ambiguous adjustment, both sides breached on the same tick: " + d.Detail)
	} else {
		log.Info("exit signal: " + d.Detail)
	}

	if err := r.beginExit(ctx, pos, d.Reason, d.Ambiguous, now); err != nil {
		log.WithError(err).Error("failed to begin exit")
		return
	}
	if err := r.closeRemaining(ctx, pos); err != nil {
		log.WithError(err).Warn("exit incomplete, will retry next cycle")
	}
}

func (r *Runner) beginExit(ctx context.Context, pos *models.Position, reason models.ExitReason, ambiguous bool, now time.Time) error {
	r.mu.Lock()
	err := pos.BeginExit(reason, ambiguous, now)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.persist(ctx, pos)
	return nil
}

// closeRemaining closes every open leg of a CLOSING position and books the trade once flat.
func (r *Runner) closeRemaining(ctx context.Context, pos *models.Position) error {
	legs := r.legsCopy(pos)
	fills, closeErr := r.executor.Close(ctx, pos.ID, pos.Expiry, legs, pos.OpenLegs())
	now := r.clock.Now()

	r.mu.Lock()
	r.applyCloseFills(pos, fills)
	closed, stateErr := pos.FinishExit(now)
	r.mu.Unlock()

	if stateErr != nil {
		return stateErr
	}
	if !closed {
		r.persist(ctx, pos)
		if closeErr != nil {
			r.setError(closeErr)
			if broker.Classify(closeErr) == broker.OutcomeAuthExpired {
				r.sessionExpired(ctx, closeErr)
			}
		}
		return fmt.Errorf("%d legs still open: %w", len(pos.OpenLegs()), closeErr)
	}

	r.finalize(ctx, pos)
	return nil
}

// finalize books a closed position into the ledger and the day, then forgets it.
func (r *Runner) finalize(ctx context.Context, pos *models.Position) {
	rec := storage.NewTradeRecord(pos)
	log := r.logger.WithFields(logrus.Fields{
		"position": util.ShortID(pos.ID),
		"reason":   pos.ExitReason,
		"pnl":      fmt.Sprintf("%.2f", pos.RealizedPnL),
	})

	if err := r.store.AppendTrade(ctx, rec); err != nil {
		r.setError(err)
		log.WithError(err).Error("failed to record trade in ledger")
		r.notify(ctx, notify.EventError, fmt.Sprintf("trade %s closed but not recorded: %v", pos.ID, err), pos.Snapshot())
	}
	if err := r.store.ClearOpenPosition(ctx, r.id); err != nil {
		log.WithError(err).Error("failed to clear open position snapshot")
	}

	r.mu.Lock()
	r.day.RecordExit(pos.ExitReason, pos.RealizedPnL)
	r.pos = nil
	r.mu.Unlock()

	metrics.Exits.WithLabelValues(r.id, string(pos.ExitReason)).Inc()
	metrics.OpenPositions.WithLabelValues(r.id).Set(0)
	metrics.PositionPnL.WithLabelValues(r.id).Set(0)

	log.Info("position closed")
	msg := fmt.Sprintf("closed: %s", pos.ExitReason)
	if pos.Ambiguous {
		msg = "ambiguous adjustment: both sides breached, closed all legs"
	}
	r.notify(ctx, notify.ExitEventType(pos.ExitReason), msg, pos.Snapshot())
}

func (r *Runner) checkEntry(ctx context.Context, now time.Time) {
	r.mu.Lock()
	day := r.day
	halted := r.authExpired
	r.mu.Unlock()

	if halted {
		r.logger.Debug("entries halted until the gateway session is updated")
		return
	}

	// Checks that need no market data first, so a closed window costs no gateway calls.
	if pre := r.gate.Evaluate(ctx, models.MarketSnapshot{Time: now}, day, nil); blockedWithoutMarket(pre) {
		r.recordDecision(pre)
		r.logger.Debug("entry blocked: " + pre.Summary())
		return
	}

	spot, err := r.fetchFloat(ctx, "GetSpot", r.gw.GetSpot)
	if err != nil {
		r.entryDataError(ctx, err)
		return
	}
	vix, err := r.fetchFloat(ctx, "GetVIX", r.gw.GetVIX)
	if err != nil && broker.Classify(err) != broker.OutcomeQuoteUnavailable {
		r.entryDataError(ctx, err)
		return
	}

	r.mu.Lock()
	r.lastSpot = spot
	r.lastVIX = vix
	r.mu.Unlock()

	var src strategy.MarketSource
	if expiry, err := r.cal.ResolveExpiry(now, r.cfg); err == nil {
		src = &gatewaySource{r: r, expiry: expiry}
	}
	decision := r.gate.Evaluate(ctx, models.MarketSnapshot{Time: now, Spot: spot, VIX: vix}, day, src)
	r.recordDecision(decision)

	if !decision.Allowed {
		if decision.Err != nil && broker.Classify(decision.Err) == broker.OutcomeAuthExpired {
			r.sessionExpired(ctx, decision.Err)
			return
		}
		r.logger.Info("entry conditions not met: " + decision.Summary())
		return
	}

	r.logger.WithFields(logrus.Fields{
		"atm":         decision.ATM,
		"net_premium": fmt.Sprintf("%.2f", decision.NetPremium),
		"expiry":      models.DayKey(decision.Expiry),
	}).Info("entry signal")
	r.executeEntry(ctx, decision, now)
}

func (r *Runner) executeEntry(ctx context.Context, d strategy.EntryDecision, now time.Time) {
	pos := models.NewPosition(uuid.NewString(), r.id, d.Legs, d.Expiry, models.DayKey(now))
	pos.EntrySpot = d.Spot
	log := r.logger.WithField("position", util.ShortID(pos.ID))

	r.mu.Lock()
	r.pos = pos
	r.mu.Unlock()

	fills, err := r.executor.Open(ctx, pos.ID, pos.Expiry, r.legsCopy(pos))
	if err != nil {
		r.setError(err)
		r.mu.Lock()
		discardErr := pos.Discard(r.clock.Now())
		r.pos = nil
		r.mu.Unlock()
		if discardErr != nil {
			log.WithError(discardErr).Error("failed to discard position")
		}
		log.WithError(err).Error("entry failed, position discarded")
		r.notify(ctx, notify.EventError, fmt.Sprintf("entry failed: %v", err), nil)
		if broker.Classify(err) == broker.OutcomeAuthExpired {
			r.sessionExpired(ctx, err)
		}
		return
	}

	r.mu.Lock()
	for i, f := range fills {
		leg := &pos.Legs[i]
		if f.Price > 0 {
			leg.EntryPrice = f.Price
			leg.CurrentPrice = f.Price
		}
		leg.EntryOrderID = f.OrderID
	}
	stateErr := pos.TransitionState(models.StateOpen, models.ConditionLegsFilled, r.clock.Now())
	r.day.Entries++
	r.day.HasOpen = true
	snapshot := pos.Snapshot()
	r.mu.Unlock()

	if stateErr != nil {
		log.WithError(stateErr).Error("failed to mark position open")
	}
	r.persist(ctx, pos)
	metrics.OpenPositions.WithLabelValues(r.id).Set(1)

	credit := snapshot.EntryPremium()
	log.WithFields(logrus.Fields{"legs": snapshot.Describe(), "credit": fmt.Sprintf("%.2f", credit)}).Info("position opened")
	r.notify(ctx, notify.EventEntry, fmt.Sprintf("opened for net credit %.2f (spot %.2f)", credit, d.Spot), snapshot)
}

// blockedWithoutMarket reports whether the gate already refuses for reasons market data
// cannot change.
func blockedWithoutMarket(d strategy.EntryDecision) bool {
	for _, f := range d.Failures {
		switch f.Reason {
		case strategy.RejectVixFilter, strategy.RejectQuoteUnavailable, strategy.RejectPremiumTooLow:
		default:
			return true
		}
	}
	return false
}

func (r *Runner) recordDecision(d strategy.EntryDecision) {
	result := "allowed"
	if !d.Allowed && len(d.Failures) > 0 {
		result = string(d.Failures[0].Reason)
	}
	metrics.EntryDecisions.WithLabelValues(r.id, result).Inc()

	r.mu.Lock()
	r.lastDecision = d.Summary()
	r.mu.Unlock()
}

func (r *Runner) entryDataError(ctx context.Context, err error) {
	r.setError(err)
	if broker.Classify(err) == broker.OutcomeAuthExpired {
		r.sessionExpired(ctx, err)
		return
	}
	r.logger.WithError(err).Warn("market data unavailable, skipping entry check")
}

// sessionExpired halts entries and notifies once until the session is updated.
func (r *Runner) sessionExpired(ctx context.Context, err error) {
	r.mu.Lock()
	r.authExpired = true
	first := !r.authNotified
	r.authNotified = true
	r.mu.Unlock()

	if !first {
		return
	}
	r.logger.WithError(err).Error("gateway session expired, entries halted")
	r.notify(ctx, notify.EventError, "gateway session expired: update the session token to resume entries", nil)
}

func (r *Runner) applyCloseFills(pos *models.Position, fills map[int]broker.Fill) {
	for i, f := range fills {
		pos.CloseLeg(i, f.Price, f.OrderID)
	}
}

func (r *Runner) legsCopy(pos *models.Position) []models.Leg {
	r.mu.Lock()
	defer r.mu.Unlock()
	legs := make([]models.Leg, len(pos.Legs))
	copy(legs, pos.Legs)
	return legs
}

func (r *Runner) persist(ctx context.Context, pos *models.Position) {
	r.mu.Lock()
	snapshot := pos.Snapshot()
	r.mu.Unlock()
	if err := r.store.SaveOpenPosition(ctx, snapshot); err != nil {
		r.setError(err)
		r.logger.WithError(err).WithField("position", util.ShortID(pos.ID)).Error("failed to persist open position")
	}
}

func (r *Runner) notify(ctx context.Context, typ notify.EventType, msg string, pos *models.Position) {
	ev := notify.Event{Type: typ, Strategy: r.id, Message: msg, Position: pos, Time: r.clock.Now()}
	if err := r.notifier.Notify(context.WithoutCancel(ctx), ev); err != nil {
		r.logger.WithError(err).WithField("event", string(typ)).Warn("notification failed")
	}
}

func (r *Runner) setError(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	r.lastErr = err.Error()
	r.mu.Unlock()
}

// fetch runs one gateway call under the retry policy. Per-call timeouts belong to the
// gateway chain (broker.ThrottledGateway).
func fetch[T any](ctx context.Context, r *Runner, op string, fn func(context.Context) (T, error)) (T, error) {
	return retry.Do(ctx, r.retrier, op, fn)
}

func (r *Runner) fetchFloat(ctx context.Context, op string, fn func(context.Context) (float64, error)) (float64, error) {
	return fetch(ctx, r, op, fn)
}

// fetchSnapshot reads spot, VIX and a quote for every open leg. A leg whose quote is
// unavailable is left out of the snapshot; an expired session or exhausted retries fail the
// whole snapshot.
func (r *Runner) fetchSnapshot(ctx context.Context, pos *models.Position, now time.Time) (models.MarketSnapshot, error) {
	snap := models.MarketSnapshot{Time: now, Quotes: make(map[models.LegKey]float64)}

	spot, err := r.fetchFloat(ctx, "GetSpot", r.gw.GetSpot)
	if err != nil {
		return snap, err
	}
	snap.Spot = spot

	if vix, err := r.fetchFloat(ctx, "GetVIX", r.gw.GetVIX); err == nil {
		snap.VIX = vix
	} else if broker.Classify(err) == broker.OutcomeAuthExpired {
		return snap, err
	}

	for _, leg := range r.legsCopy(pos) {
		if leg.Closed {
			continue
		}
		key := leg.Key()
		price, err := fetch(ctx, r, "GetOptionQuote", func(ctx context.Context) (float64, error) {
			return r.gw.GetOptionQuote(ctx, key.Strike, key.Type, pos.Expiry)
		})
		if err != nil {
			if broker.Classify(err) == broker.OutcomeQuoteUnavailable {
				continue
			}
			return snap, fmt.Errorf("quote %s: %w", key, err)
		}
		snap.Quotes[key] = price
	}
	return snap, nil
}

// gatewaySource prices entry candidates from the live gateway for one expiry.
type gatewaySource struct {
	r      *Runner
	expiry time.Time
}

func (s *gatewaySource) Premium(ctx context.Context, key models.LegKey) (float64, error) {
	return fetch(ctx, s.r, "GetOptionQuote", func(ctx context.Context) (float64, error) {
		return s.r.gw.GetOptionQuote(ctx, key.Strike, key.Type, s.expiry)
	})
}

func (s *gatewaySource) OpenInterest(ctx context.Context) (map[models.LegKey]int64, error) {
	chain, err := fetch(ctx, s.r, "GetOptionChain", func(ctx context.Context) ([]broker.ChainEntry, error) {
		return s.r.gw.GetOptionChain(ctx, s.expiry)
	})
	if err != nil {
		return nil, err
	}
	_, oi := broker.ChainQuotes(chain)
	return oi, nil
}

var _ strategy.MarketSource = (*gatewaySource)(nil)
