// Package monitor runs the live position lifecycle: one Runner per strategy variant polls
// the gateway, feeds the entry gate and exit evaluator, and executes their decisions.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/nifty_condor/internal/broker"
	"github.com/eddiefleurent/nifty_condor/internal/calendar"
	"github.com/eddiefleurent/nifty_condor/internal/clock"
	"github.com/eddiefleurent/nifty_condor/internal/config"
	"github.com/eddiefleurent/nifty_condor/internal/models"
	"github.com/eddiefleurent/nifty_condor/internal/notify"
	"github.com/eddiefleurent/nifty_condor/internal/orders"
	"github.com/eddiefleurent/nifty_condor/internal/retry"
	"github.com/eddiefleurent/nifty_condor/internal/storage"
	"github.com/eddiefleurent/nifty_condor/internal/strategy"
)

// ErrAlreadyRunning is returned by Run and Start when the loop is active.
var ErrAlreadyRunning = errors.New("runner already running")

// Deps wires a Runner. Gateway, Storage and Calendar are required.
type Deps struct {
	Strategy     config.StrategyConfig
	Instrument   config.InstrumentConfig
	PollInterval time.Duration
	Calendar     *calendar.Calendar
	Gateway      broker.Gateway
	Retrier      *retry.Retrier
	Storage      storage.Interface
	Notifier     notify.Notifier
	Clock        clock.Clock
	Logger       *logrus.Entry
}

// Runner is the context object for one strategy: its configuration, collaborators and the
// position it manages. Cycles are serialized; readers use View.
type Runner struct {
	id       string
	cfg      config.StrategyConfig
	poll     time.Duration
	cal      *calendar.Calendar
	gw       broker.Gateway
	retrier  *retry.Retrier
	executor *orders.Executor
	gate     *strategy.EntryGate
	eval     *strategy.Evaluator
	store    storage.Interface
	notifier notify.Notifier
	clock    clock.Clock
	logger   *logrus.Entry

	// cycleMu is held for a whole cycle or forced close; RunCycle skips instead of waiting.
	cycleMu sync.Mutex

	mu           sync.Mutex
	pos          *models.Position
	day          models.DayState
	restored     bool
	running      bool
	stopCh       chan struct{}
	startCh      chan struct{}
	authExpired  bool
	authNotified bool
	lastCycle    time.Time
	lastSpot     float64
	lastVIX      float64
	lastDecision string
	lastErr      string
}

// NewRunner builds a runner. It panics when a required dependency is missing.
func NewRunner(d Deps) *Runner {
	if d.Gateway == nil {
		panic("monitor.NewRunner: gateway must not be nil")
	}
	if d.Storage == nil {
		panic("monitor.NewRunner: storage must not be nil")
	}
	if d.Calendar == nil {
		panic("monitor.NewRunner: calendar must not be nil")
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Logger == nil {
		d.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if d.PollInterval <= 0 {
		d.PollInterval = 30 * time.Second
	}
	logger := d.Logger.WithField("strategy", d.Strategy.ID())
	if d.Notifier == nil {
		d.Notifier = notify.NewLogNotifier(logger)
	}
	if d.Retrier == nil {
		d.Retrier = retry.New(retry.DefaultConfig, d.Clock, logger)
	}

	return &Runner{
		id:       d.Strategy.ID(),
		cfg:      d.Strategy,
		poll:     d.PollInterval,
		cal:      d.Calendar,
		gw:       d.Gateway,
		retrier:  d.Retrier,
		executor: orders.NewExecutor(d.Gateway, d.Retrier, logger),
		gate:     strategy.NewEntryGate(d.Strategy, d.Instrument, d.Calendar),
		eval:     strategy.NewEvaluator(d.Strategy),
		store:    d.Storage,
		notifier: d.Notifier,
		clock:    d.Clock,
		logger:   logger,
		startCh:  make(chan struct{}, 1),
	}
}

// ID returns the strategy id the runner trades.
func (r *Runner) ID() string {
	return r.id
}

// Run cycles until ctx ends or Stop is called. The first call restores any persisted open
// position. Waiting between cycles uses the injected clock.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.running = true
	stop := make(chan struct{})
	r.stopCh = stop
	restore := !r.restored
	r.restored = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		if r.stopCh == stop {
			r.stopCh = nil
		}
		r.mu.Unlock()
	}()

	if restore {
		if err := r.Restore(ctx); err != nil {
			r.logger.WithError(err).Error("failed to restore open position")
		}
	}

	r.logger.WithField("poll_interval", r.poll).Info("strategy runner started")
	for {
		r.RunCycle(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info("strategy runner stopped: context done")
			return nil
		case <-stop:
			r.logger.Info("strategy runner stopped")
			return nil
		case <-r.clock.After(r.poll):
		}
	}
}

// Restore loads the persisted open position, if any.
func (r *Runner) Restore(ctx context.Context) error {
	pos, err := r.store.LoadOpenPosition(ctx, r.id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if pos.IsClosed() {
		return r.store.ClearOpenPosition(ctx, r.id)
	}

	r.mu.Lock()
	r.pos = pos
	r.day.HasOpen = true
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"position": pos.ID,
		"state":    pos.State,
		"legs":     pos.Describe(),
	}).Info("restored open position")
	return nil
}

// Stop ends the loop after the current cycle. With force, an open position is closed with
// reason MANUAL before Stop returns.
func (r *Runner) Stop(ctx context.Context, force bool) error {
	r.mu.Lock()
	stop := r.stopCh
	r.stopCh = nil
	r.mu.Unlock()
	if stop != nil {
		close(stop)
	}

	if force {
		return r.ForceClose(ctx)
	}
	return nil
}

// Start asks the supervisor to resume a stopped loop.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running && r.stopCh != nil {
		return ErrAlreadyRunning
	}
	select {
	case r.startCh <- struct{}{}:
	default:
	}
	return nil
}

// started fires when Start is called.
func (r *Runner) started() <-chan struct{} {
	return r.startCh
}

// ForceClose closes the open position, if any, with reason MANUAL. It waits for an
// in-flight cycle to finish first.
func (r *Runner) ForceClose(ctx context.Context) error {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	pos := r.position()
	if pos == nil || pos.IsClosed() {
		return nil
	}
	now := r.clock.Now()
	r.logger.WithField("position", pos.ID).Warn("force closing position")
	if pos.State != models.StateClosing {
		if err := r.beginExit(ctx, pos, models.ExitManual, false, now); err != nil {
			return err
		}
	}
	return r.closeRemaining(ctx, pos)
}

// UpdateSession replaces the gateway session token and re-enables entries.
func (r *Runner) UpdateSession(ctx context.Context, token string) error {
	if err := RefreshSession(ctx, r.gw, token); err != nil {
		return err
	}
	r.SessionRestored()
	return nil
}

// RefreshSession hands token to gw when it supports session refresh.
func RefreshSession(ctx context.Context, gw broker.Gateway, token string) error {
	refresher, ok := gw.(broker.SessionRefresher)
	if !ok {
		return fmt.Errorf("gateway does not support session updates")
	}
	return refresher.UpdateSession(ctx, token)
}

// SessionRestored clears the expired-session halt.
func (r *Runner) SessionRestored() {
	r.mu.Lock()
	was := r.authExpired
	r.authExpired = false
	r.authNotified = false
	r.mu.Unlock()
	if was {
		r.logger.Info("gateway session restored, entries resumed")
	}
}

func (r *Runner) position() *models.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos
}

// View is a point-in-time copy of a runner's state for the query surface.
type View struct {
	Strategy       string            `json:"strategy"`
	Kind           string            `json:"kind"`
	Running        bool              `json:"running"`
	AuthExpired    bool              `json:"auth_expired"`
	Position       *models.Position  `json:"position,omitempty"`
	Day            models.DayState   `json:"day"`
	ProfitPct      *float64          `json:"profit_pct,omitempty"`
	TargetPct      float64           `json:"target_pct"`
	StopLossPct    float64           `json:"stop_loss_pct"`
	TrailingActive bool              `json:"trailing_active"`
	TrailStopPct   *float64          `json:"trail_stop_pct,omitempty"`
	EntryWindow    string            `json:"entry_window"`
	ExitTime       string            `json:"exit_time"`
	Spot           float64           `json:"spot"`
	VIX            float64           `json:"vix"`
	LastCycle      time.Time         `json:"last_cycle"`
	LastDecision   string            `json:"last_decision,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
	ExitReason     models.ExitReason `json:"exit_reason,omitempty"`
}

// View snapshots the runner.
func (r *Runner) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := View{
		Strategy:     r.id,
		Kind:         string(r.cfg.Kind),
		Running:      r.running && r.stopCh != nil,
		AuthExpired:  r.authExpired,
		Day:          r.day,
		TargetPct:    r.cfg.TargetPct,
		StopLossPct:  r.cfg.StopLossPct,
		EntryWindow:  fmt.Sprintf("%s-%s", r.cfg.EntryStart, r.cfg.EntryEnd),
		ExitTime:     r.cfg.ExitTime.String(),
		Spot:         r.lastSpot,
		VIX:          r.lastVIX,
		LastCycle:    r.lastCycle,
		LastDecision: r.lastDecision,
		LastError:    r.lastErr,
	}
	if r.pos != nil {
		v.Position = r.pos.Snapshot()
		v.ExitReason = r.pos.ExitReason
		v.TrailingActive = r.pos.TrailingActive
		if pct, ok := r.pos.ProfitPct(); ok {
			v.ProfitPct = &pct
		}
		if r.pos.TrailingActive {
			stop := r.pos.PeakProfitPct - r.cfg.TrailOffsetPct
			v.TrailStopPct = &stop
		}
	}
	return v
}
