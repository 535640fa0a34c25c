package models

import (
	"fmt"
	"strings"
	"time"
)

// Position is a live or simulated multi-leg holding for one strategy and one expiry.
type Position struct {
	StateMachine   *StateMachine `json:"-"`     // Runtime only, excluded from JSON
	State          PositionState `json:"state"` // Canonical persisted state
	ID             string        `json:"id"`
	StrategyID     string        `json:"strategy_id"`
	Legs           []Leg         `json:"legs"`
	Expiry         time.Time     `json:"expiry"`
	EntryTime      time.Time     `json:"entry_time,omitempty"`
	ExitTime       time.Time     `json:"exit_time,omitempty"`
	LastMarked     time.Time     `json:"last_marked,omitempty"`
	EntrySpot      float64       `json:"entry_spot"`
	PeakProfitPct  float64       `json:"peak_profit_pct"`
	TrailingActive bool          `json:"trailing_active"`
	Adjusted       bool          `json:"adjusted"`
	Ambiguous      bool          `json:"ambiguous,omitempty"`
	ExitReason     ExitReason    `json:"exit_reason,omitempty"`
	RealizedPnL    float64       `json:"realized_pnl"`
	DayKey         string        `json:"day_key"`
}

// NewPosition creates a PENDING_ENTRY position with an initialized state machine.
// Legs are copied; the caller's slice is not retained.
func NewPosition(id, strategyID string, legs []Leg, expiry time.Time, dayKey string) *Position {
	owned := make([]Leg, len(legs))
	copy(owned, legs)
	return &Position{
		ID:           id,
		StrategyID:   strategyID,
		Legs:         owned,
		Expiry:       expiry,
		DayKey:       dayKey,
		State:        StatePendingEntry,
		StateMachine: NewStateMachine(),
	}
}

// TransitionState moves the position to a new state.
func (p *Position) TransitionState(to PositionState, condition string, at time.Time) error {
	if err := p.ensureMachine().Transition(to, condition); err != nil {
		return fmt.Errorf("position %s state transition failed: %w", p.ID, err)
	}

	p.State = to

	if to == StateOpen && p.EntryTime.IsZero() {
		p.EntryTime = at
	}
	if to == StateAdjusted {
		p.Adjusted = true
	}
	if to == StateClosed && p.ExitTime.IsZero() {
		p.ExitTime = at
	}
	return nil
}

// ensureMachine ensures the StateMachine is initialized from persisted state
func (p *Position) ensureMachine() *StateMachine {
	if p.StateMachine == nil {
		p.StateMachine = NewStateMachineFromState(p.State)
	}
	return p.StateMachine
}

// IsClosed reports whether the position reached its terminal state.
func (p *Position) IsClosed() bool {
	return p.State == StateClosed
}

// IsActive reports whether the position holds (or is closing) live legs.
func (p *Position) IsActive() bool {
	return p.ensureMachine().IsActive()
}

// CanAdjust returns true if the one allowed adjustment has not been used.
func (p *Position) CanAdjust() bool {
	return !p.Adjusted && p.ensureMachine().CanAdjust()
}

// GetStateDescription returns a human-readable state description
func (p *Position) GetStateDescription() string {
	return p.ensureMachine().GetStateDescription()
}

// Quantity returns units per leg.
func (p *Position) Quantity() int {
	if len(p.Legs) == 0 {
		return 0
	}
	return p.Legs[0].Quantity
}

// OpenLegs returns indices of legs not yet closed.
func (p *Position) OpenLegs() []int {
	idx := make([]int, 0, len(p.Legs))
	for i := range p.Legs {
		if !p.Legs[i].Closed {
			idx = append(idx, i)
		}
	}
	return idx
}

// EntryPremium is the net credit per unit across open legs.
func (p *Position) EntryPremium() float64 {
	var total float64
	for _, l := range p.Legs {
		if !l.Closed {
			total += l.Sign() * l.EntryPrice
		}
	}
	return total
}

// CurrentPremium is the net cost per unit to buy back the open legs.
func (p *Position) CurrentPremium() float64 {
	var total float64
	for _, l := range p.Legs {
		if !l.Closed {
			total += l.Sign() * l.CurrentPrice
		}
	}
	return total
}

// ProfitPct is the unrealized profit of the open legs as a percentage of their entry credit.
// ok is false when there is no positive credit to measure against.
func (p *Position) ProfitPct() (pct float64, ok bool) {
	entry := p.EntryPremium()
	if entry <= 0 {
		return 0, false
	}
	return (entry - p.CurrentPremium()) / entry * 100, true
}

// SideProfitPct is ProfitPct restricted to the open legs of one option type.
func (p *Position) SideProfitPct(typ OptionType) (pct float64, ok bool) {
	var entry, current float64
	var open bool
	for _, l := range p.Legs {
		if l.Closed || l.OptionType != typ {
			continue
		}
		open = true
		entry += l.Sign() * l.EntryPrice
		current += l.Sign() * l.CurrentPrice
	}
	if !open || entry <= 0 {
		return 0, false
	}
	return (entry - current) / entry * 100, true
}

// SideLegs returns indices of open legs of one option type.
func (p *Position) SideLegs(typ OptionType) []int {
	var idx []int
	for i, l := range p.Legs {
		if !l.Closed && l.OptionType == typ {
			idx = append(idx, i)
		}
	}
	return idx
}

// UnrealizedPnL is the money P&L of the open legs.
func (p *Position) UnrealizedPnL() float64 {
	var total float64
	for _, l := range p.Legs {
		if !l.Closed {
			total += l.PnL()
		}
	}
	return total
}

// TotalPnL is realized plus unrealized money P&L.
func (p *Position) TotalPnL() float64 {
	return p.RealizedPnL + p.UnrealizedPnL()
}

// MarkToMarket applies quotes to open legs and returns the keys that had no usable quote.
// A closed position is never touched.
func (p *Position) MarkToMarket(quotes map[LegKey]float64, at time.Time) []LegKey {
	if p.IsClosed() {
		return nil
	}
	var missing []LegKey
	for i := range p.Legs {
		leg := &p.Legs[i]
		if leg.Closed {
			continue
		}
		if !leg.Mark(quotes[leg.Key()]) {
			missing = append(missing, leg.Key())
		}
	}
	if len(missing) == 0 {
		p.LastMarked = at
	}
	return missing
}

// CloseLeg closes one leg at price and books its P&L. No-op on a closed position or leg.
func (p *Position) CloseLeg(i int, price float64, orderID string) {
	if p.IsClosed() || i < 0 || i >= len(p.Legs) || p.Legs[i].Closed {
		return
	}
	p.Legs[i].Close(price, orderID)
	p.RealizedPnL += p.Legs[i].PnL()
}

// BeginExit moves an OPEN or ADJUSTED position to CLOSING and records why.
// Calling it again while CLOSING keeps the first reason.
func (p *Position) BeginExit(reason ExitReason, ambiguous bool, at time.Time) error {
	if p.State == StateClosing {
		return nil
	}
	if err := p.TransitionState(StateClosing, ConditionExitTriggered, at); err != nil {
		return err
	}
	p.ExitReason = reason
	p.Ambiguous = ambiguous
	return nil
}

// FinishExit closes a CLOSING position once every leg is flat and reports whether it is closed.
func (p *Position) FinishExit(at time.Time) (bool, error) {
	if p.IsClosed() {
		return true, nil
	}
	if p.State != StateClosing || len(p.OpenLegs()) > 0 {
		return false, nil
	}
	if err := p.TransitionState(StateClosed, ConditionLegsClosed, at); err != nil {
		return false, err
	}
	return true, nil
}

// Discard closes a PENDING_ENTRY position whose legs could not all be filled.
func (p *Position) Discard(at time.Time) error {
	return p.TransitionState(StateClosed, ConditionEntryFailed, at)
}

// Snapshot returns a deep copy safe to hand to readers outside the owner's lock.
func (p *Position) Snapshot() *Position {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Legs = make([]Leg, len(p.Legs))
	copy(cp.Legs, p.Legs)
	cp.StateMachine = p.ensureMachine().Copy()
	return &cp
}

// Describe renders the legs compactly, e.g. "SELL 22200CE x65, BUY 22400CE x65".
func (p *Position) Describe() string {
	parts := make([]string, 0, len(p.Legs))
	for _, l := range p.Legs {
		parts = append(parts, l.String())
	}
	return strings.Join(parts, ", ")
}

// ValidateState ensures the position data is consistent with its state.
func (p *Position) ValidateState() error {
	if len(p.Legs) != 2 && len(p.Legs) != 4 {
		return fmt.Errorf("position %s: expected 2 or 4 legs, got %d", p.ID, len(p.Legs))
	}
	for i, l := range p.Legs {
		if l.Quantity <= 0 {
			return fmt.Errorf("position %s leg %d: quantity must be > 0", p.ID, i)
		}
		if l.EntryPrice < 0 {
			return fmt.Errorf("position %s leg %d: entry price cannot be negative", p.ID, i)
		}
	}

	switch p.State {
	case StatePendingEntry:
		if !p.EntryTime.IsZero() || !p.ExitTime.IsZero() {
			return fmt.Errorf("position %s in state %s: entry/exit times must be zero", p.ID, p.State)
		}
	case StateOpen, StateAdjusted, StateClosing:
		if p.EntryTime.IsZero() {
			return fmt.Errorf("position %s in state %s: EntryTime must be set", p.ID, p.State)
		}
		if !p.ExitTime.IsZero() {
			return fmt.Errorf("position %s in state %s: ExitTime must be zero for non-closed positions", p.ID, p.State)
		}
		if p.State == StateAdjusted && !p.Adjusted {
			return fmt.Errorf("position %s in state %s: Adjusted flag must be set", p.ID, p.State)
		}
		if p.State == StateOpen && len(p.OpenLegs()) != len(p.Legs) {
			return fmt.Errorf("position %s in state %s: all legs must be open", p.ID, p.State)
		}
	case StateClosed:
		if p.ExitTime.IsZero() {
			return fmt.Errorf("position %s in state %s: ExitTime must be set", p.ID, p.State)
		}
		if !p.EntryTime.IsZero() {
			if len(p.OpenLegs()) != 0 {
				return fmt.Errorf("position %s in state %s: all legs must be closed", p.ID, p.State)
			}
			if p.ExitReason == ExitNone {
				return fmt.Errorf("position %s in state %s: ExitReason must be set", p.ID, p.State)
			}
			if p.ExitTime.Before(p.EntryTime) {
				return fmt.Errorf("position %s in state %s: EntryTime (%v) must not be after ExitTime (%v)",
					p.ID, p.State, p.EntryTime, p.ExitTime)
			}
		}
	default:
		return fmt.Errorf("position %s: unknown state %q", p.ID, p.State)
	}
	return nil
}
