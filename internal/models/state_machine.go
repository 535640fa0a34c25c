// Package models provides data structures and state management for option positions.
package models

import (
	"fmt"
	"time"
)

// PositionState represents the current lifecycle state of a position
type PositionState string

const (
	StatePendingEntry PositionState = "PENDING_ENTRY" // Legs being placed
	StateOpen         PositionState = "OPEN"          // All legs filled, under monitoring
	StateAdjusted     PositionState = "ADJUSTED"      // One side closed, remaining side monitored
	StateClosing      PositionState = "CLOSING"       // Exit decided, close orders in flight
	StateClosed       PositionState = "CLOSED"        // Terminal
)

// Transition conditions
const (
	ConditionLegsFilled    = "legs_filled"
	ConditionEntryFailed   = "entry_failed"
	ConditionLegAdjusted   = "leg_adjusted"
	ConditionExitTriggered = "exit_triggered"
	ConditionLegsClosed    = "legs_closed"
)

// StateTransition defines valid state transitions
type StateTransition struct {
	From        PositionState
	To          PositionState
	Condition   string
	Description string
}

// ValidTransitions is the complete lifecycle table. CLOSED has no outgoing edges.
var ValidTransitions = []StateTransition{
	{StatePendingEntry, StateOpen, ConditionLegsFilled, "All legs filled"},
	{StatePendingEntry, StateClosed, ConditionEntryFailed, "Entry failed, filled legs unwound and position discarded"},
	{StateOpen, StateAdjusted, ConditionLegAdjusted, "Losing side closed, winning side kept"},
	{StateOpen, StateClosing, ConditionExitTriggered, "Exit decision issued"},
	{StateAdjusted, StateClosing, ConditionExitTriggered, "Exit decision issued after adjustment"},
	{StateClosing, StateClosed, ConditionLegsClosed, "All legs closed"},
}

// StateMachine manages position state transitions
type StateMachine struct {
	transitionTime  time.Time
	transitionCount map[PositionState]int
	currentState    PositionState
	previousState   PositionState
	maxAdjustments  int
}

// NewStateMachine creates a new state machine in PENDING_ENTRY
func NewStateMachine() *StateMachine {
	return NewStateMachineFromState(StatePendingEntry)
}

// NewStateMachineFromState rebuilds a machine for a persisted position.
func NewStateMachineFromState(state PositionState) *StateMachine {
	if state == "" {
		state = StatePendingEntry
	}
	sm := &StateMachine{
		currentState:    state,
		previousState:   state,
		transitionTime:  time.Now().UTC(),
		transitionCount: make(map[PositionState]int),
		maxAdjustments:  1, // One adjustment per position
	}
	if state == StateAdjusted {
		sm.transitionCount[StateAdjusted] = 1
	}
	return sm
}

// GetCurrentState returns the current state
func (sm *StateMachine) GetCurrentState() PositionState {
	return sm.currentState
}

// GetPreviousState returns the previous state
func (sm *StateMachine) GetPreviousState() PositionState {
	return sm.previousState
}

// IsValidTransition checks if a transition is valid
func (sm *StateMachine) IsValidTransition(to PositionState, condition string) error {
	if !sm.isTransitionDefined(to, condition) {
		return fmt.Errorf("invalid transition from %s to %s with condition '%s'",
			sm.currentState, to, condition)
	}

	return sm.validateTransitionLimits(to)
}

func (sm *StateMachine) isTransitionDefined(to PositionState, condition string) bool {
	for _, transition := range ValidTransitions {
		if transition.From == sm.currentState && transition.To == to && transition.Condition == condition {
			return true
		}
	}
	return false
}

func (sm *StateMachine) validateTransitionLimits(to PositionState) error {
	if to == StateAdjusted && sm.transitionCount[StateAdjusted] >= sm.maxAdjustments {
		return fmt.Errorf("maximum adjustments (%d) exceeded", sm.maxAdjustments)
	}
	return nil
}

// Transition moves to a new state
func (sm *StateMachine) Transition(to PositionState, condition string) error {
	if err := sm.IsValidTransition(to, condition); err != nil {
		return err
	}

	sm.previousState = sm.currentState
	sm.currentState = to
	sm.transitionTime = time.Now().UTC()
	sm.transitionCount[to]++
	return nil
}

// GetTransitionCount returns how many times we've entered a state
func (sm *StateMachine) GetTransitionCount(state PositionState) int {
	return sm.transitionCount[state]
}

// IsTerminal reports whether no further transition is possible.
func (sm *StateMachine) IsTerminal() bool {
	return sm.currentState == StateClosed
}

// IsActive reports whether the position holds (or is closing) live legs.
func (sm *StateMachine) IsActive() bool {
	switch sm.currentState {
	case StateOpen, StateAdjusted, StateClosing:
		return true
	default:
		return false
	}
}

// CanAdjust returns true if an adjustment is still allowed
func (sm *StateMachine) CanAdjust() bool {
	return sm.currentState == StateOpen && sm.transitionCount[StateAdjusted] < sm.maxAdjustments
}

// GetStateDescription returns a human-readable description of the current state
func (sm *StateMachine) GetStateDescription() string {
	switch sm.currentState {
	case StatePendingEntry:
		return "Placing entry legs"
	case StateOpen:
		return "All legs open, monitoring target/stop/trailing/time exit"
	case StateAdjusted:
		return "Losing side closed, remaining side monitored on its own premium"
	case StateClosing:
		return "Exit decided, closing remaining legs"
	case StateClosed:
		return "Position closed"
	default:
		return "Unknown state"
	}
}

// Copy creates a deep copy of the StateMachine
func (sm *StateMachine) Copy() *StateMachine {
	if sm == nil {
		return nil
	}

	newSM := &StateMachine{
		currentState:   sm.currentState,
		previousState:  sm.previousState,
		transitionTime: sm.transitionTime,
		maxAdjustments: sm.maxAdjustments,
	}

	newSM.transitionCount = make(map[PositionState]int, len(sm.transitionCount))
	for k, v := range sm.transitionCount {
		newSM.transitionCount[k] = v
	}

	return newSM
}
