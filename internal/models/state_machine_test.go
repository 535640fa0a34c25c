package models

import (
	"testing"
)

func TestStateMachine_BasicTransitions(t *testing.T) {
	sm := NewStateMachine()

	if sm.GetCurrentState() != StatePendingEntry {
		t.Errorf("Initial state should be StatePendingEntry, got %s", sm.GetCurrentState())
	}

	err := sm.Transition(StateOpen, ConditionLegsFilled)
	if err != nil {
		t.Errorf("Valid transition failed: %v", err)
	}

	if sm.GetCurrentState() != StateOpen {
		t.Errorf("State should be StateOpen, got %s", sm.GetCurrentState())
	}

	if sm.GetPreviousState() != StatePendingEntry {
		t.Errorf("Previous state should be StatePendingEntry, got %s", sm.GetPreviousState())
	}
}

func TestStateMachine_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name      string
		path      []PositionState
		to        PositionState
		condition string
	}{
		{"pending straight to closing", nil, StateClosing, ConditionExitTriggered},
		{"open with wrong condition", []PositionState{StateOpen}, StateClosing, ConditionLegsClosed},
		{"open back to pending", []PositionState{StateOpen}, StatePendingEntry, ""},
		{"closing back to open", []PositionState{StateOpen, StateClosing}, StateOpen, ConditionLegsFilled},
	}

	conditions := map[PositionState]string{
		StateOpen:     ConditionLegsFilled,
		StateAdjusted: ConditionLegAdjusted,
		StateClosing:  ConditionExitTriggered,
		StateClosed:   ConditionLegsClosed,
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewStateMachine()
			for _, s := range tt.path {
				if err := sm.Transition(s, conditions[s]); err != nil {
					t.Fatalf("setup transition to %s failed: %v", s, err)
				}
			}
			before := sm.GetCurrentState()
			if err := sm.Transition(tt.to, tt.condition); err == nil {
				t.Errorf("transition %s -> %s should fail", before, tt.to)
			}
			if sm.GetCurrentState() != before {
				t.Errorf("state changed after failed transition: %s", sm.GetCurrentState())
			}
		})
	}
}

func TestStateMachine_FullLifecycleWithAdjustment(t *testing.T) {
	sm := NewStateMachine()

	transitions := []struct {
		to        PositionState
		condition string
	}{
		{StateOpen, ConditionLegsFilled},
		{StateAdjusted, ConditionLegAdjusted},
		{StateClosing, ConditionExitTriggered},
		{StateClosed, ConditionLegsClosed},
	}

	for _, tr := range transitions {
		if err := sm.Transition(tr.to, tr.condition); err != nil {
			t.Fatalf("Transition to %s failed: %v", tr.to, err)
		}
	}

	if !sm.IsTerminal() {
		t.Error("CLOSED should be terminal")
	}
	if sm.IsActive() {
		t.Error("CLOSED should not be active")
	}
}

func TestStateMachine_ClosedIsTerminal(t *testing.T) {
	sm := NewStateMachine()
	if err := sm.Transition(StateClosed, ConditionEntryFailed); err != nil {
		t.Fatalf("discarding a pending entry should be allowed: %v", err)
	}

	for _, to := range []PositionState{StatePendingEntry, StateOpen, StateAdjusted, StateClosing, StateClosed} {
		for _, cond := range []string{"", ConditionLegsFilled, ConditionLegAdjusted, ConditionExitTriggered, ConditionLegsClosed} {
			if err := sm.Transition(to, cond); err == nil {
				t.Errorf("CLOSED -> %s (%q) should be rejected", to, cond)
			}
		}
	}
}

func TestStateMachine_SingleAdjustment(t *testing.T) {
	sm := NewStateMachineFromState(StateAdjusted)

	if sm.CanAdjust() {
		t.Error("a restored ADJUSTED machine must not allow another adjustment")
	}
	if sm.GetTransitionCount(StateAdjusted) != 1 {
		t.Errorf("expected adjustment count 1, got %d", sm.GetTransitionCount(StateAdjusted))
	}

	fresh := NewStateMachine()
	if fresh.CanAdjust() {
		t.Error("PENDING_ENTRY cannot adjust")
	}
	_ = fresh.Transition(StateOpen, ConditionLegsFilled)
	if !fresh.CanAdjust() {
		t.Error("OPEN should allow one adjustment")
	}
}

func TestStateMachine_Copy(t *testing.T) {
	sm := NewStateMachine()
	_ = sm.Transition(StateOpen, ConditionLegsFilled)

	cp := sm.Copy()
	_ = sm.Transition(StateClosing, ConditionExitTriggered)

	if cp.GetCurrentState() != StateOpen {
		t.Errorf("copy should be independent, got %s", cp.GetCurrentState())
	}
	if cp.GetTransitionCount(StateClosing) != 0 {
		t.Error("copy transition counts should be independent")
	}

	var nilSM *StateMachine
	if nilSM.Copy() != nil {
		t.Error("copy of nil should be nil")
	}
}
