package models

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEntry = time.Date(2026, 3, 5, 9, 45, 0, 0, time.UTC)

// ironCondor builds a filled 4-leg position: credit 60 on calls (100-40) and 50 on puts (90-40).
func ironCondor(t *testing.T) *Position {
	t.Helper()
	legs := []Leg{
		{Side: SideSell, OptionType: OptionCall, Strike: 22200, Quantity: 65, EntryPrice: 100, CurrentPrice: 100},
		{Side: SideBuy, OptionType: OptionCall, Strike: 22400, Quantity: 65, EntryPrice: 40, CurrentPrice: 40},
		{Side: SideSell, OptionType: OptionPut, Strike: 21800, Quantity: 65, EntryPrice: 90, CurrentPrice: 90},
		{Side: SideBuy, OptionType: OptionPut, Strike: 21600, Quantity: 65, EntryPrice: 40, CurrentPrice: 40},
	}
	p := NewPosition("pos-1", "iron_condor", legs, testEntry.AddDate(0, 0, 1), DayKey(testEntry))
	require.NoError(t, p.TransitionState(StateOpen, ConditionLegsFilled, testEntry))
	return p
}

func quotes(prices map[LegKey]float64) map[LegKey]float64 { return prices }

func TestPosition_PremiumMath(t *testing.T) {
	p := ironCondor(t)

	assert.InDelta(t, 110.0, p.EntryPremium(), 1e-9)
	assert.InDelta(t, 110.0, p.CurrentPremium(), 1e-9)

	missing := p.MarkToMarket(quotes(map[LegKey]float64{
		{22200, OptionCall}: 60, {22400, OptionCall}: 25,
		{21800, OptionPut}: 50, {21600, OptionPut}: 30,
	}), testEntry.Add(time.Hour))
	require.Empty(t, missing)

	// current = (60-25)+(50-30) = 55 -> profit 50%
	pct, ok := p.ProfitPct()
	require.True(t, ok)
	assert.InDelta(t, 50.0, pct, 1e-9)
	assert.InDelta(t, 55.0*65, p.UnrealizedPnL(), 1e-6)
	assert.Equal(t, 65, p.Quantity())
}

func TestPosition_MissingQuotesReported(t *testing.T) {
	p := ironCondor(t)
	missing := p.MarkToMarket(map[LegKey]float64{
		{22200, OptionCall}: 60, {22400, OptionCall}: 0,
	}, testEntry.Add(time.Minute))

	assert.ElementsMatch(t, []LegKey{{22400, OptionCall}, {21800, OptionPut}, {21600, OptionPut}}, missing)
	assert.Equal(t, 40.0, p.Legs[1].CurrentPrice, "zero quote must not overwrite the last price")
	assert.True(t, p.LastMarked.IsZero(), "partial mark should not advance LastMarked")
}

func TestPosition_SideProfitAndAdjustment(t *testing.T) {
	p := ironCondor(t)
	p.MarkToMarket(map[LegKey]float64{
		{22200, OptionCall}: 160, {22400, OptionCall}: 70, // call side 90 vs 60 credit -> -50%
		{21800, OptionPut}: 30, {21600, OptionPut}: 15, // put side 15 vs 50 credit -> +70%
	}, testEntry.Add(time.Hour))

	callPct, ok := p.SideProfitPct(OptionCall)
	require.True(t, ok)
	assert.InDelta(t, -50.0, callPct, 1e-9)
	putPct, ok := p.SideProfitPct(OptionPut)
	require.True(t, ok)
	assert.InDelta(t, 70.0, putPct, 1e-9)

	for _, i := range p.SideLegs(OptionCall) {
		p.CloseLeg(i, p.Legs[i].CurrentPrice, "x")
	}
	require.NoError(t, p.TransitionState(StateAdjusted, ConditionLegAdjusted, testEntry.Add(time.Hour)))

	assert.True(t, p.Adjusted)
	assert.False(t, p.CanAdjust())
	assert.InDelta(t, -30.0*65, p.RealizedPnL, 1e-6)
	// remaining book is measured against its own credit
	assert.InDelta(t, 50.0, p.EntryPremium(), 1e-9)
	pct, ok := p.ProfitPct()
	require.True(t, ok)
	assert.InDelta(t, 70.0, pct, 1e-9)
	assert.Len(t, p.OpenLegs(), 2)
}

func TestPosition_ClosedIsImmutable(t *testing.T) {
	p := ironCondor(t)
	require.NoError(t, p.TransitionState(StateClosing, ConditionExitTriggered, testEntry.Add(time.Hour)))
	for _, i := range p.OpenLegs() {
		p.CloseLeg(i, p.Legs[i].CurrentPrice*0.5, "x")
	}
	p.ExitReason = ExitTarget
	require.NoError(t, p.TransitionState(StateClosed, ConditionLegsClosed, testEntry.Add(time.Hour)))
	require.NoError(t, p.ValidateState())

	before, err := json.Marshal(p)
	require.NoError(t, err)

	p.MarkToMarket(map[LegKey]float64{{22200, OptionCall}: 999}, testEntry.Add(2*time.Hour))
	p.CloseLeg(0, 1, "again")
	assert.Error(t, p.TransitionState(StateOpen, ConditionLegsFilled, testEntry.Add(2*time.Hour)))

	after, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestPosition_ProfitPctWithoutCredit(t *testing.T) {
	p := NewPosition("p", "s", []Leg{
		{Side: SideBuy, OptionType: OptionCall, Strike: 22000, Quantity: 65, EntryPrice: 10},
		{Side: SideBuy, OptionType: OptionPut, Strike: 22000, Quantity: 65, EntryPrice: 10},
	}, testEntry, DayKey(testEntry))
	_, ok := p.ProfitPct()
	assert.False(t, ok)
}

func TestPosition_SnapshotIsDeep(t *testing.T) {
	p := ironCondor(t)
	snap := p.Snapshot()
	p.Legs[0].CurrentPrice = 1
	assert.Equal(t, 100.0, snap.Legs[0].CurrentPrice)
	assert.Equal(t, StateOpen, snap.StateMachine.GetCurrentState())
}

func TestPosition_ValidateState(t *testing.T) {
	p := ironCondor(t)
	require.NoError(t, p.ValidateState())

	p.Legs[0].Closed = true
	assert.Error(t, p.ValidateState(), "OPEN with a closed leg is inconsistent")

	bad := NewPosition("p", "s", []Leg{{Side: SideSell, OptionType: OptionCall, Strike: 1, Quantity: 1}}, testEntry, "")
	assert.Error(t, bad.ValidateState(), "three-or-one leg books are not supported")
}

func TestPosition_RestoredFromJSON(t *testing.T) {
	p := ironCondor(t)
	data, err := json.Marshal(p)
	require.NoError(t, err)

	var restored Position
	require.NoError(t, json.Unmarshal(data, &restored))
	assert.Nil(t, restored.StateMachine)
	require.NoError(t, restored.TransitionState(StateClosing, ConditionExitTriggered, testEntry.Add(time.Hour)))
	assert.Equal(t, StateClosing, restored.State)
}

func TestLeg_PnLAndClose(t *testing.T) {
	short := Leg{Side: SideSell, OptionType: OptionPut, Strike: 21800, Quantity: 65, EntryPrice: 90, CurrentPrice: 90}
	short.Mark(60)
	assert.InDelta(t, 30.0*65, short.PnL(), 1e-9)

	short.Close(0, "o-1") // falls back to last price
	assert.True(t, short.Closed)
	assert.Equal(t, 60.0, short.ExitPrice)
	assert.False(t, short.Mark(10))
	short.Close(5, "o-2")
	assert.Equal(t, 60.0, short.ExitPrice)
	assert.Equal(t, "o-1", short.ExitOrderID)

	long := Leg{Side: SideBuy, OptionType: OptionCall, Strike: 22400, Quantity: 65, EntryPrice: 40, CurrentPrice: 40}
	long.Mark(50)
	assert.InDelta(t, 10.0*65, long.PnL(), 1e-9)
	assert.Equal(t, "BUY 22400CE x65", long.String())
	assert.False(t, math.IsNaN(long.PnL()))
}

func TestDayState_RecordExit(t *testing.T) {
	d := DayState{Date: "2026-03-05", Entries: 1, HasOpen: true}
	d.RecordExit(ExitTarget, 1200)
	assert.False(t, d.StoppedOut)
	assert.False(t, d.HasOpen)
	d.RecordExit(ExitStopLoss, -3000)
	assert.True(t, d.StoppedOut)
	assert.InDelta(t, -1800.0, d.RealizedPnL, 1e-9)
}
