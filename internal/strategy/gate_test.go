package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/nifty_condor/internal/calendar"
	"github.com/eddiefleurent/nifty_condor/internal/config"
	"github.com/eddiefleurent/nifty_condor/internal/models"
)

var ist = time.FixedZone("IST", 19800)

// staticSource serves fixed premiums keyed like "22200CE".
type staticSource struct {
	premiums map[string]float64
	oi       map[models.LegKey]int64
	err      error
}

func (s *staticSource) Premium(_ context.Context, key models.LegKey) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.premiums[key.String()], nil
}

func (s *staticSource) OpenInterest(_ context.Context) (map[models.LegKey]int64, error) {
	return s.oi, nil
}

func condorSource() *staticSource {
	return &staticSource{premiums: map[string]float64{
		"22200CE": 60, "22400CE": 35,
		"21800PE": 55, "21600PE": 30,
		"22000CE": 95, "22000PE": 90,
	}}
}

func testInstrument() config.InstrumentConfig {
	return config.InstrumentConfig{
		Name:            "NIFTY",
		StrikeStep:      50,
		LotSize:         65,
		ExpiryWeekday:   "thursday",
		ExpiryDayCutoff: config.MustTimeOfDay("15:00"),
	}
}

func testCalendar(t *testing.T) *calendar.Calendar {
	t.Helper()
	c, err := calendar.NewCalendar(ist, time.Thursday, config.MustTimeOfDay("15:00"), nil)
	require.NoError(t, err)
	return c
}

func snapAt(ts time.Time, vix float64) models.MarketSnapshot {
	return models.MarketSnapshot{Time: ts, Spot: 22010, VIX: vix}
}

// Tuesday 3 March 2026
func tuesday(hh, mm, ss int) time.Time {
	return time.Date(2026, 3, 3, hh, mm, ss, 0, ist)
}

func TestEntryGate_AllowsCondor(t *testing.T) {
	g := NewEntryGate(config.DefaultStrategyConfig(config.KindIronCondor), testInstrument(), testCalendar(t))

	d := g.Evaluate(context.Background(), snapAt(tuesday(10, 0, 0), 14), models.DayState{}, condorSource())

	require.True(t, d.Allowed, d.Summary())
	assert.Equal(t, 22000, d.ATM)
	assert.Equal(t, 65, d.Quantity)
	assert.InDelta(t, 50.0, d.NetPremium, 1e-9)
	assert.Equal(t, "2026-03-05", d.Expiry.Format("2006-01-02"))

	require.Len(t, d.Legs, 4)
	assert.Equal(t, models.SideBuy, d.Legs[0].Side)
	assert.Equal(t, 22400, d.Legs[0].Strike)
	assert.Equal(t, models.SideBuy, d.Legs[1].Side)
	assert.Equal(t, 21600, d.Legs[1].Strike)
	assert.Equal(t, 22200, d.Legs[2].Strike)
	assert.Equal(t, 21800, d.Legs[3].Strike)
	for _, l := range d.Legs {
		assert.Equal(t, 65, l.Quantity)
		assert.Equal(t, l.EntryPrice, l.CurrentPrice)
	}
}

func TestEntryGate_WindowBoundaries(t *testing.T) {
	g := NewEntryGate(config.DefaultStrategyConfig(config.KindIronCondor), testInstrument(), testCalendar(t))

	tests := []struct {
		name    string
		at      time.Time
		allowed bool
	}{
		{"at start", tuesday(9, 20, 0), true},
		{"at end", tuesday(14, 0, 0), true},
		{"just before start", tuesday(9, 19, 59), false},
		{"just after end", tuesday(14, 0, 1), false},
		{"saturday", time.Date(2026, 3, 7, 10, 0, 0, 0, ist), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Evaluate(context.Background(), snapAt(tt.at, 14), models.DayState{}, condorSource())
			assert.Equal(t, tt.allowed, d.Allowed, d.Summary())
			assert.Equal(t, !tt.allowed, d.Rejected(RejectOutsideWindow))
		})
	}
}

func TestEntryGate_RejectsAtOrAfterExitTime(t *testing.T) {
	sc := config.DefaultStrategyConfig(config.KindStraddle)
	sc.EntryStart = config.MustTimeOfDay("15:10")
	sc.EntryEnd = config.MustTimeOfDay("15:25")
	g := NewEntryGate(sc, testInstrument(), testCalendar(t))

	before := g.Evaluate(context.Background(), snapAt(tuesday(15, 14, 59), 14), models.DayState{}, condorSource())
	assert.True(t, before.Allowed, before.Summary())

	for _, at := range []time.Time{tuesday(15, 15, 0), tuesday(15, 20, 0)} {
		d := g.Evaluate(context.Background(), snapAt(at, 14), models.DayState{}, condorSource())
		assert.False(t, d.Allowed)
		assert.True(t, d.Rejected(RejectOutsideWindow), d.Summary())
	}
}

func TestEntryGate_ReportsEveryFailure(t *testing.T) {
	sc := config.DefaultStrategyConfig(config.KindIronCondor)
	sc.BlockReentryAfterStop = true
	sc.DailyLossLimit = 1000
	g := NewEntryGate(sc, testInstrument(), testCalendar(t))

	day := models.DayState{HasOpen: true, StoppedOut: true, Entries: 1, RealizedPnL: -1500}
	d := g.Evaluate(context.Background(), snapAt(tuesday(8, 0, 0), 30), day, condorSource())

	assert.False(t, d.Allowed)
	assert.Equal(t, []Rejection{
		RejectAlreadyOpen,
		RejectOutsideWindow,
		RejectReentryBlocked,
		RejectEntryLimit,
		RejectDailyLoss,
		RejectVixFilter,
	}, d.Reasons())
}

func TestEntryGate_VixUnavailable(t *testing.T) {
	g := NewEntryGate(config.DefaultStrategyConfig(config.KindIronCondor), testInstrument(), testCalendar(t))
	d := g.Evaluate(context.Background(), snapAt(tuesday(10, 0, 0), 0), models.DayState{}, condorSource())
	assert.Equal(t, []Rejection{RejectVixFilter}, d.Reasons())
}

func TestEntryGate_ExpiryDay(t *testing.T) {
	cal := testCalendar(t)
	thursday := time.Date(2026, 3, 5, 10, 0, 0, 0, ist)

	condor := NewEntryGate(config.DefaultStrategyConfig(config.KindIronCondor), testInstrument(), cal)
	d := condor.Evaluate(context.Background(), snapAt(thursday, 14), models.DayState{}, condorSource())
	assert.Equal(t, []Rejection{RejectExpiryDay}, d.Reasons())

	straddle := NewEntryGate(config.DefaultStrategyConfig(config.KindStraddle), testInstrument(), cal)
	d = straddle.Evaluate(context.Background(), snapAt(thursday, 14), models.DayState{}, condorSource())
	require.True(t, d.Allowed, d.Summary())
	assert.Len(t, d.Legs, 2)
	assert.InDelta(t, 185.0, d.NetPremium, 1e-9)
}

func TestEntryGate_PremiumTooLow(t *testing.T) {
	g := NewEntryGate(config.DefaultStrategyConfig(config.KindIronCondor), testInstrument(), testCalendar(t))
	src := condorSource()
	src.premiums["22200CE"] = 40
	src.premiums["21800PE"] = 35

	d := g.Evaluate(context.Background(), snapAt(tuesday(10, 0, 0), 14), models.DayState{}, src)
	assert.Equal(t, []Rejection{RejectPremiumTooLow}, d.Reasons())
	assert.InDelta(t, 10.0, d.NetPremium, 1e-9)
}

func TestEntryGate_QuoteUnavailable(t *testing.T) {
	g := NewEntryGate(config.DefaultStrategyConfig(config.KindIronCondor), testInstrument(), testCalendar(t))

	src := condorSource()
	delete(src.premiums, "21600PE")
	d := g.Evaluate(context.Background(), snapAt(tuesday(10, 0, 0), 14), models.DayState{}, src)
	assert.Equal(t, []Rejection{RejectQuoteUnavailable}, d.Reasons())
	assert.NoError(t, d.Err)

	boom := errors.New("gateway down")
	d = g.Evaluate(context.Background(), snapAt(tuesday(10, 0, 0), 14), models.DayState{}, &staticSource{err: boom})
	assert.True(t, d.Rejected(RejectQuoteUnavailable))
	assert.ErrorIs(t, d.Err, boom)
}

func TestSelectLegs_Dynamic(t *testing.T) {
	sc := config.DefaultStrategyConfig(config.KindIronCondor)
	sc.StrikeMode = config.StrikeDynamic
	sc.DynamicRadius = 300

	oi := map[models.LegKey]int64{
		{Strike: 22100, Type: models.OptionCall}: 100,
		{Strike: 22250, Type: models.OptionCall}: 900,
		{Strike: 22500, Type: models.OptionCall}: 5000, // outside radius
		{Strike: 21900, Type: models.OptionPut}:  700,
		{Strike: 21750, Type: models.OptionPut}:  700,
	}
	legs := SelectLegs(sc, testInstrument(), 22000, oi)
	require.Len(t, legs, 4)

	byKey := map[string]models.Side{}
	for _, l := range legs {
		byKey[l.Key().String()] = l.Side
	}
	assert.Equal(t, models.SideSell, byKey["22250CE"])
	assert.Equal(t, models.SideBuy, byKey["22450CE"])
	// tie keeps the strike nearer ATM
	assert.Equal(t, models.SideSell, byKey["21900PE"])
	assert.Equal(t, models.SideBuy, byKey["21700PE"])
}

func TestSelectLegs_DynamicStraddleConsidersATM(t *testing.T) {
	sc := config.DefaultStrategyConfig(config.KindStraddle)
	sc.StrikeMode = config.StrikeDynamic
	sc.DynamicRadius = 200

	oi := map[models.LegKey]int64{
		{Strike: 22000, Type: models.OptionCall}: 900,
		{Strike: 22050, Type: models.OptionCall}: 500,
		{Strike: 22000, Type: models.OptionPut}:  300,
		{Strike: 21950, Type: models.OptionPut}:  800,
	}
	legs := SelectLegs(sc, testInstrument(), 22000, oi)
	require.Len(t, legs, 2)
	assert.Equal(t, models.LegKey{Strike: 22000, Type: models.OptionCall}, legs[0].Key())
	assert.Equal(t, models.LegKey{Strike: 21950, Type: models.OptionPut}, legs[1].Key())

	// equal OI keeps ATM
	oi[models.LegKey{Strike: 22000, Type: models.OptionPut}] = 800
	legs = SelectLegs(sc, testInstrument(), 22000, oi)
	assert.Equal(t, 22000, legs[1].Strike)
}

func TestSelectLegs_DynamicCondorSkipsATM(t *testing.T) {
	sc := config.DefaultStrategyConfig(config.KindIronCondor)
	sc.StrikeMode = config.StrikeDynamic

	oi := map[models.LegKey]int64{
		{Strike: 22000, Type: models.OptionCall}: 9000,
		{Strike: 22150, Type: models.OptionCall}: 400,
		{Strike: 22000, Type: models.OptionPut}:  9000,
		{Strike: 21850, Type: models.OptionPut}:  400,
	}
	legs := SelectLegs(sc, testInstrument(), 22000, oi)
	require.Len(t, legs, 4)
	assert.Equal(t, 22150, legs[2].Strike)
	assert.Equal(t, 21850, legs[3].Strike)
}

func TestSelectLegs_DynamicWithoutDataFallsBack(t *testing.T) {
	sc := config.DefaultStrategyConfig(config.KindDailyScalp)
	sc.StrikeMode = config.StrikeDynamic
	legs := SelectLegs(sc, testInstrument(), 22000, nil)

	require.Len(t, legs, 2)
	assert.Equal(t, 22100, legs[0].Strike)
	assert.Equal(t, 21900, legs[1].Strike)
	assert.Equal(t, 65, legs[0].Quantity)
}
