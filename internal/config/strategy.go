package config

import (
	"fmt"
	"time"
)

// StrategyKind tags a strategy variant. One evaluator serves every kind; the
// kind only selects defaults and leg shape.
type StrategyKind string

const (
	KindIronCondor StrategyKind = "iron_condor"
	KindStraddle   StrategyKind = "straddle"
	KindDailyScalp StrategyKind = "daily_scalp"
)

// StrikeMode selects how short strikes are chosen.
type StrikeMode string

const (
	// StrikeFixed places short legs at ATM +- configured offsets.
	StrikeFixed StrikeMode = "fixed"
	// StrikeDynamic picks the max open-interest strike within DynamicRadius of ATM.
	StrikeDynamic StrikeMode = "dynamic"
)

// StrategyConfig is the validated, run-immutable parameter set for one variant.
type StrategyConfig struct {
	Kind StrategyKind `yaml:"-"`

	NumLots       int        `yaml:"num_lots"`
	StrikeMode    StrikeMode `yaml:"strike_mode"`
	DynamicRadius int        `yaml:"dynamic_radius"`

	// Offsets are points from ATM. A zero buy offset means no long wing on that side.
	CallSellOffset int `yaml:"call_sell_offset"`
	CallBuyOffset  int `yaml:"call_buy_offset"`
	PutSellOffset  int `yaml:"put_sell_offset"`
	PutBuyOffset   int `yaml:"put_buy_offset"`

	EntryStart TimeOfDay `yaml:"entry_start"`
	EntryEnd   TimeOfDay `yaml:"entry_end"`
	ExitTime   TimeOfDay `yaml:"exit_time"`

	MinVIX     float64 `yaml:"min_vix"`
	MaxVIX     float64 `yaml:"max_vix"`
	MinPremium float64 `yaml:"min_premium"`

	TargetPct   float64 `yaml:"target_pct"`
	StopLossPct float64 `yaml:"stop_loss_pct"`

	TrailingEnabled  bool    `yaml:"trailing_enabled"`
	TrailActivatePct float64 `yaml:"trail_activate_pct"`
	TrailOffsetPct   float64 `yaml:"trail_offset_pct"`

	SpotSLPoints float64 `yaml:"spot_sl_points"`

	AdjustmentEnabled bool    `yaml:"adjustment_enabled"`
	PerLegSLPct       float64 `yaml:"per_leg_sl_pct"`

	AvoidExpiryDay        bool    `yaml:"avoid_expiry_day"`
	BlockReentryAfterStop bool    `yaml:"block_reentry_after_stop"`
	MaxEntriesPerDay      int     `yaml:"max_entries_per_day"`
	DailyLossLimit        float64 `yaml:"daily_loss_limit"`
	ExpiryOverride        string  `yaml:"expiry_override"` // YYYY-MM-DD
}

// DefaultStrategyConfig returns the documented defaults for a variant.
func DefaultStrategyConfig(kind StrategyKind) StrategyConfig {
	base := StrategyConfig{
		Kind:             kind,
		NumLots:          1,
		StrikeMode:       StrikeFixed,
		DynamicRadius:    300,
		EntryStart:       MustTimeOfDay("09:20"),
		EntryEnd:         MustTimeOfDay("14:00"),
		ExitTime:         MustTimeOfDay("15:15"),
		MinVIX:           10,
		MaxVIX:           25,
		TrailActivatePct: 30,
		TrailOffsetPct:   10,
		PerLegSLPct:      50,
		MaxEntriesPerDay: 1,
	}

	switch kind {
	case KindIronCondor:
		base.CallSellOffset, base.CallBuyOffset = 200, 400
		base.PutSellOffset, base.PutBuyOffset = 200, 400
		base.MinPremium = 20
		base.TargetPct, base.StopLossPct = 50, 100
		base.AvoidExpiryDay = true
	case KindStraddle:
		base.MinPremium = 40
		base.TargetPct, base.StopLossPct = 30, 20
		base.TrailActivatePct = 20
		base.AdjustmentEnabled = true
		base.PerLegSLPct = 25
	case KindDailyScalp:
		base.CallSellOffset, base.PutSellOffset = 100, 100
		base.EntryStart = MustTimeOfDay("09:30")
		base.EntryEnd = MustTimeOfDay("13:00")
		base.ExitTime = MustTimeOfDay("14:00")
		base.MinPremium = 30
		base.TargetPct, base.StopLossPct = 20, 15
		base.TrailingEnabled = true
		base.TrailActivatePct, base.TrailOffsetPct = 15, 10
		base.SpotSLPoints = 100
		base.PerLegSLPct = 25
		base.BlockReentryAfterStop = true
		base.MaxEntriesPerDay = 2
		base.DailyLossLimit = 5000
	}
	return base
}

// ID is the strategy identifier used in logs, the ledger and the query surface.
func (s StrategyConfig) ID() string {
	return string(s.Kind)
}

// Quantity returns units per leg: lot size times number of lots.
func (s StrategyConfig) Quantity(lotSize int) int {
	return lotSize * s.NumLots
}

// HasWings reports whether the variant buys protective long legs.
func (s StrategyConfig) HasWings() bool {
	return s.CallBuyOffset > 0 || s.PutBuyOffset > 0
}

// Override parses ExpiryOverride in loc; ok is false when unset.
func (s StrategyConfig) Override(loc *time.Location) (time.Time, bool, error) {
	if s.ExpiryOverride == "" {
		return time.Time{}, false, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s.ExpiryOverride, loc)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("expiry_override %q: %w", s.ExpiryOverride, err)
	}
	return t, true, nil
}

// Validate checks the variant against the instrument it trades.
func (s StrategyConfig) Validate(inst InstrumentConfig) error {
	prefix := "strategies." + s.ID() + "."
	field := func(name string) string { return prefix + name }

	switch s.Kind {
	case KindIronCondor, KindStraddle, KindDailyScalp:
	default:
		return invalid("strategies", "unknown strategy kind %q", s.Kind)
	}
	if s.NumLots <= 0 {
		return invalid(field("num_lots"), "must be > 0")
	}
	if s.StrikeMode != StrikeFixed && s.StrikeMode != StrikeDynamic {
		return invalid(field("strike_mode"), "must be 'fixed' or 'dynamic'")
	}
	if s.StrikeMode == StrikeDynamic && (s.DynamicRadius <= 0 || s.DynamicRadius%inst.StrikeStep != 0) {
		return invalid(field("dynamic_radius"), "must be a positive multiple of %d", inst.StrikeStep)
	}

	offsets := []struct {
		name  string
		value int
	}{
		{"call_sell_offset", s.CallSellOffset},
		{"call_buy_offset", s.CallBuyOffset},
		{"put_sell_offset", s.PutSellOffset},
		{"put_buy_offset", s.PutBuyOffset},
	}
	for _, o := range offsets {
		if o.value < 0 || o.value%inst.StrikeStep != 0 {
			return invalid(field(o.name), "must be a non-negative multiple of %d", inst.StrikeStep)
		}
	}
	if s.CallBuyOffset != 0 && s.CallBuyOffset <= s.CallSellOffset {
		return invalid(field("call_buy_offset"), "must be further OTM than call_sell_offset")
	}
	if s.PutBuyOffset != 0 && s.PutBuyOffset <= s.PutSellOffset {
		return invalid(field("put_buy_offset"), "must be further OTM than put_sell_offset")
	}
	if s.Kind == KindIronCondor && (s.CallBuyOffset == 0 || s.PutBuyOffset == 0) {
		return invalid(field("call_buy_offset"), "iron condor requires long wings on both sides")
	}

	if s.EntryEnd.Before(s.EntryStart) {
		return invalid(field("entry_end"), "must not be before entry_start")
	}
	if !s.EntryStart.Before(s.ExitTime) {
		return invalid(field("exit_time"), "must be after entry_start")
	}
	if !s.EntryEnd.Before(s.ExitTime) {
		return invalid(field("entry_end"), "must be before exit_time")
	}

	if s.MinVIX < 0 || s.MaxVIX <= 0 || s.MinVIX > s.MaxVIX {
		return invalid(field("max_vix"), "VIX bounds must satisfy 0 <= min_vix <= max_vix")
	}
	if s.MinPremium < 0 {
		return invalid(field("min_premium"), "must be >= 0")
	}
	if s.TargetPct <= 0 {
		return invalid(field("target_pct"), "must be > 0")
	}
	if s.StopLossPct <= 0 {
		return invalid(field("stop_loss_pct"), "must be > 0")
	}
	if s.TrailingEnabled && (s.TrailActivatePct <= 0 || s.TrailOffsetPct <= 0) {
		return invalid(field("trail_offset_pct"), "trail_activate_pct and trail_offset_pct must be > 0 when trailing is enabled")
	}
	if s.SpotSLPoints < 0 {
		return invalid(field("spot_sl_points"), "must be >= 0")
	}
	if s.AdjustmentEnabled && s.PerLegSLPct <= 0 {
		return invalid(field("per_leg_sl_pct"), "must be > 0 when adjustment is enabled")
	}
	if s.MaxEntriesPerDay < 0 {
		return invalid(field("max_entries_per_day"), "must be >= 0")
	}
	if s.DailyLossLimit < 0 {
		return invalid(field("daily_loss_limit"), "must be >= 0")
	}
	if _, _, err := s.Override(time.UTC); err != nil {
		return invalid(field("expiry_override"), "must be YYYY-MM-DD")
	}
	return nil
}
