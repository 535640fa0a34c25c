package config

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	configPath := filepath.Join("..", "..", "config.yaml.example")
	cfg, err := Load(configPath)
	require.NoError(t, err, "example config should load")

	assert.Equal(t, SelectBoth, cfg.Strategy)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 65, cfg.Instrument.LotSize)
	assert.Len(t, cfg.Schedule.Holidays, 2)

	selected := cfg.Selected()
	require.Len(t, selected, 2)
	assert.Equal(t, KindIronCondor, selected[0].Kind)
	assert.Equal(t, KindStraddle, selected[1].Kind)
}

func TestLoad_InvalidPath(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Error("Expected error when loading nonexistent config file, got nil")
	}
}

func TestParse_KeepsDefaultsForOmittedFields(t *testing.T) {
	cfg, err := Parse([]byte("strategy: daily_scalp\nstrategies:\n  daily_scalp:\n    num_lots: 3\n"))
	require.NoError(t, err)

	sc := cfg.Strategies.DailyScalp
	assert.Equal(t, KindDailyScalp, sc.Kind)
	assert.Equal(t, 3, sc.NumLots)
	assert.Equal(t, MustTimeOfDay("14:00"), sc.ExitTime)
	assert.True(t, sc.TrailingEnabled)
	assert.Equal(t, 195, sc.Quantity(cfg.Instrument.LotSize))
	assert.Equal(t, 30*time.Second, cfg.Schedule.PollInterval)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("strategy: straddle\nnot_a_field: 1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestParse_ExpandsEnvironment(t *testing.T) {
	t.Setenv("NIFTY_TEST_TOKEN", "abc123")
	cfg, err := Parse([]byte("gateway:\n  session_token: ${NIFTY_TEST_TOKEN}\n"))
	require.NoError(t, err)
	assert.Equal(t, "abc123", cfg.Gateway.SessionToken)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"bad mode", func(c *Config) { c.Environment.Mode = "demo" }, "environment.mode"},
		{"unsupported provider", func(c *Config) { c.Gateway.Provider = "breeze" }, "gateway.provider"},
		{"poll too fast", func(c *Config) { c.Schedule.PollInterval = time.Second }, "schedule.poll_interval"},
		{"bad holiday", func(c *Config) { c.Schedule.Holidays = []string{"26/01/2026"} }, "schedule.holidays"},
		{"weekend expiry", func(c *Config) { c.Instrument.ExpiryWeekday = "saturday" }, "instrument.expiry_weekday"},
		{"bad selector", func(c *Config) { c.Strategy = "strangle" }, "strategy"},
		{"zero capital", func(c *Config) { c.Capital = 0 }, "capital"},
		{"offset off grid", func(c *Config) { c.Strategies.IronCondor.CallSellOffset = 225 }, "strategies.iron_condor.call_sell_offset"},
		{"wing inside short", func(c *Config) { c.Strategies.IronCondor.PutBuyOffset = 150 }, "strategies.iron_condor.put_buy_offset"},
		{"window inverted", func(c *Config) { c.Strategies.Straddle.EntryEnd = MustTimeOfDay("09:00") }, "strategies.straddle.entry_end"},
		{"entry end past exit", func(c *Config) {
			c.Strategies.Straddle.EntryStart = MustTimeOfDay("15:10")
			c.Strategies.Straddle.EntryEnd = MustTimeOfDay("15:25")
		}, "strategies.straddle.entry_end"},
		{"entry end at exit", func(c *Config) { c.Strategies.DailyScalp.EntryEnd = MustTimeOfDay("14:00") }, "strategies.daily_scalp.entry_end"},
		{"vix inverted", func(c *Config) { c.Strategies.Straddle.MinVIX = 30 }, "strategies.straddle.max_vix"},
		{"trailing without offset", func(c *Config) { c.Strategies.DailyScalp.TrailOffsetPct = 0 }, "strategies.daily_scalp.trail_offset_pct"},
		{"bad override", func(c *Config) { c.Strategies.DailyScalp.ExpiryOverride = "next week" }, "strategies.daily_scalp.expiry_override"},
		{"bad storage", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.driver"},
		{"telegram missing token", func(c *Config) { c.Notify.Telegram.Enabled = true }, "notify.telegram"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %T", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestStrategyFor(t *testing.T) {
	cfg := Default()
	sc, err := cfg.StrategyFor(KindStraddle)
	require.NoError(t, err)
	assert.Equal(t, 30.0, sc.TargetPct)
	assert.False(t, sc.HasWings())

	_, err = cfg.StrategyFor("butterfly")
	assert.Error(t, err)
}

func TestTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("09:20")
	require.NoError(t, err)
	assert.Equal(t, 560, tod.Minutes())
	assert.Equal(t, "09:20", tod.String())

	_, err = ParseTimeOfDay("9.20am")
	assert.Error(t, err)

	loc := time.FixedZone("IST", 19800)
	day := time.Date(2026, 3, 5, 0, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 3, 5, 9, 20, 0, 0, loc), tod.On(day))

	b, err := tod.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"09:20"`, string(b))
}

func TestLocation_FallsBackForIST(t *testing.T) {
	cfg := Default()
	loc, err := cfg.Location()
	require.NoError(t, err)
	_, offset := time.Date(2026, 1, 1, 12, 0, 0, 0, loc).Zone()
	assert.Equal(t, 19800, offset)

	cfg.Schedule.Timezone = "Not/AZone"
	_, err = cfg.Location()
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "Not/AZone"))
}
