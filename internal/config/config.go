// Package config provides configuration management for the options bot.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

const (
	// DefaultTimezone is the exchange timezone for NSE index options.
	DefaultTimezone = "Asia/Kolkata"

	minPollInterval = 5 * time.Second
	maxPollInterval = 10 * time.Minute
)

// Selector values for the top-level strategy field.
const (
	SelectIronCondor = "iron_condor"
	SelectStraddle   = "straddle"
	SelectDailyScalp = "daily_scalp"
	SelectBoth       = "both"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Instrument  InstrumentConfig  `yaml:"instrument"`
	Strategy    string            `yaml:"strategy"` // iron_condor | straddle | daily_scalp | both
	Capital     float64           `yaml:"capital"`
	Strategies  StrategiesConfig  `yaml:"strategies"`
	Storage     StorageConfig     `yaml:"storage"`
	Notify      NotifyConfig      `yaml:"notify"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Backtest    BacktestConfig    `yaml:"backtest"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode          string `yaml:"mode"`       // paper | live
	LogLevel      string `yaml:"log_level"`  // debug | info | warn | error
	LogFormat     string `yaml:"log_format"` // text | json
	LogFile       string `yaml:"log_file"`   // empty: console only
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogMaxAgeDays int    `yaml:"log_max_age_days"`
}

// GatewayConfig defines how the quote/order gateway is reached and throttled.
type GatewayConfig struct {
	Provider       string               `yaml:"provider"` // paper
	SessionToken   string               `yaml:"session_token"`
	MinCallSpacing time.Duration        `yaml:"min_call_spacing"`
	QuoteCacheTTL  time.Duration        `yaml:"quote_cache_ttl"`
	CallTimeout    time.Duration        `yaml:"call_timeout"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Paper          PaperConfig          `yaml:"paper"`
}

// RetryConfig is the backoff policy the monitor applies to transient gateway failures.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// CircuitBreakerConfig configures the gateway circuit breaker.
type CircuitBreakerConfig struct {
	MaxRequests  uint32        `yaml:"max_requests"`
	Interval     time.Duration `yaml:"interval"`
	Timeout      time.Duration `yaml:"timeout"`
	MinRequests  uint32        `yaml:"min_requests"`
	FailureRatio float64       `yaml:"failure_ratio"`
}

// PaperConfig seeds the simulated paper-trading market.
type PaperConfig struct {
	Seed      int64   `yaml:"seed"`
	StartSpot float64 `yaml:"start_spot"`
	StartVIX  float64 `yaml:"start_vix"`
}

// ScheduleConfig defines polling and the exchange calendar.
type ScheduleConfig struct {
	Timezone     string        `yaml:"timezone"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Holidays     []string      `yaml:"holidays"` // YYYY-MM-DD, added to the built-in set
}

// InstrumentConfig describes the traded index.
type InstrumentConfig struct {
	Name            string    `yaml:"name"`
	StrikeStep      int       `yaml:"strike_step"`
	LotSize         int       `yaml:"lot_size"`
	ExpiryWeekday   string    `yaml:"expiry_weekday"`
	ExpiryDayCutoff TimeOfDay `yaml:"expiry_day_cutoff"`
}

// StrategiesConfig holds one parameter block per strategy variant.
type StrategiesConfig struct {
	IronCondor StrategyConfig `yaml:"iron_condor"`
	Straddle   StrategyConfig `yaml:"straddle"`
	DailyScalp StrategyConfig `yaml:"daily_scalp"`
}

// StorageConfig defines the trade ledger backend.
type StorageConfig struct {
	Driver string `yaml:"driver"` // json | sqlite
	Path   string `yaml:"path"`
}

// NotifyConfig defines operator notification channels.
type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig configures the Telegram bot channel.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	APIBase  string `yaml:"api_base"`
}

// DashboardConfig configures the query surface.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// BacktestConfig tunes the synthetic price-path simulator.
type BacktestConfig struct {
	Seed              int64         `yaml:"seed"`
	ReferenceSpot     float64       `yaml:"reference_spot"`
	ReferenceVIX      float64       `yaml:"reference_vix"`
	DailySpotSigma    float64       `yaml:"daily_spot_sigma"`
	TickInterval      time.Duration `yaml:"tick_interval"`
	NoiseSigma        float64       `yaml:"noise_sigma"`
	BrokeragePerOrder float64       `yaml:"brokerage_per_order"`
	SlippagePerUnit   float64       `yaml:"slippage_per_unit"`
}

// Default returns a configuration populated with the documented defaults.
func Default() *Config {
	return &Config{
		Environment: EnvironmentConfig{
			Mode:          "paper",
			LogLevel:      "info",
			LogFormat:     "text",
			LogMaxSizeMB:  50,
			LogMaxBackups: 7,
			LogMaxAgeDays: 30,
		},
		Gateway: GatewayConfig{
			Provider:       "paper",
			MinCallSpacing: 250 * time.Millisecond,
			QuoteCacheTTL:  3 * time.Second,
			CallTimeout:    10 * time.Second,
			Retry: RetryConfig{
				MaxAttempts:    3,
				InitialBackoff: 500 * time.Millisecond,
				MaxBackoff:     5 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				MaxRequests:  3,
				Interval:     60 * time.Second,
				Timeout:      30 * time.Second,
				MinRequests:  5,
				FailureRatio: 0.6,
			},
			Paper: PaperConfig{Seed: 7, StartSpot: 22000, StartVIX: 14},
		},
		Schedule: ScheduleConfig{
			Timezone:     DefaultTimezone,
			PollInterval: 30 * time.Second,
		},
		Instrument: InstrumentConfig{
			Name:            "NIFTY",
			StrikeStep:      50,
			LotSize:         65,
			ExpiryWeekday:   "thursday",
			ExpiryDayCutoff: MustTimeOfDay("15:00"),
		},
		Strategy: SelectIronCondor,
		Capital:  500000,
		Strategies: StrategiesConfig{
			IronCondor: DefaultStrategyConfig(KindIronCondor),
			Straddle:   DefaultStrategyConfig(KindStraddle),
			DailyScalp: DefaultStrategyConfig(KindDailyScalp),
		},
		Storage:   StorageConfig{Driver: "json", Path: "data/ledger.json"},
		Dashboard: DashboardConfig{Port: 8080},
		Backtest: BacktestConfig{
			Seed:              42,
			ReferenceSpot:     22000,
			ReferenceVIX:      14,
			DailySpotSigma:    0.008,
			TickInterval:      time.Minute,
			NoiseSigma:        0.003,
			BrokeragePerOrder: 20,
			SlippagePerUnit:   0.5,
		},
	}
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML on top of Default() and validates the result.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	config := Default()
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.normalize()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// normalize restores fields that are derived rather than configured.
func (c *Config) normalize() {
	c.Strategies.IronCondor.Kind = KindIronCondor
	c.Strategies.Straddle.Kind = KindStraddle
	c.Strategies.DailyScalp.Kind = KindDailyScalp
	c.Strategy = strings.ToLower(strings.TrimSpace(c.Strategy))
	c.Instrument.ExpiryWeekday = strings.ToLower(strings.TrimSpace(c.Instrument.ExpiryWeekday))
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return invalid("environment.mode", "must be 'paper' or 'live'")
	}
	switch c.Environment.LogFormat {
	case "", "text", "json":
	default:
		return invalid("environment.log_format", "must be 'text' or 'json'")
	}

	if c.Gateway.Provider != "paper" {
		return invalid("gateway.provider", "%q is not supported (available: paper)", c.Gateway.Provider)
	}
	if c.Gateway.MinCallSpacing < 0 {
		return invalid("gateway.min_call_spacing", "must be >= 0")
	}
	if c.Gateway.QuoteCacheTTL < 0 || c.Gateway.QuoteCacheTTL > time.Minute {
		return invalid("gateway.quote_cache_ttl", "must be between 0 and 1m")
	}
	if c.Gateway.CallTimeout <= 0 {
		return invalid("gateway.call_timeout", "must be > 0")
	}
	if c.Gateway.Retry.MaxAttempts < 1 {
		return invalid("gateway.retry.max_attempts", "must be >= 1")
	}
	if c.Gateway.Retry.InitialBackoff <= 0 || c.Gateway.Retry.MaxBackoff < c.Gateway.Retry.InitialBackoff {
		return invalid("gateway.retry", "backoff must satisfy 0 < initial_backoff <= max_backoff")
	}
	if c.Gateway.CircuitBreaker.FailureRatio <= 0 || c.Gateway.CircuitBreaker.FailureRatio > 1 {
		return invalid("gateway.circuit_breaker.failure_ratio", "must be in (0,1]")
	}

	if _, err := c.Location(); err != nil {
		return invalid("schedule.timezone", "%v", err)
	}
	if c.Schedule.PollInterval < minPollInterval || c.Schedule.PollInterval > maxPollInterval {
		return invalid("schedule.poll_interval", "must be between %v and %v", minPollInterval, maxPollInterval)
	}
	for _, h := range c.Schedule.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return invalid("schedule.holidays", "entry %q must be YYYY-MM-DD", h)
		}
	}

	if c.Instrument.Name == "" {
		return invalid("instrument.name", "is required")
	}
	if c.Instrument.StrikeStep <= 0 {
		return invalid("instrument.strike_step", "must be > 0")
	}
	if c.Instrument.LotSize <= 0 {
		return invalid("instrument.lot_size", "must be > 0")
	}
	if _, err := ParseWeekday(c.Instrument.ExpiryWeekday); err != nil {
		return invalid("instrument.expiry_weekday", "%v", err)
	}

	switch c.Strategy {
	case SelectIronCondor, SelectStraddle, SelectDailyScalp, SelectBoth:
	default:
		return invalid("strategy", "must be one of iron_condor, straddle, daily_scalp, both")
	}
	if c.Capital <= 0 {
		return invalid("capital", "must be > 0")
	}

	for _, sc := range []StrategyConfig{c.Strategies.IronCondor, c.Strategies.Straddle, c.Strategies.DailyScalp} {
		if err := sc.Validate(c.Instrument); err != nil {
			return err
		}
	}

	if c.Storage.Driver != "json" && c.Storage.Driver != "sqlite" {
		return invalid("storage.driver", "must be 'json' or 'sqlite'")
	}
	if c.Storage.Path == "" {
		return invalid("storage.path", "is required")
	}

	if c.Notify.Telegram.Enabled && (c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == "") {
		return invalid("notify.telegram", "bot_token and chat_id are required when enabled")
	}

	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return invalid("dashboard.port", "must be a valid TCP port")
	}

	if c.Backtest.ReferenceSpot <= 0 || c.Backtest.ReferenceVIX <= 0 {
		return invalid("backtest", "reference_spot and reference_vix must be > 0")
	}
	if c.Backtest.TickInterval < time.Second || c.Backtest.TickInterval > 15*time.Minute {
		return invalid("backtest.tick_interval", "must be between 1s and 15m")
	}
	if c.Backtest.NoiseSigma < 0 || c.Backtest.DailySpotSigma < 0 {
		return invalid("backtest", "noise sigmas must be >= 0")
	}
	if c.Backtest.BrokeragePerOrder < 0 || c.Backtest.SlippagePerUnit < 0 {
		return invalid("backtest", "charges must be >= 0")
	}

	return nil
}

// IsPaperTrading returns true if the bot is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// Location returns the exchange timezone, falling back to a fixed IST zone
// on hosts without tzdata.
func (c *Config) Location() (*time.Location, error) {
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		if tz == DefaultTimezone {
			return time.FixedZone("IST", 5*60*60+30*60), nil
		}
		return nil, fmt.Errorf("loading timezone %q: %w", tz, err)
	}
	return loc, nil
}

// MustLocation is Location for already validated configs.
func (c *Config) MustLocation() *time.Location {
	loc, err := c.Location()
	if err != nil {
		return time.FixedZone("IST", 5*60*60+30*60)
	}
	return loc
}

// Selected returns the strategy variants chosen by the selector.
func (c *Config) Selected() []StrategyConfig {
	switch c.Strategy {
	case SelectStraddle:
		return []StrategyConfig{c.Strategies.Straddle}
	case SelectDailyScalp:
		return []StrategyConfig{c.Strategies.DailyScalp}
	case SelectBoth:
		return []StrategyConfig{c.Strategies.IronCondor, c.Strategies.Straddle}
	default:
		return []StrategyConfig{c.Strategies.IronCondor}
	}
}

// StrategyFor returns the parameter block for a variant.
func (c *Config) StrategyFor(kind StrategyKind) (StrategyConfig, error) {
	switch kind {
	case KindIronCondor:
		return c.Strategies.IronCondor, nil
	case KindStraddle:
		return c.Strategies.Straddle, nil
	case KindDailyScalp:
		return c.Strategies.DailyScalp, nil
	default:
		return StrategyConfig{}, fmt.Errorf("unknown strategy %q", kind)
	}
}

// ParseWeekday parses an English weekday name.
func ParseWeekday(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), strings.TrimSpace(s)) {
			if d == time.Saturday || d == time.Sunday {
				return d, fmt.Errorf("expiry cannot fall on %s", d)
			}
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", s)
}
