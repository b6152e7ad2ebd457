// Package config loads and validates the bot configuration. Files are
// YAML first with a JSON fallback, the way the rest of the tooling here
// reads its inputs.
package config

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quantro/meanrev/market"
)

// StrategyConfig holds the signal parameters. TrendFilterPeriod arms the
// optional EMA alignment filter on entries; zero leaves it off.
type StrategyConfig struct {
	Lookback          int     `json:"lookback" yaml:"lookback"`
	ZEntry            float64 `json:"z_entry" yaml:"z_entry"`
	ZExit             float64 `json:"z_exit" yaml:"z_exit"`
	MinVolume         int64   `json:"min_volume" yaml:"min_volume"`
	TrendFilterPeriod int     `json:"trend_filter_period" yaml:"trend_filter_period"`
}

// RiskConfig holds the circuit-breaker limits. Dollar amounts are in
// account currency; stop/take amounts are per position, converted to price
// offsets through the contract multiplier.
type RiskConfig struct {
	MaxDailyLoss             float64 `json:"max_daily_loss" yaml:"max_daily_loss"`
	MaxConsecutiveLosses     int     `json:"max_consecutive_losses" yaml:"max_consecutive_losses"`
	CooldownMinutes          int     `json:"cooldown_minutes" yaml:"cooldown_minutes"`
	MaxDailyTrades           int     `json:"max_daily_trades" yaml:"max_daily_trades"`
	MaxPositionDurationHours float64 `json:"max_position_duration_hours" yaml:"max_position_duration_hours"`
	StopLossAmount           float64 `json:"stop_loss_amount" yaml:"stop_loss_amount"`
	TakeProfitAmount         float64 `json:"take_profit_amount" yaml:"take_profit_amount"`
}

// ExecutionConfig holds order handling parameters.
type ExecutionConfig struct {
	Size                       int     `json:"size" yaml:"size"`
	ContractMultiplier         float64 `json:"contract_multiplier" yaml:"contract_multiplier"`
	CommissionPerSide          float64 `json:"commission_per_side" yaml:"commission_per_side"`
	SlippageTicks              int     `json:"slippage_ticks" yaml:"slippage_ticks"`
	ShutdownFlattenTimeoutSecs int     `json:"shutdown_flatten_timeout_secs" yaml:"shutdown_flatten_timeout_secs"`
	BrokerFillTimeoutSecs      int     `json:"broker_fill_timeout_secs" yaml:"broker_fill_timeout_secs"`
}

// BacktestConfig holds simulation-only knobs.
type BacktestConfig struct {
	Timeframe        string  `json:"timeframe" yaml:"timeframe"`
	SlippageEnabled  bool    `json:"slippage_enabled" yaml:"slippage_enabled"`
	StopTakeTiebreak string  `json:"stop_take_tiebreak" yaml:"stop_take_tiebreak"`
	Folds            int     `json:"folds" yaml:"folds"`
	TrainRatio       float64 `json:"train_ratio" yaml:"train_ratio"`
}

// JournalConfig selects the store location.
type JournalConfig struct {
	DBPath string `json:"db_path" yaml:"db_path"`
}

// CalendarConfig parameterises the trading-hours predicate.
type CalendarConfig struct {
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Holidays []string `json:"holidays" yaml:"holidays"`
}

// TelegramConfig configures the alert channel.
type TelegramConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	BotToken string `json:"bot_token" yaml:"bot_token"`
	ChatID   string `json:"chat_id" yaml:"chat_id"`
}

// FeedConfig points the live runner at a bar stream.
type FeedConfig struct {
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// Config is the complete bot configuration.
type Config struct {
	Symbol    string          `json:"symbol" yaml:"symbol"`
	Timeframe string          `json:"timeframe" yaml:"timeframe"`
	Strategy  StrategyConfig  `json:"strategy" yaml:"strategy"`
	Risk      RiskConfig      `json:"risk" yaml:"risk"`
	Execution ExecutionConfig `json:"execution" yaml:"execution"`
	Backtest  BacktestConfig  `json:"backtest" yaml:"backtest"`
	Journal   JournalConfig   `json:"journal" yaml:"journal"`
	Calendar  CalendarConfig  `json:"calendar" yaml:"calendar"`
	Telegram  TelegramConfig  `json:"telegram" yaml:"telegram"`
	Feed      FeedConfig      `json:"feed" yaml:"feed"`
}

// LoadFromFile loads configuration from a file (YAML or JSON).
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	cfg.expandEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// expandEnv resolves ${VAR} references in secret-bearing fields.
func (c *Config) expandEnv() {
	expand := func(v string) string {
		if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
			return os.Getenv(v[2 : len(v)-1])
		}
		return v
	}
	c.Telegram.BotToken = expand(c.Telegram.BotToken)
	c.Telegram.ChatID = expand(c.Telegram.ChatID)
}

// Validate checks the full configuration surface.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if c.Timeframe == "" {
		return fmt.Errorf("timeframe is required")
	}
	if _, err := time.ParseDuration(c.Timeframe); err != nil {
		return fmt.Errorf("timeframe %q: %w", c.Timeframe, err)
	}

	if c.Strategy.Lookback < 2 {
		return fmt.Errorf("strategy.lookback must be >= 2")
	}
	if c.Strategy.ZEntry <= 0 {
		return fmt.Errorf("strategy.z_entry must be > 0")
	}
	if c.Strategy.ZExit < 0 || c.Strategy.ZExit >= c.Strategy.ZEntry {
		return fmt.Errorf("strategy.z_exit must be in [0, z_entry)")
	}
	if c.Strategy.MinVolume < 0 {
		return fmt.Errorf("strategy.min_volume must be >= 0")
	}
	if c.Strategy.TrendFilterPeriod < 0 {
		return fmt.Errorf("strategy.trend_filter_period must be >= 0")
	}

	if c.Risk.MaxDailyLoss <= 0 {
		return fmt.Errorf("risk.max_daily_loss must be > 0")
	}
	if c.Risk.MaxConsecutiveLosses < 1 {
		return fmt.Errorf("risk.max_consecutive_losses must be >= 1")
	}
	if c.Risk.MaxPositionDurationHours <= 0 {
		return fmt.Errorf("risk.max_position_duration_hours must be > 0")
	}
	if c.Risk.StopLossAmount < 0 || c.Risk.TakeProfitAmount < 0 {
		return fmt.Errorf("risk stop/take amounts must be >= 0")
	}

	if c.Execution.Size < 1 {
		return fmt.Errorf("execution.size must be >= 1")
	}
	if c.Multiplier() <= 0 {
		return fmt.Errorf("execution.contract_multiplier must be positive for unknown symbols")
	}
	if c.Execution.SlippageTicks < 0 {
		return fmt.Errorf("execution.slippage_ticks must be >= 0")
	}

	switch c.Backtest.StopTakeTiebreak {
	case "", "StopFirst", "TakeFirst":
	default:
		return fmt.Errorf("backtest.stop_take_tiebreak must be StopFirst or TakeFirst")
	}
	if c.Backtest.Folds < 1 {
		return fmt.Errorf("backtest.folds must be >= 1")
	}
	if c.Backtest.TrainRatio <= 0 || c.Backtest.TrainRatio >= 1 {
		return fmt.Errorf("backtest.train_ratio must be in (0, 1)")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when enabled")
		}
	}

	return nil
}

// Multiplier returns the contract point value: an explicit override wins,
// otherwise the instrument registry.
func (c *Config) Multiplier() float64 {
	if c.Execution.ContractMultiplier > 0 {
		return c.Execution.ContractMultiplier
	}
	return market.Lookup(c.Symbol).Multiplier
}

// Slippage returns the absolute price slippage per fill.
func (c *Config) Slippage() float64 {
	return float64(c.Execution.SlippageTicks) * market.Lookup(c.Symbol).TickSize
}

// Cooldown returns the consecutive-loss cooldown duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Risk.CooldownMinutes) * time.Minute
}

// MaxPositionDuration returns the position holding cap.
func (c *Config) MaxPositionDuration() time.Duration {
	return time.Duration(c.Risk.MaxPositionDurationHours * float64(time.Hour))
}

// BrokerFillTimeout returns how long an intent may stay unresolved.
func (c *Config) BrokerFillTimeout() time.Duration {
	return time.Duration(c.Execution.BrokerFillTimeoutSecs) * time.Second
}

// ShutdownFlattenTimeout bounds the closing flatten on shutdown.
func (c *Config) ShutdownFlattenTimeout() time.Duration {
	return time.Duration(c.Execution.ShutdownFlattenTimeoutSecs) * time.Second
}

// BarInterval returns the configured bar timeframe.
func (c *Config) BarInterval() time.Duration {
	d, err := time.ParseDuration(c.Timeframe)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// Fingerprint hashes the behavior-relevant configuration. Snapshots carry
// it so that a restart refuses to resume under different semantics.
func (c *Config) Fingerprint() string {
	canonical := struct {
		Symbol    string          `json:"symbol"`
		Timeframe string          `json:"timeframe"`
		Strategy  StrategyConfig  `json:"strategy"`
		Risk      RiskConfig      `json:"risk"`
		Execution ExecutionConfig `json:"execution"`
	}{c.Symbol, c.Timeframe, c.Strategy, c.Risk, c.Execution}

	data, err := json.Marshal(canonical)
	if err != nil {
		// Marshalling plain structs of scalars cannot fail.
		panic(err)
	}

	h := fnv.New64a()
	h.Write(data)
	return fmt.Sprintf("%016x", h.Sum64())
}

// SaveToFile writes the configuration (YAML by extension, JSON otherwise).
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Default returns a configuration with the reference MES setup.
func Default() *Config {
	return &Config{
		Symbol:    "MES",
		Timeframe: "5m",
		Strategy: StrategyConfig{
			Lookback:  20,
			ZEntry:    2.0,
			ZExit:     0.5,
			MinVolume: 100,
		},
		Risk: RiskConfig{
			MaxDailyLoss:             500,
			MaxConsecutiveLosses:     3,
			CooldownMinutes:          30,
			MaxDailyTrades:           20,
			MaxPositionDurationHours: 2,
			StopLossAmount:           200,
			TakeProfitAmount:         300,
		},
		Execution: ExecutionConfig{
			Size:                       1,
			CommissionPerSide:          0,
			SlippageTicks:              1,
			ShutdownFlattenTimeoutSecs: 30,
			BrokerFillTimeoutSecs:      10,
		},
		Backtest: BacktestConfig{
			Timeframe:        "5m",
			SlippageEnabled:  true,
			StopTakeTiebreak: "StopFirst",
			Folds:            5,
			TrainRatio:       0.7,
		},
		Journal: JournalConfig{
			DBPath: "./data/meanrev.sqlite",
		},
		Calendar: CalendarConfig{
			Enabled: true,
		},
	}
}
