package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minhtuanle/crypto-strike-bot/internal/exchange/bybit"
	"github.com/minhtuanle/crypto-strike-bot/internal/executor"
	"github.com/minhtuanle/crypto-strike-bot/internal/riskguard"
	"github.com/minhtuanle/crypto-strike-bot/internal/strategy"
	"github.com/minhtuanle/crypto-strike-bot/pkg/types"
)

// BotConfig represents the complete configuration for the live bot
type BotConfig struct {
	// Exchange credentials and environment
	Exchange bybit.Config `json:"exchange"`

	// Paper replaces the live connector with the in-process simulator.
	// The feed stays real; orders never leave the process.
	Paper bool `json:"paper"`

	// Market data feed configuration
	Feed FeedConfig `json:"feed"`

	// Traded instruments
	Instruments []InstrumentConfig `json:"instruments"`

	// Strategy selection and parameters
	Strategies StrategiesConfig `json:"strategies"`

	// Account-wide risk guard
	RiskGuard RiskGuardParams `json:"risk_guard"`

	// Execution coordinator tunables
	Execution ExecutionParams `json:"execution"`

	// Monitoring endpoints and journal export
	Monitoring MonitoringConfig `json:"monitoring"`

	// Notification configuration (optional)
	Notifications *NotificationConfig `json:"notifications,omitempty"`
}

// FeedConfig holds market data feed configuration
type FeedConfig struct {
	WSURL          string   `json:"ws_url"`
	ReconnectDelay Duration `json:"reconnect_delay"`
	MaxGap         Duration `json:"max_gap"` // feed discontinuity threshold
}

// InstrumentConfig holds one traded instrument
type InstrumentConfig struct {
	Symbol      string  `json:"symbol"`
	TickSize    float64 `json:"tick_size"`
	MinOrderQty float64 `json:"min_order_qty"`
	QtyStep     float64 `json:"qty_step"`
	Leverage    int     `json:"leverage"`
}

// Instrument converts to the runtime type.
func (ic InstrumentConfig) Instrument() types.Instrument {
	return types.Instrument{
		Symbol:      ic.Symbol,
		TickSize:    ic.TickSize,
		MinOrderQty: ic.MinOrderQty,
		QtyStep:     ic.QtyStep,
		Leverage:    ic.Leverage,
	}
}

// StrategiesConfig selects and parameterizes the trading strategies
type StrategiesConfig struct {
	Enabled        []string             `json:"enabled"`
	MarketReversal MarketReversalParams `json:"market_reversal"`
	ThreeStrike    ThreeStrikeParams    `json:"three_strike"`
	TrailingStop   TrailingStopParams   `json:"trailing_stop"`
	StopAndReverse StopAndReverseParams `json:"stop_and_reverse"`
}

// MarketReversalParams holds market reversal strategy parameters
type MarketReversalParams struct {
	ReversalPercent float64  `json:"reversal_percent"`
	ConfirmTicks    int      `json:"confirm_ticks"`
	Lookback        Duration `json:"lookback"`
}

func (p MarketReversalParams) Config() strategy.MarketReversalConfig {
	cfg := strategy.DefaultMarketReversalConfig()
	if p.ReversalPercent > 0 {
		cfg.ReversalPercent = p.ReversalPercent
	}
	if p.ConfirmTicks > 0 {
		cfg.ConfirmTicks = p.ConfirmTicks
	}
	if p.Lookback.Duration > 0 {
		cfg.Lookback = p.Lookback.Duration
	}
	return cfg
}

// ThreeStrikeParams holds per-instrument three-strike strategy parameters
type ThreeStrikeParams struct {
	StrikeLimit int      `json:"strike_limit"`
	Window      Duration `json:"window"`
	CoolDown    Duration `json:"cool_down"`
}

func (p ThreeStrikeParams) Config() strategy.ThreeStrikeConfig {
	cfg := strategy.DefaultThreeStrikeConfig()
	if p.StrikeLimit > 0 {
		cfg.StrikeLimit = p.StrikeLimit
	}
	if p.Window.Duration > 0 {
		cfg.Window = p.Window.Duration
	}
	if p.CoolDown.Duration > 0 {
		cfg.CoolDown = p.CoolDown.Duration
	}
	return cfg
}

// TrailingStopParams holds trailing stop strategy parameters
type TrailingStopParams struct {
	TrailPercent float64                `json:"trail_percent"`
	ProfitLevels []strategy.ProfitLevel `json:"profit_levels"`
}

func (p TrailingStopParams) Config() strategy.TrailingStopConfig {
	cfg := strategy.DefaultTrailingStopConfig()
	if p.TrailPercent > 0 {
		cfg.TrailPercent = p.TrailPercent
	}
	if len(p.ProfitLevels) > 0 {
		cfg.ProfitLevels = p.ProfitLevels
	}
	return cfg
}

// StopAndReverseParams holds stop-and-reverse strategy parameters
type StopAndReverseParams struct {
	TakeProfitPercent float64  `json:"take_profit_percent"`
	MaxReversals      int      `json:"max_reversals"`
	ReversalWindow    Duration `json:"reversal_window"`
	CoolDown          Duration `json:"cool_down"`
}

func (p StopAndReverseParams) Config() strategy.StopAndReverseConfig {
	cfg := strategy.DefaultStopAndReverseConfig()
	if p.TakeProfitPercent > 0 {
		cfg.TakeProfitPercent = p.TakeProfitPercent
	}
	if p.MaxReversals > 0 {
		cfg.MaxReversals = p.MaxReversals
	}
	if p.ReversalWindow.Duration > 0 {
		cfg.ReversalWindow = p.ReversalWindow.Duration
	}
	if p.CoolDown.Duration > 0 {
		cfg.CoolDown = p.CoolDown.Duration
	}
	return cfg
}

// RiskGuardParams holds account-wide risk guard parameters
type RiskGuardParams struct {
	StrikeLimit int      `json:"strike_limit"`
	Window      Duration `json:"window"`
	CoolDown    Duration `json:"cool_down"`
	Enabled     *bool    `json:"enabled,omitempty"`
}

func (p RiskGuardParams) Config() riskguard.Config {
	cfg := riskguard.DefaultConfig()
	if p.StrikeLimit > 0 {
		cfg.StrikeLimit = p.StrikeLimit
	}
	if p.Window.Duration > 0 {
		cfg.Window = p.Window.Duration
	}
	cfg.CoolDown = p.CoolDown.Duration
	cfg.Enabled = p.Enabled
	return cfg
}

// ExecutionParams holds execution coordinator parameters
type ExecutionParams struct {
	FillTimeout          Duration `json:"fill_timeout"`
	MaxRetries           int      `json:"max_retries"`
	InitialDelay         Duration `json:"initial_delay"`
	MaxDelay             Duration `json:"max_delay"`
	ProtectiveMaxRetries int      `json:"protective_max_retries"`
}

func (p ExecutionParams) Config() executor.Config {
	cfg := executor.DefaultConfig()
	if p.FillTimeout.Duration > 0 {
		cfg.FillTimeout = p.FillTimeout.Duration
	}
	if p.MaxRetries > 0 {
		cfg.Retry.MaxRetries = p.MaxRetries
	}
	if p.InitialDelay.Duration > 0 {
		cfg.Retry.InitialDelay = p.InitialDelay.Duration
	}
	if p.MaxDelay.Duration > 0 {
		cfg.Retry.MaxDelay = p.MaxDelay.Duration
	}
	if p.ProtectiveMaxRetries > 0 {
		cfg.ProtectiveRetry.MaxRetries = p.ProtectiveMaxRetries
	}
	return cfg
}

// MonitoringConfig holds monitoring endpoints and journal export settings
type MonitoringConfig struct {
	MetricsAddr string `json:"metrics_addr"`
	HealthAddr  string `json:"health_addr"`
	EventsAddr  string `json:"events_addr"`
	JournalPath string `json:"journal_path"`
}

// NotificationConfig holds notification settings
type NotificationConfig struct {
	Enabled       bool   `json:"enabled"`
	TelegramToken string `json:"telegram_token,omitempty"`
	TelegramChat  string `json:"telegram_chat,omitempty"`
}

// Load loads configuration from file, applies environment overrides for
// secrets, fills defaults and validates.
// Option mutates the parsed config before validation. Used for CLI
// overrides that must be visible to the validation rules.
type Option func(*BotConfig)

// WithPaper forces paper mode regardless of the config file.
func WithPaper() Option {
	return func(c *BotConfig) { c.Paper = true }
}

// WithDemo switches the exchange to its demo trading environment.
func WithDemo() Option {
	return func(c *BotConfig) {
		c.Exchange.Demo = true
		c.Exchange.Testnet = false
	}
}

func Load(configFile string, opts ...Option) (*BotConfig, error) {
	// If config file doesn't contain path separators, look in configs/
	if !strings.ContainsAny(configFile, "/\\") {
		configFile = filepath.Join("configs", configFile)
	}
	if !strings.HasSuffix(configFile, ".json") {
		configFile += ".json"
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg BotConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	cfg.setDefaults()
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// applyEnv overrides secrets from the environment. Credentials never
// belong in the config file itself.
func (c *BotConfig) applyEnv() {
	if v := os.Getenv("BYBIT_API_KEY"); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv("BYBIT_API_SECRET"); v != "" {
		c.Exchange.APISecret = v
	}
	if c.Notifications != nil {
		if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
			c.Notifications.TelegramToken = v
		}
		if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
			c.Notifications.TelegramChat = v
		}
	}
}

func (c *BotConfig) setDefaults() {
	if c.Feed.WSURL == "" {
		c.Feed.WSURL = "wss://stream.bybit.com/v5/public/linear"
	}
	if c.Feed.ReconnectDelay.Duration == 0 {
		c.Feed.ReconnectDelay.Duration = 5 * time.Second
	}
	if c.Feed.MaxGap.Duration == 0 {
		c.Feed.MaxGap.Duration = 5 * time.Minute
	}
	if c.Monitoring.MetricsAddr == "" {
		c.Monitoring.MetricsAddr = ":9090"
	}
	if c.Monitoring.HealthAddr == "" {
		c.Monitoring.HealthAddr = ":8081"
	}
	for i := range c.Instruments {
		if c.Instruments[i].Leverage == 0 {
			c.Instruments[i].Leverage = 1
		}
	}
}

func (c *BotConfig) validate() error {
	if len(c.Instruments) == 0 {
		return fmt.Errorf("at least one instrument is required")
	}
	seen := make(map[string]bool)
	for _, inst := range c.Instruments {
		if inst.Symbol == "" {
			return fmt.Errorf("instrument with empty symbol")
		}
		if seen[inst.Symbol] {
			return fmt.Errorf("duplicate instrument %s", inst.Symbol)
		}
		seen[inst.Symbol] = true
		if inst.MinOrderQty <= 0 {
			return fmt.Errorf("instrument %s: min_order_qty must be positive", inst.Symbol)
		}
	}
	if !c.Paper && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		return fmt.Errorf("exchange credentials are required outside paper mode")
	}
	for _, name := range c.Strategies.Enabled {
		switch name {
		case "market_reversal", "three_strike", "trailing_stop", "stop_and_reverse":
		default:
			return fmt.Errorf("unknown strategy %q", name)
		}
	}
	return nil
}

// InstrumentMap returns the instruments keyed by symbol.
func (c *BotConfig) InstrumentMap() map[string]types.Instrument {
	m := make(map[string]types.Instrument, len(c.Instruments))
	for _, ic := range c.Instruments {
		m[ic.Symbol] = ic.Instrument()
	}
	return m
}

// Symbols returns the configured instrument symbols in order.
func (c *BotConfig) Symbols() []string {
	out := make([]string, len(c.Instruments))
	for i, ic := range c.Instruments {
		out[i] = ic.Symbol
	}
	return out
}
