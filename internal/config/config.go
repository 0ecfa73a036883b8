// Package config loads the trading configuration from a JSON document,
// with environment overrides for deployment-specific values and
// credentials expanded from the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AccountConfig describes one exchange account the loop trades against.
type AccountConfig struct {
	Name      string `json:"name"`
	Exchange  string `json:"exchange"` // "binance" or "bybit"
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	Testnet   bool   `json:"testnet"`
	Active    bool   `json:"active"`
}

// TradingConfig holds risk and position lifecycle parameters.
type TradingConfig struct {
	RiskPercent         float64  `json:"risk_percent"`
	MinBuyNotional      float64  `json:"min_buy_notional"`
	MinSellNotional     float64  `json:"min_sell_notional"`
	StopLossPercent     float64  `json:"stop_loss_percent"`
	TakeProfitPercent   float64  `json:"take_profit_percent"`
	TrailingStopPercent float64  `json:"trailing_stop_percent"`
	QuoteCurrency       string   `json:"quote_currency"`
	PreferredAssets     []string `json:"preferred_assets"`
	CooldownReset       string   `json:"cooldown_reset"` // "HH:MM"
	CycleSeconds        int      `json:"cycle_seconds"`

	DynamicSelection DynamicSelectionConfig `json:"dynamic_selection"`
}

// DynamicSelectionConfig controls momentum-ranked watchlist expansion.
type DynamicSelectionConfig struct {
	Enabled        bool    `json:"enabled"`
	TopN           int     `json:"top_n"`
	MinQuoteVolume float64 `json:"min_quote_volume"`
}

// SignalConfig holds indicator periods and the multi-timeframe setup.
type SignalConfig struct {
	Timeframes         []string  `json:"timeframes"`
	Weights            []float64 `json:"weights"`
	SMAPeriod          int       `json:"sma_period"`
	RSIPeriod          int       `json:"rsi_period"`
	MACDFast           int       `json:"macd_fast"`
	MACDSlow           int       `json:"macd_slow"`
	MACDSignal         int       `json:"macd_signal"`
	BollingerPeriod    int       `json:"bollinger_period"`
	BollingerK         float64   `json:"bollinger_k"`
	ADXPeriod          int       `json:"adx_period"`
	CandleLimit        int       `json:"candle_limit"`
	RefreshConcurrency int       `json:"refresh_concurrency"`
	RefreshSeconds     int       `json:"refresh_seconds"`
}

type Config struct {
	Environment   string  `json:"environment"`
	LogLevel      string  `json:"log_level"`
	DatabasePath  string  `json:"database_path"`
	InitialBudget float64 `json:"initial_budget"`
	MetricsPort   int     `json:"metrics_port"`

	Accounts []AccountConfig `json:"accounts"`
	Trading  TradingConfig   `json:"trading"`
	Signals  SignalConfig    `json:"signals"`
}

// DefaultInitialBudget is the configured default the reconciler compares
// against when deciding whether the initial value was ever set.
const DefaultInitialBudget = 1000.0

// Load reads .env when present, then the JSON config file from
// CONFIG_PATH (default config.json), then applies env overrides.
// A missing config file yields the defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	path := getEnv("CONFIG_PATH", "config.json")
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.Environment = getEnv("ENV", cfg.Environment)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.DatabasePath = getEnv("DATABASE_PATH", cfg.DatabasePath)
	cfg.MetricsPort = getEnvInt("METRICS_PORT", cfg.MetricsPort)

	for i := range cfg.Accounts {
		cfg.Accounts[i].APIKey = os.ExpandEnv(cfg.Accounts[i].APIKey)
		cfg.Accounts[i].APISecret = os.ExpandEnv(cfg.Accounts[i].APISecret)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Environment:   "development",
		LogLevel:      "info",
		DatabasePath:  "cryptomind.db",
		InitialBudget: DefaultInitialBudget,
		MetricsPort:   9090,
		Trading: TradingConfig{
			RiskPercent:       5.0,
			MinBuyNotional:    15.0,
			MinSellNotional:   5.0,
			StopLossPercent:   5.0,
			TakeProfitPercent: 0,
			QuoteCurrency:     "USDT",
			PreferredAssets:   []string{"BTC", "ETH"},
			CooldownReset:     "00:00",
			CycleSeconds:      60,
			DynamicSelection: DynamicSelectionConfig{
				Enabled:        false,
				TopN:           5,
				MinQuoteVolume: 1_000_000,
			},
		},
		Signals: SignalConfig{
			Timeframes:         []string{"1h", "4h", "1d"},
			Weights:            []float64{0.2, 0.3, 0.5},
			SMAPeriod:          20,
			RSIPeriod:          14,
			MACDFast:           12,
			MACDSlow:           26,
			MACDSignal:         9,
			BollingerPeriod:    20,
			BollingerK:         2.0,
			ADXPeriod:          14,
			CandleLimit:        200,
			RefreshConcurrency: 5,
			RefreshSeconds:     300,
		},
	}
}

// Validate checks ranges and repairs what has a documented fallback.
func (c *Config) Validate() error {
	if c.Trading.RiskPercent <= 0 || c.Trading.RiskPercent > 100 {
		return fmt.Errorf("risk_percent must be in (0, 100], got %v", c.Trading.RiskPercent)
	}
	if c.Trading.MinBuyNotional < 0 || c.Trading.MinSellNotional < 0 {
		return fmt.Errorf("minimum notionals must be non-negative")
	}
	if c.Trading.StopLossPercent < 0 || c.Trading.StopLossPercent >= 100 {
		return fmt.Errorf("stop_loss_percent must be in [0, 100), got %v", c.Trading.StopLossPercent)
	}
	if len(c.Signals.Timeframes) == 0 {
		return fmt.Errorf("at least one timeframe is required")
	}
	if _, _, err := ParseResetTime(c.Trading.CooldownReset); err != nil {
		return fmt.Errorf("cooldown_reset: %w", err)
	}
	if c.Signals.RefreshConcurrency <= 0 {
		c.Signals.RefreshConcurrency = 5
	}
	if c.Signals.CandleLimit <= 0 {
		c.Signals.CandleLimit = 200
	}
	return nil
}

// CycleInterval returns the loop period as a duration.
func (c *Config) CycleInterval() time.Duration {
	if c.Trading.CycleSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Trading.CycleSeconds) * time.Second
}

// RefreshInterval returns the market-data refresh period.
func (c *Config) RefreshInterval() time.Duration {
	if c.Signals.RefreshSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Signals.RefreshSeconds) * time.Second
}

// ActiveAccounts filters accounts flagged active.
func (c *Config) ActiveAccounts() []AccountConfig {
	var out []AccountConfig
	for _, a := range c.Accounts {
		if a.Active {
			out = append(out, a)
		}
	}
	return out
}

// ParseResetTime parses a "HH:MM" daily boundary.
func ParseResetTime(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid HH:MM time %q", s)
	}
	return t.Hour(), t.Minute(), nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
