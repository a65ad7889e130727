// Package config provides configuration management for the trading application.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"binance-trader/internal/logging"
	"binance-trader/internal/marketdata"
)

// Config holds all application configuration.
type Config struct {
	Trading     TradingConfig     `mapstructure:"trading"`
	Risk        RiskConfig        `mapstructure:"risk"`
	Backtest    BacktestConfig    `mapstructure:"backtest"`
	Binance     BinanceConfig     `mapstructure:"binance"`
	Store       StoreConfig       `mapstructure:"store"`
	Log         logging.LogConfig `mapstructure:"log"`
	Credentials Credentials       `mapstructure:"-" json:"-"` // Loaded separately
}

// TradingConfig holds trading-related configuration.
type TradingConfig struct {
	Mode               string  `mapstructure:"mode"`        // "live", "paper"
	ActivePair         string  `mapstructure:"active_pair"` // e.g. BTCUSDT
	Timeframe          string  `mapstructure:"timeframe"`   // kline interval
	Strategy           string  `mapstructure:"strategy"`
	InitialCapital     float64 `mapstructure:"initial_capital"`
	RealTradingEnabled bool    `mapstructure:"real_trading_enabled"`
	ManualQuantity     float64 `mapstructure:"manual_quantity"`
}

// RiskConfig holds the stop-loss / take-profit rules evaluated on every bar.
type RiskConfig struct {
	StopLossPercent   float64 `mapstructure:"stop_loss_percent"`
	TakeProfitPercent float64 `mapstructure:"take_profit_percent"`
	// TrailingStop is accepted for compatibility; no rule implements it yet.
	TrailingStop bool `mapstructure:"trailing_stop"`
}

// Validate checks that both thresholds are in [0, 100).
func (r RiskConfig) Validate() error {
	if r.StopLossPercent < 0 || r.StopLossPercent >= 100 {
		return fmt.Errorf("stop_loss_percent must be in [0, 100), got %v", r.StopLossPercent)
	}
	if r.TakeProfitPercent < 0 || r.TakeProfitPercent >= 100 {
		return fmt.Errorf("take_profit_percent must be in [0, 100), got %v", r.TakeProfitPercent)
	}
	return nil
}

// BacktestConfig holds simulator settings.
type BacktestConfig struct {
	CommissionRate float64 `mapstructure:"commission_rate"`
	ReportTrades   int     `mapstructure:"report_trades"`
	CurvePoints    int     `mapstructure:"curve_points"`
	ReconcileEvery int     `mapstructure:"reconcile_every"`
}

// BinanceConfig holds exchange connectivity settings.
type BinanceConfig struct {
	Testnet bool `mapstructure:"testnet"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// Credentials holds API credentials.
type Credentials struct {
	Binance BinanceCredentials `mapstructure:"binance"`
}

// BinanceCredentials holds Binance API credentials.
type BinanceCredentials struct {
	APIKey    string `mapstructure:"api_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/binance-trader"
	}
	return filepath.Join(home, ".config", "binance-trader")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	v := newViper(configDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, createTemplateConfig(configDir, "config")
		}
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.resolvePaths(configDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	cfg := &Config{}
	v := viper.New()
	setDefaults(v)
	_ = v.Unmarshal(cfg)
	cfg.resolvePaths(DefaultConfigDir())
	return cfg
}

func newViper(configDir string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trading.mode", "paper")
	v.SetDefault("trading.active_pair", "BTCUSDT")
	v.SetDefault("trading.timeframe", "1m")
	v.SetDefault("trading.strategy", "sma_crossover")
	v.SetDefault("trading.initial_capital", 10000.0)
	v.SetDefault("trading.real_trading_enabled", false)
	v.SetDefault("trading.manual_quantity", 0.001)

	v.SetDefault("risk.stop_loss_percent", 2.0)
	v.SetDefault("risk.take_profit_percent", 4.0)
	v.SetDefault("risk.trailing_stop", false)

	v.SetDefault("backtest.commission_rate", 0.001)
	v.SetDefault("backtest.report_trades", 10)
	v.SetDefault("backtest.curve_points", 100)
	v.SetDefault("backtest.reconcile_every", 500)

	v.SetDefault("binance.testnet", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("log.file", true)
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age", 30)
}

func (c *Config) resolvePaths(configDir string) {
	if c.Store.DBPath == "" {
		c.Store.DBPath = filepath.Join(configDir, "trader.db")
	}
	if c.Log.FilePath == "" {
		c.Log.FilePath = filepath.Join(configDir, "logs", "trader.log")
	}
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Public market data works without keys.
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		cfg.Credentials.Binance.APIKey = v
	}
	if v := os.Getenv("BINANCE_SECRET_KEY"); v != "" {
		cfg.Credentials.Binance.SecretKey = v
	}

	if v := os.Getenv("TRADING_MODE"); v != "" {
		cfg.Trading.Mode = v
	}
	if v := os.Getenv("REAL_TRADING_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Trading.RealTradingEnabled = enabled
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Trading.Mode != "" && c.Trading.Mode != "live" && c.Trading.Mode != "paper" {
		return fmt.Errorf("invalid trading mode: %s (must be 'live' or 'paper')", c.Trading.Mode)
	}
	if strings.TrimSpace(c.Trading.ActivePair) == "" {
		return fmt.Errorf("active_pair is required")
	}
	if _, err := marketdata.ParseTimeframe(c.Trading.Timeframe); err != nil {
		return err
	}
	if c.Trading.InitialCapital <= 0 {
		return fmt.Errorf("initial_capital must be positive")
	}
	if c.Trading.ManualQuantity < 0 {
		return fmt.Errorf("manual_quantity must be non-negative")
	}

	if err := c.Risk.Validate(); err != nil {
		return err
	}

	if c.Backtest.CommissionRate < 0 || c.Backtest.CommissionRate >= 1 {
		return fmt.Errorf("commission_rate must be in [0, 1)")
	}
	if c.Backtest.ReportTrades < 0 || c.Backtest.CurvePoints < 0 || c.Backtest.ReconcileEvery < 0 {
		return fmt.Errorf("backtest sizes must be non-negative")
	}

	return nil
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return c.Trading.Mode != "live"
}

// CanPlaceRealOrders reports whether orders may reach the exchange.
func (c *Config) CanPlaceRealOrders() bool {
	return c.Trading.Mode == "live" && c.Trading.RealTradingEnabled &&
		c.Credentials.Binance.APIKey != "" && c.Credentials.Binance.SecretKey != ""
}
