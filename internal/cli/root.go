// Package cli provides the command-line interface for the trading application.
package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"binance-trader/internal/broker"
	"binance-trader/internal/config"
	apperrors "binance-trader/internal/errors"
	"binance-trader/internal/logging"
	"binance-trader/internal/store"
	"binance-trader/internal/strategy"
	"binance-trader/internal/trading"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-06-01"
)

// skipConfig marks commands that run without a config file.
const skipConfig = "skip-config"

// App holds the application dependencies. Stores and clients are opened on
// first use so commands only pay for what they touch.
type App struct {
	Config    *config.Config
	ConfigDir string
	Logger    zerolog.Logger
	Registry  *strategy.Registry

	trades  store.TradeStore
	bars    *store.GormBarStore
	binance *broker.BinanceClient
	paper   *broker.PaperBroker
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{
		Logger:   zerolog.Nop(),
		Registry: strategy.DefaultRegistry(),
	}

	rootCmd := &cobra.Command{
		Use:   "trader",
		Short: "Binance Trader - single-pair spot trading engine",
		Long: `Binance Trader runs a strategy against one Binance spot pair.

The position is always derived from the recorded trades. Stop-loss and
take-profit rules are checked on every closed bar before the strategy.
Strategies can be replayed over historical klines with the backtest
command before running them live or on paper.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/binance-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newStrategiesCmd(app))
	rootCmd.AddCommand(newBacktestCmd(app))
	rootCmd.AddCommand(newLiveCmd(app))
	rootCmd.AddCommand(newAccountCmd(app))
	rootCmd.AddCommand(newTradeCmd(app))
	rootCmd.AddCommand(newDataCmd(app))

	return rootCmd
}

func (a *App) init(cmd *cobra.Command) error {
	a.ConfigDir, _ = cmd.Flags().GetString("config")
	if a.ConfigDir == "" {
		a.ConfigDir = config.DefaultConfigDir()
	}

	if cmd.Annotations[skipConfig] == "true" {
		a.Config = config.Default()
	} else {
		cfg, err := config.Load(a.ConfigDir)
		if err != nil {
			return err
		}
		a.Config = cfg
		a.Logger = logging.NewLoggerWithConfig(cfg.Log)
	}

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logging.SetDebugLevel()
		a.Logger = a.Logger.Level(zerolog.DebugLevel)
	}
	return nil
}

// TradeStore opens the SQLite trade record.
func (a *App) TradeStore() (store.TradeStore, error) {
	if a.trades == nil {
		s, err := store.NewSQLiteStore(a.Config.Store.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening trade store: %w", err)
		}
		a.trades = s
		a.Logger.Debug().Str("path", a.Config.Store.DBPath).Msg("SQLite store initialized")
	}
	return a.trades, nil
}

// BarStore opens the recorded klines, kept in the same database file.
func (a *App) BarStore() (*store.GormBarStore, error) {
	if a.bars == nil {
		s, err := store.NewGormBarStore(a.Config.Store.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening bar store: %w", err)
		}
		a.bars = s
	}
	return a.bars, nil
}

// Binance returns the spot client. Orders are only allowed when live mode,
// real trading and credentials are all configured.
func (a *App) Binance() *broker.BinanceClient {
	if a.binance == nil {
		a.binance = broker.NewBinanceClient(broker.BinanceConfig{
			APIKey:      a.Config.Credentials.Binance.APIKey,
			SecretKey:   a.Config.Credentials.Binance.SecretKey,
			Testnet:     a.Config.Binance.Testnet,
			AllowOrders: a.Config.CanPlaceRealOrders(),
		}, a.Logger)
	}
	return a.binance
}

// Paper returns the paper broker used when real orders are not allowed.
func (a *App) Paper() *broker.PaperBroker {
	if a.paper == nil {
		a.paper = broker.NewPaperBroker(a.Logger)
	}
	return a.paper
}

// PaperPrice returns the paper broker's price for symbol, loading the close
// of the newest recorded kline when the broker has none yet.
func (a *App) PaperPrice(ctx context.Context, symbol string) (float64, error) {
	paper := a.Paper()
	if price, err := paper.GetPrice(ctx, symbol); err == nil {
		return price, nil
	}

	bars, err := a.BarStore()
	if err != nil {
		return 0, err
	}
	interval := a.Config.Trading.Timeframe
	latest, err := bars.LatestBarTime(ctx, symbol, interval)
	if err != nil {
		return 0, err
	}
	if latest.IsZero() {
		return 0, fmt.Errorf("%w: no recorded %s %s klines", apperrors.ErrPriceUnavailable, symbol, interval)
	}
	recent, err := bars.GetBars(ctx, symbol, interval, latest, latest)
	if err != nil {
		return 0, err
	}
	for _, bar := range recent {
		paper.ProcessBar(bar)
	}
	return paper.GetPrice(ctx, symbol)
}

// OrderPlacer picks the exchange or the paper broker.
func (a *App) OrderPlacer() trading.OrderPlacer {
	if a.Config.CanPlaceRealOrders() {
		return a.Binance()
	}
	return a.Paper()
}

// Policy builds the execution policy over the trade store. Live and manual
// fills carry no simulated commission.
func (a *App) Policy() (*trading.Policy, error) {
	trades, err := a.TradeStore()
	if err != nil {
		return nil, err
	}
	return trading.NewPolicy(trades, a.Logger, trading.WithOrderPlacer(a.OrderPlacer())), nil
}

// PositionManager builds the position view with Binance prices.
func (a *App) PositionManager() (*trading.PositionManager, error) {
	policy, err := a.Policy()
	if err != nil {
		return nil, err
	}
	trades, err := a.TradeStore()
	if err != nil {
		return nil, err
	}
	return trading.NewPositionManager(trades, a.Binance(), policy, a.Config.Trading.InitialCapital, a.Logger), nil
}

// Close releases opened stores.
func (a *App) Close() error {
	var firstErr error
	if a.trades != nil {
		if err := a.trades.Close(); err != nil {
			firstErr = err
		}
		a.trades = nil
	}
	if a.bars != nil {
		if err := a.bars.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		a.bars = nil
	}
	return firstErr
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("Binance Trader v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "path",
		Short:       "Show configuration directory path",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": app.ConfigDir})
			}
			output.Println(app.ConfigDir)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid (%s)", filepath.Join(app.ConfigDir, "config.toml"))
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Trading Configuration")
	output.Printf("  Mode:            %s\n", cfg.Trading.Mode)
	output.Printf("  Active Pair:     %s\n", cfg.Trading.ActivePair)
	output.Printf("  Timeframe:       %s\n", cfg.Trading.Timeframe)
	output.Printf("  Strategy:        %s\n", cfg.Trading.Strategy)
	output.Printf("  Capital:         %.2f\n", cfg.Trading.InitialCapital)
	output.Printf("  Real Orders:     %v\n", cfg.CanPlaceRealOrders())
	output.Println()

	output.Bold("Risk Configuration")
	output.Printf("  Stop Loss:       %.2f%%\n", cfg.Risk.StopLossPercent)
	output.Printf("  Take Profit:     %.2f%%\n", cfg.Risk.TakeProfitPercent)
	output.Printf("  Trailing Stop:   %v (not implemented)\n", cfg.Risk.TrailingStop)
	output.Println()

	output.Bold("Backtest Configuration")
	output.Printf("  Commission:      %.4f\n", cfg.Backtest.CommissionRate)
	output.Printf("  Report Trades:   %d\n", cfg.Backtest.ReportTrades)
	output.Printf("  Curve Points:    %d\n", cfg.Backtest.CurvePoints)
	output.Printf("  Reconcile Every: %d\n", cfg.Backtest.ReconcileEvery)
	output.Println()

	output.Bold("Storage")
	output.Printf("  Database:        %s\n", cfg.Store.DBPath)
	output.Printf("  Testnet:         %v\n", cfg.Binance.Testnet)
}

func newStrategiesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:         "strategies",
		Short:       "List available strategies",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			names := app.Registry.Names()
			if output.IsJSON() {
				return output.JSON(names)
			}
			for _, name := range names {
				output.Println(name)
			}
			return nil
		},
	}
}
