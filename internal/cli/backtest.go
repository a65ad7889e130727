package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"binance-trader/internal/backtest"
	apperrors "binance-trader/internal/errors"
	"binance-trader/internal/marketdata"
	"binance-trader/internal/models"
	"binance-trader/internal/strategy"
	"binance-trader/pkg/utils"
)

const dateLayout = "2006-01-02"

func newBacktestCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay strategies over historical klines",
		Long: `Replay a strategy over historical klines with the same risk rules and
position sizing used live. Bars come from a CSV file (--csv) or from klines
recorded with 'trader data download'.`,
	}

	cmd.AddCommand(newBacktestRunCmd(app))
	cmd.AddCommand(newBacktestCompareCmd(app))

	return cmd
}

func addBarSourceFlags(cmd *cobra.Command) {
	cmd.Flags().String("csv", "", "kline CSV file")
	cmd.Flags().String("symbol", "", "trading pair (default: active_pair)")
	cmd.Flags().String("interval", "", "kline interval (default: timeframe)")
	cmd.Flags().String("from", "", "start date YYYY-MM-DD for recorded bars")
	cmd.Flags().String("to", "", "end date YYYY-MM-DD for recorded bars")
	cmd.Flags().Float64("capital", 0, "initial capital (default: initial_capital)")
	cmd.Flags().Float64("sl", -1, "stop-loss percent (default: risk.stop_loss_percent)")
	cmd.Flags().Float64("tp", -1, "take-profit percent (default: risk.take_profit_percent)")
	cmd.Flags().Float64("commission", -1, "commission rate (default: backtest.commission_rate)")
	cmd.Flags().StringSlice("param", nil, "strategy parameter key=value (repeatable)")
}

func newBacktestRunCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Backtest one strategy",
		Example: `  trader backtest run --csv data/BTCUSDT-1m.csv --strategy sma_crossover
  trader backtest run --from 2024-01-01 --to 2024-02-01 --strategy rsi --param period=21`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			simCfg, capital, err := backtestSettings(cmd, app)
			if err != nil {
				return err
			}
			bars, err := loadBars(cmd, app, simCfg.Symbol, simCfg.Interval)
			if err != nil {
				return err
			}
			params, err := strategyParams(cmd)
			if err != nil {
				return err
			}

			name, _ := cmd.Flags().GetString("strategy")
			if name == "" {
				name = app.Config.Trading.Strategy
			}

			sim := backtest.NewSimulator(app.Logger)
			report, err := sim.Run(cmd.Context(), backtest.FromRegistry(app.Registry, name, params), simCfg, bars, capital)
			if err != nil {
				return err
			}
			report = report.Rounded()

			if output.IsJSON() {
				return output.JSON(report)
			}

			displayReport(output, report)
			if chart, _ := cmd.Flags().GetBool("chart"); chart {
				output.Println()
				output.Printf("%s", backtest.EquityCurveASCII(report.EquityCurve, 60, 12))
			}
			return nil
		},
	}

	addBarSourceFlags(cmd)
	cmd.Flags().String("strategy", "", "strategy name (default: trading.strategy)")
	cmd.Flags().Bool("chart", true, "print the equity curve")

	return cmd
}

func newBacktestCompareCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "compare",
		Short:   "Backtest several strategies on the same bars",
		Example: `  trader backtest compare --csv data/BTCUSDT-1m.csv --strategies sma_crossover,rsi,macd,hold`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			simCfg, capital, err := backtestSettings(cmd, app)
			if err != nil {
				return err
			}
			bars, err := loadBars(cmd, app, simCfg.Symbol, simCfg.Interval)
			if err != nil {
				return err
			}
			params, err := strategyParams(cmd)
			if err != nil {
				return err
			}

			names, _ := cmd.Flags().GetStringSlice("strategies")
			if len(names) == 0 {
				names = app.Registry.Names()
			}

			sim := backtest.NewSimulator(app.Logger)
			reports := make([]*backtest.Report, 0, len(names))
			for _, name := range names {
				report, err := sim.Run(cmd.Context(), backtest.FromRegistry(app.Registry, name, params), simCfg, bars, capital)
				if err != nil {
					return fmt.Errorf("backtesting %s: %w", name, err)
				}
				reports = append(reports, report.Rounded())
			}

			ranked := backtest.CompareStrategies(reports)
			if output.IsJSON() {
				return output.JSON(ranked)
			}

			output.Bold("Strategy Comparison (%d bars, %s %s)", len(bars), simCfg.Symbol, simCfg.Interval)
			table := NewTable(output, "RANK", "STRATEGY", "PNL %", "MAX DD %", "SHARPE", "TRADES", "WIN %")
			for i, c := range ranked {
				table.AddRow(
					fmt.Sprintf("%d", i+1),
					c.Strategy,
					output.FormatPercent(c.PnLPct),
					fmt.Sprintf("%.2f", c.MaxDrawdownPct),
					fmt.Sprintf("%.2f", c.Sharpe),
					fmt.Sprintf("%d", c.NumTrades),
					fmt.Sprintf("%.1f", c.WinRate),
				)
			}
			table.Render()
			return nil
		},
	}

	addBarSourceFlags(cmd)
	cmd.Flags().StringSlice("strategies", nil, "strategies to compare (default: all)")

	return cmd
}

// backtestSettings merges flags over the configured defaults.
func backtestSettings(cmd *cobra.Command, app *App) (backtest.Config, float64, error) {
	cfg := *app.Config

	if v, _ := cmd.Flags().GetString("symbol"); v != "" {
		cfg.Trading.ActivePair = strings.ToUpper(v)
	}
	if v, _ := cmd.Flags().GetString("interval"); v != "" {
		if _, err := marketdata.ParseTimeframe(v); err != nil {
			return backtest.Config{}, 0, err
		}
		cfg.Trading.Timeframe = v
	}
	if v, _ := cmd.Flags().GetFloat64("sl"); v >= 0 {
		cfg.Risk.StopLossPercent = v
	}
	if v, _ := cmd.Flags().GetFloat64("tp"); v >= 0 {
		cfg.Risk.TakeProfitPercent = v
	}
	if v, _ := cmd.Flags().GetFloat64("commission"); v >= 0 {
		cfg.Backtest.CommissionRate = v
	}
	if err := cfg.Risk.Validate(); err != nil {
		return backtest.Config{}, 0, fmt.Errorf("%w: %w", apperrors.ErrConfigInvalid, err)
	}

	capital := cfg.Trading.InitialCapital
	if v, _ := cmd.Flags().GetFloat64("capital"); v > 0 {
		capital = v
	}

	return backtest.ConfigFrom(&cfg), capital, nil
}

func strategyParams(cmd *cobra.Command) (strategy.Params, error) {
	pairs, _ := cmd.Flags().GetStringSlice("param")
	params, err := ParseParams(pairs)
	if err != nil {
		return nil, err
	}
	return strategy.Params(params), nil
}

// loadBars reads the CSV file when given, otherwise the recorded klines.
func loadBars(cmd *cobra.Command, app *App, symbol, interval string) ([]models.Bar, error) {
	if path, _ := cmd.Flags().GetString("csv"); path != "" {
		return marketdata.ReadCSVFile(path, symbol, interval)
	}

	from, to, err := dateRange(cmd)
	if err != nil {
		return nil, err
	}
	bars, err := app.BarStore()
	if err != nil {
		return nil, err
	}
	loaded, err := bars.GetBars(cmd.Context(), symbol, interval, from, to)
	if err != nil {
		return nil, err
	}
	if len(loaded) == 0 {
		return nil, fmt.Errorf("%w: no %s %s klines recorded between %s and %s (run 'trader data download')",
			apperrors.ErrDataNotFound, symbol, interval, from.Format(dateLayout), to.Format(dateLayout))
	}
	return loaded, nil
}

// dateRange parses --from/--to. The default is the last 30 days; --to is
// inclusive of the whole day.
func dateRange(cmd *cobra.Command) (time.Time, time.Time, error) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)

	if v, _ := cmd.Flags().GetString("from"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
		}
		from = t
	}
	if v, _ := cmd.Flags().GetString("to"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
		}
		to = t.Add(24*time.Hour - time.Millisecond)
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("--from must be before --to")
	}
	return from, to, nil
}

func displayReport(output *Output, r *backtest.Report) {
	output.Box(fmt.Sprintf("Backtest: %s on %s %s", r.Strategy, r.Symbol, r.Interval), []string{
		fmt.Sprintf("Bars:            %d", r.Bars),
		fmt.Sprintf("Initial Capital: %s", utils.FormatCurrency(r.InitialCapital)),
		fmt.Sprintf("Final Value:     %s", utils.FormatCurrency(r.FinalValue)),
		fmt.Sprintf("Total PnL:       %s (%s)", output.FormatPnL(r.TotalPnL), output.FormatPercent(r.PnLPct)),
		fmt.Sprintf("Max Drawdown:    %.2f%%", r.MaxDrawdownPct),
		fmt.Sprintf("Sharpe Ratio:    %.2f", r.Sharpe),
		fmt.Sprintf("Trades:          %d", r.NumTrades),
		fmt.Sprintf("Commission:      %s", utils.FormatCurrency(r.TotalCommission)),
		fmt.Sprintf("Round Trips:     %d (win rate %.1f%%, profit factor %.2f)",
			r.Stats.RoundTrips, r.Stats.WinRate, r.Stats.ProfitFactor),
	})

	if len(r.Trades) == 0 {
		return
	}
	output.Println()
	output.Bold("Last %d Trades", len(r.Trades))
	table := NewTable(output, "TIME", "SIDE", "PRICE", "QTY", "ORIGIN", "REASON")
	for _, t := range r.Trades {
		table.AddRow(
			FormatDateTime(t.Timestamp),
			output.Side(string(t.Side)),
			FormatPrice(t.Price),
			utils.FormatQuantity(t.Quantity),
			string(t.Origin),
			TruncateString(t.Reason, 48),
		)
	}
	table.Render()
}

