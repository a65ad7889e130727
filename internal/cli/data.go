package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"binance-trader/internal/broker"
	"binance-trader/internal/marketdata"
)

func newDataCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Historical kline data",
	}

	cmd.PersistentFlags().String("symbol", "", "trading pair (default: active_pair)")
	cmd.PersistentFlags().String("interval", "", "kline interval (default: timeframe)")
	cmd.PersistentFlags().String("from", "", "start date YYYY-MM-DD (default: 30 days ago)")
	cmd.PersistentFlags().String("to", "", "end date YYYY-MM-DD (default: now)")

	cmd.AddCommand(newDownloadCmd(app))
	cmd.AddCommand(newExportCmd(app))

	return cmd
}

func dataTarget(cmd *cobra.Command, app *App) (string, string, error) {
	symbol, _ := cmd.Flags().GetString("symbol")
	if symbol == "" {
		symbol = app.Config.Trading.ActivePair
	}
	interval, _ := cmd.Flags().GetString("interval")
	if interval == "" {
		interval = app.Config.Trading.Timeframe
	}
	if _, err := marketdata.ParseTimeframe(interval); err != nil {
		return "", "", err
	}
	return strings.ToUpper(symbol), interval, nil
}

func newDownloadCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download klines from Binance into the bar store",
		Example: `  trader data download --symbol BTCUSDT --interval 15m --from 2024-01-01
  trader data download --out data/BTCUSDT-1m.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			symbol, interval, err := dataTarget(cmd, app)
			if err != nil {
				return err
			}
			from, to, err := dateRange(cmd)
			if err != nil {
				return err
			}

			started := time.Now()
			bars, err := app.Binance().GetHistorical(cmd.Context(), broker.HistoricalRequest{
				Symbol:   symbol,
				Interval: interval,
				From:     from,
				To:       to,
			})
			if err != nil {
				return err
			}
			bars = marketdata.ClosedOnly(bars)

			barStore, err := app.BarStore()
			if err != nil {
				return err
			}
			if err := barStore.UpsertBars(cmd.Context(), bars); err != nil {
				return err
			}

			out, _ := cmd.Flags().GetString("out")
			if out != "" {
				if err := marketdata.WriteCSVFile(out, bars); err != nil {
					return err
				}
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"symbol":   symbol,
					"interval": interval,
					"bars":     len(bars),
					"csv":      out,
				})
			}
			output.Success("✓ %d %s %s klines stored in %s", len(bars), symbol, interval, FormatDuration(time.Since(started)))
			if out != "" {
				output.Dim("CSV written to %s", out)
			}
			return nil
		},
	}

	cmd.Flags().String("out", "", "also write the klines to this CSV file")
	return cmd
}

func newExportCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file.csv>",
		Short: "Write recorded klines to a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			symbol, interval, err := dataTarget(cmd, app)
			if err != nil {
				return err
			}
			bars, err := loadBars(cmd, app, symbol, interval)
			if err != nil {
				return err
			}
			if err := marketdata.WriteCSVFile(args[0], bars); err != nil {
				return fmt.Errorf("writing %s: %w", args[0], err)
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"file": args[0], "bars": len(bars)})
			}
			output.Success("✓ %d klines written to %s", len(bars), args[0])
			return nil
		},
	}
}
