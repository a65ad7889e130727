package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"binance-trader/internal/config"
	"binance-trader/internal/live"
	"binance-trader/internal/models"
	"binance-trader/internal/trading"
)

func newLiveCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Run the strategy on the live kline stream",
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Process closed bars until interrupted",
		Long: `Subscribe to the kline stream of the active pair and process every closed
bar: stop-loss and take-profit first, then the strategy. Trades are recorded
in the trade store; exchange orders are only sent in live mode with
real_trading_enabled and credentials set. Edits to config.toml apply on the
next bar. Stop with Ctrl+C; the bar in progress completes first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			name, _ := cmd.Flags().GetString("strategy")
			if name == "" {
				name = app.Config.Trading.Strategy
			}
			params, err := strategyParams(cmd)
			if err != nil {
				return err
			}
			strat, err := app.Registry.New(name, params)
			if err != nil {
				return err
			}

			provider, err := config.NewWatcher(app.ConfigDir, app.Logger)
			if err != nil {
				return err
			}
			trades, err := app.TradeStore()
			if err != nil {
				return err
			}
			bars, err := app.BarStore()
			if err != nil {
				return err
			}

			var onBar func(models.Bar)
			if !app.Config.CanPlaceRealOrders() {
				onBar = app.Paper().ProcessBar
			}

			svc := live.NewService(live.Deps{
				Config:         provider,
				Strategy:       strat,
				Trades:         trades,
				Policy:         trading.NewPolicy(trades, app.Logger, trading.WithOrderPlacer(app.OrderPlacer())),
				Stream:         app.Binance(),
				Recorder:       bars,
				OnBar:          onBar,
				InitialCapital: app.Config.Trading.InitialCapital,
				Logger:         app.Logger,
			})

			if app.Config.CanPlaceRealOrders() {
				output.Warning("⚠ REAL TRADING ENABLED: orders will be sent to Binance")
			} else {
				output.Info("Paper mode: trades are recorded locally only")
			}
			output.Printf("Streaming %s %s with %s. Press Ctrl+C to stop.\n",
				provider.ActivePair(), provider.Timeframe(), strat.Name())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := svc.Run(ctx); err != nil {
				return err
			}

			status := svc.Status()
			if output.IsJSON() {
				return output.JSON(status)
			}
			lines := []string{
				"Bars processed:  " + itoa(status.BarsProcessed),
				"Trades executed: " + itoa(status.TradesExecuted),
				"Last bar close:  " + FormatDateTime(status.LastBarClose),
				"Last error:      " + orDash(status.LastError),
			}
			if onBar != nil {
				lines = append(lines, "Paper orders:    "+itoa(len(app.Paper().Orders())))
			}
			output.Box("Live Session", lines)
			return nil
		},
	}

	run.Flags().String("strategy", "", "strategy name (default: trading.strategy)")
	run.Flags().StringSlice("param", nil, "strategy parameter key=value (repeatable)")

	cmd.AddCommand(run)
	return cmd
}
