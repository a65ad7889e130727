package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"binance-trader/internal/models"
	"binance-trader/pkg/utils"
)

func newTradeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trade",
		Short: "Record manual trades",
		Long: `Record a manual trade at the current or a given price. Manual trades skip
the position sizing rules and are tagged MANUAL in the trade history.`,
	}

	cmd.PersistentFlags().String("symbol", "", "trading pair (default: active_pair)")

	cmd.AddCommand(newManualOrderCmd(app, models.OrderSideBuy))
	cmd.AddCommand(newManualOrderCmd(app, models.OrderSideSell))
	cmd.AddCommand(newExitCmd(app))

	return cmd
}

func newManualOrderCmd(app *App, side models.OrderSide) *cobra.Command {
	cmd := &cobra.Command{
		Use:   strings.ToLower(string(side)),
		Short: fmt.Sprintf("Record a manual %s", side),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol := tradeSymbol(cmd, app)

			qty, _ := cmd.Flags().GetFloat64("qty")
			if qty == 0 {
				qty = app.Config.Trading.ManualQuantity
			}

			price, _ := cmd.Flags().GetFloat64("price")
			if price == 0 {
				p, err := latestPrice(cmd.Context(), app, symbol)
				if err != nil {
					return fmt.Errorf("%w: pass --price to record anyway", err)
				}
				price = p
			}
			if !app.Config.CanPlaceRealOrders() {
				app.Paper().UpdatePrice(symbol, price)
			}

			policy, err := app.Policy()
			if err != nil {
				return err
			}
			trade, err := policy.Manual(cmd.Context(), symbol, side, qty, price)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(trade)
			}
			output.Success("✓ %s %s %s @ %s recorded (%s)",
				trade.Side, utils.FormatQuantity(trade.Quantity), trade.Symbol, FormatPrice(trade.Price), trade.ID)
			return nil
		},
	}

	cmd.Flags().Float64("qty", 0, "quantity (default: trading.manual_quantity)")
	cmd.Flags().Float64("price", 0, "fill price (default: latest price)")
	return cmd
}

func newExitCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "exit",
		Short: "Close the open position at the current price",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			pm, err := app.PositionManager()
			if err != nil {
				return err
			}
			trade, err := pm.ExitPosition(cmd.Context(), tradeSymbol(cmd, app))
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(trade)
			}
			if trade == nil {
				output.Info("No open position")
				return nil
			}
			output.Success("✓ Position closed: %s %s @ %s", trade.Side, utils.FormatQuantity(trade.Quantity), FormatPrice(trade.Price))
			return nil
		},
	}
}

// latestPrice asks Binance for the ticker price. In paper mode a failed
// request falls back to the paper broker, seeded from the newest recorded
// kline.
func latestPrice(ctx context.Context, app *App, symbol string) (float64, error) {
	price, err := app.Binance().GetPrice(ctx, symbol)
	if err == nil || app.Config.CanPlaceRealOrders() {
		return price, err
	}
	app.Logger.Warn().Err(err).Str("symbol", symbol).Msg("Ticker unavailable, using last recorded close")
	if paperPrice, perr := app.PaperPrice(ctx, symbol); perr == nil {
		return paperPrice, nil
	}
	return 0, err
}

func tradeSymbol(cmd *cobra.Command, app *App) string {
	symbol, _ := cmd.Flags().GetString("symbol")
	if symbol == "" {
		symbol = app.Config.Trading.ActivePair
	}
	return strings.ToUpper(symbol)
}

