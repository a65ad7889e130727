package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"binance-trader/internal/ledger"
	"binance-trader/internal/models"
	"binance-trader/internal/store"
	"binance-trader/internal/trading"
	"binance-trader/pkg/utils"
)

func newAccountCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Wallet, position and trade history",
	}

	cmd.AddCommand(newBalanceCmd(app))
	cmd.AddCommand(newPositionCmd(app))
	cmd.AddCommand(newHistoryCmd(app))
	cmd.PersistentFlags().String("symbol", "", "trading pair (default: active_pair)")

	return cmd
}

func newBalanceCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show cash, equity and total PnL",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			summary, err := positionSummary(cmd, app)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(summary)
			}

			lines := []string{
				fmt.Sprintf("Cash:            %s", utils.FormatCurrency(summary.Cash)),
				fmt.Sprintf("Invested:        %s", utils.FormatCurrency(summary.Invested)),
				fmt.Sprintf("Equity:          %s", utils.FormatCurrency(summary.Equity)),
				fmt.Sprintf("Initial Capital: %s", utils.FormatCurrency(summary.InitialCapital)),
				fmt.Sprintf("Total PnL:       %s (%s)", output.FormatPnL(summary.TotalPnL), output.FormatPercent(summary.TotalPnLPercent)),
				fmt.Sprintf("Trades:          %d", summary.TradeCount),
			}
			output.Box("Wallet", lines)
			if summary.MarkUnavailable && summary.State != ledger.StateFlat {
				output.Warning("Price unavailable, position valued at entry price")
			}
			return nil
		},
	}
}

func newPositionCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "position",
		Short: "Show the open position",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			summary, err := positionSummary(cmd, app)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(summary)
			}

			if summary.State == ledger.StateFlat {
				output.Info("No open position on %s", summary.Symbol)
				return nil
			}

			mark := FormatPrice(summary.Mark)
			if summary.MarkUnavailable {
				mark += " (entry, price unavailable)"
			}
			output.Box(fmt.Sprintf("%s %s", summary.State, summary.Symbol), []string{
				fmt.Sprintf("Quantity:   %s", utils.FormatQuantity(summary.Position)),
				fmt.Sprintf("Avg Entry:  %s", FormatPrice(summary.AvgEntry)),
				fmt.Sprintf("Mark:       %s", mark),
				fmt.Sprintf("Unrealized: %s (%s)", output.FormatPnL(summary.UnrealizedPnL), output.FormatPercent(summary.PnLPercent)),
				fmt.Sprintf("Opened:     %s", FormatDateTime(summary.OpenedAt)),
			})
			return nil
		},
	}
}

func positionSummary(cmd *cobra.Command, app *App) (*trading.PositionSummary, error) {
	pm, err := app.PositionManager()
	if err != nil {
		return nil, err
	}
	symbol, _ := cmd.Flags().GetString("symbol")
	if symbol == "" {
		symbol = app.Config.Trading.ActivePair
	}
	return pm.GetPositionSummary(cmd.Context(), strings.ToUpper(symbol))
}

func newHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded trades, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			filter := store.TradeFilter{}
			filter.Symbol, _ = cmd.Flags().GetString("symbol")
			filter.Symbol = strings.ToUpper(filter.Symbol)
			filter.Limit, _ = cmd.Flags().GetInt("limit")
			if side, _ := cmd.Flags().GetString("side"); side != "" {
				filter.Side = models.OrderSide(strings.ToUpper(side))
			}
			if origin, _ := cmd.Flags().GetString("origin"); origin != "" {
				filter.Origin = models.TradeOrigin(strings.ToUpper(origin))
			}
			if days, _ := cmd.Flags().GetInt("days"); days > 0 {
				filter.StartDate = time.Now().UTC().AddDate(0, 0, -days)
			}

			trades, err := app.TradeStore()
			if err != nil {
				return err
			}
			list, err := trades.QueryTrades(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(list)
			}
			if len(list) == 0 {
				output.Info("No trades recorded")
				return nil
			}

			table := NewTable(output, "TIME", "ID", "SYMBOL", "SIDE", "PRICE", "QTY", "FEE", "ORIGIN", "REASON")
			for _, t := range list {
				table.AddRow(
					FormatDateTime(t.Timestamp),
					TruncateString(t.ID, 13),
					t.Symbol,
					output.Side(string(t.Side)),
					FormatPrice(t.Price),
					utils.FormatQuantity(t.Quantity),
					fmt.Sprintf("%.4f", t.Commission),
					string(t.Origin),
					TruncateString(t.Reason, 40),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().Int("limit", 50, "maximum number of trades")
	cmd.Flags().String("side", "", "filter by side (BUY/SELL)")
	cmd.Flags().String("origin", "", "filter by origin (MANUAL/STRATEGY/RISK)")
	cmd.Flags().Int("days", 0, "only trades from the last N days")
	return cmd
}
