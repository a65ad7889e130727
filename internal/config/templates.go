package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Binance Trader Configuration

[trading]
# Trading mode: "live" or "paper"
mode = "paper"
# Symbol traded by the live service and used as default for commands
active_pair = "BTCUSDT"
# Kline interval: 1m, 3m, 5m, 15m, 30m, 1h, 2h, 4h, 6h, 8h, 12h, 1d, 3d, 1w
timeframe = "1m"
# Strategy driving the live service: sma_crossover, rsi, random, hold
strategy = "sma_crossover"
# Starting cash in quote currency
initial_capital = 10000.0
# Must be true (together with mode = "live" and credentials) before any
# order is sent to the exchange
real_trading_enabled = false
# Quantity used by manual buy/sell commands
manual_quantity = 0.001

[risk]
# Close a position when it loses this percentage from entry.
# A threshold of 0 fires on any loss.
stop_loss_percent = 2.0
# Close a position when it gains this percentage from entry
take_profit_percent = 4.0
# Not implemented yet
trailing_stop = false

[backtest]
# Commission charged on every fill as a fraction of notional
commission_rate = 0.001
# Number of most recent trades included in the report
report_trades = 10
# Number of equity curve points kept after downsampling
curve_points = 100
# Reconcile the running ledger against a full replay every N trades (0 = only at the end)
reconcile_every = 500

[binance]
# Use the spot testnet endpoints
testnet = true

[store]
# SQLite database path (defaults to <config dir>/trader.db)
# db_path = ""

[log]
level = "info"
console = true
file = true
max_size = 100
max_backups = 7
max_age = 30
`

const credentialsTemplate = `# Binance API Credentials
# Keep this file private (chmod 600)

[binance]
api_key = ""
secret_key = ""
`

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return fmt.Errorf("config file not found, created template at %s", path)
}

// createTemplateCredentials writes an empty credentials file. A missing file
// is not an error since market data and backtests need no keys.
func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Use restricted permissions for credentials file
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}

	return nil
}
