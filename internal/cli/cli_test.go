package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binance-trader/internal/config"
	apperrors "binance-trader/internal/errors"
	"binance-trader/internal/marketdata"
	"binance-trader/internal/models"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
		{2*time.Hour + 7*time.Minute, "2h 7m"},
		{50 * time.Hour, "2d 2h"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.d))
	}
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "64250.10", FormatPrice(64250.1))
	assert.Equal(t, "2.5000", FormatPrice(2.5))
	assert.Equal(t, "0.00001234", FormatPrice(0.00001234))
}

func TestParseParams(t *testing.T) {
	params, err := ParseParams([]string{"short=5", "long = 20", "mode=fast"})
	require.NoError(t, err)
	assert.Equal(t, 5.0, params["short"])
	assert.Equal(t, 20.0, params["long"])
	assert.Equal(t, "fast", params["mode"])

	_, err = ParseParams([]string{"oops"})
	assert.Error(t, err)
}

func TestTable_Render(t *testing.T) {
	var buf bytes.Buffer
	out := &Output{writer: &buf}

	table := NewTable(out, "SIDE", "PRICE")
	table.AddRow("BUY", "100.00")
	table.AddRow("SELL", "99.50")
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "SIDE  PRICE", lines[0])
	assert.Equal(t, "BUY   100.00", lines[2])
}

// Property: truncated strings never exceed the limit and keep short input.
func TestProperty_TruncateString(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("result fits in maxLen", prop.ForAll(
		func(s string, maxLen int) bool {
			got := TruncateString(s, maxLen)
			n := len([]rune(s))
			if n <= maxLen {
				return got == s
			}
			return len([]rune(got)) == maxLen
		},
		gen.AnyString(),
		gen.IntRange(0, 40),
	))

	properties.TestingRun(t)
}

// runCLI executes the root command against a temp config dir.
func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(append(args, "--config", dir))
	err := cmd.Execute()
	return buf.String(), err
}

func setupConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	_, err := config.Load(dir)
	require.Error(t, err)
	require.FileExists(t, filepath.Join(dir, "config.toml"))
	return dir
}

func TestCLI_Version(t *testing.T) {
	out, err := runCLI(t, t.TempDir(), "version", "--json")
	require.NoError(t, err)

	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, Version, v["version"])
}

func TestCLI_Strategies(t *testing.T) {
	out, err := runCLI(t, t.TempDir(), "strategies")
	require.NoError(t, err)
	assert.Contains(t, out, "sma_crossover")
	assert.Contains(t, out, "hold")
}

func TestCLI_BacktestFromCSV(t *testing.T) {
	dir := setupConfigDir(t)

	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]models.Bar, 120)
	for i := range bars {
		open := t0.Add(time.Duration(i) * time.Minute)
		c := 100 + float64(i%17)
		bars[i] = models.Bar{
			Symbol: "BTCUSDT", Interval: "1m",
			OpenTime: open, Open: c, High: c, Low: c, Close: c, Volume: 1,
			CloseTime: open.Add(time.Minute - time.Millisecond), IsClosed: true,
		}
	}
	csvPath := filepath.Join(dir, "bars.csv")
	require.NoError(t, marketdata.WriteCSVFile(csvPath, bars))

	out, err := runCLI(t, dir, "backtest", "run", "--csv", csvPath, "--strategy", "hold", "--json")
	require.NoError(t, err)

	var report map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "hold", report["strategy"])
	assert.Equal(t, 120.0, report["bars"])
	assert.Equal(t, 10000.0, report["final_value"])

	out, err = runCLI(t, dir, "backtest", "compare", "--csv", csvPath, "--strategies", "hold,random", "--json")
	require.NoError(t, err)
	var ranked []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &ranked))
	assert.Len(t, ranked, 2)
}

func TestCLI_ManualTradeAndHistory(t *testing.T) {
	dir := setupConfigDir(t)

	_, err := runCLI(t, dir, "trade", "buy", "--qty", "0.5", "--price", "100")
	require.NoError(t, err)
	_, err = runCLI(t, dir, "trade", "sell", "--qty", "0.5", "--price", "110")
	require.NoError(t, err)

	out, err := runCLI(t, dir, "account", "history", "--json")
	require.NoError(t, err)

	var trades []models.Trade
	require.NoError(t, json.Unmarshal([]byte(out), &trades))
	require.Len(t, trades, 2)
	assert.Equal(t, models.OrderSideSell, trades[0].Side)
	assert.Equal(t, models.OriginManual, trades[1].Origin)

	out, err = runCLI(t, dir, "account", "history", "--side", "buy", "--json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &trades))
	assert.Len(t, trades, 1)
}

func TestCLI_ConfigValidate(t *testing.T) {
	dir := setupConfigDir(t)
	out, err := runCLI(t, dir, "config", "validate", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"valid": true`)
}

func TestApp_PaperPriceFromRecordedBars(t *testing.T) {
	cfg := config.Default()
	cfg.Store.DBPath = filepath.Join(t.TempDir(), "trader.db")
	app := &App{Config: cfg, Logger: zerolog.Nop()}
	defer app.Close()

	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars, err := app.BarStore()
	require.NoError(t, err)
	require.NoError(t, bars.UpsertBars(ctx, []models.Bar{
		{Symbol: "BTCUSDT", Interval: "1m", OpenTime: t0, Close: 64000, CloseTime: t0.Add(time.Minute - time.Millisecond), IsClosed: true},
		{Symbol: "BTCUSDT", Interval: "1m", OpenTime: t0.Add(time.Minute), Close: 64120.5, CloseTime: t0.Add(2*time.Minute - time.Millisecond), IsClosed: true},
	}))

	price, err := app.PaperPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 64120.5, price)

	_, err = app.PaperPrice(ctx, "ETHUSDT")
	assert.ErrorIs(t, err, apperrors.ErrPriceUnavailable)

	id, err := app.OrderPlacer().SubmitOrder(ctx, "BTCUSDT", models.OrderSideBuy, 0.01)
	require.NoError(t, err)
	assert.Contains(t, id, "PAPER_")
	orders := app.Paper().Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, 64120.5, orders[0].Price)
}
