package backtest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"binance-trader/internal/marketdata"
	"binance-trader/internal/models"
	"binance-trader/pkg/utils"
)

// EquityPoint is the portfolio value at a bar close.
type EquityPoint struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
	Price float64   `json:"price"`
}

// Report is the result of one backtest run.
type Report struct {
	Strategy        string         `json:"strategy"`
	Symbol          string         `json:"symbol"`
	Interval        string         `json:"interval"`
	Bars            int            `json:"bars"`
	InitialCapital  float64        `json:"initial_capital"`
	FinalValue      float64        `json:"final_value"`
	TotalPnL        float64        `json:"total_pnl"`
	PnLPct          float64        `json:"pnl_pct"`
	MaxDrawdownPct  float64        `json:"max_drawdown_pct"`
	Sharpe          float64        `json:"sharpe"`
	NumTrades       int            `json:"num_trades"`
	TotalCommission float64        `json:"total_commission"`
	Stats           TradeStats     `json:"stats"`
	Trades          []models.Trade `json:"trades"`
	EquityCurve     []EquityPoint  `json:"equity_curve"`
}

func buildReport(name string, cfg Config, initialCapital float64, curve []EquityPoint, trades []models.Trade) *Report {
	values := make([]float64, len(curve))
	for i, p := range curve {
		values[i] = p.Value
	}

	finalValue := initialCapital
	if len(values) > 0 {
		finalValue = values[len(values)-1]
	}

	var commission float64
	for _, t := range trades {
		commission += t.Commission
	}

	reportTrades := cfg.ReportTrades
	if reportTrades <= 0 {
		reportTrades = DefaultReportTrades
	}
	curvePoints := cfg.CurvePoints
	if curvePoints <= 0 {
		curvePoints = DefaultCurvePoints
	}

	last := trades
	if len(last) > reportTrades {
		last = last[len(last)-reportTrades:]
	}

	pnl := finalValue - initialCapital
	return &Report{
		Strategy:        name,
		Symbol:          cfg.Symbol,
		Interval:        cfg.Interval,
		Bars:            len(curve),
		InitialCapital:  initialCapital,
		FinalValue:      finalValue,
		TotalPnL:        pnl,
		PnLPct:          pnl / initialCapital * 100,
		MaxDrawdownPct:  MaxDrawdownPct(values),
		Sharpe:          SharpeRatio(values, marketdata.PeriodsPerYear(cfg.Interval)),
		NumTrades:       len(trades),
		TotalCommission: commission,
		Stats:           ComputeTradeStats(trades, initialCapital),
		Trades:          append([]models.Trade(nil), last...),
		EquityCurve:     Downsample(curve, curvePoints),
	}
}

// Rounded returns a copy with currency and percentage figures rounded to
// two decimals for display. Trades keep full precision.
func (r *Report) Rounded() *Report {
	out := *r
	out.InitialCapital = utils.Round2(r.InitialCapital)
	out.FinalValue = utils.Round2(r.FinalValue)
	out.TotalPnL = utils.Round2(r.TotalPnL)
	out.PnLPct = utils.Round2(r.PnLPct)
	out.MaxDrawdownPct = utils.Round2(r.MaxDrawdownPct)
	out.Sharpe = utils.Round2(r.Sharpe)
	out.TotalCommission = utils.Round2(r.TotalCommission)
	out.Stats.WinRate = utils.Round2(r.Stats.WinRate)
	out.Stats.GrossProfit = utils.Round2(r.Stats.GrossProfit)
	out.Stats.GrossLoss = utils.Round2(r.Stats.GrossLoss)
	out.Stats.ProfitFactor = utils.Round2(r.Stats.ProfitFactor)

	out.Trades = append([]models.Trade(nil), r.Trades...)
	out.EquityCurve = make([]EquityPoint, len(r.EquityCurve))
	for i, p := range r.EquityCurve {
		out.EquityCurve[i] = EquityPoint{Time: p.Time, Value: utils.Round2(p.Value), Price: p.Price}
	}
	return &out
}

// EquityCurveASCII renders the equity curve as a width x height chart.
func EquityCurveASCII(curve []EquityPoint, width, height int) string {
	if len(curve) == 0 || width <= 0 || height <= 0 {
		return "No data to display"
	}

	minValue := curve[0].Value
	maxValue := curve[0].Value
	for _, point := range curve {
		if point.Value < minValue {
			minValue = point.Value
		}
		if point.Value > maxValue {
			maxValue = point.Value
		}
	}

	// Add padding
	valueRange := maxValue - minValue
	if valueRange == 0 {
		valueRange = 1
	}
	minValue -= valueRange * 0.05
	maxValue += valueRange * 0.05
	valueRange = maxValue - minValue

	grid := make([][]rune, height)
	for i := range grid {
		grid[i] = make([]rune, width)
		for j := range grid[i] {
			grid[i][j] = ' '
		}
	}

	step := len(curve) / width
	if step == 0 {
		step = 1
	}

	for x := 0; x < width && x*step < len(curve); x++ {
		point := curve[x*step]
		y := int((point.Value - minValue) / valueRange * float64(height-1))
		if y >= 0 && y < height {
			grid[height-1-y][x] = '█'
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Equity Curve (%.0f - %.0f)\n", minValue, maxValue))
	sb.WriteString(strings.Repeat("─", width+2) + "\n")
	for _, row := range grid {
		sb.WriteRune('│')
		sb.WriteString(string(row))
		sb.WriteRune('│')
		sb.WriteRune('\n')
	}
	sb.WriteString(strings.Repeat("─", width+2) + "\n")

	return sb.String()
}

// StrategyComparison is one row of a strategy comparison.
type StrategyComparison struct {
	Strategy       string  `json:"strategy"`
	PnLPct         float64 `json:"pnl_pct"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	Sharpe         float64 `json:"sharpe"`
	NumTrades      int     `json:"num_trades"`
	WinRate        float64 `json:"win_rate"`
}

// CompareStrategies ranks reports by Sharpe ratio, best first. Ties keep
// the input order.
func CompareStrategies(reports []*Report) []StrategyComparison {
	comparisons := make([]StrategyComparison, 0, len(reports))
	for _, r := range reports {
		if r == nil {
			continue
		}
		comparisons = append(comparisons, StrategyComparison{
			Strategy:       r.Strategy,
			PnLPct:         r.PnLPct,
			MaxDrawdownPct: r.MaxDrawdownPct,
			Sharpe:         r.Sharpe,
			NumTrades:      r.NumTrades,
			WinRate:        r.Stats.WinRate,
		})
	}

	sort.SliceStable(comparisons, func(i, j int) bool {
		return comparisons[i].Sharpe > comparisons[j].Sharpe
	})

	return comparisons
}
