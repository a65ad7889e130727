package backtest

import (
	"math"

	"binance-trader/internal/ledger"
	"binance-trader/internal/models"
)

// minStdDev is the return dispersion below which the series counts as flat.
const minStdDev = 1e-12

// MaxDrawdownPct returns the worst decline from the running peak as a
// percentage of that peak. The result is zero or negative.
func MaxDrawdownPct(values []float64) float64 {
	var peak, worst float64
	for i, v := range values {
		if i == 0 || v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		if dd := (v - peak) / peak; dd < worst {
			worst = dd
		}
	}
	return worst * 100
}

// PeriodReturns returns the simple return between consecutive values.
// Steps from a zero value are skipped.
func PeriodReturns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			continue
		}
		returns = append(returns, (values[i]-values[i-1])/values[i-1])
	}
	return returns
}

// SharpeRatio annualizes mean/stdev of the period returns by
// sqrt(periodsPerYear). The standard deviation is the sample one (n-1).
// Fewer than two returns or zero variance gives 0.
func SharpeRatio(values []float64, periodsPerYear float64) float64 {
	returns := PeriodReturns(values)
	n := len(returns)
	if n < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(n)

	var sq float64
	for _, r := range returns {
		sq += (r - mean) * (r - mean)
	}
	std := math.Sqrt(sq / float64(n-1))
	if std < minStdDev || math.IsNaN(std) {
		return 0
	}

	return mean / std * math.Sqrt(periodsPerYear)
}

// Downsample keeps every k-th point where k = ceil(len/budget), so at most
// budget points survive and the first point is always kept.
func Downsample[T any](points []T, budget int) []T {
	if budget <= 0 || len(points) <= budget {
		out := make([]T, len(points))
		copy(out, points)
		return out
	}
	stride := (len(points) + budget - 1) / budget
	out := make([]T, 0, budget)
	for i := 0; i < len(points); i += stride {
		out = append(out, points[i])
	}
	return out
}

// TradeStats summarizes closed round trips. A round trip runs from the
// trade that leaves FLAT to the trade that returns to it; its PnL is the
// change in cash over that span, commissions included.
type TradeStats struct {
	RoundTrips   int     `json:"round_trips"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	GrossProfit  float64 `json:"gross_profit"`
	GrossLoss    float64 `json:"gross_loss"`
	ProfitFactor float64 `json:"profit_factor"`
}

// ComputeTradeStats replays trades and scores every closed round trip.
func ComputeTradeStats(trades []models.Trade, initialCapital float64) TradeStats {
	var stats TradeStats

	l := ledger.New(initialCapital)
	openCash := initialCapital
	for _, t := range trades {
		before := l.Snapshot()
		if err := l.Apply(t); err != nil {
			continue
		}
		after := l.Snapshot()

		if before.IsFlat() && !after.IsFlat() {
			openCash = before.Cash
			continue
		}
		if !before.IsFlat() && after.IsFlat() {
			pnl := after.Cash - openCash
			stats.RoundTrips++
			if pnl > 0 {
				stats.Wins++
				stats.GrossProfit += pnl
			} else {
				stats.Losses++
				stats.GrossLoss += -pnl
			}
		}
	}

	if stats.RoundTrips > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.RoundTrips) * 100
	}
	if stats.GrossLoss > 0 {
		stats.ProfitFactor = stats.GrossProfit / stats.GrossLoss
	}
	return stats
}
