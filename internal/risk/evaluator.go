// Package risk decides when an open position must be force-closed.
package risk

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"binance-trader/internal/config"
	"binance-trader/internal/ledger"
	"binance-trader/internal/logging"
	"binance-trader/internal/models"
)

// Rule names the condition that fired.
type Rule string

const (
	RuleStopLoss   Rule = "STOP_LOSS"
	RuleTakeProfit Rule = "TAKE_PROFIT"
)

var hundred = decimal.NewFromInt(100)

// Evaluator checks stop-loss and take-profit thresholds. It holds no risk
// settings of its own; they are passed on every call.
type Evaluator struct {
	logger zerolog.Logger
}

// NewEvaluator creates an evaluator.
func NewEvaluator(logger zerolog.Logger) *Evaluator {
	return &Evaluator{logger: logger}
}

// Evaluate returns a closing signal when the position at mark has breached
// a threshold, or nil. Flat positions, a zero entry and unusable marks never
// trigger. Stop-loss is checked first so at most one rule fires.
func (e *Evaluator) Evaluate(snap ledger.Snapshot, mark float64, cfg config.RiskConfig) *models.Signal {
	if snap.IsFlat() || snap.AvgEntry == 0 {
		return nil
	}
	if !(mark > 0) || math.IsInf(mark, 0) {
		return nil
	}

	pnl := pnlFraction(snap, mark)
	stop := decFromFloat(cfg.StopLossPercent).Div(hundred).Neg()
	take := decFromFloat(cfg.TakeProfitPercent).Div(hundred)

	var rule Rule
	switch {
	case pnl.Cmp(stop) <= 0:
		rule = RuleStopLoss
	case pnl.Cmp(take) >= 0:
		rule = RuleTakeProfit
	default:
		return nil
	}

	action := models.ActionSell
	if snap.Position < 0 {
		action = models.ActionBuy
	}

	symbol := ""
	if snap.OpenLeg != nil {
		symbol = snap.OpenLeg.Symbol
	}

	pnlPct, _ := pnl.Mul(hundred).Float64()
	logging.LogRiskTrigger(e.logger, symbol, string(rule), snap.AvgEntry, mark, pnlPct)

	return &models.Signal{
		Action: action,
		Symbol: symbol,
		Price:  mark,
		Origin: models.OriginRisk,
		Reason: fmt.Sprintf("%s hit: entry=%.8g current=%.8g pnl=%.4f%%", rule, snap.AvgEntry, mark, pnlPct),
	}
}

// PnLPercent is the open position's return at mark in percent. Zero when flat.
func PnLPercent(snap ledger.Snapshot, mark float64) float64 {
	if snap.IsFlat() || snap.AvgEntry == 0 {
		return 0
	}
	f, _ := pnlFraction(snap, mark).Mul(hundred).Float64()
	return f
}

// pnlFraction is (mark-entry)/entry for longs and (entry-mark)/entry for shorts.
func pnlFraction(snap ledger.Snapshot, mark float64) decimal.Decimal {
	entry := decFromFloat(snap.AvgEntry)
	diff := decFromFloat(mark).Sub(entry)
	if snap.Position < 0 {
		diff = diff.Neg()
	}
	return diff.Div(entry)
}

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}
