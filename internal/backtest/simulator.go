// Package backtest replays historical bars through a strategy, the risk
// evaluator and the execution policy.
package backtest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"binance-trader/internal/config"
	apperrors "binance-trader/internal/errors"
	"binance-trader/internal/ledger"
	"binance-trader/internal/logging"
	"binance-trader/internal/marketdata"
	"binance-trader/internal/models"
	"binance-trader/internal/risk"
	"binance-trader/internal/strategy"
	"binance-trader/internal/trading"
)

const (
	DefaultInitialCapital = 10000.0
	DefaultCommissionRate = 0.001
	DefaultReportTrades   = 10
	DefaultCurvePoints    = 100
)

// StrategyFactory builds a fresh strategy for one run.
type StrategyFactory func() (strategy.Strategy, error)

// FromRegistry returns a factory for a named strategy.
func FromRegistry(reg *strategy.Registry, name string, params strategy.Params) StrategyFactory {
	return func() (strategy.Strategy, error) {
		return reg.New(name, params)
	}
}

// Config holds the simulator settings for one run.
type Config struct {
	Symbol         string // defaults to the first bar's symbol
	Interval       string // defaults to the first bar's interval
	Risk           config.Provider
	CommissionRate float64
	ReportTrades   int
	CurvePoints    int
	ReconcileEvery int
}

// DefaultConfig returns the stock settings with the default risk rules.
func DefaultConfig() Config {
	return ConfigFrom(config.Default())
}

// ConfigFrom builds simulator settings from application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Symbol:         cfg.Trading.ActivePair,
		Interval:       cfg.Trading.Timeframe,
		Risk:           config.NewStatic(cfg),
		CommissionRate: cfg.Backtest.CommissionRate,
		ReportTrades:   cfg.Backtest.ReportTrades,
		CurvePoints:    cfg.Backtest.CurvePoints,
		ReconcileEvery: cfg.Backtest.ReconcileEvery,
	}
}

// Simulator runs backtests.
type Simulator struct {
	evaluator *risk.Evaluator
	logger    zerolog.Logger
}

// NewSimulator creates a simulator.
func NewSimulator(logger zerolog.Logger) *Simulator {
	logger = logging.WithOperation(logger, "backtest")
	return &Simulator{
		evaluator: risk.NewEvaluator(logger),
		logger:    logger,
	}
}

// ledgerSink records trades straight into the running ledger.
type ledgerSink struct {
	l *ledger.Ledger
}

func (s ledgerSink) AppendTrade(ctx context.Context, trade models.Trade) (models.Trade, error) {
	if err := s.l.Apply(trade); err != nil {
		return models.Trade{}, err
	}
	return trade, nil
}

// Run processes the closed bars in order. For each bar it marks the
// position to the close, then lets the risk rules act; the strategy is only
// consulted when no rule fired. The run is deterministic: trade ids are
// sequential and trades carry the bar close time.
func (s *Simulator) Run(ctx context.Context, newStrategy StrategyFactory, cfg Config, bars []models.Bar, initialCapital float64) (*Report, error) {
	if !(initialCapital > 0) {
		return nil, apperrors.NewValidationError("initial_capital", initialCapital, "must be positive")
	}
	if cfg.CommissionRate < 0 {
		return nil, apperrors.NewValidationError("commission_rate", cfg.CommissionRate, "must be non-negative")
	}
	if cfg.Risk == nil {
		cfg.Risk = config.NewStatic(config.Default())
	}
	if !marketdata.SortedByOpenTime(bars) {
		return nil, apperrors.NewValidationError("bars", len(bars), "must be in chronological order")
	}

	closed := marketdata.ClosedOnly(bars)
	if len(closed) == 0 {
		return nil, fmt.Errorf("%w: no closed bars", apperrors.ErrInsufficientData)
	}
	if cfg.Symbol == "" {
		cfg.Symbol = closed[0].Symbol
	}
	if cfg.Interval == "" {
		cfg.Interval = closed[0].Interval
	}

	strat, err := newStrategy()
	if err != nil {
		return nil, fmt.Errorf("creating strategy: %w", err)
	}

	logger := s.logger.With().Str("strategy", strat.Name()).Str("symbol", cfg.Symbol).Logger()

	book := ledger.New(initialCapital, ledger.WithReconcileEvery(cfg.ReconcileEvery))
	seq := 0
	policy := trading.NewPolicy(ledgerSink{l: book}, logger,
		trading.WithCommissionRate(cfg.CommissionRate),
		trading.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("BT-%06d", seq)
		}),
	)

	curve := make([]EquityPoint, 0, len(closed))
	for _, bar := range closed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		snap := book.Snapshot()
		curve = append(curve, EquityPoint{
			Time:  bar.CloseTime,
			Value: snap.Equity(bar.Close),
			Price: bar.Close,
		})

		sig := s.evaluator.Evaluate(snap, bar.Close, cfg.Risk.Risk())
		if sig == nil {
			sig, err = strat.OnBar(ctx, bar)
			if err != nil {
				logger.Warn().Err(err).Time("bar", bar.CloseTime).Msg("Strategy failed, skipping bar")
				continue
			}
		}
		if sig == nil {
			continue
		}
		if sig.Symbol == "" {
			sig.Symbol = cfg.Symbol
		}

		if _, err := policy.ApplyAt(ctx, snap, *sig, bar.CloseTime); err != nil {
			return nil, fmt.Errorf("executing signal at %s: %w", bar.CloseTime, err)
		}
	}

	if err := book.Reconcile(); err != nil {
		return nil, err
	}

	report := buildReport(strat.Name(), cfg, initialCapital, curve, book.Trades())
	logging.LogBacktest(logger, report.Strategy, report.Bars, report.NumTrades, report.PnLPct, report.MaxDrawdownPct, report.Sharpe)
	return report, nil
}
