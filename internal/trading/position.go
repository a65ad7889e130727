package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"binance-trader/internal/ledger"
	"binance-trader/internal/models"
	"binance-trader/internal/risk"
)

// TradeLister reads the trade record in timestamp order.
type TradeLister interface {
	ListTrades(ctx context.Context) ([]models.Trade, error)
}

// PriceSource returns the latest price of a symbol.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// PositionSummary is the account view reported to the operator.
type PositionSummary struct {
	Symbol          string
	State           ledger.State
	Position        float64
	AvgEntry        float64
	Cash            float64
	Mark            float64
	MarkUnavailable bool // Mark fell back to AvgEntry
	Equity          float64
	Invested        float64
	UnrealizedPnL   float64
	PnLPercent      float64
	TotalPnL        float64
	TotalPnLPercent float64
	InitialCapital  float64
	OpenedAt        time.Time
	TradeCount      int
}

// PositionManager derives the position from the trade record on every call.
type PositionManager struct {
	trades         TradeLister
	prices         PriceSource
	policy         *Policy
	initialCapital float64
	logger         zerolog.Logger
}

// NewPositionManager creates a position manager.
func NewPositionManager(trades TradeLister, prices PriceSource, policy *Policy, initialCapital float64, logger zerolog.Logger) *PositionManager {
	return &PositionManager{
		trades:         trades,
		prices:         prices,
		policy:         policy,
		initialCapital: initialCapital,
		logger:         logger,
	}
}

// Snapshot replays the full trade record.
func (pm *PositionManager) Snapshot(ctx context.Context) (ledger.Snapshot, error) {
	trades, err := pm.trades.ListTrades(ctx)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("listing trades: %w", err)
	}
	return ledger.ComputeSnapshot(trades, pm.initialCapital), nil
}

// Mark returns the current price of symbol. When the price source fails the
// average entry is used and fallback is true; when flat that is zero.
func (pm *PositionManager) Mark(ctx context.Context, symbol string, snap ledger.Snapshot) (price float64, fallback bool) {
	if pm.prices != nil {
		p, err := pm.prices.GetPrice(ctx, symbol)
		if err == nil && p > 0 {
			return p, false
		}
		pm.logger.Warn().Err(err).Str("symbol", symbol).Msg("Price unavailable, marking at entry")
	}
	return snap.AvgEntry, true
}

// GetPositionSummary reports the position, cash and PnL for symbol.
func (pm *PositionManager) GetPositionSummary(ctx context.Context, symbol string) (*PositionSummary, error) {
	snap, err := pm.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	mark, fallback := pm.Mark(ctx, symbol, snap)

	summary := &PositionSummary{
		Symbol:          symbol,
		State:           snap.State(),
		Position:        snap.Position,
		AvgEntry:        snap.AvgEntry,
		Cash:            snap.Cash,
		Mark:            mark,
		MarkUnavailable: fallback,
		Invested:        snap.Invested(),
		InitialCapital:  snap.InitialCapital,
		TradeCount:      snap.Applied,
	}
	summary.Equity = snap.Equity(mark)
	summary.UnrealizedPnL = snap.UnrealizedPnL(mark)
	summary.PnLPercent = risk.PnLPercent(snap, mark)
	summary.TotalPnL = summary.Equity - snap.InitialCapital
	if snap.InitialCapital != 0 {
		summary.TotalPnLPercent = summary.TotalPnL / snap.InitialCapital * 100
	}
	if snap.OpenLeg != nil {
		summary.OpenedAt = snap.OpenLeg.Timestamp
	}

	return summary, nil
}

// ExitPosition closes the open position at the current mark. It returns nil
// when already flat.
func (pm *PositionManager) ExitPosition(ctx context.Context, symbol string) (*models.Trade, error) {
	snap, err := pm.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if snap.IsFlat() {
		return nil, nil
	}

	mark, fallback := pm.Mark(ctx, symbol, snap)
	if fallback {
		pm.logger.Warn().Str("symbol", symbol).Float64("price", mark).Msg("Exiting at entry price")
	}

	action := models.ActionSell
	if snap.Position < 0 {
		action = models.ActionBuy
	}

	return pm.policy.Apply(ctx, snap, models.Signal{
		Action: action,
		Symbol: symbol,
		Price:  mark,
		Reason: "manual exit",
		Origin: models.OriginManual,
	})
}
