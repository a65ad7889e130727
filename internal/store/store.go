// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"binance-trader/internal/models"
)

// TradeStore is the append-only trade record.
type TradeStore interface {
	// AppendTrade stores trade, assigning an ID when empty, and returns the
	// stored record.
	AppendTrade(ctx context.Context, trade models.Trade) (models.Trade, error)
	// ListTrades returns every trade ordered by timestamp, ties by ID.
	ListTrades(ctx context.Context) ([]models.Trade, error)
	// QueryTrades returns trades matching filter, newest first.
	QueryTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error)
	Close() error
}

// BarStore caches downloaded klines.
type BarStore interface {
	UpsertBars(ctx context.Context, bars []models.Bar) error
	GetBars(ctx context.Context, symbol, interval string, from, to time.Time) ([]models.Bar, error)
	LatestBarTime(ctx context.Context, symbol, interval string) (time.Time, error)
	Close() error
}

// TradeFilter represents filters for querying trades.
type TradeFilter struct {
	Symbol    string
	Side      models.OrderSide
	Origin    models.TradeOrigin
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}

func (f TradeFilter) matches(t models.Trade) bool {
	if f.Symbol != "" && t.Symbol != f.Symbol {
		return false
	}
	if f.Side != "" && t.Side != f.Side {
		return false
	}
	if f.Origin != "" && t.Origin != f.Origin {
		return false
	}
	if !f.StartDate.IsZero() && t.Timestamp.Before(f.StartDate) {
		return false
	}
	if !f.EndDate.IsZero() && t.Timestamp.After(f.EndDate) {
		return false
	}
	return true
}
