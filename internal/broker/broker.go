// Package broker provides exchange integration interfaces and implementations.
package broker

import (
	"context"
	"time"

	"binance-trader/internal/models"
)

// MarketData supplies prices and klines.
type MarketData interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetHistorical(ctx context.Context, req HistoricalRequest) ([]models.Bar, error)
}

// BarStreamer delivers klines as they update. Only bars with IsClosed set
// are final; the channel closes when ctx is done.
type BarStreamer interface {
	StreamBars(ctx context.Context, symbol, interval string) (<-chan models.Bar, error)
}

// OrderPlacer sends market orders and returns the exchange order id.
type OrderPlacer interface {
	SubmitOrder(ctx context.Context, symbol string, side models.OrderSide, quantity float64) (string, error)
}

// HistoricalRequest represents a request for historical klines.
type HistoricalRequest struct {
	Symbol   string
	Interval string
	From     time.Time
	To       time.Time
	Limit    int // per request; pages are fetched until To
}
