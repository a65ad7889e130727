package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"binance-trader/internal/models"
)

// PaperOrder is an order accepted by the paper broker.
type PaperOrder struct {
	ID        string
	Symbol    string
	Side      models.OrderSide
	Quantity  float64
	Price     float64
	Timestamp time.Time
}

// PaperBroker accepts orders without contacting an exchange. It fills at
// the last price it was told about.
type PaperBroker struct {
	mu           sync.RWMutex
	prices       map[string]float64
	orders       []PaperOrder
	orderCounter int
	logger       zerolog.Logger
}

// NewPaperBroker creates a new paper broker.
func NewPaperBroker(logger zerolog.Logger) *PaperBroker {
	return &PaperBroker{
		prices: make(map[string]float64),
		logger: logger,
	}
}

// SubmitOrder records a simulated market order.
func (p *PaperBroker) SubmitOrder(ctx context.Context, symbol string, side models.OrderSide, quantity float64) (string, error) {
	if !side.Valid() {
		return "", fmt.Errorf("invalid side %q", side)
	}
	if quantity <= 0 {
		return "", fmt.Errorf("quantity must be positive")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.orderCounter++
	orderID := fmt.Sprintf("PAPER_%d_%d", time.Now().Unix(), p.orderCounter)
	p.orders = append(p.orders, PaperOrder{
		ID:        orderID,
		Symbol:    symbol,
		Side:      side,
		Quantity:  quantity,
		Price:     p.prices[symbol],
		Timestamp: time.Now().UTC(),
	})

	p.logger.Info().
		Str("order_id", orderID).
		Str("symbol", symbol).
		Str("side", string(side)).
		Float64("quantity", quantity).
		Msg("Paper order filled")

	return orderID, nil
}

// GetPrice returns the last price set for symbol.
func (p *PaperBroker) GetPrice(ctx context.Context, symbol string) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return price, nil
}

// UpdatePrice sets the fill price for symbol.
func (p *PaperBroker) UpdatePrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// ProcessBar updates the price from a kline close.
func (p *PaperBroker) ProcessBar(bar models.Bar) {
	p.UpdatePrice(bar.Symbol, bar.Close)
}

// Orders returns a copy of accepted orders.
func (p *PaperBroker) Orders() []PaperOrder {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PaperOrder, len(p.orders))
	copy(out, p.orders)
	return out
}
