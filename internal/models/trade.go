package models

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Trade represents an executed, fully filled market order.
// Trades are created once on execution and never mutated.
type Trade struct {
	ID              string
	Symbol          string
	Side            OrderSide
	Price           float64
	Quantity        float64
	Commission      float64 // quote currency, already charged
	Timestamp       time.Time
	Status          TradeStatus
	Origin          TradeOrigin
	ExchangeOrderID string
	Reason          string
}

// Notional returns price times quantity.
func (t Trade) Notional() float64 {
	return t.Price * t.Quantity
}

// Validate checks the invariants every stored trade must hold.
func (t Trade) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !t.Side.Valid() {
		return fmt.Errorf("invalid side %q", t.Side)
	}
	if !(t.Price > 0) || math.IsInf(t.Price, 0) {
		return fmt.Errorf("price must be positive, got %v", t.Price)
	}
	if !(t.Quantity > 0) || math.IsInf(t.Quantity, 0) {
		return fmt.Errorf("quantity must be positive, got %v", t.Quantity)
	}
	if t.Commission < 0 {
		return fmt.Errorf("commission must be non-negative, got %v", t.Commission)
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// Before reports whether t sorts before o: timestamp first, ID breaks ties.
func (t Trade) Before(o Trade) bool {
	if !t.Timestamp.Equal(o.Timestamp) {
		return t.Timestamp.Before(o.Timestamp)
	}
	return t.ID < o.ID
}

// SortTrades orders trades by timestamp ascending, ties broken by ID.
func SortTrades(trades []Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].Before(trades[j])
	})
}
