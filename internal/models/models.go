// Package models provides domain models for the trading application.
package models

import (
	"strings"
	"time"
)

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Valid reports whether the side is BUY or SELL.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// Action is what a signal asks the execution policy to do.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// ParseAction normalizes a free-form action. Anything that is not BUY or
// SELL is a HOLD.
func ParseAction(s string) Action {
	switch Action(strings.ToUpper(strings.TrimSpace(s))) {
	case ActionBuy:
		return ActionBuy
	case ActionSell:
		return ActionSell
	default:
		return ActionHold
	}
}

// Side maps a trading action to an order side. HOLD has no side.
func (a Action) Side() (OrderSide, bool) {
	switch a {
	case ActionBuy:
		return OrderSideBuy, true
	case ActionSell:
		return OrderSideSell, true
	default:
		return "", false
	}
}

// TradeOrigin records who asked for a trade.
type TradeOrigin string

const (
	OriginManual   TradeOrigin = "MANUAL"
	OriginStrategy TradeOrigin = "STRATEGY"
	OriginRisk     TradeOrigin = "RISK"
)

// TradeStatus represents the fill status of a recorded trade.
type TradeStatus string

const (
	TradeFilled TradeStatus = "FILLED"
)

// Bar represents one OHLCV kline for a fixed interval.
type Bar struct {
	Symbol    string
	Interval  string
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
	IsClosed  bool
}

// Signal is a transient request to trade, produced by a strategy or the
// risk evaluator and consumed once by the execution policy.
type Signal struct {
	Action Action
	Symbol string
	Price  float64
	Reason string
	Origin TradeOrigin
}

// Hold reports whether the signal asks for nothing.
func (s Signal) Hold() bool {
	_, ok := s.Action.Side()
	return !ok
}
