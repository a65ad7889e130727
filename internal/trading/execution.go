// Package trading turns signals into trades and reports on the open position.
package trading

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "binance-trader/internal/errors"
	"binance-trader/internal/ledger"
	"binance-trader/internal/logging"
	"binance-trader/internal/models"
)

const (
	// MinOpenCash is the cash a new position requires.
	MinOpenCash = 10.0
	// OpenCashFraction is the share of cash committed when opening; the rest
	// covers fees and slippage.
	OpenCashFraction = 0.95
)

// Order is the concrete side and size chosen for a signal.
type Order struct {
	Side     models.OrderSide
	Quantity float64
}

// TradeAppender persists executed trades.
type TradeAppender interface {
	AppendTrade(ctx context.Context, trade models.Trade) (models.Trade, error)
}

// OrderPlacer sends market orders to an exchange.
type OrderPlacer interface {
	SubmitOrder(ctx context.Context, symbol string, side models.OrderSide, quantity float64) (string, error)
}

// Size applies the position rules to a signal:
//
//	BUY  while short -> cover abs(position)
//	BUY  while flat  -> open long with 95% of cash (needs cash > 10)
//	BUY  while long  -> nothing
//	SELL while long  -> close position
//	SELL while flat  -> open short with 95% of cash (needs cash > 10)
//	SELL while short -> nothing
//
// HOLD, unknown actions and non-positive prices size to nothing.
func Size(snap ledger.Snapshot, sig models.Signal) (Order, bool) {
	side, ok := sig.Action.Side()
	if !ok || !(sig.Price > 0) || math.IsInf(sig.Price, 0) {
		return Order{}, false
	}

	switch snap.State() {
	case ledger.StateFlat:
		if snap.Cash <= MinOpenCash {
			return Order{}, false
		}
		return Order{Side: side, Quantity: snap.Cash * OpenCashFraction / sig.Price}, true
	case ledger.StateLong:
		if side == models.OrderSideSell {
			return Order{Side: side, Quantity: snap.Position}, true
		}
	case ledger.StateShort:
		if side == models.OrderSideBuy {
			return Order{Side: side, Quantity: -snap.Position}, true
		}
	}
	return Order{}, false
}

// Policy executes signals against a ledger snapshot and records the trades.
type Policy struct {
	store          TradeAppender
	placer         OrderPlacer
	commissionRate float64
	clock          func() time.Time
	newID          func() string
	logger         zerolog.Logger
}

// PolicyOption configures a Policy.
type PolicyOption func(*Policy)

// WithOrderPlacer mirrors every recorded trade to an exchange. Placement
// failures are logged; the recorded trade stays.
func WithOrderPlacer(p OrderPlacer) PolicyOption {
	return func(pol *Policy) { pol.placer = p }
}

// WithCommissionRate charges rate*notional on every fill.
func WithCommissionRate(rate float64) PolicyOption {
	return func(pol *Policy) { pol.commissionRate = rate }
}

// WithClock overrides the timestamp source.
func WithClock(clock func() time.Time) PolicyOption {
	return func(pol *Policy) { pol.clock = clock }
}

// WithIDGenerator overrides trade id generation.
func WithIDGenerator(newID func() string) PolicyOption {
	return func(pol *Policy) { pol.newID = newID }
}

// NewPolicy creates an execution policy writing to store.
func NewPolicy(store TradeAppender, logger zerolog.Logger, opts ...PolicyOption) *Policy {
	p := &Policy{
		store:  store,
		clock:  func() time.Time { return time.Now().UTC() },
		newID:  newTradeID,
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func newTradeID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Apply sizes sig against snap and records the resulting trade. A nil trade
// with nil error means the rules produced no order.
func (p *Policy) Apply(ctx context.Context, snap ledger.Snapshot, sig models.Signal) (*models.Trade, error) {
	return p.ApplyAt(ctx, snap, sig, p.clock())
}

// ApplyAt is Apply with an explicit trade timestamp.
func (p *Policy) ApplyAt(ctx context.Context, snap ledger.Snapshot, sig models.Signal, at time.Time) (*models.Trade, error) {
	logging.LogSignal(p.logger, sig.Symbol, string(sig.Action), string(sig.Origin), sig.Reason, sig.Price)

	if sig.Symbol == "" {
		return nil, nil
	}
	order, ok := Size(snap, sig)
	if !ok || order.Quantity < ledger.Epsilon {
		return nil, nil
	}

	origin := sig.Origin
	if origin == "" {
		origin = models.OriginStrategy
	}
	return p.record(ctx, sig.Symbol, order, sig.Price, origin, sig.Reason, at)
}

// Manual records a fixed-size trade requested by the operator. It bypasses
// the sizing rules.
func (p *Policy) Manual(ctx context.Context, symbol string, side models.OrderSide, quantity, price float64) (*models.Trade, error) {
	if !side.Valid() {
		return nil, apperrors.NewValidationError("side", side, "must be BUY or SELL")
	}
	if !(quantity > 0) {
		return nil, apperrors.NewValidationError("quantity", quantity, "must be positive")
	}
	if !(price > 0) {
		return nil, apperrors.NewValidationError("price", price, "must be positive")
	}
	return p.record(ctx, symbol, Order{Side: side, Quantity: quantity}, price, models.OriginManual, "manual", p.clock())
}

func (p *Policy) record(ctx context.Context, symbol string, order Order, price float64, origin models.TradeOrigin, reason string, at time.Time) (*models.Trade, error) {
	trade := models.Trade{
		ID:        p.newID(),
		Symbol:    symbol,
		Side:      order.Side,
		Price:     price,
		Quantity:  order.Quantity,
		Timestamp: at,
		Status:    models.TradeFilled,
		Origin:    origin,
		Reason:    reason,
	}
	trade.Commission = trade.Notional() * p.commissionRate

	saved, err := p.store.AppendTrade(ctx, trade)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrPersistence, err)
	}

	logging.LogTrade(p.logger, saved.ID, saved.Symbol, string(saved.Side), string(saved.Origin), saved.Quantity, saved.Price)

	if p.placer != nil {
		orderID, err := p.placer.SubmitOrder(ctx, saved.Symbol, saved.Side, saved.Quantity)
		if err != nil {
			p.logger.Error().Err(err).
				Str("trade_id", saved.ID).
				Str("symbol", saved.Symbol).
				Msg("Exchange order failed, local trade kept")
		} else {
			p.logger.Info().
				Str("trade_id", saved.ID).
				Str("exchange_order_id", orderID).
				Msg("Exchange order placed")
		}
	}

	return &saved, nil
}
