package strategy

import (
	"context"
	"fmt"

	"binance-trader/internal/models"
)

// MACD trades crossings of the MACD line and its signal line.
type MACD struct {
	fast, slow, signalLine *ema
	prevDiff               float64
	ready                  bool
}

// NewMACD reads fast_period (12), slow_period (26) and signal_period (9).
func NewMACD(params Params) (Strategy, error) {
	fast := params.Int("fast_period", 12)
	slow := params.Int("slow_period", 26)
	sig := params.Int("signal_period", 9)
	if fast <= 0 || slow <= fast || sig <= 0 {
		return nil, fmt.Errorf("macd needs 0 < fast_period < slow_period and signal_period > 0")
	}
	return &MACD{fast: newEMA(fast), slow: newEMA(slow), signalLine: newEMA(sig)}, nil
}

func (s *MACD) Name() string { return "macd" }

func (s *MACD) OnBar(ctx context.Context, bar models.Bar) (*models.Signal, error) {
	if !bar.IsClosed {
		return nil, nil
	}
	fastOK := s.fast.update(bar.Close)
	slowOK := s.slow.update(bar.Close)
	if !fastOK || !slowOK {
		return nil, nil
	}
	line := s.fast.value - s.slow.value
	if !s.signalLine.update(line) {
		return nil, nil
	}

	diff := line - s.signalLine.value
	defer func() {
		s.prevDiff = diff
		s.ready = true
	}()
	if !s.ready {
		return nil, nil
	}

	switch {
	case s.prevDiff <= 0 && diff > 0:
		return signal(models.ActionBuy, bar, "MACD crossed above signal"), nil
	case s.prevDiff >= 0 && diff < 0:
		return signal(models.ActionSell, bar, "MACD crossed below signal"), nil
	}
	return nil, nil
}
