package strategy

import (
	"context"
	"fmt"

	"binance-trader/internal/models"
)

// RSI buys when RSI climbs back above the oversold level and sells when it
// drops back below the overbought level.
type RSI struct {
	period               int
	oversold, overbought float64
	closes               *window
}

// NewRSI reads period (14), oversold (30) and overbought (70).
func NewRSI(params Params) (Strategy, error) {
	period := params.Int("period", 14)
	oversold := params.Float("oversold", 30)
	overbought := params.Float("overbought", 70)
	if period < 2 {
		return nil, fmt.Errorf("rsi period must be at least 2, got %d", period)
	}
	if !(oversold < overbought) {
		return nil, fmt.Errorf("rsi oversold must be below overbought")
	}
	return &RSI{
		period:     period,
		oversold:   oversold,
		overbought: overbought,
		closes:     newWindow(period + 2),
	}, nil
}

func (s *RSI) Name() string { return "rsi" }

func (s *RSI) OnBar(ctx context.Context, bar models.Bar) (*models.Signal, error) {
	if !bar.IsClosed {
		return nil, nil
	}
	s.closes.push(bar.Close)
	if !s.closes.full() {
		return nil, nil
	}

	v := s.closes.values
	i := len(v) - 1
	cur, prev := rsi(v, i, s.period), rsi(v, i-1, s.period)

	switch {
	case prev <= s.oversold && cur > s.oversold:
		return signal(models.ActionBuy, bar, fmt.Sprintf("RSI %.1f left oversold", cur)), nil
	case prev >= s.overbought && cur < s.overbought:
		return signal(models.ActionSell, bar, fmt.Sprintf("RSI %.1f left overbought", cur)), nil
	}
	return nil, nil
}
