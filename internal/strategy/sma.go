package strategy

import (
	"context"
	"fmt"

	"binance-trader/internal/models"
)

// SMACrossover buys when the short moving average crosses above the long one
// and sells on the opposite cross.
type SMACrossover struct {
	short, long int
	closes      *window
}

// NewSMACrossover reads short_period (10) and long_period (20).
func NewSMACrossover(params Params) (Strategy, error) {
	short := params.Int("short_period", 10)
	long := params.Int("long_period", 20)
	if short <= 0 || long <= short {
		return nil, fmt.Errorf("sma_crossover needs 0 < short_period < long_period, got %d/%d", short, long)
	}
	return &SMACrossover{short: short, long: long, closes: newWindow(long + 1)}, nil
}

func (s *SMACrossover) Name() string { return "sma_crossover" }

func (s *SMACrossover) OnBar(ctx context.Context, bar models.Bar) (*models.Signal, error) {
	if !bar.IsClosed {
		return nil, nil
	}
	s.closes.push(bar.Close)
	if !s.closes.full() {
		return nil, nil
	}

	v := s.closes.values
	i := len(v) - 1
	shortSMA, longSMA := sma(v, i, s.short), sma(v, i, s.long)
	prevShort, prevLong := sma(v, i-1, s.short), sma(v, i-1, s.long)

	switch {
	case prevShort <= prevLong && shortSMA > longSMA:
		return signal(models.ActionBuy, bar, fmt.Sprintf("SMA%d crossed above SMA%d", s.short, s.long)), nil
	case prevShort >= prevLong && shortSMA < longSMA:
		return signal(models.ActionSell, bar, fmt.Sprintf("SMA%d crossed below SMA%d", s.short, s.long)), nil
	}
	return nil, nil
}
