package strategy

import (
	"context"
	"math/rand"

	"binance-trader/internal/models"
)

// Random emits BUY or SELL with a fixed probability each. It exists to
// exercise the pipeline end to end; a fixed seed keeps backtests repeatable.
type Random struct {
	rng  *rand.Rand
	prob float64
}

// NewRandom reads seed (42) and probability (0.1).
func NewRandom(params Params) (Strategy, error) {
	seed := int64(params.Int("seed", 42))
	prob := params.Float("probability", 0.1)
	if prob < 0 || prob > 0.5 {
		prob = 0.1
	}
	return &Random{rng: rand.New(rand.NewSource(seed)), prob: prob}, nil
}

func (s *Random) Name() string { return "random" }

func (s *Random) OnBar(ctx context.Context, bar models.Bar) (*models.Signal, error) {
	if !bar.IsClosed {
		return nil, nil
	}
	d := s.rng.Float64()
	switch {
	case d < s.prob:
		return signal(models.ActionBuy, bar, "RANDOM_BUY"), nil
	case d > 1-s.prob:
		return signal(models.ActionSell, bar, "RANDOM_SELL"), nil
	}
	return nil, nil
}

// Hold never trades. Useful as a baseline in comparisons.
type Hold struct{}

// NewHold returns a Hold strategy.
func NewHold(Params) (Strategy, error) { return Hold{}, nil }

func (Hold) Name() string { return "hold" }

func (Hold) OnBar(context.Context, models.Bar) (*models.Signal, error) { return nil, nil }
