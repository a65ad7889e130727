package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "binance-trader/internal/errors"
	"binance-trader/internal/models"
)

func bars(closes ...float64) []models.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Bar, len(closes))
	for i, c := range closes {
		open := start.Add(time.Duration(i) * time.Minute)
		out[i] = models.Bar{
			Symbol: "BTCUSDT", Interval: "1m", OpenTime: open, Close: c,
			CloseTime: open.Add(time.Minute - time.Millisecond), IsClosed: true,
		}
	}
	return out
}

func run(t *testing.T, s Strategy, in []models.Bar) []*models.Signal {
	t.Helper()
	var out []*models.Signal
	for _, b := range in {
		sig, err := s.OnBar(context.Background(), b)
		require.NoError(t, err)
		if sig != nil {
			out = append(out, sig)
		}
	}
	return out
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"hold", "macd", "random", "rsi", "sma_crossover"}, r.Names())

	s, err := r.New("SMA_Crossover", Params{"short_period": 2, "long_period": 4})
	require.NoError(t, err)
	assert.Equal(t, "sma_crossover", s.Name())

	_, err = r.New("lstm", nil)
	assert.ErrorIs(t, err, apperrors.ErrUnknownStrategy)

	_, err = r.New("sma_crossover", Params{"short_period": 5, "long_period": 5})
	assert.Error(t, err)
}

func TestSMACrossover_Signals(t *testing.T) {
	s, err := NewSMACrossover(Params{"short_period": 2, "long_period": 3})
	require.NoError(t, err)

	// Falling then rising: short SMA crosses above long once, then below.
	sigs := run(t, s, bars(10, 9, 8, 7, 9, 12, 14, 10, 6, 4))
	require.NotEmpty(t, sigs)
	assert.Equal(t, models.ActionBuy, sigs[0].Action)
	assert.Equal(t, models.OriginStrategy, sigs[0].Origin)
	assert.Equal(t, models.ActionSell, sigs[len(sigs)-1].Action)
}

func TestSMACrossover_IgnoresOpenBars(t *testing.T) {
	s, err := NewSMACrossover(Params{"short_period": 2, "long_period": 3})
	require.NoError(t, err)
	in := bars(10, 9, 8, 7, 9, 12, 14)
	for i := range in {
		in[i].IsClosed = false
	}
	assert.Empty(t, run(t, s, in))
}

func TestRSI_OversoldBounce(t *testing.T) {
	s, err := NewRSI(Params{"period": 3})
	require.NoError(t, err)

	sigs := run(t, s, bars(100, 95, 90, 85, 80, 90, 100))
	require.NotEmpty(t, sigs)
	assert.Equal(t, models.ActionBuy, sigs[0].Action)
}

func TestMACD_Trends(t *testing.T) {
	s, err := NewMACD(Params{"fast_period": 2, "slow_period": 4, "signal_period": 2})
	require.NoError(t, err)

	closes := []float64{10, 10, 10, 10, 10, 9, 8, 7, 6, 7, 9, 12, 15, 14, 12, 9, 6}
	sigs := run(t, s, bars(closes...))
	require.NotEmpty(t, sigs)
	actions := map[models.Action]bool{}
	for _, sig := range sigs {
		actions[sig.Action] = true
	}
	assert.True(t, actions[models.ActionBuy])
	assert.True(t, actions[models.ActionSell])
}

func TestRandom_SeededIsDeterministic(t *testing.T) {
	in := bars(make([]float64, 200)...)
	for i := range in {
		in[i].Close = 100
	}
	a, _ := NewRandom(Params{"seed": 7})
	b, _ := NewRandom(Params{"seed": 7})

	sa, sb := run(t, a, in), run(t, b, in)
	require.Equal(t, len(sa), len(sb))
	for i := range sa {
		assert.Equal(t, sa[i].Action, sb[i].Action)
	}
	assert.NotEmpty(t, sa)
}

func TestHold(t *testing.T) {
	s, err := NewHold(nil)
	require.NoError(t, err)
	assert.Empty(t, run(t, s, bars(1, 2, 3)))
}

func TestParams(t *testing.T) {
	p := Params{"a": 3, "b": 2.5, "c": "x"}
	assert.Equal(t, 3, p.Int("a", 0))
	assert.Equal(t, 2, p.Int("b", 0))
	assert.Equal(t, 9, p.Int("c", 9))
	assert.Equal(t, 2.5, p.Float("b", 0))
	assert.Equal(t, 3.0, p.Float("a", 0))
}
