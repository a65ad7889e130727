package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestRound2(t *testing.T) {
	assert.Equal(t, 1.01, Round2(1.005))
	assert.Equal(t, -2.35, Round2(-2.345))
	assert.Equal(t, 10.0, Round2(9.999))
}

func TestFormatCurrency(t *testing.T) {
	assert.Equal(t, "0.00", FormatCurrency(0))
	assert.Equal(t, "999.50", FormatCurrency(999.5))
	assert.Equal(t, "1,000.00", FormatCurrency(1000))
	assert.Equal(t, "12,345,678.90", FormatCurrency(12345678.9))
	assert.Equal(t, "-10,100.00", FormatCurrency(-10100))
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "+1.50%", FormatPercent(1.5))
	assert.Equal(t, "-2.00%", FormatPercent(-2))
	assert.Equal(t, "+100.00", FormatPnL(100))
	assert.Equal(t, "0.001", FormatQuantity(0.001))
}

func TestRetryWithResult(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2}

	calls := 0
	v, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)

	permanent := errors.New("permanent")
	cfg.Retryable = func(err error) bool { return !errors.Is(err, permanent) }
	calls = 0
	err = Retry(context.Background(), cfg, func() error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 1}
	err := Retry(ctx, cfg, func() error { return errors.New("fail") })
	assert.ErrorIs(t, err, context.Canceled)
}

// Property: Round2 never moves a value by more than half a cent.
func TestProperty_Round2Bounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("|Round2(x) - x| <= 0.005", prop.ForAll(
		func(x float64) bool {
			d := Round2(x) - x
			return d <= 0.005+1e-9 && d >= -0.005-1e-9
		},
		gen.Float64Range(-1e7, 1e7),
	))

	properties.TestingRun(t)
}
