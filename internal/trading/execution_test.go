package trading

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "binance-trader/internal/errors"
	"binance-trader/internal/ledger"
	"binance-trader/internal/models"
	"binance-trader/internal/store"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func fixedClock() func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return t0.Add(time.Duration(n) * time.Minute)
	}
}

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("T%04d", n)
	}
}

func buy(price float64) models.Signal {
	return models.Signal{Action: models.ActionBuy, Symbol: "BTCUSDT", Price: price, Origin: models.OriginStrategy}
}

func sell(price float64) models.Signal {
	return models.Signal{Action: models.ActionSell, Symbol: "BTCUSDT", Price: price, Origin: models.OriginStrategy}
}

type failingAppender struct{}

func (failingAppender) AppendTrade(ctx context.Context, trade models.Trade) (models.Trade, error) {
	return models.Trade{}, errors.New("disk full")
}

type mockPlacer struct {
	mock.Mock
}

func (m *mockPlacer) SubmitOrder(ctx context.Context, symbol string, side models.OrderSide, quantity float64) (string, error) {
	args := m.Called(ctx, symbol, side, quantity)
	return args.String(0), args.Error(1)
}

// ledgerAppender applies every appended trade to a running ledger.
type ledgerAppender struct {
	l *ledger.Ledger
}

func (a ledgerAppender) AppendTrade(ctx context.Context, trade models.Trade) (models.Trade, error) {
	if err := a.l.Apply(trade); err != nil {
		return models.Trade{}, err
	}
	return trade, nil
}

func TestSize(t *testing.T) {
	flat := ledger.NewSnapshot(10000)
	long := ledger.Snapshot{Cash: 500, Position: 0.2, AvgEntry: 47500, InitialCapital: 10000}
	short := ledger.Snapshot{Cash: 19500, Position: -0.2, AvgEntry: 47500, InitialCapital: 10000}
	poor := ledger.NewSnapshot(10)

	tests := []struct {
		name    string
		snap    ledger.Snapshot
		sig     models.Signal
		wantOK  bool
		side    models.OrderSide
		wantQty float64
	}{
		{"buy while flat opens long", flat, buy(50000), true, models.OrderSideBuy, 0.19},
		{"sell while flat opens short", flat, sell(50000), true, models.OrderSideSell, 0.19},
		{"sell while long closes", long, sell(50000), true, models.OrderSideSell, 0.2},
		{"buy while short covers", short, buy(50000), true, models.OrderSideBuy, 0.2},
		{"buy while long is ignored", long, buy(50000), false, "", 0},
		{"sell while short is ignored", short, sell(50000), false, "", 0},
		{"hold is ignored", flat, models.Signal{Action: models.ActionHold, Symbol: "BTCUSDT", Price: 50000}, false, "", 0},
		{"zero price is ignored", flat, buy(0), false, "", 0},
		{"cash at minimum cannot open", poor, buy(50000), false, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, ok := Size(tt.snap, tt.sig)
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.side, order.Side)
			assert.InDelta(t, tt.wantQty, order.Quantity, 1e-12)
		})
	}
}

func TestPolicy_OpenAndClose(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	policy := NewPolicy(mem, zerolog.Nop(),
		WithClock(fixedClock()), WithIDGenerator(seqIDs()), WithCommissionRate(0.001))

	snap := ledger.NewSnapshot(10000)
	opened, err := policy.Apply(ctx, snap, buy(50000))
	require.NoError(t, err)
	require.NotNil(t, opened)
	assert.Equal(t, "T0001", opened.ID)
	assert.Equal(t, models.OrderSideBuy, opened.Side)
	assert.InDelta(t, 0.19, opened.Quantity, 1e-12)
	assert.InDelta(t, 9.5, opened.Commission, 1e-9)
	assert.Equal(t, models.OriginStrategy, opened.Origin)

	trades, err := mem.ListTrades(ctx)
	require.NoError(t, err)
	snap = ledger.ComputeSnapshot(trades, 10000)
	assert.Equal(t, ledger.StateLong, snap.State())
	assert.InDelta(t, 10000-9500-9.5, snap.Cash, 1e-9)

	again, err := policy.Apply(ctx, snap, buy(51000))
	require.NoError(t, err)
	assert.Nil(t, again)

	closed, err := policy.Apply(ctx, snap, sell(55000))
	require.NoError(t, err)
	require.NotNil(t, closed)
	assert.InDelta(t, 0.19, closed.Quantity, 1e-12)

	trades, err = mem.ListTrades(ctx)
	require.NoError(t, err)
	snap = ledger.ComputeSnapshot(trades, 10000)
	assert.True(t, snap.IsFlat())
	assert.InDelta(t, 10000+0.19*5000-9.5-10.45, snap.Cash, 1e-6)
}

func TestPolicy_EmptySymbolIsIgnored(t *testing.T) {
	policy := NewPolicy(store.NewMemoryStore(), zerolog.Nop())
	sig := buy(100)
	sig.Symbol = ""

	trade, err := policy.Apply(context.Background(), ledger.NewSnapshot(1000), sig)
	require.NoError(t, err)
	assert.Nil(t, trade)
}

func TestPolicy_PersistenceFailure(t *testing.T) {
	policy := NewPolicy(failingAppender{}, zerolog.Nop())

	trade, err := policy.Apply(context.Background(), ledger.NewSnapshot(1000), buy(100))
	assert.Nil(t, trade)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrPersistence))
	assert.Contains(t, err.Error(), "disk full")
}

func TestPolicy_OrderFailureKeepsTrade(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	placer := &mockPlacer{}
	placer.On("SubmitOrder", mock.Anything, "BTCUSDT", models.OrderSideBuy, mock.AnythingOfType("float64")).
		Return("", errors.New("exchange unreachable"))

	policy := NewPolicy(mem, zerolog.Nop(), WithOrderPlacer(placer))
	trade, err := policy.Apply(ctx, ledger.NewSnapshot(1000), buy(100))
	require.NoError(t, err)
	require.NotNil(t, trade)

	trades, err := mem.ListTrades(ctx)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
	placer.AssertExpectations(t)
}

func TestPolicy_OrderPlaced(t *testing.T) {
	placer := &mockPlacer{}
	placer.On("SubmitOrder", mock.Anything, "BTCUSDT", models.OrderSideSell, mock.AnythingOfType("float64")).
		Return("123", nil).Once()

	policy := NewPolicy(store.NewMemoryStore(), zerolog.Nop(), WithOrderPlacer(placer))
	_, err := policy.Apply(context.Background(), ledger.NewSnapshot(1000), sell(100))
	require.NoError(t, err)
	placer.AssertExpectations(t)
}

func TestPolicy_ApplyAtUsesGivenTime(t *testing.T) {
	policy := NewPolicy(store.NewMemoryStore(), zerolog.Nop())
	at := time.Date(2023, 1, 2, 3, 4, 0, 0, time.UTC)

	trade, err := policy.ApplyAt(context.Background(), ledger.NewSnapshot(1000), buy(100), at)
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.True(t, trade.Timestamp.Equal(at))
}

func TestPolicy_Manual(t *testing.T) {
	ctx := context.Background()
	policy := NewPolicy(store.NewMemoryStore(), zerolog.Nop())

	trade, err := policy.Manual(ctx, "BTCUSDT", models.OrderSideBuy, 0.001, 50000)
	require.NoError(t, err)
	assert.Equal(t, models.OriginManual, trade.Origin)
	assert.Equal(t, 0.001, trade.Quantity)

	tests := []struct {
		name  string
		side  models.OrderSide
		qty   float64
		price float64
		field string
	}{
		{"bad side", "HOLD", 1, 100, "side"},
		{"zero quantity", models.OrderSideBuy, 0, 100, "quantity"},
		{"negative price", models.OrderSideSell, 1, -1, "price"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := policy.Manual(ctx, "BTCUSDT", tt.side, tt.qty, tt.price)
			var verr *apperrors.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

// Property: executing any signal sequence never flips a position from long
// to short (or back) in one trade.
func TestProperty_NoDirectReversal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("state changes always pass through FLAT", prop.ForAll(
		func(seeds []int) bool {
			ctx := context.Background()
			l := ledger.New(10000)
			policy := NewPolicy(ledgerAppender{l: l}, zerolog.Nop(),
				WithClock(fixedClock()), WithIDGenerator(seqIDs()), WithCommissionRate(0.001))

			prev := l.Snapshot().State()
			for _, s := range seeds {
				sig := buy(50 + float64(s%200))
				if s%2 == 1 {
					sig = sell(50 + float64(s%200))
				}
				if _, err := policy.Apply(ctx, l.Snapshot(), sig); err != nil {
					return false
				}
				cur := l.Snapshot().State()
				if prev != ledger.StateFlat && cur != ledger.StateFlat && prev != cur {
					return false
				}
				prev = cur
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 10000)),
	))

	properties.TestingRun(t)
}
