package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"binance-trader/internal/broker"
	"binance-trader/internal/config"
	apperrors "binance-trader/internal/errors"
	"binance-trader/internal/models"
	"binance-trader/internal/store"
	"binance-trader/internal/trading"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func bar(i int, close float64, closed bool) models.Bar {
	open := t0.Add(time.Duration(i) * time.Minute)
	return models.Bar{
		Symbol:    "BTCUSDT",
		Interval:  "1m",
		OpenTime:  open,
		Open:      close,
		High:      close,
		Low:       close,
		Close:     close,
		CloseTime: open.Add(time.Minute - time.Millisecond),
		IsClosed:  closed,
	}
}

type mockStrategy struct {
	mock.Mock
}

func (m *mockStrategy) Name() string { return "mock" }

func (m *mockStrategy) OnBar(ctx context.Context, b models.Bar) (*models.Signal, error) {
	args := m.Called(ctx, b)
	sig, _ := args.Get(0).(*models.Signal)
	return sig, args.Error(1)
}

type chanStreamer struct {
	ch chan models.Bar
}

func (c chanStreamer) StreamBars(ctx context.Context, symbol, interval string) (<-chan models.Bar, error) {
	return c.ch, nil
}

type recorder struct {
	mu   sync.Mutex
	bars []models.Bar
}

func (r *recorder) UpsertBars(ctx context.Context, bars []models.Bar) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bars = append(r.bars, bars...)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bars)
}

type brokenStore struct {
	*store.MemoryStore
}

func (brokenStore) AppendTrade(ctx context.Context, t models.Trade) (models.Trade, error) {
	return models.Trade{}, errors.New("database is locked")
}

func newTestService(t *testing.T, cfg *config.Config, strat *mockStrategy, trades TradeStore, stream chan models.Bar, rec BarRecorder) *Service {
	t.Helper()
	return NewService(Deps{
		Config:         config.NewStatic(cfg),
		Strategy:       strat,
		Trades:         trades,
		Policy:         trading.NewPolicy(trades, zerolog.Nop()),
		Stream:         chanStreamer{ch: stream},
		Recorder:       rec,
		InitialCapital: 10000,
		Logger:         zerolog.Nop(),
	})
}

func buySignal(price float64) *models.Signal {
	return &models.Signal{Action: models.ActionBuy, Symbol: "BTCUSDT", Price: price, Origin: models.OriginStrategy}
}

func TestLifecycle(t *testing.T) {
	l := NewLifecycle()
	now := t0
	l.now = func() time.Time { return now }

	assert.Equal(t, StateStopped, l.State())
	assert.Zero(t, l.Uptime())
	assert.ErrorIs(t, l.Stop(), apperrors.ErrNotRunning)

	require.NoError(t, l.Start())
	assert.ErrorIs(t, l.Start(), apperrors.ErrAlreadyRunning)
	assert.True(t, l.Running())
	assert.Equal(t, t0, l.StartedAt())

	now = t0.Add(90 * time.Second)
	assert.Equal(t, 90*time.Second, l.Uptime())

	require.NoError(t, l.Stop())
	assert.False(t, l.Running())
	assert.Zero(t, l.Uptime())
	require.NoError(t, l.Start())
}

func TestProcessBar_IgnoresUnclosedBar(t *testing.T) {
	strat := &mockStrategy{}
	mem := store.NewMemoryStore()
	svc := newTestService(t, config.Default(), strat, mem, nil, nil)

	trade, err := svc.ProcessBar(context.Background(), bar(0, 100, false))
	require.NoError(t, err)
	assert.Nil(t, trade)
	strat.AssertNotCalled(t, "OnBar", mock.Anything, mock.Anything)
}

func TestProcessBar_IgnoresInactivePair(t *testing.T) {
	strat := &mockStrategy{}
	svc := newTestService(t, config.Default(), strat, store.NewMemoryStore(), nil, nil)

	b := bar(0, 100, true)
	b.Symbol = "ETHUSDT"
	trade, err := svc.ProcessBar(context.Background(), b)
	require.NoError(t, err)
	assert.Nil(t, trade)
	strat.AssertNotCalled(t, "OnBar", mock.Anything, mock.Anything)
}

func TestProcessBar_StrategyThenRisk(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Risk.StopLossPercent = 5
	strat := &mockStrategy{}
	mem := store.NewMemoryStore()
	svc := newTestService(t, cfg, strat, mem, nil, nil)

	first := bar(0, 100, true)
	strat.On("OnBar", mock.Anything, first).Return(buySignal(100), nil).Once()
	trade, err := svc.ProcessBar(ctx, first)
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.Equal(t, models.OrderSideBuy, trade.Side)
	assert.InDelta(t, 95, trade.Quantity, 1e-9)

	// The risk rule closes the long; the strategy is not consulted.
	trade, err = svc.ProcessBar(ctx, bar(1, 90, true))
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.Equal(t, models.OrderSideSell, trade.Side)
	assert.Equal(t, models.OriginRisk, trade.Origin)

	strat.On("OnBar", mock.Anything, bar(2, 80, true)).Return(nil, nil).Once()
	trade, err = svc.ProcessBar(ctx, bar(2, 80, true))
	require.NoError(t, err)
	assert.Nil(t, trade)

	trades, err := mem.ListTrades(ctx)
	require.NoError(t, err)
	assert.Len(t, trades, 2)
	strat.AssertExpectations(t)
}

func TestProcessBar_ReadsRiskConfigEachBar(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Risk.StopLossPercent = 50
	strat := &mockStrategy{}
	mem := store.NewMemoryStore()
	svc := newTestService(t, cfg, strat, mem, nil, nil)

	strat.On("OnBar", mock.Anything, bar(0, 100, true)).Return(buySignal(100), nil).Once()
	strat.On("OnBar", mock.Anything, bar(1, 97, true)).Return(nil, nil).Once()

	_, err := svc.ProcessBar(ctx, bar(0, 100, true))
	require.NoError(t, err)
	trade, err := svc.ProcessBar(ctx, bar(1, 97, true))
	require.NoError(t, err)
	assert.Nil(t, trade)

	cfg.Risk.StopLossPercent = 2
	trade, err = svc.ProcessBar(ctx, bar(2, 97, true))
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.Equal(t, models.OriginRisk, trade.Origin)
}

func TestProcessBar_PersistenceError(t *testing.T) {
	strat := &mockStrategy{}
	broken := brokenStore{MemoryStore: store.NewMemoryStore()}
	svc := newTestService(t, config.Default(), strat, broken, nil, nil)

	strat.On("OnBar", mock.Anything, mock.Anything).Return(buySignal(100), nil)
	trade, err := svc.ProcessBar(context.Background(), bar(0, 100, true))
	assert.Nil(t, trade)
	assert.ErrorIs(t, err, apperrors.ErrPersistence)
}

func TestRun_ProcessesStreamUntilStopped(t *testing.T) {
	strat := &mockStrategy{}
	mem := store.NewMemoryStore()
	rec := &recorder{}
	stream := make(chan models.Bar)
	svc := newTestService(t, config.Default(), strat, mem, stream, rec)

	strat.On("OnBar", mock.Anything, bar(0, 100, true)).Return(buySignal(100), nil).Once()
	strat.On("OnBar", mock.Anything, mock.Anything).Return(nil, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run(context.Background()) }()

	require.Eventually(t, svc.Lifecycle().Running, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, svc.Run(context.Background()), apperrors.ErrAlreadyRunning)

	stream <- bar(0, 100, false)
	stream <- bar(0, 100, true)
	stream <- bar(1, 101, true)

	require.Eventually(t, func() bool { return svc.Status().BarsProcessed == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return rec.count() == 3 }, time.Second, 5*time.Millisecond)

	status := svc.Status()
	assert.Equal(t, StateRunning, status.State)
	assert.Equal(t, 1, status.TradesExecuted)
	assert.Equal(t, "BTCUSDT", status.Symbol)
	assert.Equal(t, "mock", status.Strategy)

	require.NoError(t, svc.Stop())
	require.NoError(t, <-errCh)
	assert.Equal(t, StateStopped, svc.Status().State)
	assert.ErrorIs(t, svc.Stop(), apperrors.ErrNotRunning)

	trades, err := mem.ListTrades(context.Background())
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestRun_ContinuesAfterPersistenceError(t *testing.T) {
	strat := &mockStrategy{}
	broken := brokenStore{MemoryStore: store.NewMemoryStore()}
	stream := make(chan models.Bar)
	svc := newTestService(t, config.Default(), strat, broken, stream, nil)

	strat.On("OnBar", mock.Anything, mock.Anything).Return(buySignal(100), nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run(ctx) }()

	stream <- bar(0, 100, true)
	stream <- bar(1, 100, true)

	require.Eventually(t, func() bool { return svc.Status().BarsProcessed == 2 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, svc.Status().LastError, "database is locked")

	cancel()
	require.NoError(t, <-errCh)
}

// slowStreamer holds the subscription open until the run is cancelled.
type slowStreamer struct {
	subscribed chan struct{}
}

func (s slowStreamer) StreamBars(ctx context.Context, symbol, interval string) (<-chan models.Bar, error) {
	close(s.subscribed)
	<-ctx.Done()
	ch := make(chan models.Bar)
	close(ch)
	return ch, nil
}

func TestRun_StopWhileSubscribing(t *testing.T) {
	streamer := slowStreamer{subscribed: make(chan struct{})}
	mem := store.NewMemoryStore()
	svc := NewService(Deps{
		Config:         config.NewStatic(config.Default()),
		Strategy:       &mockStrategy{},
		Trades:         mem,
		Policy:         trading.NewPolicy(mem, zerolog.Nop()),
		Stream:         streamer,
		InitialCapital: 10000,
		Logger:         zerolog.Nop(),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run(context.Background()) }()

	require.Eventually(t, func() bool { return svc.Status().State == StateRunning }, time.Second, time.Millisecond)
	require.NoError(t, svc.Stop())
	require.NoError(t, <-errCh)
	assert.Equal(t, StateStopped, svc.Status().State)

	select {
	case <-streamer.subscribed:
	default:
		t.Fatal("stream was never requested")
	}
}

func TestRun_PaperFillsAtStreamedPrice(t *testing.T) {
	strat := &mockStrategy{}
	strat.On("OnBar", mock.Anything, mock.Anything).Return(buySignal(100), nil)

	mem := store.NewMemoryStore()
	paper := broker.NewPaperBroker(zerolog.Nop())
	stream := make(chan models.Bar)
	svc := NewService(Deps{
		Config:         config.NewStatic(config.Default()),
		Strategy:       strat,
		Trades:         mem,
		Policy:         trading.NewPolicy(mem, zerolog.Nop(), trading.WithOrderPlacer(paper)),
		Stream:         chanStreamer{ch: stream},
		OnBar:          paper.ProcessBar,
		InitialCapital: 10000,
		Logger:         zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run(ctx) }()

	stream <- bar(0, 99.5, false)
	stream <- bar(0, 100, true)

	require.Eventually(t, func() bool { return len(paper.Orders()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 100.0, paper.Orders()[0].Price)

	cancel()
	require.NoError(t, <-errCh)
}

// flakyRecorder fails the first write of every bar.
type flakyRecorder struct {
	recorder
	failed map[time.Time]bool
}

func (f *flakyRecorder) UpsertBars(ctx context.Context, bars []models.Bar) error {
	f.mu.Lock()
	first := !f.failed[bars[0].OpenTime]
	f.failed[bars[0].OpenTime] = true
	f.mu.Unlock()
	if first {
		return errors.New("database is locked")
	}
	return f.recorder.UpsertBars(ctx, bars)
}

func TestRun_RecorderRetriesBusyStore(t *testing.T) {
	strat := &mockStrategy{}
	strat.On("OnBar", mock.Anything, mock.Anything).Return(nil, nil)
	rec := &flakyRecorder{failed: map[time.Time]bool{}}
	stream := make(chan models.Bar)
	svc := newTestService(t, config.Default(), strat, store.NewMemoryStore(), stream, rec)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run(ctx) }()

	stream <- bar(0, 100, true)
	stream <- bar(1, 101, true)

	require.Eventually(t, func() bool { return rec.count() == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)
}
