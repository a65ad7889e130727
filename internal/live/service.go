package live

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"binance-trader/internal/broker"
	"binance-trader/internal/config"
	apperrors "binance-trader/internal/errors"
	"binance-trader/internal/ledger"
	"binance-trader/internal/logging"
	"binance-trader/internal/models"
	"binance-trader/internal/risk"
	"binance-trader/internal/strategy"
	"binance-trader/internal/trading"
	"binance-trader/pkg/utils"
)

// recordBuffer is how many bars may wait for the recorder before the
// consumer blocks.
const recordBuffer = 64

// recordRetry covers short SQLite lock contention with manual commands.
var recordRetry = utils.RetryConfig{
	MaxAttempts:   3,
	InitialDelay:  50 * time.Millisecond,
	MaxDelay:      time.Second,
	BackoffFactor: 2,
}

// TradeStore is the trade record the service reads and appends to.
type TradeStore interface {
	trading.TradeAppender
	trading.TradeLister
}

// BarRecorder persists streamed bars.
type BarRecorder interface {
	UpsertBars(ctx context.Context, bars []models.Bar) error
}

// Deps are the collaborators of a Service.
type Deps struct {
	Config         config.Provider
	Strategy       strategy.Strategy
	Trades         TradeStore
	Policy         *trading.Policy
	Stream         broker.BarStreamer
	Recorder       BarRecorder // optional
	// OnBar sees every streamed kline before it is processed, closed or
	// not. The paper broker uses it to track fill prices. Optional.
	OnBar          func(models.Bar)
	InitialCapital float64
	Logger         zerolog.Logger
}

// Status is a point-in-time view of the service.
type Status struct {
	State          State
	StartedAt      time.Time
	Uptime         time.Duration
	Symbol         string
	Interval       string
	Strategy       string
	BarsProcessed  int
	TradesExecuted int
	LastBarClose   time.Time
	LastError      string
}

// Service consumes closed bars sequentially: risk rules first, the
// strategy only when no rule fired, then the execution policy.
//
// The position is replayed from the trade store on every bar and no lock is
// held between evaluating and appending, so a manual trade recorded
// concurrently can interleave with a strategy trade. That is acceptable for
// a single operator; multi-writer setups need an external lock.
type Service struct {
	deps      Deps
	evaluator *risk.Evaluator
	lifecycle *Lifecycle
	logger    zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	bars    int
	trades  int
	lastBar time.Time
	lastErr string
}

// NewService creates a stopped service.
func NewService(deps Deps) *Service {
	logger := deps.Logger.With().Str("component", "live").Logger()
	return &Service{
		deps:      deps,
		evaluator: risk.NewEvaluator(logger),
		lifecycle: NewLifecycle(),
		logger:    logger,
	}
}

// Lifecycle exposes the run state.
func (s *Service) Lifecycle() *Lifecycle {
	return s.lifecycle
}

// ProcessBar runs one bar through the pipeline and returns the executed
// trade, if any. Unclosed bars and bars for another symbol are ignored.
// Settings are read from the config provider on every call.
func (s *Service) ProcessBar(ctx context.Context, bar models.Bar) (*models.Trade, error) {
	if !bar.IsClosed {
		return nil, nil
	}

	symbol := s.deps.Config.ActivePair()
	if bar.Symbol != "" && !strings.EqualFold(bar.Symbol, symbol) {
		s.logger.Debug().Str("bar_symbol", bar.Symbol).Str("active_pair", symbol).Msg("Ignoring bar for inactive pair")
		return nil, nil
	}

	logging.LogBar(s.logger, symbol, bar.Interval, bar.CloseTime, bar.Close)

	trades, err := s.deps.Trades.ListTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing trades: %w", err)
	}
	snap := ledger.ComputeSnapshot(trades, s.deps.InitialCapital)

	sig := s.evaluator.Evaluate(snap, bar.Close, s.deps.Config.Risk())
	if sig == nil {
		sig, err = s.deps.Strategy.OnBar(ctx, bar)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", s.deps.Strategy.Name(), err)
		}
	}
	if sig == nil {
		return nil, nil
	}
	if sig.Symbol == "" {
		sig.Symbol = symbol
	}

	return s.deps.Policy.Apply(ctx, snap, *sig)
}

// Run streams bars for the configured pair until ctx is cancelled or Stop
// is called. A bar already being processed completes; no further bar is
// taken. Errors on a bar are logged and the loop moves on.
func (s *Service) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	// cancel and done are published before the state flips to RUNNING so
	// Stop works as soon as Status reports the service running.
	s.mu.Lock()
	if err := s.lifecycle.Start(); err != nil {
		s.mu.Unlock()
		cancel()
		return err
	}
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.cancel = nil
		_ = s.lifecycle.Stop()
		s.mu.Unlock()
		close(done)
	}()

	symbol := s.deps.Config.ActivePair()
	interval := s.deps.Config.Timeframe()
	logger := logging.WithSymbol(s.logger, symbol)

	stream, err := s.deps.Stream.StreamBars(runCtx, symbol, interval)
	if err != nil {
		return fmt.Errorf("starting kline stream: %w", err)
	}

	logger.Info().
		Str("interval", interval).
		Str("strategy", s.deps.Strategy.Name()).
		Msg("Live service started")

	g, gctx := errgroup.WithContext(runCtx)
	toRecord := make(chan models.Bar, recordBuffer)

	g.Go(func() error {
		defer close(toRecord)
		for {
			select {
			case <-gctx.Done():
				return nil
			case bar, ok := <-stream:
				if !ok {
					return nil
				}
				if gctx.Err() != nil {
					return nil
				}
				if s.deps.OnBar != nil {
					s.deps.OnBar(bar)
				}
				if s.deps.Recorder != nil {
					select {
					case toRecord <- bar:
					case <-gctx.Done():
						return nil
					}
				}
				s.handle(context.WithoutCancel(gctx), bar)
			}
		}
	})

	g.Go(func() error {
		for bar := range toRecord {
			recordCtx := context.WithoutCancel(gctx)
			err := utils.Retry(recordCtx, recordRetry, func() error {
				return s.deps.Recorder.UpsertBars(recordCtx, []models.Bar{bar})
			})
			if err != nil {
				logger.Warn().Err(err).Time("open_time", bar.OpenTime).Msg("Recording bar failed")
			}
		}
		return nil
	})

	err = g.Wait()
	logger.Info().Msg("Live service stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Service) handle(ctx context.Context, bar models.Bar) {
	trade, err := s.ProcessBar(ctx, bar)

	s.mu.Lock()
	defer s.mu.Unlock()
	if bar.IsClosed {
		s.bars++
		s.lastBar = bar.CloseTime
	}
	if trade != nil {
		s.trades++
	}
	if err != nil {
		s.lastErr = err.Error()
		event := s.logger.Error().Err(err).Time("close_time", bar.CloseTime)
		if errors.Is(err, apperrors.ErrPersistence) {
			event.Msg("Trade not recorded, continuing with next bar")
			return
		}
		event.Msg("Bar processing failed")
	}
}

// Stop halts the stream and waits for the bar in flight to finish.
func (s *Service) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return apperrors.ErrNotRunning
	}
	cancel()
	<-done
	return nil
}

// Status reports the lifecycle state and bar counters.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:          s.lifecycle.State(),
		StartedAt:      s.lifecycle.StartedAt(),
		Uptime:         s.lifecycle.Uptime(),
		Symbol:         s.deps.Config.ActivePair(),
		Interval:       s.deps.Config.Timeframe(),
		Strategy:       s.deps.Strategy.Name(),
		BarsProcessed:  s.bars,
		TradesExecuted: s.trades,
		LastBarClose:   s.lastBar,
		LastError:      s.lastErr,
	}
}
