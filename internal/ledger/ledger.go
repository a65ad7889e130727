package ledger

import (
	"fmt"
	"sync"

	apperrors "binance-trader/internal/errors"
	"binance-trader/internal/models"
)

// Ledger keeps a running snapshot and the trades behind it. Appends in
// timestamp order are applied in O(1); an out-of-order append rebuilds the
// snapshot from a full replay. Reconcile checks the running state against
// replay from the last verified checkpoint.
type Ledger struct {
	mu             sync.RWMutex
	initialCapital float64
	trades         []models.Trade
	snap           Snapshot

	reconcileEvery int
	checkpoint     checkpoint
}

// checkpoint is a snapshot known to equal replay of trades[:index].
type checkpoint struct {
	index int
	snap  Snapshot
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithReconcileEvery makes Apply reconcile after every n trades. Zero disables
// automatic reconciliation.
func WithReconcileEvery(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.reconcileEvery = n
		}
	}
}

// New creates an empty ledger.
func New(initialCapital float64, opts ...Option) *Ledger {
	l := &Ledger{
		initialCapital: initialCapital,
		snap:           NewSnapshot(initialCapital),
	}
	l.checkpoint = checkpoint{snap: l.snap}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load creates a ledger over an existing trade history.
func Load(trades []models.Trade, initialCapital float64, opts ...Option) *Ledger {
	l := New(initialCapital, opts...)
	l.trades = make([]models.Trade, len(trades))
	copy(l.trades, trades)
	models.SortTrades(l.trades)
	l.rebuild()
	return l
}

// Apply records a trade and updates the running snapshot.
func (l *Ledger) Apply(t models.Trade) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidTrade, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if n := len(l.trades); n > 0 && t.Before(l.trades[n-1]) {
		l.trades = append(l.trades, t)
		models.SortTrades(l.trades)
		l.rebuild()
		return nil
	}

	l.trades = append(l.trades, t)
	l.snap.step(t)

	if l.reconcileEvery > 0 && len(l.trades)-l.checkpoint.index >= l.reconcileEvery {
		return l.reconcileLocked(l.checkpoint)
	}
	return nil
}

// Snapshot returns a copy of the running state.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap
}

// Trades returns a copy of the recorded trades in order.
func (l *Ledger) Trades() []models.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// Len returns the number of recorded trades.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.trades)
}

// Reconcile compares the running snapshot with a full replay of every
// recorded trade. On mismatch the running state is replaced by the replay
// and ErrLedgerDrift is returned.
func (l *Ledger) Reconcile() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reconcileLocked(checkpoint{snap: NewSnapshot(l.initialCapital)})
}

func (l *Ledger) reconcileLocked(from checkpoint) error {
	replay := from.snap
	for i := from.index; i < len(l.trades); i++ {
		replay.step(l.trades[i])
	}

	if !replay.Equal(l.snap) {
		running := l.snap
		l.snap = replay
		l.checkpoint = checkpoint{index: len(l.trades), snap: replay}
		return fmt.Errorf("%w: cash %.8f vs %.8f, position %.8f vs %.8f",
			apperrors.ErrLedgerDrift, running.Cash, replay.Cash, running.Position, replay.Position)
	}

	l.checkpoint = checkpoint{index: len(l.trades), snap: replay}
	return nil
}

func (l *Ledger) rebuild() {
	snap := NewSnapshot(l.initialCapital)
	for i := range l.trades {
		snap.step(l.trades[i])
	}
	l.snap = snap
	l.checkpoint = checkpoint{index: len(l.trades), snap: snap}
}
