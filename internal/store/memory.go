package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"binance-trader/internal/models"
)

// MemoryStore is a TradeStore kept in process memory. Used by backtests and
// tests.
type MemoryStore struct {
	mu     sync.RWMutex
	trades []models.Trade
	ids    map[string]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[string]struct{})}
}

// AppendTrade stores a copy of trade.
func (m *MemoryStore) AppendTrade(ctx context.Context, trade models.Trade) (models.Trade, error) {
	if err := ctx.Err(); err != nil {
		return models.Trade{}, err
	}
	if trade.ID == "" {
		trade.ID = uuid.Must(uuid.NewV7()).String()
	}
	if trade.Status == "" {
		trade.Status = models.TradeFilled
	}
	if err := trade.Validate(); err != nil {
		return models.Trade{}, fmt.Errorf("invalid trade: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.ids[trade.ID]; dup {
		return models.Trade{}, fmt.Errorf("duplicate trade id %s", trade.ID)
	}
	m.ids[trade.ID] = struct{}{}
	m.trades = append(m.trades, trade)
	return trade, nil
}

// ListTrades returns all trades in ledger order.
func (m *MemoryStore) ListTrades(ctx context.Context) ([]models.Trade, error) {
	m.mu.RLock()
	out := make([]models.Trade, len(m.trades))
	copy(out, m.trades)
	m.mu.RUnlock()

	models.SortTrades(out)
	return out, nil
}

// QueryTrades returns trades matching filter, newest first.
func (m *MemoryStore) QueryTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error) {
	all, _ := m.ListTrades(ctx)
	var out []models.Trade
	for i := len(all) - 1; i >= 0; i-- {
		if !filter.matches(all[i]) {
			continue
		}
		out = append(out, all[i])
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
