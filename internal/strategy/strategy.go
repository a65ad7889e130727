// Package strategy defines signal sources and the registry that builds them
// by name.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	apperrors "binance-trader/internal/errors"
	"binance-trader/internal/models"
)

// Strategy turns closed bars into trading signals. A nil signal means
// nothing to do. Implementations may keep state across bars and are not
// safe for concurrent use.
type Strategy interface {
	Name() string
	OnBar(ctx context.Context, bar models.Bar) (*models.Signal, error)
}

// Params are free-form strategy settings.
type Params map[string]interface{}

// Int returns key as an int, or def when missing or of another type.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// Float returns key as a float64, or def.
func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// Factory builds a fresh strategy instance.
type Factory func(params Params) (Strategy, error)

// Registry maps names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(name)] = f
}

// New builds the strategy registered under name.
func (r *Registry) New(name string, params Params) (Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[strings.ToLower(strings.TrimSpace(name))]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s (available: %s)", apperrors.ErrUnknownStrategy, name, strings.Join(r.Names(), ", "))
	}
	if params == nil {
		params = Params{}
	}
	return f(params)
}

// Names returns registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry with the built-in strategies.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("sma_crossover", NewSMACrossover)
	r.Register("rsi", NewRSI)
	r.Register("macd", NewMACD)
	r.Register("random", NewRandom)
	r.Register("hold", NewHold)
	return r
}

// signal builds a strategy signal at the bar close.
func signal(action models.Action, bar models.Bar, reason string) *models.Signal {
	return &models.Signal{
		Action: action,
		Symbol: bar.Symbol,
		Price:  bar.Close,
		Reason: reason,
		Origin: models.OriginStrategy,
	}
}

// window keeps the most recent closes.
type window struct {
	size   int
	values []float64
}

func newWindow(size int) *window {
	return &window{size: size, values: make([]float64, 0, size)}
}

func (w *window) push(v float64) {
	if len(w.values) == w.size {
		copy(w.values, w.values[1:])
		w.values = w.values[:w.size-1]
	}
	w.values = append(w.values, v)
}

func (w *window) full() bool { return len(w.values) == w.size }
