// Package live runs the strategy against the kline stream, one bar at a time.
package live

import (
	"sync"
	"time"

	apperrors "binance-trader/internal/errors"
)

// State is the lifecycle state of the live service.
type State string

const (
	StateStopped State = "STOPPED"
	StateRunning State = "RUNNING"
)

// Lifecycle tracks whether the service runs and since when. Start times
// come from time.Now so Uptime uses the monotonic clock.
type Lifecycle struct {
	mu      sync.RWMutex
	state   State
	started time.Time
	now     func() time.Time
}

// NewLifecycle returns a stopped lifecycle.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateStopped, now: time.Now}
}

// Start moves to RUNNING and records the start time.
func (l *Lifecycle) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateRunning {
		return apperrors.ErrAlreadyRunning
	}
	l.state = StateRunning
	l.started = l.now()
	return nil
}

// Stop moves to STOPPED.
func (l *Lifecycle) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateRunning {
		return apperrors.ErrNotRunning
	}
	l.state = StateStopped
	l.started = time.Time{}
	return nil
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Running reports whether the state is RUNNING.
func (l *Lifecycle) Running() bool {
	return l.State() == StateRunning
}

// StartedAt returns the start time, zero when stopped.
func (l *Lifecycle) StartedAt() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.started
}

// Uptime returns the time since Start, zero when stopped.
func (l *Lifecycle) Uptime() time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state != StateRunning {
		return 0
	}
	return l.now().Sub(l.started)
}
