// Package ledger derives wallet state from the append-only trade record.
package ledger

import (
	"math"

	"binance-trader/internal/models"
)

// Epsilon is the position magnitude below which a position counts as flat.
// Every component that branches on flat versus open uses this value.
const Epsilon = 1e-6

// State is the coarse position state.
type State string

const (
	StateFlat  State = "FLAT"
	StateLong  State = "LONG"
	StateShort State = "SHORT"
)

// Snapshot is the wallet state derived from a trade sequence.
type Snapshot struct {
	Cash           float64
	Position       float64 // signed: >0 long, <0 short
	AvgEntry       float64 // zero iff flat
	OpenLeg        *models.Trade
	InitialCapital float64
	Applied        int // trades folded in
	Skipped        int // invalid records ignored
}

// NewSnapshot returns the flat starting state.
func NewSnapshot(initialCapital float64) Snapshot {
	return Snapshot{Cash: initialCapital, InitialCapital: initialCapital}
}

// ComputeSnapshot replays trades from scratch. The input is not modified;
// a sorted copy is folded with the same step used by the incremental Ledger.
// Records failing Trade.Validate are skipped and counted.
func ComputeSnapshot(trades []models.Trade, initialCapital float64) Snapshot {
	ordered := make([]models.Trade, len(trades))
	copy(ordered, trades)
	models.SortTrades(ordered)

	snap := NewSnapshot(initialCapital)
	for i := range ordered {
		snap.step(ordered[i])
	}
	return snap
}

// step folds one trade into the snapshot.
func (s *Snapshot) step(t models.Trade) {
	if err := t.Validate(); err != nil {
		s.Skipped++
		return
	}

	p, q := t.Price, t.Quantity
	switch t.Side {
	case models.OrderSideBuy:
		s.Cash -= p * q
		if s.Position >= -Epsilon {
			s.open(t, q)
		} else {
			// Covering a short. Any excess over the short is absorbed by
			// the cover, never opening a long.
			s.Position += q
			if s.Position >= -Epsilon {
				s.flatten()
			}
		}
	case models.OrderSideSell:
		s.Cash += p * q
		if s.Position <= Epsilon {
			s.open(t, -q)
		} else {
			s.Position -= q
			if s.Position <= Epsilon {
				s.flatten()
			}
		}
	}

	s.Cash -= t.Commission
	s.Applied++

	if math.Abs(s.Position) < Epsilon {
		s.flatten()
	}
}

// open adds signed quantity dq in the direction of the current position.
func (s *Snapshot) open(t models.Trade, dq float64) {
	size := math.Abs(s.Position)
	if size < Epsilon {
		size = 0
		leg := t
		s.OpenLeg = &leg
	}
	q := math.Abs(dq)
	s.AvgEntry = (size*s.AvgEntry + t.Price*q) / (size + q)
	s.Position += dq
}

func (s *Snapshot) flatten() {
	s.Position = 0
	s.AvgEntry = 0
	s.OpenLeg = nil
}

// IsFlat reports whether the position is within Epsilon of zero.
func (s Snapshot) IsFlat() bool {
	return math.Abs(s.Position) < Epsilon
}

// State classifies the position.
func (s Snapshot) State() State {
	switch {
	case s.IsFlat():
		return StateFlat
	case s.Position > 0:
		return StateLong
	default:
		return StateShort
	}
}

// Equity is cash plus the position marked at price.
func (s Snapshot) Equity(mark float64) float64 {
	return s.Cash + s.Position*mark
}

// UnrealizedPnL is the open position's profit at mark relative to entry.
func (s Snapshot) UnrealizedPnL(mark float64) float64 {
	if s.IsFlat() {
		return 0
	}
	return s.Position * (mark - s.AvgEntry)
}

// Invested is the entry cost of the open position.
func (s Snapshot) Invested() float64 {
	return math.Abs(s.Position) * s.AvgEntry
}

// TotalPnL is equity at mark less the starting capital.
func (s Snapshot) TotalPnL(mark float64) float64 {
	return s.Equity(mark) - s.InitialCapital
}

// Equal reports whether two snapshots agree within tolerance. OpenLeg is
// compared by trade ID.
func (s Snapshot) Equal(o Snapshot) bool {
	if !closeEnough(s.Cash, o.Cash) || !closeEnough(s.Position, o.Position) || !closeEnough(s.AvgEntry, o.AvgEntry) {
		return false
	}
	if (s.OpenLeg == nil) != (o.OpenLeg == nil) {
		return false
	}
	if s.OpenLeg != nil && s.OpenLeg.ID != o.OpenLeg.ID {
		return false
	}
	return s.Applied == o.Applied
}

func closeEnough(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}
