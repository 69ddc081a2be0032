// Package position holds the in-memory portfolio state: one open long per
// symbol plus the aggregate queries the entry gates need.
package position

import (
	"fmt"
	"time"
)

// Position is an open long trade and the state its exit rules depend on.
type Position struct {
	Symbol             string
	EntryPrice         float64
	StopPrice          float64
	Qty                float64
	InitialRiskPerUnit float64
	OpenedAt           time.Time
	OpenedCandleIndex  int64
	PartialTaken       bool
	HighestPrice       float64
	TrailingStop       *float64
}

// RGain is the unrealized gain at price expressed in initial-risk units.
func (p *Position) RGain(price float64) float64 {
	if p.InitialRiskPerUnit <= 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.InitialRiskPerUnit
}

// RaiseTrailingStop sets the trailing stop to candidate, but never lowers an
// already-set stop. Returns true when the stop moved.
func (p *Position) RaiseTrailingStop(candidate float64) bool {
	if p.TrailingStop != nil && candidate <= *p.TrailingStop {
		return false
	}
	v := candidate
	p.TrailingStop = &v
	return true
}

// RiskAmount is the absolute amount at risk on the remaining quantity.
func (p *Position) RiskAmount() float64 {
	risk := p.EntryPrice - p.StopPrice
	if risk < 0 {
		risk = 0
	}
	return risk * p.Qty
}

// Ledger tracks open positions. It is only ever touched by the single
// orchestration goroutine, so it carries no locking.
type Ledger struct {
	positions map[string]*Position
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{positions: make(map[string]*Position)}
}

// Open inserts a position. At most one position per symbol may be open;
// inserting a second is an error.
func (l *Ledger) Open(p *Position) error {
	if _, exists := l.positions[p.Symbol]; exists {
		return fmt.Errorf("position already open for %s", p.Symbol)
	}
	l.positions[p.Symbol] = p
	return nil
}

// Close removes the position for symbol and returns it, or nil when none is
// open.
func (l *Ledger) Close(symbol string) *Position {
	p, ok := l.positions[symbol]
	if !ok {
		return nil
	}
	delete(l.positions, symbol)
	return p
}

// Get returns the open position for symbol, or nil.
func (l *Ledger) Get(symbol string) *Position {
	return l.positions[symbol]
}

// OpenCount returns the number of open positions.
func (l *Ledger) OpenCount() int {
	return len(l.positions)
}

// OpenRisk returns the sum of absolute risk across open positions.
func (l *Ledger) OpenRisk() float64 {
	total := 0.0
	for _, p := range l.positions {
		total += p.RiskAmount()
	}
	return total
}

// MajorCount returns how many open positions are in the majors set.
func (l *Ledger) MajorCount(majors map[string]bool) int {
	count := 0
	for sym := range l.positions {
		if majors[sym] {
			count++
		}
	}
	return count
}

// Symbols returns the symbols with open positions.
func (l *Ledger) Symbols() []string {
	out := make([]string, 0, len(l.positions))
	for sym := range l.positions {
		out = append(out, sym)
	}
	return out
}
