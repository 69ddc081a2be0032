// Package journal records trade lifecycle events for audit. The journal is
// an append-only trail; it never feeds back into trading decisions.
package journal

import (
	"context"
	"time"
)

// Event represents a journaled event.
type Event struct {
	Time        time.Time
	Type        string // e.g., "signal", "entry", "exit", "skip", "error"
	Symbol      string
	Description string
	Data        map[string]any
}

// Journaler interface for journaling events.
type Journaler interface {
	LogEvent(ctx context.Context, event Event) error
	Close() error
}

// Nop is a journaler that discards everything. Used when no database is
// configured.
type Nop struct{}

func NewNop() *Nop { return &Nop{} }

func (*Nop) LogEvent(ctx context.Context, event Event) error { return nil }

func (*Nop) Close() error { return nil }
