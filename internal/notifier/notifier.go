// Package notifier
package notifier

// Notifier interface for sending notifications (e.g., Telegram).
type Notifier interface {
	Send(msg string) error
	SendWithRetry(msg string) error
}

// Nop discards all notifications. Used when no channel is configured.
type Nop struct{}

func NewNop() *Nop { return &Nop{} }

func (*Nop) Send(msg string) error          { return nil }
func (*Nop) SendWithRetry(msg string) error { return nil }
