// Package candle
package candle

import (
	"errors"
	"time"
)

// Candle represents a single closed interval candle. Only closed candles
// enter a History; in-progress updates are discarded at the stream boundary.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
	Closed    bool      `json:"closed"`
}

// Validate checks if a candle has valid data
func (c *Candle) Validate() error {
	if c.Symbol == "" {
		return errors.New("candle symbol cannot be empty")
	}
	if c.CloseTime.IsZero() {
		return errors.New("candle close time is zero")
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return errors.New("candle prices must be positive")
	}
	if c.High < c.Low {
		return errors.New("candle high cannot be less than low")
	}
	if c.Open < c.Low || c.Open > c.High {
		return errors.New("candle open price must be between high and low")
	}
	if c.Close < c.Low || c.Close > c.High {
		return errors.New("candle close price must be between high and low")
	}
	if c.Volume < 0 {
		return errors.New("candle volume cannot be negative")
	}
	return nil
}

// History is a fixed-capacity sliding window of closed candles,
// most-recent-last, deduplicated by close time. It is owned by a single
// writer (the orchestration loop) and needs no internal locking.
type History struct {
	candles []Candle
	maxLen  int
}

// NewHistory creates a history bounded to maxLen candles.
func NewHistory(maxLen int) *History {
	return &History{maxLen: maxLen}
}

// Append adds a closed candle, dropping the oldest beyond capacity.
// A candle whose close time does not advance past the last recorded one is
// ignored (duplicate or out-of-order delivery).
func (h *History) Append(c Candle) {
	if n := len(h.candles); n > 0 && !c.CloseTime.After(h.candles[n-1].CloseTime) {
		return
	}
	h.candles = append(h.candles, c)
	if len(h.candles) > h.maxLen {
		h.candles = h.candles[len(h.candles)-h.maxLen:]
	}
}

// Replace swaps the full window, keeping only the newest maxLen candles.
// Used after a gap-triggered refresh.
func (h *History) Replace(candles []Candle) {
	if len(candles) > h.maxLen {
		candles = candles[len(candles)-h.maxLen:]
	}
	h.candles = append(h.candles[:0], candles...)
}

func (h *History) Len() int { return len(h.candles) }

// Last returns the most recent candle, or nil when the history is empty.
func (h *History) Last() *Candle {
	if len(h.candles) == 0 {
		return nil
	}
	return &h.candles[len(h.candles)-1]
}

// Candles returns the underlying window, most-recent-last. Callers must not
// mutate the returned slice.
func (h *History) Candles() []Candle { return h.candles }

// Highs returns the high series, oldest first.
func (h *History) Highs() []float64 {
	out := make([]float64, len(h.candles))
	for i, c := range h.candles {
		out[i] = c.High
	}
	return out
}

// Lows returns the low series, oldest first.
func (h *History) Lows() []float64 {
	out := make([]float64, len(h.candles))
	for i, c := range h.candles {
		out[i] = c.Low
	}
	return out
}

// Closes returns the close series, oldest first.
func (h *History) Closes() []float64 {
	out := make([]float64, len(h.candles))
	for i, c := range h.candles {
		out[i] = c.Close
	}
	return out
}
