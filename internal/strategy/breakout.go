// Package strategy evaluates candle histories for trend-filtered breakout
// entries.
package strategy

import (
	"github.com/amirphl/breakout-trader/internal/candle"
	"github.com/amirphl/breakout-trader/internal/indicator"
)

// Signal is a long-entry proposal produced by the evaluator. Prices are
// pre-quantization; the order path applies exchange filters.
type Signal struct {
	Symbol        string
	EntryPrice    float64
	StopPrice     float64
	ATRValue      float64
	BreakoutLevel float64
	Reason        string
}

// Params holds the evaluator tunables.
type Params struct {
	BreakoutLookback int     // highest-high window, excluding the current candle
	ATRPeriod        int
	ATRMultStop      float64 // stop distance in ATR units
	BufferATR        float64 // breakout level pad in ATR units
	FastEMAPeriod    int
	SlowEMAPeriod    int
}

// DefaultParams mirrors the standard tuning: 20-candle breakout window,
// 14-period ATR, 2 ATR stop, 0.1 ATR breakout pad, 20/50 EMA trend filter.
func DefaultParams() Params {
	return Params{
		BreakoutLookback: 20,
		ATRPeriod:        14,
		ATRMultStop:      2.0,
		BufferATR:        0.1,
		FastEMAPeriod:    20,
		SlowEMAPeriod:    50,
	}
}

// Evaluator computes breakout signals from a candle history.
type Evaluator struct {
	params Params
}

// NewEvaluator creates an evaluator with the given params.
func NewEvaluator(params Params) *Evaluator {
	return &Evaluator{params: params}
}

// MinHistory returns the minimum number of candles required before the
// evaluator can produce a signal.
func (e *Evaluator) MinHistory() int {
	// 55 gives the 50-period EMA a few candles to settle past its seed.
	min := 55
	if n := e.params.BreakoutLookback + 1; n > min {
		min = n
	}
	if n := e.params.ATRPeriod + 2; n > min {
		min = n
	}
	return min
}

// Evaluate inspects the history and returns a signal when the latest closed
// candle breaks out above the recent high with the trend filter aligned.
// Returns nil when no entry condition holds.
func (e *Evaluator) Evaluate(h *candle.History) *Signal {
	if h.Len() < e.MinHistory() {
		return nil
	}

	closes := h.Closes()
	highs := h.Highs()
	lows := h.Lows()
	last := h.Last()

	// Trend filter: price above the slow EMA with the fast EMA above it too.
	fast := indicator.EMA(closes, e.params.FastEMAPeriod)
	slow := indicator.EMA(closes, e.params.SlowEMAPeriod)
	if last.Close <= slow[len(slow)-1] || fast[len(fast)-1] <= slow[len(slow)-1] {
		return nil
	}

	atrs := indicator.ATR(highs, lows, closes, e.params.ATRPeriod)
	atr := atrs[len(atrs)-1]
	if atr <= 0 {
		return nil
	}

	// Highest high over the lookback window, excluding the current candle.
	n := len(highs)
	start := n - 1 - e.params.BreakoutLookback
	if start < 0 {
		start = 0
	}
	highest := highs[start]
	for _, v := range highs[start+1 : n-1] {
		if v > highest {
			highest = v
		}
	}

	level := highest + e.params.BufferATR*atr
	if last.Close <= level {
		return nil
	}

	stop := last.Close - e.params.ATRMultStop*atr

	return &Signal{
		Symbol:        last.Symbol,
		EntryPrice:    last.Close,
		StopPrice:     stop,
		ATRValue:      atr,
		BreakoutLevel: level,
		Reason:        "breakout_with_trend",
	}
}
