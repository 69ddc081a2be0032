// Package indicator
package indicator

import "math"

// EMA calculates the exponential moving average of values with the given
// period. The first output value seeds with the first input value; each
// subsequent value is alpha*x + (1-alpha)*prev with alpha = 2/(period+1).
// The output has the same length as the input. Callers must supply enough
// history for the tail values to be meaningful.
func EMA(values []float64, period int) []float64 {
	if len(values) == 0 {
		return nil
	}
	alpha := 2.0 / float64(period+1)
	result := make([]float64, len(values))
	result[0] = values[0]
	for i := 1; i < len(values); i++ {
		result[i] = alpha*values[i] + (1-alpha)*result[i-1]
	}
	return result
}

// TrueRanges calculates the true range series. For index 0 the previous
// close is taken as the current close, so TR0 = high0-low0.
func TrueRanges(highs, lows, closes []float64) []float64 {
	trs := make([]float64, len(highs))
	for i := range highs {
		prevClose := closes[i]
		if i > 0 {
			prevClose = closes[i-1]
		}
		trs[i] = math.Max(highs[i]-lows[i], math.Max(math.Abs(highs[i]-prevClose), math.Abs(lows[i]-prevClose)))
	}
	return trs
}

// ATR calculates the average true range as an EMA of true ranges.
func ATR(highs, lows, closes []float64, period int) []float64 {
	return EMA(TrueRanges(highs, lows, closes), period)
}
