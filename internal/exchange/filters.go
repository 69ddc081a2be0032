// Package exchange
package exchange

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// SymbolRules holds the exchange-imposed quantization parameters for one
// symbol. Loaded once at startup and immutable for the process lifetime.
type SymbolRules struct {
	Symbol      string
	MinNotional float64
	StepSize    float64
	MinQty      float64
	MaxQty      float64 // 0 means no cap
	TickSize    float64
	MinPrice    float64 // 0 means no bound
	MaxPrice    float64 // 0 means no bound
}

func quantize(value, step float64, up bool) float64 {
	if step <= 0 {
		return value
	}
	dValue := decimal.NewFromFloat(value)
	dStep := decimal.NewFromFloat(step)
	steps := dValue.Div(dStep)
	if up {
		steps = steps.Ceil()
	} else {
		steps = steps.Floor()
	}
	out, _ := steps.Mul(dStep).Float64()
	return out
}

// RoundStepDown quantizes value to the nearest multiple of step at or below it.
func RoundStepDown(value, step float64) float64 {
	return quantize(value, step, false)
}

// RoundStepUp quantizes value to the nearest multiple of step at or above it.
func RoundStepUp(value, step float64) float64 {
	return quantize(value, step, true)
}

// RoundTick quantizes a price down to the tick size.
func RoundTick(price, tickSize float64) float64 {
	return RoundStepDown(price, tickSize)
}

// MeetsMinNotional reports whether price*qty satisfies the minimum notional.
func MeetsMinNotional(price, qty, minNotional float64) bool {
	return price*qty >= minNotional
}

// FormatByStep renders value at the decimal precision implied by step.
func FormatByStep(value, step float64) string {
	decimals := 0
	if step > 0 {
		if exp := decimal.NewFromFloat(step).Exponent(); exp < 0 {
			decimals = int(-exp)
		}
	}
	return strconv.FormatFloat(value, 'f', decimals, 64)
}

func filterFloat(f map[string]interface{}, key string) float64 {
	raw, ok := f[key]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case string:
		out, _ := strconv.ParseFloat(v, 64)
		return out
	case float64:
		return v
	default:
		return 0
	}
}

// ParseSymbolRules extracts quantization rules from Binance exchange-info
// filter metadata. The minimum notional comes from the MIN_NOTIONAL filter
// or the newer NOTIONAL filter; a symbol carrying neither gets a zero
// minimum rather than a parse failure.
func ParseSymbolRules(symbol string, filters []map[string]interface{}) (SymbolRules, error) {
	byType := make(map[string]map[string]interface{}, len(filters))
	for _, f := range filters {
		if ft, ok := f["filterType"].(string); ok {
			byType[ft] = f
		}
	}

	lot, ok := byType["LOT_SIZE"]
	if !ok {
		return SymbolRules{}, fmt.Errorf("symbol %s has no LOT_SIZE filter", symbol)
	}
	price, ok := byType["PRICE_FILTER"]
	if !ok {
		return SymbolRules{}, fmt.Errorf("symbol %s has no PRICE_FILTER filter", symbol)
	}

	minNotional := 0.0
	if f, ok := byType["MIN_NOTIONAL"]; ok {
		minNotional = filterFloat(f, "minNotional")
	} else if f, ok := byType["NOTIONAL"]; ok {
		minNotional = filterFloat(f, "minNotional")
	}

	return SymbolRules{
		Symbol:      symbol,
		MinNotional: minNotional,
		StepSize:    filterFloat(lot, "stepSize"),
		MinQty:      filterFloat(lot, "minQty"),
		MaxQty:      filterFloat(lot, "maxQty"),
		TickSize:    filterFloat(price, "tickSize"),
		MinPrice:    filterFloat(price, "minPrice"),
		MaxPrice:    filterFloat(price, "maxPrice"),
	}, nil
}
