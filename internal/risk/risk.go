// Package risk turns a signal's entry/stop distance into an exchange-legal
// order quantity.
package risk

import (
	"github.com/amirphl/breakout-trader/internal/exchange"
)

// epsilon guards the per-unit risk division when entry <= stop. The
// evaluator never emits such a signal, but sizing must not blow up on one.
const epsilon = 1e-12

// PositionSize computes the quantity for a long entry risking riskPct of
// equity on the entry-to-stop distance, then forces the result through the
// symbol's exchange filters. Returns 0 when no legal quantity satisfies the
// constraints; that is an expected outcome when the risk budget and the
// exchange minimums conflict, not an error.
//
// The filter sequence matters: floor to the lot step first, raise to the
// minimum quantity, bump up to meet the notional minimum, then cap at the
// maximum quantity. The final notional re-check catches a cap that pushed
// the quantity back under the floor.
func PositionSize(equity, riskPct, entry, stop float64, rules exchange.SymbolRules) float64 {
	riskAmount := equity * riskPct
	perUnitRisk := entry - stop
	if perUnitRisk < epsilon {
		perUnitRisk = epsilon
	}
	rawQty := riskAmount / perUnitRisk

	qty := exchange.RoundStepDown(rawQty, rules.StepSize)
	if qty < rules.MinQty {
		qty = rules.MinQty
	}

	if !exchange.MeetsMinNotional(entry, qty, rules.MinNotional) {
		qty = exchange.RoundStepUp(rules.MinNotional/entry, rules.StepSize)
		if qty < rules.MinQty {
			qty = rules.MinQty
		}
	}

	if rules.MaxQty > 0 && qty > rules.MaxQty {
		qty = exchange.RoundStepDown(rules.MaxQty, rules.StepSize)
	}

	if !exchange.MeetsMinNotional(entry, qty, rules.MinNotional) {
		return 0
	}
	return qty
}

// TradeRisk is the absolute amount at risk for a filled quantity given the
// stop distance. Summed across positions it is the portfolio's open risk.
func TradeRisk(entry, stop, qty float64) float64 {
	perUnitRisk := entry - stop
	if perUnitRisk < 0 {
		perUnitRisk = 0
	}
	return perUnitRisk * qty
}
