package risk

import (
	"math"

	"risk-core/pkg/policy"
)

const stopDistanceEpsilon = 1e-9

// RiskBudget converts the base per-trade risk fraction into a currency
// budget, scaled by signal confidence, current volatility and the
// win/loss streak, then clamped to the configured [risk_min, risk_max]
// band before multiplying by equity.
//
//   - confidence scale: 0.5 + confidence, so [0.5x, 1.5x] over [0,1].
//   - volatility scale: 1.2x below the low band, 0.6x above the high
//     band, linear in between.
//   - streak scale: 0.5x after two straight losses, 1.3x after three
//     straight wins, 1.0x otherwise.
func RiskBudget(cfg policy.Config, confidence, volatilityBps float64, consecutiveLosses, consecutiveWins int, equity float64) float64 {
	confScale := 0.5 + confidence

	var volScale float64
	switch {
	case volatilityBps < cfg.VolatilityLowBps:
		volScale = 1.2
	case volatilityBps > cfg.VolatilityHighBps:
		volScale = 0.6
	default:
		span := cfg.VolatilityHighBps - cfg.VolatilityLowBps
		volScale = 1.2 - (volatilityBps-cfg.VolatilityLowBps)/span*0.6
	}

	streakScale := 1.0
	if consecutiveLosses >= 2 {
		streakScale = 0.5
	} else if consecutiveWins >= 3 {
		streakScale = 1.3
	}

	adjustedPct := cfg.RiskPerTradePct * confScale * volScale * streakScale
	adjustedPct = math.Max(cfg.RiskMinPct, math.Min(cfg.RiskMaxPct, adjustedPct))

	return adjustedPct * equity
}

// SizeFromBudget turns a currency risk budget into an order quantity:
// budget divided by the stop distance in price terms, then clipped by
// the model's size hint (when present) and by every cap, and finally
// floored to the symbol's lot step. The quantity is never rounded up.
// The second result is false when the floored quantity falls below the
// symbol's minimum lot.
func SizeFromBudget(budget, stopDistance float64, modelSize *float64, caps []float64, rule policy.SymbolRule) (float64, bool) {
	qty := budget / math.Max(stopDistance, stopDistanceEpsilon)

	if modelSize != nil && *modelSize > 0 {
		qty = math.Min(qty, *modelSize)
	}
	for _, limit := range caps {
		qty = math.Min(qty, limit)
	}
	qty = math.Max(0, qty)

	qty = FloorToStep(qty, rule.LotSizeStep)
	if qty < rule.LotSizeMin {
		return qty, false
	}
	return qty, true
}

// FloorToStep rounds x down to an exact multiple of step.
func FloorToStep(x, step float64) float64 {
	if step <= 0 {
		return x
	}
	return math.Floor(x/step) * step
}

// AlignPrice floors a price to the symbol's tick size.
func AlignPrice(price float64, rule policy.SymbolRule) float64 {
	return FloorToStep(price, rule.PriceTick)
}
