package risk

// Adaptive cooldown bounds in seconds.
const (
	cooldownBaseSec = 300
	cooldownMinSec  = 180
	cooldownMaxSec  = 3600
)

// RequiredCooldown maps the current loss streak, drawdown, volatility
// and signal confidence to a cooldown duration in seconds.
//
// Each extra consecutive loss adds 30%; every 5% of drawdown adds 50%;
// every 2% of volatility adds 50%; confidence below 0.5 doubles the
// result. The output clamps to [180s, 3600s].
func RequiredCooldown(consecutiveLosses int, drawdownPct, volatilityPct, confidence float64) int {
	lossFactor := 1 + float64(consecutiveLosses)*0.3
	ddFactor := 1 + (drawdownPct/0.05)*0.5
	volFactor := 1 + (volatilityPct/0.02)*0.5

	confFactor := 1.0
	if confidence < 0.5 {
		confFactor = 2.0
	}

	seconds := cooldownBaseSec * lossFactor * ddFactor * volFactor * confFactor
	if seconds < cooldownMinSec {
		return cooldownMinSec
	}
	if seconds > cooldownMaxSec {
		return cooldownMaxSec
	}
	return int(seconds)
}

// Early-unlock thresholds: a loss-streak cooldown is lifted when the
// market has calmed below 1% volatility AND the signal carries at
// least 0.80 confidence.
const (
	unlockVolatilityPct = 0.01
	unlockConfidence    = 0.80
)

// CanUnlockEarly reports whether an active loss-streak cooldown may be
// lifted. The boundary is deliberate: volatility strictly below 1%,
// confidence at or above 0.80.
func CanUnlockEarly(volatilityPct, confidence float64) bool {
	return volatilityPct < unlockVolatilityPct && confidence >= unlockConfidence
}
