package learning

import "math"

// Reward shaping constants. Magnitudes are tuned so one reward component
// rarely dominates the others by more than an order of magnitude.
const (
	holdingGraceHours  = 48.0  // no holding penalty inside this window
	holdingPenaltyRate = 0.005 // per hour beyond the grace window
	missedMoveFloor    = 0.02  // HOLD is free below a 2% move
)

// ImmediateReward scores a forecast against the realized move: direction
// correctness (signed) times move magnitude times the confidence the agent
// committed at. Wrong high-confidence calls hurt the most.
func ImmediateReward(predictedSign, actualMovePct, confidence float64) float64 {
	if predictedSign == 0 {
		return 0
	}
	correctness := 1.0
	if predictedSign*actualMovePct < 0 {
		correctness = -1.0
	}
	return correctness * math.Abs(actualMovePct) * confidence
}

// DelayedReward is the realized P&L fraction once the trade closes, penalized
// for holding past the grace window.
func DelayedReward(pnlPct, holdingHours float64) float64 {
	r := pnlPct
	if holdingHours > holdingGraceHours {
		r -= (holdingHours - holdingGraceHours) * holdingPenaltyRate
	}
	return r
}

// RiskPenalty charges for exposure: larger positions in more volatile
// instruments cost more regardless of outcome.
func RiskPenalty(size, volatility float64) float64 {
	return size * volatility
}

// OpportunityCost penalizes a HOLD while the instrument made a large move in
// either direction. Small moves are free: sitting out noise is correct.
func OpportunityCost(held bool, movePct float64) float64 {
	if !held {
		return 0
	}
	excess := math.Abs(movePct) - missedMoveFloor
	if excess <= 0 {
		return 0
	}
	return excess
}

// TradeReward composes the full shaped reward for a closed trade.
func TradeReward(predictedSign, actualMovePct, confidence, pnlPct, holdingHours, size, volatility float64) float64 {
	return ImmediateReward(predictedSign, actualMovePct, confidence) +
		DelayedReward(pnlPct, holdingHours) -
		RiskPenalty(size, volatility)
}
