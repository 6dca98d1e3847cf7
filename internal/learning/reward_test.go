package learning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImmediateRewardSignAndScale(t *testing.T) {
	// Correct UP call on a 3% move at 0.8 confidence.
	assert.InDelta(t, 0.024, ImmediateReward(1, 0.03, 0.8), 1e-12)
	// Wrong call costs the same magnitude.
	assert.InDelta(t, -0.024, ImmediateReward(-1, 0.03, 0.8), 1e-12)
	// Higher confidence amplifies both.
	assert.Greater(t, ImmediateReward(1, 0.03, 0.9), ImmediateReward(1, 0.03, 0.5))
	// HOLD earns nothing here.
	assert.Zero(t, ImmediateReward(0, 0.03, 0.8))
}

func TestDelayedRewardPenalizesLongHolds(t *testing.T) {
	assert.Equal(t, 0.05, DelayedReward(0.05, 24), "inside grace window")
	assert.Less(t, DelayedReward(0.05, 100), 0.05, "excess holding is penalized")
	assert.InDelta(t, 0.05-52*0.005, DelayedReward(0.05, 100), 1e-12)
}

func TestRiskPenaltyScalesWithExposure(t *testing.T) {
	assert.InDelta(t, 0.02, RiskPenalty(0.1, 0.2), 1e-12)
	assert.Greater(t, RiskPenalty(0.2, 0.4), RiskPenalty(0.1, 0.2))
}

func TestOpportunityCostOnlyForLargeMissedMoves(t *testing.T) {
	assert.Zero(t, OpportunityCost(false, 0.10), "only HOLD pays")
	assert.Zero(t, OpportunityCost(true, 0.01), "noise is free to sit out")
	assert.InDelta(t, 0.03, OpportunityCost(true, 0.05), 1e-12)
	assert.InDelta(t, 0.03, OpportunityCost(true, -0.05), 1e-12, "moves in either direction count")
}

func TestTradeRewardComposition(t *testing.T) {
	r := TradeReward(1, 0.03, 0.8, 0.025, 10, 0.05, 0.2)
	expected := 0.024 + 0.025 - 0.01
	assert.InDelta(t, expected, r, 1e-12)
}
