package risk

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse/trading-engine/internal/features"
	"github.com/quantpulse/trading-engine/internal/forecast"
)

func testConfig() Config {
	return Config{
		MaxDailyLossPct:   0.05,
		MaxDrawdownPct:    0.15,
		MaxRiskPerTrade:   0.02,
		MaxPortfolioRisk:  0.15,
		MinRewardRisk:     1.5,
		KellyCap:          0.25,
		MaxPositionWeight: 0.20,
		HighVolatility:    0.40,
		LowConfidence:     0.60,
	}
}

func upForecast(conf float64) forecast.Forecast {
	return forecast.Forecast{Symbol: "AAPL", Direction: forecast.Up, Confidence: conf}
}

func healthySnapshot() Snapshot {
	return Snapshot{TotalValue: 100000, Cash: 50000, BuyingPower: 80000}
}

func feat(price, vol, atr float64) features.Vector {
	return features.Vector{Symbol: "AAPL", Price: price, Volatility: vol, ATR: atr}
}

func TestApprovedSizeWithinBounds(t *testing.T) {
	v := NewValidator(testConfig())
	a := v.Validate(upForecast(0.8), healthySnapshot(), feat(100, 0.2, 1.2))

	require.True(t, a.Approved)
	assert.Greater(t, a.Sizing.RecommendedSize, 0.0)
	assert.LessOrEqual(t, a.Sizing.RecommendedSize, a.Sizing.MaxSize)
	assert.LessOrEqual(t, a.Sizing.MaxSize, 1.0)
	assert.Empty(t, a.Restrictions)
}

func TestDailyLossCeilingRejects(t *testing.T) {
	v := NewValidator(testConfig())
	snap := healthySnapshot()
	snap.DayPnL = -6000 // -6% of 100k against a 5% ceiling

	a := v.Validate(upForecast(0.8), snap, feat(100, 0.2, 1.2))
	require.False(t, a.Approved)
	require.Len(t, a.Restrictions, 1)
	assert.Contains(t, a.Restrictions[0], "Daily loss limit")
}

func TestDrawdownCeilingRejects(t *testing.T) {
	v := NewValidator(testConfig())
	snap := healthySnapshot()
	snap.Drawdown = 0.18

	a := v.Validate(upForecast(0.8), snap, feat(100, 0.2, 1.2))
	require.False(t, a.Approved)
	assert.Contains(t, strings.Join(a.Restrictions, ";"), "drawdown")
}

func TestSoftConditionsWarnAndProceed(t *testing.T) {
	v := NewValidator(testConfig())
	snap := healthySnapshot()
	snap.OpenRisk = 0.20

	base := v.Validate(upForecast(0.8), healthySnapshot(), feat(100, 0.2, 1.2))
	a := v.Validate(upForecast(0.55), snap, feat(100, 0.45, 1.2))

	require.True(t, a.Approved, "soft conditions must not reject")
	joined := strings.Join(a.Warnings, ";")
	assert.Contains(t, joined, "Portfolio risk")
	assert.Contains(t, joined, "confidence")
	assert.Contains(t, joined, "volatility")
	assert.Less(t, a.Sizing.RecommendedSize, base.Sizing.RecommendedSize,
		"high volatility must cut size")
}

func TestStopAndTargetBracketPrice(t *testing.T) {
	v := NewValidator(testConfig())
	price, atr := 100.0, 1.5

	up := v.Validate(upForecast(0.8), healthySnapshot(), feat(price, 0.2, atr))
	assert.Equal(t, price-2*atr, up.Sizing.StopLoss)
	assert.Equal(t, price+2*atr*1.5, up.Sizing.TakeProfit)
	assert.GreaterOrEqual(t, up.Sizing.RiskRewardRatio, 1.5)

	down := forecast.Forecast{Symbol: "AAPL", Direction: forecast.Down, Confidence: 0.8}
	d := v.Validate(down, healthySnapshot(), feat(price, 0.2, atr))
	assert.Equal(t, price+2*atr, d.Sizing.StopLoss)
	assert.Equal(t, price-2*atr*1.5, d.Sizing.TakeProfit)
}

func TestForecastTargetDrivesRewardRiskWarning(t *testing.T) {
	v := NewValidator(testConfig())
	price, atr := 100.0, 1.5 // stop distance 2*1.5 = 3

	// A target barely above entry implies reward:risk well under the minimum:
	// the trade proceeds with a warning and the target is honored.
	weak := upForecast(0.8)
	weak.PriceTarget = 101
	a := v.Validate(weak, healthySnapshot(), feat(price, 0.2, atr))
	require.True(t, a.Approved)
	assert.Equal(t, 101.0, a.Sizing.TakeProfit)
	assert.InDelta(t, 1.0/3.0, a.Sizing.RiskRewardRatio, 1e-9)
	assert.Contains(t, strings.Join(a.Warnings, ";"), "Reward:risk")

	// A generous target clears the minimum: no warning.
	strong := upForecast(0.8)
	strong.PriceTarget = 110
	b := v.Validate(strong, healthySnapshot(), feat(price, 0.2, atr))
	require.True(t, b.Approved)
	assert.Equal(t, 110.0, b.Sizing.TakeProfit)
	assert.NotContains(t, strings.Join(b.Warnings, ";"), "Reward:risk")

	// A target on the wrong side of entry is ignored in favor of the
	// minimum-ratio bracket.
	wrong := upForecast(0.8)
	wrong.PriceTarget = 95
	c := v.Validate(wrong, healthySnapshot(), feat(price, 0.2, atr))
	assert.Equal(t, price+2*atr*1.5, c.Sizing.TakeProfit)
}

func TestKellyClampedToCap(t *testing.T) {
	v := NewValidator(testConfig())
	// Near-certain forecast in calm markets: Kelly would exceed the cap.
	k := v.kellyFraction(0.99, 0.05)
	assert.LessOrEqual(t, k, 0.25)
	assert.Greater(t, k, 0.0)

	// Kelly never goes negative even on hopeless inputs.
	assert.Equal(t, 0.0, v.kellyFraction(0.0, 0.8))
}

func TestDrawdownTracker(t *testing.T) {
	tr := NewDrawdownTracker()
	day1 := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)

	tr.Update(100000, day1)
	tr.Update(95000, day1.Add(time.Hour))
	assert.InDelta(t, 0.05, tr.Drawdown(), 1e-9)
	assert.Equal(t, -5000.0, tr.DayPnL())

	// New day rebases the daily P&L but not the peak.
	tr.Update(96000, day1.Add(24*time.Hour))
	assert.Equal(t, 0.0, tr.DayPnL())
	assert.InDelta(t, 0.04, tr.Drawdown(), 1e-9)
}
