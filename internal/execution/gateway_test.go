package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse/trading-engine/internal/broker"
	"github.com/quantpulse/trading-engine/internal/forecast"
	"github.com/quantpulse/trading-engine/internal/risk"
)

func gatewayConfig() Config {
	return Config{
		MinConfidence:          0.55,
		ConservativeConfidence: 0.65,
		AggressiveConfidence:   0.75,
		MaximumConfidence:      0.90,
		MaxDailyTrades:         10,
		MaxOpenPositions:       5,
		Cooldown:               5 * time.Minute,
		MaxDailyLossPct:        0.05,
		MarketHoursOnly:        true,
		RoundTheClockSymbols:   []string{"BTCUSD"},
		MinAvgVolume:           10000,
		MaxSpreadPct:           0.005,
		RoundTheClockSpreadPct: 0.01,
		BaseWeight:             0.05,
		MaxWeight:              0.20,
		MinWeight:              0.01,
		ConfidenceExponent:     1.5,
		MinOrderValueUSD:       100,
		MaxOrderValueUSD:       50000,
		BuyingPowerBuffer:      0.05,
		TradeHistoryCap:        500,
	}
}

// Monday 15:00 UTC, inside the regular session.
var sessionTime = time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)

func proposal(conf float64, now time.Time) Proposal {
	return Proposal{
		Symbol:   "AAPL",
		Forecast: forecast.Forecast{Symbol: "AAPL", Direction: forecast.Up, Confidence: conf},
		Assessment: risk.Assessment{
			Approved: true,
			Sizing: risk.Sizing{
				RecommendedSize: 0.05,
				MaxSize:         0.20,
				StopLoss:        97.0,
				TakeProfit:      104.5,
				RiskRewardRatio: 1.5,
			},
		},
		Quote:     broker.Quote{Symbol: "AAPL", Bid: 99.95, Ask: 100.05, Timestamp: now},
		AvgVolume: 50000,
		Account:   broker.Account{Equity: 100000, Cash: 50000, BuyingPower: 80000},
		Now:       now,
	}
}

func TestHappyPathExecutesOneEntryWithProtectiveOrders(t *testing.T) {
	sim := broker.NewSim(broker.Account{Equity: 100000, BuyingPower: 80000})
	sim.SetQuote(broker.Quote{Symbol: "AAPL", Bid: 99.95, Ask: 100.05})
	g := NewGateway(gatewayConfig(), sim)

	d := g.EvaluateAndExecute(context.Background(), proposal(0.8, sessionTime))

	require.True(t, d.ShouldExecute, "reason: %s", d.Reason)
	require.NotNil(t, d.Trade)
	assert.Equal(t, "buy", d.Trade.Side)
	assert.Greater(t, d.NotionalUSD, 0.0)
	assert.GreaterOrEqual(t, d.PositionSize, 0.01)
	assert.LessOrEqual(t, d.PositionSize, 0.20)
	assert.Equal(t, StateExecuted, g.State("AAPL"))

	orders := sim.Orders()
	require.Len(t, orders, 3, "market entry plus stop and take-profit")
	assert.Equal(t, "market", orders[0].Type)
	assert.Equal(t, "stop", orders[1].Type)
	assert.Equal(t, 97.0, orders[1].StopPrice)
	assert.Equal(t, "sell", orders[1].Side)
	assert.Equal(t, "limit", orders[2].Type)
	assert.Equal(t, 104.5, orders[2].LimitPrice)

	assert.Equal(t, 1, g.Counters().Trades(sessionTime))
	require.Len(t, g.History(), 1)
}

func TestLowConfidenceRejected(t *testing.T) {
	g := NewGateway(gatewayConfig(), broker.NewSim(broker.Account{}))

	d := g.EvaluateAndExecute(context.Background(), proposal(0.40, sessionTime))

	assert.False(t, d.ShouldExecute)
	assert.Contains(t, d.Reason, "Confidence")
	assert.Contains(t, d.Reason, "below minimum")
	assert.Equal(t, StateRejected, g.State("AAPL"))
}

func TestCooldownBlocksSecondTrade(t *testing.T) {
	sim := broker.NewSim(broker.Account{Equity: 100000, BuyingPower: 80000})
	sim.SetQuote(broker.Quote{Symbol: "AAPL", Bid: 99.95, Ask: 100.05})
	g := NewGateway(gatewayConfig(), sim)

	first := g.EvaluateAndExecute(context.Background(), proposal(0.8, sessionTime))
	require.True(t, first.ShouldExecute, "reason: %s", first.Reason)

	// Three minutes later, still inside the five-minute cooldown. The fresh
	// forecast is opposite-direction so the same-direction gate stays out of
	// the way.
	p := proposal(0.8, sessionTime.Add(3*time.Minute))
	p.Forecast.Direction = forecast.Down
	second := g.EvaluateAndExecute(context.Background(), p)

	assert.False(t, second.ShouldExecute)
	assert.Contains(t, second.Reason, "Cooldown")
	assert.Contains(t, second.Reason, "AAPL")
	assert.Equal(t, StateCooldown, g.State("AAPL"))
}

func TestOutsideSessionRejected(t *testing.T) {
	g := NewGateway(gatewayConfig(), broker.NewSim(broker.Account{}))

	saturday := time.Date(2025, 6, 7, 15, 0, 0, 0, time.UTC)
	d := g.EvaluateAndExecute(context.Background(), proposal(0.8, saturday))

	assert.False(t, d.ShouldExecute)
	assert.Contains(t, d.Reason, "session")
}

func TestRoundTheClockSymbolTradesOnSaturday(t *testing.T) {
	sim := broker.NewSim(broker.Account{Equity: 100000, BuyingPower: 80000})
	sim.SetQuote(broker.Quote{Symbol: "BTCUSD", Bid: 49950, Ask: 50050})
	g := NewGateway(gatewayConfig(), sim)

	saturday := time.Date(2025, 6, 7, 3, 0, 0, 0, time.UTC)
	p := proposal(0.8, saturday)
	p.Symbol = "BTCUSD"
	p.Forecast.Symbol = "BTCUSD"
	p.Quote = broker.Quote{Symbol: "BTCUSD", Bid: 49950, Ask: 50050, Timestamp: saturday}

	d := g.EvaluateAndExecute(context.Background(), p)
	assert.True(t, d.ShouldExecute, "reason: %s", d.Reason)
}

func TestDailyLossCircuitBreakerDisablesForTheDay(t *testing.T) {
	sim := broker.NewSim(broker.Account{Equity: 100000, BuyingPower: 80000})
	sim.SetQuote(broker.Quote{Symbol: "AAPL", Bid: 99.95, Ask: 100.05})
	g := NewGateway(gatewayConfig(), sim)

	// 6% realized loss against a 5% ceiling.
	g.Counters().AddRealizedPnL(-6000, sessionTime)

	d := g.EvaluateAndExecute(context.Background(), proposal(0.8, sessionTime))
	assert.False(t, d.ShouldExecute)
	assert.Contains(t, d.Reason, "Daily loss limit")

	// Even a flat P&L reading later in the day stays blocked: the breaker
	// latches until the next session.
	g.Counters().AddRealizedPnL(6000, sessionTime.Add(time.Hour))
	d2 := g.EvaluateAndExecute(context.Background(), proposal(0.9, sessionTime.Add(2*time.Hour)))
	assert.False(t, d2.ShouldExecute)
	assert.Contains(t, d2.Reason, "Daily loss limit")

	// Next session clears it.
	nextDay := sessionTime.Add(24 * time.Hour)
	d3 := g.EvaluateAndExecute(context.Background(), proposal(0.8, nextDay))
	assert.True(t, d3.ShouldExecute, "reason: %s", d3.Reason)
}

func TestSameDirectionPositionRejected(t *testing.T) {
	g := NewGateway(gatewayConfig(), broker.NewSim(broker.Account{}))

	p := proposal(0.8, sessionTime)
	p.Positions = []broker.Position{{Symbol: "AAPL", Quantity: 10, Side: "long"}}

	d := g.EvaluateAndExecute(context.Background(), p)
	assert.False(t, d.ShouldExecute)
	assert.Contains(t, d.Reason, "same direction")
}

func TestThinVolumeAndWideSpreadRejected(t *testing.T) {
	g := NewGateway(gatewayConfig(), broker.NewSim(broker.Account{}))

	thin := proposal(0.8, sessionTime)
	thin.AvgVolume = 500
	d := g.EvaluateAndExecute(context.Background(), thin)
	assert.Contains(t, d.Reason, "volume")

	wide := proposal(0.8, sessionTime)
	wide.Quote = broker.Quote{Symbol: "AAPL", Bid: 99.0, Ask: 101.0, Timestamp: sessionTime}
	d2 := g.EvaluateAndExecute(context.Background(), wide)
	assert.Contains(t, d2.Reason, "Spread")
}

func TestExhaustedBuyingPowerCannotShrinkWeightBelowFloor(t *testing.T) {
	sim := broker.NewSim(broker.Account{Equity: 100000, BuyingPower: 300})
	sim.SetQuote(broker.Quote{Symbol: "AAPL", Bid: 99.95, Ask: 100.05})
	g := NewGateway(gatewayConfig(), sim)

	// Buying power caps the notional at 285, which against 100k equity is a
	// 0.00285 weight: under the 0.01 floor, so the trade must not execute.
	p := proposal(0.8, sessionTime)
	p.Account = broker.Account{Equity: 100000, Cash: 200, BuyingPower: 300}

	d := g.EvaluateAndExecute(context.Background(), p)

	assert.False(t, d.ShouldExecute)
	assert.Contains(t, d.Reason, "Position weight")
	assert.Contains(t, d.Reason, "below minimum")
	assert.Zero(t, d.PositionSize)
	assert.Empty(t, sim.Orders(), "no order may reach the brokerage")
}

func TestSubmissionFailureYieldsRejectedDecision(t *testing.T) {
	sim := broker.NewSim(broker.Account{Equity: 100000, BuyingPower: 80000})
	sim.SetQuote(broker.Quote{Symbol: "AAPL", Bid: 99.95, Ask: 100.05})
	sim.FailCreateOrder = errors.New("gateway timeout")
	g := NewGateway(gatewayConfig(), sim)

	d := g.EvaluateAndExecute(context.Background(), proposal(0.8, sessionTime))

	assert.False(t, d.ShouldExecute)
	assert.Contains(t, d.Reason, "submission failed")
	assert.Equal(t, StateRejected, g.State("AAPL"))
	assert.Equal(t, 0, g.Counters().Trades(sessionTime), "failed orders must not count")
	assert.Empty(t, g.History())
}

func TestSelfTuningThresholdStaysBounded(t *testing.T) {
	g := NewGateway(gatewayConfig(), broker.NewSim(broker.Account{}))

	// Poor accuracy pushes the floor up, capped at +10%.
	for i := 0; i < 20; i++ {
		g.RecordPredictionOutcome(false)
	}
	assert.InDelta(t, 0.55*1.10, g.EffectiveMinConfidence(), 1e-9)

	// Strong accuracy pulls it down, capped at -10%.
	for i := 0; i < 50; i++ {
		g.RecordPredictionOutcome(true)
	}
	assert.InDelta(t, 0.55*0.90, g.EffectiveMinConfidence(), 1e-9)
}

func TestApplyTuningShiftsThresholdWithinBounds(t *testing.T) {
	g := NewGateway(gatewayConfig(), broker.NewSim(broker.Account{}))

	g.ApplyTuning(0.03, 1.0)
	assert.InDelta(t, 0.58, g.EffectiveMinConfidence(), 1e-9)

	// An extreme recommendation is still clamped to the +/-10% band.
	g.ApplyTuning(0.5, 1.0)
	assert.InDelta(t, 0.55*1.10, g.EffectiveMinConfidence(), 1e-9)
}
