package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse/trading-engine/internal/broker"
	"github.com/quantpulse/trading-engine/internal/config"
	"github.com/quantpulse/trading-engine/internal/marketdata"
)

func testRoot() config.Root {
	return config.Root{
		Symbols:     []string{"AAPL"},
		BarWindow:   200,
		CapitalBase: 100000,
		Thresholds: config.Thresholds{
			Minimum: 0.55, Conservative: 0.65, Aggressive: 0.75, Maximum: 0.90,
		},
		Sizing: config.Sizing{
			BaseWeight: 0.05, MaxWeight: 0.20, MinWeight: 0.01,
			ConfidenceExponent: 1.5, MinOrderValueUSD: 100,
			MaxOrderValueUSD: 50000, BuyingPowerBuffer: 0.05,
		},
		Risk: config.Risk{
			MaxDailyLossPct: 0.05, MaxDrawdownPct: 0.15, MaxRiskPerTrade: 0.02,
			MaxPortfolioRisk: 0.15, MinRewardRisk: 1.5, KellyCap: 0.25,
			HighVolatility: 0.40, LowConfidence: 0.60,
		},
		Execution: config.Execution{
			MaxDailyTrades: 10, MaxOpenPositions: 5, CooldownMinutes: 5,
			MarketHoursOnly: true, MinAvgVolume: 10000,
			MaxSpreadPct: 0.005, RoundTheClockSpreadPct: 0.01,
			TradeHistoryCap: 500,
		},
		Learning: config.Learning{
			Alpha: 0.1, Gamma: 0.95, Epsilon: 0.3, EpsilonDecay: 0.995,
			EpsilonMin: 0.05, EpisodeHistoryCap: 100, OutcomeHistoryCap: 1000,
		},
	}
}

// Monday 15:00 UTC, inside the regular session.
var cycleTime = time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)

func risingBars(n int, end time.Time) []marketdata.Bar {
	bars := make([]marketdata.Bar, n)
	for i := 0; i < n; i++ {
		price := 100 * math.Pow(1.01, float64(i))
		ts := end.Add(-time.Duration(n-i) * time.Hour)
		bars[i] = marketdata.Bar{
			Symbol: "AAPL", Timestamp: ts,
			Open: price * 0.999, High: price * 1.002, Low: price * 0.997,
			Close: price, Volume: 50000,
		}
	}
	return bars
}

func newTestEngine(t *testing.T) (*Engine, *broker.Sim) {
	t.Helper()
	sim := broker.NewSim(broker.Account{Equity: 100000, Cash: 50000, BuyingPower: 80000})
	bars := risingBars(40, cycleTime)
	sim.SetBars("AAPL", bars)
	last := bars[len(bars)-1].Close
	sim.SetQuote(broker.Quote{
		Symbol: "AAPL", Bid: last * 0.9995, Ask: last * 1.0005, Timestamp: cycleTime,
	})

	e := New(testRoot(), sim, nil, nil)
	e.RefreshMarketData(context.Background())
	return e, sim
}

func TestDecisionCycleExecutesOnStrongUptrend(t *testing.T) {
	e, sim := newTestEngine(t)

	decisions := e.RunDecisionCycle(context.Background(), cycleTime)
	require.Len(t, decisions, 1)
	d := decisions[0]
	require.True(t, d.ShouldExecute, "reason: %s", d.Reason)
	assert.Equal(t, "AAPL", d.Symbol)
	assert.GreaterOrEqual(t, d.PositionSize, 0.01)
	assert.LessOrEqual(t, d.PositionSize, 0.20)

	orders := sim.Orders()
	require.NotEmpty(t, orders)
	assert.Equal(t, "market", orders[0].Type)
	assert.Equal(t, "buy", orders[0].Side)

	s, ok := e.Sessions().Active()
	require.True(t, ok, "decision cycle must open a session")
	assert.Equal(t, 1, s.TradesExecuted)
}

func TestDecisionCycleSkipsSymbolWithoutData(t *testing.T) {
	sim := broker.NewSim(broker.Account{Equity: 100000, BuyingPower: 80000})
	e := New(testRoot(), sim, nil, nil)

	// No bars refreshed: feature extraction fails, the symbol is skipped, and
	// the cycle still completes.
	decisions := e.RunDecisionCycle(context.Background(), cycleTime)
	assert.Empty(t, decisions)
}

func TestRiskCycleSettlesClosedTrade(t *testing.T) {
	e, sim := newTestEngine(t)

	decisions := e.RunDecisionCycle(context.Background(), cycleTime)
	require.Len(t, decisions, 1)
	require.True(t, decisions[0].ShouldExecute, "reason: %s", decisions[0].Reason)
	entry := decisions[0].Trade.Price
	qty := decisions[0].Trade.Quantity

	// Position still open: nothing settles.
	e.RunRiskCycle(context.Background(), cycleTime.Add(time.Hour))
	s, _ := e.Sessions().Active()
	assert.Zero(t, s.Predictions)

	// Close the position at a higher price.
	sim.SetQuote(broker.Quote{
		Symbol: "AAPL", Bid: entry * 1.049, Ask: entry * 1.051,
		Timestamp: cycleTime.Add(2 * time.Hour),
	})
	_, err := sim.CreateOrder(context.Background(), broker.OrderRequest{
		Symbol: "AAPL", Side: "sell", Type: "market", Quantity: qty, TimeInForce: "day",
	})
	require.NoError(t, err)

	e.RunRiskCycle(context.Background(), cycleTime.Add(3*time.Hour))

	s, ok := e.Sessions().Active()
	require.True(t, ok)
	assert.Equal(t, 1, s.Predictions)
	assert.Equal(t, 1, s.CorrectPredictions, "trade closed in profit")
	assert.Greater(t, s.TotalPnL, 0.0)
	assert.Greater(t, e.Gateway().Counters().RealizedPnL(cycleTime.Add(3*time.Hour)), 0.0)
}

func TestLearningCycleEndsSessionOnDayRollover(t *testing.T) {
	e, _ := newTestEngine(t)

	e.RunDecisionCycle(context.Background(), cycleTime)
	_, ok := e.Sessions().Active()
	require.True(t, ok)

	// Same day: session stays open.
	e.RunLearningCycle(cycleTime.Add(2 * time.Hour))
	_, ok = e.Sessions().Active()
	assert.True(t, ok)

	// Next UTC day: session ends and the episode is finalized.
	e.RunLearningCycle(cycleTime.Add(24 * time.Hour))
	_, ok = e.Sessions().Active()
	assert.False(t, ok)
}

func TestStopFinalizesSessionAndEpisode(t *testing.T) {
	e, _ := newTestEngine(t)

	e.RunDecisionCycle(context.Background(), cycleTime)
	require.Equal(t, 1, e.Agent().OpenSteps(), "executed trade records a step")

	ended, ok := e.Stop(cycleTime.Add(6 * time.Hour))
	require.True(t, ok)
	assert.NotEmpty(t, ended.SessionID)

	_, active := e.Sessions().Active()
	assert.False(t, active, "stop must close the session")
	assert.Zero(t, e.Agent().OpenSteps(), "stop must finalize the open episode")
	require.Len(t, e.Agent().Episodes(), 1)

	_, ok = e.Stop(cycleTime.Add(7 * time.Hour))
	assert.False(t, ok, "second stop is a no-op")
	assert.Len(t, e.Agent().Episodes(), 1)
}

func TestStatusSnapshot(t *testing.T) {
	e, _ := newTestEngine(t)
	e.RunDecisionCycle(context.Background(), cycleTime)

	st := e.Status()
	assert.Contains(t, st, "regime")
	assert.Contains(t, st, "convergence")
	assert.Contains(t, st, "session")
	assert.Equal(t, 1, st["open_trades"])
}
