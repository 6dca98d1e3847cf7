package learning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse/trading-engine/internal/features"
	"github.com/quantpulse/trading-engine/internal/outcome"
)

func vector(rsi, vol, momentum, sentiment float64) features.Vector {
	return features.Vector{
		Symbol: "AAPL", Price: 100,
		RSI: rsi, Volatility: vol, Momentum: momentum, Sentiment: sentiment,
	}
}

func trade(symbol string, correct bool, pnlPct float64, closedAt time.Time) outcome.TradeOutcome {
	return outcome.TradeOutcome{
		Symbol:   symbol,
		Correct:  correct,
		PnLPct:   pnlPct,
		PnL:      pnlPct * 10000,
		ClosedAt: closedAt,
	}
}

func TestQualityScoreNeutralUnderFiveSamples(t *testing.T) {
	tr := NewOutcomeTracker(100, nil)
	now := time.Date(2025, 6, 2, 20, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		tr.Record(context.Background(), trade("AAPL", true, 0.02, now))
	}
	assert.Equal(t, 0.5, tr.QualityScore("AAPL"))
}

func TestQualityScoreSeparatesWinnersFromLosers(t *testing.T) {
	tr := NewOutcomeTracker(100, nil)
	now := time.Date(2025, 6, 2, 20, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		tr.Record(context.Background(), trade("AAPL", true, 0.02, now))
		tr.Record(context.Background(), trade("TSLA", false, -0.03, now))
	}

	good := tr.QualityScore("AAPL")
	bad := tr.QualityScore("TSLA")
	assert.Greater(t, good, 0.7)
	assert.Less(t, bad, 0.3)
	assert.Greater(t, good, bad)
}

func TestRecommendNoChangeWithoutSamples(t *testing.T) {
	tr := NewOutcomeTracker(100, nil)
	rec := tr.Recommend()
	assert.Zero(t, rec.MinConfidenceDelta)
	assert.Equal(t, 1.0, rec.SizeMultiplier)
}

func TestRecommendTightensOnPoorAccuracy(t *testing.T) {
	tr := NewOutcomeTracker(100, nil)
	now := time.Date(2025, 6, 2, 20, 0, 0, 0, time.UTC)

	for i := 0; i < 20; i++ {
		tr.Record(context.Background(), trade("AAPL", i%5 == 0, -0.01, now))
	}
	rec := tr.Recommend()
	assert.Greater(t, rec.MinConfidenceDelta, 0.0, "poor accuracy raises the floor")
	assert.Less(t, rec.SizeMultiplier, 1.0)

	tr2 := NewOutcomeTracker(100, nil)
	for i := 0; i < 20; i++ {
		tr2.Record(context.Background(), trade("AAPL", i%4 != 0, 0.02, now))
	}
	rec2 := tr2.Recommend()
	assert.Less(t, rec2.MinConfidenceDelta, 0.0, "strong accuracy loosens the floor")
	assert.Greater(t, rec2.SizeMultiplier, 1.0)
}

func TestRecentWindowIsBoundedAndNewestFirst(t *testing.T) {
	tr := NewOutcomeTracker(3, nil)
	now := time.Date(2025, 6, 2, 20, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		tr.Record(context.Background(), trade("AAPL", true, float64(i), now.Add(time.Duration(i)*time.Minute)))
	}

	recent := tr.Recent("AAPL", 0)
	require.Len(t, recent, 3, "window capped at capacity")
	assert.Equal(t, 4.0, recent[0].PnLPct, "newest first")
	assert.Equal(t, 2.0, recent[2].PnLPct, "oldest entries evicted")
}

func TestRecordMirrorsToStore(t *testing.T) {
	store := &captureStore{}
	tr := NewOutcomeTracker(10, store)

	tr.Record(context.Background(), trade("AAPL", true, 0.01, time.Now()))
	require.Len(t, store.saved, 1)
	assert.Equal(t, "AAPL", store.saved[0].Symbol)
}

type captureStore struct {
	saved []outcome.TradeOutcome
}

func (c *captureStore) Save(_ context.Context, o outcome.TradeOutcome) error {
	c.saved = append(c.saved, o)
	return nil
}

func (c *captureStore) QueryRecent(context.Context, string, int) ([]outcome.TradeOutcome, error) {
	return nil, nil
}

func (c *captureStore) Close() error { return nil }
