package learning

import (
	"context"
	"sync"

	"github.com/quantpulse/trading-engine/internal/observ"
	"github.com/quantpulse/trading-engine/internal/outcome"
)

// Recommendation is the tracker's periodic tuning advice, consumed by the
// execution gateway. Deltas are additive on the confidence floor and
// multiplicative on size.
type Recommendation struct {
	MinConfidenceDelta float64
	SizeMultiplier     float64
	SampleSize         int
}

// OutcomeTracker keeps a bounded in-memory window of completed trades, mirrors
// each one to the durable store, and distills the window into per-symbol
// quality scores and threshold/size recommendations.
type OutcomeTracker struct {
	mu       sync.Mutex
	capacity int
	outcomes []outcome.TradeOutcome
	idx      int
	count    int
	store    outcome.Store
}

// NewOutcomeTracker builds a tracker over a fixed-size window. store may be
// nil for replay runs that do not persist.
func NewOutcomeTracker(capacity int, store outcome.Store) *OutcomeTracker {
	if capacity <= 0 {
		capacity = 1000
	}
	return &OutcomeTracker{
		capacity: capacity,
		outcomes: make([]outcome.TradeOutcome, capacity),
		store:    store,
	}
}

// Record books a completed trade. Persistence failures are logged, never
// propagated: the in-memory window is what the live loop learns from.
func (t *OutcomeTracker) Record(ctx context.Context, o outcome.TradeOutcome) {
	t.mu.Lock()
	t.outcomes[t.idx] = o
	t.idx = (t.idx + 1) % t.capacity
	if t.count < t.capacity {
		t.count++
	}
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.Save(ctx, o); err != nil {
			observ.Error("outcome_persist_failed", err, map[string]any{"symbol": o.Symbol})
		}
	}
}

// Recent returns up to n outcomes, newest first, optionally filtered by symbol.
func (t *OutcomeTracker) Recent(symbol string, n int) []outcome.TradeOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []outcome.TradeOutcome
	for i := 0; i < t.count; i++ {
		o := t.outcomes[(t.idx-1-i+t.capacity)%t.capacity]
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		out = append(out, o)
		if n > 0 && len(out) == n {
			break
		}
	}
	return out
}

// QualityScore grades a symbol's recent trading in [0,1]: a blend of hit rate
// and average P&L. Fewer than five samples returns the neutral 0.5 so a cold
// symbol is neither boosted nor punished.
func (t *OutcomeTracker) QualityScore(symbol string) float64 {
	recent := t.Recent(symbol, 20)
	if len(recent) < 5 {
		return 0.5
	}

	wins := 0
	avgPnLPct := 0.0
	for _, o := range recent {
		if o.Correct {
			wins++
		}
		avgPnLPct += o.PnLPct
	}
	hitRate := float64(wins) / float64(len(recent))
	avgPnLPct /= float64(len(recent))

	// Hit rate carries 70%, scaled average P&L the rest.
	score := 0.7*hitRate + 0.3*clamp01(0.5+avgPnLPct*10)
	return clamp01(score)
}

// Recommend distills the recent window into gateway tuning. Strong accuracy
// loosens the confidence floor and scales size up; weak accuracy does the
// opposite. Under 10 samples it recommends no change.
func (t *OutcomeTracker) Recommend() Recommendation {
	recent := t.Recent("", 50)
	if len(recent) < 10 {
		return Recommendation{SizeMultiplier: 1.0, SampleSize: len(recent)}
	}

	wins := 0
	for _, o := range recent {
		if o.Correct {
			wins++
		}
	}
	acc := float64(wins) / float64(len(recent))

	rec := Recommendation{SizeMultiplier: 1.0, SampleSize: len(recent)}
	switch {
	case acc >= 0.60:
		rec.MinConfidenceDelta = -0.02
		rec.SizeMultiplier = 1.1
	case acc < 0.45:
		rec.MinConfidenceDelta = 0.03
		rec.SizeMultiplier = 0.8
	}

	observ.Log("tuning_recommendation", map[string]any{
		"accuracy": acc, "samples": len(recent),
		"min_confidence_delta": rec.MinConfidenceDelta,
		"size_multiplier":      rec.SizeMultiplier,
	})
	return rec
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
