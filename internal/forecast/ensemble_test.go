package forecast

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse/trading-engine/internal/features"
	"github.com/quantpulse/trading-engine/internal/marketdata"
)

type stubModel struct {
	name  string
	score Score
	err   error
}

func (s stubModel) Name() string                         { return s.name }
func (s stubModel) Score(features.Vector) (Score, error) { return s.score, s.err }

func stubs(dirs []Direction, conf float64) []Member {
	out := make([]Member, len(dirs))
	for i, d := range dirs {
		out[i] = Member{
			Model: stubModel{name: "stub", score: Score{Direction: d, Confidence: conf}},
			Prior: 1.0 / float64(len(dirs)),
		}
	}
	return out
}

func TestConfidenceMonotoneInAgreement(t *testing.T) {
	cases := [][]Direction{
		{Up, Sideways, Sideways},
		{Up, Up, Sideways},
		{Up, Up, Up},
	}
	prev := 0.0
	for i, dirs := range cases {
		f := NewEnsemble(stubs(dirs, 0.8)).Predict(features.Vector{Symbol: "X", Price: 100})
		require.Equal(t, Up, f.Direction, "case %d", i)
		assert.GreaterOrEqual(t, f.Confidence, prev,
			"confidence must not decrease as more models agree")
		prev = f.Confidence
	}
}

func TestFailingModelIsExcluded(t *testing.T) {
	members := []Member{
		{Model: stubModel{name: "ok", score: Score{Direction: Up, Confidence: 0.9}}, Prior: 0.5},
		{Model: stubModel{name: "broken", err: errors.New("nan feature")}, Prior: 0.5},
	}
	f := NewEnsemble(members).Predict(features.Vector{Symbol: "X", Price: 100})
	assert.Equal(t, Up, f.Direction)
	assert.Equal(t, []string{"ok"}, f.ContributingModels)
}

func TestAllModelsFailingFallsBackToHold(t *testing.T) {
	members := []Member{
		{Model: stubModel{name: "a", err: errors.New("boom")}, Prior: 0.5},
		{Model: stubModel{name: "b", err: errors.New("boom")}, Prior: 0.5},
	}
	f := NewEnsemble(members).Predict(features.Vector{Symbol: "X", Price: 100})
	assert.Equal(t, Sideways, f.Direction)
	assert.Equal(t, 0.5, f.Confidence)
	assert.Empty(t, f.ContributingModels)
}

func TestMixedSignalsResolveSideways(t *testing.T) {
	f := NewEnsemble(stubs([]Direction{Up, Down}, 0.8)).Predict(features.Vector{Symbol: "X", Price: 100})
	assert.Equal(t, Sideways, f.Direction)
}

func TestDefaultEnsembleOnRisingSeries(t *testing.T) {
	base := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	bars := make([]marketdata.Bar, 30)
	for i := range bars {
		c := 100 + float64(i)
		bars[i] = marketdata.Bar{
			Symbol: "AAPL", Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open: c - 0.5, High: c + 0.5, Low: c - 1, Close: c, Volume: 10000,
		}
	}
	v, err := features.Extract(bars, 0, base.Add(30*time.Hour))
	require.NoError(t, err)

	f := NewEnsemble(nil).Predict(v)
	assert.Equal(t, Up, f.Direction)
	assert.GreaterOrEqual(t, f.Confidence, 0.55)
	assert.Greater(t, f.PriceTarget, v.Price)
	assert.Len(t, f.ContributingModels, 3)
}
