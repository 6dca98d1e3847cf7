package forecast

import (
	"fmt"
	"math"

	"github.com/quantpulse/trading-engine/internal/features"
)

// Direction is the forecast's directional call.
type Direction string

const (
	Up       Direction = "UP"
	Down     Direction = "DOWN"
	Sideways Direction = "SIDEWAYS"
)

// Sign maps a direction to its signed contribution in the ensemble.
func (d Direction) Sign() float64 {
	switch d {
	case Up:
		return 1
	case Down:
		return -1
	default:
		return 0
	}
}

// Score is one model's directional call with its own confidence.
type Score struct {
	Direction  Direction
	Confidence float64
}

// Model is the capability interface every ensemble member implements. The
// members are a closed set of deterministic scorers; none of them is a trained
// network, they only mimic the shape of one.
type Model interface {
	Name() string
	Score(v features.Vector) (Score, error)
}

// recurrentModel weighs momentum and MACD the way a sequence model would weigh
// recent history: smooth, trend-following.
type recurrentModel struct{}

func (recurrentModel) Name() string { return "recurrent" }

func (recurrentModel) Score(v features.Vector) (Score, error) {
	signal := math.Tanh(v.Momentum*8 + v.MACDHist*2 + v.Sentiment*0.5)
	dir := Sideways
	if signal > 0.1 {
		dir = Up
	} else if signal < -0.1 {
		dir = Down
	}
	return Score{Direction: dir, Confidence: clamp(0.5+0.4*math.Abs(signal), 0, 1)}, nil
}

// attentionModel keys on band position and MACD crossover state: breakout
// continuation when price rides a band edge with the crossover confirming.
type attentionModel struct{}

func (attentionModel) Name() string { return "attention" }

func (attentionModel) Score(v features.Vector) (Score, error) {
	crossUp := v.MACDLine > v.MACDSignal
	switch {
	case v.BollingerPos > 0.6 && crossUp:
		return Score{Direction: Up, Confidence: clamp(0.45+0.45*v.BollingerPos, 0, 1)}, nil
	case v.BollingerPos < 0.4 && !crossUp:
		return Score{Direction: Down, Confidence: clamp(0.45+0.45*(1-v.BollingerPos), 0, 1)}, nil
	default:
		return Score{Direction: Sideways, Confidence: 0.5}, nil
	}
}

// forestModel tallies simple rule votes the way a depth-1 tree ensemble would.
type forestModel struct{}

func (forestModel) Name() string { return "forest" }

func (forestModel) Score(v features.Vector) (Score, error) {
	if v.Price <= 0 {
		return Score{}, fmt.Errorf("forest: non-positive price %.4f", v.Price)
	}
	votes := 0
	if v.Momentum > 0.01 {
		votes++
	} else if v.Momentum < -0.01 {
		votes--
	}
	if v.MACDHist > 0 {
		votes++
	} else if v.MACDHist < 0 {
		votes--
	}
	if v.VolumeTrend > 0.1 {
		votes++
	} else if v.VolumeTrend < -0.1 {
		votes--
	}
	if v.RSI > 70 {
		votes-- // stretched
	} else if v.RSI < 30 {
		votes++
	}
	if v.Sentiment > 0.3 {
		votes++
	} else if v.Sentiment < -0.3 {
		votes--
	}

	dir := Sideways
	if votes > 0 {
		dir = Up
	} else if votes < 0 {
		dir = Down
	}
	conf := clamp(0.5+0.1*math.Abs(float64(votes)), 0, 0.9)
	return Score{Direction: dir, Confidence: conf}, nil
}

// DefaultModels returns the standard ensemble with its static skill priors.
func DefaultModels() []Member {
	return []Member{
		{Model: recurrentModel{}, Prior: 0.40},
		{Model: attentionModel{}, Prior: 0.35},
		{Model: forestModel{}, Prior: 0.25},
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
