package forecast

import (
	"math"

	"github.com/quantpulse/trading-engine/internal/features"
	"github.com/quantpulse/trading-engine/internal/observ"
)

// Forecast is the combined ensemble output for one decision cycle.
type Forecast struct {
	Symbol             string
	Direction          Direction
	Confidence         float64 // [0,1]
	PriceTarget        float64
	HorizonHours       int
	ContributingModels []string
}

// Member pairs a model with its static skill prior.
type Member struct {
	Model Model
	Prior float64
}

const (
	directionThreshold = 0.3
	agreementBonusMax  = 0.2
	defaultHorizon     = 24
)

// Ensemble combines the members' scores into a single forecast.
type Ensemble struct {
	members []Member
}

func NewEnsemble(members []Member) *Ensemble {
	if len(members) == 0 {
		members = DefaultModels()
	}
	return &Ensemble{members: members}
}

// Predict runs every member over the feature vector. A failing member is
// excluded for the cycle and logged; when every member fails the result is a
// neutral SIDEWAYS forecast with confidence 0.5, never an error.
func (e *Ensemble) Predict(v features.Vector) Forecast {
	type result struct {
		name   string
		score  Score
		weight float64
	}
	results := make([]result, 0, len(e.members))

	for _, m := range e.members {
		s, err := m.Model.Score(v)
		if err != nil {
			observ.RecordModelFailure(m.Model.Name())
			observ.Warn("model_failed", map[string]any{
				"model": m.Model.Name(), "symbol": v.Symbol, "error": err.Error(),
			})
			continue
		}
		results = append(results, result{
			name:   m.Model.Name(),
			score:  s,
			weight: m.Prior * s.Confidence,
		})
	}

	if len(results) == 0 {
		return Forecast{
			Symbol:       v.Symbol,
			Direction:    Sideways,
			Confidence:   0.5,
			PriceTarget:  v.Price,
			HorizonHours: defaultHorizon,
		}
	}

	var weightSum, signedSum, confSum float64
	names := make([]string, 0, len(results))
	for _, r := range results {
		weightSum += r.weight
		signedSum += r.weight * r.score.Direction.Sign()
		confSum += r.weight * r.score.Confidence
		names = append(names, r.name)
	}

	weighted := 0.0
	meanConf := 0.5
	if weightSum > 0 {
		weighted = signedSum / weightSum
		meanConf = confSum / weightSum
	}

	dir := Sideways
	switch {
	case weighted > directionThreshold:
		dir = Up
	case weighted < -directionThreshold:
		dir = Down
	}

	// Agreement bonus: the fraction of surviving models voting with the
	// resolved direction, scaled. Monotone in the number of agreeing models.
	agreeing := 0
	for _, r := range results {
		if r.score.Direction == dir {
			agreeing++
		}
	}
	bonus := agreementBonusMax * float64(agreeing) / float64(len(results))
	conf := clamp(meanConf+bonus, 0, 1)

	return Forecast{
		Symbol:             v.Symbol,
		Direction:          dir,
		Confidence:         conf,
		PriceTarget:        priceTarget(v, dir),
		HorizonHours:       defaultHorizon,
		ContributingModels: names,
	}
}

func priceTarget(v features.Vector, dir Direction) float64 {
	// Scale the target by realized volatility over the forecast horizon.
	move := v.Price * math.Max(v.Volatility, 0.05) * math.Sqrt(float64(defaultHorizon)/24) / math.Sqrt(252)
	switch dir {
	case Up:
		return v.Price + move
	case Down:
		return v.Price - move
	default:
		return v.Price
	}
}
