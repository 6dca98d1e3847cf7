package regime

import (
	"sync"
	"time"

	"github.com/quantpulse/trading-engine/internal/features"
	"github.com/quantpulse/trading-engine/internal/marketdata"
	"github.com/quantpulse/trading-engine/internal/observ"
)

// Regime is the coarse market-behavior classification.
type Regime string

const (
	Bull       Regime = "BULL"
	Bear       Regime = "BEAR"
	Sideways   Regime = "SIDEWAYS"
	Volatile   Regime = "VOLATILE"
	Transition Regime = "TRANSITION"
)

// Characteristics are the measured inputs behind a classification.
type Characteristics struct {
	TrendStrength     float64 // regression slope over the window, price-relative, scaled by R²
	Volatility        float64 // annualized
	Momentum          float64 // weighted multi-window rate of change
	VolumeCorrelation float64 // price/volume correlation, 0.5 when volume is flat
}

// Signal is the classifier's current output. Regime is modeled as a single
// global value; characteristics are computed from whichever symbol's window
// was passed in.
type Signal struct {
	Regime          Regime
	Confidence      float64
	Characteristics Characteristics
	Duration        time.Duration
	ChangeSignal    bool // a different regime is indicated but hysteresis held it back
}

const (
	// MinSamples below which the classifier reports a degraded SIDEWAYS signal.
	MinSamples = 20
	// minDwell and changeConfidence implement hysteresis: without both, the
	// classifier flips constantly on noisy intraday data.
	minDwell         = 24 * time.Hour
	changeConfidence = 0.75
)

// Classifier tracks the committed regime and applies dwell-time hysteresis.
type Classifier struct {
	mu         sync.Mutex
	current    Regime
	confidence float64
	since      time.Time
	log        func(event string, kv map[string]any)
}

func NewClassifier() *Classifier {
	return &Classifier{
		current: Sideways,
		log:     observ.Log,
	}
}

// Classify computes characteristics from the window and returns the committed
// regime. A regime change is committed only when the current regime has been
// held for at least 24h and the candidate's confidence exceeds 0.75.
func (c *Classifier) Classify(bars []marketdata.Bar, now time.Time) Signal {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(bars) < MinSamples {
		return Signal{
			Regime:     Sideways,
			Confidence: 0.3,
			Duration:   c.durationLocked(now),
		}
	}

	ch := Measure(bars)
	candidate, conf := classify(ch)

	if c.since.IsZero() {
		c.commitLocked(candidate, conf, now)
		return c.signalLocked(ch, now, false)
	}

	if candidate == c.current {
		c.confidence = conf
		return c.signalLocked(ch, now, false)
	}

	held := now.Sub(c.since)
	if held >= minDwell && conf > changeConfidence {
		c.log("regime_change", map[string]any{
			"from": string(c.current), "to": string(candidate),
			"confidence": conf, "held_hours": held.Hours(),
		})
		c.commitLocked(candidate, conf, now)
		return c.signalLocked(ch, now, false)
	}

	// Hysteresis holds the previous regime; flag the pressure to change.
	return c.signalLocked(ch, now, true)
}

// Current returns the committed regime without reclassifying.
func (c *Classifier) Current() (Regime, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.confidence
}

func (c *Classifier) commitLocked(r Regime, conf float64, now time.Time) {
	c.current = r
	c.confidence = conf
	c.since = now
}

func (c *Classifier) durationLocked(now time.Time) time.Duration {
	if c.since.IsZero() {
		return 0
	}
	return now.Sub(c.since)
}

func (c *Classifier) signalLocked(ch Characteristics, now time.Time, change bool) Signal {
	return Signal{
		Regime:          c.current,
		Confidence:      c.confidence,
		Characteristics: ch,
		Duration:        c.durationLocked(now),
		ChangeSignal:    change,
	}
}

// Measure computes the regime characteristics for a bar window.
func Measure(bars []marketdata.Bar) Characteristics {
	closes := marketdata.Closes(bars)
	volumes := marketdata.Volumes(bars)

	slope, r2 := features.LinearRegression(closes)
	avg := 0.0
	for _, p := range closes {
		avg += p
	}
	avg /= float64(len(closes))

	trend := 0.0
	if avg != 0 {
		// Total price-relative change implied by the fit, discounted by fit
		// quality so choppy windows don't read as trending.
		trend = slope * float64(len(closes)) / avg * r2
	}

	corr := features.Correlation(closes, volumes)
	if corr == 0 && !hasVariance(volumes) {
		// Flat volume neither confirms nor contradicts the trend.
		corr = 0.5
	}

	return Characteristics{
		TrendStrength:     trend,
		Volatility:        features.AnnualizedVolatility(closes),
		Momentum:          features.Momentum(closes),
		VolumeCorrelation: corr,
	}
}

// classify applies the ordered rules; first match wins.
func classify(ch Characteristics) (Regime, float64) {
	abs := func(v float64) float64 {
		if v < 0 {
			return -v
		}
		return v
	}
	switch {
	case ch.Volatility > 0.4:
		return Volatile, clamp(ch.Volatility/0.6, 0, 0.95)
	case ch.TrendStrength > 0.02 && ch.Momentum > 0.03 && ch.VolumeCorrelation > 0.3:
		return Bull, clamp(0.5+ch.TrendStrength*2+ch.Momentum*3, 0, 0.95)
	case ch.TrendStrength < -0.02 && ch.Momentum < -0.03:
		return Bear, clamp(0.5+abs(ch.TrendStrength)*2+abs(ch.Momentum)*3, 0, 0.95)
	case abs(ch.TrendStrength) > 0.01 && ch.Volatility > 0.25:
		return Transition, clamp(0.4+ch.Volatility, 0, 0.9)
	default:
		return Sideways, clamp(0.6-abs(ch.TrendStrength)*5, 0.3, 0.8)
	}
}

func hasVariance(values []float64) bool {
	if len(values) < 2 {
		return false
	}
	first := values[0]
	for _, v := range values[1:] {
		if v != first {
			return true
		}
	}
	return false
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
