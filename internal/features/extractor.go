package features

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/quantpulse/trading-engine/internal/marketdata"
)

// MinBars is the shortest window the extractor accepts; MACD's slow EMA sets
// the bound.
const MinBars = 26

// ErrInsufficientData is returned when the bar window is too short for the
// configured indicators. Callers treat it as a transient per-symbol failure.
var ErrInsufficientData = errors.New("insufficient bars for feature extraction")

// Vector holds the derived attributes one decision cycle consumes. It is
// recomputed on demand and never persisted.
type Vector struct {
	Symbol       string
	Price        float64
	RSI          float64 // 0..100
	MACDLine     float64
	MACDSignal   float64
	MACDHist     float64
	BollingerPos float64 // 0..1 inside the band
	Momentum     float64 // weighted multi-window rate of change
	Volatility   float64 // annualized
	VolumeTrend  float64 // recent vs baseline volume, relative
	ATR          float64
	Sentiment    float64 // [-1,1], 0 when the collaborator has nothing
	TimeOfDay    float64 // fraction of the UTC day
	DayOfWeek    float64 // fraction of the week, Monday = 0
}

// Extract derives a feature vector from the bar window. The window must be
// chronological and hold at least MinBars samples.
func Extract(bars []marketdata.Bar, sentiment float64, now time.Time) (Vector, error) {
	if len(bars) < MinBars {
		return Vector{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(bars), MinBars)
	}

	closes := marketdata.Closes(bars)
	volumes := marketdata.Volumes(bars)
	line, signal, hist := MACD(closes)

	v := Vector{
		Symbol:       bars[0].Symbol,
		Price:        closes[len(closes)-1],
		RSI:          RSI(closes, 14),
		MACDLine:     line,
		MACDSignal:   signal,
		MACDHist:     hist,
		BollingerPos: BollingerPosition(closes, 20, 2),
		Momentum:     Momentum(closes),
		Volatility:   AnnualizedVolatility(closes),
		VolumeTrend:  VolumeTrend(volumes),
		ATR:          ATR(bars, 14),
		Sentiment:    clamp(sentiment, -1, 1),
		TimeOfDay:    timeOfDay(now),
		DayOfWeek:    dayOfWeek(now),
	}
	if math.IsNaN(v.Volatility) || math.IsInf(v.Volatility, 0) {
		return Vector{}, fmt.Errorf("degenerate volatility for %s", v.Symbol)
	}
	return v, nil
}

func timeOfDay(t time.Time) float64 {
	u := t.UTC()
	secs := u.Hour()*3600 + u.Minute()*60 + u.Second()
	return float64(secs) / 86400
}

func dayOfWeek(t time.Time) float64 {
	// Monday = 0 .. Sunday = 6
	wd := int(t.UTC().Weekday())
	wd = (wd + 6) % 7
	return float64(wd) / 7
}
