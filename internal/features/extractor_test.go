package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse/trading-engine/internal/marketdata"
)

func risingBars(n int, start float64) []marketdata.Bar {
	base := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	bars := make([]marketdata.Bar, n)
	for i := 0; i < n; i++ {
		c := start + float64(i)
		bars[i] = marketdata.Bar{
			Symbol:    "AAPL",
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      c - 0.5,
			High:      c + 0.5,
			Low:       c - 1,
			Close:     c,
			Volume:    10000,
		}
	}
	return bars
}

func TestExtractRejectsShortWindow(t *testing.T) {
	_, err := Extract(risingBars(10, 100), 0, time.Now())
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestExtractRisingSeries(t *testing.T) {
	now := time.Date(2025, 6, 3, 15, 0, 0, 0, time.UTC)
	v, err := Extract(risingBars(30, 100), 0.2, now)
	require.NoError(t, err)

	assert.Equal(t, "AAPL", v.Symbol)
	assert.Equal(t, 129.0, v.Price)
	assert.Equal(t, 100.0, v.RSI, "no down bars means RSI pegged at 100")
	assert.Greater(t, v.MACDLine, 0.0)
	assert.Greater(t, v.Momentum, 0.03)
	assert.Greater(t, v.BollingerPos, 0.7, "close should ride the upper band")
	assert.InDelta(t, 0.0, v.VolumeTrend, 1e-9, "flat volume has no trend")
	assert.Equal(t, 0.2, v.Sentiment)
	assert.InDelta(t, 15.0/24.0, v.TimeOfDay, 1e-9)
	assert.InDelta(t, 1.0/7.0, v.DayOfWeek, 1e-9, "2025-06-03 is a Tuesday")
}

func TestRSIBounds(t *testing.T) {
	down := []float64{10, 9, 8, 7, 6, 5, 4, 3, 2, 1, 0.9, 0.8, 0.7, 0.6, 0.5, 0.4}
	assert.Equal(t, 0.0, RSI(down, 14))

	flat := make([]float64, 20)
	for i := range flat {
		flat[i] = 50
	}
	assert.Equal(t, 50.0, RSI(flat, 14))
}

func TestLinearRegressionPerfectFit(t *testing.T) {
	slope, r2 := LinearRegression([]float64{2, 4, 6, 8, 10})
	assert.InDelta(t, 2.0, slope, 1e-9)
	assert.InDelta(t, 1.0, r2, 1e-9)
}

func TestCorrelationConstantSeriesIsZero(t *testing.T) {
	xs := []float64{1, 2, 3, 4}
	flat := []float64{7, 7, 7, 7}
	assert.Equal(t, 0.0, Correlation(xs, flat))
	assert.InDelta(t, 1.0, Correlation(xs, []float64{2, 4, 6, 8}), 1e-9)
}

func TestATRRequiresWindow(t *testing.T) {
	bars := risingBars(30, 100)
	atr := ATR(bars, 14)
	assert.Greater(t, atr, 0.0)
	assert.Equal(t, 0.0, ATR(bars[:5], 14))
}
