package features

import (
	"math"

	"github.com/quantpulse/trading-engine/internal/marketdata"
)

// Indicator math shared by the extractor and the regime classifier. All
// functions are pure and assume chronological input.

// SMA returns the simple moving average of the last period values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// EMASeries computes the exponential moving average series seeded from the
// first value.
func EMASeries(values []float64, period int) []float64 {
	if len(values) == 0 {
		return nil
	}
	alpha := 2.0 / (float64(period) + 1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// RSI computes the relative strength index over the last period changes.
// A window with no losses returns 100, no gains returns 0.
func RSI(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 50
	}
	var gains, losses float64
	for i := len(closes) - period; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gains += d
		} else {
			losses -= d
		}
	}
	if losses == 0 {
		if gains == 0 {
			return 50
		}
		return 100
	}
	rs := gains / losses
	return 100 - 100/(1+rs)
}

// MACD returns the MACD line, signal line, and histogram for a 12/26/9 setup.
func MACD(closes []float64) (line, signal, hist float64) {
	if len(closes) < 26 {
		return 0, 0, 0
	}
	fast := EMASeries(closes, 12)
	slow := EMASeries(closes, 26)
	macd := make([]float64, len(closes))
	for i := range closes {
		macd[i] = fast[i] - slow[i]
	}
	sig := EMASeries(macd, 9)
	line = macd[len(macd)-1]
	signal = sig[len(sig)-1]
	return line, signal, line - signal
}

// BollingerPosition returns where the last close sits inside the Bollinger
// band, 0 at the lower band and 1 at the upper, clamped. A zero-width band
// maps to 0.5.
func BollingerPosition(closes []float64, period int, k float64) float64 {
	if len(closes) < period {
		return 0.5
	}
	mid := SMA(closes, period)
	sd := stdev(closes[len(closes)-period:])
	if sd == 0 {
		return 0.5
	}
	upper := mid + k*sd
	lower := mid - k*sd
	pos := (closes[len(closes)-1] - lower) / (upper - lower)
	return clamp(pos, 0, 1)
}

// Momentum blends rate-of-change over 5/10/20 bars weighted 50/30/20.
func Momentum(closes []float64) float64 {
	return 0.5*rateOfChange(closes, 5) +
		0.3*rateOfChange(closes, 10) +
		0.2*rateOfChange(closes, 20)
}

func rateOfChange(closes []float64, lookback int) float64 {
	if len(closes) < lookback+1 {
		return 0
	}
	prev := closes[len(closes)-1-lookback]
	if prev == 0 {
		return 0
	}
	return (closes[len(closes)-1] - prev) / prev
}

// AnnualizedVolatility is the standard deviation of simple returns scaled by
// sqrt(252).
func AnnualizedVolatility(closes []float64) float64 {
	if len(closes) < 3 {
		return 0
	}
	rets := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		rets = append(rets, (closes[i]-closes[i-1])/closes[i-1])
	}
	return stdev(rets) * math.Sqrt(252)
}

// VolumeTrend compares recent volume (last 5 bars) to the preceding baseline
// (up to 20 bars): positive when volume is expanding.
func VolumeTrend(volumes []float64) float64 {
	if len(volumes) < 10 {
		return 0
	}
	recent := SMA(volumes, 5)
	baseline := volumes[:len(volumes)-5]
	n := 20
	if len(baseline) < n {
		n = len(baseline)
	}
	base := SMA(baseline, n)
	if base == 0 {
		return 0
	}
	return recent/base - 1
}

// ATR is the simple average of true ranges over the last period bars.
func ATR(bars []marketdata.Bar, period int) float64 {
	if len(bars) < period+1 {
		return 0
	}
	sum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		sum += trueRange(bars[i], bars[i-1].Close)
	}
	return sum / float64(period)
}

func trueRange(b marketdata.Bar, prevClose float64) float64 {
	hl := b.High - b.Low
	hc := math.Abs(b.High - prevClose)
	lc := math.Abs(b.Low - prevClose)
	return math.Max(hl, math.Max(hc, lc))
}

// LinearRegression fits y = a + b*x over indices 0..n-1 and returns the slope
// and coefficient of determination.
func LinearRegression(values []float64) (slope, r2 float64) {
	n := float64(len(values))
	if n < 2 {
		return 0, 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0, 0
	}
	slope = (n*sumXY - sumX*sumY) / den
	intercept := (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssRes, ssTot float64
	for i, y := range values {
		fit := intercept + slope*float64(i)
		ssRes += (y - fit) * (y - fit)
		ssTot += (y - meanY) * (y - meanY)
	}
	if ssTot == 0 {
		return slope, 0
	}
	return slope, 1 - ssRes/ssTot
}

// Correlation is the Pearson correlation of two equal-length series. Either
// series being constant yields 0.
func Correlation(xs, ys []float64) float64 {
	if len(xs) != len(ys) || len(xs) < 2 {
		return 0
	}
	n := float64(len(xs))
	var sumX, sumY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX, meanY := sumX/n, sumY/n
	var cov, varX, varY float64
	for i := range xs {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}

func stdev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(len(values)-1))
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
