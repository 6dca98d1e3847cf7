package risk

import (
	"fmt"
	"math"

	"github.com/quantpulse/trading-engine/internal/features"
	"github.com/quantpulse/trading-engine/internal/forecast"
	"github.com/quantpulse/trading-engine/internal/observ"
)

// Config holds the portfolio-level ceilings and sizing bounds.
type Config struct {
	MaxDailyLossPct   float64 // fraction of portfolio value, e.g. 0.05
	MaxDrawdownPct    float64 // fraction from peak, e.g. 0.15
	MaxRiskPerTrade   float64 // fraction of portfolio at risk per trade
	MaxPortfolioRisk  float64 // soft ceiling on total open risk
	MinRewardRisk     float64
	KellyCap          float64
	MaxPositionWeight float64
	HighVolatility    float64 // warn + size cut above this
	LowConfidence     float64 // warn below this
}

// Snapshot is the portfolio state the validator evaluates against.
type Snapshot struct {
	TotalValue    float64
	Cash          float64
	BuyingPower   float64
	DayPnL        float64 // realized, today
	Drawdown      float64 // fraction from peak equity
	OpenRisk      float64 // fraction of portfolio currently at risk
	PositionCount int
}

// Sizing is the risk layer's position recommendation, in portfolio-value
// fractions. Invariant: 0 <= RecommendedSize <= MaxSize <= 1.
type Sizing struct {
	RecommendedSize float64
	MaxSize         float64
	StopLoss        float64
	TakeProfit      float64
	RiskRewardRatio float64
}

// Assessment is the validator's verdict. Restrictions are hard risk-of-ruin
// conditions that abort the trade; warnings degrade size but let it proceed.
type Assessment struct {
	Approved     bool
	Sizing       Sizing
	RiskScore    float64 // 0..1
	Restrictions []string
	Warnings     []string
}

// Validator computes risk-adjusted position sizes and enforces the two-tier
// reject/warn policy.
type Validator struct {
	cfg Config
}

func NewValidator(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

const (
	baseWinRate     = 0.55
	atrStopMultiple = 2.0
	highVolSizeCut  = 0.7
	volatilityFloor = 0.05
)

// Validate checks hard ceilings first, then sizes the trade. Soft-quality
// conditions attach warnings and may cut size, never reject.
func (v *Validator) Validate(f forecast.Forecast, snap Snapshot, feat features.Vector) Assessment {
	a := Assessment{}

	if snap.TotalValue <= 0 {
		a.Restrictions = append(a.Restrictions, "Portfolio value unavailable")
		return a
	}

	// Hard rejects: risk of ruin.
	lossCeiling := v.cfg.MaxDailyLossPct * snap.TotalValue
	if snap.DayPnL <= -lossCeiling {
		a.Restrictions = append(a.Restrictions, fmt.Sprintf(
			"Daily loss limit exceeded: %.2f beyond ceiling %.2f", -snap.DayPnL, lossCeiling))
	}
	if snap.Drawdown >= v.cfg.MaxDrawdownPct {
		a.Restrictions = append(a.Restrictions, fmt.Sprintf(
			"Max drawdown %.1f%% at or above ceiling %.1f%%",
			snap.Drawdown*100, v.cfg.MaxDrawdownPct*100))
	}
	if len(a.Restrictions) > 0 {
		observ.RecordGateBlock("risk_ceiling")
		return a
	}

	vol := math.Max(feat.Volatility, volatilityFloor)
	size := math.Min(v.kellyFraction(f.Confidence, vol), v.cfg.MaxRiskPerTrade/vol)
	size = clamp(size, 0, v.cfg.MaxPositionWeight)

	// Soft-quality warnings.
	if snap.OpenRisk > v.cfg.MaxPortfolioRisk {
		a.Warnings = append(a.Warnings, fmt.Sprintf(
			"Portfolio risk %.1f%% above %.1f%%", snap.OpenRisk*100, v.cfg.MaxPortfolioRisk*100))
	}
	if f.Confidence < v.cfg.LowConfidence {
		a.Warnings = append(a.Warnings, fmt.Sprintf(
			"Low forecast confidence %.2f", f.Confidence))
	}
	if feat.Volatility > v.cfg.HighVolatility {
		a.Warnings = append(a.Warnings, fmt.Sprintf(
			"High volatility %.2f, size reduced", feat.Volatility))
		size *= highVolSizeCut
	}

	sizing := v.buildSizing(f, feat, size)
	if sizing.RiskRewardRatio < v.cfg.MinRewardRisk {
		a.Warnings = append(a.Warnings, fmt.Sprintf(
			"Reward:risk %.2f below minimum %.2f", sizing.RiskRewardRatio, v.cfg.MinRewardRisk))
	}

	a.Approved = true
	a.Sizing = sizing
	a.RiskScore = v.riskScore(f, snap, feat)
	return a
}

// kellyFraction estimates the Kelly bet from a confidence-adjusted win rate
// and a payoff ratio scaled from realized volatility, clamped to the cap.
func (v *Validator) kellyFraction(confidence, vol float64) float64 {
	winRate := clamp(baseWinRate+(confidence-0.5)*0.2, 0.35, 0.75)

	// Higher volatility stretches both the average win and the average loss;
	// the payoff ratio compresses toward 1 as volatility grows.
	payoff := clamp(1.8-vol, 1.1, 1.8)

	kelly := winRate - (1-winRate)/payoff
	return clamp(kelly, 0, v.cfg.KellyCap)
}

func (v *Validator) buildSizing(f forecast.Forecast, feat features.Vector, size float64) Sizing {
	price := feat.Price
	atr := feat.ATR
	if atr <= 0 {
		atr = price * 0.005
	}

	risk := atrStopMultiple * atr
	rr := math.Max(v.cfg.MinRewardRisk, 1.5)

	// The forecast's price target drives the take-profit when it sits on the
	// trade's side of entry; otherwise fall back to the minimum-ratio bracket.
	var stop, target float64
	if f.Direction == forecast.Down {
		stop = price + risk
		target = price - risk*rr
		if f.PriceTarget > 0 && f.PriceTarget < price {
			target = f.PriceTarget
			rr = (price - target) / risk
		}
	} else {
		stop = price - risk
		target = price + risk*rr
		if f.PriceTarget > price {
			target = f.PriceTarget
			rr = (target - price) / risk
		}
	}

	return Sizing{
		RecommendedSize: size,
		MaxSize:         v.cfg.MaxPositionWeight,
		StopLoss:        stop,
		TakeProfit:      target,
		RiskRewardRatio: rr,
	}
}

func (v *Validator) riskScore(f forecast.Forecast, snap Snapshot, feat features.Vector) float64 {
	volPart := clamp(feat.Volatility/0.6, 0, 1)
	exposurePart := clamp(snap.OpenRisk/(v.cfg.MaxPortfolioRisk*2), 0, 1)
	confPart := 1 - f.Confidence
	return clamp(0.4*volPart+0.3*exposurePart+0.3*confPart, 0, 1)
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
