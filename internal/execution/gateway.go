package execution

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/quantpulse/trading-engine/internal/broker"
	"github.com/quantpulse/trading-engine/internal/features"
	"github.com/quantpulse/trading-engine/internal/forecast"
	"github.com/quantpulse/trading-engine/internal/observ"
	"github.com/quantpulse/trading-engine/internal/risk"
)

// SymbolState is the per-symbol gate state machine:
// COOLDOWN -> ELIGIBLE -> (REJECTED | EXECUTING -> EXECUTED).
type SymbolState string

const (
	StateCooldown  SymbolState = "COOLDOWN"
	StateEligible  SymbolState = "ELIGIBLE"
	StateRejected  SymbolState = "REJECTED"
	StateExecuting SymbolState = "EXECUTING"
	StateExecuted  SymbolState = "EXECUTED"
)

// Config holds the gateway's thresholds, caps, and sizing bounds.
type Config struct {
	MinConfidence          float64
	ConservativeConfidence float64
	AggressiveConfidence   float64
	MaximumConfidence      float64

	MaxDailyTrades   int
	MaxOpenPositions int
	Cooldown         time.Duration
	MaxDailyLossPct  float64

	MarketHoursOnly      bool
	WeekendSymbols       []string
	RoundTheClockSymbols []string

	MinAvgVolume           float64
	MaxSpreadPct           float64
	RoundTheClockSpreadPct float64

	BaseWeight         float64
	MaxWeight          float64
	MinWeight          float64
	ConfidenceExponent float64
	MinOrderValueUSD   float64
	MaxOrderValueUSD   float64
	BuyingPowerBuffer  float64

	TradeHistoryCap int
}

// Proposal carries everything one symbol's gate evaluation needs. The caller
// assembles it once per cycle so the gateway itself does no I/O before the
// submission step.
type Proposal struct {
	Symbol          string
	Forecast        forecast.Forecast
	Features        features.Vector
	Assessment      risk.Assessment
	Quote           broker.Quote
	AvgVolume       float64
	Account         broker.Account
	Positions       []broker.Position
	PortfolioHealth float64 // 0..1, 1 = unimpaired
	Quality         float64 // learning layer's symbol quality, 0..1
	Now             time.Time
}

// Decision is the terminal artifact of the gating pipeline.
type Decision struct {
	Symbol        string
	ShouldExecute bool
	PositionSize  float64 // portfolio-weight fraction
	NotionalUSD   float64
	Reason        string
	Confidence    float64
	RiskScore     float64
	Priority      int
	Warnings      []string
	Trade         *TradeExecution
}

// TradeExecution records a submitted order.
type TradeExecution struct {
	Symbol      string
	Side        string
	Quantity    float64
	Price       float64
	OrderID     string
	Timestamp   time.Time
	Confidence  float64
	LatencyMs   int64
	SlippagePct float64
}

// Gateway is the scheduler-facing gatekeeper. It owns the daily counters, the
// cooldown map, and the per-symbol state machine.
type Gateway struct {
	mu       sync.Mutex
	cfg      Config
	broker   broker.Gateway
	counters *DailyCounters
	cooldown *CooldownMap
	states   map[string]SymbolState

	// Self-tuning inputs.
	accuracy     *accuracyWindow
	minConfDelta float64 // additive nudge from the learning loop
	sizeMult     float64 // multiplicative nudge from the learning loop

	history    []TradeExecution
	historyIdx int
	historyLen int
}

func NewGateway(cfg Config, b broker.Gateway) *Gateway {
	if cfg.TradeHistoryCap <= 0 {
		cfg.TradeHistoryCap = 500
	}
	return &Gateway{
		cfg:      cfg,
		broker:   b,
		counters: NewDailyCounters(),
		cooldown: NewCooldownMap(cfg.Cooldown),
		states:   make(map[string]SymbolState),
		accuracy: newAccuracyWindow(50),
		sizeMult: 1.0,
		history:  make([]TradeExecution, cfg.TradeHistoryCap),
	}
}

// Counters exposes the daily counters so the engine can book realized P&L and
// drive the scheduled reset.
func (g *Gateway) Counters() *DailyCounters { return g.counters }

// RecordPredictionOutcome feeds the self-tuning accuracy window.
func (g *Gateway) RecordPredictionOutcome(correct bool) {
	g.accuracy.record(correct)
}

// ApplyTuning applies the learning loop's threshold/size recommendation.
func (g *Gateway) ApplyTuning(minConfDelta, sizeMult float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.minConfDelta = clamp(minConfDelta, -0.1, 0.1)
	if sizeMult > 0 {
		g.sizeMult = clamp(sizeMult, 0.5, 1.5)
	}
}

// State returns the symbol's last gate state.
func (g *Gateway) State(symbol string) SymbolState {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.states[symbol]
	if !ok {
		return StateEligible
	}
	return s
}

// History returns the bounded trade history, oldest first.
func (g *Gateway) History() []TradeExecution {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]TradeExecution, 0, g.historyLen)
	start := (g.historyIdx - g.historyLen + len(g.history)) % len(g.history)
	for i := 0; i < g.historyLen; i++ {
		out = append(out, g.history[(start+i)%len(g.history)])
	}
	return out
}

// EffectiveMinConfidence is the confidence floor after self-tuning: recent
// accuracy nudges the configured minimum by 5-10% in either direction, and the
// learning loop's recommendation shifts it additively. Bounded to +/-10% of
// the configured value.
func (g *Gateway) EffectiveMinConfidence() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.effectiveMinLocked()
}

func (g *Gateway) effectiveMinLocked() float64 {
	eff := g.cfg.MinConfidence
	if acc, n := g.accuracy.rate(); n >= 10 {
		switch {
		case acc >= 0.65:
			eff *= 0.90
		case acc >= 0.55:
			eff *= 0.95
		case acc < 0.40:
			eff *= 1.10
		case acc < 0.50:
			eff *= 1.05
		}
	}
	eff += g.minConfDelta
	return clamp(eff, g.cfg.MinConfidence*0.90, g.cfg.MinConfidence*1.10)
}

// EvaluateAndExecute runs the ordered gate chain and, when every gate passes,
// submits a market order and attaches protective stop/take-profit orders.
// Every path resolves to a Decision; nothing escapes as an error.
func (g *Gateway) EvaluateAndExecute(ctx context.Context, p Proposal) Decision {
	g.mu.Lock()

	now := p.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if reason, gate := g.checkGatesLocked(p, now); reason != "" {
		if gate == "cooldown" {
			g.states[p.Symbol] = StateCooldown
		} else {
			g.states[p.Symbol] = StateRejected
		}
		g.mu.Unlock()
		observ.RecordGateBlock(gate)
		observ.RecordDecision(p.Symbol, "rejected")
		observ.Log("decision_rejected", map[string]any{
			"symbol": p.Symbol, "gate": gate, "reason": reason,
		})
		return Decision{
			Symbol:     p.Symbol,
			Reason:     reason,
			Confidence: p.Forecast.Confidence,
			RiskScore:  p.Assessment.RiskScore,
			Warnings:   p.Assessment.Warnings,
		}
	}

	weight, notional, sizeReason := g.sizeLocked(p)
	if sizeReason != "" {
		g.states[p.Symbol] = StateRejected
		g.mu.Unlock()
		observ.RecordGateBlock("order_value")
		observ.RecordDecision(p.Symbol, "rejected")
		return Decision{
			Symbol:     p.Symbol,
			Reason:     sizeReason,
			Confidence: p.Forecast.Confidence,
			RiskScore:  p.Assessment.RiskScore,
			Warnings:   p.Assessment.Warnings,
		}
	}

	g.states[p.Symbol] = StateExecuting
	g.mu.Unlock()

	trade, err := g.submit(ctx, p, notional, now)
	if err != nil {
		g.mu.Lock()
		g.states[p.Symbol] = StateRejected
		g.mu.Unlock()
		observ.RecordOrder(p.Symbol, "failed")
		observ.RecordDecision(p.Symbol, "rejected")
		observ.Error("order_submission_failed", err, map[string]any{"symbol": p.Symbol})
		return Decision{
			Symbol:     p.Symbol,
			Reason:     fmt.Sprintf("Order submission failed: %v", err),
			Confidence: p.Forecast.Confidence,
			RiskScore:  p.Assessment.RiskScore,
			Warnings:   p.Assessment.Warnings,
		}
	}

	g.mu.Lock()
	g.states[p.Symbol] = StateExecuted
	g.counters.RecordTrade(now)
	g.cooldown.Record(p.Symbol, now)
	g.appendHistoryLocked(*trade)
	g.mu.Unlock()

	observ.RecordOrder(p.Symbol, "filled")
	observ.RecordDecision(p.Symbol, "executed")
	observ.Log("trade_executed", map[string]any{
		"symbol": p.Symbol, "side": trade.Side, "notional": notional,
		"order_id": trade.OrderID, "confidence": p.Forecast.Confidence,
	})

	return Decision{
		Symbol:        p.Symbol,
		ShouldExecute: true,
		PositionSize:  weight,
		NotionalUSD:   notional,
		Reason:        "All gates passed",
		Confidence:    p.Forecast.Confidence,
		RiskScore:     p.Assessment.RiskScore,
		Priority:      g.priority(p.Forecast.Confidence),
		Warnings:      p.Assessment.Warnings,
		Trade:         trade,
	}
}

// checkGatesLocked evaluates the nine gates in order and returns the first
// failure's reason and gate label.
func (g *Gateway) checkGatesLocked(p Proposal, now time.Time) (string, string) {
	// Risk ceilings evaluated upstream are terminal here too.
	if !p.Assessment.Approved {
		reason := "Risk validator rejected the trade"
		if len(p.Assessment.Restrictions) > 0 {
			reason = "Risk validator: " + p.Assessment.Restrictions[0]
		}
		return reason, "risk_validator"
	}

	// (1) Confidence against the self-tuned minimum.
	eff := g.effectiveMinLocked()
	if p.Forecast.Confidence < eff {
		return fmt.Sprintf("Confidence %.2f below minimum threshold %.2f",
			p.Forecast.Confidence, eff), "confidence"
	}

	// (2) Trading session.
	if !g.sessionAllowed(p.Symbol, now) {
		return "Outside allowed trading session", "session"
	}

	// (3) Daily trade cap.
	if g.counters.Trades(now) >= g.cfg.MaxDailyTrades {
		return fmt.Sprintf("Daily trade cap reached (%d)", g.cfg.MaxDailyTrades), "daily_trades"
	}

	// (4) Daily loss circuit breaker: session-scoped, not per-trade.
	if g.counters.Tripped(now) {
		return "Daily loss limit: execution disabled until next session", "circuit_breaker"
	}
	if p.Account.Equity > 0 {
		ceiling := g.cfg.MaxDailyLossPct * p.Account.Equity
		if pnl := g.counters.RealizedPnL(now); pnl <= -ceiling {
			g.counters.Trip(now)
			return fmt.Sprintf("Daily loss limit breached (%.2f); execution disabled until next session", pnl),
				"circuit_breaker"
		}
	}

	// (5) Open position cap.
	if len(p.Positions) >= g.cfg.MaxOpenPositions {
		return fmt.Sprintf("Max open positions reached (%d)", g.cfg.MaxOpenPositions), "open_positions"
	}

	// (6) Per-symbol cooldown.
	if remaining := g.cooldown.Remaining(p.Symbol, now); remaining > 0 {
		return fmt.Sprintf("Cooldown active for %s: %s remaining",
			p.Symbol, remaining.Round(time.Second)), "cooldown"
	}

	// (7) Liquidity floor.
	if p.AvgVolume < g.cfg.MinAvgVolume {
		return fmt.Sprintf("Average volume %.0f below threshold %.0f",
			p.AvgVolume, g.cfg.MinAvgVolume), "volume"
	}

	// (8) Spread ceiling, wider for round-the-clock instruments.
	limit := g.cfg.MaxSpreadPct
	if g.isRoundTheClock(p.Symbol) {
		limit = g.cfg.RoundTheClockSpreadPct
	}
	if spread := p.Quote.SpreadPct(); spread > limit {
		return fmt.Sprintf("Spread %.4f above limit %.4f", spread, limit), "spread"
	}

	// (9) No pyramiding into an existing same-direction position.
	dir := p.Forecast.Direction
	for _, pos := range p.Positions {
		if pos.Symbol != p.Symbol {
			continue
		}
		if (dir == forecast.Up && pos.Side == "long") ||
			(dir == forecast.Down && pos.Side == "short") {
			return "Existing position in same direction", "same_direction"
		}
	}

	return "", ""
}

// sizeLocked computes the execution-layer position size. It deliberately does
// not reuse the risk layer's number as-is: the risk size is the base, and this
// layer stacks execution-specific adjustments (confidence curve, quality
// blend, portfolio-health multiplier, tier bonuses) on top, then clamps the
// notional to the order-value window.
func (g *Gateway) sizeLocked(p Proposal) (weight, notional float64, reason string) {
	base := p.Assessment.Sizing.RecommendedSize
	if base <= 0 {
		base = g.cfg.BaseWeight
	}

	confFactor := math.Pow(p.Forecast.Confidence, g.cfg.ConfidenceExponent)
	quality := p.Quality
	if quality <= 0 {
		quality = 0.5
	}
	health := clamp(p.PortfolioHealth, 0, 1)
	if p.PortfolioHealth == 0 {
		health = 1
	}

	weight = base *
		(0.6 + 0.8*confFactor) * // confidence curve
		(0.75 + 0.5*quality) * // learning quality blend
		(0.5 + 0.5*health) * // portfolio-health multiplier
		g.sizeMult

	switch {
	case p.Forecast.Confidence >= g.cfg.AggressiveConfidence:
		weight *= 1.2
	case p.Forecast.Confidence >= g.cfg.ConservativeConfidence:
		weight *= 1.1
	}

	weight = clamp(weight, g.cfg.MinWeight, g.cfg.MaxWeight)

	notional = weight * p.Account.Equity
	maxNotional := math.Min(g.cfg.MaxOrderValueUSD, p.Account.BuyingPower*(1-g.cfg.BuyingPowerBuffer))
	if notional > maxNotional {
		notional = maxNotional
	}
	if notional < g.cfg.MinOrderValueUSD {
		return 0, 0, fmt.Sprintf("Order value %.2f below minimum %.2f",
			notional, g.cfg.MinOrderValueUSD)
	}
	if p.Account.Equity > 0 {
		weight = notional / p.Account.Equity
	}
	// The notional clamp can shrink the weight back under the floor when
	// buying power is nearly exhausted; an executed trade must never carry a
	// sub-floor weight.
	if weight < g.cfg.MinWeight {
		return 0, 0, fmt.Sprintf("Position weight %.4f below minimum %.4f",
			weight, g.cfg.MinWeight)
	}
	return weight, notional, ""
}

// submit places the market entry and attaches protective orders on fill.
// Protective order failures are logged, not fatal: the entry already exists.
func (g *Gateway) submit(ctx context.Context, p Proposal, notional float64, now time.Time) (*TradeExecution, error) {
	side := "buy"
	exitSide := "sell"
	if p.Forecast.Direction == forecast.Down {
		side, exitSide = "sell", "buy"
	}

	start := time.Now()
	res, err := g.broker.CreateOrder(ctx, broker.OrderRequest{
		Symbol:        p.Symbol,
		Side:          side,
		Type:          "market",
		NotionalUSD:   notional,
		TimeInForce:   "day",
		ClientOrderID: fmt.Sprintf("qp-%s-%d", p.Symbol, now.UnixNano()),
	})
	if err != nil {
		return nil, err
	}
	latency := time.Since(start)

	if res.Status == "filled" && res.FilledQty > 0 {
		stop := p.Assessment.Sizing.StopLoss
		target := p.Assessment.Sizing.TakeProfit
		if stop > 0 {
			if _, err := g.broker.CreateOrder(ctx, broker.OrderRequest{
				Symbol:      p.Symbol,
				Side:        exitSide,
				Type:        "stop",
				Quantity:    res.FilledQty,
				StopPrice:   stop,
				TimeInForce: "gtc",
			}); err != nil {
				observ.Error("stop_order_failed", err, map[string]any{"symbol": p.Symbol})
			}
		}
		if target > 0 {
			if _, err := g.broker.CreateOrder(ctx, broker.OrderRequest{
				Symbol:      p.Symbol,
				Side:        exitSide,
				Type:        "limit",
				Quantity:    res.FilledQty,
				LimitPrice:  target,
				TimeInForce: "gtc",
			}); err != nil {
				observ.Error("take_profit_order_failed", err, map[string]any{"symbol": p.Symbol})
			}
		}
	}

	slippage := 0.0
	if mid := p.Quote.Mid(); mid > 0 && res.FilledPrice > 0 {
		slippage = (res.FilledPrice - mid) / mid
	}

	return &TradeExecution{
		Symbol:      p.Symbol,
		Side:        side,
		Quantity:    res.FilledQty,
		Price:       res.FilledPrice,
		OrderID:     res.ID,
		Timestamp:   now,
		Confidence:  p.Forecast.Confidence,
		LatencyMs:   latency.Milliseconds(),
		SlippagePct: slippage,
	}, nil
}

func (g *Gateway) appendHistoryLocked(t TradeExecution) {
	g.history[g.historyIdx] = t
	g.historyIdx = (g.historyIdx + 1) % len(g.history)
	if g.historyLen < len(g.history) {
		g.historyLen++
	}
}

func (g *Gateway) priority(confidence float64) int {
	switch {
	case confidence >= g.cfg.MaximumConfidence:
		return 3
	case confidence >= g.cfg.AggressiveConfidence:
		return 2
	default:
		return 1
	}
}

// sessionAllowed applies the market-hours rule with carve-outs: round-the-clock
// instruments always trade, weekend-enabled instruments trade on weekends, and
// everything else is restricted to regular US hours when MarketHoursOnly is set.
func (g *Gateway) sessionAllowed(symbol string, now time.Time) bool {
	if !g.cfg.MarketHoursOnly || g.isRoundTheClock(symbol) {
		return true
	}
	u := now.UTC()
	wd := u.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return g.isWeekendEnabled(symbol)
	}
	// Regular session 13:30-20:00 UTC (9:30-16:00 ET).
	mins := u.Hour()*60 + u.Minute()
	return mins >= 13*60+30 && mins < 20*60
}

func (g *Gateway) isRoundTheClock(symbol string) bool {
	return containsSymbol(g.cfg.RoundTheClockSymbols, symbol)
}

func (g *Gateway) isWeekendEnabled(symbol string) bool {
	return g.isRoundTheClock(symbol) || containsSymbol(g.cfg.WeekendSymbols, symbol)
}

func containsSymbol(list []string, symbol string) bool {
	for _, s := range list {
		if s == symbol {
			return true
		}
	}
	return false
}

// accuracyWindow is a bounded ring of recent prediction outcomes.
type accuracyWindow struct {
	mu      sync.Mutex
	results []bool
	idx     int
	count   int
}

func newAccuracyWindow(size int) *accuracyWindow {
	return &accuracyWindow{results: make([]bool, size)}
}

func (w *accuracyWindow) record(correct bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.results[w.idx] = correct
	w.idx = (w.idx + 1) % len(w.results)
	if w.count < len(w.results) {
		w.count++
	}
}

func (w *accuracyWindow) rate() (float64, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.count == 0 {
		return 0.5, 0
	}
	hits := 0
	for i := 0; i < w.count; i++ {
		if w.results[i] {
			hits++
		}
	}
	return float64(hits) / float64(w.count), w.count
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
