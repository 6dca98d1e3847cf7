package engine

import (
	"context"
	"sync"
	"time"

	"github.com/quantpulse/trading-engine/internal/broker"
	"github.com/quantpulse/trading-engine/internal/config"
	"github.com/quantpulse/trading-engine/internal/execution"
	"github.com/quantpulse/trading-engine/internal/features"
	"github.com/quantpulse/trading-engine/internal/forecast"
	"github.com/quantpulse/trading-engine/internal/learning"
	"github.com/quantpulse/trading-engine/internal/marketdata"
	"github.com/quantpulse/trading-engine/internal/observ"
	"github.com/quantpulse/trading-engine/internal/outcome"
	"github.com/quantpulse/trading-engine/internal/regime"
	"github.com/quantpulse/trading-engine/internal/risk"
	"github.com/quantpulse/trading-engine/internal/sentiment"
)

// openTrade is the engine's record of a live position awaiting its outcome.
type openTrade struct {
	trade      execution.TradeExecution
	direction  forecast.Direction
	state      learning.State
	action     learning.Action
	size       float64
	volatility float64
	regime     regime.Regime
	openedAt   time.Time
}

// Engine wires the full decision pipeline: market data in, orders out,
// outcomes back into the learning loop. The scheduler drives it; the engine
// itself owns no timers.
type Engine struct {
	cfg config.Root

	cache      *marketdata.Cache
	classifier *regime.Classifier
	ensemble   *forecast.Ensemble
	validator  *risk.Validator
	drawdown   *risk.DrawdownTracker
	gateway    *execution.Gateway
	brokerGW   broker.Gateway
	sentiment  sentiment.Provider
	agent      *learning.Agent
	tracker    *learning.OutcomeTracker
	sessions   *SessionManager

	mu         sync.Mutex
	openTrades map[string]*openTrade
}

// New assembles an engine from configuration and the external collaborators.
// store may be nil to skip outcome persistence.
func New(cfg config.Root, gw broker.Gateway, sp sentiment.Provider, store outcome.Store) *Engine {
	if sp == nil {
		sp = sentiment.NewStatic(nil)
	}
	return &Engine{
		cfg:        cfg,
		cache:      marketdata.NewCache(cfg.BarWindow),
		classifier: regime.NewClassifier(),
		ensemble:   forecast.NewEnsemble(forecast.DefaultModels()),
		validator: risk.NewValidator(risk.Config{
			MaxDailyLossPct:   cfg.Risk.MaxDailyLossPct,
			MaxDrawdownPct:    cfg.Risk.MaxDrawdownPct,
			MaxRiskPerTrade:   cfg.Risk.MaxRiskPerTrade,
			MaxPortfolioRisk:  cfg.Risk.MaxPortfolioRisk,
			MinRewardRisk:     cfg.Risk.MinRewardRisk,
			KellyCap:          cfg.Risk.KellyCap,
			MaxPositionWeight: cfg.Sizing.MaxWeight,
			HighVolatility:    cfg.Risk.HighVolatility,
			LowConfidence:     cfg.Risk.LowConfidence,
		}),
		drawdown: risk.NewDrawdownTracker(),
		gateway: execution.NewGateway(execution.Config{
			MinConfidence:          cfg.Thresholds.Minimum,
			ConservativeConfidence: cfg.Thresholds.Conservative,
			AggressiveConfidence:   cfg.Thresholds.Aggressive,
			MaximumConfidence:      cfg.Thresholds.Maximum,
			MaxDailyTrades:         cfg.Execution.MaxDailyTrades,
			MaxOpenPositions:       cfg.Execution.MaxOpenPositions,
			Cooldown:               time.Duration(cfg.Execution.CooldownMinutes) * time.Minute,
			MaxDailyLossPct:        cfg.Risk.MaxDailyLossPct,
			MarketHoursOnly:        cfg.Execution.MarketHoursOnly,
			WeekendSymbols:         cfg.Execution.WeekendSymbols,
			RoundTheClockSymbols:   cfg.Execution.RoundTheClockSymbols,
			MinAvgVolume:           cfg.Execution.MinAvgVolume,
			MaxSpreadPct:           cfg.Execution.MaxSpreadPct,
			RoundTheClockSpreadPct: cfg.Execution.RoundTheClockSpreadPct,
			BaseWeight:             cfg.Sizing.BaseWeight,
			MaxWeight:              cfg.Sizing.MaxWeight,
			MinWeight:              cfg.Sizing.MinWeight,
			ConfidenceExponent:     cfg.Sizing.ConfidenceExponent,
			MinOrderValueUSD:       cfg.Sizing.MinOrderValueUSD,
			MaxOrderValueUSD:       cfg.Sizing.MaxOrderValueUSD,
			BuyingPowerBuffer:      cfg.Sizing.BuyingPowerBuffer,
			TradeHistoryCap:        cfg.Execution.TradeHistoryCap,
		}, gw),
		brokerGW: gw,
		agent: learning.NewAgent(learning.Config{
			Alpha:             cfg.Learning.Alpha,
			Gamma:             cfg.Learning.Gamma,
			Epsilon:           cfg.Learning.Epsilon,
			EpsilonDecay:      cfg.Learning.EpsilonDecay,
			EpsilonMin:        cfg.Learning.EpsilonMin,
			EpisodeHistoryCap: cfg.Learning.EpisodeHistoryCap,
		}),
		tracker:    learning.NewOutcomeTracker(cfg.Learning.OutcomeHistoryCap, store),
		sentiment:  sp,
		sessions:   NewSessionManager(),
		openTrades: make(map[string]*openTrade),
	}
}

// Cache exposes the market-data cache for the refresh task and replay feeds.
func (e *Engine) Cache() *marketdata.Cache { return e.cache }

// Sessions exposes the session manager.
func (e *Engine) Sessions() *SessionManager { return e.sessions }

// Gateway exposes the execution gateway.
func (e *Engine) Gateway() *execution.Gateway { return e.gateway }

// Agent exposes the Q-learning agent.
func (e *Engine) Agent() *learning.Agent { return e.agent }

// RefreshMarketData pulls fresh bar windows for every configured symbol.
// Per-symbol failures are logged and skipped.
func (e *Engine) RefreshMarketData(ctx context.Context) {
	for _, sym := range e.cfg.Symbols {
		bars, err := e.brokerGW.GetBars(ctx, sym, "1Hour", e.cfg.BarWindow)
		if err != nil {
			observ.Warn("bar_refresh_failed", map[string]any{"symbol": sym, "error": err.Error()})
			continue
		}
		e.cache.Replace(sym, bars)
		observ.SetCacheDepth(sym, e.cache.Len(sym))
	}
}

// RunDecisionCycle evaluates every configured symbol independently. One
// symbol's failure never touches another's evaluation.
func (e *Engine) RunDecisionCycle(ctx context.Context, now time.Time) []execution.Decision {
	if _, ok := e.sessions.Active(); !ok {
		e.sessions.Start(now)
	}

	account, err := e.brokerGW.GetAccount(ctx)
	if err != nil {
		observ.Error("account_fetch_failed", err, nil)
		return nil
	}
	positions, err := e.brokerGW.GetPositions(ctx)
	if err != nil {
		observ.Error("positions_fetch_failed", err, nil)
		return nil
	}
	e.drawdown.Update(account.Equity, now)

	var (
		wg        sync.WaitGroup
		decMu     sync.Mutex
		decisions []execution.Decision
	)
	for _, sym := range e.cfg.Symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			d, err := e.evaluateSymbol(ctx, symbol, account, positions, now)
			if err != nil {
				observ.Warn("symbol_evaluation_skipped", map[string]any{
					"symbol": symbol, "error": err.Error(),
				})
				observ.RecordDecision(symbol, "skipped")
				return
			}
			decMu.Lock()
			decisions = append(decisions, d)
			decMu.Unlock()
		}(sym)
	}
	wg.Wait()
	return decisions
}

func (e *Engine) evaluateSymbol(ctx context.Context, symbol string, account broker.Account, positions []broker.Position, now time.Time) (execution.Decision, error) {
	bars := e.cache.Window(symbol)

	score, err := e.sentiment.GetScore(ctx, symbol)
	if err != nil {
		score = 0 // absence is neutral
	}

	vec, err := features.Extract(bars, score, now)
	if err != nil {
		return execution.Decision{}, err
	}

	sig := e.classifier.Classify(bars, now)
	fc := e.ensemble.Predict(vec)

	state := learning.Discretize(vec, sig.Regime, e.unrealizedPnLPct(symbol, vec.Price), now)

	if fc.Direction == forecast.Sideways {
		// A deliberate HOLD is still a step the agent learns from: a large
		// move it sat out becomes an opportunity cost at outcome time.
		e.agent.RecordStep(state, learning.BucketAction("HOLD", 0, fc.Confidence),
			-learning.OpportunityCost(true, vec.Momentum))
		return execution.Decision{
			Symbol:     symbol,
			Reason:     "No directional edge",
			Confidence: fc.Confidence,
		}, nil
	}

	snap := risk.Snapshot{
		TotalValue:    account.Equity,
		Cash:          account.Cash,
		BuyingPower:   account.BuyingPower,
		DayPnL:        e.drawdown.DayPnL(),
		Drawdown:      e.drawdown.Drawdown(),
		OpenRisk:      e.openRisk(positions, account.Equity),
		PositionCount: len(positions),
	}
	assessment := e.validator.Validate(fc, snap, vec)

	quote, err := e.brokerGW.GetLatestQuote(ctx, symbol)
	if err != nil {
		return execution.Decision{}, err
	}

	decision := e.gateway.EvaluateAndExecute(ctx, execution.Proposal{
		Symbol:          symbol,
		Forecast:        fc,
		Features:        vec,
		Assessment:      assessment,
		Quote:           quote,
		AvgVolume:       avgVolume(bars),
		Account:         account,
		Positions:       positions,
		PortfolioHealth: e.portfolioHealth(snap),
		Quality:         e.tracker.QualityScore(symbol),
		Now:             now,
	})

	if decision.ShouldExecute && decision.Trade != nil {
		e.sessions.RecordTrade()
		action := learning.BucketAction(string(fc.Direction), decision.PositionSize, fc.Confidence)
		e.agent.RecordStep(state, action, 0) // reward arrives when the trade closes
		e.mu.Lock()
		e.openTrades[symbol] = &openTrade{
			trade:      *decision.Trade,
			direction:  fc.Direction,
			state:      state,
			action:     action,
			size:       decision.PositionSize,
			volatility: vec.Volatility,
			regime:     sig.Regime,
			openedAt:   now,
		}
		e.mu.Unlock()
	}
	return decision, nil
}

// RunRiskCycle refreshes the equity mark and settles any trades the brokerage
// reports as closed.
func (e *Engine) RunRiskCycle(ctx context.Context, now time.Time) {
	account, err := e.brokerGW.GetAccount(ctx)
	if err != nil {
		observ.Warn("risk_cycle_account_failed", map[string]any{"error": err.Error()})
		return
	}
	e.drawdown.Update(account.Equity, now)
	e.sessions.ObserveDrawdown(e.drawdown.Drawdown())
	e.gateway.Counters().Reset(now)

	positions, err := e.brokerGW.GetPositions(ctx)
	if err != nil {
		observ.Warn("risk_cycle_positions_failed", map[string]any{"error": err.Error()})
		return
	}
	e.settleClosedTrades(ctx, positions, now)
}

// settleClosedTrades compares tracked open trades against the brokerage's
// position list; anything no longer open gets its outcome booked.
func (e *Engine) settleClosedTrades(ctx context.Context, positions []broker.Position, now time.Time) {
	open := make(map[string]bool, len(positions))
	for _, p := range positions {
		open[p.Symbol] = true
	}

	e.mu.Lock()
	var closed []*openTrade
	for sym, ot := range e.openTrades {
		if !open[sym] {
			closed = append(closed, ot)
			delete(e.openTrades, sym)
		}
	}
	e.mu.Unlock()

	for _, ot := range closed {
		e.bookOutcome(ctx, ot, now)
	}
}

func (e *Engine) bookOutcome(ctx context.Context, ot *openTrade, now time.Time) {
	exitPrice := ot.trade.Price
	if q, err := e.brokerGW.GetLatestQuote(ctx, ot.trade.Symbol); err == nil {
		exitPrice = q.Mid()
	}

	movePct := 0.0
	if ot.trade.Price > 0 {
		movePct = (exitPrice - ot.trade.Price) / ot.trade.Price
	}
	pnl := (exitPrice - ot.trade.Price) * ot.trade.Quantity
	if ot.direction == forecast.Down {
		pnl = -pnl
	}
	pnlPct := movePct * ot.direction.Sign()
	correct := pnlPct > 0
	holdingHours := now.Sub(ot.openedAt).Hours()

	e.gateway.Counters().AddRealizedPnL(pnl, now)
	e.gateway.RecordPredictionOutcome(correct)
	e.sessions.RecordOutcome(pnl, correct)

	reward := learning.TradeReward(ot.direction.Sign(), movePct, ot.trade.Confidence,
		pnlPct, holdingHours, ot.size, ot.volatility)
	e.agent.RecordStep(ot.state, ot.action, reward)

	e.tracker.Record(ctx, outcome.TradeOutcome{
		Symbol:       ot.trade.Symbol,
		Side:         ot.trade.Side,
		EntryPrice:   ot.trade.Price,
		ExitPrice:    exitPrice,
		Quantity:     ot.trade.Quantity,
		PnL:          pnl,
		PnLPct:       pnlPct,
		Confidence:   ot.trade.Confidence,
		Correct:      correct,
		Regime:       string(ot.regime),
		Volatility:   ot.volatility,
		HoldingHours: holdingHours,
		OpenedAt:     ot.openedAt,
		ClosedAt:     now,
	})

	observ.Log("trade_settled", map[string]any{
		"symbol": ot.trade.Symbol, "pnl": pnl, "correct": correct,
		"holding_hours": holdingHours,
	})
}

// RunLearningCycle applies the tracker's tuning recommendation and, when the
// active session has crossed a UTC day boundary, finalizes it together with
// the agent's episode.
func (e *Engine) RunLearningCycle(now time.Time) {
	rec := e.tracker.Recommend()
	e.gateway.ApplyTuning(rec.MinConfidenceDelta, rec.SizeMultiplier)

	if s, ok := e.sessions.Active(); ok {
		if s.StartTime.UTC().Format("2006-01-02") != now.UTC().Format("2006-01-02") {
			e.finalizeSession(now)
		}
	}
}

// Stop closes the active session and finalizes its learning episode, so a
// shutdown mid-session still backpropagates every recorded step. Safe to call
// when no session is open.
func (e *Engine) Stop(now time.Time) (Session, bool) {
	return e.finalizeSession(now)
}

func (e *Engine) finalizeSession(now time.Time) (Session, bool) {
	ended, ok := e.sessions.End(now)
	if !ok {
		return Session{}, false
	}
	sum := e.agent.EndEpisode(ended.TotalPnL/e.cfg.CapitalBase, now)
	observ.Log("session_finalized", map[string]any{
		"session_id": ended.SessionID, "steps": sum.Steps,
		"convergence": e.agent.Convergence(),
	})
	return ended, true
}

// Status is the ops-endpoint snapshot.
func (e *Engine) Status() map[string]any {
	reg, conf := e.classifier.Current()
	status := map[string]any{
		"regime":            string(reg),
		"regime_confidence": conf,
		"convergence":       e.agent.Convergence(),
		"epsilon":           e.agent.Epsilon(),
		"drawdown":          e.drawdown.Drawdown(),
		"day_pnl":           e.drawdown.DayPnL(),
		"symbols":           e.cfg.Symbols,
	}
	if s, ok := e.sessions.Active(); ok {
		status["session"] = s
	}
	e.mu.Lock()
	status["open_trades"] = len(e.openTrades)
	e.mu.Unlock()
	return status
}

func (e *Engine) unrealizedPnLPct(symbol string, price float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	ot, ok := e.openTrades[symbol]
	if !ok || ot.trade.Price <= 0 {
		return 0
	}
	return (price - ot.trade.Price) / ot.trade.Price * ot.direction.Sign()
}

// openRisk estimates committed portfolio risk as each open position risking
// the per-trade maximum of its exposure.
func (e *Engine) openRisk(positions []broker.Position, equity float64) float64 {
	if equity <= 0 {
		return 0
	}
	exposure := 0.0
	for _, p := range positions {
		v := p.MarketValue
		if v < 0 {
			v = -v
		}
		exposure += v
	}
	return exposure / equity * e.cfg.Risk.MaxRiskPerTrade
}

// portfolioHealth maps the current drawdown onto [0,1]: 1 at no drawdown,
// 0 at the configured ceiling.
func (e *Engine) portfolioHealth(snap risk.Snapshot) float64 {
	if e.cfg.Risk.MaxDrawdownPct <= 0 {
		return 1
	}
	h := 1 - snap.Drawdown/e.cfg.Risk.MaxDrawdownPct
	if h < 0 {
		return 0
	}
	if h > 1 {
		return 1
	}
	return h
}

func avgVolume(bars []marketdata.Bar) float64 {
	if len(bars) == 0 {
		return 0
	}
	total := 0.0
	for _, b := range bars {
		total += b.Volume
	}
	return total / float64(len(bars))
}
