package engine

import (
	"context"
	"sync"
	"time"

	"github.com/quantpulse/trading-engine/internal/config"
	"github.com/quantpulse/trading-engine/internal/observ"
)

// Scheduler drives the engine's four periodic tasks on independent tickers:
// the decision cycle, the market-data refresh, the risk monitor, and the
// learning cycle. Each task runs in its own goroutine so a slow brokerage
// call in one never delays the others.
type Scheduler struct {
	engine *Engine
	cfg    config.Scheduler
}

func NewScheduler(e *Engine, cfg config.Scheduler) *Scheduler {
	return &Scheduler{engine: e, cfg: cfg}
}

// Run blocks until ctx is cancelled. The market data cache is primed once
// before the tickers start so the first decision cycle has bars to work with.
func (s *Scheduler) Run(ctx context.Context) {
	s.timed("refresh", func() { s.engine.RefreshMarketData(ctx) })

	var wg sync.WaitGroup
	tasks := []struct {
		name     string
		interval time.Duration
		run      func()
	}{
		{"decision", s.cfg.DecisionInterval, func() { s.engine.RunDecisionCycle(ctx, time.Now().UTC()) }},
		{"refresh", s.cfg.RefreshInterval, func() { s.engine.RefreshMarketData(ctx) }},
		{"risk", s.cfg.RiskInterval, func() { s.engine.RunRiskCycle(ctx, time.Now().UTC()) }},
		{"learning", s.cfg.LearningInterval, func() { s.engine.RunLearningCycle(time.Now().UTC()) }},
	}

	for _, task := range tasks {
		wg.Add(1)
		go func(name string, interval time.Duration, run func()) {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.timed(name, run)
				}
			}
		}(task.name, task.interval, task.run)
	}

	wg.Wait()
	observ.Log("scheduler_stopped", nil)
}

func (s *Scheduler) timed(task string, run func()) {
	start := time.Now()
	run()
	observ.ObserveCycle(task, time.Since(start).Seconds())
}
