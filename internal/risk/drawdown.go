package risk

import (
	"sync"
	"time"

	"github.com/quantpulse/trading-engine/internal/observ"
)

// DrawdownTracker follows peak and start-of-day equity so the validator can
// evaluate drawdown and daily-loss ceilings from one place. The risk monitor
// task feeds it; the decision cycle reads it.
type DrawdownTracker struct {
	mu            sync.Mutex
	peakEquity    float64
	startOfDayEq  float64
	currentEquity float64
	lastUpdate    time.Time
}

func NewDrawdownTracker() *DrawdownTracker {
	return &DrawdownTracker{}
}

// Update records the latest equity mark. Crossing a UTC day boundary rebases
// the start-of-day equity.
func (t *DrawdownTracker) Update(equity float64, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.startOfDayEq == 0 || isNewTradingDay(t.lastUpdate, now) {
		t.startOfDayEq = equity
	}
	if equity > t.peakEquity {
		t.peakEquity = equity
	}
	t.currentEquity = equity
	t.lastUpdate = now

	observ.SetDrawdownPct(t.drawdownLocked() * 100)
	observ.SetDailyPnL(equity - t.startOfDayEq)
}

// Drawdown returns the fraction lost from peak equity, 0 when at a new high.
func (t *DrawdownTracker) Drawdown() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.drawdownLocked()
}

// DayPnL returns equity change since the day's first mark.
func (t *DrawdownTracker) DayPnL() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startOfDayEq == 0 {
		return 0
	}
	return t.currentEquity - t.startOfDayEq
}

func (t *DrawdownTracker) drawdownLocked() float64 {
	if t.peakEquity <= 0 {
		return 0
	}
	dd := (t.peakEquity - t.currentEquity) / t.peakEquity
	if dd < 0 {
		return 0
	}
	return dd
}

func isNewTradingDay(last, current time.Time) bool {
	if last.IsZero() {
		return true
	}
	return last.UTC().Format("2006-01-02") != current.UTC().Format("2006-01-02")
}
