package execution

import (
	"sync"
	"time"

	"github.com/quantpulse/trading-engine/internal/observ"
)

// DailyCounters owns the gateway's per-day trade count, realized P&L, and the
// daily-loss circuit breaker flag. Every accessor rolls the day over first, so
// the scheduled reset and an in-flight decision cycle can race safely: the
// first caller to see the new date resets, later callers observe consistent
// zeroed state under the same mutex.
type DailyCounters struct {
	mu          sync.Mutex
	day         string // UTC date "2006-01-02"
	trades      int
	realizedPnL float64
	tripped     bool
}

func NewDailyCounters() *DailyCounters {
	return &DailyCounters{}
}

func (d *DailyCounters) rolloverLocked(now time.Time) {
	today := now.UTC().Format("2006-01-02")
	if d.day == today {
		return
	}
	if d.day != "" {
		observ.Log("daily_counters_reset", map[string]any{
			"previous_day": d.day, "trades": d.trades, "realized_pnl": d.realizedPnL,
		})
	}
	d.day = today
	d.trades = 0
	d.realizedPnL = 0
	d.tripped = false
	observ.SetCircuitOpen(false)
	observ.SetDailyPnL(0)
}

// Reset applies the scheduled day-boundary reset. Idempotent: calling it
// repeatedly within the same day is a no-op.
func (d *DailyCounters) Reset(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rolloverLocked(now)
}

// Trades returns today's executed trade count.
func (d *DailyCounters) Trades(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rolloverLocked(now)
	return d.trades
}

// RecordTrade increments today's trade count.
func (d *DailyCounters) RecordTrade(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rolloverLocked(now)
	d.trades++
}

// RealizedPnL returns today's realized P&L.
func (d *DailyCounters) RealizedPnL(now time.Time) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rolloverLocked(now)
	return d.realizedPnL
}

// AddRealizedPnL books a closed trade's P&L against today.
func (d *DailyCounters) AddRealizedPnL(pnl float64, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rolloverLocked(now)
	d.realizedPnL += pnl
	observ.SetDailyPnL(d.realizedPnL)
}

// Trip opens the daily-loss circuit breaker until the next day boundary.
func (d *DailyCounters) Trip(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rolloverLocked(now)
	if !d.tripped {
		observ.Log("circuit_breaker_tripped", map[string]any{
			"day": d.day, "realized_pnl": d.realizedPnL,
		})
	}
	d.tripped = true
	observ.SetCircuitOpen(true)
}

// Tripped reports whether execution is disabled for the rest of the day.
func (d *DailyCounters) Tripped(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rolloverLocked(now)
	return d.tripped
}
