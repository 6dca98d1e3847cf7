package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDailyCountersRollOverAtUTCDayBoundary(t *testing.T) {
	c := NewDailyCounters()
	day1 := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)

	c.RecordTrade(day1)
	c.RecordTrade(day1.Add(time.Hour))
	c.AddRealizedPnL(-1200, day1.Add(2*time.Hour))

	assert.Equal(t, 2, c.Trades(day1.Add(3*time.Hour)))
	assert.Equal(t, -1200.0, c.RealizedPnL(day1.Add(3*time.Hour)))

	// 23:59 on day one still reads the same counters.
	late := time.Date(2025, 6, 2, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, 2, c.Trades(late))

	// Any accessor on day two observes a fresh day.
	day2 := time.Date(2025, 6, 3, 0, 1, 0, 0, time.UTC)
	assert.Equal(t, 0, c.Trades(day2))
	assert.Equal(t, 0.0, c.RealizedPnL(day2))
}

func TestDailyCountersResetIsIdempotent(t *testing.T) {
	c := NewDailyCounters()
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)

	c.RecordTrade(now)
	c.Reset(now)
	c.Reset(now.Add(time.Minute))
	assert.Equal(t, 1, c.Trades(now.Add(2*time.Minute)),
		"same-day resets must not clear counters")

	c.Reset(now.Add(24 * time.Hour))
	assert.Equal(t, 0, c.Trades(now.Add(24*time.Hour)))
}

func TestCircuitBreakerLatchesUntilNextDay(t *testing.T) {
	c := NewDailyCounters()
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)

	assert.False(t, c.Tripped(now))
	c.Trip(now)
	assert.True(t, c.Tripped(now.Add(8*time.Hour)))
	assert.False(t, c.Tripped(now.Add(24*time.Hour)))
}

func TestCooldownMapRemaining(t *testing.T) {
	cd := NewCooldownMap(5 * time.Minute)
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)

	assert.Zero(t, cd.Remaining("AAPL", now), "untracked symbol has no cooldown")

	cd.Record("AAPL", now)
	assert.Equal(t, 2*time.Minute, cd.Remaining("AAPL", now.Add(3*time.Minute)))
	assert.Zero(t, cd.Remaining("AAPL", now.Add(5*time.Minute)))
	assert.Zero(t, cd.Remaining("TSLA", now.Add(time.Minute)))
}
