package marketdata

import (
	"sync"
)

// series is a fixed-capacity ring buffer of bars. The arena is allocated once;
// appends past capacity overwrite the oldest entry.
type series struct {
	arena []Bar
	head  int // index of oldest bar
	count int
}

func newSeries(capacity int) *series {
	return &series{arena: make([]Bar, capacity)}
}

func (s *series) append(b Bar) {
	if s.count < len(s.arena) {
		s.arena[(s.head+s.count)%len(s.arena)] = b
		s.count++
		return
	}
	s.arena[s.head] = b
	s.head = (s.head + 1) % len(s.arena)
}

func (s *series) window() []Bar {
	out := make([]Bar, s.count)
	for i := 0; i < s.count; i++ {
		out[i] = s.arena[(s.head+i)%len(s.arena)]
	}
	return out
}

// Cache is the rolling in-memory market-data cache shared between the refresh
// task (writer) and the decision cycle (reader). All access is mutex-guarded.
type Cache struct {
	mu       sync.RWMutex
	capacity int
	bySymbol map[string]*series
}

// NewCache creates a cache holding at most capacity bars per symbol.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 200
	}
	return &Cache{
		capacity: capacity,
		bySymbol: make(map[string]*series),
	}
}

// Append adds a bar to the symbol's rolling window, evicting the oldest bar
// once the window is full. Out-of-order bars older than the newest held bar
// are dropped.
func (c *Cache) Append(b Bar) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.bySymbol[b.Symbol]
	if !ok {
		s = newSeries(c.capacity)
		c.bySymbol[b.Symbol] = s
	}
	if s.count > 0 {
		last := s.arena[(s.head+s.count-1)%len(s.arena)]
		if !b.Timestamp.After(last.Timestamp) {
			return
		}
	}
	s.append(b)
}

// Replace swaps the symbol's entire window for the given bars (refresh path).
// Bars beyond the cache capacity are dropped from the front.
func (c *Cache) Replace(symbol string, bars []Bar) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := newSeries(c.capacity)
	for _, b := range bars {
		s.append(b)
	}
	c.bySymbol[symbol] = s
}

// Window returns a chronological copy of the symbol's bars.
func (c *Cache) Window(symbol string) []Bar {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.bySymbol[symbol]
	if !ok {
		return nil
	}
	return s.window()
}

// Last returns the newest bar for the symbol.
func (c *Cache) Last(symbol string) (Bar, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.bySymbol[symbol]
	if !ok || s.count == 0 {
		return Bar{}, false
	}
	return s.arena[(s.head+s.count-1)%len(s.arena)], true
}

// Len returns the number of bars held for the symbol.
func (c *Cache) Len(symbol string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.bySymbol[symbol]
	if !ok {
		return 0
	}
	return s.count
}

// Symbols lists the symbols currently held.
func (c *Cache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.bySymbol))
	for sym := range c.bySymbol {
		out = append(out, sym)
	}
	return out
}
