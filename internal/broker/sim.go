package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/quantpulse/trading-engine/internal/marketdata"
)

// Sim is an in-memory brokerage used by tests and the replay binary. Orders
// fill immediately at the latest quote midpoint (or the submitted price for
// protective orders).
type Sim struct {
	mu        sync.Mutex
	account   Account
	positions map[string]Position
	bars      map[string][]marketdata.Bar
	quotes    map[string]Quote
	orders    []OrderRequest
	nextID    int

	// FailCreateOrder, when set, makes the next CreateOrder call fail with
	// this error once.
	FailCreateOrder error
}

func NewSim(account Account) *Sim {
	return &Sim{
		account:   account,
		positions: make(map[string]Position),
		bars:      make(map[string][]marketdata.Bar),
		quotes:    make(map[string]Quote),
	}
}

// SetBars installs the bar history served for a symbol.
func (s *Sim) SetBars(symbol string, bars []marketdata.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars[symbol] = bars
}

// SetQuote installs the latest quote for a symbol.
func (s *Sim) SetQuote(q Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[q.Symbol] = q
}

// SetPosition installs an open position.
func (s *Sim) SetPosition(p Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.Symbol] = p
}

// Orders returns every submitted order in submission sequence.
func (s *Sim) Orders() []OrderRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OrderRequest, len(s.orders))
	copy(out, s.orders)
	return out
}

func (s *Sim) GetAccount(context.Context) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account, nil
}

func (s *Sim) GetPositions(context.Context) ([]Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out, nil
}

func (s *Sim) CreateOrder(_ context.Context, req OrderRequest) (OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailCreateOrder != nil {
		err := s.FailCreateOrder
		s.FailCreateOrder = nil
		return OrderResult{}, err
	}

	s.orders = append(s.orders, req)
	s.nextID++

	price := req.LimitPrice
	if price == 0 {
		price = req.StopPrice
	}
	if q, ok := s.quotes[req.Symbol]; ok && price == 0 {
		price = q.Mid()
	}

	qty := req.Quantity
	if qty == 0 && price > 0 {
		qty = req.NotionalUSD / price
	}

	if req.Type == "market" {
		pos := s.positions[req.Symbol]
		pos.Symbol = req.Symbol
		if req.Side == "buy" {
			pos.Quantity += qty
			pos.Side = "long"
		} else {
			pos.Quantity -= qty
			pos.Side = "short"
		}
		pos.AvgEntryPrice = price
		if pos.Quantity == 0 {
			delete(s.positions, req.Symbol)
		} else {
			s.positions[req.Symbol] = pos
		}
	}

	return OrderResult{
		ID:          fmt.Sprintf("sim-%d", s.nextID),
		Status:      "filled",
		FilledQty:   qty,
		FilledPrice: price,
	}, nil
}

func (s *Sim) GetBars(_ context.Context, symbol, _ string, limit int) ([]marketdata.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bars := s.bars[symbol]
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	out := make([]marketdata.Bar, len(bars))
	copy(out, bars)
	return out, nil
}

func (s *Sim) GetLatestQuote(_ context.Context, symbol string) (Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[symbol]
	if !ok {
		return Quote{}, fmt.Errorf("sim: no quote for %s", symbol)
	}
	return q, nil
}

var _ Gateway = (*Sim)(nil)
