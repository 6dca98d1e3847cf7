// Package stubs hosts a local stand-in for the brokerage gateway: a random-walk
// market with the same REST and WebSocket surface the live adapter consumes.
// It exists for end-to-end runs without credentials or market hours.
package stubs

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/quantpulse/trading-engine/internal/broker"
	"github.com/quantpulse/trading-engine/internal/marketdata"
	"github.com/quantpulse/trading-engine/internal/observ"
)

// GatewayServer simulates the brokerage: it keeps a random-walk price per
// symbol, an account mutated by fills, and pushes a bar per symbol over
// WebSocket every tick.
type GatewayServer struct {
	mu        sync.Mutex
	prices    map[string]float64
	bars      map[string][]marketdata.Bar
	positions map[string]broker.Position
	account   broker.Account
	nextOrder int
	rng       *rand.Rand

	e        *echo.Echo
	upgrader websocket.Upgrader
	clients  map[*websocket.Conn]bool
}

// NewGatewayServer seeds history for each symbol around its start price.
func NewGatewayServer(symbols []string, startEquity float64, seed int64) *GatewayServer {
	s := &GatewayServer{
		prices:    make(map[string]float64),
		bars:      make(map[string][]marketdata.Bar),
		positions: make(map[string]broker.Position),
		account: broker.Account{
			Equity:      startEquity,
			Cash:        startEquity,
			BuyingPower: startEquity * 2,
		},
		rng:      rand.New(rand.NewSource(seed)),
		clients:  make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}

	now := time.Now().UTC().Truncate(time.Hour)
	for _, sym := range symbols {
		price := 50 + s.rng.Float64()*200
		s.prices[sym] = price
		history := make([]marketdata.Bar, 0, 300)
		for i := 299; i >= 0; i-- {
			price = s.step(price)
			history = append(history, s.makeBar(sym, price, now.Add(-time.Duration(i)*time.Hour)))
		}
		s.prices[sym] = price
		s.bars[sym] = history
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.GET("/v2/account", s.getAccount)
	e.GET("/v2/positions", s.getPositions)
	e.POST("/v2/orders", s.createOrder)
	e.GET("/v2/bars", s.getBars)
	e.GET("/v2/quotes/:symbol/latest", s.getQuote)
	e.GET("/stream", s.stream)
	s.e = e
	return s
}

// Run serves HTTP and advances the market once a second until ctx is done.
func (s *GatewayServer) Run(ctx context.Context, addr string) error {
	go s.tickLoop(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.e.Shutdown(shutdownCtx)
	}()
	observ.Log("stub_gateway_started", map[string]any{"addr": addr})
	err := s.e.Start(addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *GatewayServer) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.advance(now.UTC())
		}
	}
}

// advance moves every price one random-walk step, appends a bar, and pushes it
// to stream subscribers.
func (s *GatewayServer) advance(now time.Time) {
	s.mu.Lock()
	var fresh []marketdata.Bar
	for sym, price := range s.prices {
		next := s.step(price)
		s.prices[sym] = next
		bar := s.makeBar(sym, next, now)
		s.bars[sym] = append(s.bars[sym], bar)
		if len(s.bars[sym]) > 600 {
			s.bars[sym] = s.bars[sym][len(s.bars[sym])-600:]
		}
		fresh = append(fresh, bar)
	}
	s.markAccountLocked()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		for _, bar := range fresh {
			if err := c.WriteJSON(bar); err != nil {
				s.dropClient(c)
				break
			}
		}
	}
}

func (s *GatewayServer) step(price float64) float64 {
	// Gentle drift with 0.4% per-step noise.
	next := price * (1 + 0.0002 + s.rng.NormFloat64()*0.004)
	if next < 1 {
		next = 1
	}
	return next
}

func (s *GatewayServer) makeBar(symbol string, close float64, ts time.Time) marketdata.Bar {
	spread := close * 0.002
	return marketdata.Bar{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      close - spread*s.rng.Float64(),
		High:      close + spread,
		Low:       close - spread,
		Close:     close,
		Volume:    20000 + s.rng.Float64()*80000,
	}
}

func (s *GatewayServer) markAccountLocked() {
	equity := s.account.Cash
	for sym, pos := range s.positions {
		pos.MarketValue = pos.Quantity * s.prices[sym]
		pos.UnrealizedPnL = (s.prices[sym] - pos.AvgEntryPrice) * pos.Quantity
		s.positions[sym] = pos
		equity += pos.MarketValue
	}
	s.account.Equity = equity
	s.account.BuyingPower = equity * 2
}

func (s *GatewayServer) getAccount(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return c.JSON(http.StatusOK, s.account)
}

func (s *GatewayServer) getPositions(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]broker.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *GatewayServer) createOrder(c echo.Context) error {
	var req broker.OrderRequest
	dec := json.NewDecoder(c.Request().Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.prices[req.Symbol]
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown symbol " + req.Symbol})
	}

	s.nextOrder++
	id := "stub-" + strconv.Itoa(s.nextOrder)

	// Protective orders are acknowledged, not tracked: the stub market has no
	// matching engine to trigger them.
	if req.Type != "market" {
		return c.JSON(http.StatusOK, broker.OrderResult{ID: id, Status: "accepted"})
	}

	qty := req.Quantity
	if qty == 0 && price > 0 {
		qty = req.NotionalUSD / price
	}

	pos := s.positions[req.Symbol]
	pos.Symbol = req.Symbol
	if req.Side == "buy" {
		pos.Quantity += qty
		s.account.Cash -= qty * price
	} else {
		pos.Quantity -= qty
		s.account.Cash += qty * price
	}
	switch {
	case pos.Quantity > 0:
		pos.Side = "long"
	case pos.Quantity < 0:
		pos.Side = "short"
	}
	pos.AvgEntryPrice = price
	if pos.Quantity == 0 {
		delete(s.positions, req.Symbol)
	} else {
		s.positions[req.Symbol] = pos
	}
	s.markAccountLocked()

	return c.JSON(http.StatusOK, broker.OrderResult{
		ID:          id,
		Status:      "filled",
		FilledQty:   qty,
		FilledPrice: price,
	})
}

func (s *GatewayServer) getBars(c echo.Context) error {
	symbol := c.QueryParam("symbol")
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	s.mu.Lock()
	bars := s.bars[symbol]
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	out := make([]marketdata.Bar, len(bars))
	copy(out, bars)
	s.mu.Unlock()

	return c.JSON(http.StatusOK, out)
}

func (s *GatewayServer) getQuote(c echo.Context) error {
	symbol := strings.ToUpper(c.Param("symbol"))

	s.mu.Lock()
	price, ok := s.prices[symbol]
	s.mu.Unlock()
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown symbol " + symbol})
	}

	half := price * 0.0005
	return c.JSON(http.StatusOK, broker.Quote{
		Symbol:    symbol,
		Bid:       price - half,
		Ask:       price + half,
		Timestamp: time.Now().UTC(),
	})
}

func (s *GatewayServer) stream(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()

	// Reads are discarded; the socket exists to detect the peer going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.dropClient(conn)
				return
			}
		}
	}()
	return nil
}

func (s *GatewayServer) dropClient(conn *websocket.Conn) {
	s.mu.Lock()
	if s.clients[conn] {
		delete(s.clients, conn)
		_ = conn.Close()
	}
	s.mu.Unlock()
}
