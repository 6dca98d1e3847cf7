package broker

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantpulse/trading-engine/internal/marketdata"
	"github.com/quantpulse/trading-engine/internal/observ"
)

// BarStream consumes the brokerage's pushed bar feed over WebSocket and hands
// validated bars to a callback. It reconnects with capped backoff until the
// context is cancelled; the decision loop never depends on it being up, the
// polled GetBars path is the fallback.
type BarStream struct {
	url     string
	handler func(marketdata.Bar)

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewBarStream(url string, handler func(marketdata.Bar)) *BarStream {
	return &BarStream{url: url, handler: handler}
}

// Run blocks, reading bars until ctx is done.
func (s *BarStream) Run(ctx context.Context) {
	log := observ.Logger("barstream")
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
		if err != nil {
			log.Warn().Err(err).Str("url", s.url).Dur("retry_in", backoff).Msg("dial failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		log.Info().Str("url", s.url).Msg("connected")

		s.readLoop(ctx, conn)
		_ = conn.Close()
	}
}

func (s *BarStream) readLoop(ctx context.Context, conn *websocket.Conn) {
	log := observ.Logger("barstream")

	// Unblock ReadJSON when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		var bar marketdata.Bar
		if err := conn.ReadJSON(&bar); err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Msg("read failed, reconnecting")
			}
			return
		}
		if err := validateBar(bar); err != nil {
			log.Warn().Err(err).Msg("dropping invalid bar")
			continue
		}
		s.handler(bar)
	}
}

// Close tears down the current connection, if any.
func (s *BarStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
}
