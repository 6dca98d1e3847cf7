package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quantpulse/trading-engine/internal/marketdata"
)

// ErrBadPayload marks a brokerage response that failed boundary validation.
// Callers treat it like any other transient failure: the symbol's decision is
// dropped for the cycle, nothing propagates.
var ErrBadPayload = errors.New("brokerage payload failed validation")

// Account is the brokerage account snapshot.
type Account struct {
	Equity      float64 `json:"equity"`
	Cash        float64 `json:"cash"`
	BuyingPower float64 `json:"buying_power"`
}

// Position is an open brokerage position.
type Position struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"qty"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPnL float64 `json:"unrealized_pl"`
	Side          string  `json:"side"` // "long" | "short"
}

// Quote is the latest top-of-book for a symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Timestamp time.Time `json:"timestamp"`
}

// Mid returns the quote midpoint, falling back to whichever side is present.
func (q Quote) Mid() float64 {
	switch {
	case q.Bid > 0 && q.Ask > 0:
		return (q.Bid + q.Ask) / 2
	case q.Ask > 0:
		return q.Ask
	default:
		return q.Bid
	}
}

// SpreadPct returns the relative bid/ask spread.
func (q Quote) SpreadPct() float64 {
	mid := q.Mid()
	if mid <= 0 || q.Bid <= 0 || q.Ask <= 0 {
		return 0
	}
	return (q.Ask - q.Bid) / mid
}

// OrderRequest describes an order to submit. Market entries are sized by
// notional; protective stop and limit orders carry explicit prices.
type OrderRequest struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"` // "buy" | "sell"
	Type          string  `json:"type"` // "market" | "stop" | "limit"
	NotionalUSD   float64 `json:"notional,omitempty"`
	Quantity      float64 `json:"qty,omitempty"`
	LimitPrice    float64 `json:"limit_price,omitempty"`
	StopPrice     float64 `json:"stop_price,omitempty"`
	TimeInForce   string  `json:"time_in_force"`
	ClientOrderID string  `json:"client_order_id,omitempty"`
}

// OrderResult is the brokerage acknowledgement.
type OrderResult struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"` // "filled" | "accepted" | "rejected"
	FilledQty   float64 `json:"filled_qty"`
	FilledPrice float64 `json:"filled_avg_price"`
}

// Gateway is the brokerage contract the core consumes. Every call is a
// fallible network operation whose failure degrades gracefully at the caller.
type Gateway interface {
	GetAccount(ctx context.Context) (Account, error)
	GetPositions(ctx context.Context) ([]Position, error)
	CreateOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]marketdata.Bar, error)
	GetLatestQuote(ctx context.Context, symbol string) (Quote, error)
}

func validateAccount(a Account) error {
	if a.Equity < 0 || a.BuyingPower < 0 {
		return fmt.Errorf("%w: negative account fields equity=%.2f buying_power=%.2f",
			ErrBadPayload, a.Equity, a.BuyingPower)
	}
	return nil
}

func validatePosition(p Position) error {
	if strings.TrimSpace(p.Symbol) == "" {
		return fmt.Errorf("%w: position with empty symbol", ErrBadPayload)
	}
	if p.Side != "long" && p.Side != "short" {
		return fmt.Errorf("%w: position %s has side %q", ErrBadPayload, p.Symbol, p.Side)
	}
	return nil
}

func validateQuote(q Quote) error {
	if q.Bid <= 0 || q.Ask <= 0 {
		return fmt.Errorf("%w: non-positive quote bid=%.4f ask=%.4f", ErrBadPayload, q.Bid, q.Ask)
	}
	if q.Ask < q.Bid {
		return fmt.Errorf("%w: crossed quote bid=%.4f ask=%.4f", ErrBadPayload, q.Bid, q.Ask)
	}
	return nil
}

func validateBar(b marketdata.Bar) error {
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return fmt.Errorf("%w: non-positive OHLC for %s at %s", ErrBadPayload, b.Symbol, b.Timestamp)
	}
	if b.High < b.Low || b.Volume < 0 {
		return fmt.Errorf("%w: inconsistent bar for %s at %s", ErrBadPayload, b.Symbol, b.Timestamp)
	}
	return nil
}
