package outcome

import (
	"context"
	"time"
)

// TradeOutcome is the append-only record of a completed round trip. The
// snapshot fields (regime, volatility, confidence) capture the conditions the
// decision was made under so the learning loop can retrain against them.
type TradeOutcome struct {
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"`
	EntryPrice   float64   `json:"entry_price"`
	ExitPrice    float64   `json:"exit_price"`
	Quantity     float64   `json:"quantity"`
	PnL          float64   `json:"pnl"`
	PnLPct       float64   `json:"pnl_pct"`
	Confidence   float64   `json:"confidence"`
	Correct      bool      `json:"correct"`
	Regime       string    `json:"regime"`
	Volatility   float64   `json:"volatility"`
	HoldingHours float64   `json:"holding_hours"`
	OpenedAt     time.Time `json:"opened_at"`
	ClosedAt     time.Time `json:"closed_at"`
}

// Store persists completed trade outcomes. Save is append-only; QueryRecent
// returns newest-first, optionally filtered by symbol (empty matches all).
type Store interface {
	Save(ctx context.Context, o TradeOutcome) error
	QueryRecent(ctx context.Context, symbol string, limit int) ([]TradeOutcome, error)
	Close() error
}
