package outcome

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

const outcomesSchema = `
CREATE TABLE IF NOT EXISTS trade_outcomes (
	id            BIGSERIAL PRIMARY KEY,
	symbol        TEXT NOT NULL,
	side          TEXT NOT NULL,
	entry_price   DOUBLE PRECISION NOT NULL,
	exit_price    DOUBLE PRECISION NOT NULL,
	quantity      DOUBLE PRECISION NOT NULL,
	pnl           DOUBLE PRECISION NOT NULL,
	pnl_pct       DOUBLE PRECISION NOT NULL,
	confidence    DOUBLE PRECISION NOT NULL,
	correct       BOOLEAN NOT NULL,
	regime        TEXT NOT NULL,
	volatility    DOUBLE PRECISION NOT NULL,
	holding_hours DOUBLE PRECISION NOT NULL,
	opened_at     TIMESTAMPTZ NOT NULL,
	closed_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS trade_outcomes_symbol_closed_idx
	ON trade_outcomes (symbol, closed_at DESC);`

// PostgresStore persists outcomes in Postgres for durable retraining history.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, outcomesSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure outcomes schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Save(ctx context.Context, o TradeOutcome) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trade_outcomes
			(symbol, side, entry_price, exit_price, quantity, pnl, pnl_pct,
			 confidence, correct, regime, volatility, holding_hours, opened_at, closed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		o.Symbol, o.Side, o.EntryPrice, o.ExitPrice, o.Quantity, o.PnL, o.PnLPct,
		o.Confidence, o.Correct, o.Regime, o.Volatility, o.HoldingHours, o.OpenedAt, o.ClosedAt)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

func (s *PostgresStore) QueryRecent(ctx context.Context, symbol string, limit int) ([]TradeOutcome, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, side, entry_price, exit_price, quantity, pnl, pnl_pct,
		       confidence, correct, regime, volatility, holding_hours, opened_at, closed_at
		FROM trade_outcomes
		WHERE $1 = '' OR symbol = $1
		ORDER BY closed_at DESC
		LIMIT $2`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []TradeOutcome
	for rows.Next() {
		var o TradeOutcome
		if err := rows.Scan(&o.Symbol, &o.Side, &o.EntryPrice, &o.ExitPrice, &o.Quantity,
			&o.PnL, &o.PnLPct, &o.Confidence, &o.Correct, &o.Regime, &o.Volatility,
			&o.HoldingHours, &o.OpenedAt, &o.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error { return s.db.Close() }

var _ Store = (*PostgresStore)(nil)
