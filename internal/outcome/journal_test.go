package outcome

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalAppendAndQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outcomes.jsonl")
	j, err := NewJournal(path)
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	base := time.Date(2025, 6, 2, 20, 0, 0, 0, time.UTC)
	for i, sym := range []string{"AAPL", "TSLA", "AAPL"} {
		require.NoError(t, j.Save(ctx, TradeOutcome{
			Symbol:   sym,
			Side:     "buy",
			PnL:      float64(i * 100),
			ClosedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	all, err := j.QueryRecent(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 200.0, all[0].PnL, "newest first")

	aapl, err := j.QueryRecent(ctx, "AAPL", 10)
	require.NoError(t, err)
	require.Len(t, aapl, 2)

	limited, err := j.QueryRecent(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, 200.0, limited[0].PnL)
}

func TestJournalSkipsTornLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outcomes.jsonl")
	j, err := NewJournal(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, j.Save(ctx, TradeOutcome{Symbol: "AAPL", PnL: 50}))
	require.NoError(t, j.Close())

	// Simulate a crash mid-write.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"symbol":"TS`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	j2, err := NewJournal(path)
	require.NoError(t, err)
	defer j2.Close()

	all, err := j2.QueryRecent(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "AAPL", all[0].Symbol)
}

func TestJournalQueryMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outcomes.jsonl")
	j, err := NewJournal(path)
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.NoError(t, os.Remove(path))

	all, err := j.QueryRecent(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}
