package outcome

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Journal is the JSONL file store: one outcome per line, appended and fsynced
// on every save so a crash loses at most the in-flight record. It is the
// default persistence when no database is configured.
type Journal struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func NewJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{path: path, f: f}, nil
}

func (j *Journal) Save(_ context.Context, o TradeOutcome) error {
	line, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.f.Write(line); err != nil {
		return fmt.Errorf("append outcome: %w", err)
	}
	return j.f.Sync()
}

// QueryRecent scans the journal and returns the newest matching records first.
// Malformed lines are skipped, not fatal: a torn final line after a crash must
// not poison every later read.
func (j *Journal) QueryRecent(_ context.Context, symbol string, limit int) ([]TradeOutcome, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var all []TradeOutcome
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var o TradeOutcome
		if err := json.Unmarshal(sc.Bytes(), &o); err != nil {
			continue
		}
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		all = append(all, o)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}

	// Newest first.
	for i, k := 0, len(all)-1; i < k; i, k = i+1, k-1 {
		all[i], all[k] = all[k], all[i]
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

var _ Store = (*Journal)(nil)
