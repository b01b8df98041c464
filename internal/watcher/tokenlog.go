package watcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// TokenRecord is one discovered token as persisted to the token log file.
type TokenRecord struct {
	Mint                   string    `json:"mint"`
	Symbol                 string    `json:"symbol"`
	Name                   string    `json:"name"`
	Creator                string    `json:"creator"`
	BondingCurve           string    `json:"bonding_curve"`
	AssociatedBondingCurve string    `json:"associated_bonding_curve"`
	DiscoveredAt           time.Time `json:"discovered_at"`
}

// TokenLog is an append-only JSON file of discovered tokens. Like the
// position ledger it rewrites through a temp file and rename, so a crash
// never leaves it half-written.
type TokenLog struct {
	path string

	mu      sync.Mutex
	entries []TokenRecord
}

func OpenTokenLog(path string) (*TokenLog, error) {
	if path == "" {
		return nil, errors.New("token log path is empty")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create token log directory: %w", err)
		}
	}

	var entries []TokenRecord
	body, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(body) > 0 {
			if err := json.Unmarshal(body, &entries); err != nil {
				return nil, fmt.Errorf("parse token log %q: %w", path, err)
			}
		}
	case errors.Is(err, os.ErrNotExist):
		// First run; the file appears on the first append.
	default:
		return nil, fmt.Errorf("read token log %q: %w", path, err)
	}

	return &TokenLog{path: path, entries: entries}, nil
}

func (t *TokenLog) Append(record TokenRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = append(t.entries, record)
	if err := t.persistLocked(); err != nil {
		t.entries = t.entries[:len(t.entries)-1]
		return err
	}
	return nil
}

// Recent returns records discovered within the trailing window, oldest
// first.
func (t *TokenLog) Recent(window time.Duration) []TokenRecord {
	cutoff := time.Now().Add(-window)

	t.mu.Lock()
	defer t.mu.Unlock()

	var out []TokenRecord
	for _, record := range t.entries {
		if record.DiscoveredAt.After(cutoff) {
			out = append(out, record)
		}
	}
	return out
}

// List returns every record in append order.
func (t *TokenLog) List() []TokenRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]TokenRecord, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *TokenLog) persistLocked() error {
	payload, err := json.MarshalIndent(t.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token log: %w", err)
	}

	dir := filepath.Dir(t.path)
	tmp, err := os.CreateTemp(dir, ".tokens-*.tmp")
	if err != nil {
		return fmt.Errorf("create token log temp file: %w", err)
	}

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write token log temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close token log temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), t.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace token log file: %w", err)
	}
	return nil
}
