// Package ledger keeps the position book: at most one open position per
// mint, persisted as a human-readable JSON file that is rewritten through a
// temp file and rename so a crash can never leave it half-written.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
)

type Position struct {
	Mint          solana.PublicKey `json:"mint"`
	Symbol        string           `json:"symbol,omitempty"`
	Name          string           `json:"name,omitempty"`
	Venue         string           `json:"venue"`
	TokensOwned   uint64           `json:"tokens_owned"`
	QuoteInvested float64          `json:"sol_invested"`
	EntryPrice    float64          `json:"entry_price"`
	EntryTime     time.Time        `json:"entry_time"`
	TakeProfit    *float64         `json:"take_profit,omitempty"`
	StopLoss      *float64         `json:"stop_loss,omitempty"`
	MaxHoldSec    *int64           `json:"max_hold_sec,omitempty"`
	Signature     string           `json:"signature,omitempty"`
}

// PnL is the unrealized profit in SOL at the given price per whole token.
func (p Position) PnL(price float64) float64 {
	tokens := float64(p.TokensOwned) / 1e6
	return tokens*price - p.QuoteInvested
}

// ShouldExit evaluates the exit conditions in fixed priority order:
// take-profit, then stop-loss, then max hold time. The first match wins.
func (p Position) ShouldExit(price float64, now time.Time) (bool, string) {
	if p.TakeProfit != nil && price >= *p.TakeProfit {
		return true, "take_profit"
	}
	if p.StopLoss != nil && price <= *p.StopLoss {
		return true, "stop_loss"
	}
	if p.MaxHoldSec != nil && now.Sub(p.EntryTime) > time.Duration(*p.MaxHoldSec)*time.Second {
		return true, "max_hold_time"
	}
	return false, ""
}

// Ledger serializes all writers behind one mutex and serves reads from
// memory; the file is the durable copy, loaded once at Open.
type Ledger struct {
	path string

	mu        sync.Mutex
	positions map[string]Position
}

func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("ledger path is empty")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	positions := make(map[string]Position)
	body, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(body) > 0 {
			if err := json.Unmarshal(body, &positions); err != nil {
				return nil, fmt.Errorf("parse ledger %q: %w", path, err)
			}
		}
	case errors.Is(err, os.ErrNotExist):
		// First run; the file appears on the first write.
	default:
		return nil, fmt.Errorf("read ledger %q: %w", path, err)
	}

	return &Ledger{path: path, positions: positions}, nil
}

// Record stores a position, replacing any open one for the same mint. The
// replaced position is returned so the caller can surface the overwrite;
// proceeds from the replaced entry are NOT folded into the new one.
func (l *Ledger) Record(position Position) (*Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := position.Mint.String()
	prior, existed := l.positions[key]
	l.positions[key] = position

	if err := l.persistLocked(); err != nil {
		if existed {
			l.positions[key] = prior
		} else {
			delete(l.positions, key)
		}
		return nil, err
	}

	if existed {
		return &prior, nil
	}
	return nil, nil
}

// Close removes the position for a mint, reporting whether one was open.
func (l *Ledger) Close(mint solana.PublicKey) (Position, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := mint.String()
	position, ok := l.positions[key]
	if !ok {
		return Position{}, false, nil
	}

	delete(l.positions, key)
	if err := l.persistLocked(); err != nil {
		l.positions[key] = position
		return Position{}, false, err
	}
	return position, true, nil
}

func (l *Ledger) Get(mint solana.PublicKey) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	position, ok := l.positions[mint.String()]
	return position, ok
}

// List returns open positions ordered by entry time, oldest first.
func (l *Ledger) List() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Position, 0, len(l.positions))
	for _, position := range l.positions {
		out = append(out, position)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].Mint.String() < out[j].Mint.String()
		}
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out
}

func (l *Ledger) persistLocked() error {
	payload, err := json.MarshalIndent(l.positions, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, ".positions-*.tmp")
	if err != nil {
		return fmt.Errorf("create ledger temp file: %w", err)
	}

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write ledger temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close ledger temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace ledger file: %w", err)
	}
	return nil
}
