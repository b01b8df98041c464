// Package journal persists executed trades and discovered tokens to
// Postgres. The journal is optional: Open returns nil for an empty DSN and
// every write on a nil *Journal is a no-op, so callers never branch.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// ErrDisabled is returned by reads when no journal is configured.
var ErrDisabled = errors.New("journal disabled")

const (
	TradeStatusConfirmed   = "confirmed"
	TradeStatusUnconfirmed = "unconfirmed"
	TradeStatusFailed      = "failed"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

type Trade struct {
	ID            uuid.UUID `json:"id"`
	Mint          string    `json:"mint"`
	Venue         string    `json:"venue"`
	Direction     string    `json:"direction"`
	TokensRaw     uint64    `json:"tokens_raw"`
	QuoteLamports uint64    `json:"quote_lamports"`
	Price         float64   `json:"price"`
	Signature     string    `json:"signature"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

type Token struct {
	Mint         string    `json:"mint"`
	Name         string    `json:"name"`
	Symbol       string    `json:"symbol"`
	Creator      string    `json:"creator"`
	BondingCurve string    `json:"bonding_curve"`
	DiscoveredAt time.Time `json:"discovered_at"`
	Raw          string    `json:"-"`
}

type TradeFilter struct {
	Mint      string
	Direction string
	Status    string
	Limit     int
	Offset    int
}

type Journal struct {
	db *sql.DB
}

// Open connects and applies the idempotent schema. An empty DSN disables
// the journal and returns (nil, nil).
func Open(ctx context.Context, dsn string) (*Journal, error) {
	if dsn == "" {
		return nil, nil
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetConnMaxIdleTime(30 * time.Second)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(16)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	journal := &Journal{db: db}
	if err := journal.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return journal, nil
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) Enabled() bool {
	return j != nil
}

func (j *Journal) migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			mint TEXT NOT NULL,
			venue TEXT NOT NULL,
			direction TEXT NOT NULL,
			tokens_raw TEXT NOT NULL,
			quote_lamports TEXT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			signature TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL,
			created_at BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_mint_time ON trades(mint, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS tokens (
			mint TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			symbol TEXT NOT NULL,
			creator TEXT NOT NULL,
			bonding_curve TEXT NOT NULL,
			discovered_at BIGINT NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tokens_creator ON tokens(creator);`,
	}

	for _, query := range ddl {
		if _, err := j.exec(ctx, query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// RecordTrade inserts a trade row, keyed for idempotence on the signature;
// a replay only advances the status (unconfirmed trades that later confirm).
func (j *Journal) RecordTrade(ctx context.Context, trade Trade) error {
	if j == nil {
		return nil
	}
	if trade.ID == uuid.Nil {
		trade.ID = uuid.New()
	}
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = time.Now().UTC()
	}

	_, err := j.exec(ctx, `
		INSERT INTO trades (
			id, mint, venue, direction, tokens_raw, quote_lamports,
			price, signature, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(signature) DO UPDATE SET
			status = excluded.status
	`,
		trade.ID.String(),
		trade.Mint,
		trade.Venue,
		trade.Direction,
		strconv.FormatUint(trade.TokensRaw, 10),
		strconv.FormatUint(trade.QuoteLamports, 10),
		trade.Price,
		trade.Signature,
		trade.Status,
		trade.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("record trade %s: %w", trade.Signature, err)
	}
	return nil
}

// RecordToken stores a discovered token; rediscovery is ignored.
func (j *Journal) RecordToken(ctx context.Context, token Token) error {
	if j == nil {
		return nil
	}
	if token.DiscoveredAt.IsZero() {
		token.DiscoveredAt = time.Now().UTC()
	}

	_, err := j.exec(ctx, `
		INSERT INTO tokens (
			mint, name, symbol, creator, bonding_curve, discovered_at, raw_json
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mint) DO NOTHING
	`,
		token.Mint,
		token.Name,
		token.Symbol,
		token.Creator,
		token.BondingCurve,
		token.DiscoveredAt.Unix(),
		token.Raw,
	)
	if err != nil {
		return fmt.Errorf("record token %s: %w", token.Mint, err)
	}
	return nil
}

// ListTrades returns journal rows newest first, plus the normalized limit
// and offset actually applied.
func (j *Journal) ListTrades(ctx context.Context, filter TradeFilter) ([]Trade, int, int, error) {
	if j == nil {
		return nil, 0, 0, ErrDisabled
	}

	limit, offset := normalizePagination(filter.Limit, filter.Offset)
	clauses := []string{"1 = 1"}
	args := make([]any, 0, 5)

	if filter.Mint != "" {
		clauses = append(clauses, "mint = ?")
		args = append(args, filter.Mint)
	}
	if filter.Direction != "" {
		clauses = append(clauses, "direction = ?")
		args = append(args, filter.Direction)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}

	query := fmt.Sprintf(`
		SELECT
			id, mint, venue, direction, tokens_raw, quote_lamports,
			price, signature, status, created_at
		FROM trades
		WHERE %s
		ORDER BY created_at DESC, id ASC
		LIMIT ? OFFSET ?
	`, strings.Join(clauses, " AND "))
	args = append(args, limit, offset)

	rows, err := j.query(ctx, query, args...)
	if err != nil {
		return nil, 0, 0, err
	}
	defer rows.Close()

	items := make([]Trade, 0, limit)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, 0, 0, err
		}
		items = append(items, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, err
	}
	return items, limit, offset, nil
}

func scanTrade(rows *sql.Rows) (Trade, error) {
	var (
		trade     Trade
		id        string
		tokens    string
		quote     string
		createdAt int64
	)
	if err := rows.Scan(
		&id,
		&trade.Mint,
		&trade.Venue,
		&trade.Direction,
		&tokens,
		&quote,
		&trade.Price,
		&trade.Signature,
		&trade.Status,
		&createdAt,
	); err != nil {
		return Trade{}, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return Trade{}, fmt.Errorf("parse trade id %q: %w", id, err)
	}
	trade.ID = parsed

	trade.TokensRaw, err = strconv.ParseUint(tokens, 10, 64)
	if err != nil {
		return Trade{}, fmt.Errorf("parse tokens_raw %q: %w", tokens, err)
	}
	trade.QuoteLamports, err = strconv.ParseUint(quote, 10, 64)
	if err != nil {
		return Trade{}, fmt.Errorf("parse quote_lamports %q: %w", quote, err)
	}
	trade.CreatedAt = time.Unix(createdAt, 0).UTC()
	return trade, nil
}

func (j *Journal) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return j.db.ExecContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (j *Journal) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return j.db.QueryContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func normalizePagination(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// rebindPostgresPlaceholders rewrites ? placeholders to the $N form,
// leaving question marks inside string literals alone.
func rebindPostgresPlaceholders(query string) string {
	var out strings.Builder
	out.Grow(len(query) + 16)

	arg := 1
	inSingleQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if ch == '\'' {
			out.WriteByte(ch)
			if inSingleQuote {
				if i+1 < len(query) && query[i+1] == '\'' {
					out.WriteByte(query[i+1])
					i++
					continue
				}
				inSingleQuote = false
			} else {
				inSingleQuote = true
			}
			continue
		}

		if ch == '?' && !inSingleQuote {
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(arg))
			arg++
			continue
		}

		out.WriteByte(ch)
	}

	return out.String()
}
