package watchlist

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/elegroag/trading-alpaca-backend/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS watchlist_symbols (
    list_name  TEXT        NOT NULL,
    symbol     TEXT        NOT NULL,
    position   INTEGER     NOT NULL,
    added_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (list_name, symbol)
)`

// PostgresStore persists one named list in the watchlist_symbols table.
type PostgresStore struct {
	db   *sql.DB
	list string
}

// NewPostgresStore returns a store for the named list. Call EnsureSchema
// once before use.
func NewPostgresStore(db *sql.DB, list string) *PostgresStore {
	if list == "" {
		list = "default"
	}
	return &PostgresStore{db: db, list: list}
}

// EnsureSchema creates the table if it does not exist.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create watchlist schema: %w", err)
	}
	return nil
}

func (p *PostgresStore) Symbols(ctx context.Context) ([]string, error) {
	return p.symbols(ctx, p.db)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (p *PostgresStore) symbols(ctx context.Context, q querier) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT symbol FROM watchlist_symbols WHERE list_name = $1 ORDER BY position, added_at`,
		p.list,
	)
	if err != nil {
		return nil, fmt.Errorf("query watchlist: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan watchlist row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Set replaces the whole list in one transaction.
func (p *PostgresStore) Set(ctx context.Context, symbols []string) ([]string, error) {
	normalized := models.NormalizeSymbols(symbols)

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin watchlist update: %w", err)
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, `DELETE FROM watchlist_symbols WHERE list_name = $1`, p.list); err != nil {
		return nil, fmt.Errorf("clear watchlist: %w", err)
	}
	if len(normalized) > 0 {
		_, err = tx.ExecContext(ctx, `
            INSERT INTO watchlist_symbols (list_name, symbol, position)
            SELECT $1, t.symbol, t.ord
            FROM unnest($2::text[]) WITH ORDINALITY AS t(symbol, ord)
        `, p.list, pq.Array(normalized))
		if err != nil {
			return nil, fmt.Errorf("insert watchlist: %w", err)
		}
	}

	out, err := p.symbols(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit watchlist update: %w", err)
	}
	return out, nil
}

// Add appends symbol to the end of the list. Adding a listed symbol is a
// no-op.
func (p *PostgresStore) Add(ctx context.Context, symbol string) ([]string, error) {
	s, err := normalizeOne(symbol)
	if err != nil {
		return nil, err
	}

	_, err = p.db.ExecContext(ctx, `
        INSERT INTO watchlist_symbols (list_name, symbol, position)
        VALUES ($1, $2, COALESCE(
            (SELECT MAX(position) + 1 FROM watchlist_symbols WHERE list_name = $1), 1))
        ON CONFLICT (list_name, symbol) DO NOTHING
    `, p.list, s)
	if err != nil {
		return nil, fmt.Errorf("add watchlist symbol: %w", err)
	}
	return p.Symbols(ctx)
}

func (p *PostgresStore) Remove(ctx context.Context, symbol string) ([]string, error) {
	s, err := normalizeOne(symbol)
	if err != nil {
		return nil, err
	}

	res, err := p.db.ExecContext(ctx,
		`DELETE FROM watchlist_symbols WHERE list_name = $1 AND symbol = $2`,
		p.list, s,
	)
	if err != nil {
		return nil, fmt.Errorf("remove watchlist symbol: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, &models.NotFoundError{Resource: "watchlist symbol", ID: s}
	}
	return p.Symbols(ctx)
}
