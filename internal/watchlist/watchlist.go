// Package watchlist stores the default symbols scanned when a scan request
// names no tickers.
package watchlist

import (
	"context"
	"sync"

	"github.com/elegroag/trading-alpaca-backend/internal/models"
)

// Store keeps an ordered, de-duplicated list of upper-case symbols. Every
// mutation returns the list as it stands afterwards.
type Store interface {
	Symbols(ctx context.Context) ([]string, error)
	Set(ctx context.Context, symbols []string) ([]string, error)
	Add(ctx context.Context, symbol string) ([]string, error)
	Remove(ctx context.Context, symbol string) ([]string, error)
}

func normalizeOne(symbol string) (string, error) {
	s := models.NormalizeSymbol(symbol)
	if s == "" {
		return "", models.NewValidationError("symbol", "symbol is required")
	}
	return s, nil
}

// MemoryStore is a process-local Store used when Postgres is disabled.
type MemoryStore struct {
	mu      sync.RWMutex
	symbols []string
}

// NewMemoryStore returns a store seeded with symbols.
func NewMemoryStore(symbols ...string) *MemoryStore {
	return &MemoryStore{symbols: models.NormalizeSymbols(symbols)}
}

func (m *MemoryStore) Symbols(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string{}, m.symbols...), nil
}

func (m *MemoryStore) Set(ctx context.Context, symbols []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.symbols = models.NormalizeSymbols(symbols)
	return append([]string{}, m.symbols...), nil
}

func (m *MemoryStore) Add(ctx context.Context, symbol string) ([]string, error) {
	s, err := normalizeOne(symbol)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.symbols = models.NormalizeSymbols(append(m.symbols, s))
	return append([]string{}, m.symbols...), nil
}

func (m *MemoryStore) Remove(ctx context.Context, symbol string) ([]string, error) {
	s, err := normalizeOne(symbol)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.symbols[:0:0]
	for _, existing := range m.symbols {
		if existing != s {
			kept = append(kept, existing)
		}
	}
	if len(kept) == len(m.symbols) {
		return nil, &models.NotFoundError{Resource: "watchlist symbol", ID: s}
	}
	m.symbols = kept
	return append([]string{}, m.symbols...), nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
