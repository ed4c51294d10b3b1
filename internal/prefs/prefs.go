// Package prefs persists client state across restarts: the last viewed
// ticker and the list of watched candle series.
//
// MemoryStore is used when no database is configured. PGStore and RedisStore
// keep the same data in PostgreSQL or Redis, keyed by a profile name so
// several clients can share one server.
package prefs

import (
	"context"
	"sync"

	"github.com/rickgao/marketsync/internal/model"
)

// Watch is one watched candle series.
type Watch struct {
	Ticker   model.TickerKey
	Interval model.Interval
	Range    string
}

// Store persists client preferences.
type Store interface {
	LastViewedTicker(ctx context.Context) (model.TickerKey, bool, error)
	SetLastViewedTicker(ctx context.Context, ticker model.TickerKey) error
	Watchlist(ctx context.Context) ([]Watch, error)
	SetWatchlist(ctx context.Context, watches []Watch) error
	Close()
}

// MemoryStore keeps preferences in memory.
type MemoryStore struct {
	mu         sync.RWMutex
	lastViewed model.TickerKey
	watches    []Watch
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) LastViewedTicker(ctx context.Context) (model.TickerKey, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastViewed, m.lastViewed != "", nil
}

func (m *MemoryStore) SetLastViewedTicker(ctx context.Context, ticker model.TickerKey) error {
	m.mu.Lock()
	m.lastViewed = ticker
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Watchlist(ctx context.Context) ([]Watch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Watch(nil), m.watches...), nil
}

func (m *MemoryStore) SetWatchlist(ctx context.Context, watches []Watch) error {
	m.mu.Lock()
	m.watches = append([]Watch(nil), watches...)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Close() {}
