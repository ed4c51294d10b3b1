package candles

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rickgao/marketsync/internal/model"
)

// Config holds candle configuration.
type Config struct {
	PageSize     int           // Bars per request (default: 300)
	DayOffset    time.Duration // UTC offset of the daily boundary (default: 0)
	PrefetchBars int           // Load older when this close to the start (default: 50)
	DefaultRange Range         // Range used when none is given (default: 1D)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PageSize:     300,
		DayOffset:    0,
		PrefetchBars: 50,
		DefaultRange: Range1D,
	}
}

// Stats contains manager counters.
type Stats struct {
	Series       int
	TicksApplied int64
	TicksIgnored int64 // Unchanged or for a closed bucket
}

// Manager owns one Series per (ticker, interval) and fans live prices out
// to every series of the ticker.
type Manager struct {
	cfg    Config
	client Fetcher
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	series map[model.SeriesKey]*Series

	statsMu sync.Mutex
	stats   Stats
}

// NewManager creates a Manager.
func NewManager(cfg Config, client Fetcher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.PrefetchBars <= 0 {
		cfg.PrefetchBars = def.PrefetchBars
	}
	if cfg.DefaultRange == "" {
		cfg.DefaultRange = def.DefaultRange
	}
	return &Manager{
		cfg:    cfg,
		client: client,
		logger: logger,
		now:    time.Now,
		series: make(map[model.SeriesKey]*Series),
	}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Series returns the series for key, creating it if needed.
func (m *Manager) Series(key model.SeriesKey) *Series {
	m.mu.RLock()
	s, ok := m.series[key]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.series[key]; ok {
		return s
	}
	s = newSeries(key, m.cfg, m.client, m.logger, m.now)
	m.series[key] = s
	return s
}

// Lookup returns the series for key if it exists.
func (m *Manager) Lookup(key model.SeriesKey) (*Series, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.series[key]
	return s, ok
}

// Remove drops the series for key.
func (m *Manager) Remove(key model.SeriesKey) {
	m.mu.Lock()
	delete(m.series, key)
	m.mu.Unlock()
}

// Keys returns the keys of all series, sorted.
func (m *Manager) Keys() []model.SeriesKey {
	m.mu.RLock()
	keys := make([]model.SeriesKey, 0, len(m.series))
	for k := range m.series {
		keys = append(keys, k)
	}
	m.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// ApplyTick applies a price tick to every series of the ticker. A tick
// without a timestamp is stamped with the current time. Its signature
// matches batch.Buffer.OnFlush.
func (m *Manager) ApplyTick(ticker model.TickerKey, tick model.PriceTick) {
	at := tick.Timestamp
	if at.IsZero() {
		at = m.now()
	}

	m.mu.RLock()
	var targets []*Series
	for k, s := range m.series {
		if k.Ticker == ticker {
			targets = append(targets, s)
		}
	}
	m.mu.RUnlock()

	var applied, ignored int64
	for _, s := range targets {
		if s.ApplyTick(tick.Price, at) {
			applied++
		} else {
			ignored++
		}
	}

	m.statsMu.Lock()
	m.stats.TicksApplied += applied
	m.stats.TicksIgnored += ignored
	m.statsMu.Unlock()
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	n := len(m.series)
	m.mu.RUnlock()

	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	s := m.stats
	s.Series = n
	return s
}
