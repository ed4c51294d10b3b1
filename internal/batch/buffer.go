package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/marketsync/internal/store"
)

// Sink receives flushed values. *store.Store satisfies it.
type Sink[K comparable, V any] interface {
	Write(key K, v V) store.Result
}

// Config holds buffer configuration.
type Config struct {
	Name          string        // Used in log lines
	FlushInterval time.Duration // Default: 250ms
}

// DefaultConfig returns the reference price-buffer settings.
func DefaultConfig() Config {
	return Config{
		Name:          "price",
		FlushInterval: 250 * time.Millisecond,
	}
}

// FlushResult describes one flush.
type FlushResult struct {
	Batch   int // Distinct keys flushed
	Applied int // Keys whose stored value actually changed
	Stale   int // Keys the sink rejected as older than the stored value
}

// Stats contains buffer counters.
type Stats struct {
	Puts      int64
	Coalesced int64 // Puts that overwrote a pending value
	Flushes   int64
	Applied   int64
	Pending   int
}

// Buffer accumulates keyed updates and flushes them to a Sink on a timer.
type Buffer[K comparable, V any] struct {
	cfg    Config
	sink   Sink[K, V]
	logger *slog.Logger

	flushMu sync.Mutex // serializes flushes so batches reach the sink in order

	mu      sync.Mutex
	pending map[K]V
	stats   Stats

	hooksMu sync.RWMutex
	hooks   []func(K, V)

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Buffer that flushes into sink.
func New[K comparable, V any](cfg Config, sink Sink[K, V], logger *slog.Logger) *Buffer[K, V] {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	return &Buffer[K, V]{
		cfg:     cfg,
		sink:    sink,
		logger:  logger.With("buffer", cfg.Name),
		pending: make(map[K]V),
	}
}

// Put records v for key, replacing any pending value for the same key.
func (b *Buffer[K, V]) Put(key K, v V) {
	b.mu.Lock()
	if _, ok := b.pending[key]; ok {
		b.stats.Coalesced++
	}
	b.pending[key] = v
	b.stats.Puts++
	b.mu.Unlock()
}

// OnFlush registers fn to be called with every flushed entry after the sink
// write, whether or not the sink value changed. Entries the sink rejects as
// stale are not passed on.
func (b *Buffer[K, V]) OnFlush(fn func(K, V)) {
	b.hooksMu.Lock()
	b.hooks = append(b.hooks, fn)
	b.hooksMu.Unlock()
}

// Flush swaps out the pending map and applies it to the sink.
func (b *Buffer[K, V]) Flush() FlushResult {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return FlushResult{}
	}
	batch := b.pending
	b.pending = make(map[K]V, len(batch))
	b.mu.Unlock()

	b.hooksMu.RLock()
	hooks := b.hooks
	b.hooksMu.RUnlock()

	res := FlushResult{Batch: len(batch)}
	for k, v := range batch {
		switch b.sink.Write(k, v) {
		case store.Applied:
			res.Applied++
		case store.Stale:
			res.Stale++
			continue
		}
		for _, fn := range hooks {
			fn(k, v)
		}
	}

	b.mu.Lock()
	b.stats.Flushes++
	b.stats.Applied += int64(res.Applied)
	b.mu.Unlock()

	return res
}

// Pending returns the number of keys waiting for the next flush.
func (b *Buffer[K, V]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Stats returns buffer counters.
func (b *Buffer[K, V]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.stats
	st.Pending = len(b.pending)
	return st
}

// Start begins periodic flushing.
func (b *Buffer[K, V]) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	b.wg.Add(1)
	go b.flushLoop()

	b.logger.Debug("batch buffer started", "flush_interval", b.cfg.FlushInterval)
	return nil
}

// Stop halts the timer and flushes whatever is still pending.
func (b *Buffer[K, V]) Stop(ctx context.Context) error {
	if b.cancel != nil {
		b.cancel()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("batch buffer stop timed out")
	}

	// Final flush
	res := b.Flush()
	b.logger.Debug("batch buffer stopped", "final_batch", res.Batch)
	return nil
}

func (b *Buffer[K, V]) flushLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.Flush()
		}
	}
}
