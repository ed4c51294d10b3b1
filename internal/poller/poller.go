package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/marketsync/internal/model"
)

// SnapshotFetcher fetches one order book. *api.Client satisfies it.
type SnapshotFetcher interface {
	GetOrderbook(ctx context.Context, ticker model.TickerKey) (model.OrderbookSnapshot, error)
}

// TickerSource provides the tickers to poll periodically. The order book
// store satisfies it through ObservedKeys.
type TickerSource interface {
	ObservedKeys() []model.TickerKey
}

// SnapshotHandler receives fetched snapshots.
type SnapshotHandler interface {
	HandleSnapshot(snapshot model.OrderbookSnapshot) error
}

// SnapshotHandlerFunc is a function adapter for SnapshotHandler.
type SnapshotHandlerFunc func(model.OrderbookSnapshot) error

func (f SnapshotHandlerFunc) HandleSnapshot(s model.OrderbookSnapshot) error {
	return f(s)
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Periodic poll interval (0 = resync only)
	Concurrency int           // Max concurrent requests (default: 8)
	Timeout     time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    0,
		Concurrency: 8,
		Timeout:     10 * time.Second,
	}
}

// FetchResult summarizes one FetchAll pass.
type FetchResult struct {
	Requested int
	Fetched   int
	Failed    int
}

// Poller fetches order book snapshots via the REST API.
type Poller struct {
	cfg     Config
	client  SnapshotFetcher
	source  TickerSource
	handler SnapshotHandler
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	passes atomic.Int64
}

// New creates a new Poller. source is only used in periodic mode and may be nil.
func New(cfg Config, client SnapshotFetcher, source TickerSource, handler SnapshotHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Poller{
		cfg:     cfg,
		client:  client,
		source:  source,
		handler: handler,
		logger:  logger,
	}
}

// Start begins the periodic polling loop. It does nothing when Interval is 0.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	if p.cfg.Interval <= 0 || p.source == nil {
		p.logger.Debug("snapshot poller in resync-only mode")
		return nil
	}

	p.wg.Add(1)
	go p.run()

	p.logger.Info("snapshot poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("snapshot poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Passes returns how many FetchAll passes have run.
func (p *Poller) Passes() int64 {
	return p.passes.Load()
}

// run is the periodic polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.FetchAll(p.ctx, p.source.ObservedKeys())
		}
	}
}

// FetchAll fetches each distinct ticker once, with bounded concurrency, and
// hands every snapshot to the handler. Failures are logged and counted; they
// do not stop the other fetches.
func (p *Poller) FetchAll(ctx context.Context, tickers []model.TickerKey) FetchResult {
	start := time.Now()
	p.passes.Add(1)

	unique := dedupe(tickers)
	res := FetchResult{Requested: len(unique)}
	if len(unique) == 0 {
		p.logger.Debug("no tickers to poll")
		return res
	}

	var fetched, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)

	for _, ticker := range unique {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := p.fetchOne(ctx, ticker); err != nil {
				p.logger.Warn("failed to fetch snapshot",
					"ticker", ticker,
					"error", err,
				)
				failed.Add(1)
				return nil
			}
			fetched.Add(1)
			return nil
		})
	}
	g.Wait()

	res.Fetched = int(fetched.Load())
	res.Failed = int(failed.Load())

	p.logger.Info("snapshot fetch complete",
		"tickers", res.Requested,
		"fetched", res.Fetched,
		"errors", res.Failed,
		"duration", time.Since(start),
	)
	return res
}

// fetchOne fetches and handles a single ticker's order book.
func (p *Poller) fetchOne(ctx context.Context, ticker model.TickerKey) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	snapshot, err := p.client.GetOrderbook(ctx, ticker)
	if err != nil {
		return err
	}

	if p.handler != nil {
		return p.handler.HandleSnapshot(snapshot)
	}
	return nil
}

func dedupe(tickers []model.TickerKey) []model.TickerKey {
	seen := make(map[model.TickerKey]struct{}, len(tickers))
	out := make([]model.TickerKey, 0, len(tickers))
	for _, t := range tickers {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
