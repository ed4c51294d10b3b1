package refresh

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/poller"
	"github.com/rickgao/marketsync/internal/store"
)

// AccountFetcher fetches user-scoped state. *api.Client satisfies it.
type AccountFetcher interface {
	GetOpenOrders(ctx context.Context) ([]model.Order, error)
	GetPortfolio(ctx context.Context, userID string) (model.Portfolio, error)
}

// SnapshotFetcher re-fetches order books. *poller.Poller satisfies it.
type SnapshotFetcher interface {
	FetchAll(ctx context.Context, tickers []model.TickerKey) poller.FetchResult
}

// TickerSource lists tickers with at least one subscriber.
type TickerSource interface {
	ObservedKeys() []model.TickerKey
}

// Identity reports the session user.
type Identity interface {
	UserID() (string, bool)
}

// Config holds coordinator configuration.
type Config struct {
	Interval     time.Duration // Flush interval (default: 750ms)
	FetchTimeout time.Duration // Per-fetch timeout (default: 10s)
	Concurrency  int           // Max users fetched at once (default: 4)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:     750 * time.Millisecond,
		FetchTimeout: 10 * time.Second,
		Concurrency:  4,
	}
}

// Deps are the coordinator's collaborators. Session, Books and Snapshots are
// only needed for ResyncOnReconnect.
type Deps struct {
	Client     AccountFetcher
	Orders     *store.Store[string, model.OpenOrders]
	Portfolios *store.Store[string, model.Portfolio]

	Session   Identity
	Books     TickerSource
	Snapshots SnapshotFetcher
}

// ScopeStatus describes the last refresh of one user's scope.
type ScopeStatus struct {
	Dirty       bool
	Loading     bool
	LastError   error
	LastFetched time.Time
}

// Stats contains coordinator counters.
type Stats struct {
	Pending       int
	MarkDirty     int64
	Invalidations int64
	Flushes       int64
	Fetches       int64
	FetchErrors   int64
	Resyncs       int64
}

// ResyncResult summarizes one ResyncOnReconnect call.
type ResyncResult struct {
	Users     int
	Snapshots poller.FetchResult
}

// Coordinator batches dirty-scope signals into periodic REST refreshes.
type Coordinator struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	mu     sync.Mutex
	dirty  map[string]struct{}
	status map[string]*ScopeStatus
	stats  Stats

	// flushMu keeps fetch results for a user in request order.
	flushMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Coordinator.
func New(cfg Config, deps Deps, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	return &Coordinator{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		dirty:  make(map[string]struct{}),
		status: make(map[string]*ScopeStatus),
	}
}

// MarkDirty queues userID for the next flush. Repeated calls before the
// flush are idempotent.
func (c *Coordinator) MarkDirty(userID string) {
	if userID == "" {
		return
	}
	c.mu.Lock()
	c.dirty[userID] = struct{}{}
	c.statusLocked(userID).Dirty = true
	c.stats.MarkDirty++
	c.mu.Unlock()
}

// Invalidate marks the user's scope dirty after a wallet change.
func (c *Coordinator) Invalidate(userID string) {
	if userID == "" {
		return
	}
	c.mu.Lock()
	c.stats.Invalidations++
	c.mu.Unlock()
	c.MarkDirty(userID)
}

// Pending returns the dirty user ids, sorted.
func (c *Coordinator) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.dirty))
	for id := range c.dirty {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Status returns the refresh status for userID.
func (c *Coordinator) Status(userID string) ScopeStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.status[userID]; ok {
		return *st
	}
	return ScopeStatus{}
}

// Stats returns current statistics.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Pending = len(c.dirty)
	return s
}

// Start begins the periodic flush loop.
func (c *Coordinator) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.run()

	c.logger.Info("refresh coordinator started", "interval", c.cfg.Interval)
	return nil
}

// Stop stops the flush loop. Pending users stay queued.
func (c *Coordinator) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("refresh coordinator stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.Flush(c.ctx)
		}
	}
}

// Flush drains the dirty set and fetches open orders and portfolio once per
// user. The set is copied and cleared before any fetch starts, so users
// marked during the fetch wait for the next flush. A failed fetch leaves the
// stored value untouched. Flush returns the number of users drained.
func (c *Coordinator) Flush(ctx context.Context) int {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	if len(c.dirty) == 0 {
		c.mu.Unlock()
		return 0
	}
	users := make([]string, 0, len(c.dirty))
	for id := range c.dirty {
		users = append(users, id)
		st := c.statusLocked(id)
		st.Dirty = false
		st.Loading = true
	}
	clear(c.dirty)
	c.stats.Flushes++
	c.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for _, userID := range users {
		g.Go(func() error {
			c.refreshUser(ctx, userID)
			return nil
		})
	}
	g.Wait()

	c.logger.Debug("refresh flush complete", "users", len(users))
	return len(users)
}

// refreshUser fetches both scopes for one user concurrently.
func (c *Coordinator) refreshUser(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	var g errgroup.Group
	var ordersErr, portfolioErr error

	if c.deps.Orders != nil {
		g.Go(func() error {
			orders, err := c.deps.Client.GetOpenOrders(ctx)
			if err != nil {
				ordersErr = err
				return nil
			}
			c.deps.Orders.Write(userID, model.OpenOrders{UserID: userID, Orders: orders})
			return nil
		})
	}
	if c.deps.Portfolios != nil {
		g.Go(func() error {
			p, err := c.deps.Client.GetPortfolio(ctx, userID)
			if err != nil {
				portfolioErr = err
				return nil
			}
			p.UserID = userID
			c.deps.Portfolios.Write(userID, p)
			return nil
		})
	}
	g.Wait()

	err := errors.Join(ordersErr, portfolioErr)

	c.mu.Lock()
	c.stats.Fetches++
	st := c.statusLocked(userID)
	st.Loading = false
	st.LastError = err
	if err != nil {
		c.stats.FetchErrors++
	} else {
		st.LastFetched = time.Now()
	}
	c.mu.Unlock()

	if ordersErr != nil {
		c.logger.Warn("failed to refresh open orders", "user_id", userID, "error", ordersErr)
	}
	if portfolioErr != nil {
		c.logger.Warn("failed to refresh portfolio", "user_id", userID, "error", portfolioErr)
	}
}

// ResyncOnReconnect repairs state after a feed reconnect. The session user
// is flushed immediately and every observed order book is re-fetched
// directly into the store.
func (c *Coordinator) ResyncOnReconnect(ctx context.Context) ResyncResult {
	var res ResyncResult

	c.mu.Lock()
	c.stats.Resyncs++
	c.mu.Unlock()

	if c.deps.Session != nil {
		if id, ok := c.deps.Session.UserID(); ok {
			c.MarkDirty(id)
		}
	}

	var g errgroup.Group
	g.Go(func() error {
		res.Users = c.Flush(ctx)
		return nil
	})
	if c.deps.Books != nil && c.deps.Snapshots != nil {
		g.Go(func() error {
			res.Snapshots = c.deps.Snapshots.FetchAll(ctx, c.deps.Books.ObservedKeys())
			return nil
		})
	}
	g.Wait()

	c.logger.Info("resync after reconnect",
		"users", res.Users,
		"snapshots", res.Snapshots.Fetched,
		"snapshot_errors", res.Snapshots.Failed,
	)
	return res
}

func (c *Coordinator) statusLocked(userID string) *ScopeStatus {
	st, ok := c.status[userID]
	if !ok {
		st = &ScopeStatus{}
		c.status[userID] = st
	}
	return st
}
