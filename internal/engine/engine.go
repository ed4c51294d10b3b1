package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/marketsync/internal/api"
	"github.com/rickgao/marketsync/internal/batch"
	"github.com/rickgao/marketsync/internal/candles"
	"github.com/rickgao/marketsync/internal/config"
	"github.com/rickgao/marketsync/internal/connection"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/poller"
	"github.com/rickgao/marketsync/internal/prefs"
	"github.com/rickgao/marketsync/internal/refresh"
	"github.com/rickgao/marketsync/internal/router"
	"github.com/rickgao/marketsync/internal/session"
	"github.com/rickgao/marketsync/internal/store"
)

// ErrInvalidInterval is returned by Watch for an unsupported interval.
var ErrInvalidInterval = errors.New("invalid candle interval")

// Stats aggregates component statistics for the health endpoint.
type Stats struct {
	Uptime        time.Duration
	UserID        string
	Authenticated bool
	Connection    connection.ManagerStats
	Router        router.RouterStats
	PriceBuffer   batch.Stats
	BookBuffer    batch.Stats
	Prices        store.Stats
	Books         store.Stats
	Orders        store.Stats
	Portfolios    store.Stats
	Refresh       refresh.Stats
	Candles       candles.Stats
	SnapshotPolls int64
}

// Engine owns every component of the sync pipeline.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	client   *api.Client
	session  *session.Session
	conn     connection.Manager
	router   router.Router
	poller   *poller.Poller
	refresh  *refresh.Coordinator
	candles  *candles.Manager
	prefs    prefs.Store
	priceBuf *batch.Buffer[model.TickerKey, model.PriceTick]
	bookBuf  *batch.Buffer[model.TickerKey, model.OrderbookSnapshot]

	prices     *store.Store[model.TickerKey, model.PriceTick]
	books      *store.Store[model.TickerKey, model.OrderbookSnapshot]
	orders     *store.Store[string, model.OpenOrders]
	portfolios *store.Store[string, model.Portfolio]

	watchMu sync.Mutex
	watches []prefs.Watch

	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New builds an engine from cfg. cfg must have defaults applied. A nil
// prefs store keeps preferences in memory.
func New(cfg *config.Config, prefsStore prefs.Store, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if prefsStore == nil {
		prefsStore = prefs.NewMemoryStore()
	}

	opts := []api.ClientOption{
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, 500*time.Millisecond),
		api.WithLogger(logger.With("component", "api")),
	}
	if cfg.API.RateLimit > 0 {
		opts = append(opts, api.WithRateLimit(cfg.API.RateLimit, cfg.API.RateBurst))
	}
	client := api.NewClient(cfg.API.RestURL, cfg.API.Token, opts...)

	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		client:     client,
		prefs:      prefsStore,
		prices:     store.New[model.TickerKey, model.PriceTick]("prices", logger),
		books:      store.New[model.TickerKey, model.OrderbookSnapshot]("orderbooks", logger),
		orders:     store.New[string, model.OpenOrders]("open_orders", logger),
		portfolios: store.New[string, model.Portfolio]("portfolios", logger),
	}

	e.session = session.New(client, logger.With("component", "session"))

	e.priceBuf = batch.New[model.TickerKey, model.PriceTick](batch.Config{
		Name:          "price",
		FlushInterval: cfg.Buffers.PriceFlushInterval,
	}, e.prices, logger)
	e.bookBuf = batch.New[model.TickerKey, model.OrderbookSnapshot](batch.Config{
		Name:          "orderbook",
		FlushInterval: cfg.Buffers.OrderbookFlushInterval,
	}, e.books, logger)

	e.candles = candles.NewManager(candles.Config{
		PageSize:     cfg.Candles.PageSize,
		DayOffset:    cfg.Candles.DayOffset,
		PrefetchBars: cfg.Candles.PrefetchBars,
		DefaultRange: candles.Range(cfg.Candles.DefaultRange),
	}, client, logger.With("component", "candles"))
	e.priceBuf.OnFlush(e.candles.ApplyTick)

	e.poller = poller.New(poller.Config{
		Interval:    cfg.Refresh.SnapshotPollInterval,
		Concurrency: cfg.Refresh.SnapshotConcurrency,
		Timeout:     cfg.Refresh.FetchTimeout,
	}, client, e.books, poller.SnapshotHandlerFunc(e.writeSnapshot), logger.With("component", "poller"))

	e.refresh = refresh.New(refresh.Config{
		Interval:     cfg.Refresh.Interval,
		FetchTimeout: cfg.Refresh.FetchTimeout,
		Concurrency:  cfg.Refresh.Concurrency,
	}, refresh.Deps{
		Client:     client,
		Orders:     e.orders,
		Portfolios: e.portfolios,
		Session:    e.session,
		Books:      e.books,
		Snapshots:  e.poller,
	}, logger.With("component", "refresh"))

	e.conn = connection.NewManager(connection.ManagerConfig{
		Client: connection.ClientConfig{
			URL:               cfg.API.WSURL,
			Token:             cfg.API.Token,
			HandshakeTimeout:  cfg.Feed.HandshakeTimeout,
			HeartbeatInterval: cfg.Feed.HeartbeatInterval,
			KeepaliveMessage:  cfg.Feed.KeepaliveMessage,
			PingTimeout:       cfg.Feed.PingTimeout,
			WriteTimeout:      cfg.Feed.WriteTimeout,
			MaxMessageSize:    cfg.Feed.MaxMessageSize,
		},
		ReconnectBaseWait: cfg.Feed.ReconnectBaseDelay,
		ReconnectMaxWait:  cfg.Feed.ReconnectMaxDelay,
		ReconnectJitter:   0.2,
		MessageBufferSize: cfg.Feed.MessageBufferSize,
	}, logger.With("component", "connection"))

	e.router = router.NewRouter(router.RouterConfig{
		NotificationBufferSize:  cfg.Feed.NotificationBufferSize,
		NotificationBufferLimit: cfg.Feed.NotificationBufferLimit,
	}, e.conn.Messages(), router.Sinks{
		Prices:  e.priceBuf,
		Books:   e.books,
		BookBuf: e.bookBuf,
		Scopes:  e.refresh,
		Session: e.session,
	}, logger.With("component", "router"))

	return e, nil
}

// Start loads the session, starts every component and restores the saved
// watchlist. A failed session load is logged and the engine runs anonymous.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.startedAt = time.Now()

	if err := e.session.Load(ctx); err != nil {
		e.logger.Warn("session load failed, continuing without user data", "error", err)
	}

	starters := []struct {
		name  string
		start func(context.Context) error
	}{
		{"price buffer", e.priceBuf.Start},
		{"orderbook buffer", e.bookBuf.Start},
		{"refresh coordinator", e.refresh.Start},
		{"snapshot poller", e.poller.Start},
		{"router", e.router.Start},
		{"connection manager", e.conn.Start},
	}
	for _, s := range starters {
		if err := s.start(e.ctx); err != nil {
			e.cancel()
			return fmt.Errorf("start %s: %w", s.name, err)
		}
	}

	e.wg.Add(1)
	go e.handleReconnects()

	e.wg.Add(1)
	go e.restoreWatchlist()

	if id, ok := e.session.UserID(); ok {
		e.refresh.MarkDirty(id)
	}

	e.logger.Info("engine started",
		"rest_url", e.cfg.API.RestURL,
		"ws_url", e.cfg.API.WSURL,
	)
	return nil
}

// Stop stops every component, feed first so nothing new enters the pipeline.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}

	var errs []error
	stoppers := []struct {
		name string
		stop func(context.Context) error
	}{
		{"connection manager", e.conn.Stop},
		{"router", e.router.Stop},
		{"price buffer", e.priceBuf.Stop},
		{"orderbook buffer", e.bookBuf.Stop},
		{"snapshot poller", e.poller.Stop},
		{"refresh coordinator", e.refresh.Stop},
	}
	for _, s := range stoppers {
		if err := s.stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", s.name, err))
		}
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	e.logger.Info("engine stopped")
	return errors.Join(errs...)
}

// handleReconnects resyncs state after every reconnect.
func (e *Engine) handleReconnects() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case ev, ok := <-e.conn.Reconnects():
			if !ok {
				return
			}
			e.logger.Info("feed reconnected, resyncing",
				"session_id", ev.SessionID,
				"attempt", ev.Attempt,
				"downtime", ev.Downtime,
			)
			if err := e.session.Refresh(e.ctx); err != nil {
				e.logger.Warn("session refresh failed", "error", err)
			}
			e.refresh.ResyncOnReconnect(e.ctx)
		}
	}
}

// writeSnapshot stores a REST snapshot directly, bypassing the buffer.
func (e *Engine) writeSnapshot(s model.OrderbookSnapshot) error {
	if res := e.books.Write(s.Ticker, s); res == store.Stale {
		e.logger.Debug("discarded stale snapshot", "ticker", s.Ticker)
	}
	return nil
}

// Stats returns aggregated statistics.
func (e *Engine) Stats() Stats {
	id, ok := e.session.UserID()
	var uptime time.Duration
	if !e.startedAt.IsZero() {
		uptime = time.Since(e.startedAt)
	}
	return Stats{
		Uptime:        uptime,
		UserID:        id,
		Authenticated: ok,
		Connection:    e.conn.Stats(),
		Router:        e.router.Stats(),
		PriceBuffer:   e.priceBuf.Stats(),
		BookBuffer:    e.bookBuf.Stats(),
		Prices:        e.prices.Stats(),
		Books:         e.books.Stats(),
		Orders:        e.orders.Stats(),
		Portfolios:    e.portfolios.Stats(),
		Refresh:       e.refresh.Stats(),
		Candles:       e.candles.Stats(),
		SnapshotPolls: e.poller.Passes(),
	}
}

// Prices returns the live price store.
func (e *Engine) Prices() *store.Store[model.TickerKey, model.PriceTick] { return e.prices }

// Books returns the order book store.
func (e *Engine) Books() *store.Store[model.TickerKey, model.OrderbookSnapshot] { return e.books }

// Orders returns the open orders store, keyed by user id.
func (e *Engine) Orders() *store.Store[string, model.OpenOrders] { return e.orders }

// Portfolios returns the portfolio store, keyed by user id.
func (e *Engine) Portfolios() *store.Store[string, model.Portfolio] { return e.portfolios }

// Candles returns the candle series manager.
func (e *Engine) Candles() *candles.Manager { return e.candles }

// Session returns the session.
func (e *Engine) Session() *session.Session { return e.session }

// Refresh returns the refresh coordinator.
func (e *Engine) Refresh() *refresh.Coordinator { return e.refresh }

// Notifications returns the queue of user-facing events.
func (e *Engine) Notifications() *router.Queue[router.Notification] {
	return e.router.Notifications()
}

// Connection returns the feed connection state.
func (e *Engine) Connection() connection.State { return e.conn.State() }
