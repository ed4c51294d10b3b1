package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/marketsync/internal/connection"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/store"
)

// Router parses raw feed frames and dispatches them to the price buffer, the
// order book store or the refresh coordinator.
type Router interface {
	// Start begins routing messages from the input channel.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the router.
	Stop(ctx context.Context) error

	// Route parses and dispatches a single frame. Never returns an error:
	// malformed and unknown frames are counted and dropped.
	Route(raw connection.RawMessage)

	// Notifications returns the buffer of user-facing events.
	Notifications() *Queue[Notification]

	// Stats returns current router statistics.
	Stats() RouterStats
}

// PriceSink receives live price ticks. *batch.Buffer satisfies it.
type PriceSink interface {
	Put(key model.TickerKey, tick model.PriceTick)
}

// BookSink receives order book snapshots that go through batching.
type BookSink interface {
	Put(key model.TickerKey, snap model.OrderbookSnapshot)
}

// BookStore is the order book store. *store.Store satisfies it.
type BookStore interface {
	Has(key model.TickerKey) bool
	Write(key model.TickerKey, snap model.OrderbookSnapshot) store.Result
}

// ScopeMarker receives dirty and invalidation signals for user scopes.
type ScopeMarker interface {
	MarkDirty(userID string)
	Invalidate(userID string)
}

// Identity reports the current session user.
type Identity interface {
	UserID() (string, bool)
}

// Sinks are the router's downstream collaborators. Nil sinks are skipped.
type Sinks struct {
	Prices  PriceSink
	Books   BookStore
	BookBuf BookSink
	Scopes  ScopeMarker
	Session Identity
}

// router is the internal implementation.
type router struct {
	cfg    RouterConfig
	sinks  Sinks
	logger *slog.Logger

	// Input from Connection Manager
	input <-chan connection.RawMessage

	notifications *Queue[Notification]

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Stats
	received    atomic.Int64
	routed      atomic.Int64
	parseErrors atomic.Int64
	unknown     atomic.Int64
	fastStarts  atomic.Int64
	otherUser   atomic.Int64
}

// NewRouter creates a new Event Router. input may be nil when frames are fed
// through Route directly.
func NewRouter(cfg RouterConfig, input <-chan connection.RawMessage, sinks Sinks, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.NotificationBufferSize <= 0 {
		cfg.NotificationBufferSize = DefaultRouterConfig().NotificationBufferSize
	}

	notifications := NewBoundedQueue[Notification](cfg.NotificationBufferSize, cfg.NotificationBufferLimit)

	return &router{
		cfg:           cfg,
		sinks:         sinks,
		logger:        logger,
		input:         input,
		notifications: notifications,
	}
}

// Start begins routing messages.
func (r *router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	if r.input != nil {
		r.wg.Add(1)
		go r.routeLoop()
	}

	r.logger.Info("event router started")
	return nil
}

// Stop gracefully shuts down the router.
func (r *router) Stop(ctx context.Context) error {
	r.logger.Info("stopping event router")

	if r.cancel != nil {
		r.cancel()
	}

	// Wait for goroutine to finish
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("event router stopped")
	case <-ctx.Done():
		r.logger.Warn("event router stop timed out")
	}

	r.notifications.Close()
	return nil
}

// Notifications returns the notification buffer.
func (r *router) Notifications() *Queue[Notification] {
	return r.notifications
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	return RouterStats{
		MessagesReceived: r.received.Load(),
		MessagesRouted:   r.routed.Load(),
		ParseErrors:      r.parseErrors.Load(),
		UnknownMessages:  r.unknown.Load(),
		FastStartWrites:  r.fastStarts.Load(),
		OtherUserEvents:  r.otherUser.Load(),
		Notifications:    r.notifications.Stats(),
	}
}

// routeLoop is the main routing goroutine.
func (r *router) routeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case raw, ok := <-r.input:
			if !ok {
				r.logger.Info("input channel closed")
				return
			}
			r.Route(raw)
		}
	}
}

// Route parses and dispatches a single frame.
func (r *router) Route(raw connection.RawMessage) {
	r.received.Add(1)

	ev, err := Parse(raw.Data)
	if err != nil {
		if errors.Is(err, ErrUnknownType) {
			r.unknown.Add(1)
			r.logger.Debug("skipping message", "error", err)
			return
		}
		r.parseErrors.Add(1)
		r.logger.Debug("dropping malformed message", "error", err)
		return
	}

	if r.dispatch(ev, raw) {
		r.routed.Add(1)
	}
}

// dispatch forwards ev to its sink. Returns false when ev was filtered out.
func (r *router) dispatch(ev Event, raw connection.RawMessage) bool {
	switch e := ev.(type) {
	case PriceEvent:
		if r.sinks.Prices == nil {
			return false
		}
		r.sinks.Prices.Put(e.Tick.Ticker, e.Tick)
		return true

	case OrderbookEvent:
		return r.routeOrderbook(e.Snapshot)

	case OrderEvent:
		if !r.isSessionUser(e.UserID) {
			return false
		}
		if r.sinks.Scopes != nil {
			r.sinks.Scopes.MarkDirty(e.UserID)
		}
		r.notify(e.Kind, e.Ticker, e.UserID, raw)
		return true

	case WalletEvent:
		if !r.isSessionUser(e.UserID) {
			return false
		}
		if r.sinks.Scopes != nil {
			r.sinks.Scopes.Invalidate(e.UserID)
		}
		return true

	case LiquidationEvent:
		if !r.isSessionUser(e.UserID) {
			return false
		}
		r.notify(TypeLiquidation, e.Ticker, e.UserID, raw)
		return true
	}
	return false
}

// routeOrderbook writes the first snapshot for a key straight to the store
// and batches the rest.
func (r *router) routeOrderbook(snap model.OrderbookSnapshot) bool {
	if r.sinks.Books == nil {
		return false
	}

	if !r.sinks.Books.Has(snap.Ticker) {
		if r.sinks.Books.Write(snap.Ticker, snap) == store.Applied {
			r.fastStarts.Add(1)
		}
		return true
	}

	if r.sinks.BookBuf == nil {
		r.sinks.Books.Write(snap.Ticker, snap)
		return true
	}
	r.sinks.BookBuf.Put(snap.Ticker, snap)
	return true
}

// isSessionUser reports whether userID is the authenticated session user.
// Anonymous sessions match nobody.
func (r *router) isSessionUser(userID string) bool {
	if r.sinks.Session != nil {
		if id, ok := r.sinks.Session.UserID(); ok && id == userID {
			return true
		}
	}
	r.otherUser.Add(1)
	return false
}

func (r *router) notify(kind string, ticker model.TickerKey, userID string, raw connection.RawMessage) {
	n := Notification{
		Type:       kind,
		Ticker:     ticker,
		UserID:     userID,
		ReceivedAt: raw.ReceivedAt,
		Payload:    raw.Data,
	}
	if !r.notifications.Send(n) {
		r.logger.Debug("notification buffer closed, dropping", "type", kind)
	}
}
