package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/rickgao/marketsync/internal/candles"
	"github.com/rickgao/marketsync/internal/config"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/prefs"
)

// backend fakes the REST API and the websocket feed.
type backend struct {
	rest  *httptest.Server
	feed  *httptest.Server
	conns chan *websocket.Conn

	mu          sync.Mutex
	bookFetches map[string]int
	portfolios  int
	bookStamp   int64
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{
		conns:       make(chan *websocket.Conn, 4),
		bookFetches: make(map[string]int),
		bookStamp:   time.Now().UnixMilli(),
	}

	b.rest = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/me":
			fmt.Fprint(w, `{"id":"u-1","nickname":"tester"}`)
		case r.URL.Path == "/orders/open":
			fmt.Fprint(w, `[{"id":"o-1","ticker_id":"X","side":"buy","type":"limit","status":"open","price":"100","quantity":"2"}]`)
		case r.URL.Path == "/portfolio":
			b.mu.Lock()
			b.portfolios++
			b.mu.Unlock()
			fmt.Fprint(w, `{"cash":"1000","holdings":[{"ticker_id":"X","quantity":"3","avg_price":"99"}]}`)
		case strings.HasPrefix(r.URL.Path, "/orderbook/"):
			ticker := strings.TrimPrefix(r.URL.Path, "/orderbook/")
			b.mu.Lock()
			b.bookFetches[ticker]++
			b.bookStamp++
			stamp := b.bookStamp
			b.mu.Unlock()
			fmt.Fprintf(w, `{"ticker_id":%q,"bids":[[99,5]],"asks":[[101,5]],"timestamp":%d}`, ticker, stamp)
		case r.URL.Path == "/candles":
			now := time.Now().UTC().Truncate(time.Minute)
			fmt.Fprintf(w, `[{"timestamp":%d,"open":"98","high":"99","low":"97","close":"98","volume":"1"},`+
				`{"timestamp":%d,"open":"98","high":"100","low":"98","close":"100","volume":"1"}]`,
				now.Add(-2*time.Minute).UnixMilli(), now.Add(-time.Minute).UnixMilli())
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	upgrader := websocket.Upgrader{}
	b.feed = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		b.conns <- conn
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))

	t.Cleanup(func() {
		b.feed.Close()
		b.rest.Close()
	})
	return b
}

func (b *backend) fetches(ticker string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bookFetches[ticker]
}

func (b *backend) config() *config.Config {
	cfg := config.Default()
	cfg.API.RestURL = b.rest.URL
	cfg.API.WSURL = "ws" + strings.TrimPrefix(b.feed.URL, "http")
	cfg.API.Token = "token"
	cfg.API.MaxRetries = 0
	cfg.Buffers.PriceFlushInterval = 20 * time.Millisecond
	cfg.Buffers.OrderbookFlushInterval = 20 * time.Millisecond
	cfg.Refresh.Interval = 20 * time.Millisecond
	cfg.Feed.ReconnectBaseDelay = 10 * time.Millisecond
	cfg.Feed.ReconnectMaxDelay = 50 * time.Millisecond
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func nextConn(t *testing.T, b *backend) *websocket.Conn {
	t.Helper()
	select {
	case c := <-b.conns:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for feed connection")
		return nil
	}
}

func send(t *testing.T, c *websocket.Conn, frame string) {
	t.Helper()
	if err := c.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestEngine_EndToEnd(t *testing.T) {
	b := newBackend(t)
	mem := prefs.NewMemoryStore()

	e, err := New(b.config(), mem, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := e.Stop(stopCtx); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	}()

	if id, ok := e.Session().UserID(); !ok || id != "u-1" {
		t.Fatalf("session user = %q, %v, want u-1", id, ok)
	}

	conn := nextConn(t, b)

	// Subscribing to a book with no snapshot fetches one over REST.
	unsubscribe := e.SubscribeBook("X", func(model.OrderbookSnapshot, bool) {})
	defer unsubscribe()
	waitFor(t, "initial snapshot", func() bool { return e.Books().Has("X") })

	series, err := e.Watch(ctx, "X", model.Interval1m, candles.RangeAll)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	if series.State().Bars != 2 {
		t.Errorf("bootstrap bars = %d, want 2", series.State().Bars)
	}

	// Live prices go through the buffer into the store and the candle series.
	send(t, conn, fmt.Sprintf(`{"type":"ticker","ticker_id":"X","price":"105","timestamp":%d}`, time.Now().UnixMilli()))
	waitFor(t, "price in store", func() bool {
		tick, ok := e.Prices().Read("X")
		return ok && tick.Price.Equal(decimal.NewFromInt(105))
	})
	waitFor(t, "live candle", func() bool {
		last, ok := series.Last()
		return ok && last.Close.Equal(decimal.NewFromInt(105))
	})

	// User-scoped invalidation refreshes the portfolio.
	send(t, conn, `{"type":"wallet_updated","user_id":"u-1"}`)
	waitFor(t, "portfolio", func() bool {
		p, ok := e.Portfolios().Read("u-1")
		return ok && p.Cash.Equal(decimal.NewFromInt(1000))
	})
	waitFor(t, "invalidation", func() bool { return e.Refresh().Stats().Invalidations == 1 })
	if orders, ok := e.Orders().Read("u-1"); !ok || len(orders.Orders) != 1 {
		t.Errorf("open orders = %+v, %v", orders, ok)
	}

	// A dropped feed reconnects and re-fetches observed books.
	before := b.fetches("X")
	conn.Close()
	nextConn(t, b)
	waitFor(t, "resync snapshot", func() bool { return b.fetches("X") == before+1 })
	waitFor(t, "reconnect stats", func() bool { return e.Stats().Connection.Reconnects == 1 })

	stats := e.Stats()
	if !stats.Authenticated || stats.UserID != "u-1" {
		t.Errorf("Stats() session = %q, %v", stats.UserID, stats.Authenticated)
	}
	if stats.Refresh.Resyncs != 1 {
		t.Errorf("Resyncs = %d, want 1", stats.Refresh.Resyncs)
	}
	if stats.Candles.Series != 1 {
		t.Errorf("Candles.Series = %d, want 1", stats.Candles.Series)
	}

	if got, ok, _ := e.LastViewedTicker(ctx); !ok || got != "X" {
		t.Errorf("LastViewedTicker() = %q, %v, want X", got, ok)
	}
	if list, _ := mem.Watchlist(ctx); len(list) != 1 || list[0].Range != "ALL" {
		t.Errorf("saved watchlist = %+v", list)
	}
}

func TestEngine_WatchRejectsBadInterval(t *testing.T) {
	b := newBackend(t)
	e, _ := New(b.config(), nil, nil)

	if _, err := e.Watch(context.Background(), "X", "2m", ""); err == nil {
		t.Error("Watch should reject an unknown interval")
	}
}

func TestEngine_UnwatchUpdatesWatchlist(t *testing.T) {
	b := newBackend(t)
	mem := prefs.NewMemoryStore()
	e, _ := New(b.config(), mem, nil)
	ctx := context.Background()

	if _, err := e.Watch(ctx, "X", model.Interval1m, ""); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	if _, err := e.Watch(ctx, "Y", model.Interval1h, candles.Range1W); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	if list := e.Watchlist(); len(list) != 2 || list[0].Range != "1D" {
		t.Fatalf("Watchlist() = %+v", list)
	}

	e.Unwatch(ctx, "X", model.Interval1m)

	list, _ := mem.Watchlist(ctx)
	if len(list) != 1 || list[0].Ticker != "Y" {
		t.Errorf("saved watchlist = %+v, want [Y]", list)
	}
	if _, ok := e.Candles().Lookup(model.SeriesKey{Ticker: "X", Interval: model.Interval1m}); ok {
		t.Error("series should be removed")
	}
}

func TestEngine_RestoresWatchlist(t *testing.T) {
	b := newBackend(t)
	mem := prefs.NewMemoryStore()
	mem.SetWatchlist(context.Background(), []prefs.Watch{
		{Ticker: "Z", Interval: model.Interval5m, Range: "1D"},
	})

	e, _ := New(b.config(), mem, nil)
	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	key := model.SeriesKey{Ticker: "Z", Interval: model.Interval5m}
	waitFor(t, "restored series", func() bool {
		s, ok := e.Candles().Lookup(key)
		return ok && s.State().Status == candles.StatusReady
	})

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := e.Stop(stopCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestEngine_NewValidatesConfig(t *testing.T) {
	if _, err := New(config.Default(), nil, nil); err == nil {
		t.Error("New should fail without endpoints")
	}
}
