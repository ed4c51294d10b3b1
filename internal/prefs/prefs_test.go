package prefs

import (
	"context"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/rickgao/marketsync/internal/model"
)

// exerciseStore runs the shared Store contract against s.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.LastViewedTicker(ctx); err != nil || ok {
		t.Fatalf("LastViewedTicker() on empty store = %v, %v", ok, err)
	}

	if err := s.SetLastViewedTicker(ctx, "BTC-USD"); err != nil {
		t.Fatalf("SetLastViewedTicker failed: %v", err)
	}
	if err := s.SetLastViewedTicker(ctx, "ETH-USD"); err != nil {
		t.Fatalf("SetLastViewedTicker failed: %v", err)
	}
	got, ok, err := s.LastViewedTicker(ctx)
	if err != nil || !ok || got != "ETH-USD" {
		t.Errorf("LastViewedTicker() = %q, %v, %v, want ETH-USD", got, ok, err)
	}

	watches := []Watch{
		{Ticker: "ETH-USD", Interval: model.Interval1m, Range: "1D"},
		{Ticker: "BTC-USD", Interval: model.Interval1d, Range: "1Y"},
	}
	if err := s.SetWatchlist(ctx, watches); err != nil {
		t.Fatalf("SetWatchlist failed: %v", err)
	}
	list, err := s.Watchlist(ctx)
	if err != nil {
		t.Fatalf("Watchlist failed: %v", err)
	}
	if len(list) != 2 || list[0] != watches[0] || list[1] != watches[1] {
		t.Errorf("Watchlist() = %+v, want %+v", list, watches)
	}

	// Replace, not append.
	if err := s.SetWatchlist(ctx, watches[1:]); err != nil {
		t.Fatalf("SetWatchlist failed: %v", err)
	}
	list, _ = s.Watchlist(ctx)
	if len(list) != 1 || list[0] != watches[1] {
		t.Errorf("Watchlist() = %+v, want %+v", list, watches[1:])
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	exerciseStore(t, s)
}

func TestMemoryStore_WatchlistIsCopied(t *testing.T) {
	s := NewMemoryStore()
	watches := []Watch{{Ticker: "A", Interval: model.Interval1m, Range: "1D"}}
	s.SetWatchlist(context.Background(), watches)

	watches[0].Ticker = "B"
	list, _ := s.Watchlist(context.Background())
	if list[0].Ticker != "A" {
		t.Errorf("stored watch changed through caller slice: %+v", list[0])
	}
}

// TestPGStore runs against a real database when MARKETSYNC_TEST_POSTGRES_URL
// is set.
func TestPGStore(t *testing.T) {
	connStr := os.Getenv("MARKETSYNC_TEST_POSTGRES_URL")
	if connStr == "" {
		t.Skip("MARKETSYNC_TEST_POSTGRES_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	profile := "test-" + t.Name()
	s, err := NewPGStore(ctx, pool, profile, nil)
	if err != nil {
		t.Fatalf("NewPGStore failed: %v", err)
	}
	t.Cleanup(func() {
		pool.Exec(ctx, `DELETE FROM client_prefs WHERE profile = $1`, profile)
		pool.Exec(ctx, `DELETE FROM client_watches WHERE profile = $1`, profile)
		s.Close()
	})

	exerciseStore(t, s)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	s, err := NewRedisStore(context.Background(), client, "desk", nil)
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	t.Cleanup(s.Close)

	exerciseStore(t, s)

	if got := mr.HGet("marketsync:prefs:desk", keyLastViewed); got != "ETH-USD" {
		t.Errorf("stored last viewed = %q, want ETH-USD", got)
	}
}

func TestRedisStore_ProfilesAreIsolated(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	a, err := NewRedisStore(ctx, redis.NewClient(&redis.Options{Addr: mr.Addr()}), "a", nil)
	if err != nil {
		t.Fatalf("NewRedisStore(a): %v", err)
	}
	defer a.Close()
	b, err := NewRedisStore(ctx, redis.NewClient(&redis.Options{Addr: mr.Addr()}), "b", nil)
	if err != nil {
		t.Fatalf("NewRedisStore(b): %v", err)
	}
	defer b.Close()

	a.SetLastViewedTicker(ctx, "BTC-USD")
	if _, ok, _ := b.LastViewedTicker(ctx); ok {
		t.Error("profile b sees profile a's ticker")
	}
}

func TestRedisStore_SkipsUnreadableWatch(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	s, err := NewRedisStore(ctx, redis.NewClient(&redis.Options{Addr: mr.Addr()}), "p", nil)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer s.Close()

	mr.RPush("marketsync:watches:p", "not json", `{"Ticker":"BTC-USD","Interval":"1h","Range":"1W"}`)
	list, err := s.Watchlist(ctx)
	if err != nil {
		t.Fatalf("Watchlist: %v", err)
	}
	if len(list) != 1 || list[0].Ticker != "BTC-USD" || list[0].Interval != model.Interval1h {
		t.Errorf("Watchlist() = %+v", list)
	}
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()

	if _, err := NewRedisStore(context.Background(), client, "p", nil); err == nil {
		t.Error("NewRedisStore succeeded against an unreachable server")
	}
}
