package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/marketsync/internal/model"
)

func snapshot(ticker model.TickerKey, ms int64, bid string) model.OrderbookSnapshot {
	return model.OrderbookSnapshot{
		Ticker:    ticker,
		Bids:      []model.PriceLevel{{Price: decimal.RequireFromString(bid), Quantity: decimal.NewFromInt(1)}},
		Timestamp: time.UnixMilli(ms),
	}
}

func TestStore_WriteRead(t *testing.T) {
	s := New[model.TickerKey, model.OrderbookSnapshot]("orderbook", nil)

	if _, ok := s.Read("Y"); ok {
		t.Fatal("empty store should not return a value")
	}

	if got := s.Write("Y", snapshot("Y", 1000, "10")); got != Applied {
		t.Fatalf("Write = %v, want applied", got)
	}

	v, ok := s.Read("Y")
	if !ok {
		t.Fatal("expected value after write")
	}
	if v.Timestamp.UnixMilli() != 1000 {
		t.Errorf("Timestamp = %d, want 1000", v.Timestamp.UnixMilli())
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestStore_RejectsStaleWrite(t *testing.T) {
	s := New[model.TickerKey, model.OrderbookSnapshot]("orderbook", nil)

	var notified int
	s.Subscribe("Y", func(model.OrderbookSnapshot, bool) { notified++ })

	s.Write("Y", snapshot("Y", 1000, "10"))
	if got := s.Write("Y", snapshot("Y", 900, "11")); got != Stale {
		t.Errorf("Write(older) = %v, want stale", got)
	}

	v, _ := s.Read("Y")
	if v.Timestamp.UnixMilli() != 1000 {
		t.Errorf("stored timestamp = %d, want 1000", v.Timestamp.UnixMilli())
	}
	if notified != 1 {
		t.Errorf("notified = %d, want 1", notified)
	}
	if s.Stats().Stale != 1 {
		t.Errorf("Stats().Stale = %d, want 1", s.Stats().Stale)
	}
}

func TestStore_UnchangedPriceAdvancesVersion(t *testing.T) {
	s := New[model.TickerKey, model.PriceTick]("price", nil)
	t0 := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	price := func(p int64, at time.Duration) model.PriceTick {
		return model.PriceTick{Ticker: "X", Price: decimal.NewFromInt(p), Timestamp: t0.Add(at)}
	}

	var notified int
	s.Subscribe("X", func(model.PriceTick, bool) { notified++ })

	tests := []struct {
		tick model.PriceTick
		want Result
	}{
		{price(100, 0), Applied},
		{price(100, 20*time.Second), Unchanged},
		{price(99, 10*time.Second), Stale},
	}
	for i, tt := range tests {
		if got := s.Write("X", tt.tick); got != tt.want {
			t.Errorf("write %d = %v, want %v", i, got, tt.want)
		}
	}

	v, _ := s.Read("X")
	if !v.Price.Equal(decimal.NewFromInt(100)) || !v.Timestamp.Equal(t0.Add(20*time.Second)) {
		t.Errorf("stored = %s@%s, want 100@+20s", v.Price, v.Timestamp.Sub(t0))
	}
	if notified != 1 {
		t.Errorf("notified = %d, want 1", notified)
	}
}

func TestStore_EqualTimestampIsNotStale(t *testing.T) {
	s := New[model.TickerKey, model.OrderbookSnapshot]("orderbook", nil)

	s.Write("Y", snapshot("Y", 1000, "10"))
	if got := s.Write("Y", snapshot("Y", 1000, "12")); got != Applied {
		t.Errorf("Write(same ts, new book) = %v, want applied", got)
	}
}

func TestStore_MissingVersionBypassesGuard(t *testing.T) {
	s := New[model.TickerKey, model.OrderbookSnapshot]("orderbook", nil)

	s.Write("Y", snapshot("Y", 1000, "10"))

	noTs := snapshot("Y", 0, "9")
	noTs.Timestamp = time.Time{}
	if got := s.Write("Y", noTs); got != Applied {
		t.Errorf("Write(no timestamp) = %v, want applied", got)
	}
}

func TestStore_UnchangedDoesNotNotify(t *testing.T) {
	s := New[string, model.PriceTick]("price", nil)

	var notified int
	s.Subscribe("X", func(model.PriceTick, bool) { notified++ })

	s.Write("X", model.PriceTick{Ticker: "X", Price: decimal.NewFromInt(100)})
	if got := s.Write("X", model.PriceTick{Ticker: "X", Price: decimal.RequireFromString("100.00")}); got != Unchanged {
		t.Errorf("Write(equal) = %v, want unchanged", got)
	}
	if notified != 1 {
		t.Errorf("notified = %d, want 1", notified)
	}
}

func TestStore_DeepEqualFallback(t *testing.T) {
	s := New[string, []string]("tags", nil)

	var notified int
	s.Subscribe("k", func([]string, bool) { notified++ })

	s.Write("k", []string{"a", "b"})
	s.Write("k", []string{"a", "b"})
	s.Write("k", []string{"a"})

	if notified != 2 {
		t.Errorf("notified = %d, want 2", notified)
	}
}

func TestStore_PerKeyNotification(t *testing.T) {
	s := New[string, int]("counts", nil)

	var a, b int
	s.Subscribe("a", func(int, bool) { a++ })
	s.Subscribe("b", func(int, bool) { b++ })

	s.Write("a", 1)
	s.Write("a", 2)
	s.Write("c", 1)

	if a != 2 {
		t.Errorf("a listener calls = %d, want 2", a)
	}
	if b != 0 {
		t.Errorf("b listener calls = %d, want 0", b)
	}
}

func TestStore_Delete(t *testing.T) {
	s := New[string, int]("counts", nil)

	var gotOK = true
	var calls int
	s.Subscribe("a", func(_ int, ok bool) {
		calls++
		gotOK = ok
	})

	s.Write("a", 1)
	if got := s.Delete("a"); got != Deleted {
		t.Errorf("Delete = %v, want deleted", got)
	}
	if s.Has("a") {
		t.Error("key should be gone after delete")
	}
	if calls != 2 || gotOK {
		t.Errorf("calls = %d, last ok = %v; want 2, false", calls, gotOK)
	}

	// Deleting an absent key still notifies.
	s.Delete("a")
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestStore_Unsubscribe(t *testing.T) {
	s := New[string, int]("counts", nil)

	var calls int
	unsub := s.Subscribe("a", func(int, bool) { calls++ })

	s.Write("a", 1)
	unsub()
	unsub() // idempotent
	s.Write("a", 2)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(s.ObservedKeys()) != 0 {
		t.Errorf("ObservedKeys() = %v, want empty", s.ObservedKeys())
	}
}

func TestStore_ObservedKeys(t *testing.T) {
	s := New[model.TickerKey, int]("books", nil)

	unsubA := s.Subscribe("A", func(int, bool) {})
	s.Subscribe("A", func(int, bool) {})
	s.Subscribe("B", func(int, bool) {})
	s.Write("C", 1)

	keys := s.ObservedKeys()
	if len(keys) != 2 {
		t.Fatalf("ObservedKeys() = %v, want [A B]", keys)
	}

	unsubA()
	if got := len(s.ObservedKeys()); got != 2 {
		t.Errorf("A still has one subscriber; ObservedKeys len = %d, want 2", got)
	}
}

func TestStore_ListenerMayWrite(t *testing.T) {
	s := New[string, int]("counts", nil)

	// Listeners run outside the lock, so writing another key must not deadlock.
	s.Subscribe("a", func(v int, _ bool) { s.Write("b", v*10) })
	s.Write("a", 3)

	if v, _ := s.Read("b"); v != 30 {
		t.Errorf("b = %d, want 30", v)
	}
}
