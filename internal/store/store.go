package store

import (
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Result is the outcome of a write.
type Result int

const (
	// Applied means the value replaced the stored one and subscribers were notified.
	Applied Result = iota
	// Unchanged means the value equalled the stored one. No notification.
	Unchanged
	// Stale means the value was older than the stored one and was rejected.
	Stale
	// Deleted means the key was removed and subscribers were notified.
	Deleted
)

func (r Result) String() string {
	switch r {
	case Applied:
		return "applied"
	case Unchanged:
		return "unchanged"
	case Stale:
		return "stale"
	case Deleted:
		return "deleted"
	}
	return "unknown"
}

// Versioned values expose an ordering field for the freshness guard.
// ok is false when the value carries no ordering information.
type Versioned interface {
	Version() (t time.Time, ok bool)
}

// Listener receives the new value for a key. ok is false after a delete.
type Listener[V any] func(value V, ok bool)

// Stats contains write counters.
type Stats struct {
	Keys      int
	Applied   int64
	Unchanged int64
	Stale     int64
	Deleted   int64
}

type subscription[V any] struct {
	id int64
	fn Listener[V]
}

// Store is a keyed map with a per-key freshness guard and per-key subscribers.
type Store[K comparable, V any] struct {
	name   string
	logger *slog.Logger

	mu     sync.RWMutex
	values map[K]V
	subs   map[K][]subscription[V]
	nextID int64

	stats Stats
}

// New creates an empty Store. name is used in log lines.
func New[K comparable, V any](name string, logger *slog.Logger) *Store[K, V] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store[K, V]{
		name:   name,
		logger: logger.With("store", name),
		values: make(map[K]V),
		subs:   make(map[K][]subscription[V]),
	}
}

// Write stores v under key unless it is stale or unchanged. An unchanged value
// with a newer version still replaces the stored copy, without notifying, so
// the freshness guard keeps measuring against the latest version seen.
func (s *Store[K, V]) Write(key K, v V) Result {
	s.mu.Lock()
	current, exists := s.values[key]
	if exists {
		if isOlder(v, current) {
			s.stats.Stale++
			s.mu.Unlock()
			s.logger.Warn("rejected stale write", "key", key)
			return Stale
		}
		if equal(current, v) {
			if isOlder(current, v) {
				s.values[key] = v
			}
			s.stats.Unchanged++
			s.mu.Unlock()
			return Unchanged
		}
	}
	s.values[key] = v
	s.stats.Applied++
	listeners := s.listenersLocked(key)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(v, true)
	}
	return Applied
}

// Delete removes key. Subscribers of key are notified even if nothing was stored.
func (s *Store[K, V]) Delete(key K) Result {
	s.mu.Lock()
	delete(s.values, key)
	s.stats.Deleted++
	listeners := s.listenersLocked(key)
	s.mu.Unlock()

	var zero V
	for _, fn := range listeners {
		fn(zero, false)
	}
	return Deleted
}

// Read returns the value stored under key.
func (s *Store[K, V]) Read(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Has reports whether key has a stored value.
func (s *Store[K, V]) Has(key K) bool {
	_, ok := s.Read(key)
	return ok
}

// Subscribe registers fn for changes to key. The returned func removes it.
func (s *Store[K, V]) Subscribe(key K, fn Listener[V]) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[key] = append(s.subs[key], subscription[V]{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.unsubscribe(key, id) })
	}
}

func (s *Store[K, V]) unsubscribe(key K, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.subs[key]
	for i, sub := range list {
		if sub.id == id {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.subs, key)
		return
	}
	s.subs[key] = list
}

// ObservedKeys returns every key with at least one subscriber.
func (s *Store[K, V]) ObservedKeys() []K {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]K, 0, len(s.subs))
	for k := range s.subs {
		keys = append(keys, k)
	}
	return keys
}

// Keys returns every key with a stored value.
func (s *Store[K, V]) Keys() []K {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]K, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of stored keys.
func (s *Store[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Stats returns write counters.
func (s *Store[K, V]) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.stats
	st.Keys = len(s.values)
	return st
}

// listenersLocked copies key's listeners. Must be called with lock held.
func (s *Store[K, V]) listenersLocked(key K) []Listener[V] {
	list := s.subs[key]
	if len(list) == 0 {
		return nil
	}
	out := make([]Listener[V], len(list))
	for i, sub := range list {
		out[i] = sub.fn
	}
	return out
}

// isOlder reports whether incoming is strictly older than current.
// Both values must expose a version for the guard to apply.
func isOlder[V any](incoming, current V) bool {
	in, ok := any(incoming).(Versioned)
	if !ok {
		return false
	}
	cur, ok := any(current).(Versioned)
	if !ok {
		return false
	}
	inTs, inOK := in.Version()
	curTs, curOK := cur.Version()
	if !inOK || !curOK {
		return false
	}
	return inTs.Before(curTs)
}

func equal[V any](a, b V) bool {
	if eq, ok := any(a).(interface{ Equal(V) bool }); ok {
		return eq.Equal(b)
	}
	return reflect.DeepEqual(a, b)
}
