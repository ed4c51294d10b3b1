package candles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/marketsync/internal/api"
	"github.com/rickgao/marketsync/internal/model"
)

var (
	// ErrFetchInProgress is returned when a history page is already loading.
	ErrFetchInProgress = errors.New("history fetch already in progress")
	// ErrNoMoreHistory is returned when there is nothing older to load.
	ErrNoMoreHistory = errors.New("no more history")
	// ErrStaleResponse is returned when a response arrives for a superseded
	// bootstrap. The response is discarded.
	ErrStaleResponse = errors.New("stale candle response")
)

// Fetcher loads candle pages. *api.Client satisfies it.
type Fetcher interface {
	GetCandles(ctx context.Context, opts api.CandlesOptions) ([]model.Candle, error)
}

// Status is the load state of a Series.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusReady
	StatusEmpty
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusEmpty:
		return "empty"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// State is a point-in-time view of a Series.
type State struct {
	Key        model.SeriesKey
	Status     Status
	Range      Range
	Err        error
	Bars       int
	Earliest   time.Time // Earliest loaded bucket, zero when empty
	HasMore    bool
	Fetching   bool
	Generation uint64
}

// Series holds the bars of one (ticker, interval).
type Series struct {
	key    model.SeriesKey
	cfg    Config
	client Fetcher
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	bars       []model.Candle
	status     Status
	rng        Range
	err        error
	earliest   time.Time
	hasMore    bool
	fetching   bool
	generation uint64

	subsMu sync.Mutex
	subs   map[int]func(State)
	nextID int
}

func newSeries(key model.SeriesKey, cfg Config, client Fetcher, logger *slog.Logger, now func() time.Time) *Series {
	return &Series{
		key:    key,
		cfg:    cfg,
		client: client,
		logger: logger.With("series", key.String()),
		now:    now,
		subs:   make(map[int]func(State)),
	}
}

// Key returns the series key.
func (s *Series) Key() model.SeriesKey { return s.key }

// Bootstrap replaces the series with the bars of range r. Each call starts a
// new generation; a response for an older generation is discarded and
// returns ErrStaleResponse.
func (s *Series) Bootstrap(ctx context.Context, r Range) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.status = StatusLoading
	s.rng = r
	s.err = nil
	s.fetching = false
	s.mu.Unlock()
	s.notify()

	opts := api.CandlesOptions{
		Ticker:   s.key.Ticker,
		Interval: s.key.Interval,
		Limit:    s.cfg.PageSize,
	}
	if start, ok := r.Start(s.now(), s.cfg.DayOffset); ok {
		opts.After = Align(start, s.key.Interval, s.cfg.DayOffset)
	}

	page, err := s.client.GetCandles(ctx, opts)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		s.logger.Debug("discarded stale bootstrap", "generation", gen)
		return ErrStaleResponse
	}
	if err != nil {
		s.status = StatusFailed
		s.err = err
		s.mu.Unlock()
		s.notify()
		s.logger.Warn("candle bootstrap failed", "range", r, "error", err)
		return fmt.Errorf("bootstrap %s: %w", s.key, err)
	}

	s.bars = merge(nil, page)
	s.hasMore = len(s.bars) > 0
	s.earliest = time.Time{}
	s.status = StatusEmpty
	if len(s.bars) > 0 {
		s.earliest = s.bars[0].Start
		s.status = StatusReady
	}
	n := len(s.bars)
	s.mu.Unlock()
	s.notify()

	s.logger.Debug("candle bootstrap complete", "range", r, "bars", n)
	return nil
}

// LoadOlder fetches one page of bars strictly before the earliest loaded
// bucket and prepends the ones not already present. It returns the number
// of bars added.
func (s *Series) LoadOlder(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.fetching {
		s.mu.Unlock()
		return 0, ErrFetchInProgress
	}
	if !s.hasMore || s.earliest.IsZero() {
		s.mu.Unlock()
		return 0, ErrNoMoreHistory
	}
	s.fetching = true
	gen := s.generation
	before := s.earliest
	s.mu.Unlock()
	s.notify()

	page, err := s.client.GetCandles(ctx, api.CandlesOptions{
		Ticker:   s.key.Ticker,
		Interval: s.key.Interval,
		Limit:    s.cfg.PageSize,
		Before:   before,
	})

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		s.logger.Debug("discarded stale history page", "generation", gen)
		return 0, ErrStaleResponse
	}
	s.fetching = false
	if err != nil {
		s.err = err
		s.mu.Unlock()
		s.notify()
		s.logger.Warn("candle history fetch failed", "before", before, "error", err)
		return 0, fmt.Errorf("load older %s: %w", s.key, err)
	}

	prev := len(s.bars)
	s.bars = merge(s.bars, page)
	added := len(s.bars) - prev
	if len(s.bars) > 0 {
		s.earliest = s.bars[0].Start
		s.status = StatusReady
	}
	if len(page) < s.cfg.PageSize {
		s.hasMore = false
	}
	overlapped := len(page) > 0 && added == 0
	if overlapped {
		// The cursor cannot move, so asking again returns the same page.
		s.hasMore = false
	}
	s.err = nil
	hasMore := s.hasMore
	s.mu.Unlock()
	s.notify()

	if overlapped {
		s.logger.Warn("history page added no new candles, stopping pagination",
			"before", before, "returned", len(page))
	}
	s.logger.Debug("loaded older candles",
		"returned", len(page),
		"added", added,
		"has_more", hasMore,
	)
	return added, nil
}

// MaybeLoadOlder loads an older page when visibleFrom is within PrefetchBars
// bars of the earliest loaded bucket. It reports whether a page was loaded.
// A guard refusal (in progress, no more history) is not an error.
func (s *Series) MaybeLoadOlder(ctx context.Context, visibleFrom time.Time) (bool, error) {
	s.mu.Lock()
	earliest := s.earliest
	s.mu.Unlock()
	if earliest.IsZero() {
		return false, nil
	}

	threshold := earliest.Add(time.Duration(s.cfg.PrefetchBars) * s.key.Interval.Duration())
	if visibleFrom.After(threshold) {
		return false, nil
	}

	_, err := s.LoadOlder(ctx)
	switch {
	case errors.Is(err, ErrFetchInProgress), errors.Is(err, ErrNoMoreHistory):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// ApplyTick folds a live price into the series. A tick in a bucket newer
// than the last bar opens a new bar; a tick in the last bucket updates its
// high, low and close. Ticks for older buckets are dropped. It reports
// whether the series changed.
func (s *Series) ApplyTick(price decimal.Decimal, at time.Time) bool {
	bucket := Align(at, s.key.Interval, s.cfg.DayOffset)

	s.mu.Lock()
	n := len(s.bars)
	switch {
	case n == 0 || bucket.After(s.bars[n-1].Start):
		s.bars = append(s.bars, model.Candle{
			Start:  bucket,
			Open:   price,
			High:   price,
			Low:    price,
			Close:  price,
			Volume: decimal.Zero,
		})
		if n == 0 {
			s.earliest = bucket
			if s.status != StatusLoading {
				s.status = StatusReady
			}
		}
	case bucket.Equal(s.bars[n-1].Start):
		last := &s.bars[n-1]
		if last.Close.Equal(price) && !price.GreaterThan(last.High) && !price.LessThan(last.Low) {
			s.mu.Unlock()
			return false
		}
		last.High = decimal.Max(last.High, price)
		last.Low = decimal.Min(last.Low, price)
		last.Close = price
	default:
		s.mu.Unlock()
		s.logger.Debug("dropped tick for closed bucket", "bucket", bucket)
		return false
	}
	s.mu.Unlock()
	s.notify()
	return true
}

// Candles returns a copy of the bars, oldest first.
func (s *Series) Candles() []model.Candle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Candle(nil), s.bars...)
}

// Points returns the reduced {time, close} form of the bars.
func (s *Series) Points() []model.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Point, len(s.bars))
	for i, c := range s.bars {
		out[i] = c.Point()
	}
	return out
}

// Last returns the newest bar.
func (s *Series) Last() (model.Candle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.bars) == 0 {
		return model.Candle{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// State returns the current state.
func (s *Series) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Subscribe registers fn to be called with the new state after every
// change. Callbacks run on the goroutine that made the change.
func (s *Series) Subscribe(fn func(State)) (unsubscribe func()) {
	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *Series) stateLocked() State {
	return State{
		Key:        s.key,
		Status:     s.status,
		Range:      s.rng,
		Err:        s.err,
		Bars:       len(s.bars),
		Earliest:   s.earliest,
		HasMore:    s.hasMore,
		Fetching:   s.fetching,
		Generation: s.generation,
	}
}

func (s *Series) notify() {
	st := s.State()

	s.subsMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(State), len(ids))
	for i, id := range ids {
		fns[i] = s.subs[id]
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

// merge adds the bars of page whose bucket is not already in bars, keeping
// the first occurrence of a duplicate bucket, and returns the result sorted
// ascending.
func merge(bars, page []model.Candle) []model.Candle {
	seen := make(map[int64]struct{}, len(bars)+len(page))
	out := make([]model.Candle, 0, len(bars)+len(page))
	for _, c := range bars {
		seen[c.Start.UnixNano()] = struct{}{}
		out = append(out, c)
	}
	for _, c := range page {
		k := c.Start.UnixNano()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		c.Start = c.Start.UTC()
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}
