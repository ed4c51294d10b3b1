package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/rickgao/marketsync/internal/candles"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/prefs"
	"github.com/rickgao/marketsync/internal/store"
)

// Watch bootstraps the candle series for (ticker, interval) over rng and
// records it as the last viewed ticker and in the saved watchlist. An empty
// rng uses the configured default.
func (e *Engine) Watch(ctx context.Context, ticker model.TickerKey, interval model.Interval, rng candles.Range) (*candles.Series, error) {
	if !interval.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidInterval, interval)
	}
	if rng == "" {
		rng = e.candles.Config().DefaultRange
	}

	series := e.candles.Series(model.SeriesKey{Ticker: ticker, Interval: interval})
	if err := series.Bootstrap(ctx, rng); err != nil {
		return series, err
	}

	if err := e.prefs.SetLastViewedTicker(ctx, ticker); err != nil {
		e.logger.Warn("failed to save last viewed ticker", "ticker", ticker, "error", err)
	}
	e.saveWatch(ctx, prefs.Watch{Ticker: ticker, Interval: interval, Range: string(rng)})
	return series, nil
}

// Unwatch drops the series and removes it from the saved watchlist.
func (e *Engine) Unwatch(ctx context.Context, ticker model.TickerKey, interval model.Interval) {
	e.candles.Remove(model.SeriesKey{Ticker: ticker, Interval: interval})

	e.watchMu.Lock()
	e.watches = slices.DeleteFunc(e.watches, func(w prefs.Watch) bool {
		return w.Ticker == ticker && w.Interval == interval
	})
	list := slices.Clone(e.watches)
	e.watchMu.Unlock()

	if err := e.prefs.SetWatchlist(ctx, list); err != nil {
		e.logger.Warn("failed to save watchlist", "error", err)
	}
}

// Watchlist returns the watched series.
func (e *Engine) Watchlist() []prefs.Watch {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	return slices.Clone(e.watches)
}

// LastViewedTicker returns the persisted last viewed ticker.
func (e *Engine) LastViewedTicker(ctx context.Context) (model.TickerKey, bool, error) {
	return e.prefs.LastViewedTicker(ctx)
}

// SubscribeBook subscribes fn to the order book of ticker. When no snapshot
// is stored yet one is fetched in the background. The ticker counts as
// observed for reconnect resyncs until unsubscribe is called.
func (e *Engine) SubscribeBook(ticker model.TickerKey, fn store.Listener[model.OrderbookSnapshot]) (unsubscribe func()) {
	unsubscribe = e.books.Subscribe(ticker, fn)
	if !e.books.Has(ticker) && e.ctx != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.poller.FetchAll(e.ctx, []model.TickerKey{ticker})
		}()
	}
	return unsubscribe
}

// SubscribePrice subscribes fn to the live price of ticker.
func (e *Engine) SubscribePrice(ticker model.TickerKey, fn store.Listener[model.PriceTick]) (unsubscribe func()) {
	return e.prices.Subscribe(ticker, fn)
}

func (e *Engine) saveWatch(ctx context.Context, w prefs.Watch) {
	e.watchMu.Lock()
	i := slices.IndexFunc(e.watches, func(x prefs.Watch) bool {
		return x.Ticker == w.Ticker && x.Interval == w.Interval
	})
	if i >= 0 {
		e.watches[i] = w
	} else {
		e.watches = append(e.watches, w)
	}
	list := slices.Clone(e.watches)
	e.watchMu.Unlock()

	if err := e.prefs.SetWatchlist(ctx, list); err != nil {
		e.logger.Warn("failed to save watchlist", "error", err)
	}
}

// restoreWatchlist bootstraps every series saved by a previous run.
func (e *Engine) restoreWatchlist() {
	defer e.wg.Done()

	list, err := e.prefs.Watchlist(e.ctx)
	if err != nil {
		e.logger.Warn("failed to load watchlist", "error", err)
		return
	}

	for _, w := range list {
		if e.ctx.Err() != nil {
			return
		}
		rng, err := candles.ParseRange(w.Range)
		if err != nil {
			rng = ""
		}
		if _, err := e.Watch(e.ctx, w.Ticker, w.Interval, rng); err != nil {
			e.logger.Warn("failed to restore watched series",
				"ticker", w.Ticker,
				"interval", w.Interval,
				"error", err,
			)
		}
	}
	if len(list) > 0 {
		e.logger.Info("restored watchlist", "series", len(list))
	}
}
