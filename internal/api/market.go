package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rickgao/marketsync/internal/model"
)

// GetCandles fetches candle history, oldest first.
func (c *Client) GetCandles(ctx context.Context, opts CandlesOptions) ([]model.Candle, error) {
	query := url.Values{}
	query.Set("ticker_id", string(opts.Ticker))
	query.Set("interval", string(opts.Interval))

	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if !opts.Before.IsZero() {
		query.Set("before", strconv.FormatInt(opts.Before.UnixMilli(), 10))
	}
	if !opts.After.IsZero() {
		query.Set("after", strconv.FormatInt(opts.After.UnixMilli(), 10))
	}

	body, err := c.fetch(ctx, http.MethodGet, "/candles", query)
	if err != nil {
		return nil, fmt.Errorf("get candles %s: %w", opts.Ticker, err)
	}

	var resp CandlesResponse
	if err := unmarshalList(body, &resp.Candles, &resp); err != nil {
		return nil, fmt.Errorf("get candles %s: unmarshal response: %w", opts.Ticker, err)
	}

	candles := make([]model.Candle, 0, len(resp.Candles))
	for _, ac := range resp.Candles {
		candles = append(candles, ToCandle(ac))
	}
	return candles, nil
}

// GetOrderbook fetches the order book snapshot for a ticker.
func (c *Client) GetOrderbook(ctx context.Context, ticker model.TickerKey) (model.OrderbookSnapshot, error) {
	var resp APIOrderbook
	if err := c.get(ctx, "/orderbook/"+url.PathEscape(string(ticker)), nil, &resp); err != nil {
		return model.OrderbookSnapshot{}, fmt.Errorf("get orderbook %s: %w", ticker, err)
	}
	return ToSnapshot(ticker, resp), nil
}
