package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/marketsync/internal/model"
)

// CandlesOptions configures a GetCandles request.
type CandlesOptions struct {
	Ticker   model.TickerKey
	Interval model.Interval
	Limit    int
	Before   time.Time // Exclusive upper bound, zero = none
	After    time.Time // Inclusive lower bound, zero = none
}

// APICandle is one bar from GET /candles.
type APICandle struct {
	Timestamp model.Timestamp `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// CandlesResponse wraps GET /candles when the server returns an object.
type CandlesResponse struct {
	Candles []APICandle `json:"candles"`
}

// APIOrderbook is the body of GET /orderbook/{ticker_id}.
type APIOrderbook struct {
	TickerID  model.FlexString   `json:"ticker_id"`
	Bids      []model.PriceLevel `json:"bids"`
	Asks      []model.PriceLevel `json:"asks"`
	Timestamp model.Timestamp    `json:"timestamp"`
}

// APIOrder is one record from GET /orders/open.
type APIOrder struct {
	ID             model.FlexString `json:"id"`
	TickerID       model.FlexString `json:"ticker_id"`
	Side           string           `json:"side"`
	Type           string           `json:"type"`
	Status         string           `json:"status"`
	Price          decimal.Decimal  `json:"price"`
	Quantity       decimal.Decimal  `json:"quantity"`
	FilledQuantity decimal.Decimal  `json:"filled_quantity"`
	CreatedAt      model.Timestamp  `json:"created_at"`
}

// OrdersResponse wraps GET /orders/open when the server returns an object.
type OrdersResponse struct {
	Orders []APIOrder `json:"orders"`
}

// APIHolding is one position in GET /portfolio.
type APIHolding struct {
	TickerID model.FlexString `json:"ticker_id"`
	Quantity decimal.Decimal  `json:"quantity"`
	AvgPrice decimal.Decimal  `json:"avg_price"`
}

// APIPortfolio is the body of GET /portfolio.
type APIPortfolio struct {
	Cash     decimal.Decimal `json:"cash"`
	Holdings []APIHolding    `json:"holdings"`
}

// APIUser is the body of GET /me.
type APIUser struct {
	ID       model.FlexString `json:"id"`
	Nickname string           `json:"nickname"`
}
