package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TickerKey identifies a tradable instrument. Used as a map key everywhere.
type TickerKey string

// -----------------------------------------------------------------------------
// Live Market Data
// -----------------------------------------------------------------------------

// PriceTick is the latest traded price for a ticker.
type PriceTick struct {
	Ticker    TickerKey
	Price     decimal.Decimal
	Timestamp time.Time // Zero if the feed did not provide one
}

// Version returns the tick timestamp when present.
func (p PriceTick) Version() (time.Time, bool) {
	return p.Timestamp, !p.Timestamp.IsZero()
}

// Equal reports whether two ticks carry the same price for the same ticker.
func (p PriceTick) Equal(o PriceTick) bool {
	return p.Ticker == o.Ticker && p.Price.Equal(o.Price)
}

// OrderbookSnapshot is a full view of one ticker's book.
type OrderbookSnapshot struct {
	Ticker    TickerKey
	Bids      []PriceLevel // Descending by price
	Asks      []PriceLevel // Ascending by price
	Timestamp time.Time    // Zero if not provided
	Source    string       // "ws" or "rest"
}

// Version returns the snapshot timestamp when present.
func (s OrderbookSnapshot) Version() (time.Time, bool) {
	return s.Timestamp, !s.Timestamp.IsZero()
}

// Equal compares two snapshots level by level. Source is ignored.
func (s OrderbookSnapshot) Equal(o OrderbookSnapshot) bool {
	if s.Ticker != o.Ticker || !s.Timestamp.Equal(o.Timestamp) {
		return false
	}
	return levelsEqual(s.Bids, o.Bids) && levelsEqual(s.Asks, o.Asks)
}

// BestBid returns the highest bid, if any.
func (s OrderbookSnapshot) BestBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the lowest ask, if any.
func (s OrderbookSnapshot) BestAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// Spread returns BestAsk - BestBid, or false if either side is empty.
func (s OrderbookSnapshot) Spread() (decimal.Decimal, bool) {
	bid, ok := s.BestBid()
	if !ok {
		return decimal.Zero, false
	}
	ask, ok := s.BestAsk()
	if !ok {
		return decimal.Zero, false
	}
	return ask.Price.Sub(bid.Price), true
}

func levelsEqual(a, b []PriceLevel) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Price.Equal(b[i].Price) || !a[i].Quantity.Equal(b[i].Quantity) {
			return false
		}
	}
	return true
}

// -----------------------------------------------------------------------------
// Candles
// -----------------------------------------------------------------------------

// Candle is one OHLC bar. Start is the aligned bucket start.
type Candle struct {
	Start  time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// Point returns the reduced {time, value} form used by area-style series.
func (c Candle) Point() Point {
	return Point{Time: c.Start, Value: c.Close}
}

// Point is a single area-series sample.
type Point struct {
	Time  time.Time
	Value decimal.Decimal
}

// SeriesKey identifies one candle series.
type SeriesKey struct {
	Ticker   TickerKey
	Interval Interval
}

func (k SeriesKey) String() string {
	return string(k.Ticker) + "@" + string(k.Interval)
}

// -----------------------------------------------------------------------------
// User-Scoped Data
// -----------------------------------------------------------------------------

// User is the authenticated session user.
type User struct {
	ID       string
	Nickname string
}

// Order is an open order belonging to the session user.
type Order struct {
	ID             string
	Ticker         TickerKey
	Side           string // "buy" or "sell"
	Type           string // "limit" or "market"
	Status         string
	Price          decimal.Decimal
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	CreatedAt      time.Time
}

func (o Order) equal(x Order) bool {
	return o.ID == x.ID &&
		o.Ticker == x.Ticker &&
		o.Side == x.Side &&
		o.Type == x.Type &&
		o.Status == x.Status &&
		o.Price.Equal(x.Price) &&
		o.Quantity.Equal(x.Quantity) &&
		o.FilledQuantity.Equal(x.FilledQuantity) &&
		o.CreatedAt.Equal(x.CreatedAt)
}

// OpenOrders is the open-order list for one user, replaced wholesale on each fetch.
type OpenOrders struct {
	UserID string
	Orders []Order
}

// Equal compares order lists element by element.
func (o OpenOrders) Equal(x OpenOrders) bool {
	if o.UserID != x.UserID || len(o.Orders) != len(x.Orders) {
		return false
	}
	for i := range o.Orders {
		if !o.Orders[i].equal(x.Orders[i]) {
			return false
		}
	}
	return true
}

// Holding is a position in one ticker.
type Holding struct {
	Ticker   TickerKey
	Quantity decimal.Decimal
	AvgPrice decimal.Decimal
}

// Portfolio is the holdings and cash snapshot for one user.
type Portfolio struct {
	UserID   string
	Cash     decimal.Decimal
	Holdings []Holding
}

// Equal compares cash and holdings.
func (p Portfolio) Equal(x Portfolio) bool {
	if p.UserID != x.UserID || !p.Cash.Equal(x.Cash) || len(p.Holdings) != len(x.Holdings) {
		return false
	}
	for i := range p.Holdings {
		a, b := p.Holdings[i], x.Holdings[i]
		if a.Ticker != b.Ticker || !a.Quantity.Equal(b.Quantity) || !a.AvgPrice.Equal(b.AvgPrice) {
			return false
		}
	}
	return true
}
