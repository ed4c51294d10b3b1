package router

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/marketsync/internal/model"
)

// Errors
var (
	ErrUnknownType = errors.New("unknown message type")
	ErrMalformed   = errors.New("malformed message")
)

// Message types on the push feed.
const (
	TypeTicker         = "ticker"
	TypePriceUpdated   = "price_updated"
	TypeOrderbook      = "orderbook"
	TypeOrderCreated   = "order_created"
	TypeOrderAccepted  = "order_accepted"
	TypeOrderUpdated   = "order_updated"
	TypeOrderCancelled = "order_cancelled"
	TypeTradeExecuted  = "trade_executed"
	TypeWalletUpdated  = "wallet_updated"
	TypeLiquidation    = "liquidation"
)

// RouterConfig holds configuration for the Event Router.
type RouterConfig struct {
	NotificationBufferSize  int // Initial capacity, grows on demand. Default: 256
	NotificationBufferLimit int // Max queued notifications, oldest evicted first (0 = unbounded)
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		NotificationBufferSize: 256,
	}
}

// Notification carries a user-facing event to downstream notification logic.
type Notification struct {
	Type       string
	Ticker     model.TickerKey
	UserID     string
	ReceivedAt time.Time
	Payload    json.RawMessage // Full frame, opaque
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	MessagesReceived int64
	MessagesRouted   int64
	ParseErrors      int64
	UnknownMessages  int64
	FastStartWrites  int64
	OtherUserEvents  int64 // Private events for a different (or no) session user
	Notifications    QueueStats
}

// Wire types for JSON parsing

// messageEnvelope is used for fast type extraction.
type messageEnvelope struct {
	Type string `json:"type"`
}

// priceWire is the wire format for ticker and price_updated messages.
type priceWire struct {
	TickerID  model.FlexString    `json:"ticker_id"`
	Price     decimal.NullDecimal `json:"price"`
	Timestamp model.Timestamp     `json:"timestamp"`
}

// orderbookWire is the wire format for orderbook messages.
type orderbookWire struct {
	TickerID  model.FlexString    `json:"ticker_id"`
	Bids      *[]model.PriceLevel `json:"bids"`
	Asks      *[]model.PriceLevel `json:"asks"`
	Timestamp model.Timestamp     `json:"timestamp"`
}

// orderWire is the wire format for order and trade lifecycle messages.
type orderWire struct {
	TickerID  model.FlexString `json:"ticker_id"`
	UserID    model.FlexString `json:"user_id"`
	OrderID   model.FlexString `json:"order_id"`
	Side      string           `json:"side"`
	Price     decimal.Decimal  `json:"price"`
	Quantity  decimal.Decimal  `json:"quantity"`
	Status    string           `json:"status"`
	Timestamp model.Timestamp  `json:"timestamp"`
}

// userWire is the wire format for wallet_updated and liquidation messages.
type userWire struct {
	TickerID model.FlexString `json:"ticker_id"`
	UserID   model.FlexString `json:"user_id"`
}
