package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/marketsync/internal/model"
)

// Event is the closed set of parsed feed messages.
type Event interface {
	// Type returns the wire discriminant.
	Type() string
	event()
}

// PriceEvent is a ticker or price_updated message.
type PriceEvent struct {
	Kind string
	Tick model.PriceTick
}

// OrderbookEvent is a full order book snapshot.
type OrderbookEvent struct {
	Snapshot model.OrderbookSnapshot
}

// OrderEvent is an order or trade lifecycle message for one user.
type OrderEvent struct {
	Kind      string
	Ticker    model.TickerKey
	UserID    string
	OrderID   string
	Side      string
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Status    string
	Timestamp time.Time
}

// WalletEvent signals that a user's balances changed.
type WalletEvent struct {
	UserID string
}

// LiquidationEvent reports a forced position close.
type LiquidationEvent struct {
	Ticker model.TickerKey
	UserID string
}

func (e PriceEvent) Type() string       { return e.Kind }
func (e OrderbookEvent) Type() string   { return TypeOrderbook }
func (e OrderEvent) Type() string       { return e.Kind }
func (e WalletEvent) Type() string      { return TypeWalletUpdated }
func (e LiquidationEvent) Type() string { return TypeLiquidation }

func (PriceEvent) event()       {}
func (OrderbookEvent) event()   {}
func (OrderEvent) event()       {}
func (WalletEvent) event()      {}
func (LiquidationEvent) event() {}

// Parse decodes one feed frame. Frames that arrive as a JSON string holding
// the JSON object are unwrapped first. Unrecognized types return
// ErrUnknownType; missing required fields return ErrMalformed.
func Parse(data []byte) (Event, error) {
	data, err := unwrap(data)
	if err != nil {
		return nil, err
	}

	msgType, err := extractType(data)
	if err != nil {
		return nil, err
	}

	switch msgType {
	case TypeTicker, TypePriceUpdated:
		return parsePrice(msgType, data)
	case TypeOrderbook:
		return parseOrderbook(data)
	case TypeOrderCreated, TypeOrderAccepted, TypeOrderUpdated, TypeOrderCancelled, TypeTradeExecuted:
		return parseOrder(msgType, data)
	case TypeWalletUpdated:
		return parseWallet(data)
	case TypeLiquidation:
		return parseLiquidation(data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, msgType)
}

// unwrap returns the inner JSON of a string-encoded frame.
func unwrap(data []byte) ([]byte, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '"' {
		return data, nil
	}
	var inner string
	if err := json.Unmarshal(data, &inner); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return bytes.TrimSpace([]byte(inner)), nil
}

// extractType extracts the message type without decoding the payload.
func extractType(data []byte) (string, error) {
	var envelope messageEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if envelope.Type == "" {
		return "", fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return envelope.Type, nil
}

func decode(msgType string, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, msgType, err)
	}
	return nil
}

func missing(msgType, field string) error {
	return fmt.Errorf("%w: %s: missing %s", ErrMalformed, msgType, field)
}

func parsePrice(msgType string, data []byte) (Event, error) {
	var wire priceWire
	if err := decode(msgType, data, &wire); err != nil {
		return nil, err
	}
	if wire.TickerID == "" {
		return nil, missing(msgType, "ticker_id")
	}
	if !wire.Price.Valid {
		return nil, missing(msgType, "price")
	}

	return PriceEvent{
		Kind: msgType,
		Tick: model.PriceTick{
			Ticker:    model.TickerKey(wire.TickerID),
			Price:     wire.Price.Decimal,
			Timestamp: wire.Timestamp.Time,
		},
	}, nil
}

func parseOrderbook(data []byte) (Event, error) {
	var wire orderbookWire
	if err := decode(TypeOrderbook, data, &wire); err != nil {
		return nil, err
	}
	if wire.TickerID == "" {
		return nil, missing(TypeOrderbook, "ticker_id")
	}
	if wire.Bids == nil || wire.Asks == nil {
		return nil, missing(TypeOrderbook, "bids/asks")
	}

	return OrderbookEvent{
		Snapshot: model.OrderbookSnapshot{
			Ticker:    model.TickerKey(wire.TickerID),
			Bids:      *wire.Bids,
			Asks:      *wire.Asks,
			Timestamp: wire.Timestamp.Time,
			Source:    "ws",
		},
	}, nil
}

func parseOrder(msgType string, data []byte) (Event, error) {
	var wire orderWire
	if err := decode(msgType, data, &wire); err != nil {
		return nil, err
	}
	if wire.UserID == "" {
		return nil, missing(msgType, "user_id")
	}
	if wire.TickerID == "" {
		return nil, missing(msgType, "ticker_id")
	}

	return OrderEvent{
		Kind:      msgType,
		Ticker:    model.TickerKey(wire.TickerID),
		UserID:    string(wire.UserID),
		OrderID:   string(wire.OrderID),
		Side:      wire.Side,
		Price:     wire.Price,
		Quantity:  wire.Quantity,
		Status:    wire.Status,
		Timestamp: wire.Timestamp.Time,
	}, nil
}

func parseWallet(data []byte) (Event, error) {
	var wire userWire
	if err := decode(TypeWalletUpdated, data, &wire); err != nil {
		return nil, err
	}
	if wire.UserID == "" {
		return nil, missing(TypeWalletUpdated, "user_id")
	}
	return WalletEvent{UserID: string(wire.UserID)}, nil
}

func parseLiquidation(data []byte) (Event, error) {
	var wire userWire
	if err := decode(TypeLiquidation, data, &wire); err != nil {
		return nil, err
	}
	if wire.UserID == "" {
		return nil, missing(TypeLiquidation, "user_id")
	}
	if wire.TickerID == "" {
		return nil, missing(TypeLiquidation, "ticker_id")
	}
	return LiquidationEvent{
		Ticker: model.TickerKey(wire.TickerID),
		UserID: string(wire.UserID),
	}, nil
}
