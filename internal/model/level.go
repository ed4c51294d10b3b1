package model

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// PriceLevel is one price/quantity row of an order book.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// UnmarshalJSON accepts {"price":..,"quantity":..} objects and [price, quantity]
// pairs. Numbers and numeric strings are both accepted.
func (l *PriceLevel) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var pair []decimal.Decimal
		if err := json.Unmarshal(data, &pair); err != nil {
			return fmt.Errorf("price level pair: %w", err)
		}
		if len(pair) < 2 {
			return fmt.Errorf("price level pair has %d elements", len(pair))
		}
		l.Price, l.Quantity = pair[0], pair[1]
		return nil
	}

	var obj struct {
		Price    decimal.Decimal `json:"price"`
		Quantity decimal.Decimal `json:"quantity"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("price level: %w", err)
	}
	l.Price, l.Quantity = obj.Price, obj.Quantity
	return nil
}
