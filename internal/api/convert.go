package api

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/rickgao/marketsync/internal/model"
)

// ToCandle converts an API candle to the model form.
func ToCandle(c APICandle) model.Candle {
	return model.Candle{
		Start:  c.Timestamp.Time,
		Open:   c.Open,
		High:   c.High,
		Low:    c.Low,
		Close:  c.Close,
		Volume: c.Volume,
	}
}

// ToSnapshot converts an API order book. Levels are re-sorted so bids are
// descending and asks ascending regardless of server order.
func ToSnapshot(ticker model.TickerKey, ob APIOrderbook) model.OrderbookSnapshot {
	if ob.TickerID != "" {
		ticker = model.TickerKey(ob.TickerID)
	}

	bids := append([]model.PriceLevel(nil), ob.Bids...)
	asks := append([]model.PriceLevel(nil), ob.Asks...)
	sort.SliceStable(bids, func(i, j int) bool { return bids[i].Price.GreaterThan(bids[j].Price) })
	sort.SliceStable(asks, func(i, j int) bool { return asks[i].Price.LessThan(asks[j].Price) })

	return model.OrderbookSnapshot{
		Ticker:    ticker,
		Bids:      bids,
		Asks:      asks,
		Timestamp: ob.Timestamp.Time,
		Source:    "rest",
	}
}

// ToOrder converts an API order.
func ToOrder(o APIOrder) model.Order {
	return model.Order{
		ID:             string(o.ID),
		Ticker:         model.TickerKey(o.TickerID),
		Side:           o.Side,
		Type:           o.Type,
		Status:         o.Status,
		Price:          o.Price,
		Quantity:       o.Quantity,
		FilledQuantity: o.FilledQuantity,
		CreatedAt:      o.CreatedAt.Time,
	}
}

// ToPortfolio converts an API portfolio for userID.
func ToPortfolio(userID string, p APIPortfolio) model.Portfolio {
	holdings := make([]model.Holding, 0, len(p.Holdings))
	for _, h := range p.Holdings {
		holdings = append(holdings, model.Holding{
			Ticker:   model.TickerKey(h.TickerID),
			Quantity: h.Quantity,
			AvgPrice: h.AvgPrice,
		})
	}
	return model.Portfolio{
		UserID:   userID,
		Cash:     p.Cash,
		Holdings: holdings,
	}
}

// isArray reports whether body is a bare JSON array.
func isArray(body []byte) bool {
	body = bytes.TrimSpace(body)
	return len(body) > 0 && body[0] == '['
}

// unmarshalList decodes a bare JSON array into list, or an object into wrapper.
func unmarshalList(body []byte, list, wrapper any) error {
	if isArray(body) {
		return json.Unmarshal(body, list)
	}
	return json.Unmarshal(body, wrapper)
}
