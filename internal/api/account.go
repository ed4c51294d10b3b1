package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rickgao/marketsync/internal/model"
)

// GetMe fetches the session user.
func (c *Client) GetMe(ctx context.Context) (model.User, error) {
	var resp APIUser
	if err := c.get(ctx, "/me", nil, &resp); err != nil {
		return model.User{}, fmt.Errorf("get me: %w", err)
	}
	if resp.ID == "" {
		return model.User{}, fmt.Errorf("get me: response has no id")
	}
	return model.User{ID: string(resp.ID), Nickname: resp.Nickname}, nil
}

// GetOpenOrders fetches the session user's open orders.
func (c *Client) GetOpenOrders(ctx context.Context) ([]model.Order, error) {
	body, err := c.fetch(ctx, http.MethodGet, "/orders/open", nil)
	if err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}

	var resp OrdersResponse
	if err := unmarshalList(body, &resp.Orders, &resp); err != nil {
		return nil, fmt.Errorf("get open orders: unmarshal response: %w", err)
	}

	orders := make([]model.Order, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		orders = append(orders, ToOrder(o))
	}
	return orders, nil
}

// GetPortfolio fetches the session user's holdings and cash. userID is
// stamped onto the result.
func (c *Client) GetPortfolio(ctx context.Context, userID string) (model.Portfolio, error) {
	var resp APIPortfolio
	if err := c.get(ctx, "/portfolio", nil, &resp); err != nil {
		return model.Portfolio{}, fmt.Errorf("get portfolio: %w", err)
	}
	return ToPortfolio(userID, resp), nil
}
