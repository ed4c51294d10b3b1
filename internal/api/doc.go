// Package api provides the REST client for the market data backend.
//
// Endpoints consumed:
//   - GET /candles?ticker_id=&interval=&limit=&before=&after=
//   - GET /orderbook/{ticker_id}
//   - GET /orders/open
//   - GET /portfolio
//   - GET /me
//
// Times in query strings are epoch milliseconds. Responses may carry times as
// epoch milliseconds or RFC 3339 strings.
package api
