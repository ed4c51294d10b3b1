// Package model defines shared data types used across the market sync engine.
//
// Conventions:
//   - Prices and quantities: decimal.Decimal, never float64
//   - Timestamps: time.Time; a zero time means "not provided"
//   - Tickers: TickerKey, opaque and case-sensitive
package model
