// Package engine wires the sync pipeline together:
//
//	connection.Manager -> router -> price buffer      -> price store -> candle series
//	                             -> order book buffer -> order book store
//	                             -> refresh.Coordinator -> orders / portfolio stores
//
// Reconnects trigger a resync: the session user is refreshed and every
// observed order book is re-fetched over REST. The engine owns every
// component and exposes the read-side stores to callers.
package engine
