// Package poller implements the Snapshot Poller component.
//
// The Snapshot Poller:
//   - Fetches order book snapshots over REST with bounded concurrency
//   - Serves the reconnect resync pass (one fetch per observed ticker)
//   - Optionally re-polls every observed ticker on a fixed interval
//   - Hands snapshots (source="rest") to a handler that bypasses batching
package poller
