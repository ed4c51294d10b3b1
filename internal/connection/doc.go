// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns one persistent WebSocket connection to the push feed
//   - Runs an explicit Connecting / Open / Reconnecting / Closed state machine
//   - Sends heartbeat pings (and an optional keepalive frame) while open
//   - Reconnects with capped exponential backoff until stopped
//   - Publishes raw frames on Messages() and reconnections on Reconnects()
package connection
