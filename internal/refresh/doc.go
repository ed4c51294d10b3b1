// Package refresh keeps user-scoped data (open orders, portfolio) current.
//
// Feed events only say that something changed for a user. The Coordinator
// records the user as dirty and, on a fixed interval, re-fetches the full
// state for every dirty user over REST. Any number of signals between two
// flushes collapse into one fetch per user.
//
// After a feed reconnect the Coordinator also repairs public state: it
// re-fetches an order book snapshot for every ticker that has a subscriber.
package refresh
