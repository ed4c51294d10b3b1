// Package candles maintains OHLC series per (ticker, interval).
//
// A Series is filled from three paths:
//
//   - Bootstrap loads the bars for a display range.
//   - LoadOlder pages backward from the earliest loaded bar.
//   - ApplyTick folds live prices into the last bar or opens a new one.
//
// Every path inserts by bucket start, so a Series never holds two bars for
// the same bucket and is always sorted ascending.
//
// Buckets shorter than a day are aligned on the interval length in UTC.
// Daily and weekly buckets are aligned on a fixed day offset so the day
// boundary does not depend on the local clock of whoever is watching.
package candles
