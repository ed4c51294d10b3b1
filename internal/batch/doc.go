// Package batch implements the batched update buffer.
//
// Updates are coalesced per key (last write wins) and applied to a sink as one
// batch on a fixed timer. A final flush runs on Stop so the last window is not lost.
package batch
