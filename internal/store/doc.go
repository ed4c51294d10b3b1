// Package store implements the keyed consistency store.
//
// A Store maps keys to values and notifies subscribers per key:
//   - Writes older than the stored value (by Version) are rejected
//   - Writes equal to the stored value (by Equal) are no-ops
//   - Only the written key's subscribers are invoked
package store
