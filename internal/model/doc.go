// Package model defines shared data types used across sessionmux.
//
// Conventions:
//   - Channel IDs: opaque strings supplied by the caller
//   - Sequences: uint64, meaningful only within one channel
//   - Timestamps: time.Time in UTC; wire timestamps are RFC 3339 with nanoseconds
package model
