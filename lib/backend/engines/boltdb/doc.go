// Package boltdb implements the backend capability interface on a local
// bbolt file. Partitions map to buckets and PutIfAbsent is atomic because
// bbolt serializes write transactions.
//
// bbolt has no per-key expiry, so FeatureTTL is declared absent: every
// operation that carries a non-zero TTL is rejected with
// backend.ErrTTLNotSupported rather than silently keeping the item forever.
// The lock managers compensate by stamping presence keys with their
// acquisition time and treating over-age keys as stale.
package boltdb
