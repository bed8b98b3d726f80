// Package redisdb implements the backend capability interface on Redis via
// go-redis. PutIfAbsent maps to SETNX and per-key TTL to Redis key expiry,
// so the engine declares the full feature set.
//
// Redis has no native partitions, so the engine models them explicitly: a
// registry set holds all partition names and each partition keeps a set of
// its non-expiring keys for CountItems/ListKeys. Items written with a TTL
// (leases, TTL-store entries) are deliberately not tracked in the key set:
// the coordination protocols never enumerate or count them, and tracking
// them would require a second sweeper just to keep the set honest.
//
// Multiple endpoints can be configured; every Redis key is pinned to one
// endpoint by its hash, so all operations on a key (and on a partition's
// key set) consistently hit the same server.
package redisdb
