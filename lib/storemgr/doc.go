// Package storemgr implements the user-facing store layer: named key/value
// stores created, found and removed through the directory, with CRUD over
// each store's own backend partition.
//
// Store creation is a three-step compensating transaction (directory
// entry, partition, reserved metadata triple) serialized by the generic
// lock on the store name; any failure after the first side effect rolls
// back the prior steps. Structural operations on an existing store
// (remove, clear, the safe read/write variants) take a lease-based store
// lock so they cannot race each other.
//
// Every store partition always contains exactly three reserved metadata
// entries plus the user data items, so size() is countItems minus three.
// Data item keys are stored encoded, which makes arbitrary bytes (spaces,
// nulls, non-ASCII) representable as backend keys and keeps them disjoint
// from the reserved entries.
//
// The TTL global store is a capability-gated extra: one shared partition
// of expiring items, independent of any store. Backends without native
// per-key expiry reject TTL calls outright instead of silently keeping
// items forever.
package storemgr
