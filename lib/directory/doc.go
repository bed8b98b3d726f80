// Package directory implements the name directory of the coordination
// layer: the single well-known meta partition maps encoded store and lock
// names to their numeric ids, holds one info record per distributed lock
// and, inside each store's own partition, the reserved metadata triple
// (store name, key type tag, value type tag).
//
// The directory performs no locking itself. Callers that mutate entries
// (store/lock creation and removal) serialize through the generic lock
// manager; plain lookups read without coordination.
//
// Thread-safety: a Directory holds no mutable state, it is safe for
// concurrent use as long as the underlying backend is.
package directory
