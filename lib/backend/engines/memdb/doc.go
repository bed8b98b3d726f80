// Package memdb implements the backend capability interface with in-process
// concurrent maps (puzpuzpuz/xsync). It supports the full feature set:
// PutIfAbsent is atomic via the map's Compute primitive and per-key TTL is
// provided by a lazy check on access plus a periodic background sweep.
//
// memdb is the engine used by the test suites and the default engine of the
// CLI. It is obviously not distributed (every process gets its own data),
// so it exercises the coordination protocols only within one process.
package memdb
