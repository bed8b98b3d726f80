// Package cmd implements the command-line interface for dps. It provides a
// hierarchical command structure for managing named stores and distributed
// locks over a configurable storage backend.
//
// The package is organized into several subpackages:
//
//   - store: Commands for store operations (create, put, get, iterate, etc.)
//   - lock: Commands for distributed lock operations (acquire, release)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dps -help for a list of all commands.
package cmd
