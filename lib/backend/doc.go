// Package backend defines the capability interface every NoSQL backend
// adapter must satisfy, together with the feature flags that gate optional
// capabilities (atomic conditional put, per-key TTL).
//
// The interface is intentionally small: basic CRUD on flat key/value
// partitions plus count and key enumeration. Everything interesting (the
// directory, the lock protocols, the store lifecycle) is layered once on
// top of it by the other lib packages, so a new backend only has to
// implement the mechanical plumbing.
//
// Adapters for different products satisfy the interface with different
// native mechanisms (in-process concurrent maps, bbolt buckets, Redis
// commands). Capabilities an adapter cannot provide must be declared
// absent via SupportsFeature; silently ignoring a TTL argument is not
// acceptable behavior.
package backend
