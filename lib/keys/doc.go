// Package keys implements the deterministic key and id scheme shared by the
// directory, the lock managers and the store manager.
//
// All functions in this package are pure: they perform no I/O and depend on
// nothing but their arguments. Entity names are made backend-safe by a
// reversible base64 encoding before they are hashed or embedded in composite
// keys. Numeric ids are derived from the encoded name with a 64-bit
// non-cryptographic hash (xxh3).
//
// Composite keys multiplex several logical namespaces inside the single
// well-known meta partition by prefixing a short numeric type tag:
//
//	"0"   + encoded store name            => store id
//	"1"   + store id                      (store partition name, dps_ prefixed)
//	"4"   + store id + "dps_lock"         (store lock presence key)
//	"5"   + encoded lock name             => lock id
//	"6"   + lock id                       => lock info record
//	"7"   + lock id + "dl_lock"           (lock lease presence key)
//	"501" + encoded entity + "generic_lock" (generic lock presence key)
//
// Hash collisions between two different names are not defended against: a
// colliding createStore reports a false "already exists". This matches the
// reference behavior and is a documented limitation of the scheme.
package keys
