// Package lockmgr implements the two mutual-exclusion mechanisms of the
// coordination layer on top of the backend capability interface.
//
// The generic lock is an internal, short-lived mutex keyed by an arbitrary
// entity name. It serializes directory mutations (store and lock creation)
// across independent processes racing on the same name. It is a single
// presence key with an enforced maximum hold time and is never exposed to
// end users.
//
// The distributed lock manager provides user-visible named locks with
// lease, usage count and owning-pid bookkeeping. A lock is registered by a
// directory entry plus an info record; the lease itself is a separate
// presence-only key that exists exactly while the lock is held. A holder
// that crashes without releasing is recovered by lease expiration: once the
// recorded expiration has passed, any waiter may take over the stale lease.
//
// All mutual exclusion is backend-resident. No in-process lock is ever held
// across a network call, so the mechanisms work for independent OS
// processes that share nothing but the backend.
//
// Known race: on backends without a native atomic conditional put the
// acquisition is emulated with a read-then-write, which provides best
// effort, not a hard at-most-one-winner guarantee. Similarly, on backends
// without native TTL a holder that crashes between writing the lease key
// and updating the info record leaves a lease that never expires on its
// own; it is only recovered once its info record expiration passes.
package lockmgr
