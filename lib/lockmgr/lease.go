package lockmgr

import (
	"context"
	"strconv"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/ValentinKolb/dps/lib/keys"
)

// LeaseLock is a lease-based mutex over a single caller-chosen presence
// key. The store manager uses it as the "store lock" guarding structural
// operations (remove, clear, safe writes) on one store.
//
// Unlike the distributed lock it has no info record: the presence key's
// own value carries the lease expiration, which doubles as the stale
// detection on backends without native expiry.
//
// Thread-safety: a LeaseLock holds no mutable state, it is safe for
// concurrent use.
type LeaseLock struct {
	be       backend.Backend
	maxRetry int
}

// NewLeaseLock creates a lease lock handle over the given backend.
// maxRetry=0 selects DefaultMaxRetry.
func NewLeaseLock(be backend.Backend, maxRetry int) *LeaseLock {
	if maxRetry <= 0 {
		maxRetry = DefaultMaxRetry
	}
	return &LeaseLock{be: be, maxRetry: maxRetry}
}

// Acquire obtains the lease on a presence key. It returns ok=false (and no
// error) when maxWait elapses or the retry budget is exhausted. A stale
// lease (recorded expiration in the past) is taken over without consuming
// the retry budget.
func (l *LeaseLock) Acquire(ctx context.Context, key string, lease, maxWait time.Duration) (bool, error) {
	deadline := time.Now().Add(maxWait)

	for attempt := 0; attempt < l.maxRetry; attempt++ {
		expiration := time.Now().Add(lease).Unix()
		value := []byte(strconv.FormatInt(expiration, 10))

		created, err := conditionalPut(ctx, l.be, keys.MetaPartition, key, value, lease)
		if err != nil {
			return false, err
		}
		if created {
			return true, nil
		}

		// Held by someone else. Check for a stale lease left behind by a
		// crashed holder.
		raw, found, err := l.be.GetItem(ctx, keys.MetaPartition, key)
		if err != nil {
			return false, err
		}
		if found {
			recorded, parseErr := strconv.ParseInt(string(raw), 10, 64)
			if parseErr == nil && time.Now().Unix() > recorded {
				_, _ = l.be.RemoveItem(ctx, keys.MetaPartition, key)
				attempt--
				continue
			}
		}

		if time.Now().After(deadline) {
			return false, nil
		}
		if err := sleepBackoff(ctx); err != nil {
			return false, err
		}
	}
	return false, nil
}

// Release drops the lease. Releasing an already-expired or absent lease is
// not an error.
func (l *LeaseLock) Release(ctx context.Context, key string) error {
	_, err := l.be.RemoveItem(ctx, keys.MetaPartition, key)
	return err
}
