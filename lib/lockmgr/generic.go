package lockmgr

import (
	"context"
	"strconv"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/ValentinKolb/dps/lib/keys"
)

// GenericLockHoldTime is the enforced maximum hold time of a generic lock.
// A holder that exceeds it loses the lock to the next acquirer.
const GenericLockHoldTime = 5 * time.Second

// GenericLock is the internal mutex serializing directory mutations on one
// entity name across processes. Acquisition failure after the retry budget
// means "try the whole higher-level operation again later", not a permanent
// error.
//
// Thread-safety: a GenericLock holds no mutable state, it is safe for
// concurrent use.
type GenericLock struct {
	be       backend.Backend
	maxRetry int
}

// NewGenericLock creates a generic lock handle over the given backend.
// maxRetry=0 selects DefaultMaxRetry.
func NewGenericLock(be backend.Backend, maxRetry int) *GenericLock {
	if maxRetry <= 0 {
		maxRetry = DefaultMaxRetry
	}
	return &GenericLock{be: be, maxRetry: maxRetry}
}

// Acquire obtains the generic lock on an entity name. It returns
// ok=false (and no error) when the retry budget is exhausted.
func (g *GenericLock) Acquire(ctx context.Context, entityName string) (bool, error) {
	key := keys.GenericLockKey(keys.EncodeName(entityName))

	for attempt := 0; attempt < g.maxRetry; attempt++ {
		created, err := g.tryAcquire(ctx, key)
		if err != nil {
			return false, err
		}
		if created {
			return true, nil
		}
		if err := sleepBackoff(ctx); err != nil {
			return false, err
		}
	}
	return false, nil
}

// Release drops the generic lock. Releasing an already-expired or absent
// lock is not an error.
func (g *GenericLock) Release(ctx context.Context, entityName string) error {
	key := keys.GenericLockKey(keys.EncodeName(entityName))
	_, err := g.be.RemoveItem(ctx, keys.MetaPartition, key)
	return err
}

// tryAcquire makes a single acquisition attempt via conditional put (native
// where the backend has one, emulated otherwise). The presence key holds the
// acquisition time so that, on backends without native expiry, an over-age
// lock left behind by a crashed holder can be evicted.
func (g *GenericLock) tryAcquire(ctx context.Context, key string) (bool, error) {
	now := time.Now().Unix()
	value := []byte(strconv.FormatInt(now, 10))

	created, err := conditionalPut(ctx, g.be, keys.MetaPartition, key, value, GenericLockHoldTime)
	if err != nil || created {
		return created, err
	}

	// Held by someone else. An over-age acquisition stamp means the holder
	// exceeded the enforced hold time (or crashed): evict the stamp so the
	// next attempt contends for a free lock.
	raw, found, err := g.be.GetItem(ctx, keys.MetaPartition, key)
	if err != nil || !found {
		return false, err
	}
	acquiredAt, parseErr := strconv.ParseInt(string(raw), 10, 64)
	if parseErr != nil || now-acquiredAt > int64(GenericLockHoldTime/time.Second) {
		if _, err := g.be.RemoveItem(ctx, keys.MetaPartition, key); err != nil {
			return false, err
		}
	}
	return false, nil
}
