package lockmgr

import (
	"context"
	"math/rand"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
)

const (
	// DefaultMaxRetry bounds the number of acquisition attempts of every
	// polling lock loop.
	DefaultMaxRetry = 10000

	// backoffCeiling is the upper bound of the random sleep between two
	// acquisition attempts.
	backoffCeiling = time.Second
)

// sleepBackoff sleeps a random sub-second interval, returning early when
// the context is cancelled.
func sleepBackoff(ctx context.Context) error {
	d := time.Duration(rand.Int63n(int64(backoffCeiling)))

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// conditionalPut inserts a key only if it is absent. Backends with a native
// atomic conditional put are used directly; otherwise the operation is
// emulated with a read-then-write (best effort, see package doc). A ttl is
// only passed through when the backend supports per-key expiry.
func conditionalPut(ctx context.Context, be backend.Backend, partition, key string, value []byte, ttl time.Duration) (bool, error) {
	if !be.SupportsFeature(backend.FeatureTTL) {
		ttl = 0
	}

	if be.SupportsFeature(backend.FeaturePutIfAbsent) {
		return be.PutIfAbsent(ctx, partition, key, value, ttl)
	}

	_, found, err := be.GetItem(ctx, partition, key)
	if err != nil {
		return false, err
	}
	if found {
		return false, nil
	}
	return true, be.PutItem(ctx, partition, key, value, ttl)
}
