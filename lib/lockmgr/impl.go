package lockmgr

import (
	"context"
	"os"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/ValentinKolb/dps/lib/directory"
	"github.com/ValentinKolb/dps/lib/keys"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("lockmgr")

var (
	metricAcquired  = metrics.GetOrCreateCounter(`dps_lock_acquire_total{result="acquired"}`)
	metricTimeout   = metrics.GetOrCreateCounter(`dps_lock_acquire_total{result="timeout"}`)
	metricExhausted = metrics.GetOrCreateCounter(`dps_lock_acquire_total{result="retries_exhausted"}`)
	metricTakeover  = metrics.GetOrCreateCounter(`dps_lock_stale_takeover_total`)
)

// Lease bounds used by RemoveLock when it briefly takes the lock itself to
// make sure nobody else holds it while it disappears.
const (
	removeLockLease   = 25 * time.Second
	removeLockMaxWait = 40 * time.Second
)

type lockMgrImpl struct {
	be       backend.Backend
	dir      *directory.Directory
	generic  *GenericLock
	maxRetry int
}

// Options configures the lock manager during initialization.
type Options struct {
	MaxRetry int // acquisition attempts per polling loop (0 = DefaultMaxRetry)
}

// NewLockManager creates a distributed lock manager over the given backend
// and directory. The manager holds no state of its own; any number of
// managers over the same backend cooperate correctly.
func NewLockManager(be backend.Backend, dir *directory.Directory, opts *Options) ILockManager {
	maxRetry := DefaultMaxRetry
	if opts != nil && opts.MaxRetry > 0 {
		maxRetry = opts.MaxRetry
	}
	return &lockMgrImpl{
		be:       be,
		dir:      dir,
		generic:  NewGenericLock(be, maxRetry),
		maxRetry: maxRetry,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see interface.go)
// --------------------------------------------------------------------------

func (m *lockMgrImpl) CreateOrGetLock(ctx context.Context, name string) (uint64, error) {
	ok, err := m.generic.Acquire(ctx, name)
	if err != nil {
		return 0, NewErrorf(RetLConnectionError, "generic lock on %q: %v", name, err)
	}
	if !ok {
		return 0, NewErrorf(RetLGenericLockBusy, "generic lock on %q not obtainable, retry later", name)
	}
	defer func() {
		if err := m.generic.Release(ctx, name); err != nil {
			log.Warningf("failed to release generic lock on %q: %v", name, err)
		}
	}()

	id := keys.LockID(name)

	existingID, found, err := m.dir.LookupLockID(ctx, name)
	if err != nil {
		return 0, NewErrorf(RetLGetLockIDError, "lookup lock %q: %v", name, err)
	}
	if found {
		_, infoFound, err := m.dir.GetLockInfo(ctx, existingID)
		if err != nil {
			return 0, NewErrorf(RetLGetLockInfo, "read info record of lock %q: %v", name, err)
		}
		if infoFound {
			return existingID, nil
		}
		// Entry without info record: a previous creation died halfway.
		// Recreate the info record for the existing id.
		id = existingID
	}

	if err := m.dir.PutLockEntry(ctx, name, id); err != nil {
		return 0, NewErrorf(RetLNameCreation, "create directory entry of lock %q: %v", name, err)
	}
	if err := m.dir.PutLockInfo(ctx, id, directory.LockInfo{Name: name}); err != nil {
		// Compensate: never leave an entry pointing at a missing record.
		if rbErr := m.dir.RemoveLockEntry(ctx, name); rbErr != nil {
			log.Errorf("rollback of directory entry of lock %q failed: %v", name, rbErr)
		}
		return 0, NewErrorf(RetLInfoCreation, "create info record of lock %q: %v", name, err)
	}
	return id, nil
}

func (m *lockMgrImpl) AcquireLock(ctx context.Context, lockID uint64, lease, maxWait time.Duration) error {
	_, found, err := m.dir.GetLockInfo(ctx, lockID)
	if err != nil {
		return NewErrorf(RetLGetLockInfo, "read info record of lock %d: %v", lockID, err)
	}
	if !found {
		return NewErrorf(RetLLockNotFound, "lock %d does not exist", lockID)
	}

	leaseKey := keys.LeaseKey(lockID)
	deadline := time.Now().Add(maxWait)

	for attempt := 0; attempt < m.maxRetry; attempt++ {
		created, err := conditionalPut(ctx, m.be, keys.MetaPartition, leaseKey, []byte("1"), lease)
		if err != nil {
			return NewErrorf(RetLAcquireError, "write lease of lock %d: %v", lockID, err)
		}

		if created {
			if err := m.recordAcquisition(ctx, lockID, lease); err != nil {
				// Never leave a held-but-unaccounted lease: drop it and try
				// the whole acquisition again.
				log.Warningf("info update after lease acquisition of lock %d failed, releasing: %v", lockID, err)
				_, _ = m.be.RemoveItem(ctx, keys.MetaPartition, leaseKey)
				continue
			}
			metricAcquired.Inc()
			return nil
		}

		// Lease held by someone else. A recorded expiration in the past
		// means the holder crashed or forgot to release: take over without
		// consuming the retry budget.
		info, found, err := m.dir.GetLockInfo(ctx, lockID)
		if err == nil && found && info.Expiration > 0 && time.Now().Unix() > info.Expiration {
			_, _ = m.be.RemoveItem(ctx, keys.MetaPartition, leaseKey)
			metricTakeover.Inc()
			attempt--
			continue
		}

		if time.Now().After(deadline) {
			metricTimeout.Inc()
			return NewErrorf(RetLAcquireTimeout, "lock %d not acquired within %v", lockID, maxWait)
		}
		if err := sleepBackoff(ctx); err != nil {
			return NewErrorf(RetLAcquireTimeout, "lock %d acquisition cancelled: %v", lockID, err)
		}
	}

	metricExhausted.Inc()
	return NewErrorf(RetLRetriesExhausted, "lock %d not acquired after %d attempts", lockID, m.maxRetry)
}

func (m *lockMgrImpl) ReleaseLock(ctx context.Context, lockID uint64) error {
	// The lease key is what actually blocks other acquirers; absence is
	// fine (it may have expired on its own).
	if _, err := m.be.RemoveItem(ctx, keys.MetaPartition, keys.LeaseKey(lockID)); err != nil {
		return NewErrorf(RetLReleaseError, "delete lease of lock %d: %v", lockID, err)
	}

	// The lease is gone, so a failed bookkeeping update must not be
	// surfaced as a fatal error anymore.
	info, found, err := m.dir.GetLockInfo(ctx, lockID)
	if err != nil || !found {
		log.Warningf("info record of lock %d not readable after release (found=%v): %v", lockID, found, err)
		return nil
	}
	if err := m.dir.PutLockInfo(ctx, lockID, directory.LockInfo{Name: info.Name}); err != nil {
		log.Warningf("info record of lock %d not reset after release: %v", lockID, err)
	}
	return nil
}

func (m *lockMgrImpl) RemoveLock(ctx context.Context, lockID uint64) error {
	info, found, err := m.dir.GetLockInfo(ctx, lockID)
	if err != nil {
		return NewErrorf(RetLGetLockInfo, "read info record of lock %d: %v", lockID, err)
	}
	if !found {
		return NewErrorf(RetLLockNotFound, "lock %d does not exist", lockID)
	}

	// Take the lock ourselves so nobody holds it while it disappears.
	if err := m.AcquireLock(ctx, lockID, removeLockLease, removeLockMaxWait); err != nil {
		return NewErrorf(RetLRemovalError, "lock %d is still in use: %v", lockID, err)
	}

	if err := m.dir.RemoveLockInfo(ctx, lockID); err != nil {
		return NewErrorf(RetLRemovalError, "delete info record of lock %d: %v", lockID, err)
	}
	if err := m.dir.RemoveLockEntry(ctx, info.Name); err != nil {
		return NewErrorf(RetLRemovalError, "delete directory entry of lock %d: %v", lockID, err)
	}

	// The lock no longer exists to have an opinion about this release.
	_, _ = m.be.RemoveItem(ctx, keys.MetaPartition, keys.LeaseKey(lockID))
	return nil
}

func (m *lockMgrImpl) GetPidForLock(ctx context.Context, name string) (int32, error) {
	id, found, err := m.dir.LookupLockID(ctx, name)
	if err != nil {
		return 0, NewErrorf(RetLGetLockIDError, "lookup lock %q: %v", name, err)
	}
	if !found {
		return 0, nil
	}

	info, found, err := m.dir.GetLockInfo(ctx, id)
	if err != nil {
		return 0, NewErrorf(RetLGetLockInfo, "read info record of lock %q: %v", name, err)
	}
	if !found {
		return 0, nil
	}
	return info.OwningPid, nil
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// recordAcquisition updates the info record after a successful lease write.
func (m *lockMgrImpl) recordAcquisition(ctx context.Context, lockID uint64, lease time.Duration) error {
	info, found, err := m.dir.GetLockInfo(ctx, lockID)
	if err != nil {
		return err
	}
	name := ""
	if found {
		name = info.Name
	}
	return m.dir.PutLockInfo(ctx, lockID, directory.LockInfo{
		UsageCount: 1,
		Expiration: time.Now().Add(lease).Unix(),
		OwningPid:  int32(os.Getpid()),
		Name:       name,
	})
}
