package storemgr

import (
	"context"
	"errors"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/ValentinKolb/dps/lib/directory"
	"github.com/ValentinKolb/dps/lib/keys"
	"github.com/ValentinKolb/dps/lib/lockmgr"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("storemgr")

var (
	metricPuts         = metrics.GetOrCreateCounter(`dps_store_ops_total{op="put"}`)
	metricGets         = metrics.GetOrCreateCounter(`dps_store_ops_total{op="get"}`)
	metricRemoves      = metrics.GetOrCreateCounter(`dps_store_ops_total{op="remove"}`)
	metricStoreCreates = metrics.GetOrCreateCounter(`dps_store_lifecycle_total{op="create"}`)
	metricStoreRemoves = metrics.GetOrCreateCounter(`dps_store_lifecycle_total{op="remove"}`)
	metricStoreClears  = metrics.GetOrCreateCounter(`dps_store_lifecycle_total{op="clear"}`)
)

// Lease bounds of the store lock guarding structural operations.
const (
	storeLockLease   = 5 * time.Second
	storeLockMaxWait = 10 * time.Second
)

type storeMgrImpl struct {
	be        backend.Backend
	dir       *directory.Directory
	generic   *lockmgr.GenericLock
	storeLock *lockmgr.LeaseLock
}

// Options configures the store manager during initialization.
type Options struct {
	MaxRetry int // lock acquisition attempts per polling loop (0 = lockmgr.DefaultMaxRetry)
}

// NewStoreManager creates a store manager over the given backend and
// directory. The manager holds no state of its own; any number of managers
// over the same backend cooperate correctly.
func NewStoreManager(be backend.Backend, dir *directory.Directory, opts *Options) IStoreManager {
	maxRetry := 0
	if opts != nil {
		maxRetry = opts.MaxRetry
	}
	return &storeMgrImpl{
		be:        be,
		dir:       dir,
		generic:   lockmgr.NewGenericLock(be, maxRetry),
		storeLock: lockmgr.NewLeaseLock(be, maxRetry),
	}
}

// --------------------------------------------------------------------------
// Store Lifecycle (docu see interface.go)
// --------------------------------------------------------------------------

func (m *storeMgrImpl) CreateStore(ctx context.Context, name, keyType, valueType string) (uint64, error) {
	ok, err := m.generic.Acquire(ctx, name)
	if err != nil {
		return 0, NewErrorf(RetSConnectionError, "generic lock on %q: %v", name, err)
	}
	if !ok {
		return 0, NewErrorf(RetSGenericLockBusy, "generic lock on %q not obtainable, retry later", name)
	}
	defer func() {
		if err := m.generic.Release(ctx, name); err != nil {
			log.Warningf("failed to release generic lock on %q: %v", name, err)
		}
	}()

	existingID, found, err := m.dir.LookupStoreID(ctx, name)
	if err != nil {
		return 0, NewErrorf(RetSGetStoreID, "lookup store %q: %v", name, err)
	}
	if found {
		return 0, &Error{
			Code:       RetSStoreExists,
			Msg:        "store " + name + " already exists",
			ExistingID: existingID,
		}
	}

	storeID := keys.StoreID(name)

	// Step 1: directory entry.
	if err := m.dir.PutStoreEntry(ctx, name, storeID); err != nil {
		return 0, NewErrorf(RetSNameCreation, "create directory entry of store %q: %v", name, err)
	}

	// Step 2: the store's own partition.
	if err := m.be.CreatePartition(ctx, keys.StorePartition(storeID)); err != nil {
		m.rollbackEntry(ctx, name)
		return 0, NewErrorf(RetSPartitionCreation, "create partition of store %q: %v", name, err)
	}

	// Step 3: reserved metadata triple.
	meta := directory.StoreMetadata{Name: name, KeyType: keyType, ValueType: valueType}
	if err := m.dir.WriteStoreMetadata(ctx, storeID, meta); err != nil {
		if rbErr := m.be.DeletePartition(ctx, keys.StorePartition(storeID)); rbErr != nil {
			log.Errorf("rollback of partition of store %q failed: %v", name, rbErr)
		}
		m.rollbackEntry(ctx, name)
		return 0, NewErrorf(RetSMetadataCreation, "write metadata of store %q: %v", name, err)
	}

	metricStoreCreates.Inc()
	return storeID, nil
}

func (m *storeMgrImpl) CreateOrGetStore(ctx context.Context, name, keyType, valueType string) (uint64, error) {
	storeID, err := m.CreateStore(ctx, name, keyType, valueType)
	if err == nil {
		return storeID, nil
	}

	var smErr *Error
	if errors.As(err, &smErr) && smErr.Code == RetSStoreExists {
		return smErr.ExistingID, nil
	}
	return 0, err
}

func (m *storeMgrImpl) FindStore(ctx context.Context, name string) (uint64, bool, error) {
	storeID, found, err := m.dir.LookupStoreID(ctx, name)
	if err != nil {
		return 0, false, NewErrorf(RetSGetStoreID, "lookup store %q: %v", name, err)
	}
	return storeID, found, nil
}

func (m *storeMgrImpl) RemoveStore(ctx context.Context, storeID uint64) error {
	ok, err := m.acquireStoreLock(ctx, storeID)
	if err != nil {
		return err
	}
	if !ok {
		return NewErrorf(RetSGetStoreLock, "store lock of %d not obtainable", storeID)
	}
	defer m.releaseStoreLock(ctx, storeID)

	meta, metaErr := m.dir.ReadStoreMetadata(ctx, storeID)
	if meta.Name == "" {
		if errors.Is(metaErr, backend.ErrPartitionNotFound) {
			return NewErrorf(RetSStoreDoesNotExist, "store %d does not exist", storeID)
		}
		// Without the name the directory entry cannot be cleaned up.
		// Alarming but unavoidable: the caller must know the store may be
		// in a bad state now.
		return NewErrorf(RetSGetStoreName, "store %d: name not retrievable, store may be in a bad state: %v", storeID, metaErr)
	}
	if metaErr != nil {
		// Partial metadata is fine here; the name is what matters.
		log.Warningf("partial metadata read while removing store %d: %v", storeID, metaErr)
	}

	if err := m.be.DeletePartition(ctx, keys.StorePartition(storeID)); err != nil && !errors.Is(err, backend.ErrPartitionNotFound) {
		return NewErrorf(RetSStoreRemoval, "delete partition of store %d: %v", storeID, err)
	}
	if err := m.dir.RemoveStoreEntry(ctx, meta.Name); err != nil {
		return NewErrorf(RetSStoreRemoval, "delete directory entry of store %d: %v", storeID, err)
	}

	metricStoreRemoves.Inc()
	return nil
}

func (m *storeMgrImpl) Clear(ctx context.Context, storeID uint64) error {
	ok, err := m.acquireStoreLock(ctx, storeID)
	if err != nil {
		return err
	}
	if !ok {
		return NewErrorf(RetSGetStoreLock, "store lock of %d not obtainable", storeID)
	}
	defer m.releaseStoreLock(ctx, storeID)

	meta, err := m.dir.ReadStoreMetadata(ctx, storeID)
	if err != nil {
		if errors.Is(err, backend.ErrPartitionNotFound) {
			return NewErrorf(RetSStoreDoesNotExist, "store %d does not exist", storeID)
		}
		return NewErrorf(RetSStoreClearing, "read metadata of store %d: %v", storeID, err)
	}

	// Dropping and recreating the partition beats per-key deletion: most
	// backends have no efficient delete-by-prefix.
	part := keys.StorePartition(storeID)
	if err := m.be.DeletePartition(ctx, part); err != nil {
		return NewErrorf(RetSStoreClearing, "drop partition of store %d: %v", storeID, err)
	}
	if err := m.be.CreatePartition(ctx, part); err != nil {
		return NewErrorf(RetSStoreClearing, "recreate partition of store %d: %v", storeID, err)
	}
	if err := m.dir.WriteStoreMetadata(ctx, storeID, meta); err != nil {
		return NewErrorf(RetSStoreClearing, "rewrite metadata of store %d: %v", storeID, err)
	}

	metricStoreClears.Inc()
	return nil
}

// --------------------------------------------------------------------------
// Data Item CRUD
// --------------------------------------------------------------------------

func (m *storeMgrImpl) Put(ctx context.Context, storeID uint64, key, value []byte) error {
	metricPuts.Inc()
	err := m.be.PutItem(ctx, keys.StorePartition(storeID), keys.EncodeKey(key), value, 0)
	if err != nil {
		if errors.Is(err, backend.ErrPartitionNotFound) {
			return NewErrorf(RetSStoreDoesNotExist, "store %d does not exist", storeID)
		}
		return NewErrorf(RetSDataItemWrite, "put into store %d: %v", storeID, err)
	}
	return nil
}

func (m *storeMgrImpl) PutSafe(ctx context.Context, storeID uint64, key, value []byte) error {
	if err := m.requireStore(ctx, storeID); err != nil {
		return err
	}

	ok, err := m.acquireStoreLock(ctx, storeID)
	if err != nil {
		return err
	}
	if !ok {
		return NewErrorf(RetSGetStoreLock, "store lock of %d not obtainable", storeID)
	}
	defer m.releaseStoreLock(ctx, storeID)

	return m.Put(ctx, storeID, key, value)
}

func (m *storeMgrImpl) Get(ctx context.Context, storeID uint64, key []byte) ([]byte, bool, error) {
	metricGets.Inc()
	value, found, err := m.be.GetItem(ctx, keys.StorePartition(storeID), keys.EncodeKey(key))
	if err != nil {
		if errors.Is(err, backend.ErrPartitionNotFound) {
			return nil, false, NewErrorf(RetSStoreDoesNotExist, "store %d does not exist", storeID)
		}
		return nil, false, NewErrorf(RetSDataItemRead, "get from store %d: %v", storeID, err)
	}
	return value, found, nil
}

func (m *storeMgrImpl) GetSafe(ctx context.Context, storeID uint64, key []byte) ([]byte, bool, error) {
	if err := m.requireStore(ctx, storeID); err != nil {
		return nil, false, err
	}

	ok, err := m.acquireStoreLock(ctx, storeID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, NewErrorf(RetSGetStoreLock, "store lock of %d not obtainable", storeID)
	}
	defer m.releaseStoreLock(ctx, storeID)

	return m.Get(ctx, storeID, key)
}

func (m *storeMgrImpl) Has(ctx context.Context, storeID uint64, key []byte) (bool, error) {
	_, found, err := m.be.GetItem(ctx, keys.StorePartition(storeID), keys.EncodeKey(key))
	if err != nil {
		if errors.Is(err, backend.ErrPartitionNotFound) {
			return false, NewErrorf(RetSStoreDoesNotExist, "store %d does not exist", storeID)
		}
		return false, NewErrorf(RetSKeyExistenceCheck, "existence check in store %d: %v", storeID, err)
	}
	return found, nil
}

func (m *storeMgrImpl) Remove(ctx context.Context, storeID uint64, key []byte) (bool, error) {
	metricRemoves.Inc()
	found, err := m.be.RemoveItem(ctx, keys.StorePartition(storeID), keys.EncodeKey(key))
	if err != nil {
		if errors.Is(err, backend.ErrPartitionNotFound) {
			return false, NewErrorf(RetSStoreDoesNotExist, "store %d does not exist", storeID)
		}
		return false, NewErrorf(RetSDataItemDelete, "remove from store %d: %v", storeID, err)
	}
	return found, nil
}

func (m *storeMgrImpl) Size(ctx context.Context, storeID uint64) (int, error) {
	count, err := m.be.CountItems(ctx, keys.StorePartition(storeID))
	if err != nil {
		if errors.Is(err, backend.ErrPartitionNotFound) {
			return 0, NewErrorf(RetSStoreDoesNotExist, "store %d does not exist", storeID)
		}
		return 0, NewErrorf(RetSGetStoreSize, "count items of store %d: %v", storeID, err)
	}
	if count < keys.ReservedKeyCount {
		return 0, NewErrorf(RetSGetStoreSize, "store %d is malformed: %d entries, expected at least %d reserved", storeID, count, keys.ReservedKeyCount)
	}
	return count - keys.ReservedKeyCount, nil
}

// --------------------------------------------------------------------------
// Metadata Getters
// --------------------------------------------------------------------------

func (m *storeMgrImpl) GetStoreName(ctx context.Context, storeID uint64) (string, error) {
	meta, err := m.dir.ReadStoreMetadata(ctx, storeID)
	if meta.Name != "" {
		return meta.Name, nil
	}
	if errors.Is(err, backend.ErrPartitionNotFound) {
		return "", NewErrorf(RetSStoreDoesNotExist, "store %d does not exist", storeID)
	}
	return "", NewErrorf(RetSGetStoreName, "read name of store %d: %v", storeID, err)
}

func (m *storeMgrImpl) GetKeyTypeName(ctx context.Context, storeID uint64) (string, error) {
	meta, err := m.dir.ReadStoreMetadata(ctx, storeID)
	if err != nil {
		if errors.Is(err, backend.ErrPartitionNotFound) {
			return "", NewErrorf(RetSStoreDoesNotExist, "store %d does not exist", storeID)
		}
		return "", NewErrorf(RetSGetKeyTypeName, "read key type of store %d: %v", storeID, err)
	}
	return meta.KeyType, nil
}

func (m *storeMgrImpl) GetValueTypeName(ctx context.Context, storeID uint64) (string, error) {
	meta, err := m.dir.ReadStoreMetadata(ctx, storeID)
	if err != nil {
		if errors.Is(err, backend.ErrPartitionNotFound) {
			return "", NewErrorf(RetSStoreDoesNotExist, "store %d does not exist", storeID)
		}
		return "", NewErrorf(RetSGetValueTypeName, "read value type of store %d: %v", storeID, err)
	}
	return meta.ValueType, nil
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func (m *storeMgrImpl) acquireStoreLock(ctx context.Context, storeID uint64) (bool, error) {
	ok, err := m.storeLock.Acquire(ctx, keys.StoreLockKey(storeID), storeLockLease, storeLockMaxWait)
	if err != nil {
		return false, NewErrorf(RetSConnectionError, "store lock of %d: %v", storeID, err)
	}
	return ok, nil
}

func (m *storeMgrImpl) releaseStoreLock(ctx context.Context, storeID uint64) {
	if err := m.storeLock.Release(ctx, keys.StoreLockKey(storeID)); err != nil {
		log.Warningf("failed to release store lock of %d: %v", storeID, err)
	}
}

// requireStore verifies that the store's partition and name exist.
func (m *storeMgrImpl) requireStore(ctx context.Context, storeID uint64) error {
	_, err := m.GetStoreName(ctx, storeID)
	return err
}

// rollbackEntry compensates a failed creation by deleting the directory
// entry written in step 1.
func (m *storeMgrImpl) rollbackEntry(ctx context.Context, name string) {
	if err := m.dir.RemoveStoreEntry(ctx, name); err != nil {
		log.Errorf("rollback of directory entry of store %q failed: %v", name, err)
	}
}
