package directory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/ValentinKolb/dps/lib/keys"
)

// --------------------------------------------------------------------------
// Lock Info Records
// --------------------------------------------------------------------------

// LockInfo is the bookkeeping record of a distributed lock. It exists for
// the whole lifetime of the lock, independent of whether the lease is
// currently held.
type LockInfo struct {
	UsageCount uint32 // 1 while held, 0 while free
	Expiration int64  // lease end as epoch seconds, 0 while free
	OwningPid  int32  // pid of the holder, 0 while free
	Name       string // raw lock name (may contain any bytes)
}

// Marshal renders the record in its wire format:
// usageCount "_" expiration "_" owningPid "_" name.
func (i LockInfo) Marshal() []byte {
	return []byte(fmt.Sprintf("%d_%d_%d_%s", i.UsageCount, i.Expiration, i.OwningPid, i.Name))
}

// ParseLockInfo parses the wire format produced by Marshal. The name is the
// unsplit tail, so names containing underscores round-trip correctly.
func ParseLockInfo(raw []byte) (LockInfo, error) {
	parts := strings.SplitN(string(raw), "_", 4)
	if len(parts) != 4 {
		return LockInfo{}, fmt.Errorf("directory: malformed lock info record %q", raw)
	}

	usage, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return LockInfo{}, fmt.Errorf("directory: malformed usage count in lock info record %q: %w", raw, err)
	}
	expiration, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return LockInfo{}, fmt.Errorf("directory: malformed expiration in lock info record %q: %w", raw, err)
	}
	pid, err := strconv.ParseInt(parts[2], 10, 32)
	if err != nil {
		return LockInfo{}, fmt.Errorf("directory: malformed pid in lock info record %q: %w", raw, err)
	}

	return LockInfo{
		UsageCount: uint32(usage),
		Expiration: expiration,
		OwningPid:  int32(pid),
		Name:       parts[3],
	}, nil
}

// --------------------------------------------------------------------------
// Store Metadata
// --------------------------------------------------------------------------

// StoreMetadata is the reserved triple present in every store partition.
type StoreMetadata struct {
	Name      string // raw store name
	KeyType   string // caller-defined type tag for keys
	ValueType string // caller-defined type tag for values
}

// --------------------------------------------------------------------------
// Directory
// --------------------------------------------------------------------------

type Directory struct {
	be backend.Backend
}

// New creates a directory over the given backend.
func New(be backend.Backend) *Directory {
	return &Directory{be: be}
}

// EnsurePartitions creates the well-known meta and TTL partitions if they
// do not exist yet. Safe to call from every process at startup.
func (d *Directory) EnsurePartitions(ctx context.Context) error {
	for _, name := range []string{keys.MetaPartition, keys.TTLPartition} {
		if err := d.be.CreatePartition(ctx, name); err != nil && !errors.Is(err, backend.ErrPartitionExists) {
			return fmt.Errorf("directory: create partition %s: %w", name, err)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Store Entries
// --------------------------------------------------------------------------

// PutStoreEntry writes the name→id directory entry of a store. Callers
// must hold the generic lock on the store name.
func (d *Directory) PutStoreEntry(ctx context.Context, name string, id uint64) error {
	return d.be.PutItem(ctx, keys.MetaPartition, keys.StoreNameKey(name), []byte(keys.FormatID(id)), 0)
}

// LookupStoreID resolves a store name to its id. found=false with a nil
// error means no store with that name exists.
func (d *Directory) LookupStoreID(ctx context.Context, name string) (uint64, bool, error) {
	return d.lookupID(ctx, keys.StoreNameKey(name))
}

// RemoveStoreEntry deletes the name→id directory entry of a store.
// Absence is not an error.
func (d *Directory) RemoveStoreEntry(ctx context.Context, name string) error {
	_, err := d.be.RemoveItem(ctx, keys.MetaPartition, keys.StoreNameKey(name))
	return err
}

// --------------------------------------------------------------------------
// Lock Entries
// --------------------------------------------------------------------------

// PutLockEntry writes the name→id directory entry of a distributed lock.
// Callers must hold the generic lock on the lock name.
func (d *Directory) PutLockEntry(ctx context.Context, name string, id uint64) error {
	return d.be.PutItem(ctx, keys.MetaPartition, keys.LockNameKey(name), []byte(keys.FormatID(id)), 0)
}

// LookupLockID resolves a lock name to its id.
func (d *Directory) LookupLockID(ctx context.Context, name string) (uint64, bool, error) {
	return d.lookupID(ctx, keys.LockNameKey(name))
}

// RemoveLockEntry deletes the name→id directory entry of a lock.
func (d *Directory) RemoveLockEntry(ctx context.Context, name string) error {
	_, err := d.be.RemoveItem(ctx, keys.MetaPartition, keys.LockNameKey(name))
	return err
}

// --------------------------------------------------------------------------
// Lock Info Records
// --------------------------------------------------------------------------

// PutLockInfo writes (or overwrites) the info record of a lock.
func (d *Directory) PutLockInfo(ctx context.Context, lockID uint64, info LockInfo) error {
	return d.be.PutItem(ctx, keys.MetaPartition, keys.LockInfoKey(lockID), info.Marshal(), 0)
}

// GetLockInfo reads the info record of a lock.
func (d *Directory) GetLockInfo(ctx context.Context, lockID uint64) (LockInfo, bool, error) {
	raw, found, err := d.be.GetItem(ctx, keys.MetaPartition, keys.LockInfoKey(lockID))
	if err != nil || !found {
		return LockInfo{}, false, err
	}
	info, err := ParseLockInfo(raw)
	if err != nil {
		return LockInfo{}, false, err
	}
	return info, true, nil
}

// RemoveLockInfo deletes the info record of a lock.
func (d *Directory) RemoveLockInfo(ctx context.Context, lockID uint64) error {
	_, err := d.be.RemoveItem(ctx, keys.MetaPartition, keys.LockInfoKey(lockID))
	return err
}

// --------------------------------------------------------------------------
// Store Metadata Triple
// --------------------------------------------------------------------------

// WriteStoreMetadata writes the three reserved entries into a store's
// partition. The values are name-encoded so arbitrary bytes survive
// backends that only take text.
func (d *Directory) WriteStoreMetadata(ctx context.Context, storeID uint64, meta StoreMetadata) error {
	part := keys.StorePartition(storeID)
	entries := []struct {
		key   string
		value string
	}{
		{keys.ReservedStoreNameKey, meta.Name},
		{keys.ReservedKeyTypeKey, meta.KeyType},
		{keys.ReservedValueTypeKey, meta.ValueType},
	}
	for _, e := range entries {
		if err := d.be.PutItem(ctx, part, e.key, []byte(keys.EncodeName(e.value)), 0); err != nil {
			return fmt.Errorf("directory: write reserved entry %s: %w", e.key, err)
		}
	}
	return nil
}

// ReadStoreMetadata reads the reserved triple of a store. Each field that
// cannot be read is left empty; the returned error reflects the first
// failure but the remaining fields are still attempted, so a caller that
// only needs the name can use a partial result.
func (d *Directory) ReadStoreMetadata(ctx context.Context, storeID uint64) (StoreMetadata, error) {
	part := keys.StorePartition(storeID)

	var (
		meta     StoreMetadata
		firstErr error
	)
	read := func(key string, target *string) {
		raw, found, err := d.be.GetItem(ctx, part, key)
		if err == nil && !found {
			err = fmt.Errorf("directory: reserved entry %s missing", key)
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		decoded, err := keys.DecodeName(string(raw))
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("directory: reserved entry %s corrupt: %w", key, err)
			}
			return
		}
		*target = decoded
	}

	read(keys.ReservedStoreNameKey, &meta.Name)
	read(keys.ReservedKeyTypeKey, &meta.KeyType)
	read(keys.ReservedValueTypeKey, &meta.ValueType)

	return meta, firstErr
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func (d *Directory) lookupID(ctx context.Context, entryKey string) (uint64, bool, error) {
	raw, found, err := d.be.GetItem(ctx, keys.MetaPartition, entryKey)
	if err != nil || !found {
		return 0, false, err
	}
	id, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("directory: malformed id in entry %s: %w", entryKey, err)
	}
	return id, true, nil
}
