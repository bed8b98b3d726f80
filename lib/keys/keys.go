package keys

import (
	"encoding/base64"
	"strconv"

	"github.com/zeebo/xxh3"
)

// --------------------------------------------------------------------------
// Well-known partition names
// --------------------------------------------------------------------------

const (
	// MetaPartition is the single well-known partition holding the
	// directory entries, lock info records and all presence keys.
	MetaPartition = "dps_dl_meta_data"

	// TTLPartition is the global partition for TTL items. It is shared by
	// all callers and independent of any store.
	TTLPartition = "dps_ttl_kv_global_store"

	// partitionPrefix is prepended to every store partition name.
	partitionPrefix = "dps"
)

// --------------------------------------------------------------------------
// Type tags
// --------------------------------------------------------------------------

// Short numeric type tags. They are concatenated with encoded entity names
// so that one flat partition can hold several logical namespaces.
const (
	tagStoreName   = "0"
	tagStoreInfo   = "1"
	tagStoreLock   = "4"
	tagLockName    = "5"
	tagLockInfo    = "6"
	tagLock        = "7"
	tagGenericLock = "501"

	tokenStoreLock   = "dps_lock"
	tokenLock        = "dl_lock"
	tokenGenericLock = "generic_lock"
)

// --------------------------------------------------------------------------
// Reserved per-store metadata keys
// --------------------------------------------------------------------------

// Every store partition always contains exactly these three reserved
// entries in addition to the user data items. The std base64 alphabet used
// by EncodeName contains no underscore, so an encoded data item key can
// never collide with them.
const (
	ReservedStoreNameKey = "dps_name_of_this_store"
	ReservedKeyTypeKey   = "dps_spl_type_name_of_key"
	ReservedValueTypeKey = "dps_spl_type_name_of_value"
)

// ReservedKeyCount is the number of reserved metadata entries per store.
const ReservedKeyCount = 3

// IsReservedKey reports whether the given backend key is one of the three
// reserved metadata entries of a store partition.
func IsReservedKey(backendKey string) bool {
	return backendKey == ReservedStoreNameKey ||
		backendKey == ReservedKeyTypeKey ||
		backendKey == ReservedValueTypeKey
}

// --------------------------------------------------------------------------
// Name encoding and id derivation
// --------------------------------------------------------------------------

// EncodeName encodes an arbitrary name (any bytes, including spaces, nulls
// and non-ASCII) into a backend-safe string. The encoding is reversible and
// guarantees that purely numeric names are not reinterpreted as numbers by
// a backend.
func EncodeName(name string) string {
	return base64.StdEncoding.EncodeToString([]byte(name))
}

// DecodeName reverses EncodeName.
func DecodeName(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// EncodeKey encodes a raw data item key for use as a backend key. It is the
// same transform as EncodeName; the separate name documents intent.
func EncodeKey(rawKey []byte) string {
	return base64.StdEncoding.EncodeToString(rawKey)
}

// DecodeKey reverses EncodeKey.
func DecodeKey(backendKey string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(backendKey)
}

// DeriveID derives the 64-bit id of an entity from an already type-tagged,
// encoded key string. The hash is stable across processes and platforms.
func DeriveID(taggedKey string) uint64 {
	return xxh3.HashString(taggedKey)
}

// StoreID derives the store id for a raw store name.
func StoreID(name string) uint64 {
	// The store id is the hash of the encoded name itself (no tag), which
	// keeps ids identical to what the directory entry lookup derives.
	return DeriveID(EncodeName(name))
}

// LockID derives the lock id for a raw lock name.
func LockID(name string) uint64 {
	return DeriveID(tagLockName + EncodeName(name))
}

// --------------------------------------------------------------------------
// Composite key constructors
// --------------------------------------------------------------------------

// StoreNameKey is the directory entry key mapping a store name to its id.
func StoreNameKey(name string) string {
	return tagStoreName + EncodeName(name)
}

// StorePartition is the name of the backend partition holding a store's
// reserved metadata entries and user data items.
func StorePartition(storeID uint64) string {
	return partitionPrefix + "_" + tagStoreInfo + "_" + formatID(storeID)
}

// StoreLockKey is the presence key of the short-lived store lock guarding
// structural operations (remove, clear, safe writes) on one store.
func StoreLockKey(storeID uint64) string {
	return tagStoreLock + formatID(storeID) + tokenStoreLock
}

// LockNameKey is the directory entry key mapping a lock name to its id.
func LockNameKey(name string) string {
	return tagLockName + EncodeName(name)
}

// LockInfoKey is the key of a lock's info record (usage count, expiration,
// owning pid, name).
func LockInfoKey(lockID uint64) string {
	return tagLockInfo + formatID(lockID)
}

// LeaseKey is the presence key that exists exactly while a distributed
// lock is held.
func LeaseKey(lockID uint64) string {
	return tagLock + formatID(lockID) + tokenLock
}

// GenericLockKey is the presence key of the internal generic lock for an
// arbitrary entity name. The entity name is expected to be encoded already.
func GenericLockKey(encodedEntity string) string {
	return tagGenericLock + encodedEntity + tokenGenericLock
}

// formatID renders an id the way it is embedded in composite keys.
func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// FormatID is the exported form used where ids appear in messages.
func FormatID(id uint64) string {
	return formatID(id)
}
