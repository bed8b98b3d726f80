package storemgr

import (
	"context"
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IStoreManager is the interface of the store layer. All operations are
// safe for concurrent use by multiple goroutines and by independent
// processes sharing the same backend.
type IStoreManager interface {
	// CreateStore creates a named store. If a store with that name already
	// exists the returned error has code RetSStoreExists and carries the
	// existing id.
	CreateStore(ctx context.Context, name, keyType, valueType string) (storeID uint64, err error)

	// CreateOrGetStore creates a named store or, if it already exists,
	// returns the existing id without mutating anything.
	CreateOrGetStore(ctx context.Context, name, keyType, valueType string) (storeID uint64, err error)

	// FindStore resolves a store name to its id. found=false with a nil
	// error means no store with that name exists.
	FindStore(ctx context.Context, name string) (storeID uint64, found bool, err error)

	// RemoveStore deletes a store (partition, metadata and directory
	// entry) under the store lock.
	RemoveStore(ctx context.Context, storeID uint64) error

	// Put writes a data item. Fast path: no existence check, no locking.
	Put(ctx context.Context, storeID uint64, key, value []byte) error

	// PutSafe writes a data item after verifying store existence, holding
	// the store lock so the write cannot race structural operations.
	PutSafe(ctx context.Context, storeID uint64, key, value []byte) error

	// Get reads a data item. Fast path, symmetric to Put.
	Get(ctx context.Context, storeID uint64, key []byte) (value []byte, found bool, err error)

	// GetSafe reads a data item under the store lock, symmetric to PutSafe.
	GetSafe(ctx context.Context, storeID uint64, key []byte) (value []byte, found bool, err error)

	// Has reports whether a data item exists without returning its value.
	Has(ctx context.Context, storeID uint64, key []byte) (bool, error)

	// Remove deletes a data item. Deleting an absent key is not an error;
	// found reports whether the key existed.
	Remove(ctx context.Context, storeID uint64, key []byte) (found bool, err error)

	// Clear removes all data items of a store while preserving its name
	// and type metadata.
	Clear(ctx context.Context, storeID uint64) error

	// Size returns the number of data items in a store (reserved metadata
	// entries are not counted).
	Size(ctx context.Context, storeID uint64) (int, error)

	// GetStoreName returns the name a store was created with.
	GetStoreName(ctx context.Context, storeID uint64) (string, error)

	// GetKeyTypeName returns the caller-defined type tag of the store's keys.
	GetKeyTypeName(ctx context.Context, storeID uint64) (string, error)

	// GetValueTypeName returns the caller-defined type tag of the store's values.
	GetValueTypeName(ctx context.Context, storeID uint64) (string, error)

	// NewIterator snapshots the store's data item keys for single-pass
	// enumeration. See Iterator.
	NewIterator(ctx context.Context, storeID uint64) (*Iterator, error)

	// PutTTL writes an expiring item into the global TTL partition.
	// Requires the backend's TTL capability.
	PutTTL(ctx context.Context, key, value []byte, ttl time.Duration) error

	// GetTTL reads an item from the global TTL partition.
	GetTTL(ctx context.Context, key []byte) (value []byte, found bool, err error)

	// HasTTL reports whether an item exists in the global TTL partition.
	HasTTL(ctx context.Context, key []byte) (bool, error)

	// RemoveTTL deletes an item from the global TTL partition.
	RemoveTTL(ctx context.Context, key []byte) (found bool, err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.

	// ExistingID carries the id of the conflicting store. Only set for
	// RetSStoreExists.
	ExistingID uint64
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("StoreManagerError (code %d): %s", e.Code, e.Msg)
}

// NewError creates a new store manager error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// NewErrorf creates a new store manager error with a formatted message.
func NewErrorf(code RetCode, format string, args ...interface{}) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

// Store manager return codes live in the 1xx range, distinct from the lock
// manager's 5xx range, so mixed call sites stay machine-checkable.
const (
	RetSSuccess           RetCode = 0
	RetSConnectionError   RetCode = 102 // backend read/write failed
	RetSNameCreation      RetCode = 104 // directory entry creation failed
	RetSMetadataCreation  RetCode = 105 // reserved metadata triple write failed
	RetSPartitionCreation RetCode = 106 // store partition creation failed
	RetSDataItemWrite     RetCode = 107
	RetSDataItemRead      RetCode = 108
	RetSStoreExists       RetCode = 109 // conflict, ExistingID is set
	RetSStoreDoesNotExist RetCode = 110
	RetSDataItemDelete    RetCode = 113
	RetSGetStoreID        RetCode = 114 // directory entry lookup failed
	RetSGetStoreLock      RetCode = 116 // store lock not obtainable
	RetSGetStoreName      RetCode = 118
	RetSGenericLockBusy   RetCode = 132 // internal generic lock not obtainable
	RetSKeyExistenceCheck RetCode = 133
	RetSStoreClearing     RetCode = 139
	RetSGetStoreSize      RetCode = 140
	RetSIteration         RetCode = 141
	RetSGetKeyTypeName    RetCode = 147
	RetSGetValueTypeName  RetCode = 148
	RetSStoreRemoval      RetCode = 152
	RetSTTLNotSupported   RetCode = 153
)
