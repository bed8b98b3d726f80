package lockmgr

import (
	"context"
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// ILockManager is the interface of the distributed (user-visible) lock
// manager. All blocking operations honor context cancellation in addition
// to their own wait bounds.
type ILockManager interface {
	// CreateOrGetLock registers a named lock and returns its id. The
	// operation is idempotent: if the lock already exists, the existing id
	// is returned and nothing is mutated.
	CreateOrGetLock(ctx context.Context, name string) (lockID uint64, err error)

	// AcquireLock acquires the lease of a lock. It blocks (polling with
	// random backoff) until the lease is obtained, maxWait wall-clock time
	// has elapsed, the retry budget is exhausted, or ctx is cancelled.
	// A stale lease (recorded expiration in the past) is taken over
	// unilaterally and does not count against the retry budget.
	AcquireLock(ctx context.Context, lockID uint64, lease, maxWait time.Duration) error

	// ReleaseLock releases the lease of a lock. Releasing a lease that
	// already expired (or was never held) is not an error.
	ReleaseLock(ctx context.Context, lockID uint64) error

	// RemoveLock deletes a lock entirely (info record and directory
	// entry). It internally acquires the lease to make sure nobody holds
	// the lock while it disappears.
	RemoveLock(ctx context.Context, lockID uint64) error

	// GetPidForLock returns the pid of the process currently holding the
	// named lock, or 0 when the lock is free or does not exist.
	GetPidForLock(ctx context.Context, name string) (int32, error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("LockManagerError (code %d): %s", e.Code, e.Msg)
}

// NewError creates a new lock manager error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// NewErrorf creates a new lock manager error with a formatted message.
func NewErrorf(code RetCode, format string, args ...interface{}) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

// Lock manager return codes live in the 5xx range, distinct from the store
// manager's 1xx range, so mixed call sites stay machine-checkable.
const (
	RetLSuccess          RetCode = 0
	RetLConnectionError  RetCode = 501 // backend read/write failed
	RetLGetLockIDError   RetCode = 502 // directory entry lookup failed
	RetLNameCreation     RetCode = 504 // directory entry creation failed
	RetLInfoCreation     RetCode = 505 // info record creation failed
	RetLGenericLockBusy  RetCode = 506 // internal generic lock not obtainable
	RetLGetLockInfo      RetCode = 507 // info record read failed
	RetLInfoUpdate       RetCode = 509 // info record update failed
	RetLAcquireError     RetCode = 510 // lease write failed
	RetLReleaseError     RetCode = 511 // lease delete failed
	RetLAcquireTimeout   RetCode = 513 // maxWait elapsed before the lease was free
	RetLLockNotFound     RetCode = 514 // no such lock
	RetLRemovalError     RetCode = 515 // lock removal failed
	RetLRetriesExhausted RetCode = 517 // retry budget spent before the lease was free
)
