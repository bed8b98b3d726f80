package backend

import (
	"context"
	"errors"
	"time"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMemDB Implementation = "memdb"
	ImplBolt  Implementation = "boltdb"
	ImplRedis Implementation = "redisdb"
)

// Feature represents backend capabilities as bit flags
type Feature uint64

const (
	FeaturePutIfAbsent Feature = 1 << iota // Native atomic conditional put
	FeatureTTL                             // Native per-key expiry
)

func (f Feature) String() string {
	switch f {
	case FeaturePutIfAbsent:
		return "PutIfAbsent"
	case FeatureTTL:
		return "TTL"
	default:
		return "Unknown"
	}
}

// Info describes a backend adapter.
type Info struct {
	Name              Implementation `json:"name"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Sentinel Errors
// --------------------------------------------------------------------------

var (
	// ErrPartitionExists is returned by CreatePartition when the partition
	// is already present.
	ErrPartitionExists = errors.New("backend: partition already exists")

	// ErrPartitionNotFound is returned by operations on a partition that
	// does not exist.
	ErrPartitionNotFound = errors.New("backend: partition not found")

	// ErrTTLNotSupported is returned by adapters that receive a non-zero
	// TTL but declare FeatureTTL absent.
	ErrTTLNotSupported = errors.New("backend: per-key TTL not supported")
)

// --------------------------------------------------------------------------
// Backend Interface
// --------------------------------------------------------------------------

// Backend is the capability interface for a NoSQL backend adapter.
// All methods are safe for concurrent use by multiple goroutines; the
// coordination protocols additionally assume multiple independent OS
// processes share the same backend.
type Backend interface {

	// --------------------------------------------------------------------------
	// Item Operations
	// --------------------------------------------------------------------------

	// PutItem inserts or overwrites a key/value pair in a partition.
	// A zero ttl means the item does not expire. Adapters without
	// FeatureTTL must reject a non-zero ttl with ErrTTLNotSupported.
	PutItem(ctx context.Context, partition, key string, value []byte, ttl time.Duration) error

	// PutIfAbsent inserts a key/value pair only if the key does not exist.
	// It returns created=false (and no error) when the key is already
	// present. Adapters declaring FeaturePutIfAbsent perform this as one
	// atomic backend operation; the lock managers emulate it otherwise.
	PutIfAbsent(ctx context.Context, partition, key string, value []byte, ttl time.Duration) (created bool, err error)

	// GetItem retrieves the value for a key. found=false with a nil error
	// means the key does not exist.
	GetItem(ctx context.Context, partition, key string) (value []byte, found bool, err error)

	// RemoveItem deletes a key. Deleting an absent key is not an error;
	// found reports whether the key existed.
	RemoveItem(ctx context.Context, partition, key string) (found bool, err error)

	// --------------------------------------------------------------------------
	// Partition Operations
	// --------------------------------------------------------------------------

	// CreatePartition creates an empty partition. It returns
	// ErrPartitionExists when a partition with that name is present.
	CreatePartition(ctx context.Context, name string) error

	// DeletePartition removes a partition and all items in it. It returns
	// ErrPartitionNotFound when no such partition exists.
	DeletePartition(ctx context.Context, name string) error

	// CountItems returns the number of items currently in a partition.
	CountItems(ctx context.Context, partition string) (int, error)

	// ListKeys returns all keys currently in a partition, in unspecified
	// order. The returned slice is a snapshot.
	ListKeys(ctx context.Context, partition string) ([]string, error)

	// --------------------------------------------------------------------------
	// Capabilities
	// --------------------------------------------------------------------------

	// SupportsFeature checks whether the adapter supports the specified
	// feature(s). Multiple features can be checked at once using the
	// bitwise OR operator.
	SupportsFeature(feature Feature) bool

	// GetInfo returns information about the adapter.
	GetInfo() Info

	// Close releases the adapter's resources.
	Close() error
}
