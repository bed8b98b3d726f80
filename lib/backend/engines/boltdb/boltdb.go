package boltdb

import (
	"context"
	"errors"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
	bolt "go.etcd.io/bbolt"
)

type boltImpl struct {
	db   *bolt.DB
	path string
}

// Options configures the boltdb engine during initialization.
type Options struct {
	// Timeout bounds how long Open waits for the file lock held by
	// another process (0 = wait forever).
	Timeout time.Duration
}

// New opens (or creates) the bbolt file at path and returns it as a
// backend. The file is shared between the partitions; each partition is a
// bucket.
func New(path string, opts *Options) (backend.Backend, error) {
	var boltOpts *bolt.Options
	if opts != nil && opts.Timeout > 0 {
		boltOpts = &bolt.Options{Timeout: opts.Timeout}
	}

	db, err := bolt.Open(path, 0o600, boltOpts)
	if err != nil {
		return nil, err
	}
	return &boltImpl{db: db, path: path}, nil
}

// --------------------------------------------------------------------------
// Item Operations (docu see backend/interface.go)
// --------------------------------------------------------------------------

func (b *boltImpl) PutItem(_ context.Context, part, key string, value []byte, ttl time.Duration) error {
	if ttl > 0 {
		return backend.ErrTTLNotSupported
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(part))
		if bucket == nil {
			return backend.ErrPartitionNotFound
		}
		return bucket.Put([]byte(key), value)
	})
}

func (b *boltImpl) PutIfAbsent(_ context.Context, part, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl > 0 {
		return false, backend.ErrTTLNotSupported
	}

	created := false
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(part))
		if bucket == nil {
			return backend.ErrPartitionNotFound
		}
		if bucket.Get([]byte(key)) != nil {
			return nil
		}
		created = true
		return bucket.Put([]byte(key), value)
	})
	return created, err
}

func (b *boltImpl) GetItem(_ context.Context, part, key string) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(part))
		if bucket == nil {
			return backend.ErrPartitionNotFound
		}
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return nil
		}
		// bbolt memory is only valid inside the transaction.
		found = true
		value = make([]byte, len(raw))
		copy(value, raw)
		return nil
	})
	return value, found, err
}

func (b *boltImpl) RemoveItem(_ context.Context, part, key string) (bool, error) {
	found := false
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(part))
		if bucket == nil {
			return backend.ErrPartitionNotFound
		}
		if bucket.Get([]byte(key)) == nil {
			return nil
		}
		found = true
		return bucket.Delete([]byte(key))
	})
	return found, err
}

// --------------------------------------------------------------------------
// Partition Operations
// --------------------------------------------------------------------------

func (b *boltImpl) CreatePartition(_ context.Context, name string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucket([]byte(name))
		return err
	})
	if errors.Is(err, bolt.ErrBucketExists) {
		return backend.ErrPartitionExists
	}
	return err
}

func (b *boltImpl) DeletePartition(_ context.Context, name string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.DeleteBucket([]byte(name))
	})
	if errors.Is(err, bolt.ErrBucketNotFound) {
		return backend.ErrPartitionNotFound
	}
	return err
}

func (b *boltImpl) CountItems(_ context.Context, part string) (int, error) {
	count := 0
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(part))
		if bucket == nil {
			return backend.ErrPartitionNotFound
		}
		count = bucket.Stats().KeyN
		return nil
	})
	return count, err
}

func (b *boltImpl) ListKeys(_ context.Context, part string) ([]string, error) {
	var keys []string
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(part))
		if bucket == nil {
			return backend.ErrPartitionNotFound
		}
		return bucket.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

// --------------------------------------------------------------------------
// Capabilities
// --------------------------------------------------------------------------

func (b *boltImpl) SupportsFeature(feature backend.Feature) bool {
	supported := backend.FeaturePutIfAbsent
	return supported&feature == feature
}

func (b *boltImpl) GetInfo() backend.Info {
	return backend.Info{
		Name:              backend.ImplBolt,
		SupportedFeatures: []backend.Feature{backend.FeaturePutIfAbsent},
		Metadata: &struct {
			Path string `json:"path"`
		}{
			Path: b.path,
		},
	}
}

func (b *boltImpl) Close() error {
	return b.db.Close()
}
