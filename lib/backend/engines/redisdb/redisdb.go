package redisdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/redis/go-redis/v9"
	"github.com/zeebo/xxh3"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	registryKey   = "dps:partitions" // set of all partition names
	keySetPrefix  = "dps:keys:"      // per-partition set of non-expiring keys
	itemKeyPrefix = "dps:item:"      // actual item keys
)

// --------------------------------------------------------------------------
// Connection Pool
// --------------------------------------------------------------------------

// pool shards keys over a fixed list of Redis endpoints. Every Redis key is
// pinned to exactly one endpoint by its hash, so all reads of a key hit the
// endpoint its writes went to. The endpoint list is immutable after
// construction.
type pool struct {
	clients []*redis.Client
}

// clientFor returns the one client responsible for the given Redis key.
func (p *pool) clientFor(redisKey string) *redis.Client {
	return p.clients[shardIndex(redisKey, len(p.clients))]
}

// shardIndex maps a Redis key to an endpoint slot.
func shardIndex(redisKey string, n int) int {
	if n == 1 {
		return 0
	}
	return int(xxh3.HashString(redisKey) % uint64(n))
}

func (p *pool) close() error {
	var firstErr error
	for _, c := range p.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// --------------------------------------------------------------------------
// Engine
// --------------------------------------------------------------------------

type redisImpl struct {
	pool      *pool
	endpoints []string
}

// Options configures the redisdb engine during initialization.
type Options struct {
	Endpoints []string // "host:port" addresses, at least one
	Password  string   // optional AUTH password
	DB        int      // logical Redis database
}

// New connects to the configured Redis endpoints and returns them as a
// backend. The first endpoint is pinged to fail fast on misconfiguration.
func New(ctx context.Context, opts *Options) (backend.Backend, error) {
	if opts == nil || len(opts.Endpoints) == 0 {
		return nil, errors.New("redisdb: at least one endpoint is required")
	}

	clients := make([]*redis.Client, 0, len(opts.Endpoints))
	for _, addr := range opts.Endpoints {
		clients = append(clients, redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: opts.Password,
			DB:       opts.DB,
		}))
	}

	if err := clients[0].Ping(ctx).Err(); err != nil {
		for _, c := range clients {
			_ = c.Close()
		}
		return nil, fmt.Errorf("redisdb: ping %s: %w", opts.Endpoints[0], err)
	}

	endpoints := make([]string, len(opts.Endpoints))
	copy(endpoints, opts.Endpoints)

	return &redisImpl{
		pool:      &pool{clients: clients},
		endpoints: endpoints,
	}, nil
}

// --------------------------------------------------------------------------
// Item Operations (docu see backend/interface.go)
// --------------------------------------------------------------------------

func (r *redisImpl) PutItem(ctx context.Context, part, key string, value []byte, ttl time.Duration) error {
	if err := r.requirePartition(ctx, part); err != nil {
		return err
	}

	ik := itemKey(part, key)
	if err := r.pool.clientFor(ik).Set(ctx, ik, value, ttl).Err(); err != nil {
		return err
	}

	// Only non-expiring keys are tracked for enumeration (see doc.go).
	sk := keySetKey(part)
	if ttl > 0 {
		return r.pool.clientFor(sk).SRem(ctx, sk, key).Err()
	}
	return r.pool.clientFor(sk).SAdd(ctx, sk, key).Err()
}

func (r *redisImpl) PutIfAbsent(ctx context.Context, part, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := r.requirePartition(ctx, part); err != nil {
		return false, err
	}

	ik := itemKey(part, key)
	created, err := r.pool.clientFor(ik).SetNX(ctx, ik, value, ttl).Result()
	if err != nil {
		return false, err
	}
	if created && ttl == 0 {
		sk := keySetKey(part)
		if err := r.pool.clientFor(sk).SAdd(ctx, sk, key).Err(); err != nil {
			return created, err
		}
	}
	return created, nil
}

func (r *redisImpl) GetItem(ctx context.Context, part, key string) ([]byte, bool, error) {
	if err := r.requirePartition(ctx, part); err != nil {
		return nil, false, err
	}

	ik := itemKey(part, key)
	value, err := r.pool.clientFor(ik).Get(ctx, ik).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (r *redisImpl) RemoveItem(ctx context.Context, part, key string) (bool, error) {
	if err := r.requirePartition(ctx, part); err != nil {
		return false, err
	}

	ik := itemKey(part, key)
	removed, err := r.pool.clientFor(ik).Del(ctx, ik).Result()
	if err != nil {
		return false, err
	}
	sk := keySetKey(part)
	if err := r.pool.clientFor(sk).SRem(ctx, sk, key).Err(); err != nil {
		return removed > 0, err
	}
	return removed > 0, nil
}

// --------------------------------------------------------------------------
// Partition Operations
// --------------------------------------------------------------------------

func (r *redisImpl) CreatePartition(ctx context.Context, name string) error {
	added, err := r.pool.clientFor(registryKey).SAdd(ctx, registryKey, name).Result()
	if err != nil {
		return err
	}
	if added == 0 {
		return backend.ErrPartitionExists
	}
	return nil
}

func (r *redisImpl) DeletePartition(ctx context.Context, name string) error {
	removed, err := r.pool.clientFor(registryKey).SRem(ctx, registryKey, name).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return backend.ErrPartitionNotFound
	}

	// Best effort cleanup of the partition's items. Expired keys vanish on
	// their own; untracked TTL'd keys that are still alive will too.
	sk := keySetKey(name)
	keys, err := r.pool.clientFor(sk).SMembers(ctx, sk).Result()
	if err != nil {
		return err
	}
	for _, k := range keys {
		ik := itemKey(name, k)
		if err := r.pool.clientFor(ik).Del(ctx, ik).Err(); err != nil {
			return err
		}
	}
	return r.pool.clientFor(sk).Del(ctx, sk).Err()
}

func (r *redisImpl) CountItems(ctx context.Context, part string) (int, error) {
	if err := r.requirePartition(ctx, part); err != nil {
		return 0, err
	}

	sk := keySetKey(part)
	count, err := r.pool.clientFor(sk).SCard(ctx, sk).Result()
	return int(count), err
}

func (r *redisImpl) ListKeys(ctx context.Context, part string) ([]string, error) {
	if err := r.requirePartition(ctx, part); err != nil {
		return nil, err
	}
	sk := keySetKey(part)
	return r.pool.clientFor(sk).SMembers(ctx, sk).Result()
}

// --------------------------------------------------------------------------
// Capabilities
// --------------------------------------------------------------------------

func (r *redisImpl) SupportsFeature(feature backend.Feature) bool {
	supported := backend.FeaturePutIfAbsent | backend.FeatureTTL
	return supported&feature == feature
}

func (r *redisImpl) GetInfo() backend.Info {
	return backend.Info{
		Name:              backend.ImplRedis,
		SupportedFeatures: []backend.Feature{backend.FeaturePutIfAbsent, backend.FeatureTTL},
		Metadata: &struct {
			Endpoints []string `json:"endpoints"`
		}{
			Endpoints: r.endpoints,
		},
	}
}

func (r *redisImpl) Close() error {
	return r.pool.close()
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func (r *redisImpl) requirePartition(ctx context.Context, part string) error {
	exists, err := r.pool.clientFor(registryKey).SIsMember(ctx, registryKey, part).Result()
	if err != nil {
		return err
	}
	if !exists {
		return backend.ErrPartitionNotFound
	}
	return nil
}

func itemKey(part, key string) string {
	return itemKeyPrefix + part + ":" + key
}

func keySetKey(part string) string {
	return keySetPrefix + part
}
