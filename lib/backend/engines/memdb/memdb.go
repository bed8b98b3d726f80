package memdb

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultSweepInterval = 250 * time.Millisecond // Interval between expiry sweeps
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// item is a stored value with an optional absolute expiry time.
type item struct {
	value     []byte
	expiresAt int64 // unix nanos, 0 = never
}

func (it item) expired(now int64) bool {
	return it.expiresAt != 0 && now >= it.expiresAt
}

// partition is a flat key/value namespace.
type partition struct {
	items *xsync.MapOf[string, item]
}

type memImpl struct {
	partitions *xsync.MapOf[string, *partition]

	sweepInterval  time.Duration
	sweepIsRunning atomic.Bool
	sweepStop      chan struct{}
}

// Options configures the memdb engine during initialization.
type Options struct {
	SweepInterval time.Duration // Time between expiry sweeps (0 = default)
}

// New creates a new in-memory backend.
//
// Thread-safety: the returned backend is safe for concurrent use; New
// itself should only be called once per desired instance.
func New(opts *Options) backend.Backend {
	interval := defaultSweepInterval
	if opts != nil && opts.SweepInterval > 0 {
		interval = opts.SweepInterval
	}

	be := &memImpl{
		partitions:    xsync.NewMapOf[string, *partition](),
		sweepInterval: interval,
		sweepStop:     make(chan struct{}),
	}
	be.startSweeper()
	return be
}

// --------------------------------------------------------------------------
// Item Operations (docu see backend/interface.go)
// --------------------------------------------------------------------------

func (m *memImpl) PutItem(_ context.Context, part, key string, value []byte, ttl time.Duration) error {
	p, ok := m.partitions.Load(part)
	if !ok {
		return backend.ErrPartitionNotFound
	}

	p.items.Store(key, newItem(value, ttl))
	return nil
}

func (m *memImpl) PutIfAbsent(_ context.Context, part, key string, value []byte, ttl time.Duration) (bool, error) {
	p, ok := m.partitions.Load(part)
	if !ok {
		return false, backend.ErrPartitionNotFound
	}

	now := time.Now().UnixNano()
	created := false

	// Compute gives us an atomic check-and-set. An expired entry counts as
	// absent and is overwritten.
	p.items.Compute(key, func(old item, loaded bool) (item, bool) {
		if loaded && !old.expired(now) {
			return old, false
		}
		created = true
		return newItem(value, ttl), false
	})

	return created, nil
}

func (m *memImpl) GetItem(_ context.Context, part, key string) ([]byte, bool, error) {
	p, ok := m.partitions.Load(part)
	if !ok {
		return nil, false, backend.ErrPartitionNotFound
	}

	now := time.Now().UnixNano()

	var (
		data  []byte
		found bool
	)
	p.items.Compute(key, func(old item, loaded bool) (item, bool) {
		if !loaded {
			return old, true // delete=true so no empty value is created
		}
		if old.expired(now) {
			return old, true // lazily drop the expired entry
		}

		// Copy so callers can't mutate the stored value.
		found = true
		data = make([]byte, len(old.value))
		copy(data, old.value)
		return old, false
	})

	return data, found, nil
}

func (m *memImpl) RemoveItem(_ context.Context, part, key string) (bool, error) {
	p, ok := m.partitions.Load(part)
	if !ok {
		return false, backend.ErrPartitionNotFound
	}

	old, existed := p.items.LoadAndDelete(key)
	if existed && old.expired(time.Now().UnixNano()) {
		existed = false
	}
	return existed, nil
}

// --------------------------------------------------------------------------
// Partition Operations
// --------------------------------------------------------------------------

func (m *memImpl) CreatePartition(_ context.Context, name string) error {
	fresh := &partition{items: xsync.NewMapOf[string, item]()}
	if _, loaded := m.partitions.LoadOrStore(name, fresh); loaded {
		return backend.ErrPartitionExists
	}
	return nil
}

func (m *memImpl) DeletePartition(_ context.Context, name string) error {
	if _, existed := m.partitions.LoadAndDelete(name); !existed {
		return backend.ErrPartitionNotFound
	}
	return nil
}

func (m *memImpl) CountItems(_ context.Context, part string) (int, error) {
	p, ok := m.partitions.Load(part)
	if !ok {
		return 0, backend.ErrPartitionNotFound
	}

	now := time.Now().UnixNano()
	count := 0
	p.items.Range(func(_ string, it item) bool {
		if !it.expired(now) {
			count++
		}
		return true
	})
	return count, nil
}

func (m *memImpl) ListKeys(_ context.Context, part string) ([]string, error) {
	p, ok := m.partitions.Load(part)
	if !ok {
		return nil, backend.ErrPartitionNotFound
	}

	now := time.Now().UnixNano()
	keys := make([]string, 0, p.items.Size())
	p.items.Range(func(key string, it item) bool {
		if !it.expired(now) {
			keys = append(keys, key)
		}
		return true
	})
	return keys, nil
}

// --------------------------------------------------------------------------
// Capabilities
// --------------------------------------------------------------------------

func (m *memImpl) SupportsFeature(feature backend.Feature) bool {
	supported := backend.FeaturePutIfAbsent | backend.FeatureTTL
	return supported&feature == feature
}

func (m *memImpl) GetInfo() backend.Info {
	partitions := 0
	items := 0
	m.partitions.Range(func(_ string, p *partition) bool {
		partitions++
		items += p.items.Size()
		return true
	})

	return backend.Info{
		Name:              backend.ImplMemDB,
		SupportedFeatures: []backend.Feature{backend.FeaturePutIfAbsent, backend.FeatureTTL},
		Metadata: &struct {
			Partitions int `json:"partitions"`
			Items      int `json:"items"`
		}{
			Partitions: partitions,
			Items:      items,
		},
	}
}

func (m *memImpl) Close() error {
	m.stopSweeper()
	return nil
}

// --------------------------------------------------------------------------
// Expiry Sweeper
// --------------------------------------------------------------------------

// startSweeper starts the background expiry sweeper.
// If the sweeper is already running, this function does nothing.
func (m *memImpl) startSweeper() {
	if m.sweepIsRunning.CompareAndSwap(false, true) {
		go m.sweeper()
	}
}

// stopSweeper stops the background expiry sweeper.
// The sweeper can't be started again after it has been stopped.
func (m *memImpl) stopSweeper() {
	if m.sweepIsRunning.CompareAndSwap(true, false) {
		close(m.sweepStop)
	}
}

// sweeper periodically removes expired items so that partitions holding
// many short-lived keys don't grow without bound between reads.
func (m *memImpl) sweeper() {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.sweepStop:
			return
		case <-ticker.C:
			now := time.Now().UnixNano()
			m.partitions.Range(func(_ string, p *partition) bool {
				p.items.Range(func(key string, it item) bool {
					if it.expired(now) {
						// Re-check under Compute: the entry may have been
						// overwritten since the Range snapshot.
						p.items.Compute(key, func(cur item, loaded bool) (item, bool) {
							return cur, loaded && cur.expired(now)
						})
					}
					return true
				})
				return true
			})
		}
	}
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func newItem(value []byte, ttl time.Duration) item {
	cp := make([]byte, len(value))
	copy(cp, value)

	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UnixNano()
	}
	return item{value: cp, expiresAt: expiresAt}
}
