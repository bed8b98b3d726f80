package storemgr

import (
	"context"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/ValentinKolb/dps/lib/keys"
)

// The TTL global store (docu see interface.go). All four operations are
// gated on the backend's TTL capability: a backend that cannot expire keys
// must reject the calls, never keep items forever.

func (m *storeMgrImpl) PutTTL(ctx context.Context, key, value []byte, ttl time.Duration) error {
	if err := m.requireTTL(); err != nil {
		return err
	}
	if err := m.be.PutItem(ctx, keys.TTLPartition, keys.EncodeKey(key), value, ttl); err != nil {
		return NewErrorf(RetSDataItemWrite, "put into TTL store: %v", err)
	}
	return nil
}

func (m *storeMgrImpl) GetTTL(ctx context.Context, key []byte) ([]byte, bool, error) {
	if err := m.requireTTL(); err != nil {
		return nil, false, err
	}
	value, found, err := m.be.GetItem(ctx, keys.TTLPartition, keys.EncodeKey(key))
	if err != nil {
		return nil, false, NewErrorf(RetSDataItemRead, "get from TTL store: %v", err)
	}
	return value, found, nil
}

func (m *storeMgrImpl) HasTTL(ctx context.Context, key []byte) (bool, error) {
	if err := m.requireTTL(); err != nil {
		return false, err
	}
	_, found, err := m.be.GetItem(ctx, keys.TTLPartition, keys.EncodeKey(key))
	if err != nil {
		return false, NewErrorf(RetSKeyExistenceCheck, "existence check in TTL store: %v", err)
	}
	return found, nil
}

func (m *storeMgrImpl) RemoveTTL(ctx context.Context, key []byte) (bool, error) {
	if err := m.requireTTL(); err != nil {
		return false, err
	}
	found, err := m.be.RemoveItem(ctx, keys.TTLPartition, keys.EncodeKey(key))
	if err != nil {
		return false, NewErrorf(RetSDataItemDelete, "remove from TTL store: %v", err)
	}
	return found, nil
}

func (m *storeMgrImpl) requireTTL() error {
	if !m.be.SupportsFeature(backend.FeatureTTL) {
		return NewErrorf(RetSTTLNotSupported, "backend %s has no per-key TTL support", m.be.GetInfo().Name)
	}
	return nil
}
