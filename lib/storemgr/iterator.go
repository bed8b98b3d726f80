package storemgr

import (
	"context"
	"errors"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/ValentinKolb/dps/lib/keys"
)

// Iterator enumerates the data item keys of one store. It is single-pass,
// forward-only and not restartable: the key list is snapshotted once at
// construction, so items added or removed afterwards are not observed
// (weak consistency, see package doc).
//
// Thread-safety: an Iterator is NOT safe for concurrent use; every caller
// creates its own.
type Iterator struct {
	encodedKeys []string
	idx         int
}

func (m *storeMgrImpl) NewIterator(ctx context.Context, storeID uint64) (*Iterator, error) {
	encoded, err := m.be.ListKeys(ctx, keys.StorePartition(storeID))
	if err != nil {
		if errors.Is(err, backend.ErrPartitionNotFound) {
			return nil, NewErrorf(RetSStoreDoesNotExist, "store %d does not exist", storeID)
		}
		return nil, NewErrorf(RetSIteration, "list keys of store %d: %v", storeID, err)
	}

	dataKeys := make([]string, 0, len(encoded))
	for _, k := range encoded {
		if keys.IsReservedKey(k) {
			continue
		}
		dataKeys = append(dataKeys, k)
	}

	return &Iterator{encodedKeys: dataKeys}, nil
}

// HasNext reports whether GetNext will yield another key. Once it returns
// false it stays false.
func (it *Iterator) HasNext() bool {
	return it.idx < len(it.encodedKeys)
}

// GetNext returns the next raw data item key. ok=false means the iterator
// is exhausted.
func (it *Iterator) GetNext() (key []byte, ok bool, err error) {
	if !it.HasNext() {
		return nil, false, nil
	}

	encoded := it.encodedKeys[it.idx]
	it.idx++

	raw, err := keys.DecodeKey(encoded)
	if err != nil {
		return nil, true, NewErrorf(RetSIteration, "corrupt data item key %q: %v", encoded, err)
	}
	return raw, true, nil
}
