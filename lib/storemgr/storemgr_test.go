package storemgr

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/ValentinKolb/dps/lib/backend/engines/boltdb"
	"github.com/ValentinKolb/dps/lib/backend/engines/memdb"
	"github.com/ValentinKolb/dps/lib/directory"
	"github.com/ValentinKolb/dps/lib/keys"
)

func newTestManager(t *testing.T) (IStoreManager, backend.Backend) {
	t.Helper()

	be := memdb.New(nil)
	t.Cleanup(func() { _ = be.Close() })

	return newManagerOver(t, be), be
}

func newManagerOver(t *testing.T, be backend.Backend) IStoreManager {
	t.Helper()

	dir := directory.New(be)
	if err := dir.EnsurePartitions(context.Background()); err != nil {
		t.Fatalf("EnsurePartitions failed: %v", err)
	}
	// A small retry budget keeps failing lock paths fast in tests.
	return NewStoreManager(be, dir, &Options{MaxRetry: 20})
}

func mustCreateStore(t *testing.T, m IStoreManager, name, keyType, valueType string) uint64 {
	t.Helper()
	id, err := m.CreateStore(context.Background(), name, keyType, valueType)
	if err != nil {
		t.Fatalf("CreateStore(%s) failed: %v", name, err)
	}
	return id
}

func smCode(t *testing.T, err error) RetCode {
	t.Helper()
	var smErr *Error
	if !errors.As(err, &smErr) {
		t.Fatalf("expected *storemgr.Error, got %T: %v", err, err)
	}
	return smErr.Code
}

func TestCreateAndFindStore(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	id := mustCreateStore(t, m, "orders", "int32", "string")
	if id != keys.StoreID("orders") {
		t.Errorf("Expected deterministic id %d, got %d", keys.StoreID("orders"), id)
	}

	found, ok, err := m.FindStore(ctx, "orders")
	if err != nil {
		t.Fatalf("FindStore failed: %v", err)
	}
	if !ok || found != id {
		t.Errorf("FindStore: expected id %d, got %d (ok=%v)", id, found, ok)
	}

	// A second creation conflicts and carries the existing id.
	_, err = m.CreateStore(ctx, "orders", "int32", "string")
	if err == nil {
		t.Fatalf("Expected conflict for duplicate store")
	}
	var smErr *Error
	if !errors.As(err, &smErr) {
		t.Fatalf("expected *storemgr.Error, got %T", err)
	}
	if smErr.Code != RetSStoreExists {
		t.Errorf("Expected RetSStoreExists, got %d", smErr.Code)
	}
	if smErr.ExistingID != id {
		t.Errorf("Conflict must carry the existing id %d, got %d", id, smErr.ExistingID)
	}

	_, ok, err = m.FindStore(ctx, "no-such-store")
	if err != nil {
		t.Fatalf("FindStore failed: %v", err)
	}
	if ok {
		t.Errorf("Expected not-found for unknown store")
	}
}

func TestCreateOrGetStoreConcurrent(t *testing.T) {
	m, be := newTestManager(t)
	ctx := context.Background()

	numCallers := 4
	ids := make([]uint64, numCallers)
	errs := make([]error, numCallers)

	var wg sync.WaitGroup
	wg.Add(numCallers)
	for i := 0; i < numCallers; i++ {
		go func(n int) {
			defer wg.Done()
			ids[n], errs[n] = m.CreateOrGetStore(ctx, "concurrent", "k", "v")
		}(i)
	}
	wg.Wait()

	for i := 0; i < numCallers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("caller %d got id %d, caller 0 got %d", i, ids[i], ids[0])
		}
	}

	// All-or-nothing creation: the partition holds exactly the 3 reserved
	// entries, never 1 or 2.
	count, err := be.CountItems(ctx, keys.StorePartition(ids[0]))
	if err != nil {
		t.Fatalf("CountItems failed: %v", err)
	}
	if count != keys.ReservedKeyCount {
		t.Errorf("Expected exactly %d reserved entries, got %d", keys.ReservedKeyCount, count)
	}
}

func TestFreshStoreIsEmpty(t *testing.T) {
	m, be := newTestManager(t)
	ctx := context.Background()

	id := mustCreateStore(t, m, "fresh", "k", "v")

	size, err := m.Size(ctx, id)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if size != 0 {
		t.Errorf("Expected size 0 after creation, got %d", size)
	}

	count, _ := be.CountItems(ctx, keys.StorePartition(id))
	if count != keys.ReservedKeyCount {
		t.Errorf("Expected countItems %d after creation, got %d", keys.ReservedKeyCount, count)
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	id := mustCreateStore(t, m, "roundtrip", "bytes", "bytes")

	pairs := []struct {
		key   []byte
		value []byte
	}{
		{[]byte("plain"), []byte("value")},
		{[]byte("with space"), []byte("value with space")},
		{[]byte{0x00, 0x01, 0xff}, []byte{0xca, 0xfe, 0x00, 0xba, 0xbe}},
		{[]byte("höher käse"), []byte("größer grüße")},
		{[]byte("42"), []byte("purely numeric name")},
	}

	for _, p := range pairs {
		if err := m.Put(ctx, id, p.key, p.value); err != nil {
			t.Fatalf("Put(%q) failed: %v", p.key, err)
		}
	}
	for _, p := range pairs {
		got, found, err := m.Get(ctx, id, p.key)
		if err != nil {
			t.Fatalf("Get(%q) failed: %v", p.key, err)
		}
		if !found {
			t.Errorf("Key %q not found after Put", p.key)
			continue
		}
		if !bytes.Equal(got, p.value) {
			t.Errorf("Value mismatch for key %q: expected %q, got %q", p.key, p.value, got)
		}
	}

	size, err := m.Size(ctx, id)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if size != len(pairs) {
		t.Errorf("Expected size %d, got %d", len(pairs), size)
	}

	has, err := m.Has(ctx, id, pairs[0].key)
	if err != nil || !has {
		t.Errorf("Has: expected true, got %v (err %v)", has, err)
	}
	has, err = m.Has(ctx, id, []byte("absent"))
	if err != nil || has {
		t.Errorf("Has: expected false for absent key, got %v (err %v)", has, err)
	}
}

func TestRemoveIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	id := mustCreateStore(t, m, "removals", "k", "v")

	if err := m.Put(ctx, id, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	found, err := m.Remove(ctx, id, []byte("k"))
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if !found {
		t.Errorf("Expected found=true removing an existing key")
	}

	// Removing a nonexistent key is not an error.
	found, err = m.Remove(ctx, id, []byte("k"))
	if err != nil {
		t.Errorf("Remove of absent key should not fail: %v", err)
	}
	if found {
		t.Errorf("Expected found=false removing an absent key")
	}
}

func TestPutSafeGetSafe(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	id := mustCreateStore(t, m, "safe", "k", "v")

	if err := m.PutSafe(ctx, id, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("PutSafe failed: %v", err)
	}
	got, found, err := m.GetSafe(ctx, id, []byte("k"))
	if err != nil || !found {
		t.Fatalf("GetSafe failed: found=%v err=%v", found, err)
	}
	if !bytes.Equal(got, []byte("v")) {
		t.Errorf("Expected value v, got %q", got)
	}

	// The safe variants verify store existence up front.
	err = m.PutSafe(ctx, 424242, []byte("k"), []byte("v"))
	if err == nil {
		t.Fatalf("Expected error for unknown store")
	}
	if code := smCode(t, err); code != RetSStoreDoesNotExist {
		t.Errorf("Expected RetSStoreDoesNotExist, got %d", code)
	}
}

func TestClearPreservesMetadata(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	id := mustCreateStore(t, m, "clearable", "int64", "blob")

	for i := 0; i < 10; i++ {
		if err := m.Put(ctx, id, []byte{byte(i)}, []byte("payload")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	if err := m.Clear(ctx, id); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	size, err := m.Size(ctx, id)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if size != 0 {
		t.Errorf("Expected size 0 after Clear, got %d", size)
	}

	name, err := m.GetStoreName(ctx, id)
	if err != nil || name != "clearable" {
		t.Errorf("Store name not preserved by Clear: %q (err %v)", name, err)
	}
	keyType, err := m.GetKeyTypeName(ctx, id)
	if err != nil || keyType != "int64" {
		t.Errorf("Key type not preserved by Clear: %q (err %v)", keyType, err)
	}
	valueType, err := m.GetValueTypeName(ctx, id)
	if err != nil || valueType != "blob" {
		t.Errorf("Value type not preserved by Clear: %q (err %v)", valueType, err)
	}
}

func TestIterator(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	id := mustCreateStore(t, m, "iterable", "k", "v")

	want := map[string]bool{"a": false, "b": false, "c": false}
	for k := range want {
		if err := m.Put(ctx, id, []byte(k), []byte("v-"+k)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	it, err := m.NewIterator(ctx, id)
	if err != nil {
		t.Fatalf("NewIterator failed: %v", err)
	}

	yielded := 0
	for it.HasNext() {
		key, ok, err := it.GetNext()
		if err != nil {
			t.Fatalf("GetNext failed: %v", err)
		}
		if !ok {
			t.Fatalf("GetNext returned ok=false while HasNext was true")
		}
		seen, expected := want[string(key)]
		if !expected {
			t.Errorf("Iterator yielded unexpected key %q", key)
			continue
		}
		if seen {
			t.Errorf("Iterator yielded key %q twice", key)
		}
		want[string(key)] = true
		yielded++
	}

	if yielded != 3 {
		t.Errorf("Expected exactly 3 keys, got %d", yielded)
	}
	if it.HasNext() {
		t.Errorf("HasNext must stay false after exhaustion")
	}
	_, ok, err := it.GetNext()
	if err != nil || ok {
		t.Errorf("GetNext after exhaustion: expected ok=false, got ok=%v err=%v", ok, err)
	}

	// Writers after snapshot time are not observed.
	if err := m.Put(ctx, id, []byte("d"), []byte("late")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if it.HasNext() {
		t.Errorf("Snapshot iterator must not observe late writes")
	}
}

func TestRemoveStore(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	id := mustCreateStore(t, m, "orders", "int32", "string")

	if err := m.Put(ctx, id, []byte("1"), []byte("hello")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, found, err := m.Get(ctx, id, []byte("1"))
	if err != nil || !found || !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("Get: expected hello, got %q (found=%v err=%v)", got, found, err)
	}
	size, err := m.Size(ctx, id)
	if err != nil || size != 1 {
		t.Fatalf("Size: expected 1, got %d (err %v)", size, err)
	}

	if err := m.RemoveStore(ctx, id); err != nil {
		t.Fatalf("RemoveStore failed: %v", err)
	}

	_, ok, err := m.FindStore(ctx, "orders")
	if err != nil {
		t.Fatalf("FindStore failed: %v", err)
	}
	if ok {
		t.Errorf("Expected not-found after RemoveStore")
	}

	err = m.RemoveStore(ctx, id)
	if err == nil {
		t.Fatalf("Expected error removing a nonexistent store")
	}
	if code := smCode(t, err); code != RetSStoreDoesNotExist {
		t.Errorf("Expected RetSStoreDoesNotExist, got %d", code)
	}

	// The name can be reused after removal.
	id2 := mustCreateStore(t, m, "orders", "int32", "string")
	size, err = m.Size(ctx, id2)
	if err != nil || size != 0 {
		t.Errorf("Recreated store must be empty: size=%d err=%v", size, err)
	}
}

// faultBackend fails selected operations, simulating a backend outage in
// the middle of the 3-step store creation.
type faultBackend struct {
	backend.Backend
	mu                  sync.Mutex
	failCreatePartition bool
	failPutKey          string
}

func (f *faultBackend) setFailCreatePartition(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCreatePartition = fail
}

func (f *faultBackend) setFailPutKey(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPutKey = key
}

func (f *faultBackend) CreatePartition(ctx context.Context, name string) error {
	f.mu.Lock()
	fail := f.failCreatePartition
	f.mu.Unlock()
	if fail {
		return errors.New("injected partition failure")
	}
	return f.Backend.CreatePartition(ctx, name)
}

func (f *faultBackend) PutItem(ctx context.Context, part, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	failKey := f.failPutKey
	f.mu.Unlock()
	if failKey != "" && key == failKey {
		return errors.New("injected write failure")
	}
	return f.Backend.PutItem(ctx, part, key, value, ttl)
}

func TestCreateStoreRollsBackOnPartitionFailure(t *testing.T) {
	fb := &faultBackend{Backend: memdb.New(nil)}
	t.Cleanup(func() { _ = fb.Close() })

	m := newManagerOver(t, fb)
	ctx := context.Background()

	fb.setFailCreatePartition(true)
	_, err := m.CreateStore(ctx, "doomed", "k", "v")
	if err == nil {
		t.Fatalf("Expected failure while the partition is not creatable")
	}
	if code := smCode(t, err); code != RetSPartitionCreation {
		t.Errorf("Expected RetSPartitionCreation, got %d", code)
	}

	// Compensated: no directory entry may survive the failed creation.
	_, found, err := m.FindStore(ctx, "doomed")
	if err != nil {
		t.Fatalf("FindStore failed: %v", err)
	}
	if found {
		t.Errorf("Expected directory entry rolled back after failed creation")
	}

	// A later attempt succeeds cleanly.
	fb.setFailCreatePartition(false)
	id := mustCreateStore(t, m, "doomed", "k", "v")
	size, err := m.Size(ctx, id)
	if err != nil || size != 0 {
		t.Errorf("Recreated store must be empty: size=%d err=%v", size, err)
	}
}

func TestCreateStoreRollsBackOnMetadataFailure(t *testing.T) {
	fb := &faultBackend{Backend: memdb.New(nil)}
	t.Cleanup(func() { _ = fb.Close() })

	m := newManagerOver(t, fb)
	ctx := context.Background()

	// Failing the last reserved entry leaves the first two written, so the
	// rollback must undo a partially populated partition, not an empty one.
	fb.setFailPutKey(keys.ReservedValueTypeKey)
	_, err := m.CreateStore(ctx, "half done", "int32", "string")
	if err == nil {
		t.Fatalf("Expected failure while the metadata is not writable")
	}
	if code := smCode(t, err); code != RetSMetadataCreation {
		t.Errorf("Expected RetSMetadataCreation, got %d", code)
	}

	// Compensated: neither the directory entry nor the partition survive.
	_, found, err := m.FindStore(ctx, "half done")
	if err != nil {
		t.Fatalf("FindStore failed: %v", err)
	}
	if found {
		t.Errorf("Expected directory entry rolled back after failed creation")
	}
	_, err = fb.CountItems(ctx, keys.StorePartition(keys.StoreID("half done")))
	if !errors.Is(err, backend.ErrPartitionNotFound) {
		t.Errorf("Expected partition rolled back, got err=%v", err)
	}

	// A later attempt succeeds cleanly, with the full metadata triple.
	fb.setFailPutKey("")
	id := mustCreateStore(t, m, "half done", "int32", "string")
	valueType, err := m.GetValueTypeName(ctx, id)
	if err != nil || valueType != "string" {
		t.Errorf("Expected value type string after retry, got %q (err %v)", valueType, err)
	}
	size, err := m.Size(ctx, id)
	if err != nil || size != 0 {
		t.Errorf("Recreated store must be empty: size=%d err=%v", size, err)
	}
}

func TestTTLStore(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	key := []byte("ttl item")
	if err := m.PutTTL(ctx, key, []byte("expiring"), 80*time.Millisecond); err != nil {
		t.Fatalf("PutTTL failed: %v", err)
	}

	got, found, err := m.GetTTL(ctx, key)
	if err != nil || !found {
		t.Fatalf("GetTTL failed: found=%v err=%v", found, err)
	}
	if !bytes.Equal(got, []byte("expiring")) {
		t.Errorf("Expected value expiring, got %q", got)
	}
	has, err := m.HasTTL(ctx, key)
	if err != nil || !has {
		t.Errorf("HasTTL: expected true, got %v (err %v)", has, err)
	}

	time.Sleep(200 * time.Millisecond)

	_, found, err = m.GetTTL(ctx, key)
	if err != nil {
		t.Fatalf("GetTTL failed: %v", err)
	}
	if found {
		t.Errorf("Expected item expired")
	}

	// Removal of an absent (expired) item is not an error.
	found, err = m.RemoveTTL(ctx, key)
	if err != nil || found {
		t.Errorf("RemoveTTL after expiry: expected found=false, got %v (err %v)", found, err)
	}
}

func TestTTLRejectedWithoutCapability(t *testing.T) {
	be, err := boltdb.New(filepath.Join(t.TempDir(), "dps.db"), nil)
	if err != nil {
		t.Fatalf("failed to open bolt file: %v", err)
	}
	t.Cleanup(func() { _ = be.Close() })

	m := newManagerOver(t, be)
	ctx := context.Background()

	err = m.PutTTL(ctx, []byte("k"), []byte("v"), time.Minute)
	if err == nil {
		t.Fatalf("Expected TTL rejection on a backend without expiry")
	}
	if code := smCode(t, err); code != RetSTTLNotSupported {
		t.Errorf("Expected RetSTTLNotSupported, got %d", code)
	}

	// The regular store operations still work on such a backend.
	id := mustCreateStore(t, m, "bolt store", "k", "v")
	if err := m.Put(ctx, id, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, found, err := m.Get(ctx, id, []byte("k"))
	if err != nil || !found || !bytes.Equal(got, []byte("v")) {
		t.Errorf("Get: expected v, got %q (found=%v err=%v)", got, found, err)
	}
}
