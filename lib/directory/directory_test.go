package directory

import (
	"bytes"
	"context"
	"testing"

	"github.com/ValentinKolb/dps/lib/backend/engines/memdb"
	"github.com/ValentinKolb/dps/lib/keys"
)

func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	be := memdb.New(nil)
	t.Cleanup(func() { _ = be.Close() })

	d := New(be)
	if err := d.EnsurePartitions(context.Background()); err != nil {
		t.Fatalf("EnsurePartitions failed: %v", err)
	}
	// Calling it again must be a no-op.
	if err := d.EnsurePartitions(context.Background()); err != nil {
		t.Fatalf("EnsurePartitions not idempotent: %v", err)
	}
	return d
}

func TestStoreEntries(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	name := "orders store"
	id := keys.StoreID(name)

	_, found, err := d.LookupStoreID(ctx, name)
	if err != nil {
		t.Fatalf("LookupStoreID failed: %v", err)
	}
	if found {
		t.Errorf("Expected no entry before PutStoreEntry")
	}

	if err := d.PutStoreEntry(ctx, name, id); err != nil {
		t.Fatalf("PutStoreEntry failed: %v", err)
	}

	got, found, err := d.LookupStoreID(ctx, name)
	if err != nil {
		t.Fatalf("LookupStoreID failed: %v", err)
	}
	if !found {
		t.Fatalf("Expected entry after PutStoreEntry")
	}
	if got != id {
		t.Errorf("Expected id %d, got %d", id, got)
	}

	if err := d.RemoveStoreEntry(ctx, name); err != nil {
		t.Fatalf("RemoveStoreEntry failed: %v", err)
	}
	_, found, _ = d.LookupStoreID(ctx, name)
	if found {
		t.Errorf("Expected no entry after RemoveStoreEntry")
	}

	// Removing an absent entry is not an error.
	if err := d.RemoveStoreEntry(ctx, name); err != nil {
		t.Errorf("RemoveStoreEntry on absent entry should not fail: %v", err)
	}
}

func TestLockEntries(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	name := "my-lock"
	id := keys.LockID(name)

	if err := d.PutLockEntry(ctx, name, id); err != nil {
		t.Fatalf("PutLockEntry failed: %v", err)
	}

	got, found, err := d.LookupLockID(ctx, name)
	if err != nil || !found {
		t.Fatalf("LookupLockID failed: found=%v err=%v", found, err)
	}
	if got != id {
		t.Errorf("Expected id %d, got %d", id, got)
	}

	// Store and lock namespaces must not collide even for equal names.
	_, found, _ = d.LookupStoreID(ctx, name)
	if found {
		t.Errorf("Lock entry must not be visible as store entry")
	}

	if err := d.RemoveLockEntry(ctx, name); err != nil {
		t.Fatalf("RemoveLockEntry failed: %v", err)
	}
	_, found, _ = d.LookupLockID(ctx, name)
	if found {
		t.Errorf("Expected no entry after RemoveLockEntry")
	}
}

func TestLockInfoRoundTrip(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	lockID := keys.LockID("info-lock")

	_, found, err := d.GetLockInfo(ctx, lockID)
	if err != nil {
		t.Fatalf("GetLockInfo failed: %v", err)
	}
	if found {
		t.Errorf("Expected no info record before PutLockInfo")
	}

	info := LockInfo{
		UsageCount: 1,
		Expiration: 1724500000,
		OwningPid:  4242,
		Name:       "name_with_under_scores",
	}
	if err := d.PutLockInfo(ctx, lockID, info); err != nil {
		t.Fatalf("PutLockInfo failed: %v", err)
	}

	got, found, err := d.GetLockInfo(ctx, lockID)
	if err != nil || !found {
		t.Fatalf("GetLockInfo failed: found=%v err=%v", found, err)
	}
	if got != info {
		t.Errorf("Info record mismatch: expected %+v, got %+v", info, got)
	}

	if err := d.RemoveLockInfo(ctx, lockID); err != nil {
		t.Fatalf("RemoveLockInfo failed: %v", err)
	}
	_, found, _ = d.GetLockInfo(ctx, lockID)
	if found {
		t.Errorf("Expected no info record after RemoveLockInfo")
	}
}

func TestParseLockInfo(t *testing.T) {
	tests := []struct {
		raw     string
		want    LockInfo
		wantErr bool
	}{
		{"0_0_0_simple", LockInfo{Name: "simple"}, false},
		{"1_99_7_a_b_c", LockInfo{UsageCount: 1, Expiration: 99, OwningPid: 7, Name: "a_b_c"}, false},
		{"0_0_0_", LockInfo{Name: ""}, false},
		{"1_2_3", LockInfo{}, true},
		{"x_2_3_name", LockInfo{}, true},
		{"1_x_3_name", LockInfo{}, true},
		{"1_2_x_name", LockInfo{}, true},
	}

	for _, tt := range tests {
		got, err := ParseLockInfo([]byte(tt.raw))
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseLockInfo(%q): expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseLockInfo(%q) failed: %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLockInfo(%q): expected %+v, got %+v", tt.raw, tt.want, got)
		}
	}
}

func TestMarshalParseSymmetry(t *testing.T) {
	info := LockInfo{UsageCount: 1, Expiration: 1234567890, OwningPid: 99, Name: "lock_name"}
	got, err := ParseLockInfo(info.Marshal())
	if err != nil {
		t.Fatalf("ParseLockInfo failed: %v", err)
	}
	if got != info {
		t.Errorf("Round trip mismatch: expected %+v, got %+v", info, got)
	}
	if !bytes.Equal(info.Marshal(), []byte("1_1234567890_99_lock_name")) {
		t.Errorf("Unexpected wire format: %s", info.Marshal())
	}
}

func TestStoreMetadata(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	storeID := keys.StoreID("meta store")

	// The store partition has to exist first.
	if err := d.be.CreatePartition(ctx, keys.StorePartition(storeID)); err != nil {
		t.Fatalf("CreatePartition failed: %v", err)
	}

	meta := StoreMetadata{
		Name:      "meta store",
		KeyType:   "int32",
		ValueType: "string with spaces",
	}
	if err := d.WriteStoreMetadata(ctx, storeID, meta); err != nil {
		t.Fatalf("WriteStoreMetadata failed: %v", err)
	}

	got, err := d.ReadStoreMetadata(ctx, storeID)
	if err != nil {
		t.Fatalf("ReadStoreMetadata failed: %v", err)
	}
	if got != meta {
		t.Errorf("Metadata mismatch: expected %+v, got %+v", meta, got)
	}

	count, err := d.be.CountItems(ctx, keys.StorePartition(storeID))
	if err != nil {
		t.Fatalf("CountItems failed: %v", err)
	}
	if count != keys.ReservedKeyCount {
		t.Errorf("Expected exactly %d reserved entries, got %d", keys.ReservedKeyCount, count)
	}
}
