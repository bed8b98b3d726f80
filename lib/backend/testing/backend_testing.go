package testing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
)

// BackendFactory is a function that creates a fresh, empty instance of a
// backend adapter.
type BackendFactory func() backend.Backend

// RunBackendTests runs a comprehensive conformance suite against a backend
// adapter implementation.
func RunBackendTests(t *testing.T, name string, factory BackendFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Partitions", func(t *testing.T) {
			testPartitions(t, factory())
		})

		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, factory())
		})

		t.Run("PutIfAbsent", func(t *testing.T) {
			testPutIfAbsent(t, factory())
		})

		t.Run("Remove", func(t *testing.T) {
			testRemove(t, factory())
		})

		t.Run("Count&List", func(t *testing.T) {
			testCountList(t, factory())
		})

		t.Run("TTL", func(t *testing.T) {
			testTTL(t, factory())
		})

		t.Run("TTLRejection", func(t *testing.T) {
			testTTLRejection(t, factory())
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("ConcurrentUsage", func(t *testing.T) {
			testConcurrentUsage(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the backend supports the specified feature.
// Skip the test if it is not supported.
func requireFeature(t testing.TB, be backend.Backend, feature backend.Feature) {
	if !be.SupportsFeature(feature) {
		t.Skip()
	}
}

func mustCreatePartition(t testing.TB, be backend.Backend, name string) {
	t.Helper()
	if err := be.CreatePartition(context.Background(), name); err != nil {
		t.Fatalf("CreatePartition(%s) failed: %v", name, err)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPartitions(t *testing.T, be backend.Backend) {
	defer be.Close()
	ctx := context.Background()

	mustCreatePartition(t, be, "part-a")

	if err := be.CreatePartition(ctx, "part-a"); !errors.Is(err, backend.ErrPartitionExists) {
		t.Errorf("Expected ErrPartitionExists for duplicate partition, got %v", err)
	}

	if _, _, err := be.GetItem(ctx, "no-such-part", "k"); !errors.Is(err, backend.ErrPartitionNotFound) {
		t.Errorf("Expected ErrPartitionNotFound for GetItem on missing partition, got %v", err)
	}
	if err := be.PutItem(ctx, "no-such-part", "k", []byte("v"), 0); !errors.Is(err, backend.ErrPartitionNotFound) {
		t.Errorf("Expected ErrPartitionNotFound for PutItem on missing partition, got %v", err)
	}
	if _, err := be.CountItems(ctx, "no-such-part"); !errors.Is(err, backend.ErrPartitionNotFound) {
		t.Errorf("Expected ErrPartitionNotFound for CountItems on missing partition, got %v", err)
	}

	if err := be.PutItem(ctx, "part-a", "k", []byte("v"), 0); err != nil {
		t.Errorf("PutItem failed: %v", err)
	}

	if err := be.DeletePartition(ctx, "part-a"); err != nil {
		t.Errorf("DeletePartition failed: %v", err)
	}

	if err := be.DeletePartition(ctx, "part-a"); !errors.Is(err, backend.ErrPartitionNotFound) {
		t.Errorf("Expected ErrPartitionNotFound for double delete, got %v", err)
	}

	// Recreating the partition must yield an empty one.
	mustCreatePartition(t, be, "part-a")
	count, err := be.CountItems(ctx, "part-a")
	if err != nil {
		t.Errorf("CountItems failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected recreated partition to be empty, got %d items", count)
	}
}

func testPutGet(t *testing.T, be backend.Backend) {
	defer be.Close()
	ctx := context.Background()

	mustCreatePartition(t, be, "part")

	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	if err := be.PutItem(ctx, "part", testKey, testValue1, 0); err != nil {
		t.Fatalf("PutItem failed: %v", err)
	}

	result, found, err := be.GetItem(ctx, "part", testKey)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if !found {
		t.Errorf("Expected key %s to exist after PutItem", testKey)
	}
	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	// Overwrite
	if err := be.PutItem(ctx, "part", testKey, testValue2, 0); err != nil {
		t.Fatalf("PutItem failed: %v", err)
	}

	result, found, _ = be.GetItem(ctx, "part", testKey)
	if !found {
		t.Errorf("Expected key %s to exist after overwrite", testKey)
	}
	if !bytes.Equal(result, testValue2) {
		t.Errorf("Expected value %s, got %s", testValue2, result)
	}

	_, found, err = be.GetItem(ctx, "part", "nonexistent-key")
	if err != nil {
		t.Errorf("GetItem on absent key should not error, got %v", err)
	}
	if found {
		t.Errorf("Expected nonexistent key to return found=false")
	}

	// The returned slice must be a copy, not a reference.
	retrieved, _, _ := be.GetItem(ctx, "part", testKey)
	retrieved[0] = 'X'
	original, _, _ := be.GetItem(ctx, "part", testKey)
	if bytes.Equal(retrieved, original) {
		t.Errorf("GetItem should return a copy, not a reference to the stored value")
	}
}

func testPutIfAbsent(t *testing.T, be backend.Backend) {
	defer be.Close()
	ctx := context.Background()

	requireFeature(t, be, backend.FeaturePutIfAbsent)

	mustCreatePartition(t, be, "part")

	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	created, err := be.PutIfAbsent(ctx, "part", testKey, testValue1, 0)
	if err != nil {
		t.Fatalf("PutIfAbsent failed: %v", err)
	}
	if !created {
		t.Errorf("Expected created=true for absent key")
	}

	created, err = be.PutIfAbsent(ctx, "part", testKey, testValue2, 0)
	if err != nil {
		t.Fatalf("PutIfAbsent failed: %v", err)
	}
	if created {
		t.Errorf("Expected created=false for present key")
	}

	result, _, _ := be.GetItem(ctx, "part", testKey)
	if !bytes.Equal(result, testValue1) {
		t.Errorf("PutIfAbsent on present key must not overwrite: expected %s, got %s", testValue1, result)
	}

	// Only one concurrent PutIfAbsent may win.
	numWorkers := 16
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	wins := make(chan int, numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func(id int) {
			defer wg.Done()
			ok, err := be.PutIfAbsent(ctx, "part", "contended-key", []byte(fmt.Sprintf("winner-%d", id)), 0)
			if err == nil && ok {
				wins <- id
			}
		}(w)
	}
	wg.Wait()
	close(wins)

	winners := 0
	for range wins {
		winners++
	}
	if winners != 1 {
		t.Errorf("Expected exactly one PutIfAbsent winner, got %d", winners)
	}
}

func testRemove(t *testing.T, be backend.Backend) {
	defer be.Close()
	ctx := context.Background()

	mustCreatePartition(t, be, "part")

	testKey := "remove-test-key"
	if err := be.PutItem(ctx, "part", testKey, []byte("v"), 0); err != nil {
		t.Fatalf("PutItem failed: %v", err)
	}

	found, err := be.RemoveItem(ctx, "part", testKey)
	if err != nil {
		t.Fatalf("RemoveItem failed: %v", err)
	}
	if !found {
		t.Errorf("Expected found=true when removing an existing key")
	}

	_, found, _ = be.GetItem(ctx, "part", testKey)
	if found {
		t.Errorf("Expected key %s to not exist after RemoveItem", testKey)
	}

	found, err = be.RemoveItem(ctx, "part", testKey)
	if err != nil {
		t.Errorf("RemoveItem on absent key should not error, got %v", err)
	}
	if found {
		t.Errorf("Expected found=false when removing an absent key")
	}
}

func testCountList(t *testing.T, be backend.Backend) {
	defer be.Close()
	ctx := context.Background()

	mustCreatePartition(t, be, "part")

	count, err := be.CountItems(ctx, "part")
	if err != nil {
		t.Fatalf("CountItems failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected empty partition, got %d items", count)
	}

	numKeys := 100
	expected := make([]string, 0, numKeys)
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("list-key-%d", i)
		expected = append(expected, key)
		if err := be.PutItem(ctx, "part", key, []byte(fmt.Sprintf("value-%d", i)), 0); err != nil {
			t.Fatalf("PutItem failed: %v", err)
		}
	}

	count, _ = be.CountItems(ctx, "part")
	if count != numKeys {
		t.Errorf("Expected %d items, got %d", numKeys, count)
	}

	keys, err := be.ListKeys(ctx, "part")
	if err != nil {
		t.Fatalf("ListKeys failed: %v", err)
	}
	sort.Strings(keys)
	sort.Strings(expected)
	if len(keys) != len(expected) {
		t.Fatalf("Expected %d keys, got %d", len(expected), len(keys))
	}
	for i := range keys {
		if keys[i] != expected[i] {
			t.Errorf("Key mismatch at %d: expected %s, got %s", i, expected[i], keys[i])
		}
	}
}

func testTTL(t *testing.T, be backend.Backend) {
	defer be.Close()
	ctx := context.Background()

	requireFeature(t, be, backend.FeatureTTL)

	mustCreatePartition(t, be, "part")

	testKey := "expiring-key"
	if err := be.PutItem(ctx, "part", testKey, []byte("expiring-value"), 50*time.Millisecond); err != nil {
		t.Fatalf("PutItem with TTL failed: %v", err)
	}

	_, found, _ := be.GetItem(ctx, "part", testKey)
	if !found {
		t.Errorf("Key should exist right after PutItem with TTL")
	}

	time.Sleep(150 * time.Millisecond)

	_, found, _ = be.GetItem(ctx, "part", testKey)
	if found {
		t.Errorf("Key should have expired")
	}

	// An expired key counts as absent for PutIfAbsent.
	if be.SupportsFeature(backend.FeaturePutIfAbsent) {
		if err := be.PutItem(ctx, "part", testKey, []byte("v1"), 50*time.Millisecond); err != nil {
			t.Fatalf("PutItem with TTL failed: %v", err)
		}
		time.Sleep(150 * time.Millisecond)

		created, err := be.PutIfAbsent(ctx, "part", testKey, []byte("v2"), 0)
		if err != nil {
			t.Fatalf("PutIfAbsent failed: %v", err)
		}
		if !created {
			t.Errorf("Expected PutIfAbsent to treat an expired key as absent")
		}
	}

	// TTL=0 never expires.
	if err := be.PutItem(ctx, "part", "forever-key", []byte("forever"), 0); err != nil {
		t.Fatalf("PutItem failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	_, found, _ = be.GetItem(ctx, "part", "forever-key")
	if !found {
		t.Errorf("Key with TTL=0 should never expire")
	}
}

func testTTLRejection(t *testing.T, be backend.Backend) {
	defer be.Close()
	ctx := context.Background()

	if be.SupportsFeature(backend.FeatureTTL) {
		t.Skip()
	}

	mustCreatePartition(t, be, "part")

	if err := be.PutItem(ctx, "part", "k", []byte("v"), time.Second); !errors.Is(err, backend.ErrTTLNotSupported) {
		t.Errorf("Expected ErrTTLNotSupported from PutItem, got %v", err)
	}
	if _, err := be.PutIfAbsent(ctx, "part", "k", []byte("v"), time.Second); !errors.Is(err, backend.ErrTTLNotSupported) {
		t.Errorf("Expected ErrTTLNotSupported from PutIfAbsent, got %v", err)
	}

	// A zero TTL must still work.
	if err := be.PutItem(ctx, "part", "k", []byte("v"), 0); err != nil {
		t.Errorf("PutItem with TTL=0 should succeed, got %v", err)
	}
}

func testEdgeCases(t *testing.T, be backend.Backend) {
	defer be.Close()
	ctx := context.Background()

	mustCreatePartition(t, be, "part")

	emptyValueKey := "empty-value-key"
	if err := be.PutItem(ctx, "part", emptyValueKey, []byte{}, 0); err != nil {
		t.Fatalf("PutItem with empty value failed: %v", err)
	}
	result, found, _ := be.GetItem(ctx, "part", emptyValueKey)
	if !found {
		t.Errorf("Key for empty value not found after PutItem")
	} else if len(result) != 0 {
		t.Errorf("Empty value mismatch: got %v", result)
	}

	largeKey := string(bytes.Repeat([]byte("k"), 1000))
	largeKeyValue := []byte("value for large key")
	if err := be.PutItem(ctx, "part", largeKey, largeKeyValue, 0); err != nil {
		t.Fatalf("PutItem with large key failed: %v", err)
	}
	result, found, _ = be.GetItem(ctx, "part", largeKey)
	if !found {
		t.Errorf("Large key not found after PutItem")
	} else if !bytes.Equal(result, largeKeyValue) {
		t.Errorf("Value mismatch for large key")
	}

	largeValue := make([]byte, 1024*1024)
	for i := range largeValue {
		largeValue[i] = byte(i % 256)
	}
	if err := be.PutItem(ctx, "part", "large-value-key", largeValue, 0); err != nil {
		t.Fatalf("PutItem with large value failed: %v", err)
	}
	result, found, _ = be.GetItem(ctx, "part", "large-value-key")
	if !found {
		t.Errorf("Key for large value not found after PutItem")
	} else if !bytes.Equal(result, largeValue) {
		t.Errorf("Large value mismatch (len %d vs %d)", len(result), len(largeValue))
	}
}

func testConcurrentUsage(t *testing.T, be backend.Backend) {
	defer be.Close()
	ctx := context.Background()

	mustCreatePartition(t, be, "part")

	numWorkers := 8
	opsPerWorker := 500

	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for w := 0; w < numWorkers; w++ {
		go func(workerId int) {
			defer wg.Done()

			for i := 0; i < opsPerWorker; i++ {
				key := fmt.Sprintf("worker-%d-key-%d", workerId, i%50)
				value := []byte(fmt.Sprintf("worker-%d-value-%d", workerId, i))

				switch i % 10 {
				case 0, 1, 2, 3, 4, 5, 6:
					if err := be.PutItem(ctx, "part", key, value, 0); err != nil {
						t.Errorf("PutItem failed: %v", err)
						return
					}
				case 7, 8:
					if _, _, err := be.GetItem(ctx, "part", key); err != nil {
						t.Errorf("GetItem failed: %v", err)
						return
					}
				case 9:
					if _, err := be.RemoveItem(ctx, "part", key); err != nil {
						t.Errorf("RemoveItem failed: %v", err)
						return
					}
				}
			}
		}(w)
	}

	wg.Wait()

	// Every surviving key must belong to exactly one worker and hold one of
	// that worker's values.
	keys, err := be.ListKeys(ctx, "part")
	if err != nil {
		t.Fatalf("ListKeys failed: %v", err)
	}
	for _, key := range keys {
		value, found, err := be.GetItem(ctx, "part", key)
		if err != nil || !found {
			continue // deleted between list and get is fine
		}
		var workerId, keyId int
		if _, err := fmt.Sscanf(key, "worker-%d-key-%d", &workerId, &keyId); err != nil {
			t.Errorf("Unexpected key %s", key)
			continue
		}
		expectedPrefix := fmt.Sprintf("worker-%d-value-", workerId)
		if !bytes.HasPrefix(value, []byte(expectedPrefix)) {
			t.Errorf("Key %s holds a foreign value %s", key, value)
		}
	}
}
