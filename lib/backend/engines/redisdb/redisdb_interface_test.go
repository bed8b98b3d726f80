package redisdb

import (
	"context"
	"os"
	"testing"

	"github.com/ValentinKolb/dps/lib/backend"
	betesting "github.com/ValentinKolb/dps/lib/backend/testing"
	"github.com/redis/go-redis/v9"
)

// Every Redis key must be pinned to exactly one endpoint slot, so that
// reads of a key always hit the server its writes went to.
func TestShardIndexPinsKeys(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5} {
		for _, key := range []string{registryKey, itemKey("part", "key"), keySetKey("part")} {
			first := shardIndex(key, n)
			if first < 0 || first >= n {
				t.Fatalf("shardIndex(%q, %d) out of range: %d", key, n, first)
			}
			for i := 0; i < 10; i++ {
				if got := shardIndex(key, n); got != first {
					t.Fatalf("shardIndex(%q, %d) not stable: %d then %d", key, n, first, got)
				}
			}
		}
	}

	// The hash actually spreads keys over the slots.
	used := make(map[int]bool)
	for i := 0; i < 64; i++ {
		used[shardIndex(itemKey("part", string(rune('a'+i))), 4)] = true
	}
	if len(used) < 2 {
		t.Errorf("Expected keys spread over multiple slots, got %d", len(used))
	}
}

// Set DPS_TEST_REDIS_ADDR (e.g. "localhost:6379") to run this suite
// against a live Redis. The database is flushed between factory calls.
func Test(t *testing.T) {
	addr := os.Getenv("DPS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DPS_TEST_REDIS_ADDR not set")
	}

	betesting.RunBackendTests(t, "RedisDB", func() backend.Backend {
		ctx := context.Background()

		flush := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
		if err := flush.FlushDB(ctx).Err(); err != nil {
			t.Fatalf("failed to flush test database: %v", err)
		}
		_ = flush.Close()

		be, err := New(ctx, &Options{Endpoints: []string{addr}, DB: 15})
		if err != nil {
			t.Fatalf("failed to connect to redis: %v", err)
		}
		return be
	})
}
