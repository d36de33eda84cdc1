package integration

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/fairwaylabs/golf-proxy/pkg/cache"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping container test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Could not start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		client.Close()
		container.Terminate(ctx)
	}

	return client, cleanup
}

// TestRedisTierRoundTrip verifies the entry schema survives Redis.
func TestRedisTierRoundTrip(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	tier := cache.NewRedisTier("l3", cache.PolicyLFU, 100, time.Hour, client)
	ctx := context.Background()

	key := cache.Key("tournaments", map[string]string{"tour": "pga"})
	entry := cache.NewEntry(key, []byte(`{"items": []}`), "application/json", time.Hour)
	if err := tier.Put(ctx, entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := tier.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if string(got.Body) != `{"items": []}` {
		t.Errorf("Body = %s", got.Body)
	}
	if got.ContentType != "application/json" {
		t.Errorf("ContentType = %s", got.ContentType)
	}
	if got.AccessCount != 1 {
		t.Errorf("AccessCount = %d, want 1 after one hit", got.AccessCount)
	}

	// Second hit bumps the count again.
	got2, err := tier.Get(ctx, key)
	if err != nil {
		t.Fatalf("Second get failed: %v", err)
	}
	if got2.AccessCount != 2 {
		t.Errorf("AccessCount = %d, want 2", got2.AccessCount)
	}
}

// TestRedisTierMiss verifies absent keys report a miss.
func TestRedisTierMiss(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	tier := cache.NewRedisTier("l3", cache.PolicyLFU, 100, time.Hour, client)

	if _, err := tier.Get(context.Background(), "golf:absent:deadbeef"); err != cache.ErrCacheMiss {
		t.Errorf("Get err = %v, want ErrCacheMiss", err)
	}
}

// TestRedisTierExpiredServesStale verifies expired entries miss on Get
// but remain readable for stale-serve.
func TestRedisTierExpiredServesStale(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	tier := cache.NewRedisTier("l3", cache.PolicyLFU, 100, time.Hour, client)
	ctx := context.Background()

	entry := cache.NewEntry("golf:scoring:abc", []byte(`{"old": true}`), "application/json", 1*time.Second)
	if err := tier.Put(ctx, entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	time.Sleep(1500 * time.Millisecond)

	if _, err := tier.Get(ctx, "golf:scoring:abc"); err != cache.ErrCacheMiss {
		t.Fatalf("Get expired err = %v, want ErrCacheMiss", err)
	}

	stale, err := tier.GetStale(ctx, "golf:scoring:abc")
	if err != nil {
		t.Fatalf("GetStale failed: %v", err)
	}
	if string(stale.Body) != `{"old": true}` {
		t.Errorf("Stale body = %s", stale.Body)
	}
}

// TestRedisTierEvictsLFUVictim verifies the sorted-set index evicts the
// least frequently used entry when the tier is full.
func TestRedisTierEvictsLFUVictim(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	tier := cache.NewRedisTier("l3", cache.PolicyLFU, 2, time.Hour, client)
	ctx := context.Background()

	if err := tier.Put(ctx, cache.NewEntry("golf:a", []byte("a"), "application/json", time.Hour)); err != nil {
		t.Fatalf("Put a failed: %v", err)
	}
	if err := tier.Put(ctx, cache.NewEntry("golf:b", []byte("b"), "application/json", time.Hour)); err != nil {
		t.Fatalf("Put b failed: %v", err)
	}

	// Access a twice so b is the LFU victim.
	if _, err := tier.Get(ctx, "golf:a"); err != nil {
		t.Fatalf("Get a failed: %v", err)
	}
	if _, err := tier.Get(ctx, "golf:a"); err != nil {
		t.Fatalf("Get a failed: %v", err)
	}

	if err := tier.Put(ctx, cache.NewEntry("golf:c", []byte("c"), "application/json", time.Hour)); err != nil {
		t.Fatalf("Put c failed: %v", err)
	}

	if _, err := tier.GetStale(ctx, "golf:b"); err != cache.ErrCacheMiss {
		t.Errorf("Victim b still present: %v", err)
	}
	if _, err := tier.GetStale(ctx, "golf:a"); err != nil {
		t.Errorf("Frequently used entry evicted: %v", err)
	}
}

// TestTieredWithRedisL3Promotion verifies an L3 Redis hit is promoted
// into the in-memory tiers with their own TTLs.
func TestTieredWithRedisL3Promotion(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	l1 := cache.NewTier("l1", cache.PolicyLRU, 10, 5*time.Minute)
	l2 := cache.NewTier("l2", cache.PolicyFIFO, 10, 30*time.Minute)
	l3 := cache.NewRedisTier("l3", cache.PolicyLFU, 10, 24*time.Hour, client)
	defer l1.Close()
	defer l2.Close()

	tiered, err := cache.NewTiered([]cache.Store{l1, l2, l3}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewTiered failed: %v", err)
	}

	ctx := context.Background()
	key := cache.Key("rankings", nil)

	// Seed only Redis, as after a process restart.
	if err := l3.Put(ctx, cache.NewEntry(key, []byte(`{"items": [1]}`), "application/json", 24*time.Hour)); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	_, level, err := tiered.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if level != 3 {
		t.Errorf("Hit level = %d, want 3", level)
	}

	promoted, err := l1.GetStale(ctx, key)
	if err != nil {
		t.Fatalf("L1 missing promoted entry: %v", err)
	}
	if got := promoted.ExpiresAt.Sub(promoted.CreatedAt); got != 5*time.Minute {
		t.Errorf("Promoted TTL = %v, want L1 default 5m", got)
	}

	_, level, err = tiered.Get(ctx, key)
	if err != nil {
		t.Fatalf("Second get failed: %v", err)
	}
	if level != 1 {
		t.Errorf("Second hit level = %d, want 1", level)
	}
}

// TestRedisTierInvalidationKeys verifies Keys lists entries for pattern
// invalidation.
func TestRedisTierInvalidationKeys(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	tier := cache.NewRedisTier("l3", cache.PolicyLFU, 100, time.Hour, client)
	ctx := context.Background()

	for _, key := range []string{"golf:tournaments:1", "golf:tournaments:2", "golf:rankings:1"} {
		if err := tier.Put(ctx, cache.NewEntry(key, []byte("x"), "application/json", time.Hour)); err != nil {
			t.Fatalf("Put %s failed: %v", key, err)
		}
	}

	keys, err := tier.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 3 {
		t.Errorf("Keys = %v, want 3 entries", keys)
	}

	if err := tier.Delete(ctx, "golf:tournaments:1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	keys, _ = tier.Keys(ctx)
	if len(keys) != 2 {
		t.Errorf("Keys after delete = %v, want 2 entries", keys)
	}
}
