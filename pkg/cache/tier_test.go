package cache

import (
	"context"
	"testing"
	"time"
)

func newTestEntry(key string, createdAt, lastAccessedAt time.Time, accessCount int64) *Entry {
	return &Entry{
		Key:            key,
		Body:           []byte(`{"status": "ok"}`),
		ContentType:    "application/json",
		CreatedAt:      createdAt,
		ExpiresAt:      createdAt.Add(1 * time.Hour),
		LastAccessedAt: lastAccessedAt,
		AccessCount:    accessCount,
	}
}

func TestTierGetHitUpdatesAccess(t *testing.T) {
	tier := NewTier("l1", PolicyLRU, 10, 5*time.Minute)
	defer tier.Close()
	ctx := context.Background()

	if err := tier.Put(ctx, NewEntry("golf:a", []byte("body"), "application/json", time.Minute)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	first, err := tier.Get(ctx, "golf:a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	second, err := tier.Get(ctx, "golf:a")
	if err != nil {
		t.Fatalf("Second get failed: %v", err)
	}

	if second.AccessCount != first.AccessCount+1 {
		t.Errorf("AccessCount = %d, want %d", second.AccessCount, first.AccessCount+1)
	}

	stats := tier.Stats()
	if stats.Hits != 2 {
		t.Errorf("Hits = %d, want 2", stats.Hits)
	}
}

func TestTierGetMiss(t *testing.T) {
	tier := NewTier("l1", PolicyLRU, 10, 5*time.Minute)
	defer tier.Close()

	if _, err := tier.Get(context.Background(), "golf:absent"); err != ErrCacheMiss {
		t.Errorf("Get absent key err = %v, want ErrCacheMiss", err)
	}

	if stats := tier.Stats(); stats.Misses != 1 {
		t.Errorf("Misses = %d, want 1", stats.Misses)
	}
}

func TestTierExpiredEntryMissesButServesStale(t *testing.T) {
	tier := NewTier("l1", PolicyLRU, 10, 5*time.Minute)
	defer tier.Close()
	ctx := context.Background()

	expired := NewEntry("golf:a", []byte("old"), "application/json", -1*time.Second)
	if err := tier.Put(ctx, expired); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if _, err := tier.Get(ctx, "golf:a"); err != ErrCacheMiss {
		t.Fatalf("Get expired err = %v, want ErrCacheMiss", err)
	}

	stale, err := tier.GetStale(ctx, "golf:a")
	if err != nil {
		t.Fatalf("GetStale failed: %v", err)
	}
	if string(stale.Body) != "old" {
		t.Errorf("Stale body = %s, want old", stale.Body)
	}
}

func TestTierSweepRemovesLongExpired(t *testing.T) {
	tier := NewTier("l1", PolicyLRU, 10, 5*time.Minute)
	defer tier.Close()
	ctx := context.Background()

	now := time.Now()

	longExpired := newTestEntry("golf:gone", now.Add(-3*time.Hour), now.Add(-3*time.Hour), 0)
	longExpired.ExpiresAt = now.Add(-StaleRetention - time.Minute)
	if err := tier.Put(ctx, longExpired); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	recent := newTestEntry("golf:stays", now.Add(-10*time.Minute), now, 0)
	recent.ExpiresAt = now.Add(-1 * time.Minute)
	if err := tier.Put(ctx, recent); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	tier.sweep(now)

	if _, err := tier.GetStale(ctx, "golf:gone"); err != ErrCacheMiss {
		t.Errorf("Long-expired entry survived the sweep")
	}
	if _, err := tier.GetStale(ctx, "golf:stays"); err != nil {
		t.Errorf("Recently expired entry removed too early: %v", err)
	}
}

func TestTierEviction(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		policy  Policy
		entries []*Entry
		victim  string
	}{
		{
			name:   "lru evicts least recently accessed",
			policy: PolicyLRU,
			entries: []*Entry{
				newTestEntry("golf:a", now.Add(-3*time.Minute), now.Add(-3*time.Minute), 5),
				newTestEntry("golf:b", now.Add(-2*time.Minute), now.Add(-1*time.Second), 1),
			},
			victim: "golf:a",
		},
		{
			name:   "fifo evicts oldest created",
			policy: PolicyFIFO,
			entries: []*Entry{
				newTestEntry("golf:a", now.Add(-1*time.Minute), now, 10),
				newTestEntry("golf:b", now.Add(-5*time.Minute), now, 10),
			},
			victim: "golf:b",
		},
		{
			name:   "lfu evicts least frequently accessed",
			policy: PolicyLFU,
			entries: []*Entry{
				newTestEntry("golf:a", now.Add(-1*time.Minute), now, 7),
				newTestEntry("golf:b", now.Add(-1*time.Minute), now, 2),
			},
			victim: "golf:b",
		},
		{
			name:   "lfu ties break on last accessed",
			policy: PolicyLFU,
			entries: []*Entry{
				newTestEntry("golf:a", now.Add(-1*time.Minute), now.Add(-30*time.Second), 3),
				newTestEntry("golf:b", now.Add(-1*time.Minute), now, 3),
			},
			victim: "golf:a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier := NewTier("l1", tt.policy, len(tt.entries), 5*time.Minute)
			defer tier.Close()
			ctx := context.Background()

			for _, entry := range tt.entries {
				if err := tier.Put(ctx, entry); err != nil {
					t.Fatalf("Put failed: %v", err)
				}
			}

			// Tier is full; this insert must evict exactly one victim.
			if err := tier.Put(ctx, newTestEntry("golf:new", now, now, 0)); err != nil {
				t.Fatalf("Put failed: %v", err)
			}

			if _, err := tier.GetStale(ctx, tt.victim); err != ErrCacheMiss {
				t.Errorf("Victim %s still present", tt.victim)
			}

			stats := tier.Stats()
			if stats.Evictions != 1 {
				t.Errorf("Evictions = %d, want 1", stats.Evictions)
			}
			if stats.Size != len(tt.entries) {
				t.Errorf("Size = %d, want %d", stats.Size, len(tt.entries))
			}
		})
	}
}

func TestTierOverwriteDoesNotEvict(t *testing.T) {
	tier := NewTier("l1", PolicyLRU, 2, 5*time.Minute)
	defer tier.Close()
	ctx := context.Background()

	tier.Put(ctx, NewEntry("golf:a", []byte("1"), "application/json", time.Minute))
	tier.Put(ctx, NewEntry("golf:b", []byte("1"), "application/json", time.Minute))
	tier.Put(ctx, NewEntry("golf:a", []byte("2"), "application/json", time.Minute))

	if stats := tier.Stats(); stats.Evictions != 0 {
		t.Errorf("Evictions = %d, want 0 for overwrite", stats.Evictions)
	}

	entry, err := tier.Get(ctx, "golf:a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(entry.Body) != "2" {
		t.Errorf("Body = %s, want 2", entry.Body)
	}
}

func TestParsePolicy(t *testing.T) {
	for _, valid := range []string{"lru", "fifo", "lfu"} {
		if _, err := ParsePolicy(valid); err != nil {
			t.Errorf("ParsePolicy(%q) failed: %v", valid, err)
		}
	}

	if _, err := ParsePolicy("random"); err == nil {
		t.Error("ParsePolicy accepted an unknown policy")
	}
}
