package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrCacheMiss indicates the requested key was not found or expired.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates a cache entry is invalid or corrupted.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Policy selects the eviction discipline for a tier.
type Policy string

const (
	// PolicyLRU evicts the entry with the smallest last-accessed time.
	PolicyLRU Policy = "lru"

	// PolicyFIFO evicts the entry with the smallest created time.
	PolicyFIFO Policy = "fifo"

	// PolicyLFU evicts the entry with the smallest access count,
	// breaking ties by smallest last-accessed time.
	PolicyLFU Policy = "lfu"
)

// ParsePolicy converts a config string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyLRU, PolicyFIFO, PolicyLFU:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("unknown eviction policy %q", s)
	}
}

// Stats holds per-tier counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}

// Store is the interface every tier backend implements. The context
// is ignored by the in-memory tier and used by the Redis tier.
type Store interface {
	// Name returns the tier name (l1, l2, l3).
	Name() string

	// DefaultTTL is the tier's configured TTL, used for writes without
	// an explicit TTL and for promotion.
	DefaultTTL() time.Duration

	// Get returns a fresh entry and records the access, or ErrCacheMiss.
	// An observed expiry deletes the entry.
	Get(ctx context.Context, key string) (*Entry, error)

	// GetStale returns an entry even if expired, without recording an
	// access or extending its TTL. Returns ErrCacheMiss if absent.
	GetStale(ctx context.Context, key string) (*Entry, error)

	// Put inserts or overwrites an entry, evicting one victim per the
	// tier's policy when the tier is full and the key is new.
	Put(ctx context.Context, entry *Entry) error

	// Delete removes an entry.
	Delete(ctx context.Context, key string) error

	// Keys returns all keys currently present, including expired ones.
	Keys(ctx context.Context) ([]string, error)

	// Stats returns the tier counters.
	Stats() Stats
}

// StaleRetention is how long an expired entry survives for
// stale-serve before the janitor removes it.
const StaleRetention = 1 * time.Hour

// janitorInterval is how often the janitor sweeps expired entries.
const janitorInterval = 1 * time.Minute

// Tier is an in-memory bounded store with one eviction policy.
// A single mutex guards the map; it is held only for map operations.
//
// An expired entry observed by Get is reported as a miss and left in
// place for stale-serve; a background janitor removes entries once
// they have been expired for longer than StaleRetention.
type Tier struct {
	name    string
	policy  Policy
	maxSize int
	ttl     time.Duration

	mu      sync.Mutex
	entries map[string]*Entry
	stats   Stats

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewTier creates an in-memory tier and starts its janitor.
func NewTier(name string, policy Policy, maxSize int, defaultTTL time.Duration) *Tier {
	if maxSize <= 0 {
		maxSize = 1000
	}
	t := &Tier{
		name:    name,
		policy:  policy,
		maxSize: maxSize,
		ttl:     defaultTTL,
		entries: make(map[string]*Entry),
		stopCh:  make(chan struct{}),
	}

	go t.janitor()

	return t
}

// Name returns the tier name.
func (t *Tier) Name() string { return t.name }

// DefaultTTL returns the tier's configured TTL.
func (t *Tier) DefaultTTL() time.Duration { return t.ttl }

// Get returns a fresh entry and records the access.
func (t *Tier) Get(_ context.Context, key string) (*Entry, error) {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[key]
	if !ok {
		t.stats.Misses++
		tierMisses.WithLabelValues(t.name).Inc()
		return nil, ErrCacheMiss
	}

	if entry.IsExpired(now) {
		// Left in place for stale-serve; the janitor removes it.
		t.stats.Misses++
		tierMisses.WithLabelValues(t.name).Inc()
		return nil, ErrCacheMiss
	}

	entry.LastAccessedAt = now
	entry.AccessCount++
	t.stats.Hits++
	tierHits.WithLabelValues(t.name).Inc()

	return entry.clone(), nil
}

// GetStale returns an entry even if expired, without touching it.
func (t *Tier) GetStale(_ context.Context, key string) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return entry.clone(), nil
}

// Put inserts or overwrites an entry. When the tier is full and the
// key is new, exactly one victim is evicted per the tier's policy.
func (t *Tier) Put(_ context.Context, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[entry.Key]; !exists && len(t.entries) >= t.maxSize {
		t.evictLocked()
	}

	t.entries[entry.Key] = entry.clone()
	tierEntries.WithLabelValues(t.name).Set(float64(len(t.entries)))
	return nil
}

// Delete removes an entry.
func (t *Tier) Delete(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.entries, key)
	tierEntries.WithLabelValues(t.name).Set(float64(len(t.entries)))
	return nil
}

// Keys returns all keys currently present, including expired ones.
func (t *Tier) Keys(_ context.Context) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make([]string, 0, len(t.entries))
	for key := range t.entries {
		keys = append(keys, key)
	}
	return keys, nil
}

// Stats returns the tier counters.
func (t *Tier) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := t.stats
	stats.Size = len(t.entries)
	return stats
}

// Close stops the janitor.
func (t *Tier) Close() error {
	t.stopOnce.Do(func() { close(t.stopCh) })
	return nil
}

// janitor periodically removes entries expired beyond StaleRetention.
func (t *Tier) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.sweep(time.Now())
		case <-t.stopCh:
			return
		}
	}
}

// sweep removes entries whose stale grace has elapsed at now.
func (t *Tier) sweep(now time.Time) {
	cutoff := now.Add(-StaleRetention)

	t.mu.Lock()
	defer t.mu.Unlock()

	for key, entry := range t.entries {
		if entry.ExpiresAt.Before(cutoff) {
			delete(t.entries, key)
		}
	}
	tierEntries.WithLabelValues(t.name).Set(float64(len(t.entries)))
}

// evictLocked removes exactly one victim per the tier's policy.
// Caller must hold the mutex.
func (t *Tier) evictLocked() {
	var victim *Entry
	for _, candidate := range t.entries {
		if victim == nil || t.prefer(candidate, victim) {
			victim = candidate
		}
	}
	if victim == nil {
		return
	}

	delete(t.entries, victim.Key)
	t.stats.Evictions++
	tierEvictions.WithLabelValues(t.name).Inc()
}

// prefer reports whether a should be evicted before b under the
// tier's policy.
func (t *Tier) prefer(a, b *Entry) bool {
	switch t.policy {
	case PolicyFIFO:
		return a.CreatedAt.Before(b.CreatedAt)
	case PolicyLFU:
		if a.AccessCount != b.AccessCount {
			return a.AccessCount < b.AccessCount
		}
		return a.LastAccessedAt.Before(b.LastAccessedAt)
	default: // PolicyLRU
		return a.LastAccessedAt.Before(b.LastAccessedAt)
	}
}
