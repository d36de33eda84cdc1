package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTier is a Store backed by Redis, normally used as tier 3 so
// long-lived entries survive process restarts. It preserves the entry
// schema and eviction policy: entries are stored as JSON values and a
// sorted-set index orders eviction candidates by the policy's
// preference (score ascending = evict first).
type RedisTier struct {
	name    string
	policy  Policy
	maxSize int
	ttl     time.Duration
	prefix  string
	client  *redis.Client

	mu    sync.Mutex
	stats Stats
}

// NewRedisTier creates a Redis-backed tier.
func NewRedisTier(name string, policy Policy, maxSize int, defaultTTL time.Duration, client *redis.Client) *RedisTier {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &RedisTier{
		name:    name,
		policy:  policy,
		maxSize: maxSize,
		ttl:     defaultTTL,
		prefix:  "golfcache:" + name + ":",
		client:  client,
	}
}

// Name returns the tier name.
func (t *RedisTier) Name() string { return t.name }

// DefaultTTL returns the tier's configured TTL.
func (t *RedisTier) DefaultTTL() time.Duration { return t.ttl }

func (t *RedisTier) dataKey(key string) string { return t.prefix + key }

func (t *RedisTier) indexKey() string { return t.prefix + "index" }

// score orders eviction candidates ascending: the smallest score is
// evicted first, matching the tier policy's victim preference.
func (t *RedisTier) score(e *Entry) float64 {
	switch t.policy {
	case PolicyFIFO:
		return float64(e.CreatedAt.UnixNano())
	case PolicyLFU:
		// Access count dominates; last-accessed breaks ties.
		return float64(e.AccessCount)*1e12 + float64(e.LastAccessedAt.Unix())
	default: // PolicyLRU
		return float64(e.LastAccessedAt.UnixNano())
	}
}

// Get returns a fresh entry and records the access, or ErrCacheMiss.
// Expired entries are reported as misses but retained within the
// stale grace period (Redis key expiry removes them afterwards).
func (t *RedisTier) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := t.client.Get(ctx, t.dataKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			// Drop any dangling index member.
			_ = t.client.ZRem(ctx, t.indexKey(), key).Err()
			t.countMiss()
			return nil, ErrCacheMiss
		}
		cacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		cacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	now := time.Now()
	if entry.IsExpired(now) {
		t.countMiss()
		return nil, ErrCacheMiss
	}

	entry.LastAccessedAt = now
	entry.AccessCount++
	if err := t.write(ctx, &entry); err != nil {
		cacheErrors.WithLabelValues("get").Inc()
		return nil, err
	}

	t.mu.Lock()
	t.stats.Hits++
	t.mu.Unlock()
	tierHits.WithLabelValues(t.name).Inc()

	return &entry, nil
}

// GetStale returns an entry even if expired, without touching it.
func (t *RedisTier) GetStale(ctx context.Context, key string) (*Entry, error) {
	data, err := t.client.Get(ctx, t.dataKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}

// Put inserts or overwrites an entry, evicting one victim when the
// tier is full and the key is new.
func (t *RedisTier) Put(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	_, err := t.client.ZScore(ctx, t.indexKey(), entry.Key).Result()
	isNew := err == redis.Nil
	if err != nil && err != redis.Nil {
		cacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("redis zscore: %w", err)
	}

	if isNew {
		size, err := t.client.ZCard(ctx, t.indexKey()).Result()
		if err != nil {
			cacheErrors.WithLabelValues("put").Inc()
			return fmt.Errorf("redis zcard: %w", err)
		}
		if size >= int64(t.maxSize) {
			if err := t.evictOne(ctx); err != nil {
				return err
			}
		}
	}

	if err := t.write(ctx, entry); err != nil {
		cacheErrors.WithLabelValues("put").Inc()
		return err
	}
	return nil
}

// Delete removes an entry and its index member.
func (t *RedisTier) Delete(ctx context.Context, key string) error {
	pipe := t.client.Pipeline()
	pipe.Del(ctx, t.dataKey(key))
	pipe.ZRem(ctx, t.indexKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		cacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Keys returns all indexed keys.
func (t *RedisTier) Keys(ctx context.Context) ([]string, error) {
	keys, err := t.client.ZRange(ctx, t.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange: %w", err)
	}
	return keys, nil
}

// Stats returns the tier counters. Size reflects the index
// cardinality at the last write, tracked locally.
func (t *RedisTier) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// write stores the entry JSON and refreshes its index score. The
// Redis key expiry is the entry TTL plus the stale grace, so expired
// entries remain available for stale-serve.
func (t *RedisTier) write(ctx context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	retention := entry.TTL() + StaleRetention
	pipe := t.client.Pipeline()
	pipe.Set(ctx, t.dataKey(entry.Key), data, retention)
	pipe.ZAdd(ctx, t.indexKey(), redis.Z{Score: t.score(entry), Member: entry.Key})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// evictOne removes the index member with the smallest score and its
// data key.
func (t *RedisTier) evictOne(ctx context.Context) error {
	victims, err := t.client.ZPopMin(ctx, t.indexKey(), 1).Result()
	if err != nil {
		cacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("redis zpopmin: %w", err)
	}
	if len(victims) == 0 {
		return nil
	}

	member, ok := victims[0].Member.(string)
	if !ok {
		member = fmt.Sprint(victims[0].Member)
	}
	if err := t.client.Del(ctx, t.dataKey(member)).Err(); err != nil {
		return fmt.Errorf("redis del victim: %w", err)
	}

	t.mu.Lock()
	t.stats.Evictions++
	t.mu.Unlock()
	tierEvictions.WithLabelValues(t.name).Inc()

	return nil
}

func (t *RedisTier) countMiss() {
	t.mu.Lock()
	t.stats.Misses++
	t.mu.Unlock()
	tierMisses.WithLabelValues(t.name).Inc()
}

var _ Store = (*RedisTier)(nil)
var _ Store = (*Tier)(nil)
