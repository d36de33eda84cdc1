package cache

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"
)

// Tiered composes cache tiers probed in declared order (L1 first).
type Tiered struct {
	tiers  []Store
	logger zerolog.Logger
}

// NewTiered creates a tiered cache over the enabled tiers, in probe
// order. At least one tier must be provided.
func NewTiered(tiers []Store, logger zerolog.Logger) (*Tiered, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("tiered cache requires at least one tier")
	}
	return &Tiered{tiers: tiers, logger: logger}, nil
}

// Get probes tiers in order; the first fresh hit wins. A hit at level
// n>1 is promoted into all lower-numbered tiers using each destination
// tier's configured TTL. Returns the entry and the 1-based level that
// served it.
func (c *Tiered) Get(ctx context.Context, key string) (*Entry, int, error) {
	for i, tier := range c.tiers {
		entry, err := tier.Get(ctx, key)
		if err != nil {
			if err != ErrCacheMiss {
				c.logger.Warn().Err(err).Str("cache_tier", tier.Name()).Msg("Tier get failed")
				cacheErrors.WithLabelValues("get").Inc()
			}
			continue
		}

		if i > 0 {
			c.promote(ctx, entry, i)
		}
		return entry, i + 1, nil
	}

	return nil, 0, ErrCacheMiss
}

// GetStale returns an entry for the key from any tier, expired or not,
// without promotion or TTL extension. Used for stale-serve when the
// upstream is unreachable.
func (c *Tiered) GetStale(ctx context.Context, key string) (*Entry, error) {
	for _, tier := range c.tiers {
		entry, err := tier.GetStale(ctx, key)
		if err == nil {
			return entry, nil
		}
		if err != ErrCacheMiss {
			c.logger.Warn().Err(err).Str("cache_tier", tier.Name()).Msg("Tier stale get failed")
		}
	}
	return nil, ErrCacheMiss
}

// Put writes the body into every tier. Each tier's row uses
// explicitTTL when > 0, otherwise the tier's configured default.
func (c *Tiered) Put(ctx context.Context, key string, body []byte, contentType string, explicitTTL time.Duration) error {
	var firstErr error
	for _, tier := range c.tiers {
		ttl := explicitTTL
		if ttl <= 0 {
			ttl = tier.DefaultTTL()
		}
		if err := tier.Put(ctx, NewEntry(key, body, contentType, ttl)); err != nil {
			c.logger.Warn().Err(err).Str("cache_tier", tier.Name()).Msg("Tier put failed")
			cacheErrors.WithLabelValues("put").Inc()
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Delete removes the key from every tier.
func (c *Tiered) Delete(ctx context.Context, key string) error {
	var firstErr error
	for _, tier := range c.tiers {
		if err := tier.Delete(ctx, key); err != nil {
			cacheErrors.WithLabelValues("delete").Inc()
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Invalidate deletes all keys matching the pattern (a regular
// expression) from every tier. Returns the number of unique keys
// deleted; a key present in multiple tiers counts once.
func (c *Tiered) Invalidate(ctx context.Context, pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("compile invalidation pattern: %w", err)
	}

	deleted := make(map[string]struct{})
	for _, tier := range c.tiers {
		keys, err := tier.Keys(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Str("cache_tier", tier.Name()).Msg("Tier key scan failed")
			continue
		}
		for _, key := range keys {
			if !re.MatchString(key) {
				continue
			}
			if err := tier.Delete(ctx, key); err != nil {
				cacheErrors.WithLabelValues("delete").Inc()
				continue
			}
			deleted[key] = struct{}{}
		}
	}

	cacheInvalidations.Add(float64(len(deleted)))
	c.logger.Info().
		Str("pattern", pattern).
		Int("deleted", len(deleted)).
		Msg("Cache invalidation complete")

	return len(deleted), nil
}

// Stats returns per-tier counters keyed by tier name.
func (c *Tiered) Stats() map[string]Stats {
	stats := make(map[string]Stats, len(c.tiers))
	for _, tier := range c.tiers {
		stats[tier.Name()] = tier.Stats()
	}
	return stats
}

// promote copies a hit at tier index hitIdx into all lower-numbered
// tiers. Each copy is a fresh row stamped with the destination tier's
// configured TTL, never the remaining TTL of the source entry.
func (c *Tiered) promote(ctx context.Context, entry *Entry, hitIdx int) {
	for i := 0; i < hitIdx; i++ {
		tier := c.tiers[i]
		fresh := NewEntry(entry.Key, entry.Body, entry.ContentType, tier.DefaultTTL())
		if err := tier.Put(ctx, fresh); err != nil {
			c.logger.Warn().Err(err).Str("cache_tier", tier.Name()).Msg("Promotion failed")
			continue
		}
		cachePromotions.WithLabelValues(tier.Name()).Inc()
	}
}
