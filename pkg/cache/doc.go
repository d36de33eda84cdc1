// Package cache implements the three-tier response cache for the golf
// data proxy.
//
// Each tier is a bounded store with a TTL per entry and one eviction
// policy (L1 LRU, L2 FIFO, L3 LFU by default). The Tiered composite
// probes tiers in order, promotes hits from lower tiers into upper
// tiers using the destination tier's configured TTL, and supports
// pattern-based invalidation across all tiers.
//
// Tier 3 can optionally be backed by Redis (see RedisTier), which
// preserves the entry schema and eviction policy through a sorted-set
// eviction index.
//
// Cache keys are derived deterministically from the endpoint name and
// its parameters; sensitive parameters (API keys, tokens, secrets) are
// excluded so credentials never influence or appear in keys.
package cache
