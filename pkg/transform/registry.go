// Package transform maps feed endpoints to pure normalization
// functions that convert the vendor's snake_case payloads into the
// proxy's stable camelCase schema.
package transform

import (
	"time"
)

// Category classifies an endpoint's volatility for TTL selection.
type Category string

const (
	// CategoryRealtime covers live data (scoring, betting odds).
	CategoryRealtime Category = "realtime"

	// CategoryDynamic covers data that changes within a day
	// (field, rankings).
	CategoryDynamic Category = "dynamic"

	// CategoryReference covers slow-moving data (tournaments,
	// historical stats).
	CategoryReference Category = "reference"
)

// BaseTTL returns the category's base cache TTL.
func (c Category) BaseTTL() time.Duration {
	switch c {
	case CategoryRealtime:
		return 2 * time.Minute
	case CategoryDynamic:
		return 20 * time.Minute
	default:
		return 6 * time.Hour
	}
}

// Func is a pure normalization function. A given raw body always
// yields the same normalized body.
type Func func(raw []byte) ([]byte, error)

// Entry describes one proxied endpoint: where it lives upstream, how
// volatile it is, and how its payload is normalized.
type Entry struct {
	// UpstreamPath is the vendor path for the endpoint.
	UpstreamPath string

	// Category drives base TTL selection.
	Category Category

	// Transform normalizes the raw vendor body.
	Transform Func
}

// Registry maps endpoint names to entries.
type Registry struct {
	entries map[string]Entry
}

// NewRegistry creates a registry pre-populated with the golf feed
// endpoints.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]Entry)}

	r.Register("tournaments", Entry{
		UpstreamPath: "get-schedule",
		Category:     CategoryReference,
		Transform:    listTransformer("schedule"),
	})
	r.Register("rankings", Entry{
		UpstreamPath: "preds/get-dg-rankings",
		Category:     CategoryDynamic,
		Transform:    listTransformer("rankings"),
	})
	r.Register("field", Entry{
		UpstreamPath: "field-updates",
		Category:     CategoryDynamic,
		Transform:    listTransformer("field"),
	})
	r.Register("scoring", Entry{
		UpstreamPath: "preds/in-play",
		Category:     CategoryRealtime,
		Transform:    listTransformer("data"),
	})
	r.Register("player-stats", Entry{
		UpstreamPath: "preds/skill-ratings",
		Category:     CategoryReference,
		Transform:    listTransformer("players"),
	})
	r.Register("betting-odds", Entry{
		UpstreamPath: "betting-tools/outrights",
		Category:     CategoryRealtime,
		Transform:    listTransformer("odds"),
	})

	return r
}

// Register adds or replaces an entry.
func (r *Registry) Register(endpoint string, entry Entry) {
	r.entries[endpoint] = entry
}

// Lookup returns the entry for an endpoint. Unknown endpoints fall
// back to a passthrough entry: the endpoint name as the upstream path,
// reference TTL, and the identity transform.
func (r *Registry) Lookup(endpoint string) Entry {
	if entry, ok := r.entries[endpoint]; ok {
		return entry
	}
	return Entry{
		UpstreamPath: endpoint,
		Category:     CategoryReference,
		Transform:    Identity,
	}
}

// Known reports whether the endpoint has a registered entry.
func (r *Registry) Known(endpoint string) bool {
	_, ok := r.entries[endpoint]
	return ok
}

// Endpoints returns all registered endpoint names.
func (r *Registry) Endpoints() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

// Identity returns the raw body unchanged.
func Identity(raw []byte) ([]byte, error) {
	return raw, nil
}
