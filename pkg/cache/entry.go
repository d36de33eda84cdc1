package cache

import (
	"time"
)

// Entry represents one cached response row in a tier.
type Entry struct {
	// Key is the deterministic cache key (see Key).
	Key string `json:"key"`

	// Body is the normalized response body.
	Body []byte `json:"body"`

	// ContentType is the response content type.
	ContentType string `json:"content_type"`

	// CreatedAt is when the entry was stored in its tier.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is CreatedAt plus the entry's TTL.
	ExpiresAt time.Time `json:"expires_at"`

	// LastAccessedAt is updated on every read hit at the tier.
	LastAccessedAt time.Time `json:"last_accessed_at"`

	// AccessCount is incremented on every read hit at the tier.
	AccessCount int64 `json:"access_count"`

	// SizeBytes is the body size.
	SizeBytes int64 `json:"size_bytes"`
}

// NewEntry creates an entry stamped at now with the given TTL.
func NewEntry(key string, body []byte, contentType string, ttl time.Duration) *Entry {
	now := time.Now()
	return &Entry{
		Key:            key,
		Body:           body,
		ContentType:    contentType,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastAccessedAt: now,
		SizeBytes:      int64(len(body)),
	}
}

// IsExpired returns true if the entry has expired at now.
func (e *Entry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// TTL returns the time until expiration, or 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.ExpiresAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Age returns how long ago the entry was stored.
func (e *Entry) Age() time.Duration {
	return time.Since(e.CreatedAt)
}

// clone returns a copy of the entry. The body slice is shared; callers
// treat bodies as read-only.
func (e *Entry) clone() *Entry {
	c := *e
	return &c
}
