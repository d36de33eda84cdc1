package proxy

import (
	"encoding/json"
	"time"
)

// RateLimitMeta reports rate limit state on a response.
type RateLimitMeta struct {
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"resetTime"`
}

// Metadata is the response envelope metadata block.
type Metadata struct {
	RequestID              string         `json:"requestId"`
	Timestamp              time.Time      `json:"timestamp"`
	ProcessingTime         string         `json:"processingTime"`
	Cached                 string         `json:"cached,omitempty"` // "hit" or "stale"
	CacheAge               float64        `json:"cacheAge,omitempty"`
	CacheTier              string         `json:"cacheTier,omitempty"`
	TransformationsApplied []string       `json:"transformationsApplied,omitempty"`
	RateLimit              *RateLimitMeta `json:"rateLimit,omitempty"`
}

// ErrorBody is the client-facing error block.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Envelope is the uniform response body for success and error.
type Envelope struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    *ErrorBody      `json:"error,omitempty"`
	Metadata Metadata        `json:"metadata"`
}
