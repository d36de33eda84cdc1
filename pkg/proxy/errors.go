package proxy

import (
	"net/http"
)

// Kind classifies pipeline failures for HTTP translation.
type Kind string

const (
	// KindBadRequest covers malformed URLs and bad parameters.
	KindBadRequest Kind = "bad_request"

	// KindUnauthorized covers required-session failures.
	KindUnauthorized Kind = "unauthorized"

	// KindRateLimited means the rate limiter denied admission.
	KindRateLimited Kind = "rate_limited"

	// KindUpstream4xx surfaces a non-retryable upstream 4xx verbatim.
	KindUpstream4xx Kind = "upstream_client_error"

	// KindUpstreamUnavailable means retries were exhausted against the
	// feed.
	KindUpstreamUnavailable Kind = "upstream_unavailable"

	// KindCircuitOpen means the circuit breaker refused admission and
	// no stale entry was available.
	KindCircuitOpen Kind = "circuit_open"

	// KindInternal covers unexpected failures. Never cached.
	KindInternal Kind = "internal"
)

// Error is a pipeline failure with its HTTP translation. Messages are
// sanitized for clients; Details is only populated outside production.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Details string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// newError builds an Error with the standard status for its kind.
func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Status: statusFor(kind), Message: message}
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind Kind) int {
	switch kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	case KindCircuitOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
