// Package proxy composes the request pipeline: session refresh, rate
// limiting, tiered cache, circuit breaker, request coalescing, upstream
// fetch, and transformation.
package proxy

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/fairwaylabs/golf-proxy/pkg/breaker"
	"github.com/fairwaylabs/golf-proxy/pkg/cache"
	"github.com/fairwaylabs/golf-proxy/pkg/metrics"
	"github.com/fairwaylabs/golf-proxy/pkg/ratelimit"
	"github.com/fairwaylabs/golf-proxy/pkg/session"
	"github.com/fairwaylabs/golf-proxy/pkg/transform"
	"github.com/fairwaylabs/golf-proxy/pkg/upstream"
)

// Fetcher fetches a feed path. Satisfied by *upstream.Client.
type Fetcher interface {
	Fetch(ctx context.Context, path string, params map[string]string) (*upstream.Result, error)
}

// Config holds pipeline tunables.
type Config struct {
	// MinTTL and MaxTTL clamp the adaptive cache TTL.
	MinTTL time.Duration
	MaxTTL time.Duration

	// Production suppresses error details in responses.
	Production bool
}

// Pipeline wires the proxy stages together.
type Pipeline struct {
	cfg      Config
	cache    *cache.Tiered
	limiter  *ratelimit.Limiter
	breakers *breaker.Registry
	fetcher  Fetcher
	registry *transform.Registry
	sessions *session.Envelope
	stats    *metrics.Aggregator
	logger   zerolog.Logger

	flights singleflight.Group
}

// NewPipeline creates the pipeline.
func NewPipeline(
	cfg Config,
	tiered *cache.Tiered,
	limiter *ratelimit.Limiter,
	breakers *breaker.Registry,
	fetcher Fetcher,
	registry *transform.Registry,
	sessions *session.Envelope,
	stats *metrics.Aggregator,
	logger zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		cache:    tiered,
		limiter:  limiter,
		breakers: breakers,
		fetcher:  fetcher,
		registry: registry,
		sessions: sessions,
		stats:    stats,
		logger:   logger,
	}
}

// Request is one client request entering the pipeline.
type Request struct {
	Endpoint string
	Params   map[string]string

	// CacheOverride skips the cache read; the response is still
	// written back.
	CacheOverride bool

	// SessionToken is the inbound encrypted token, empty for none.
	SessionToken string

	// ClientIP identifies the client when no session exists.
	ClientIP string

	// Fingerprint seeds new session records.
	Fingerprint string
}

// Outcome is the pipeline result, success or failure.
type Outcome struct {
	Status      int
	Body        []byte
	ContentType string

	CacheStatus     string // "HIT", "MISS", or "STALE"
	CacheTier       string // "l1", "l2", "l3"
	CacheAge        time.Duration
	Transformations []string

	SessionID    string
	SessionToken string
	SessionNew   bool

	RateRemaining int
	RateReset     time.Time
	RetryAfter    time.Duration

	Err *Error
}

// flightResult is the shared result of one coalesced upstream fetch.
type flightResult struct {
	body        []byte
	contentType string
	status      int
	cached      bool
}

// Process runs one request through the full pipeline.
func (p *Pipeline) Process(ctx context.Context, req *Request) *Outcome {
	start := time.Now()

	out := &Outcome{CacheStatus: "MISS", ContentType: "application/json"}
	p.resolveSession(req, out)

	identity := out.SessionID
	if identity == "" {
		identity = req.ClientIP
	}

	defer func() {
		p.stats.Record(metrics.Event{
			Endpoint:    req.Endpoint,
			Duration:    time.Since(start),
			StatusCode:  out.Status,
			CacheTier:   p.eventTier(out),
			Bytes:       int64(len(out.Body)),
			RateLimited: out.Err != nil && out.Err.Kind == KindRateLimited,
		})
	}()

	if !p.limiter.Allow(identity, req.Endpoint) {
		out.Err = newError(KindRateLimited, "rate limit exceeded")
		out.Status = out.Err.Status
		out.RateRemaining = 0
		out.RetryAfter = p.limiter.RetryAfter(identity, req.Endpoint)
		out.RateReset = time.Now().Add(out.RetryAfter)
		return out
	}
	out.RateRemaining = p.limiter.Remaining(identity, req.Endpoint)
	out.RateReset = time.Now().Add(p.limiter.RetryAfter(identity, req.Endpoint))

	entry := p.registry.Lookup(req.Endpoint)
	key := cache.Key(req.Endpoint, req.Params)

	if !req.CacheOverride {
		if cached, level, err := p.cache.Get(ctx, key); err == nil {
			out.Status = 200
			out.Body = cached.Body
			out.ContentType = cached.ContentType
			out.CacheStatus = "HIT"
			out.CacheTier = tierLabel(level)
			out.CacheAge = cached.Age()
			out.Transformations = p.applied(req.Endpoint)
			return out
		}
	}

	ch := p.flights.DoChan(key, func() (any, error) {
		// The fetch is shared by every coalesced waiter; one waiter
		// cancelling must not cancel it.
		return p.fetchAndStore(context.WithoutCancel(ctx), key, req, entry)
	})

	select {
	case <-ctx.Done():
		out.Err = newError(KindInternal, "request cancelled")
		out.Err.Status = 499
		out.Status = out.Err.Status
		return out
	case res := <-ch:
		if res.Err != nil {
			if p.serveStale(ctx, key, out) {
				out.Transformations = p.applied(req.Endpoint)
				return out
			}
			out.Err = p.translateFetchError(res.Err)
			out.Status = out.Err.Status
			return out
		}

		flight := res.Val.(*flightResult)
		out.Status = flight.status
		out.Body = flight.body
		out.ContentType = flight.contentType
		if flight.cached {
			out.Transformations = p.applied(req.Endpoint)
		}
		if flight.status >= 400 {
			out.Err = &Error{
				Kind:    KindUpstream4xx,
				Status:  flight.status,
				Message: "upstream rejected the request",
			}
		}
		return out
	}
}

// Invalidate removes cache entries matching the pattern. Returns the
// number of unique keys removed.
func (p *Pipeline) Invalidate(ctx context.Context, pattern string) (int, error) {
	return p.cache.Invalidate(ctx, pattern)
}

// CacheStats exposes per-tier cache counters.
func (p *Pipeline) CacheStats() map[string]cache.Stats {
	return p.cache.Stats()
}

// Snapshot exposes the metrics aggregator snapshot.
func (p *Pipeline) Snapshot() metrics.Snapshot {
	return p.stats.Snapshot()
}

// BreakerState reports an endpoint's circuit state.
func (p *Pipeline) BreakerState(endpoint string) breaker.State {
	return p.breakers.State(endpoint)
}

// resolveSession decrypts and refreshes the inbound session, minting a
// fresh one when the token is missing, tampered, or expired.
func (p *Pipeline) resolveSession(req *Request, out *Outcome) {
	var rec *session.Record

	if req.SessionToken != "" {
		decrypted, err := p.sessions.Decrypt(req.SessionToken)
		if err == nil {
			if err := p.sessions.Touch(decrypted); err == nil {
				rec = decrypted
			}
		} else if !errors.Is(err, session.ErrInvalidSession) {
			p.logger.Warn().Err(err).Msg("Session decrypt failed")
		}
	}

	if rec == nil {
		rec = p.sessions.NewRecord(req.Fingerprint)
		out.SessionNew = true
	}

	token, err := p.sessions.Encrypt(rec)
	if err != nil {
		// Requests proceed without a session; the limiter falls back
		// to the client IP.
		p.logger.Error().Err(err).Msg("Session encrypt failed")
		return
	}

	out.SessionID = rec.ID
	out.SessionToken = token
}

// fetchAndStore performs the shared upstream fetch, transformation, and
// cache write-back for one coalesced flight.
func (p *Pipeline) fetchAndStore(ctx context.Context, key string, req *Request, entry transform.Entry) (*flightResult, error) {
	// Admission is checked once per flight, not per waiter, so coalesced
	// requests reserve a single half-open trial slot.
	if !p.breakers.Admit(req.Endpoint) {
		return nil, newError(KindCircuitOpen, "upstream temporarily unavailable")
	}

	result, err := p.fetcher.Fetch(ctx, entry.UpstreamPath, req.Params)
	if err != nil {
		p.breakers.Failure(req.Endpoint)
		return nil, err
	}

	// A 4xx means the upstream is reachable; it does not count against
	// the circuit.
	p.breakers.Success(req.Endpoint)

	if result.StatusCode >= 400 {
		return &flightResult{
			body:        result.Body,
			contentType: result.ContentType,
			status:      result.StatusCode,
		}, nil
	}

	transformed, err := entry.Transform(result.Body)
	if err != nil {
		p.logger.Error().
			Err(err).
			Str("endpoint", req.Endpoint).
			Msg("Transformation failed")
		return nil, newError(KindInternal, "response transformation failed")
	}

	ttl := p.ttlFor(req.Endpoint, entry.Category, len(transformed))
	if err := p.cache.Put(ctx, key, transformed, "application/json", ttl); err != nil {
		p.logger.Warn().Err(err).Str("endpoint", req.Endpoint).Msg("Cache write-back failed")
	}

	return &flightResult{
		body:        transformed,
		contentType: "application/json",
		status:      200,
		cached:      true,
	}, nil
}

// serveStale fills the outcome from an expired cache entry, if one is
// still retained.
func (p *Pipeline) serveStale(ctx context.Context, key string, out *Outcome) bool {
	stale, err := p.cache.GetStale(ctx, key)
	if err != nil {
		return false
	}

	out.Status = 200
	out.Body = stale.Body
	out.ContentType = stale.ContentType
	out.CacheStatus = "STALE"
	out.CacheAge = stale.Age()
	return true
}

// ttlFor computes the adaptive TTL:
// base * min(1 + hits_per_hour/100, 2.0) * min(1 + size_bytes/1e6, 1.5),
// clamped to [MinTTL, MaxTTL].
func (p *Pipeline) ttlFor(endpoint string, category transform.Category, sizeBytes int) time.Duration {
	base := category.BaseTTL()

	freqFactor := 1 + p.stats.HitsPerHour(endpoint)/100
	if freqFactor > 2.0 {
		freqFactor = 2.0
	}

	sizeFactor := 1 + float64(sizeBytes)/1e6
	if sizeFactor > 1.5 {
		sizeFactor = 1.5
	}

	ttl := time.Duration(float64(base) * freqFactor * sizeFactor)
	if p.cfg.MinTTL > 0 && ttl < p.cfg.MinTTL {
		ttl = p.cfg.MinTTL
	}
	if p.cfg.MaxTTL > 0 && ttl > p.cfg.MaxTTL {
		ttl = p.cfg.MaxTTL
	}
	return ttl
}

// translateFetchError maps upstream failures onto pipeline errors.
func (p *Pipeline) translateFetchError(err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	if errors.Is(err, upstream.ErrRetryExhausted) || errors.Is(err, upstream.ErrContextCancelled) {
		return newError(KindUpstreamUnavailable, "upstream feed unavailable")
	}

	var ferr *upstream.FeedError
	if errors.As(err, &ferr) {
		return newError(KindUpstreamUnavailable, "upstream feed unavailable")
	}
	return newError(KindInternal, "request failed")
}

// applied names the transformations for a known endpoint.
func (p *Pipeline) applied(endpoint string) []string {
	if !p.registry.Known(endpoint) {
		return nil
	}
	return []string{"normalizeKeys", "wrapList"}
}

// eventTier maps the outcome's cache fields to the metrics tier label.
func (p *Pipeline) eventTier(out *Outcome) string {
	switch out.CacheStatus {
	case "HIT":
		return out.CacheTier
	case "STALE":
		return "stale"
	default:
		return ""
	}
}

// tierLabel converts a 1-based tier level to its label.
func tierLabel(level int) string {
	switch level {
	case 1:
		return "l1"
	case 2:
		return "l2"
	case 3:
		return "l3"
	default:
		return ""
	}
}
