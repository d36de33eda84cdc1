// Package ratelimit implements per-client sliding-window rate limiting
// with adaptive per-endpoint limit adjustment.
package ratelimit

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	rateLimitDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "golf_rate_limit_denials_total",
		Help: "Total requests denied by the rate limiter, by endpoint",
	}, []string{"endpoint"})

	rateLimitAdjustments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "golf_rate_limit_adjustments_total",
		Help: "Total adaptive limit adjustments, by direction",
	}, []string{"direction"})
)

// housekeepingInterval is how often empty stale windows are dropped.
const housekeepingInterval = 1 * time.Minute

// Config holds limiter configuration.
type Config struct {
	// DefaultLimit is the admission limit per window for endpoints
	// without an override.
	DefaultLimit int

	// Window is the sliding window duration.
	Window time.Duration

	// Overrides maps endpoint name to a per-window limit.
	Overrides map[string]int

	// MinLimit and MaxLimit clamp adaptive adjustment.
	MinLimit int
	MaxLimit int
}

type windowKey struct {
	identity string
	endpoint string
}

// window holds the admission timestamps for one (identity, endpoint).
type window struct {
	mu         sync.Mutex
	admissions []time.Time
	lastSeen   time.Time
}

// Limiter is a sliding-window rate limiter keyed by
// (identity, endpoint). Identity is the session id, falling back to
// the client IP when no session exists.
type Limiter struct {
	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	windows map[windowKey]*window

	// limitMu guards the adaptively adjusted per-endpoint limits.
	limitMu sync.Mutex
	limits  map[string]int

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewLimiter creates a limiter and starts its housekeeping loop.
func NewLimiter(cfg Config, logger zerolog.Logger) *Limiter {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	if cfg.MinLimit <= 0 {
		cfg.MinLimit = 1
	}
	if cfg.MaxLimit < cfg.DefaultLimit {
		cfg.MaxLimit = cfg.DefaultLimit * 10
	}

	l := &Limiter{
		cfg:     cfg,
		logger:  logger,
		windows: make(map[windowKey]*window),
		limits:  make(map[string]int),
		stopCh:  make(chan struct{}),
	}

	go l.housekeeping()

	return l
}

// Allow reports whether a request for (identity, endpoint) is admitted
// now, appending the admission timestamp when it is.
func (l *Limiter) Allow(identity, endpoint string) bool {
	limit := l.Limit(endpoint)
	now := time.Now()

	w := l.window(identity, endpoint)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.lastSeen = now
	w.trim(now.Add(-l.cfg.Window))

	if len(w.admissions) >= limit {
		rateLimitDenials.WithLabelValues(endpoint).Inc()
		return false
	}

	w.admissions = append(w.admissions, now)
	return true
}

// Remaining returns how many admissions are left in the current window.
func (l *Limiter) Remaining(identity, endpoint string) int {
	limit := l.Limit(endpoint)

	w := l.window(identity, endpoint)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.trim(time.Now().Add(-l.cfg.Window))

	remaining := limit - len(w.admissions)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// RetryAfter returns how long until the oldest admission leaves the
// window, i.e. when the next request could be admitted.
func (l *Limiter) RetryAfter(identity, endpoint string) time.Duration {
	w := l.window(identity, endpoint)

	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.admissions) == 0 {
		return 0
	}

	wait := time.Until(w.admissions[0].Add(l.cfg.Window))
	if wait < 0 {
		return 0
	}
	return wait
}

// Limit returns the current per-window limit for an endpoint:
// the adaptive limit if one was set, else the configured override,
// else the default.
func (l *Limiter) Limit(endpoint string) int {
	l.limitMu.Lock()
	defer l.limitMu.Unlock()

	if limit, ok := l.limits[endpoint]; ok {
		return limit
	}
	if limit, ok := l.cfg.Overrides[endpoint]; ok {
		return limit
	}
	return l.cfg.DefaultLimit
}

// Adjust scales the endpoint's base limit by factor, clamped to
// [MinLimit, MaxLimit]. A factor of 1.0 restores the base limit.
func (l *Limiter) Adjust(endpoint string, factor float64) {
	base := l.cfg.DefaultLimit
	if override, ok := l.cfg.Overrides[endpoint]; ok {
		base = override
	}

	limit := int(float64(base) * factor)
	if limit < l.cfg.MinLimit {
		limit = l.cfg.MinLimit
	}
	if limit > l.cfg.MaxLimit {
		limit = l.cfg.MaxLimit
	}

	l.limitMu.Lock()
	prev, had := l.limits[endpoint]
	l.limits[endpoint] = limit
	l.limitMu.Unlock()

	if !had || prev != limit {
		direction := "up"
		if limit < base {
			direction = "down"
		}
		rateLimitAdjustments.WithLabelValues(direction).Inc()
		l.logger.Info().
			Str("endpoint", endpoint).
			Int("limit", limit).
			Float64("factor", factor).
			Msg("Rate limit adjusted")
	}
}

// Endpoints returns all endpoints with active windows, for the
// adaptive supervisor.
func (l *Limiter) Endpoints() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[string]struct{})
	for key := range l.windows {
		seen[key.endpoint] = struct{}{}
	}

	endpoints := make([]string, 0, len(seen))
	for endpoint := range seen {
		endpoints = append(endpoints, endpoint)
	}
	return endpoints
}

// Close stops the housekeeping loop.
func (l *Limiter) Close() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	return nil
}

// window returns (creating if needed) the window for a key.
func (l *Limiter) window(identity, endpoint string) *window {
	key := windowKey{identity: identity, endpoint: endpoint}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		w = &window{}
		l.windows[key] = w
	}
	return w
}

// trim drops admissions older than cutoff. Caller holds the window
// mutex.
func (w *window) trim(cutoff time.Time) {
	idx := 0
	for idx < len(w.admissions) && w.admissions[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		w.admissions = append(w.admissions[:0], w.admissions[idx:]...)
	}
}

// housekeeping drops windows idle for longer than twice the window
// duration to bound memory.
func (l *Limiter) housekeeping() {
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep(time.Now())
		case <-l.stopCh:
			return
		}
	}
}

func (l *Limiter) sweep(now time.Time) {
	cutoff := now.Add(-2 * l.cfg.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, w := range l.windows {
		w.mu.Lock()
		idle := w.lastSeen.Before(cutoff)
		w.mu.Unlock()
		if idle {
			delete(l.windows, key)
		}
	}
}
