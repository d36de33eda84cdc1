// Package metrics maintains per-endpoint request counters and rolling
// performance windows for the proxy.
//
// Recording never blocks the request path: events are queued on a
// buffered channel and applied by a consumer goroutine; when the queue
// is full the event is logged and discarded.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/fairwaylabs/golf-proxy/pkg/ratelimit"
)

var droppedEvents = promauto.NewCounter(prometheus.CounterOpts{
	Name: "golf_metrics_dropped_events_total",
	Help: "Total metric events discarded because the queue was full",
})

const (
	// WindowDuration is the rolling window for response times and
	// error rates.
	WindowDuration = 5 * time.Minute

	eventQueueSize = 4096

	// Alert thresholds checked against the rolling window.
	alertErrorRate = 0.5
	alertLatency   = 2 * time.Second
	alertCooldown  = 5 * time.Minute
)

// Event is one completed request observation.
type Event struct {
	Endpoint    string
	Duration    time.Duration
	StatusCode  int
	CacheTier   string // "", "l1", "l2", "l3", "stale"
	Bytes       int64
	RateLimited bool
}

// sample is one windowed observation.
type sample struct {
	at       time.Time
	duration time.Duration
	isError  bool
	cacheHit bool
}

// endpointState accumulates totals and the rolling window for one
// endpoint.
type endpointState struct {
	requests         int64
	hitsByTier       map[string]int64
	misses           int64
	errorsByCode     map[int]int64
	bytesTransferred int64
	rateLimited      int64

	samples   []sample
	lastAlert time.Time
}

// EndpointSnapshot is the exported view of one endpoint's metrics.
type EndpointSnapshot struct {
	Requests         int64            `json:"requests"`
	HitsByTier       map[string]int64 `json:"hitsByTier"`
	Misses           int64            `json:"misses"`
	ErrorsByCode     map[int]int64    `json:"errorsByCode"`
	BytesTransferred int64            `json:"bytesTransferred"`
	RateLimited      int64            `json:"rateLimited"`

	WindowRequests    int           `json:"windowRequests"`
	WindowErrorRate   float64       `json:"windowErrorRate"`
	WindowAvgResponse time.Duration `json:"windowAvgResponseNs"`
	WindowHitRate     float64       `json:"windowHitRate"`
}

// Snapshot is the exported view of all endpoints.
type Snapshot struct {
	GeneratedAt time.Time                   `json:"generatedAt"`
	Endpoints   map[string]EndpointSnapshot `json:"endpoints"`
}

// Aggregator consumes request events and answers snapshot queries.
type Aggregator struct {
	logger zerolog.Logger

	events chan Event

	mu        sync.Mutex
	endpoints map[string]*endpointState

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewAggregator creates an aggregator and starts its consumer.
func NewAggregator(logger zerolog.Logger) *Aggregator {
	a := &Aggregator{
		logger:    logger,
		events:    make(chan Event, eventQueueSize),
		endpoints: make(map[string]*endpointState),
		stopCh:    make(chan struct{}),
	}

	go a.consume()

	return a
}

// Record queues an event without blocking. A full queue drops the
// event.
func (a *Aggregator) Record(ev Event) {
	select {
	case a.events <- ev:
	default:
		droppedEvents.Inc()
		a.logger.Debug().Str("endpoint", ev.Endpoint).Msg("Metric event dropped")
	}
}

// Close stops the consumer.
func (a *Aggregator) Close() error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	return nil
}

func (a *Aggregator) consume() {
	for {
		select {
		case ev := <-a.events:
			a.apply(ev)
		case <-a.stopCh:
			return
		}
	}
}

func (a *Aggregator) apply(ev Event) {
	now := time.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	state := a.state(ev.Endpoint)
	state.requests++
	state.bytesTransferred += ev.Bytes

	if ev.RateLimited {
		state.rateLimited++
	}

	isError := ev.StatusCode >= 400
	if isError {
		state.errorsByCode[ev.StatusCode]++
	}

	cacheHit := ev.CacheTier != ""
	if cacheHit {
		state.hitsByTier[ev.CacheTier]++
	} else if !ev.RateLimited && !isError {
		state.misses++
	}

	state.samples = append(state.samples, sample{
		at:       now,
		duration: ev.Duration,
		isError:  isError,
		cacheHit: cacheHit,
	})
	state.trim(now)

	a.checkAlerts(ev.Endpoint, state, now)
}

// state returns (creating if needed) the endpoint state. Caller holds
// the mutex.
func (a *Aggregator) state(endpoint string) *endpointState {
	state, ok := a.endpoints[endpoint]
	if !ok {
		state = &endpointState{
			hitsByTier:   make(map[string]int64),
			errorsByCode: make(map[int]int64),
		}
		a.endpoints[endpoint] = state
	}
	return state
}

// trim drops samples older than the rolling window.
func (s *endpointState) trim(now time.Time) {
	cutoff := now.Add(-WindowDuration)
	idx := 0
	for idx < len(s.samples) && s.samples[idx].at.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		s.samples = append(s.samples[:0], s.samples[idx:]...)
	}
}

// windowStats computes error rate, average response time, and cache
// hit rate over the rolling window.
func (s *endpointState) windowStats() (errorRate float64, avg time.Duration, hitRate float64, count int) {
	count = len(s.samples)
	if count == 0 {
		return 0, 0, 0, 0
	}

	var errs, hits int
	var total time.Duration
	for _, smp := range s.samples {
		if smp.isError {
			errs++
		}
		if smp.cacheHit {
			hits++
		}
		total += smp.duration
	}

	errorRate = float64(errs) / float64(count)
	avg = total / time.Duration(count)
	hitRate = float64(hits) / float64(count)
	return errorRate, avg, hitRate, count
}

// checkAlerts logs when an endpoint crosses alert thresholds, at most
// once per cooldown. Caller holds the mutex.
func (a *Aggregator) checkAlerts(endpoint string, state *endpointState, now time.Time) {
	if now.Sub(state.lastAlert) < alertCooldown {
		return
	}

	errorRate, avg, _, count := state.windowStats()
	if count < 10 {
		return
	}

	if errorRate >= alertErrorRate {
		state.lastAlert = now
		a.logger.Error().
			Str("endpoint", endpoint).
			Float64("error_rate", errorRate).
			Msg("Alert: endpoint error rate above threshold")
		return
	}

	if avg >= alertLatency {
		state.lastAlert = now
		a.logger.Warn().
			Str("endpoint", endpoint).
			Dur("avg_response_time", avg).
			Msg("Alert: endpoint response time above threshold")
	}
}

// Snapshot returns current totals and window stats for all endpoints.
func (a *Aggregator) Snapshot() Snapshot {
	now := time.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		GeneratedAt: now,
		Endpoints:   make(map[string]EndpointSnapshot, len(a.endpoints)),
	}

	for endpoint, state := range a.endpoints {
		state.trim(now)
		errorRate, avg, hitRate, count := state.windowStats()

		hits := make(map[string]int64, len(state.hitsByTier))
		for tier, n := range state.hitsByTier {
			hits[tier] = n
		}
		errs := make(map[int]int64, len(state.errorsByCode))
		for code, n := range state.errorsByCode {
			errs[code] = n
		}

		snap.Endpoints[endpoint] = EndpointSnapshot{
			Requests:          state.requests,
			HitsByTier:        hits,
			Misses:            state.misses,
			ErrorsByCode:      errs,
			BytesTransferred:  state.bytesTransferred,
			RateLimited:       state.rateLimited,
			WindowRequests:    count,
			WindowErrorRate:   errorRate,
			WindowAvgResponse: avg,
			WindowHitRate:     hitRate,
		}
	}

	return snap
}

// Health implements ratelimit.HealthSource for the adaptive
// supervisor.
func (a *Aggregator) Health(endpoint string) ratelimit.Health {
	now := time.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	state, ok := a.endpoints[endpoint]
	if !ok {
		return ratelimit.Health{}
	}

	state.trim(now)
	errorRate, avg, hitRate, _ := state.windowStats()
	return ratelimit.Health{
		ErrorRate:       errorRate,
		AvgResponseTime: avg,
		CacheHitRate:    hitRate,
	}
}

// HitsPerHour extrapolates the endpoint's cache hit frequency from the
// rolling window, for adaptive TTL selection.
func (a *Aggregator) HitsPerHour(endpoint string) float64 {
	now := time.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	state, ok := a.endpoints[endpoint]
	if !ok {
		return 0
	}

	state.trim(now)
	var hits int
	for _, smp := range state.samples {
		if smp.cacheHit {
			hits++
		}
	}

	return float64(hits) * float64(time.Hour) / float64(WindowDuration)
}
