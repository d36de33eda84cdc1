package ratelimit

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Health summarizes recent request performance for one endpoint.
type Health struct {
	// ErrorRate is the fraction of recent requests that errored (0..1).
	ErrorRate float64

	// AvgResponseTime is the rolling average response time.
	AvgResponseTime time.Duration

	// CacheHitRate is the fraction of recent requests served from
	// cache (0..1).
	CacheHitRate float64
}

// HealthSource provides per-endpoint health for adaptive adjustment.
// The metrics aggregator implements it.
type HealthSource interface {
	Health(endpoint string) Health
}

// Supervisor periodically scores each active endpoint and scales its
// rate limit by a factor derived from the score.
//
// Factors: badly degraded 0.5, degraded 0.75, healthy 1.0,
// performing well 1.25. The limiter clamps the result.
type Supervisor struct {
	limiter  *Limiter
	source   HealthSource
	interval time.Duration
	logger   zerolog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSupervisor creates an adaptive limit supervisor.
func NewSupervisor(limiter *Limiter, source HealthSource, interval time.Duration, logger zerolog.Logger) *Supervisor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Supervisor{
		limiter:  limiter,
		source:   source,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the adjustment loop until Close.
func (s *Supervisor) Start() {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.adjustAll()
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Close stops the adjustment loop.
func (s *Supervisor) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return nil
}

func (s *Supervisor) adjustAll() {
	for _, endpoint := range s.limiter.Endpoints() {
		health := s.source.Health(endpoint)
		factor := Factor(Score(health))
		s.limiter.Adjust(endpoint, factor)
	}
}

// Score computes a performance score in [0, 1] from endpoint health.
// Error rate dominates; latency and cache hit rate refine it.
func Score(h Health) float64 {
	latencyScore := 1.0 - h.AvgResponseTime.Seconds()/2.0
	if latencyScore < 0 {
		latencyScore = 0
	}
	if latencyScore > 1 {
		latencyScore = 1
	}

	score := (1.0-h.ErrorRate)*0.5 + latencyScore*0.3 + h.CacheHitRate*0.2
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Factor maps a performance score to a limit scaling factor.
func Factor(score float64) float64 {
	switch {
	case score < 0.4:
		return 0.5
	case score < 0.6:
		return 0.75
	case score < 0.85:
		return 1.0
	default:
		return 1.25
	}
}
