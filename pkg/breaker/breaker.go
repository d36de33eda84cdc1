// Package breaker implements the per-endpoint circuit breaker guarding
// the upstream golf data feed.
package breaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "golf_breaker_transitions_total",
	Help: "Total circuit breaker state transitions by endpoint and target state",
}, []string{"endpoint", "to"})

// State represents a circuit state.
type State int

const (
	// StateClosed allows all requests.
	StateClosed State = iota
	// StateOpen rejects all requests until the open timeout elapses.
	StateOpen
	// StateHalfOpen admits a bounded number of trial requests.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker thresholds.
type Config struct {
	// FailureThreshold is the consecutive failure count that opens the
	// circuit.
	FailureThreshold int

	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration

	// MaxTrials bounds concurrent trial requests in half-open.
	MaxTrials int

	// ResetThreshold is the consecutive trial success count that
	// closes the circuit.
	ResetThreshold int
}

// DefaultConfig returns safe defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		OpenTimeout:      60 * time.Second,
		MaxTrials:        5,
		ResetThreshold:   3,
	}
}

// circuit is the state machine for one endpoint.
type circuit struct {
	mu sync.Mutex

	state             State
	openedAt          time.Time
	failures          int
	halfOpenSuccesses int
	inFlightTrials    int
}

// Registry holds one circuit per endpoint.
type Registry struct {
	cfg    Config
	logger zerolog.Logger

	mu       sync.Mutex
	circuits map[string]*circuit
}

// NewRegistry creates a breaker registry.
func NewRegistry(cfg Config, logger zerolog.Logger) *Registry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 60 * time.Second
	}
	if cfg.MaxTrials <= 0 {
		cfg.MaxTrials = 5
	}
	if cfg.ResetThreshold <= 0 {
		cfg.ResetThreshold = 3
	}

	return &Registry{
		cfg:      cfg,
		logger:   logger,
		circuits: make(map[string]*circuit),
	}
}

// Admit reports whether a request for the endpoint may dispatch
// upstream. In half-open it reserves one of the bounded trial slots;
// the caller must follow up with Success or Failure.
func (r *Registry) Admit(endpoint string) bool {
	c := r.circuit(endpoint)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(c.openedAt) >= r.cfg.OpenTimeout {
			r.transition(endpoint, c, StateHalfOpen)
			c.halfOpenSuccesses = 0
			c.inFlightTrials = 1
			return true
		}
		return false

	case StateHalfOpen:
		if c.inFlightTrials >= r.cfg.MaxTrials {
			return false
		}
		c.inFlightTrials++
		return true

	default:
		return false
	}
}

// Success records a successful upstream call for the endpoint.
func (r *Registry) Success(endpoint string) {
	c := r.circuit(endpoint)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		c.failures = 0

	case StateHalfOpen:
		if c.inFlightTrials > 0 {
			c.inFlightTrials--
		}
		c.halfOpenSuccesses++
		if c.halfOpenSuccesses >= r.cfg.ResetThreshold {
			r.transition(endpoint, c, StateClosed)
			c.failures = 0
			c.halfOpenSuccesses = 0
			c.inFlightTrials = 0
		}
	}
}

// Failure records a failed upstream call for the endpoint.
func (r *Registry) Failure(endpoint string) {
	c := r.circuit(endpoint)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		c.failures++
		if c.failures >= r.cfg.FailureThreshold {
			r.transition(endpoint, c, StateOpen)
			c.openedAt = time.Now()
		}

	case StateHalfOpen:
		// Any trial failure reopens the circuit.
		r.transition(endpoint, c, StateOpen)
		c.openedAt = time.Now()
		c.halfOpenSuccesses = 0
		c.inFlightTrials = 0
	}
}

// State returns the endpoint's current state.
func (r *Registry) State(endpoint string) State {
	c := r.circuit(endpoint)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// circuit returns (creating if needed) the circuit for an endpoint.
func (r *Registry) circuit(endpoint string) *circuit {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.circuits[endpoint]
	if !ok {
		c = &circuit{state: StateClosed}
		r.circuits[endpoint] = c
	}
	return c
}

// transition records a state change. Caller holds the circuit mutex.
func (r *Registry) transition(endpoint string, c *circuit, to State) {
	from := c.state
	c.state = to

	breakerTransitions.WithLabelValues(endpoint, to.String()).Inc()
	r.logger.Warn().
		Str("endpoint", endpoint).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Circuit breaker state change")
}
