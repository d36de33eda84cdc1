// Package config loads proxy configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the top-level proxy configuration.
type Config struct {
	// Environment is "development" or "production".
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// Port is the HTTP listen port.
	Port string `env:"PORT" envDefault:"8080"`

	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// LogPretty enables human-readable console logging.
	LogPretty bool `env:"LOG_PRETTY" envDefault:"false"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	Session  SessionConfig
	Upstream UpstreamConfig
	Cache    CacheConfig
	Rate     RateConfig
	Breaker  BreakerConfig
}

// SessionConfig configures the encrypted session envelope.
type SessionConfig struct {
	// MasterKey is the key material for session encryption.
	// Required outside development.
	MasterKey string `env:"SESSION_MASTER_KEY"`

	// Timeout is the idle session timeout.
	Timeout time.Duration `env:"SESSION_TIMEOUT" envDefault:"30m"`

	// MaxAge is the absolute session lifetime regardless of activity.
	MaxAge time.Duration `env:"SESSION_MAX_AGE" envDefault:"168h"`
}

// UpstreamConfig configures the golf data feed client.
type UpstreamConfig struct {
	// BaseURL is the vendor feed base URL.
	BaseURL string `env:"UPSTREAM_BASE_URL" envDefault:"https://feeds.datagolf.com"`

	// APIKey is appended to every upstream request as the key query
	// parameter. Required outside development. Never logged and never
	// part of cache keys.
	APIKey string `env:"UPSTREAM_API_KEY"`

	// Timeout is the per-attempt request timeout.
	Timeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"30s"`

	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int `env:"UPSTREAM_MAX_RETRIES" envDefault:"3"`

	// BaseDelay is the base delay for exponential backoff.
	BaseDelay time.Duration `env:"UPSTREAM_BASE_DELAY" envDefault:"1s"`
}

// TierConfig configures one cache tier.
type TierConfig struct {
	Enabled    bool
	MaxSize    int
	DefaultTTL time.Duration
	Policy     string
}

// CacheConfig configures the three cache tiers.
type CacheConfig struct {
	L1Enabled bool          `env:"CACHE_L1_ENABLED" envDefault:"true"`
	L1MaxSize int           `env:"CACHE_L1_MAX_SIZE" envDefault:"1000"`
	L1TTL     time.Duration `env:"CACHE_L1_TTL" envDefault:"5m"`

	L2Enabled bool          `env:"CACHE_L2_ENABLED" envDefault:"true"`
	L2MaxSize int           `env:"CACHE_L2_MAX_SIZE" envDefault:"5000"`
	L2TTL     time.Duration `env:"CACHE_L2_TTL" envDefault:"30m"`

	L3Enabled bool          `env:"CACHE_L3_ENABLED" envDefault:"true"`
	L3MaxSize int           `env:"CACHE_L3_MAX_SIZE" envDefault:"20000"`
	L3TTL     time.Duration `env:"CACHE_L3_TTL" envDefault:"24h"`

	// L3Backend selects the tier 3 store: "memory" or "redis".
	L3Backend string `env:"CACHE_L3_BACKEND" envDefault:"memory"`

	// RedisAddr is the Redis address for the redis L3 backend.
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`

	// MinTTL and MaxTTL clamp the adaptive TTL computed per response.
	MinTTL time.Duration `env:"CACHE_MIN_TTL" envDefault:"30s"`
	MaxTTL time.Duration `env:"CACHE_MAX_TTL" envDefault:"24h"`
}

// RateConfig configures the sliding-window rate limiter.
type RateConfig struct {
	// DefaultLimit is the admission limit per window for endpoints
	// without an override.
	DefaultLimit int `env:"RATE_LIMIT_DEFAULT" envDefault:"100"`

	// Window is the sliding window duration.
	Window time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`

	// Overrides maps endpoint name to a per-window limit, e.g.
	// RATE_LIMIT_OVERRIDES="scoring:300,betting-odds:200".
	Overrides map[string]int `env:"RATE_LIMIT_OVERRIDES" envSeparator:","`

	// MinLimit and MaxLimit clamp adaptive limit adjustment.
	MinLimit int `env:"RATE_LIMIT_MIN" envDefault:"10"`
	MaxLimit int `env:"RATE_LIMIT_MAX" envDefault:"1000"`

	// AdaptiveEnabled turns on the adaptive limit supervisor.
	AdaptiveEnabled bool `env:"RATE_LIMIT_ADAPTIVE" envDefault:"true"`

	// AdaptiveInterval is how often the supervisor re-scores endpoints.
	AdaptiveInterval time.Duration `env:"RATE_LIMIT_ADAPTIVE_INTERVAL" envDefault:"30s"`
}

// BreakerConfig configures the per-endpoint circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	OpenTimeout      time.Duration `env:"BREAKER_OPEN_TIMEOUT" envDefault:"60s"`
	MaxTrials        int           `env:"BREAKER_MAX_TRIALS" envDefault:"5"`
	ResetThreshold   int           `env:"BREAKER_RESET_THRESHOLD" envDefault:"3"`
}

// Load parses configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.Session.MasterKey == "" {
			return fmt.Errorf("SESSION_MASTER_KEY is required in production")
		}
		if c.Upstream.APIKey == "" {
			return fmt.Errorf("UPSTREAM_API_KEY is required in production")
		}
	}

	if c.Session.MasterKey == "" {
		// Development fallback so the proxy boots without secrets.
		c.Session.MasterKey = "dev-insecure-master-key"
	}

	if c.Upstream.MaxRetries < 0 {
		return fmt.Errorf("UPSTREAM_MAX_RETRIES must be >= 0 (got %d)", c.Upstream.MaxRetries)
	}

	switch c.Cache.L3Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("CACHE_L3_BACKEND must be memory or redis (got %q)", c.Cache.L3Backend)
	}

	if c.Rate.DefaultLimit <= 0 {
		return fmt.Errorf("RATE_LIMIT_DEFAULT must be > 0 (got %d)", c.Rate.DefaultLimit)
	}

	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be > 0 (got %d)", c.Breaker.FailureThreshold)
	}

	return nil
}

// IsProduction reports whether the proxy runs with production hardening.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Tiers returns the per-tier cache configuration in probe order.
func (c *CacheConfig) Tiers() [3]TierConfig {
	return [3]TierConfig{
		{Enabled: c.L1Enabled, MaxSize: c.L1MaxSize, DefaultTTL: c.L1TTL, Policy: "lru"},
		{Enabled: c.L2Enabled, MaxSize: c.L2MaxSize, DefaultTTL: c.L2TTL, Policy: "fifo"},
		{Enabled: c.L3Enabled, MaxSize: c.L3MaxSize, DefaultTTL: c.L3TTL, Policy: "lfu"},
	}
}
