// Package upstream provides the HTTP client for the golf data feed
// with retry, exponential backoff, and error classification.
package upstream

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for upstream operations.
var (
	feedRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "golf_upstream_requests_total",
		Help: "Total upstream feed requests by path and status",
	}, []string{"path", "status"})

	feedRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "golf_upstream_request_duration_seconds",
		Help:    "Upstream request duration in seconds by path",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"path"})

	feedErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "golf_upstream_errors_total",
		Help: "Total upstream errors by class",
	}, []string{"class"})

	feedRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "golf_upstream_retries_total",
		Help: "Total retry attempts by error class",
	}, []string{"error_class"})

	feedRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "golf_upstream_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	feedRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "golf_upstream_retry_exhausted_total",
		Help: "Total times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// Config holds upstream client configuration.
type Config struct {
	// BaseURL is the vendor feed base URL.
	BaseURL string

	// APIKey is appended as the key query parameter. Never logged.
	APIKey string

	// Timeout is the per-attempt request timeout.
	Timeout time.Duration

	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// BaseDelay is the base delay for exponential backoff.
	BaseDelay time.Duration
}

// Result is a completed upstream fetch.
type Result struct {
	StatusCode  int
	Body        []byte
	ContentType string
	Size        int64
}

// Client fetches from the golf data feed with retry and backoff.
type Client struct {
	httpClient *http.Client
	cfg        Config
	logger     zerolog.Logger
}

// New creates an upstream client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 1 * time.Second
	}

	return &Client{
		httpClient: &http.Client{},
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Fetch performs a GET against the feed path with the given
// parameters, retrying retryable failures with exponential backoff and
// jitter. A non-retryable 4xx is returned as a Result, not an error,
// so callers can surface the status verbatim.
func (c *Client) Fetch(ctx context.Context, path string, params map[string]string) (*Result, error) {
	target, err := c.buildURL(path, params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		feedRequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			class := ErrorClassNetwork
			if fe, ok := lastErr.(*FeedError); ok {
				class = fe.Class
			}

			// delay = base * 2^(attempt-1) + uniform_jitter(0, base)
			delay := c.cfg.BaseDelay * (1 << (attempt - 1))
			jitter := time.Duration(rand.Int63n(int64(c.cfg.BaseDelay)))
			backoff := delay + jitter

			feedRetriesTotal.WithLabelValues(string(class)).Inc()
			feedRetryBackoffSeconds.WithLabelValues(string(class)).Observe(backoff.Seconds())

			c.logger.Debug().
				Str("path", path).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Retrying upstream fetch after backoff")

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
			case <-time.After(backoff):
			}
		}

		result, err := c.attempt(ctx, path, target)
		if err == nil {
			if attempt > 0 {
				c.logger.Info().
					Str("path", path).
					Int("attempt", attempt+1).
					Msg("Upstream fetch succeeded after retry")
			}
			return result, nil
		}

		lastErr = err

		class := ErrorClassNetwork
		if fe, ok := err.(*FeedError); ok {
			class = fe.Class
		}
		feedErrorsTotal.WithLabelValues(string(class)).Inc()

		if !shouldRetry(class) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		}
	}

	class := ErrorClassNetwork
	if fe, ok := lastErr.(*FeedError); ok {
		class = fe.Class
	}
	feedRetryExhaustedTotal.WithLabelValues(string(class)).Inc()

	c.logger.Warn().
		Str("path", path).
		Int("max_retries", c.cfg.MaxRetries).
		Str("error_class", string(class)).
		Msg("Upstream retry attempts exhausted")

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, c.cfg.MaxRetries+1, lastErr)
}

// attempt performs one fetch attempt with the per-attempt timeout.
func (c *Client) attempt(ctx context.Context, path, target string) (*Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FeedError{
			Class:   classify(0, err),
			Message: "request failed",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FeedError{
			Class:   ErrorClassNetwork,
			Message: "read response body",
			Err:     err,
		}
	}

	feedRequestsTotal.WithLabelValues(path, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		class := classify(resp.StatusCode, nil)
		if shouldRetry(class) {
			return nil, &FeedError{
				StatusCode: resp.StatusCode,
				Class:      class,
				Message:    resp.Status,
			}
		}
		// Non-retryable 4xx: surfaced verbatim by the pipeline.
		return &Result{
			StatusCode:  resp.StatusCode,
			Body:        body,
			ContentType: resp.Header.Get("Content-Type"),
			Size:        int64(len(body)),
		}, nil
	}

	return &Result{
		StatusCode:  resp.StatusCode,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		Size:        int64(len(body)),
	}, nil
}

// buildURL joins base and path, appending sorted parameters and the
// API key. The key never appears in logs or cache keys.
func (c *Client) buildURL(path string, params map[string]string) (string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	u = u.JoinPath(path)

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	q := url.Values{}
	for _, name := range names {
		q.Set(name, params[name])
	}
	if c.cfg.APIKey != "" {
		q.Set("key", c.cfg.APIKey)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
