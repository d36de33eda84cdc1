// Command golf-proxy runs the caching golf data feed proxy.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fairwaylabs/golf-proxy/pkg/breaker"
	"github.com/fairwaylabs/golf-proxy/pkg/cache"
	"github.com/fairwaylabs/golf-proxy/pkg/config"
	"github.com/fairwaylabs/golf-proxy/pkg/logging"
	"github.com/fairwaylabs/golf-proxy/pkg/metrics"
	"github.com/fairwaylabs/golf-proxy/pkg/proxy"
	"github.com/fairwaylabs/golf-proxy/pkg/ratelimit"
	"github.com/fairwaylabs/golf-proxy/pkg/session"
	"github.com/fairwaylabs/golf-proxy/pkg/transform"
	"github.com/fairwaylabs/golf-proxy/pkg/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Setup(logging.Config{Level: "info"})
		bootLogger := logging.NewLogger("main")
		bootLogger.Fatal().Err(err).Msg("Configuration load failed")
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
	})
	logger := logging.NewLogger("main")

	tiered, closers, err := buildCache(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Cache setup failed")
	}

	sessions, err := session.NewEnvelope(cfg.Session.MasterKey, cfg.Session.Timeout, cfg.Session.MaxAge)
	if err != nil {
		logger.Fatal().Err(err).Msg("Session envelope setup failed")
	}

	feed, err := upstream.New(upstream.Config{
		BaseURL:    cfg.Upstream.BaseURL,
		APIKey:     cfg.Upstream.APIKey,
		Timeout:    cfg.Upstream.Timeout,
		MaxRetries: cfg.Upstream.MaxRetries,
		BaseDelay:  cfg.Upstream.BaseDelay,
	}, logging.NewLogger("upstream"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Upstream client setup failed")
	}

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		DefaultLimit: cfg.Rate.DefaultLimit,
		Window:       cfg.Rate.Window,
		Overrides:    cfg.Rate.Overrides,
		MinLimit:     cfg.Rate.MinLimit,
		MaxLimit:     cfg.Rate.MaxLimit,
	}, logging.NewLogger("ratelimit"))
	defer limiter.Close()

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		OpenTimeout:      cfg.Breaker.OpenTimeout,
		MaxTrials:        cfg.Breaker.MaxTrials,
		ResetThreshold:   cfg.Breaker.ResetThreshold,
	}, logging.NewLogger("breaker"))

	stats := metrics.NewAggregator(logging.NewLogger("metrics"))
	defer stats.Close()

	if cfg.Rate.AdaptiveEnabled {
		supervisor := ratelimit.NewSupervisor(limiter, stats, cfg.Rate.AdaptiveInterval, logging.NewLogger("ratelimit"))
		supervisor.Start()
		defer supervisor.Close()
	}

	pipeline := proxy.NewPipeline(
		proxy.Config{
			MinTTL:     cfg.Cache.MinTTL,
			MaxTTL:     cfg.Cache.MaxTTL,
			Production: cfg.IsProduction(),
		},
		tiered,
		limiter,
		breakers,
		feed,
		transform.NewRegistry(),
		sessions,
		stats,
		logging.NewLogger("pipeline"),
	)

	handler := proxy.NewHandler(pipeline, cfg.IsProduction(), logging.NewLogger("http"))
	mux := handler.Routes()
	mux.Handle("GET /metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("environment", cfg.Environment).
			Msg("Golf proxy listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Shutdown incomplete")
	}

	for _, closeTier := range closers {
		closeTier()
	}
	logger.Info().Msg("Stopped")
}

// buildCache constructs the enabled cache tiers in probe order. The L3
// tier uses Redis when configured; its connection is verified at boot.
func buildCache(cfg *config.Config) (*cache.Tiered, []func(), error) {
	var (
		stores  []cache.Store
		closers []func()
	)

	names := [3]string{"l1", "l2", "l3"}
	for i, tier := range cfg.Cache.Tiers() {
		if !tier.Enabled {
			continue
		}

		policy, err := cache.ParsePolicy(tier.Policy)
		if err != nil {
			return nil, nil, err
		}

		if names[i] == "l3" && cfg.Cache.L3Backend == "redis" {
			client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
			if err := client.Ping(context.Background()).Err(); err != nil {
				return nil, nil, err
			}
			stores = append(stores, cache.NewRedisTier(names[i], policy, tier.MaxSize, tier.DefaultTTL, client))
			closers = append(closers, func() { client.Close() })
			continue
		}

		memTier := cache.NewTier(names[i], policy, tier.MaxSize, tier.DefaultTTL)
		stores = append(stores, memTier)
		closers = append(closers, func() { memTier.Close() })
	}

	tiered, err := cache.NewTiered(stores, logging.NewLogger("cache"))
	if err != nil {
		return nil, nil, err
	}
	return tiered, closers, nil
}
