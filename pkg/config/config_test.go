package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Environment != "development" {
		t.Errorf("Environment = %s, want development", cfg.Environment)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %s, want 8080", cfg.Port)
	}
	if cfg.Session.Timeout != 30*time.Minute {
		t.Errorf("Session.Timeout = %v, want 30m", cfg.Session.Timeout)
	}
	if cfg.Session.MaxAge != 168*time.Hour {
		t.Errorf("Session.MaxAge = %v, want 168h", cfg.Session.MaxAge)
	}
	if cfg.Upstream.BaseURL != "https://feeds.datagolf.com" {
		t.Errorf("Upstream.BaseURL = %s", cfg.Upstream.BaseURL)
	}
	if cfg.Rate.DefaultLimit != 100 {
		t.Errorf("Rate.DefaultLimit = %d, want 100", cfg.Rate.DefaultLimit)
	}
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("Breaker.FailureThreshold = %d, want 5", cfg.Breaker.FailureThreshold)
	}

	// Development falls back to an insecure master key so the proxy
	// boots without secrets.
	if cfg.Session.MasterKey == "" {
		t.Error("Development master key fallback missing")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("CACHE_L1_TTL", "90s")
	t.Setenv("RATE_LIMIT_DEFAULT", "42")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "9999" {
		t.Errorf("Port = %s, want 9999", cfg.Port)
	}
	if cfg.Cache.L1TTL != 90*time.Second {
		t.Errorf("Cache.L1TTL = %v, want 90s", cfg.Cache.L1TTL)
	}
	if cfg.Rate.DefaultLimit != 42 {
		t.Errorf("Rate.DefaultLimit = %d, want 42", cfg.Rate.DefaultLimit)
	}
}

func TestValidateProductionRequiresSecrets(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")

	if _, err := Load(); err == nil {
		t.Error("Load accepted production without SESSION_MASTER_KEY")
	}

	t.Setenv("SESSION_MASTER_KEY", "prod-key")
	if _, err := Load(); err == nil {
		t.Error("Load accepted production without UPSTREAM_API_KEY")
	}

	t.Setenv("UPSTREAM_API_KEY", "feed-key")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed with all secrets set: %v", err)
	}
	if !cfg.IsProduction() {
		t.Error("IsProduction = false, want true")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"negative retries", "UPSTREAM_MAX_RETRIES", "-1"},
		{"bad l3 backend", "CACHE_L3_BACKEND", "memcached"},
		{"zero rate limit", "RATE_LIMIT_DEFAULT", "0"},
		{"zero failure threshold", "BREAKER_FAILURE_THRESHOLD", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load accepted %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestTiers(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	tiers := cfg.Cache.Tiers()
	wantPolicies := [3]string{"lru", "fifo", "lfu"}
	for i, tier := range tiers {
		if tier.Policy != wantPolicies[i] {
			t.Errorf("Tier %d policy = %s, want %s", i+1, tier.Policy, wantPolicies[i])
		}
		if !tier.Enabled {
			t.Errorf("Tier %d disabled by default", i+1)
		}
	}
	if tiers[0].DefaultTTL >= tiers[1].DefaultTTL || tiers[1].DefaultTTL >= tiers[2].DefaultTTL {
		t.Error("Tier TTLs not increasing with depth")
	}
}
