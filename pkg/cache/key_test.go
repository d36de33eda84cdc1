package cache

import (
	"strings"
	"testing"
)

func TestKeyDeterministic(t *testing.T) {
	a := Key("tournaments", map[string]string{"tour": "pga", "year": "2026"})
	b := Key("tournaments", map[string]string{"year": "2026", "tour": "pga"})

	if a != b {
		t.Errorf("Key not order-independent: %s != %s", a, b)
	}
}

func TestKeyEndpointPrefix(t *testing.T) {
	key := Key("tournaments", map[string]string{"tour": "pga"})

	if !strings.HasPrefix(key, "golf:tournaments:") {
		t.Errorf("Key = %s, want golf:tournaments: prefix", key)
	}
}

func TestKeyIgnoresSensitiveParams(t *testing.T) {
	base := Key("rankings", map[string]string{"tour": "pga"})

	tests := []struct {
		name   string
		params map[string]string
	}{
		{"key", map[string]string{"tour": "pga", "key": "secret-1"}},
		{"api_key", map[string]string{"tour": "pga", "api_key": "secret-2"}},
		{"uppercase token", map[string]string{"tour": "pga", "TOKEN": "secret-3"}},
		{"access_token", map[string]string{"tour": "pga", "access_token": "secret-4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Key("rankings", tt.params); got != base {
				t.Errorf("Key with %s param = %s, want %s", tt.name, got, base)
			}
		})
	}
}

func TestKeyDistinguishesValues(t *testing.T) {
	a := Key("rankings", map[string]string{"tour": "pga"})
	b := Key("rankings", map[string]string{"tour": "euro"})
	c := Key("scoring", map[string]string{"tour": "pga"})

	if a == b {
		t.Error("Different parameter values produced the same key")
	}
	if a == c {
		t.Error("Different endpoints produced the same key")
	}
}
