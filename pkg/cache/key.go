package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// sensitiveParams are parameter names excluded from cache key
// derivation so credentials never influence or leak into keys.
// Comparison is case-insensitive on these names only; all other
// parameter names are compared case-sensitively.
var sensitiveParams = map[string]struct{}{
	"key":          {},
	"api_key":      {},
	"apikey":       {},
	"token":        {},
	"access_token": {},
	"secret":       {},
}

// Key derives the deterministic cache key for an endpoint and its
// parameters. Parameters are stably sorted by name before hashing, so
// identical logical requests hash identically regardless of input
// order. The endpoint survives as a literal prefix so prefix patterns
// like "^golf:tournaments:" work for invalidation.
//
// Format: golf:<endpoint>:<sha256 hex of canonical form>
func Key(endpoint string, params map[string]string) string {
	names := make([]string, 0, len(params))
	for name := range params {
		if _, sensitive := sensitiveParams[strings.ToLower(name)]; sensitive {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(endpoint)
	for _, name := range names {
		b.WriteByte('\x00')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(params[name])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return "golf:" + endpoint + ":" + hex.EncodeToString(sum[:])
}
