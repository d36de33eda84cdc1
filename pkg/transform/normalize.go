package transform

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// timeNow is swapped in tests to make transformer output reproducible.
var timeNow = time.Now

// listMetadata is the wrapper metadata attached to normalized lists.
type listMetadata struct {
	Count         int    `json:"count"`
	TransformedAt string `json:"transformedAt"`
}

// listEnvelope wraps normalized list results.
type listEnvelope struct {
	Items    any          `json:"items"`
	Metadata listMetadata `json:"metadata"`
}

// listTransformer returns a Func that normalizes the vendor payload
// and wraps its list under listField as {items, metadata}. When the
// payload is a bare array it is wrapped directly; when listField is
// absent the whole normalized object is returned unwrapped.
func listTransformer(listField string) Func {
	return func(raw []byte) ([]byte, error) {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, fmt.Errorf("decode vendor payload: %w", err)
		}

		normalized := normalizeValue(decoded)

		switch v := normalized.(type) {
		case []any:
			return marshalList(v)
		case map[string]any:
			if items, ok := v[snakeToCamel(listField)].([]any); ok {
				return marshalList(items)
			}
			return json.Marshal(v)
		default:
			return json.Marshal(normalized)
		}
	}
}

func marshalList(items []any) ([]byte, error) {
	return json.Marshal(listEnvelope{
		Items: items,
		Metadata: listMetadata{
			Count:         len(items),
			TransformedAt: timeNow().UTC().Format(time.RFC3339),
		},
	})
}

// normalizeValue recursively renames snake_case keys to camelCase.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for key, inner := range val {
			out[snakeToCamel(key)] = normalizeValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = normalizeValue(inner)
		}
		return out
	default:
		return v
	}
}

// snakeToCamel converts snake_case to camelCase. Keys without
// underscores pass through unchanged.
func snakeToCamel(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}

	parts := strings.Split(s, "_")
	var b strings.Builder
	wroteFirst := false
	for _, part := range parts {
		if part == "" {
			continue
		}
		if !wroteFirst {
			b.WriteString(part)
			wroteFirst = true
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	if !wroteFirst {
		return s
	}
	return b.String()
}
