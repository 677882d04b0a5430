package remote

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/johndauphine/onboard-sync/internal/onboarding"
)

// prepare normalises a write payload: dotted keys become nested objects,
// ServerTimestamp sentinels become ts, and updatedAt is stamped. The result is
// a JSON-compatible copy that shares nothing with data.
func prepare(data map[string]any, ts time.Time, expandPaths bool) (map[string]any, error) {
	out := map[string]any{}
	for k, v := range data {
		v, err := normalise(v, ts)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		if expandPaths && strings.Contains(k, ".") {
			setPath(out, strings.Split(k, "."), v)
			continue
		}
		if obj, ok := v.(map[string]any); ok {
			if existing, ok := out[k].(map[string]any); ok {
				onboarding.MergeObjects(existing, obj)
				continue
			}
		}
		out[k] = v
	}
	out[UpdatedAtField] = ts.UTC().Format(time.RFC3339Nano)
	return out, nil
}

func setPath(dst map[string]any, path []string, v any) {
	for _, p := range path[:len(path)-1] {
		next, ok := dst[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			dst[p] = next
		}
		dst = next
	}
	dst[path[len(path)-1]] = v
}

// normalise resolves sentinels and round-trips other values through JSON so
// stores only ever hold plain maps, slices, strings, numbers and bools.
func normalise(v any, ts time.Time) (any, error) {
	switch t := v.(type) {
	case serverTimestamp:
		return ts.UTC().Format(time.RFC3339Nano), nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			n, err := normalise(inner, ts)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			n, err := normalise(inner, ts)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case nil, string, bool, float64:
		return t, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func copyFields(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	raw, err := json.Marshal(src)
	if err != nil {
		return nil
	}
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return out
}
