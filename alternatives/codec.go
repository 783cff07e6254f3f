package alternatives

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"slices"

	"github.com/getpup/configsync"
)

// Internal options stripped by Normalize.
const (
	idKey        = "_id"
	paramTypeKey = "param_type"
)

// Normalize returns a copy of cfg without internal fields and with a param_type
// given as a reflect.Type rendered to its name.
func Normalize(cfg configsync.Config) configsync.Config {
	out := cfg.Clone()
	delete(out, idKey)
	if t, ok := out[paramTypeKey].(reflect.Type); ok && t != nil {
		if name := t.Name(); name != "" {
			out[paramTypeKey] = name
		} else {
			out[paramTypeKey] = t.String()
		}
	}
	return out
}

// EncodeProbability returns a copy of cfg with the probability mapping turned
// into a list of [key, weight] pairs sorted by key.
func EncodeProbability(cfg configsync.Config) (configsync.Config, error) {
	raw, ok := cfg[configsync.ProbabilityKey]
	if !ok {
		return cfg.Clone(), nil
	}

	weights, err := probabilityMap(raw)
	if err != nil {
		return nil, err
	}

	keys := slices.Sorted(maps.Keys(weights))
	pairs := make([]any, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, []any{k, weights[k]})
	}

	out := cfg.Clone()
	out[configsync.ProbabilityKey] = pairs
	return out, nil
}

// DecodeProbability returns a copy of cfg with the probability pair list turned
// back into a map[string]float64. A mapping is accepted as is.
func DecodeProbability(cfg configsync.Config) (configsync.Config, error) {
	raw, ok := cfg[configsync.ProbabilityKey]
	if !ok {
		return cfg.Clone(), nil
	}

	weights, err := probabilityMap(raw)
	if err != nil {
		return nil, err
	}

	out := cfg.Clone()
	out[configsync.ProbabilityKey] = weights
	return out, nil
}

func probabilityMap(raw any) (map[string]float64, error) {
	out := make(map[string]float64)

	switch v := raw.(type) {
	case map[string]float64:
		maps.Copy(out, v)
	case map[string]int:
		for k, w := range v {
			out[k] = float64(w)
		}
	case map[string]any:
		for k, w := range v {
			f, ok := toFloat(w)
			if !ok {
				return nil, fmt.Errorf("%w: probability weight %q is %T", configsync.ErrMalformedRecord, k, w)
			}
			out[k] = f
		}
	case []any:
		for i, item := range v {
			k, w, err := pair(item)
			if err != nil {
				return nil, fmt.Errorf("probability pair %d: %w", i, err)
			}
			out[k] = w
		}
	case [][]any:
		for i, item := range v {
			k, w, err := pair(item)
			if err != nil {
				return nil, fmt.Errorf("probability pair %d: %w", i, err)
			}
			out[k] = w
		}
	default:
		return nil, fmt.Errorf("%w: probability is %T", configsync.ErrMalformedRecord, raw)
	}

	return out, nil
}

func pair(item any) (string, float64, error) {
	p, ok := item.([]any)
	if !ok || len(p) != 2 {
		return "", 0, fmt.Errorf("%w: expected [key, weight], got %v", configsync.ErrMalformedRecord, item)
	}
	k, ok := p[0].(string)
	if !ok {
		return "", 0, fmt.Errorf("%w: key is %T", configsync.ErrMalformedRecord, p[0])
	}
	w, ok := toFloat(p[1])
	if !ok {
		return "", 0, fmt.Errorf("%w: weight of %q is %T", configsync.ErrMalformedRecord, k, p[1])
	}
	return k, w, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
