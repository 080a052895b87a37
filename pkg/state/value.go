package state

import (
	"encoding/json"
	"fmt"
)

// Normalize converts a value into its JSON shape (map[string]any, []any,
// float64, string, bool, nil). Every value Reduce stores is normalized, so
// an in-memory checkpoint and a persisted one are indistinguishable.
func Normalize(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value is not serializable: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("value is not serializable: %w", err)
	}
	return out, nil
}

// Copy deep-copies a normalized value.
func Copy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Copy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Copy(e)
		}
		return out
	default:
		return v
	}
}

// CopyMap deep-copies a map of normalized values.
func CopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Copy(v)
	}
	return out
}

func fieldError(name string, err error) error {
	return fmt.Errorf("field %q: %w", name, err)
}
