package models

import (
	"reflect"
	"time"
)

func cloneExtra(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}

	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneExtra(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}

		return out
	default:
		return v
	}
}

func extraEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}

	return reflect.DeepEqual(a, b)
}

func cloneCounts(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}

	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}

// maxTime returns the latest of the given times. Zero times are ignored.
func maxTime(ts ...time.Time) time.Time {
	var out time.Time
	for _, t := range ts {
		if t.After(out) {
			out = t
		}
	}

	return out
}
