package bundle

import "math"

func asString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	default:
		return "", false
	}
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		if x != math.Trunc(x) {
			return 0, false
		}
		return int(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case []any:
		// single-element arrays are how scalar fit parameters are exported
		if len(x) == 1 {
			return asFloat64(x[0])
		}
		return 0, false
	default:
		return 0, false
	}
}

func asBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case float64:
		return x != 0, true
	default:
		return false, false
	}
}

func asStrings(v any) ([]string, bool) {
	switch xs := v.(type) {
	case []string:
		return append([]string(nil), xs...), true
	case []any:
		out := make([]string, 0, len(xs))
		for _, item := range xs {
			s, ok := asString(item)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func asFloat64s(v any) ([]float64, bool) {
	switch xs := v.(type) {
	case []float64:
		return append([]float64(nil), xs...), true
	case []any:
		out := make([]float64, 0, len(xs))
		for _, item := range xs {
			f, ok := asFloat64(item)
			if !ok {
				return nil, false
			}
			out = append(out, f)
		}
		return out, true
	default:
		return nil, false
	}
}

func asInts(v any) ([]int, bool) {
	switch xs := v.(type) {
	case []int:
		return append([]int(nil), xs...), true
	case []any:
		out := make([]int, 0, len(xs))
		for _, item := range xs {
			n, ok := asInt(item)
			if !ok {
				return nil, false
			}
			out = append(out, n)
		}
		return out, true
	default:
		return nil, false
	}
}

// asRows reads a rectangular array of numbers.
func asRows(v any) ([][]float64, bool) {
	raw, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([][]float64, 0, len(raw))
	for _, item := range raw {
		row, ok := asFloat64s(item)
		if !ok {
			return nil, false
		}
		if len(out) > 0 && len(row) != len(out[0]) {
			return nil, false
		}
		out = append(out, row)
	}
	return out, true
}

// asFloatTable reads a dataset-id keyed table. Tables exported per
// objective nest the values one level deeper; those are flattened as
// "outer_inner".
func asFloatTable(v any) (map[string]float64, bool) {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	out := make(map[string]float64, len(raw))
	for key, item := range raw {
		if f, ok := asFloat64(item); ok {
			out[key] = f
			continue
		}
		nested, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		for inner, val := range nested {
			f, ok := asFloat64(val)
			if !ok {
				return nil, false
			}
			out[key+"_"+inner] = f
		}
	}
	return out, true
}

func asIntTable(v any) (map[string]int, bool) {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	out := make(map[string]int, len(raw))
	for key, item := range raw {
		n, ok := asInt(item)
		if !ok {
			return nil, false
		}
		out[key] = n
	}
	return out, true
}
