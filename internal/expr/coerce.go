package expr

/*
 * Value coercion helpers for evaluation.
 *
 * JSON decoding yields float64 for all numbers; contexts assembled in Go may
 * still carry int/int64 fields, so numeric comparison accepts the mix.
 * Truthiness follows the value-logic convention: nil, false, zero, empty
 * string and empty list are falsy, everything else truthy.
 */

// toFloat64 converts value to float64 if it's a numeric type.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

// asNumbers attempts to convert both values for numeric comparison.
func asNumbers(a, b any) (float64, float64, bool) {
	na, oka := toFloat64(a)
	nb, okb := toFloat64(b)
	return na, nb, oka && okb
}

// looseEqual performs equality with numeric type mixing.
func looseEqual(a, b any) bool {
	if na, nb, ok := asNumbers(a, b); ok {
		return na == nb
	}
	return a == b
}

// truthy reports the boolean interpretation of a value.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	default:
		if n, ok := toFloat64(v); ok {
			return n != 0
		}
		return true
	}
}
