package eval

import (
	"strconv"
	"strings"
)

// Constant values flowing through the evaluator are restricted to:
// nil, bool, int64, float64, string, []any (arrays, including byte
// sequences), and the opaque handle types defined by the dispatch table
// (encodingValue, hashValue). Anything else never enters the tree.

// ToString renders a value the way the dialect stringifies it.
func ToString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case bool:
		if val {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case string:
		return val
	case []any:
		parts := make([]string, len(val))
		for i, e := range val {
			parts[i] = ToString(e)
		}
		return strings.Join(parts, " ")
	}
	return ""
}

// Truthy applies the dialect's boolean coercion.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case int64:
		return val != 0
	case float64:
		return val != 0
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	}
	return true
}

// asInt coerces a value to int64. Strings parse; floats convert only when
// integral.
func asInt(v any) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case float64:
		if val == float64(int64(val)) {
			return int64(val), true
		}
		return 0, false
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(val), 0, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

// asFloat coerces a value to float64.
func asFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case int64:
		return float64(val), true
	case float64:
		return val, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// isNumeric reports whether v is a number or a string spelling one.
func isNumeric(v any) bool {
	switch v.(type) {
	case int64, float64:
		return true
	case string:
		_, ok := asFloat(v)
		return ok
	}
	return false
}

// asBytes coerces an array value to a byte slice; every element must be
// an integral 0..255.
func asBytes(v any) ([]byte, bool) {
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]byte, len(arr))
	for i, e := range arr {
		n, ok := asInt(e)
		if !ok || n < 0 || n > 255 {
			return nil, false
		}
		out[i] = byte(n)
	}
	return out, true
}

// bytesValue converts raw bytes to the []any representation used in
// folded trees.
func bytesValue(b []byte) []any {
	out := make([]any, len(b))
	for i, c := range b {
		out[i] = int64(c)
	}
	return out
}

// Representable reports whether a folded value can be rendered back
// into source text as a literal. Opaque handles (encodings, hash
// algorithms) fold internally but have no literal spelling.
func Representable(v any) bool {
	switch val := v.(type) {
	case nil, bool, int64, int, float64, string:
		return true
	case []any:
		for _, e := range val {
			if !Representable(e) {
				return false
			}
		}
		return true
	}
	return false
}
