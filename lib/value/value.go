package value

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// --------------------------------------------------------------------------
// Kind classes
// --------------------------------------------------------------------------

// Kind is the ordering class of a value. Values of a lower Kind always sort
// before values of a higher Kind, no matter their content.
type Kind uint8

const (
	KindNumber Kind = iota + 1 // float64 (all numeric types are normalized to float64)
	KindString                 // string
	KindObject                 // map[string]any
	KindArray                  // []any
	KindBool                   // bool
	KindNull                   // nil
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindBool:
		return "bool"
	case KindNull:
		return "null"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

// KindOf returns the ordering class of a normalized value.
// Values that are not normalized are classified after normalizing them,
// unknown types are treated as null.
func KindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case float64:
		return KindNumber
	case string:
		return KindString
	case map[string]any:
		return KindObject
	case []any:
		return KindArray
	case bool:
		return KindBool
	}
	n, err := Normalize(v)
	if err != nil || n == nil {
		return KindNull
	}
	return KindOf(n)
}

// --------------------------------------------------------------------------
// Normalization
// --------------------------------------------------------------------------

// Normalize converts a decoded value (json, msgpack or plain Go literals) into the
// canonical representation used for comparisons and key encoding:
// nil, float64, string, bool, map[string]any and []any.
func Normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return t, nil
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case float64:
		return normFloat(t), nil
	case float32:
		return normFloat(float64(t)), nil
	case int:
		return float64(t), nil
	case int8:
		return float64(t), nil
	case int16:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint:
		return float64(t), nil
	case uint8:
		return float64(t), nil
	case uint16:
		return float64(t), nil
	case uint32:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			n, err := Normalize(e)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("object key %v is not a string", k)
			}
			n, err := Normalize(e)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", ks, err)
			}
			out[ks] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			n, err := Normalize(e)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// MustNormalize is like Normalize but panics on unsupported values.
// It is meant for literals in tests and static setup code.
func MustNormalize(v any) any {
	n, err := Normalize(v)
	if err != nil {
		panic(err)
	}
	return n
}

// NormalizeDoc normalizes a document (top level object).
func NormalizeDoc(doc map[string]any) (map[string]any, error) {
	if doc == nil {
		return map[string]any{}, nil
	}
	n, err := Normalize(doc)
	if err != nil {
		return nil, err
	}
	return n.(map[string]any), nil
}

// normFloat folds negative zero into positive zero so that equal numbers have
// identical key encodings.
func normFloat(f float64) float64 {
	if f == 0 {
		return 0
	}
	return f
}

// --------------------------------------------------------------------------
// Comparison
// --------------------------------------------------------------------------

// Compare defines the total order over all values. It returns -1, 0 or +1.
// Cross-type comparisons never fail, they are decided by the Kind class.
func Compare(a, b any) int {
	ka, kb := KindOf(a), KindOf(b)
	if ka != kb {
		if ka < kb {
			return -1
		}
		return 1
	}
	if !isNormalized(a) {
		a, _ = Normalize(a)
	}
	if !isNormalized(b) {
		b, _ = Normalize(b)
	}

	switch ka {
	case KindNumber:
		return compareFloat(a.(float64), b.(float64))
	case KindString:
		return strings.Compare(a.(string), b.(string))
	case KindObject:
		return compareObjects(a.(map[string]any), b.(map[string]any))
	case KindArray:
		return compareArrays(a.([]any), b.([]any))
	case KindBool:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	default:
		return 0
	}
}

// Equal reports whether two values compare equal.
func Equal(a, b any) bool {
	return Compare(a, b) == 0
}

func isNormalized(v any) bool {
	switch v.(type) {
	case nil, float64, string, bool, map[string]any, []any:
		return true
	}
	return false
}

// compareFloat orders NaN below every other number.
func compareFloat(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return -1
	case bNaN:
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareObjects(a, b map[string]any) int {
	ak, bk := SortedKeys(a), SortedKeys(b)
	for i := 0; i < len(ak) && i < len(bk); i++ {
		if c := strings.Compare(ak[i], bk[i]); c != 0 {
			return c
		}
		if c := Compare(a[ak[i]], b[bk[i]]); c != 0 {
			return c
		}
	}
	return compareLen(len(ak), len(bk))
}

func compareArrays(a, b []any) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return compareLen(len(a), len(b))
}

func compareLen(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// SortedKeys returns the field names of an object in ascending order.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
