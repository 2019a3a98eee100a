package hdal

import (
	"bytes"
	"encoding/json"
	"math"
	"reflect"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
)

// Values of properties are kept in a normalized form: integer -> int64, float -> float64,
// string and enum -> string, boolean -> bool, list -> []any, mapping -> map[string]any.
// Every kind accepts nil.

// normalize converts v to the normalized form of kind
func normalize(kind Kind, enum []string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case KindInteger:
		if n, ok := toInt64(v); ok {
			return n, nil
		}
	case KindFloat:
		if f, ok := toFloat64(v); ok {
			return f, nil
		}
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KindEnum:
		if s, ok := v.(string); ok {
			if slices.Contains(enum, s) {
				return s, nil
			}
			return nil, errors.Wrapf(ErrInvalidValue, "%q is not one of %v", s, enum)
		}
	case KindBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindList:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			if _, isBytes := v.([]byte); !isBytes {
				return normalizeGeneric(v)
			}
		}
	case KindMapping:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
			return normalizeGeneric(v)
		}
	}
	return nil, errors.Wrapf(ErrInvalidValue, "%T is not a valid %s", v, kind)
}

// normalizeGeneric converts any json encodable value to its decoded json form
// with integers as int64 and other numbers as float64
func normalizeGeneric(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidValue, "%v", err)
	}
	return decodeGeneric(raw)
}

// decodeGeneric decodes json and normalizes all numbers
func decodeGeneric(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, errors.Wrapf(ErrInvalidValue, "%v", err)
	}
	return fixNumbers(out), nil
}

func fixNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i := range t {
			t[i] = fixNumbers(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = fixNumbers(t[k])
		}
		return t
	default:
		return v
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), n <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	case float32:
		return int64(n), float32(int64(n)) == n
	case float64:
		return int64(n), float64(int64(n)) == n
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

// encodeValue returns the canonical json encoding of a normalized value.
// Maps are encoded with sorted keys, so equal values have equal encodings.
func encodeValue(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidValue, "%v", err)
	}
	return string(raw), nil
}

// --------------------------------------------------------------------------
// Comparison (used by the query engine and DataList.Sort)
// --------------------------------------------------------------------------

// equalValues compares two normalized values. With fold strings are compared lower case,
// also inside lists.
func equalValues(a, b any, fold bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat64(a); ok && isNumber(a) {
		fb, ok := toFloat64(b)
		return ok && isNumber(b) && fa == fb
	}
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		if !ok {
			return false
		}
		if fold {
			return strings.ToLower(sa) == strings.ToLower(sb)
		}
		return sa == sb
	}
	if la, ok := a.([]any); ok {
		lb, ok := b.([]any)
		if !ok || len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !equalValues(la[i], lb[i], fold) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders two normalized values of the same kind.
// ok is false if the values cannot be ordered (nil, different kinds, lists, mappings).
func compareValues(a, b any, fold bool) (cmp int, ok bool) {
	if isNumber(a) && isNumber(b) {
		fa, _ := toFloat64(a)
		fb, _ := toFloat64(b)
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	if sa, isStr := a.(string); isStr {
		sb, isStr := b.(string)
		if !isStr {
			return 0, false
		}
		if fold {
			sa, sb = strings.ToLower(sa), strings.ToLower(sb)
		}
		return strings.Compare(sa, sb), true
	}
	if ba, isBool := a.(bool); isBool {
		bb, isBool := b.(bool)
		if !isBool {
			return 0, false
		}
		switch {
		case ba == bb:
			return 0, true
		case !ba:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

// containsValue reports whether list holds an element equal to v
func containsValue(list []any, v any, fold bool) bool {
	for _, e := range list {
		if equalValues(e, v, fold) {
			return true
		}
	}
	return false
}
