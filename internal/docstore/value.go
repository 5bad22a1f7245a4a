package docstore

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// NormalizeValue converts v into the store's value set. Sentinels are kept
// as-is; callers resolve them with ResolveFields.
func NormalizeValue(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool, string, float64, int64:
		return t, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case float32:
		return float64(t), nil
	case time.Time:
		return t.UTC(), nil
	case serverTimestamp:
		return t, nil
	case AppendOp:
		vals := make([]any, 0, len(t.Values))
		for _, x := range t.Values {
			n, err := NormalizeValue(x)
			if err != nil {
				return nil, err
			}
			vals = append(vals, n)
		}
		return AppendOp{Values: vals}, nil
	case []any:
		out := make([]any, 0, len(t))
		for _, x := range t {
			n, err := NormalizeValue(x)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	case map[string]any:
		return NormalizeFields(t)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return int64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Slice, reflect.Array:
		out := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			n, err := NormalizeValue(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			if k := iter.Key().String(); k == "" || strings.HasPrefix(k, "$") {
				return nil, fmt.Errorf("docstore: invalid field name %q", k)
			}
			n, err := NormalizeValue(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = n
		}
		return out, nil
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return NormalizeValue(rv.Elem().Interface())
	}
	return nil, fmt.Errorf("docstore: unsupported value type %T", v)
}

// NormalizeFields normalises every value of fields into a new map.
func NormalizeFields(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if k == "" || strings.HasPrefix(k, "$") {
			return nil, fmt.Errorf("docstore: invalid field name %q", k)
		}
		n, err := NormalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

// CloneValue deep-copies a normalised value.
func CloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = CloneValue(x)
		}
		return out
	case map[string]any:
		return CloneFields(t)
	case AppendOp:
		return AppendOp{Values: CloneValue(t.Values).([]any)}
	}
	return v
}

// CloneFields deep-copies a field map.
func CloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = CloneValue(v)
	}
	return out
}

// ResolveValue replaces ServerTimestamp sentinels nested in v with now.
func ResolveValue(v any, now time.Time) any {
	switch t := v.(type) {
	case serverTimestamp:
		return now
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = ResolveValue(x, now)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = ResolveValue(x, now)
		}
		return out
	}
	return v
}

// ResolveFields applies normalised fields onto existing (which may be nil) and
// returns the resulting document fields. ServerTimestamp sentinels become now;
// AppendOp values are appended to the existing array. With merge=false the
// existing fields are discarded first.
func ResolveFields(existing, fields map[string]any, now time.Time, merge bool) (map[string]any, error) {
	var out map[string]any
	if merge {
		out = CloneFields(existing)
	}
	if out == nil {
		out = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		op, ok := v.(AppendOp)
		if !ok {
			out[k] = ResolveValue(v, now)
			continue
		}
		var cur []any
		if prev, exists := out[k]; exists && prev != nil {
			arr, isArr := prev.([]any)
			if !isArr {
				return nil, fmt.Errorf("docstore: append to non-array field %q", k)
			}
			cur = arr
		}
		for _, x := range op.Values {
			cur = append(cur, ResolveValue(x, now))
		}
		out[k] = cur
	}
	return out, nil
}

// Compare orders two normalised values. ok is false when the values are not
// comparable (different kinds, arrays, maps).
func Compare(a, b any) (c int, ok bool) {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmp3(x < y, x > y), true
		case float64:
			return cmp3(float64(x) < y, float64(x) > y), true
		}
	case float64:
		switch y := b.(type) {
		case float64:
			return cmp3(x < y, x > y), true
		case int64:
			return cmp3(x < float64(y), x > float64(y)), true
		}
	case string:
		if y, isStr := b.(string); isStr {
			return strings.Compare(x, y), true
		}
	case bool:
		if y, isBool := b.(bool); isBool {
			return cmp3(!x && y, x && !y), true
		}
	case time.Time:
		if y, isTime := b.(time.Time); isTime {
			return x.Compare(y), true
		}
	}
	return 0, false
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

// Equal reports deep equality of two normalised values, treating int64 and
// float64 numerically.
func Equal(a, b any) bool {
	if c, ok := Compare(a, b); ok {
		return c == 0
	}
	switch x := a.(type) {
	case nil:
		return b == nil
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			w, exists := y[k]
			if !exists || !Equal(v, w) {
				return false
			}
		}
		return true
	}
	return false
}
