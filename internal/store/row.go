package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Row is a single table row keyed by column name. Values come either from
// the driver (int32, int64, time.Time, ...) or from JSON change-feed payloads
// (float64, RFC3339 strings); the typed getters accept both.
type Row map[string]any

// Clone returns a shallow copy of r.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the column as a string, or "" when absent.
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.String {
			return rv.String()
		}
		return fmt.Sprint(v)
	}
}

// StringPtr returns nil for absent or NULL columns.
func (r Row) StringPtr(col string) *string {
	if v, ok := r[col]; !ok || v == nil {
		return nil
	}
	s := r.String(col)
	return &s
}

// Int64 returns the column as an int64, or 0 when absent or not numeric.
func (r Row) Int64(col string) int64 {
	n, _ := toInt64(r[col])
	return n
}

// Bool returns the column as a bool.
func (r Row) Bool(col string) bool {
	switch v := r[col].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

// Time returns the column as a UTC time, or the zero time.
func (r Row) Time(col string) time.Time {
	switch v := r[col].(type) {
	case time.Time:
		return v.UTC()
	case string:
		t, _ := parseTime(v)
		return t
	}
	return time.Time{}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
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
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// normalize maps named types to their underlying builtin so that values
// such as model.GameType compare equal to plain strings and encode cleanly.
func normalize(v any) any {
	switch x := v.(type) {
	case nil, string, bool, int64, float64, time.Time:
		return x
	case *string:
		if x == nil {
			return nil
		}
		return *x
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return v
}

// compare orders two normalized values. ok is false when they are not
// comparable.
func compare(a, b any) (cmp int, ok bool) {
	a, b = normalize(a), normalize(b)
	switch x := a.(type) {
	case string:
		y, isStr := b.(string)
		if !isStr {
			if t, isTime := b.(time.Time); isTime {
				if xt, parsed := parseTime(x); parsed {
					return compareTime(xt, t), true
				}
			}
			return 0, false
		}
		return strings.Compare(x, y), true
	case int64:
		switch y := b.(type) {
		case int64:
			return compareNum(float64(x), float64(y)), true
		case float64:
			return compareNum(float64(x), y), true
		}
	case float64:
		switch y := b.(type) {
		case int64:
			return compareNum(x, float64(y)), true
		case float64:
			return compareNum(x, y), true
		}
	case bool:
		if y, isBool := b.(bool); isBool {
			if x == y {
				return 0, true
			}
			if !x {
				return -1, true
			}
			return 1, true
		}
	case time.Time:
		switch y := b.(type) {
		case time.Time:
			return compareTime(x, y), true
		case string:
			if yt, parsed := parseTime(y); parsed {
				return compareTime(x, yt), true
			}
		}
	case nil:
		if b == nil {
			return 0, true
		}
	}
	return 0, false
}

func compareNum(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

// matches evaluates f against row.
func matches(row Row, f Filter) bool {
	if f.IsZero() {
		return true
	}
	v := row[f.Column]
	switch f.Op {
	case OpEq:
		c, ok := compare(v, f.Value)
		return ok && c == 0
	case OpIn:
		for _, candidate := range inValues(f.Value) {
			if c, ok := compare(v, candidate); ok && c == 0 {
				return true
			}
		}
		return false
	case OpGte:
		c, ok := compare(v, f.Value)
		return ok && c >= 0
	case OpLt:
		c, ok := compare(v, f.Value)
		return ok && c < 0
	}
	return false
}

func matchesAll(row Row, filters []Filter) bool {
	for _, f := range filters {
		if !matches(row, f) {
			return false
		}
	}
	return true
}

// inValues flattens the value of an In filter into a slice.
func inValues(v any) []any {
	if vs, ok := v.([]any); ok {
		return vs
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
