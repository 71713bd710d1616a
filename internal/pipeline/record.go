package pipeline

import (
	"strconv"
	"strings"
)

// Record is one normalized record: dataset field keys mapped to scalar or
// scalar-array values. Keys with a leading underscore are private plumbing
// for downstream enrichers and never appear in output.
type Record map[string]any

// Get resolves key against the record; dotted keys traverse nested maps.
func (r Record) Get(key string) any {
	if v, ok := r[key]; ok {
		return v
	}
	if !strings.Contains(key, ".") {
		return nil
	}
	parts := strings.Split(key, ".")
	var cur any = map[string]any(r)
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			if rec, ok2 := cur.(Record); ok2 {
				m = map[string]any(rec)
			} else {
				return nil
			}
		}
		cur, ok = m[p]
		if !ok {
			return nil
		}
	}
	return cur
}

// Has reports whether key holds a non-nil value.
func (r Record) Has(key string) bool {
	v, ok := r[key]
	return ok && v != nil
}

// SetIfAbsent writes val only when the key is missing or nil. Enrichers go
// through this so existing non-null values survive regardless of the order
// enrichers run in.
func (r Record) SetIfAbsent(key string, val any) bool {
	if r.Has(key) {
		return false
	}
	r[key] = val
	return true
}

// Float coerces a record value to float64.
func Float(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

// Int coerces a record value to int64.
func Int(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int64:
		return x, true
	case float64:
		return int64(x), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	}
	return 0, false
}

// Str coerces a record value to its string form; nil becomes "".
func Str(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		if x {
			return "true"
		}
		return "false"
	}
	return ""
}

// Round2 rounds to two decimal places, the precision monetary cells carry.
func Round2(f float64) float64 {
	return float64(int64(f*100+sign(f)*0.5)) / 100
}

func sign(f float64) float64 {
	if f < 0 {
		return -1
	}
	return 1
}
