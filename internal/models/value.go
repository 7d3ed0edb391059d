// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Normalize maps a raw field value onto the small set of types the engine
// understands: nil, string, int64, float64 and bool. Empty strings and NaN
// become nil.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(x) == "" {
			return nil
		}
		return x
	case float64:
		if math.IsNaN(x) {
			return nil
		}
		return x
	case float32:
		if math.IsNaN(float64(x)) {
			return nil
		}
		return float64(x)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case bool:
		return x
	case []byte:
		return Normalize(string(x))
	case fmt.Stringer:
		return Normalize(x.String())
	default:
		return fmt.Sprint(x)
	}
}

// IsNull reports whether v normalizes to nil.
func IsNull(v any) bool {
	return Normalize(v) == nil
}

// ValueKey returns the canonical string form of a value, used for equality
// and frequency lookups. Integral floats and integers share a key.
// The second result is false for null values.
func ValueKey(v any) (string, bool) {
	switch x := Normalize(v).(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	default:
		return fmt.Sprint(x), true
	}
}

// AsFloat converts numeric values to float64.
func AsFloat(v any) (float64, bool) {
	switch x := Normalize(v).(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// AsString renders a non-null value as a string for string metrics.
func AsString(v any) (string, bool) {
	if s, ok := Normalize(v).(string); ok {
		return s, true
	}
	return ValueKey(v)
}
