package model

import (
	"encoding/json"
	"math"
	"strconv"
)

// Resource is a document conforming to a prototype. Records inside lists
// are map[string]any and lists are []any. After Normalize, integers are
// int64 and bytes are []byte.
type Resource = map[string]any

// ID returns the document's id, or "" when unset.
func ID(r Resource) string {
	s, _ := r[FieldID].(string)
	return s
}

// Revision returns the document's revision, or "" when unset.
func Revision(r Resource) string {
	s, _ := r[FieldRevision].(string)
	return s
}

// Copy returns a deep copy of r.
func Copy(r Resource) Resource {
	if r == nil {
		return nil
	}
	return copyValue(r).(map[string]any)
}

func copyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = copyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = copyValue(e)
		}
		return out
	case []byte:
		return append([]byte(nil), x...)
	}
	return v
}

// AsInt64 converts the integer representations produced by JSON decoding
// and database drivers to int64.
func AsInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case json.Number:
		n, err := x.Int64()
		return n, err == nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return int64(x), true
	case []byte:
		n, err := strconv.ParseInt(string(x), 10, 64)
		return n, err == nil
	}
	return 0, false
}

// ListOf returns v as a list, accepting the typed slices callers build in Go.
func ListOf(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(x))
		for i, m := range x {
			out[i] = m
		}
		return out, true
	}
	return nil, false
}
