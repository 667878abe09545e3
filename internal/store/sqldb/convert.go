package sqldb

import (
	"strconv"
	"strings"

	"github.com/qvarn/qvarn/internal/model"
)

// FromDB converts a scanned column value to the canonical Go value of k.
// Drivers disagree on representations (text as []byte, booleans as
// integers), and SQLite keeps whatever type a row was written with, so the
// conversion is lenient. Unconvertible values read as null.
func FromDB(k model.Kind, v any) any {
	if v == nil {
		return nil
	}
	switch k {
	case model.Text:
		switch x := v.(type) {
		case string:
			return x
		case []byte:
			return string(x)
		case int64:
			return strconv.FormatInt(x, 10)
		case bool:
			return strconv.FormatBool(x)
		}
	case model.Integer:
		switch x := v.(type) {
		case int64:
			return x
		case bool:
			if x {
				return int64(1)
			}
			return int64(0)
		case float64:
			return int64(x)
		case string:
			if n, err := strconv.ParseInt(x, 10, 64); err == nil {
				return n
			}
		case []byte:
			if n, err := strconv.ParseInt(string(x), 10, 64); err == nil {
				return n
			}
		}
	case model.Boolean:
		switch x := v.(type) {
		case bool:
			return x
		case int64:
			return x != 0
		case string:
			return parseBool(x)
		case []byte:
			return parseBool(string(x))
		}
	case model.Bytes:
		switch x := v.(type) {
		case []byte:
			return append([]byte(nil), x...)
		case string:
			return []byte(x)
		}
	}
	return nil
}

func parseBool(s string) any {
	switch strings.ToLower(s) {
	case "1", "t", "true":
		return true
	case "0", "f", "false":
		return false
	}
	return nil
}

// ToInt reads a positional column value.
func ToInt(v any) int {
	n, _ := FromDB(model.Integer, v).(int64)
	return int(n)
}
