package apiclient

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Record is one entity as transmitted over the API: field name to scalar value.
// Numbers decoded by this package arrive as json.Number.
type Record map[string]any

// ID returns the server-assigned identifier, if the record has one.
func (r Record) ID() (int64, bool) {
	if r == nil {
		return 0, false
	}
	return ToID(r["id"])
}

// Text renders a field for display. Missing and null values render as "".
func (r Record) Text(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ToID converts an identifier or foreign-key value into an int64.
// Empty strings, nil and non-integral values are not identifiers.
func ToID(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int64:
		return t, true
	case int32:
		return int64(t), true
	case float64:
		if t != float64(int64(t)) {
			return 0, false
		}
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		n, err := strconv.ParseInt(s, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
