package apiclient

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Kind is the closed set of failure categories a request can end in.
type Kind string

const (
	// KindValidation: the backend rejected the payload (400/422), usually with field errors.
	KindValidation Kind = "validation"
	// KindConflict: a server fault or 409, which this backend emits when dependent rows
	// block a delete.
	KindConflict Kind = "conflict"
	// KindTransport: no response, or a response body that could not be decoded.
	KindTransport Kind = "transport"
	// KindUnknown: any other non-success status (401, 403, 404, ...).
	KindUnknown Kind = "unknown"
)

// Error is returned by every failed call of the client.
type Error struct {
	Kind      Kind
	Status    int // 0 when no response arrived
	Method    string
	Path      string
	RequestID string
	Body      map[string]any

	// Local is set when the request never left the client (bad payload, limiter wait
	// aborted). Such errors are never transport failures and raise no alert.
	Local bool
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("request failed with status code %d", e.Status)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Field returns the backend message attached to a named field of the error body.
// Django REST style lists of messages are joined with "; ".
func (e *Error) Field(name string) (string, bool) {
	if e == nil || e.Body == nil {
		return "", false
	}
	v, ok := e.Body[name]
	if !ok || v == nil {
		return "", false
	}
	msg := flattenMessage(v)
	return msg, msg != ""
}

// Message returns the generic "message" entry of the error body, if any.
func (e *Error) Message() string {
	msg, _ := e.Field("message")
	return msg
}

// AsError unwraps err into *Error.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, KindUnknown for foreign errors.
func KindOf(err error) Kind {
	if apiErr, ok := AsError(err); ok {
		return apiErr.Kind
	}
	return KindUnknown
}

func localError(err error) *Error {
	return &Error{Kind: KindUnknown, Local: true, Err: err}
}

func kindForStatus(status int) Kind {
	switch {
	case status >= http.StatusInternalServerError, status == http.StatusConflict:
		return KindConflict
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return KindValidation
	default:
		return KindUnknown
	}
}

func flattenMessage(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := flattenMessage(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			if s := flattenMessage(t[k]); s != "" {
				parts = append(parts, k+": "+s)
			}
		}
		return strings.Join(parts, "; ")
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
