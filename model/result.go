package model

import (
	"bytes"
	"encoding/json"
	"errors"

	goerrors "github.com/goliatone/go-errors"

	"github.com/dataserve/dataserve-sub000/dserr"
)

// Result is the outcome of Run. Every call produces one.
type Result struct {
	Status bool
	Value  any
	Err    error
	Meta   map[string]any
}

func success(value any, meta map[string]any) Result {
	return Result{Status: true, Value: value, Meta: meta}
}

func failure(err error, meta map[string]any) Result {
	return Result{Status: false, Err: err, Meta: meta}
}

// ErrorPayload is the JSON form of a failed Result.
type ErrorPayload struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// ErrorCode returns the text code of err, or INTERNAL_ERROR for foreign errors.
func ErrorCode(err error) string {
	if kind := dserr.KindOf(err); kind != "" {
		return string(kind)
	}
	return "INTERNAL_ERROR"
}

func errorPayload(err error) ErrorPayload {
	p := ErrorPayload{Code: ErrorCode(err), Message: err.Error(), Fields: dserr.Reasons(err)}
	var e *goerrors.Error
	if errors.As(err, &e) && e.Message != "" {
		p.Message = e.Message
	}
	return p
}

// MarshalJSON renders {status, result|error, meta}.
func (r Result) MarshalJSON() ([]byte, error) {
	meta := r.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	if r.Status {
		return json.Marshal(struct {
			Status bool           `json:"status"`
			Result any            `json:"result"`
			Meta   map[string]any `json:"meta"`
		}{true, r.Value, meta})
	}
	err := r.Err
	if err == nil {
		err = errors.New("unknown error")
	}
	return json.Marshal(struct {
		Status bool           `json:"status"`
		Error  ErrorPayload   `json:"error"`
		Meta   map[string]any `json:"meta"`
	}{false, errorPayload(err), meta})
}

// OrderedMap is a string-keyed map that keeps insertion order in JSON.
type OrderedMap struct {
	keys   []string
	values map[string]any
}

// NewOrderedMap returns an empty map sized for n keys.
func NewOrderedMap(n int) *OrderedMap {
	return &OrderedMap{keys: make([]string, 0, n), values: make(map[string]any, n)}
}

// Set stores v; an existing key keeps its position.
func (m *OrderedMap) Set(key string, v any) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

func (m *OrderedMap) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *OrderedMap) Keys() []string { return append([]string(nil), m.keys...) }

func (m *OrderedMap) Len() int { return len(m.keys) }

func (m *OrderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(m.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
