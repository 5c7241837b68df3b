package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/jingkaihe/mocklock/internal/errx"
)

// Header is one response header line.
type Header struct {
	Name  string `json:"name" cbor:"name"`
	Value string `json:"value" cbor:"value"`
}

// Headers is an ordered header mapping. Lookups are case-insensitive;
// names keep the case and order they were added with.
type Headers []Header

// HeadersFromMap builds Headers from a plain map, ordered by name so the
// result is deterministic.
func HeadersFromMap(m map[string]string) Headers {
	if len(m) == 0 {
		return nil
	}
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make(Headers, 0, len(names))
	for _, name := range names {
		out = append(out, Header{Name: name, Value: m[name]})
	}
	return out
}

// FromHTTPHeader flattens h, joining repeated values with ", ". Names are
// sorted so the result is deterministic.
func FromHTTPHeader(h http.Header) Headers {
	if len(h) == 0 {
		return nil
	}
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make(Headers, 0, len(names))
	for _, name := range names {
		out = append(out, Header{Name: name, Value: strings.Join(h[name], ", ")})
	}
	return out
}

// Get returns the value for name and whether it is present.
func (h Headers) Get(name string) (string, bool) {
	for _, kv := range h {
		if strings.EqualFold(kv.Name, name) {
			return kv.Value, true
		}
	}
	return "", false
}

// Set replaces the first header matching name case-insensitively, or
// appends a new one. Any later duplicates are dropped.
func (h Headers) Set(name, value string) Headers {
	out := h[:0:0]
	replaced := false
	for _, kv := range h {
		if strings.EqualFold(kv.Name, name) {
			if replaced {
				continue
			}
			kv.Value = value
			replaced = true
		}
		out = append(out, kv)
	}
	if !replaced {
		out = append(out, Header{Name: name, Value: value})
	}
	return out
}

// Del removes every header matching name.
func (h Headers) Del(name string) Headers {
	out := h[:0:0]
	for _, kv := range h {
		if !strings.EqualFold(kv.Name, name) {
			out = append(out, kv)
		}
	}
	return out
}

// Clone returns an independent copy.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	return append(Headers(nil), h...)
}

// Lines renders the headers as "Name: value" lines joined with CRLF, the
// format returned by a combined-headers accessor.
func (h Headers) Lines() string {
	var b strings.Builder
	for i, kv := range h {
		if i > 0 {
			b.WriteString("\r\n")
		}
		b.WriteString(kv.Name)
		b.WriteString(": ")
		b.WriteString(kv.Value)
	}
	return b.String()
}

// HTTPHeader converts to an http.Header. Keys are canonicalized there, so
// http.Header.Get stays case-insensitive.
func (h Headers) HTTPHeader() http.Header {
	out := make(http.Header, len(h))
	for _, kv := range h {
		out.Add(kv.Name, kv.Value)
	}
	return out
}

// MarshalJSON encodes Headers as a JSON object in insertion order.
func (h Headers) MarshalJSON() ([]byte, error) {
	if h == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kv := range h {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(kv.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(kv.Value)
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

// UnmarshalJSON accepts either an object (document order is kept) or an
// array of {"name","value"} pairs.
func (h *Headers) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*h = nil
		return nil
	}
	if data[0] == '[' {
		var pairs []Header
		if err := json.Unmarshal(data, &pairs); err != nil {
			return errx.Wrap(ErrInvalidHeaders, err)
		}
		*h = Headers(pairs)
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return errx.Wrap(ErrInvalidHeaders, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errx.With(ErrInvalidHeaders, ": expected object or array")
	}
	out := Headers{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return errx.Wrap(ErrInvalidHeaders, err)
		}
		key, _ := keyTok.(string)
		var value string
		if err := dec.Decode(&value); err != nil {
			return errx.With(ErrInvalidHeaders, ": header %q: %w", key, err)
		}
		out = append(out, Header{Name: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return errx.Wrap(ErrInvalidHeaders, err)
	}
	*h = out
	return nil
}
