package retrieval

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"
)

// Headers indexes response headers by lower-cased name. A name may carry several values,
// kept in arrival order. All lookups are case-insensitive and return copies.
// The zero value and a nil *Headers are empty and ready to use for lookups.
type Headers struct {
	values map[string][]string
}

// NewHeaders creates an empty header index.
func NewHeaders() *Headers {
	return &Headers{values: make(map[string][]string)}
}

// HeadersFromHTTP indexes the given net/http header map.
func HeadersFromHTTP(header http.Header) *Headers {
	h := NewHeaders()
	for name, values := range header {
		for _, value := range values {
			h.Add(name, value)
		}
	}
	return h
}

// Add appends a value to the given header name.
func (h *Headers) Add(name, value string) *Headers {
	if h.values == nil {
		h.values = make(map[string][]string)
	}
	key := strings.ToLower(name)
	h.values[key] = append(h.values[key], value)
	return h
}

// Values returns all values of the given header name in arrival order.
func (h *Headers) Values(name string) []string {
	if h == nil {
		return nil
	}
	return slices.Clone(h.values[strings.ToLower(name)])
}

// First returns the first value of the given header name.
func (h *Headers) First(name string) (string, bool) {
	if h == nil {
		return "", false
	}
	values := h.values[strings.ToLower(name)]
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// All returns a copy of the complete index keyed by lower-cased names.
func (h *Headers) All() map[string][]string {
	out := make(map[string][]string)
	if h == nil {
		return out
	}
	for name, values := range h.values {
		out[name] = slices.Clone(values)
	}
	return out
}

// Len returns the number of distinct header names.
func (h *Headers) Len() int {
	if h == nil {
		return 0
	}
	return len(h.values)
}

// MarshalJSON encodes the index as an object of lower-cased names to value lists.
func (h *Headers) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.All())
}

// UnmarshalJSON restores an index written by MarshalJSON.
func (h *Headers) UnmarshalJSON(data []byte) error {
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	h.values = make(map[string][]string, len(raw))
	for name, values := range raw {
		for _, value := range values {
			h.Add(name, value)
		}
	}
	return nil
}
