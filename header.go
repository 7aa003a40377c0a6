/*
Package recorder implements a WARC recording engine: an intermediary that
receives live HTTP transactions proxied from an upstream fetcher and durably
writes each transaction as a pair of WARC records (request + response) to a
collection of gzipped WARC files, optionally deduplicated against an external
index.
*/
package recorder

import "strings"

// HeaderField is a single named header line. Both WARC record headers and the
// HTTP heads embedded in record payloads are represented this way so that
// field order and duplicate names survive a round-trip.
type HeaderField struct {
	Name  string
	Value string
}

// Header stores WARC record fields or HTTP header lines in insertion order.
// Since WARC field names are case-insensitive, lookups are case-insensitive
// as well, but the original spelling is preserved for serialization.
type Header struct {
	fields []HeaderField
}

// NewHeader creates an empty Header.
func NewHeader() *Header {
	return &Header{}
}

// Set replaces the value of the first field named key, removing any other
// duplicates, or appends a new field if key is not present.
func (h *Header) Set(key, value string) {
	out := h.fields[:0]
	replaced := false
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, key) {
			if !replaced {
				out = append(out, HeaderField{Name: f.Name, Value: value})
				replaced = true
			}
			continue
		}
		out = append(out, f)
	}
	h.fields = out
	if !replaced {
		h.fields = append(h.fields, HeaderField{Name: key, Value: value})
	}
}

// Add appends a field without touching existing fields of the same name.
func (h *Header) Add(key, value string) {
	h.fields = append(h.fields, HeaderField{Name: key, Value: value})
}

// Get returns the value of the first field named key, or "".
func (h *Header) Get(key string) string {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, key) {
			return f.Value
		}
	}
	return ""
}

// Values returns the values of every field named key, in order.
func (h *Header) Values(key string) []string {
	var out []string
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, key) {
			out = append(out, f.Value)
		}
	}
	return out
}

// Has reports whether at least one field named key exists.
func (h *Header) Has(key string) bool {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, key) {
			return true
		}
	}
	return false
}

// Del removes every field named key.
func (h *Header) Del(key string) {
	out := h.fields[:0]
	for _, f := range h.fields {
		if !strings.EqualFold(f.Name, key) {
			out = append(out, f)
		}
	}
	h.fields = out
}

// Fields returns the underlying field list in insertion order.
func (h *Header) Fields() []HeaderField {
	return h.fields
}

// Len returns the number of fields.
func (h *Header) Len() int {
	return len(h.fields)
}

// Clone returns a deep copy.
func (h *Header) Clone() *Header {
	c := &Header{fields: make([]HeaderField, len(h.fields))}
	copy(c.fields, h.fields)
	return c
}
