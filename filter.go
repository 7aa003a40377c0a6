package recorder

import "strings"

// HeaderFilter decides which HTTP header lines are dropped from a record's
// head block before serialization. Filtering never alters body bytes, so
// payload digests are unaffected. Hop-by-hop headers are not removed
// automatically; the configuration must list them explicitly.
type HeaderFilter interface {
	Exclude(name string) bool
}

// ExcludeHeaders drops the configured header names, case-insensitively.
type ExcludeHeaders struct {
	names map[string]struct{}
}

// NewExcludeHeaders builds a filter from a list of header names.
func NewExcludeHeaders(names []string) *ExcludeHeaders {
	f := &ExcludeHeaders{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		f.names[strings.ToLower(n)] = struct{}{}
	}
	return f
}

func (f *ExcludeHeaders) Exclude(name string) bool {
	if f == nil || len(f.names) == 0 {
		return false
	}
	_, ok := f.names[strings.ToLower(name)]
	return ok
}

// filterHead returns a copy of hdr with the excluded fields removed. The
// original is left untouched since the same capture may be streamed to the
// client unfiltered.
func filterHead(hdr *Header, filter HeaderFilter) *Header {
	if filter == nil {
		return hdr
	}
	out := NewHeader()
	for _, f := range hdr.Fields() {
		if filter.Exclude(f.Name) {
			continue
		}
		out.Add(f.Name, f.Value)
	}
	return out
}
