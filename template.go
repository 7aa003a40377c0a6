package recorder

import (
	"strings"
)

// PathTemplate is a destination path with {user}, {coll}, {hostname} and
// {timestamp} variables, pre-parsed into segments so that resolution does
// not re-scan the template string on every write.
type PathTemplate struct {
	raw      string
	segments []templateSegment
}

type templateSegment struct {
	text  string
	isVar bool
}

// CompilePathTemplate parses a template string. Unterminated braces are kept
// as literal text.
func CompilePathTemplate(s string) *PathTemplate {
	t := &PathTemplate{raw: s}
	for len(s) > 0 {
		open := strings.IndexByte(s, '{')
		if open < 0 {
			t.segments = append(t.segments, templateSegment{text: s})
			break
		}
		closing := strings.IndexByte(s[open:], '}')
		if closing < 0 {
			t.segments = append(t.segments, templateSegment{text: s})
			break
		}
		if open > 0 {
			t.segments = append(t.segments, templateSegment{text: s[:open]})
		}
		t.segments = append(t.segments, templateSegment{text: s[open+1 : open+closing], isVar: true})
		s = s[open+closing+1:]
	}
	return t
}

// String returns the original template text.
func (t *PathTemplate) String() string {
	return t.raw
}

// Resolve substitutes the variables present in vars. Variables missing from
// vars are kept in place, which lets the file manager key its handle cache
// on a partial resolution that still contains {timestamp}.
func (t *PathTemplate) Resolve(vars map[string]string) string {
	var b strings.Builder
	for _, seg := range t.segments {
		if !seg.isVar {
			b.WriteString(seg.text)
			continue
		}
		if v, ok := vars[seg.text]; ok {
			b.WriteString(v)
		} else {
			b.WriteString("{" + seg.text + "}")
		}
	}
	return b.String()
}

// ResolveFull substitutes every variable, defaulting missing ones to the
// empty string, and collapses consecutive slashes left behind by empty
// substitutions.
func (t *PathTemplate) ResolveFull(vars map[string]string) string {
	var b strings.Builder
	for _, seg := range t.segments {
		if !seg.isVar {
			b.WriteString(seg.text)
			continue
		}
		b.WriteString(vars[seg.text])
	}
	return collapseSlashes(b.String())
}

func collapseSlashes(s string) string {
	for strings.Contains(s, "//") {
		s = strings.ReplaceAll(s, "//", "/")
	}
	return s
}
