package recorder

import (
	"fmt"
	"strconv"
	"strings"
)

// httpHead is the parsed head of an HTTP/1.x message embedded in a record
// payload: the start line plus the header lines in wire order, duplicates
// preserved.
type httpHead struct {
	StartLine string
	Header    *Header
}

// parseHTTPHead parses a head block (without the terminating blank line).
// It accepts both request heads ("GET / HTTP/1.1") and response heads
// ("HTTP/1.1 200 OK").
func parseHTTPHead(raw []byte) (*httpHead, error) {
	lines := strings.Split(string(raw), "\r\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, fmt.Errorf("empty HTTP head")
	}

	head := &httpHead{StartLine: lines[0], Header: NewHeader()}
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed HTTP header line %q", line)
		}
		head.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return head, nil
}

// serialize renders the head block including the blank line that separates
// it from the body.
func (h *httpHead) serialize() []byte {
	var b strings.Builder
	b.WriteString(h.StartLine)
	b.WriteString("\r\n")
	for _, f := range h.Header.Fields() {
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// statusCode extracts the status code from a response start line. Returns 0
// if the line is not a response head.
func (h *httpHead) statusCode() int {
	parts := strings.SplitN(h.StartLine, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
		return 0
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0
	}
	return code
}

// contentType returns the media type of the message without parameters,
// e.g. "application/json".
func (h *httpHead) contentType() string {
	ct := h.Header.Get("Content-Type")
	if ct == "" {
		return "unk"
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

// isChunked reports whether the message body uses chunked transfer coding.
func (h *httpHead) isChunked() bool {
	return strings.EqualFold(h.Header.Get("Transfer-Encoding"), "chunked")
}
