package recorder

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CDXEntry is one row of the dedup/lookup index. Rows serialize to the CDXJ
// variant: a space-separated sortable prefix "{urlkey} {timestamp} "
// followed by a JSON object. Rows sort lexicographically on
// "urlkey + ' ' + timestamp".
type CDXEntry struct {
	UrlKey    string `json:"-"`
	Timestamp string `json:"-"` // 14-digit UTC

	URL    string `json:"url"`
	Mime   string `json:"mime"`
	Status string `json:"status"`
	Digest string `json:"digest"` // bare uppercase base32 SHA1

	// Redirect and Meta are legacy CDX columns; this recorder never fills
	// them but rows written by other tools keep them across a round-trip.
	Redirect string `json:"redirect,omitempty"`
	Meta     string `json:"meta,omitempty"`

	Length   string `json:"length"` // compressed record length on disk
	Offset   string `json:"offset"` // byte offset of the gzip member
	Filename string `json:"filename"`
}

// MimeRevisit marks CDX rows whose record is a revisit stand-in.
const MimeRevisit = "warc/revisit"

// SortKey returns the sortable prefix of the row.
func (e CDXEntry) SortKey() string {
	return e.UrlKey + " " + e.Timestamp
}

// MarshalCDXJ renders the full CDXJ line without a trailing newline.
func (e CDXEntry) MarshalCDXJ() ([]byte, error) {
	obj, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	line := make([]byte, 0, len(e.UrlKey)+len(e.Timestamp)+2+len(obj))
	line = append(line, e.UrlKey...)
	line = append(line, ' ')
	line = append(line, e.Timestamp...)
	line = append(line, ' ')
	line = append(line, obj...)
	return line, nil
}

// ParseCDXJ parses one CDXJ line.
func ParseCDXJ(line []byte) (CDXEntry, error) {
	var e CDXEntry

	s := strings.TrimRight(string(line), "\r\n")
	i := strings.IndexByte(s, ' ')
	if i < 0 {
		return e, fmt.Errorf("cdxj: missing urlkey in %q", s)
	}
	j := strings.IndexByte(s[i+1:], ' ')
	if j < 0 {
		return e, fmt.Errorf("cdxj: missing timestamp in %q", s)
	}

	e.UrlKey = s[:i]
	e.Timestamp = s[i+1 : i+1+j]

	if err := json.Unmarshal([]byte(s[i+j+2:]), &e); err != nil {
		return e, fmt.Errorf("cdxj: bad json in %q: %w", s, err)
	}
	return e, nil
}
