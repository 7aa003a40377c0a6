package recorder

import (
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCDXJMarshalParse(t *testing.T) {
	entry := CDXEntry{
		UrlKey:    "org,httpbin)/get?foo=bar",
		Timestamp: "20240315093045",
		URL:       "http://httpbin.org/get?foo=bar",
		Mime:      "application/json",
		Status:    "200",
		Digest:    "3I42H3S6NNFQ2MSVX7XZKYAYSCX5QBYJ",
		Length:    "489",
		Offset:    "0",
		Filename:  "USER/COLL/rec-20240315093045-box.warc.gz",
	}

	line, err := entry.MarshalCDXJ()
	require.NoError(t, err)

	// Sortable prefix, then JSON with every value as a string.
	assert.True(t, strings.HasPrefix(string(line), "org,httpbin)/get?foo=bar 20240315093045 {"))
	assert.Contains(t, string(line), `"offset":"0"`)
	assert.Contains(t, string(line), `"status":"200"`)

	parsed, err := ParseCDXJ(line)
	require.NoError(t, err)
	assert.Equal(t, entry, parsed)
}

func TestCDXJSortOrder(t *testing.T) {
	rows := []CDXEntry{
		{UrlKey: "org,httpbin)/get", Timestamp: "20240315093050"},
		{UrlKey: "com,example)/", Timestamp: "20240315093045"},
		{UrlKey: "org,httpbin)/get", Timestamp: "20240315093045"},
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].SortKey() < rows[j].SortKey() })

	assert.Equal(t, "com,example)/", rows[0].UrlKey)
	assert.Equal(t, "20240315093045", rows[1].Timestamp)
	assert.Equal(t, "20240315093050", rows[2].Timestamp)
}

func TestParseCDXJErrors(t *testing.T) {
	for _, line := range []string{
		"",
		"urlkey-only",
		"urlkey 20240101000000 not-json",
	} {
		if _, err := ParseCDXJ([]byte(line)); err == nil {
			t.Errorf("expected error for %q", line)
		}
	}
}
