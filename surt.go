package recorder

import (
	"sort"
	"strings"

	"github.com/nlnwa/whatwg-url/url"
)

// SurtKey converts a URL to its SURT form urlkey: host labels reversed and
// comma-joined, then ")/", path and a canonicalized query. SURT keys make
// per-domain ranges lexicographically contiguous, which is what the sorted
// dedup index ranges over.
//
// "http://httpbin.org/get?foo=bar" -> "org,httpbin)/get?foo=bar"
func SurtKey(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")

	labels := strings.Split(host, ".")
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	key := strings.Join(labels, ",")

	if port := u.Port(); port != "" && port != "80" && port != "443" {
		key += ":" + port
	}

	path := strings.ToLower(u.Pathname())
	if path == "" {
		path = "/"
	}
	key += ")" + path

	if q := canonicalQuery(u.Search()); q != "" {
		key += "?" + q
	}

	return key, nil
}

// canonicalQuery lowercases the query and sorts its parameters so that
// equivalent URLs map to one urlkey.
func canonicalQuery(search string) string {
	q := strings.TrimPrefix(search, "?")
	if q == "" {
		return ""
	}
	params := strings.Split(strings.ToLower(q), "&")
	sort.Strings(params)
	return strings.Join(params, "&")
}
