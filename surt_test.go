package recorder

import "testing"

func TestSurtKey(t *testing.T) {
	cases := map[string]string{
		"http://httpbin.org/get?foo=bar":       "org,httpbin)/get?foo=bar",
		"http://www.example.com/":              "com,example)/",
		"https://EXAMPLE.com/Path?B=2&a=1":     "com,example)/path?a=1&b=2",
		"http://sub.domain.example.org:8080/x": "org,example,domain,sub:8080)/x",
		"https://example.com:443/secure":       "com,example)/secure",
		"http://example.com":                   "com,example)/",
	}

	for input, want := range cases {
		got, err := SurtKey(input)
		if err != nil {
			t.Errorf("SurtKey(%q) error: %v", input, err)
			continue
		}
		if got != want {
			t.Errorf("SurtKey(%q) mismatch: got %q, want %q", input, got, want)
		}
	}
}

func TestSurtKeyInvalid(t *testing.T) {
	if _, err := SurtKey("::not a url::"); err == nil {
		t.Error("expected error for invalid URL")
	}
}

func TestLookupBoundsCoverUrlkey(t *testing.T) {
	lo, hi := lookupBounds("org,httpbin)/get?foo=bar")

	inside := "org,httpbin)/get?foo=bar 20240101000000"
	if !(lo <= inside && inside < hi) {
		t.Errorf("row %q not inside [%q, %q)", inside, lo, hi)
	}

	// A longer urlkey sharing the prefix must fall outside the range.
	outside := "org,httpbin)/get?foo=bar&x=1 20240101000000"
	if outside < hi {
		t.Errorf("row %q unexpectedly inside [%q, %q)", outside, lo, hi)
	}
}
