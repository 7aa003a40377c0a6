package recorder

import (
	"crypto/sha1"
	"encoding/base32"
	"strings"
	"testing"
	"time"
)

func TestGetSHA1(t *testing.T) {
	payload := []byte(`{"foo": "bar"}`)

	sha := sha1.Sum(payload)
	want := base32.StdEncoding.EncodeToString(sha[:])

	if got := GetSHA1(payload); got != want {
		t.Errorf("GetSHA1 mismatch: got %q, want %q", got, want)
	}
	if got := GetSHA1(payload); len(got) != 32 || got != strings.ToUpper(got) {
		t.Errorf("digest not 32-char uppercase base32: %q", got)
	}

	fromReader, err := GetSHA1FromReader(strings.NewReader(string(payload)))
	if err != nil {
		t.Fatalf("GetSHA1FromReader error: %v", err)
	}
	if fromReader != want {
		t.Errorf("GetSHA1FromReader mismatch: got %q, want %q", fromReader, want)
	}
}

func TestTimestamp14RoundTrip(t *testing.T) {
	ref := time.Date(2024, 3, 15, 9, 30, 45, 0, time.UTC)

	ts := Timestamp14(ref)
	if ts != "20240315093045" {
		t.Errorf("Timestamp14 mismatch: got %q", ts)
	}

	back, err := ParseTimestamp14(ts)
	if err != nil {
		t.Fatalf("ParseTimestamp14 error: %v", err)
	}
	if !back.Equal(ref) {
		t.Errorf("round trip mismatch: got %v, want %v", back, ref)
	}
}

func TestWARCDate(t *testing.T) {
	ref := time.Date(2024, 3, 15, 9, 30, 45, 0, time.FixedZone("CET", 3600))
	if got := WARCDate(ref); got != "2024-03-15T08:30:45Z" {
		t.Errorf("WARCDate mismatch: got %q", got)
	}
}
