package recorder

import (
	"crypto/sha1"
	"encoding/base32"
	"hash"
	"io"
	"time"
)

// GetSHA1 returns the uppercase base32 SHA1 of a []byte, the form used in
// WARC-Payload-Digest and WARC-Block-Digest headers (without the "sha1:"
// prefix).
func GetSHA1(content []byte) string {
	sha := sha1.New()
	sha.Write(content)
	return base32.StdEncoding.EncodeToString(sha.Sum(nil))
}

// GetSHA1FromReader consumes r and returns the uppercase base32 SHA1 of its
// contents.
func GetSHA1FromReader(r io.Reader) (string, error) {
	sha := sha1.New()
	if _, err := io.Copy(sha, r); err != nil {
		return "", err
	}
	return base32.StdEncoding.EncodeToString(sha.Sum(nil)), nil
}

func encodeDigest(h hash.Hash) string {
	return base32.StdEncoding.EncodeToString(h.Sum(nil))
}

// Timestamp14 formats t as the 14-digit UTC timestamp used in CDX rows and
// path templates.
func Timestamp14(t time.Time) string {
	return t.UTC().Format("20060102150405")
}

// ParseTimestamp14 is the inverse of Timestamp14.
func ParseTimestamp14(s string) (time.Time, error) {
	return time.Parse("20060102150405", s)
}

// WARCDate formats t the way WARC-Date headers expect.
func WARCDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}
