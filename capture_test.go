package recorder

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/warcrec/recorder/pkg/spooledtempfile"
)

// TestHeadSplitter feeds a message in awkward chunk sizes and checks the
// head/body split lands exactly on the blank line.
func TestHeadSplitter(t *testing.T) {
	msg := []byte("HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\n\r\nhello body")

	for _, chunk := range []int{1, 3, 7, len(msg)} {
		var body bytes.Buffer
		s := newHeadSplitter(&body)

		for i := 0; i < len(msg); i += chunk {
			end := i + chunk
			if end > len(msg) {
				end = len(msg)
			}
			if _, err := s.Write(msg[i:end]); err != nil {
				t.Fatalf("chunk %d: Write error: %v", chunk, err)
			}
		}

		if !s.Complete() {
			t.Fatalf("chunk %d: head never completed", chunk)
		}
		if got := string(s.Head()); got != "HTTP/1.1 200 OK\r\nContent-Type: text/plain" {
			t.Errorf("chunk %d: head mismatch: %q", chunk, got)
		}
		if body.String() != "hello body" {
			t.Errorf("chunk %d: body mismatch: %q", chunk, body.String())
		}
	}
}

func TestHeadSplitterOversizedHead(t *testing.T) {
	s := newHeadSplitter(io.Discard)
	junk := bytes.Repeat([]byte("X-Filler: aaaaaaaa\r\n"), maxHeadBytes/16)
	if _, err := s.Write(junk); err == nil {
		t.Error("expected error for head exceeding the cap")
	}
}

// TestPayloadDigestStripsChunking verifies that a chunked and an identity
// transfer of the same entity produce the same payload digest, which is what
// makes them dedup against each other.
func TestPayloadDigestStripsChunking(t *testing.T) {
	entity := "hello world"

	identity := spooledtempfile.New("t", t.TempDir(), 0)
	identity.Write([]byte(entity))
	identityHead, _ := parseHTTPHead([]byte("HTTP/1.1 200 OK\r\nContent-Length: 11"))

	chunked := spooledtempfile.New("t", t.TempDir(), 0)
	fmt.Fprintf(chunked, "6\r\nhello \r\n5\r\nworld\r\n0\r\n\r\n")
	chunkedHead, _ := parseHTTPHead([]byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked"))

	d1, err := payloadDigest(identityHead, identity, false)
	if err != nil {
		t.Fatalf("identity digest error: %v", err)
	}
	d2, err := payloadDigest(chunkedHead, chunked, false)
	if err != nil {
		t.Fatalf("chunked digest error: %v", err)
	}

	if d1 != d2 {
		t.Errorf("digests differ: identity %q, chunked %q", d1, d2)
	}
	if d1 != GetSHA1([]byte(entity)) {
		t.Errorf("digest does not match entity SHA1: %q", d1)
	}

	identity.Close()
	chunked.Close()
}

// TestBlockReader checks reads and seeks over the head+body concatenation.
func TestBlockReader(t *testing.T) {
	body := spooledtempfile.New("t", t.TempDir(), 0)
	body.Write([]byte("0123456789"))
	defer body.Close()

	b := newBlockReader([]byte("HEAD"), body)
	if b.Size() != 14 {
		t.Fatalf("Size mismatch: got %d, want 14", b.Size())
	}

	all, err := io.ReadAll(b)
	if err != nil {
		t.Fatalf("ReadAll error: %v", err)
	}
	if string(all) != "HEAD0123456789" {
		t.Errorf("content mismatch: %q", all)
	}

	// Seek back and re-read, the way the writer does for the block digest.
	if _, err := b.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek error: %v", err)
	}
	again, err := io.ReadAll(b)
	if err != nil {
		t.Fatalf("second ReadAll error: %v", err)
	}
	if !bytes.Equal(all, again) {
		t.Error("re-read after seek differs")
	}

	if b2 := newBlockReader([]byte("ONLY"), nil); b2.Size() != 4 {
		t.Errorf("nil-body Size mismatch: got %d", b2.Size())
	}
}

// TestPayloadDigestTruncatedBody: a capture already marked truncated hashes
// the bytes it has, even though the framing declares more.
func TestPayloadDigestTruncatedBody(t *testing.T) {
	body := spooledtempfile.New("t", t.TempDir(), 0)
	body.Write([]byte("0123456789"))

	tx := NewCapturedTransaction("http://example.com/big", IndexScope{})
	tx.RespBody = body
	tx.Truncated = TruncatedUnspecified
	defer tx.Release()

	head := []byte("HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 1000")
	if err := tx.FinalizeResponse(head); err != nil {
		t.Fatalf("FinalizeResponse error: %v", err)
	}

	if tx.Truncated != TruncatedUnspecified {
		t.Errorf("truncation reason changed: %q", tx.Truncated)
	}
	if tx.PayloadDigest != GetSHA1([]byte("0123456789")) {
		t.Errorf("digest must cover the bytes seen, got %q", tx.PayloadDigest)
	}
}

// TestFinalizeResponseFramingTruncation: a body without Content-Length or
// chunked framing is marked truncated with the length reason; a complete
// chunked body is not.
func TestFinalizeResponseFramingTruncation(t *testing.T) {
	unframed := spooledtempfile.New("t", t.TempDir(), 0)
	unframed.Write([]byte("partial"))
	tx := NewCapturedTransaction("http://example.com/", IndexScope{})
	tx.RespBody = unframed
	defer tx.Release()

	if err := tx.FinalizeResponse([]byte("HTTP/1.1 200 OK\r\nContent-Type: text/plain")); err != nil {
		t.Fatalf("FinalizeResponse error: %v", err)
	}
	if tx.Truncated != TruncatedLength {
		t.Errorf("unframed body: got reason %q, want %q", tx.Truncated, TruncatedLength)
	}
	if tx.PayloadDigest != GetSHA1([]byte("partial")) {
		t.Errorf("digest mismatch: got %q", tx.PayloadDigest)
	}

	chunked := spooledtempfile.New("t", t.TempDir(), 0)
	fmt.Fprintf(chunked, "8\r\ncomplete\r\n0\r\n\r\n")
	tx2 := NewCapturedTransaction("http://example.com/", IndexScope{})
	tx2.RespBody = chunked
	defer tx2.Release()

	if err := tx2.FinalizeResponse([]byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked")); err != nil {
		t.Fatalf("FinalizeResponse chunked error: %v", err)
	}
	if tx2.Truncated != "" {
		t.Errorf("complete chunked body wrongly marked truncated: %q", tx2.Truncated)
	}
}

func TestFinalizeResponse(t *testing.T) {
	body := spooledtempfile.New("t", t.TempDir(), 0)
	body.Write([]byte(`{"foo": "bar"}`))

	tx := NewCapturedTransaction("http://httpbin.org/get?foo=bar", IndexScope{})
	tx.RespBody = body
	defer tx.Release()

	head := []byte("HTTP/1.1 200 OK\r\nContent-Type: application/json; charset=utf-8\r\nContent-Length: 14")
	if err := tx.FinalizeResponse(head); err != nil {
		t.Fatalf("FinalizeResponse error: %v", err)
	}

	if tx.Status != 200 {
		t.Errorf("status mismatch: got %d", tx.Status)
	}
	if tx.Mime != "application/json" {
		t.Errorf("mime mismatch: got %q", tx.Mime)
	}
	if tx.PayloadDigest != GetSHA1([]byte(`{"foo": "bar"}`)) {
		t.Errorf("digest mismatch: got %q", tx.PayloadDigest)
	}
}
