package recorder

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/warcrec/recorder/pkg/spooledtempfile"
)

// maxHeadBytes caps how much of a message we buffer while looking for the
// end of the HTTP head. A head that grows past this is treated as malformed.
const maxHeadBytes = 64 * 1024

// headSplitter is an io.Writer that separates an HTTP/1.x message stream
// into its head and its body as the bytes arrive. Everything up to and
// including the first CRLF CRLF goes to the head buffer; the rest is passed
// through to body untouched, so chunked framing and content encodings are
// preserved byte for byte.
type headSplitter struct {
	body   io.Writer
	head   bytes.Buffer
	inBody bool
}

func newHeadSplitter(body io.Writer) *headSplitter {
	return &headSplitter{body: body}
}

func (s *headSplitter) Write(p []byte) (int, error) {
	if s.inBody {
		return s.body.Write(p)
	}

	s.head.Write(p)
	if i := bytes.Index(s.head.Bytes(), []byte("\r\n\r\n")); i >= 0 {
		s.inBody = true
		rest := append([]byte(nil), s.head.Bytes()[i+4:]...)
		s.head.Truncate(i + 4)
		if len(rest) > 0 {
			if _, err := s.body.Write(rest); err != nil {
				return len(p), err
			}
		}
		return len(p), nil
	}

	if s.head.Len() > maxHeadBytes {
		return len(p), fmt.Errorf("%w: head exceeds %d bytes", ErrMalformedRequest, maxHeadBytes)
	}
	return len(p), nil
}

// Complete reports whether the end of the head was seen.
func (s *headSplitter) Complete() bool {
	return s.inBody
}

// Head returns the raw head block without the terminating blank line.
func (s *headSplitter) Head() []byte {
	h := s.head.Bytes()
	return bytes.TrimSuffix(h, []byte("\r\n\r\n"))
}

// Raw returns the head bytes as received, terminator included.
func (s *headSplitter) Raw() []byte {
	return s.head.Bytes()
}

// Finalize accepts a message that ended before the head terminator as a
// bodiless head. Returns false when nothing was received at all.
func (s *headSplitter) Finalize() bool {
	if !s.inBody {
		if s.head.Len() == 0 {
			return false
		}
		s.inBody = true
	}
	return true
}

// CapturedTransaction is one proxied HTTP exchange, fully buffered and ready
// to be turned into a request/response record pair. The HTTP service fills
// it in, the writer goroutine consumes it and signals completion through
// Finish.
type CapturedTransaction struct {
	TargetURI string
	Scope     IndexScope
	Date      time.Time // shared WARC-Date of both records of the pair
	IPAddress string

	ReqHead *httpHead
	ReqBody spooledtempfile.ReadWriteSeekCloser

	RespHead *httpHead
	RespBody spooledtempfile.ReadWriteSeekCloser

	// Derived at finalize time.
	Status        int
	Mime          string
	PayloadDigest string // bare uppercase base32 SHA1 of the entity body

	// Truncated holds the WARC-Truncated reason ("length" when the stream
	// ended without framing, "unspecified" on a mid-body upstream error),
	// or "" for a complete capture.
	Truncated string

	err  error
	done chan struct{}
}

// NewCapturedTransaction starts a capture for the given target URL.
func NewCapturedTransaction(targetURI string, scope IndexScope) *CapturedTransaction {
	return &CapturedTransaction{
		TargetURI: targetURI,
		Scope:     scope,
		Date:      time.Now(),
		done:      make(chan struct{}),
	}
}

// Finish resolves the capture with the writer's verdict. Must be called
// exactly once.
func (t *CapturedTransaction) Finish(err error) {
	t.err = err
	close(t.done)
}

// Wait blocks until the writer has processed the capture or ctx expires.
func (t *CapturedTransaction) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release closes both spools, removing any spill files. Safe to call more
// than once.
func (t *CapturedTransaction) Release() {
	if t.ReqBody != nil {
		t.ReqBody.Close()
	}
	if t.RespBody != nil {
		t.RespBody.Close()
	}
}

// FinalizeRequest parses the captured request head.
func (t *CapturedTransaction) FinalizeRequest(headRaw []byte) error {
	head, err := parseHTTPHead(headRaw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	t.ReqHead = head
	return nil
}

// FinalizeResponse parses the captured response head and computes the
// derived CDX fields. The payload digest covers the decoded entity body, so
// a chunked and an identity transfer of the same content dedup against each
// other.
func (t *CapturedTransaction) FinalizeResponse(headRaw []byte) error {
	head, err := parseHTTPHead(headRaw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	t.RespHead = head
	t.Status = head.statusCode()
	t.Mime = head.contentType()

	// A body with neither Content-Length nor chunked framing ends at
	// connection close; its end cannot be told from a truncation.
	if t.Truncated == "" && t.RespBody != nil && t.RespBody.Len() > 0 &&
		!head.Header.Has("Content-Length") && !head.isChunked() {
		t.Truncated = TruncatedLength
	}

	digest, err := payloadDigest(head, t.RespBody, t.Truncated != "")
	if err != nil {
		return err
	}
	t.PayloadDigest = digest
	return nil
}

// payloadDigest re-reads the buffered message through the HTTP parser so the
// digest is computed over the entity body with transfer coding stripped. A
// truncated capture has less body than its framing declares; it hashes the
// bytes that were actually seen.
func payloadDigest(head *httpHead, body spooledtempfile.ReadSeekCloser, truncated bool) (string, error) {
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	msg := io.MultiReader(bytes.NewReader(head.serialize()), body)
	resp, err := http.ReadResponse(bufio.NewReader(msg), nil)
	if err != nil {
		return "", fmt.Errorf("parse captured response: %w", err)
	}
	defer resp.Body.Close()

	sha := sha1.New()
	if _, err := io.Copy(sha, resp.Body); err != nil && !truncated {
		return "", fmt.Errorf("digest captured response: %w", err)
	}
	return encodeDigest(sha), nil
}

// blockReader presents a serialized head followed by a spooled body as one
// seekable WARC block. Body reads go through ReadAt, so the spool's own read
// position is never disturbed.
type blockReader struct {
	head []byte
	body spooledtempfile.ReadSeekCloser
	size int64
	pos  int64
}

func newBlockReader(head []byte, body spooledtempfile.ReadSeekCloser) *blockReader {
	size := int64(len(head))
	if body != nil {
		size += body.Len()
	}
	return &blockReader{head: head, body: body, size: size}
}

// Size returns the total block length.
func (b *blockReader) Size() int64 {
	return b.size
}

func (b *blockReader) Read(p []byte) (int, error) {
	if b.pos >= b.size {
		return 0, io.EOF
	}

	if b.pos < int64(len(b.head)) {
		n := copy(p, b.head[b.pos:])
		b.pos += int64(n)
		return n, nil
	}

	n, err := b.body.ReadAt(p, b.pos-int64(len(b.head)))
	b.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (b *blockReader) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = b.pos + offset
	case io.SeekEnd:
		abs = b.size + offset
	default:
		return 0, fmt.Errorf("blockReader: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("blockReader: negative position")
	}
	b.pos = abs
	return abs, nil
}
