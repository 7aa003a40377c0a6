package recorder

import (
	"bytes"
	"io"
	"strconv"
	"strings"
	"testing"
)

// TestWriteReadRoundTrip writes a compressed record pair and reads it back,
// verifying per-member offsets and byte-exact blocks.
func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, "test.warc.gz", true)

	respBlock := []byte("HTTP/1.1 200 OK\r\nContent-Length: 3\r\n\r\nabc")
	resp := NewRecordFromBytes(NewHeader(), respBlock)
	resp.Header.Set("WARC-Type", RecordTypeResponse)
	resp.Header.Set("WARC-Target-URI", "http://example.com/")
	resp.Header.Set("Content-Type", ContentTypeHTTPResponse)

	respID, respLen, err := w.WriteRecord(resp)
	if err != nil {
		t.Fatalf("WriteRecord response error: %v", err)
	}
	if respLen <= 0 || respLen != int64(buf.Len()) {
		t.Errorf("member length mismatch: got %d, buffer has %d", respLen, buf.Len())
	}

	reqBlock := []byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")
	req := NewRecordFromBytes(NewHeader(), reqBlock)
	req.Header.Set("WARC-Type", RecordTypeRequest)
	req.Header.Set("WARC-Concurrent-To", respID)
	req.Header.Set("Content-Type", ContentTypeHTTPRequest)

	if _, _, err := w.WriteRecord(req); err != nil {
		t.Fatalf("WriteRecord request error: %v", err)
	}

	r, err := NewReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("NewReader error: %v", err)
	}
	defer r.Close()

	got1, offset1, err := r.ReadRecord()
	if err != nil {
		t.Fatalf("ReadRecord 1 error: %v", err)
	}
	if offset1 != 0 {
		t.Errorf("first member offset: got %d, want 0", offset1)
	}
	if got1.Header.Get("WARC-Record-ID") != respID {
		t.Errorf("record id mismatch: got %q, want %q", got1.Header.Get("WARC-Record-ID"), respID)
	}
	block, err := got1.Block()
	if err != nil {
		t.Fatalf("Block error: %v", err)
	}
	if !bytes.Equal(block, respBlock) {
		t.Errorf("block mismatch: got %q, want %q", block, respBlock)
	}
	if got := got1.Header.Get("Content-Length"); got != strconv.Itoa(len(respBlock)) {
		t.Errorf("Content-Length mismatch: got %q", got)
	}

	got2, offset2, err := r.ReadRecord()
	if err != nil {
		t.Fatalf("ReadRecord 2 error: %v", err)
	}
	// The second member starts where the first one ended.
	if offset2 != respLen {
		t.Errorf("second member offset: got %d, want %d", offset2, respLen)
	}
	if got2.Header.Get("WARC-Concurrent-To") != respID {
		t.Errorf("pairing lost: got %q", got2.Header.Get("WARC-Concurrent-To"))
	}

	if _, _, err := r.ReadRecord(); err != io.EOF {
		t.Errorf("expected io.EOF after last record, got %v", err)
	}
}

// TestWriteRecordUncompressed verifies the framing bytes of a plain record.
func TestWriteRecordUncompressed(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, "test.warc", false)

	rec := NewRecordFromBytes(NewHeader(), []byte("hello"))
	rec.Header.Set("WARC-Type", RecordTypeResponse)

	if _, _, err := w.WriteRecord(rec); err != nil {
		t.Fatalf("WriteRecord error: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "WARC/1.0\r\n") {
		t.Errorf("missing version line: %q", out[:20])
	}
	if !strings.HasSuffix(out, "hello\r\n\r\n") {
		t.Errorf("missing record terminator: %q", out[len(out)-20:])
	}
	if !strings.Contains(out, "Content-Length: 5\r\n") {
		t.Error("missing Content-Length header")
	}
	if !strings.Contains(out, "WARC-Block-Digest: sha1:"+GetSHA1([]byte("hello"))+"\r\n") {
		t.Error("missing or wrong WARC-Block-Digest")
	}
}

// TestWarcinfoRoundTrip emits a warcinfo record and parses it back.
func TestWarcinfoRoundTrip(t *testing.T) {
	w := NewBufferWriter("testfile.warc.gz", true)

	fields := NewHeader()
	fields.Set("software", "recorder test")
	fields.Set("format", "WARC File Format 1.0")
	fields.Set("json-metadata", `{"foo":"bar"}`)

	if _, _, err := w.WriteInfoRecord(fields); err != nil {
		t.Fatalf("WriteInfoRecord error: %v", err)
	}

	r, err := NewReader(bytes.NewReader(w.Bytes()))
	if err != nil {
		t.Fatalf("NewReader error: %v", err)
	}
	defer r.Close()

	rec, _, err := r.ReadRecord()
	if err != nil {
		t.Fatalf("ReadRecord error: %v", err)
	}

	if got := rec.Header.Get("WARC-Type"); got != RecordTypeWarcinfo {
		t.Errorf("WARC-Type mismatch: got %q", got)
	}
	if got := rec.Header.Get("Content-Type"); got != ContentTypeWarcFields {
		t.Errorf("Content-Type mismatch: got %q", got)
	}
	if got := rec.Header.Get("WARC-Filename"); got != "testfile.warc.gz" {
		t.Errorf("WARC-Filename mismatch: got %q", got)
	}

	block, err := rec.Block()
	if err != nil {
		t.Fatalf("Block error: %v", err)
	}
	body := string(block)
	for _, line := range []string{
		"software: recorder test\r\n",
		"format: WARC File Format 1.0\r\n",
		"json-metadata: {\"foo\":\"bar\"}\r\n",
	} {
		if !strings.Contains(body, line) {
			t.Errorf("warcinfo body missing %q, got %q", line, body)
		}
	}
	if got := rec.Header.Get("Content-Length"); got != strconv.Itoa(len(block)) {
		t.Errorf("Content-Length mismatch: %q vs body %d", got, len(block))
	}
}

// TestRecordIDForm checks the URN UUID form of generated record ids.
func TestRecordIDForm(t *testing.T) {
	id := NewRecordID()
	if !strings.HasPrefix(id, "<urn:uuid:") || !strings.HasSuffix(id, ">") {
		t.Errorf("unexpected record id form: %q", id)
	}
	if id == NewRecordID() {
		t.Error("record ids must be unique")
	}
}
