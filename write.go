package recorder

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"io"
	"strconv"
	"time"

	gzip "github.com/klauspost/compress/gzip"
)

// Writer writes WARC records to an underlying stream. When compression is
// enabled, every record becomes its own gzip member ended by a gzip trailer,
// so readers can locate records by scanning members and a record can be
// extracted by decompressing a single member at a known offset.
type Writer struct {
	FileName string
	Compress bool

	target io.Writer
	gzw    *gzip.Writer // reused across records via Reset
}

// NewWriter creates a WARC writer targeting w. fileName is only used to fill
// the WARC-Filename header of warcinfo records.
func NewWriter(w io.Writer, fileName string, compress bool) *Writer {
	writer := &Writer{
		FileName: fileName,
		Compress: compress,
		target:   w,
	}
	if compress {
		writer.gzw = gzip.NewWriter(nil)
	}
	return writer
}

// WriteRecord writes one record and returns the number of bytes it occupies
// on the underlying stream (the compressed member size when compression is
// on). A record consists of the version line, the header lines, a blank
// line, the payload block of the declared length, and a trailing CRLF CRLF:
//
//	WARC/1.0 CRLF
//	Header-Key: Header-Value CRLF
//	CRLF
//	Block
//	CRLF
//	CRLF
//
// Mandatory fields (WARC-Record-ID, WARC-Date, WARC-Type, Content-Length,
// WARC-Block-Digest) are filled in if absent.
func (w *Writer) WriteRecord(r *Record) (recordID string, written int64, err error) {
	if r.Header.Get("WARC-Date") == "" {
		r.Header.Set("WARC-Date", WARCDate(time.Now()))
	}
	if r.Header.Get("WARC-Type") == "" {
		r.Header.Set("WARC-Type", "resource")
	}
	recordID = r.Header.Get("WARC-Record-ID")
	if recordID == "" {
		recordID = NewRecordID()
		r.Header.Set("WARC-Record-ID", recordID)
	}

	if r.Header.Get("Content-Length") == "" {
		r.Header.Set("Content-Length", strconv.FormatInt(r.ContentLength, 10))
	}

	if r.Header.Get("WARC-Block-Digest") == "" && r.Content != nil {
		digest, err := w.blockDigest(r)
		if err != nil {
			return recordID, 0, err
		}
		r.Header.Set("WARC-Block-Digest", "sha1:"+digest)
	}

	counter := &countingWriter{w: w.target}
	var dst io.Writer = counter
	if w.Compress {
		w.gzw.Reset(counter)
		dst = w.gzw
	}

	if err := w.writeRecordTo(dst, r); err != nil {
		return recordID, counter.n, err
	}

	if w.Compress {
		// Close emits the gzip trailer that ends this member. The
		// gzip.Writer itself is reused for the next record.
		if err := w.gzw.Close(); err != nil {
			return recordID, counter.n, err
		}
	}

	return recordID, counter.n, nil
}

func (w *Writer) writeRecordTo(dst io.Writer, r *Record) error {
	if _, err := io.WriteString(dst, "WARC/1.0\r\n"); err != nil {
		return err
	}

	for _, f := range r.Header.Fields() {
		if _, err := io.WriteString(dst, f.Name+": "+f.Value+"\r\n"); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(dst, "\r\n"); err != nil {
		return err
	}

	if r.Content != nil {
		if _, err := r.Content.Seek(0, io.SeekStart); err != nil {
			return err
		}
		n, err := io.Copy(dst, io.LimitReader(r.Content, r.ContentLength))
		if err != nil {
			return err
		}
		if n != r.ContentLength {
			return fmt.Errorf("record block short: wrote %d of %d bytes", n, r.ContentLength)
		}
	}

	_, err := io.WriteString(dst, "\r\n\r\n")
	return err
}

// blockDigest hashes the payload block. The content is seeked back to the
// start so the subsequent serialization reads the same bytes.
func (w *Writer) blockDigest(r *Record) (string, error) {
	if _, err := r.Content.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	sha := sha1.New()
	if _, err := io.Copy(sha, io.LimitReader(r.Content, r.ContentLength)); err != nil {
		return "", err
	}
	if _, err := r.Content.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return encodeDigest(sha), nil
}

// BufferWriter collects records in memory. Used by tests and by tooling
// that needs a record's serialized bytes without a backing file.
type BufferWriter struct {
	*Writer
	buf *bytes.Buffer
}

// NewBufferWriter creates an in-memory WARC writer.
func NewBufferWriter(fileName string, compress bool) *BufferWriter {
	buf := new(bytes.Buffer)
	return &BufferWriter{
		Writer: NewWriter(buf, fileName, compress),
		buf:    buf,
	}
}

// Bytes returns everything written so far.
func (b *BufferWriter) Bytes() []byte {
	return b.buf.Bytes()
}

// WriteInfoRecord writes a warcinfo record. The block is the given fields
// serialized as "key: value CRLF" lines (application/warc-fields). Field
// order is preserved; recognized keys like software, format and
// json-metadata carry no special treatment beyond being ordinary fields.
func (w *Writer) WriteInfoRecord(fields *Header) (recordID string, written int64, err error) {
	info := NewRecord()
	info.Header.Set("WARC-Type", RecordTypeWarcinfo)
	info.Header.Set("WARC-Record-ID", NewRecordID())
	info.Header.Set("WARC-Date", WARCDate(time.Now()))
	info.Header.Set("WARC-Filename", w.FileName)
	info.Header.Set("Content-Type", ContentTypeWarcFields)

	var body []byte
	for _, f := range fields.Fields() {
		body = append(body, f.Name+": "+f.Value+"\r\n"...)
	}
	rec := NewRecordFromBytes(info.Header, body)

	return w.WriteRecord(rec)
}
