package recorder

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	gzip "github.com/klauspost/compress/gzip"
)

// Reader parses framed WARC records back from a byte stream. For gzip
// streams each record is expected to be its own gzip member; the reader
// reports the byte offset of every member so that CDX rows can be verified
// against the file.
type Reader struct {
	raw         *countingReader
	buf         *bufio.Reader
	compression CompressionType

	gzr    *gzip.Reader
	stream *bufio.Reader // decompressed stream for non-gzip input
}

// NewReader sniffs the compression of r and returns a record reader.
func NewReader(r io.Reader) (*Reader, error) {
	raw := &countingReader{r: r}
	buf := bufio.NewReader(raw)

	compression, err := guessCompression(buf)
	if err != nil {
		return nil, err
	}

	reader := &Reader{
		raw:         raw,
		buf:         buf,
		compression: compression,
	}

	if compression != CompressionGZIP {
		dec, err := newDecompressor(compression, buf)
		if err != nil {
			return nil, err
		}
		if br, ok := dec.(*bufio.Reader); ok {
			reader.stream = br
		} else {
			reader.stream = bufio.NewReader(dec)
		}
	}

	return reader, nil
}

// Compression returns the detected compression of the underlying stream.
func (r *Reader) Compression() CompressionType {
	return r.compression
}

// ReadRecord reads the next record and returns it together with the offset
// of its gzip member in the underlying file. For zstd and xz streams the
// offset is -1 since member boundaries do not map to records. io.EOF is
// returned after the last record.
func (r *Reader) ReadRecord() (*Record, int64, error) {
	if r.compression == CompressionGZIP {
		return r.readMember()
	}

	var offset int64 = -1
	if r.compression == CompressionNone {
		offset = r.raw.n - int64(r.stream.Buffered())
	}

	rec, err := parseRecord(r.stream)
	if err != nil {
		return nil, offset, err
	}
	return rec, offset, nil
}

func (r *Reader) readMember() (*Record, int64, error) {
	offset := r.raw.n - int64(r.buf.Buffered())

	if _, err := r.buf.Peek(1); err != nil {
		return nil, offset, io.EOF
	}

	var err error
	if r.gzr == nil {
		r.gzr, err = gzip.NewReader(r.buf)
	} else {
		err = r.gzr.Reset(r.buf)
	}
	if err != nil {
		if err == io.EOF {
			return nil, offset, io.EOF
		}
		return nil, offset, fmt.Errorf("open gzip member at %d: %w", offset, err)
	}
	r.gzr.Multistream(false)

	rec, err := parseRecord(bufio.NewReader(r.gzr))
	if err != nil {
		return nil, offset, fmt.Errorf("parse record at %d: %w", offset, err)
	}

	// Drain the rest of the member so the underlying reader is positioned
	// at the next member boundary.
	if _, err := io.Copy(io.Discard, r.gzr); err != nil {
		return nil, offset, err
	}

	return rec, offset, nil
}

// Close releases the reader's decompressor state.
func (r *Reader) Close() error {
	if r.gzr != nil {
		return r.gzr.Close()
	}
	return nil
}

// parseRecord reads one framed record: version line, header lines, blank
// line, a block of the declared Content-Length, and the CRLF CRLF record
// terminator.
func parseRecord(br *bufio.Reader) (*Record, error) {
	version, err := readLine(br)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(version, "WARC/1.") {
		return nil, fmt.Errorf("unsupported WARC version %q", version)
	}

	header := NewHeader()
	for {
		line, err := readLine(br)
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed header line %q", line)
		}
		header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	length, err := strconv.ParseInt(header.Get("Content-Length"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad Content-Length: %w", err)
	}

	block := make([]byte, length)
	if _, err := io.ReadFull(br, block); err != nil {
		return nil, fmt.Errorf("short record block: %w", err)
	}

	// Consume the record terminator; tolerate EOF right after the block.
	term := make([]byte, 4)
	if n, err := io.ReadFull(br, term); err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	} else if n == 4 && !bytes.Equal(term, []byte("\r\n\r\n")) {
		return nil, fmt.Errorf("missing record terminator, got %q", term)
	}

	return NewRecordFromBytes(header, block), nil
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		if err == io.EOF && line == "" {
			return "", io.EOF
		}
		if err == io.EOF {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
