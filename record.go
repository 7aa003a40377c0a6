package recorder

import (
	"bytes"
	"io"

	"github.com/google/uuid"
)

// WARC record types produced or consumed by this package.
const (
	RecordTypeResponse = "response"
	RecordTypeRequest  = "request"
	RecordTypeRevisit  = "revisit"
	RecordTypeWarcinfo = "warcinfo"
)

// Content types used in record headers.
const (
	ContentTypeHTTPResponse = "application/http; msgtype=response"
	ContentTypeHTTPRequest  = "application/http; msgtype=request"
	ContentTypeWarcFields   = "application/warc-fields"
)

// RevisitProfile is the WARC 1.0 profile for identical-payload-digest
// revisit records.
const RevisitProfile = "http://netpreserve.org/warc/1.0/revisit/identical-payload-digest"

// Record is a single WARC record: its header fields plus a payload block of
// known length. Content must be positioned at the start of the block; the
// writer seeks back to the start after computing the block digest.
type Record struct {
	Header        *Header
	Content       io.ReadSeeker
	ContentLength int64
}

// NewRecord creates a record with an empty header and no content.
func NewRecord() *Record {
	return &Record{Header: NewHeader()}
}

// NewRecordFromBytes creates a record whose block is the given byte slice.
func NewRecordFromBytes(header *Header, block []byte) *Record {
	return &Record{
		Header:        header,
		Content:       bytes.NewReader(block),
		ContentLength: int64(len(block)),
	}
}

// Block reads the whole payload block into memory. Intended for parsed
// records and tests, not for the write path.
func (r *Record) Block() ([]byte, error) {
	if r.Content == nil {
		return nil, nil
	}
	if _, err := r.Content.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(r.Content)
}

// NewRecordID returns a fresh WARC-Record-ID in URN UUID form.
func NewRecordID() string {
	return "<urn:uuid:" + uuid.New().String() + ">"
}
