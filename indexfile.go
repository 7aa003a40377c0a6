package recorder

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// IndexWARCFile walks a WARC file member by member and produces the CDXJ
// rows the live recorder would have inserted for it, sorted. filename is the
// value recorded in the rows' filename field; empty selects the basename.
// Only response and revisit records index; request and warcinfo records
// contribute member boundaries but no rows.
func IndexWARCFile(path, filename string) ([]CDXEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if filename == "" {
		filename = filepath.Base(path)
	}

	r, err := NewReader(f)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	type member struct {
		rec    *Record
		offset int64
	}
	var members []member
	for {
		rec, offset, err := r.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", path, err)
		}
		members = append(members, member{rec: rec, offset: offset})
	}

	var rows []CDXEntry
	for i, m := range members {
		end := stat.Size()
		if i+1 < len(members) {
			end = members[i+1].offset
		}

		row, ok, err := indexRecord(m.rec, m.offset, end-m.offset, filename)
		if err != nil {
			return nil, fmt.Errorf("index %s at %d: %w", path, m.offset, err)
		}
		if ok {
			rows = append(rows, row)
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].SortKey() < rows[j].SortKey()
	})
	return rows, nil
}

func indexRecord(rec *Record, offset, length int64, filename string) (CDXEntry, bool, error) {
	var row CDXEntry

	recType := rec.Header.Get("WARC-Type")
	if recType != RecordTypeResponse && recType != RecordTypeRevisit {
		return row, false, nil
	}

	target := rec.Header.Get("WARC-Target-URI")
	urlkey, err := SurtKey(target)
	if err != nil {
		return row, false, err
	}

	date, err := time.Parse(time.RFC3339, rec.Header.Get("WARC-Date"))
	if err != nil {
		return row, false, fmt.Errorf("bad WARC-Date: %w", err)
	}

	block, err := rec.Block()
	if err != nil {
		return row, false, err
	}
	head := block
	if i := bytes.Index(block, []byte("\r\n\r\n")); i >= 0 {
		head = block[:i]
	}
	parsed, err := parseHTTPHead(head)
	if err != nil {
		return row, false, err
	}

	mime := parsed.contentType()
	if recType == RecordTypeRevisit {
		mime = MimeRevisit
	}

	row = CDXEntry{
		UrlKey:    urlkey,
		Timestamp: Timestamp14(date),
		URL:       target,
		Mime:      mime,
		Status:    strconv.Itoa(parsed.statusCode()),
		Digest:    strings.TrimPrefix(rec.Header.Get("WARC-Payload-Digest"), "sha1:"),
		Length:    strconv.FormatInt(length, 10),
		Offset:    strconv.FormatInt(offset, 10),
		Filename:  filename,
	}
	return row, true, nil
}
