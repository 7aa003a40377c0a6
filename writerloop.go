package recorder

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/paulbellamy/ratecounter"
	"github.com/sirupsen/logrus"
)

// DefaultQueueSize is the capture queue capacity. A full queue applies
// backpressure to the HTTP handlers, which block in Enqueue until the writer
// catches up.
const DefaultQueueSize = 512

// WriterStats is a snapshot of writer counters.
type WriterStats struct {
	Written   int64 // full response pairs written
	Revisits  int64 // revisit pairs written
	Skipped   int64 // captures dropped by the skip policy
	Failed    int64 // captures that ended in error
	PerMinute int64 // pairs committed over the last minute
}

// RecorderWriter serializes all WARC output through a single goroutine. It
// owns the file-handle cache and is the only writer to the dedup index, so
// records within one recorder never interleave and same-URL captures dedup
// against each other deterministically.
type RecorderWriter struct {
	Files *FileManager
	Index Index

	// Policy decides what to do on a dedup hit. Nil disables dedup.
	Policy DupePolicy

	// ExcludeHeaders is applied to both heads before serialization.
	ExcludeHeaders HeaderFilter

	// StrictIndex fails the capture on index errors instead of writing
	// the record in full without dedup.
	StrictIndex bool

	queue chan *CapturedTransaction
	stop  chan struct{}
	done  chan struct{}

	closed   atomic.Bool
	written  atomic.Int64
	revisits atomic.Int64
	skipped  atomic.Int64
	failed   atomic.Int64
	rate     *ratecounter.RateCounter
}

// NewRecorderWriter creates a writer over the given file manager and index.
// The manager's OnOpen hook is claimed to register every opened file with
// the index.
func NewRecorderWriter(files *FileManager, index Index, queueSize int) *RecorderWriter {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	w := &RecorderWriter{
		Files: files,
		Index: index,
		queue: make(chan *CapturedTransaction, queueSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		rate:  ratecounter.NewRateCounter(time.Minute),
	}
	if index != nil {
		files.OnOpen = func(scope IndexScope, path, filename string) error {
			err := index.RegisterFile(context.Background(), scope, filename, path)
			if err != nil && !w.StrictIndex {
				logrus.WithField("file", filename).WithError(err).Warn("register WARC file")
				return nil
			}
			return err
		}
	}
	return w
}

// Enqueue hands a finalized capture to the writer goroutine. It blocks while
// the queue is full and fails with ErrWriterClosed after shutdown.
func (w *RecorderWriter) Enqueue(ctx context.Context, t *CapturedTransaction) error {
	if w.closed.Load() {
		return ErrWriterClosed
	}
	select {
	case w.queue <- t:
		return nil
	case <-w.stop:
		return ErrWriterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes the queue until Stop is called or ctx is cancelled. Queued
// captures are drained before the file handles are closed, so an accepted
// capture is never silently dropped.
func (w *RecorderWriter) Run(ctx context.Context) {
	defer close(w.done)

	var tick <-chan time.Time
	if w.Files.IdleTimeout > 0 {
		ticker := time.NewTicker(w.Files.IdleTimeout / 2)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case t := <-w.queue:
			w.writeOne(ctx, t)
		case <-tick:
			w.Files.CloseIdle(time.Now())
		case <-w.stop:
			w.drain(ctx)
			w.Files.Close()
			return
		case <-ctx.Done():
			w.closed.Store(true)
			w.drain(context.Background())
			w.Files.Close()
			return
		}
	}
}

func (w *RecorderWriter) drain(ctx context.Context) {
	for {
		select {
		case t := <-w.queue:
			w.writeOne(ctx, t)
		default:
			return
		}
	}
}

// Stop closes the queue to new captures, waits for the writer goroutine to
// drain and closes every open file.
func (w *RecorderWriter) Stop() {
	if w.closed.CompareAndSwap(false, true) {
		close(w.stop)
	}
	<-w.done
}

// DrainOne synchronously processes the next queued capture on the caller's
// goroutine. It exists so tests can drive the writer deterministically
// without starting Run.
func (w *RecorderWriter) DrainOne(ctx context.Context) error {
	select {
	case t := <-w.queue:
		w.writeOne(ctx, t)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the writer counters.
func (w *RecorderWriter) Stats() WriterStats {
	return WriterStats{
		Written:   w.written.Load(),
		Revisits:  w.revisits.Load(),
		Skipped:   w.skipped.Load(),
		Failed:    w.failed.Load(),
		PerMinute: w.rate.Rate(),
	}
}

// writeOne commits a single capture: dedup decision, record pair, fsync,
// index rows. The capture is always finished and released before returning.
func (w *RecorderWriter) writeOne(ctx context.Context, t *CapturedTransaction) {
	err := w.commit(ctx, t)
	if err != nil {
		w.failed.Add(1)
		logrus.WithFields(logrus.Fields{
			"component": "writer",
			"url":       t.TargetURI,
		}).WithError(err).Error("capture failed")
	}
	t.Finish(err)
	t.Release()
}

func (w *RecorderWriter) commit(ctx context.Context, t *CapturedTransaction) error {
	urlkey, err := SurtKey(t.TargetURI)
	if err != nil {
		return err
	}

	action := DupeWriteFull
	var existing *CDXEntry
	if w.Policy != nil && w.Index != nil {
		existing, err = w.lookup(ctx, t.Scope, urlkey, t.PayloadDigest)
		if err != nil {
			return err
		}
		action = w.Policy.Decide(existing)
	}

	if action == DupeSkip {
		w.skipped.Add(1)
		return nil
	}

	f, err := w.Files.GetHandle(t.Scope)
	if err != nil {
		return err
	}

	respRec := w.buildResponseRecord(t, action, existing)
	reqRec := w.buildRequestRecord(t, respRec.Header.Get("WARC-Record-ID"))

	respOffset, respLen, err := f.WriteRecord(respRec)
	if err != nil {
		w.Files.Invalidate(f)
		return err
	}
	if _, _, err := f.WriteRecord(reqRec); err != nil {
		w.Files.Invalidate(f)
		return err
	}
	if err := f.Sync(); err != nil {
		w.Files.Invalidate(f)
		return err
	}

	filename := f.Filename
	if w.Files.PerRecord {
		w.Files.CloseHandle(f.Key)
	}

	if w.Index != nil {
		if err := w.insertRows(ctx, t, action, existing, urlkey, filename, respOffset, respLen); err != nil {
			return err
		}
	}

	if action == DupeWriteRevisit {
		w.revisits.Add(1)
	} else {
		w.written.Add(1)
	}
	w.rate.Incr(1)
	return nil
}

// lookup consults the dedup index, honoring the strict/lenient mode: in
// lenient mode an index failure degrades to "no hit" so the record is still
// written in full.
func (w *RecorderWriter) lookup(ctx context.Context, scope IndexScope, urlkey, digest string) (*CDXEntry, error) {
	existing, err := w.Index.Lookup(ctx, scope, urlkey, digest)
	if err == nil {
		return existing, nil
	}
	if w.StrictIndex {
		return nil, err
	}
	logrus.WithField("urlkey", urlkey).WithError(err).Warn("dedup lookup failed, writing in full")
	return nil, nil
}

func (w *RecorderWriter) buildResponseRecord(t *CapturedTransaction, action DupeAction, existing *CDXEntry) *Record {
	head := &httpHead{
		StartLine: t.RespHead.StartLine,
		Header:    filterHead(t.RespHead.Header, w.ExcludeHeaders),
	}
	headBytes := head.serialize()

	rec := NewRecord()
	rec.Header.Set("WARC-Record-ID", NewRecordID())
	rec.Header.Set("WARC-Date", WARCDate(t.Date))
	rec.Header.Set("WARC-Target-URI", t.TargetURI)
	rec.Header.Set("Content-Type", ContentTypeHTTPResponse)
	rec.Header.Set("WARC-Payload-Digest", "sha1:"+t.PayloadDigest)
	if t.IPAddress != "" {
		rec.Header.Set("WARC-IP-Address", t.IPAddress)
	}
	if t.Truncated != "" {
		rec.Header.Set("WARC-Truncated", t.Truncated)
	}

	if action == DupeWriteRevisit {
		// A revisit block is the response head alone; the body lives in
		// the record the revisit refers to.
		rec.Header.Set("WARC-Type", RecordTypeRevisit)
		rec.Header.Set("WARC-Profile", RevisitProfile)
		rec.Header.Set("WARC-Refers-To-Target-URI", existing.URL)
		if prior, err := ParseTimestamp14(existing.Timestamp); err == nil {
			rec.Header.Set("WARC-Refers-To-Date", WARCDate(prior))
		}
		rec.Content = newBlockReader(headBytes, nil)
		rec.ContentLength = int64(len(headBytes))
		return rec
	}

	rec.Header.Set("WARC-Type", RecordTypeResponse)
	block := newBlockReader(headBytes, t.RespBody)
	rec.Content = block
	rec.ContentLength = block.Size()
	return rec
}

func (w *RecorderWriter) buildRequestRecord(t *CapturedTransaction, concurrentTo string) *Record {
	head := &httpHead{
		StartLine: t.ReqHead.StartLine,
		Header:    filterHead(t.ReqHead.Header, w.ExcludeHeaders),
	}
	headBytes := head.serialize()

	rec := NewRecord()
	rec.Header.Set("WARC-Type", RecordTypeRequest)
	rec.Header.Set("WARC-Record-ID", NewRecordID())
	rec.Header.Set("WARC-Date", WARCDate(t.Date))
	rec.Header.Set("WARC-Target-URI", t.TargetURI)
	rec.Header.Set("WARC-Concurrent-To", concurrentTo)
	rec.Header.Set("Content-Type", ContentTypeHTTPRequest)

	block := newBlockReader(headBytes, t.ReqBody)
	rec.Content = block
	rec.ContentLength = block.Size()
	return rec
}

// insertRows records the capture in the index: one row for the record that
// was written, plus, under the dupe policy, a revisit row pointing back at
// the original so replay can pick either copy.
func (w *RecorderWriter) insertRows(ctx context.Context, t *CapturedTransaction, action DupeAction, existing *CDXEntry, urlkey, filename string, offset, length int64) error {
	ts := Timestamp14(t.Date)

	row := CDXEntry{
		UrlKey:    urlkey,
		Timestamp: ts,
		URL:       t.TargetURI,
		Mime:      t.Mime,
		Status:    strconv.Itoa(t.Status),
		Digest:    t.PayloadDigest,
		Length:    strconv.FormatInt(length, 10),
		Offset:    strconv.FormatInt(offset, 10),
		Filename:  filename,
	}
	if action == DupeWriteRevisit {
		row.Mime = MimeRevisit
	}

	if err := w.insert(ctx, t.Scope, row); err != nil {
		return err
	}

	if action == DupeWriteDupe {
		dupe := CDXEntry{
			UrlKey:    urlkey,
			Timestamp: ts,
			URL:       existing.URL,
			Mime:      MimeRevisit,
			Status:    existing.Status,
			Digest:    existing.Digest,
			Length:    existing.Length,
			Offset:    existing.Offset,
			Filename:  existing.Filename,
		}
		if err := w.insert(ctx, t.Scope, dupe); err != nil {
			return err
		}
	}
	return nil
}

func (w *RecorderWriter) insert(ctx context.Context, scope IndexScope, row CDXEntry) error {
	err := w.Index.Insert(ctx, scope, row)
	if err == nil {
		return nil
	}
	var ierr *IndexError
	if !w.StrictIndex && errors.As(err, &ierr) {
		logrus.WithField("urlkey", row.UrlKey).WithError(err).Warn("cdx insert failed")
		return nil
	}
	return err
}
