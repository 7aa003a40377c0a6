package recorder

import (
	"errors"
	"fmt"
)

// Error taxonomy for the recorder. The streaming tee distinguishes "client
// gone" from "upstream gone" from "disk full" because each has a different
// policy: upstream errors surface to the client as 400s, client disconnects
// never surface anywhere, and write failures are logged and swallowed so the
// service keeps running.
var (
	// ErrUpstreamUnreachable: the upstream fetcher could not be reached
	// before a response head was produced.
	ErrUpstreamUnreachable = errors.New("upstream unreachable")

	// ErrUpstreamTimeout: the upstream read exceeded the configured
	// timeout.
	ErrUpstreamTimeout = errors.New("upstream timeout")

	// ErrClientDisconnect: the client went away while the response body
	// was being streamed.
	ErrClientDisconnect = errors.New("client disconnected")

	// ErrMalformedRequest: the proxied request head could not be parsed.
	ErrMalformedRequest = errors.New("malformed proxied request")

	// ErrWriterClosed: a capture was enqueued after shutdown.
	ErrWriterClosed = errors.New("record writer closed")
)

// WriteError wraps a failure to append to a WARC file. The handle is closed
// and evicted from the cache; the next transaction to the same destination
// reopens it.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("warc write to %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// IndexError wraps a dedup index failure. Depending on the configured mode
// it is either treated like a WriteError (strict) or the record is written
// in full without dedup (lenient).
type IndexError struct {
	Op  string
	Err error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("dedup index %s: %v", e.Op, e.Err)
}

func (e *IndexError) Unwrap() error {
	return e.Err
}
