package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/warcrec/recorder/pkg/spooledtempfile"
)

// WARC-Truncated reasons.
const (
	TruncatedLength      = "length"
	TruncatedUnspecified = "unspecified"
)

// SourceCollHeader is set by the upstream fetcher to name the collection the
// transaction was actually served from.
const SourceCollHeader = "WebAgg-Source-Coll"

// SourceIPHeader optionally carries the remote IP the fetcher connected to;
// it becomes WARC-IP-Address on the response record.
const SourceIPHeader = "WebAgg-Source-IP"

// Service is the recording intermediary. It proxies each transaction to the
// upstream fetcher, streams the response back to the client while teeing it
// into a spooled capture, and enqueues the finished capture to the writer.
type Service struct {
	// UpstreamURL is the base URL of the fetcher the ingress routes are
	// forwarded to.
	UpstreamURL string

	// Client performs upstream requests. Transparent decompression must
	// be disabled so captured bytes match the wire.
	Client *http.Client

	// Writer consumes finished captures.
	Writer *RecorderWriter

	// AcceptColls restricts recording to transactions whose source
	// collection is listed. Empty accepts everything. A rejected
	// transaction is still proxied, just not recorded.
	AcceptColls []string

	// SpillThreshold is the per-body in-memory limit before spilling to
	// TempDir. Zero selects the spooledtempfile default.
	SpillThreshold int
	TempDir        string

	// EnqueueOnDisconnect keeps reading the upstream body after the
	// client goes away so the capture is still completed and written.
	// When false the capture is dropped on client disconnect.
	EnqueueOnDisconnect bool

	// OnDiscard, when set, observes transactions that were proxied but
	// not recorded, with the reason.
	OnDiscard func(target, reason string)
}

// Routes returns the ingress router:
//
//	POST /{source}/resource/postreq?url=...   body is the raw HTTP request
//	GET  /{source}/resource?url=...           GET-only convenience form
func (s *Service) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/{source}/resource/postreq", s.handlePostReq)
	r.Get("/{source}/resource", s.handleGet)
	return r
}

// Run serves the ingress routes on addr alongside the writer goroutine,
// shutting both down cleanly when ctx is cancelled.
func (s *Service) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Routes()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.Writer.Run(gctx)
		return nil
	})
	g.Go(func() error {
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Service) handlePostReq(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		writeJSONError(w, http.StatusBadRequest, "missing url parameter")
		return
	}

	// The proxied request is buffered before the upstream call so a head
	// that never terminates is rejected without touching the fetcher.
	reqSpool := spooledtempfile.New("req", s.TempDir, s.SpillThreshold)
	reqSplit := newHeadSplitter(reqSpool)
	if _, err := io.Copy(reqSplit, r.Body); err != nil {
		reqSpool.Close()
		writeJSONError(w, http.StatusBadRequest, ErrMalformedRequest.Error())
		return
	}
	// A head without a terminating blank line is accepted as a bodiless
	// request; an empty proxied body is not.
	if !reqSplit.Finalize() {
		reqSpool.Close()
		writeJSONError(w, http.StatusBadRequest, ErrMalformedRequest.Error())
		return
	}

	body := newBlockReader(reqSplit.Raw(), reqSpool)
	s.proxy(w, r, target, reqSplit.Head(), reqSpool, body)
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		writeJSONError(w, http.StatusBadRequest, "missing url parameter")
		return
	}

	head, err := synthesizeRequestHead(target, r.Header)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, ErrMalformedRequest.Error())
		return
	}
	s.proxy(w, r, target, head, nil, nil)
}

// proxy performs the upstream round-trip and the streaming tee. reqHeadRaw
// is the request head that goes into the request record; upstreamBody, when
// non-nil, is the raw proxied request forwarded to the fetcher.
func (s *Service) proxy(w http.ResponseWriter, r *http.Request, target string, reqHeadRaw []byte, reqSpool spooledtempfile.ReadWriteSeekCloser, upstreamBody *blockReader) {
	releaseReq := func() {
		if reqSpool != nil {
			reqSpool.Close()
		}
	}

	var upBody io.Reader
	if upstreamBody != nil {
		upBody = upstreamBody
	}
	upReq, err := http.NewRequestWithContext(r.Context(), r.Method, s.UpstreamURL+r.URL.RequestURI(), upBody)
	if err != nil {
		releaseReq()
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if upstreamBody != nil {
		upReq.ContentLength = upstreamBody.Size()
	}

	resp, err := s.Client.Do(upReq)
	if err != nil {
		releaseReq()
		writeJSONError(w, http.StatusBadRequest, classifyUpstreamError(err).Error())
		return
	}
	defer resp.Body.Close()

	scope := IndexScope{
		User: r.URL.Query().Get("param.recorder.user"),
		Coll: r.URL.Query().Get("param.recorder.coll"),
	}
	sourceColl := resp.Header.Get(SourceCollHeader)

	recording := s.acceptColl(sourceColl)
	if !recording {
		s.discard(target, "collection "+sourceColl+" not accepted")
	}

	respSpool := spooledtempfile.New("resp", s.TempDir, s.SpillThreshold)
	respSplit := newHeadSplitter(respSpool)

	// The raw message is pumped into the capture splitter and, via a
	// pipe, through the HTTP parser that feeds the client. Parsing on the
	// client side strips chunked framing while the spool keeps the exact
	// wire bytes for the record block.
	pr, pw := io.Pipe()
	var upstreamErr error
	g := new(errgroup.Group)
	g.Go(func() error {
		var dst io.Writer = pw
		if recording {
			dst = io.MultiWriter(respSplit, pw)
		}
		_, err := io.Copy(dst, resp.Body)
		if err != nil {
			upstreamErr = err
		}
		pw.CloseWithError(err)
		return nil
	})

	inner, err := http.ReadResponse(bufio.NewReader(pr), nil)
	if err != nil {
		pr.CloseWithError(err)
		g.Wait()
		releaseReq()
		respSpool.Close()
		writeJSONError(w, http.StatusBadRequest, classifyUpstreamError(err).Error())
		return
	}

	for name, values := range inner.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set("Link", fmt.Sprintf("<%s>; rel=\"original\"", target))
	w.Header().Set("Memento-Datetime", time.Now().UTC().Format(http.TimeFormat))
	w.WriteHeader(inner.StatusCode)

	fw := newFlushWriter(w)
	_, copyErr := io.Copy(fw, inner.Body)
	if copyErr != nil {
		// Only a write-side failure (or a cancelled request context)
		// means the client went away. A read-side failure is the
		// upstream dying mid-body: the pump has recorded it and the
		// capture continues as a truncated record.
		clientGone := fw.err != nil || errors.Is(copyErr, context.Canceled)
		if clientGone && !s.EnqueueOnDisconnect {
			pr.CloseWithError(ErrClientDisconnect)
			g.Wait()
			releaseReq()
			respSpool.Close()
			s.discard(target, ErrClientDisconnect.Error())
			return
		}
	}
	// Drain whatever the client did not consume so the spool sees the
	// whole body.
	io.Copy(io.Discard, inner.Body)
	io.Copy(io.Discard, pr)
	g.Wait()

	if !recording {
		releaseReq()
		respSpool.Close()
		return
	}

	tx := NewCapturedTransaction(target, scope)
	tx.ReqBody = reqSpool
	tx.RespBody = respSpool
	tx.IPAddress = resp.Header.Get(SourceIPHeader)
	if upstreamErr != nil {
		tx.Truncated = TruncatedUnspecified
	}

	if err := tx.FinalizeRequest(reqHeadRaw); err != nil {
		tx.Release()
		s.discard(target, err.Error())
		return
	}
	if err := tx.FinalizeResponse(respSplit.Head()); err != nil {
		tx.Release()
		s.discard(target, err.Error())
		return
	}

	// The client already has its response; enqueue must not be cancelled
	// by the request context going away.
	if err := s.Writer.Enqueue(context.Background(), tx); err != nil {
		tx.Release()
		logrus.WithField("url", target).WithError(err).Error("enqueue capture")
	}
}

func (s *Service) acceptColl(source string) bool {
	if len(s.AcceptColls) == 0 {
		return true
	}
	for _, c := range s.AcceptColls {
		if c == source {
			return true
		}
	}
	return false
}

func (s *Service) discard(target, reason string) {
	if s.OnDiscard != nil {
		s.OnDiscard(target, reason)
	}
	logrus.WithFields(logrus.Fields{
		"url":    target,
		"reason": reason,
	}).Debug("transaction not recorded")
}

// classifyUpstreamError maps a transport failure onto the error taxonomy.
func classifyUpstreamError(err error) error {
	var nerr interface{ Timeout() bool }
	if errors.As(err, &nerr) && nerr.Timeout() {
		return ErrUpstreamTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrUpstreamTimeout
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
}

// synthesizeRequestHead builds the request head recorded for the GET-only
// ingress form, where no raw proxied request is available.
func synthesizeRequestHead(target string, inbound http.Header) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", req.URL.RequestURI())
	fmt.Fprintf(&b, "Host: %s\r\n", req.URL.Host)
	for name, values := range inbound {
		switch http.CanonicalHeaderKey(name) {
		case "Host", "Connection", "Transfer-Encoding", "Content-Length":
			continue
		}
		for _, v := range values {
			fmt.Fprintf(&b, "%s: %s\r\n", name, v)
		}
	}
	return []byte(b.String()), nil
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// flushWriter flushes the client connection after every chunk so response
// bytes stream instead of buffering until EOF. It remembers its own write
// errors so a failed copy can be attributed to the client side.
type flushWriter struct {
	w   http.ResponseWriter
	f   http.Flusher
	err error
}

func newFlushWriter(w http.ResponseWriter) *flushWriter {
	f, _ := w.(http.Flusher)
	return &flushWriter{w: w, f: f}
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err != nil && fw.err == nil {
		fw.err = err
	}
	if fw.f != nil {
		fw.f.Flush()
	}
	return n, err
}
