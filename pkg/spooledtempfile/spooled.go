// Package spooledtempfile provides a write-then-read buffer that holds small
// payloads in memory and spills to a uniquely named temporary file once a
// threshold is crossed. The spill file is guaranteed to be removed on Close,
// on both the success and the abort path.
package spooledtempfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// DefaultMaxInMemorySize is the number of bytes held in memory before a
// payload spills to disk.
const DefaultMaxInMemorySize = 1024 * 1024

// ReaderAt is the interface for ReadAt - read at position, without moving
// the pointer.
type ReaderAt interface {
	ReadAt(p []byte, off int64) (n int, err error)
}

// ReadSeekCloser is an io.Reader + ReaderAt + io.Seeker + io.Closer with
// access to the backing file name.
type ReadSeekCloser interface {
	io.Reader
	io.Seeker
	ReaderAt
	io.Closer
	FileName() string
	Len() int64
}

// ReadWriteSeekCloser is a ReadSeekCloser that can first be written to.
type ReadWriteSeekCloser interface {
	ReadSeekCloser
	io.Writer
}

// spooledTempFile writes to memory, or to disk once over the threshold, and
// deletes the backing file on Close. Once Read or Seek is called, Write is
// forbidden.
type spooledTempFile struct {
	buf       *bytes.Buffer
	mem       *bytes.Reader
	file      *os.File
	prefix    string
	tempDir   string
	threshold int
	size      int64
	reading   bool // transitions at most once from false -> true
	closed    bool
}

// New returns a spooled buffer. Payloads up to threshold bytes stay in
// memory; larger ones are moved to a temp file under tempDir with a unique
// name. A threshold <= 0 selects DefaultMaxInMemorySize.
func New(prefix, tempDir string, threshold int) ReadWriteSeekCloser {
	if threshold <= 0 {
		threshold = DefaultMaxInMemorySize
	}
	return &spooledTempFile{
		prefix:    filepath.Base(prefix),
		tempDir:   tempDir,
		threshold: threshold,
		buf:       new(bytes.Buffer),
	}
}

func (s *spooledTempFile) prepareRead() error {
	if s.closed {
		return errors.New("spooledtempfile: read after close")
	}
	if s.reading && (s.file != nil || s.buf == nil || s.mem != nil) {
		return nil
	}

	s.reading = true
	if s.file != nil {
		if _, err := s.file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("seek spill file %s: %w", s.file.Name(), err)
		}
		return nil
	}

	s.mem = bytes.NewReader(s.buf.Bytes())
	s.buf = nil

	return nil
}

func (s *spooledTempFile) Read(p []byte) (int, error) {
	if err := s.prepareRead(); err != nil {
		return 0, err
	}
	if s.file != nil {
		return s.file.Read(p)
	}
	return s.mem.Read(p)
}

func (s *spooledTempFile) ReadAt(p []byte, off int64) (int, error) {
	if err := s.prepareRead(); err != nil {
		return 0, err
	}
	if s.file != nil {
		return s.file.ReadAt(p, off)
	}
	return s.mem.ReadAt(p, off)
}

func (s *spooledTempFile) Seek(offset int64, whence int) (int64, error) {
	if err := s.prepareRead(); err != nil {
		return 0, err
	}
	if s.file != nil {
		return s.file.Seek(offset, whence)
	}
	return s.mem.Seek(offset, whence)
}

func (s *spooledTempFile) Write(p []byte) (int, error) {
	if s.closed {
		return 0, errors.New("spooledtempfile: write after close")
	}
	if s.reading {
		return 0, errors.New("spooledtempfile: write after read")
	}

	if s.file != nil {
		n, err := s.file.Write(p)
		s.size += int64(n)
		return n, err
	}

	if s.buf.Len()+len(p) > s.threshold {
		file, err := os.CreateTemp(s.tempDir, s.prefix+"-"+uuid.New().String()+"-*")
		if err != nil {
			return 0, err
		}

		if _, err = io.Copy(file, s.buf); err != nil {
			file.Close()
			os.Remove(file.Name())
			return 0, err
		}
		s.buf = nil
		s.file = file

		n, err := s.file.Write(p)
		s.size += int64(n)
		if err != nil {
			s.file.Close()
			os.Remove(s.file.Name())
			s.file = nil
		}
		return n, err
	}

	n, err := s.buf.Write(p)
	s.size += int64(n)
	return n, err
}

// Len returns the number of bytes written so far.
func (s *spooledTempFile) Len() int64 {
	return s.size
}

// FileName returns the spill file path, or "" while the payload is still in
// memory.
func (s *spooledTempFile) FileName() string {
	if s.file != nil {
		return s.file.Name()
	}
	return ""
}

// Close releases the buffer and removes the spill file if one was created.
// Close is idempotent.
func (s *spooledTempFile) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	f := s.file
	s.file, s.mem, s.buf = nil, nil, nil
	if f == nil {
		return nil
	}

	f.Close()

	if err := os.Remove(f.Name()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
