package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultFilenameTemplate is appended when the destination template
// resolves to a directory.
const DefaultFilenameTemplate = "rec-{timestamp}-{hostname}.warc.gz"

// FileManager maps a templated destination path to an open append handle.
// Handles are cached so consecutive captures to the same destination share
// one file; the cache key is the template with {user}, {coll} and
// {hostname} resolved but {timestamp} left in place, so a destination keeps
// its handle across seconds. The manager is owned exclusively by the writer
// goroutine; it performs no locking of its own.
type FileManager struct {
	// Template is the destination path, relative to Root unless absolute.
	Template *PathTemplate

	// Root is the archive root. CDX filenames are recorded relative to it.
	Root string

	// PerRecord closes the handle after every record pair, producing one
	// file per capture.
	PerRecord bool

	// IdleTimeout closes handles untouched for this long on the next
	// maintenance tick. Zero disables idle rollover.
	IdleTimeout time.Duration

	// MaxFileSize rotates a handle once its file grows past this many
	// bytes. Zero disables size rollover.
	MaxFileSize int64

	// WarcinfoFields, when set, are written as a warcinfo record on the
	// first open of every new file.
	WarcinfoFields *Header

	// OnOpen is called once per opened file with its absolute path and
	// its root-relative name; the writer loop uses it to register the
	// file with the dedup index.
	OnOpen func(scope IndexScope, path, filename string) error

	cache    map[string]*OpenFile
	serial   uint64
	hostname string
}

// OpenFile is one cached append handle.
type OpenFile struct {
	Key      string // partially resolved template, the cache key
	Path     string // absolute path
	Filename string // path relative to the archive root

	file         *os.File
	warc         *Writer
	lastTouch    time.Time
	bytesWritten int64
}

// NewFileManager creates a manager writing under root with the given
// destination template.
func NewFileManager(root, template string) *FileManager {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if template == "" {
		template = DefaultFilenameTemplate
	}
	return &FileManager{
		Template: CompilePathTemplate(template),
		Root:     root,
		cache:    make(map[string]*OpenFile),
		hostname: hostname,
	}
}

// Size returns the number of cached handles.
func (fm *FileManager) Size() int {
	return len(fm.cache)
}

// GetHandle resolves the template for the given scope and returns an open
// append handle, reusing a cached one when possible.
func (fm *FileManager) GetHandle(scope IndexScope) (*OpenFile, error) {
	partial := map[string]string{
		"user":     scope.User,
		"coll":     scope.Coll,
		"hostname": fm.hostname,
	}
	key := fm.Template.Resolve(partial)

	if f, ok := fm.cache[key]; ok {
		if fm.MaxFileSize > 0 && f.bytesWritten >= fm.MaxFileSize {
			fm.closeHandle(f)
		} else {
			f.lastTouch = time.Now()
			return f, nil
		}
	}

	f, err := fm.open(key, scope)
	if err != nil {
		return nil, err
	}
	fm.cache[key] = f
	return f, nil
}

func (fm *FileManager) open(key string, scope IndexScope) (*OpenFile, error) {
	vars := map[string]string{
		"user":      scope.User,
		"coll":      scope.Coll,
		"hostname":  fm.hostname,
		"timestamp": Timestamp14(time.Now()),
	}

	rel := fm.Template.ResolveFull(vars)
	if rel == "" || strings.HasSuffix(rel, "/") {
		rel += CompilePathTemplate(DefaultFilenameTemplate).ResolveFull(vars)
	}

	path := rel
	if !filepath.IsAbs(path) {
		path = filepath.Join(fm.Root, rel)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &WriteError{Path: path, Err: err}
	}

	// Same-second captures in per-record mode resolve to the same path;
	// add a serial so every capture still gets its own file.
	if fm.PerRecord {
		for fileExists(path) {
			fm.serial++
			ext := ".warc.gz"
			base := strings.TrimSuffix(path, ext)
			if base == path {
				ext = filepath.Ext(path)
				base = strings.TrimSuffix(path, ext)
			}
			path = fmt.Sprintf("%s-%05d%s", base, fm.serial, ext)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, &WriteError{Path: path, Err: err}
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, &WriteError{Path: path, Err: err}
	}

	filename, err := filepath.Rel(fm.Root, path)
	if err != nil {
		filename = filepath.Base(path)
	}

	f := &OpenFile{
		Key:          key,
		Path:         path,
		Filename:     filepath.ToSlash(filename),
		file:         file,
		warc:         NewWriter(file, filepath.Base(path), true),
		lastTouch:    time.Now(),
		bytesWritten: stat.Size(),
	}

	if fm.WarcinfoFields != nil && f.bytesWritten == 0 {
		_, n, err := f.warc.WriteInfoRecord(fm.WarcinfoFields)
		if err != nil {
			fm.closeHandle(f)
			return nil, &WriteError{Path: path, Err: err}
		}
		f.bytesWritten += n
	}

	if fm.OnOpen != nil {
		if err := fm.OnOpen(scope, f.Path, f.Filename); err != nil {
			fm.closeHandle(f)
			return nil, err
		}
	}

	logrus.WithFields(logrus.Fields{
		"component": "filemanager",
		"path":      path,
	}).Debug("opened WARC file")

	return f, nil
}

// WriteRecord appends one record and returns its member offset and
// compressed length within the file.
func (f *OpenFile) WriteRecord(rec *Record) (offset, length int64, err error) {
	offset = f.bytesWritten
	_, length, err = f.warc.WriteRecord(rec)
	f.bytesWritten += length
	f.lastTouch = time.Now()
	if err != nil {
		return offset, length, &WriteError{Path: f.Path, Err: err}
	}
	return offset, length, nil
}

// Sync flushes the file to stable storage.
func (f *OpenFile) Sync() error {
	if err := f.file.Sync(); err != nil {
		return &WriteError{Path: f.Path, Err: err}
	}
	return nil
}

// CloseHandle closes and drops the handle for the given cache key.
func (fm *FileManager) CloseHandle(key string) {
	if f, ok := fm.cache[key]; ok {
		fm.closeHandle(f)
	}
}

// Invalidate closes and drops a handle whose file is in an unknown state
// after a write error. The next capture to the same destination reopens.
func (fm *FileManager) Invalidate(f *OpenFile) {
	fm.closeHandle(f)
}

// CloseFile closes and drops every cached handle whose resolved path or
// cache key begins with the given prefix.
func (fm *FileManager) CloseFile(prefix string) {
	for _, f := range fm.cache {
		if strings.HasPrefix(f.Path, prefix) || strings.HasPrefix(f.Key, prefix) {
			fm.closeHandle(f)
		}
	}
}

// CloseIdle closes handles untouched for longer than IdleTimeout.
func (fm *FileManager) CloseIdle(now time.Time) {
	if fm.IdleTimeout <= 0 {
		return
	}
	for _, f := range fm.cache {
		if now.Sub(f.lastTouch) >= fm.IdleTimeout {
			fm.closeHandle(f)
		}
	}
}

// Close closes every cached handle.
func (fm *FileManager) Close() {
	for _, f := range fm.cache {
		fm.closeHandle(f)
	}
}

func (fm *FileManager) closeHandle(f *OpenFile) {
	delete(fm.cache, f.Key)
	if err := f.file.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "filemanager",
			"path":      f.Path,
		}).WithError(err).Warn("closing WARC file")
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
