package recorder

import (
	"context"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerIndex is an embedded dedup index backed by a badger store. CDXJ
// lines are stored as keys under the resolved scope prefix, which gives the
// same lexicographic member ordering a redis sorted set provides, with
// transactional inserts.
type BadgerIndex struct {
	db      *badger.DB
	cdxTpl  string
	fileTpl string
}

var _ Index = (*BadgerIndex)(nil)

// NewBadgerIndex opens (or creates) a badger-backed index at path. Empty
// templates select the defaults.
func NewBadgerIndex(path, cdxTpl, fileTpl string) (*BadgerIndex, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	return newBadgerIndex(opts, cdxTpl, fileTpl)
}

// NewMemoryIndex opens an in-memory badger index. Used by tests and by
// deployments that only want session-scoped dedup.
func NewMemoryIndex(cdxTpl, fileTpl string) (*BadgerIndex, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	return newBadgerIndex(opts, cdxTpl, fileTpl)
}

func newBadgerIndex(opts badger.Options, cdxTpl, fileTpl string) (*BadgerIndex, error) {
	if cdxTpl == "" {
		cdxTpl = DefaultCDXKeyTemplate
	}
	if fileTpl == "" {
		fileTpl = DefaultFileKeyTemplate
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger index: %w", err)
	}
	return &BadgerIndex{db: db, cdxTpl: cdxTpl, fileTpl: fileTpl}, nil
}

func (x *BadgerIndex) cdxPrefix(scope IndexScope) []byte {
	return []byte(resolveKeyTemplate(x.cdxTpl, scope) + ":")
}

func (x *BadgerIndex) filePrefix(scope IndexScope) []byte {
	return []byte(resolveKeyTemplate(x.fileTpl, scope) + ":")
}

func (x *BadgerIndex) Insert(ctx context.Context, scope IndexScope, entry CDXEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := entry.MarshalCDXJ()
	if err != nil {
		return err
	}
	key := append(x.cdxPrefix(scope), line...)
	err = x.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, nil)
	})
	if err != nil {
		return &IndexError{Op: "insert", Err: err}
	}
	return nil
}

func (x *BadgerIndex) Range(ctx context.Context, scope IndexScope, lo, hi string) ([]CDXEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := x.cdxPrefix(scope)

	var rows []CDXEntry
	err := x.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(append([]byte{}, append(prefix, lo...)...)); it.ValidForPrefix(prefix); it.Next() {
			line := it.Item().Key()[len(prefix):]
			if hi != "" && string(line) >= hi {
				break
			}
			entry, err := ParseCDXJ(line)
			if err != nil {
				return err
			}
			rows = append(rows, entry)
		}
		return nil
	})
	if err != nil {
		return nil, &IndexError{Op: "range", Err: err}
	}
	return rows, nil
}

func (x *BadgerIndex) Lookup(ctx context.Context, scope IndexScope, urlkey, digest string) (*CDXEntry, error) {
	lo, hi := lookupBounds(urlkey)
	rows, err := x.Range(ctx, scope, lo, hi)
	if err != nil {
		return nil, err
	}
	return pickOriginal(rows, digest), nil
}

func (x *BadgerIndex) RegisterFile(ctx context.Context, scope IndexScope, filename, fullpath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := append(x.filePrefix(scope), filename...)
	err := x.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, []byte(fullpath))
	})
	if err != nil {
		return &IndexError{Op: "register file", Err: err}
	}
	return nil
}

func (x *BadgerIndex) Files(ctx context.Context, scope IndexScope) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := x.filePrefix(scope)

	files := make(map[string]string)
	err := x.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			name := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			err := it.Item().Value(func(val []byte) error {
				files[name] = string(val)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, &IndexError{Op: "files", Err: err}
	}
	return files, nil
}

func (x *BadgerIndex) Close() error {
	return x.db.Close()
}
