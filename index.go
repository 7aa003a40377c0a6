package recorder

import (
	"context"
	"strings"
)

// IndexScope selects the (user, collection) namespace a transaction indexes
// into. Either field may be empty, in which case the key templates collapse
// around it.
type IndexScope struct {
	User string
	Coll string
}

// Default key templates, matching the layout replay tools expect: CDXJ rows
// in a sorted set keyed "{user}:{coll}:cdxj" and filename-to-path mappings
// in a hash keyed "{user}:{coll}:warc".
const (
	DefaultCDXKeyTemplate  = "{user}:{coll}:cdxj"
	DefaultFileKeyTemplate = "{user}:{coll}:warc"
)

// Index is the contract of the external dedup store. Rows are stored sorted
// by CDXEntry.SortKey; Insert must be atomic with respect to concurrent
// lookups from other recorder workers. Range bounds follow the
// sorted-set convention: lo inclusive, hi exclusive.
type Index interface {
	// Lookup returns the earliest non-revisit row under urlkey whose
	// payload digest matches, or nil when there is no hit.
	Lookup(ctx context.Context, scope IndexScope, urlkey, digest string) (*CDXEntry, error)

	// Insert adds one CDX row.
	Insert(ctx context.Context, scope IndexScope, entry CDXEntry) error

	// Range returns all rows with lo <= SortKey < hi, in sorted order.
	Range(ctx context.Context, scope IndexScope, lo, hi string) ([]CDXEntry, error)

	// RegisterFile records the absolute path a WARC filename resolves to.
	RegisterFile(ctx context.Context, scope IndexScope, filename, fullpath string) error

	// Files returns every registered filename -> absolute path mapping.
	Files(ctx context.Context, scope IndexScope) (map[string]string, error)

	Close() error
}

// resolveKeyTemplate substitutes {user} and {coll} in an index key template.
func resolveKeyTemplate(tpl string, scope IndexScope) string {
	key := strings.ReplaceAll(tpl, "{user}", scope.User)
	key = strings.ReplaceAll(key, "{coll}", scope.Coll)
	// An unset user leaves a dangling separator ("::coll:cdxj"); collapse
	// it so unscoped deployments get stable keys.
	for strings.Contains(key, "::") {
		key = strings.ReplaceAll(key, "::", ":")
	}
	return strings.Trim(key, ":")
}

// lookupBounds returns the sort-key range covering every row of one urlkey.
// Rows are "urlkey SP timestamp ..."; '!' is the first byte above SP, so
// [urlkey+" ", urlkey+"!") spans exactly the urlkey's rows.
func lookupBounds(urlkey string) (lo, hi string) {
	return urlkey + " ", urlkey + "!"
}

// pickOriginal returns the first row in rows whose digest matches and which
// is not itself a revisit stand-in.
func pickOriginal(rows []CDXEntry, digest string) *CDXEntry {
	for i := range rows {
		if rows[i].Digest == digest && rows[i].Mime != MimeRevisit {
			return &rows[i]
		}
	}
	return nil
}
