package recorder

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisIndex stores CDXJ rows in redis sorted sets (score 0, lexicographic
// member order) and filename mappings in redis hashes, the layout replay
// front-ends read directly.
type RedisIndex struct {
	rdb     *redis.Client
	cdxTpl  string
	fileTpl string
}

var _ Index = (*RedisIndex)(nil)

// NewRedisIndex connects to redisURL ("redis://host:port/db"). Empty
// templates select the defaults.
func NewRedisIndex(redisURL, cdxTpl, fileTpl string) (*RedisIndex, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cdxTpl == "" {
		cdxTpl = DefaultCDXKeyTemplate
	}
	if fileTpl == "" {
		fileTpl = DefaultFileKeyTemplate
	}
	return &RedisIndex{
		rdb:     redis.NewClient(opt),
		cdxTpl:  cdxTpl,
		fileTpl: fileTpl,
	}, nil
}

func (x *RedisIndex) Insert(ctx context.Context, scope IndexScope, entry CDXEntry) error {
	line, err := entry.MarshalCDXJ()
	if err != nil {
		return err
	}
	key := resolveKeyTemplate(x.cdxTpl, scope)
	if err := x.rdb.ZAdd(ctx, key, redis.Z{Score: 0, Member: string(line)}).Err(); err != nil {
		return &IndexError{Op: "insert", Err: err}
	}
	return nil
}

func (x *RedisIndex) Range(ctx context.Context, scope IndexScope, lo, hi string) ([]CDXEntry, error) {
	key := resolveKeyTemplate(x.cdxTpl, scope)

	max := "+"
	if hi != "" {
		max = "(" + hi
	}
	lines, err := x.rdb.ZRangeByLex(ctx, key, &redis.ZRangeBy{
		Min: "[" + lo,
		Max: max,
	}).Result()
	if err != nil {
		return nil, &IndexError{Op: "range", Err: err}
	}

	rows := make([]CDXEntry, 0, len(lines))
	for _, line := range lines {
		entry, err := ParseCDXJ([]byte(line))
		if err != nil {
			return nil, &IndexError{Op: "range", Err: err}
		}
		rows = append(rows, entry)
	}
	return rows, nil
}

func (x *RedisIndex) Lookup(ctx context.Context, scope IndexScope, urlkey, digest string) (*CDXEntry, error) {
	lo, hi := lookupBounds(urlkey)
	rows, err := x.Range(ctx, scope, lo, hi)
	if err != nil {
		return nil, err
	}
	return pickOriginal(rows, digest), nil
}

func (x *RedisIndex) RegisterFile(ctx context.Context, scope IndexScope, filename, fullpath string) error {
	key := resolveKeyTemplate(x.fileTpl, scope)
	if err := x.rdb.HSet(ctx, key, filename, fullpath).Err(); err != nil {
		return &IndexError{Op: "register file", Err: err}
	}
	return nil
}

func (x *RedisIndex) Files(ctx context.Context, scope IndexScope) (map[string]string, error) {
	key := resolveKeyTemplate(x.fileTpl, scope)
	files, err := x.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, &IndexError{Op: "files", Err: err}
	}
	return files, nil
}

func (x *RedisIndex) Close() error {
	return x.rdb.Close()
}
