package source

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// redisAPI is the subset of *redis.Client used by Local.
type redisAPI interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Keys(ctx context.Context, pattern string) *redis.StringSliceCmd
	ZRangeArgs(ctx context.Context, z redis.ZRangeArgs) *redis.StringSliceCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Close() error
}

// Local talks to a Redis server over the socket protocol.
type Local struct {
	rdb redisAPI
}

// NewLocal parses a redis:// URL into a client.
func NewLocal(url string) (*Local, error) {
	if url == "" {
		return nil, errors.New("source: local redis url must not be empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, &ConnectionError{Backend: BackendLocal, Op: "parse url", Err: err}
	}
	return &Local{rdb: redis.NewClient(opts)}, nil
}

func (l *Local) Backend() string { return BackendLocal }

func (l *Local) Connect(ctx context.Context) error {
	if err := l.rdb.Ping(ctx).Err(); err != nil {
		return &ConnectionError{Backend: BackendLocal, Op: "ping", Err: err}
	}
	return nil
}

// ListIndexKeys uses KEYS, which the socket protocol offers directly.
func (l *Local) ListIndexKeys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := l.rdb.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, &ConnectionError{Backend: BackendLocal, Op: "keys", Err: err}
	}
	return keys, nil
}

func (l *Local) ReadOrderedIDs(ctx context.Context, indexKey string) ([]string, error) {
	ids, err := l.rdb.ZRangeArgs(ctx, redis.ZRangeArgs{
		Key:   indexKey,
		Start: 0,
		Stop:  -1,
		Rev:   true,
	}).Result()
	if err != nil {
		return nil, &ConnectionError{Backend: BackendLocal, Op: "zrange", Err: err}
	}
	return ids, nil
}

func (l *Local) ReadRecord(ctx context.Context, sessionKey string) (map[string]string, error) {
	fields, err := l.rdb.HGetAll(ctx, sessionKey).Result()
	if err != nil {
		return nil, &ConnectionError{Backend: BackendLocal, Op: "hgetall", Err: err}
	}
	if fields == nil {
		fields = map[string]string{}
	}
	return fields, nil
}

func (l *Local) Close() error {
	return l.rdb.Close()
}
