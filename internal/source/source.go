// Package source reads chat sessions from the ephemeral Redis store, either a
// local Redis server or Upstash Redis over its REST API.
package source

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	BackendLocal = "local-redis"
	BackendREST  = "upstash-rest"
)

// Client is the store contract shared by both backends.
type Client interface {
	// Connect verifies the store is reachable.
	Connect(ctx context.Context) error
	// ListIndexKeys returns every key matching a glob pattern.
	ListIndexKeys(ctx context.Context, pattern string) ([]string, error)
	// ReadOrderedIDs returns the members of a sorted set, most recent first.
	ReadOrderedIDs(ctx context.Context, indexKey string) ([]string, error)
	// ReadRecord returns a hash as a field map, empty when the key is absent.
	ReadRecord(ctx context.Context, sessionKey string) (map[string]string, error)
	// Backend names the implementation for logs.
	Backend() string
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	UseLocal      bool
	LocalURL      string
	RESTURL       string
	RESTToken     string
	ScanBatchSize int
	// RequestTimeout bounds each REST command. Zero disables it.
	RequestTimeout time.Duration
}

// New builds the backend selected by cfg. It does not connect.
func New(cfg Config) (Client, error) {
	if cfg.UseLocal {
		return NewLocal(cfg.LocalURL)
	}
	return NewREST(cfg.RESTURL, cfg.RESTToken,
		WithScanBatchSize(cfg.ScanBatchSize),
		WithRequestTimeout(cfg.RequestTimeout),
	)
}

// ConnectionError reports a failure talking to the store.
type ConnectionError struct {
	Backend string
	Op      string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("source: %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IndexPattern returns the glob matching every per-user session index for a
// key-space version.
func IndexPattern(version string) string {
	return "user:" + version + ":chat:*"
}

// UserIDFromIndexKey extracts the user id, the last ':'-separated segment.
func UserIDFromIndexKey(key string) string {
	if i := strings.LastIndex(key, ":"); i >= 0 {
		return key[i+1:]
	}
	return key
}
