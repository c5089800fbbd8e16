package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chat-sync/internal/domain"
	"chat-sync/internal/metrics"
)

const (
	defaultChatVersion  = "v2"
	defaultStoreTimeout = 10 * time.Second
)

type SourceReader interface {
	ListIndexKeys(ctx context.Context, pattern string) ([]string, error)
	ReadOrderedIDs(ctx context.Context, indexKey string) ([]string, error)
	ReadRecord(ctx context.Context, sessionKey string) (map[string]string, error)
	Backend() string
}

type ChatWriter interface {
	Upsert(ctx context.Context, chat domain.MinimizedSession, userID string) error
}

type Minimizer interface {
	Minimize(raw domain.RawSession) domain.MinimizedSession
}

// PassGuard serializes passes across processes.
type PassGuard interface {
	TryAcquire(ctx context.Context, owner string) (bool, error)
	Release(ctx context.Context, owner string) error
}

// GuardRenewer is implemented by guards whose hold expires unless renewed.
// RunPass renews such a guard every RenewInterval while the pass runs.
type GuardRenewer interface {
	Renew(ctx context.Context, owner string) error
	RenewInterval() time.Duration
}

// SyncService copies every user's chats from the source store into the
// destination store, one pass at a time.
type SyncService struct {
	src       SourceReader
	dst       ChatWriter
	minimizer Minimizer

	log          zerolog.Logger
	metrics      *metrics.Metrics
	version      string
	storeTimeout time.Duration
	workers      int
	reportSaving bool
	guard        PassGuard
	owner        string
	now          func() time.Time
}

type Option func(*SyncService)

func WithLogger(l zerolog.Logger) Option {
	return func(s *SyncService) { s.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *SyncService) { s.metrics = m }
}

// WithChatVersion sets the key-space version tag of the index keys.
func WithChatVersion(v string) Option {
	return func(s *SyncService) {
		if v != "" {
			s.version = v
		}
	}
}

// WithStoreTimeout bounds every per-user store call. Key discovery is
// bounded by the source per request instead. Zero disables it.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *SyncService) { s.storeTimeout = d }
}

// WithWorkers sets how many users are synced concurrently.
func WithWorkers(n int) Option {
	return func(s *SyncService) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithSavingsReport logs the space saved by minimization per user.
func WithSavingsReport(enabled bool) Option {
	return func(s *SyncService) { s.reportSaving = enabled }
}

// WithPassGuard makes every pass hold g for its duration.
func WithPassGuard(g PassGuard) Option {
	return func(s *SyncService) { s.guard = g }
}

func NewSyncService(src SourceReader, dst ChatWriter, minimizer Minimizer, opts ...Option) (*SyncService, error) {
	if src == nil {
		return nil, errors.New("usecase: source must not be nil")
	}
	if dst == nil {
		return nil, errors.New("usecase: destination must not be nil")
	}
	if minimizer == nil {
		return nil, errors.New("usecase: minimizer must not be nil")
	}
	s := &SyncService{
		src:          src,
		dst:          dst,
		minimizer:    minimizer,
		log:          zerolog.Nop(),
		version:      defaultChatVersion,
		storeTimeout: defaultStoreTimeout,
		workers:      1,
		owner:        newUUID(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// storeCall runs fn under the per-call timeout and records its latency.
func (s *SyncService) storeCall(ctx context.Context, store, op string, fn func(ctx context.Context) error) error {
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.storeTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, s.storeTimeout)
	}
	defer cancel()

	return s.observe(store, op, func() error { return fn(callCtx) })
}

// observe records the latency and outcome of fn without bounding it.
func (s *SyncService) observe(store, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	s.metrics.RecordStoreOperation(store, op, time.Since(start), err)
	return err
}

var newUUID = func() string {
	return uuid.NewString()
}
