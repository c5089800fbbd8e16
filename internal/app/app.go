// Package app wires the configured stores, minimizer and sync service
// together and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"chat-sync/internal/config"
	"chat-sync/internal/integrations/paramstore"
	"chat-sync/internal/logger"
	"chat-sync/internal/metrics"
	"chat-sync/internal/minimize"
	"chat-sync/internal/repository"
	"chat-sync/internal/server"
	"chat-sync/internal/source"
	"chat-sync/internal/usecase"
)

const shutdownTimeout = 5 * time.Second

var _ usecase.GuardRenewer = (*repository.Lease)(nil)

// Destination is the document store as seen by the app.
type Destination interface {
	repository.ChatWriter
	EnsureIndexes(ctx context.Context) error
	Close(ctx context.Context) error
}

// Test seams.
var (
	newSource    = source.New
	connectMongo = func(ctx context.Context, uri, database, collection string) (Destination, error) {
		return repository.Connect(ctx, uri, database, collection)
	}
	loadAWSConfig = func(ctx context.Context) (aws.Config, error) {
		return awsconfig.LoadDefaultConfig(ctx)
	}
	newLeaseGuard = func(cfg aws.Config, table string, ttl time.Duration) (usecase.PassGuard, error) {
		return repository.NewLease(awsdynamodb.NewFromConfig(cfg), table, ttl)
	}
	newParamGetter = func(cfg aws.Config) (paramstore.Getter, error) {
		return paramstore.New(awsssm.NewFromConfig(cfg))
	}
)

// App owns every long-lived resource of the process.
type App struct {
	cfg      config.Config
	log      zerolog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	mu      sync.Mutex
	server  *server.ObservabilityServer
	src     source.Client
	dst     Destination
	service *usecase.SyncService

	closeOnce sync.Once
	closeErr  error
}

// New builds an App for a validated configuration. Nothing is opened yet.
func New(cfg config.Config, log zerolog.Logger) *App {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &App{
		cfg:      cfg,
		log:      log,
		registry: reg,
		metrics:  metrics.NewMetrics(reg),
	}
}

func (a *App) Metrics() *metrics.Metrics { return a.metrics }

func (a *App) Registry() *prometheus.Registry { return a.registry }

// StartServer starts the observability endpoints when METRICS_ADDR is set.
func (a *App) StartServer(ready server.ReadyFunc) error {
	if a.cfg.MetricsAddr == "" {
		return nil
	}
	srv := server.NewObservabilityServer(a.cfg.MetricsAddr, a.registry, ready, logger.Component(a.log, "server"))
	if err := srv.Start(); err != nil {
		return err
	}
	a.mu.Lock()
	a.server = srv
	a.mu.Unlock()
	return nil
}

// Connect opens the source and destination stores and returns the sync
// service bound to them. On failure everything opened so far is released.
func (a *App) Connect(ctx context.Context) (*usecase.SyncService, error) {
	src, err := newSource(a.cfg.Source())
	if err != nil {
		return nil, err
	}
	if err := src.Connect(ctx); err != nil {
		_ = src.Close()
		return nil, err
	}
	a.log.Info().Str("backend", src.Backend()).Msg("source connected")

	dst, err := connectMongo(ctx, a.cfg.MongoURI, a.cfg.MongoDatabase, a.cfg.MongoCollection)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	a.log.Info().
		Str("database", a.cfg.MongoDatabase).
		Str("collection", a.cfg.MongoCollection).
		Msg("destination connected")

	a.mu.Lock()
	a.src, a.dst = src, dst
	a.mu.Unlock()

	if err := dst.EnsureIndexes(ctx); err != nil {
		a.log.Warn().Err(err).Msg("ensure destination indexes")
	}

	opts := []usecase.Option{
		usecase.WithLogger(logger.Component(a.log, "sync")),
		usecase.WithMetrics(a.metrics),
		usecase.WithChatVersion(a.cfg.ChatVersion),
		usecase.WithStoreTimeout(a.cfg.StoreTimeout),
		usecase.WithWorkers(a.cfg.Workers),
		usecase.WithSavingsReport(a.cfg.Optimize),
	}
	if a.cfg.LeaseTable != "" {
		guard, err := a.leaseGuard(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, usecase.WithPassGuard(guard))
	}

	minimizer := minimize.New(a.cfg.MinimizeOptions(), time.Now)
	service, err := usecase.NewSyncService(src, dst, minimizer, opts...)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.service = service
	a.mu.Unlock()
	return service, nil
}

func (a *App) leaseGuard(ctx context.Context) (usecase.PassGuard, error) {
	awsCfg, err := loadAWSConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load AWS config: %w", err)
	}
	guard, err := newLeaseGuard(awsCfg, a.cfg.LeaseTable, a.cfg.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("app: pass lease: %w", err)
	}
	a.log.Info().Str("table", a.cfg.LeaseTable).Dur("ttl", a.cfg.LeaseTTL).Msg("pass lease enabled")
	return guard, nil
}

// Close releases the observability server and both stores. Only the first
// call does any work; later calls return the same result.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		a.mu.Lock()
		srv, src, dst := a.server, a.src, a.dst
		a.mu.Unlock()

		var errs []error
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("app: server shutdown: %w", err))
			}
		}
		if src != nil {
			if err := src.Close(); err != nil {
				errs = append(errs, fmt.Errorf("app: close source: %w", err))
			}
		}
		if dst != nil {
			if err := dst.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("app: close destination: %w", err))
			}
		}
		a.closeErr = errors.Join(errs...)
		a.log.Info().Msg("resources released")
	})
	return a.closeErr
}

// LoadSecrets overlays credentials stored under cfg.ParamPrefix in SSM
// Parameter Store. It is a no-op when no prefix is configured.
func LoadSecrets(ctx context.Context, cfg config.Config) (config.Config, error) {
	if cfg.ParamPrefix == "" {
		return cfg, nil
	}
	awsCfg, err := loadAWSConfig(ctx)
	if err != nil {
		return cfg, fmt.Errorf("app: load AWS config: %w", err)
	}
	getter, err := newParamGetter(awsCfg)
	if err != nil {
		return cfg, err
	}
	return applySecrets(ctx, cfg, getter)
}

func applySecrets(ctx context.Context, cfg config.Config, g paramstore.Getter) (config.Config, error) {
	secrets, err := paramstore.ResolveSecrets(ctx, g, cfg.ParamPrefix)
	if err != nil {
		return cfg, err
	}
	if secrets.UpstashToken != "" {
		cfg.UpstashToken = secrets.UpstashToken
	}
	if secrets.MongoURI != "" {
		cfg.MongoURI = secrets.MongoURI
	}
	return cfg, nil
}
