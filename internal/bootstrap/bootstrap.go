// Package bootstrap assembles stores, the credit ledger, the renderer and the
// orchestrator from configuration. Both binaries start here.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"caricature/internal/adapter/memory"
	"caricature/internal/adapter/redisledger"
	"caricature/internal/adapter/repo"
	"caricature/internal/adapter/sqlite"
	"caricature/internal/clock"
	"caricature/internal/domain"
	"caricature/internal/infra"
	"caricature/internal/infra/credentials"
	"caricature/internal/infra/geoip"
	"caricature/internal/orchestrator"
	"caricature/internal/providers/renderer"
	"caricature/internal/retry"
	"caricature/internal/sqlinline"
	"caricature/internal/storage"
	"caricature/internal/styles"
)

// Services holds everything built from one Config. Close releases it.
type Services struct {
	Config *infra.Config
	Logger *infra.Logger

	Jobs   domain.JobStore
	Ledger domain.CreditLedger
	// Finalizer is set only when jobs and credits share one transactional
	// store.
	Finalizer domain.Finalizer

	Files  *storage.FileStore
	Styles *styles.Catalog
	GeoIP  *geoip.Resolver

	pool    *pgxpool.Pool
	runner  *infra.SQLRunner
	redis   *redis.Client
	closers []func() error
}

// New connects the configured backends. It does not need the renderer key;
// call Orchestrator for that.
func New(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (s *Services, err error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	s = &Services{Config: cfg, Logger: infra.OrDiscard(logger)}
	defer func() {
		if err != nil {
			_ = s.Close()
			s = nil
		}
	}()

	if err := s.openStore(ctx); err != nil {
		return nil, err
	}
	if cfg.CreditBackend == infra.CreditBackendRedis {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		s.closers = append(s.closers, s.redis.Close)
		ledger := redisledger.New(s.redis, cfg.InitialCredits)
		if err := ledger.Ping(ctx); err != nil {
			return nil, fmt.Errorf("bootstrap: redis: %w", err)
		}
		s.Ledger = ledger
		// Jobs and credits live in different stores now.
		s.Finalizer = nil
	}

	storagePath := cfg.StoragePath
	if abs, aerr := filepath.Abs(storagePath); aerr == nil {
		storagePath = abs
	}
	s.Files, err = storage.NewFileStore(storagePath)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	s.Styles = styles.NewCatalog(s.Files, cfg.StorageBaseURL)

	s.GeoIP, err = geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		// Locale detection still works from headers.
		s.Logger.Warn().Err(err).Msg("geoip disabled")
		s.GeoIP = nil
	}
	s.closers = append(s.closers, s.GeoIP.Close)

	s.Logger.Info().
		Str("store_backend", cfg.StoreBackend).
		Str("credit_backend", cfg.CreditBackend).
		Bool("atomic_finalize", s.Finalizer != nil).
		Msg("backends ready")
	return s, nil
}

func (s *Services) openStore(ctx context.Context) error {
	cfg := s.Config
	switch cfg.StoreBackend {
	case infra.BackendPostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		s.pool = pool
		s.closers = append(s.closers, func() error { pool.Close(); return nil })
		s.runner = infra.NewSQLRunner(pool, *s.Logger)
		jobs := repo.NewJobRepository(s.runner)
		s.Jobs = jobs
		s.Ledger = repo.NewCreditLedger(s.runner, cfg.InitialCredits)
		s.Finalizer = jobs
	case infra.BackendSQLite:
		store, err := sqlite.Open(cfg.SQLitePath, cfg.InitialCredits)
		if err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		s.closers = append(s.closers, store.Close)
		s.Jobs, s.Ledger, s.Finalizer = store, store, store
	case infra.BackendMemory:
		store := memory.NewStore(cfg.InitialCredits)
		s.Jobs, s.Ledger, s.Finalizer = store, store, store
	default:
		return fmt.Errorf("bootstrap: unsupported store backend %q", cfg.StoreBackend)
	}
	return nil
}

// Credentials returns the integration token store. It is only available on
// the postgres backend.
func (s *Services) Credentials() (*credentials.Store, error) {
	if s.runner == nil {
		return nil, errors.New("bootstrap: credentials need the postgres backend")
	}
	return credentials.NewStore(s.runner), nil
}

// Migrate applies the postgres schema. Other backends create their schema on
// open.
func (s *Services) Migrate(ctx context.Context) error {
	if s.runner == nil {
		s.Logger.Info().Str("store_backend", s.Config.StoreBackend).Msg("nothing to migrate")
		return nil
	}
	if _, err := s.runner.Exec(ctx, sqlinline.QCreateSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	s.Logger.Info().Msg("schema applied")
	return nil
}

// RendererAPIKey prefers RENDERER_API_KEY and falls back to the credentials
// table when postgres is configured.
func (s *Services) RendererAPIKey(ctx context.Context) (string, error) {
	key := strings.TrimSpace(s.Config.RendererAPIKey)
	if key != "" || s.runner == nil {
		return key, nil
	}
	return credentials.NewStore(s.runner).ResolveRendererAPIKey(ctx, key)
}

// Orchestrator builds the renderer client and the orchestrator.
func (s *Services) Orchestrator(ctx context.Context) (*orchestrator.Orchestrator, error) {
	cfg := s.Config
	apiKey, err := s.RendererAPIKey(ctx)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("failed to load renderer api key from store")
	}
	client, err := renderer.NewClient(renderer.Options{
		APIKey:         apiKey,
		WorkflowURL:    cfg.RendererURL,
		HTTPClient:     &http.Client{},
		Logger:         s.Logger,
		RequestTimeout: cfg.RendererTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: renderer: %w", err)
	}
	return orchestrator.New(orchestrator.Options{
		Jobs:          s.Jobs,
		Ledger:        s.Ledger,
		Finalizer:     s.Finalizer,
		Renderer:      client,
		Clock:         clock.Real{},
		Logger:        s.Logger,
		PollInterval:  cfg.PollInterval,
		MaxPolls:      cfg.PollMaxIterations,
		MaxPollErrors: cfg.PollMaxErrors,
		Retry: retry.Policy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
		},
	})
}

// Close releases backends in reverse order of creation.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
