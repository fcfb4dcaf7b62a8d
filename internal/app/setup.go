package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/repoquery/repoquery/db"
	"github.com/repoquery/repoquery/internal/answer"
	"github.com/repoquery/repoquery/internal/blob"
	"github.com/repoquery/repoquery/internal/catalog"
	"github.com/repoquery/repoquery/internal/config"
	"github.com/repoquery/repoquery/internal/embed"
	"github.com/repoquery/repoquery/internal/observability"
	"github.com/repoquery/repoquery/internal/query"
	"github.com/repoquery/repoquery/internal/quota"
)

// Setup creates and initializes the application. Returns an App with
// embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing goes first so genkit's TracerProvider is wired before Init.
	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit")
	}
	a.Genkit = g

	a.Embedder = googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if a.Embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}

	pgStore := quota.NewPGStore(pool)
	a.Resolver = quota.NewResolver(pgStore, cfg.TrustProxy, logger.With("component", "quota"))

	store := catalog.NewStore(blob.NewFSFetcher(cfg.IndexRoot), logger.With("component", "catalog"))
	limiter := quota.NewLimiter(pgStore,
		quota.Quotas{Anonymous: cfg.AnonymousQuota, Free: cfg.FreeQuota},
		logger.With("component", "quota"))
	synth := answer.New(g, cfg.FullModelName(), cfg.Temperature, int32(cfg.MaxTokens),
		logger.With("component", "answer"))

	a.Service = query.NewService(
		store,
		embed.New(a.Embedder, cfg.Dimension, logger.With("component", "embed")),
		synth,
		limiter,
		cfg.DefaultTenant,
		cfg.DefaultTopK,
		logger.With("component", "query"),
	)

	_, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	logger.Info("application initialized",
		"model", cfg.FullModelName(),
		"embedder", cfg.EmbedderModel,
		"dimension", cfg.Dimension,
		"index_root", cfg.IndexRoot)

	return a, nil
}

// provideOtelShutdown sets up trace export before genkit initialization.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger *slog.Logger) func() {
	shutdown, err := observability.Setup(ctx, observability.Config{
		AgentHost:   cfg.OTLP.AgentHost,
		Environment: cfg.OTLP.Environment,
		ServiceName: cfg.OTLP.ServiceName,
	})
	if err != nil {
		logger.Warn("tracing setup failed, continuing without", "error", err)
		return func() {}
	}
	return func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logger.Warn("trace flush failed", "error", err)
		}
	}
}

// provideDBPool runs migrations and creates the PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.ConnString()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}
