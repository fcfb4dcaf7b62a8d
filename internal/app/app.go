// Package app assembles the application: configuration, storage, AI
// backends, and the pipeline components, with a single Close for teardown.
package app

import (
	"context"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/repoquery/repoquery/internal/config"
	"github.com/repoquery/repoquery/internal/query"
	"github.com/repoquery/repoquery/internal/quota"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	// Core services
	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool

	// Pipeline
	Service  *query.Service
	Resolver *quota.Resolver

	// Lifecycle management
	otelCleanup func()
	cancel      context.CancelFunc
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	a.logger().Info("shutting down application")

	if a.cancel != nil {
		a.cancel()
	}

	if a.DBPool != nil {
		a.DBPool.Close()
		a.logger().Debug("database pool closed")
	}

	// Flush pending spans last so teardown itself is still traced.
	if a.otelCleanup != nil {
		a.otelCleanup()
	}

	return nil
}

func (a *App) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
