// Package api exposes the retrieval pipeline over HTTP: a direct JSON
// protocol and an agent action-group protocol, sharing one pipeline.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/repoquery/repoquery/internal/query"
	"github.com/repoquery/repoquery/internal/quota"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger      *slog.Logger
	Service     *query.Service  // Required
	Resolver    *quota.Resolver // Required
	Pool        *pgxpool.Pool   // Optional: nil disables the database probe in /ready
	UpgradeURL  string          // Shown in quota-exceeded envelopes
	CORSOrigins []string        // Allowed origins for CORS
	IsDev       bool            // Disables HSTS
	TrustProxy  bool            // Trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
	RateBurst   int             // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("query service is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("identity resolver is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	qh := &queryHandler{
		logger:     logger,
		service:    cfg.Service,
		resolver:   cfg.Resolver,
		upgradeURL: cfg.UpgradeURL,
	}
	ah := &agentHandler{
		logger:   logger,
		service:  cfg.Service,
		resolver: cfg.Resolver,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/query", qh.handle)
	mux.HandleFunc("POST /api/v1/agent", ah.handle)

	// Rate limiter: per-IP token bucket (1 token/sec refill)
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes. CORS must be before RateLimit so preflight OPTIONS gets
	// proper CORS headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	isDev := cfg.IsDev
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, isDev)
		handler.ServeHTTP(w, r)
	})

	// Top-level mux keeps health probes outside the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// health is a liveness endpoint for container probes.
func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readiness reports whether dependencies are reachable. With no pool
// configured it degrades to a liveness check.
func readiness(pool *pgxpool.Pool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pool == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "database unreachable",
			})
			return
		}

		stats := pool.Stat()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":           "ready",
			"db_total_conns":   stats.TotalConns(),
			"db_idle_conns":    stats.IdleConns(),
			"db_acquired_conn": stats.AcquiredConns(),
		})
	})
}
