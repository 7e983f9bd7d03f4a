package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/haidra-org/horde-model-reference/internal/analytics"
	"github.com/haidra-org/horde-model-reference/internal/auth"
	"github.com/haidra-org/horde-model-reference/internal/backends"
	"github.com/haidra-org/horde-model-reference/internal/client"
	"github.com/haidra-org/horde-model-reference/internal/config"
	"github.com/haidra-org/horde-model-reference/internal/manager"
	"github.com/haidra-org/horde-model-reference/internal/metadata"
	"github.com/haidra-org/horde-model-reference/internal/paths"
	"github.com/haidra-org/horde-model-reference/internal/server/handlers"
	"github.com/haidra-org/horde-model-reference/internal/server/middleware"
)

// Deps are the components the HTTP API serves.
type Deps struct {
	Manager       *manager.Manager
	Metadata      *metadata.Manager // nil on REPLICA deployments
	Statistics    *analytics.StatisticsEngine
	Audits        *analytics.AuditEngine
	Authenticator auth.Authenticator
}

// Server represents the HTTP server
type Server struct {
	config      *config.Config
	logger      *slog.Logger
	deps        Deps
	rateLimiter *middleware.RateLimiter
	httpServer  *http.Server
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, logger *slog.Logger, deps Deps) *Server {
	s := &Server{config: cfg, logger: logger, deps: deps}
	if cfg.Server.RateLimit > 0 {
		s.rateLimiter = middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	}
	return s
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("Starting server",
		"host", s.config.Server.Host,
		"port", s.config.Server.Port,
		"mode", s.deps.Manager.Mode(),
		"backend", s.deps.Manager.Backend().Name(),
		"auth_type", s.config.Auth.Type)

	if s.rateLimiter != nil {
		go s.rateLimiter.Run(ctx)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		s.logger.Info("Shutdown requested", "reason", context.Cause(ctx))
		return s.Shutdown()
	}
}

// Shutdown gracefully shuts down the server and closes the manager.
func (s *Server) Shutdown() error {
	s.logger.Info("Initiating graceful shutdown")

	timeout := time.Duration(s.config.Server.ShutdownTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("Server shutdown failed", "error", err)
			return err
		}
	}

	if err := s.deps.Manager.Close(); err != nil {
		s.logger.Error("Backend close failed", "error", err)
		return err
	}

	s.logger.Info("Server stopped gracefully")
	return nil
}

// Handler builds the router. Reads are public; writes need credentials
// and a PRIMARY deployment.
func (s *Server) Handler() http.Handler {
	m := s.deps.Manager
	authn := s.deps.Authenticator
	if authn == nil {
		authn = auth.NewNoAuth()
	}

	health := handlers.NewHealthHandler(m.Backend(), s.logger)
	whoami := handlers.NewWhoamiHandler(authn, s.logger)
	refs := handlers.NewReferenceHandler(m, s.logger)
	legacyRefs := handlers.NewLegacyHandler(m, s.logger)
	canonical := paths.LedgerV2
	if s.config.CanonicalFormat == string(backends.FormatLegacy) {
		canonical = paths.LedgerLegacy
	}
	meta := handlers.NewMetadataHandler(s.deps.Metadata, canonical, s.logger)
	var caches []handlers.CacheReporter
	if s.deps.Statistics != nil {
		caches = append(caches, s.deps.Statistics.Cache())
	}
	if s.deps.Audits != nil {
		caches = append(caches, s.deps.Audits.Cache())
	}
	backend := handlers.NewBackendHandler(m.Backend(), s.logger, caches...)

	router := chi.NewRouter()
	router.Use(chimw.Recoverer)
	router.Use(middleware.Logging(s.logger))
	if s.rateLimiter != nil {
		router.Use(s.rateLimiter.Middleware)
	}

	router.Get("/health", health.GetHealth)
	router.Method(http.MethodGet, "/metrics", handlers.NewMetricsHandler())

	router.Route(client.APIPrefix, func(r chi.Router) {
		r.Use(middleware.CORS())
		r.Get("/health", health.GetHealth)
		r.With(middleware.Authenticated(authn)).Get("/whoami", whoami.GetWhoami)

		writes := r.With(middleware.RequireAuth(authn, s.logger), middleware.RequirePrimary(m.Mode()))

		r.Get("/v2/metadata/last_updated", meta.LastUpdated(paths.LedgerV2))
		r.Get("/v2/metadata/{category}/last_updated", meta.CategoryLastUpdated(paths.LedgerV2))
		r.Get("/v1/metadata/last_updated", meta.LastUpdated(paths.LedgerLegacy))
		r.Get("/v1/metadata/{category}/last_updated", meta.CategoryLastUpdated(paths.LedgerLegacy))

		r.Get("/v2", refs.ListCategories)
		r.Get("/v2/{category}", refs.GetCategory)
		r.Get("/v2/{category}/names", refs.GetModelNames)
		r.Get("/v2/{category}/*", refs.GetModel)
		writes.Post("/v2/{category}", refs.CreateModel)
		writes.Put("/v2/{category}/*", refs.UpdateModel)
		writes.Delete("/v2/{category}/*", refs.DeleteModel)

		r.Get("/v1/{category}", legacyRefs.GetCategory)
		r.Get("/v1/{category}/*", legacyRefs.GetModel)
		writes.Post("/v1/{category}", legacyRefs.CreateModel)
		writes.Put("/v1/{category}/*", legacyRefs.UpdateModel)
		writes.Delete("/v1/{category}/*", legacyRefs.DeleteModel)

		r.Get("/metadata/{ledger}", meta.ListMetadata)
		r.Get("/metadata/{ledger}/{category}", meta.GetMetadata)

		if s.deps.Statistics != nil && s.deps.Audits != nil {
			an := handlers.NewAnalyticsHandler(s.deps.Statistics, s.deps.Audits, s.logger)
			r.Get("/statistics/{category}", an.GetStatistics)
			r.Get("/audit/presets", an.ListPresets)
			r.Get("/audit/{category}", an.GetAudit)
		}

		r.Get("/backend", backend.GetBackend)
	})

	return router
}
