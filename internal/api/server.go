// Package api provides the HTTP server of the build service.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/narvanalabs/jsbuilder/internal/api/handlers"
	"github.com/narvanalabs/jsbuilder/internal/api/health"
	"github.com/narvanalabs/jsbuilder/internal/api/middleware"
	"github.com/narvanalabs/jsbuilder/internal/builder"
	"github.com/narvanalabs/jsbuilder/internal/builder/events"
	"github.com/narvanalabs/jsbuilder/internal/catalog"
	"github.com/narvanalabs/jsbuilder/internal/store"
	"github.com/narvanalabs/jsbuilder/pkg/config"
)

// Version is the current version of the build service.
// This should be set at build time using ldflags.
var Version = "dev"

// Server represents the HTTP API server.
type Server struct {
	router        chi.Router
	httpServer    *http.Server
	service       *builder.Service
	catalog       *catalog.Catalog
	broker        *events.Broker
	store         store.Store
	config        *config.Config
	logger        *slog.Logger
	healthChecker *health.Checker
}

// NewServer creates a new API server with the given dependencies.
func NewServer(cfg *config.Config, svc *builder.Service, cat *catalog.Catalog, broker *events.Broker, st store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		service: svc,
		catalog: cat,
		broker:  broker,
		store:   st,
		config:  cfg,
		logger:  logger,
	}

	s.healthChecker = health.NewChecker(Version)
	s.healthChecker.Register("index", st)
	s.healthChecker.RegisterOptional("compiled_dir", dirPinger(cfg.Paths.CompiledDir))
	s.healthChecker.RegisterOptional("source_root", dirPinger(cfg.Paths.SourceRoot))

	s.setupRouter()

	s.httpServer = &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// Bundle requests may wait out a whole build.
		WriteTimeout: cfg.Build.Timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery(s.logger))

	r.Get("/health", s.healthChecker.Handler())
	r.Handle("/metrics", promhttp.HandlerFor(s.service.Metrics().Registry(), promhttp.HandlerOpts{}))

	bundleHandler := handlers.NewBundleHandler(s.service, s.logger)
	depsHandler := handlers.NewDepsHandler(s.catalog, s.logger)
	buildHandler := handlers.NewBuildHandler(s.service, s.logger)

	r.Route("/builder", func(r chi.Router) {
		r.Get("/bundle/{owner}/{repo}/{ref}", bundleHandler.Get)
		r.Get("/bundle/{owner}/{repo}/{ref}/{name}", bundleHandler.Get)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(30 * time.Second))
			r.Get("/deps", depsHandler.Get)
			r.Get("/builds", buildHandler.List)
			r.Get("/builds/{digest}", buildHandler.Get)
		})

		if s.broker != nil {
			eventHandler := handlers.NewEventHandler(s.broker, s.logger)
			r.Get("/events", eventHandler.Stream)
		}
	})

	s.router = r
}

// Start serves until ctx is done, then shuts the server down.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting API server", "addr", s.httpServer.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// HTTPServer returns the underlying server, for registration with the
// shutdown coordinator.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Router returns the chi router for testing purposes.
func (s *Server) Router() chi.Router {
	return s.router
}

func dirPinger(dir string) health.Pinger {
	return health.PingFunc(func(ctx context.Context) error {
		info, err := os.Stat(dir)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}
		return nil
	})
}
