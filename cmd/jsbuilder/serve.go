package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/narvanalabs/jsbuilder/internal/api"
	"github.com/narvanalabs/jsbuilder/internal/catalog"
	"github.com/narvanalabs/jsbuilder/internal/shutdown"
)

// metricsRetentionInterval is how often expired per-build metrics are dropped.
const metricsRetentionInterval = time.Hour

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bundle build server",
		Long: `Run the HTTP server.

Routes:
  GET /builder/bundle/{owner}/{repo}/{ref}[/{name}]  build or reuse a bundle
  GET /builder/deps                                  module catalog (JSON or JSONP)
  GET /builder/builds[/{digest}]                     cache and index state
  GET /builder/events                                build events (WebSocket)
  GET /health, /metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configPath, os.Stdout)
			if err != nil {
				return err
			}
			api.Version = version

			ctx := context.Background()
			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}

			if report, err := a.cleanup.RunAll(ctx); err != nil {
				log.Warn("startup cleanup failed", "error", err)
			} else {
				log.Info("startup cleanup complete",
					"artifacts_removed", report.Artifacts.ItemsRemoved,
					"workspaces_removed", report.Workspaces.ItemsRemoved,
				)
			}

			server := api.NewServer(cfg, a.service, catalog.New(cfg.Paths.CatalogFile, cfg.Paths.PackageFile), a.broker, a.store, log.WithComponent("api").Logger)

			coord := shutdown.NewCoordinator(
				shutdown.WithTimeout(cfg.Server.ShutdownTimeout),
				shutdown.WithLogger(log.WithComponent("shutdown").Logger),
			)
			// Stopped in reverse order: the server first, the index last.
			coord.Register(shutdown.NewCloserComponent("artifact index", a.store))
			coord.Register(shutdown.Go("cleanup", ctx, func(ctx context.Context) {
				a.cleanup.Run(ctx)
			}))
			coord.Register(shutdown.Go("metrics retention", ctx, func(ctx context.Context) {
				ticker := time.NewTicker(metricsRetentionInterval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if n := a.metrics.CleanupExpired(ctx); n > 0 {
							log.Debug("expired build metrics dropped", "count", n)
						}
					}
				}
			}))
			coord.Register(shutdown.NewCloserComponent("build cache", a.service))
			coord.Register(shutdown.NewCloserComponent("event broker", a.broker))
			coord.Register(shutdown.NewHTTPServerComponent("http server", server.HTTPServer()))

			serveErr := make(chan error, 1)
			go func() {
				if err := server.Start(ctx); err != nil {
					serveErr <- err
					coord.Shutdown()
				}
			}()

			coord.WaitForSignal(ctx)
			select {
			case err := <-serveErr:
				return err
			default:
			}
			log.Info("server stopped")
			if code := coord.ExitCode(); code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}
}
