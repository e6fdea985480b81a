package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/narvanalabs/jsbuilder/internal/builder"
	"github.com/narvanalabs/jsbuilder/internal/builder/bundler"
	"github.com/narvanalabs/jsbuilder/internal/builder/cache"
	"github.com/narvanalabs/jsbuilder/internal/builder/events"
	"github.com/narvanalabs/jsbuilder/internal/builder/filter"
	"github.com/narvanalabs/jsbuilder/internal/builder/metrics"
	"github.com/narvanalabs/jsbuilder/internal/builder/normalize"
	"github.com/narvanalabs/jsbuilder/internal/builder/workspace"
	"github.com/narvanalabs/jsbuilder/internal/cleanup"
	"github.com/narvanalabs/jsbuilder/internal/retry"
	"github.com/narvanalabs/jsbuilder/internal/store"
	"github.com/narvanalabs/jsbuilder/internal/store/memory"
	"github.com/narvanalabs/jsbuilder/internal/store/postgres"
	"github.com/narvanalabs/jsbuilder/pkg/config"
	"github.com/narvanalabs/jsbuilder/pkg/logger"
)

// app holds the wired components shared by the commands.
type app struct {
	store   store.Store
	broker  *events.Broker
	metrics *metrics.Collector
	service *builder.Service
	cleanup *cleanup.Service
}

// loadConfig loads the configuration and creates the logger writing to w.
func loadConfig(path string, w io.Writer) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.NewWithWriter(w, level, cfg.Log.Format == "json"), nil
}

// normalizeOptions returns the normalization options cfg selects.
func normalizeOptions(cfg *config.Config) normalize.Options {
	opts := normalize.DefaultOptions()
	opts.ExternalFirst = cfg.Build.ExternalFirst
	return opts
}

// newApp wires the build service and its collaborators.
func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a := &app{
		store:   st,
		broker:  events.NewBroker(log.WithComponent("events").Logger),
		metrics: metrics.NewCollector(),
	}

	ws, err := workspace.NewManager(cfg.Paths.StagingDir)
	if err != nil {
		st.Close()
		return nil, err
	}

	b, err := bundler.New(cfg.Build.Bundler, bundler.CommandOptions{
		Path:    cfg.Build.Command,
		Args:    cfg.Build.Args,
		Timeout: cfg.Build.CommandTimeout,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	filters := filter.NewRegistry()
	pipeline, err := builder.NewPipeline(builder.PipelineConfig{
		SourceRoot:  cfg.Paths.SourceRoot,
		CompiledDir: cfg.Paths.CompiledDir,
	}, b, ws,
		builder.WithFilters(filters),
		builder.WithPipelineLogger(log.WithComponent("pipeline").Logger),
	)
	if err != nil {
		st.Close()
		return nil, err
	}

	buildCache := cache.NewManagerWithOptions(
		cache.WithBuildTimeout(cfg.Build.Timeout),
		cache.WithLogger(log.WithComponent("cache").Logger),
	)

	a.service = builder.NewService(pipeline,
		builder.WithCache(buildCache),
		builder.WithIndex(st.Artifacts()),
		builder.WithMetrics(a.metrics),
		builder.WithEvents(a.broker),
		builder.WithFilterRegistry(filters),
		builder.WithNormalizeOptions(normalizeOptions(cfg)),
		builder.WithBundlerName(b.Name()),
		builder.WithLogger(log.WithComponent("builder").Logger),
	)

	a.cleanup, err = cleanup.NewService(cfg.Paths.CompiledDir, ws,
		cleanup.WithIndex(st.Artifacts()),
		cleanup.WithCache(buildCache),
		cleanup.WithMetrics(a.metrics),
		cleanup.WithEvents(a.broker),
		cleanup.WithSettings(&cleanup.Settings{
			ArtifactRetention:  cfg.Cleanup.ArtifactRetention,
			WorkspaceRetention: cfg.Cleanup.WorkspaceRetention,
			Interval:           cfg.Cleanup.Interval,
		}),
		cleanup.WithSizeLimit(cfg.Cleanup.MaxCompiledBytes),
		cleanup.WithLogger(log.WithComponent("cleanup").Logger),
	)
	if err != nil {
		a.service.Close()
		st.Close()
		return nil, err
	}

	log.Info("build service ready",
		"bundler", b.Name(),
		"source_root", cfg.Paths.SourceRoot,
		"compiled_dir", cfg.Paths.CompiledDir,
		"index", indexKind(cfg),
	)
	return a, nil
}

// Close releases the service and the index.
func (a *app) Close() error {
	return errors.Join(a.service.Close(), a.broker.Close(), a.store.Close())
}

func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (store.Store, error) {
	if cfg.Index.DatabaseDSN == "" {
		return memory.New(), nil
	}
	indexLog := log.WithComponent("index").Logger
	var st *postgres.PostgresStore
	_, err := retry.NewManager(retry.WithLogger(indexLog)).Do(ctx, "open artifact index", func(ctx context.Context) error {
		var err error
		st, err = postgres.NewPostgresStore(ctx, postgres.DefaultConfig(cfg.Index.DatabaseDSN), indexLog)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("opening artifact index: %w", err)
	}
	return st, nil
}

func indexKind(cfg *config.Config) string {
	if cfg.Index.DatabaseDSN == "" {
		return "memory"
	}
	return "postgres"
}
