// Package builder builds, caches and delivers custom bundles.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/narvanalabs/jsbuilder/internal/builder/archive"
	"github.com/narvanalabs/jsbuilder/internal/builder/bundler"
	builderrors "github.com/narvanalabs/jsbuilder/internal/builder/errors"
	"github.com/narvanalabs/jsbuilder/internal/builder/filter"
	"github.com/narvanalabs/jsbuilder/internal/builder/workspace"
	"github.com/narvanalabs/jsbuilder/internal/models"
)

const tracerName = "github.com/narvanalabs/jsbuilder/internal/builder"

// ArtifactBuilder produces the published artifact for a cache key.
type ArtifactBuilder interface {
	Build(ctx context.Context, key string, cfg *models.BuildConfig, filterID string) (*models.Artifact, error)
}

// Pipeline runs the bundler for every required variant of a build and
// publishes the result to the compiled directory.
type Pipeline struct {
	bundler     bundler.Bundler
	filters     *filter.Registry
	workspaces  *workspace.Manager
	sourceRoot  string
	compiledDir string
	logger      *slog.Logger
	tracer      trace.Tracer
}

// PipelineConfig holds the directories a pipeline works with.
type PipelineConfig struct {
	// SourceRoot holds source trees as <owner>/<repo>/<ref>/.
	SourceRoot string

	// CompiledDir holds published artifacts addressed by cache key.
	CompiledDir string
}

// PipelineOption is a functional option for configuring Pipeline.
type PipelineOption func(*Pipeline)

// WithFilters sets the filter registry.
func WithFilters(filters *filter.Registry) PipelineOption {
	return func(p *Pipeline) {
		p.filters = filters
	}
}

// WithPipelineLogger sets the logger.
func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// NewPipeline creates a new Pipeline and ensures the compiled directory exists.
func NewPipeline(cfg PipelineConfig, b bundler.Bundler, ws *workspace.Manager, opts ...PipelineOption) (*Pipeline, error) {
	if b == nil {
		return nil, errors.New("bundler is required")
	}
	if ws == nil {
		return nil, errors.New("workspace manager is required")
	}
	if cfg.CompiledDir == "" {
		return nil, errors.New("compiled directory is required")
	}
	if err := os.MkdirAll(cfg.CompiledDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating compiled directory: %w", err)
	}

	p := &Pipeline{
		bundler:     b,
		filters:     filter.NewRegistry(),
		workspaces:  ws,
		sourceRoot:  cfg.SourceRoot,
		compiledDir: cfg.CompiledDir,
		logger:      slog.Default(),
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// CompiledDir returns the directory artifacts are published to.
func (p *Pipeline) CompiledDir() string {
	return p.compiledDir
}

// ArtifactPath returns where the artifact for key and cfg is published.
func (p *Pipeline) ArtifactPath(key string, cfg *models.BuildConfig) string {
	if cfg.IsArchive() {
		return filepath.Join(p.compiledDir, key+".zip")
	}
	return filepath.Join(p.compiledDir, key+cfg.OutputExt)
}

// Build runs the pipeline for cfg. Raw builds produce one variant, minified
// when cfg.Optimize is set. Archive builds produce both variants. The
// workspace is removed whatever the outcome and nothing is published unless
// every step succeeded.
func (p *Pipeline) Build(ctx context.Context, key string, cfg *models.BuildConfig, filterID string) (*models.Artifact, error) {
	ctx, span := p.tracer.Start(ctx, "builder.Pipeline.Build", trace.WithAttributes(
		attribute.String("build.key", key),
		attribute.String("build.mime_type", cfg.MimeType),
		attribute.String("build.bundler", p.bundler.Name()),
	))
	defer span.End()

	art, err := p.build(ctx, key, cfg, filterID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int64("build.size", art.Size))
	return art, nil
}

func (p *Pipeline) build(ctx context.Context, key string, cfg *models.BuildConfig, filterID string) (*models.Artifact, error) {
	f, err := p.filters.Get(filterID)
	if err != nil {
		return nil, builderrors.NewUnknownFilterError(filterID)
	}

	ws, err := p.workspaces.Create()
	if err != nil {
		return nil, builderrors.NewWorkspaceError(err)
	}
	defer func() {
		if err := ws.Remove(); err != nil {
			p.logger.Warn("failed to remove workspace", "dir", ws.Dir, "error", err)
		}
	}()

	variants := []bool{cfg.Optimize}
	if cfg.IsArchive() {
		variants = []bool{false, true}
	}

	paths := make([]string, 0, len(variants))
	for _, minify := range variants {
		path, err := p.buildVariant(ctx, ws, key, cfg, f, filter.Canonical(filterID), minify)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}

	return p.publish(ctx, key, cfg, paths)
}

// buildVariant runs the ordered steps for one variant: ensure the
// workspace, bundle, read back, filter and write back.
func (p *Pipeline) buildVariant(ctx context.Context, ws *workspace.Workspace, key string, cfg *models.BuildConfig, f filter.Filter, filterID string, minify bool) (string, error) {
	ctx, span := p.tracer.Start(ctx, "builder.Pipeline.variant", trace.WithAttributes(
		attribute.Bool("build.minify", minify),
	))
	defer span.End()

	if err := ws.Ensure(); err != nil {
		return "", builderrors.NewWorkspaceError(err)
	}

	req, err := bundler.NewRequest(cfg, p.sourceRoot, ws.Dir, key, minify)
	if err != nil {
		return "", builderrors.NewConfigError(err)
	}

	start := time.Now()
	out, err := p.bundler.Bundle(ctx, req)
	if err != nil {
		be := builderrors.NewBundlerError(err)
		var exitErr *bundler.ExitError
		if errors.As(err, &exitErr) {
			be = be.WithOutput(exitErr.Output())
		}
		return "", be
	}
	p.logger.Debug("bundle produced",
		"key", key,
		"minify", minify,
		"modules", len(req.Modules),
		"duration", time.Since(start).String(),
	)

	contents, err := os.ReadFile(out)
	if err != nil {
		return "", builderrors.NewBundlerError(fmt.Errorf("reading bundler output: %w", err))
	}

	filtered, err := f.Apply(ctx, &filter.Input{
		Contents: contents,
		Modules:  req.Modules,
		Minified: minify,
		Ext:      req.Ext,
	})
	if err != nil {
		return "", builderrors.NewFilterError(filterID, err)
	}

	if err := os.WriteFile(out, filtered, 0o644); err != nil {
		return "", builderrors.NewWorkspaceError(fmt.Errorf("writing filtered bundle: %w", err))
	}
	return out, nil
}

// publish moves the built variants into the compiled directory.
func (p *Pipeline) publish(ctx context.Context, key string, cfg *models.BuildConfig, paths []string) (*models.Artifact, error) {
	dest := p.ArtifactPath(key, cfg)

	var data []byte
	var files []string
	if cfg.IsArchive() {
		_, span := p.tracer.Start(ctx, "builder.Pipeline.archive")
		zipped, err := archive.Assemble(paths, cfg.BaseName())
		span.End()
		if err != nil {
			return nil, builderrors.NewArchiveError(err)
		}
		data = zipped
		for _, path := range paths {
			files = append(files, archive.EntryName(path, cfg.BaseName()))
		}
	} else {
		contents, err := os.ReadFile(paths[0])
		if err != nil {
			return nil, builderrors.NewWorkspaceError(fmt.Errorf("reading bundle: %w", err))
		}
		data = contents
		files = []string{cfg.DownloadName()}
	}

	if err := writeFileAtomic(dest, data); err != nil {
		if cfg.IsArchive() {
			return nil, builderrors.NewArchiveError(err)
		}
		return nil, builderrors.NewWorkspaceError(err)
	}

	return &models.Artifact{
		Key:      key,
		Path:     dest,
		MimeType: cfg.MimeType,
		Size:     int64(len(data)),
		Files:    files,
		BuiltAt:  time.Now().UTC(),
	}, nil
}

// writeFileAtomic writes data to a temporary file next to path and renames
// it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".publish-*")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("setting mode on %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publishing %s: %w", path, err)
	}
	return nil
}
