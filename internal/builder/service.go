package builder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/narvanalabs/jsbuilder/internal/builder/cache"
	builderrors "github.com/narvanalabs/jsbuilder/internal/builder/errors"
	"github.com/narvanalabs/jsbuilder/internal/builder/events"
	"github.com/narvanalabs/jsbuilder/internal/builder/filter"
	"github.com/narvanalabs/jsbuilder/internal/builder/hash"
	"github.com/narvanalabs/jsbuilder/internal/builder/metrics"
	"github.com/narvanalabs/jsbuilder/internal/builder/normalize"
	"github.com/narvanalabs/jsbuilder/internal/models"
	"github.com/narvanalabs/jsbuilder/internal/store"
)

// Service answers bundle requests: it normalizes the request, derives the
// cache key, builds at most once per key and resolves the published artifact.
type Service struct {
	builder   ArtifactBuilder
	cache     *cache.Manager
	index     store.ArtifactStore
	metrics   *metrics.Collector
	events    events.Publisher
	filters   *filter.Registry
	normalize normalize.Options
	bundler   string
	logger    *slog.Logger
	tracer    trace.Tracer
	resolver  *Resolver
}

// ServiceOption is a functional option for configuring Service.
type ServiceOption func(*Service)

// WithCache sets the build cache.
func WithCache(c *cache.Manager) ServiceOption {
	return func(s *Service) {
		s.cache = c
	}
}

// WithIndex sets the durable artifact index.
func WithIndex(index store.ArtifactStore) ServiceOption {
	return func(s *Service) {
		s.index = index
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(collector *metrics.Collector) ServiceOption {
	return func(s *Service) {
		s.metrics = collector
	}
}

// WithEvents sets the event publisher.
func WithEvents(publisher events.Publisher) ServiceOption {
	return func(s *Service) {
		s.events = publisher
	}
}

// WithFilterRegistry sets the registry request filter ids are checked against.
func WithFilterRegistry(filters *filter.Registry) ServiceOption {
	return func(s *Service) {
		s.filters = filters
	}
}

// WithNormalizeOptions sets the normalization options.
func WithNormalizeOptions(opts normalize.Options) ServiceOption {
	return func(s *Service) {
		s.normalize = opts
	}
}

// WithBundlerName sets the bundler name reported in metrics.
func WithBundlerName(name string) ServiceOption {
	return func(s *Service) {
		s.bundler = name
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a new Service around b.
func NewService(b ArtifactBuilder, opts ...ServiceOption) *Service {
	s := &Service{
		builder:   b,
		events:    events.Discard,
		filters:   filter.NewRegistry(),
		normalize: normalize.DefaultOptions(),
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = cache.NewManagerWithOptions(cache.WithLogger(s.logger))
	}
	if s.metrics == nil {
		s.metrics = metrics.NewCollector()
	}
	s.resolver = NewResolver(s.cache, s.index, s.metrics, s.events, s.logger)
	return s
}

// Prepare normalizes raw and derives its cache key. The returned filter id
// is canonical, so the identity filter never changes the key.
func (s *Service) Prepare(raw models.RawParams) (*models.BuildConfig, string, string, error) {
	cfg, err := normalize.Normalize(raw, s.normalize)
	if err != nil {
		return nil, "", "", err
	}

	filterID := filter.Canonical(raw.Filter)
	if filterID != "" && !s.filters.Has(filterID) {
		return nil, "", "", builderrors.NewUnknownFilterError(filterID)
	}

	key, err := hash.Digest(cfg, filterID)
	if err != nil {
		return nil, "", "", builderrors.NewConfigError(err)
	}
	return cfg, key, filterID, nil
}

// Digest returns the cache key raw resolves to.
func (s *Service) Digest(raw models.RawParams) (string, error) {
	_, key, _, err := s.Prepare(raw)
	return key, err
}

// Fetch builds, or reuses, the artifact for raw and returns how to deliver it.
func (s *Service) Fetch(ctx context.Context, raw models.RawParams) (*models.Delivery, error) {
	ctx, span := s.tracer.Start(ctx, "builder.Service.Fetch", trace.WithAttributes(
		attribute.String("source.owner", raw.Owner),
		attribute.String("source.repo", raw.Repo),
		attribute.String("source.ref", raw.Ref),
	))
	defer span.End()

	d, err := s.fetch(ctx, raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordRequest(metrics.StatusFailure)
		return nil, err
	}
	span.SetAttributes(attribute.String("build.key", d.Key))
	s.metrics.RecordRequest(metrics.StatusSuccess)
	return d, nil
}

func (s *Service) fetch(ctx context.Context, raw models.RawParams) (*models.Delivery, error) {
	cfg, key, filterID, err := s.Prepare(raw)
	if err != nil {
		return nil, err
	}

	build := s.buildFunc(key, cfg, filterID)
	art, err := s.cache.GetOrBuild(ctx, key, build)
	if err != nil {
		return nil, err
	}

	d, err := s.resolver.Resolve(ctx, key, cfg, art, build)
	if err != nil {
		return nil, err
	}

	if s.index != nil {
		if err := s.index.Touch(ctx, key, time.Now()); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to touch index record", "key", key, "error", err)
		}
	}
	return d, nil
}

// buildFunc returns the function the cache runs for key. It runs on the
// cache's build goroutine, so it is the only writer of the error it returns.
func (s *Service) buildFunc(key string, cfg *models.BuildConfig, filterID string) cache.BuildFunc {
	return func(ctx context.Context) (*models.Artifact, error) {
		if art := s.adopt(ctx, key); art != nil {
			return art, nil
		}

		start := time.Now()
		s.metrics.BuildStarted()
		s.events.Publish(&events.Event{Type: events.TypeBuildStarted, Key: key, MimeType: cfg.MimeType})
		s.logger.Info("build started", "key", key, "mime_type", cfg.MimeType, "modules", len(cfg.Include))

		art, err := s.builder.Build(ctx, key, cfg, filterID)
		if err == nil && ctx.Err() != nil {
			// The cache already failed this handle and may have handed the
			// key to a newer build; that build owns the index record.
			s.logger.Warn("discarding build that finished after its deadline",
				"key", key, "duration", time.Since(start).String())
			return nil, fmt.Errorf("build finished after its deadline: %w", ctx.Err())
		}

		m := &metrics.BuildMetrics{
			Key:       key,
			MimeType:  cfg.MimeType,
			Bundler:   s.bundler,
			Variants:  variantCount(cfg),
			Archive:   cfg.IsArchive(),
			TotalTime: time.Since(start),
			Success:   err == nil,
			StartedAt: start,
		}
		if err != nil {
			if be, ok := builderrors.AsBuildError(err); ok {
				be.WithDigest(key)
			}
			m.ErrorCode = builderrors.CodeOf(err)
			_ = s.metrics.RecordMetrics(ctx, m)

			s.logger.Error("build failed", "key", key, "code", m.ErrorCode, "error", err)
			s.events.Publish(&events.Event{
				Type:       events.TypeBuildFailed,
				Key:        key,
				MimeType:   cfg.MimeType,
				Code:       m.ErrorCode,
				Error:      err.Error(),
				DurationMS: m.TotalTime.Milliseconds(),
			})
			return nil, err
		}

		m.Size = art.Size
		_ = s.metrics.RecordMetrics(ctx, m)
		s.record(ctx, key, cfg, art)

		s.logger.Info("build succeeded", "key", key, "size", art.Size, "duration", m.TotalTime.String())
		s.events.Publish(&events.Event{
			Type:       events.TypeBuildSucceeded,
			Key:        key,
			MimeType:   cfg.MimeType,
			Path:       art.Path,
			DurationMS: m.TotalTime.Milliseconds(),
		})
		return art, nil
	}
}

// adopt returns the indexed artifact for key when its file is still on
// disk, or nil when the pipeline has to run.
func (s *Service) adopt(ctx context.Context, key string) *models.Artifact {
	if s.index == nil {
		return nil
	}
	rec, err := s.index.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to read index record", "key", key, "error", err)
		}
		return nil
	}
	if !exists(rec.Path) {
		return nil
	}

	_ = s.metrics.RecordMetrics(ctx, &metrics.BuildMetrics{
		Key:       key,
		MimeType:  rec.MimeType,
		Bundler:   s.bundler,
		Success:   true,
		Adopted:   true,
		Size:      rec.Size,
		StartedAt: time.Now(),
	})
	s.events.Publish(&events.Event{Type: events.TypeBuildAdopted, Key: key, MimeType: rec.MimeType, Path: rec.Path})
	s.logger.Debug("adopted indexed artifact", "key", key, "path", rec.Path)

	return &models.Artifact{
		Key:      key,
		Path:     rec.Path,
		MimeType: rec.MimeType,
		Size:     rec.Size,
		Files:    rec.Files,
		BuiltAt:  rec.CreatedAt,
		Adopted:  true,
	}
}

// record writes the index entry for a freshly built artifact.
func (s *Service) record(ctx context.Context, key string, cfg *models.BuildConfig, art *models.Artifact) {
	if s.index == nil {
		return
	}
	config, err := json.Marshal(cfg)
	if err != nil {
		s.logger.Warn("failed to marshal build config", "key", key, "error", err)
		return
	}
	rec := &models.ArtifactRecord{
		Key:          key,
		Path:         art.Path,
		MimeType:     art.MimeType,
		DownloadName: cfg.DownloadName(),
		Size:         art.Size,
		Files:        art.Files,
		Config:       config,
	}
	if err := s.index.Put(ctx, rec); err != nil {
		s.logger.Warn("failed to index artifact", "key", key, "error", err)
	}
}

func variantCount(cfg *models.BuildConfig) int {
	if cfg.IsArchive() {
		return 2
	}
	return 1
}

// Cache returns the build cache.
func (s *Service) Cache() *cache.Manager {
	return s.cache
}

// Metrics returns the metrics collector.
func (s *Service) Metrics() *metrics.Collector {
	return s.metrics
}

// Record returns the index record for key.
func (s *Service) Record(ctx context.Context, key string) (*models.ArtifactRecord, error) {
	if s.index == nil {
		return nil, store.ErrNotFound
	}
	rec, err := s.index.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", key, err)
	}
	return rec, nil
}

// Close stops in-flight builds.
func (s *Service) Close() error {
	return s.cache.Close()
}
