package builder

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/narvanalabs/jsbuilder/internal/builder/cache"
	builderrors "github.com/narvanalabs/jsbuilder/internal/builder/errors"
	"github.com/narvanalabs/jsbuilder/internal/builder/events"
	"github.com/narvanalabs/jsbuilder/internal/builder/metrics"
	"github.com/narvanalabs/jsbuilder/internal/models"
	"github.com/narvanalabs/jsbuilder/internal/store"
)

// Resolver turns a completed build into a delivery, rebuilding once when
// the published file has disappeared from disk.
type Resolver struct {
	cache   cache.BuildCache
	index   store.ArtifactStore
	metrics *metrics.Collector
	events  events.Publisher
	logger  *slog.Logger
}

// NewResolver creates a new Resolver. index and collector may be nil.
func NewResolver(c cache.BuildCache, index store.ArtifactStore, collector *metrics.Collector, publisher events.Publisher, logger *slog.Logger) *Resolver {
	if publisher == nil {
		publisher = events.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		cache:   c,
		index:   index,
		metrics: collector,
		events:  publisher,
		logger:  logger,
	}
}

// Resolve returns the delivery for art. When art's file is missing the
// cache entry and index record are dropped and build runs through the cache
// exactly once. A file still missing after that is an ArtifactMissingError.
func (r *Resolver) Resolve(ctx context.Context, key string, cfg *models.BuildConfig, art *models.Artifact, build cache.BuildFunc) (*models.Delivery, error) {
	if exists(art.Path) {
		return delivery(key, cfg, art), nil
	}

	r.logger.Warn("artifact missing from disk, rebuilding", "key", key, "path", art.Path)
	r.events.Publish(&events.Event{
		Type:     events.TypeArtifactMissing,
		Key:      key,
		MimeType: art.MimeType,
		Path:     art.Path,
	})
	if r.metrics != nil {
		r.metrics.RecordSelfHeal()
	}

	r.forget(ctx, key, art)

	rebuilt, err := r.cache.GetOrBuild(ctx, key, build)
	if err != nil {
		return nil, err
	}
	if !exists(rebuilt.Path) {
		r.forget(ctx, key, rebuilt)
		return nil, builderrors.NewArtifactMissingError(rebuilt.Path).WithDigest(key)
	}
	return delivery(key, cfg, rebuilt), nil
}

// forget evicts the cached handle for art and drops its index record.
func (r *Resolver) forget(ctx context.Context, key string, art *models.Artifact) {
	r.cache.Evict(key, art)
	if r.index == nil {
		return
	}
	if err := r.index.Delete(ctx, key); err != nil {
		r.logger.Warn("failed to delete index record", "key", key, "error", err)
	}
}

func delivery(key string, cfg *models.BuildConfig, art *models.Artifact) *models.Delivery {
	return &models.Delivery{
		Key:          key,
		Path:         art.Path,
		DownloadName: cfg.DownloadName(),
		MimeType:     art.MimeType,
		Attachment:   cfg.IsArchive(),
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}
