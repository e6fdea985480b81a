// Package cleanup removes expired artifacts from the compiled directory and
// workspaces left behind by builds that never finished.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/narvanalabs/jsbuilder/internal/builder/events"
	"github.com/narvanalabs/jsbuilder/internal/builder/hash"
	"github.com/narvanalabs/jsbuilder/internal/builder/metrics"
	"github.com/narvanalabs/jsbuilder/internal/builder/workspace"
	"github.com/narvanalabs/jsbuilder/internal/store"
)

// Kinds of removed items, as reported to metrics.
const (
	KindArtifact  = "artifact"
	KindWorkspace = "workspace"
	KindTempFile  = "temp"
)

// Default values for cleanup settings.
const (
	DefaultArtifactRetention  = 7 * 24 * time.Hour // 7 days
	DefaultWorkspaceRetention = time.Hour
	DefaultInterval           = time.Hour
)

// tempPrefix marks files being published into the compiled directory.
const tempPrefix = ".publish-"

// Settings holds cleanup configuration.
type Settings struct {
	// ArtifactRetention is how long an artifact is kept after its last use.
	ArtifactRetention time.Duration `json:"artifact_retention"`

	// WorkspaceRetention is the age after which a workspace is abandoned.
	WorkspaceRetention time.Duration `json:"workspace_retention"`

	// Interval is the time between sweeps when running periodically.
	Interval time.Duration `json:"interval"`
}

// DefaultSettings returns the default cleanup settings.
func DefaultSettings() *Settings {
	return &Settings{
		ArtifactRetention:  DefaultArtifactRetention,
		WorkspaceRetention: DefaultWorkspaceRetention,
		Interval:           DefaultInterval,
	}
}

// Validate validates that all cleanup settings have positive values.
func (s *Settings) Validate() error {
	if s.ArtifactRetention <= 0 {
		return fmt.Errorf("artifact_retention must be positive, got %v", s.ArtifactRetention)
	}
	if s.WorkspaceRetention <= 0 {
		return fmt.Errorf("workspace_retention must be positive, got %v", s.WorkspaceRetention)
	}
	if s.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", s.Interval)
	}
	return nil
}

// CacheInvalidator drops cached builds whose artifact was removed.
type CacheInvalidator interface {
	InvalidateCacheKey(ctx context.Context, key string) error
}

// Service manages removal of expired artifacts and stale workspaces.
type Service struct {
	compiledDir string
	workspaces  *workspace.Manager
	index       store.ArtifactStore
	cache       CacheInvalidator
	metrics     *metrics.Collector
	events      events.Publisher
	settings    *Settings
	sizeLimit   int64
	logger      *slog.Logger
	now         func() time.Time
}

// ServiceOption is a functional option for configuring Service.
type ServiceOption func(*Service)

// WithIndex sets the artifact index consulted for last use times.
func WithIndex(index store.ArtifactStore) ServiceOption {
	return func(s *Service) {
		s.index = index
	}
}

// WithCache sets the build cache entries are invalidated in.
func WithCache(c CacheInvalidator) ServiceOption {
	return func(s *Service) {
		s.cache = c
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

// WithSettings sets the cleanup settings.
func WithSettings(settings *Settings) ServiceOption {
	return func(s *Service) {
		s.settings = settings
	}
}

// WithSizeLimit sets the compiled directory budget enforced by RunAll.
func WithSizeLimit(limit int64) ServiceOption {
	return func(s *Service) {
		s.sizeLimit = limit
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a new cleanup service.
func NewService(compiledDir string, workspaces *workspace.Manager, opts ...ServiceOption) (*Service, error) {
	s := &Service{
		compiledDir: compiledDir,
		workspaces:  workspaces,
		events:      events.Discard,
		settings:    DefaultSettings(),
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// GetSettings returns the current cleanup settings.
func (s *Service) GetSettings() *Settings {
	return s.settings
}

// CleanupResult holds the result of a cleanup operation.
type CleanupResult struct {
	ItemsRemoved int           `json:"items_removed"`
	SpaceFreed   int64         `json:"space_freed_bytes"`
	Errors       []string      `json:"errors,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Report holds the results of a full sweep.
type Report struct {
	Artifacts  *CleanupResult `json:"artifacts"`
	Workspaces *CleanupResult `json:"workspaces"`
	Trimmed    bool           `json:"trimmed"`
}

// artifactFile is a published artifact found in the compiled directory.
type artifactFile struct {
	key      string
	path     string
	size     int64
	lastUsed time.Time
}

// scan lists the artifacts in the compiled directory with their last use
// time: the index access time when indexed, the file time otherwise.
func (s *Service) scan(ctx context.Context) ([]artifactFile, error) {
	entries, err := os.ReadDir(s.compiledDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading compiled directory: %w", err)
	}

	files := make([]artifactFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		key, _, _ := strings.Cut(name, ".")
		if !hash.IsValidKey(key) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		f := artifactFile{
			key:      key,
			path:     filepath.Join(s.compiledDir, name),
			size:     info.Size(),
			lastUsed: info.ModTime(),
		}
		if s.index != nil {
			rec, err := s.index.Get(ctx, key)
			switch {
			case err == nil:
				f.lastUsed = rec.AccessedAt
			case !errors.Is(err, store.ErrNotFound):
				return nil, fmt.Errorf("reading index record %s: %w", key, err)
			}
		}
		files = append(files, f)
	}
	return files, nil
}

// CleanupArtifacts removes artifacts not used within the artifact retention
// period, together with their index records and cache entries. Index
// records whose file is already gone are dropped as well.
func (s *Service) CleanupArtifacts(ctx context.Context) (*CleanupResult, error) {
	start := s.now()
	result := &CleanupResult{}
	cutoff := start.Add(-s.settings.ArtifactRetention)

	s.logger.Info("starting artifact cleanup",
		"retention", s.settings.ArtifactRetention,
		"cutoff", cutoff,
	)

	files, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(files))
	for _, f := range files {
		seen[f.key] = true
		if !f.lastUsed.Before(cutoff) {
			continue
		}
		s.removeArtifact(ctx, f, result)
	}

	if s.index != nil {
		stale, err := s.index.ListAccessedBefore(ctx, cutoff)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("listing stale records: %v", err))
		}
		for _, rec := range stale {
			if seen[rec.Key] {
				continue
			}
			s.logger.Debug("dropping record of missing artifact", "key", rec.Key, "path", rec.Path)
			if err := s.forget(ctx, rec.Key); err != nil {
				result.Errors = append(result.Errors, err.Error())
			}
		}
	}

	s.finish(KindArtifact, result, start)
	return result, nil
}

// TrimToSize removes the least recently used artifacts until the compiled
// directory holds at most limit bytes.
func (s *Service) TrimToSize(ctx context.Context, limit int64) (*CleanupResult, error) {
	start := s.now()
	result := &CleanupResult{}

	files, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, f := range files {
		total += f.size
	}
	if total <= limit {
		return result, nil
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].lastUsed.Before(files[j].lastUsed)
	})

	s.logger.Info("trimming compiled directory", "size", total, "limit", limit)
	for _, f := range files {
		if total <= limit {
			break
		}
		if s.removeArtifact(ctx, f, result) {
			total -= f.size
		}
	}

	s.finish(KindArtifact, result, start)
	return result, nil
}

// CleanupWorkspaces removes workspaces older than the workspace retention
// period and abandoned publish temp files.
func (s *Service) CleanupWorkspaces(ctx context.Context) (*CleanupResult, error) {
	start := s.now()
	result := &CleanupResult{}
	cutoff := start.Add(-s.settings.WorkspaceRetention)

	if s.workspaces != nil {
		stale, err := s.workspaces.Stale(cutoff)
		if err != nil {
			return nil, fmt.Errorf("listing workspaces: %w", err)
		}
		for _, dir := range stale {
			size := dirSize(dir)
			if err := os.RemoveAll(dir); err != nil {
				s.logger.Error("failed to remove workspace", "dir", dir, "error", err)
				result.Errors = append(result.Errors, fmt.Sprintf("failed to remove workspace %s: %v", dir, err))
				continue
			}
			s.logger.Info("removed stale workspace", "dir", dir)
			result.ItemsRemoved++
			result.SpaceFreed += size
		}
	}
	removed := result.ItemsRemoved
	s.finish(KindWorkspace, result, start)

	temps, err := filepath.Glob(filepath.Join(s.compiledDir, tempPrefix+"*"))
	if err != nil {
		return result, nil
	}
	for _, path := range temps {
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to remove %s: %v", path, err))
			continue
		}
		result.ItemsRemoved++
		result.SpaceFreed += info.Size()
	}
	if s.metrics != nil {
		s.metrics.RecordGC(KindTempFile, result.ItemsRemoved-removed)
	}
	return result, nil
}

// RunAll runs every cleanup operation once.
func (s *Service) RunAll(ctx context.Context) (*Report, error) {
	workspaces, err := s.CleanupWorkspaces(ctx)
	if err != nil {
		return nil, err
	}
	artifacts, err := s.CleanupArtifacts(ctx)
	if err != nil {
		return nil, err
	}
	report := &Report{Artifacts: artifacts, Workspaces: workspaces}

	if s.sizeLimit > 0 {
		trimmed, err := NewDiskMonitor(s, s.sizeLimit, s.logger).Check(ctx)
		if err != nil {
			return nil, err
		}
		report.Trimmed = trimmed
	}
	return report, nil
}

// Run sweeps every settings interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.settings.Interval)
	defer ticker.Stop()

	s.logger.Info("cleanup service started", "interval", s.settings.Interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("cleanup service stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RunAll(ctx); err != nil {
				s.logger.Error("cleanup failed", "error", err)
			}
		}
	}
}

// removeArtifact deletes f and everything that refers to it.
func (s *Service) removeArtifact(ctx context.Context, f artifactFile, result *CleanupResult) bool {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Error("failed to remove artifact", "key", f.key, "path", f.path, "error", err)
		result.Errors = append(result.Errors, fmt.Sprintf("failed to remove artifact %s: %v", f.key, err))
		return false
	}
	if err := s.forget(ctx, f.key); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}

	s.logger.Info("removed artifact",
		"key", f.key,
		"path", f.path,
		"size", f.size,
		"last_used", f.lastUsed,
	)
	s.events.Publish(&events.Event{Type: events.TypeArtifactRemoved, Key: f.key, Path: f.path})
	result.ItemsRemoved++
	result.SpaceFreed += f.size
	return true
}

// forget drops the index record and cache entry for key.
func (s *Service) forget(ctx context.Context, key string) error {
	if s.cache != nil {
		if err := s.cache.InvalidateCacheKey(ctx, key); err != nil {
			return fmt.Errorf("invalidating cache entry %s: %w", key, err)
		}
	}
	if s.index != nil {
		if err := s.index.Delete(ctx, key); err != nil {
			return fmt.Errorf("deleting index record %s: %w", key, err)
		}
	}
	return nil
}

func (s *Service) finish(kind string, result *CleanupResult, start time.Time) {
	result.Duration = s.now().Sub(start)
	if s.metrics != nil {
		s.metrics.RecordGC(kind, result.ItemsRemoved)
	}
	s.logger.Info("cleanup completed",
		"kind", kind,
		"items_removed", result.ItemsRemoved,
		"space_freed", result.SpaceFreed,
		"errors", len(result.Errors),
		"duration", result.Duration,
	)
}

func dirSize(dir string) int64 {
	var size int64
	filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if info, err := d.Info(); err == nil && !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}
