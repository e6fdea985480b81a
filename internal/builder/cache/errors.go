// Package cache provides the single-flight build cache.
package cache

import "errors"

// Cache errors.
var (
	// ErrEmptyCacheKey is returned when an empty cache key is provided.
	ErrEmptyCacheKey = errors.New("cache key is empty")

	// ErrNilBuildFunc is returned when no build function is provided.
	ErrNilBuildFunc = errors.New("build function is nil")

	// ErrNilArtifact is returned when a build function reports success
	// without an artifact.
	ErrNilArtifact = errors.New("build returned no artifact")

	// ErrCacheNotFound is returned when a cache entry is not found.
	ErrCacheNotFound = errors.New("cache entry not found")
)
