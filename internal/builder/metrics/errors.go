package metrics

import "errors"

var (
	// ErrNilMetrics is returned when nil metrics are provided.
	ErrNilMetrics = errors.New("metrics cannot be nil")

	// ErrEmptyKey is returned when an empty cache key is provided.
	ErrEmptyKey = errors.New("cache key cannot be empty")

	// ErrMetricsNotFound is returned when metrics for a build are not found.
	ErrMetricsNotFound = errors.New("metrics not found for build")
)
