// Package metrics provides build performance tracking and metrics collection.
package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Build outcome labels.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusAdopted = "adopted"
)

// BuildMetrics contains build performance data.
type BuildMetrics struct {
	Key      string `json:"key"`
	MimeType string `json:"mime_type"`
	Bundler  string `json:"bundler"`
	Variants int    `json:"variants"`
	Archive  bool   `json:"archive"`

	// Timing
	BundleTime  time.Duration `json:"bundle_time"`
	FilterTime  time.Duration `json:"filter_time"`
	ArchiveTime time.Duration `json:"archive_time"`
	TotalTime   time.Duration `json:"total_time"`

	// Outcome
	Success   bool   `json:"success"`
	Adopted   bool   `json:"adopted"`
	ErrorCode string `json:"error_code,omitempty"`
	Size      int64  `json:"size"`

	// Timestamps
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// MetricsFilter defines criteria for filtering aggregate metrics.
type MetricsFilter struct {
	MimeType  string     `json:"mime_type,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Success   *bool      `json:"success,omitempty"`
}

// AggregateMetrics contains aggregated build metrics for analysis.
type AggregateMetrics struct {
	TotalBuilds      int           `json:"total_builds"`
	SuccessfulBuilds int           `json:"successful_builds"`
	FailedBuilds     int           `json:"failed_builds"`
	AdoptedBuilds    int           `json:"adopted_builds"`
	SuccessRate      float64       `json:"success_rate"`
	AvgTotalTime     time.Duration `json:"avg_total_time"`
	MaxTotalTime     time.Duration `json:"max_total_time"`
	MinTotalTime     time.Duration `json:"min_total_time"`

	// Breakdown by delivery type
	ByMimeType map[string]int `json:"by_mime_type,omitempty"`
}

// Collector records build metrics in memory for the builds API and exports
// counters and histograms to Prometheus.
type Collector struct {
	// storage holds the latest metrics keyed by cache key.
	storage map[string]*BuildMetrics

	// mu protects the storage map.
	mu sync.RWMutex

	// retentionPeriod is how long to keep metrics.
	retentionPeriod time.Duration

	registry  *prometheus.Registry
	namespace string

	buildsTotal   *prometheus.CounterVec
	buildDuration *prometheus.HistogramVec
	artifactBytes prometheus.Histogram
	inFlight      prometheus.Gauge
	requestsTotal *prometheus.CounterVec
	selfHeals     prometheus.Counter
	gcRemoved     *prometheus.CounterVec
}

// CollectorOption is a functional option for configuring Collector.
type CollectorOption func(*Collector)

// WithRetentionPeriod sets the retention period for metrics.
func WithRetentionPeriod(period time.Duration) CollectorOption {
	return func(c *Collector) {
		c.retentionPeriod = period
	}
}

// WithRegistry sets the Prometheus registry the collector registers with.
func WithRegistry(registry *prometheus.Registry) CollectorOption {
	return func(c *Collector) {
		c.registry = registry
	}
}

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) CollectorOption {
	return func(c *Collector) {
		c.namespace = namespace
	}
}

// NewCollector creates a new Collector with default settings and a private
// registry.
func NewCollector() *Collector {
	return NewCollectorWithOptions()
}

// NewCollectorWithOptions creates a new Collector with custom options.
func NewCollectorWithOptions(opts ...CollectorOption) *Collector {
	c := &Collector{
		storage:         make(map[string]*BuildMetrics),
		retentionPeriod: 7 * 24 * time.Hour,
		namespace:       "jsbuilder",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = prometheus.NewRegistry()
	}
	c.register()
	return c
}

func (c *Collector) register() {
	factory := promauto.With(c.registry)

	c.buildsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      "builds_total",
		Help:      "Total number of completed builds by status and MIME type",
	}, []string{"status", "mime_type"})

	c.buildDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: c.namespace,
		Name:      "build_duration_seconds",
		Help:      "Build duration in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"mime_type"})

	c.artifactBytes = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: c.namespace,
		Name:      "artifact_bytes",
		Help:      "Size of published artifacts in bytes",
		Buckets:   prometheus.ExponentialBuckets(1024, 4, 8), // 1KB to 16MB
	})

	c.inFlight = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: c.namespace,
		Name:      "builds_in_flight",
		Help:      "Number of builds currently running",
	})

	c.requestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      "bundle_requests_total",
		Help:      "Total bundle requests by status",
	}, []string{"status"})

	c.selfHeals = factory.NewCounter(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      "artifact_rebuilds_total",
		Help:      "Total rebuilds triggered by a missing artifact",
	})

	c.gcRemoved = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      "gc_removed_total",
		Help:      "Total files removed by garbage collection by kind",
	}, []string{"kind"})
}

// Registry returns the Prometheus registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// BuildStarted marks a build as running.
func (c *Collector) BuildStarted() {
	c.inFlight.Inc()
}

// RecordMetrics records metrics for a completed build. Adopted builds did
// not run the pipeline and are not counted as in flight.
func (c *Collector) RecordMetrics(ctx context.Context, metrics *BuildMetrics) error {
	if metrics == nil {
		return ErrNilMetrics
	}
	if metrics.Key == "" {
		return ErrEmptyKey
	}

	if metrics.CompletedAt == nil {
		now := time.Now()
		metrics.CompletedAt = &now
	}
	if metrics.TotalTime == 0 && !metrics.StartedAt.IsZero() {
		metrics.TotalTime = metrics.CompletedAt.Sub(metrics.StartedAt)
	}

	status := StatusSuccess
	switch {
	case metrics.Adopted:
		status = StatusAdopted
	case !metrics.Success:
		status = StatusFailure
	}
	c.buildsTotal.WithLabelValues(status, metrics.MimeType).Inc()
	if !metrics.Adopted {
		c.inFlight.Dec()
		c.buildDuration.WithLabelValues(metrics.MimeType).Observe(metrics.TotalTime.Seconds())
	}
	if metrics.Success && metrics.Size > 0 {
		c.artifactBytes.Observe(float64(metrics.Size))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	stored := *metrics
	c.storage[metrics.Key] = &stored
	return nil
}

// RecordRequest counts a bundle request by status.
func (c *Collector) RecordRequest(status string) {
	c.requestsTotal.WithLabelValues(status).Inc()
}

// RecordSelfHeal counts a rebuild triggered by a missing artifact.
func (c *Collector) RecordSelfHeal() {
	c.selfHeals.Inc()
}

// RecordGC counts files removed by garbage collection.
func (c *Collector) RecordGC(kind string, removed int) {
	if removed > 0 {
		c.gcRemoved.WithLabelValues(kind).Add(float64(removed))
	}
}

// GetMetrics retrieves the latest metrics for a cache key.
func (c *Collector) GetMetrics(ctx context.Context, key string) (*BuildMetrics, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	metrics, ok := c.storage[key]
	if !ok {
		return nil, ErrMetricsNotFound
	}

	result := *metrics
	return &result, nil
}

// GetAggregateMetrics retrieves aggregate metrics for analysis.
func (c *Collector) GetAggregateMetrics(ctx context.Context, filter MetricsFilter) (*AggregateMetrics, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	agg := &AggregateMetrics{ByMimeType: make(map[string]int)}

	var total time.Duration
	var timed int

	for _, metrics := range c.storage {
		if !matchesFilter(metrics, filter) {
			continue
		}

		agg.TotalBuilds++
		agg.ByMimeType[metrics.MimeType]++

		switch {
		case metrics.Adopted:
			agg.AdoptedBuilds++
			agg.SuccessfulBuilds++
		case metrics.Success:
			agg.SuccessfulBuilds++
		default:
			agg.FailedBuilds++
		}

		if metrics.TotalTime > 0 && !metrics.Adopted {
			total += metrics.TotalTime
			timed++
			if metrics.TotalTime > agg.MaxTotalTime {
				agg.MaxTotalTime = metrics.TotalTime
			}
			if agg.MinTotalTime == 0 || metrics.TotalTime < agg.MinTotalTime {
				agg.MinTotalTime = metrics.TotalTime
			}
		}
	}

	if agg.TotalBuilds > 0 {
		agg.SuccessRate = float64(agg.SuccessfulBuilds) / float64(agg.TotalBuilds)
	}
	if timed > 0 {
		agg.AvgTotalTime = total / time.Duration(timed)
	}

	return agg, nil
}

// matchesFilter checks if metrics match the given filter.
func matchesFilter(metrics *BuildMetrics, filter MetricsFilter) bool {
	if filter.MimeType != "" && metrics.MimeType != filter.MimeType {
		return false
	}
	if filter.StartTime != nil && metrics.StartedAt.Before(*filter.StartTime) {
		return false
	}
	if filter.EndTime != nil && metrics.StartedAt.After(*filter.EndTime) {
		return false
	}
	if filter.Success != nil && metrics.Success != *filter.Success {
		return false
	}
	return true
}

// CleanupExpired removes metrics older than the retention period.
func (c *Collector) CleanupExpired(ctx context.Context) int {
	if c.retentionPeriod <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.retentionPeriod)
	removed := 0

	for key, metrics := range c.storage {
		if metrics.CompletedAt != nil && metrics.CompletedAt.Before(cutoff) {
			delete(c.storage, key)
			removed++
		}
	}

	return removed
}

// ListKeys returns all cache keys with recorded metrics, sorted.
func (c *Collector) ListKeys(ctx context.Context) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.storage))
	for key := range c.storage {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
