// Package cache provides the single-flight build cache.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	builderrors "github.com/narvanalabs/jsbuilder/internal/builder/errors"
	"github.com/narvanalabs/jsbuilder/internal/models"
)

// DefaultBuildTimeout bounds a single build execution.
const DefaultBuildTimeout = 2 * time.Minute

// State is the state of a build handle.
type State int

const (
	// StatePending means the build is running.
	StatePending State = iota
	// StateSucceeded means the build produced an artifact.
	StateSucceeded
	// StateFailed means the build failed. Failed handles are never kept.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// BuildFunc produces the artifact for a cache key. It must honor ctx.
type BuildFunc func(ctx context.Context) (*models.Artifact, error)

// BuildCache deduplicates builds by cache key.
type BuildCache interface {
	// GetOrBuild returns the artifact for key, running fn only if no build
	// for key is pending or completed.
	GetOrBuild(ctx context.Context, key string, fn BuildFunc) (*models.Artifact, error)

	// Evict removes the completed entry for key if it still holds stale.
	Evict(key string, stale *models.Artifact) bool
}

// handle tracks one build attempt. state, artifact and err are written
// under Manager.mu before done is closed.
type handle struct {
	key       string
	done      chan struct{}
	state     State
	artifact  *models.Artifact
	err       error
	startedAt time.Time
}

// Manager implements BuildCache. At most one build runs per key at a time;
// every caller waiting on the key observes the same outcome.
type Manager struct {
	// entries holds pending and succeeded handles keyed by cache key.
	entries map[string]*handle

	// mu protects entries, handle state and the counters.
	mu sync.Mutex

	// timeout bounds each build; zero disables the bound.
	timeout time.Duration

	// baseCtx is the parent of every build context. Builds are detached
	// from the requests that trigger them.
	baseCtx context.Context
	cancel  context.CancelFunc

	logger *slog.Logger

	hits     int64
	misses   int64
	shared   int64
	failures int64
}

// ManagerOption is a functional option for configuring Manager.
type ManagerOption func(*Manager)

// WithBuildTimeout sets the per-build timeout.
func WithBuildTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		m.timeout = timeout
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new Manager with default settings.
func NewManager() *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		entries: make(map[string]*handle),
		timeout: DefaultBuildTimeout,
		baseCtx: ctx,
		cancel:  cancel,
		logger:  slog.Default(),
	}
}

// NewManagerWithOptions creates a new Manager with custom options.
func NewManagerWithOptions(opts ...ManagerOption) *Manager {
	m := NewManager()
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetOrBuild returns the artifact for key. The first caller for an unseen
// key starts fn in its own goroutine; callers arriving while it runs wait
// for the same result. A caller whose ctx ends stops waiting but does not
// cancel the shared build. Failures are not cached.
func (m *Manager) GetOrBuild(ctx context.Context, key string, fn BuildFunc) (*models.Artifact, error) {
	if key == "" {
		return nil, ErrEmptyCacheKey
	}
	if fn == nil {
		return nil, ErrNilBuildFunc
	}

	m.mu.Lock()
	h, ok := m.entries[key]
	switch {
	case ok && h.state == StateSucceeded:
		m.hits++
	case ok:
		m.shared++
	default:
		h = &handle{
			key:       key,
			done:      make(chan struct{}),
			state:     StatePending,
			startedAt: time.Now(),
		}
		m.entries[key] = h
		m.misses++
		go m.run(h, fn)
	}
	m.mu.Unlock()

	select {
	case <-h.done:
		return h.artifact, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run executes fn for h and publishes the outcome.
func (m *Manager) run(h *handle, fn BuildFunc) {
	ctx := m.baseCtx
	var cancel context.CancelFunc
	if m.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type result struct {
		artifact *models.Artifact
		err      error
	}
	resCh := make(chan result, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				resCh <- result{err: fmt.Errorf("build panicked: %v", rec)}
			}
		}()
		art, err := fn(ctx)
		if err == nil && art == nil {
			err = ErrNilArtifact
		}
		resCh <- result{artifact: art, err: err}
	}()

	var res result
	select {
	case res = <-resCh:
		if res.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.err = builderrors.NewBuildTimeoutError(m.timeout).WithDigest(h.key)
		}
	case <-ctx.Done():
		// fn may ignore ctx; release the slot anyway and drop its late result.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.err = builderrors.NewBuildTimeoutError(m.timeout).WithDigest(h.key)
		} else {
			res.err = fmt.Errorf("build cancelled: %w", ctx.Err())
		}
	}

	m.finish(h, res.artifact, res.err)
}

// finish records the outcome of h and wakes its waiters.
func (m *Manager) finish(h *handle, art *models.Artifact, err error) {
	m.mu.Lock()
	if err != nil {
		h.state = StateFailed
		h.err = err
		m.failures++
		if m.entries[h.key] == h {
			delete(m.entries, h.key)
		}
	} else {
		h.state = StateSucceeded
		h.artifact = art
	}
	m.mu.Unlock()
	close(h.done)

	if err != nil {
		m.logger.Warn("build failed",
			"key", h.key,
			"duration", time.Since(h.startedAt).String(),
			"error", err,
		)
		return
	}
	m.logger.Debug("build cached", "key", h.key, "path", art.Path)
}

// Evict removes the succeeded entry for key when it still holds stale.
// A newer build for the same key is left untouched.
func (m *Manager) Evict(key string, stale *models.Artifact) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.entries[key]
	if !ok || h.state != StateSucceeded || h.artifact != stale {
		return false
	}
	delete(m.entries, key)
	return true
}

// InvalidateCacheKey removes the succeeded entry for key. Pending builds are
// not affected.
func (m *Manager) InvalidateCacheKey(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyCacheKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.entries[key]; ok && h.state == StateSucceeded {
		delete(m.entries, key)
	}
	return nil
}

// Lookup returns the state and, when succeeded, the artifact for key.
func (m *Manager) Lookup(ctx context.Context, key string) (State, *models.Artifact, error) {
	if key == "" {
		return 0, nil, ErrEmptyCacheKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.entries[key]
	if !ok {
		return 0, nil, ErrCacheNotFound
	}
	return h.state, h.artifact, nil
}

// CacheStats contains statistics about the cache.
type CacheStats struct {
	TotalEntries int   `json:"total_entries"`
	Pending      int   `json:"pending"`
	Succeeded    int   `json:"succeeded"`
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	Shared       int64 `json:"shared"`
	Failures     int64 `json:"failures"`
}

// GetCacheStats returns statistics about the cache.
func (m *Manager) GetCacheStats(ctx context.Context) *CacheStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &CacheStats{
		TotalEntries: len(m.entries),
		Hits:         m.hits,
		Misses:       m.misses,
		Shared:       m.shared,
		Failures:     m.failures,
	}
	for _, h := range m.entries {
		if h.state == StatePending {
			stats.Pending++
		} else {
			stats.Succeeded++
		}
	}
	return stats
}

// ListCacheKeys returns all cache keys in the cache, sorted.
func (m *Manager) ListCacheKeys(ctx context.Context) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.entries))
	for key := range m.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Close cancels every in-flight build. Waiters receive a cancellation error.
func (m *Manager) Close() error {
	m.cancel()
	return nil
}
