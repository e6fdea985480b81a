// Package retry retries operations that fail with transient errors, such as
// connecting to the artifact index while the database is still starting.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrMaxRetriesExceeded is returned when every attempt failed with a
// retryable error.
var ErrMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")

// Retryable error patterns.
var retryableErrorPatterns = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"no such host",
	"the database system is starting up",
	"too many clients",
}

// Attempt records a single attempt.
type Attempt struct {
	Number    int           `json:"number"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Strategy defines retry behavior.
type Strategy struct {
	MaxAttempts     int           `json:"max_attempts"`
	Backoff         time.Duration `json:"backoff"`     // wait before the second attempt
	MaxBackoff      time.Duration `json:"max_backoff"` // cap for the doubling backoff
	RetryableErrors []string      `json:"retryable_errors"`
}

// DefaultStrategy returns the default retry strategy.
func DefaultStrategy() *Strategy {
	return &Strategy{
		MaxAttempts:     5,
		Backoff:         500 * time.Millisecond,
		MaxBackoff:      8 * time.Second,
		RetryableErrors: retryableErrorPatterns,
	}
}

// Manager runs operations under a retry strategy.
type Manager struct {
	strategy *Strategy
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// ManagerOption is a functional option for configuring the Manager.
type ManagerOption func(*Manager)

// WithStrategy sets a custom retry strategy.
func WithStrategy(strategy *Strategy) ManagerOption {
	return func(m *Manager) {
		m.strategy = strategy
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new retry manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		strategy: DefaultStrategy(),
		logger:   slog.Default(),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Do runs fn until it succeeds, fails with an error that is not retryable,
// the attempts run out or ctx ends. It returns the attempts made.
func (m *Manager) Do(ctx context.Context, name string, fn func(ctx context.Context) error) ([]Attempt, error) {
	var attempts []Attempt
	backoff := m.strategy.Backoff

	for n := 1; ; n++ {
		start := time.Now()
		err := fn(ctx)
		a := Attempt{Number: n, StartedAt: start, Duration: time.Since(start)}
		if err == nil {
			return append(attempts, a), nil
		}
		a.Error = err.Error()
		attempts = append(attempts, a)

		if !m.IsRetryableError(err) {
			return attempts, err
		}
		if n >= m.strategy.MaxAttempts {
			return attempts, fmt.Errorf("%s: %w after %d attempts: %w", name, ErrMaxRetriesExceeded, n, err)
		}

		m.logger.Warn("retrying after transient error",
			"operation", name,
			"attempt", n,
			"backoff", backoff.String(),
			"error", err,
		)
		if err := m.sleep(ctx, backoff); err != nil {
			return attempts, err
		}
		backoff *= 2
		if m.strategy.MaxBackoff > 0 && backoff > m.strategy.MaxBackoff {
			backoff = m.strategy.MaxBackoff
		}
	}
}

// IsRetryableError checks if an error matches any retryable pattern.
func (m *Manager) IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range m.strategy.RetryableErrors {
		if strings.Contains(errStr, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
