package cleanup

import (
	"context"
	"fmt"
	"log/slog"
)

// Usage thresholds, as a percentage of the compiled directory budget.
const (
	// DiskWarningThreshold is the percentage at which a warning is logged.
	DiskWarningThreshold = 80.0

	// DiskCriticalThreshold is the percentage at which the least recently
	// used artifacts are trimmed back to the warning threshold.
	DiskCriticalThreshold = 90.0
)

// Usage describes how much of its budget the compiled directory uses.
type Usage struct {
	Used         int64   `json:"used_bytes"`
	Limit        int64   `json:"limit_bytes"`
	UsagePercent float64 `json:"usage_percent"`
	Artifacts    int     `json:"artifacts"`
}

// DiskMonitor keeps the compiled directory within a size budget.
type DiskMonitor struct {
	service *Service
	limit   int64
	logger  *slog.Logger
}

// NewDiskMonitor creates a new disk monitor. A limit of zero disables it.
func NewDiskMonitor(svc *Service, limit int64, logger *slog.Logger) *DiskMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiskMonitor{
		service: svc,
		limit:   limit,
		logger:  logger,
	}
}

// Enabled reports whether a budget is configured.
func (m *DiskMonitor) Enabled() bool {
	return m.limit > 0
}

// Usage measures the compiled directory.
func (m *DiskMonitor) Usage(ctx context.Context) (*Usage, error) {
	files, err := m.service.scan(ctx)
	if err != nil {
		return nil, err
	}
	u := &Usage{Limit: m.limit, Artifacts: len(files)}
	for _, f := range files {
		u.Used += f.size
	}
	if m.limit > 0 {
		u.UsagePercent = float64(u.Used) / float64(m.limit) * 100
	}
	return u, nil
}

// Check measures usage, logs a warning above the warning threshold and
// trims above the critical threshold. It reports whether it trimmed.
func (m *DiskMonitor) Check(ctx context.Context) (bool, error) {
	if !m.Enabled() {
		return false, nil
	}

	u, err := m.Usage(ctx)
	if err != nil {
		return false, fmt.Errorf("measuring compiled directory: %w", err)
	}

	if u.UsagePercent >= DiskWarningThreshold && u.UsagePercent < DiskCriticalThreshold {
		m.logger.Warn("compiled directory usage warning",
			"usage_percent", u.UsagePercent,
			"used_bytes", u.Used,
			"limit_bytes", u.Limit,
			"threshold", DiskWarningThreshold,
		)
		return false, nil
	}

	if u.UsagePercent >= DiskCriticalThreshold {
		m.logger.Error("compiled directory usage critical - trimming",
			"usage_percent", u.UsagePercent,
			"used_bytes", u.Used,
			"limit_bytes", u.Limit,
			"threshold", DiskCriticalThreshold,
		)
		target := int64(float64(m.limit) * DiskWarningThreshold / 100)
		result, err := m.service.TrimToSize(ctx, target)
		if err != nil {
			return false, fmt.Errorf("trimming compiled directory: %w", err)
		}
		m.logger.Info("compiled directory trimmed",
			"items_removed", result.ItemsRemoved,
			"space_freed", result.SpaceFreed,
		)
		return true, nil
	}

	return false, nil
}
