// RAM usage collector. Uses gopsutil for cross-platform memory metrics.
package collector

import (
	"context"

	"github.com/shirou/gopsutil/v3/mem"
)

const bytesPerMB = 1024 * 1024

// MemoryResult holds the collected memory usage data.
type MemoryResult struct {
	UsedPercent float64 `json:"used_percent"`
	UsedMB      float64 `json:"used_mb"`
	TotalMB     float64 `json:"total_mb"`
}

// MemoryCollector collects RAM usage metrics.
type MemoryCollector struct{}

// NewMemoryCollector creates a new memory collector.
func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{}
}

// Name returns the collector identifier.
func (c *MemoryCollector) Name() string { return NameMemory }

// Collect gathers memory usage (percent, used MB, total MB).
func (c *MemoryCollector) Collect(ctx context.Context) (interface{}, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return MemoryResult{
		UsedPercent: v.UsedPercent,
		UsedMB:      float64(v.Used) / bytesPerMB,
		TotalMB:     float64(v.Total) / bytesPerMB,
	}, nil
}

// IsAvailable returns true: memory metrics are available on all platforms.
func (c *MemoryCollector) IsAvailable() bool { return true }

// TotalMemoryMB reports physical memory in MB, used to size the idle
// headroom when the configuration does not pin it.
func TotalMemoryMB(ctx context.Context) (float64, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return float64(v.Total) / bytesPerMB, nil
}
