// CPU usage collector. Uses gopsutil for cross-platform CPU metrics.
package collector

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
)

// CPUResult holds the collected CPU usage data.
type CPUResult struct {
	Overall float64 `json:"overall"`
}

// CPUCollector collects overall CPU usage.
type CPUCollector struct{}

// NewCPUCollector creates a new CPU collector.
func NewCPUCollector() *CPUCollector {
	return &CPUCollector{}
}

// Name returns the collector identifier.
func (c *CPUCollector) Name() string { return NameCPU }

// Collect returns CPU usage since the previous call. It does not block:
// gopsutil diffs against the times it recorded on the last invocation, so
// the first call after start reports usage since boot.
func (c *CPUCollector) Collect(ctx context.Context) (interface{}, error) {
	overall, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, err
	}
	result := CPUResult{}
	if len(overall) > 0 {
		result.Overall = overall[0]
	}
	return result, nil
}

// IsAvailable returns true: CPU metrics are available on all platforms.
func (c *CPUCollector) IsAvailable() bool { return true }
