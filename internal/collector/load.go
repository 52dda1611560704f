// Load average collector.
package collector

import (
	"context"

	"github.com/shirou/gopsutil/v3/load"
)

// LoadResult holds the 1, 5 and 15 minute load averages.
type LoadResult struct {
	Averages [3]float64 `json:"averages"`
}

// LoadCollector collects system load averages.
type LoadCollector struct{}

// NewLoadCollector creates a new load collector.
func NewLoadCollector() *LoadCollector {
	return &LoadCollector{}
}

// Name returns the collector identifier.
func (c *LoadCollector) Name() string { return NameLoad }

// Collect gathers the load averages.
func (c *LoadCollector) Collect(ctx context.Context) (interface{}, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return LoadResult{Averages: [3]float64{avg.Load1, avg.Load5, avg.Load15}}, nil
}

// IsAvailable returns true: load averages are emulated by gopsutil where the OS lacks them.
func (c *LoadCollector) IsAvailable() bool { return true }
