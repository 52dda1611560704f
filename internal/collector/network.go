// Network I/O collector. Gathers RX/TX byte counters and converts them into a rate.
package collector

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/net"
)

// NetworkResult holds the combined RX+TX throughput in bytes per second.
type NetworkResult struct {
	BytesPerSecond float64 `json:"bytes_per_second"`
}

// NetworkCollector collects network throughput. It tracks the previous
// counters to compute a rate between collections.
type NetworkCollector struct {
	mu   sync.Mutex
	rate counterRate
	now  func() time.Time
}

// NewNetworkCollector creates a new network collector.
func NewNetworkCollector(now func() time.Time) *NetworkCollector {
	if now == nil {
		now = time.Now
	}
	return &NetworkCollector{now: now}
}

// Name returns the collector identifier.
func (c *NetworkCollector) Name() string { return NameNetwork }

// Collect returns bytes/s since the last collection.
// The first collection returns zero while establishing a baseline.
func (c *NetworkCollector) Collect(ctx context.Context) (interface{}, error) {
	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return nil, err
	}
	if len(counters) == 0 {
		return NetworkResult{}, nil
	}

	total := counters[0].BytesRecv + counters[0].BytesSent

	c.mu.Lock()
	defer c.mu.Unlock()
	return NetworkResult{BytesPerSecond: c.rate.update(total, c.now())}, nil
}

// IsAvailable returns true: network metrics are available on all platforms.
func (c *NetworkCollector) IsAvailable() bool { return true }
