// Per-service process usage collector. Matches running processes to the
// configured service names so status can show which service is hot.
package collector

import (
	"context"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// ServiceUsage is the aggregated usage of all processes of one service.
type ServiceUsage struct {
	Service    string  `json:"service"`
	Processes  int     `json:"processes"`
	CPUPercent float64 `json:"cpu_percent"`
	MemoryMB   float64 `json:"memory_mb"`
}

// ServiceUsageCollector sums CPU and RSS per configured service.
type ServiceUsageCollector struct {
	services []string
}

// NewServiceUsageCollector creates a collector matching the given service names.
func NewServiceUsageCollector(services []string) *ServiceUsageCollector {
	names := make([]string, len(services))
	copy(names, services)
	return &ServiceUsageCollector{services: names}
}

// Name returns the collector identifier.
func (c *ServiceUsageCollector) Name() string { return NameServices }

// Collect returns one ServiceUsage per configured service, sorted by name.
// Individual process errors are skipped so one inaccessible process does
// not fail the whole collection.
func (c *ServiceUsageCollector) Collect(ctx context.Context) (interface{}, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	usage := make(map[string]*ServiceUsage, len(c.services))
	for _, name := range c.services {
		usage[name] = &ServiceUsage{Service: name}
	}

	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		svc := matchService(name, c.services)
		if svc == "" {
			continue
		}
		u := usage[svc]
		u.Processes++
		if cpuPct, err := p.CPUPercentWithContext(ctx); err == nil {
			u.CPUPercent += cpuPct
		}
		if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
			u.MemoryMB += float64(mem.RSS) / bytesPerMB
		}
	}

	out := make([]ServiceUsage, 0, len(usage))
	for _, u := range usage {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out, nil
}

// IsAvailable returns true only when there is something to match.
func (c *ServiceUsageCollector) IsAvailable() bool { return len(c.services) > 0 }

// matchService returns the service whose name equals, or prefixes, the
// process name (e.g. "vision" matches "vision-worker").
func matchService(procName string, services []string) string {
	procName = strings.ToLower(procName)
	best := ""
	for _, svc := range services {
		s := strings.ToLower(svc)
		if procName == s {
			return svc
		}
		if strings.HasPrefix(procName, s) && len(svc) > len(best) {
			best = svc
		}
	}
	return best
}
