// Package applier hands allocation decisions to the operating system.
// The allocation engine only depends on the Applier interface; the cgroup
// implementation is the reference enforcement backend for Linux devices.
package applier

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/vitalis-app/rescontrol/internal/models"
)

// Applier enforces resource limits for one service.
type Applier interface {
	ApplyLimits(ctx context.Context, service string, limits models.ResourceLimits) error
}

// LogApplier only logs the limits it receives. Used for dry runs.
type LogApplier struct {
	logger *zap.Logger
}

// NewLogApplier creates a dry-run applier.
func NewLogApplier(logger *zap.Logger) *LogApplier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogApplier{logger: logger.Named("applier")}
}

// ApplyLimits logs the limits and succeeds.
func (a *LogApplier) ApplyLimits(_ context.Context, service string, limits models.ResourceLimits) error {
	a.logger.Info("Dry run: would apply limits",
		zap.String("service", service),
		zap.Float64("cpu_percent", limits.CPUPercent),
		zap.Float64("memory_mb", limits.MemoryMB),
		zap.Int("io_priority", limits.IOPriority),
		zap.Int("nice", limits.NiceValue))
	return nil
}

// Stats summarizes applier outcomes.
type Stats struct {
	Applied   int               `json:"applied"`
	Failed    int               `json:"failed"`
	LastError map[string]string `json:"last_error,omitempty"`
}

// Counting wraps an Applier and tracks per-service outcomes.
type Counting struct {
	next Applier

	mu    sync.Mutex
	stats Stats
}

// NewCounting wraps next.
func NewCounting(next Applier) *Counting {
	return &Counting{next: next, stats: Stats{LastError: make(map[string]string)}}
}

// ApplyLimits delegates and records the outcome.
func (c *Counting) ApplyLimits(ctx context.Context, service string, limits models.ResourceLimits) error {
	err := c.next.ApplyLimits(ctx, service, limits)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.stats.Failed++
		c.stats.LastError[service] = err.Error()
		return err
	}
	c.stats.Applied++
	delete(c.stats.LastError, service)
	return nil
}

// Stats returns a copy of the counters.
func (c *Counting) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := Stats{Applied: c.stats.Applied, Failed: c.stats.Failed, LastError: make(map[string]string, len(c.stats.LastError))}
	for k, v := range c.stats.LastError {
		out.LastError[k] = v
	}
	return out
}
