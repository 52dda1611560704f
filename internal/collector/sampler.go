package collector

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitalis-app/rescontrol/internal/models"
	"github.com/vitalis-app/rescontrol/internal/platform"
)

// Sampler runs the registry once per tick and assembles a ResourceSnapshot.
// A failed collector leaves its fields at zero (or nil for temperature);
// Sample always returns a valid snapshot.
type Sampler struct {
	registry  *Registry
	timeout   time.Duration
	now       func() time.Time
	logger    *zap.Logger
	onFailure func(collector string)

	mu       sync.RWMutex
	services []ServiceUsage
	uptime   int
}

// SamplerOption customizes a Sampler.
type SamplerOption func(*Sampler)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) SamplerOption {
	return func(s *Sampler) { s.now = now }
}

// WithFailureHook registers a callback invoked once per failed collector.
func WithFailureHook(fn func(collector string)) SamplerOption {
	return func(s *Sampler) { s.onFailure = fn }
}

// NewSampler creates a sampler over the given registry.
func NewSampler(registry *Registry, timeout time.Duration, logger *zap.Logger, opts ...SamplerOption) *Sampler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sampler{
		registry: registry,
		timeout:  timeout,
		now:      time.Now,
		logger:   logger.Named("sampler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewDefaultRegistry registers every built-in collector.
func NewDefaultRegistry(logger *zap.Logger, p platform.Platform, services []string, now func() time.Time) *Registry {
	registry := NewRegistry(logger)
	registry.Register(NewCPUCollector())
	registry.Register(NewMemoryCollector())
	registry.Register(NewDiskIOCollector(now))
	registry.Register(NewNetworkCollector(now))
	registry.Register(NewLoadCollector())
	registry.Register(NewTemperatureCollector(p, logger))
	registry.Register(NewServiceUsageCollector(services))
	registry.Register(NewUptimeCollector())
	return registry
}

// Sample collects all metrics under the sampling timeout.
func (s *Sampler) Sample(ctx context.Context) models.ResourceSnapshot {
	collectCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	coll := s.registry.CollectAll(collectCtx)
	for _, name := range coll.Failed {
		if s.onFailure != nil {
			s.onFailure(name)
		}
	}

	snapshot := s.assembleSnapshot(coll.Results)
	s.logger.Debug("Sampled resources",
		zap.Float64("cpu", snapshot.CPUPercent),
		zap.Float64("memory", snapshot.MemoryPercent),
		zap.Strings("failed", coll.Failed))
	return snapshot
}

// ServiceUsage returns the per-service usage from the last sample.
func (s *Sampler) ServiceUsage() []ServiceUsage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ServiceUsage, len(s.services))
	copy(out, s.services)
	return out
}

// Uptime returns system uptime in seconds from the last sample.
func (s *Sampler) Uptime() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uptime
}

// assembleSnapshot maps collector results into a ResourceSnapshot.
func (s *Sampler) assembleSnapshot(results map[string]interface{}) models.ResourceSnapshot {
	snapshot := models.ResourceSnapshot{
		Timestamp: s.now().UTC(),
	}

	if data, ok := results[NameCPU]; ok {
		if cpu, ok := data.(CPUResult); ok {
			snapshot.CPUPercent = cpu.Overall
		}
	}

	if data, ok := results[NameMemory]; ok {
		if mem, ok := data.(MemoryResult); ok {
			snapshot.MemoryPercent = mem.UsedPercent
			snapshot.MemoryMB = mem.UsedMB
		}
	}

	if data, ok := results[NameDiskIO]; ok {
		if io, ok := data.(DiskIOResult); ok {
			snapshot.IOReadMBs = io.ReadMBs
			snapshot.IOWriteMBs = io.WriteMBs
		}
	}

	if data, ok := results[NameNetwork]; ok {
		if net, ok := data.(NetworkResult); ok {
			snapshot.NetworkBytesS = net.BytesPerSecond
		}
	}

	if data, ok := results[NameLoad]; ok {
		if l, ok := data.(LoadResult); ok {
			snapshot.LoadAverage = l.Averages
		}
	}

	if data, ok := results[NameTemperature]; ok {
		if temp, ok := data.(TemperatureResult); ok {
			snapshot.Temperature = temp.CPUTemp
		}
	}

	s.mu.Lock()
	if data, ok := results[NameServices]; ok {
		if usage, ok := data.([]ServiceUsage); ok {
			s.services = usage
		}
	}
	if data, ok := results[NameUptime]; ok {
		if uptime, ok := data.(int); ok {
			s.uptime = uptime
		}
	}
	s.mu.Unlock()

	return snapshot.Normalize()
}
