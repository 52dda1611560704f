// Package models defines the data structures shared by the control loop.
// Every type here is plain data with json tags so an external transport can
// serialize it directly.
package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ResourceSnapshot is a single point-in-time reading of system load.
// Snapshots are passed by value and never mutated after Normalize.
type ResourceSnapshot struct {
	Timestamp     time.Time  `json:"timestamp"`
	CPUPercent    float64    `json:"cpu_percent"`
	MemoryPercent float64    `json:"memory_percent"`
	MemoryMB      float64    `json:"memory_mb"`
	IOReadMBs     float64    `json:"io_read_mb_s"`
	IOWriteMBs    float64    `json:"io_write_mb_s"`
	NetworkBytesS float64    `json:"network_bytes_s"`
	LoadAverage   [3]float64 `json:"load_average"`
	Temperature   *float64   `json:"temperature"`
}

// Normalize clamps percentages into [0,100] and negative rates to zero.
func (s ResourceSnapshot) Normalize() ResourceSnapshot {
	s.CPUPercent = ClampPercent(s.CPUPercent)
	s.MemoryPercent = ClampPercent(s.MemoryPercent)
	s.MemoryMB = math.Max(0, s.MemoryMB)
	s.IOReadMBs = math.Max(0, s.IOReadMBs)
	s.IOWriteMBs = math.Max(0, s.IOWriteMBs)
	s.NetworkBytesS = math.Max(0, s.NetworkBytesS)
	if s.Temperature != nil {
		t := *s.Temperature
		s.Temperature = &t
	}
	return s
}

// ClampPercent restricts v to [0,100]. NaN becomes 0.
func ClampPercent(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// ResourceLimits are the limits currently granted to one service.
type ResourceLimits struct {
	CPUPercent  float64 `json:"cpu_percent" yaml:"cpu_percent"`
	MemoryMB    float64 `json:"memory_mb" yaml:"memory_mb"`
	IOPriority  int     `json:"io_priority" yaml:"io_priority"`
	CPUAffinity []int   `json:"cpu_affinity,omitempty" yaml:"cpu_affinity,omitempty"`
	NiceValue   int     `json:"nice_value" yaml:"nice_value"`
}

// Validate checks value ranges.
func (l ResourceLimits) Validate() error {
	if l.CPUPercent <= 0 || l.CPUPercent > 100 {
		return fmt.Errorf("cpu_percent %.1f out of range (0,100]", l.CPUPercent)
	}
	if l.MemoryMB <= 0 {
		return fmt.Errorf("memory_mb %.0f must be positive", l.MemoryMB)
	}
	if l.IOPriority < 0 || l.IOPriority > 7 {
		return fmt.Errorf("io_priority %d out of range 0..7", l.IOPriority)
	}
	if l.NiceValue < -20 || l.NiceValue > 19 {
		return fmt.Errorf("nice_value %d out of range -20..19", l.NiceValue)
	}
	for _, cpu := range l.CPUAffinity {
		if cpu < 0 {
			return fmt.Errorf("cpu_affinity contains negative cpu %d", cpu)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (l ResourceLimits) Clone() ResourceLimits {
	if l.CPUAffinity != nil {
		l.CPUAffinity = append([]int(nil), l.CPUAffinity...)
	}
	return l
}

// Value returns the limit for the given resource type.
func (l ResourceLimits) Value(rt ResourceType) float64 {
	if rt == ResourceMemory {
		return l.MemoryMB
	}
	return l.CPUPercent
}

// ServiceResourceProfile is the allocation policy for one service.
// Profiles are read once at startup and never mutated by the loop.
type ServiceResourceProfile struct {
	Name          string                           `json:"service_name" yaml:"name"`
	BaseLimits    ResourceLimits                   `json:"base_limits" yaml:"base_limits"`
	Priority      int                              `json:"priority" yaml:"priority"`
	Critical      bool                             `json:"critical" yaml:"critical"`
	Adaptive      bool                             `json:"adaptive" yaml:"adaptive"`
	ModeOverrides map[OperationMode]ResourceLimits `json:"mode_overrides,omitempty" yaml:"mode_overrides,omitempty"`
}

// Validate checks the profile is usable as policy.
func (p ServiceResourceProfile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("service name is required")
	}
	if p.Priority < 1 {
		return fmt.Errorf("service %s: priority must be >= 1 (got %d)", p.Name, p.Priority)
	}
	if err := p.BaseLimits.Validate(); err != nil {
		return fmt.Errorf("service %s: base_limits: %w", p.Name, err)
	}
	for mode, limits := range p.ModeOverrides {
		if !mode.Valid() {
			return fmt.Errorf("service %s: unknown mode %q in overrides", p.Name, mode)
		}
		if err := limits.Validate(); err != nil {
			return fmt.Errorf("service %s: override %s: %w", p.Name, mode, err)
		}
	}
	return nil
}

// OperationMode is the device-wide mission mode set by an external coordinator.
type OperationMode string

const (
	ModeMowing      OperationMode = "mowing"
	ModeCharging    OperationMode = "charging"
	ModeIdle        OperationMode = "idle"
	ModeMaintenance OperationMode = "maintenance"
	ModeEmergency   OperationMode = "emergency"
)

// AllModes lists every operation mode.
func AllModes() []OperationMode {
	return []OperationMode{ModeMowing, ModeCharging, ModeIdle, ModeMaintenance, ModeEmergency}
}

// Valid reports whether m is a known mode.
func (m OperationMode) Valid() bool {
	for _, known := range AllModes() {
		if m == known {
			return true
		}
	}
	return false
}

func (m OperationMode) String() string { return string(m) }

// ParseOperationMode parses a mode name case-insensitively.
func ParseOperationMode(s string) (OperationMode, error) {
	m := OperationMode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown operation mode %q", s)
	}
	return m, nil
}

// UnmarshalText normalizes case and whitespace. Unknown values decode as
// is so stored reports always round-trip; configuration rejects them in
// Validate.
func (m *OperationMode) UnmarshalText(text []byte) error {
	*m = OperationMode(strings.ToLower(strings.TrimSpace(string(text))))
	return nil
}

// ResourceType names the resource an allocation decision changes.
type ResourceType string

const (
	ResourceCPU    ResourceType = "cpu"
	ResourceMemory ResourceType = "memory"
)

// Thresholds are the alerting and rule thresholds.
type Thresholds struct {
	CPUWarning          float64 `json:"cpu_warning" yaml:"cpu_warning"`
	CPUCritical         float64 `json:"cpu_critical" yaml:"cpu_critical"`
	MemoryWarning       float64 `json:"memory_warning" yaml:"memory_warning"`
	MemoryCritical      float64 `json:"memory_critical" yaml:"memory_critical"`
	TemperatureWarning  float64 `json:"temperature_warning" yaml:"temperature_warning"`
	TemperatureCritical float64 `json:"temperature_critical" yaml:"temperature_critical"`
	EfficiencyWarning   float64 `json:"efficiency_warning" yaml:"efficiency_warning"`
}

// DefaultThresholds returns the stock warning/critical pairs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUWarning:          80,
		CPUCritical:         90,
		MemoryWarning:       80,
		MemoryCritical:      90,
		TemperatureWarning:  70,
		TemperatureCritical: 80,
		EfficiencyWarning:   60,
	}
}

// Validate checks that each warning threshold sits below its critical pair.
func (t Thresholds) Validate() error {
	pairs := []struct {
		name           string
		warn, critical float64
	}{
		{"cpu", t.CPUWarning, t.CPUCritical},
		{"memory", t.MemoryWarning, t.MemoryCritical},
		{"temperature", t.TemperatureWarning, t.TemperatureCritical},
	}
	for _, p := range pairs {
		if p.warn <= 0 || p.critical <= 0 {
			return fmt.Errorf("%s thresholds must be positive", p.name)
		}
		if p.warn >= p.critical {
			return fmt.Errorf("%s warning (%.1f) must be below critical (%.1f)", p.name, p.warn, p.critical)
		}
	}
	if t.EfficiencyWarning < 0 || t.EfficiencyWarning > 100 {
		return fmt.Errorf("efficiency_warning %.1f out of range [0,100]", t.EfficiencyWarning)
	}
	return nil
}
