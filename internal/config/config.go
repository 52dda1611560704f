// Package config handles configuration loading from YAML files and environment variables.
// Configuration precedence: environment variables > config file > embedded defaults > built-in defaults.
// Unknown keys are rejected so a typo never silently changes policy.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vitalis-app/rescontrol/internal/errs"
	"github.com/vitalis-app/rescontrol/internal/models"
)

// Duration is a wrapper around time.Duration that supports YAML unmarshaling
// from human-readable strings like "15s", "30s", "1m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		parsed, err := time.ParseDuration(value.Value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
}

// MarshalYAML implements the yaml.Marshaler interface for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds all controller configuration.
type Config struct {
	Mode       models.OperationMode            `yaml:"mode"`
	Logging    LoggingConfig                   `yaml:"logging"`
	Loops      LoopsConfig                     `yaml:"loops"`
	Sampling   SamplingConfig                  `yaml:"sampling"`
	Allocation AllocationConfig                `yaml:"allocation"`
	Efficiency EfficiencyConfig                `yaml:"efficiency"`
	Prediction PredictionConfig                `yaml:"prediction"`
	Thresholds models.Thresholds               `yaml:"thresholds"`
	Services   []models.ServiceResourceProfile `yaml:"services"`
	Rules      []models.AutomationRule         `yaml:"rules"`
	Reporting  ReportingConfig                 `yaml:"reporting"`
	Metrics    MetricsConfig                   `yaml:"metrics"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// LoopsConfig holds the period of each control loop.
type LoopsConfig struct {
	Sample           Duration `yaml:"sample"`
	Allocate         Duration `yaml:"allocate"`
	Predict          Duration `yaml:"predict"`
	Automation       Duration `yaml:"automation"`
	Report           Duration `yaml:"report"`
	FailureThreshold int      `yaml:"failure_threshold"`
	HistoryCapacity  int      `yaml:"history_capacity"`
}

// SamplingConfig holds metric sampling settings.
type SamplingConfig struct {
	Timeout Duration `yaml:"timeout"`
}

// AllocationConfig holds the tuning constants of the allocation engine.
type AllocationConfig struct {
	Cooldown                Duration `yaml:"cooldown"`
	MinHistory              int      `yaml:"min_history"`
	CPUPressureStart        float64  `yaml:"cpu_pressure_start"`
	CPUPressureSpan         float64  `yaml:"cpu_pressure_span"`
	MemoryPressureStart     float64  `yaml:"memory_pressure_start"`
	MemoryPressureSpan      float64  `yaml:"memory_pressure_span"`
	ReduceThreshold         float64  `yaml:"reduce_threshold"`
	IdleThreshold           float64  `yaml:"idle_threshold"`
	MaxReduction            float64  `yaml:"max_reduction"`
	ReductionFloor          float64  `yaml:"reduction_floor"`
	ExpansionCeiling        float64  `yaml:"expansion_ceiling"`
	MaxCPUStep              float64  `yaml:"max_cpu_step"`
	MaxMemoryStepMB         float64  `yaml:"max_memory_step_mb"`
	CPUHeadroomTarget       float64  `yaml:"cpu_headroom_target"`
	MemoryHeadroomRatio     float64  `yaml:"memory_headroom_ratio"`
	MaxMemoryMB             float64  `yaml:"max_memory_mb"`
	WorkloadChangeThreshold float64  `yaml:"workload_change_threshold"`
	DecisionHistory         int      `yaml:"decision_history"`
	ApplyTimeout            Duration `yaml:"apply_timeout"`
	DryRun                  bool     `yaml:"dry_run"`
	CgroupRoot              string   `yaml:"cgroup_root"`
}

// EfficiencyConfig holds target bands for efficiency scoring.
type EfficiencyConfig struct {
	CPUTargetMin        float64 `yaml:"cpu_target_min"`
	CPUTargetMax        float64 `yaml:"cpu_target_max"`
	MemoryTargetMin     float64 `yaml:"memory_target_min"`
	MemoryTargetMax     float64 `yaml:"memory_target_max"`
	IdealLoad           float64 `yaml:"ideal_load"`
	Window              int     `yaml:"window"`
	EffectivenessWindow int     `yaml:"effectiveness_window"`
}

// PredictionConfig holds predictive analyzer settings.
type PredictionConfig struct {
	Capacity        int      `yaml:"capacity"`
	MinSamples      int      `yaml:"min_samples"`
	SeasonalSamples int      `yaml:"seasonal_samples"`
	CacheTTL        Duration `yaml:"cache_ttl"`
	Horizons        []int    `yaml:"horizons"`
}

// ReportingConfig holds alert and report settings.
type ReportingConfig struct {
	Dir          string   `yaml:"dir"`
	MaxSizeMB    int      `yaml:"max_size_mb"`
	Interval     Duration `yaml:"interval"`
	Window       Duration `yaml:"window"`
	AlertHistory int      `yaml:"alert_history"`
	UploadURL    string   `yaml:"upload_url"`
	UploadToken  string   `yaml:"upload_token"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// DefaultConfig returns the default configuration. Services are empty:
// policy always comes from a config layer.
func DefaultConfig() *Config {
	return &Config{
		Mode: models.ModeIdle,
		Logging: LoggingConfig{
			Level: "info",
		},
		Loops: LoopsConfig{
			Sample:           Duration{1 * time.Second},
			Allocate:         Duration{1 * time.Second},
			Predict:          Duration{60 * time.Second},
			Automation:       Duration{5 * time.Second},
			Report:           Duration{30 * time.Second},
			FailureThreshold: 3,
			HistoryCapacity:  1000,
		},
		Sampling: SamplingConfig{
			Timeout: Duration{2 * time.Second},
		},
		Allocation: AllocationConfig{
			Cooldown:                Duration{10 * time.Second},
			MinHistory:              5,
			CPUPressureStart:        70,
			CPUPressureSpan:         30,
			MemoryPressureStart:     60,
			MemoryPressureSpan:      40,
			ReduceThreshold:         0.3,
			IdleThreshold:           0.1,
			MaxReduction:            0.3,
			ReductionFloor:          0.3,
			ExpansionCeiling:        1.5,
			MaxCPUStep:              10,
			MaxMemoryStepMB:         512,
			CPUHeadroomTarget:       90,
			MemoryHeadroomRatio:     0.85,
			WorkloadChangeThreshold: 0.2,
			DecisionHistory:         500,
			ApplyTimeout:            Duration{2 * time.Second},
			CgroupRoot:              "/sys/fs/cgroup/rescontrol",
		},
		Efficiency: EfficiencyConfig{
			CPUTargetMin:        40,
			CPUTargetMax:        75,
			MemoryTargetMin:     30,
			MemoryTargetMax:     70,
			IdealLoad:           2.5,
			Window:              60,
			EffectivenessWindow: 20,
		},
		Prediction: PredictionConfig{
			Capacity:        5000,
			MinSamples:      20,
			SeasonalSamples: 30,
			CacheTTL:        Duration{60 * time.Second},
			Horizons:        []int{5, 15, 30},
		},
		Thresholds: models.DefaultThresholds(),
		Reporting: ReportingConfig{
			MaxSizeMB:    10,
			Interval:     Duration{15 * time.Minute},
			Window:       Duration{1 * time.Hour},
			AlertHistory: 500,
		},
	}
}

// decodeStrict unmarshals data onto cfg, rejecting unknown keys.
func decodeStrict(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// LoadFromBytes parses YAML configuration from a byte slice and merges with defaults.
// Environment variables take highest precedence and override values from the byte slice.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	if len(data) > 0 {
		if err := decodeStrict(data, cfg); err != nil {
			return nil, errs.Configuration("parsing config data: %v", err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// Locate searches standard config file paths and returns the first one found.
// Returns empty string if no config file exists.
func Locate() string {
	for _, p := range configSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadLayered loads configuration with the full precedence chain:
// env vars > external YAML file > embedded bytes > defaults.
//
// An optional configPath argument controls external-file discovery:
//   - omitted        → auto-discover via Locate()
//   - explicit value → use that path ("" means no external file)
func LoadLayered(embedded []byte, configPath ...string) (*Config, error) {
	cfg := DefaultConfig()

	if len(embedded) > 0 {
		if err := decodeStrict(embedded, cfg); err != nil {
			return nil, errs.Configuration("parsing embedded config: %v", err)
		}
	}

	var filePath string
	if len(configPath) > 0 {
		filePath = configPath[0]
	} else {
		filePath = Locate()
	}
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		switch {
		case err == nil:
			if err := decodeStrict(data, cfg); err != nil {
				return nil, errs.Configuration("parsing config file %s: %v", filePath, err)
			}
		case !os.IsNotExist(err):
			return nil, errs.Configuration("reading config file %s: %v", filePath, err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// WriteConfig serializes the config to a YAML file at the given path.
// Creates parent directories if needed.
func WriteConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0640)
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if level := os.Getenv("RC_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if mode := os.Getenv("RC_MODE"); mode != "" {
		// Invalid values surface in Validate.
		cfg.Mode = models.OperationMode(mode)
	}
	if listen := os.Getenv("RC_METRICS_LISTEN"); listen != "" {
		cfg.Metrics.Listen = listen
	}
	if token := os.Getenv("RC_UPLOAD_TOKEN"); token != "" {
		cfg.Reporting.UploadToken = token
	}
	if dry := os.Getenv("RC_DRY_RUN"); dry != "" {
		if v, err := strconv.ParseBool(dry); err == nil {
			cfg.Allocation.DryRun = v
		}
	}
}

// Validate checks that the configuration defines a usable policy.
// Every failure wraps errs.ErrConfiguration; the controller must not start.
func (c *Config) Validate() error {
	if !c.Mode.Valid() {
		return errs.Configuration("unknown operation mode %q", c.Mode)
	}
	if len(c.Services) == 0 {
		return errs.Configuration("at least one service profile is required")
	}
	seen := make(map[string]bool, len(c.Services))
	for _, p := range c.Services {
		if err := p.Validate(); err != nil {
			return errs.Configuration("%v", err)
		}
		if seen[p.Name] {
			return errs.Configuration("duplicate service profile %q", p.Name)
		}
		seen[p.Name] = true
	}
	if err := c.Thresholds.Validate(); err != nil {
		return errs.Configuration("thresholds: %v", err)
	}

	ruleIDs := make(map[string]bool, len(c.Rules))
	for _, r := range c.Rules {
		if err := r.Validate(); err != nil {
			return errs.Configuration("%v", err)
		}
		if ruleIDs[r.ID] {
			return errs.Configuration("duplicate rule id %q", r.ID)
		}
		ruleIDs[r.ID] = true
	}

	loops := map[string]Duration{
		"sample":     c.Loops.Sample,
		"allocate":   c.Loops.Allocate,
		"predict":    c.Loops.Predict,
		"automation": c.Loops.Automation,
		"report":     c.Loops.Report,
	}
	for name, d := range loops {
		if d.Duration <= 0 {
			return errs.Configuration("loops.%s must be positive", name)
		}
	}
	if c.Loops.HistoryCapacity < c.Allocation.MinHistory || c.Loops.HistoryCapacity <= 0 {
		return errs.Configuration("loops.history_capacity must be positive and >= allocation.min_history")
	}
	if c.Sampling.Timeout.Duration <= 0 {
		return errs.Configuration("sampling.timeout must be positive")
	}

	a := c.Allocation
	if a.CPUPressureSpan <= 0 || a.MemoryPressureSpan <= 0 {
		return errs.Configuration("allocation pressure spans must be positive")
	}
	if a.ReductionFloor <= 0 || a.ReductionFloor > 1 {
		return errs.Configuration("allocation.reduction_floor must be in (0,1]")
	}
	if a.ExpansionCeiling < 1 {
		return errs.Configuration("allocation.expansion_ceiling must be >= 1")
	}
	if a.MaxReduction <= 0 || a.MaxReduction >= 1 {
		return errs.Configuration("allocation.max_reduction must be in (0,1)")
	}
	if a.IdleThreshold >= a.ReduceThreshold {
		return errs.Configuration("allocation.idle_threshold must be below reduce_threshold")
	}
	if a.ApplyTimeout.Duration <= 0 || a.Cooldown.Duration < 0 {
		return errs.Configuration("allocation.apply_timeout must be positive and cooldown not negative")
	}
	if a.DecisionHistory <= 0 {
		return errs.Configuration("allocation.decision_history must be positive")
	}

	e := c.Efficiency
	if e.CPUTargetMin <= 0 || e.CPUTargetMin >= e.CPUTargetMax || e.CPUTargetMax >= 100 {
		return errs.Configuration("efficiency cpu target band is invalid")
	}
	if e.MemoryTargetMin <= 0 || e.MemoryTargetMin >= e.MemoryTargetMax || e.MemoryTargetMax >= 100 {
		return errs.Configuration("efficiency memory target band is invalid")
	}
	if e.IdealLoad <= 0 || e.Window <= 0 || e.EffectivenessWindow <= 0 {
		return errs.Configuration("efficiency ideal_load, window and effectiveness_window must be positive")
	}

	p := c.Prediction
	if p.Capacity < p.MinSamples || p.MinSamples < 20 {
		return errs.Configuration("prediction.capacity must be >= min_samples and min_samples >= 20")
	}
	if p.SeasonalSamples <= 0 {
		return errs.Configuration("prediction.seasonal_samples must be positive")
	}
	for _, h := range p.Horizons {
		if h <= 0 {
			return errs.Configuration("prediction horizons must be positive (got %d)", h)
		}
	}

	if c.Reporting.Interval.Duration <= 0 || c.Reporting.Window.Duration <= 0 {
		return errs.Configuration("reporting interval and window must be positive")
	}
	if c.Reporting.Dir != "" && c.Reporting.MaxSizeMB <= 0 {
		return errs.Configuration("reporting.max_size_mb must be positive when reporting.dir is set")
	}
	if u := c.Reporting.UploadURL; u != "" {
		parsed, err := url.Parse(u)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return errs.Configuration("reporting.upload_url %q must be an http(s) URL", u)
		}
	}
	if c.Reporting.AlertHistory <= 0 {
		return errs.Configuration("reporting.alert_history must be positive")
	}
	return nil
}
