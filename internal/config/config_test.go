package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalis-app/rescontrol/internal/errs"
	"github.com/vitalis-app/rescontrol/internal/models"
)

const embeddedFixture = `
mode: idle
services:
  - name: safety_monitor
    priority: 1
    critical: true
    adaptive: false
    base_limits: {cpu_percent: 10, memory_mb: 256, io_priority: 0, nice_value: -10}
  - name: vision
    priority: 3
    adaptive: true
    base_limits: {cpu_percent: 30, memory_mb: 2048, io_priority: 4}
    mode_overrides:
      mowing: {cpu_percent: 50, memory_mb: 3072, io_priority: 2}
rules:
  - id: high_cpu
    name: High CPU
    action: reduce_non_critical
    priority: 1
    enabled: true
    cooldown_seconds: 300
    condition:
      clauses:
        - {field: cpu_percent, op: gt, value: 85}
`

func TestLoadLayered_EnvOverridesEmbed(t *testing.T) {
	t.Setenv("RC_LOG_LEVEL", "debug")
	t.Setenv("RC_MODE", "mowing")

	cfg, err := LoadLayered([]byte(embeddedFixture), "")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, models.ModeMowing, cfg.Mode)
	require.Len(t, cfg.Services, 2)
	assert.Equal(t, 50.0, cfg.Services[1].ModeOverrides[models.ModeMowing].CPUPercent)
	require.NoError(t, cfg.Validate())
}

func TestLoadLayered_FileOverridesEmbed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "controller.yaml")
	require.NoError(t, os.WriteFile(path, []byte("allocation:\n  cooldown: 30s\n"), 0600))

	cfg, err := LoadLayered([]byte(embeddedFixture), path)
	require.NoError(t, err)
	assert.Equal(t, 30.0, cfg.Allocation.Cooldown.Seconds())
	assert.Len(t, cfg.Services, 2, "services from the embedded layer survive")
}

func TestLoadLayered_DefaultsWhenEmpty(t *testing.T) {
	cfg, err := LoadLayered(nil, "")
	require.NoError(t, err)
	assert.Equal(t, 10.0, cfg.Allocation.Cooldown.Seconds())
	assert.Equal(t, 1000, cfg.Loops.HistoryCapacity)
	assert.Equal(t, 5000, cfg.Prediction.Capacity)

	err = cfg.Validate()
	assert.True(t, errs.IsConfiguration(err), "no services must be a configuration error")
}

func TestLoadLayered_RejectsUnknownKeys(t *testing.T) {
	_, err := LoadLayered([]byte("allocation:\n  coldown: 5s\n"), "")
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))
}

func TestValidate_RejectsUnknownModes(t *testing.T) {
	tests := []struct {
		name    string
		overlay string
	}{
		{"global mode", "mode: Flying\n"},
		{"override key", "services:\n  - name: vision\n    priority: 3\n    base_limits: {cpu_percent: 30, memory_mb: 2048}\n    mode_overrides:\n      docking: {cpu_percent: 10, memory_mb: 512}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "controller.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.overlay), 0600))

			cfg, err := LoadLayered([]byte(embeddedFixture), path)
			require.NoError(t, err, "decoding is lenient")
			err = cfg.Validate()
			require.Error(t, err)
			assert.True(t, errs.IsConfiguration(err))
		})
	}
}

func TestLoadLayered_NormalizesModeCase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "controller.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: \" Mowing\"\n"), 0600))

	cfg, err := LoadLayered([]byte(embeddedFixture), path)
	require.NoError(t, err)
	assert.Equal(t, models.ModeMowing, cfg.Mode)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadLayered([]byte(embeddedFixture), "")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"duplicate service", func(c *Config) { c.Services = append(c.Services, c.Services[0]) }},
		{"bad priority", func(c *Config) { c.Services[0].Priority = 0 }},
		{"duplicate rule", func(c *Config) { c.Rules = append(c.Rules, c.Rules[0]) }},
		{"bad floor", func(c *Config) { c.Allocation.ReductionFloor = 0 }},
		{"bad ceiling", func(c *Config) { c.Allocation.ExpansionCeiling = 0.5 }},
		{"bad horizon", func(c *Config) { c.Prediction.Horizons = []int{0} }},
		{"bad cpu band", func(c *Config) { c.Efficiency.CPUTargetMin = 80 }},
		{"zero loop", func(c *Config) { c.Loops.Sample = Duration{} }},
		{"thresholds", func(c *Config) { c.Thresholds.CPUCritical = 10 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errs.IsConfiguration(err))
		})
	}
}

func TestWriteConfig_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "controller.yaml")

	cfg, err := LoadLayered([]byte(embeddedFixture), "")
	require.NoError(t, err)
	require.NoError(t, WriteConfig(cfg, path))

	loaded, err := LoadLayered(nil, path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Services[1].Name, loaded.Services[1].Name)
	assert.Equal(t, cfg.Allocation.Cooldown, loaded.Allocation.Cooldown)
	assert.NoError(t, loaded.Validate())
}

func TestFileProvider_ReloadNotifiesSubscribers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "controller.yaml")
	require.NoError(t, os.WriteFile(path, []byte("thresholds:\n  cpu_warning: 75\n"), 0600))

	p, err := NewFileProvider([]byte(embeddedFixture), path, nil)
	require.NoError(t, err)
	assert.Equal(t, 75.0, p.GetThresholds().CPUWarning)

	var notified *Config
	p.Subscribe(func(c *Config) { notified = c })

	require.NoError(t, os.WriteFile(path, []byte("thresholds:\n  cpu_warning: 70\n"), 0600))
	require.NoError(t, p.Reload())
	require.NotNil(t, notified)
	assert.Equal(t, 70.0, p.GetThresholds().CPUWarning)

	// An invalid reload keeps the previous configuration.
	notified = nil
	require.NoError(t, os.WriteFile(path, []byte("thresholds:\n  cpu_warning: 99\n"), 0600))
	assert.Error(t, p.Reload())
	assert.Nil(t, notified)
	assert.Equal(t, 70.0, p.GetThresholds().CPUWarning)
}

func TestFileProvider_ProfilesAreCopies(t *testing.T) {
	p, err := NewFileProvider([]byte(embeddedFixture), "", nil)
	require.NoError(t, err)

	profiles := p.GetServiceProfiles()
	profiles[1].ModeOverrides[models.ModeMowing] = models.ResourceLimits{CPUPercent: 1, MemoryMB: 1}

	again := p.GetServiceProfiles()
	assert.Equal(t, 50.0, again[1].ModeOverrides[models.ModeMowing].CPUPercent)
}
