// CPU temperature collector. Uses gopsutil host sensors and falls back to
// the platform thermal zones when no hwmon sensor matches. Reports the
// hottest reading to represent the worst-case thermal state.
package collector

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"

	"github.com/vitalis-app/rescontrol/internal/platform"
)

// Sensor name substrings used to identify CPU/SoC temperature sensors.
// x86:  coretemp_core_0_input, k10temp_tctl_input, zenpower_tctl_input
// ARM:  cpu_thermal_input, soc_thermal_input, acpitz_temp1_input
var cpuSensorKeys = []string{
	"cpu", "core", "package", "soc",
	"tctl", "tdie", "k10temp", "coretemp",
	"acpitz", "zenpower",
}

// minValidTemp is the minimum temperature (°C) considered valid.
const minValidTemp = 0.0

// maxValidTemp is the maximum temperature (°C) considered valid.
// Readings above this are likely sensor errors.
const maxValidTemp = 150.0

// TemperatureResult holds the collected temperature. A nil pointer means
// no sensor was found.
type TemperatureResult struct {
	CPUTemp *float64 `json:"cpu_temp"`
}

// TemperatureCollector collects the CPU temperature.
type TemperatureCollector struct {
	platform platform.Platform
	logger   *zap.Logger
}

// NewTemperatureCollector creates a new temperature collector.
// Pass a nil platform to disable the thermal zone fallback.
func NewTemperatureCollector(p platform.Platform, logger *zap.Logger) *TemperatureCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemperatureCollector{
		platform: p,
		logger:   logger,
	}
}

// Name returns the collector identifier.
func (c *TemperatureCollector) Name() string { return NameTemperature }

// Collect returns the hottest matching sensor reading. Missing sensors are
// not an error: the result simply carries a nil temperature.
func (c *TemperatureCollector) Collect(ctx context.Context) (interface{}, error) {
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil {
		// gopsutil returns partial results alongside warnings.
		c.logger.Debug("Temperature sensors reported an error", zap.Error(err))
	}

	var hottest float64
	found := false
	for _, t := range temps {
		if !isValidTemperature(t.Temperature) {
			continue
		}
		if !matchesSensor(strings.ToLower(t.SensorKey), cpuSensorKeys) {
			continue
		}
		if !found || t.Temperature > hottest {
			hottest = t.Temperature
			found = true
		}
	}

	if found {
		return TemperatureResult{CPUTemp: &hottest}, nil
	}
	return TemperatureResult{CPUTemp: c.platformFallback()}, nil
}

// IsAvailable returns true: always registered; returns nil temps if sensors unavailable.
func (c *TemperatureCollector) IsAvailable() bool { return true }

// platformFallback reads the platform thermal zones.
func (c *TemperatureCollector) platformFallback() *float64 {
	if c.platform == nil {
		return nil
	}

	temp, err := c.platform.ThermalZoneTemperature()
	if err != nil {
		c.logger.Debug("Thermal zone fallback failed", zap.Error(err))
		return nil
	}
	if temp == nil || !isValidTemperature(*temp) {
		return nil
	}
	return temp
}

// matchesSensor checks if the sensor name contains any of the given key substrings.
func matchesSensor(name string, keys []string) bool {
	for _, key := range keys {
		if strings.Contains(name, key) {
			return true
		}
	}
	return false
}

// isValidTemperature returns true if the temperature is within a plausible range.
func isValidTemperature(temp float64) bool {
	return temp > minValidTemp && temp <= maxValidTemp
}
