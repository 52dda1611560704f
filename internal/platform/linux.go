//go:build linux

// Linux Platform implementation. Reads the kernel thermal framework, which
// is the only temperature source on many ARM boards where hwmon sensors
// are not exposed to gopsutil.
package platform

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultThermalGlob = "/sys/class/thermal/thermal_zone*/temp"

// LinuxPlatform implements Platform for Linux systems.
type LinuxPlatform struct {
	thermalGlob string
}

// New creates a new Linux platform instance.
func New() Platform {
	return &LinuxPlatform{thermalGlob: defaultThermalGlob}
}

// NewWithThermalGlob creates a Linux platform reading zones matching glob.
func NewWithThermalGlob(glob string) *LinuxPlatform {
	return &LinuxPlatform{thermalGlob: glob}
}

// Name returns the platform identifier.
func (p *LinuxPlatform) Name() string { return "linux" }

// ThermalZoneTemperature returns the maximum reading across thermal zones.
// Zone files report millidegrees Celsius.
func (p *LinuxPlatform) ThermalZoneTemperature() (*float64, error) {
	paths, err := filepath.Glob(p.thermalGlob)
	if err != nil {
		return nil, err
	}

	var hottest float64
	found := false
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
		if err != nil {
			continue
		}
		celsius := milli / 1000
		if !found || celsius > hottest {
			hottest = celsius
			found = true
		}
	}
	if !found {
		return nil, nil
	}
	return &hottest, nil
}
