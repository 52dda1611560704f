// Package platform provides an OS abstraction layer for platform-specific
// functionality that cannot be handled by gopsutil alone.
package platform

// Platform provides OS-specific functionality beyond what gopsutil offers.
type Platform interface {
	// ThermalZoneTemperature returns the hottest thermal zone reading in °C.
	// Returns nil if no zone is readable.
	ThermalZoneTemperature() (*float64, error)

	// Name returns the platform name (linux, stub).
	Name() string
}
