//go:build !linux

// Stub Platform implementation for non-Linux builds.
package platform

// StubPlatform is a no-op Platform.
type StubPlatform struct{}

// New creates a stub platform instance.
func New() Platform {
	return &StubPlatform{}
}

// Name returns the platform identifier.
func (p *StubPlatform) Name() string { return "stub" }

// ThermalZoneTemperature returns nil: there is no sysfs thermal interface.
func (p *StubPlatform) ThermalZoneTemperature() (*float64, error) {
	return nil, nil
}
