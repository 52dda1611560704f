// Package errs defines the error taxonomy shared by the control loop.
// Callers wrap these sentinels with context and test them with errors.Is.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration indicates missing or invalid policy at startup. Fatal.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrSampling indicates a single metric could not be read.
	ErrSampling = errors.New("sampling failure")

	// ErrApply indicates the limit applier rejected a decision.
	ErrApply = errors.New("apply failure")

	// ErrInsufficientData indicates an analyzer lacks enough history.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrUnknownMetric indicates a prediction was requested for an unsupported metric.
	ErrUnknownMetric = errors.New("unknown metric")

	// ErrUnsupported indicates the operation is not available on this platform.
	ErrUnsupported = errors.New("unsupported on this platform")

	// ErrNotFound indicates a lookup by id or name failed.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument indicates a caller passed an out-of-range value.
	ErrInvalidArgument = errors.New("invalid argument")
)

// IsConfiguration checks if err is or wraps ErrConfiguration
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsApply checks if err is or wraps ErrApply
func IsApply(err error) bool {
	return errors.Is(err, ErrApply)
}

// IsNotFound checks if err is or wraps ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Configuration returns a wrapped configuration error with context
func Configuration(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConfiguration)
}

// Apply returns a wrapped apply error with context
func Apply(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrApply)
}

// NotFound returns a wrapped not found error with context
func NotFound(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// InvalidArgument returns a wrapped invalid argument error with context
func InvalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidArgument)
}
