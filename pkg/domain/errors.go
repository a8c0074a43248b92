package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a ServiceError raised because no package exists for a version.
	ErrNotFound = errors.New("not found")
	// ErrInterrupted is returned when waiting on an external process was interrupted.
	ErrInterrupted = errors.New("interrupted")
)

// UnknownTerminologyError is returned when a name is absent from the catalog.
type UnknownTerminologyError struct {
	Name string
}

func (e UnknownTerminologyError) Error() string {
	return "Unknown syndication terminology: " + e.Name
}

// ServiceError reports a failure of the import service itself, as opposed to
// an IO or process failure.
type ServiceError struct {
	Message string
	Err     error
}

func (e *ServiceError) Error() string { return e.Message }

func (e *ServiceError) Unwrap() error { return e.Err }

// NewServiceError formats a ServiceError message.
func NewServiceError(format string, args ...any) *ServiceError {
	return &ServiceError{Message: fmt.Sprintf(format, args...)}
}

// NoPackagesError is the failure recorded when fetching yields no packages.
func NoPackagesError(version string) *ServiceError {
	return &ServiceError{Message: "No terminology packages found for version " + version, Err: ErrNotFound}
}

// FileNotFoundError is raised by strategies that cannot locate a release file.
func FileNotFoundError(terminology string) *ServiceError {
	return &ServiceError{Message: terminology + " terminology file not found, cannot be imported", Err: ErrNotFound}
}
