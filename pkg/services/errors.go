// Package services holds the job submission and query operations shared by the CLI and the API.
package services

import (
	"errors"

	"github.com/dukex/stepflow/pkg/persistence"
)

// Client errors (4xx responses).
var (
	// ErrInvalidJob wraps every submission validation failure (400 Bad Request).
	ErrInvalidJob = errors.New("invalid job")

	// ErrInvalidStatus is returned when filtering by an unknown job status (400 Bad Request).
	ErrInvalidStatus = errors.New("invalid job status")

	// ErrJobNotFound is returned when a job does not exist (404 Not Found).
	ErrJobNotFound = persistence.ErrJobNotFound
)

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidJob) ||
		errors.Is(err, ErrInvalidStatus)
}

// IsConflictError checks if an error should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, persistence.ErrJobAlreadyExists)
}
