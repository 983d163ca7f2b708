// Package protocol defines the contracts step executors implement.
package protocol

import (
	"context"
	"errors"
	"log/slog"
)

// ErrInvalidStepConfig is returned when a step's config is missing fields required by its type.
var ErrInvalidStepConfig = errors.New("invalid step configuration")

// StepExecutor performs one unit of work for a step given its input value.
type StepExecutor interface {
	Execute(ctx context.Context, input any, logger *slog.Logger) (any, error)
}

// ExecutorFactory builds executors for one step type from the step's config payload.
type ExecutorFactory interface {
	// Create validates config and returns an executor; config problems wrap ErrInvalidStepConfig.
	Create(ctx context.Context, config map[string]any) (StepExecutor, error)

	// ID returns the step type this factory handles.
	ID() string

	// Name returns the human-readable name of the step type.
	Name() string

	// Description returns what the step type does.
	Description() string

	// Schema returns the JSON schema for the step config.
	Schema() map[string]any
}
