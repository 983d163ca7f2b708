package transform

import (
	"context"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
)

// ActionFactory creates transform step executors.
type ActionFactory struct{}

// NewActionFactory creates a new ActionFactory.
func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

// Create creates a new Action instance based on the provided configuration.
func (h *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.StepExecutor, error) {
	return NewAction(config)
}

// ID returns the step type handled by the factory.
func (h *ActionFactory) ID() string {
	return string(models.StepTypeTransform)
}

// Name returns the name of the step type.
func (h *ActionFactory) Name() string {
	return "Transform"
}

// Description returns a brief description of the step type.
func (h *ActionFactory) Description() string {
	return "Transforms the step input using a template expression."
}

// Schema returns the JSON schema for the transform step configuration.
func (h *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"transform": map[string]any{
				"type":        "string",
				"minLength":   1,
				"format":      "template",
				"description": "Go template expression applied to the step input. Use Go template syntax with {{}} delimiters.",
				"examples": []string{
					"{{.name}}",
					"{\"fullName\": \"{{.firstName}} {{.lastName}}\", \"isActive\": {{eq .status \"active\"}}}",
					"{\"value\": {{ mul .value 2 }}}",
					"{{len .items}}",
				},
			},
			"input": map[string]any{
				"type":        "string",
				"format":      "template",
				"description": "Optional expression selecting the part of the input the transform sees.",
				"examples": []string{
					"{{ toJSON .data.users }}",
				},
			},
		},
		"required": []string{"transform"},
	}
}
