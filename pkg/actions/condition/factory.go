package condition

import (
	"context"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
)

// ActionFactory creates condition step executors.
type ActionFactory struct{}

// NewActionFactory creates a new ActionFactory.
func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

// Create creates a new Action from the given configuration.
func (h *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.StepExecutor, error) {
	return NewAction(config)
}

// ID returns the step type handled by the factory.
func (h *ActionFactory) ID() string {
	return string(models.StepTypeCondition)
}

// Name returns the name of the step type.
func (h *ActionFactory) Name() string {
	return "Condition"
}

// Description returns a brief description of the step type.
func (h *ActionFactory) Description() string {
	return "Routes to one of two steps depending on a predicate evaluated against the input."
}

// Schema returns the JSON schema for the condition step configuration.
func (h *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"condition": map[string]any{
				"type":        "string",
				"minLength":   1,
				"format":      "template",
				"description": "Go template predicate. Booleans, non-empty strings, non-zero numbers and non-empty collections are true.",
				"examples": []string{
					"{{ .ok }}",
					"{{ gt .amount 100.0 }}",
					"{{ eq .status \"active\" }}",
				},
			},
			models.ConfigKeyTrueStepID: map[string]any{
				"type":        "string",
				"description": "Step to run when the predicate is true.",
			},
			models.ConfigKeyFalseStepID: map[string]any{
				"type":        "string",
				"description": "Step to run when the predicate is false.",
			},
			models.ConfigKeyTrueStepIDAlias: map[string]any{
				"type": "string",
			},
			models.ConfigKeyFalseStepIDAlias: map[string]any{
				"type": "string",
			},
		},
		"required": []string{"condition"},
	}
}
