// Package transform provides the executor for transform steps: a template expression
// applied to the step input.
package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/dukex/stepflow/pkg/template"
)

// ErrTransformMissing is returned when the step config has no transform expression.
var ErrTransformMissing = errors.New("missing 'transform' expression")

// Action applies Transform to the step input. When Input is set, it is evaluated
// first and its result becomes the data the transform sees.
type Action struct {
	Input     string
	Transform string

	input     *template.Expression
	transform *template.Expression
}

// NewAction creates an Action from configuration, parsing its expressions.
func NewAction(config map[string]any) (*Action, error) {
	expression, _ := config["transform"].(string)
	if expression == "" {
		return nil, fmt.Errorf("%w: %w", protocol.ErrInvalidStepConfig, ErrTransformMissing)
	}

	transform, err := template.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrInvalidStepConfig, err)
	}

	action := &Action{
		Transform: expression,
		transform: transform,
	}

	if input, _ := config["input"].(string); input != "" {
		action.Input = input

		action.input, err = template.Parse(input)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid input expression: %w", protocol.ErrInvalidStepConfig, err)
		}
	}

	return action, nil
}

// Execute evaluates the transform against input.
func (a *Action) Execute(ctx context.Context, input any, logger *slog.Logger) (any, error) {
	logger = logger.With(
		"module", "transform_step",
	)

	data := input

	if a.input != nil {
		extracted, err := a.input.Evaluate(input)
		if err != nil {
			return nil, fmt.Errorf("failed to get input data: %w", err)
		}

		data = extracted
	}

	result, err := a.transform.Evaluate(data)
	if err != nil {
		return nil, fmt.Errorf("transformation failed: %w", err)
	}

	logger.DebugContext(ctx, "Transform applied")

	return result, nil
}
