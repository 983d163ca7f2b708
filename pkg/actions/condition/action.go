// Package condition provides the executor for condition steps. Its output is the ID of
// the step to run next, not a data value.
package condition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/dukex/stepflow/pkg/template"
)

var (
	// ErrConditionMissing is returned when the step config has no predicate.
	ErrConditionMissing = errors.New("missing 'condition' expression")
	// ErrBranchMissing is returned when either branch target is absent.
	ErrBranchMissing = errors.New("missing branch step id")
)

// Action evaluates Condition against the step input and picks TrueStepID or FalseStepID.
type Action struct {
	Condition   string
	TrueStepID  string
	FalseStepID string

	predicate *template.Expression
}

// NewAction creates an Action from configuration.
func NewAction(config map[string]any) (*Action, error) {
	condition, _ := config["condition"].(string)
	if condition == "" {
		return nil, fmt.Errorf("%w: %w", protocol.ErrInvalidStepConfig, ErrConditionMissing)
	}

	trueStepID, falseStepID := models.BranchTargets(config)

	if trueStepID == "" {
		return nil, fmt.Errorf("%w: %w: '%s'", protocol.ErrInvalidStepConfig, ErrBranchMissing, models.ConfigKeyTrueStepID)
	}

	if falseStepID == "" {
		return nil, fmt.Errorf("%w: %w: '%s'", protocol.ErrInvalidStepConfig, ErrBranchMissing, models.ConfigKeyFalseStepID)
	}

	predicate, err := template.Parse(condition)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrInvalidStepConfig, err)
	}

	return &Action{
		Condition:   condition,
		TrueStepID:  trueStepID,
		FalseStepID: falseStepID,
		predicate:   predicate,
	}, nil
}

// Execute evaluates the predicate and returns the chosen branch step ID.
func (a *Action) Execute(ctx context.Context, input any, logger *slog.Logger) (any, error) {
	value, err := a.predicate.Evaluate(input)
	if err != nil {
		return nil, fmt.Errorf("condition evaluation failed: %w", err)
	}

	result := template.Truthy(value)

	next := a.FalseStepID
	if result {
		next = a.TrueStepID
	}

	logger.With("module", "condition_step").DebugContext(ctx, "Condition evaluated",
		"result", result,
		"next_step_id", next,
	)

	return next, nil
}
