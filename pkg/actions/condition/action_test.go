package condition_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/dukex/stepflow/pkg/actions/condition"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestNewAction_InvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		config      map[string]any
		expectedErr error
	}{
		{
			name:        "missing condition",
			config:      map[string]any{"true_step_id": "a", "false_step_id": "b"},
			expectedErr: condition.ErrConditionMissing,
		},
		{
			name:        "missing true branch",
			config:      map[string]any{"condition": "{{ .ok }}", "false_step_id": "b"},
			expectedErr: condition.ErrBranchMissing,
		},
		{
			name:        "missing false branch",
			config:      map[string]any{"condition": "{{ .ok }}", "true_step_id": "a"},
			expectedErr: condition.ErrBranchMissing,
		},
		{
			name:   "unparsable predicate",
			config: map[string]any{"condition": "{{ .ok", "true_step_id": "a", "false_step_id": "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := condition.NewAction(tt.config)
			require.Error(t, err)
			require.ErrorIs(t, err, protocol.ErrInvalidStepConfig)

			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
			}
		})
	}
}

func TestAction_Execute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		predicate string
		input     any
		expected  string
	}{
		{"boolean true", "{{ .ok }}", map[string]any{"ok": true}, "yes"},
		{"boolean false", "{{ .ok }}", map[string]any{"ok": false}, "no"},
		{"comparison", "{{ gt .amount 100.0 }}", map[string]any{"amount": 150.0}, "yes"},
		{"missing field is false", "{{ .missing }}", map[string]any{}, "no"},
		{"non-empty string", "{{ .name }}", map[string]any{"name": "x"}, "yes"},
		{"zero number", "{{ .count }}", map[string]any{"count": 0}, "no"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			action, err := condition.NewAction(map[string]any{
				"condition":     tt.predicate,
				"true_step_id":  "yes",
				"false_step_id": "no",
			})
			require.NoError(t, err)

			result, err := action.Execute(context.Background(), tt.input, testLogger())
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestAction_CamelCaseBranches(t *testing.T) {
	t.Parallel()

	factory := condition.NewActionFactory()
	assert.Equal(t, "condition", factory.ID())

	executor, err := factory.Create(context.Background(), map[string]any{
		"condition":   "{{ .ok }}",
		"trueStepId":  "yes",
		"falseStepId": "no",
	})
	require.NoError(t, err)

	result, err := executor.Execute(context.Background(), map[string]any{"ok": false}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "no", result)
}

func TestAction_Execute_EvaluationError(t *testing.T) {
	t.Parallel()

	action, err := condition.NewAction(map[string]any{
		"condition":     "{{ gt .amount 100.0 }}",
		"true_step_id":  "yes",
		"false_step_id": "no",
	})
	require.NoError(t, err)

	_, err = action.Execute(context.Background(), map[string]any{"amount": "many"}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "condition evaluation failed")
}
