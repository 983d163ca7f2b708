package models

import "time"

// StepType identifies which executor runs a step.
type StepType string

const (
	StepTypeAPI       StepType = "api"
	StepTypeTransform StepType = "transform"
	StepTypeCondition StepType = "condition"
)

// StepStatus represents the lifecycle state of a single step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// Condition step configuration keys that carry routing targets. The camelCase
// spellings are accepted as aliases.
const (
	ConfigKeyTrueStepID       = "true_step_id"
	ConfigKeyFalseStepID      = "false_step_id"
	ConfigKeyTrueStepIDAlias  = "trueStepId"
	ConfigKeyFalseStepIDAlias = "falseStepId"
)

// Step is one node in a job's execution graph. Config is a payload whose shape
// depends on Type and is interpreted by the matching executor.
type Step struct {
	ID          string         `json:"id"                     yaml:"id"           validate:"required"`
	JobID       string         `json:"job_id"                 yaml:"-"`
	Position    int            `json:"position"               yaml:"-"            validate:"min=0"`
	Name        string         `json:"name,omitempty"         yaml:"name"`
	Type        StepType       `json:"type"                   yaml:"type"         validate:"required,oneof=api transform condition"`
	Status      StepStatus     `json:"status"                 yaml:"-"`
	Input       any            `json:"input,omitempty"        yaml:"-"`
	Output      any            `json:"output,omitempty"       yaml:"-"`
	Error       string         `json:"error,omitempty"        yaml:"-"`
	StartedAt   *time.Time     `json:"started_at,omitempty"   yaml:"-"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" yaml:"-"`
	NextStepID  *string        `json:"next_step_id,omitempty" yaml:"next_step_id"`
	Config      map[string]any `json:"config"                 yaml:"config"`
}

// HasNext reports whether the step links forward to another step.
func (s *Step) HasNext() bool {
	return s.NextStepID != nil && *s.NextStepID != ""
}

// BranchTargets returns the true/false step IDs of a condition step.
func (s *Step) BranchTargets() (string, string) {
	return BranchTargets(s.Config)
}

// BranchTargets reads the true/false step IDs from a condition config.
func BranchTargets(config map[string]any) (string, string) {
	return configString(config, ConfigKeyTrueStepID, ConfigKeyTrueStepIDAlias),
		configString(config, ConfigKeyFalseStepID, ConfigKeyFalseStepIDAlias)
}

func configString(config map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := config[key].(string); ok && value != "" {
			return value
		}
	}

	return ""
}

// Successors lists the step IDs reachable in one hop from s.
func (s *Step) Successors() []string {
	if s.Type == StepTypeCondition {
		var targets []string

		trueStepID, falseStepID := s.BranchTargets()
		for _, target := range []string{trueStepID, falseStepID} {
			if target != "" {
				targets = append(targets, target)
			}
		}

		return targets
	}

	if s.HasNext() {
		return []string{*s.NextStepID}
	}

	return nil
}
