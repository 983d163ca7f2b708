package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jobsYAML = `
name: fetch and double
input:
  user: ada
steps:
  - id: fetch
    type: api
    next_step_id: double
    config:
      url: "https://api.example.com/users/{{ .user }}"
      method: GET
      headers:
        Accept: application/json
  - id: double
    type: transform
    config:
      transform: '{"value": {{ mul .value 2 }}}'
---
id: gate
first_step_id: check
steps:
  - id: check
    type: condition
    config:
      condition: "{{ .approved }}"
      true_step_id: accept
      false_step_id: reject
  - id: accept
    type: transform
    config:
      transform: accepted
`

func TestLoadJobFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "jobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(jobsYAML), 0o600))

	jobs, err := LoadJobFile(path)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	first := jobs[0]
	assert.Equal(t, "fetch and double", first.Name)
	assert.Equal(t, map[string]any{"user": "ada"}, first.Input)
	require.Len(t, first.Steps, 2)
	assert.Equal(t, models.StepTypeAPI, first.Steps[0].Type)
	require.NotNil(t, first.Steps[0].NextStepID)
	assert.Equal(t, "double", *first.Steps[0].NextStepID)
	assert.Equal(t, "GET", first.Steps[0].Config["method"])
	assert.Equal(t, map[string]any{"Accept": "application/json"}, first.Steps[0].Config["headers"])

	second := jobs[1]
	assert.Equal(t, "gate", second.ID)
	assert.Equal(t, "check", second.FirstStepID)

	trueStepID, falseStepID := second.Steps[0].BranchTargets()
	assert.Equal(t, "accept", trueStepID)
	assert.Equal(t, "reject", falseStepID)
}

func TestLoadJobFile_Errors(t *testing.T) {
	t.Parallel()

	_, err := LoadJobFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read job file")

	_, err = ParseJobs([]byte("steps: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML job document 0")

	_, err = ParseJobs([]byte("# nothing here\n"))
	assert.ErrorIs(t, err, ErrNoJobs)
}
