package models

import (
	"errors"
	"fmt"
)

var (
	// ErrCyclicStepGraph indicates a step can be reached again from itself.
	ErrCyclicStepGraph = errors.New("cyclic step graph")

	// ErrFirstStepMissing indicates the job has no resolvable first step.
	ErrFirstStepMissing = errors.New("first step not found")

	// ErrDuplicateStepID indicates two steps of the same job share an ID.
	ErrDuplicateStepID = errors.New("duplicate step id")
)

// ValidateGraph checks that the job's step graph is walkable from its first step:
// step IDs are unique, the first step resolves and no cycle is reachable.
// References to unknown steps are allowed; they end the walk.
func ValidateGraph(job *Job) error {
	steps := make(map[string]*Step, len(job.Steps))

	for _, step := range job.Steps {
		if _, exists := steps[step.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateStepID, step.ID)
		}

		steps[step.ID] = step
	}

	first, err := job.FirstStep()
	if err != nil {
		return err
	}

	const (
		visiting = 1
		done     = 2
	)

	state := make(map[string]int, len(steps))

	var walk func(step *Step) error

	walk = func(step *Step) error {
		switch state[step.ID] {
		case visiting:
			return fmt.Errorf("%w: step %s is reachable from itself", ErrCyclicStepGraph, step.ID)
		case done:
			return nil
		}

		state[step.ID] = visiting

		for _, nextID := range step.Successors() {
			next, ok := steps[nextID]
			if !ok {
				continue
			}

			if err := walk(next); err != nil {
				return err
			}
		}

		state[step.ID] = done

		return nil
	}

	return walk(first)
}
