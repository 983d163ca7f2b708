// Package config loads job definitions from YAML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dukex/stepflow/pkg/models"
	"gopkg.in/yaml.v3"
)

// ErrNoJobs is returned when a job file holds no job document.
var ErrNoJobs = errors.New("no job definitions found")

// LoadJobFile reads every job document of a YAML file. Documents are separated by "---".
func LoadJobFile(path string) ([]*models.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file %s: %w", path, err)
	}

	jobs, err := ParseJobs(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return jobs, nil
}

// ParseJobs decodes one job per YAML document.
func ParseJobs(data []byte) ([]*models.Job, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))

	var jobs []*models.Job

	for i := 0; ; i++ {
		var job models.Job

		err := decoder.Decode(&job)
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("failed to parse YAML job document %d: %w", i, err)
		}

		if len(job.Steps) == 0 && job.ID == "" && job.Name == "" {
			continue
		}

		jobs = append(jobs, &job)
	}

	if len(jobs) == 0 {
		return nil, ErrNoJobs
	}

	return jobs, nil
}
