package dispatcher

import (
	"errors"
	"fmt"
	"time"

	"dario.cat/mergo"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid dispatcher configuration")

// NoTimeout disables the per-step budget check. A zero Timeout takes the default instead.
const NoTimeout time.Duration = -1

// Config controls the poll loop. Zero fields take the values of DefaultConfig.
type Config struct {
	// Concurrency is the maximum number of jobs running at once.
	Concurrency int
	// Timeout is the per-step budget handed to the step runner, or NoTimeout.
	Timeout time.Duration
	// Retries is accepted for compatibility; failed steps are not retried.
	Retries int
	// BusyInterval is the wait when the concurrency ceiling is reached.
	BusyInterval time.Duration
	// IdleInterval is the wait when no pending job is available.
	IdleInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Concurrency:  5,
		Timeout:      30 * time.Second,
		Retries:      0,
		BusyInterval: time.Second,
		IdleInterval: 5 * time.Second,
	}
}

// WithDefaults returns c with zero fields filled from DefaultConfig.
func (c Config) WithDefaults() Config {
	merged := c

	// Both sides are the same plain struct, Merge cannot fail here.
	_ = mergo.Merge(&merged, DefaultConfig())

	return merged
}

// StepTimeout returns the budget for the step runner, zero when the check is disabled.
func (c Config) StepTimeout() time.Duration {
	if c.Timeout == NoTimeout {
		return 0
	}

	return c.Timeout
}

func (c Config) Validate() error {
	switch {
	case c.Concurrency < 1:
		return fmt.Errorf("%w: concurrency must be at least 1, got %d", ErrInvalidConfig, c.Concurrency)
	case c.Timeout < 0 && c.Timeout != NoTimeout:
		return fmt.Errorf("%w: timeout must not be negative, got %s", ErrInvalidConfig, c.Timeout)
	case c.Retries < 0:
		return fmt.Errorf("%w: retries must not be negative, got %d", ErrInvalidConfig, c.Retries)
	case c.BusyInterval <= 0 || c.IdleInterval <= 0:
		return fmt.Errorf("%w: poll intervals must be positive", ErrInvalidConfig)
	}

	return nil
}
