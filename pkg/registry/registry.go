// Package registry maps step types to the factories that build their executors.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/dukex/stepflow/pkg/actions/condition"
	"github.com/dukex/stepflow/pkg/actions/httprequest"
	"github.com/dukex/stepflow/pkg/actions/transform"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

// ErrStepTypeNotRegistered is returned when no factory handles a step type.
var ErrStepTypeNotRegistered = errors.New("step type not registered")

// StepType describes a registered step type.
type StepType struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"`
}

// Registry holds executor factories keyed by step type.
type Registry struct {
	logger    *slog.Logger
	mu        sync.RWMutex
	factories map[models.StepType]protocol.ExecutorFactory
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:    log.With("module", "registry"),
		factories: make(map[models.StepType]protocol.ExecutorFactory),
	}
}

// NewDefaultRegistry creates a registry with the api, transform and condition executors.
// opts configure the api executor.
func NewDefaultRegistry(log *slog.Logger, opts ...httprequest.Option) *Registry {
	r := NewRegistry(log)
	r.RegisterExecutor(httprequest.NewActionFactory(opts...))
	r.RegisterExecutor(transform.NewActionFactory())
	r.RegisterExecutor(condition.NewActionFactory())

	return r
}

// RegisterExecutor adds factory under its ID, replacing any previous factory for that type.
func (r *Registry) RegisterExecutor(factory protocol.ExecutorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[models.StepType(factory.ID())] = factory

	r.logger.Debug("Registered step type", "step_type", factory.ID())
}

// CreateExecutor builds the executor for stepType from config.
func (r *Registry) CreateExecutor(
	ctx context.Context,
	stepType models.StepType,
	config map[string]any,
) (protocol.StepExecutor, error) {
	factory, err := r.factory(stepType)
	if err != nil {
		return nil, err
	}

	if config == nil {
		config = map[string]any{}
	}

	return factory.Create(ctx, config)
}

// ValidateConfig checks config against the JSON schema of stepType.
// Schema violations wrap protocol.ErrInvalidStepConfig.
func (r *Registry) ValidateConfig(stepType models.StepType, config map[string]any) error {
	factory, err := r.factory(stepType)
	if err != nil {
		return err
	}

	if config == nil {
		config = map[string]any{}
	}

	schemaLoader := gojsonschema.NewGoLoader(factory.Schema())
	dataLoader := gojsonschema.NewGoLoader(config)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("failed to validate %s config: %w", stepType, err)
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}

		return fmt.Errorf("%w: %s: %s", protocol.ErrInvalidStepConfig, stepType, strings.Join(errs, "; "))
	}

	return nil
}

// StepTypes lists the registered step types ordered by ID.
func (r *Registry) StepTypes() []StepType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]StepType, 0, len(r.factories))
	for _, factory := range r.factories {
		types = append(types, StepType{
			ID:          factory.ID(),
			Name:        factory.Name(),
			Description: factory.Description(),
			Schema:      factory.Schema(),
		})
	}

	slices.SortFunc(types, func(a, b StepType) int {
		return strings.Compare(a.ID, b.ID)
	})

	return types
}

func (r *Registry) factory(stepType models.StepType) (protocol.ExecutorFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[stepType]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrStepTypeNotRegistered, stepType)
	}

	return factory, nil
}
