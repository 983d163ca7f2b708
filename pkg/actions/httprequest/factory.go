package httprequest

import (
	"context"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
)

// ActionFactory creates Action instances for api steps.
type ActionFactory struct {
	opts []Option
}

// NewActionFactory creates a new ActionFactory; opts apply to every created action.
func NewActionFactory(opts ...Option) *ActionFactory {
	return &ActionFactory{opts: opts}
}

// Create creates a new Action from the given configuration.
func (h *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.StepExecutor, error) {
	return NewAction(config, h.opts...)
}

// ID returns the step type handled by the factory.
func (h *ActionFactory) ID() string {
	return string(models.StepTypeAPI)
}

// Name returns the name of the step type.
func (h *ActionFactory) Name() string {
	return "API Call"
}

// Description returns a brief description of the step type.
func (h *ActionFactory) Description() string {
	return "Performs an HTTP request and outputs the response body."
}

// Schema returns the JSON schema for configuring api steps.
func (h *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"title":       "URL",
				"type":        "string",
				"minLength":   1,
				"description": "The URL to send the HTTP request to. Supports templating against the step input.",
				"examples": []string{
					"https://api.example.com/users",
					"https://api.example.com/users/{{ .user_id }}",
				},
			},
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method to use",
				"enum": []string{
					"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS",
					"get", "post", "put", "delete", "patch", "head", "options",
				},
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "HTTP headers to include in the request. Values support templating.",
				"additionalProperties": map[string]any{
					"type": "string",
				},
			},
			"body": map[string]any{
				"description": "Request body. Strings support templating; other values are sent as JSON.",
				"examples": []any{
					`{"user_id": "{{ .id }}", "status": "active"}`,
					map[string]any{"status": "active"},
				},
			},
		},
		"required":             []string{"url", "method"},
		"additionalProperties": false,
	}
}
