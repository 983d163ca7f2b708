// Package httprequest provides the executor for api steps: one outbound HTTP request per run.
package httprequest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/dukex/stepflow/pkg/template"
	"github.com/goccy/go-json"
)

const defaultTimeoutSeconds = 30

var (
	// ErrHTTPMethodInvalid is returned when the method is missing or unknown.
	ErrHTTPMethodInvalid = errors.New("invalid HTTP method")
	// ErrHTTPRequestURLInvalid is returned when the url is missing.
	ErrHTTPRequestURLInvalid = errors.New("invalid HTTP request url")
	// ErrHTTPRequestFailed is returned when the request could not be sent or its response read.
	ErrHTTPRequestFailed = errors.New("http request failed")

	allowedMethods = []string{
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete,
		http.MethodPatch, http.MethodHead, http.MethodOptions,
	}
)

// Action performs an HTTP request built from the step config, rendering templated
// parts against the step input.
type Action struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    any
	Timeout time.Duration

	client *http.Client
}

// Option customizes an Action.
type Option func(*Action)

// WithHTTPClient makes the action send requests through client.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Action) {
		a.client = client
	}
}

// WithTimeout bounds each request issued by the action.
func WithTimeout(timeout time.Duration) Option {
	return func(a *Action) {
		a.Timeout = timeout
	}
}

// NewAction creates an Action from configuration. Missing url or method is a configuration error.
func NewAction(config map[string]any, opts ...Option) (*Action, error) {
	url, _ := config["url"].(string)
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("%w: missing or invalid 'url': %w", protocol.ErrInvalidStepConfig, ErrHTTPRequestURLInvalid)
	}

	method, _ := config["method"].(string)
	method = strings.ToUpper(strings.TrimSpace(method))

	if method == "" {
		return nil, fmt.Errorf("%w: missing 'method': %w", protocol.ErrInvalidStepConfig, ErrHTTPMethodInvalid)
	}

	if !slices.Contains(allowedMethods, method) {
		return nil, fmt.Errorf("%w: unsupported method '%s': %w", protocol.ErrInvalidStepConfig, method, ErrHTTPMethodInvalid)
	}

	headers := make(map[string]string)

	if headersMap, ok := config["headers"].(map[string]any); ok {
		for k, v := range headersMap {
			if strVal, ok := v.(string); ok {
				headers[k] = strVal
			}
		}
	}

	action := &Action{
		URL:     url,
		Method:  method,
		Headers: headers,
		Body:    config["body"],
		Timeout: defaultTimeoutSeconds * time.Second,
	}

	for _, opt := range opts {
		opt(action)
	}

	if err := action.validateTemplates(); err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrInvalidStepConfig, err)
	}

	return action, nil
}

func (a *Action) validateTemplates() error {
	if template.NeedsTemplating(a.URL) {
		if _, err := template.Parse(a.URL); err != nil {
			return fmt.Errorf("invalid url template: %w", err)
		}
	}

	for key, value := range a.Headers {
		if template.NeedsTemplating(value) {
			if _, err := template.Parse(value); err != nil {
				return fmt.Errorf("invalid header '%s' template: %w", key, err)
			}
		}
	}

	if body, ok := a.Body.(string); ok && template.NeedsTemplating(body) {
		if _, err := template.Parse(body); err != nil {
			return fmt.Errorf("invalid body template: %w", err)
		}
	}

	return nil
}

// Execute sends the request and returns the response body, decoded when it is JSON.
// The status code is logged, not checked.
func (a *Action) Execute(ctx context.Context, input any, logger *slog.Logger) (any, error) {
	logger = logger.With(
		"module", "api_step",
		"method", a.Method,
	)

	req, err := a.buildRequest(ctx, input)
	if err != nil {
		return nil, err
	}

	logger.DebugContext(ctx, "Sending HTTP request", "url", req.URL.String())

	client := a.client
	if client == nil {
		client = &http.Client{Timeout: a.Timeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHTTPRequestFailed, err)
	}

	return a.processResponse(ctx, resp, logger)
}

func (a *Action) buildRequest(ctx context.Context, input any) (*http.Request, error) {
	url, err := template.RenderString(a.URL, input)
	if err != nil {
		return nil, fmt.Errorf("failed to render url template: %w", err)
	}

	body, isJSON, err := a.buildRequestBody(input)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, a.Method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	if isJSON {
		req.Header.Set("Content-Type", "application/json")
	}

	for key, value := range a.Headers {
		headerValue, err := template.RenderString(value, input)
		if err != nil {
			return nil, fmt.Errorf("failed to render header '%s' template: %w", key, err)
		}

		req.Header.Set(key, headerValue)
	}

	return req, nil
}

func (a *Action) buildRequestBody(input any) (io.Reader, bool, error) {
	switch body := a.Body.(type) {
	case nil:
		return http.NoBody, false, nil
	case string:
		if body == "" {
			return http.NoBody, false, nil
		}

		rendered, err := template.RenderString(body, input)
		if err != nil {
			return nil, false, fmt.Errorf("failed to render body template: %w", err)
		}

		return strings.NewReader(rendered), false, nil
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, false, fmt.Errorf("failed to marshal body: %w", err)
		}

		return bytes.NewReader(encoded), true, nil
	}
}

func (a *Action) processResponse(ctx context.Context, resp *http.Response, logger *slog.Logger) (any, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %w", ErrHTTPRequestFailed, err)
	}

	logger.InfoContext(ctx, "HTTP request completed", "status_code", resp.StatusCode, "body_length", len(bodyBytes))

	if len(bytes.TrimSpace(bodyBytes)) == 0 {
		return "", nil
	}

	var body any

	err = json.Unmarshal(bodyBytes, &body)
	if err != nil || body == nil {
		logger.DebugContext(ctx, "Response is not JSON, returning as string")

		return string(bodyBytes), nil
	}

	return body, nil
}
