package httprequest_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/dukex/stepflow/pkg/actions/httprequest"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestNewAction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		config   map[string]any
		expected *httprequest.Action
	}{
		{
			name: "basic GET request",
			config: map[string]any{
				"url":    "https://api.example.com/data",
				"method": "GET",
			},
			expected: &httprequest.Action{
				URL:     "https://api.example.com/data",
				Method:  "GET",
				Headers: map[string]string{},
				Timeout: 30 * time.Second,
			},
		},
		{
			name: "POST request with headers and body",
			config: map[string]any{
				"url":    "https://api.example.com/create",
				"method": "post",
				"body":   `{"key": "value"}`,
				"headers": map[string]any{
					"Content-Type":  "application/json",
					"Authorization": "Bearer token123",
					"X-Ignored":     42,
				},
			},
			expected: &httprequest.Action{
				URL:    "https://api.example.com/create",
				Method: "POST",
				Body:   `{"key": "value"}`,
				Headers: map[string]string{
					"Content-Type":  "application/json",
					"Authorization": "Bearer token123",
				},
				Timeout: 30 * time.Second,
			},
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			action, err := httprequest.NewAction(testCase.config)
			require.NoError(t, err)
			assert.Equal(t, testCase.expected, action)
		})
	}
}

func TestNewAction_InvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		config      map[string]any
		expectedErr error
	}{
		{"missing url", map[string]any{"method": "GET"}, httprequest.ErrHTTPRequestURLInvalid},
		{"blank url", map[string]any{"url": "  ", "method": "GET"}, httprequest.ErrHTTPRequestURLInvalid},
		{"missing method", map[string]any{"url": "https://example.com"}, httprequest.ErrHTTPMethodInvalid},
		{"unknown method", map[string]any{"url": "https://example.com", "method": "FETCH"}, httprequest.ErrHTTPMethodInvalid},
		{"broken url template", map[string]any{"url": "https://example.com/{{ .id", "method": "GET"}, nil},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := httprequest.NewAction(testCase.config)
			require.Error(t, err)
			require.ErrorIs(t, err, protocol.ErrInvalidStepConfig)

			if testCase.expectedErr != nil {
				assert.ErrorIs(t, err, testCase.expectedErr)
			}
		})
	}
}

func TestAction_Execute_JSONResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assert.Equal(t, http.MethodGet, request.Method)
		assert.Equal(t, "application/json", request.Header.Get("Accept"))

		writer.Header().Set("Content-Type", "application/json")

		_ = json.NewEncoder(writer).Encode(map[string]any{"ok": true, "count": 21})
	}))
	defer server.Close()

	action, err := httprequest.NewAction(map[string]any{
		"url":     server.URL,
		"method":  "GET",
		"headers": map[string]any{"Accept": "application/json"},
	})
	require.NoError(t, err)

	result, err := action.Execute(context.Background(), nil, testLogger())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true, "count": 21.0}, result)
}

func TestAction_Execute_TemplatedRequest(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assert.Equal(t, http.MethodPost, request.Method)
		assert.Equal(t, "/users/42", request.URL.Path)
		assert.Equal(t, "Bearer secret", request.Header.Get("Authorization"))

		body, err := io.ReadAll(request.Body)
		assert.NoError(t, err)
		assert.JSONEq(t, `{"name": "Alice"}`, string(body))

		_ = json.NewEncoder(writer).Encode(map[string]any{"created": true})
	}))
	defer server.Close()

	action, err := httprequest.NewAction(map[string]any{
		"url":    server.URL + "/users/{{ .id }}",
		"method": "POST",
		"headers": map[string]any{
			"Authorization": "Bearer {{ .token }}",
		},
		"body": `{"name": "{{ .name }}"}`,
	})
	require.NoError(t, err)

	input := map[string]any{"id": 42, "token": "secret", "name": "Alice"}

	result, err := action.Execute(context.Background(), input, testLogger())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"created": true}, result)
}

func TestAction_Execute_StructuredBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assert.Equal(t, "application/json", request.Header.Get("Content-Type"))

		var body map[string]any

		assert.NoError(t, json.NewDecoder(request.Body).Decode(&body))
		assert.Equal(t, "active", body["status"])

		writer.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	action, err := httprequest.NewAction(map[string]any{
		"url":    server.URL,
		"method": "PUT",
		"body":   map[string]any{"status": "active"},
	})
	require.NoError(t, err)

	result, err := action.Execute(context.Background(), nil, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "", result)
}

func TestAction_Execute_NonJSONResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		_, _ = writer.Write([]byte("plain text"))
	}))
	defer server.Close()

	action, err := httprequest.NewAction(map[string]any{"url": server.URL, "method": "GET"})
	require.NoError(t, err)

	result, err := action.Execute(context.Background(), nil, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "plain text", result)
}

func TestAction_Execute_ErrorStatusIsNotChecked(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusInternalServerError)
		_, _ = writer.Write([]byte(`{"error": "boom"}`))
	}))
	defer server.Close()

	action, err := httprequest.NewAction(map[string]any{"url": server.URL, "method": "GET"})
	require.NoError(t, err)

	result, err := action.Execute(context.Background(), nil, testLogger())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"error": "boom"}, result)
}

func TestAction_Execute_TransportError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	action, err := httprequest.NewAction(
		map[string]any{"url": url, "method": "GET"},
		httprequest.WithHTTPClient(&http.Client{Timeout: time.Second}),
	)
	require.NoError(t, err)

	_, err = action.Execute(context.Background(), nil, testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, httprequest.ErrHTTPRequestFailed)
}

func TestActionFactory(t *testing.T) {
	t.Parallel()

	factory := httprequest.NewActionFactory(httprequest.WithTimeout(5 * time.Second))
	assert.Equal(t, "api", factory.ID())
	assert.NotEmpty(t, factory.Name())
	assert.NotEmpty(t, factory.Description())
	assert.Equal(t, []string{"url", "method"}, factory.Schema()["required"])

	executor, err := factory.Create(context.Background(), map[string]any{
		"url":    "https://example.com",
		"method": "GET",
	})
	require.NoError(t, err)

	action, ok := executor.(*httprequest.Action)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, action.Timeout)

	_, err = factory.Create(context.Background(), map[string]any{"url": "https://example.com"})
	assert.ErrorIs(t, err, protocol.ErrInvalidStepConfig)
}
