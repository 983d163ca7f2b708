package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/stepflow/pkg/mocks"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence/file"
	"github.com/dukex/stepflow/pkg/registry"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/dukex/stepflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) (*fiber.App, *services.Jobs) {
	t.Helper()

	store, err := file.NewStore(t.TempDir())
	require.NoError(t, err)

	reg := registry.NewDefaultRegistry(slog.New(slog.DiscardHandler))
	jobs := services.NewJobs(store, reg)

	handlers := web.NewAPIHandlers(jobs, validator.New(validator.WithRequiredStructEnabled()), reg)

	app := fiber.New()
	handlers.Register(app)

	return app, jobs
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)

		reader = bytes.NewBuffer(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, data
}

func strPtr(s string) *string {
	return &s
}

func validRequest() web.SubmitJobRequest {
	return web.SubmitJobRequest{
		Name:  "double",
		Input: map[string]any{"value": 2},
		Steps: []web.StepRequest{
			{ID: "check", Type: "condition", Config: map[string]any{
				"condition": "{{ gt .value 1.0 }}", "true_step_id": "double", "false_step_id": "skip",
			}},
			{ID: "double", Type: "transform", Config: map[string]any{"transform": "{{ mul .value 2 }}"}},
			{ID: "skip", Type: "transform", Config: map[string]any{"transform": "skipped"}},
		},
	}
}

func TestAPIHandlers_SubmitJob(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		expectedType   string
	}{
		{
			name:           "successful submission",
			requestBody:    validRequest(),
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "invalid JSON",
			requestBody:    "invalid-json",
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name:           "no steps",
			requestBody:    web.SubmitJobRequest{Name: "empty"},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name: "missing method on api step",
			requestBody: web.SubmitJobRequest{Steps: []web.StepRequest{
				{ID: "fetch", Type: "api", Config: map[string]any{"url": "https://example.com"}},
			}},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name: "cycle",
			requestBody: web.SubmitJobRequest{Steps: []web.StepRequest{
				{ID: "a", Type: "transform", NextStepID: strPtr("a"), Config: map[string]any{"transform": "x"}},
			}},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _ := setupTestApp(t)

			resp, body := doJSON(t, app, http.MethodPost, "/jobs", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode, string(body))

			if tt.expectedStatus == http.StatusCreated {
				var job models.Job
				require.NoError(t, json.Unmarshal(body, &job))

				assert.NotEmpty(t, job.ID)
				assert.Equal(t, models.JobStatusPending, job.Status)
				assert.Len(t, job.Steps, 3)
				assert.Equal(t, 2, job.Steps[2].Position)

				return
			}

			var problem map[string]any
			require.NoError(t, json.Unmarshal(body, &problem))
			assert.Equal(t, tt.expectedType, problem["type"])
			assert.EqualValues(t, tt.expectedStatus, problem["status"])
			assert.Equal(t, "/jobs", problem["instance"])
		})
	}
}

func TestAPIHandlers_SubmitJob_Duplicate(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	req := validRequest()
	req.ID = "job-1"

	resp, _ := doJSON(t, app, http.MethodPost, "/jobs", req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/jobs", req)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPIHandlers_GetJob(t *testing.T) {
	t.Parallel()

	app, jobs := setupTestApp(t)

	submitted, err := jobs.Submit(context.Background(), validRequest().Job())
	require.NoError(t, err)

	resp, body := doJSON(t, app, http.MethodGet, "/jobs/"+submitted.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var job models.Job
	require.NoError(t, json.Unmarshal(body, &job))
	assert.Equal(t, submitted.ID, job.ID)
	assert.Equal(t, "check", job.Steps[0].ID)

	resp, body = doJSON(t, app, http.MethodGet, "/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var problem map[string]any
	require.NoError(t, json.Unmarshal(body, &problem))
	assert.Equal(t, "not_found", problem["type"])
}

func TestAPIHandlers_ListJobs(t *testing.T) {
	t.Parallel()

	app, jobs := setupTestApp(t)

	for range 2 {
		_, err := jobs.Submit(context.Background(), validRequest().Job())
		require.NoError(t, err)
	}

	resp, body := doJSON(t, app, http.MethodGet, "/jobs?status=pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list web.ListJobsResponse
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 2, list.TotalCount)
	assert.Len(t, list.Jobs, 2)

	resp, body = doJSON(t, app, http.MethodGet, "/jobs?status=failed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Zero(t, list.TotalCount)

	resp, _ = doJSON(t, app, http.MethodGet, "/jobs?status=paused", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_GetStepTypes(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodGet, "/step-types", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		StepTypes []registry.StepType `json:"step_types"`
	}
	require.NoError(t, json.Unmarshal(body, &result))

	ids := make([]string, 0, len(result.StepTypes))
	for _, stepType := range result.StepTypes {
		ids = append(ids, stepType.ID)
	}

	assert.Equal(t, []string{"api", "condition", "transform"}, ids)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"healthy"`)

	store := &mocks.MockStore{}
	store.On("HealthCheck", mock.Anything).Return(errors.New("disk full"))

	reg := registry.NewDefaultRegistry(slog.New(slog.DiscardHandler))
	handlers := web.NewAPIHandlers(services.NewJobs(store, reg), validator.New(), reg)

	unhealthy := fiber.New()
	handlers.Register(unhealthy)

	resp, body = doJSON(t, unhealthy, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(body), "disk full")
}

func TestSubmitJobRequest_Job(t *testing.T) {
	t.Parallel()

	job := validRequest().Job()

	assert.Equal(t, "double", job.Name)
	require.Len(t, job.Steps, 3)
	assert.Equal(t, models.StepTypeCondition, job.Steps[0].Type)
	assert.Equal(t, "double", job.Steps[1].ID)
}
