// Package web provides the HTTP API for submitting and inspecting jobs.
package web

import (
	"net/http"
	"time"

	"github.com/dukex/stepflow/pkg/registry"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	jobs      *services.Jobs
	validator *validator.Validate
	registry  *registry.Registry
}

func NewAPIHandlers(
	jobs *services.Jobs,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		jobs:      jobs,
		validator: validator,
		registry:  registry,
	}
}

// Register mounts the API routes on router.
func (h *APIHandlers) Register(router fiber.Router) {
	j := router.Group("/jobs")
	j.Get("/", h.ListJobs)
	j.Post("/", h.SubmitJob)
	j.Get("/:id", h.GetJob)

	router.Get("/step-types", h.GetStepTypes)
	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) SubmitJob(c fiber.Ctx) error {
	var req SubmitJobRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	job, err := h.jobs.Submit(c.Context(), req.Job())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(job)
}

func (h *APIHandlers) ListJobs(c fiber.Ctx) error {
	jobs, err := h.jobs.List(c.Context(), c.Query("status"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ListJobsResponse{
		Jobs:       jobs,
		TotalCount: len(jobs),
	})
}

func (h *APIHandlers) GetJob(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Job ID is required")
	}

	job, err := h.jobs.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(job)
}

func (h *APIHandlers) GetStepTypes(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"step_types": h.registry.StepTypes(),
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	storeCheck, ok := h.jobs.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Stepflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "Stepflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"store": storeCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
