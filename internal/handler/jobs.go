package handler

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/clipbeat/api/internal/middleware"
	"github.com/clipbeat/api/internal/model"
	"github.com/clipbeat/api/internal/service"
	"github.com/clipbeat/api/pkg/response"
)

const defaultJobListLimit = 50

type JobsHandler struct {
	submissions *service.SubmissionService
	jobs        *service.JobService
	validator   *validator.Validate
}

func NewJobsHandler(submissions *service.SubmissionService, jobs *service.JobService, v *validator.Validate) *JobsHandler {
	return &JobsHandler{
		submissions: submissions,
		jobs:        jobs,
		validator:   v,
	}
}

// Submit handles POST /api/jobs
func (h *JobsHandler) Submit(c *fiber.Ctx) error {
	var req model.SubmitJobRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	userID := middleware.GetUserID(c)
	email := middleware.GetUserEmail(c)

	result, err := h.submissions.Submit(c.Context(), userID, email, req.SourceURL)
	if err != nil {
		if errors.Is(err, service.ErrDailyLimitReached) {
			return response.QuotaExceeded(c, "Daily identification limit reached")
		}
		return response.ServiceError(c, err.Error())
	}

	if result.Cached {
		return response.OK(c, result)
	}
	return response.Accepted(c, result)
}

// List handles GET /api/jobs
func (h *JobsHandler) List(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	limit := defaultJobListLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	jobs, err := h.jobs.ListMine(c.Context(), userID, limit)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, fiber.Map{"jobs": jobs})
}

// Get handles GET /api/jobs/:jobId
func (h *JobsHandler) Get(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	jobID := c.Params("jobId")

	result, err := h.jobs.Get(c.Context(), userID, jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, result)
}

// Stats handles GET /api/me/stats
func (h *JobsHandler) Stats(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	stats, err := h.submissions.Stats(c.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			return response.NotFound(c, "User not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, stats)
}

// UpdatePushToken handles PUT /api/me/push-token
func (h *JobsHandler) UpdatePushToken(c *fiber.Ctx) error {
	var req model.UpdatePushTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	userID := middleware.GetUserID(c)
	if err := h.submissions.UpdatePushToken(c.Context(), userID, req.PushToken); err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			return response.NotFound(c, "User not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.NoContent(c)
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
