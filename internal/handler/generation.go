package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/draftforge/api/internal/model"
	"github.com/draftforge/api/internal/orchestrator"
	"github.com/draftforge/api/internal/queue"
	"github.com/draftforge/api/internal/store"
	"github.com/draftforge/api/pkg/response"
)

type GenerationHandler struct {
	pipeline  *orchestrator.Pipeline
	artifacts store.Artifacts
	queue     *queue.Queue
	validator *validator.Validate
}

func NewGenerationHandler(pipeline *orchestrator.Pipeline, artifacts store.Artifacts, q *queue.Queue, v *validator.Validate) *GenerationHandler {
	return &GenerationHandler{
		pipeline:  pipeline,
		artifacts: artifacts,
		queue:     q,
		validator: v,
	}
}

func artifactType(c *fiber.Ctx) (model.ArtifactType, bool) {
	typ := model.ArtifactType(c.Params("type"))
	for _, valid := range model.ValidArtifactTypes {
		if typ == valid {
			return typ, true
		}
	}
	return "", false
}

// Start handles POST /api/sessions/:id/generate/:type
func (h *GenerationHandler) Start(c *fiber.Ctx) error {
	typ, ok := artifactType(c)
	if !ok {
		return response.ValidationError(c, "Unknown artifact type", c.Params("type"))
	}

	req := model.StartGenerationRequest{Priority: model.PriorityNormal}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
		if err := h.validator.Struct(&req); err != nil {
			return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
		}
		if req.Priority == 0 {
			req.Priority = model.PriorityNormal
		}
	}

	artifact, jobID, err := h.pipeline.StartGeneration(c.Context(), c.Params("id"), typ, req.Priority)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return response.NotFound(c, "Session not found")
		case errors.Is(err, orchestrator.ErrGenerationInFlight):
			return response.Conflict(c, err.Error())
		case errors.Is(err, orchestrator.ErrWrongStage), errors.Is(err, orchestrator.ErrParentNotReady):
			return response.WrongStage(c, err.Error())
		default:
			return response.ServiceError(c, err.Error())
		}
	}

	return response.Accepted(c, fiber.Map{
		"artifact": artifact,
		"jobId":    jobID,
	})
}

// Approve handles POST /api/sessions/:id/artifacts/:artifactId/approve
func (h *GenerationHandler) Approve(c *fiber.Ctx) error {
	artifact, err := h.pipeline.Approve(c.Context(), c.Params("id"), c.Params("artifactId"))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return response.NotFound(c, "Artifact not found")
		case errors.Is(err, orchestrator.ErrNotApproved):
			return response.Conflict(c, err.Error())
		default:
			return response.ServiceError(c, err.Error())
		}
	}
	return response.OK(c, artifact)
}

// Get handles GET /api/artifacts/:id
func (h *GenerationHandler) Get(c *fiber.Ctx) error {
	artifact, err := h.artifacts.Get(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Artifact not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, artifact)
}

// Latest handles GET /api/sessions/:id/artifacts/:type/latest
func (h *GenerationHandler) Latest(c *fiber.Ctx) error {
	typ, ok := artifactType(c)
	if !ok {
		return response.ValidationError(c, "Unknown artifact type", c.Params("type"))
	}

	artifact, err := h.artifacts.FindLatestVersion(c.Context(), c.Params("id"), typ)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "No artifact of that type")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, artifact)
}

// JobStatus handles GET /api/queues/:queue/jobs/:jobId
func (h *GenerationHandler) JobStatus(c *fiber.Ctx) error {
	job, err := h.queue.Job(c.Context(), c.Params("queue"), c.Params("jobId"))
	if err != nil {
		return response.NotFound(c, "Job not found")
	}
	return response.OK(c, job)
}

// DeadLetters handles GET /api/queues/:queue/dead
func (h *GenerationHandler) DeadLetters(c *fiber.Ctx) error {
	jobs, err := h.queue.DeadLetters(c.Context(), c.Params("queue"), int64(c.QueryInt("limit", 20)))
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, fiber.Map{"jobs": jobs})
}
