package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/draftforge/api/internal/model"
	"github.com/draftforge/api/internal/orchestrator"
	"github.com/draftforge/api/internal/store"
	"github.com/draftforge/api/pkg/response"
)

type SessionHandler struct {
	pipeline  *orchestrator.Pipeline
	sessions  store.Sessions
	validator *validator.Validate
}

func NewSessionHandler(pipeline *orchestrator.Pipeline, sessions store.Sessions, v *validator.Validate) *SessionHandler {
	return &SessionHandler{
		pipeline:  pipeline,
		sessions:  sessions,
		validator: v,
	}
}

// Create handles POST /api/sessions
func (h *SessionHandler) Create(c *fiber.Ctx) error {
	session, err := h.pipeline.CreateSession(c.Context())
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.Created(c, session)
}

// Get handles GET /api/sessions/:id
func (h *SessionHandler) Get(c *fiber.Ctx) error {
	session, err := h.sessions.Get(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Session not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, session)
}

// Update handles PUT /api/sessions/:id
func (h *SessionHandler) Update(c *fiber.Ctx) error {
	var req model.UpdateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	session, err := h.sessions.Get(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Session not found")
		}
		return response.ServiceError(c, err.Error())
	}

	if req.OutputSelections != nil {
		session.OutputSelections = req.OutputSelections
	}
	if req.ClarifyingAnswers != nil {
		session.ClarifyingAnswers = req.ClarifyingAnswers
	}
	if req.Personas != nil {
		session.Personas = req.Personas
	}

	if err := h.sessions.Update(c.Context(), session); err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, session)
}

// Advance handles POST /api/sessions/:id/advance
func (h *SessionHandler) Advance(c *fiber.Ctx) error {
	session, err := h.pipeline.AdvanceStage(c.Context(), c.Params("id"))
	if err != nil {
		return stageError(c, err)
	}
	return response.OK(c, session)
}

// Back handles POST /api/sessions/:id/back
func (h *SessionHandler) Back(c *fiber.Ctx) error {
	session, err := h.pipeline.RetreatStage(c.Context(), c.Params("id"))
	if err != nil {
		return stageError(c, err)
	}
	return response.OK(c, session)
}

// AddSource handles POST /api/sessions/:id/sources
func (h *SessionHandler) AddSource(c *fiber.Ctx) error {
	var req model.AddSourceRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	source, jobID, err := h.pipeline.AddSource(c.Context(), c.Params("id"), req.Title, req.Type, req.URL)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Session not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.Accepted(c, fiber.Map{
		"source": source,
		"jobId":  jobID,
	})
}

func stageError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return response.NotFound(c, "Session not found")
	case errors.Is(err, orchestrator.ErrAtBoundary):
		return response.WrongStage(c, err.Error())
	default:
		return response.ServiceError(c, err.Error())
	}
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errs := make(map[string]string)
		for _, e := range validationErrors {
			errs[e.Field()] = e.Tag()
		}
		return errs
	}
	return nil
}
