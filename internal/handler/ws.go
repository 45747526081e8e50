package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/draftforge/api/internal/middleware"
	"github.com/draftforge/api/pkg/response"
)

type WSHandler struct {
	auth *middleware.AuthMiddleware
}

func NewWSHandler(auth *middleware.AuthMiddleware) *WSHandler {
	return &WSHandler{auth: auth}
}

// Token handles POST /api/ws-token. The upgrade request cannot carry an
// Authorization header from a browser, so the client exchanges its session
// token for a short-lived socket credential and sends that in the auth frame.
func (h *WSHandler) Token(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	if userID == "" {
		return response.Unauthorized(c, "Not authenticated")
	}

	token, err := h.auth.MintWSToken(userID)
	if err != nil {
		return response.ServiceError(c, "Could not mint websocket token")
	}
	return response.OK(c, fiber.Map{"token": token})
}
