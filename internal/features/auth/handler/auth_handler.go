package handler

import (
	"errors"
	"net/http"

	"delivery-agent/internal/core/apierr"
	"delivery-agent/internal/core/logger"
	"delivery-agent/internal/features/auth/domain"
	"delivery-agent/internal/features/auth/service"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// AuthHandler handles HTTP requests for authentication and the agent profile.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// ErrorResponse represents the structure of an error response.
type ErrorResponse struct {
	// Message is the error description.
	Message string `json:"message"`
	// RayID is the unique request identifier for debugging.
	RayID string `json:"ray_id,omitempty"`
}

// Login godoc
// @Summary Log a delivery agent in
// @Tags auth
// @Accept json
// @Produce json
// @Param request body domain.Credentials true "Login credentials"
// @Success 200 {object} domain.User
// @Failure 401 {object} ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var creds domain.Credentials
	if err := c.BodyParser(&creds); err != nil {
		return h.fail(c, http.StatusBadRequest, "invalid request body")
	}
	if creds.Email == "" || creds.Password == "" {
		return h.fail(c, http.StatusBadRequest, "email and password are required")
	}

	user, err := h.auth.Login(c.Context(), creds)
	if err != nil {
		return h.failFromError(c, err)
	}
	return c.JSON(user)
}

// Signup godoc
// @Summary Register a delivery agent
// @Tags auth
// @Accept json
// @Produce json
// @Param request body domain.Signup true "Registration payload"
// @Success 201 {object} domain.User
// @Router /auth/signup [post]
func (h *AuthHandler) Signup(c *fiber.Ctx) error {
	var signup domain.Signup
	if err := c.BodyParser(&signup); err != nil {
		return h.fail(c, http.StatusBadRequest, "invalid request body")
	}
	if signup.Name == "" || signup.Email == "" || signup.Password == "" {
		return h.fail(c, http.StatusBadRequest, "name, email and password are required")
	}

	user, err := h.auth.Signup(c.Context(), signup)
	if err != nil {
		return h.failFromError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(user)
}

// Logout godoc
// @Summary Log the agent out
// @Tags auth
// @Produce json
// @Success 204
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	if err := h.auth.Logout(c.Context()); err != nil {
		return h.failFromError(c, err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// Profile godoc
// @Summary Get the authenticated agent's profile
// @Tags auth
// @Produce json
// @Success 200 {object} domain.User
// @Failure 401 {object} ErrorResponse
// @Router /auth/me [get]
func (h *AuthHandler) Profile(c *fiber.Ctx) error {
	user, err := h.auth.Profile(c.Context())
	if err != nil {
		return h.failFromError(c, err)
	}
	return c.JSON(user)
}

// UpdateProfile godoc
// @Summary Update the authenticated agent's profile
// @Tags auth
// @Accept json
// @Produce json
// @Param request body domain.ProfileUpdate true "Profile edits"
// @Success 200 {object} domain.User
// @Failure 401 {object} ErrorResponse
// @Router /auth/me [patch]
func (h *AuthHandler) UpdateProfile(c *fiber.Ctx) error {
	var update domain.ProfileUpdate
	if err := c.BodyParser(&update); err != nil {
		return h.fail(c, http.StatusBadRequest, "invalid request body")
	}

	user, err := h.auth.UpdateProfile(c.Context(), update)
	if err != nil {
		return h.failFromError(c, err)
	}
	return c.JSON(user)
}

// failFromError maps auth errors onto HTTP statuses.
func (h *AuthHandler) failFromError(c *fiber.Ctx, err error) error {
	logger.Get().Error("Auth request failed",
		zap.String("ray_id", rayID(c)),
		zap.Error(err),
	)

	if errors.Is(err, service.ErrNoSession) || errors.Is(err, apierr.ErrUnauthorized) {
		return h.fail(c, http.StatusUnauthorized, err.Error())
	}

	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		// Backend validation errors surface verbatim.
		return h.fail(c, apiErr.Status, apiErr.Message)
	}

	return h.fail(c, http.StatusBadGateway, err.Error())
}

func (h *AuthHandler) fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(ErrorResponse{
		Message: message,
		RayID:   rayID(c),
	})
}

func rayID(c *fiber.Ctx) string {
	id, ok := c.Locals("requestid").(string)
	if !ok {
		return "unknown"
	}
	return id
}
