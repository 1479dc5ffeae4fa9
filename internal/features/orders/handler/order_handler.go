package handler

import (
	"errors"
	"net/http"

	"delivery-agent/internal/core/apierr"
	"delivery-agent/internal/core/logger"
	"delivery-agent/internal/features/orders/domain"
	"delivery-agent/internal/features/orders/service"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// OrderHandler handles HTTP requests for the order lifecycle.
type OrderHandler struct {
	// lifecycle is the order lifecycle manager.
	lifecycle *service.Lifecycle
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(lifecycle *service.Lifecycle) *OrderHandler {
	return &OrderHandler{
		lifecycle: lifecycle,
	}
}

// ErrorResponse represents the structure of an error response.
type ErrorResponse struct {
	// Message is the error description.
	Message string `json:"message"`
	// RayID is the unique request identifier for debugging.
	RayID string `json:"ray_id,omitempty"`
}

// updateStatusRequest is the body of a status advance request.
type updateStatusRequest struct {
	// Status is the target lifecycle status.
	Status int `json:"status"`
}

// GetAvailable godoc
// @Summary List available orders
// @Description Returns the cached Available partition immediately; a background refresh runs when the cache is stale.
// @Tags orders
// @Produce json
// @Success 200 {array} domain.Order
// @Router /orders/available [get]
func (h *OrderHandler) GetAvailable(c *fiber.Ctx) error {
	return c.JSON(h.lifecycle.ListAvailable(c.Context()))
}

// GetMine godoc
// @Summary List the agent's active deliveries
// @Description Returns the cached Mine partition; empty when no agent is authenticated.
// @Tags orders
// @Produce json
// @Success 200 {array} domain.Order
// @Router /orders/mine [get]
func (h *OrderHandler) GetMine(c *fiber.Ctx) error {
	return c.JSON(h.lifecycle.ListMine(c.Context()))
}

// AcceptOrder godoc
// @Summary Accept an available order
// @Description Optimistically claims the order for the current agent; rolled back if the backend rejects it.
// @Tags orders
// @Accept json
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {object} domain.Order
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /orders/{id}/accept [post]
func (h *OrderHandler) AcceptOrder(c *fiber.Ctx) error {
	orderID := c.Params("id")
	if orderID == "" {
		return h.fail(c, http.StatusBadRequest, "order id is required")
	}

	order, err := h.lifecycle.Accept(c.Context(), orderID)
	if err != nil {
		return h.failFromError(c, orderID, err)
	}
	return c.JSON(order)
}

// UpdateStatus godoc
// @Summary Advance an order's lifecycle status
// @Description Moves the order to current+1 or the failed sentinel; any other target is rejected without contacting the backend.
// @Tags orders
// @Accept json
// @Produce json
// @Param id path string true "Order ID"
// @Param request body updateStatusRequest true "Target status"
// @Success 200 {object} domain.Order
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /orders/{id} [patch]
func (h *OrderHandler) UpdateStatus(c *fiber.Ctx) error {
	orderID := c.Params("id")
	if orderID == "" {
		return h.fail(c, http.StatusBadRequest, "order id is required")
	}

	var req updateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return h.fail(c, http.StatusBadRequest, "invalid request body")
	}

	order, err := h.lifecycle.Advance(c.Context(), orderID, domain.Status(req.Status))
	if err != nil {
		return h.failFromError(c, orderID, err)
	}
	return c.JSON(order)
}

// failFromError maps lifecycle and backend errors onto HTTP statuses.
func (h *OrderHandler) failFromError(c *fiber.Ctx, orderID string, err error) error {
	logger.Get().Error("Order request failed",
		zap.String("order_id", orderID),
		zap.String("ray_id", rayID(c)),
		zap.Error(err),
	)

	switch {
	case errors.Is(err, service.ErrMutationInFlight), errors.Is(err, service.ErrOrderNotAvailable):
		return h.fail(c, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		return h.fail(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrOrderNotFound):
		return h.fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrNotAuthenticated), errors.Is(err, apierr.ErrUnauthorized):
		return h.fail(c, http.StatusUnauthorized, err.Error())
	}

	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		// Backend validation errors surface verbatim.
		return h.fail(c, apiErr.Status, apiErr.Message)
	}

	return h.fail(c, http.StatusBadGateway, err.Error())
}

func (h *OrderHandler) fail(c *fiber.Ctx, status int, message string) error {
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
