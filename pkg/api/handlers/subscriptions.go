package handlers

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	apierrors "github.com/FrankFordB/Restos-sub003/pkg/api/errors"
	"github.com/FrankFordB/Restos-sub003/pkg/api/middleware"
	"github.com/FrankFordB/Restos-sub003/pkg/metrics"
	"github.com/FrankFordB/Restos-sub003/pkg/models"
	"github.com/FrankFordB/Restos-sub003/pkg/subscriptions"
)

// SubscriptionHandler handles tenant subscription management. All routes
// require an authenticated tenant owner.
type SubscriptionHandler struct {
	service   *subscriptions.Service
	validator *validator.Validate
	metrics   *metrics.Metrics
}

// NewSubscriptionHandler creates a new subscription handler.
func NewSubscriptionHandler(service *subscriptions.Service, m *metrics.Metrics) *SubscriptionHandler {
	return &SubscriptionHandler{
		service:   service,
		validator: validator.New(),
		metrics:   m,
	}
}

// Plans lists the purchasable plans. Public.
func (h *SubscriptionHandler) Plans(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"plans": h.service.Plans(),
	})
}

// Create starts a recurring agreement and returns the provider checkout
// link the owner must authorize.
func (h *SubscriptionHandler) Create(c echo.Context) error {
	var req models.CreateSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := h.validator.Struct(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	result, err := h.service.Create(c.Request().Context(), req.TenantID, middleware.UserID(c), req.Plan)
	if err != nil {
		return apierrors.Respond(c, err)
	}

	if h.metrics != nil {
		h.metrics.RecordSubscriptionSold(req.Plan)
	}
	return c.JSON(http.StatusCreated, result)
}

// Cancel ends the tenant's agreement, immediately or at period end.
func (h *SubscriptionHandler) Cancel(c echo.Context) error {
	var req models.CancelSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := h.validator.Struct(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	result, err := h.service.Cancel(c.Request().Context(), req.TenantID, middleware.UserID(c), req.Immediate)
	if err != nil {
		return apierrors.Respond(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// Status returns the tenant's billing state for the dashboard.
func (h *SubscriptionHandler) Status(c echo.Context) error {
	result, err := h.service.Status(c.Request().Context(), c.Param("tenantId"), middleware.UserID(c))
	if err != nil {
		return apierrors.Respond(c, err)
	}
	return c.JSON(http.StatusOK, result)
}
