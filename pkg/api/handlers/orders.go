package handlers

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	apierrors "github.com/FrankFordB/Restos-sub003/pkg/api/errors"
	"github.com/FrankFordB/Restos-sub003/pkg/domain"
	"github.com/FrankFordB/Restos-sub003/pkg/metrics"
	"github.com/FrankFordB/Restos-sub003/pkg/models"
	"github.com/FrankFordB/Restos-sub003/pkg/orders"
)

// OrderHandler handles storefront checkout requests.
type OrderHandler struct {
	service   *orders.Service
	validator *validator.Validate
	metrics   *metrics.Metrics
}

// NewOrderHandler creates a new order handler.
func NewOrderHandler(service *orders.Service, m *metrics.Metrics) *OrderHandler {
	return &OrderHandler{
		service:   service,
		validator: validator.New(),
		metrics:   m,
	}
}

// Checkout validates the cart, recomputes prices server-side, and opens a
// provider checkout with the tenant's own credential.
func (h *OrderHandler) Checkout(c echo.Context) error {
	var req models.CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := h.validator.Struct(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	result, err := h.service.InitiateCheckout(c.Request().Context(), toCheckoutRequest(&req))
	if err != nil {
		if h.metrics != nil && domain.IsUpstream(err) {
			h.metrics.RecordCheckoutRejected()
		}
		return apierrors.Respond(c, err)
	}

	if h.metrics != nil {
		h.metrics.RecordCheckout()
	}
	return c.JSON(http.StatusCreated, result)
}

// Get returns one order scoped to its tenant.
func (h *OrderHandler) Get(c echo.Context) error {
	tenantID := c.QueryParam("tenantId")
	if tenantID == "" {
		return apierrors.Respond(c, domain.NewValidationError("tenantId is required"))
	}

	order, err := h.service.Get(c.Request().Context(), tenantID, c.Param("orderId"))
	if err != nil {
		return apierrors.Respond(c, err)
	}
	return c.JSON(http.StatusOK, order)
}

func toCheckoutRequest(req *models.CheckoutRequest) *orders.CheckoutRequest {
	out := &orders.CheckoutRequest{
		TenantID:        req.TenantID,
		CustomerName:    req.CustomerName,
		CustomerPhone:   req.CustomerPhone,
		DeliveryType:    req.DeliveryType,
		DeliveryAddress: req.DeliveryAddress,
		DeliveryNotes:   req.DeliveryNotes,
	}
	for _, item := range req.Items {
		out.Items = append(out.Items, orders.CheckoutItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Extras:    item.Extras,
			Comment:   item.Comment,
		})
	}
	return out
}
