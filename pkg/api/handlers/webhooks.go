package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	apierrors "github.com/FrankFordB/Restos-sub003/pkg/api/errors"
	"github.com/FrankFordB/Restos-sub003/pkg/billing"
	"github.com/FrankFordB/Restos-sub003/pkg/domain"
	"github.com/FrankFordB/Restos-sub003/pkg/metrics"
	"github.com/FrankFordB/Restos-sub003/pkg/models"
)

// maxWebhookBody bounds how much of a notification body we read.
const maxWebhookBody = 1 << 20 // 1 MB

// WebhookHandler receives Mercado Pago notifications.
type WebhookHandler struct {
	gateway *billing.Gateway
	events  domain.WebhookEventRepository
	metrics *metrics.Metrics
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(gateway *billing.Gateway, events domain.WebhookEventRepository, m *metrics.Metrics) *WebhookHandler {
	return &WebhookHandler{gateway: gateway, events: events, metrics: m}
}

// HandleMercadoPago ingests one provider delivery. Anything the gateway
// classified gets a 200 so the provider stops retrying; only transient
// failures answer 5xx.
func (h *WebhookHandler) HandleMercadoPago(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "unreadable_body",
			Message: "Could not read request body",
		})
	}

	in := billing.Inbound{
		Body:      body,
		RequestID: c.Request().Header.Get("x-request-id"),
		Signature: c.Request().Header.Get("x-signature"),
		SourceIP:  c.RealIP(),
	}

	receipt, err := h.gateway.Receive(c.Request().Context(), in)
	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordWebhook(c.QueryParam("topic"), "error")
		}
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "processing_failed",
			Message: "Temporary failure, delivery will be retried",
		})
	}

	if h.metrics != nil {
		h.metrics.RecordWebhook(c.QueryParam("topic"), string(receipt.Status))
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": string(receipt.Status),
	})
}

// ListEvents returns the audit trail for one provider resource.
func (h *WebhookHandler) ListEvents(c echo.Context) error {
	resourceID := c.Param("resourceId")
	if resourceID == "" {
		return apierrors.Respond(c, domain.NewValidationError("resourceId is required"))
	}

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	events, err := h.events.ListByResource(c.Request().Context(), resourceID, limit)
	if err != nil {
		return apierrors.DatabaseError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"events": events,
		"total":  len(events),
	})
}
