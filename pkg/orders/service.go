// Package orders implements checkout initiation for the storefront: a
// server-trusted order is rebuilt from the client-submitted cart before any
// money is requested from the payment provider.
package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/FrankFordB/Restos-sub003/pkg/domain"
	"github.com/FrankFordB/Restos-sub003/pkg/logger"
	"github.com/FrankFordB/Restos-sub003/pkg/mercadopago"
	"github.com/google/uuid"
)

// preferenceTTL bounds how long an abandoned checkout stays payable.
const preferenceTTL = 24 * time.Hour

// CheckoutItem is one client-submitted cart line. UnitPrice is only
// honored for custom items without a product id.
type CheckoutItem struct {
	ProductID *string
	Name      string
	UnitPrice float64
	Quantity  int
	Extras    float64
	Comment   string
}

// CheckoutRequest is a storefront checkout attempt.
type CheckoutRequest struct {
	TenantID        string
	Items           []CheckoutItem
	CustomerName    string
	CustomerPhone   string
	DeliveryType    string
	DeliveryAddress string
	DeliveryNotes   string
}

// CheckoutResult is returned to the storefront client.
type CheckoutResult struct {
	OrderID        string  `json:"orderId"`
	PreferenceID   string  `json:"preferenceId"`
	RedirectURL    string  `json:"redirectUrl"`
	Total          float64 `json:"total"`
	IdempotencyKey string  `json:"idempotencyKey"`
}

// Service builds server-trusted orders and opens provider checkouts.
type Service struct {
	mp       mercadopago.Client
	tenants  domain.TenantRepository
	orders   domain.OrderRepository
	products domain.ProductRepository
	log      logger.Logger

	currency      string
	publicBaseURL string
}

// NewService creates the checkout service.
func NewService(mp mercadopago.Client, tenants domain.TenantRepository, orders domain.OrderRepository, products domain.ProductRepository, log logger.Logger, currency, publicBaseURL string) *Service {
	return &Service{
		mp:            mp,
		tenants:       tenants,
		orders:        orders,
		products:      products,
		log:           log,
		currency:      currency,
		publicBaseURL: publicBaseURL,
	}
}

// InitiateCheckout validates the cart, recomputes every catalog line's price
// from the store, persists the order, and requests a checkout preference
// with the tenant's own credential.
func (s *Service) InitiateCheckout(ctx context.Context, req *CheckoutRequest) (*CheckoutResult, error) {
	if req.TenantID == "" {
		return nil, domain.NewValidationError("tenantId is required")
	}
	if len(req.Items) == 0 {
		return nil, domain.NewValidationError("cart is empty")
	}

	tenant, err := s.tenants.Get(ctx, req.TenantID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, domain.NewNotFoundError("tenant")
		}
		return nil, fmt.Errorf("failed to load tenant %s: %w", req.TenantID, err)
	}
	if !tenant.PaymentConfigured() {
		return nil, domain.NewPaymentNotConfiguredError()
	}

	orderID := uuid.NewString()
	items, total, err := s.recomputeLines(ctx, tenant.ID, orderID, req.Items)
	if err != nil {
		return nil, err
	}

	order := &domain.Order{
		ID:                orderID,
		TenantID:          tenant.ID,
		Total:             total,
		Currency:          s.currency,
		Status:            domain.PaymentPending,
		IdempotencyKey:    uuid.NewString(),
		ExternalReference: "order-" + orderID,
		CustomerName:      req.CustomerName,
		CustomerPhone:     req.CustomerPhone,
		DeliveryType:      req.DeliveryType,
		DeliveryAddress:   req.DeliveryAddress,
		DeliveryNotes:     req.DeliveryNotes,
		Items:             items,
	}

	if err := s.orders.CreateWithItems(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	pref, err := s.createPreference(ctx, tenant, order)
	if err != nil {
		// Never leave the order pending forever when the provider said no.
		if markErr := s.orders.UpdatePayment(ctx, order.ID, domain.PaymentRejected, ""); markErr != nil {
			s.log.Error("failed to mark rejected order", "order_id", order.ID, "error", markErr)
		}
		return nil, err
	}

	if err := s.orders.SetPreference(ctx, order.ID, pref.ID); err != nil {
		return nil, fmt.Errorf("failed to store preference id: %w", err)
	}

	s.log.Info("checkout initiated",
		"order_id", order.ID, "tenant_id", tenant.ID, "total", total, "preference_id", pref.ID)

	return &CheckoutResult{
		OrderID:        order.ID,
		PreferenceID:   pref.ID,
		RedirectURL:    pref.InitPoint,
		Total:          total,
		IdempotencyKey: order.IdempotencyKey,
	}, nil
}

// recomputeLines rebuilds the cart with authoritative catalog prices. Client
// prices are discarded for every resolvable product id; a client cannot
// submit a discounted total for catalog products.
func (s *Service) recomputeLines(ctx context.Context, tenantID, orderID string, items []CheckoutItem) ([]domain.OrderItem, float64, error) {
	out := make([]domain.OrderItem, 0, len(items))
	var total float64

	for i, item := range items {
		if item.Quantity <= 0 {
			return nil, 0, domain.NewValidationError(fmt.Sprintf("item %d: quantity must be positive", i))
		}
		if item.Extras < 0 || item.UnitPrice < 0 {
			return nil, 0, domain.NewValidationError(fmt.Sprintf("item %d: negative amount", i))
		}

		name := item.Name
		unitPrice := item.UnitPrice

		if item.ProductID != nil && *item.ProductID != "" {
			product, err := s.products.Get(ctx, tenantID, *item.ProductID)
			if err != nil {
				if domain.IsNotFound(err) {
					return nil, 0, domain.NewValidationError(fmt.Sprintf("item %d: unknown product %s", i, *item.ProductID))
				}
				return nil, 0, fmt.Errorf("failed to load product %s: %w", *item.ProductID, err)
			}
			if !product.Available {
				return nil, 0, domain.NewValidationError(fmt.Sprintf("item %d: product %s is not available", i, product.Name))
			}
			name = product.Name
			unitPrice = product.Price
		} else if name == "" {
			return nil, 0, domain.NewValidationError(fmt.Sprintf("item %d: custom items need a name", i))
		}

		lineTotal := (unitPrice + item.Extras) * float64(item.Quantity)
		total += lineTotal

		out = append(out, domain.OrderItem{
			ID:        uuid.NewString(),
			OrderID:   orderID,
			ProductID: item.ProductID,
			Name:      name,
			UnitPrice: unitPrice,
			Quantity:  item.Quantity,
			Extras:    item.Extras,
			Comment:   item.Comment,
			LineTotal: lineTotal,
		})
	}

	return out, total, nil
}

func (s *Service) createPreference(ctx context.Context, tenant *domain.Tenant, order *domain.Order) (*mercadopago.Preference, error) {
	prefItems := make([]mercadopago.PreferenceItem, 0, len(order.Items))
	for _, it := range order.Items {
		prefItems = append(prefItems, mercadopago.PreferenceItem{
			Title:      it.Name,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice + it.Extras,
			CurrencyID: s.currency,
		})
	}

	expires := time.Now().UTC().Add(preferenceTTL)
	prefReq := &mercadopago.PreferenceRequest{
		Items:             prefItems,
		ExternalReference: order.ExternalReference,
		NotificationURL:   s.publicBaseURL + "/api/v1/webhooks/mercadopago",
		Expires:           true,
		ExpirationDateTo:  &expires,
	}

	pref, err := s.mp.CreatePreference(ctx, *tenant.MPAccessToken, order.IdempotencyKey, prefReq)
	if err != nil {
		return nil, domain.NewUpstreamError(err)
	}
	return pref, nil
}

// Get returns an order when the caller's tenant owns it.
func (s *Service) Get(ctx context.Context, tenantID, orderID string) (*domain.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.TenantID != tenantID {
		return nil, domain.NewForbiddenError("order belongs to another tenant")
	}
	return order, nil
}
