// Package subscriptions implements the create/cancel surface of the
// recurring-billing lifecycle. The webhook state machine and the sweep own
// everything that happens after authorization.
package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/FrankFordB/Restos-sub003/pkg/domain"
	"github.com/FrankFordB/Restos-sub003/pkg/logger"
	"github.com/FrankFordB/Restos-sub003/pkg/mercadopago"
	"github.com/google/uuid"
)

// Plan describes a purchasable tier.
type Plan struct {
	Name        string   `json:"name"`
	Price       float64  `json:"price"`
	Currency    string   `json:"currency"`
	MenuLimit   int      `json:"menu_limit"`
	Description string   `json:"description"`
	Features    []string `json:"features"`
}

// CreateResult is the answer to a subscription-create call.
type CreateResult struct {
	PreapprovalID string `json:"preapproval_id"`
	InitPoint     string `json:"init_point"`
	Plan          string `json:"plan"`
}

// CancelResult is the answer to a subscription-cancel call.
type CancelResult struct {
	Message string     `json:"message"`
	EndDate *time.Time `json:"end_date,omitempty"`
}

// StatusResult is the dashboard billing view of a tenant.
type StatusResult struct {
	Tier               domain.Tier               `json:"tier"`
	Status             domain.SubscriptionStatus `json:"status"`
	PremiumUntil       *time.Time                `json:"premium_until,omitempty"`
	AutoRenew          bool                      `json:"auto_renew"`
	ScheduledTier      *domain.Tier              `json:"scheduled_tier,omitempty"`
	Subscription       *domain.Subscription      `json:"subscription,omitempty"`
}

// Config holds plan pricing and URLs.
type Config struct {
	PremiumPrice    float64
	PremiumProPrice float64
	Currency        string
	FrontendURL     string
}

// Service manages subscription creation and cancellation.
type Service struct {
	mp      mercadopago.Client
	tenants domain.TenantRepository
	subs    domain.SubscriptionRepository
	logs    domain.SubscriptionLogRepository
	log     logger.Logger
	config  *Config
}

// NewService creates the subscription service.
func NewService(mp mercadopago.Client, tenants domain.TenantRepository, subs domain.SubscriptionRepository, logs domain.SubscriptionLogRepository, log logger.Logger, config *Config) *Service {
	return &Service{
		mp:      mp,
		tenants: tenants,
		subs:    subs,
		logs:    logs,
		log:     log,
		config:  config,
	}
}

// Plans returns the purchasable tiers.
func (s *Service) Plans() []Plan {
	return []Plan{
		{
			Name:        string(domain.TierPremium),
			Price:       s.config.PremiumPrice,
			Currency:    s.config.Currency,
			MenuLimit:   domain.MenuLimitForTier(domain.TierPremium),
			Description: "Para restaurantes que venden online todos los días",
			Features: []string{
				"Carta ampliada con fotos",
				"Pedidos online con Mercado Pago",
				"Comprobantes para cocina",
			},
		},
		{
			Name:        string(domain.TierPremiumPro),
			Price:       s.config.PremiumProPrice,
			Currency:    s.config.Currency,
			MenuLimit:   domain.MenuLimitForTier(domain.TierPremiumPro),
			Description: "Para cadenas y cartas grandes",
			Features: []string{
				"Carta sin límite práctico",
				"Multi-sucursal",
				"Soporte prioritario",
			},
		},
	}
}

// Create opens a provider preapproval in pending status and persists the
// local agreement record. At most one open agreement may exist per tenant.
func (s *Service) Create(ctx context.Context, tenantID, callerUserID, plan string) (*CreateResult, error) {
	tenant, err := s.ownedTenant(ctx, tenantID, callerUserID)
	if err != nil {
		return nil, err
	}

	tier := domain.Tier(plan)
	amount, err := s.priceFor(tier)
	if err != nil {
		return nil, err
	}

	if existing, err := s.subs.GetOpenByTenant(ctx, tenantID); err == nil && existing != nil {
		return nil, domain.NewConflictError(fmt.Sprintf("tenant already has a %s subscription", existing.Status))
	} else if err != nil && !domain.IsNotFound(err) {
		return nil, fmt.Errorf("failed to check open subscriptions: %w", err)
	}

	// The external reference lets the webhook path find this record even
	// when event delivery races the insert below.
	externalRef := fmt.Sprintf("restos-%s-%s-%d", tenantID, plan, time.Now().Unix())

	pa, err := s.mp.CreatePreapproval(ctx, &mercadopago.PreapprovalRequest{
		Reason:            fmt.Sprintf("Restos %s — %s", plan, tenant.Name),
		ExternalReference: externalRef,
		BackURL:           s.config.FrontendURL + "/dashboard/billing",
		Status:            mercadopago.PreapprovalPending,
		AutoRecurring: mercadopago.AutoRecurring{
			Frequency:         1,
			FrequencyType:     "months",
			TransactionAmount: amount,
			CurrencyID:        s.config.Currency,
		},
	})
	if err != nil {
		return nil, domain.NewUpstreamError(err)
	}

	sub := &domain.Subscription{
		ID:                uuid.NewString(),
		TenantID:          tenantID,
		PreapprovalID:     pa.ID,
		Plan:              tier,
		Amount:            amount,
		Currency:          s.config.Currency,
		Status:            domain.SubscriptionPending,
		ExternalReference: externalRef,
		NextBillingDate:   pa.NextPaymentDate,
	}
	if err := s.subs.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to persist subscription: %w", err)
	}

	if err := s.logs.Append(ctx, &domain.SubscriptionLog{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		EventType:   domain.LogSubscriptionNew,
		Description: fmt.Sprintf("subscription %s created for plan %s, awaiting authorization", pa.ID, plan),
		Metadata:    map[string]any{"preapproval_id": pa.ID, "plan": plan, "amount": amount},
	}); err != nil {
		s.log.Warn("failed to append subscription log", "tenant_id", tenantID, "error", err)
	}

	s.log.Info("subscription created", "tenant_id", tenantID, "plan", plan, "preapproval_id", pa.ID)

	return &CreateResult{PreapprovalID: pa.ID, InitPoint: pa.InitPoint, Plan: plan}, nil
}

// Cancel ends the tenant's open agreement. Immediate ends benefits now;
// otherwise benefits run through the paid period, auto-renew is cleared and
// the free tier is scheduled for period end.
func (s *Service) Cancel(ctx context.Context, tenantID, callerUserID string, immediate bool) (*CancelResult, error) {
	tenant, err := s.ownedTenant(ctx, tenantID, callerUserID)
	if err != nil {
		return nil, err
	}

	sub, err := s.subs.GetOpenByTenant(ctx, tenantID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, domain.NewNoActiveSubscriptionError()
		}
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	if _, err := s.mp.CancelPreapproval(ctx, sub.PreapprovalID); err != nil {
		// A provider-side 404 means the agreement is already gone there;
		// the local record still has to close.
		if !isProviderNotFound(err) {
			return nil, domain.NewUpstreamError(err)
		}
		s.log.Warn("preapproval already absent at provider", "preapproval_id", sub.PreapprovalID)
	}

	now := time.Now().UTC()
	tr := domain.Transition{
		SubscriptionID: sub.ID,
		TenantID:       tenantID,
		Status:         domain.SubscriptionCancelled,
		CancelledAt:    &now,
		LogEventType:   domain.LogSubscriptionEnd,
	}

	var endDate *time.Time
	if immediate {
		tr.Downgrade = true
		tr.LogDescription = fmt.Sprintf("subscription %s cancelled immediately", sub.PreapprovalID)
		endDate = &now
	} else {
		autoRenew := false
		free := domain.TierFree
		tr.AutoRenew = &autoRenew
		tr.ScheduledTier = &free
		// The agreement record closes now, but the tenant keeps its
		// current status so the sweep's expiry pass downgrades it once
		// premiumUntil passes.
		keep := tenant.SubscriptionStatus
		tr.TenantStatus = &keep
		tr.LogDescription = fmt.Sprintf("subscription %s cancelled at period end", sub.PreapprovalID)
		endDate = sub.NextBillingDate
		if endDate == nil {
			endDate = tenant.PremiumUntil
		}
	}
	tr.LogMetadata = map[string]any{
		"preapproval_id": sub.PreapprovalID,
		"immediate":      immediate,
	}

	if err := s.subs.ApplyTransition(ctx, tr); err != nil {
		return nil, fmt.Errorf("failed to apply cancellation: %w", err)
	}

	s.log.Info("subscription cancelled",
		"tenant_id", tenantID, "preapproval_id", sub.PreapprovalID, "immediate", immediate)

	msg := "Subscription cancelled; benefits remain until the end of the paid period"
	if immediate {
		msg = "Subscription cancelled immediately"
	}
	return &CancelResult{Message: msg, EndDate: endDate}, nil
}

// Status returns the tenant's billing view.
func (s *Service) Status(ctx context.Context, tenantID, callerUserID string) (*StatusResult, error) {
	tenant, err := s.ownedTenant(ctx, tenantID, callerUserID)
	if err != nil {
		return nil, err
	}

	res := &StatusResult{
		Tier:          tenant.Tier,
		Status:        tenant.SubscriptionStatus,
		PremiumUntil:  tenant.PremiumUntil,
		AutoRenew:     tenant.AutoRenew,
		ScheduledTier: tenant.ScheduledTier,
	}

	if sub, err := s.subs.GetOpenByTenant(ctx, tenantID); err == nil {
		res.Subscription = sub
	} else if !domain.IsNotFound(err) {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	return res, nil
}

func (s *Service) ownedTenant(ctx context.Context, tenantID, callerUserID string) (*domain.Tenant, error) {
	if tenantID == "" {
		return nil, domain.NewValidationError("tenantId is required")
	}
	tenant, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, domain.NewNotFoundError("tenant")
		}
		return nil, fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
	}
	if tenant.OwnerUserID != callerUserID {
		return nil, domain.NewForbiddenError("caller does not own this tenant")
	}
	return tenant, nil
}

func (s *Service) priceFor(tier domain.Tier) (float64, error) {
	switch tier {
	case domain.TierPremium:
		return s.config.PremiumPrice, nil
	case domain.TierPremiumPro:
		return s.config.PremiumProPrice, nil
	default:
		return 0, domain.NewValidationError(fmt.Sprintf("invalid plan: %s", tier))
	}
}

func isProviderNotFound(err error) bool {
	var apiErr *mercadopago.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 404
	}
	return false
}
