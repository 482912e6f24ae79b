package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/FrankFordB/Restos-sub003/pkg/domain"
	"github.com/FrankFordB/Restos-sub003/pkg/logger"
	"github.com/FrankFordB/Restos-sub003/pkg/mercadopago"
)

// Outcome is the result of routing one event.
type Outcome struct {
	Status domain.WebhookStatus // processed or ignored
	Detail string
}

func processed(detail string) Outcome {
	return Outcome{Status: domain.WebhookProcessed, Detail: detail}
}

func ignored(detail string) Outcome {
	return Outcome{Status: domain.WebhookIgnored, Detail: detail}
}

// Service is the event router and subscription state machine. It never
// trusts webhook payloads: resource state is always re-fetched from the
// provider before a transition is computed.
type Service struct {
	mp      mercadopago.Client
	tenants domain.TenantRepository
	subs    domain.SubscriptionRepository
	orders  domain.OrderRepository
	notify  domain.Notifier
	log     logger.Logger
}

// NewService creates the state machine service.
func NewService(mp mercadopago.Client, tenants domain.TenantRepository, subs domain.SubscriptionRepository, orders domain.OrderRepository, notify domain.Notifier, log logger.Logger) *Service {
	return &Service{
		mp:      mp,
		tenants: tenants,
		subs:    subs,
		orders:  orders,
		notify:  notify,
		log:     log,
	}
}

// ProcessSubscriptionEvent handles a preapproval-topic notification.
func (s *Service) ProcessSubscriptionEvent(ctx context.Context, ev SubscriptionEvent) (Outcome, error) {
	pa, err := s.mp.GetPreapproval(ctx, ev.ResourceID)
	if err != nil {
		if isProviderNotFound(err) {
			return ignored(fmt.Sprintf("preapproval %s not found at provider", ev.ResourceID)), nil
		}
		return Outcome{}, domain.NewUpstreamError(err)
	}

	target, known := MapPreapprovalStatus(pa.Status)
	if !known {
		return ignored(fmt.Sprintf("unmapped preapproval status %q", pa.Status)), nil
	}

	sub, err := s.resolveSubscription(ctx, pa.ID, pa.ExternalReference)
	if err != nil {
		return Outcome{}, err
	}
	if sub == nil {
		// Stale event or delivery racing record creation that never landed.
		s.log.Warn("no subscription record for preapproval",
			"preapproval_id", pa.ID, "external_reference", pa.ExternalReference)
		return ignored(fmt.Sprintf("no subscription record for preapproval %s", pa.ID)), nil
	}

	tenant, err := s.tenants.Get(ctx, sub.TenantID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load tenant %s: %w", sub.TenantID, err)
	}

	tr := s.buildTransition(tenant, sub, target, pa.NextPaymentDate)
	tr.LogEventType = domain.LogWebhookTransition
	tr.LogDescription = fmt.Sprintf("preapproval %s: provider status %s -> %s", pa.ID, pa.Status, target)
	tr.LogMetadata = map[string]any{
		"preapproval_id":  pa.ID,
		"provider_status": pa.Status,
		"target_status":   string(target),
	}

	if err := s.subs.ApplyTransition(ctx, tr); err != nil {
		return Outcome{}, fmt.Errorf("failed to apply transition for preapproval %s: %w", pa.ID, err)
	}

	s.notifyTransition(ctx, tenant, sub, target)

	return processed(fmt.Sprintf("preapproval %s -> %s", pa.ID, target)), nil
}

// ProcessPaymentEvent handles a payment-topic notification. Payments that
// belong to a preapproval drive the subscription state machine; payments
// whose external reference names a storefront order update that order; the
// rest are no-ops.
func (s *Service) ProcessPaymentEvent(ctx context.Context, ev PaymentEvent) (Outcome, error) {
	p, err := s.mp.GetPayment(ctx, ev.ResourceID)
	if err != nil {
		if isProviderNotFound(err) {
			return ignored(fmt.Sprintf("payment %s not found at provider", ev.ResourceID)), nil
		}
		return Outcome{}, domain.NewUpstreamError(err)
	}

	if preID := p.PreapprovalID(); preID != "" {
		return s.applySubscriptionPayment(ctx, p, preID)
	}

	return s.applyOrderPayment(ctx, p)
}

func (s *Service) applySubscriptionPayment(ctx context.Context, p *mercadopago.Payment, preapprovalID string) (Outcome, error) {
	target, known := MapPaymentStatus(p.Status)
	if !known {
		return ignored(fmt.Sprintf("payment %d status %q pending resolution", p.ID, p.Status)), nil
	}

	sub, err := s.resolveSubscription(ctx, preapprovalID, p.ExternalReference)
	if err != nil {
		return Outcome{}, err
	}
	if sub == nil {
		return ignored(fmt.Sprintf("no subscription record for payment %d (preapproval %s)", p.ID, preapprovalID)), nil
	}

	tenant, err := s.tenants.Get(ctx, sub.TenantID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load tenant %s: %w", sub.TenantID, err)
	}

	var nextBilling *time.Time
	if target == domain.SubscriptionActive {
		// An approved recurring charge buys one more billing period.
		n := periodEnd(time.Now().UTC())
		nextBilling = &n
	}

	tr := s.buildTransition(tenant, sub, target, nextBilling)
	tr.LogEventType = domain.LogWebhookTransition
	tr.LogDescription = fmt.Sprintf("payment %d (%s): subscription %s -> %s", p.ID, p.Status, sub.PreapprovalID, target)
	tr.LogMetadata = map[string]any{
		"payment_id":      p.ID,
		"provider_status": p.Status,
		"status_detail":   p.StatusDetail,
		"target_status":   string(target),
	}

	if err := s.subs.ApplyTransition(ctx, tr); err != nil {
		return Outcome{}, fmt.Errorf("failed to apply payment transition: %w", err)
	}

	s.notifyTransition(ctx, tenant, sub, target)

	return processed(fmt.Sprintf("payment %d -> subscription %s", p.ID, target)), nil
}

func (s *Service) applyOrderPayment(ctx context.Context, p *mercadopago.Payment) (Outcome, error) {
	if p.ExternalReference == "" {
		return ignored(fmt.Sprintf("payment %d has no agreement or order reference", p.ID)), nil
	}

	order, err := s.orders.GetByExternalReference(ctx, p.ExternalReference)
	if err != nil {
		if domain.IsNotFound(err) {
			return ignored(fmt.Sprintf("payment %d references unknown order %q", p.ID, p.ExternalReference)), nil
		}
		return Outcome{}, fmt.Errorf("failed to look up order %q: %w", p.ExternalReference, err)
	}

	status, known := MapOrderPaymentStatus(p.Status)
	if !known {
		return ignored(fmt.Sprintf("unmapped payment status %q for order %s", p.Status, order.ID)), nil
	}

	if err := s.orders.UpdatePayment(ctx, order.ID, status, fmt.Sprintf("%d", p.ID)); err != nil {
		return Outcome{}, fmt.Errorf("failed to update order %s payment: %w", order.ID, err)
	}

	s.log.Info("storefront order payment updated",
		"order_id", order.ID, "payment_id", p.ID, "status", string(status))

	return processed(fmt.Sprintf("order %s payment -> %s", order.ID, status)), nil
}

// resolveSubscription locates the agreement record by preapproval id, then
// by external reference. The fallback handles event delivery racing local
// record creation.
func (s *Service) resolveSubscription(ctx context.Context, preapprovalID, externalRef string) (*domain.Subscription, error) {
	sub, err := s.subs.GetByPreapprovalID(ctx, preapprovalID)
	if err == nil {
		return sub, nil
	}
	if !domain.IsNotFound(err) {
		return nil, fmt.Errorf("failed to look up subscription %s: %w", preapprovalID, err)
	}

	if externalRef == "" {
		return nil, nil
	}
	sub, err = s.subs.GetByExternalReference(ctx, externalRef)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up subscription by reference %q: %w", externalRef, err)
	}
	return sub, nil
}

// buildTransition computes the joint subscription+tenant update for a target
// status. Applying the same resolved target twice is a safe no-op write.
func (s *Service) buildTransition(tenant *domain.Tenant, sub *domain.Subscription, target domain.SubscriptionStatus, nextBilling *time.Time) domain.Transition {
	tr := domain.Transition{
		SubscriptionID:  sub.ID,
		TenantID:        sub.TenantID,
		Status:          target,
		NextBillingDate: nextBilling,
	}

	switch {
	case target == domain.SubscriptionActive:
		tier := sub.Plan
		until := nextBilling
		if until == nil {
			n := periodEnd(time.Now().UTC())
			until = &n
		}
		autoRenew := true
		tr.Tier = &tier
		tr.PremiumUntil = until
		tr.AutoRenew = &autoRenew
	case target.IsTerminal():
		now := time.Now().UTC()
		tr.CancelledAt = &now
		if cancelScheduledAtPeriodEnd(tenant, now) {
			// The provider confirming an end-of-period cancellation must
			// not strip benefits the tenant already paid for; the sweep
			// downgrades once premiumUntil passes.
			keep := tenant.SubscriptionStatus
			tr.TenantStatus = &keep
		} else {
			tr.Downgrade = true
		}
	}

	return tr
}

// cancelScheduledAtPeriodEnd reports whether the tenant sits in an
// end-of-period cancellation with paid time remaining.
func cancelScheduledAtPeriodEnd(t *domain.Tenant, now time.Time) bool {
	return !t.AutoRenew && t.ScheduledTier != nil &&
		t.PremiumUntil != nil && t.PremiumUntil.After(now)
}

func (s *Service) notifyTransition(ctx context.Context, tenant *domain.Tenant, sub *domain.Subscription, target domain.SubscriptionStatus) {
	if s.notify == nil {
		return
	}

	var err error
	switch target {
	case domain.SubscriptionActive:
		err = s.notify.SubscriptionActivated(ctx, tenant, sub.Plan)
	case domain.SubscriptionPastDue:
		err = s.notify.PaymentFailed(ctx, tenant)
	case domain.SubscriptionCancelled, domain.SubscriptionExpired:
		err = s.notify.SubscriptionCancelled(ctx, tenant, sub.NextBillingDate)
	default:
		return
	}
	if err != nil {
		s.log.Warn("failed to send billing notification",
			"tenant_id", tenant.ID, "status", string(target), "error", err)
	}
}

// periodEnd returns the end of the billing period starting at t.
func periodEnd(t time.Time) time.Time {
	return t.AddDate(0, 1, 0)
}

func isProviderNotFound(err error) bool {
	var apiErr *mercadopago.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 404
	}
	return false
}
