package domain

import (
	"context"
	"time"
)

// Transition is one atomic subscription/tenant status change. Every writer
// (webhook state machine, sweep, cancel endpoint) goes through the same
// primitive so concurrent writers working from fresh provider data converge.
type Transition struct {
	SubscriptionID  string
	TenantID        string
	Status          SubscriptionStatus
	NextBillingDate *time.Time
	CancelledAt     *time.Time

	// TenantStatus, when set, is written to the tenant row instead of
	// Status. An end-of-period cancellation closes the agreement record as
	// cancelled while the tenant stays active, so the sweep's expiry pass
	// still finds it when premiumUntil passes.
	TenantStatus *SubscriptionStatus

	// Tier/PremiumUntil are applied to the tenant when activating.
	Tier         *Tier
	PremiumUntil *time.Time
	AutoRenew    *bool

	// ScheduledTier is the tier to apply at period end (end-of-period
	// cancellation). Applied when non-nil.
	ScheduledTier *Tier

	// Downgrade resets the tenant to free-tier defaults in the same
	// transaction (terminal statuses only).
	Downgrade bool

	// Log entry appended unconditionally with the transition.
	LogEventType   string
	LogDescription string
	LogMetadata    map[string]any
}

// TenantRepository defines data access for tenant billing state.
type TenantRepository interface {
	Get(ctx context.Context, id string) (*Tenant, error)
	UpdateBilling(ctx context.Context, t *Tenant) error
	Downgrade(ctx context.Context, tenantID, reason string, metadata map[string]any) error
	ListExpiredActive(ctx context.Context, now time.Time) ([]*Tenant, error)
	ListStalePastDue(ctx context.Context, cutoff time.Time) ([]*Tenant, error)
	ListFreeInconsistent(ctx context.Context) ([]*Tenant, error)
	ListPaidMissingExpiry(ctx context.Context) ([]*Tenant, error)
	ListUpcomingRenewals(ctx context.Context, from, to time.Time) ([]*Tenant, error)
}

// SubscriptionRepository defines data access for recurring agreements.
type SubscriptionRepository interface {
	Create(ctx context.Context, s *Subscription) error
	GetByPreapprovalID(ctx context.Context, preapprovalID string) (*Subscription, error)
	GetByExternalReference(ctx context.Context, ref string) (*Subscription, error)
	GetOpenByTenant(ctx context.Context, tenantID string) (*Subscription, error)
	ApplyTransition(ctx context.Context, tr Transition) error
}

// WebhookEventRepository defines the audit/dedup store for notifications.
type WebhookEventRepository interface {
	// InsertPending records the event audit-first. When an event with the
	// same key already exists the prior row is returned and inserted is false.
	InsertPending(ctx context.Context, ev *WebhookEvent) (inserted bool, prior *WebhookEvent, err error)
	MarkOutcome(ctx context.Context, eventKey string, status WebhookStatus, outcome string) error
	ListByResource(ctx context.Context, resourceID string, limit int) ([]*WebhookEvent, error)
}

// OrderRepository defines data access for storefront orders.
type OrderRepository interface {
	// CreateWithItems persists the order and its lines as one unit; a failed
	// item insert removes the order row (no orphan empty orders).
	CreateWithItems(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetByExternalReference(ctx context.Context, ref string) (*Order, error)
	SetPreference(ctx context.Context, orderID, preferenceID string) error
	UpdatePayment(ctx context.Context, orderID string, status PaymentStatus, paymentID string) error
}

// ProductRepository is the narrow view of the catalog the checkout
// recompute needs.
type ProductRepository interface {
	Get(ctx context.Context, tenantID, productID string) (*Product, error)
}

// SubscriptionLogRepository defines the append-only billing event trail.
type SubscriptionLogRepository interface {
	Append(ctx context.Context, l *SubscriptionLog) error
	HasEventSince(ctx context.Context, tenantID, eventType string, since time.Time) (bool, error)
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]*SubscriptionLog, error)
}

// CacheRepository defines caching operations (webhook dedup fast path,
// sweep execution lock).
type CacheRepository interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}

// Notifier delivers billing notifications. In this deployment reminders are
// logged unless an email sender is configured.
type Notifier interface {
	SubscriptionActivated(ctx context.Context, tenant *Tenant, plan Tier) error
	PaymentFailed(ctx context.Context, tenant *Tenant) error
	SubscriptionCancelled(ctx context.Context, tenant *Tenant, endDate *time.Time) error
	RenewalReminder(ctx context.Context, tenant *Tenant, renewsAt time.Time) error
}
