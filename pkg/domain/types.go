package domain

import (
	"time"
)

// Tier is the subscription plan level of a tenant.
type Tier string

const (
	TierFree       Tier = "free"
	TierPremium    Tier = "premium"
	TierPremiumPro Tier = "premium_pro"
)

// IsPaid reports whether the tier is a paying plan.
func (t Tier) IsPaid() bool {
	return t == TierPremium || t == TierPremiumPro
}

// SubscriptionStatus is the lifecycle state of a recurring-billing agreement.
// Transitions are monotone away from pending; nothing re-enters pending.
type SubscriptionStatus string

const (
	SubscriptionPending    SubscriptionStatus = "pending"
	SubscriptionAuthorized SubscriptionStatus = "authorized"
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionPastDue    SubscriptionStatus = "past_due"
	SubscriptionCancelled  SubscriptionStatus = "cancelled"
	SubscriptionExpired    SubscriptionStatus = "expired"
)

// IsTerminal reports whether the status ends the agreement.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionCancelled || s == SubscriptionExpired
}

// IsOpen reports whether the agreement still occupies the tenant's
// single-active-subscription slot.
func (s SubscriptionStatus) IsOpen() bool {
	return s == SubscriptionActive || s == SubscriptionAuthorized || s == SubscriptionPending
}

// WebhookStatus is the processing state of a received provider notification.
type WebhookStatus string

const (
	WebhookPending   WebhookStatus = "pending"
	WebhookProcessed WebhookStatus = "processed"
	WebhookIgnored   WebhookStatus = "ignored"
	WebhookError     WebhookStatus = "error"
)

// PaymentStatus is the payment state of a storefront order.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentApproved  PaymentStatus = "approved"
	PaymentRejected  PaymentStatus = "rejected"
	PaymentCancelled PaymentStatus = "cancelled"
	PaymentRefunded  PaymentStatus = "refunded"
)

// FreeTierMenuLimit is the number of catalog items a free tenant may publish.
const FreeTierMenuLimit = 20

// Tenant is a restaurant account with its billing state.
//
// Invariant: Tier == free ⇔ PremiumUntil == nil ⇔ SubscriptionStatus == active.
// The reconciliation sweep repairs any violation.
type Tenant struct {
	ID                 string              `json:"id"`
	Name               string              `json:"name"`
	OwnerUserID        string              `json:"owner_user_id"`
	ContactEmail       string              `json:"contact_email"`
	Tier               Tier                `json:"tier"`
	SubscriptionStatus SubscriptionStatus  `json:"subscription_status"`
	PremiumUntil       *time.Time          `json:"premium_until,omitempty"`
	AutoRenew          bool                `json:"auto_renew"`
	ScheduledTier      *Tier               `json:"scheduled_tier,omitempty"`
	MenuLimit          int                 `json:"menu_limit"`
	MPAccessToken      *string             `json:"-"` // tenant's own storefront credential
	MPCustomerID       *string             `json:"-"`
	MPCardID           *string             `json:"-"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// PaymentConfigured reports whether the tenant can receive storefront money.
func (t *Tenant) PaymentConfigured() bool {
	return t.MPAccessToken != nil && *t.MPAccessToken != ""
}

// HasStoredCard reports whether an auto-charge retry is possible.
func (t *Tenant) HasStoredCard() bool {
	return t.MPCustomerID != nil && *t.MPCustomerID != "" &&
		t.MPCardID != nil && *t.MPCardID != ""
}

// Subscription is one recurring-billing agreement for a tenant.
// Rows are never deleted; history accumulates through the status field.
type Subscription struct {
	ID                string             `json:"id"`
	TenantID          string             `json:"tenant_id"`
	PreapprovalID     string             `json:"preapproval_id"`
	Plan              Tier               `json:"plan"`
	Amount            float64            `json:"amount"`
	Currency          string             `json:"currency"`
	Status            SubscriptionStatus `json:"status"`
	ExternalReference string             `json:"external_reference"`
	NextBillingDate   *time.Time         `json:"next_billing_date,omitempty"`
	CancelledAt       *time.Time         `json:"cancelled_at,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// WebhookEvent is the audit/dedup record for one provider notification.
// Rows are never deleted.
type WebhookEvent struct {
	ID             string        `json:"id"`
	EventKey       string        `json:"event_key"`
	Topic          string        `json:"topic"`
	Action         string        `json:"action"`
	ResourceID     string        `json:"resource_id"`
	Payload        string        `json:"payload"`
	SourceIP       string        `json:"source_ip"`
	SignatureValid *bool         `json:"signature_valid,omitempty"`
	Status         WebhookStatus `json:"status"`
	Outcome        string        `json:"outcome"`
	CreatedAt      time.Time     `json:"created_at"`
	ProcessedAt    *time.Time    `json:"processed_at,omitempty"`
}

// Order is one storefront checkout attempt.
type Order struct {
	ID                string        `json:"id"`
	TenantID          string        `json:"tenant_id"`
	Total             float64       `json:"total"`
	Currency          string        `json:"currency"`
	Status            PaymentStatus `json:"status"`
	IdempotencyKey    string        `json:"idempotency_key"`
	ExternalReference string        `json:"external_reference"`
	PreferenceID      *string       `json:"preference_id,omitempty"`
	PaymentID         *string       `json:"payment_id,omitempty"`
	CustomerName      string        `json:"customer_name,omitempty"`
	CustomerPhone     string        `json:"customer_phone,omitempty"`
	DeliveryType      string        `json:"delivery_type,omitempty"`
	DeliveryAddress   string        `json:"delivery_address,omitempty"`
	DeliveryNotes     string        `json:"delivery_notes,omitempty"`
	Items             []OrderItem   `json:"items,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// OrderItem is one server-recomputed line of an order.
type OrderItem struct {
	ID        string  `json:"id"`
	OrderID   string  `json:"order_id"`
	ProductID *string `json:"product_id,omitempty"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
	Extras    float64 `json:"extras"`
	Comment   string  `json:"comment,omitempty"`
	LineTotal float64 `json:"line_total"`
}

// Product is the slice of the catalog the billing core needs: the
// authoritative unit price used by the checkout recompute.
type Product struct {
	ID        string  `json:"id"`
	TenantID  string  `json:"tenant_id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Available bool    `json:"available"`
}

// SubscriptionLog is one entry in the append-only billing event trail.
type SubscriptionLog struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	EventType   string         `json:"event_type"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Subscription log event types.
const (
	LogWebhookTransition = "webhook_transition"
	LogSweepExpired      = "sweep_expired"
	LogSweepPastDue      = "sweep_past_due"
	LogSweepRepair       = "sweep_repair"
	LogSweepCharge       = "sweep_auto_charge"
	LogRenewalReminder   = "renewal_reminder"
	LogSubscriptionNew   = "subscription_created"
	LogSubscriptionEnd   = "subscription_cancelled"
)

// MenuLimitForTier returns the catalog size limit for a tier.
func MenuLimitForTier(tier Tier) int {
	switch tier {
	case TierPremium:
		return 150
	case TierPremiumPro:
		return 1000
	default:
		return FreeTierMenuLimit
	}
}
