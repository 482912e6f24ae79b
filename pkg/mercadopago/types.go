package mercadopago

import (
	"fmt"
	"time"
)

// Provider-side preapproval (recurring agreement) statuses.
const (
	PreapprovalPending    = "pending"
	PreapprovalAuthorized = "authorized"
	PreapprovalPaused     = "paused"
	PreapprovalCancelled  = "cancelled"
	PreapprovalExpired    = "expired"
)

// Provider-side payment statuses.
const (
	PaymentApproved   = "approved"
	PaymentPending    = "pending"
	PaymentInProcess  = "in_process"
	PaymentRejected   = "rejected"
	PaymentCancelled  = "cancelled"
	PaymentRefunded   = "refunded"
	PaymentChargedBack = "charged_back"
)

// AutoRecurring describes the recurring charge of a preapproval.
type AutoRecurring struct {
	Frequency         int     `json:"frequency"`
	FrequencyType     string  `json:"frequency_type"`
	TransactionAmount float64 `json:"transaction_amount"`
	CurrencyID        string  `json:"currency_id"`
}

// PreapprovalRequest creates a recurring agreement pending payer authorization.
type PreapprovalRequest struct {
	Reason            string        `json:"reason"`
	ExternalReference string        `json:"external_reference"`
	PayerEmail        string        `json:"payer_email,omitempty"`
	BackURL           string        `json:"back_url"`
	AutoRecurring     AutoRecurring `json:"auto_recurring"`
	Status            string        `json:"status,omitempty"`
}

// Preapproval is the provider's view of a recurring agreement.
type Preapproval struct {
	ID                string        `json:"id"`
	Status            string        `json:"status"`
	Reason            string        `json:"reason"`
	ExternalReference string        `json:"external_reference"`
	InitPoint         string        `json:"init_point"`
	NextPaymentDate   *time.Time    `json:"next_payment_date,omitempty"`
	AutoRecurring     AutoRecurring `json:"auto_recurring"`
	PayerID           int64         `json:"payer_id,omitempty"`
}

// PreferenceItem is one line of a checkout preference.
type PreferenceItem struct {
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id,omitempty"`
}

// PreferenceRequest creates a one-off checkout preference.
type PreferenceRequest struct {
	Items             []PreferenceItem `json:"items"`
	ExternalReference string           `json:"external_reference"`
	NotificationURL   string           `json:"notification_url,omitempty"`
	Expires           bool             `json:"expires,omitempty"`
	ExpirationDateTo  *time.Time       `json:"expiration_date_to,omitempty"`
}

// Preference is the provider's checkout session for an order.
type Preference struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point,omitempty"`
}

// Payment is the provider's view of a single charge.
type Payment struct {
	ID                int64          `json:"id"`
	Status            string         `json:"status"`
	StatusDetail      string         `json:"status_detail"`
	TransactionAmount float64        `json:"transaction_amount"`
	ExternalReference string         `json:"external_reference"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// PreapprovalID returns the recurring agreement this payment belongs to, or
// "" for one-off storefront payments.
func (p *Payment) PreapprovalID() string {
	if p.Metadata == nil {
		return ""
	}
	if v, ok := p.Metadata["preapproval_id"].(string); ok {
		return v
	}
	return ""
}

// CardChargeRequest charges a stored card off-session (past_due retry).
type CardChargeRequest struct {
	CustomerID        string  `json:"-"`
	CardID            string  `json:"-"`
	Amount            float64 `json:"transaction_amount"`
	CurrencyID        string  `json:"-"`
	Description       string  `json:"description"`
	ExternalReference string  `json:"external_reference"`
}

// APIError is a non-2xx provider response. Status >= 500 (and transport
// failures) are retryable; the rest are not.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mercadopago: status %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the failure is worth a provider redelivery.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}
