package models

// ErrorResponse is the JSON error envelope returned by every endpoint.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// CheckoutItemRequest is one client-submitted cart line.
type CheckoutItemRequest struct {
	ProductID *string `json:"productId,omitempty"`
	Name      string  `json:"name" validate:"required_without=ProductID,max=200"`
	UnitPrice float64 `json:"unitPrice" validate:"gte=0"`
	Quantity  int     `json:"quantity" validate:"required,gte=1,lte=99"`
	Extras    float64 `json:"extras" validate:"gte=0"`
	Comment   string  `json:"comment" validate:"max=500"`
}

// CheckoutRequest is the storefront checkout payload.
type CheckoutRequest struct {
	TenantID        string                `json:"tenantId" validate:"required"`
	Items           []CheckoutItemRequest `json:"items" validate:"required,min=1,max=50,dive"`
	CustomerName    string                `json:"customerName" validate:"max=200"`
	CustomerPhone   string                `json:"customerPhone" validate:"max=50"`
	DeliveryType    string                `json:"deliveryType" validate:"omitempty,oneof=pickup delivery"`
	DeliveryAddress string                `json:"deliveryAddress" validate:"max=500"`
	DeliveryNotes   string                `json:"deliveryNotes" validate:"max=500"`
}

// CreateSubscriptionRequest starts a recurring agreement for a tenant.
type CreateSubscriptionRequest struct {
	TenantID string `json:"tenantId" validate:"required"`
	Plan     string `json:"plan" validate:"required,oneof=premium premium_pro"`
}

// CancelSubscriptionRequest ends an agreement, now or at period end.
type CancelSubscriptionRequest struct {
	TenantID  string `json:"tenantId" validate:"required"`
	Immediate bool   `json:"immediate"`
}

// SweepResponse reports what a reconciliation run changed and how long it took.
type SweepResponse struct {
	Stats      SweepStats `json:"stats"`
	DurationMs int64      `json:"durationMs"`
}

// SweepStats are the per-pass counters of one reconciliation run.
type SweepStats struct {
	ExpiredDowngraded int `json:"expiredDowngraded"`
	MovedPastDue      int `json:"movedPastDue"`
	ChargeAttempts    int `json:"chargeAttempts"`
	ChargeRecovered   int `json:"chargeRecovered"`
	StaleDowngraded   int `json:"staleDowngraded"`
	RepairedFree      int `json:"repairedFree"`
	RepairedPaid      int `json:"repairedPaid"`
	Errors            int `json:"errors"`
}
