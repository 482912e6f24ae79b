package domain

import (
	"errors"
	"fmt"
)

// DomainError carries a machine-readable code alongside the message so
// handlers can translate failures without string matching.
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Error codes
const (
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeUpstream         = "UPSTREAM_ERROR"
	ErrCodeMPNotConfigured  = "MP_NOT_CONFIGURED"
	ErrCodeMPNoToken        = "MP_NO_TOKEN"
	ErrCodeNoSubscription   = "NO_ACTIVE_SUBSCRIPTION"
)

// NewNotFoundError creates a not found error for a resource.
func NewNotFoundError(resource string) error {
	return &DomainError{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s not found", resource)}
}

// NewValidationError creates a validation error.
func NewValidationError(msg string) error {
	return &DomainError{Code: ErrCodeValidation, Message: msg}
}

// NewUnauthorizedError creates an unauthorized error.
func NewUnauthorizedError() error {
	return &DomainError{Code: ErrCodeUnauthorized, Message: "Authentication required"}
}

// NewForbiddenError creates a forbidden error.
func NewForbiddenError(msg string) error {
	return &DomainError{Code: ErrCodeForbidden, Message: msg}
}

// NewConflictError creates a conflict error.
func NewConflictError(msg string) error {
	return &DomainError{Code: ErrCodeConflict, Message: msg}
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(err error) error {
	return &DomainError{Code: ErrCodeInternal, Message: "An internal error occurred", Err: err}
}

// NewUpstreamError wraps a transient payment-provider failure. Webhook
// handlers surface it as a 5xx so the provider redelivers.
func NewUpstreamError(err error) error {
	return &DomainError{Code: ErrCodeUpstream, Message: "Payment provider request failed", Err: err}
}

// NewPaymentNotConfiguredError signals the tenant has not connected their
// Mercado Pago account. Checkout must never fall back to a platform credential.
func NewPaymentNotConfiguredError() error {
	return &DomainError{Code: ErrCodeMPNotConfigured, Message: "Tenant has not configured Mercado Pago payments"}
}

// NewNoActiveSubscriptionError signals a cancel request found nothing to cancel.
func NewNoActiveSubscriptionError() error {
	return &DomainError{Code: ErrCodeNoSubscription, Message: "No active subscription for this tenant"}
}

func hasCode(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool { return hasCode(err, ErrCodeValidation) }

// IsUnauthorized checks if the error is an unauthorized error.
func IsUnauthorized(err error) bool { return hasCode(err, ErrCodeUnauthorized) }

// IsForbidden checks if the error is a forbidden error.
func IsForbidden(err error) bool { return hasCode(err, ErrCodeForbidden) }

// IsConflict checks if the error is a conflict error.
func IsConflict(err error) bool { return hasCode(err, ErrCodeConflict) }

// IsUpstream checks if the error is a transient provider failure.
func IsUpstream(err error) bool { return hasCode(err, ErrCodeUpstream) }

// IsPaymentNotConfigured checks for the missing-credential error.
func IsPaymentNotConfigured(err error) bool { return hasCode(err, ErrCodeMPNotConfigured) }

// IsNoActiveSubscription checks for the nothing-to-cancel error.
func IsNoActiveSubscription(err error) bool { return hasCode(err, ErrCodeNoSubscription) }

// GetErrorCode extracts the code from a domain error, defaulting to internal.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ErrCodeInternal
}
