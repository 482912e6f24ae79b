// Package errors maps service errors to JSON responses. Internal detail is
// logged server-side; clients only ever see a stable machine-readable code
// and a generic message.
package errors

import (
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/FrankFordB/Restos-sub003/pkg/domain"
	"github.com/FrankFordB/Restos-sub003/pkg/models"
)

// ValidationError returns a 400 with a sanitized message.
func ValidationError(c echo.Context, err error) error {
	log.Printf("[VALIDATION ERROR] %s %s: %v", c.Request().Method, c.Request().URL.Path, err)
	return c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Error:   "validation_error",
		Message: "The request is invalid",
	})
}

// DatabaseError returns a 500 without leaking storage detail.
func DatabaseError(c echo.Context, err error) error {
	log.Printf("[DATABASE ERROR] %s %s: %v", c.Request().Method, c.Request().URL.Path, err)
	return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Error:   "database_error",
		Message: "A storage error occurred",
	})
}

// InternalError returns a 500 with a generic message.
func InternalError(c echo.Context, err error) error {
	log.Printf("[INTERNAL ERROR] %s %s: %v", c.Request().Method, c.Request().URL.Path, err)
	return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

// Respond maps a service error to its HTTP response. Domain errors carry
// their own code and a client-safe message; anything else is a 500.
func Respond(c echo.Context, err error) error {
	var de *domain.DomainError
	if !errors.As(err, &de) {
		return InternalError(c, err)
	}

	status := statusFor(de.Code)
	if status >= http.StatusInternalServerError {
		log.Printf("[%s] %s %s: %v", de.Code, c.Request().Method, c.Request().URL.Path, err)
	}
	return c.JSON(status, models.ErrorResponse{
		Error:   de.Code,
		Message: de.Message,
	})
}

func statusFor(code string) int {
	switch code {
	case domain.ErrCodeNotFound:
		return http.StatusNotFound
	case domain.ErrCodeValidation:
		return http.StatusBadRequest
	case domain.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case domain.ErrCodeForbidden:
		return http.StatusForbidden
	case domain.ErrCodeConflict:
		return http.StatusConflict
	case domain.ErrCodeMPNotConfigured, domain.ErrCodeMPNoToken:
		// The storefront treats this as "online payment unavailable"; the
		// distinct code lets the tenant operator tell it apart from input
		// validation.
		return http.StatusBadRequest
	case domain.ErrCodeNoSubscription:
		return http.StatusNotFound
	case domain.ErrCodeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
