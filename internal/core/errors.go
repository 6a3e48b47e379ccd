// AngelaMos | 2026
// errors.go

package core

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// Entitlement domain taxonomy. Verification and ledger failures map onto
// exactly one of these so handlers and clients can distinguish "retry",
// "terminal", and "user-actionable" without string matching.
var (
	// ErrValidationFailed: the platform definitively rejected the receipt.
	// Terminal for that token.
	ErrValidationFailed = errors.New("receipt validation failed")

	// ErrVerificationUnavailable: the platform could not be reached or
	// authenticated against. Retryable; must never change entitlement.
	ErrVerificationUnavailable = errors.New("verification service unavailable")

	// ErrAlreadyUsed: receipt token previously verified under another user.
	ErrAlreadyUsed = errors.New("receipt already used")

	// ErrGroupFull: family group has reached its member cap.
	ErrGroupFull = errors.New("family group full")
)

type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAppError(status int, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func UnauthorizedError(message string) *AppError {
	return NewAppError(http.StatusUnauthorized, "unauthorized", message)
}

func ForbiddenError(message string) *AppError {
	return NewAppError(http.StatusForbidden, "forbidden", message)
}

func TokenExpiredError() *AppError {
	return NewAppError(http.StatusUnauthorized, "token_expired", "token has expired")
}

func TokenInvalidError() *AppError {
	return NewAppError(http.StatusUnauthorized, "token_invalid", "token is invalid")
}

// FromDomainError maps a domain sentinel to its HTTP shape. Unknown errors
// come back as an opaque 500 so internals never leak to clients.
func FromDomainError(err error) *AppError {
	switch {
	case errors.Is(err, ErrValidationFailed):
		return NewAppError(
			http.StatusUnprocessableEntity,
			"validation_failed",
			"the store rejected this receipt",
		)
	case errors.Is(err, ErrVerificationUnavailable):
		return NewAppError(
			http.StatusServiceUnavailable,
			"verification_unavailable",
			"could not reach the store, try again later",
		)
	case errors.Is(err, ErrAlreadyUsed):
		return NewAppError(
			http.StatusConflict,
			"already_used",
			"this receipt belongs to another account",
		)
	case errors.Is(err, ErrGroupFull):
		return NewAppError(
			http.StatusConflict,
			"group_full",
			"this family group is full",
		)
	case errors.Is(err, ErrNotFound):
		return NewAppError(http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, ErrInvalidInput):
		return NewAppError(http.StatusBadRequest, "invalid_input", "invalid request")
	case errors.Is(err, ErrUnauthorized):
		return UnauthorizedError("authentication required")
	case errors.Is(err, ErrForbidden):
		return ForbiddenError("insufficient permissions")
	default:
		return NewAppError(
			http.StatusInternalServerError,
			"internal_error",
			"an internal error occurred",
		)
	}
}

func FormatValidationError(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return "invalid request"
	}

	if len(validationErrors) == 0 {
		return "invalid request"
	}

	first := validationErrors[0]
	switch first.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", first.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email", first.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", first.Field(), first.Param())
	case "min":
		return fmt.Sprintf("%s is too short", first.Field())
	case "max":
		return fmt.Sprintf("%s is too long", first.Field())
	default:
		return fmt.Sprintf("%s is invalid", first.Field())
	}
}
