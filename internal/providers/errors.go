package providers

import (
	"errors"
	"fmt"
)

// Stable error codes. Callers branch on these, never on message text.
const (
	ErrCodeInvalidConfig           = "INVALID_CONFIG"
	ErrCodeAuthenticationRequired  = "AUTHENTICATION_REQUIRED"
	ErrCodeAuthenticationFailed    = "AUTHENTICATION_FAILED"
	ErrCodeNetworkError            = "NETWORK_ERROR"
	ErrCodeRequestFailed           = "REQUEST_FAILED"
	ErrCodeCustomerNotFound        = "CUSTOMER_NOT_FOUND"
	ErrCodeCustomerCreationFailed  = "CUSTOMER_CREATION_FAILED"
	ErrCodeAccountNotFound         = "ACCOUNT_NOT_FOUND"
	ErrCodeAccountLinkFailed       = "ACCOUNT_LINK_FAILED"
	ErrCodeTransferNotFound        = "TRANSFER_NOT_FOUND"
	ErrCodeTransferCreationFailed  = "TRANSFER_CREATION_FAILED"
	ErrCodeInvalidWebhookSignature = "INVALID_WEBHOOK_SIGNATURE"
	ErrCodeNotImplemented          = "NOT_IMPLEMENTED"
	ErrCodeProviderNotFound        = "PROVIDER_NOT_FOUND"
	ErrCodeUnknownProvider         = "UNKNOWN_PROVIDER"
)

// Error is the single error type every provider operation surfaces.
// StatusCode is zero when the failure never reached an HTTP response.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode,omitempty"`
	Details    any    `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a provider error without an HTTP status.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewHTTPError builds a provider error carrying the upstream HTTP status.
func NewHTTPError(code, message string, statusCode int, details any) *Error {
	return &Error{Code: code, Message: message, StatusCode: statusCode, Details: details}
}

// AsError unwraps err into a *Error, or nil if err is not one.
func AsError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return nil
}

// IsCode reports whether err is a provider error with the given code.
func IsCode(err error, code string) bool {
	pe := AsError(err)
	return pe != nil && pe.Code == code
}

// retryable reports whether a failure should be retried by the base
// client: network errors and 5xx responses only, never 4xx.
func retryable(err error) bool {
	pe := AsError(err)
	if pe == nil {
		return false
	}
	if pe.Code == ErrCodeNetworkError {
		return true
	}
	return pe.StatusCode >= 500
}
