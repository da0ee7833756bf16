package services

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/clearfunds/backend/internal/providers"
	"github.com/go-playground/validator/v10"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Code    string            `json:"code,omitempty"`    // Stable machine-readable code
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	if validationErr != nil {
		errorResp.Details = make(map[string]string)
		for _, err := range validationErr.(validator.ValidationErrors) {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// SendProviderError renders a provider error as JSON, keeping the stable
// code so clients branch on code rather than message text.
func SendProviderError(w http.ResponseWriter, err error) {
	pe := providers.AsError(err)
	if pe == nil {
		SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(providerErrorStatus(pe))
	json.NewEncoder(w).Encode(ErrorResponse{Error: pe.Message, Code: pe.Code})
}

// providerErrorStatus maps stable provider codes onto HTTP statuses for
// the API surface.
func providerErrorStatus(pe *providers.Error) int {
	switch pe.Code {
	case providers.ErrCodeAuthenticationRequired, providers.ErrCodeAuthenticationFailed,
		providers.ErrCodeInvalidWebhookSignature:
		return http.StatusUnauthorized
	case providers.ErrCodeCustomerNotFound, providers.ErrCodeAccountNotFound,
		providers.ErrCodeTransferNotFound, providers.ErrCodeProviderNotFound:
		return http.StatusNotFound
	case providers.ErrCodeCustomerCreationFailed, providers.ErrCodeAccountLinkFailed,
		providers.ErrCodeTransferCreationFailed, providers.ErrCodeInvalidConfig,
		providers.ErrCodeUnknownProvider:
		return http.StatusBadRequest
	case providers.ErrCodeNotImplemented:
		return http.StatusNotImplemented
	case providers.ErrCodeNetworkError:
		return http.StatusBadGateway
	case providers.ErrCodeRequestFailed:
		if pe.StatusCode >= 400 && pe.StatusCode < 500 {
			return pe.StatusCode
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
