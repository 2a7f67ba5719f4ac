// Package core holds the pieces shared by the store's outer layers: coded
// errors, HTTP retry and input validation.
package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
)

// ErrorCode classifies a StoreError.
type ErrorCode string

const (
	// input
	ErrInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrInvalidBbox        ErrorCode = "INVALID_BBOX"
	ErrInvalidCoordinates ErrorCode = "INVALID_COORDINATES"
	ErrInvalidKind        ErrorCode = "INVALID_KIND"
	ErrMissingParameter   ErrorCode = "MISSING_PARAMETER"

	// store
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrNoHistory  ErrorCode = "NO_HISTORY"
	ErrParseError ErrorCode = "PARSE_ERROR"

	// upstream
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrServiceTimeout     ErrorCode = "SERVICE_TIMEOUT"
	ErrRateLimit          ErrorCode = "RATE_LIMIT"
	ErrNetworkError       ErrorCode = "NETWORK_ERROR"

	ErrInternalError ErrorCode = "INTERNAL_ERROR"
)

// StoreError is the error shape returned to MCP clients.
type StoreError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Ref      string `json:"ref,omitempty"`
	Guidance string `json:"guidance,omitempty"`
}

func (e *StoreError) Error() string {
	if e.Guidance != "" {
		return fmt.Sprintf("%s: %s. %s", e.Code, e.Message, e.Guidance)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewError(code ErrorCode, message string) *StoreError {
	return &StoreError{
		Code:    string(code),
		Message: message,
	}
}

// WithRef names the entity the error is about, e.g. "way/-3".
func (e *StoreError) WithRef(ref string) *StoreError {
	e.Ref = ref
	return e
}

func (e *StoreError) WithGuidance(guidance string) *StoreError {
	e.Guidance = guidance
	return e
}

// ToMCPResult renders the error as a JSON tool error.
func (e *StoreError) ToMCPResult() *mcp.CallToolResult {
	errorJSON, err := json.Marshal(e)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("ERROR: %s - %s", e.Code, e.Message))
	}
	return mcp.NewToolResultError(string(errorJSON))
}

// AsStoreError returns err as a StoreError, wrapping anything else as an
// internal error.
func AsStoreError(err error) *StoreError {
	var se *StoreError
	if errors.As(err, &se) {
		return se
	}
	return NewError(ErrInternalError, err.Error())
}

// ServiceError maps an upstream HTTP status to a StoreError.
func ServiceError(service string, statusCode int, message string) *StoreError {
	var code ErrorCode
	var guidance string

	switch statusCode {
	case http.StatusTooManyRequests:
		code = ErrRateLimit
		guidance = "The service is rate-limited. Please try again in a few moments."
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		code = ErrServiceTimeout
		guidance = "The request timed out. Try a smaller area."
	case http.StatusBadRequest:
		code = ErrInvalidInput
		guidance = "The service rejected the request. Areas larger than the server limit are refused."
	case http.StatusNotFound:
		code = ErrNotFound
		guidance = "Check the URL."
	default:
		code = ErrServiceUnavailable
		guidance = "The service is temporarily unavailable. Please try again later."
	}

	return NewError(code, fmt.Sprintf("%s service error: %s", service, message)).
		WithGuidance(guidance)
}

// NewValidationError creates an error for rejected tool input.
func NewValidationError(code ErrorCode, message string) *StoreError {
	return NewError(code, message).
		WithGuidance("Please correct the parameters and try again.")
}
