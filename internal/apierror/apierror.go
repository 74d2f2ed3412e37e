// Package apierror renders JSON responses and the standard error envelope
// shared by every HTTP handler.
package apierror

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// APIError represents a standardized error response
type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

// Common error codes
const (
	CodeInvalidInput     = "INVALID_INPUT"
	CodeNotFound         = "NOT_FOUND"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeAlreadyExists    = "ALREADY_EXISTS"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeInternalError    = "INTERNAL_ERROR"
)

// Error responses
var (
	ErrInvalidBody = &APIError{
		Code:    CodeInvalidInput,
		Message: "Invalid request body",
	}
	ErrNotFound = &APIError{
		Code:    CodeNotFound,
		Message: "Short link not found",
	}
	ErrUnauthorized = &APIError{
		Code:    CodeUnauthorized,
		Message: "Unauthorized access",
	}
	ErrForbidden = &APIError{
		Code:    CodeForbidden,
		Message: "Not allowed to act on this resource",
	}
	ErrMethodNotAllowed = &APIError{
		Code:    CodeMethodNotAllowed,
		Message: "Method not allowed",
	}
	ErrRateLimited = &APIError{
		Code:    CodeRateLimited,
		Message: "Too many requests",
	}
)

// HandleError sends a standardized error response
func HandleError(w http.ResponseWriter, apiErr *APIError, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(apiErr); err != nil {
		log.Error().
			Err(err).
			Str("code", apiErr.Code).
			Msg("failed to encode error response")
	}
}

// LogError logs an error and returns an appropriate API error
func LogError(err error, context string) *APIError {
	log.Error().
		Err(err).
		Str("context", context).
		Msg("internal error occurred")
	return &APIError{
		Code:    CodeInternalError,
		Message: "An internal error occurred",
		Details: context,
	}
}

// Response represents the structure of a standard API response
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// SendJSON sends a successful JSON response with consistent formatting
func SendJSON(w http.ResponseWriter, status int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := Response{
		Success: true,
		Message: message,
		Data:    data,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// DecodeJSON reads the request body into dst
func DecodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
