// Package apierror maps internal errors onto the JSON error envelope
// the HTTP handlers return.
package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/lumenlabs/lumen/pkg/users"
)

// ErrorType categorizes errors for clients.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrConflict       ErrorType = "conflict_error"
	ErrTooLarge       ErrorType = "request_too_large"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrUnavailable    ErrorType = "unavailable_error"
	ErrAPI            ErrorType = "api_error"
)

// Error is the wire form of a request failure.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Envelope wraps an Error for the response body.
type Envelope struct {
	Error *Error `json:"error"`
}

func InvalidRequest(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

func Authentication(message string) *Error {
	return &Error{Type: ErrAuthentication, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Type: ErrNotFound, Message: message}
}

func Conflict(message string) *Error {
	return &Error{Type: ErrConflict, Message: message}
}

func TooLarge(message string) *Error {
	return &Error{Type: ErrTooLarge, Message: message}
}

func Unavailable(message string) *Error {
	return &Error{Type: ErrUnavailable, Message: message}
}

// FromError maps err to its wire form and HTTP status. Unknown errors
// collapse to a generic internal error so details never leak.
func FromError(err error, requestID string) (*Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Type:      ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &Error{
			Type:      ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr != nil {
		out := *apiErr
		out.RequestID = requestID
		return &out, StatusFromType(out.Type)
	}

	// Body-limit overruns from http.MaxBytesReader.
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) && maxBytesErr != nil {
		return &Error{
			Type:      ErrTooLarge,
			Message:   fmt.Sprintf("request body exceeds %d bytes", maxBytesErr.Limit),
			RequestID: requestID,
		}, http.StatusRequestEntityTooLarge
	}

	if errors.Is(err, users.ErrNotFound) {
		return &Error{
			Type:      ErrNotFound,
			Message:   "user not found",
			RequestID: requestID,
		}, http.StatusNotFound
	}
	if errors.Is(err, users.ErrExists) {
		return &Error{
			Type:      ErrConflict,
			Message:   "user already exists",
			RequestID: requestID,
		}, http.StatusConflict
	}

	return &Error{
		Type:      ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

// StatusFromType maps an error type to its HTTP status.
func StatusFromType(t ErrorType) int {
	switch t {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrAuthentication:
		return http.StatusUnauthorized
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	case ErrTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrRateLimit:
		return http.StatusTooManyRequests
	case ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Write sends err as a JSON envelope on w.
func Write(w http.ResponseWriter, err error, requestID string) {
	apiErr, status := FromError(err, requestID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: apiErr})
}
