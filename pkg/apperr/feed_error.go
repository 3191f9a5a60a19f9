package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Auth errors
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeForbidden          = "FORBIDDEN"

	// Validation errors
	CodeBadRequest   = "BAD_REQUEST"
	CodeInvalidInput = "INVALID_INPUT"

	// Resource errors
	CodeNotFound      = "NOT_FOUND"
	CodeAlreadyExists = "ALREADY_EXISTS"

	// Realtime errors
	CodeInvalidFrame         = "INVALID_FRAME"
	CodeUnknownAction        = "UNKNOWN_ACTION"
	CodeUnknownEvent         = "UNKNOWN_EVENT"
	CodeEventNotSubscribable = "EVENT_NOT_SUBSCRIBABLE"
	CodeBootstrapFailed      = "BOOTSTRAP_FAILED"
	CodeHandleClosed         = "HANDLE_CLOSED"

	// External errors
	CodeDatabaseError = "DATABASE_ERROR"
	CodeUnavailable   = "UNAVAILABLE"

	// Internal errors
	CodeInternalError = "INTERNAL_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches two AppErrors by code so that errors.Is works against the
// package-level instances.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func New(code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

func Wrap(err error, code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// Auth errors
func Unauthorized(message string) *AppError {
	if message == "" {
		message = "you have to be connected to perform this action"
	}
	return New(CodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidToken(message string) *AppError {
	return New(CodeInvalidToken, message, http.StatusUnauthorized)
}

func InvalidCredentials(err error) *AppError {
	return Wrap(err, CodeInvalidCredentials, "invalid credentials", http.StatusUnauthorized)
}

func Forbidden(message string) *AppError {
	if message == "" {
		message = "forbidden"
	}
	return New(CodeForbidden, message, http.StatusForbidden)
}

// Validation errors
func BadRequest(message string) *AppError {
	return New(CodeBadRequest, message, http.StatusBadRequest)
}

func InvalidInput(field, reason string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: fmt.Sprintf("invalid input for '%s': %s", field, reason),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

// Resource errors
func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func AlreadyExists(resource string) *AppError {
	return New(CodeAlreadyExists, fmt.Sprintf("%s already exists", resource), http.StatusConflict)
}

// Realtime errors. Their Message is sent verbatim as the content of an
// error frame, so it must be safe to show to the client.
func InvalidFrame(err error) *AppError {
	return Wrap(err, CodeInvalidFrame, "invalid JSON event", http.StatusBadRequest)
}

func UnknownAction(action string) *AppError {
	return New(CodeUnknownAction, fmt.Sprintf("unknown action `%s`", action), http.StatusBadRequest).
		WithDetail("action", action)
}

func UnknownEvent(event string) *AppError {
	return New(CodeUnknownEvent, fmt.Sprintf("event `%s` does not exist", event), http.StatusBadRequest).
		WithDetail("event", event)
}

func EventNotSubscribable(event string) *AppError {
	return New(CodeEventNotSubscribable, fmt.Sprintf("event `%s` is managed by the server", event), http.StatusForbidden).
		WithDetail("event", event)
}

func BootstrapFailed(err error) *AppError {
	return Wrap(err, CodeBootstrapFailed, "failed to load subscriptions", http.StatusInternalServerError)
}

func DatabaseError(operation string, err error) *AppError {
	return Wrap(err, CodeDatabaseError, fmt.Sprintf("database error: %s", operation), http.StatusInternalServerError)
}

func Unavailable(service string, err error) *AppError {
	return Wrap(err, CodeUnavailable, fmt.Sprintf("%s unavailable", service), http.StatusServiceUnavailable)
}

// Internal errors
func Internal(message string) *AppError {
	if message == "" {
		message = "internal server error"
	}
	return New(CodeInternalError, message, http.StatusInternalServerError)
}

func InternalWithError(err error) *AppError {
	return Wrap(err, CodeInternalError, "internal server error", http.StatusInternalServerError)
}

// Common error instances
var (
	ErrUnauthorized = Unauthorized("")
	ErrHandleClosed = New(CodeHandleClosed, "connection is closed", http.StatusGone)
)

// Helper functions
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalWithError(err)
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
