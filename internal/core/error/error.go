package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// PostgresErrorMessage describes SQL warehouse failures.
	PostgresErrorMessage = "database operation failed"
	// NotFoundMessage is returned when a requested record does not exist.
	NotFoundMessage = "record not found"
	// LLMErrorMessage describes chat or embedding endpoint failures.
	LLMErrorMessage = "model endpoint call failed"
	// InvalidInputMessage is returned for malformed client requests.
	InvalidInputMessage = "invalid request"
)

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Err     error
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// InvalidInput reports a client error with a descriptive reason.
func InvalidInput(reason string) *AppError {
	return New(errors.New(reason), http.StatusBadRequest, InvalidInputMessage)
}

// WrapLLM wraps a model endpoint error with a consistent status code and message.
func WrapLLM(err error) error {
	if err == nil {
		return nil
	}
	return New(err, http.StatusBadGateway, LLMErrorMessage)
}

// StatusOf extracts the HTTP status carried by an AppError in err's chain,
// defaulting to 500 for anything else.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// MessageOf returns the safe message of an AppError or the generic system message.
func MessageOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return SystemErrorMessage
}

// Is reports whether the target matches the underlying error or the AppError itself.
func (e *AppError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// As allows casting to AppError or the wrapped error in a chain.
func (e *AppError) As(target any) bool {
	if errors.As(e.Err, target) {
		return true
	}
	if t, ok := target.(**AppError); ok {
		*t = e
		return true
	}
	return false
}
