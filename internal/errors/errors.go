package errors

import (
	"fmt"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:    appErr.Code,
			Message: message,
			Cause:   appErr,
		}
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithCode adds an error code to an existing error
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:    code,
			Message: appErr.Message,
			Cause:   appErr.Cause,
		}
	}
	return &AppError{
		Code:    code,
		Message: err.Error(),
		Cause:   err,
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetCode returns the error code if it's an AppError, otherwise returns "UNKNOWN"
func GetCode(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return "UNKNOWN"
}

// IsCode checks whether an error carries the given code
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// Predefined error codes
const (
	CodeAlreadyInitialized  = "ALREADY_INITIALIZED"
	CodeNotActive           = "SESSION_NOT_ACTIVE"
	CodeStorageUnavailable  = "STORAGE_UNAVAILABLE"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeAggregationConflict = "AGGREGATION_CONFLICT"
	CodeConfigInvalid       = "CONFIG_INVALID"
	CodeNotFound            = "NOT_FOUND"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeInternalError       = "INTERNAL_ERROR"
)

// IsProtocolViolation reports whether the error is a caller sequencing
// mistake rather than an infrastructure failure
func IsProtocolViolation(err error) bool {
	code := GetCode(err)
	return code == CodeAlreadyInitialized || code == CodeNotActive
}

// Common error constructors
func AlreadyInitialized(sessionID string) *AppError {
	return New(CodeAlreadyInitialized, fmt.Sprintf("session %s already initialized", sessionID))
}

func NotActive(sessionID string) *AppError {
	return New(CodeNotActive, fmt.Sprintf("session %s is not active", sessionID))
}

func StorageUnavailable(op string, cause error) *AppError {
	return &AppError{
		Code:    CodeStorageUnavailable,
		Message: fmt.Sprintf("storage unavailable during %s", op),
		Cause:   cause,
	}
}

func UpstreamUnavailable(service string, cause error) *AppError {
	return &AppError{
		Code:    CodeUpstreamUnavailable,
		Message: fmt.Sprintf("%s service error", service),
		Cause:   cause,
	}
}

func AggregationConflict(userID string, attempts int) *AppError {
	return New(CodeAggregationConflict, fmt.Sprintf("progress update for user %s lost %d consecutive races", userID, attempts))
}

func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}

func InternalError(message string) *AppError {
	return New(CodeInternalError, message)
}
