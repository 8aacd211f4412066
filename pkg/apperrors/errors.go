// Package apperrors provides the error currency used across the
// telemetry core: a single typed error with a machine-readable code and
// HTTP status, so protocol, pipeline, and REST layers all fail the same
// way.
package apperrors

import (
	"fmt"
	"net/http"
)

// AppError represents a standardized application error with HTTP status
// code and error code.
type AppError struct {
	Code        string                 `json:"code"`
	Message     string                 `json:"message"`
	Status      int                    `json:"-"`
	InternalErr error                  `json:"-"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.InternalErr != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.InternalErr)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.InternalErr
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithInternal(err error) *AppError {
	e.InternalErr = err
	return e
}

// Generic REST-facing error codes, carried over from the ambient stack.
const (
	CodeNotFound      = "NOT_FOUND"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeForbidden     = "FORBIDDEN"
	CodeValidation    = "VALIDATION_ERROR"
	CodeBadRequest    = "BAD_REQUEST"
	CodeConflict      = "CONFLICT"
	CodeInternal      = "INTERNAL_ERROR"
	CodeTooManyReqs   = "TOO_MANY_REQUESTS"
	CodeUnavailable   = "SERVICE_UNAVAILABLE"
)

// Pipeline-facing error codes (spec.md §7 error taxonomy).
const (
	CodeFrameError        = "FRAME_ERROR"
	CodeDecodeError       = "DECODE_ERROR"
	CodeIdentifyFailed    = "IDENTIFY_FAILED"
	CodePersistError      = "PERSIST_ERROR"
	CodeCommandUnsupported = "COMMAND_UNSUPPORTED"
	CodeGeofenceCacheMiss = "GEOFENCE_CACHE_MISS"
)

func NewNotFoundError(resource string) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s not found", resource), Status: http.StatusNotFound}
}

func NewUnauthorizedError(message string) *AppError {
	if message == "" {
		message = "Unauthorized access"
	}
	return &AppError{Code: CodeUnauthorized, Message: message, Status: http.StatusUnauthorized}
}

func NewForbiddenError(message string) *AppError {
	if message == "" {
		message = "Access forbidden"
	}
	return &AppError{Code: CodeForbidden, Message: message, Status: http.StatusForbidden}
}

func NewValidationError(message string) *AppError {
	if message == "" {
		message = "Validation failed"
	}
	return &AppError{Code: CodeValidation, Message: message, Status: http.StatusBadRequest}
}

func NewBadRequestError(message string) *AppError {
	if message == "" {
		message = "Bad request"
	}
	return &AppError{Code: CodeBadRequest, Message: message, Status: http.StatusBadRequest}
}

func NewConflictError(message string) *AppError {
	if message == "" {
		message = "Resource conflict"
	}
	return &AppError{Code: CodeConflict, Message: message, Status: http.StatusConflict}
}

func NewInternalError(message string) *AppError {
	if message == "" {
		message = "Internal server error"
	}
	return &AppError{Code: CodeInternal, Message: message, Status: http.StatusInternalServerError}
}

// NewFrameError wraps a framer-level error (corrupt/oversize frame). The
// session stays open; spec.md §7 treats this as discard-and-continue.
func NewFrameError(protocol string, err error) *AppError {
	return &AppError{Code: CodeFrameError, Message: fmt.Sprintf("%s: bad frame", protocol), Status: http.StatusBadRequest, InternalErr: err}
}

// NewDecodeError wraps a decode-level error. The session stays open.
func NewDecodeError(protocol string, err error) *AppError {
	return &AppError{Code: CodeDecodeError, Message: fmt.Sprintf("%s: decode failed", protocol), Status: http.StatusBadRequest, InternalErr: err}
}

// NewIdentifyFailedError signals that a wire identifier could not be
// attributed to a device; the caller stores it under UnknownDevice.
func NewIdentifyFailedError(uniqueID string) *AppError {
	return &AppError{Code: CodeIdentifyFailed, Message: fmt.Sprintf("unknown device identifier %q", uniqueID), Status: http.StatusNotFound}
}

// NewPersistError wraps a persistence failure after retries are exhausted.
func NewPersistError(err error) *AppError {
	return &AppError{Code: CodePersistError, Message: "failed to persist record", Status: http.StatusInternalServerError, InternalErr: err}
}

// NewCommandUnsupportedError marks a command encode as unsupported by the
// owning protocol; terminal FAILED per spec.md §4.7.
func NewCommandUnsupportedError(protocol, commandType string) *AppError {
	return &AppError{Code: CodeCommandUnsupported, Message: fmt.Sprintf("%s does not support command %s", protocol, commandType), Status: http.StatusUnprocessableEntity}
}

// IsAppError reports whether err is an *AppError.
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// Wrap wraps err with a message, converting it to an *AppError if needed.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		appErr.Message = message
		return appErr
	}
	return &AppError{Code: CodeInternal, Message: message, Status: http.StatusInternalServerError, InternalErr: err}
}
