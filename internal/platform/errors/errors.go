// Package errors provides the service's typed application errors.
//
// Every error surfaced to a caller carries a Code that transports map onto
// HTTP statuses and gRPC codes. Callers branch on the code, never on the
// message text.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

// Code classifies an application error.
type Code string

const (
	ErrCodeInvalidInput       Code = "INVALID_INPUT"
	ErrCodeForbidden          Code = "FORBIDDEN"
	ErrCodeStaleStep          Code = "STALE_STEP"
	ErrCodeConflict           Code = "CONFLICT"
	ErrCodeManifestationBlock Code = "MANIFESTATION_BLOCK"
	ErrCodeNotFound           Code = "NOT_FOUND"
	ErrCodeInternal           Code = "INTERNAL"
)

// AppError is the single error type returned across package boundaries.
type AppError struct {
	Code    Code
	Message string
	Field   string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// New creates an AppError with the given code.
func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error. Wrapping an
// AppError keeps the inner code.
func Wrap(err error, code Code, message string) *AppError {
	if err == nil {
		return nil
	}
	var inner *AppError
	if stderrors.As(err, &inner) {
		code = inner.Code
	}
	return &AppError{Code: code, Message: message, Err: err}
}

// InvalidInput reports a rejected input field (ValidationError).
func InvalidInput(field, message string) *AppError {
	return &AppError{Code: ErrCodeInvalidInput, Message: message, Field: field}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// Forbidden reports an actor that may not perform the action.
func Forbidden(message string) *AppError {
	return &AppError{Code: ErrCodeForbidden, Message: message}
}

// StaleStep reports an action against a step that is no longer waiting.
func StaleStep(message string) *AppError {
	return &AppError{Code: ErrCodeStaleStep, Message: message}
}

// Conflict reports that the target changed state under the caller.
func Conflict(message string) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: message}
}

// ManifestationBlock reports a placement barred by a manifestation
// determination. No override can lift it.
func ManifestationBlock(message string) *AppError {
	return &AppError{Code: ErrCodeManifestationBlock, Message: message}
}

// CodeOf returns the code of the first AppError in err's chain, or
// ErrCodeInternal for foreign errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// As is re-exported so callers need not import both error packages.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// HTTPStatus maps a code onto an HTTP status.
func HTTPStatus(code Code) int {
	switch code {
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeStaleStep, ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeManifestationBlock:
		return http.StatusUnprocessableEntity
	case ErrCodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// GRPCCode maps a code onto a gRPC status code.
func GRPCCode(code Code) codes.Code {
	switch code {
	case ErrCodeInvalidInput:
		return codes.InvalidArgument
	case ErrCodeForbidden:
		return codes.PermissionDenied
	case ErrCodeStaleStep:
		return codes.Aborted
	case ErrCodeConflict, ErrCodeManifestationBlock:
		return codes.FailedPrecondition
	case ErrCodeNotFound:
		return codes.NotFound
	default:
		return codes.Internal
	}
}
