// Package errors provides the coded error taxonomy shared by the service,
// repository and handler layers.
//
// Codes use the callable wire names ("invalid-argument", "not-found", ...)
// so the same value can be rendered over HTTP and converted to a gRPC status.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code classifies an error for callers.
type Code string

const (
	ErrCodeInvalidArgument    Code = "invalid-argument"
	ErrCodeNotFound           Code = "not-found"
	ErrCodeFailedPrecondition Code = "failed-precondition"
	ErrCodePermissionDenied   Code = "permission-denied"
	ErrCodeUnauthenticated    Code = "unauthenticated"
	ErrCodeInternal           Code = "internal"
)

// Error is a classified error. Message is safe to show to callers; Err is
// the underlying cause and is only ever logged.
type Error struct {
	Code    Code
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// GRPCStatus lets grpc-go translate the error without a mapping table.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.Code.GRPC(), PublicMessage(e))
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and caller-facing message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Field:   id,
	}
}

// InvalidInput reports a bad request field.
func InvalidInput(field, message string) *Error {
	return &Error{Code: ErrCodeInvalidArgument, Message: message, Field: field}
}

// FailedPrecondition reports a request that is valid but not allowed in the
// current state.
func FailedPrecondition(message string) *Error {
	return &Error{Code: ErrCodeFailedPrecondition, Message: message}
}

// PermissionDenied reports a caller that may not perform the operation.
func PermissionDenied(message string) *Error {
	return &Error{Code: ErrCodePermissionDenied, Message: message}
}

// Unauthenticated reports a missing or invalid caller identity.
func Unauthenticated(message string) *Error {
	return &Error{Code: ErrCodeUnauthenticated, Message: message}
}

// Internal wraps an unexpected failure.
func Internal(err error, message string) *Error {
	return &Error{Code: ErrCodeInternal, Message: message, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrCodeInternal when there is none.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// PublicMessage returns the caller-facing message. Unclassified errors are
// reduced to a generic message so internals never leak.
func PublicMessage(err error) string {
	var e *Error
	if stderrors.As(err, &e) && e.Code != ErrCodeInternal {
		return e.Message
	}
	return "An internal error occurred. Please try again."
}

// GRPC maps the code onto the gRPC code space.
func (c Code) GRPC() codes.Code {
	switch c {
	case ErrCodeInvalidArgument:
		return codes.InvalidArgument
	case ErrCodeNotFound:
		return codes.NotFound
	case ErrCodeFailedPrecondition:
		return codes.FailedPrecondition
	case ErrCodePermissionDenied:
		return codes.PermissionDenied
	case ErrCodeUnauthenticated:
		return codes.Unauthenticated
	default:
		return codes.Internal
	}
}

// HTTPStatus maps the code onto an HTTP status.
func (c Code) HTTPStatus() int {
	switch c {
	case ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeFailedPrecondition:
		return http.StatusPreconditionFailed
	case ErrCodePermissionDenied:
		return http.StatusForbidden
	case ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// WireStatus renders the code as an upper-snake status ("FAILED_PRECONDITION").
func (c Code) WireStatus() string {
	if c == "" {
		return "INTERNAL"
	}
	return strings.ToUpper(strings.ReplaceAll(string(c), "-", "_"))
}

// Is and As are re-exported so callers need only one errors import.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target any) bool {
	return stderrors.As(err, target)
}
