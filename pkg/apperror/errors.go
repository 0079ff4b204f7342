// Package apperror provides a structured way to handle application errors
// with specific codes, severity levels, and additional details. It also
// includes utilities for converting to and from gRPC status errors.
package apperror

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents a specific application error code.
type ErrorCode string

const (
	// Validation
	CodeMalformedPayload   ErrorCode = "MALFORMED_PAYLOAD"
	CodeMissingVehicleID   ErrorCode = "MISSING_VEHICLE_ID"
	CodeInvalidLatitude    ErrorCode = "INVALID_LATITUDE"
	CodeInvalidLongitude   ErrorCode = "INVALID_LONGITUDE"
	CodeInvalidFuelLevel   ErrorCode = "INVALID_FUEL_LEVEL"
	CodeInvalidEngineState ErrorCode = "INVALID_ENGINE_STATE"
	CodeInvalidTimestamp   ErrorCode = "INVALID_TIMESTAMP"

	// Query surface
	CodeInvalidArgument   ErrorCode = "INVALID_ARGUMENT"
	CodeInvalidTimeRange  ErrorCode = "INVALID_TIME_RANGE"
	CodeInvalidPagination ErrorCode = "INVALID_PAGINATION"
	CodeNotFound          ErrorCode = "NOT_FOUND"

	// Storage and broker
	CodeStorageFailure    ErrorCode = "STORAGE_FAILURE"
	CodeBrokerUnavailable ErrorCode = "BROKER_UNAVAILABLE"

	// General
	CodeInternal      ErrorCode = "INTERNAL_ERROR"
	CodeNilInput      ErrorCode = "NIL_INPUT"
	CodeUnimplemented ErrorCode = "UNIMPLEMENTED"
)

// Severity defines the criticality level of an error.
type Severity int

const (
	// SeverityWarning indicates a non-critical issue that can be ignored or automatically resolved.
	SeverityWarning Severity = iota
	// SeverityError indicates a standard error that requires attention.
	SeverityError
	// SeverityCritical indicates a severe error that might require immediate human intervention.
	SeverityCritical
)

// String returns the string representation of the Severity.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Error is a custom error type that includes an ErrorCode, message,
// an optional field, additional details, an underlying cause, and a severity level.
type Error struct {
	Code     ErrorCode
	Message  string
	Field    string
	Details  map[string]any
	Cause    error
	Severity Severity
}

// Error implements the error interface, returning a string representation of the error.
func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error, allowing for error chain introspection.
func (e *Error) Unwrap() error {
	return e.Cause
}

// GRPCStatus converts the application error into a gRPC status.Status.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.grpcCode(), e.Message)
}

// grpcCode maps an ErrorCode to an appropriate gRPC codes.Code. Every
// query-layer error surfaces as either InvalidArgument or Internal;
// the richer taxonomy exists for logging, not for wire compatibility.
func (e *Error) grpcCode() codes.Code {
	switch e.Code {
	case CodeMalformedPayload, CodeMissingVehicleID, CodeInvalidLatitude,
		CodeInvalidLongitude, CodeInvalidFuelLevel, CodeInvalidEngineState,
		CodeInvalidTimestamp, CodeInvalidArgument, CodeInvalidTimeRange,
		CodeInvalidPagination, CodeNilInput:
		return codes.InvalidArgument

	case CodeNotFound:
		return codes.NotFound

	default:
		return codes.Internal
	}
}

// New creates a new application error with the given code and message.
// The default severity is SeverityError.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Details: make(map[string]any), Severity: SeverityError}
}

// NewWithField creates a new application error with the given code, message, and field.
func NewWithField(code ErrorCode, message, field string) *Error {
	return &Error{Code: code, Message: message, Field: field, Details: make(map[string]any), Severity: SeverityError}
}

// Wrap creates a new application error that wraps an existing error,
// providing additional context with a code and message.
func Wrap(cause error, code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Cause: cause, Details: make(map[string]any), Severity: SeverityError}
}

// WithDetails adds a key-value pair to the error's details map and returns the modified error.
func (e *Error) WithDetails(key string, value any) *Error {
	e.Details[key] = value
	return e
}

// WithField sets the field associated with the error and returns the modified error.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// Is checks if the given error is an application error with a matching ErrorCode.
func Is(err error, code ErrorCode) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Code extracts the ErrorCode from an error. If the error is not an *Error,
// it returns CodeInternal.
func Code(err error) ErrorCode {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// ToGRPC converts an application error or any other error into a gRPC
// error status. Internal errors never leak a stack trace, only the
// human-readable message.
func ToGRPC(err error) error {
	if err == nil {
		return nil
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.GRPCStatus().Err()
	}

	if _, ok := status.FromError(err); ok {
		return err
	}

	return status.Error(codes.Internal, err.Error())
}

// ValidationErrors is a collection of application errors, used for
// aggregating the results of the checks in internal/validation.
type ValidationErrors struct {
	Errors []*Error
}

// NewValidationErrors creates and returns a new empty ValidationErrors collection.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{Errors: make([]*Error, 0)}
}

// AddErrorWithField creates and adds a new application error with a specific field.
func (v *ValidationErrors) AddErrorWithField(code ErrorCode, message, field string) {
	v.Errors = append(v.Errors, NewWithField(code, message, field))
}

// HasErrors returns true if the collection contains any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// IsValid returns true if the collection contains no errors.
func (v *ValidationErrors) IsValid() bool {
	return !v.HasErrors()
}

// ErrorMessages returns a slice of string messages for all collected errors.
func (v *ValidationErrors) ErrorMessages() []string {
	messages := make([]string, len(v.Errors))
	for i, err := range v.Errors {
		messages[i] = err.Error()
	}
	return messages
}
