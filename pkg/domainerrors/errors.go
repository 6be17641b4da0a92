// Package domainerrors defines the coded error type shared across the proxy.
// Codes classify failures for HTTP translation, audit records, and metrics
// without leaking upstream detail to callers.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies a failure class.
type Code string

const (
	// Authentication.
	CodeUnauthorized Code = "unauthorized"

	// Authorization and request validation.
	CodeUnknownDataset           Code = "unknown_dataset"
	CodeNoGrantedScope           Code = "no_granted_scope"
	CodeDisallowedParameter      Code = "disallowed_parameter"
	CodeDisallowedParameterValue Code = "disallowed_parameter_value"
	CodeNoFieldsPermitted        Code = "no_fields_permitted"
	CodeBadRequest               Code = "bad_request"

	// Upstream failures.
	CodeRemoteValidation Code = "remote_validation"
	CodeRemoteDenied     Code = "remote_denied"
	CodeNotFound         Code = "not_found"
	CodeBadGateway       Code = "bad_gateway"
	CodeUnavailable      Code = "unavailable"
	CodeGatewayTimeout   Code = "gateway_timeout"

	// Everything else.
	CodeInternal Code = "internal"
)

// Error is a coded domain error. Param optionally names the request parameter
// (or comma-joined parameters) the failure is about.
type Error struct {
	Code    Code
	Message string
	Param   string

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.cause }

// New builds a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewParam builds a coded error about a named request parameter.
func NewParam(code Code, param, message string) *Error {
	return &Error{Code: code, Message: message, Param: param}
}

// Wrap builds a coded error around a cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// FromError extracts the coded error from err's chain, or wraps err as an
// internal error so callers always get a usable *Error.
func FromError(err error) *Error {
	var domErr *Error
	if errors.As(err, &domErr) {
		return domErr
	}
	return &Error{Code: CodeInternal, Message: "internal error", cause: err}
}

// CodeOf returns the code of err, or CodeInternal for uncoded errors.
func CodeOf(err error) Code {
	return FromError(err).Code
}
