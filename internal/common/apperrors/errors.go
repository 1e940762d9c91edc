// Package apperrors defines the control plane's error taxonomy: a single
// AppError type carrying a stable code, an HTTP status, and an optional
// wrapped cause, so that every component boundary (HTTP handlers,
// background loops) can classify and translate errors the same way.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error classification.
type Code string

const (
	CodeMalformedInput    Code = "malformed_input"
	CodeNotFound          Code = "not_found"
	CodeUnauthorized      Code = "unauthorized"
	CodeConflict          Code = "conflict"
	CodeUpstreamUnavail   Code = "upstream_unavailable"
	CodeUpstreamForbidden Code = "upstream_forbidden"
	CodeInternal          Code = "internal"
)

// AppError is the control plane's single error type. Code is the stable
// classification used by callers; Message is sanitized for clients;
// Err, when set, carries the underlying cause for logs only.
type AppError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func newError(code Code, status int, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status}
}

func BadRequest(message string) *AppError {
	return newError(CodeMalformedInput, http.StatusBadRequest, message)
}

func NotFound(message string) *AppError {
	return newError(CodeNotFound, http.StatusNotFound, message)
}

func Unauthorized(message string) *AppError {
	return newError(CodeUnauthorized, http.StatusUnauthorized, message)
}

func Conflict(message string) *AppError {
	return newError(CodeConflict, http.StatusConflict, message)
}

func ServiceUnavailable(message string) *AppError {
	return newError(CodeUpstreamUnavail, http.StatusServiceUnavailable, message)
}

func Forbidden(message string) *AppError {
	return newError(CodeUpstreamForbidden, http.StatusForbidden, message)
}

func InternalError(message string) *AppError {
	return newError(CodeInternal, http.StatusInternalServerError, message)
}

// Wrap attaches err as the cause of a new AppError with the given code and
// message, picking a sensible default HTTP status for the code.
func Wrap(code Code, message string, err error) *AppError {
	status := http.StatusInternalServerError
	switch code {
	case CodeMalformedInput:
		status = http.StatusBadRequest
	case CodeNotFound:
		status = http.StatusNotFound
	case CodeUnauthorized:
		status = http.StatusUnauthorized
	case CodeConflict:
		status = http.StatusConflict
	case CodeUpstreamUnavail:
		status = http.StatusServiceUnavailable
	case CodeUpstreamForbidden:
		status = http.StatusForbidden
	}
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// IsCode reports whether err is (or wraps) an AppError with the given code.
func IsCode(err error, code Code) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

func IsNotFound(err error) bool { return IsCode(err, CodeNotFound) }
func IsConflict(err error) bool { return IsCode(err, CodeConflict) }

// GetHTTPStatus extracts the HTTP status for err, defaulting to 500 for
// errors that are not an AppError.
func GetHTTPStatus(err error) int {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.HTTPStatus
	}
	return http.StatusInternalServerError
}

// AsAppError extracts the *AppError from err, wrapping it as an internal
// error if it is not already one, the last-resort classification at an
// HTTP boundary.
func AsAppError(err error) *AppError {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return Wrap(CodeInternal, "internal error", err)
}
