// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

/*
Package apperr defines the centralized error handling framework for Gatehouse.

It provides a rich error type that bridges the gap between low-level Domain/Storage
errors and high-level HTTP responses.

Architecture:

  - AppError: A struct containing machine-readable ErrorCode and user-friendly messages.
  - Kind: A coarse classification (transient vs fatal, authentication vs authorization)
    that callers use to decide whether an operation is retryable.
  - Mapping: Explicit mapping from AppError to standard HTTP Status Codes.

Every error that leaves the service layer should be wrapped as an [AppError] to ensure
consistent API responses.
*/
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for programmatic handling. Transient errors are
// retryable with backoff; all other kinds are terminal for the request.
type Kind string

const (
	KindInvalidInput    Kind = "invalid_input"
	KindUnauthenticated Kind = "unauthenticated"
	KindRevoked         Kind = "revoked"
	KindRateLimited     Kind = "rate_limited"
	KindSecurityBreach  Kind = "security_breach"
	KindConflict        Kind = "conflict"
	KindNotFound        Kind = "not_found"
	KindForbidden       Kind = "forbidden"
	KindTransient       Kind = "transient"
	KindFatal           Kind = "fatal"
)

// AppError is the canonical error type for the Gatehouse API.
//
// It carries an HTTP status code, a machine-readable code, a client-safe
// message, and an optional slice of field-level validation errors.
//
// # Security
//
// The Cause field is for server-side logging only and is never sent to clients
// to avoid leaking internal implementation details (e.g., SQL queries).
type AppError struct {
	// Code is a machine-readable error identifier (e.g. "NOT_FOUND", "REVOKED_TOKEN").
	Code string `json:"code"`
	// Message is a human-readable description safe to return to the client.
	Message string `json:"error"`
	// Kind is the coarse classification used for retry and alerting decisions.
	Kind Kind `json:"-"`
	// HTTPStatus is the HTTP response status code.
	HTTPStatus int `json:"-"`
	// Cause is the underlying error, used for server-side logging only.
	Cause error `json:"-"`
	// Details holds per-field validation errors for INVALID_INPUT responses.
	Details []FieldError `json:"details,omitempty"`
}

// FieldError represents a single field-level validation failure.
type FieldError struct {
	// Field is the JSON field name that failed validation.
	Field string `json:"field"`
	// Message is the human-readable description of the failure.
	Message string `json:"message"`
}

// Error implements the error interface. It returns the client-safe message.
func (e *AppError) Error() string { return e.Message }

// Unwrap allows [errors.Is] and [errors.As] to traverse the cause chain.
func (e *AppError) Unwrap() error { return e.Cause }

// # Client Errors (4xx)

// NotFound creates a 404 [AppError] for a named resource.
//
// Example:
//
//	apperr.NotFound("Session") // Returns "Session not found"
func NotFound(resource string) *AppError {
	return &AppError{
		Code:       "NOT_FOUND",
		Message:    resource + " not found",
		Kind:       KindNotFound,
		HTTPStatus: http.StatusNotFound,
	}
}

// Unauthenticated creates a 401 [AppError] for missing, expired, or otherwise
// invalid credentials.
func Unauthenticated(msg string) *AppError {
	return &AppError{
		Code:       "UNAUTHENTICATED",
		Message:    msg,
		Kind:       KindUnauthenticated,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Revoked creates a 401 [AppError] for credentials that were valid once but
// have since been blacklisted. Clients must discard the credential and
// re-authenticate rather than retry.
func Revoked(msg string) *AppError {
	return &AppError{
		Code:       "REVOKED_TOKEN",
		Message:    msg,
		Kind:       KindRevoked,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Forbidden creates a 403 [AppError] for callers that are authenticated but
// lack the required permission.
func Forbidden(msg string) *AppError {
	return &AppError{
		Code:       "FORBIDDEN",
		Message:    msg,
		Kind:       KindForbidden,
		HTTPStatus: http.StatusForbidden,
	}
}

// SecurityBreach creates a 403 [AppError] for detected attacks such as
// refresh-token replay. The whole credential family is torn down before this
// error is returned, so the client cannot recover without a fresh login.
func SecurityBreach(msg string) *AppError {
	return &AppError{
		Code:       "SECURITY_BREACH",
		Message:    msg,
		Kind:       KindSecurityBreach,
		HTTPStatus: http.StatusForbidden,
	}
}

// Conflict creates a 409 [AppError] for duplicate or unique-constraint violations
// and for optimistic-concurrency failures.
func Conflict(msg string) *AppError {
	return &AppError{
		Code:       "CONFLICT",
		Message:    msg,
		Kind:       KindConflict,
		HTTPStatus: http.StatusConflict,
	}
}

// ValidationError creates a 400 [AppError] with optional per-field details.
func ValidationError(msg string, details ...FieldError) *AppError {
	return &AppError{
		Code:       "INVALID_INPUT",
		Message:    msg,
		Kind:       KindInvalidInput,
		HTTPStatus: http.StatusBadRequest,
		Details:    details,
	}
}

// RateLimited creates a 429 [AppError].
func RateLimited(retryAfterSeconds int) *AppError {
	return &AppError{
		Code:       "RATE_LIMITED",
		Message:    fmt.Sprintf("Too many requests. Try again in %ds.", retryAfterSeconds),
		Kind:       KindRateLimited,
		HTTPStatus: http.StatusTooManyRequests,
	}
}

// # Server Errors (5xx)

// Internal creates a 500 [AppError] wrapping an unexpected server-side error.
// The cause is stored for logging but is never sent to the client.
func Internal(cause error) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "An unexpected error occurred",
		Kind:       KindFatal,
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// Transient creates a 503 [AppError] for infrastructure outages (store
// unreachable, circuit open). Callers may retry with backoff.
func Transient(cause error) *AppError {
	return &AppError{
		Code:       "TRANSIENT",
		Message:    "Service temporarily unavailable. Please retry.",
		Kind:       KindTransient,
		HTTPStatus: http.StatusServiceUnavailable,
		Cause:      cause,
	}
}

// # Helpers

// IsAppError reports whether err (or any error in its chain) is an [*AppError].
func IsAppError(err error) bool {
	var ae *AppError
	return errors.As(err, &ae)
}

// As extracts the [*AppError] from err's chain. It returns nil if not found.
func As(err error) *AppError {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

// KindOf returns the [Kind] of err, or [KindFatal] for errors that never
// passed through this package.
func KindOf(err error) Kind {
	if ae := As(err); ae != nil {
		return ae.Kind
	}
	return KindFatal
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsNotFound reports whether err represents an absent resource rather than a
// storage failure. Stores rely on this to distinguish a miss from an outage.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }
