// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorsMapKindAndStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    *AppError
		code   string
		kind   Kind
		status int
	}{
		{"not_found", NotFound("Session"), "NOT_FOUND", KindNotFound, http.StatusNotFound},
		{"unauthenticated", Unauthenticated("Token has expired"), "UNAUTHENTICATED", KindUnauthenticated, http.StatusUnauthorized},
		{"revoked", Revoked("Token has been revoked"), "REVOKED_TOKEN", KindRevoked, http.StatusUnauthorized},
		{"forbidden", Forbidden("Missing permission"), "FORBIDDEN", KindForbidden, http.StatusForbidden},
		{"security_breach", SecurityBreach("Token reuse detected"), "SECURITY_BREACH", KindSecurityBreach, http.StatusForbidden},
		{"conflict", Conflict("Email already registered"), "CONFLICT", KindConflict, http.StatusConflict},
		{"invalid_input", ValidationError("Validation failed"), "INVALID_INPUT", KindInvalidInput, http.StatusBadRequest},
		{"rate_limited", RateLimited(60), "RATE_LIMITED", KindRateLimited, http.StatusTooManyRequests},
		{"fatal", Internal(errors.New("boom")), "INTERNAL_ERROR", KindFatal, http.StatusInternalServerError},
		{"transient", Transient(errors.New("redis down")), "TRANSIENT", KindTransient, http.StatusServiceUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, tc.err.Code)
			assert.Equal(t, tc.kind, tc.err.Kind)
			assert.Equal(t, tc.status, tc.err.HTTPStatus)
			assert.Equal(t, tc.kind, KindOf(tc.err))
		})
	}
}

func TestCauseIsUnwrappedButHidden(t *testing.T) {
	cause := errors.New("pq: connection refused")
	err := Transient(cause)

	assert.True(t, errors.Is(err, cause))
	assert.NotContains(t, err.Error(), "connection refused")
}

func TestAsTraversesWrappedChains(t *testing.T) {
	inner := Revoked("Token has been revoked")
	wrapped := fmt.Errorf("verify_access_failed: %w", inner)

	require.True(t, IsAppError(wrapped))
	got := As(wrapped)
	require.NotNil(t, got)
	assert.Equal(t, "REVOKED_TOKEN", got.Code)
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindFatal, KindOf(errors.New("unclassified")))
	assert.False(t, IsTransient(errors.New("unclassified")))
}

func TestIsTransientAndIsNotFound(t *testing.T) {
	assert.True(t, IsTransient(Transient(nil)))
	assert.True(t, IsNotFound(NotFound("Role")))
	assert.False(t, IsNotFound(Transient(nil)))
}
