// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package validate_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/averden/gatehouse/internal/platform/apperr"
	"github.com/averden/gatehouse/internal/platform/validate"
)

/*
TestValidator_Required tests the mandatory field validation logic.
*/
func TestValidator_Required(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		value    string
		hasError bool
	}{
		{"valid_string", "email", "ops@averden.io", false},
		{"empty_string", "email", "", true},
		{"whitespace_only", "email", "   ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &validate.Validator{}
			v.Required(tt.field, tt.value)

			if tt.hasError {
				assert.True(t, v.HasErrors())
				err := v.Err()
				require.NotNil(t, err)

				ae := apperr.As(err)
				require.NotNil(t, ae)
				assert.Equal(t, "INVALID_INPUT", ae.Code)
				assert.Equal(t, tt.field, ae.Details[0].Field)
			} else {
				assert.False(t, v.HasErrors())
				assert.Nil(t, v.Err())
			}
		})
	}
}

/*
TestValidator_Email checks the email format validation rule.
*/
func TestValidator_Email(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		isValid bool
	}{
		{"valid_email", "test@example.com", true},
		{"invalid_format", "invalid-email", false},
		{"missing_domain", "test@", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &validate.Validator{}
			v.Email("email", tt.email)

			if tt.isValid {
				assert.False(t, v.HasErrors())
			} else {
				assert.True(t, v.HasErrors())
			}
		})
	}
}

/*
TestValidator_Password checks the new-credential strength policy.
*/
func TestValidator_Password(t *testing.T) {
	tests := []struct {
		name     string
		password string
		isValid  bool
	}{
		{"strong", "correct-horse-7", true},
		{"too_short", "ab1", false},
		{"too_long", strings.Repeat("a1", 70), false},
		{"no_digit", "passwordonly", false},
		{"no_letter", "1234567890", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &validate.Validator{}
			v.Password("password", tt.password)

			assert.Equal(t, !tt.isValid, v.HasErrors())
		})
	}
}

/*
TestValidator_Identifier checks role/permission identifier validation.
*/
func TestValidator_Identifier(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		isValid bool
	}{
		{"simple", "editor", true},
		{"snake_case", "senior_editor", true},
		{"with_digits", "tier2_support", true},
		{"leading_digit", "2tier", false},
		{"uppercase", "Editor", false},
		{"hyphenated", "senior-editor", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &validate.Validator{}
			v.Identifier("role_id", tt.value)

			assert.Equal(t, !tt.isValid, v.HasErrors())
		})
	}
}

/*
TestValidator_Chain tests the fluent API (chaining multiple rules).
*/
func TestValidator_Chain(t *testing.T) {
	v := &validate.Validator{}

	// Multi-rule validation
	err := v.
		Required("display_name", "Ada").
		MinLen("display_name", "Ada", 3).
		MaxLen("display_name", "Ada", 10).
		Email("email", "ada@averden.io").
		Err()

	assert.NoError(t, err)
	assert.False(t, v.HasErrors())
}

/*
TestValidator_Chain_Failure tests error accumulation in the chain.
*/
func TestValidator_Chain_Failure(t *testing.T) {
	v := &validate.Validator{}

	err := v.
		Required("display_name", "").   // Fails
		MinLen("display_name", "a", 5). // Fails
		Email("email", "not-an-email"). // Fails
		Err()

	require.Error(t, err)
	ae := apperr.As(err)
	require.NotNil(t, ae)

	// Should accumulate all 3 errors
	assert.Len(t, ae.Details, 3)
}

/*
TestNormalizeEmail verifies canonicalization before lookup or storage.
*/
func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases", "Ada@Averden.IO", "ada@averden.io"},
		{"trims", "  ada@averden.io  ", "ada@averden.io"},
		{"strips_injection_chars", `<ada>@averden.io'"&`, "ada@averden.io"},
		{"already_clean", "ada@averden.io", "ada@averden.io"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, validate.NormalizeEmail(tt.input))
		})
	}

	t.Run("truncates_oversized", func(t *testing.T) {
		long := strings.Repeat("a", 300) + "@averden.io"
		assert.Len(t, validate.NormalizeEmail(long), validate.MaxEmailLength)
	})
}
