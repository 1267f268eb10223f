// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

// Package validate provides a chainable Validator that collects field-level
// errors before returning a single [apperr.AppError].
//
// # Architecture
//
// This package is used exclusively in the service layer — never in handlers or
// storage. It ensures that business logic only operates on semantically valid data.
package validate

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/averden/gatehouse/internal/platform/apperr"
)

var (
	// identifierRegex matches role and permission identifiers: lowercase
	// letters, digits, underscores, starting with a letter.
	identifierRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	// uuidRegex matches a UUIDv4 or UUIDv7 string.
	uuidRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	// emailStripRegex removes characters with injection potential before storage.
	emailStripRegex = regexp.MustCompile(`[<>"'&]`)

	// ErrInvalidJSON is returned when the request body cannot be decoded.
	ErrInvalidJSON = apperr.ValidationError("Invalid JSON payload")
)

// MaxEmailLength is the longest accepted email address, per RFC 5321.
const MaxEmailLength = 254

// Validator collects field-level validation errors via a fluent, chainable API.
//
// # Concurrency
//
// Validator is not safe for concurrent use. A new instance must be created
// for every request/operation.
type Validator struct {
	errs []apperr.FieldError
}

// Required fails if the trimmed value is empty.
func (v *Validator) Required(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		v.add(field, "This field is required")
	}
	return v
}

// MaxLen fails if the Unicode character count exceeds max.
func (v *Validator) MaxLen(field, value string, max int) *Validator {
	if utf8.RuneCountInString(value) > max {
		v.add(field, fmt.Sprintf("Maximum %d characters", max))
	}
	return v
}

// MinLen fails if the Unicode character count is below min.
func (v *Validator) MinLen(field, value string, min int) *Validator {
	if utf8.RuneCountInString(value) < min {
		v.add(field, fmt.Sprintf("Minimum %d characters", min))
	}
	return v
}

// Range fails if the value is outside the [min, max] range (inclusive).
func (v *Validator) Range(field string, value, min, max int) *Validator {
	if value < min || value > max {
		v.add(field, fmt.Sprintf("Must be between %d and %d", min, max))
	}
	return v
}

// Email fails if the value is not a valid RFC 5322 email address.
func (v *Validator) Email(field, value string) *Validator {
	if _, err := mail.ParseAddress(value); err != nil {
		v.add(field, "Must be a valid email address")
	}
	return v
}

// Identifier fails if the value is not a valid role or permission identifier.
//
// # Format
//
// Identifiers must consist only of lowercase letters, digits, and underscores,
// and must start with a letter (e.g. "senior_editor", "docs").
func (v *Validator) Identifier(field, value string) *Validator {
	if !identifierRegex.MatchString(value) {
		v.add(field, "Must be a valid identifier (lowercase letters, digits, underscores)")
	}
	return v
}

// UUID fails if the value is not a valid UUID string (case-insensitive).
func (v *Validator) UUID(field, value string) *Validator {
	lower := strings.ToLower(value)
	if !uuidRegex.MatchString(lower) {
		v.add(field, "Must be a valid UUID")
	}
	return v
}

// OneOf fails if the value is not in the allowed set of strings.
func (v *Validator) OneOf(field, value string, allowed ...string) *Validator {
	for _, a := range allowed {
		if value == a {
			return v
		}
	}
	v.add(field, fmt.Sprintf("Must be one of: %s", strings.Join(allowed, ", ")))
	return v
}

// Password enforces the credential policy for newly chosen passwords:
// 8 to 128 characters with at least one letter and one digit.
//
// Login paths must NOT use this rule; they accept whatever the stored hash
// was derived from and only bound the length.
func (v *Validator) Password(field, value string) *Validator {
	length := utf8.RuneCountInString(value)
	if length < 8 || length > 128 {
		v.add(field, "Must be between 8 and 128 characters")
		return v
	}

	var hasLetter, hasDigit bool
	for _, r := range value {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		v.add(field, "Must contain at least one letter and one digit")
	}
	return v
}

// Custom adds a failure with a custom message if the condition is true.
//
// # Example
//
//	v.Custom ("depth", depth < 1 || depth > 10, "Must be between 1 and 10")
func (v *Validator) Custom(field string, failed bool, message string) *Validator {
	if failed {
		v.add(field, message)
	}
	return v
}

// Err returns a [apperr.AppError] (INVALID_INPUT) if any rules failed,
// or nil if all rules passed.
//
// This is the only output method — call it at the end of the chain.
func (v *Validator) Err() error {
	if len(v.errs) == 0 {
		return nil
	}
	return apperr.ValidationError("Validation failed", v.errs...)
}

// HasErrors reports whether any validation rule has failed so far.
func (v *Validator) HasErrors() bool {
	return len(v.errs) > 0
}

// add appends a [apperr.FieldError] to the internal slice.
func (v *Validator) add(field, message string) {
	v.errs = append(v.errs, apperr.FieldError{Field: field, Message: message})
}

// RequiredError is a shortcut to create a single-field validation error.
func RequiredError(field, message string) *apperr.AppError {
	return apperr.ValidationError("Validation failed", apperr.FieldError{
		Field:   field,
		Message: message,
	})
}

// NormalizeEmail canonicalizes an address before lookup or storage: trimmed,
// lowercased, stripped of injection-prone characters, and truncated to
// [MaxEmailLength]. Normalization never fails; validation decides acceptance.
func NormalizeEmail(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	normalized = emailStripRegex.ReplaceAllString(normalized, "")
	if utf8.RuneCountInString(normalized) > MaxEmailLength {
		runes := []rune(normalized)
		normalized = string(runes[:MaxEmailLength])
	}
	return normalized
}
