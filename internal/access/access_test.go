// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package access

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// stubChecker answers from a fixed allow-set and counts calls.
type stubChecker struct {
	allow map[string]bool
	err   error
	calls int
}

func (s *stubChecker) Check(_ context.Context, _ string, resource, action string) (bool, error) {
	s.calls++
	if s.err != nil {
		return false, s.err
	}
	return s.allow[resource+":"+action], nil
}

func TestContext_Can_CheckerIsAuthoritativeAndMemoized(t *testing.T) {
	checker := &stubChecker{allow: map[string]bool{"documents:delete": true}}

	access := (&Context{
		Authenticated: true,
		UserID:        "u1",
		Permissions:   []string{"documents:read"},
	}).WithChecker(checker)

	// The checker overrides the snapshot in both directions
	assert.True(t, access.Can("documents", "delete"))
	assert.False(t, access.Can("documents", "read"))

	// Repeats answer from the per-request memo
	calls := checker.calls
	assert.True(t, access.Can("documents", "delete"))
	assert.False(t, access.Can("documents", "read"))
	assert.Equal(t, calls, checker.calls)
}

func TestContext_Can_FallsBackToSnapshotOnCheckerError(t *testing.T) {
	checker := &stubChecker{err: errors.New("engine down")}

	access := (&Context{
		Authenticated: true,
		UserID:        "u1",
		Permissions:   []string{"documents:*"},
	}).WithChecker(checker)

	assert.True(t, access.Can("documents", "read"))
	assert.False(t, access.Can("billing", "read"))
}

func TestContext_HasRole(t *testing.T) {
	access := &Context{
		Authenticated: true,
		RoleID:        "editor",
		Roles:         []string{"editor", "viewer"},
	}

	assert.True(t, access.HasRole("editor"))
	assert.True(t, access.HasRole("admin", "viewer"))
	assert.False(t, access.HasRole("admin"))
	assert.False(t, (&Context{}).HasRole("editor"))
}

func TestContext_HasPermission(t *testing.T) {
	access := &Context{
		Authenticated: true,
		Permissions:   []string{"documents:read", "reports:*"},
	}

	assert.True(t, access.HasPermission("documents:read"))
	assert.True(t, access.HasPermission("reports:export"))
	assert.False(t, access.HasPermission("documents:write"))
	assert.False(t, access.HasPermission("malformed"))
}

func TestSplitGrant(t *testing.T) {
	resource, action, ok := SplitGrant("documents:read")
	assert.True(t, ok)
	assert.Equal(t, "documents", resource)
	assert.Equal(t, "read", action)

	// The action is everything after the last colon
	resource, action, ok = SplitGrant("a:b:c")
	assert.True(t, ok)
	assert.Equal(t, "a:b", resource)
	assert.Equal(t, "c", action)

	for _, malformed := range []string{"", "documents", ":read", "documents:"} {
		_, _, ok := SplitGrant(malformed)
		assert.False(t, ok, malformed)
	}
}

func TestMatchGrants(t *testing.T) {
	grants := []string{"documents:read", "admin/*:manage", "reports:*"}

	assert.True(t, MatchGrants(grants, "documents", "read"))
	assert.True(t, MatchGrants(grants, "admin/roles", "manage"))
	assert.True(t, MatchGrants(grants, "reports", "export"))
	assert.False(t, MatchGrants(grants, "documents", "write"))
	assert.False(t, MatchGrants([]string{"malformed"}, "documents", "read"))
}
