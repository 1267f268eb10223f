// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

/*
Package access defines the unified access context of a request.

The context is the one structure downstream code asks "who is calling and
what may they do". It is built once per request from whichever credential the
caller presented (bearer token, API key, cookie), carries no raw credential
material, and serializes cleanly for handoff to other services. Assembly
lives in the authctx package; this package is a leaf so that transport
helpers and domain handlers can share the type without importing each other.

Authorization answers come in two strengths. The embedded permission
snapshot, when present, answers instantly but reflects the subject at token
issuance. A live checker, when wired, re-asks the permission engine and is
authoritative; its verdicts are memoized per request so repeated middleware
checks cost one engine call.
*/
package access

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/averden/gatehouse/internal/session"
)

// Checker is the live authorization oracle, satisfied by the permission
// engine through a small adapter.
type Checker interface {
	Check(ctx context.Context, userID, resource, action string) (bool, error)
}

// Context is the assembled access context of one request.
//
// Exported fields serialize with RFC 3339 timestamps and never include raw
// tokens, keys, or password material.
type Context struct {
	// Authenticated reports whether a valid credential was presented.
	// Anonymous contexts carry only RequestID-level attribution.
	Authenticated bool `json:"authenticated"`

	UserID    string `json:"user_id,omitempty"`
	Email     string `json:"email,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// RoleID is the directly assigned role; Roles is its expanded closure
	// when a resolver was available at build time.
	RoleID string   `json:"role_id,omitempty"`
	Roles  []string `json:"roles,omitempty"`

	// Permissions holds "resource:action" strings, wildcards allowed. It is
	// either the token's embedded snapshot or a live engine resolution;
	// Snapshot reports which.
	Permissions []string `json:"permissions,omitempty"`

	// Snapshot is true when Permissions came from token claims rather than
	// a live engine resolution.
	Snapshot bool `json:"snapshot"`

	AuthMethod session.AuthMethod `json:"auth_method"`

	// RefreshSuggested is true when the presented access token has consumed
	// most of its lifetime and the client should rotate soon.
	RefreshSuggested bool `json:"refresh_suggested,omitempty"`

	// BuiltAt is when this context was assembled.
	BuiltAt time.Time `json:"built_at"`

	checker Checker

	mu        sync.Mutex
	decisions map[string]bool
}

// Anonymous returns the context of an unauthenticated request.
func Anonymous(at time.Time) *Context {
	return &Context{
		AuthMethod: session.MethodAnonymous,
		BuiltAt:    at,
	}
}

// WithChecker attaches the live authorization oracle. Returns the receiver
// for chaining during assembly.
func (c *Context) WithChecker(checker Checker) *Context {
	c.checker = checker
	return c
}

/*
Can reports whether the principal may perform action on resource.

Description: With a live checker attached the engine decides and the verdict
is memoized for the rest of the request. Without one, the embedded snapshot
answers using the engine's wildcard rules. Checker failures fall back to the
snapshot rather than failing the request; conditional grants that the
snapshot omits then deny, which is the safe direction.

Parameters:
  - resource: target resource, e.g. "documents"
  - action: verb, e.g. "read"

Returns:
  - bool: true when the action is allowed
*/
func (c *Context) Can(resource, action string) bool {

	if !c.Authenticated {
		return false
	}

	key := resource + ":" + action

	c.mu.Lock()
	if verdict, ok := c.decisions[key]; ok {
		c.mu.Unlock()
		return verdict
	}
	c.mu.Unlock()

	verdict, decided := false, false
	if c.checker != nil {
		allowed, err := c.checker.Check(context.Background(), c.UserID, resource, action)
		if err == nil {
			verdict, decided = allowed, true
		}
	}
	if !decided {
		verdict = MatchGrants(c.Permissions, resource, action)
	}

	c.mu.Lock()
	if c.decisions == nil {
		c.decisions = make(map[string]bool, 8)
	}
	c.decisions[key] = verdict
	c.mu.Unlock()

	return verdict
}

// HasPermission is [Can] for a canonical "resource:action" string.
// Malformed strings deny.
func (c *Context) HasPermission(perm string) bool {
	resource, action, ok := SplitGrant(perm)
	if !ok {
		return false
	}
	return c.Can(resource, action)
}

// HasRole reports whether the principal holds any of the given roles, the
// directly assigned one or anything in its expanded closure.
func (c *Context) HasRole(roles ...string) bool {
	if !c.Authenticated {
		return false
	}
	for _, want := range roles {
		if want == c.RoleID {
			return true
		}
		for _, held := range c.Roles {
			if want == held {
				return true
			}
		}
	}
	return false
}

// # Grant Matching

// Wildcard matches any resource or action in a grant slot.
const Wildcard = "*"

// MatchSlot reports whether a granted resource slot covers the requested
// one. A "*" matches anything. A trailing "*" on the granted slot is a
// prefix match: "docs/*" covers "docs/a" and "docs/a/b" but not "doc".
func MatchSlot(granted, requested string) bool {
	if granted == Wildcard || granted == requested {
		return true
	}
	if strings.HasSuffix(granted, Wildcard) {
		return strings.HasPrefix(requested, granted[:len(granted)-1])
	}
	return false
}

// SplitGrant splits a canonical "resource:action" string. The action is
// everything after the last colon, so resources may themselves contain
// colons. ok is false for strings with no separator or an empty slot.
func SplitGrant(s string) (resource, action string, ok bool) {
	idx := strings.LastIndex(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}

// MatchGrants reports whether any "resource:action" string in grants covers
// the requested pair. The resource slot follows [MatchSlot]; the action slot
// matches exactly or by bare wildcard. Malformed grants match nothing.
func MatchGrants(grants []string, resource, action string) bool {
	for _, grant := range grants {
		granted, verb, ok := SplitGrant(grant)
		if !ok {
			continue
		}
		if !MatchSlot(granted, resource) {
			continue
		}
		if verb == Wildcard || verb == action {
			return true
		}
	}
	return false
}
