// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

/*
Package permission implements role-based authorization with hierarchical
inheritance and attribute conditions.

It owns the role graph, the matching semantics for (resource, action) pairs,
and the two-tier cache of resolved permission sets. The engine is stateless
between calls; everything durable lives in the role store and the identity
store, everything volatile in the cache.

Architecture:

  - Role graph: roles reference parent roles by ID, forming a DAG. A child
    inherits every permission of its parents, transitively.
  - Engine: expands the graph, matches permissions, evaluates conditions
    against the request context, and answers single and batch checks.
  - Cache: in-process LRU in front of Redis, keyed by user and by role, with
    explicit invalidation on role mutation.

Grant semantics are OR across permissions and AND across the conditions of
one permission: any matching permission whose conditions all pass allows the
request.
*/
package permission

import (
	"time"

	"github.com/averden/gatehouse/internal/access"
)

// # Domain Entities

// Role is a named grant bundle in the authorization graph.
//
// Roles are referenced by ID everywhere; user records hold a role ID, never a
// copy of the role. Parents holds the IDs of the roles this role inherits
// from.
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Parents     []string     `json:"parents,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
	IsActive    bool         `json:"is_active"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Permission grants an action on a resource, optionally gated by conditions.
type Permission struct {
	Resource   string      `json:"resource"`
	Action     string      `json:"action"`
	Conditions []Condition `json:"conditions,omitempty"`
}

// Wildcard matches any resource or action in a grant slot.
const Wildcard = access.Wildcard

// Matches reports whether this grant covers the requested (resource, action)
// pair. Conditions are not evaluated here; see [Engine.Check].
//
// A "*" in either slot matches anything. A trailing "*" on the granted
// resource is a prefix match: "docs/*" covers "docs/a" and "docs/a/b" but not
// "doc". The slot semantics are shared with [access.MatchSlot] so that
// snapshot checks in access contexts agree with the engine.
func (p Permission) Matches(resource, action string) bool {
	if !access.MatchSlot(p.Resource, resource) {
		return false
	}
	return p.Action == Wildcard || p.Action == action
}

// String renders the grant as "resource:action", the form embedded in access
// tokens and API-key scopes.
func (p Permission) String() string {
	return p.Resource + ":" + p.Action
}

// ParseString splits a "resource:action" string back into a [Permission].
// Malformed strings become a permission that matches nothing.
func ParseString(s string) Permission {
	resource, action, ok := access.SplitGrant(s)
	if !ok {
		return Permission{}
	}
	return Permission{Resource: resource, Action: action}
}

// Strings renders a permission set as its string forms, conditions dropped.
// Conditional grants are deliberately excluded: a string form cannot carry
// the condition, and an unconditional-looking copy would widen the grant.
func Strings(perms []Permission) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		if len(p.Conditions) > 0 {
			continue
		}
		out = append(out, p.String())
	}
	return out
}

// MatchStrings reports whether any "resource:action" string in perms covers
// the requested pair, honoring the same wildcard rules as [Permission.Matches].
// This is the advisory fast path used by contexts built from embedded token
// claims.
func MatchStrings(perms []string, resource, action string) bool {
	return access.MatchGrants(perms, resource, action)
}

// merge folds the permissions of src into dst, dropping exact duplicates.
// Grants that differ only in conditions are both kept.
func merge(dst []Permission, src []Permission) []Permission {
	for _, candidate := range src {
		duplicate := false
		for _, existing := range dst {
			if existing.Resource == candidate.Resource &&
				existing.Action == candidate.Action &&
				len(existing.Conditions) == 0 && len(candidate.Conditions) == 0 {
				duplicate = true
				break
			}
		}
		if !duplicate {
			dst = append(dst, candidate)
		}
	}
	return dst
}
