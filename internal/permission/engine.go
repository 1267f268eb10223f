// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package permission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/averden/gatehouse/internal/audit"
	"github.com/averden/gatehouse/internal/identity"
	"github.com/averden/gatehouse/internal/platform/apperr"
	"github.com/averden/gatehouse/internal/platform/clock"
	"github.com/averden/gatehouse/internal/platform/constants"
	"github.com/averden/gatehouse/internal/platform/metrics"
	"github.com/averden/gatehouse/internal/platform/validate"
)

const (
	// defaultMaxDepth bounds role-hierarchy expansion.
	defaultMaxDepth = 10

	// defaultBatchLimit bounds concurrent evaluations in CheckBatch.
	defaultBatchLimit = 100

	// conditionCacheSize bounds the memoized condition-result cache.
	conditionCacheSize = 4096
)

// Request names one (resource, action) pair to check.
type Request struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// Key renders the request in its canonical "resource:action" form.
func (r Request) Key() string { return r.Resource + ":" + r.Action }

// Decision is the outcome of one permission check.
type Decision struct {
	// Allowed is the final verdict.
	Allowed bool `json:"allowed"`
	// Matched lists the grants that covered the (resource, action) pair.
	// When Allowed, at least one of them passed its conditions.
	Matched []Permission `json:"matched,omitempty"`
	// Cached reports whether the underlying permission set came from cache.
	Cached bool `json:"cached"`
	// Path describes how the decision was reached: granted,
	// conditions_failed, no_match, no_active_role.
	Path string `json:"path"`
}

// Expansion is a resolved role hierarchy: the visited roles most-specific
// first and their merged permission set.
type Expansion struct {
	Roles       []string
	Permissions []Permission
}

// Engine evaluates role-based permissions with hierarchical inheritance and
// attribute conditions. It is safe for concurrent use and stateless between
// calls apart from its caches.
type Engine struct {
	roles      RoleStore
	users      identity.Store
	cache      *Cache
	conditions *expirable.LRU[string, bool]
	auditor    audit.Recorder
	sessions   SessionInvalidator
	maxDepth   int
	batchLimit int
	clock      clock.Clock
	log        *slog.Logger
}

// EngineOption customizes an [Engine].
type EngineOption func(*Engine)

// WithMaxDepth overrides the role-expansion depth bound.
func WithMaxDepth(depth int) EngineOption {
	return func(e *Engine) {
		if depth > 0 {
			e.maxDepth = depth
		}
	}
}

// WithBatchLimit overrides the CheckBatch concurrency bound.
func WithBatchLimit(limit int) EngineOption {
	return func(e *Engine) {
		if limit > 0 {
			e.batchLimit = limit
		}
	}
}

// WithSessionCascade makes role revocations tear down the affected user's
// sessions.
func WithSessionCascade(sessions SessionInvalidator) EngineOption {
	return func(e *Engine) { e.sessions = sessions }
}

// NewEngine creates the permission engine.
func NewEngine(roles RoleStore, users identity.Store, cache *Cache, auditor audit.Recorder, clk clock.Clock, log *slog.Logger, opts ...EngineOption) *Engine {
	if clk == nil {
		clk = clock.System()
	}
	engine := &Engine{
		roles:      roles,
		users:      users,
		cache:      cache,
		conditions: expirable.NewLRU[string, bool](conditionCacheSize, nil, constants.ConditionCacheTTL),
		auditor:    auditor,
		maxDepth:   defaultMaxDepth,
		batchLimit: defaultBatchLimit,
		clock:      clk,
		log:        log,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// # Role Expansion

/*
Expand computes the transitive closure of a role over its parents.

Description: Depth-first, most-specific role first, each node visited at
most once. Cycles terminate at the revisit point with a warning; expansion
deeper than the configured bound is cut off. Inactive roles contribute
nothing. Results are cached per role.

Parameters:
  - ctx: context.Context
  - roleID: string

Returns:
  - *Expansion: visited roles and merged permissions
  - error: apperr.NotFound when the root role does not exist
*/
func (engine *Engine) Expand(ctx context.Context, roleID string) (*Expansion, error) {

	if roleID == "" {
		return nil, apperr.ValidationError("Role identifier is required")
	}

	if engine.cache != nil {
		if entry, ok := engine.cache.GetRole(ctx, roleID); ok {
			return &Expansion{Roles: entry.Roles, Permissions: entry.Permissions}, nil
		}
	}

	expansion := &Expansion{}
	visited := make(map[string]bool)
	if err := engine.expand(ctx, roleID, 0, visited, expansion); err != nil {
		return nil, err
	}
	if len(expansion.Roles) == 0 {
		return nil, apperr.NotFound("Role")
	}

	if engine.cache != nil {
		engine.cache.PutRole(ctx, roleID, expansion.Permissions, expansion.Roles)
	}
	return expansion, nil
}

func (engine *Engine) expand(ctx context.Context, roleID string, depth int, visited map[string]bool, out *Expansion) error {

	if visited[roleID] {
		engine.log.Warn("role_hierarchy_cycle_detected", "role_id", roleID)
		return nil
	}
	if depth >= engine.maxDepth {
		engine.log.Warn("role_hierarchy_depth_exceeded", "role_id", roleID, "depth", depth)
		return nil
	}
	visited[roleID] = true

	role, err := engine.roles.FindByID(ctx, roleID)
	if err != nil {
		if apperr.IsNotFound(err) {
			// Dangling parent references expand to nothing; the root role's
			// absence is reported by the caller.
			if depth > 0 {
				engine.log.Warn("role_parent_missing", "role_id", roleID)
				return nil
			}
			return err
		}
		return fmt.Errorf("permission_expand_failed: %w", err)
	}
	if !role.IsActive {
		return nil
	}

	out.Roles = append(out.Roles, role.ID)
	out.Permissions = merge(out.Permissions, role.Permissions)

	for _, parent := range role.Parents {
		if err := engine.expand(ctx, parent, depth+1, visited, out); err != nil {
			return err
		}
	}
	return nil
}

// # User Resolution

/*
ResolveUser returns the user's effective permission set and role closure.

Description: Consults the user cache first; a miss loads the user, checks
the role grant is active, expands the hierarchy, and caches the result.
Users without an active role resolve to an empty set, not an error.

Parameters:
  - ctx: context.Context
  - userID: string

Returns:
  - *Expansion: effective roles and permissions (empty without active role)
  - bool: whether the set came from cache
  - error: apperr.NotFound when the user does not exist
*/
func (engine *Engine) ResolveUser(ctx context.Context, userID string) (*Expansion, bool, error) {

	if userID == "" {
		return nil, false, apperr.ValidationError("User identifier is required")
	}

	if engine.cache != nil {
		if entry, ok := engine.cache.GetUser(ctx, userID); ok {
			return &Expansion{Roles: entry.Roles, Permissions: entry.Permissions}, true, nil
		}
	}

	user, err := engine.users.FindByID(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if !user.HasActiveRole(engine.clock.Now()) {
		// Deliberately uncached: a role grant can become active (assignment,
		// un-expiry) without an invalidation hook firing.
		return &Expansion{}, false, nil
	}

	expansion, err := engine.Expand(ctx, user.RoleID)
	if err != nil {
		if apperr.IsNotFound(err) {
			engine.log.Warn("user_role_missing", "user_id", userID, "role_id", user.RoleID)
			return &Expansion{}, false, nil
		}
		return nil, false, err
	}

	if engine.cache != nil {
		engine.cache.PutUser(ctx, userID, expansion.Permissions, expansion.Roles)
	}
	return expansion, false, nil
}

// GetUserPermissions returns the user's effective permissions and roles.
func (engine *Engine) GetUserPermissions(ctx context.Context, userID string) ([]Permission, []string, error) {
	expansion, _, err := engine.ResolveUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return expansion.Permissions, expansion.Roles, nil
}

// # Checks

/*
Check evaluates one (resource, action) request for a user.

Description: Grants combine with OR; the conditions of one grant combine
with AND. Condition results are memoized briefly unless the caller marks the
context volatile.

Parameters:
  - ctx: context.Context
  - userID: string
  - req: Request
  - evalCtx: request-supplied attribute map for conditions
  - volatile: bypass the condition-result cache

Returns:
  - Decision: verdict with evaluation metadata
  - error: apperr.NotFound when the user does not exist, or store errors
*/
func (engine *Engine) Check(ctx context.Context, userID string, req Request, evalCtx map[string]any, volatile bool) (Decision, error) {

	start := time.Now()

	if err := (&validate.Validator{}).
		Required("resource", req.Resource).
		Required("action", req.Action).
		Err(); err != nil {
		return Decision{}, err
	}

	expansion, cached, err := engine.ResolveUser(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	decision := engine.evaluate(expansion, req, evalCtx, volatile)
	decision.Cached = cached

	outcome := "denied"
	if decision.Allowed {
		outcome = "allowed"
	}
	metrics.PermissionChecks.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return decision, nil
}

// evaluate runs the pure matching and condition logic over a resolved set.
func (engine *Engine) evaluate(expansion *Expansion, req Request, evalCtx map[string]any, volatile bool) Decision {

	if len(expansion.Roles) == 0 {
		return Decision{Path: "no_active_role"}
	}

	var matched []Permission
	for _, perm := range expansion.Permissions {
		if !perm.Matches(req.Resource, req.Action) {
			continue
		}
		matched = append(matched, perm)

		if engine.conditionsPass(perm, evalCtx, volatile) {
			return Decision{Allowed: true, Matched: matched, Path: "granted"}
		}
	}

	if len(matched) > 0 {
		return Decision{Matched: matched, Path: "conditions_failed"}
	}
	return Decision{Path: "no_match"}
}

// conditionsPass evaluates all conditions of one grant (AND semantics).
func (engine *Engine) conditionsPass(perm Permission, evalCtx map[string]any, volatile bool) bool {

	if len(perm.Conditions) == 0 {
		return true
	}

	var ctxPrint string
	if !volatile {
		ctxPrint = ContextFingerprint(evalCtx)
	}

	for _, cond := range perm.Conditions {
		if volatile {
			if !cond.Evaluate(evalCtx) {
				return false
			}
			continue
		}

		key := cond.Fingerprint() + ":" + ctxPrint
		if result, ok := engine.conditions.Get(key); ok {
			metrics.CacheRequests.WithLabelValues("condition", "hit").Inc()
			if !result {
				return false
			}
			continue
		}
		metrics.CacheRequests.WithLabelValues("condition", "miss").Inc()

		result := cond.Evaluate(evalCtx)
		engine.conditions.Add(key, result)
		if !result {
			return false
		}
	}
	return true
}

/*
CheckBatch evaluates many requests for one user with bounded concurrency.

Description: The permission set is resolved once; evaluations then run in
parallel up to the batch limit. One failing resolution fails the whole
batch, individual evaluations cannot fail.

Parameters:
  - ctx: context.Context
  - userID: string
  - reqs: []Request
  - evalCtx: request-supplied attribute map
  - volatile: bypass the condition-result cache

Returns:
  - map[string]Decision: keyed by "resource:action"
  - error: resolution failure
*/
func (engine *Engine) CheckBatch(ctx context.Context, userID string, reqs []Request, evalCtx map[string]any, volatile bool) (map[string]Decision, error) {

	if len(reqs) == 0 {
		return map[string]Decision{}, nil
	}
	if len(reqs) > engine.batchLimit {
		return nil, apperr.ValidationError(fmt.Sprintf("Batch size exceeds the limit of %d", engine.batchLimit))
	}

	expansion, cached, err := engine.ResolveUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	decisions := make([]Decision, len(reqs))
	group, _ := errgroup.WithContext(ctx)
	group.SetLimit(engine.batchLimit)

	for i, req := range reqs {
		group.Go(func() error {
			decision := engine.evaluate(expansion, req, evalCtx, volatile)
			decision.Cached = cached
			decisions[i] = decision
			return nil
		})
	}
	_ = group.Wait()

	out := make(map[string]Decision, len(reqs))
	for i, req := range reqs {
		out[req.Key()] = decisions[i]
	}
	return out, nil
}

// # Role Mutation

/*
CreateRole persists a new role after verifying the parent graph stays
acyclic.

Parameters:
  - ctx: context.Context
  - role: *Role

Returns:
  - error: validation, cycle, or store failure
*/
func (engine *Engine) CreateRole(ctx context.Context, role *Role) error {
	if err := (&validate.Validator{}).
		Required("id", role.ID).
		Identifier("id", role.ID).
		Required("name", role.Name).
		Err(); err != nil {
		return err
	}

	if err := engine.verifyAcyclic(ctx, role); err != nil {
		return err
	}
	if err := engine.roles.Create(ctx, role); err != nil {
		return err
	}

	if engine.cache != nil {
		engine.cache.InvalidateAllRoles(ctx)
	}
	return nil
}

/*
UpdateRole replaces a role definition after re-verifying acyclicity, then
invalidates every cached expansion.

Parameters:
  - ctx: context.Context
  - role: *Role

Returns:
  - error: validation, cycle, or store failure
*/
func (engine *Engine) UpdateRole(ctx context.Context, role *Role) error {
	if err := engine.verifyAcyclic(ctx, role); err != nil {
		return err
	}
	if err := engine.roles.Update(ctx, role); err != nil {
		return err
	}

	// Hierarchy mutations can affect any expansion that traverses this role;
	// attribution is not worth the bookkeeping, so everything goes.
	if engine.cache != nil {
		engine.cache.InvalidateAllRoles(ctx)
		engine.cache.InvalidateRole(ctx, role.ID)
	}
	return nil
}

// verifyAcyclic walks the parent graph from the candidate role and rejects
// any path that returns to it.
func (engine *Engine) verifyAcyclic(ctx context.Context, candidate *Role) error {

	stack := append([]string(nil), candidate.Parents...)
	seen := map[string]bool{}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if id == candidate.ID {
			return apperr.ValidationError("Role hierarchy must be acyclic")
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		role, err := engine.roles.FindByID(ctx, id)
		if err != nil {
			if apperr.IsNotFound(err) {
				continue
			}
			return fmt.Errorf("permission_cycle_check_failed: %w", err)
		}
		stack = append(stack, role.Parents...)
	}
	return nil
}

/*
AssignRole grants a role to a user, invalidates their cached permission set,
and records the change.

Parameters:
  - ctx: context.Context
  - userID: string
  - roleID: string
  - actorID: who performed the grant
  - expiresAt: optional grant expiry

Returns:
  - error: validation or store failure
*/
func (engine *Engine) AssignRole(ctx context.Context, userID, roleID, actorID string, expiresAt *time.Time) error {

	if err := (&validate.Validator{}).
		Required("user_id", userID).
		Required("role_id", roleID).
		Err(); err != nil {
		return err
	}

	// The grant must reference an existing role
	if _, err := engine.roles.FindByID(ctx, roleID); err != nil {
		return err
	}

	now := engine.clock.Now()
	if err := engine.users.AssignRole(ctx, userID, roleID, now, expiresAt); err != nil {
		return err
	}

	if engine.cache != nil {
		engine.cache.InvalidateUser(ctx, userID)
	}
	engine.record(ctx, audit.New(audit.ActionRoleAssigned, now).
		WithUser(userID).
		WithActor(actorID).
		WithDetail("role_id", roleID))

	engine.log.Info("role_assigned", "user_id", userID, "role_id", roleID, "actor_id", actorID)
	return nil
}

// SessionInvalidator tears down a user's sessions after a role revocation.
// Wired to the session service when configured; nil disables the cascade.
type SessionInvalidator interface {
	DeleteUserSessions(ctx context.Context, userID string) (int, error)
}

/*
RevokeRole stamps the user's role grant as revoked, invalidates their cached
permission set, optionally cascades to their sessions, and records the
change.

Parameters:
  - ctx: context.Context
  - userID: string
  - roleID: the role being revoked; must match the user's current grant
  - actorID: who performed the revocation

Returns:
  - error: validation, mismatch, or store failure
*/
func (engine *Engine) RevokeRole(ctx context.Context, userID, roleID, actorID string) error {

	if err := (&validate.Validator{}).
		Required("user_id", userID).
		Required("role_id", roleID).
		Err(); err != nil {
		return err
	}

	user, err := engine.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.RoleID != roleID {
		return apperr.Conflict("User does not hold the given role")
	}

	now := engine.clock.Now()
	if err := engine.users.RevokeRole(ctx, userID, now); err != nil {
		return err
	}

	if engine.cache != nil {
		engine.cache.InvalidateUser(ctx, userID)
	}
	if engine.sessions != nil {
		if _, err := engine.sessions.DeleteUserSessions(ctx, userID); err != nil {
			engine.log.Warn("role_revocation_session_cascade_failed", "user_id", userID, "error", err)
		}
	}

	engine.record(ctx, audit.New(audit.ActionRoleRevoked, now).
		WithUser(userID).
		WithActor(actorID).
		WithDetail("role_id", roleID))

	engine.log.Info("role_revoked", "user_id", userID, "role_id", roleID, "actor_id", actorID)
	return nil
}

// record persists an audit event, logging on failure. Audit sink outages
// never fail the mutation itself.
func (engine *Engine) record(ctx context.Context, event audit.Event) {
	if engine.auditor == nil {
		return
	}
	if err := engine.auditor.Record(ctx, event); err != nil {
		engine.log.Warn("audit_record_failed", "action", event.Action, "error", err)
	}
}
