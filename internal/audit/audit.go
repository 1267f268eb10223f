// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

/*
Package audit records security-relevant events for forensic replay.

Every authentication decision worth reconstructing later (logins, rotations,
revocations, role changes) becomes one immutable event row. Recording is
best-effort from the caller's point of view: an unreachable audit sink must
never fail the authentication flow itself, so callers log and continue on
error.
*/
package audit

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Action names the audited operation. Values are snake_case and stable; they
// are queried by dashboards and incident tooling.
type Action string

const (
	ActionLoginSuccess     Action = "login_success"
	ActionLoginFailed      Action = "login_failed"
	ActionUserRegistered   Action = "user_registered"
	ActionLogout           Action = "logout"
	ActionLogoutAll        Action = "logout_all"
	ActionPasswordChanged  Action = "password_changed"
	ActionTokenIssued      Action = "token_issued"
	ActionTokenRotated     Action = "token_rotated"
	ActionReuseDetected    Action = "token_reuse_detected"
	ActionTokenRevoked     Action = "token_revoked"
	ActionUserRevoked      Action = "user_tokens_revoked"
	ActionRoleAssigned     Action = "role_assigned"
	ActionRoleRevoked      Action = "role_revoked"
	ActionSessionRevoked   Action = "session_revoked"
	ActionAPIKeyCreated    Action = "api_key_created"
	ActionAPIKeyRevoked    Action = "api_key_revoked"
	ActionSecurityIncident Action = "security_incident"
)

// Event is one audit trail entry.
type Event struct {
	// ID is a time-sortable ULID assigned at creation.
	ID string `json:"id"`
	// Action names the audited operation.
	Action Action `json:"action"`
	// UserID is the subject the event concerns, empty for anonymous failures.
	UserID string `json:"user_id,omitempty"`
	// ActorID is who performed the operation when it differs from the subject
	// (admin revocations, role grants).
	ActorID string `json:"actor_id,omitempty"`
	// IP and UserAgent describe the originating request when known.
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	// Detail carries action-specific attributes (reason, jti, role_id).
	Detail map[string]string `json:"detail,omitempty"`
	// At is the event instant.
	At time.Time `json:"at"`
}

// New constructs an event with a fresh ID and the given instant.
func New(action Action, at time.Time) Event {
	return Event{
		ID:     ulid.Make().String(),
		Action: action,
		At:     at,
	}
}

// WithUser sets the subject.
func (e Event) WithUser(userID string) Event {
	e.UserID = userID
	return e
}

// WithActor sets the acting principal.
func (e Event) WithActor(actorID string) Event {
	e.ActorID = actorID
	return e
}

// WithRequest sets the originating IP and user agent.
func (e Event) WithRequest(ip, userAgent string) Event {
	e.IP = ip
	e.UserAgent = userAgent
	return e
}

// WithDetail adds one action-specific attribute.
func (e Event) WithDetail(key, value string) Event {
	if e.Detail == nil {
		e.Detail = make(map[string]string, 4)
	}
	e.Detail[key] = value
	return e
}

// Recorder persists audit events.
type Recorder interface {

	/*
		Record persists one event.

		Parameters:
		  - context: context.Context
		  - event: Event

		Returns:
		  - error: Persistence failures; callers log and continue
	*/
	Record(context context.Context, event Event) error
}
