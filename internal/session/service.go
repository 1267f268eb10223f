// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package session

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/averden/gatehouse/internal/audit"
	"github.com/averden/gatehouse/internal/platform/apperr"
	"github.com/averden/gatehouse/internal/platform/clock"
	"github.com/averden/gatehouse/internal/platform/constants"
	"github.com/averden/gatehouse/internal/platform/metrics"
	"github.com/averden/gatehouse/pkg/uuid"
)

const (
	// fastRetries is how often a best-effort cache write is attempted before
	// the service gives up and leans on the store of record.
	fastRetries = 3
	fastBackoff = 25 * time.Millisecond

	// touchInterval throttles durable activity stamps. Sliding a session on
	// every request would turn each read into a PostgreSQL write.
	touchInterval = 1 * time.Minute
)

// CreateOptions describes the session being opened.
type CreateOptions struct {
	Protocol  Protocol
	Method    AuthMethod
	IP        string
	UserAgent string
	Metadata  map[string]string
}

// Service owns the session lifecycle across both backends.
type Service struct {
	fast     FastStore
	durable  DurableStore
	lifetime time.Duration
	auditor  audit.Recorder
	clock    clock.Clock
	log      *slog.Logger
}

/*
NewService creates the session service.

Parameters:
  - fast: low-latency cache, best-effort
  - durable: store of record, mandatory
  - lifetime: sliding inactivity window
  - auditor: audit sink, best-effort
  - clk: time source
  - log: structured logger

Returns:
  - *Service: ready-to-use service
*/
func NewService(fast FastStore, durable DurableStore, lifetime time.Duration,
	auditor audit.Recorder, clk clock.Clock, log *slog.Logger) *Service {

	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		fast:     fast,
		durable:  durable,
		lifetime: lifetime,
		auditor:  auditor,
		clock:    clk,
		log:      log,
	}
}

// # Lifecycle

/*
Create opens a new session for the user.

Description: The durable insert must succeed; the cache write is retried a
few times and then abandoned, because the next validation will repopulate it
from the store of record.

Parameters:
  - ctx: context.Context
  - userID: principal
  - opts: protocol, method, and request attribution

Returns:
  - *Record: created session
  - error: validation failure or durable-store failure
*/
func (service *Service) Create(ctx context.Context, userID string, opts CreateOptions) (*Record, error) {

	// Validate input
	if userID == "" {
		return nil, apperr.ValidationError("User identifier is required")
	}
	if opts.Protocol == "" {
		opts.Protocol = ProtocolHTTP
	}
	if opts.Method == "" {
		opts.Method = MethodJWT
	}

	now := service.clock.Now().UTC()
	rec := &Record{
		ID:             uuid.New(),
		UserID:         userID,
		Status:         StatusActive,
		Protocol:       opts.Protocol,
		Method:         opts.Method,
		IP:             opts.IP,
		UserAgent:      opts.UserAgent,
		Metadata:       opts.Metadata,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(service.lifetime),
	}

	if err := service.durable.Insert(ctx, rec); err != nil {
		metrics.SessionOps.WithLabelValues("create", "error").Inc()
		return nil, err
	}

	service.cachePut(ctx, rec)

	metrics.SessionOps.WithLabelValues("create", "success").Inc()
	service.log.Info("session_created",
		"session_id", rec.ID,
		"user_id", userID,
		"protocol", rec.Protocol,
		"auth_method", rec.Method,
	)
	return rec, nil
}

/*
Validate checks a session and slides its expiry forward.

Description: The cache answers first; any cache failure falls back to the
store of record. Expiry allows the configured clock skew. A valid session has
its deadline pushed to now+lifetime; the durable stamp is throttled so hot
sessions do not hammer PostgreSQL.

Parameters:
  - ctx: context.Context
  - id: session identifier

Returns:
  - *Record: the live session, stamps already slid
  - error: apperr.NotFound for unknown sessions, apperr.Unauthenticated for
    expired ones, apperr.Revoked for revoked ones, apperr.Transient when the
    store of record is unreachable
*/
func (service *Service) Validate(ctx context.Context, id string) (*Record, error) {

	if id == "" {
		return nil, apperr.ValidationError("Session identifier is required")
	}

	now := service.clock.Now().UTC()

	rec, fromCache, err := service.load(ctx, id)
	if err != nil {
		metrics.SessionOps.WithLabelValues("validate", "error").Inc()
		return nil, err
	}

	switch {
	case rec.Status == StatusRevoked || rec.RevokedAt != nil:
		metrics.SessionOps.WithLabelValues("validate", "revoked").Inc()
		return nil, apperr.Revoked("Session has been revoked")
	case rec.Status == StatusExpired || rec.ExpiredAt(now, constants.ClockSkewLeeway):
		metrics.SessionOps.WithLabelValues("validate", "expired").Inc()
		return nil, apperr.Unauthenticated("Session has expired")
	}

	// Sliding renewal
	previous := rec.LastActivityAt
	rec.LastActivityAt = now
	rec.ExpiresAt = now.Add(service.lifetime)

	if now.Sub(previous) >= touchInterval {
		if err := service.durable.Touch(ctx, id, rec.LastActivityAt, rec.ExpiresAt); err != nil {
			// A touch that lost to a concurrent revocation is not a valid
			// session anymore.
			if apperr.IsNotFound(err) {
				metrics.SessionOps.WithLabelValues("validate", "revoked").Inc()
				return nil, apperr.Revoked("Session has been revoked")
			}
			service.log.Warn("session_touch_failed", "session_id", id, "error", err)
		}
	}

	if fromCache {
		if err := service.fast.Touch(ctx, id, rec.LastActivityAt, rec.ExpiresAt, service.lifetime); err != nil && !apperr.IsNotFound(err) {
			service.log.Warn("session_cache_touch_failed", "session_id", id, "error", err)
		}
	} else {
		service.cachePut(ctx, rec)
	}

	metrics.SessionOps.WithLabelValues("validate", "success").Inc()
	return rec, nil
}

// load reads the session, cache first, store of record on miss or outage.
func (service *Service) load(ctx context.Context, id string) (*Record, bool, error) {

	rec, err := service.fast.Get(ctx, id)
	if err == nil {
		metrics.CacheRequests.WithLabelValues("session", "hit").Inc()
		return rec, true, nil
	}
	if !apperr.IsNotFound(err) {
		service.log.Warn("session_cache_read_failed", "session_id", id, "error", err)
	}
	metrics.CacheRequests.WithLabelValues("session", "miss").Inc()
	metrics.SessionFallbacks.Inc()

	rec, err = service.durable.Find(ctx, id)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, false, err
		}
		return nil, false, apperr.Transient(err)
	}
	return rec, false, nil
}

/*
UserSessions lists the user's active sessions from the store of record.

Returns:
  - []*Record: newest first
  - error: validation or storage failure
*/
func (service *Service) UserSessions(ctx context.Context, userID string) ([]*Record, error) {

	if userID == "" {
		return nil, apperr.ValidationError("User identifier is required")
	}

	records, err := service.durable.ListByUser(ctx, userID, true)
	if err != nil {
		return nil, apperr.Transient(err)
	}

	// Rows the reaper has not caught up with yet are filtered here
	now := service.clock.Now().UTC()
	live := records[:0]
	for _, rec := range records {
		if rec.Usable(now, constants.ClockSkewLeeway) {
			live = append(live, rec)
		}
	}
	return live, nil
}

/*
Delete revokes one session.

Description: The durable transition is mandatory; the cache delete is
best-effort. Deleting an unknown or already-terminated session returns
not-found so callers can distinguish a stale client from an outage.

Parameters:
  - ctx: context.Context
  - id: session identifier
  - actorID: who requested the termination

Returns:
  - error: apperr.NotFound, or durable-store failure
*/
func (service *Service) Delete(ctx context.Context, id, actorID string) error {

	if id == "" {
		return apperr.ValidationError("Session identifier is required")
	}

	now := service.clock.Now().UTC()

	rec, err := service.durable.Find(ctx, id)
	if err != nil {
		if apperr.IsNotFound(err) {
			metrics.SessionOps.WithLabelValues("delete", "not_found").Inc()
			return err
		}
		metrics.SessionOps.WithLabelValues("delete", "error").Inc()
		return apperr.Transient(err)
	}

	if err := service.durable.MarkRevoked(ctx, id, now); err != nil {
		if apperr.IsNotFound(err) {
			metrics.SessionOps.WithLabelValues("delete", "not_found").Inc()
			return err
		}
		metrics.SessionOps.WithLabelValues("delete", "error").Inc()
		return apperr.Transient(err)
	}

	if err := service.fast.Delete(ctx, id, rec.UserID); err != nil {
		service.log.Warn("session_cache_delete_failed", "session_id", id, "error", err)
	}

	metrics.SessionOps.WithLabelValues("delete", "success").Inc()
	service.record(ctx, audit.New(audit.ActionSessionRevoked, now).
		WithUser(rec.UserID).
		WithActor(actorID).
		WithDetail("session_id", id))
	return nil
}

/*
DeleteUserSessions revokes every active session of the user.

Parameters:
  - ctx: context.Context
  - userID: string
  - actorID: who requested the termination

Returns:
  - int: sessions revoked
  - error: validation or durable-store failure
*/
func (service *Service) DeleteUserSessions(ctx context.Context, userID, actorID string) (int, error) {

	if userID == "" {
		return 0, apperr.ValidationError("User identifier is required")
	}

	now := service.clock.Now().UTC()

	revoked, err := service.durable.MarkRevokedByUser(ctx, userID, now)
	if err != nil {
		metrics.SessionOps.WithLabelValues("delete_user", "error").Inc()
		return 0, apperr.Transient(err)
	}

	if _, err := service.fast.DeleteUser(ctx, userID); err != nil {
		service.log.Warn("session_cache_delete_user_failed", "user_id", userID, "error", err)
	}

	metrics.SessionOps.WithLabelValues("delete_user", "success").Inc()
	if revoked > 0 {
		service.record(ctx, audit.New(audit.ActionSessionRevoked, now).
			WithUser(userID).
			WithActor(actorID).
			WithDetail("count", strconv.Itoa(revoked)))
	}
	return revoked, nil
}

/*
ReapExpired transitions stale active rows to expired.

Description: Redis entries expire on their own; only the store of record
needs sweeping. The cutoff honors the clock-skew leeway so a row is never
reaped while a drifting node could still accept it.

Returns:
  - int: rows transitioned
  - error: storage failure
*/
func (service *Service) ReapExpired(ctx context.Context, batch int) (int, error) {

	if batch <= 0 {
		batch = 1000
	}

	cutoff := service.clock.Now().UTC().Add(-constants.ClockSkewLeeway)
	reaped, err := service.durable.ReapExpired(ctx, cutoff, batch)
	if err != nil {
		return 0, apperr.Transient(err)
	}
	return reaped, nil
}

// Ping reports backend connectivity for readiness checks. The store of
// record decides readiness; the cache only logs.
func (service *Service) Ping(ctx context.Context) error {
	if err := service.fast.Ping(ctx); err != nil {
		service.log.Warn("session_cache_ping_failed", "error", err)
	}
	return service.durable.Ping(ctx)
}

// cachePut writes through to the cache with bounded retries.
func (service *Service) cachePut(ctx context.Context, rec *Record) {
	var err error
	for attempt := 0; attempt < fastRetries; attempt++ {
		if err = service.fast.Put(ctx, rec, service.lifetime); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(fastBackoff << attempt):
		}
	}
	service.log.Warn("session_cache_put_failed",
		"session_id", rec.ID,
		"attempts", fastRetries,
		"error", err,
	)
}

// record persists an audit event, logging on failure.
func (service *Service) record(ctx context.Context, event audit.Event) {
	if service.auditor == nil {
		return
	}
	if err := service.auditor.Record(ctx, event); err != nil {
		service.log.Warn("audit_record_failed", "action", event.Action, "error", err)
	}
}
