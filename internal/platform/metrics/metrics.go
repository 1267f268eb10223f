// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

// Package metrics registers the Prometheus instruments shared across the
// authentication pipeline.
//
// Instruments live in the default registry and are exposed on /metrics by the
// API server. Label cardinality is kept deliberately low: outcomes and cache
// tiers, never user identifiers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gatehouse"

// # Authentication Flows

var (
	// AuthAttempts counts orchestrated flows by name and outcome.
	// flow: login, register, logout, refresh. outcome: success, denied, error.
	AuthAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "attempts_total",
		Help:      "Authentication flow attempts by outcome.",
	}, []string{"flow", "outcome"})

	// TokensIssued counts signed tokens by type (access, refresh).
	TokensIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "token",
		Name:      "issued_total",
		Help:      "Tokens issued by type.",
	}, []string{"type"})

	// TokenVerifications counts access-token verifications by outcome
	// (valid, expired, revoked, invalid).
	TokenVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "token",
		Name:      "verifications_total",
		Help:      "Access token verifications by outcome.",
	}, []string{"outcome"})

	// TokenRotations counts refresh rotations by outcome
	// (rotated, replay_grace, reuse_detected, rate_limited, denied, conflict).
	TokenRotations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "token",
		Name:      "rotations_total",
		Help:      "Refresh token rotations by outcome.",
	}, []string{"outcome"})

	// ReuseIncidents counts confirmed refresh-token replay attacks.
	ReuseIncidents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "token",
		Name:      "reuse_incidents_total",
		Help:      "Refresh token reuse incidents that invalidated a family.",
	})
)

// # Revocation Index

var (
	// RevocationChecks counts revocation lookups by result (revoked, clean)
	// and the tier that answered (local, store).
	RevocationChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "revocation",
		Name:      "checks_total",
		Help:      "Revocation lookups by result and answering tier.",
	}, []string{"result", "tier"})

	// RevocationFailOpen counts lookups answered optimistically because the
	// backing store was unreachable or the breaker was open.
	RevocationFailOpen = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "revocation",
		Name:      "fail_open_total",
		Help:      "Revocation lookups that failed open.",
	})

	// BreakerTransitions counts circuit breaker state changes.
	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "breaker",
		Name:      "transitions_total",
		Help:      "Circuit breaker transitions by breaker name and new state.",
	}, []string{"name", "state"})
)

// # Caches

var (
	// CacheRequests counts lookups against each cache tier.
	// cache: perm_local, perm_redis, verify, revocation, condition.
	// result: hit, miss.
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "requests_total",
		Help:      "Cache lookups by tier and result.",
	}, []string{"cache", "result"})

	// CacheInvalidations counts explicit invalidations by tier and scope
	// (user, role, token).
	CacheInvalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "invalidations_total",
		Help:      "Cache invalidations by tier and scope.",
	}, []string{"cache", "scope"})
)

// # Sessions

var (
	// SessionOps counts session lifecycle operations by op and outcome.
	SessionOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "operations_total",
		Help:      "Session operations by name and outcome.",
	}, []string{"op", "outcome"})

	// SessionFallbacks counts validations served by the durable store after a
	// fast-store miss or outage.
	SessionFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "fallbacks_total",
		Help:      "Session reads that fell back to the store of record.",
	})
)

// # Storage Latency

var (
	// StoreLatency observes backend call duration by store (redis, postgres)
	// and logical operation.
	StoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "latency_seconds",
		Help:      "Backend call latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"store", "op"})

	// PermissionChecks observes end-to-end permission evaluation duration by
	// decision (allowed, denied).
	PermissionChecks = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "authz",
		Name:      "check_seconds",
		Help:      "Permission check latency by decision.",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
	}, []string{"decision"})
)
