// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

// Package breaker centralizes circuit-breaker tuning for calls to shared
// backends.
//
// All breakers in the service share one policy: five consecutive failures
// open the circuit, an open circuit rejects calls for ten seconds, a single
// half-open probe closes it again, and failure counters reset after thirty
// seconds of quiet. Packages construct their own typed breakers from
// [Settings] so result types stay concrete at call sites.
package breaker

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/averden/gatehouse/internal/platform/metrics"
)

const (
	consecutiveFailureLimit = 5
	openDuration            = 10 * time.Second
	countResetInterval      = 30 * time.Second
)

// Settings returns the shared breaker policy for the named dependency.
// State transitions are logged and counted.
func Settings(name string, log *slog.Logger) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    countResetInterval,
		Timeout:     openDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailureLimit
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerTransitions.WithLabelValues(name, to.String()).Inc()
			log.Warn("circuit_breaker_state_changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}
}

// Rejected reports whether err means the breaker refused the call without
// reaching the backend.
func Rejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
