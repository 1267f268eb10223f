// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/averden/gatehouse/internal/platform/respond"
)

// healthCheckTimeout bounds each dependency probe so a wedged backend cannot
// stall the readiness endpoint.
const healthCheckTimeout = 2 * time.Second

// HealthDependencies holds the injectable dependency checkers for the /ready
// endpoint. Nil checkers are skipped.
type HealthDependencies struct {
	// CheckDatabase pings the PostgreSQL pool.
	CheckDatabase func(ctx context.Context) error

	// CheckCache pings the Redis client.
	CheckCache func(ctx context.Context) error

	// CheckRevocation pings the revocation index backend.
	CheckRevocation func(ctx context.Context) error

	// CheckSessions pings the session store of record.
	CheckSessions func(ctx context.Context) error
}

type healthHandler struct {
	dependencies HealthDependencies
	logger       *slog.Logger
}

// NewHealthHandlers creates the /health and /ready http.HandlerFuncs.
func NewHealthHandlers(deps HealthDependencies, logger *slog.Logger) (liveness, readiness http.HandlerFunc) {
	handler := &healthHandler{dependencies: deps, logger: logger}
	return handler.liveness, handler.readiness
}

// liveness handles GET /health (Liveness probe).
func (handler *healthHandler) liveness(writer http.ResponseWriter, request *http.Request) {
	respond.OK(writer, map[string]string{"status": "ok"})
}

type checkResult struct {
	Name  string `json:"name"`
	IsOK  bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// readiness handles GET /ready (Readiness probe).
func (handler *healthHandler) readiness(writer http.ResponseWriter, request *http.Request) {

	checks := []struct {
		name  string
		probe func(ctx context.Context) error
	}{
		{"postgres", handler.dependencies.CheckDatabase},
		{"redis", handler.dependencies.CheckCache},
		{"revocation", handler.dependencies.CheckRevocation},
		{"sessions", handler.dependencies.CheckSessions},
	}

	results := make([]checkResult, 0, len(checks))
	isSystemReady := true

	for _, check := range checks {
		if check.probe == nil {
			continue
		}

		result := checkResult{Name: check.name, IsOK: true}

		ctx, cancel := context.WithTimeout(request.Context(), healthCheckTimeout)
		if err := check.probe(ctx); err != nil {
			result.IsOK = false
			result.Error = err.Error()
			isSystemReady = false
			handler.logger.Error("readiness_check_failed",
				slog.String("dependency", check.name), slog.Any("error", err))
		}
		cancel()

		results = append(results, result)
	}

	responseStatus := "ready"

	if !isSystemReady {
		responseStatus = "degraded"
		// We use WriteHeader manually because respond.OK always sends 200
		writer.Header().Set("Content-Type", "application/json; charset=utf-8")
		writer.WriteHeader(http.StatusServiceUnavailable)
	}

	respond.OK(writer, map[string]any{
		"status": responseStatus,
		"checks": results,
	})
}
