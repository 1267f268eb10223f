// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

/*
Package api wires together the HTTP router, middleware chain, and all
domain handlers into a runnable [http.Server].

Architecture:

  - This package is the topmost Presentation layer boundary.
  - It acts as the central composition root for the HTTP transport framework (chi router).
  - Only this package and cmd/gatehouse are allowed to import net/http server primitives.
*/
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/averden/gatehouse/internal/auth"
	"github.com/averden/gatehouse/internal/permission"
	"github.com/averden/gatehouse/internal/platform/config"
	"github.com/averden/gatehouse/internal/platform/constants"
	"github.com/averden/gatehouse/internal/platform/middleware"
	"github.com/averden/gatehouse/internal/revocation"
)

// # Server Definitions

// Server wraps the chi router and the [http.Server].
//
// It is constructed once in main.go with all dependencies injected.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	log        *slog.Logger
}

// # Handler Registry

// Handlers groups all domain-specific HTTP handler sets.
//
// # Usage
//
// New domains add a field here — no other change to server.go is required.
type Handlers struct {
	// Liveness is the /health handler — always returns 200 if process is alive.
	Liveness http.HandlerFunc

	// Readiness is the /ready handler — returns 200 when all deps are healthy.
	Readiness http.HandlerFunc

	// Auth handles the authentication flows (login, refresh, logout).
	Auth *auth.Handler

	// Authz handles permission checks and role administration.
	Authz *permission.Handler

	// Revocation handles the administrative blacklist API.
	Revocation *revocation.Handler

	// Socket upgrades authenticated WebSocket connections.
	Socket *Gateway
}

// # Server Initialization

// NewServer constructs the chi router with the full middleware chain and
// registers all route groups.
func NewServer(context context.Context, cfg *config.Config, log *slog.Logger, builder middleware.ContextBuilder, h Handlers) *Server {
	r := chi.NewRouter()

	// # Middleware Chain
	// Global middleware applied in order of execution.
	r.Use(middleware.RequestID())
	r.Use(middleware.StructuredLogger(log))
	r.Use(chimw.Timeout(constants.GlobalRequestTimeout))
	r.Use(middleware.RateLimit(context))
	r.Use(middleware.PanicRecovery(log))
	r.Use(middleware.Authenticate(builder))
	r.Use(middleware.CORS(cfg))
	r.Use(chimw.CleanPath)

	// # Infrastructure Endpoints
	// Unauthenticated probes for container orchestration and scraping.
	r.Get("/health", h.Liveness)
	r.Get("/ready", h.Readiness)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// WebSocket upgrades run their own credential handshake because browsers
	// cannot attach Authorization headers to upgrade requests.
	if h.Socket != nil {
		r.Get("/ws", h.Socket.ServeHTTP)
	}

	// # Application API
	// Domain-specific route groups mounted under versioned prefix.
	r.Route("/api/v1", func(api chi.Router) {
		api.Route("/auth", func(authRouter chi.Router) {
			h.Auth.RegisterPublicRoutes(authRouter)
			authRouter.Group(func(protected chi.Router) {
				protected.Use(middleware.RequireAuth)
				h.Auth.RegisterProtectedRoutes(protected)
			})
		})

		api.Route("/authz", func(authzRouter chi.Router) {
			authzRouter.Use(middleware.RequireAuth)
			h.Authz.RegisterRoutes(authzRouter)
		})

		api.Route("/admin", func(adminRouter chi.Router) {
			adminRouter.Group(func(roles chi.Router) {
				roles.Use(middleware.RequirePermission("roles", "manage"))
				h.Authz.RegisterAdminRoutes(roles)
			})
			adminRouter.Group(func(tokens chi.Router) {
				tokens.Use(middleware.RequirePermission("tokens", "revoke"))
				h.Revocation.RegisterAdminRoutes(tokens)
			})
		})
	})

	return &Server{
		router: r,
		log:    log,
		httpServer: &http.Server{
			Addr:              ":" + cfg.ServerPort,
			Handler:           r,
			ReadTimeout:       constants.DefaultReadTimeout,
			WriteTimeout:      constants.DefaultWriteTimeout,
			IdleTimeout:       constants.DefaultIdleTimeout,
			ReadHeaderTimeout: constants.DefaultReadHeaderTimeout,
		},
	}
}

// # Server Lifecycle

// ListenAndServe starts the HTTP server.
//
// It blocks until the server is closed or an error occurs.
func (s *Server) ListenAndServe() error {
	s.log.Info("server_starting", slog.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(timeout time.Duration) error {
	context, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(context)
}
