// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

// Command gatehouse is the entry point for the Gatehouse auth server.
//
// # Startup Sequence
//
//  1. Initialize structured logger.
//  2. Load configuration from environment variables.
//  3. Connect to PostgreSQL (pgxpool).
//  4. Connect to Redis.
//  5. Run database migrations (idempotent).
//  6. Wire services and HTTP handlers.
//  7. Start background maintenance loops.
//  8. Start HTTP server with graceful shutdown.
//
// No business logic lives here. All wiring is explicit constructor injection.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/averden/gatehouse/internal/api"
	"github.com/averden/gatehouse/internal/audit"
	"github.com/averden/gatehouse/internal/auth"
	"github.com/averden/gatehouse/internal/authctx"
	"github.com/averden/gatehouse/internal/identity"
	"github.com/averden/gatehouse/internal/permission"
	"github.com/averden/gatehouse/internal/platform/clock"
	"github.com/averden/gatehouse/internal/platform/config"
	"github.com/averden/gatehouse/internal/platform/constants"
	"github.com/averden/gatehouse/internal/platform/migration"
	pgstore "github.com/averden/gatehouse/internal/platform/postgres"
	redisstore "github.com/averden/gatehouse/internal/platform/redis"
	"github.com/averden/gatehouse/internal/platform/sec"
	"github.com/averden/gatehouse/internal/revocation"
	"github.com/averden/gatehouse/internal/session"
	"github.com/averden/gatehouse/internal/token"
)

func main() {
	// ── 1. Logger ──────────────────────────────────────────────────────────
	// Initialize first so that subsequent startup errors are structured.
	log := newLogger("production", false)
	slog.SetDefault(log)

	log.Info("service_initializing")

	// ── 2. Configuration ──────────────────────────────────────────────────
	cfg, err := config.Load()
	must(log, err, "load configuration")

	log = newLogger(cfg.Environment, cfg.Debug)
	slog.SetDefault(log)

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
	)

	// Root context for startup. Use a 30s deadline so misconfiguration is
	// caught quickly rather than hanging indefinitely.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// ── 3. PostgreSQL ─────────────────────────────────────────────────────
	pool, err := pgstore.NewPool(startupCtx, cfg.DatabaseURL, log)
	must(log, err, "connect to postgres")
	defer func() {
		log.Info("closing_postgres_pool")
		pool.Close()
	}()

	// ── 4. Redis ──────────────────────────────────────────────────────────
	rdb, err := redisstore.NewClient(startupCtx, cfg.RedisURL, log)
	must(log, err, "connect to redis")
	defer func() {
		log.Info("closing_redis_client")
		if cerr := rdb.Close(); cerr != nil {
			log.Error("redis_close_error", slog.Any("error", cerr))
		}
	}()

	// ── 5. Migrations ─────────────────────────────────────────────────────
	must(log, migration.RunUp(cfg.DatabaseURL, cfg.MigrationPath, log), "run migrations")

	clk := clock.System()

	// ── 6. Stores ─────────────────────────────────────────────────────────
	users := identity.NewPostgresStore(pool)
	apiKeys := identity.NewPostgresAPIKeyStore(pool)
	auditor := audit.NewPostgresRecorder(pool)

	// ── 7. Revocation Index ───────────────────────────────────────────────
	revocationStore := revocation.NewRedisStore(rdb, cfg.JWTBlacklistPrefix, log)
	revocationIndex := revocation.NewIndex(revocationStore, 0, cfg.RevocationFailClosed, clk, log)

	// ── 8. Sessions ───────────────────────────────────────────────────────
	sessionService := session.NewService(
		session.NewRedisStore(rdb),
		session.NewPostgresStore(pool),
		cfg.SessionLifetime(),
		auditor, clk, log,
	)

	// ── 9. Permission Engine ──────────────────────────────────────────────
	permissionCache := permission.NewCache(rdb, 0, clk, log)
	engine := permission.NewEngine(
		permission.NewPostgresRoleStore(pool),
		users, permissionCache, auditor, clk, log,
		permission.WithSessionCascade(sessionCascade{sessions: sessionService}),
	)

	// ── 10. Token Service ─────────────────────────────────────────────────
	accessSigner := sec.NewSigner(cfg.JWTSigningKey,
		sec.WithExpectedIssuer(constants.AuthIssuer),
		sec.WithExpectedAudience(constants.AuthAudience),
	)
	refreshSigner := sec.NewSigner(cfg.JWTRefreshSigningKey,
		sec.WithExpectedIssuer(constants.AuthIssuer),
		sec.WithExpectedAudience(constants.AuthAudience),
	)

	tokenService := token.NewService(
		accessSigner, refreshSigner,
		token.NewRedisStore(rdb),
		revocationIndex, users, engine, auditor,
		token.Options{
			AccessTTL:         cfg.AccessTTL(),
			RefreshTTL:        cfg.RefreshTTL(),
			MaxTokensPerUser:  cfg.JWTMaxTokensPerUser,
			VerifyCacheSize:   cfg.JWTCacheMaxSize,
			EmbedPermissions:  cfg.JWTEmbedPermissions,
			EnforceRotation:   cfg.JWTEnforceRotation,
			RotationThreshold: cfg.JWTRotationThreshold,
		},
		clk, log,
	)

	// ── 11. Auth Orchestrator ─────────────────────────────────────────────
	authService := auth.NewService(users, tokenService, sessionService,
		revocationIndex, auditor, auth.Options{DefaultRoleID: "member"}, clk, log)
	keyService := auth.NewKeyService(authService, apiKeys)

	// ── 12. Access Context Builder ────────────────────────────────────────
	builder := authctx.NewBuilder(tokenService, apiKeys, users, engine,
		liveChecker{engine: engine}, clk, log)

	// ── 13. Health handlers (wired with real dependency checkers) ─────────
	liveness, readiness := api.NewHealthHandlers(api.HealthDependencies{
		CheckDatabase: func(ctx context.Context) error {
			return pgstore.Ping(ctx, pool)
		},
		CheckCache: func(ctx context.Context) error {
			return redisstore.Ping(ctx, rdb)
		},
		CheckRevocation: revocationIndex.Ping,
		CheckSessions:   sessionService.Ping,
	}, log)

	// ── 14. HTTP Server ───────────────────────────────────────────────────
	handlers := api.Handlers{
		Liveness:  liveness,
		Readiness: readiness,
		Auth: auth.NewHandler(authService, keyService, auth.HandlerOptions{
			CookieSecure: cfg.IsProduction(),
			RefreshTTL:   cfg.RefreshTTL(),
		}),
		Authz:      permission.NewHandler(engine),
		Revocation: revocation.NewHandler(revocationIndex, clk),
		Socket:     api.NewGateway(builder, cfg.ExtraOriginList(), log),
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	server := api.NewServer(rootCtx, cfg, log, builder, handlers)

	// ── 15. Background Maintenance ────────────────────────────────────────
	go revocation.NewJanitor(revocationIndex, 0, log).Run(rootCtx)
	go session.NewReaper(sessionService, 0, 0, log).Run(rootCtx)

	// ── 16. Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until OS signal or server error.
	select {
	case sig := <-quit:
		log.Info("shutdown_signal_received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server_startup_error", slog.Any("error", err))
	}

	// Stop background loops before draining requests.
	rootCancel()

	shutdownTimeout := constants.ShutdownTimeout
	log.Info("shutting_down_server", slog.Duration("timeout", shutdownTimeout))

	if err := server.Shutdown(shutdownTimeout); err != nil {
		log.Error("shutdown_error", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("server_stopped_cleanly")
}

// newLogger builds the process logger: human-readable in development, JSON
// everywhere else.
func newLogger(environment string, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if environment == "development" {
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler).With(slog.String("app", "gatehouse"))
}

// sessionCascade adapts the session service to the permission engine's
// cascade hook.
type sessionCascade struct {
	sessions *session.Service
}

func (cascade sessionCascade) DeleteUserSessions(ctx context.Context, userID string) (int, error) {
	return cascade.sessions.DeleteUserSessions(ctx, userID, "permission-engine")
}

// liveChecker adapts the permission engine to the access context's
// authorization oracle.
type liveChecker struct {
	engine *permission.Engine
}

func (checker liveChecker) Check(ctx context.Context, userID, resource, action string) (bool, error) {
	decision, err := checker.engine.Check(ctx, userID,
		permission.Request{Resource: resource, Action: action}, nil, false)
	if err != nil {
		return false, err
	}
	return decision.Allowed, nil
}

// must logs a structured fatal error and terminates the process if err is non-nil.
//
// It is intentionally limited to startup wiring. After startup, all errors
// must be returned and handled explicitly (never panic).
func must(log *slog.Logger, err error, context string) {
	if err != nil {
		log.Error("startup_failure",
			slog.String("context", context),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}
