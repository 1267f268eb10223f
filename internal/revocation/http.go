// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package revocation

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/averden/gatehouse/internal/platform/apperr"
	"github.com/averden/gatehouse/internal/platform/clock"
	requestutil "github.com/averden/gatehouse/internal/platform/request"
	"github.com/averden/gatehouse/internal/platform/respond"
)

// fallbackTokenLifetime bounds the blacklist entry when the caller does not
// know the token's exp claim.
const fallbackTokenLifetime = 30 * 24 * time.Hour

// Handler exposes the administrative revocation API.
type Handler struct {
	index *Index
	clock clock.Clock
}

// NewHandler creates the revocation HTTP handler.
func NewHandler(index *Index, clk clock.Clock) *Handler {
	if clk == nil {
		clk = clock.System()
	}
	return &Handler{index: index, clock: clk}
}

// RegisterAdminRoutes mounts the revocation endpoints. The caller wraps them
// in the appropriate permission middleware.
func (handler *Handler) RegisterAdminRoutes(router chi.Router) {
	router.Post("/tokens/revoke", handler.revokeToken)
	router.Post("/tokens/revoke-user", handler.revokeUser)
	router.Get("/users/{id}/revoked-tokens", handler.userTokens)
}

type revokeTokenRequest struct {
	JTI       string     `json:"jti"`
	UserID    string     `json:"user_id"`
	Reason    Reason     `json:"reason"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// revokeToken handles POST /api/v1/admin/tokens/revoke.
func (handler *Handler) revokeToken(writer http.ResponseWriter, request *http.Request) {
	actor, err := requestutil.RequiredAccess(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var body revokeTokenRequest
	if err := requestutil.DecodeJSON(request, &body); err != nil {
		respond.Error(writer, request, err)
		return
	}
	if body.Reason == "" {
		body.Reason = ReasonAdminRevoked
	}

	// Without the exp claim the entry gets the conservative upper bound
	expiresAt := handler.clock.Now().Add(fallbackTokenLifetime)
	if body.ExpiresAt != nil {
		expiresAt = *body.ExpiresAt
	}

	rec := Record{
		JTI:       body.JTI,
		UserID:    body.UserID,
		Reason:    body.Reason,
		RevokedBy: actor.UserID,
	}
	if err := handler.index.RevokeToken(request.Context(), rec, expiresAt); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

type revokeUserRequest struct {
	UserID string `json:"user_id"`
	Reason Reason `json:"reason"`
}

// revokeUser handles POST /api/v1/admin/tokens/revoke-user.
func (handler *Handler) revokeUser(writer http.ResponseWriter, request *http.Request) {
	actor, err := requestutil.RequiredAccess(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var body revokeUserRequest
	if err := requestutil.DecodeJSON(request, &body); err != nil {
		respond.Error(writer, request, err)
		return
	}
	if body.Reason == "" {
		body.Reason = ReasonAdminRevoked
	}

	rec := UserRecord{
		UserID:    body.UserID,
		Reason:    body.Reason,
		RevokedBy: actor.UserID,
	}
	if err := handler.index.RevokeUser(request.Context(), rec); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

// userTokens handles GET /api/v1/admin/users/{id}/revoked-tokens.
func (handler *Handler) userTokens(writer http.ResponseWriter, request *http.Request) {
	userID := requestutil.ID(request, "id")
	if userID == "" {
		respond.Error(writer, request, apperr.ValidationError("User identifier is required"))
		return
	}

	tokens, err := handler.index.UserRevokedTokens(request.Context(), userID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, map[string]any{
		"user_id": userID,
		"tokens":  tokens,
	})
}
