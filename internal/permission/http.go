// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package permission

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/averden/gatehouse/internal/platform/apperr"
	requestutil "github.com/averden/gatehouse/internal/platform/request"
	"github.com/averden/gatehouse/internal/platform/respond"
)

// Handler exposes the authorization API.
type Handler struct {
	engine *Engine
}

// NewHandler creates the authz HTTP handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes mounts the authz endpoints. The caller wraps admin routes
// in the appropriate permission middleware.
func (handler *Handler) RegisterRoutes(router chi.Router) {
	router.Post("/check", handler.check)
	router.Post("/check-batch", handler.checkBatch)
	router.Get("/permissions", handler.permissions)
}

// RegisterAdminRoutes mounts the role administration endpoints.
func (handler *Handler) RegisterAdminRoutes(router chi.Router) {
	router.Post("/roles", handler.createRole)
	router.Put("/roles/{id}", handler.updateRole)
	router.Post("/users/{id}/role", handler.assignRole)
	router.Delete("/users/{id}/role/{roleID}", handler.revokeRole)
}

// # Checks

type checkRequest struct {
	Resource string         `json:"resource"`
	Action   string         `json:"action"`
	Context  map[string]any `json:"context,omitempty"`
	Volatile bool           `json:"volatile,omitempty"`
}

// check evaluates one permission for the calling principal.
func (handler *Handler) check(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var body checkRequest
	if err := requestutil.DecodeJSON(request, &body); err != nil {
		respond.Error(writer, request, err)
		return
	}

	decision, err := handler.engine.Check(request.Context(), userID,
		Request{Resource: body.Resource, Action: body.Action}, body.Context, body.Volatile)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, decision)
}

type checkBatchRequest struct {
	Permissions []Request      `json:"permissions"`
	Context     map[string]any `json:"context,omitempty"`
	Volatile    bool           `json:"volatile,omitempty"`
}

// checkBatch evaluates many permissions for the calling principal.
func (handler *Handler) checkBatch(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var body checkBatchRequest
	if err := requestutil.DecodeJSON(request, &body); err != nil {
		respond.Error(writer, request, err)
		return
	}

	decisions, err := handler.engine.CheckBatch(request.Context(), userID, body.Permissions, body.Context, body.Volatile)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, decisions)
}

// permissions returns the calling principal's effective permission set.
func (handler *Handler) permissions(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	perms, roles, err := handler.engine.GetUserPermissions(request.Context(), userID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, map[string]any{
		"permissions": perms,
		"roles":       roles,
	})
}

// # Role Administration

type roleRequest struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Parents     []string     `json:"parents,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
	IsActive    *bool        `json:"is_active,omitempty"`
}

func (r roleRequest) toRole() *Role {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	return &Role{
		ID:          r.ID,
		Name:        r.Name,
		Parents:     r.Parents,
		Permissions: r.Permissions,
		IsActive:    active,
	}
}

// createRole persists a new role definition.
func (handler *Handler) createRole(writer http.ResponseWriter, request *http.Request) {
	var body roleRequest
	if err := requestutil.DecodeJSON(request, &body); err != nil {
		respond.Error(writer, request, err)
		return
	}

	role := body.toRole()
	if err := handler.engine.CreateRole(request.Context(), role); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.Created(writer, role)
}

// updateRole replaces a role definition.
func (handler *Handler) updateRole(writer http.ResponseWriter, request *http.Request) {
	var body roleRequest
	if err := requestutil.DecodeJSON(request, &body); err != nil {
		respond.Error(writer, request, err)
		return
	}

	role := body.toRole()
	role.ID = requestutil.ID(request, "id")
	if role.ID == "" {
		respond.Error(writer, request, apperr.ValidationError("Role identifier is required"))
		return
	}

	if err := handler.engine.UpdateRole(request.Context(), role); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, role)
}

type assignRoleRequest struct {
	RoleID    string     `json:"role_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// assignRole grants a role to a user.
func (handler *Handler) assignRole(writer http.ResponseWriter, request *http.Request) {
	actor, err := requestutil.RequiredAccess(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var body assignRoleRequest
	if err := requestutil.DecodeJSON(request, &body); err != nil {
		respond.Error(writer, request, err)
		return
	}

	userID := requestutil.ID(request, "id")
	if err := handler.engine.AssignRole(request.Context(), userID, body.RoleID, actor.UserID, body.ExpiresAt); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

// revokeRole revokes a user's role grant.
func (handler *Handler) revokeRole(writer http.ResponseWriter, request *http.Request) {
	actor, err := requestutil.RequiredAccess(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	userID := requestutil.ID(request, "id")
	roleID := requestutil.ID(request, "roleID")

	if err := handler.engine.RevokeRole(request.Context(), userID, roleID, actor.UserID); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}
