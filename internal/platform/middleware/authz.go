// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package middleware

import (
	"net/http"

	"github.com/averden/gatehouse/internal/access"
	"github.com/averden/gatehouse/internal/platform/apperr"
	"github.com/averden/gatehouse/internal/platform/ctxutil"
	"github.com/averden/gatehouse/internal/platform/respond"
)

// ContextBuilder assembles the unified access context for a request.
//
// # Why an interface?
//
// Defining ContextBuilder here decouples the middleware from the `authctx`
// builder implementation, allowing us to easily inject fakes during unit testing.
type ContextBuilder interface {
	FromRequest(request *http.Request) (*access.Context, error)
}

// Authenticate resolves the caller's credential into an access context.
//
// # Flow
//  1. The builder inspects Authorization header, API-key header, and cookie.
//  2. No credential: an anonymous context is injected and the request proceeds.
//  3. A present but invalid credential aborts with 401 (or the builder's error).
//  4. The assembled [*access.Context] is injected for downstream use.
//
// # Parameters
//   - builder: The ContextBuilder instance.
//
// # Returns
//   - An [http.Handler] middleware.
func Authenticate(builder ContextBuilder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			principal, err := builder.FromRequest(request)
			if err != nil {
				respond.Error(writer, request, err)
				return
			}

			ctx := ctxutil.WithAccess(request.Context(), principal)
			next.ServeHTTP(writer, request.WithContext(ctx))
		})
	}
}

// RequireAuth blocks requests that are not authenticated.
//
// # Usage
//
// Must be registered in the router AFTER [Authenticate].
//
// # Flow
//  1. Check if an authenticated [*access.Context] exists in context.
//  2. If missing, abort with HTTP 401 Unauthorized.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		principal := ctxutil.GetAccess(request.Context())
		if principal == nil || !principal.Authenticated {
			respond.Error(writer, request, apperr.Unauthenticated("Authentication required"))
			return
		}
		next.ServeHTTP(writer, request)
	})
}

// RequirePermission blocks requests whose principal cannot perform the given
// action on the given resource.
//
// # Usage
//
// Must be registered in the router AFTER [Authenticate]. It automatically
// implies [RequireAuth] so you don't need to mount both.
//
// # Flow
//  1. Check if an authenticated [*access.Context] exists (implies AuthN).
//  2. Evaluate the embedded permission set, wildcards included, via
//     [access.Context.Can].
//  3. If insufficient, abort with HTTP 403 Forbidden.
func RequirePermission(resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			principal := ctxutil.GetAccess(request.Context())

			// ── 1. Authentication Check ───────────────────────────────────────
			if principal == nil || !principal.Authenticated {
				respond.Error(writer, request, apperr.Unauthenticated("Authentication required"))
				return
			}

			// ── 2. Authorization Check ────────────────────────────────────────
			if !principal.Can(resource, action) {
				respond.Error(writer, request, apperr.Forbidden("Insufficient permissions"))
				return
			}

			next.ServeHTTP(writer, request)
		})
	}
}

// RequireRole blocks requests whose principal holds none of the given roles.
//
// Prefer [RequirePermission]; this exists for coarse admin surfaces where the
// role itself is the contract.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			principal := ctxutil.GetAccess(request.Context())

			if principal == nil || !principal.Authenticated {
				respond.Error(writer, request, apperr.Unauthenticated("Authentication required"))
				return
			}

			if !principal.HasRole(roles...) {
				respond.Error(writer, request, apperr.Forbidden("Insufficient permissions"))
				return
			}

			next.ServeHTTP(writer, request)
		})
	}
}
