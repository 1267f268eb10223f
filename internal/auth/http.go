// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/averden/gatehouse/internal/platform/apperr"
	"github.com/averden/gatehouse/internal/platform/constants"
	requestutil "github.com/averden/gatehouse/internal/platform/request"
	"github.com/averden/gatehouse/internal/platform/respond"
	"github.com/averden/gatehouse/internal/session"
	"github.com/averden/gatehouse/internal/token"
)

// HandlerOptions controls cookie issuance.
type HandlerOptions struct {
	// CookieDomain scopes the auth cookies, empty for host-only.
	CookieDomain string
	// CookieSecure marks cookies Secure; disable only for local development.
	CookieSecure bool
	// RefreshTTL bounds the refresh cookie lifetime.
	RefreshTTL time.Duration
}

// Handler implements the authentication HTTP endpoints.
//
// Tokens travel both in the JSON body (native clients) and as HttpOnly
// cookies (browsers). The refresh cookie is path-scoped to the auth API so
// it never rides along on ordinary requests.
type Handler struct {
	service *Service
	keys    *KeyService
	opts    HandlerOptions
}

// NewHandler constructs the handler. keys may be nil when API key
// management is not exposed.
func NewHandler(service *Service, keys *KeyService, opts HandlerOptions) *Handler {
	return &Handler{service: service, keys: keys, opts: opts}
}

// RegisterPublicRoutes mounts the endpoints that need no principal.
func (handler *Handler) RegisterPublicRoutes(router chi.Router) {
	router.Post("/register", handler.register)
	router.Post("/login", handler.login)
	router.Post("/refresh", handler.refresh)
}

// RegisterProtectedRoutes mounts the endpoints that require an
// authenticated principal. The caller wraps them in the auth middleware.
func (handler *Handler) RegisterProtectedRoutes(router chi.Router) {
	router.Post("/logout", handler.logout)
	router.Post("/logout-all", handler.logoutAll)
	router.Post("/change-password", handler.changePassword)
	router.Post("/validate", handler.validateSession)
	router.Get("/sessions", handler.sessions)
	router.Delete("/sessions/{id}", handler.revokeSession)

	if handler.keys != nil {
		router.Post("/api-keys", handler.createAPIKey)
		router.Get("/api-keys", handler.listAPIKeys)
		router.Delete("/api-keys/{id}", handler.revokeAPIKey)
	}
}

// # Account Lifecycle

// register handles POST /api/v1/auth/register.
func (handler *Handler) register(writer http.ResponseWriter, request *http.Request) {
	var input RegisterInput
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	user, err := handler.service.Register(request.Context(), input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.Created(writer, user)
}

// login handles POST /api/v1/auth/login.
func (handler *Handler) login(writer http.ResponseWriter, request *http.Request) {
	var input LoginInput
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}
	input.Protocol = session.ProtocolHTTP
	input.IP = clientIP(request)
	input.UserAgent = request.UserAgent()

	result, err := handler.service.Login(request.Context(), input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	handler.setAuthCookies(writer, result.Tokens)
	respond.OK(writer, result)
}

// # Token Refresh

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// refresh handles POST /api/v1/auth/refresh. The refresh token comes from
// the body for native clients or the scoped cookie for browsers.
func (handler *Handler) refresh(writer http.ResponseWriter, request *http.Request) {
	raw := handler.refreshTokenFrom(request)
	if raw == "" {
		respond.Error(writer, request, apperr.Unauthenticated("Refresh token is required"))
		return
	}

	pair, err := handler.service.Refresh(request.Context(), raw)
	if err != nil {
		// A dead family must also kill the browser's cookies
		if kind := apperr.KindOf(err); kind == apperr.KindSecurityBreach || kind == apperr.KindRevoked {
			handler.clearAuthCookies(writer)
		}
		respond.Error(writer, request, err)
		return
	}

	handler.setAuthCookies(writer, pair)
	respond.OK(writer, pair)
}

// # Logout

// logout handles POST /api/v1/auth/logout. The access claims come from the
// presented token; the refresh token from body or cookie when present.
func (handler *Handler) logout(writer http.ResponseWriter, request *http.Request) {
	claims, err := handler.callerClaims(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	raw := handler.refreshTokenFrom(request)

	if err := handler.service.Logout(request.Context(), claims, raw); err != nil {
		respond.Error(writer, request, err)
		return
	}

	handler.clearAuthCookies(writer)
	respond.NoContent(writer)
}

// logoutAll handles POST /api/v1/auth/logout-all for the calling principal.
func (handler *Handler) logoutAll(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.service.LogoutAll(request.Context(), userID, userID); err != nil {
		respond.Error(writer, request, err)
		return
	}

	handler.clearAuthCookies(writer)
	respond.NoContent(writer)
}

// # Password

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// changePassword handles POST /api/v1/auth/change-password.
func (handler *Handler) changePassword(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var body changePasswordRequest
	if err := requestutil.DecodeJSON(request, &body); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.service.ChangePassword(request.Context(), userID, body.CurrentPassword, body.NewPassword); err != nil {
		respond.Error(writer, request, err)
		return
	}

	// Every credential just died with the old password
	handler.clearAuthCookies(writer)
	respond.NoContent(writer)
}

// # Sessions

type validateSessionRequest struct {
	SessionID string `json:"session_id"`
}

// validateSession handles POST /api/v1/auth/validate. Without an explicit
// session_id the caller's own session is validated.
func (handler *Handler) validateSession(writer http.ResponseWriter, request *http.Request) {
	access, err := requestutil.RequiredAccess(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var body validateSessionRequest
	if request.ContentLength > 0 {
		if err := requestutil.DecodeJSON(request, &body); err != nil {
			respond.Error(writer, request, err)
			return
		}
	}

	sessionID := body.SessionID
	if sessionID == "" {
		sessionID = access.SessionID
	}
	if sessionID == "" {
		respond.Error(writer, request, apperr.ValidationError("Session identifier is required"))
		return
	}

	record, err := handler.service.ValidateSession(request.Context(), sessionID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	// A caller may only introspect their own sessions
	if record.UserID != access.UserID && !access.Can("sessions", "manage") {
		respond.Error(writer, request, apperr.Forbidden("Insufficient permissions"))
		return
	}
	respond.OK(writer, record)
}

// sessions handles GET /api/v1/auth/sessions for the calling principal.
func (handler *Handler) sessions(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	records, err := handler.service.Sessions(request.Context(), userID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, records)
}

// revokeSession handles DELETE /api/v1/auth/sessions/{id}.
func (handler *Handler) revokeSession(writer http.ResponseWriter, request *http.Request) {
	access, err := requestutil.RequiredAccess(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	sessionID := requestutil.ID(request, "id")

	record, err := handler.service.ValidateSession(request.Context(), sessionID)
	if err == nil && record.UserID != access.UserID && !access.Can("sessions", "manage") {
		respond.Error(writer, request, apperr.Forbidden("Insufficient permissions"))
		return
	}

	if err := handler.service.RevokeSession(request.Context(), sessionID, access.UserID); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

// # API Keys

type createAPIKeyRequest struct {
	Name      string     `json:"name"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// createAPIKey handles POST /api/v1/auth/api-keys.
func (handler *Handler) createAPIKey(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var body createAPIKeyRequest
	if err := requestutil.DecodeJSON(request, &body); err != nil {
		respond.Error(writer, request, err)
		return
	}

	created, err := handler.keys.CreateKey(request.Context(), userID, body.Name, body.ExpiresAt)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.Created(writer, created)
}

// listAPIKeys handles GET /api/v1/auth/api-keys.
func (handler *Handler) listAPIKeys(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	keys, err := handler.keys.ListKeys(request.Context(), userID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, keys)
}

// revokeAPIKey handles DELETE /api/v1/auth/api-keys/{id}.
func (handler *Handler) revokeAPIKey(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.keys.RevokeKey(request.Context(), userID, requestutil.ID(request, "id"), userID); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

// # Helpers

// callerClaims re-verifies the presented access token to recover the full
// claims (jti, expiry) that the access context intentionally does not carry.
func (handler *Handler) callerClaims(request *http.Request) (*token.AccessClaims, error) {
	raw := ""
	if header := request.Header.Get(constants.HeaderAuthorization); header != "" {
		if value, ok := strings.CutPrefix(header, "Bearer "); ok {
			raw = strings.TrimSpace(value)
		}
	}
	if raw == "" {
		if cookie, err := request.Cookie(constants.AccessTokenCookieName); err == nil {
			raw = cookie.Value
		}
	}
	if raw == "" {
		return nil, apperr.Unauthenticated("Authentication required")
	}
	return handler.service.tokens.Verify(request.Context(), raw)
}

// refreshTokenFrom reads the refresh token from the JSON body, falling back
// to the path-scoped cookie.
func (handler *Handler) refreshTokenFrom(request *http.Request) string {
	var body refreshRequest
	if request.ContentLength > 0 {
		if err := requestutil.DecodeJSON(request, &body); err == nil && body.RefreshToken != "" {
			return body.RefreshToken
		}
	}
	if cookie, err := request.Cookie(constants.RefreshTokenCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// setAuthCookies issues the browser-facing cookies for a token pair.
func (handler *Handler) setAuthCookies(writer http.ResponseWriter, pair *token.Pair) {
	http.SetCookie(writer, &http.Cookie{
		Name:     constants.AccessTokenCookieName,
		Value:    pair.AccessToken,
		Path:     "/",
		Domain:   handler.opts.CookieDomain,
		Expires:  pair.AccessExpiresAt,
		HttpOnly: true,
		Secure:   handler.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(writer, &http.Cookie{
		Name:     constants.RefreshTokenCookieName,
		Value:    pair.RefreshToken,
		Path:     constants.RefreshTokenCookiePath,
		Domain:   handler.opts.CookieDomain,
		Expires:  pair.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   handler.opts.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// clearAuthCookies expires both auth cookies.
func (handler *Handler) clearAuthCookies(writer http.ResponseWriter) {
	http.SetCookie(writer, &http.Cookie{
		Name:     constants.AccessTokenCookieName,
		Value:    "",
		Path:     "/",
		Domain:   handler.opts.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   handler.opts.CookieSecure,
	})
	http.SetCookie(writer, &http.Cookie{
		Name:     constants.RefreshTokenCookieName,
		Value:    "",
		Path:     constants.RefreshTokenCookiePath,
		Domain:   handler.opts.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   handler.opts.CookieSecure,
	})
}

// clientIP resolves the originating address behind the usual proxy headers.
func clientIP(request *http.Request) string {
	if forwarded := request.Header.Get(constants.HeaderXForwardedFor); forwarded != "" {
		if first, _, found := strings.Cut(forwarded, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	if real := request.Header.Get(constants.HeaderXRealIP); real != "" {
		return real
	}
	host := request.RemoteAddr
	if index := strings.LastIndex(host, ":"); index > 0 {
		host = host[:index]
	}
	return host
}
