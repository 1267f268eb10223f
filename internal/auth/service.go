// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

/*
Package auth orchestrates the authentication flows of the platform.

It owns no storage of its own: the identity store holds accounts, the token
service owns credentials, the session service owns sessions, and the
revocation index owns the blacklist. This package sequences them into the
user-facing operations (register, login, refresh, logout, password change)
and guarantees their ordering invariants, e.g. that a login never hands out
tokens before its session exists.

# Security

Login failures are deliberately uniform: an unknown email and a wrong
password produce the same error and comparable timing, so the endpoint does
not leak which addresses have accounts.
*/
package auth

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/averden/gatehouse/internal/audit"
	"github.com/averden/gatehouse/internal/identity"
	"github.com/averden/gatehouse/internal/platform/apperr"
	"github.com/averden/gatehouse/internal/platform/clock"
	"github.com/averden/gatehouse/internal/platform/metrics"
	"github.com/averden/gatehouse/internal/platform/sec"
	"github.com/averden/gatehouse/internal/platform/validate"
	"github.com/averden/gatehouse/internal/revocation"
	"github.com/averden/gatehouse/internal/session"
	"github.com/averden/gatehouse/internal/token"
	"github.com/averden/gatehouse/pkg/uuid"
)

// dummyHash absorbs the bcrypt cost when the email is unknown, keeping the
// failure timing close to a real comparison.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// TokenManager is the slice of the token service the orchestrator uses.
type TokenManager interface {
	Generate(ctx context.Context, user *identity.User, sessionID string) (*token.Pair, error)
	Rotate(ctx context.Context, refreshToken string) (*token.Pair, error)
	Verify(ctx context.Context, tokenString string) (*token.AccessClaims, error)
	InvalidateRefreshToken(ctx context.Context, refreshToken string, reason revocation.Reason, actorID string) error
	InvalidateUserFamilies(ctx context.Context, userID string, reason revocation.Reason, actorID string) (int, error)
}

// SessionManager is the slice of the session service the orchestrator uses.
type SessionManager interface {
	Create(ctx context.Context, userID string, opts session.CreateOptions) (*session.Record, error)
	Validate(ctx context.Context, id string) (*session.Record, error)
	Delete(ctx context.Context, id, actorID string) error
	DeleteUserSessions(ctx context.Context, userID, actorID string) (int, error)
	UserSessions(ctx context.Context, userID string) ([]*session.Record, error)
}

// AccessRevoker blacklists individual access tokens at logout.
type AccessRevoker interface {
	RevokeToken(ctx context.Context, rec revocation.Record, expiresAt time.Time) error
}

// Options tunes the orchestrator.
type Options struct {
	// DefaultRoleID is granted to freshly registered accounts.
	DefaultRoleID string
}

// Service implements the authentication use cases.
//
// # Review Process
//
// This service is critical for security. Any changes to hashing,
// registration, or login logic must be reviewed by the security team.
type Service struct {
	users    identity.Store
	tokens   TokenManager
	sessions SessionManager
	revoker  AccessRevoker
	auditor  audit.Recorder
	opts     Options
	clock    clock.Clock
	log      *slog.Logger
}

// NewService constructs the orchestrator with its collaborating services.
func NewService(users identity.Store, tokens TokenManager, sessions SessionManager,
	revoker AccessRevoker, auditor audit.Recorder, opts Options, clk clock.Clock, log *slog.Logger) *Service {

	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		users:    users,
		tokens:   tokens,
		sessions: sessions,
		revoker:  revoker,
		auditor:  auditor,
		opts:     opts,
		clock:    clk,
		log:      log,
	}
}

// # Registration

// RegisterInput holds the data required to enroll a new account.
type RegisterInput struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

/*
Register creates a new account with the default role.

Description: The email is normalized before storage so case and whitespace
variants cannot create duplicate accounts; uniqueness is enforced by the
store. The password is bcrypt-hashed and the plaintext never leaves this
function.

Parameters:
  - ctx: context.Context
  - input: RegisterInput

Returns:
  - *identity.User: the created account, password hash blanked
  - error: validation failures, [apperr.Conflict] for duplicate emails
*/
func (service *Service) Register(ctx context.Context, input RegisterInput) (*identity.User, error) {

	// Validate input
	if err := (&validate.Validator{}).
		Required(identity.FieldEmail, input.Email).
		Email(identity.FieldEmail, input.Email).
		Required(identity.FieldPassword, input.Password).
		Password(identity.FieldPassword, input.Password).
		MaxLen(identity.FieldDisplayName, input.DisplayName, 100).
		Err(); err != nil {
		metrics.AuthAttempts.WithLabelValues("register", "denied").Inc()
		return nil, err
	}

	hash, err := sec.HashPassword(input.Password)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("register", "error").Inc()
		return nil, apperr.Internal(err)
	}

	now := service.clock.Now().UTC()
	assigned := now
	user := &identity.User{
		ID:           uuid.New(),
		Email:        validate.NormalizeEmail(input.Email),
		PasswordHash: hash,
		DisplayName:  input.DisplayName,
		Status:       identity.StatusActive,
		RoleID:       service.opts.DefaultRoleID,
		RoleAssigned: &assigned,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := service.users.Create(ctx, user); err != nil {
		if apperr.KindOf(err) == apperr.KindConflict {
			metrics.AuthAttempts.WithLabelValues("register", "denied").Inc()
			return nil, apperr.Conflict("An account with this email already exists")
		}
		metrics.AuthAttempts.WithLabelValues("register", "error").Inc()
		return nil, err
	}

	metrics.AuthAttempts.WithLabelValues("register", "success").Inc()
	service.record(ctx, audit.New(audit.ActionUserRegistered, now).WithUser(user.ID))

	user.PasswordHash = ""
	return user, nil
}

// # Login

// LoginInput defines credentials for an authentication attempt, plus request
// attribution for the session record.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`

	Protocol  session.Protocol `json:"-"`
	IP        string           `json:"-"`
	UserAgent string           `json:"-"`
}

// LoginResult is a successfully established authentication.
type LoginResult struct {
	User    *identity.User  `json:"user"`
	Session *session.Record `json:"session"`
	Tokens  *token.Pair     `json:"tokens"`
}

/*
Login authenticates a principal and establishes a session with tokens.

Description: The session is created before the tokens and its ID is minted
into the pair, so every issued token traces back to a live session. Unknown
emails and wrong passwords fail identically; the true cause goes only to the
audit trail.

Parameters:
  - ctx: context.Context
  - input: LoginInput

Returns:
  - *LoginResult: user, session, and signed token pair
  - error: [apperr.Unauthenticated] for bad credentials, [apperr.Forbidden]
    for accounts that may not authenticate
*/
func (service *Service) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {

	// Validate input
	if err := (&validate.Validator{}).
		Required(identity.FieldEmail, input.Email).
		Required(identity.FieldPassword, input.Password).
		Err(); err != nil {
		metrics.AuthAttempts.WithLabelValues("login", "denied").Inc()
		return nil, err
	}

	now := service.clock.Now().UTC()
	email := validate.NormalizeEmail(input.Email)

	user, err := service.users.FindByEmail(ctx, email)
	if err != nil {
		if apperr.IsNotFound(err) {
			// Burn a comparison anyway so unknown emails cost the same
			sec.CheckPasswordHash(input.Password, dummyHash)
			return nil, service.loginDenied(ctx, "", email, input, "unknown_email")
		}
		metrics.AuthAttempts.WithLabelValues("login", "error").Inc()
		return nil, err
	}

	if !sec.CheckPasswordHash(input.Password, user.PasswordHash) {
		return nil, service.loginDenied(ctx, user.ID, email, input, "wrong_password")
	}

	// A revoked or lapsed role grant is reported distinctly from account
	// status: the credentials were right, the access itself is gone.
	if user.Status == identity.StatusActive && !user.HasActiveRole(now) {
		metrics.AuthAttempts.WithLabelValues("login", "denied").Inc()
		service.record(ctx, audit.New(audit.ActionLoginFailed, now).
			WithUser(user.ID).
			WithRequest(input.IP, input.UserAgent).
			WithDetail("cause", "role_revoked_or_expired"))
		return nil, apperr.Forbidden("Access has been revoked or expired")
	}

	if !user.CanAuthenticate(now) {
		metrics.AuthAttempts.WithLabelValues("login", "denied").Inc()
		service.record(ctx, audit.New(audit.ActionLoginFailed, now).
			WithUser(user.ID).
			WithRequest(input.IP, input.UserAgent).
			WithDetail("cause", "account_"+string(user.Status)))
		return nil, apperr.Forbidden("Account is not allowed to authenticate")
	}

	// Session first: the token pair embeds its ID
	sess, err := service.sessions.Create(ctx, user.ID, session.CreateOptions{
		Protocol:  input.Protocol,
		Method:    session.MethodJWT,
		IP:        input.IP,
		UserAgent: input.UserAgent,
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("login", "error").Inc()
		return nil, err
	}

	pair, err := service.tokens.Generate(ctx, user, sess.ID)
	if err != nil {
		// Do not leave the session dangling when issuance fails
		if derr := service.sessions.Delete(ctx, sess.ID, user.ID); derr != nil && !apperr.IsNotFound(derr) {
			service.log.Warn("login_session_rollback_failed", "session_id", sess.ID, "error", derr)
		}
		metrics.AuthAttempts.WithLabelValues("login", "error").Inc()
		return nil, err
	}

	metrics.AuthAttempts.WithLabelValues("login", "success").Inc()
	service.record(ctx, audit.New(audit.ActionLoginSuccess, now).
		WithUser(user.ID).
		WithRequest(input.IP, input.UserAgent).
		WithDetail("session_id", sess.ID))

	user.PasswordHash = ""
	return &LoginResult{User: user, Session: sess, Tokens: pair}, nil
}

// loginDenied records a failed attempt and returns the uniform credential
// error. The concrete cause never reaches the client.
func (service *Service) loginDenied(ctx context.Context, userID, email string, input LoginInput, cause string) error {
	metrics.AuthAttempts.WithLabelValues("login", "denied").Inc()

	event := audit.New(audit.ActionLoginFailed, service.clock.Now().UTC()).
		WithRequest(input.IP, input.UserAgent).
		WithDetail("cause", cause)
	if userID != "" {
		event = event.WithUser(userID)
	} else {
		event = event.WithDetail("email", email)
	}
	service.record(ctx, event)

	return apperr.Unauthenticated("Invalid email or password")
}

// # Token Refresh

/*
Refresh exchanges a refresh token for a fresh pair via rotation.

Parameters:
  - ctx: context.Context
  - refreshToken: raw refresh credential

Returns:
  - *token.Pair: fresh pair
  - error: rotation failures, including [apperr.KindSecurityBreach] for
    detected reuse
*/
func (service *Service) Refresh(ctx context.Context, refreshToken string) (*token.Pair, error) {

	pair, err := service.tokens.Rotate(ctx, refreshToken)
	if err != nil {
		outcome := "denied"
		if apperr.KindOf(err) == apperr.KindSecurityBreach {
			outcome = "breach"
		}
		metrics.AuthAttempts.WithLabelValues("refresh", outcome).Inc()
		return nil, err
	}

	metrics.AuthAttempts.WithLabelValues("refresh", "success").Inc()
	return pair, nil
}

// # Logout

/*
Logout terminates the caller's session and credentials.

Description: Three teardowns in order: the session is revoked, the refresh
family invalidated, and the presented access token blacklisted until its
natural expiry. Already-gone sessions and families are treated as success so
a half-logged-out client can retry.

Parameters:
  - ctx: context.Context
  - claims: verified access claims of the caller
  - refreshToken: raw refresh credential, empty when the client lost it

Returns:
  - error: the first hard failure
*/
func (service *Service) Logout(ctx context.Context, claims *token.AccessClaims, refreshToken string) error {

	if claims == nil || claims.Subject == "" {
		return apperr.Unauthenticated("Authentication required")
	}

	now := service.clock.Now().UTC()

	if claims.SessionID != "" {
		if err := service.sessions.Delete(ctx, claims.SessionID, claims.Subject); err != nil && !apperr.IsNotFound(err) {
			metrics.AuthAttempts.WithLabelValues("logout", "error").Inc()
			return err
		}
	}

	if refreshToken != "" {
		err := service.tokens.InvalidateRefreshToken(ctx, refreshToken, revocation.ReasonUserLogout, claims.Subject)
		if err != nil && !apperr.IsNotFound(err) && apperr.KindOf(err) != apperr.KindUnauthenticated {
			metrics.AuthAttempts.WithLabelValues("logout", "error").Inc()
			return err
		}
	}

	if err := service.revoker.RevokeToken(ctx, revocation.Record{
		JTI:       claims.ID,
		UserID:    claims.Subject,
		Reason:    revocation.ReasonUserLogout,
		SessionID: claims.SessionID,
	}, claims.ExpiresAt.Time); err != nil {
		metrics.AuthAttempts.WithLabelValues("logout", "error").Inc()
		return err
	}

	metrics.AuthAttempts.WithLabelValues("logout", "success").Inc()
	service.record(ctx, audit.New(audit.ActionLogout, now).
		WithUser(claims.Subject).
		WithDetail("session_id", claims.SessionID))
	return nil
}

/*
LogoutAll terminates every session and token family of a user.

Parameters:
  - ctx: context.Context
  - userID: subject to log out everywhere
  - actorID: who requested it (the user, or an administrator)

Returns:
  - error: validation or storage failures
*/
func (service *Service) LogoutAll(ctx context.Context, userID, actorID string) error {

	if userID == "" {
		return validate.RequiredError(identity.FieldUserID, "This field is required")
	}

	now := service.clock.Now().UTC()

	sessions, err := service.sessions.DeleteUserSessions(ctx, userID, actorID)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("logout_all", "error").Inc()
		return err
	}

	families, err := service.tokens.InvalidateUserFamilies(ctx, userID, revocation.ReasonUserLogout, actorID)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("logout_all", "error").Inc()
		return err
	}

	metrics.AuthAttempts.WithLabelValues("logout_all", "success").Inc()
	service.record(ctx, audit.New(audit.ActionLogoutAll, now).
		WithUser(userID).
		WithActor(actorID).
		WithDetail("sessions", strconv.Itoa(sessions)).
		WithDetail("families", strconv.Itoa(families)))
	return nil
}

// # Password Change

/*
ChangePassword rotates the account password and revokes every credential.

Description: The current password must verify first. After the hash is
replaced, every session and token family of the user is torn down; a stolen
credential dies with the old password.

Parameters:
  - ctx: context.Context
  - userID: subject
  - currentPassword: the password being replaced
  - newPassword: the replacement, subject to the credential policy

Returns:
  - error: [apperr.Unauthenticated] for a wrong current password, validation
    or storage failures
*/
func (service *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {

	// Validate input
	if err := (&validate.Validator{}).
		Required(identity.FieldCurrentPassword, currentPassword).
		Required(identity.FieldNewPassword, newPassword).
		Password(identity.FieldNewPassword, newPassword).
		Custom(identity.FieldNewPassword, currentPassword != "" && currentPassword == newPassword,
			"New password must differ from the current one").
		Err(); err != nil {
		return err
	}

	user, err := service.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if !sec.CheckPasswordHash(currentPassword, user.PasswordHash) {
		return apperr.Unauthenticated("Current password is incorrect")
	}

	hash, err := sec.HashPassword(newPassword)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := service.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}

	now := service.clock.Now().UTC()

	// Credentials minted under the old password must not survive
	if _, err := service.sessions.DeleteUserSessions(ctx, userID, userID); err != nil {
		service.log.Warn("password_change_session_teardown_failed", "user_id", userID, "error", err)
	}
	if _, err := service.tokens.InvalidateUserFamilies(ctx, userID, revocation.ReasonPasswordChanged, userID); err != nil {
		service.log.Warn("password_change_family_teardown_failed", "user_id", userID, "error", err)
	}

	service.record(ctx, audit.New(audit.ActionPasswordChanged, now).WithUser(userID))
	return nil
}

// # Session Introspection

// ValidateSession checks a session and slides its expiry window.
func (service *Service) ValidateSession(ctx context.Context, sessionID string) (*session.Record, error) {
	return service.sessions.Validate(ctx, sessionID)
}

// Sessions lists the user's active sessions.
func (service *Service) Sessions(ctx context.Context, userID string) ([]*session.Record, error) {
	return service.sessions.UserSessions(ctx, userID)
}

// RevokeSession terminates one session of the user.
func (service *Service) RevokeSession(ctx context.Context, sessionID, actorID string) error {
	return service.sessions.Delete(ctx, sessionID, actorID)
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
