// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package auth

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/averden/gatehouse/internal/audit"
	"github.com/averden/gatehouse/internal/identity"
	"github.com/averden/gatehouse/internal/platform/apperr"
	"github.com/averden/gatehouse/internal/platform/clock"
	"github.com/averden/gatehouse/internal/platform/sec"
	"github.com/averden/gatehouse/internal/revocation"
	"github.com/averden/gatehouse/internal/session"
	"github.com/averden/gatehouse/internal/token"
)

// stubTokens records token-manager traffic without signing anything.
type stubTokens struct {
	generateErr  error
	lastSession  string
	rotated      []string
	invalidated  []string
	familiesGone []string
}

func (s *stubTokens) Generate(_ context.Context, user *identity.User, sessionID string) (*token.Pair, error) {
	if s.generateErr != nil {
		return nil, s.generateErr
	}
	s.lastSession = sessionID
	return &token.Pair{AccessToken: "access-" + user.ID, RefreshToken: "refresh-" + user.ID}, nil
}

func (s *stubTokens) Rotate(_ context.Context, refreshToken string) (*token.Pair, error) {
	s.rotated = append(s.rotated, refreshToken)
	return &token.Pair{AccessToken: "rotated-access", RefreshToken: "rotated-refresh"}, nil
}

func (s *stubTokens) Verify(context.Context, string) (*token.AccessClaims, error) {
	return nil, apperr.Unauthenticated("Invalid access token")
}

func (s *stubTokens) InvalidateRefreshToken(_ context.Context, refreshToken string, _ revocation.Reason, _ string) error {
	s.invalidated = append(s.invalidated, refreshToken)
	return nil
}

func (s *stubTokens) InvalidateUserFamilies(_ context.Context, userID string, _ revocation.Reason, _ string) (int, error) {
	s.familiesGone = append(s.familiesGone, userID)
	return 2, nil
}

// stubSessions is an in-memory SessionManager.
type stubSessions struct {
	created   []*session.Record
	deleted   []string
	userWipes []string
	clk       clock.Clock
}

func (s *stubSessions) Create(_ context.Context, userID string, opts session.CreateOptions) (*session.Record, error) {
	record := &session.Record{
		ID:     "sess-" + userID,
		UserID: userID,
		Status: session.StatusActive,
		Method: opts.Method,
		IP:     opts.IP,
	}
	s.created = append(s.created, record)
	return record, nil
}

func (s *stubSessions) Validate(_ context.Context, id string) (*session.Record, error) {
	for _, record := range s.created {
		if record.ID == id {
			return record, nil
		}
	}
	return nil, apperr.NotFound("Session")
}

func (s *stubSessions) Delete(_ context.Context, id, _ string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubSessions) DeleteUserSessions(_ context.Context, userID, _ string) (int, error) {
	s.userWipes = append(s.userWipes, userID)
	return 1, nil
}

func (s *stubSessions) UserSessions(_ context.Context, userID string) ([]*session.Record, error) {
	var out []*session.Record
	for _, record := range s.created {
		if record.UserID == userID {
			out = append(out, record)
		}
	}
	return out, nil
}

// stubRevoker records blacklisted access tokens.
type stubRevoker struct {
	records []revocation.Record
}

func (s *stubRevoker) RevokeToken(_ context.Context, rec revocation.Record, _ time.Time) error {
	s.records = append(s.records, rec)
	return nil
}

type authFixture struct {
	service  *Service
	users    *identity.MemoryStore
	tokens   *stubTokens
	sessions *stubSessions
	revoker  *stubRevoker
	audits   *audit.MemoryRecorder
	clock    *clock.Fake
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	clk := clock.NewFake(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	fixture := &authFixture{
		users:    identity.NewMemoryStore(),
		tokens:   &stubTokens{},
		sessions: &stubSessions{clk: clk},
		revoker:  &stubRevoker{},
		audits:   audit.NewMemoryRecorder(),
		clock:    clk,
	}
	fixture.service = NewService(fixture.users, fixture.tokens, fixture.sessions,
		fixture.revoker, fixture.audits, Options{DefaultRoleID: "member"}, clk, slog.Default())
	return fixture
}

// seedUser registers an account directly in the store.
func (fixture *authFixture) seedUser(t *testing.T, id, email, password string, status identity.Status) *identity.User {
	t.Helper()

	hash, err := sec.HashPassword(password)
	require.NoError(t, err)

	assigned := fixture.clock.Now()
	user := &identity.User{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		Status:       status,
		RoleID:       "member",
		RoleAssigned: &assigned,
	}
	require.NoError(t, fixture.users.Create(context.Background(), user))
	return user
}

func TestRegister(t *testing.T) {
	fixture := newAuthFixture(t)

	user, err := fixture.service.Register(context.Background(), RegisterInput{
		Email:       "  Ada@Averden.IO ",
		Password:    "sturdy-pass1",
		DisplayName: "Ada",
	})
	require.NoError(t, err)

	assert.Equal(t, "ada@averden.io", user.Email)
	assert.Equal(t, "member", user.RoleID)
	assert.Equal(t, identity.StatusActive, user.Status)
	assert.Empty(t, user.PasswordHash)

	// The stored hash verifies the original password
	stored, err := fixture.users.FindByEmail(context.Background(), "ada@averden.io")
	require.NoError(t, err)
	assert.True(t, sec.CheckPasswordHash("sturdy-pass1", stored.PasswordHash))
}

func TestRegister_DuplicateEmail(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.seedUser(t, "u1", "ada@averden.io", "sturdy-pass1", identity.StatusActive)

	_, err := fixture.service.Register(context.Background(), RegisterInput{
		Email:    "ada@averden.io",
		Password: "sturdy-pass1",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestRegister_WeakPassword(t *testing.T) {
	fixture := newAuthFixture(t)

	_, err := fixture.service.Register(context.Background(), RegisterInput{
		Email:    "ada@averden.io",
		Password: "short",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}

func TestLogin(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.seedUser(t, "u1", "ada@averden.io", "sturdy-pass1", identity.StatusActive)

	result, err := fixture.service.Login(context.Background(), LoginInput{
		Email:    "Ada@Averden.io",
		Password: "sturdy-pass1",
		IP:       "203.0.113.9",
	})
	require.NoError(t, err)

	assert.Equal(t, "u1", result.User.ID)
	assert.Empty(t, result.User.PasswordHash)
	assert.Equal(t, "sess-u1", result.Session.ID)
	assert.Equal(t, "access-u1", result.Tokens.AccessToken)

	// The pair was minted against the freshly created session
	assert.Equal(t, "sess-u1", fixture.tokens.lastSession)
}

func TestLogin_UniformCredentialErrors(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.seedUser(t, "u1", "ada@averden.io", "sturdy-pass1", identity.StatusActive)

	_, unknownErr := fixture.service.Login(context.Background(), LoginInput{
		Email: "nobody@averden.io", Password: "sturdy-pass1",
	})
	_, wrongErr := fixture.service.Login(context.Background(), LoginInput{
		Email: "ada@averden.io", Password: "not-the-password1",
	})

	require.Error(t, unknownErr)
	require.Error(t, wrongErr)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(unknownErr))
	assert.Equal(t, unknownErr.Error(), wrongErr.Error())
}

func TestLogin_SuspendedAccount(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.seedUser(t, "u1", "ada@averden.io", "sturdy-pass1", identity.StatusSuspended)

	_, err := fixture.service.Login(context.Background(), LoginInput{
		Email: "ada@averden.io", Password: "sturdy-pass1",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestLogin_RevokedRole(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.seedUser(t, "u1", "ada@averden.io", "sturdy-pass1", identity.StatusActive)
	require.NoError(t, fixture.users.RevokeRole(context.Background(), "u1", fixture.clock.Now()))

	_, err := fixture.service.Login(context.Background(), LoginInput{
		Email: "ada@averden.io", Password: "sturdy-pass1",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "Access has been revoked or expired")

	failures := fixture.audits.ByAction(audit.ActionLoginFailed)
	require.Len(t, failures, 1)
	assert.Equal(t, "role_revoked_or_expired", failures[0].Detail["cause"])
}

func TestLogin_ExpiredRole(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.seedUser(t, "u1", "ada@averden.io", "sturdy-pass1", identity.StatusActive)

	expiry := fixture.clock.Now().Add(-time.Hour)
	require.NoError(t, fixture.users.AssignRole(context.Background(), "u1", "member",
		expiry.Add(-24*time.Hour), &expiry))

	_, err := fixture.service.Login(context.Background(), LoginInput{
		Email: "ada@averden.io", Password: "sturdy-pass1",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "Access has been revoked or expired")

	failures := fixture.audits.ByAction(audit.ActionLoginFailed)
	require.Len(t, failures, 1)
	assert.Equal(t, "role_revoked_or_expired", failures[0].Detail["cause"])
}

func TestLogin_TokenFailureRollsBackSession(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.seedUser(t, "u1", "ada@averden.io", "sturdy-pass1", identity.StatusActive)
	fixture.tokens.generateErr = apperr.Internal(assert.AnError)

	_, err := fixture.service.Login(context.Background(), LoginInput{
		Email: "ada@averden.io", Password: "sturdy-pass1",
	})
	require.Error(t, err)

	// The orphaned session was torn down again
	require.Len(t, fixture.sessions.created, 1)
	assert.Equal(t, []string{"sess-u1"}, fixture.sessions.deleted)
}

func TestRefresh(t *testing.T) {
	fixture := newAuthFixture(t)

	pair, err := fixture.service.Refresh(context.Background(), "some-refresh")
	require.NoError(t, err)
	assert.Equal(t, "rotated-access", pair.AccessToken)
	assert.Equal(t, []string{"some-refresh"}, fixture.tokens.rotated)
}

func TestLogout(t *testing.T) {
	fixture := newAuthFixture(t)

	claims := &token.AccessClaims{TokenType: token.TypeAccess, SessionID: "sess-u1"}
	claims.Subject = "u1"
	claims.ID = "jti-1"
	claims.ExpiresAt = jwt.NewNumericDate(fixture.clock.Now().Add(15 * time.Minute))

	require.NoError(t, fixture.service.Logout(context.Background(), claims, "refresh-raw"))

	assert.Equal(t, []string{"sess-u1"}, fixture.sessions.deleted)
	assert.Equal(t, []string{"refresh-raw"}, fixture.tokens.invalidated)

	// The presented access token landed on the blacklist
	require.Len(t, fixture.revoker.records, 1)
	assert.Equal(t, "jti-1", fixture.revoker.records[0].JTI)
	assert.Equal(t, revocation.ReasonUserLogout, fixture.revoker.records[0].Reason)
}

func TestLogout_WithoutPrincipal(t *testing.T) {
	fixture := newAuthFixture(t)

	err := fixture.service.Logout(context.Background(), nil, "")
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}

func TestLogoutAll(t *testing.T) {
	fixture := newAuthFixture(t)

	require.NoError(t, fixture.service.LogoutAll(context.Background(), "u1", "admin-1"))

	assert.Equal(t, []string{"u1"}, fixture.sessions.userWipes)
	assert.Equal(t, []string{"u1"}, fixture.tokens.familiesGone)
}

func TestChangePassword(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.seedUser(t, "u1", "ada@averden.io", "sturdy-pass1", identity.StatusActive)

	err := fixture.service.ChangePassword(context.Background(), "u1", "sturdy-pass1", "new-sturdy-pass2")
	require.NoError(t, err)

	// The new password verifies, the old one no longer does
	stored, err := fixture.users.FindByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, sec.CheckPasswordHash("new-sturdy-pass2", stored.PasswordHash))
	assert.False(t, sec.CheckPasswordHash("sturdy-pass1", stored.PasswordHash))

	// Every credential issued under the old password is gone
	assert.Equal(t, []string{"u1"}, fixture.sessions.userWipes)
	assert.Equal(t, []string{"u1"}, fixture.tokens.familiesGone)
}

func TestChangePassword_WrongCurrent(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.seedUser(t, "u1", "ada@averden.io", "sturdy-pass1", identity.StatusActive)

	err := fixture.service.ChangePassword(context.Background(), "u1", "not-the-password1", "new-sturdy-pass2")
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))

	assert.Empty(t, fixture.sessions.userWipes)
	assert.Empty(t, fixture.tokens.familiesGone)
}

func TestChangePassword_SameAsOld(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.seedUser(t, "u1", "ada@averden.io", "sturdy-pass1", identity.StatusActive)

	err := fixture.service.ChangePassword(context.Background(), "u1", "sturdy-pass1", "sturdy-pass1")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}

func TestKeyService(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.seedUser(t, "u1", "ada@averden.io", "sturdy-pass1", identity.StatusActive)

	keys := NewKeyService(fixture.service, identity.NewMemoryAPIKeyStore())

	created, err := keys.CreateKey(context.Background(), "u1", "ci-deploy", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, created.Raw)
	assert.True(t, len(created.Raw) > len(apiKeyPrefix))
	assert.Equal(t, sec.HashToken(created.Raw), created.Key.Digest)

	listed, err := keys.ListKeys(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, listed, 1)

	require.NoError(t, keys.RevokeKey(context.Background(), "u1", created.Key.ID, "u1"))

	// Idempotent second revocation
	require.NoError(t, keys.RevokeKey(context.Background(), "u1", created.Key.ID, "u1"))

	listed, err = keys.ListKeys(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, listed[0].RevokedAt)
}

func TestKeyService_ForeignKeyNotVisible(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.seedUser(t, "u1", "ada@averden.io", "sturdy-pass1", identity.StatusActive)
	fixture.seedUser(t, "u2", "bob@averden.io", "sturdy-pass1", identity.StatusActive)

	keys := NewKeyService(fixture.service, identity.NewMemoryAPIKeyStore())

	created, err := keys.CreateKey(context.Background(), "u1", "ci-deploy", nil)
	require.NoError(t, err)

	err = keys.RevokeKey(context.Background(), "u2", created.Key.ID, "u2")
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
}
