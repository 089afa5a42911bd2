package auth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/example/contacts/internal/avatar"
	"github.com/example/contacts/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestSignup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, err := env.svc.Signup(ctx, "alice", "alice@example.com", "secret1", baseURL)
	require.NoError(t, err)
	require.False(t, user.Confirmed)
	require.Equal(t, models.RoleUser, user.Role)
	require.NotEqual(t, "secret1", user.PasswordHash)
	require.NotNil(t, user.Avatar)
	require.Equal(t, avatar.Gravatar("alice@example.com"), *user.Avatar)

	env.svc.Wait()
	msg := env.mailer.lastConfirmation(t)
	require.Equal(t, "alice@example.com", msg.To)
	require.Equal(t, "alice", msg.Username)
	require.Contains(t, msg.Link, baseURL+"api/auth/confirmed_email/")

	_, err = env.svc.Signup(ctx, "alice2", "alice@example.com", "secret2", baseURL)
	require.ErrorIs(t, err, ErrAccountExists)
}

func TestSignup_MailFailureDoesNotFail(t *testing.T) {
	env := newTestEnv(t)
	env.mailer.err = errors.New("smtp down")

	_, err := env.svc.Signup(context.Background(), "alice", "alice@example.com", "secret1", baseURL)
	require.NoError(t, err)
	env.svc.Wait()
}

func TestLogin_Failures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Login(ctx, "nobody@example.com", "secret1", SessionMeta{})
	require.ErrorIs(t, err, ErrInvalidEmail)

	_, err = env.svc.Signup(ctx, "alice", "alice@example.com", "secret1", baseURL)
	require.NoError(t, err)
	env.svc.Wait()

	_, err = env.svc.Login(ctx, "alice@example.com", "secret1", SessionMeta{})
	require.ErrorIs(t, err, ErrEmailNotConfirmed)

	_, err = env.svc.ConfirmEmail(ctx, tokenFromLink(env.mailer.lastConfirmation(t).Link))
	require.NoError(t, err)

	_, err = env.svc.Login(ctx, "alice@example.com", "wrong", SessionMeta{})
	require.ErrorIs(t, err, ErrInvalidPassword)

	pair, err := env.svc.Login(ctx, "alice@example.com", "secret1", SessionMeta{})
	require.NoError(t, err)
	require.Equal(t, "bearer", pair.TokenType)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
}

func TestRefresh_RotationAndReuseDetection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signupConfirmed(t, "alice", "alice@example.com", "secret1")

	p0, err := env.svc.Login(ctx, "alice@example.com", "secret1", SessionMeta{})
	require.NoError(t, err)

	p1, err := env.svc.Refresh(ctx, p0.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, p0.RefreshToken, p1.RefreshToken)

	// the new access token belongs to the same, still active session
	_, _, err = env.gate.Authenticate(ctx, p1.AccessToken)
	require.NoError(t, err)

	// replaying T0 is reuse: it fails and kills the session
	_, err = env.svc.Refresh(ctx, p0.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, err = env.svc.Refresh(ctx, p1.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, _, err = env.gate.Authenticate(ctx, p1.AccessToken)
	require.ErrorIs(t, err, ErrSessionInactive)
}

func TestRefresh_ReuseOnlyRevokesThatSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signupConfirmed(t, "alice", "alice@example.com", "secret1")

	laptop, err := env.svc.Login(ctx, "alice@example.com", "secret1", SessionMeta{UserAgent: "laptop"})
	require.NoError(t, err)
	phone, err := env.svc.Login(ctx, "alice@example.com", "secret1", SessionMeta{UserAgent: "phone"})
	require.NoError(t, err)

	_, err = env.svc.Refresh(ctx, laptop.RefreshToken)
	require.NoError(t, err)
	_, err = env.svc.Refresh(ctx, laptop.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, err = env.svc.Refresh(ctx, phone.RefreshToken)
	require.NoError(t, err)
}

func TestRefresh_ConcurrentSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signupConfirmed(t, "alice", "alice@example.com", "secret1")

	p0, err := env.svc.Login(ctx, "alice@example.com", "secret1", SessionMeta{})
	require.NoError(t, err)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.svc.Refresh(ctx, p0.RefreshToken); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, wins, int32(1))
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signupConfirmed(t, "alice", "alice@example.com", "secret1")

	p0, err := env.svc.Login(ctx, "alice@example.com", "secret1", SessionMeta{})
	require.NoError(t, err)

	_, err = env.svc.Refresh(ctx, p0.AccessToken)
	require.ErrorIs(t, err, ErrInvalidScope)
}

func TestLogoutAllAndSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signupConfirmed(t, "alice", "alice@example.com", "secret1")

	a, err := env.svc.Login(ctx, "alice@example.com", "secret1", SessionMeta{UserAgent: "a"})
	require.NoError(t, err)
	_, err = env.svc.Login(ctx, "alice@example.com", "secret1", SessionMeta{UserAgent: "b"})
	require.NoError(t, err)

	user, session, err := env.gate.Authenticate(ctx, a.AccessToken)
	require.NoError(t, err)

	list, err := env.svc.Sessions(ctx, user)
	require.NoError(t, err)
	require.Len(t, list, 2)

	require.ErrorIs(t, env.svc.RevokeSession(ctx, user, uuid.New()), ErrSessionNotFound)
	require.NoError(t, env.svc.RevokeSession(ctx, user, session.ID))
	list, err = env.svc.Sessions(ctx, user)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, env.svc.LogoutAll(ctx, user))
	list, err = env.svc.Sessions(ctx, user)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestRevokeSession_OtherUsersSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signupConfirmed(t, "alice", "alice@example.com", "secret1")
	env.signupConfirmed(t, "bob", "bob@example.com", "secret1")

	a, err := env.svc.Login(ctx, "alice@example.com", "secret1", SessionMeta{})
	require.NoError(t, err)
	b, err := env.svc.Login(ctx, "bob@example.com", "secret1", SessionMeta{})
	require.NoError(t, err)

	alice, _, err := env.gate.Authenticate(ctx, a.AccessToken)
	require.NoError(t, err)
	_, bobSession, err := env.gate.Authenticate(ctx, b.AccessToken)
	require.NoError(t, err)

	require.ErrorIs(t, env.svc.RevokeSession(ctx, alice, bobSession.ID), ErrSessionNotFound)
}

func TestConfirmEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.ConfirmEmail(ctx, "garbage")
	require.ErrorIs(t, err, ErrDecode)

	orphan, err := env.tokens.IssueSingleUse("ghost@example.com", ScopeEmailVerify)
	require.NoError(t, err)
	_, err = env.svc.ConfirmEmail(ctx, orphan)
	require.ErrorIs(t, err, ErrVerification)

	env.signupConfirmed(t, "alice", "alice@example.com", "secret1")
	already, err := env.svc.ConfirmEmail(ctx, tokenFromLink(env.mailer.lastConfirmation(t).Link))
	require.NoError(t, err)
	require.True(t, already)

	reset, err := env.tokens.IssueSingleUse("alice@example.com", ScopePasswordReset)
	require.NoError(t, err)
	_, err = env.svc.ConfirmEmail(ctx, reset)
	require.ErrorIs(t, err, ErrDecode)
}

func TestRequestConfirmation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	already, err := env.svc.RequestConfirmation(ctx, "ghost@example.com", baseURL)
	require.NoError(t, err)
	require.False(t, already)

	_, err = env.svc.Signup(ctx, "alice", "alice@example.com", "secret1", baseURL)
	require.NoError(t, err)
	already, err = env.svc.RequestConfirmation(ctx, "alice@example.com", baseURL)
	require.NoError(t, err)
	require.False(t, already)
	env.svc.Wait()
	require.Len(t, env.mailer.confirmations, 2)

	_, err = env.svc.ConfirmEmail(ctx, tokenFromLink(env.mailer.lastConfirmation(t).Link))
	require.NoError(t, err)
	already, err = env.svc.RequestConfirmation(ctx, "alice@example.com", baseURL)
	require.NoError(t, err)
	require.True(t, already)
}

func TestPasswordReset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.ErrorIs(t, env.svc.ForgotPassword(ctx, "ghost@example.com", baseURL), ErrUserNotFound)

	env.signupConfirmed(t, "alice", "alice@example.com", "secret1")
	before, err := env.svc.Login(ctx, "alice@example.com", "secret1", SessionMeta{})
	require.NoError(t, err)

	require.NoError(t, env.svc.ForgotPassword(ctx, "alice@example.com", baseURL))
	env.svc.Wait()
	msg := env.mailer.lastReset(t)
	require.Contains(t, msg.Link, baseURL+"api/users/reset_password/")

	require.ErrorIs(t, env.svc.ResetPassword(ctx, "garbage", "newpass1"), ErrDecode)
	require.NoError(t, env.svc.ResetPassword(ctx, tokenFromLink(msg.Link), "newpass1"))

	// existing sessions are gone
	_, _, err = env.gate.Authenticate(ctx, before.AccessToken)
	require.ErrorIs(t, err, ErrSessionInactive)

	_, err = env.svc.Login(ctx, "alice@example.com", "secret1", SessionMeta{})
	require.ErrorIs(t, err, ErrInvalidPassword)
	_, err = env.svc.Login(ctx, "alice@example.com", "newpass1", SessionMeta{})
	require.NoError(t, err)
}

func TestSetRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signupConfirmed(t, "admin", "admin@example.com", "secret1")
	env.signupConfirmed(t, "bob", "bob@example.com", "secret1")

	admin, err := env.db.UserByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	bob, err := env.db.UserByEmail(ctx, "bob@example.com")
	require.NoError(t, err)

	_, err = env.svc.SetRole(ctx, admin, bob.ID, models.Role("root"))
	require.ErrorIs(t, err, ErrInvalidRole)
	_, err = env.svc.SetRole(ctx, admin, admin.ID, models.RoleUser)
	require.ErrorIs(t, err, ErrForbidden)
	_, err = env.svc.SetRole(ctx, admin, 9999, models.RoleModerator)
	require.ErrorIs(t, err, ErrUserNotFound)

	updated, err := env.svc.SetRole(ctx, admin, bob.ID, models.RoleModerator)
	require.NoError(t, err)
	require.Equal(t, models.RoleModerator, updated.Role)
}

type fakeUploader struct {
	key  string
	data []byte
}

func (f *fakeUploader) Upload(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.key, f.data = key, b
	return "https://cdn.example.com/" + key, nil
}

func TestUpdateAvatar(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signupConfirmed(t, "alice", "alice@example.com", "secret1")
	user, err := env.db.UserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)

	_, err = env.svc.UpdateAvatar(ctx, user, bytes.NewReader([]byte("img")), 3, "image/png")
	require.ErrorIs(t, err, ErrAvatarsDisabled)

	up := &fakeUploader{}
	env.svc.SetAvatarUploader(up)
	updated, err := env.svc.UpdateAvatar(ctx, user, bytes.NewReader([]byte("img")), 3, "image/png")
	require.NoError(t, err)
	require.Equal(t, []byte("img"), up.data)
	require.Equal(t, "https://cdn.example.com/"+up.key, *updated.Avatar)
}
