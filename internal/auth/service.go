// Package auth implements credential hashing, JWT issuance and verification,
// the authorization gate and the account/session protocols built on them.
//
// Service keeps no per-request state and is safe for concurrent use as long
// as the stores it is given are.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/example/contacts/internal/avatar"
	"github.com/example/contacts/internal/logctx"
	"github.com/example/contacts/internal/mail"
	"github.com/example/contacts/internal/models"
	"github.com/example/contacts/internal/redact"
	"github.com/example/contacts/internal/storage"
	"github.com/google/uuid"
)

const mailTimeout = 30 * time.Second

// SessionMeta describes the client that opened a session.
type SessionMeta struct {
	UserAgent string
	IP        string
}

type Service struct {
	users    storage.UserStore
	sessions storage.SessionStore
	hasher   Hasher
	tokens   *TokenService
	mailer   mail.Sender
	avatars  avatar.Uploader // nil when uploads are not configured
	now      func() time.Time

	mailTimeout time.Duration
	wg          sync.WaitGroup
}

func NewService(users storage.UserStore, sessions storage.SessionStore, hasher Hasher, tokens *TokenService, mailer mail.Sender) *Service {
	return &Service{
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		tokens:   tokens,
		mailer:   mailer,
		now:      time.Now,

		mailTimeout: mailTimeout,
	}
}

// SetAvatarUploader enables avatar uploads.
func (s *Service) SetAvatarUploader(u avatar.Uploader) {
	s.avatars = u
}

// Wait blocks until background mail deliveries have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// WaitContext is Wait bounded by ctx. Deliveries still running when ctx ends
// are abandoned and ctx's error is returned.
func (s *Service) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Signup creates an unconfirmed user and mails a confirmation link. Mail
// delivery happens in the background and never fails the signup.
func (s *Service) Signup(ctx context.Context, username, email, password, baseURL string) (*models.User, error) {
	const op = "auth.Service.Signup"

	if _, err := s.users.UserByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrAccountExists)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pic := avatar.Gravatar(email)
	user, err := s.users.CreateUser(ctx, &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleUser,
		Avatar:       &pic,
	})
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrAccountExists)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	logctx.From(ctx).Info("user_signed_up", slog.Int64("user_id", user.ID), slog.String("email", redact.Email(email)))
	s.sendConfirmation(ctx, user, baseURL)
	return user, nil
}

// Login checks credentials and opens a new session.
func (s *Service) Login(ctx context.Context, email, password string, meta SessionMeta) (*models.TokenPair, error) {
	const op = "auth.Service.Login"

	user, err := s.users.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidEmail)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !user.Confirmed {
		return nil, fmt.Errorf("%s: %w", op, ErrEmailNotConfirmed)
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidPassword)
	}

	sid := uuid.New()
	pair, refreshExp, err := s.issuePair(user.Email, sid)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	err = s.sessions.CreateSession(ctx, &models.Session{
		ID:        sid,
		UserID:    user.ID,
		TokenHash: HashToken(pair.RefreshToken),
		UserAgent: meta.UserAgent,
		IP:        meta.IP,
		CreatedAt: s.now().UTC(),
		ExpiresAt: refreshExp,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	logctx.From(ctx).Info("user_logged_in", slog.Int64("user_id", user.ID), slog.String("session_id", sid.String()))
	return pair, nil
}

// Refresh rotates the refresh token of a session. The stored token is swapped
// with a compare-and-swap; a presented token that is no longer the current
// one means it was replayed, and the whole session is revoked.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	const op = "auth.Service.Refresh"

	lg := logctx.From(ctx)

	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.users.UserByEmail(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sid, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
	}
	session, err := s.sessions.SessionByID(ctx, sid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if session.UserID != user.ID || !session.Active(s.now()) {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
	}

	pair, refreshExp, err := s.issuePair(user.Email, sid)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	swapped, err := s.sessions.RotateSession(ctx, sid, HashToken(refreshToken), HashToken(pair.RefreshToken), refreshExp)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !swapped {
		lg.Warn("refresh_token_reuse_detected",
			slog.String("op", op),
			slog.Int64("user_id", user.ID),
			slog.String("session_id", sid.String()),
		)
		if err := s.sessions.RevokeSession(ctx, sid); err != nil {
			lg.Error("revoke_session_failed", slog.String("op", op), slog.String("err", err.Error()))
		}
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
	}

	return pair, nil
}

// Logout ends one session.
func (s *Service) Logout(ctx context.Context, session *models.Session) error {
	if err := s.sessions.RevokeSession(ctx, session.ID); err != nil {
		return fmt.Errorf("auth.Service.Logout: %w", err)
	}
	return nil
}

// LogoutAll ends every session of the user.
func (s *Service) LogoutAll(ctx context.Context, user *models.User) error {
	if err := s.sessions.RevokeUserSessions(ctx, user.ID); err != nil {
		return fmt.Errorf("auth.Service.LogoutAll: %w", err)
	}
	return nil
}

// Sessions lists the user's active sessions, newest first.
func (s *Service) Sessions(ctx context.Context, user *models.User) ([]*models.Session, error) {
	list, err := s.sessions.ListUserSessions(ctx, user.ID, s.now())
	if err != nil {
		return nil, fmt.Errorf("auth.Service.Sessions: %w", err)
	}
	return list, nil
}

// RevokeSession ends one of the user's own sessions.
func (s *Service) RevokeSession(ctx context.Context, user *models.User, id uuid.UUID) error {
	const op = "auth.Service.RevokeSession"

	session, err := s.sessions.SessionByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrSessionNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if session.UserID != user.ID {
		return fmt.Errorf("%s: %w", op, ErrSessionNotFound)
	}
	if err := s.sessions.RevokeSession(ctx, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RequestConfirmation mails a new confirmation link. It reports whether the
// address was already confirmed. Unknown addresses get no mail and no error.
func (s *Service) RequestConfirmation(ctx context.Context, email, baseURL string) (bool, error) {
	const op = "auth.Service.RequestConfirmation"

	user, err := s.users.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if user.Confirmed {
		return true, nil
	}
	s.sendConfirmation(ctx, user, baseURL)
	return false, nil
}

// ConfirmEmail marks the token's user as confirmed. It reports whether the
// user was already confirmed.
func (s *Service) ConfirmEmail(ctx context.Context, token string) (bool, error) {
	const op = "auth.Service.ConfirmEmail"

	email, err := s.tokens.ResolveSingleUse(token, ScopeEmailVerify)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.users.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, fmt.Errorf("%s: %w", op, ErrVerification)
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if user.Confirmed {
		return true, nil
	}
	if err := s.users.ConfirmUser(ctx, email); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	logctx.From(ctx).Info("email_confirmed", slog.Int64("user_id", user.ID))
	return false, nil
}

// ForgotPassword mails a password reset link.
func (s *Service) ForgotPassword(ctx context.Context, email, baseURL string) error {
	const op = "auth.Service.ForgotPassword"

	user, err := s.users.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	s.sendAsync(ctx, "reset", func(ctx context.Context) error {
		token, err := s.tokens.IssueSingleUse(user.Email, ScopePasswordReset)
		if err != nil {
			return err
		}
		return s.mailer.SendReset(ctx, mail.Message{
			To:       user.Email,
			Username: user.Username,
			Link:     baseURL + "api/users/reset_password/" + token,
		})
	})
	return nil
}

// ResetPassword sets a new password for the token's user and ends all of the
// user's sessions.
func (s *Service) ResetPassword(ctx context.Context, token, password string) error {
	const op = "auth.Service.ResetPassword"

	email, err := s.tokens.ResolveSingleUse(token, ScopePasswordReset)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.users.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.sessions.RevokeUserSessions(ctx, user.ID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	logctx.From(ctx).Info("password_reset", slog.Int64("user_id", user.ID))
	return nil
}

// SetRole changes another user's role. Admins cannot change their own role.
func (s *Service) SetRole(ctx context.Context, actor *models.User, userID int64, role models.Role) (*models.User, error) {
	const op = "auth.Service.SetRole"

	if !role.Valid() {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidRole)
	}
	if actor.ID == userID {
		return nil, fmt.Errorf("%s: %w", op, ErrForbidden)
	}

	user, err := s.users.UpdateRole(ctx, userID, role)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	logctx.From(ctx).Info("role_changed",
		slog.Int64("actor_id", actor.ID),
		slog.Int64("user_id", userID),
		slog.String("role", string(role)),
	)
	return user, nil
}

// UpdateAvatar uploads a new picture for the user, replacing the old one.
func (s *Service) UpdateAvatar(ctx context.Context, user *models.User, r io.Reader, size int64, contentType string) (*models.User, error) {
	const op = "auth.Service.UpdateAvatar"

	if s.avatars == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrAvatarsDisabled)
	}

	url, err := s.avatars.Upload(ctx, "users/"+strconv.FormatInt(user.ID, 10), r, size, contentType)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	updated, err := s.users.UpdateAvatar(ctx, user.ID, url)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return updated, nil
}

func (s *Service) issuePair(subject string, sid uuid.UUID) (*models.TokenPair, time.Time, error) {
	access, accessExp, err := s.tokens.IssueAccess(subject, sid)
	if err != nil {
		return nil, time.Time{}, err
	}
	refresh, refreshExp, err := s.tokens.IssueRefresh(subject, sid)
	if err != nil {
		return nil, time.Time{}, err
	}
	return &models.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresAt:    accessExp,
	}, refreshExp, nil
}

func (s *Service) sendConfirmation(ctx context.Context, user *models.User, baseURL string) {
	s.sendAsync(ctx, "confirmation", func(ctx context.Context) error {
		token, err := s.tokens.IssueSingleUse(user.Email, ScopeEmailVerify)
		if err != nil {
			return err
		}
		return s.mailer.SendConfirmation(ctx, mail.Message{
			To:       user.Email,
			Username: user.Username,
			Link:     baseURL + "api/auth/confirmed_email/" + token,
		})
	})
}

// sendAsync runs fn after the request returns. Failures are only logged.
func (s *Service) sendAsync(ctx context.Context, kind string, fn func(context.Context) error) {
	lg := logctx.From(ctx)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.mailTimeout)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		if err := fn(ctx); err != nil {
			lg.Error("mail_send_failed", slog.String("kind", kind), slog.String("err", err.Error()))
		}
	}()
}
