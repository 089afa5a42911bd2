package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/example/contacts/internal/models"
	"github.com/example/contacts/internal/storage"
	"github.com/google/uuid"
)

// Gate resolves bearer access tokens to an identity and enforces roles.
type Gate struct {
	tokens   *TokenService
	users    storage.UserStore
	sessions storage.SessionStore
	now      func() time.Time
}

func NewGate(tokens *TokenService, users storage.UserStore, sessions storage.SessionStore) *Gate {
	return &Gate{tokens: tokens, users: users, sessions: sessions, now: time.Now}
}

// Authenticate verifies an access token and returns its user and session.
// The session must be active and owned by the user.
func (g *Gate) Authenticate(ctx context.Context, accessToken string) (*models.User, *models.Session, error) {
	const op = "auth.Gate.Authenticate"

	claims, err := g.tokens.VerifyAccess(accessToken)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	user, err := g.users.UserByEmail(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	sid, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}
	session, err := g.sessions.SessionByID(ctx, sid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, fmt.Errorf("%s: %w", op, ErrSessionInactive)
		}
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	if session.UserID != user.ID || !session.Active(g.now()) {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrSessionInactive)
	}

	return user, session, nil
}

// Authorize returns ErrForbidden unless the user's role is one of allowed.
func Authorize(user *models.User, allowed ...models.Role) error {
	if user == nil || !slices.Contains(allowed, user.Role) {
		return ErrForbidden
	}
	return nil
}
