// Package storage defines the persistence contracts used by the auth core and
// the route layer. Implementations live in the memory, sqlite and postgres
// subpackages and must be safe for concurrent use.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/contacts/internal/models"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a user, session or contact does not exist
	// (or is not visible to the requesting owner).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned on unique violations: user email, or contact
	// email within one owner's address book.
	ErrAlreadyExists = errors.New("already exists")
)

// UserStore persists user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) (*models.User, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByID(ctx context.Context, id int64) (*models.User, error)
	ConfirmUser(ctx context.Context, email string) error
	UpdatePassword(ctx context.Context, userID int64, hash string) error
	UpdateAvatar(ctx context.Context, userID int64, url string) (*models.User, error)
	UpdateRole(ctx context.Context, userID int64, role models.Role) (*models.User, error)
}

// SessionStore persists login sessions and the refresh token bound to each.
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.Session) error
	SessionByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	// RotateSession replaces the stored token hash only if it still equals
	// oldHash and the session is not revoked. It reports whether the swap
	// happened; a false result with a nil error means the presented token was
	// stale.
	RotateSession(ctx context.Context, id uuid.UUID, oldHash, newHash string, expiresAt time.Time) (bool, error)
	RevokeSession(ctx context.Context, id uuid.UUID) error
	RevokeUserSessions(ctx context.Context, userID int64) error
	// ListUserSessions returns the sessions of a user that are active at now,
	// newest first.
	ListUserSessions(ctx context.Context, userID int64, now time.Time) ([]*models.Session, error)
}

// ContactQuery selects contacts for listing. A zero UserID lists across all
// owners. Empty name filters are ignored.
type ContactQuery struct {
	UserID    int64
	FirstName string
	LastName  string
	Limit     int
	Offset    int
}

// ContactStore persists address book entries.
type ContactStore interface {
	CreateContact(ctx context.Context, c *models.Contact) (*models.Contact, error)
	ContactByID(ctx context.Context, userID, id int64) (*models.Contact, error)
	ContactByEmail(ctx context.Context, userID int64, email string) (*models.Contact, error)
	ListContacts(ctx context.Context, q ContactQuery) ([]*models.Contact, error)
	// UpcomingBirthdays returns the owner's contacts whose next birthday is at
	// most days away from today. Pagination is applied after filtering.
	UpcomingBirthdays(ctx context.Context, userID int64, today time.Time, days, limit, offset int) ([]*models.Contact, error)
	UpdateContact(ctx context.Context, c *models.Contact) (*models.Contact, error)
	DeleteContact(ctx context.Context, userID, id int64) (*models.Contact, error)
}

// Store is the full persistence contract of the service.
type Store interface {
	UserStore
	SessionStore
	ContactStore
	Ping(ctx context.Context) error
	Close() error
}

// FilterBirthdays keeps the contacts whose next birthday is within days of
// today and applies limit/offset to the result.
func FilterBirthdays(all []*models.Contact, today time.Time, days, limit, offset int) []*models.Contact {
	var out []*models.Contact
	for _, c := range all {
		if models.DaysToBirthday(c.BirthDate, today) <= days {
			out = append(out, c)
		}
	}
	return Page(out, limit, offset)
}

// Page applies limit/offset to an in-memory slice. A non-positive limit
// means no limit.
func Page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
