package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is the closed set of access levels a user can hold.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// User represents an account in the system
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	Confirmed    bool
	Role         Role
	Avatar       *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session is one login of a user. It holds the hash of the single refresh
// token that is currently valid for it.
type Session struct {
	ID        uuid.UUID
	UserID    int64
	TokenHash string
	UserAgent string
	IP        string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Active reports whether the session can still be used at the given moment.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
}
