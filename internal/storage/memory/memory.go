// Package memory is an in-process storage.Store. It is used by tests and by
// DB_ADAPTER=memory for local runs; nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/contacts/internal/models"
	"github.com/example/contacts/internal/storage"
	"github.com/google/uuid"
)

type DB struct {
	mu         sync.RWMutex
	users      map[int64]*models.User
	byEmail    map[string]int64
	sessions   map[uuid.UUID]*models.Session
	contacts   map[int64]*models.Contact
	userSeq    int64
	contactSeq int64
}

func New() *DB {
	return &DB{
		users:    map[int64]*models.User{},
		byEmail:  map[string]int64{},
		sessions: map[uuid.UUID]*models.Session{},
		contacts: map[int64]*models.Contact{},
	}
}

func (m *DB) Ping(context.Context) error { return nil }
func (m *DB) Close() error               { return nil }

func (m *DB) CreateUser(_ context.Context, u *models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEmail[u.Email]; ok {
		return nil, fmt.Errorf("storage.memory.CreateUser: %w", storage.ErrAlreadyExists)
	}
	m.userSeq++
	cp := *u
	cp.ID = m.userSeq
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	if cp.Role == "" {
		cp.Role = models.RoleUser
	}
	m.users[cp.ID] = &cp
	m.byEmail[cp.Email] = cp.ID
	return copyUser(&cp), nil
}

func (m *DB) UserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[email]
	if !ok {
		return nil, fmt.Errorf("storage.memory.UserByEmail: %w", storage.ErrNotFound)
	}
	return copyUser(m.users[id]), nil
}

func (m *DB) UserByID(_ context.Context, id int64) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("storage.memory.UserByID: %w", storage.ErrNotFound)
	}
	return copyUser(u), nil
}

func (m *DB) ConfirmUser(_ context.Context, email string) error {
	return m.mutateUserByEmail(email, func(u *models.User) { u.Confirmed = true })
}

func (m *DB) UpdatePassword(_ context.Context, userID int64, hash string) error {
	_, err := m.mutateUser(userID, func(u *models.User) { u.PasswordHash = hash })
	return err
}

func (m *DB) UpdateAvatar(_ context.Context, userID int64, url string) (*models.User, error) {
	return m.mutateUser(userID, func(u *models.User) { u.Avatar = &url })
}

func (m *DB) UpdateRole(_ context.Context, userID int64, role models.Role) (*models.User, error) {
	return m.mutateUser(userID, func(u *models.User) { u.Role = role })
}

func (m *DB) mutateUserByEmail(email string, fn func(*models.User)) error {
	m.mu.Lock()
	id, ok := m.byEmail[email]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("storage.memory.mutateUser: %w", storage.ErrNotFound)
	}
	_, err := m.mutateUser(id, fn)
	return err
}

func (m *DB) mutateUser(id int64, fn func(*models.User)) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("storage.memory.mutateUser: %w", storage.ErrNotFound)
	}
	fn(u)
	u.UpdatedAt = time.Now().UTC()
	return copyUser(u), nil
}

func (m *DB) CreateSession(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("storage.memory.CreateSession: %w", storage.ErrAlreadyExists)
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *DB) SessionByID(_ context.Context, id uuid.UUID) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("storage.memory.SessionByID: %w", storage.ErrNotFound)
	}
	return copySession(s), nil
}

func (m *DB) RotateSession(_ context.Context, id uuid.UUID, oldHash, newHash string, expiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return false, fmt.Errorf("storage.memory.RotateSession: %w", storage.ErrNotFound)
	}
	if s.RevokedAt != nil || s.TokenHash != oldHash {
		return false, nil
	}
	s.TokenHash = newHash
	s.ExpiresAt = expiresAt
	return true, nil
}

func (m *DB) RevokeSession(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("storage.memory.RevokeSession: %w", storage.ErrNotFound)
	}
	if s.RevokedAt == nil {
		now := time.Now().UTC()
		s.RevokedAt = &now
	}
	return nil
}

func (m *DB) RevokeUserSessions(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for _, s := range m.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			s.RevokedAt = &now
		}
	}
	return nil
}

func (m *DB) ListUserSessions(_ context.Context, userID int64, now time.Time) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Session
	for _, s := range m.sessions {
		if s.UserID == userID && s.Active(now) {
			out = append(out, copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *DB) CreateContact(_ context.Context, c *models.Contact) (*models.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.emailTaken(c.UserID, c.Email, 0) {
		return nil, fmt.Errorf("storage.memory.CreateContact: %w", storage.ErrAlreadyExists)
	}
	m.contactSeq++
	cp := *c
	cp.ID = m.contactSeq
	now := time.Now().UTC()
	cp.CreatedAt, cp.UpdatedAt = now, now
	m.contacts[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *DB) ContactByID(_ context.Context, userID, id int64) (*models.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.contacts[id]
	if !ok || c.UserID != userID {
		return nil, fmt.Errorf("storage.memory.ContactByID: %w", storage.ErrNotFound)
	}
	out := *c
	return &out, nil
}

func (m *DB) ContactByEmail(_ context.Context, userID int64, email string) (*models.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.contacts {
		if c.UserID == userID && c.Email == email {
			out := *c
			return &out, nil
		}
	}
	return nil, fmt.Errorf("storage.memory.ContactByEmail: %w", storage.ErrNotFound)
}

func (m *DB) ListContacts(_ context.Context, q storage.ContactQuery) ([]*models.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Contact
	for _, c := range m.sortedContacts() {
		if q.UserID != 0 && c.UserID != q.UserID {
			continue
		}
		if q.FirstName != "" && c.FirstName != q.FirstName {
			continue
		}
		if q.LastName != "" && c.LastName != q.LastName {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return storage.Page(out, q.Limit, q.Offset), nil
}

func (m *DB) UpcomingBirthdays(_ context.Context, userID int64, today time.Time, days, limit, offset int) ([]*models.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var own []*models.Contact
	for _, c := range m.sortedContacts() {
		if c.UserID == userID {
			cp := *c
			own = append(own, &cp)
		}
	}
	return storage.FilterBirthdays(own, today, days, limit, offset), nil
}

func (m *DB) UpdateContact(_ context.Context, c *models.Contact) (*models.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.contacts[c.ID]
	if !ok || cur.UserID != c.UserID {
		return nil, fmt.Errorf("storage.memory.UpdateContact: %w", storage.ErrNotFound)
	}
	if cur.Email != c.Email && m.emailTaken(c.UserID, c.Email, c.ID) {
		return nil, fmt.Errorf("storage.memory.UpdateContact: %w", storage.ErrAlreadyExists)
	}
	cur.FirstName = c.FirstName
	cur.LastName = c.LastName
	cur.Email = c.Email
	cur.Phone = c.Phone
	cur.BirthDate = c.BirthDate
	cur.FriendStatus = c.FriendStatus
	cur.UpdatedAt = time.Now().UTC()
	out := *cur
	return &out, nil
}

func (m *DB) DeleteContact(_ context.Context, userID, id int64) (*models.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.contacts[id]
	if !ok || c.UserID != userID {
		return nil, fmt.Errorf("storage.memory.DeleteContact: %w", storage.ErrNotFound)
	}
	delete(m.contacts, id)
	return c, nil
}

// emailTaken must be called with mu held.
func (m *DB) emailTaken(userID int64, email string, exceptID int64) bool {
	for _, c := range m.contacts {
		if c.UserID == userID && c.Email == email && c.ID != exceptID {
			return true
		}
	}
	return false
}

// sortedContacts must be called with mu held.
func (m *DB) sortedContacts() []*models.Contact {
	all := make([]*models.Contact, 0, len(m.contacts))
	for _, c := range m.contacts {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

func copyUser(u *models.User) *models.User {
	cp := *u
	if u.Avatar != nil {
		a := *u.Avatar
		cp.Avatar = &a
	}
	return &cp
}

func copySession(s *models.Session) *models.Session {
	cp := *s
	if s.RevokedAt != nil {
		r := *s.RevokedAt
		cp.RevokedAt = &r
	}
	return &cp
}

var _ storage.Store = (*DB)(nil)
