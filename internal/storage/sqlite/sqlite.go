// Package sqlite implements storage.Store on an embedded SQLite file using the
// pure-Go modernc.org/sqlite driver. The schema is created on open.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/contacts/internal/models"
	"github.com/example/contacts/internal/storage"
	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type Storage struct {
	db *sql.DB
}

// New opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database pinned to a single connection.
func New(path string) (*Storage, error) {
	const op = "storage.sqlite.New"

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// sqlite allows a single writer; one connection also keeps :memory: shared
	db.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.Init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

func (s *Storage) Init() error {
	queries := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			confirmed INTEGER NOT NULL DEFAULT 0,
			role TEXT NOT NULL DEFAULT 'user',
			avatar TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			token_hash TEXT NOT NULL,
			user_agent TEXT NOT NULL DEFAULT '',
			ip TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			revoked_at INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);`,
		`CREATE TABLE IF NOT EXISTS contacts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			first_name TEXT NOT NULL,
			last_name TEXT NOT NULL,
			email TEXT NOT NULL,
			phone TEXT NOT NULL,
			birth_date TEXT NOT NULL,
			friend_status INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE (user_id, email)
		);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *Storage) Close() error                   { return s.db.Close() }

func isUniqueViolation(err error) bool {
	var e *msqlite.Error
	return errors.As(err, &e) && e.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

func unix(t time.Time) int64 { return t.Unix() }

func fromUnix(v int64) time.Time { return time.Unix(v, 0).UTC() }

type scanner interface {
	Scan(dest ...any) error
}

const userColumns = `id, username, email, password_hash, confirmed, role, avatar, created_at, updated_at`

func scanUser(row scanner) (*models.User, error) {
	var (
		u                models.User
		role             string
		avatar           sql.NullString
		created, updated int64
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Confirmed, &role, &avatar, &created, &updated); err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	if avatar.Valid {
		u.Avatar = &avatar.String
	}
	u.CreatedAt, u.UpdatedAt = fromUnix(created), fromUnix(updated)
	return &u, nil
}

func (s *Storage) CreateUser(ctx context.Context, u *models.User) (*models.User, error) {
	const op = "storage.sqlite.CreateUser"

	role := u.Role
	if role == "" {
		role = models.RoleUser
	}
	now := unix(time.Now())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(username, email, password_hash, confirmed, role, avatar, created_at, updated_at) VALUES(?,?,?,?,?,?,?,?)`,
		u.Username, u.Email, u.PasswordHash, u.Confirmed, string(role), u.Avatar, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s.UserByID(ctx, id)
}

func (s *Storage) userWhere(ctx context.Context, op, where string, arg any) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (s *Storage) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.userWhere(ctx, "storage.sqlite.UserByEmail", "email = ?", email)
}

func (s *Storage) UserByID(ctx context.Context, id int64) (*models.User, error) {
	return s.userWhere(ctx, "storage.sqlite.UserByID", "id = ?", id)
}

func (s *Storage) ConfirmUser(ctx context.Context, email string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET confirmed = 1, updated_at = ? WHERE email = ?`, unix(time.Now()), email)
	return affected("storage.sqlite.ConfirmUser", res, err)
}

func (s *Storage) UpdatePassword(ctx context.Context, userID int64, hash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`, hash, unix(time.Now()), userID)
	return affected("storage.sqlite.UpdatePassword", res, err)
}

func (s *Storage) UpdateAvatar(ctx context.Context, userID int64, url string) (*models.User, error) {
	const op = "storage.sqlite.UpdateAvatar"

	res, err := s.db.ExecContext(ctx, `UPDATE users SET avatar = ?, updated_at = ? WHERE id = ?`, url, unix(time.Now()), userID)
	if err := affected(op, res, err); err != nil {
		return nil, err
	}
	return s.UserByID(ctx, userID)
}

func (s *Storage) UpdateRole(ctx context.Context, userID int64, role models.Role) (*models.User, error) {
	const op = "storage.sqlite.UpdateRole"

	res, err := s.db.ExecContext(ctx, `UPDATE users SET role = ?, updated_at = ? WHERE id = ?`, string(role), unix(time.Now()), userID)
	if err := affected(op, res, err); err != nil {
		return nil, err
	}
	return s.UserByID(ctx, userID)
}

func affected(op string, res sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return nil
}

func (s *Storage) CreateSession(ctx context.Context, sess *models.Session) error {
	const op = "storage.sqlite.CreateSession"

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(id, user_id, token_hash, user_agent, ip, created_at, expires_at) VALUES(?,?,?,?,?,?,?)`,
		sess.ID.String(), sess.UserID, sess.TokenHash, sess.UserAgent, sess.IP, unix(sess.CreatedAt), unix(sess.ExpiresAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

const sessionColumns = `id, user_id, token_hash, user_agent, ip, created_at, expires_at, revoked_at`

func scanSession(row scanner) (*models.Session, error) {
	var (
		sess             models.Session
		id               string
		created, expires int64
		revoked          sql.NullInt64
	)
	if err := row.Scan(&id, &sess.UserID, &sess.TokenHash, &sess.UserAgent, &sess.IP, &created, &expires, &revoked); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	sess.ID = parsed
	sess.CreatedAt, sess.ExpiresAt = fromUnix(created), fromUnix(expires)
	if revoked.Valid {
		t := fromUnix(revoked.Int64)
		sess.RevokedAt = &t
	}
	return &sess, nil
}

func (s *Storage) SessionByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	const op = "storage.sqlite.SessionByID"

	sess, err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sess, nil
}

func (s *Storage) RotateSession(ctx context.Context, id uuid.UUID, oldHash, newHash string, expiresAt time.Time) (bool, error) {
	const op = "storage.sqlite.RotateSession"

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET token_hash = ?, expires_at = ? WHERE id = ? AND token_hash = ? AND revoked_at IS NULL`,
		newHash, unix(expiresAt), id.String(), oldHash)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if n == 1 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM sessions WHERE id = ?)`, id.String()).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return false, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return false, nil
}

func (s *Storage) RevokeSession(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET revoked_at = COALESCE(revoked_at, ?) WHERE id = ?`, unix(time.Now()), id.String())
	return affected("storage.sqlite.RevokeSession", res, err)
}

func (s *Storage) RevokeUserSessions(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE sessions SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL`, unix(time.Now()), userID); err != nil {
		return fmt.Errorf("storage.sqlite.RevokeUserSessions: %w", err)
	}
	return nil
}

func (s *Storage) ListUserSessions(ctx context.Context, userID int64, now time.Time) ([]*models.Session, error) {
	const op = "storage.sqlite.ListUserSessions"

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? AND revoked_at IS NULL AND expires_at > ? ORDER BY created_at DESC, rowid DESC`,
		userID, unix(now))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

const contactColumns = `id, user_id, first_name, last_name, email, phone, birth_date, friend_status, created_at, updated_at`

func scanContact(row scanner) (*models.Contact, error) {
	var (
		c                models.Contact
		birth            string
		created, updated int64
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &birth, &c.FriendStatus, &created, &updated); err != nil {
		return nil, err
	}
	b, err := time.Parse(models.DateLayout, birth)
	if err != nil {
		return nil, err
	}
	c.BirthDate = b
	c.CreatedAt, c.UpdatedAt = fromUnix(created), fromUnix(updated)
	return &c, nil
}

func (s *Storage) CreateContact(ctx context.Context, c *models.Contact) (*models.Contact, error) {
	const op = "storage.sqlite.CreateContact"

	now := unix(time.Now())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts(user_id, first_name, last_name, email, phone, birth_date, friend_status, created_at, updated_at) VALUES(?,?,?,?,?,?,?,?,?)`,
		c.UserID, c.FirstName, c.LastName, c.Email, c.Phone, c.BirthDate.Format(models.DateLayout), c.FriendStatus, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s.ContactByID(ctx, c.UserID, id)
}

func (s *Storage) contactWhere(ctx context.Context, op, where string, args ...any) (*models.Contact, error) {
	c, err := scanContact(s.db.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE `+where, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

func (s *Storage) ContactByID(ctx context.Context, userID, id int64) (*models.Contact, error) {
	return s.contactWhere(ctx, "storage.sqlite.ContactByID", "user_id = ? AND id = ?", userID, id)
}

func (s *Storage) ContactByEmail(ctx context.Context, userID int64, email string) (*models.Contact, error) {
	return s.contactWhere(ctx, "storage.sqlite.ContactByEmail", "user_id = ? AND email = ?", userID, email)
}

func (s *Storage) ListContacts(ctx context.Context, q storage.ContactQuery) ([]*models.Contact, error) {
	var (
		conds []string
		args  []any
	)
	if q.UserID != 0 {
		conds, args = append(conds, "user_id = ?"), append(args, q.UserID)
	}
	if q.FirstName != "" {
		conds, args = append(conds, "first_name = ?"), append(args, q.FirstName)
	}
	if q.LastName != "" {
		conds, args = append(conds, "last_name = ?"), append(args, q.LastName)
	}

	query := `SELECT ` + contactColumns + ` FROM contacts`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	// sqlite needs a LIMIT before OFFSET; -1 means unbounded
	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	query += " ORDER BY id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	return s.queryContacts(ctx, "storage.sqlite.ListContacts", query, args...)
}

func (s *Storage) UpcomingBirthdays(ctx context.Context, userID int64, today time.Time, days, limit, offset int) ([]*models.Contact, error) {
	all, err := s.queryContacts(ctx, "storage.sqlite.UpcomingBirthdays", `SELECT `+contactColumns+` FROM contacts WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	return storage.FilterBirthdays(all, today, days, limit, offset), nil
}

func (s *Storage) queryContacts(ctx context.Context, op, query string, args ...any) ([]*models.Contact, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []*models.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *Storage) UpdateContact(ctx context.Context, c *models.Contact) (*models.Contact, error) {
	const op = "storage.sqlite.UpdateContact"

	res, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET first_name = ?, last_name = ?, email = ?, phone = ?, birth_date = ?, friend_status = ?, updated_at = ? WHERE user_id = ? AND id = ?`,
		c.FirstName, c.LastName, c.Email, c.Phone, c.BirthDate.Format(models.DateLayout), c.FriendStatus, unix(time.Now()), c.UserID, c.ID)
	if err != nil && isUniqueViolation(err) {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}
	if err := affected(op, res, err); err != nil {
		return nil, err
	}
	return s.ContactByID(ctx, c.UserID, c.ID)
}

func (s *Storage) DeleteContact(ctx context.Context, userID, id int64) (*models.Contact, error) {
	const op = "storage.sqlite.DeleteContact"

	c, err := s.ContactByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE user_id = ? AND id = ?`, userID, id)
	if err := affected(op, res, err); err != nil {
		return nil, err
	}
	return c, nil
}

var _ storage.Store = (*Storage)(nil)
