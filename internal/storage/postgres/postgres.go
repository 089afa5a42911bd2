// Package postgres implements storage.Store on PostgreSQL through lib/pq.
// Tables are created by the migrations in ./migrations, see Migrate.
package postgres

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
	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
)

type Storage struct {
	db *sql.DB
}

func New(ctx context.Context, dsn string) (*Storage, error) {
	const op = "storage.postgres.New"

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *Storage) Close() error                   { return s.db.Close() }

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgerrcode.UniqueViolation
}

const userColumns = `id, username, email, password_hash, confirmed, role, avatar, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*models.User, error) {
	var u models.User
	var avatar sql.NullString
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Confirmed, &u.Role, &avatar, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if avatar.Valid {
		u.Avatar = &avatar.String
	}
	return &u, nil
}

func (s *Storage) CreateUser(ctx context.Context, u *models.User) (*models.User, error) {
	const op = "storage.postgres.CreateUser"

	role := u.Role
	if role == "" {
		role = models.RoleUser
	}
	query := `
		INSERT INTO users(username, email, password_hash, confirmed, role, avatar, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING ` + userColumns

	created, err := scanUser(s.db.QueryRowContext(ctx, query, u.Username, u.Email, u.PasswordHash, u.Confirmed, role, u.Avatar))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return created, nil
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
	return s.userWhere(ctx, "storage.postgres.UserByEmail", "email = $1", email)
}

func (s *Storage) UserByID(ctx context.Context, id int64) (*models.User, error) {
	return s.userWhere(ctx, "storage.postgres.UserByID", "id = $1", id)
}

func (s *Storage) ConfirmUser(ctx context.Context, email string) error {
	const op = "storage.postgres.ConfirmUser"

	res, err := s.db.ExecContext(ctx, `UPDATE users SET confirmed = TRUE, updated_at = now() WHERE email = $1`, email)
	return affected(op, res, err)
}

func (s *Storage) UpdatePassword(ctx context.Context, userID int64, hash string) error {
	const op = "storage.postgres.UpdatePassword"

	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, userID, hash)
	return affected(op, res, err)
}

func (s *Storage) UpdateAvatar(ctx context.Context, userID int64, url string) (*models.User, error) {
	return s.updateUserReturning(ctx, "storage.postgres.UpdateAvatar", "avatar = $2", userID, url)
}

func (s *Storage) UpdateRole(ctx context.Context, userID int64, role models.Role) (*models.User, error) {
	return s.updateUserReturning(ctx, "storage.postgres.UpdateRole", "role = $2", userID, string(role))
}

func (s *Storage) updateUserReturning(ctx context.Context, op, set string, userID int64, value any) (*models.User, error) {
	query := `UPDATE users SET ` + set + `, updated_at = now() WHERE id = $1 RETURNING ` + userColumns
	u, err := scanUser(s.db.QueryRowContext(ctx, query, userID, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
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
	const op = "storage.postgres.CreateSession"

	query := `
		INSERT INTO sessions(id, user_id, token_hash, user_agent, ip, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query, sess.ID, sess.UserID, sess.TokenHash, sess.UserAgent, sess.IP, sess.CreatedAt, sess.ExpiresAt)
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
	var sess models.Session
	var revoked sql.NullTime
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.UserAgent, &sess.IP, &sess.CreatedAt, &sess.ExpiresAt, &revoked); err != nil {
		return nil, err
	}
	if revoked.Valid {
		sess.RevokedAt = &revoked.Time
	}
	return &sess, nil
}

func (s *Storage) SessionByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	const op = "storage.postgres.SessionByID"

	sess, err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sess, nil
}

func (s *Storage) RotateSession(ctx context.Context, id uuid.UUID, oldHash, newHash string, expiresAt time.Time) (bool, error) {
	const op = "storage.postgres.RotateSession"

	const upd = `
		UPDATE sessions
		SET token_hash = $3, expires_at = $4
		WHERE id = $1 AND token_hash = $2 AND revoked_at IS NULL
		RETURNING id
	`
	var got uuid.UUID
	err := s.db.QueryRowContext(ctx, upd, id, oldHash, newHash, expiresAt).Scan(&got)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM sessions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return false, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return false, nil
}

func (s *Storage) RevokeSession(ctx context.Context, id uuid.UUID) error {
	const op = "storage.postgres.RevokeSession"

	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET revoked_at = COALESCE(revoked_at, now()) WHERE id = $1`, id)
	return affected(op, res, err)
}

func (s *Storage) RevokeUserSessions(ctx context.Context, userID int64) error {
	const op = "storage.postgres.RevokeUserSessions"

	if _, err := s.db.ExecContext(ctx, `UPDATE sessions SET revoked_at = now() WHERE user_id = $1 AND revoked_at IS NULL`, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) ListUserSessions(ctx context.Context, userID int64, now time.Time) ([]*models.Session, error) {
	const op = "storage.postgres.ListUserSessions"

	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, userID, now)
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
	var c models.Contact
	if err := row.Scan(&c.ID, &c.UserID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.BirthDate, &c.FriendStatus, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Storage) CreateContact(ctx context.Context, c *models.Contact) (*models.Contact, error) {
	const op = "storage.postgres.CreateContact"

	query := `
		INSERT INTO contacts(user_id, first_name, last_name, email, phone, birth_date, friend_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING ` + contactColumns
	created, err := scanContact(s.db.QueryRowContext(ctx, query, c.UserID, c.FirstName, c.LastName, c.Email, c.Phone, c.BirthDate, c.FriendStatus))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return created, nil
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
	return s.contactWhere(ctx, "storage.postgres.ContactByID", "user_id = $1 AND id = $2", userID, id)
}

func (s *Storage) ContactByEmail(ctx context.Context, userID int64, email string) (*models.Contact, error) {
	return s.contactWhere(ctx, "storage.postgres.ContactByEmail", "user_id = $1 AND email = $2", userID, email)
}

func (s *Storage) ListContacts(ctx context.Context, q storage.ContactQuery) ([]*models.Contact, error) {
	const op = "storage.postgres.ListContacts"

	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.UserID != 0 {
		add("user_id = $%d", q.UserID)
	}
	if q.FirstName != "" {
		add("first_name = $%d", q.FirstName)
	}
	if q.LastName != "" {
		add("last_name = $%d", q.LastName)
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + contactColumns + ` FROM contacts`)
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY id")
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}

	return s.queryContacts(ctx, op, b.String(), args...)
}

func (s *Storage) UpcomingBirthdays(ctx context.Context, userID int64, today time.Time, days, limit, offset int) ([]*models.Contact, error) {
	const op = "storage.postgres.UpcomingBirthdays"

	all, err := s.queryContacts(ctx, op, `SELECT `+contactColumns+` FROM contacts WHERE user_id = $1 ORDER BY id`, userID)
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
	const op = "storage.postgres.UpdateContact"

	query := `
		UPDATE contacts
		SET first_name = $3, last_name = $4, email = $5, phone = $6, birth_date = $7, friend_status = $8, updated_at = now()
		WHERE user_id = $1 AND id = $2
		RETURNING ` + contactColumns
	updated, err := scanContact(s.db.QueryRowContext(ctx, query, c.UserID, c.ID, c.FirstName, c.LastName, c.Email, c.Phone, c.BirthDate, c.FriendStatus))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return updated, nil
}

func (s *Storage) DeleteContact(ctx context.Context, userID, id int64) (*models.Contact, error) {
	const op = "storage.postgres.DeleteContact"

	c, err := scanContact(s.db.QueryRowContext(ctx, `DELETE FROM contacts WHERE user_id = $1 AND id = $2 RETURNING `+contactColumns, userID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

var _ storage.Store = (*Storage)(nil)
