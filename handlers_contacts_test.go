package main

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/example/contacts/internal/config"
	"github.com/stretchr/testify/require"
)

func contactBody(first, last, email, birth string) map[string]any {
	return map[string]any{
		"first_name": first,
		"last_name":  last,
		"email":      email,
		"phone":      "+380501234567",
		"birth_date": birth,
	}
}

func TestContacts_CRUD(t *testing.T) {
	s := newTestServer(t)
	alice := s.user(t, "alice", "alice@example.com")
	bob := s.user(t, "bob", "bob@example.com")

	// nothing stored yet
	rec := s.do(t, http.MethodGet, "/api/contacts", nil, withBearer(alice))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT FOUND", decode[APIError](t, rec).Message)

	rec = s.do(t, http.MethodPost, "/api/contacts", contactBody("John", "Smith", "john@example.com", "1990-05-17"), withBearer(alice))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	john := decode[contactResponse](t, rec)
	require.Equal(t, "1990-05-17", john.BirthDate)
	require.False(t, john.FriendStatus)

	rec = s.do(t, http.MethodPost, "/api/contacts/", contactBody("Johnny", "Smithers", "john@example.com", "1991-01-01"), withBearer(alice))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "EMAIL EXISTING", decode[APIError](t, rec).Message)

	// another owner may store the same address
	rec = s.do(t, http.MethodPost, "/api/contacts", contactBody("John", "Smith", "john@example.com", "1990-05-17"), withBearer(bob))
	require.Equal(t, http.StatusCreated, rec.Code)

	bad := contactBody("John", "Smith", "jo@example.com", "1990-05-17")
	bad["phone"] = "12345"
	rec = s.do(t, http.MethodPost, "/api/contacts", bad, withBearer(alice))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	apiErr := decode[struct {
		Code    string `json:"error_code"`
		Details []struct {
			Field string `json:"field"`
		} `json:"details"`
	}](t, rec)
	require.Equal(t, "VALIDATION_FAILED", apiErr.Code)
	require.Equal(t, "phone", apiErr.Details[0].Field)

	bad = contactBody("John", "Smith", "jo@example.com", "17.05.1990")
	rec = s.do(t, http.MethodPost, "/api/contacts", bad, withBearer(alice))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	path := "/api/contacts/" + strconv.FormatInt(john.ID, 10)
	rec = s.do(t, http.MethodGet, path, nil, withBearer(alice))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, john, decode[contactResponse](t, rec))

	rec = s.do(t, http.MethodGet, path, nil, withBearer(bob))
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/contacts/abc", nil, withBearer(alice))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// updates require friend_status
	rec = s.do(t, http.MethodPut, path, contactBody("John", "Smith", "john@example.com", "1990-05-17"), withBearer(alice))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	upd := contactBody("Jonathan", "Smith", "jon@example.com", "1990-05-17")
	upd["friend_status"] = true
	rec = s.do(t, http.MethodPut, path, upd, withBearer(alice))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[contactResponse](t, rec)
	require.Equal(t, "Jonathan", got.FirstName)
	require.True(t, got.FriendStatus)

	rec = s.do(t, http.MethodPut, path, upd, withBearer(bob))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodDelete, path, nil, withBearer(bob))
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodDelete, path, nil, withBearer(alice))
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, path, nil, withBearer(alice))
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/contacts", nil, withBearer(alice))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/contacts", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestContacts_ListAndSearch(t *testing.T) {
	s := newTestServer(t)
	alice := s.user(t, "alice", "alice@example.com")

	for _, c := range []map[string]any{
		contactBody("John", "Smith", "john@example.com", "1990-05-17"),
		contactBody("Jane", "Smith", "jane@example.com", "1985-12-01"),
		contactBody("John", "Doerty", "jdoe@example.com", "1979-03-08"),
	} {
		rec := s.do(t, http.MethodPost, "/api/contacts", c, withBearer(alice))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := s.do(t, http.MethodGet, "/api/contacts?limit=10&offset=0", nil, withBearer(alice))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]contactResponse](t, rec), 3)

	rec = s.do(t, http.MethodGet, "/api/contacts?offset=2", nil, withBearer(alice))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]contactResponse](t, rec), 1)

	for _, q := range []string{"limit=5", "limit=501", "limit=x", "offset=-1"} {
		rec = s.do(t, http.MethodGet, "/api/contacts?"+q, nil, withBearer(alice))
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code, q)
	}

	rec = s.do(t, http.MethodGet, "/api/contacts/first_name?first_name=John", nil, withBearer(alice))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]contactResponse](t, rec), 2)

	rec = s.do(t, http.MethodGet, "/api/contacts/last_name?last_name=Smith", nil, withBearer(alice))
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]contactResponse](t, rec)
	require.Len(t, list, 2)
	for _, c := range list {
		require.Equal(t, "Smith", c.LastName)
	}

	rec = s.do(t, http.MethodGet, "/api/contacts/last_name?last_name=Nobody", nil, withBearer(alice))
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/contacts/first_name?first_name=Jo", nil, withBearer(alice))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/contacts/email?email=jane@example.com", nil, withBearer(alice))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Jane", decode[contactResponse](t, rec).FirstName)

	rec = s.do(t, http.MethodGet, "/api/contacts/email?email=nobody@example.com", nil, withBearer(alice))
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/contacts/email?email=nope", nil, withBearer(alice))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestContacts_Birthdays(t *testing.T) {
	s := newTestServer(t)
	s.app.now = func() time.Time { return time.Date(2024, time.May, 14, 9, 0, 0, 0, time.UTC) }
	alice := s.user(t, "alice", "alice@example.com")

	for _, c := range []map[string]any{
		contactBody("John", "Smith", "john@example.com", "1990-05-17"),
		contactBody("Jane", "Smith", "jane@example.com", "1985-12-01"),
	} {
		rec := s.do(t, http.MethodPost, "/api/contacts", c, withBearer(alice))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := s.do(t, http.MethodGet, "/api/contacts/birthday", nil, withBearer(alice))
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]contactResponse](t, rec)
	require.Len(t, list, 1)
	require.Equal(t, "John", list[0].FirstName)
}

func TestContacts_AllRequiresStaff(t *testing.T) {
	s := newTestServer(t)
	alice := s.user(t, "alice", "alice@example.com")
	mod := s.user(t, "mod", "mod@example.com")

	rec := s.do(t, http.MethodPost, "/api/contacts", contactBody("John", "Smith", "john@example.com", "1990-05-17"), withBearer(alice))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/contacts/all", nil, withBearer(alice))
	require.Equal(t, http.StatusForbidden, rec.Code)

	u, err := s.db.UserByEmail(t.Context(), "mod@example.com")
	require.NoError(t, err)
	_, err = s.db.UpdateRole(t.Context(), u.ID, "moderator")
	require.NoError(t, err)

	rec = s.do(t, http.MethodGet, "/api/contacts/all", nil, withBearer(mod))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]contactResponse](t, rec), 1)
}

func TestContacts_RateLimited(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.RateLimit.Requests = 2 })
	alice := s.user(t, "alice", "alice@example.com")

	for range 2 {
		rec := s.do(t, http.MethodGet, "/api/contacts", nil, withBearer(alice))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}
	rec := s.do(t, http.MethodGet, "/api/contacts", nil, withBearer(alice))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "RATE_LIMIT_EXCEEDED", decode[APIError](t, rec).Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	// creation has its own budget
	rec = s.do(t, http.MethodPost, "/api/contacts", contactBody("John", "Smith", "john@example.com", "1990-05-17"), withBearer(alice))
	require.Equal(t, http.StatusCreated, rec.Code)
}
