package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/contacts/internal/config"
	"github.com/example/contacts/internal/mail"
	"github.com/example/contacts/internal/storage/memory"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testBaseURL = "http://localhost:8080/"

type captureMailer struct {
	mu            sync.Mutex
	confirmations []mail.Message
	resets        []mail.Message
}

func (c *captureMailer) SendConfirmation(_ context.Context, msg mail.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmations = append(c.confirmations, msg)
	return nil
}

func (c *captureMailer) SendReset(_ context.Context, msg mail.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resets = append(c.resets, msg)
	return nil
}

// linkPath turns a mailed link into a request path for the test server.
func linkPath(t *testing.T, msgs []mail.Message, to string) string {
	t.Helper()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].To == to {
			return "/" + strings.TrimPrefix(msgs[i].Link, testBaseURL)
		}
	}
	t.Fatalf("no mail sent to %s", to)
	return ""
}

type testServer struct {
	app    *App
	db     *memory.DB
	mailer *captureMailer
	h      http.Handler
}

func testConfig() *config.Config {
	return &config.Config{
		Env:           "local",
		PublicBaseURL: testBaseURL,
		HTTP:          config.HTTPConfig{RequestTimeout: 5 * time.Second},
		DB:            config.DBConfig{Adapter: "memory"},
		Auth: config.AuthConfig{
			JWTSecret:       "handler-test-secret",
			Algorithm:       "HS256",
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 7 * 24 * time.Hour,
			EmailTokenTTL:   7 * 24 * time.Hour,
			ResetTokenTTL:   time.Hour,
			BcryptCost:      bcrypt.MinCost,
		},
		RateLimit: config.RateLimitConfig{Enabled: true, Requests: 100, Window: time.Minute},
		Avatars:   config.AvatarConfig{MaxSizeBytes: 1 << 20},
		CORS:      config.CORSConfig{AllowedOrigins: []string{"*"}},
	}
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}

	db := memory.New()
	mailer := &captureMailer{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := newApp(cfg, log, db, deps{mailer: mailer})
	require.NoError(t, err)

	return &testServer{app: app, db: db, mailer: mailer, h: app.routes()}
}

type reqOpt func(*http.Request)

func withBearer(token string) reqOpt {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withHeader(k, v string) reqOpt {
	return func(r *http.Request) { r.Header.Set(k, v) }
}

func (s *testServer) do(t *testing.T, method, path string, body any, opts ...reqOpt) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case url.Values:
		rd = strings.NewReader(b.Encode())
	case []byte:
		rd = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, rd)
	switch body.(type) {
	case nil, []byte:
	case url.Values:
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	default:
		req.Header.Set("Content-Type", "application/json")
	}
	for _, o := range opts {
		o(req)
	}

	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// signup registers and confirms a user through the HTTP surface.
func (s *testServer) signup(t *testing.T, username, email, password string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/auth/signup", map[string]string{
		"username": username, "email": email, "password": password,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	s.app.auth.Wait()
	s.mailer.mu.Lock()
	path := linkPath(t, s.mailer.confirmations, email)
	s.mailer.mu.Unlock()

	rec = s.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (s *testServer) login(t *testing.T, email, password string) tokenResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/auth/login", url.Values{"username": {email}, "password": {password}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[tokenResponse](t, rec)
}

// user signs up, confirms and logs in, returning an access token.
func (s *testServer) user(t *testing.T, username, email string) string {
	t.Helper()
	s.signup(t, username, email, "secret1")
	return s.login(t, email, "secret1").AccessToken
}
