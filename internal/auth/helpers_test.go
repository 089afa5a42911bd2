package auth

import (
	"context"
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

const baseURL = "http://localhost:8080/"

func testAuthCfg() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:       "unit-test-secret",
		Algorithm:       "HS256",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		EmailTokenTTL:   7 * 24 * time.Hour,
		ResetTokenTTL:   time.Hour,
		BcryptCost:      bcrypt.MinCost,
	}
}

func newTokens(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService(testAuthCfg())
	require.NoError(t, err)
	return ts
}

type fakeMailer struct {
	mu            sync.Mutex
	confirmations []mail.Message
	resets        []mail.Message
	err           error
}

func (f *fakeMailer) SendConfirmation(_ context.Context, msg mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmations = append(f.confirmations, msg)
	return f.err
}

func (f *fakeMailer) SendReset(_ context.Context, msg mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, msg)
	return f.err
}

func (f *fakeMailer) lastConfirmation(t *testing.T) mail.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.confirmations)
	return f.confirmations[len(f.confirmations)-1]
}

func (f *fakeMailer) lastReset(t *testing.T) mail.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.resets)
	return f.resets[len(f.resets)-1]
}

type testEnv struct {
	svc    *Service
	gate   *Gate
	tokens *TokenService
	db     *memory.DB
	mailer *fakeMailer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := memory.New()
	tokens := newTokens(t)
	mailer := &fakeMailer{}
	svc := NewService(db, db, NewBcryptHasher(bcrypt.MinCost), tokens, mailer)
	return &testEnv{svc: svc, gate: NewGate(tokens, db, db), tokens: tokens, db: db, mailer: mailer}
}

// signupConfirmed registers a user and confirms it through the mailed link.
func (e *testEnv) signupConfirmed(t *testing.T, username, email, password string) {
	t.Helper()
	ctx := context.Background()
	_, err := e.svc.Signup(ctx, username, email, password, baseURL)
	require.NoError(t, err)
	e.svc.Wait()

	already, err := e.svc.ConfirmEmail(ctx, tokenFromLink(e.mailer.lastConfirmation(t).Link))
	require.NoError(t, err)
	require.False(t, already)
}

func tokenFromLink(link string) string {
	return link[strings.LastIndex(link, "/")+1:]
}
