package auth

import (
	"context"
	"testing"
	"time"

	"github.com/example/contacts/internal/mail"
	"github.com/example/contacts/internal/storage/memory"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// stuckMailer blocks until its context ends, like a relay that never answers.
type stuckMailer struct {
	release chan struct{}
	errs    chan error
}

func newStuckMailer() *stuckMailer {
	return &stuckMailer{release: make(chan struct{}), errs: make(chan error, 4)}
}

func (m *stuckMailer) block(ctx context.Context) error {
	select {
	case <-ctx.Done():
		m.errs <- ctx.Err()
		return ctx.Err()
	case <-m.release:
		m.errs <- nil
		return nil
	}
}

func (m *stuckMailer) SendConfirmation(ctx context.Context, _ mail.Message) error { return m.block(ctx) }
func (m *stuckMailer) SendReset(ctx context.Context, _ mail.Message) error { return m.block(ctx) }

func TestService_MailTimeoutReleasesDelivery(t *testing.T) {
	db := memory.New()
	mailer := newStuckMailer()
	svc := NewService(db, db, NewBcryptHasher(bcrypt.MinCost), newTokens(t), mailer)
	svc.mailTimeout = 50 * time.Millisecond

	_, err := svc.Signup(context.Background(), "alice", "alice@example.com", "secret1", baseURL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.WaitContext(ctx))
	require.ErrorIs(t, <-mailer.errs, context.DeadlineExceeded)
}

func TestService_WaitContextGivesUp(t *testing.T) {
	db := memory.New()
	mailer := newStuckMailer()
	svc := NewService(db, db, NewBcryptHasher(bcrypt.MinCost), newTokens(t), mailer)
	defer close(mailer.release)

	_, err := svc.Signup(context.Background(), "alice", "alice@example.com", "secret1", baseURL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	require.ErrorIs(t, svc.WaitContext(ctx), context.DeadlineExceeded)
	require.Less(t, time.Since(start), 5*time.Second)
}
