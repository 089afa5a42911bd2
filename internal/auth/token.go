package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/example/contacts/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token scopes. A token is only accepted by the operation its scope names.
const (
	ScopeAccess        = "access_token"
	ScopeRefresh       = "refresh_token"
	ScopeEmailVerify   = "email_verify"
	ScopePasswordReset = "password_reset"
)

// Claims is the JWT payload. Subject holds the user's email. SessionID is set
// on access and refresh tokens only.
type Claims struct {
	Scope     string `json:"scope"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies JWTs with a shared secret. It holds no
// mutable state and is safe for concurrent use.
type TokenService struct {
	secret []byte
	method jwt.SigningMethod
	ttl    map[string]time.Duration
	now    func() time.Time
}

func NewTokenService(cfg config.AuthConfig) (*TokenService, error) {
	const op = "auth.NewTokenService"

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("%s: empty secret", op)
	}
	method := jwt.GetSigningMethod(cfg.Algorithm)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("%s: unsupported algorithm %q", op, cfg.Algorithm)
	}

	return &TokenService{
		secret: []byte(cfg.JWTSecret),
		method: method,
		ttl: map[string]time.Duration{
			ScopeAccess:        cfg.AccessTokenTTL,
			ScopeRefresh:       cfg.RefreshTokenTTL,
			ScopeEmailVerify:   cfg.EmailTokenTTL,
			ScopePasswordReset: cfg.ResetTokenTTL,
		},
		now: time.Now,
	}, nil
}

func (t *TokenService) IssueAccess(subject string, sessionID uuid.UUID) (string, time.Time, error) {
	return t.issue(subject, ScopeAccess, sessionID.String())
}

func (t *TokenService) IssueRefresh(subject string, sessionID uuid.UUID) (string, time.Time, error) {
	return t.issue(subject, ScopeRefresh, sessionID.String())
}

// IssueSingleUse issues an email verification or password reset token.
func (t *TokenService) IssueSingleUse(subject, scope string) (string, error) {
	if scope != ScopeEmailVerify && scope != ScopePasswordReset {
		return "", fmt.Errorf("auth.IssueSingleUse: %w", ErrInvalidScope)
	}
	token, _, err := t.issue(subject, scope, "")
	return token, err
}

func (t *TokenService) issue(subject, scope, sid string) (string, time.Time, error) {
	const op = "auth.TokenService.issue"

	now := t.now().UTC()
	exp := now.Add(t.ttl[scope])
	claims := Claims{
		Scope:     scope,
		SessionID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			// unique per token so a rotated refresh token never equals its predecessor
			ID: uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(t.method, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}
	return signed, exp, nil
}

// VerifyAccess validates signature, algorithm and expiry, and requires the
// access scope.
func (t *TokenService) VerifyAccess(token string) (*Claims, error) {
	return t.verify(token, ScopeAccess)
}

// VerifyRefresh is VerifyAccess for refresh tokens.
func (t *TokenService) VerifyRefresh(token string) (*Claims, error) {
	return t.verify(token, ScopeRefresh)
}

// ResolveSingleUse returns the subject of a single-use token. Every failure
// is reported as ErrDecode.
func (t *TokenService) ResolveSingleUse(token, scope string) (string, error) {
	claims, err := t.verify(token, scope)
	if err != nil {
		return "", fmt.Errorf("auth.ResolveSingleUse: %w: %w", ErrDecode, err)
	}
	return claims.Subject, nil
}

func (t *TokenService) verify(token, scope string) (*Claims, error) {
	const op = "auth.TokenService.verify"

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{t.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidToken, errOrInvalid(err))
	}
	if claims.Scope != scope {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidScope)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}
	return claims, nil
}

func errOrInvalid(err error) error {
	if err != nil {
		return err
	}
	return errors.New("token is not valid")
}

// HashToken is the form in which refresh tokens are stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
