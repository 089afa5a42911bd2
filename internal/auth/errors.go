package auth

import "errors"

// Errors returned by the auth core. The HTTP layer maps them to status codes:
// the credential and token errors are 401, ErrForbidden is 403,
// ErrAccountExists is 409, the not-found errors are 404, ErrDecode is 422 and
// ErrVerification is 400.
var (
	ErrInvalidEmail        = errors.New("invalid email")
	ErrEmailNotConfirmed   = errors.New("email not confirmed")
	ErrInvalidPassword     = errors.New("invalid password")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrInvalidToken        = errors.New("could not validate credentials")
	ErrInvalidScope        = errors.New("invalid scope for token")
	ErrSessionInactive     = errors.New("session is not active")

	ErrForbidden = errors.New("operation not permitted")

	ErrAccountExists   = errors.New("account already exists")
	ErrUserNotFound    = errors.New("user not found")
	ErrSessionNotFound = errors.New("session not found")

	// ErrDecode means a single-use token could not be decoded for its purpose.
	ErrDecode       = errors.New("invalid token")
	ErrVerification = errors.New("verification error")

	ErrInvalidRole     = errors.New("invalid role")
	ErrAvatarsDisabled = errors.New("avatar uploads are not configured")
)
