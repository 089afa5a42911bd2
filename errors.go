package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/example/contacts/internal/auth"
	"github.com/example/contacts/internal/avatar"
	"github.com/example/contacts/internal/logctx"
	"github.com/example/contacts/internal/storage"
	"github.com/example/contacts/internal/validate"
)

// APIError represents a structured API error response
type APIError struct {
	Code    string `json:"error_code"`
	Message string `json:"error_message"`
	Details any    `json:"details,omitempty"`
}

// writeError writes a structured error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIError{Code: code, Message: message})
}

func writeErrorDetails(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, APIError{Code: code, Message: message, Details: details})
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

// writeMessage writes the {"message": ...} body used by the account flows.
func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// writeServiceError maps errors from the auth core, the stores and the
// validator to a response. Unknown errors are logged and reported as 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validate.Errors
	switch {
	case errors.As(err, &verrs):
		writeErrorDetails(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "Request validation failed", verrs)

	// single-use links wrap the underlying token error
	case errors.Is(err, auth.ErrDecode):
		writeError(w, http.StatusUnprocessableEntity, "INVALID_TOKEN", "Invalid or expired token")

	case errors.Is(err, auth.ErrInvalidEmail):
		writeUnauthorized(w, "Invalid email")
	case errors.Is(err, auth.ErrEmailNotConfirmed):
		writeUnauthorized(w, "Email not confirmed")
	case errors.Is(err, auth.ErrInvalidPassword):
		writeUnauthorized(w, "Invalid password")
	case errors.Is(err, auth.ErrInvalidRefreshToken):
		writeUnauthorized(w, "Invalid refresh token")
	case errors.Is(err, auth.ErrInvalidScope):
		writeUnauthorized(w, "Invalid scope for token")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrSessionInactive):
		writeUnauthorized(w, "Could not validate credentials")

	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Operation not permitted")

	case errors.Is(err, auth.ErrAccountExists):
		writeError(w, http.StatusConflict, "ACCOUNT_EXISTS", "Account already exists")
	case errors.Is(err, storage.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "EMAIL_EXISTS", "EMAIL EXISTING")

	case errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "User not found")
	case errors.Is(err, auth.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Session not found")
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "NOT FOUND")

	case errors.Is(err, auth.ErrVerification):
		writeError(w, http.StatusBadRequest, "VERIFICATION_ERROR", "Verification error")
	case errors.Is(err, auth.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, "INVALID_ROLE", "Role must be one of: user, moderator, admin")
	case errors.Is(err, avatar.ErrInvalidImage):
		writeError(w, http.StatusBadRequest, "INVALID_IMAGE", "Avatar must be a JPEG, PNG, WebP or GIF image within the size limit")
	case errors.Is(err, auth.ErrAvatarsDisabled):
		writeError(w, http.StatusServiceUnavailable, "AVATARS_DISABLED", "Avatar uploads are not configured")

	default:
		logctx.From(r.Context()).Error("request_failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("err", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

// decodeJSON reads a JSON body into v and validates it. It writes the error
// response itself and reports whether the handler may continue.
func (a *App) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return false
	}
	if err := a.validate.Struct(v); err != nil {
		writeServiceError(w, r, err)
		return false
	}
	return true
}
