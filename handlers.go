package main

import (
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/example/contacts/internal/auth"
	"github.com/example/contacts/internal/models"
	"github.com/gorilla/mux"
)

type signupRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=12"`
}

// loginRequest follows the OAuth2 password grant: username carries the email.
type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func newTokenResponse(p *models.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    p.TokenType,
		ExpiresAt:    p.ExpiresAt,
	}
}

type userResponse struct {
	ID        int64       `json:"id"`
	Username  string      `json:"username"`
	Email     string      `json:"email"`
	Avatar    *string     `json:"avatar"`
	Role      models.Role `json:"role"`
	Confirmed bool        `json:"confirmed"`
	CreatedAt time.Time   `json:"created_at"`
}

func newUserResponse(u *models.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Avatar:    u.Avatar,
		Role:      u.Role,
		Confirmed: u.Confirmed,
		CreatedAt: u.CreatedAt,
	}
}

// HandleSignup creates an account and mails the confirmation link.
// POST /api/auth/signup
func (a *App) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}

	user, err := a.auth.Signup(r.Context(), req.Username, req.Email, req.Password, a.cfg.PublicBaseURL)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	a.metrics.authEvent("signup")
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":   newUserResponse(user),
		"detail": "User successfully created. Check your email for confirmation.",
	})
}

// HandleLogin accepts an OAuth2 password form or the same fields as JSON.
// POST /api/auth/login
func (a *App) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var err error
		if ct == "multipart/form-data" {
			err = r.ParseMultipartForm(maxBodyBytes)
		} else {
			err = r.ParseForm()
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid form body")
			return
		}
		req.Username = r.PostFormValue("username")
		req.Password = r.PostFormValue("password")
		if err := a.validate.Struct(&req); err != nil {
			writeServiceError(w, r, err)
			return
		}
	default:
		if !a.decodeJSON(w, r, &req) {
			return
		}
	}

	pair, err := a.auth.Login(r.Context(), req.Username, req.Password, auth.SessionMeta{
		UserAgent: r.UserAgent(),
		IP:        clientIP(r),
	})
	if err != nil {
		a.metrics.authEvent("login_failure")
		writeServiceError(w, r, err)
		return
	}

	a.metrics.authEvent("login_success")
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

// HandleRefresh rotates the refresh token sent as the bearer credential.
// GET /api/auth/refresh_token
func (a *App) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeUnauthorized(w, "Not authenticated")
		return
	}

	pair, err := a.auth.Refresh(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidRefreshToken) {
			a.metrics.authEvent("refresh_rejected")
		}
		writeServiceError(w, r, err)
		return
	}

	a.metrics.authEvent("refresh")
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

// HandleLogout ends the session the access token belongs to.
// POST /api/auth/logout
func (a *App) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.auth.Logout(r.Context(), currentSession(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "Success"})
}

// HandleLogoutAll ends every session of the caller.
// POST /api/auth/logout_all
func (a *App) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if err := a.auth.LogoutAll(r.Context(), currentUser(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "Success"})
}

// HandleRequestEmail resends the confirmation link.
// POST /api/auth/request_email
func (a *App) HandleRequestEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}

	already, err := a.auth.RequestConfirmation(r.Context(), req.Email, a.cfg.PublicBaseURL)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if already {
		writeMessage(w, http.StatusOK, "Your email is already confirmed")
		return
	}
	writeMessage(w, http.StatusOK, "Check your email for confirmation.")
}

// HandleConfirmEmail is the target of the link in the confirmation mail.
// GET /api/auth/confirmed_email/{token}
func (a *App) HandleConfirmEmail(w http.ResponseWriter, r *http.Request) {
	already, err := a.auth.ConfirmEmail(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if already {
		writeMessage(w, http.StatusOK, "Your email is already confirmed")
		return
	}
	writeMessage(w, http.StatusOK, "Email confirmed")
}
