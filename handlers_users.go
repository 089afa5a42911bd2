package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/example/contacts/internal/avatar"
	"github.com/example/contacts/internal/models"
	"github.com/gorilla/mux"
)

type resetPasswordRequest struct {
	NewPassword string `json:"new_password" validate:"required,min=6,max=12"`
}

type roleRequest struct {
	Role models.Role `json:"role" validate:"required,oneof=user moderator admin"`
}

// GET /api/users/me
func (a *App) HandleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newUserResponse(currentUser(r)))
}

// HandleUpdateAvatar stores the multipart "file" field as the caller's avatar.
// PATCH /api/users/avatar
func (a *App) HandleUpdateAvatar(w http.ResponseWriter, r *http.Request) {
	limit := a.cfg.Avatars.MaxSizeBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "Avatar exceeds the size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Expected multipart form with a file field")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Expected multipart form with a file field")
		return
	}
	defer file.Close()

	contentType, body, err := avatar.Sniff(file)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	user, err := a.auth.UpdateAvatar(r.Context(), currentUser(r), body, header.Size, contentType)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(user))
}

// POST /api/users/forgot_password
func (a *App) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	if err := a.auth.ForgotPassword(r.Context(), req.Email, a.cfg.PublicBaseURL); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Check your email for confirmation.")
}

// POST /api/users/reset_password/{token}
func (a *App) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	if err := a.auth.ResetPassword(r.Context(), mux.Vars(r)["token"], req.NewPassword); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Password reset successfully")
}

// HandleSetRole lets an admin change another user's role.
// PATCH /api/users/{id}/role
func (a *App) HandleSetRole(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid user id")
		return
	}

	var req roleRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}

	user, err := a.auth.SetRole(r.Context(), currentUser(r), id, req.Role)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(user))
}
