package main

import (
	"net/http"
	"time"

	"github.com/example/contacts/internal/models"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// sessionInfo describes one login without exposing the token hash.
type sessionInfo struct {
	ID        uuid.UUID `json:"id"`
	UserAgent string    `json:"user_agent,omitempty"`
	IP        string    `json:"ip,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Current   bool      `json:"current"`
}

// HandleListSessions lists the caller's active sessions, newest first.
// GET /api/auth/sessions
func (a *App) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := a.auth.Sessions(r.Context(), currentUser(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	current := currentSession(r)
	out := make([]sessionInfo, 0, len(list))
	for _, s := range list {
		out = append(out, newSessionInfo(s, current))
	}
	writeJSON(w, http.StatusOK, out)
}

func newSessionInfo(s, current *models.Session) sessionInfo {
	return sessionInfo{
		ID:        s.ID,
		UserAgent: s.UserAgent,
		IP:        s.IP,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
		Current:   current != nil && current.ID == s.ID,
	}
}

// HandleRevokeSession ends one of the caller's sessions, for example a
// forgotten login on another device.
// DELETE /api/auth/sessions/{id}
func (a *App) HandleRevokeSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid session id")
		return
	}
	if err := a.auth.RevokeSession(r.Context(), currentUser(r), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
