package main

import (
	"net/http"

	"github.com/example/contacts/internal/models"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// routes builds the full handler. Cross-cutting middleware wraps the router so
// it also covers unmatched paths and CORS preflight requests.
func (a *App) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(a.metrics.Instrument)
	r.Use(mux.MiddlewareFunc(Timeout(a.cfg.HTTP.RequestTimeout)))

	r.HandleFunc("/", a.HandleIndex).Methods(http.MethodGet)
	r.HandleFunc("/health", a.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", a.HandleReady).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/healthchecker", a.HandleHealthChecker).Methods(http.MethodGet)

	authR := api.PathPrefix("/auth").Subrouter()
	authR.HandleFunc("/signup", a.HandleSignup).Methods(http.MethodPost)
	authR.HandleFunc("/login", a.HandleLogin).Methods(http.MethodPost)
	authR.HandleFunc("/refresh_token", a.HandleRefresh).Methods(http.MethodGet)
	authR.HandleFunc("/request_email", a.HandleRequestEmail).Methods(http.MethodPost)
	authR.HandleFunc("/confirmed_email/{token}", a.HandleConfirmEmail).Methods(http.MethodGet)
	authR.Handle("/logout", a.protect(a.HandleLogout)).Methods(http.MethodPost)
	authR.Handle("/logout_all", a.protect(a.HandleLogoutAll)).Methods(http.MethodPost)
	authR.Handle("/sessions", a.protect(a.HandleListSessions)).Methods(http.MethodGet)
	authR.Handle("/sessions/{id}", a.protect(a.HandleRevokeSession)).Methods(http.MethodDelete)

	users := api.PathPrefix("/users").Subrouter()
	users.Handle("/me", a.protect(a.HandleMe)).Methods(http.MethodGet)
	users.Handle("/me/", a.protect(a.HandleMe)).Methods(http.MethodGet)
	users.Handle("/avatar", a.protect(a.HandleUpdateAvatar)).Methods(http.MethodPatch)
	users.HandleFunc("/forgot_password", a.HandleForgotPassword).Methods(http.MethodPost)
	users.HandleFunc("/reset_password/{token}", a.HandleResetPassword).Methods(http.MethodPost)
	users.Handle("/{id:[0-9]+}/role", a.protect(a.HandleSetRole, models.RoleAdmin)).Methods(http.MethodPatch)

	contacts := api.PathPrefix("/contacts").Subrouter()
	contacts.Handle("/all", a.protect(a.HandleListAllContacts, models.RoleAdmin, models.RoleModerator)).Methods(http.MethodGet)
	contacts.Handle("/birthday", a.protect(a.HandleBirthdays)).Methods(http.MethodGet)
	contacts.Handle("/email", a.protect(a.HandleContactByEmail)).Methods(http.MethodGet)
	contacts.Handle("/first_name", a.protect(a.HandleContactsByFirstName)).Methods(http.MethodGet)
	contacts.Handle("/last_name", a.protect(a.HandleContactsByLastName)).Methods(http.MethodGet)
	contacts.Handle("/{id}", a.protect(a.HandleGetContact)).Methods(http.MethodGet)
	contacts.Handle("/{id}", a.protect(a.HandleUpdateContact)).Methods(http.MethodPut)
	contacts.Handle("/{id}", a.protect(a.HandleDeleteContact)).Methods(http.MethodDelete)
	for _, p := range []string{"", "/"} {
		contacts.Handle(p, a.RateLimit("contacts_create", a.protect(a.HandleCreateContact))).Methods(http.MethodPost)
		contacts.Handle(p, a.RateLimit("contacts_list", a.protect(a.HandleListContacts))).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})

	return Chain(r,
		Recover,
		RequestID,
		a.Logging,
		SecurityHeaders,
		RequestTime,
		a.CORS,
	)
}

// protect requires a valid access token and, when roles are given, one of
// those roles.
func (a *App) protect(h http.HandlerFunc, roles ...models.Role) http.Handler {
	var next http.Handler = h
	if len(roles) > 0 {
		next = RequireRoles(roles...)(next)
	}
	return a.Authenticate(next)
}

// GET /
func (a *App) HandleIndex(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusOK, "Contact management Application")
}

// GET /health
func (a *App) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /ready
func (a *App) HandleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

// HandleHealthChecker reports whether the database answers.
// GET /api/healthchecker
func (a *App) HandleHealthChecker(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "DB_UNAVAILABLE", "Error connecting to the database")
		return
	}
	writeMessage(w, http.StatusOK, "Welcome to the contacts API!")
}
