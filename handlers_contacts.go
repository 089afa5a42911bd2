package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/example/contacts/internal/models"
	"github.com/example/contacts/internal/storage"
	"github.com/example/contacts/internal/validate"
	"github.com/gorilla/mux"
)

const (
	defaultLimit  = 10
	minLimit      = 10
	maxLimit      = 500
	birthdayRange = 7
)

type contactRequest struct {
	FirstName    string `json:"first_name" validate:"required,min=3,max=50"`
	LastName     string `json:"last_name" validate:"required,min=3,max=60"`
	Email        string `json:"email" validate:"required,email"`
	Phone        string `json:"phone" validate:"required,phone"`
	BirthDate    string `json:"birth_date" validate:"required,datetime=2006-01-02"`
	FriendStatus *bool  `json:"friend_status"`
}

// contactUpdateRequest is contactRequest with friend_status mandatory.
type contactUpdateRequest struct {
	contactRequest
	FriendStatus *bool `json:"friend_status" validate:"required"`
}

type contactResponse struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	BirthDate    string `json:"birth_date"`
	FriendStatus bool   `json:"friend_status"`
}

func newContactResponse(c *models.Contact) contactResponse {
	return contactResponse{
		ID:           c.ID,
		FirstName:    c.FirstName,
		LastName:     c.LastName,
		Email:        c.Email,
		Phone:        c.Phone,
		BirthDate:    c.BirthDate.Format(models.DateLayout),
		FriendStatus: c.FriendStatus,
	}
}

func newContactList(list []*models.Contact) []contactResponse {
	out := make([]contactResponse, 0, len(list))
	for _, c := range list {
		out = append(out, newContactResponse(c))
	}
	return out
}

func (req *contactRequest) toModel(userID int64) *models.Contact {
	// the datetime tag already checked the layout
	birth, _ := time.Parse(models.DateLayout, req.BirthDate)
	c := &models.Contact{
		UserID:    userID,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		BirthDate: birth,
	}
	if req.FriendStatus != nil {
		c.FriendStatus = *req.FriendStatus
	}
	return c
}

// pagination reads limit and offset. It writes a 422 and returns false when
// they are out of range.
func pagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	q := r.URL.Query()
	limit, offset = defaultLimit, 0

	var errs validate.Errors
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < minLimit || n > maxLimit {
			errs = append(errs, validate.FieldError{Field: "limit", Message: "must be an integer between 10 and 500"})
		}
		limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errs = append(errs, validate.FieldError{Field: "offset", Message: "must be a non-negative integer"})
		}
		offset = n
	}
	if len(errs) > 0 {
		writeErrorDetails(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "Request validation failed", errs)
		return 0, 0, false
	}
	return limit, offset, true
}

func contactID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id < 1 {
		writeErrorDetails(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "Request validation failed",
			validate.Errors{{Field: "contact_id", Message: "must be a positive integer"}})
		return 0, false
	}
	return id, true
}

// nameQuery reads a required 3..50 character query parameter.
func nameQuery(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	v := r.URL.Query().Get(key)
	if n := len([]rune(v)); n < 3 || n > 50 {
		writeErrorDetails(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "Request validation failed",
			validate.Errors{{Field: key, Message: "must be between 3 and 50 characters"}})
		return "", false
	}
	return v, true
}

// writeContactList answers 404 for an empty page.
func writeContactList(w http.ResponseWriter, r *http.Request, list []*models.Contact, err error) {
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if len(list) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "NOT FOUND")
		return
	}
	writeJSON(w, http.StatusOK, newContactList(list))
}

// HandleListContacts lists the caller's contacts.
// GET /api/contacts
func (a *App) HandleListContacts(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	list, err := a.store.ListContacts(r.Context(), storage.ContactQuery{
		UserID: currentUser(r).ID,
		Limit:  limit,
		Offset: offset,
	})
	writeContactList(w, r, list, err)
}

// HandleListAllContacts lists contacts of every user.
// GET /api/contacts/all
func (a *App) HandleListAllContacts(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	list, err := a.store.ListContacts(r.Context(), storage.ContactQuery{Limit: limit, Offset: offset})
	writeContactList(w, r, list, err)
}

// HandleBirthdays lists the caller's contacts with a birthday in the next
// week.
// GET /api/contacts/birthday
func (a *App) HandleBirthdays(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	list, err := a.store.UpcomingBirthdays(r.Context(), currentUser(r).ID, a.now(), birthdayRange, limit, offset)
	writeContactList(w, r, list, err)
}

// GET /api/contacts/first_name?first_name=
func (a *App) HandleContactsByFirstName(w http.ResponseWriter, r *http.Request) {
	name, ok := nameQuery(w, r, "first_name")
	if !ok {
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	list, err := a.store.ListContacts(r.Context(), storage.ContactQuery{
		UserID:    currentUser(r).ID,
		FirstName: name,
		Limit:     limit,
		Offset:    offset,
	})
	writeContactList(w, r, list, err)
}

// GET /api/contacts/last_name?last_name=
func (a *App) HandleContactsByLastName(w http.ResponseWriter, r *http.Request) {
	name, ok := nameQuery(w, r, "last_name")
	if !ok {
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	list, err := a.store.ListContacts(r.Context(), storage.ContactQuery{
		UserID:   currentUser(r).ID,
		LastName: name,
		Limit:    limit,
		Offset:   offset,
	})
	writeContactList(w, r, list, err)
}

// GET /api/contacts/email?email=
func (a *App) HandleContactByEmail(w http.ResponseWriter, r *http.Request) {
	q := struct {
		Email string `json:"email" validate:"required,email"`
	}{Email: r.URL.Query().Get("email")}
	if err := a.validate.Struct(q); err != nil {
		writeServiceError(w, r, err)
		return
	}

	c, err := a.store.ContactByEmail(r.Context(), currentUser(r).ID, q.Email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newContactResponse(c))
}

// GET /api/contacts/{id}
func (a *App) HandleGetContact(w http.ResponseWriter, r *http.Request) {
	id, ok := contactID(w, r)
	if !ok {
		return
	}
	c, err := a.store.ContactByID(r.Context(), currentUser(r).ID, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newContactResponse(c))
}

// HandleCreateContact adds a contact to the caller's address book.
// POST /api/contacts
func (a *App) HandleCreateContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}

	c, err := a.store.CreateContact(r.Context(), req.toModel(currentUser(r).ID))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newContactResponse(c))
}

// PUT /api/contacts/{id}
func (a *App) HandleUpdateContact(w http.ResponseWriter, r *http.Request) {
	id, ok := contactID(w, r)
	if !ok {
		return
	}
	var req contactUpdateRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}

	c := req.toModel(currentUser(r).ID)
	c.ID = id
	c.FriendStatus = *req.FriendStatus

	updated, err := a.store.UpdateContact(r.Context(), c)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newContactResponse(updated))
}

// DELETE /api/contacts/{id}
func (a *App) HandleDeleteContact(w http.ResponseWriter, r *http.Request) {
	id, ok := contactID(w, r)
	if !ok {
		return
	}
	if _, err := a.store.DeleteContact(r.Context(), currentUser(r).ID, id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
