package contact

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"contacts-api/internal/auth"
)

var phoneRegex = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

var validate = validator.New()

const (
	maxJSONBodyBytes = 1 << 20
	defaultListLimit = 10
	maxListLimit     = 100
	defaultBirthdays = 7
	maxBirthdayDays  = 366
	maxSeedCount     = 1000
)

type Handler struct {
	repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

type contactRequest struct {
	FirstName   string `json:"first_name" validate:"required,min=2,max=25"`
	LastName    string `json:"last_name" validate:"max=50"`
	Email       string `json:"email" validate:"omitempty,email"`
	Phone       string `json:"phone" validate:"required"`
	DateOfBirth string `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	current, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	query := r.URL.Query()
	filter := ListFilter{
		Skip:      clampInt(query.Get("skip"), 0, 0, 1<<30),
		Limit:     clampInt(query.Get("limit"), defaultListLimit, 1, maxListLimit),
		FirstName: strings.TrimSpace(query.Get("first_name")),
		LastName:  strings.TrimSpace(query.Get("last_name")),
		Email:     strings.TrimSpace(query.Get("email")),
	}

	contacts, err := h.repo.List(r.Context(), current.ID, filter)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list contacts")
		return
	}

	writeJSON(w, http.StatusOK, contacts)
}

// Birthdays returns contacts whose birthday falls within the next
// `days` days (default 7).
func (h *Handler) Birthdays(w http.ResponseWriter, r *http.Request) {
	current, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	days := clampInt(r.URL.Query().Get("days"), defaultBirthdays, 1, maxBirthdayDays)

	contacts, err := h.repo.WithUpcomingBirthday(r.Context(), current.ID, days)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list birthdays")
		return
	}

	writeJSON(w, http.StatusOK, contacts)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	current, contactID, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	contact, err := h.repo.GetByID(r.Context(), current.ID, contactID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "contact not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to load contact")
		return
	}

	writeJSON(w, http.StatusOK, contact)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	current, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	input, ok := parseInput(w, r)
	if !ok {
		return
	}

	contact, err := h.repo.Create(r.Context(), current.ID, input)
	if err != nil {
		var dup DuplicateError
		if errors.As(err, &dup) {
			writeError(w, http.StatusConflict, dup.Error())
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create contact")
		return
	}

	writeJSON(w, http.StatusCreated, contact)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	current, contactID, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	input, ok := parseInput(w, r)
	if !ok {
		return
	}

	contact, err := h.repo.Update(r.Context(), current.ID, contactID, input)
	if err != nil {
		var dup DuplicateError
		switch {
		case errors.Is(err, sql.ErrNoRows):
			writeError(w, http.StatusNotFound, "contact not found")
		case errors.As(err, &dup):
			writeError(w, http.StatusConflict, dup.Error())
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to update contact")
		}
		return
	}

	writeJSON(w, http.StatusOK, contact)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	current, contactID, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	if err := h.repo.Delete(r.Context(), current.ID, contactID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "contact not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete contact")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Seed fills the authenticated user's list with randomized contacts.
func (h *Handler) Seed(w http.ResponseWriter, r *http.Request) {
	current, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	count := clampInt(r.URL.Query().Get("count"), 100, 1, maxSeedCount)

	if err := h.repo.CreateBatch(r.Context(), current.ID, FakeContacts(count)); err != nil {
		var dup DuplicateError
		if errors.As(err, &dup) {
			writeError(w, http.StatusConflict, dup.Error())
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to seed contacts")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"message": strconv.Itoa(count) + " contacts created successfully",
	})
}

func (h *Handler) requestScope(w http.ResponseWriter, r *http.Request) (auth.User, string, bool) {
	current, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return auth.User{}, "", false
	}

	contactID := r.PathValue("id")
	if _, err := uuid.Parse(contactID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid contact id")
		return auth.User{}, "", false
	}

	return current, contactID, true
}

func parseInput(w http.ResponseWriter, r *http.Request) (ContactInput, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body contactRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return ContactInput{}, false
	}

	body.FirstName = strings.TrimSpace(body.FirstName)
	body.LastName = strings.TrimSpace(body.LastName)
	body.Email = strings.TrimSpace(strings.ToLower(body.Email))
	body.Phone = strings.TrimSpace(body.Phone)

	if err := validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, "contact fields are invalid")
		return ContactInput{}, false
	}
	if !phoneRegex.MatchString(body.Phone) {
		writeError(w, http.StatusBadRequest, "phone format is invalid")
		return ContactInput{}, false
	}

	input := ContactInput{
		FirstName: body.FirstName,
		LastName:  body.LastName,
		Email:     body.Email,
		Phone:     body.Phone,
	}
	if body.DateOfBirth != "" {
		dob, err := time.Parse("2006-01-02", body.DateOfBirth)
		if err != nil || !dob.Before(time.Now()) {
			writeError(w, http.StatusBadRequest, "date_of_birth must be a past date")
			return ContactInput{}, false
		}
		input.DateOfBirth = &dob
	}

	return input, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func clampInt(raw string, fallback, min, max int) int {
	value := strings.TrimSpace(raw)
	if value == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	if parsed < min {
		return min
	}
	if parsed > max {
		return max
	}

	return parsed
}
