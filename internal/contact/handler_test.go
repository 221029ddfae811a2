package contact

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"contacts-api/internal/auth"
)

const testContactID = "018f3a2b-0000-7000-8000-000000000001"

func newHandlerFixture(t *testing.T) (*http.ServeMux, sqlmock.Sqlmock) {
	t.Helper()

	repo, mock := newMockRepository(t)
	handler := NewHandler(repo)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/contacts", handler.List)
	mux.HandleFunc("POST /api/contacts", handler.Create)
	mux.HandleFunc("GET /api/contacts/birthdays", handler.Birthdays)
	mux.HandleFunc("GET /api/contacts/{id}", handler.Get)
	mux.HandleFunc("PUT /api/contacts/{id}", handler.Update)
	mux.HandleFunc("DELETE /api/contacts/{id}", handler.Delete)
	mux.HandleFunc("POST /api/contacts/seed", handler.Seed)

	return mux, mock
}

func doRequest(t *testing.T, mux *http.ServeMux, method, path, body string, authenticated bool) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		req = req.WithContext(auth.WithUser(req.Context(), auth.User{ID: "u1", Username: "alice"}))
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	return rec
}

func TestContactEndpointsRequireAuthentication(t *testing.T) {
	t.Parallel()

	mux, _ := newHandlerFixture(t)

	cases := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/api/contacts", ""},
		{http.MethodPost, "/api/contacts", `{"first_name":"Jane","phone":"+380501234567"}`},
		{http.MethodGet, "/api/contacts/birthdays", ""},
		{http.MethodGet, "/api/contacts/" + testContactID, ""},
		{http.MethodPut, "/api/contacts/" + testContactID, `{"first_name":"Jane","phone":"+380501234567"}`},
		{http.MethodDelete, "/api/contacts/" + testContactID, ""},
		{http.MethodPost, "/api/contacts/seed", ""},
	}

	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rec := doRequest(t, mux, tc.method, tc.path, tc.body, false)
			require.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestCreateContact(t *testing.T) {
	t.Parallel()

	mux, mock := newHandlerFixture(t)

	rows := addContact(contactRows(), "c1", "Jane", time.Date(1990, 4, 12, 0, 0, 0, 0, time.UTC))
	mock.ExpectQuery(`INSERT INTO contacts`).
		WithArgs(sqlmock.AnyArg(), "u1", "Jane", "Doe", "jane@x.com", "+380501234567", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(rows)

	rec := doRequest(t, mux, http.MethodPost, "/api/contacts",
		`{"first_name":"Jane","last_name":"Doe","email":"jane@x.com","phone":"+380501234567","date_of_birth":"1990-04-12"}`, true)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), `"first_name":"Jane"`)
	require.NotContains(t, rec.Body.String(), `"user_id"`)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateContactRejectsBadInput(t *testing.T) {
	t.Parallel()

	mux, _ := newHandlerFixture(t)

	cases := map[string]string{
		"missing phone":  `{"first_name":"Jane"}`,
		"short name":     `{"first_name":"J","phone":"+380501234567"}`,
		"bad phone":      `{"first_name":"Jane","phone":"call-me"}`,
		"bad email":      `{"first_name":"Jane","phone":"+380501234567","email":"not-an-email"}`,
		"bad birth date": `{"first_name":"Jane","phone":"+380501234567","date_of_birth":"12.04.1990"}`,
		"future birth":   `{"first_name":"Jane","phone":"+380501234567","date_of_birth":"2999-01-01"}`,
		"unknown field":  `{"first_name":"Jane","phone":"+380501234567","nickname":"JJ"}`,
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			rec := doRequest(t, mux, http.MethodPost, "/api/contacts", payload, true)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreateContactDuplicatePhone(t *testing.T) {
	t.Parallel()

	mux, mock := newHandlerFixture(t)

	mock.ExpectQuery(`INSERT INTO contacts`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "contacts_user_phone_key"})

	rec := doRequest(t, mux, http.MethodPost, "/api/contacts",
		`{"first_name":"Jane","phone":"+380501234567"}`, true)

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "phone")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListContactsClampsPaging(t *testing.T) {
	t.Parallel()

	mux, mock := newHandlerFixture(t)

	mock.ExpectQuery(`SELECT .+ FROM contacts\s+WHERE user_id = \$1 ORDER BY created_at DESC LIMIT \$2 OFFSET \$3`).
		WithArgs("u1", 100, 0).
		WillReturnRows(contactRows())

	rec := doRequest(t, mux, http.MethodGet, "/api/contacts?limit=9999&skip=-5", "", true)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "[]\n", rec.Body.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetContactValidatesID(t *testing.T) {
	t.Parallel()

	mux, _ := newHandlerFixture(t)

	rec := doRequest(t, mux, http.MethodGet, "/api/contacts/not-a-uuid", "", true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{"error":"invalid contact id"}`, rec.Body.String())
}

func TestGetContactNotFound(t *testing.T) {
	t.Parallel()

	mux, mock := newHandlerFixture(t)

	mock.ExpectQuery(`SELECT .+ FROM contacts\s+WHERE user_id = \$1 AND id = \$2`).
		WithArgs("u1", testContactID).
		WillReturnRows(contactRows())

	rec := doRequest(t, mux, http.MethodGet, "/api/contacts/"+testContactID, "", true)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteContact(t *testing.T) {
	t.Parallel()

	mux, mock := newHandlerFixture(t)

	mock.ExpectExec(`DELETE FROM contacts`).
		WithArgs("u1", testContactID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := doRequest(t, mux, http.MethodDelete, "/api/contacts/"+testContactID, "", true)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteContactNotFound(t *testing.T) {
	t.Parallel()

	mux, mock := newHandlerFixture(t)

	mock.ExpectExec(`DELETE FROM contacts`).
		WithArgs("u1", testContactID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rec := doRequest(t, mux, http.MethodDelete, "/api/contacts/"+testContactID, "", true)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBirthdaysClampsDays(t *testing.T) {
	t.Parallel()

	mux, mock := newHandlerFixture(t)

	mock.ExpectQuery(`make_interval\(days => \$2\)`).
		WithArgs("u1", 366).
		WillReturnRows(contactRows())

	rec := doRequest(t, mux, http.MethodGet, "/api/contacts/birthdays?days=5000", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedContacts(t *testing.T) {
	t.Parallel()

	mux, mock := newHandlerFixture(t)

	mock.ExpectBegin()
	for i := 0; i < 5; i++ {
		mock.ExpectExec(`INSERT INTO contacts`).WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	rec := doRequest(t, mux, http.MethodPost, "/api/contacts/seed?count=5", "", true)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), "5 contacts created")
	require.NoError(t, mock.ExpectationsWereMet())
}
