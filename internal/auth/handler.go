package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"regexp"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/go-playground/validator/v10"
)

var usernameRegex = regexp.MustCompile(`^[a-z0-9_.-]{3,32}$`)

var validate = validator.New()

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type registerResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Password string `json:"password" validate:"required,min=8,max=72"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Username = strings.TrimSpace(strings.ToLower(body.Username))
	body.Email = strings.TrimSpace(strings.ToLower(body.Email))
	if err := validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, "username, email and password are required and must be well formed")
		return
	}
	if !usernameRegex.MatchString(body.Username) {
		writeError(w, http.StatusBadRequest, "username format is invalid")
		return
	}

	user, err := h.service.Register(r.Context(), RegisterInput{
		Username: body.Username,
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrUsernameTaken):
			writeError(w, http.StatusConflict, "user with the username already exists")
		case errors.Is(err, ErrEmailTaken):
			writeError(w, http.StatusConflict, "user with the email already exists")
		case errors.Is(err, ErrUserConflict):
			writeError(w, http.StatusConflict, "user already exists")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to register user")
		}
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		Avatar:   user.AvatarURL,
	})
}

// Login accepts form-encoded credentials, OAuth2 password-flow style.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	// The password is compared byte for byte against what was hashed at
	// registration; trimming here would lock out anyone who registered
	// with leading or trailing whitespace.
	username := strings.TrimSpace(r.PostFormValue("username"))
	password := r.PostFormValue("password")
	if username == "" || password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	tokens, err := h.service.Login(r.Context(), username, password)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "invalid username or password")
		case errors.Is(err, ErrEmailNotConfirmed):
			writeError(w, http.StatusUnauthorized, "email address is not verified")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to login")
		}
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.PathValue("token"))

	already, err := h.service.ConfirmEmail(r.Context(), token)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			writeError(w, http.StatusBadRequest, "verification error")
			return
		}
		writeTokenError(w, err)
		return
	}

	if already {
		writeJSON(w, http.StatusOK, map[string]string{"message": "your email is already verified"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "your email is verified"})
}

func (h *Handler) RequestEmail(w http.ResponseWriter, r *http.Request) {
	var body emailRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, "a valid email is required")
		return
	}

	already, err := h.service.ResendConfirmation(r.Context(), body.Email)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to send email")
		return
	}

	if already {
		writeJSON(w, http.StatusOK, map[string]string{"message": "your email is already verified"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "check your email for verification"})
}

// ForgotPassword answers identically whether or not the email matches
// an account.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var body emailRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, "a valid email is required")
		return
	}

	if err := h.service.ForgotPassword(r.Context(), body.Email); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to process request")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "check your email for further instructions"})
}

// ResetPasswordForm serves a minimal HTML form when the reset link is
// opened in a browser.
func (h *Handler) ResetPasswordForm(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.PathValue("token"))

	if _, err := h.service.VerifyResetToken(token); err != nil {
		writeTokenError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, resetFormHTML, html.EscapeString(token))
}

// ResetPassword accepts either a JSON body or the form served by
// ResetPasswordForm.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.PathValue("token"))

	var body resetPasswordRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form body")
			return
		}
		body.Password = r.PostFormValue("password")
	} else if !decodeJSON(w, r, &body) {
		return
	}
	if err := validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, "password must be between 8 and 72 characters")
		return
	}

	if err := h.service.ResetPassword(r.Context(), token, body.Password); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			writeError(w, http.StatusBadRequest, "verification error")
			return
		}
		writeTokenError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

const resetFormHTML = `<!DOCTYPE html>
<html>
<head><title>Reset password</title></head>
<body>
<form method="post" action="/api/auth/reset_password/%s">
<label>New password: <input type="password" name="password" minlength="8" maxlength="72" required></label>
<button type="submit">Reset</button>
</form>
</body>
</html>
`

func writeTokenError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, "token has expired")
	case errors.Is(err, ErrInvalidSignature):
		writeError(w, http.StatusUnauthorized, "token signature is invalid")
	case errors.Is(err, ErrPurposeMismatch):
		writeError(w, http.StatusUnauthorized, "token was issued for a different purpose")
	case errors.Is(err, ErrTokenMalformed):
		writeError(w, http.StatusBadRequest, "token is malformed")
	default:
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
