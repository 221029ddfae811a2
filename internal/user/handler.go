// Package user serves the authenticated profile endpoints.
package user

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"

	"contacts-api/internal/auth"
)

const maxAvatarSizeBytes = 10 << 20

// AvatarUploader is the external image-hosting collaborator.
type AvatarUploader interface {
	UploadAvatar(ctx context.Context, imageSource, username string) (string, error)
}

type AvatarStore interface {
	UpdateAvatar(ctx context.Context, email, avatarURL string) (auth.User, error)
}

type Handler struct {
	store     AvatarStore
	uploader  AvatarUploader
	cache     auth.UserCache
	adminOnly bool
}

func NewHandler(store AvatarStore, uploader AvatarUploader, cache auth.UserCache) *Handler {
	return &Handler{store: store, uploader: uploader, cache: cache}
}

// RestrictAvatarToAdmins turns on the admin-only avatar update policy.
func (h *Handler) RestrictAvatarToAdmins(enabled bool) {
	h.adminOnly = enabled
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	current, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	writeJSON(w, http.StatusOK, current)
}

// UpdateAvatar uploads the posted image to the hosting provider and
// stores the resulting URL. The user row is untouched when the upload
// fails.
func (h *Handler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	current, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if h.adminOnly && !current.IsAdmin() {
		writeError(w, http.StatusForbidden, "insufficient access rights")
		return
	}
	if h.uploader == nil {
		writeError(w, http.StatusInternalServerError, "image uploader is not configured")
		return
	}

	imageSource, ok := readImage(w, r)
	if !ok {
		return
	}

	avatarURL, err := h.uploader.UploadAvatar(r.Context(), imageSource, current.Username)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusBadGateway, "failed to upload image")
		return
	}

	updated, err := h.store.UpdateAvatar(r.Context(), current.Email, avatarURL)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeError(w, http.StatusUnauthorized, "user no longer exists")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to update avatar")
		return
	}
	h.cache.Invalidate(r.Context(), current.Username)

	writeJSON(w, http.StatusOK, updated.Public())
}

func readImage(w http.ResponseWriter, r *http.Request) (string, bool) {
	if err := r.ParseMultipartForm(maxAvatarSizeBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return "", false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return "", false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxAvatarSizeBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return "", false
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "file is empty")
		return "", false
	}
	if len(data) > maxAvatarSizeBytes {
		writeError(w, http.StatusBadRequest, "file is too large")
		return "", false
	}

	contentType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		writeError(w, http.StatusBadRequest, "file must be an image")
		return "", false
	}

	return fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data)), true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
