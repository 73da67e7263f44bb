package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mixroom/internal/models"
)

const (
	usernameCooldown = 30 * 24 * time.Hour
	avatarCooldown   = 30 * time.Minute
	maxImageBytes    = 5 << 20
)

var imageExtensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/webp": "webp",
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	account, ok := h.requireAuthenticatedAccount(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newAccountResponse(account))
}

type updateUsernameRequest struct {
	Username string `json:"username"`
}

func (h *Handler) Username(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r, "PATCH")
		return
	}
	account, ok := h.requireAuthenticatedAccount(w, r)
	if !ok {
		return
	}

	var req updateUsernameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cooldownKey := "username:" + account.ID
	remaining, err := h.Presence.CooldownRemaining(r.Context(), cooldownKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if remaining > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%.0f", remaining.Seconds()))
		writeError(w, http.StatusTooManyRequests, fmt.Errorf("username was changed recently"))
		return
	}

	updated, err := h.Store.UpdateUsername(account.ID, req.Username)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if _, err := h.Presence.Cooldown(r.Context(), cooldownKey, usernameCooldown); err != nil {
		h.Logger.Warn("failed to arm username cooldown", "account_id", account.ID, "error", err)
	}
	writeJSON(w, http.StatusOK, newAccountResponse(updated))
}

type updatePasswordRequest struct {
	Current string `json:"current"`
	New     string `json:"new"`
}

func (h *Handler) Password(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r, "PATCH")
		return
	}
	account, ok := h.requireAuthenticatedAccount(w, r)
	if !ok {
		return
	}

	var req updatePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.New) < 8 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("password must be at least 8 characters"))
		return
	}

	updated, err := h.Store.UpdatePassword(account.ID, req.Current, req.New)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	// Every open session dies with the old password.
	if err := h.Tokens.RevokeAccount(account.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	response, err := h.newAuthResponse(updated)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

type twoFactorRequest struct {
	Password string `json:"password"`
	Secret   string `json:"secret"`
}

// TwoFactor enrolls (POST) or disables (DELETE) two-factor authentication.
// Both directions re-verify the account password.
func (h *Handler) TwoFactor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		methodNotAllowed(w, r, "POST, DELETE")
		return
	}
	account, ok := h.requireAuthenticatedAccount(w, r)
	if !ok {
		return
	}

	var req twoFactorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.Store.VerifyAccountPassword(account.ID, req.Password); err != nil {
		writeDomainError(w, err)
		return
	}

	secret := strings.TrimSpace(req.Secret)
	if r.Method == http.MethodPost && secret == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("secret is required"))
		return
	}
	if r.Method == http.MethodDelete {
		secret = ""
	}

	updated, err := h.Store.EnrollTwoFactor(account.ID, secret)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountResponse(updated))
}

type usernameAvailabilityResponse struct {
	Username  string `json:"username"`
	Valid     bool   `json:"valid"`
	Available bool   `json:"available"`
}

func (h *Handler) CheckUsername(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	candidate := models.NormalizeUsername(strings.TrimPrefix(r.URL.Path, "/api/accounts/check/"))
	if candidate == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("username missing"))
		return
	}

	response := usernameAvailabilityResponse{Username: candidate, Valid: models.ValidUsername(candidate)}
	if response.Valid {
		_, taken := h.Store.GetAccountByUsername(candidate)
		response.Available = !taken
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) ProfileImage(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.uploadProfileImage(w, r)
	case http.MethodDelete:
		h.deleteProfileImage(w, r)
	default:
		methodNotAllowed(w, r, "POST, DELETE")
	}
}

func (h *Handler) uploadProfileImage(w http.ResponseWriter, r *http.Request) {
	account, ok := h.requireAuthenticatedAccount(w, r)
	if !ok {
		return
	}

	cooldownKey := "pfp:" + account.ID
	remaining, err := h.Presence.CooldownRemaining(r.Context(), cooldownKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if remaining > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%.0f", remaining.Seconds()))
		writeError(w, http.StatusTooManyRequests, fmt.Errorf("profile image was changed recently"))
		return
	}

	data, contentType, ext, ok := h.readImageUpload(w, r)
	if !ok {
		return
	}

	digest := sha256.Sum256(data)
	key := fmt.Sprintf("avatars/%s/%s.%s", account.ID, hex.EncodeToString(digest[:8]), ext)
	if err := h.Objects.Put(r.Context(), key, contentType, bytes.NewReader(data), int64(len(data))); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	updated, err := h.Store.SetProfileImage(account.ID, &key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	// A rejected upload must not burn the cooldown, so it is armed only here.
	if _, err := h.Presence.Cooldown(r.Context(), cooldownKey, avatarCooldown); err != nil {
		h.Logger.Warn("failed to arm profile image cooldown", "account_id", account.ID, "error", err)
	}
	writeJSON(w, http.StatusOK, newAccountResponse(updated))
}

func (h *Handler) deleteProfileImage(w http.ResponseWriter, r *http.Request) {
	account, ok := h.requireAuthenticatedAccount(w, r)
	if !ok {
		return
	}
	if account.ProfileImage != nil {
		if err := h.Objects.Delete(r.Context(), *account.ProfileImage); err != nil {
			h.Logger.Warn("failed to delete profile image object",
				"account_id", account.ID, "key", *account.ProfileImage, "error", err)
		}
	}
	updated, err := h.Store.SetProfileImage(account.ID, nil)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountResponse(updated))
}

// readImageUpload parses a multipart "file" part, enforcing the size cap and
// the image content-type whitelist. It reports handled=false after writing
// an error response.
func (h *Handler) readImageUpload(w http.ResponseWriter, r *http.Request) (data []byte, contentType, ext string, ok bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes)
	if err := r.ParseMultipartForm(maxImageBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("image exceeds %d bytes or is malformed", maxImageBytes))
		return nil, "", "", false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("file part is required"))
		return nil, "", "", false
	}
	defer file.Close()

	contentType = header.Header.Get("Content-Type")
	ext, allowed := imageExtensions[contentType]
	if !allowed {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported image type %q", contentType))
		return nil, "", "", false
	}
	data, err = io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, "", "", false
	}
	return data, contentType, ext, true
}
