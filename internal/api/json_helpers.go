package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"mixroom/internal/auth"
	"mixroom/internal/media"
	"mixroom/internal/presence"
	"mixroom/internal/rooms"
	"mixroom/internal/storage"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// WriteError is an exported helper for returning JSON API errors.
func WriteError(w http.ResponseWriter, status int, err error) {
	writeError(w, status, err)
}

func decodeJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// writeDomainError maps the domain sentinels onto HTTP statuses. Anything
// unrecognized is treated as a validation failure, matching how the stores
// report bad input as plain errors.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrAccountNotFound),
		errors.Is(err, storage.ErrPlaylistNotFound),
		errors.Is(err, storage.ErrSongNotFound),
		errors.Is(err, storage.ErrRoomNotFound),
		errors.Is(err, presence.ErrNotFound),
		errors.Is(err, media.ErrVideoNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, rooms.ErrForbidden),
		errors.Is(err, storage.ErrPlaylistForbidden):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, storage.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, err)
	case errors.Is(err, storage.ErrPlaylistLimit),
		errors.Is(err, storage.ErrSongLimit),
		errors.Is(err, storage.ErrRoomLimit):
		writeError(w, http.StatusTooManyRequests, err)
	case errors.Is(err, storage.ErrSlugTaken),
		errors.Is(err, storage.ErrAlreadyActive),
		errors.Is(err, storage.ErrUsernameTaken),
		errors.Is(err, storage.ErrEmailTaken):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allow string) {
	w.Header().Set("Allow", allow)
	writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
}
