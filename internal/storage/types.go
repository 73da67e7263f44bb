package storage

import (
	"errors"
	"time"
)

var (
	// ErrInvalidCredentials is returned when an email/password pair does not
	// match a stored account, or a password re-check fails.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailTaken is returned when the signup email is already registered.
	ErrEmailTaken = errors.New("email already in use")
	// ErrUsernameTaken is returned when the requested username is held by
	// another account.
	ErrUsernameTaken = errors.New("username already in use")

	// ErrAccountNotFound is returned when an account id resolves to nothing.
	ErrAccountNotFound = errors.New("account not found")
	// ErrPlaylistNotFound is returned when a playlist id does not exist.
	ErrPlaylistNotFound = errors.New("playlist not found")
	// ErrPlaylistForbidden is returned when the playlist exists but belongs
	// to another account.
	ErrPlaylistForbidden = errors.New("playlist belongs to another account")
	// ErrSongNotFound is returned when a song sub-id is absent from the
	// playlist queue.
	ErrSongNotFound = errors.New("song not found in playlist")
	// ErrRoomNotFound is returned when a room id or slug resolves to nothing.
	ErrRoomNotFound = errors.New("room not found")

	// ErrPlaylistLimit is returned when an account already owns the maximum
	// number of playlists.
	ErrPlaylistLimit = errors.New("playlist limit reached")
	// ErrSongLimit is returned when a playlist queue is full.
	ErrSongLimit = errors.New("playlist song limit reached")
	// ErrRoomLimit is returned when an account already owns the maximum
	// number of rooms.
	ErrRoomLimit = errors.New("room limit reached")

	// ErrSlugTaken is returned when the requested room slug is in use.
	ErrSlugTaken = errors.New("room slug already in use")
	// ErrAlreadyActive is returned when activating a playlist that is
	// already the active one.
	ErrAlreadyActive = errors.New("playlist already active")
)

// SearchCacheRetention bounds how long cached metadata query results may be
// served. Provider terms require stale results to age out.
const SearchCacheRetention = 15 * 24 * time.Hour

// CreateAccountParams captures the attributes required to register an account.
type CreateAccountParams struct {
	Email    string
	Username string
	Password string
	Rank     int
}

// CreateRoomParams captures the attributes settable at room creation.
type CreateRoomParams struct {
	OwnerID        string
	Name           string
	Slug           string
	Description    string
	WelcomeMessage string
}

// RoomSettingsUpdate applies partial changes to a room's mutable settings.
// Nil fields are left untouched.
type RoomSettingsUpdate struct {
	Name           *string
	Description    *string
	WelcomeMessage *string
	QueueCycle     *bool
	QueueLocked    *bool
}
