package storage

import (
	"context"
	"time"

	"mixroom/internal/models"
)

// Repository exposes the durable datastore operations required by the API
// handlers and domain services.
type Repository interface {
	Ping(ctx context.Context) error

	CreateAccount(params CreateAccountParams) (models.Account, error)
	AuthenticateAccount(email, password string) (models.Account, error)
	VerifyAccountPassword(id, password string) error
	GetAccount(id string) (models.Account, bool)
	GetAccountByUsername(username string) (models.Account, bool)
	UpdateUsername(id, username string) (models.Account, error)
	UpdatePassword(id, current, next string) (models.Account, error)
	SetProfileImage(id string, key *string) (models.Account, error)
	EnrollTwoFactor(id, secret string) (models.Account, error)

	CreatePlaylist(ownerID, name string) (models.Playlist, error)
	ImportPlaylist(ownerID, name string, songs []models.PlaylistSong) (models.Playlist, error)
	DeletePlaylist(ownerID, playlistID string) error
	ListPlaylists(ownerID string) []models.Playlist
	GetPlaylist(ownerID, playlistID string) (models.Playlist, error)
	AddPlaylistSong(ownerID, playlistID string, song models.PlaylistSong) (models.Playlist, error)
	RemovePlaylistSong(ownerID, playlistID, subID string) (models.Playlist, error)
	MovePlaylistSong(ownerID, playlistID, subID string, position int) (models.Playlist, error)
	RenamePlaylist(ownerID, playlistID, name string) (models.Playlist, error)
	ActivatePlaylist(ownerID, playlistID string) (models.Playlist, error)

	CreateRoom(params CreateRoomParams) (models.Room, error)
	DeleteRoom(id string) error
	GetRoom(id string) (models.Room, bool)
	GetRoomBySlug(slug string) (models.Room, bool)
	ListRooms(limit int) []models.Room
	UpdateRoomSettings(id string, update RoomSettingsUpdate) (models.Room, error)
	UpdateRoomBackground(id, key string) (models.Room, error)
	PromoteStaff(roomID, userID string, rank int, promotedBy string) (models.Room, error)
	AppendQueueHistory(roomID string, entry models.QueueHistoryEntry) error

	GetSearchResults(query string) ([]models.Track, bool)
	PutSearchResults(query string, results []models.Track) error
	PurgeExpiredSearchResults(now time.Time) (int, error)
}

// Ping reports store health. The JSON-file store is healthy whenever the
// process can reach its backing file's directory.
func (s *Storage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

var _ Repository = (*Storage)(nil)
