package storage

import (
	"errors"
	"sort"
	"strings"
	"time"

	"mixroom/internal/models"
)

// Playlist operations

func validatePlaylistName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", errors.New("playlist name is required")
	}
	if len(trimmed) > models.MaxPlaylistNameLength {
		return "", errors.New("playlist name too long")
	}
	return trimmed, nil
}

// playlistForOwnerLocked resolves a playlist id for an owner, distinguishing
// a missing playlist from one held by another account.
func (s *Storage) playlistForOwnerLocked(ownerID, playlistID string) (models.Playlist, error) {
	playlist, ok := s.data.Playlists[playlistID]
	if !ok {
		return models.Playlist{}, ErrPlaylistNotFound
	}
	if playlist.OwnerID != ownerID {
		return models.Playlist{}, ErrPlaylistForbidden
	}
	return playlist, nil
}

func (s *Storage) countPlaylistsLocked(ownerID string) int {
	count := 0
	for _, playlist := range s.data.Playlists {
		if playlist.OwnerID == ownerID {
			count++
		}
	}
	return count
}

func (s *Storage) CreatePlaylist(ownerID, name string) (models.Playlist, error) {
	trimmed, err := validatePlaylistName(name)
	if err != nil {
		return models.Playlist{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Accounts[ownerID]; !ok {
		return models.Playlist{}, ErrAccountNotFound
	}
	owned := s.countPlaylistsLocked(ownerID)
	if owned >= models.MaxPlaylistsPerAccount {
		return models.Playlist{}, ErrPlaylistLimit
	}

	id, err := generateID()
	if err != nil {
		return models.Playlist{}, err
	}

	now := time.Now().UTC()
	playlist := models.Playlist{
		ID:        id,
		OwnerID:   ownerID,
		Name:      trimmed,
		Songs:     []models.PlaylistSong{},
		IsActive:  owned == 0,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.data.Playlists[id] = playlist
	if err := s.persist(); err != nil {
		delete(s.data.Playlists, id)
		return models.Playlist{}, err
	}
	return clonePlaylist(playlist), nil
}

// ImportPlaylist creates a playlist pre-filled with resolved songs. The cap
// on owned playlists applies; the song list is stored as provided.
func (s *Storage) ImportPlaylist(ownerID, name string, songs []models.PlaylistSong) (models.Playlist, error) {
	trimmed, err := validatePlaylistName(name)
	if err != nil {
		return models.Playlist{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Accounts[ownerID]; !ok {
		return models.Playlist{}, ErrAccountNotFound
	}
	owned := s.countPlaylistsLocked(ownerID)
	if owned >= models.MaxPlaylistsPerAccount {
		return models.Playlist{}, ErrPlaylistLimit
	}

	id, err := generateID()
	if err != nil {
		return models.Playlist{}, err
	}

	now := time.Now().UTC()
	playlist := models.Playlist{
		ID:        id,
		OwnerID:   ownerID,
		Name:      trimmed,
		Songs:     append([]models.PlaylistSong(nil), songs...),
		IsActive:  owned == 0,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.data.Playlists[id] = playlist
	if err := s.persist(); err != nil {
		delete(s.data.Playlists, id)
		return models.Playlist{}, err
	}
	return clonePlaylist(playlist), nil
}

func (s *Storage) DeletePlaylist(ownerID, playlistID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	playlist, err := s.playlistForOwnerLocked(ownerID, playlistID)
	if err != nil {
		return err
	}

	delete(s.data.Playlists, playlistID)
	if err := s.persist(); err != nil {
		s.data.Playlists[playlistID] = playlist
		return err
	}
	return nil
}

func (s *Storage) ListPlaylists(ownerID string) []models.Playlist {
	s.mu.RLock()
	defer s.mu.RUnlock()

	playlists := make([]models.Playlist, 0, models.MaxPlaylistsPerAccount)
	for _, playlist := range s.data.Playlists {
		if playlist.OwnerID == ownerID {
			playlists = append(playlists, clonePlaylist(playlist))
		}
	}
	sort.Slice(playlists, func(i, j int) bool {
		return playlists[i].CreatedAt.Before(playlists[j].CreatedAt)
	})
	return playlists
}

func (s *Storage) GetPlaylist(ownerID, playlistID string) (models.Playlist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	playlist, err := s.playlistForOwnerLocked(ownerID, playlistID)
	if err != nil {
		return models.Playlist{}, err
	}
	return clonePlaylist(playlist), nil
}

// AddPlaylistSong inserts the song at the front of the queue, so the newest
// addition plays next.
func (s *Storage) AddPlaylistSong(ownerID, playlistID string, song models.PlaylistSong) (models.Playlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	playlist, err := s.playlistForOwnerLocked(ownerID, playlistID)
	if err != nil {
		return models.Playlist{}, err
	}
	if len(playlist.Songs) >= models.MaxSongsPerPlaylist {
		return models.Playlist{}, ErrSongLimit
	}

	previous := clonePlaylist(playlist)
	playlist.Songs = append([]models.PlaylistSong{song}, playlist.Songs...)
	playlist.UpdatedAt = time.Now().UTC()
	s.data.Playlists[playlistID] = playlist
	if err := s.persist(); err != nil {
		s.data.Playlists[playlistID] = previous
		return models.Playlist{}, err
	}
	return clonePlaylist(playlist), nil
}

func (s *Storage) RemovePlaylistSong(ownerID, playlistID, subID string) (models.Playlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	playlist, err := s.playlistForOwnerLocked(ownerID, playlistID)
	if err != nil {
		return models.Playlist{}, err
	}

	index := -1
	for i, song := range playlist.Songs {
		if song.SubID == subID {
			index = i
			break
		}
	}
	if index < 0 {
		return models.Playlist{}, ErrSongNotFound
	}

	previous := clonePlaylist(playlist)
	songs := append([]models.PlaylistSong(nil), playlist.Songs[:index]...)
	playlist.Songs = append(songs, playlist.Songs[index+1:]...)
	playlist.UpdatedAt = time.Now().UTC()
	s.data.Playlists[playlistID] = playlist
	if err := s.persist(); err != nil {
		s.data.Playlists[playlistID] = previous
		return models.Playlist{}, err
	}
	return clonePlaylist(playlist), nil
}

// MovePlaylistSong relocates the song to the requested queue position.
// Out-of-range positions are clamped to the queue bounds; a missing song is
// an error rather than a no-op splice.
func (s *Storage) MovePlaylistSong(ownerID, playlistID, subID string, position int) (models.Playlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	playlist, err := s.playlistForOwnerLocked(ownerID, playlistID)
	if err != nil {
		return models.Playlist{}, err
	}

	index := -1
	for i, song := range playlist.Songs {
		if song.SubID == subID {
			index = i
			break
		}
	}
	if index < 0 {
		return models.Playlist{}, ErrSongNotFound
	}

	if position < 0 {
		position = 0
	}
	if position > len(playlist.Songs)-1 {
		position = len(playlist.Songs) - 1
	}
	if position == index {
		return clonePlaylist(playlist), nil
	}

	previous := clonePlaylist(playlist)
	songs := append([]models.PlaylistSong(nil), playlist.Songs...)
	moved := songs[index]
	songs = append(songs[:index], songs[index+1:]...)
	songs = append(songs[:position], append([]models.PlaylistSong{moved}, songs[position:]...)...)
	playlist.Songs = songs
	playlist.UpdatedAt = time.Now().UTC()
	s.data.Playlists[playlistID] = playlist
	if err := s.persist(); err != nil {
		s.data.Playlists[playlistID] = previous
		return models.Playlist{}, err
	}
	return clonePlaylist(playlist), nil
}

func (s *Storage) RenamePlaylist(ownerID, playlistID, name string) (models.Playlist, error) {
	trimmed, err := validatePlaylistName(name)
	if err != nil {
		return models.Playlist{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	playlist, err := s.playlistForOwnerLocked(ownerID, playlistID)
	if err != nil {
		return models.Playlist{}, err
	}

	previous := clonePlaylist(playlist)
	playlist.Name = trimmed
	playlist.UpdatedAt = time.Now().UTC()
	s.data.Playlists[playlistID] = playlist
	if err := s.persist(); err != nil {
		s.data.Playlists[playlistID] = previous
		return models.Playlist{}, err
	}
	return clonePlaylist(playlist), nil
}

// ActivatePlaylist makes the playlist the owner's active one, deactivating
// any other. The swap happens under the store lock so at most one playlist
// per owner is ever active.
func (s *Storage) ActivatePlaylist(ownerID, playlistID string) (models.Playlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	playlist, err := s.playlistForOwnerLocked(ownerID, playlistID)
	if err != nil {
		return models.Playlist{}, err
	}
	if playlist.IsActive {
		return models.Playlist{}, ErrAlreadyActive
	}

	updated := make(map[string]models.Playlist, len(s.data.Playlists))
	for id, existing := range s.data.Playlists {
		cloned := clonePlaylist(existing)
		if existing.OwnerID == ownerID {
			cloned.IsActive = id == playlistID
		}
		updated[id] = cloned
	}
	now := time.Now().UTC()
	target := updated[playlistID]
	target.UpdatedAt = now
	updated[playlistID] = target

	previous := s.data.Playlists
	s.data.Playlists = updated
	if err := s.persist(); err != nil {
		s.data.Playlists = previous
		return models.Playlist{}, err
	}
	return clonePlaylist(target), nil
}
