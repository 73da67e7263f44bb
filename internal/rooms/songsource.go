package rooms

import (
	"mixroom/internal/presence"
	"mixroom/internal/storage"
)

// ActivePlaylistSource reads the next song from the head of the user's
// active playlist, skipping tracks the provider reported unavailable.
type ActivePlaylistSource struct {
	repo storage.Repository
}

func NewActivePlaylistSource(repo storage.Repository) *ActivePlaylistSource {
	return &ActivePlaylistSource{repo: repo}
}

func (a *ActivePlaylistSource) NextSong(userID string) (presence.Song, bool) {
	for _, playlist := range a.repo.ListPlaylists(userID) {
		if !playlist.IsActive {
			continue
		}
		for _, song := range playlist.Songs {
			if song.Unavailable {
				continue
			}
			return presence.Song{
				CID:       song.CID,
				Title:     song.Title,
				Duration:  song.Duration,
				Thumbnail: song.Thumbnail,
			}, true
		}
	}
	return presence.Song{}, false
}

var _ SongSource = (*ActivePlaylistSource)(nil)
