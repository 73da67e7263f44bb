// Package playlists implements the playlist mutation engine on top of the
// durable store and the media provider.
package playlists

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mixroom/internal/media"
	"mixroom/internal/models"
	"mixroom/internal/pagination"
	"mixroom/internal/storage"
)

const (
	// SongsPageSize is the page length for song listings.
	SongsPageSize = 20
	// importMaxPages bounds how many provider playlist pages an import walks.
	importMaxPages = 4
	// importMaxSongs bounds the total songs created by one import.
	importMaxSongs = 200
	resolveChunk   = 50
)

// Service owns playlist operations. Mutations for the same owner are
// serialized through a keyed mutex so concurrent requests cannot interleave
// their read-modify-write cycles.
type Service struct {
	repo     storage.Repository
	provider media.Provider
	search   *media.SearchCache
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(repo storage.Repository, provider media.Provider, search *media.SearchCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		provider: provider,
		search:   search,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *Service) ownerLock(ownerID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[ownerID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[ownerID] = lock
	}
	return lock
}

func (s *Service) Create(ownerID, name string) (models.Playlist, error) {
	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()
	return s.repo.CreatePlaylist(ownerID, name)
}

// Delete removes a playlist after re-verifying the requester's password.
func (s *Service) Delete(ownerID, playlistID, password string) error {
	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.repo.VerifyAccountPassword(ownerID, password); err != nil {
		return err
	}
	return s.repo.DeletePlaylist(ownerID, playlistID)
}

func (s *Service) List(ownerID string) []models.Playlist {
	return s.repo.ListPlaylists(ownerID)
}

func (s *Service) Get(ownerID, playlistID string) (models.Playlist, error) {
	return s.repo.GetPlaylist(ownerID, playlistID)
}

// SongsPage returns one page of the playlist queue in play order.
func (s *Service) SongsPage(ownerID, playlistID string, page int) (pagination.Page[models.PlaylistSong], error) {
	playlist, err := s.repo.GetPlaylist(ownerID, playlistID)
	if err != nil {
		return pagination.Page[models.PlaylistSong]{}, err
	}
	return pagination.Paginate(playlist.Songs, SongsPageSize, page), nil
}

// AddSong resolves the content id and inserts it at the front of the queue.
// Ownership and the song cap are checked before any provider traffic.
func (s *Service) AddSong(ctx context.Context, ownerID, playlistID, cid string) (models.Playlist, error) {
	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	playlist, err := s.repo.GetPlaylist(ownerID, playlistID)
	if err != nil {
		return models.Playlist{}, err
	}
	if len(playlist.Songs) >= models.MaxSongsPerPlaylist {
		return models.Playlist{}, storage.ErrSongLimit
	}

	tracks, err := s.provider.Resolve(ctx, []string{cid})
	if err != nil {
		return models.Playlist{}, fmt.Errorf("resolve song: %w", err)
	}
	if len(tracks) == 0 {
		return models.Playlist{}, media.ErrVideoNotFound
	}
	return s.repo.AddPlaylistSong(ownerID, playlistID, songFromTrack(tracks[0]))
}

func (s *Service) RemoveSong(ownerID, playlistID, subID string) (models.Playlist, error) {
	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()
	return s.repo.RemovePlaylistSong(ownerID, playlistID, subID)
}

func (s *Service) MoveSong(ownerID, playlistID, subID string, position int) (models.Playlist, error) {
	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()
	return s.repo.MovePlaylistSong(ownerID, playlistID, subID, position)
}

// MoveSongToTop puts the song at queue position zero, next to play.
func (s *Service) MoveSongToTop(ownerID, playlistID, subID string) (models.Playlist, error) {
	return s.MoveSong(ownerID, playlistID, subID, 0)
}

func (s *Service) Rename(ownerID, playlistID, name string) (models.Playlist, error) {
	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()
	return s.repo.RenamePlaylist(ownerID, playlistID, name)
}

func (s *Service) Activate(ownerID, playlistID string) (models.Playlist, error) {
	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()
	return s.repo.ActivatePlaylist(ownerID, playlistID)
}

// Search serves metadata queries through the durable search cache.
func (s *Service) Search(ctx context.Context, query string) ([]models.Track, error) {
	return s.search.Lookup(ctx, query)
}

// Import copies an external playlist into a new one. It walks up to four
// provider pages, resolves the collected ids in parallel chunks, and stores
// at most two hundred songs. The ownership cap is checked before any
// provider traffic.
func (s *Service) Import(ctx context.Context, ownerID, name, providerPlaylistID string) (models.Playlist, error) {
	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	if owned := len(s.repo.ListPlaylists(ownerID)); owned >= models.MaxPlaylistsPerAccount {
		return models.Playlist{}, storage.ErrPlaylistLimit
	}

	var cids []string
	pageToken := ""
	for page := 0; page < importMaxPages; page++ {
		result, err := s.provider.PlaylistPage(ctx, providerPlaylistID, pageToken)
		if err != nil {
			return models.Playlist{}, fmt.Errorf("fetch playlist page: %w", err)
		}
		cids = append(cids, result.CIDs...)
		if result.NextPageToken == "" || len(cids) >= importMaxSongs {
			break
		}
		pageToken = result.NextPageToken
	}
	if len(cids) > importMaxSongs {
		cids = cids[:importMaxSongs]
	}
	if len(cids) == 0 {
		return models.Playlist{}, media.ErrVideoNotFound
	}

	chunks := make([][]models.Track, (len(cids)+resolveChunk-1)/resolveChunk)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < len(cids); i += resolveChunk {
		i := i
		end := i + resolveChunk
		if end > len(cids) {
			end = len(cids)
		}
		g.Go(func() error {
			tracks, err := s.provider.Resolve(gctx, cids[i:end])
			if err != nil {
				return err
			}
			chunks[i/resolveChunk] = tracks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.Playlist{}, fmt.Errorf("resolve playlist songs: %w", err)
	}

	var songs []models.PlaylistSong
	for _, tracks := range chunks {
		for _, track := range tracks {
			songs = append(songs, songFromTrack(track))
		}
	}
	if len(songs) > importMaxSongs {
		songs = songs[:importMaxSongs]
	}
	if len(songs) == 0 {
		return models.Playlist{}, media.ErrVideoNotFound
	}

	return s.repo.ImportPlaylist(ownerID, name, songs)
}

func songFromTrack(track models.Track) models.PlaylistSong {
	return models.PlaylistSong{
		SubID:       uuid.NewString(),
		CID:         track.CID,
		Title:       track.Title,
		Duration:    track.Duration,
		Thumbnail:   track.Thumbnail,
		Type:        track.Type,
		Unavailable: track.Unavailable,
	}
}
