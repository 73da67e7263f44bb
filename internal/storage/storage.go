package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mixroom/internal/models"
)

type dataset struct {
	Accounts    map[string]models.Account   `json:"accounts"`
	Playlists   map[string]models.Playlist  `json:"playlists"`
	Rooms       map[string]models.Room      `json:"rooms"`
	SearchCache map[string]SearchCacheEntry `json:"searchCache"`
}

// SearchCacheEntry stores the resolved results for one normalized metadata
// query. Entries older than the retention window read as misses.
type SearchCacheEntry struct {
	Query     string         `json:"query"`
	Results   []models.Track `json:"results"`
	CreatedAt time.Time      `json:"createdAt"`
}

type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
	roomCapExemptID string
}

func newDataset() dataset {
	return dataset{
		Accounts:    make(map[string]models.Account),
		Playlists:   make(map[string]models.Playlist),
		Rooms:       make(map[string]models.Room),
		SearchCache: make(map[string]SearchCacheEntry),
	}
}

func (s *Storage) ensureDatasetInitializedLocked() {
	if s.data.Accounts == nil {
		s.data.Accounts = make(map[string]models.Account)
	}
	if s.data.Playlists == nil {
		s.data.Playlists = make(map[string]models.Playlist)
	}
	if s.data.Rooms == nil {
		s.data.Rooms = make(map[string]models.Room)
	}
	if s.data.SearchCache == nil {
		s.data.SearchCache = make(map[string]SearchCacheEntry)
	}
}

func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{filePath: path}
	for _, opt := range opts {
		if opt != nil {
			opt.applyJSON(store)
		}
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}

	s.ensureDatasetInitializedLocked()

	return nil
}

func (s *Storage) persist() error {
	return s.persistDataset(s.data)
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		if err := s.persistOverride(data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

func clonePlaylist(playlist models.Playlist) models.Playlist {
	cloned := playlist
	if playlist.Songs != nil {
		cloned.Songs = append([]models.PlaylistSong(nil), playlist.Songs...)
	}
	return cloned
}

func cloneRoom(room models.Room) models.Room {
	cloned := room
	if room.Staff != nil {
		cloned.Staff = append([]models.RoomStaff(nil), room.Staff...)
	}
	if room.QueueHistory != nil {
		cloned.QueueHistory = append([]models.QueueHistoryEntry(nil), room.QueueHistory...)
	}
	return cloned
}

func cloneAccount(account models.Account) models.Account {
	cloned := account
	if account.ProfileImage != nil {
		image := *account.ProfileImage
		cloned.ProfileImage = &image
	}
	return cloned
}
