package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5"

	"mixroom/internal/models"
)

// Snapshot is a point-in-time export of the JSON datastore, consumed by the
// migrate-json-to-postgres tool.
type Snapshot struct {
	Accounts    []models.Account
	Playlists   []models.Playlist
	Rooms       []models.Room
	SearchCache []SearchCacheEntry
}

// SnapshotCounts summarizes a snapshot for logging and post-import checks.
type SnapshotCounts struct {
	Accounts      int
	Playlists     int
	Rooms         int
	SearchEntries int
}

func (s Snapshot) Counts() SnapshotCounts {
	return SnapshotCounts{
		Accounts:      len(s.Accounts),
		Playlists:     len(s.Playlists),
		Rooms:         len(s.Rooms),
		SearchEntries: len(s.SearchCache),
	}
}

// LoadSnapshotFromJSON reads a datastore file written by Storage without
// taking ownership of it.
func LoadSnapshotFromJSON(path string) (Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	var data dataset
	if err := json.NewDecoder(file).Decode(&data); err != nil {
		if errors.Is(err, io.EOF) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("decode store file: %w", err)
	}

	var snapshot Snapshot
	for _, account := range data.Accounts {
		snapshot.Accounts = append(snapshot.Accounts, cloneAccount(account))
	}
	for _, playlist := range data.Playlists {
		snapshot.Playlists = append(snapshot.Playlists, clonePlaylist(playlist))
	}
	for _, room := range data.Rooms {
		snapshot.Rooms = append(snapshot.Rooms, cloneRoom(room))
	}
	for _, entry := range data.SearchCache {
		snapshot.SearchCache = append(snapshot.SearchCache, entry)
	}
	return snapshot, nil
}

// ImportSnapshotToPostgres copies a snapshot into a Postgres-backed
// repository inside a single transaction. Rows are inserted verbatim,
// password hashes included, so the target schema must be empty.
func ImportSnapshotToPostgres(ctx context.Context, repo Repository, snapshot Snapshot) error {
	pg, ok := repo.(*postgresRepository)
	if !ok {
		return errors.New("repository is not backed by postgres")
	}

	tx, err := pg.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer rollbackTx(ctx, tx)

	for _, account := range snapshot.Accounts {
		_, err := tx.Exec(ctx, `
INSERT INTO accounts (id, email, username, password_hash, profile_image, two_factor_secret, two_factor_enabled, rank, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`, account.ID, account.Email, account.Username, account.PasswordHash, account.ProfileImage,
			account.TwoFactorSecret, account.TwoFactorEnabled, account.Rank, account.CreatedAt)
		if err != nil {
			return fmt.Errorf("import account %s: %w", account.ID, err)
		}
	}

	for _, playlist := range snapshot.Playlists {
		songs := playlist.Songs
		if songs == nil {
			songs = []models.PlaylistSong{}
		}
		encoded, err := json.Marshal(songs)
		if err != nil {
			return fmt.Errorf("encode songs for playlist %s: %w", playlist.ID, err)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO playlists (id, owner_id, name, songs, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, playlist.ID, playlist.OwnerID, playlist.Name, encoded, playlist.IsActive, playlist.CreatedAt, playlist.UpdatedAt)
		if err != nil {
			return fmt.Errorf("import playlist %s: %w", playlist.ID, err)
		}
	}

	for _, room := range snapshot.Rooms {
		staff := room.Staff
		if staff == nil {
			staff = []models.RoomStaff{}
		}
		encodedStaff, err := json.Marshal(staff)
		if err != nil {
			return fmt.Errorf("encode staff for room %s: %w", room.ID, err)
		}
		history := room.QueueHistory
		if history == nil {
			history = []models.QueueHistoryEntry{}
		}
		encodedHistory, err := json.Marshal(history)
		if err != nil {
			return fmt.Errorf("encode queue history for room %s: %w", room.ID, err)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO rooms (id, name, slug, owner_id, staff, background, description, welcome_message, queue_cycle, queue_locked, queue_history, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`, room.ID, room.Name, room.Slug, room.OwnerID, encodedStaff, room.Background, room.Description,
			room.WelcomeMessage, room.QueueCycle, room.QueueLocked, encodedHistory, room.CreatedAt, room.UpdatedAt)
		if err != nil {
			return fmt.Errorf("import room %s: %w", room.ID, err)
		}
	}

	for _, entry := range snapshot.SearchCache {
		results := entry.Results
		if results == nil {
			results = []models.Track{}
		}
		encoded, err := json.Marshal(results)
		if err != nil {
			return fmt.Errorf("encode results for query %q: %w", entry.Query, err)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO search_cache (query, results, created_at)
VALUES ($1, $2, $3)
`, entry.Query, encoded, entry.CreatedAt)
		if err != nil {
			return fmt.Errorf("import search cache %q: %w", entry.Query, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}
