package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"mixroom/internal/models"
)

type postgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
}

// NewPostgresRepository opens a Postgres-backed repository. The caller must
// ensure database migrations have been applied prior to invoking this
// constructor.
func NewPostgresRepository(dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	return &postgresRepository{pool: pool, cfg: cfg}, nil
}

// Close releases the Postgres connection pool resources.
func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func rollbackTx(ctx context.Context, tx pgx.Tx) {
	_ = tx.Rollback(ctx)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
}

// Account operations

const accountColumns = `id, email, username, password_hash, profile_image, two_factor_secret, two_factor_enabled, rank, created_at`

func scanAccount(row pgx.Row) (models.Account, error) {
	var account models.Account
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.Username,
		&account.PasswordHash,
		&account.ProfileImage,
		&account.TwoFactorSecret,
		&account.TwoFactorEnabled,
		&account.Rank,
		&account.CreatedAt,
	)
	return account, err
}

func (r *postgresRepository) CreateAccount(params CreateAccountParams) (models.Account, error) {
	normalizedEmail := strings.TrimSpace(strings.ToLower(params.Email))
	if normalizedEmail == "" {
		return models.Account{}, errors.New("email is required")
	}
	if _, err := mail.ParseAddress(normalizedEmail); err != nil {
		return models.Account{}, errors.New("email is invalid")
	}
	username := models.NormalizeUsername(params.Username)
	if !models.ValidUsername(username) {
		return models.Account{}, errors.New("username is invalid")
	}
	if len(params.Password) < 8 {
		return models.Account{}, errors.New("password must be at least 8 characters")
	}

	hashed, err := hashPassword(params.Password)
	if err != nil {
		return models.Account{}, fmt.Errorf("hash password: %w", err)
	}
	id, err := generateID()
	if err != nil {
		return models.Account{}, err
	}

	account := models.Account{
		ID:           id,
		Email:        normalizedEmail,
		Username:     username,
		PasswordHash: hashed,
		Rank:         params.Rank,
		CreatedAt:    time.Now().UTC(),
	}
	_, err = r.pool.Exec(context.Background(), `
INSERT INTO accounts (id, email, username, password_hash, rank, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`, account.ID, account.Email, account.Username, account.PasswordHash, account.Rank, account.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "accounts_email_idx") {
			return models.Account{}, ErrEmailTaken
		}
		if isUniqueViolation(err, "accounts_username_idx") {
			return models.Account{}, ErrUsernameTaken
		}
		return models.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return account, nil
}

func (r *postgresRepository) AuthenticateAccount(email, password string) (models.Account, error) {
	if password == "" {
		return models.Account{}, errors.New("password is required")
	}
	normalizedEmail := strings.TrimSpace(strings.ToLower(email))

	row := r.pool.QueryRow(context.Background(),
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`, normalizedEmail)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, ErrInvalidCredentials
		}
		return models.Account{}, fmt.Errorf("load account: %w", err)
	}
	if err := verifyPassword(account.PasswordHash, password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return models.Account{}, ErrInvalidCredentials
		}
		return models.Account{}, err
	}
	return account, nil
}

func (r *postgresRepository) VerifyAccountPassword(id, password string) error {
	row := r.pool.QueryRow(context.Background(),
		`SELECT password_hash FROM accounts WHERE id = $1`, id)
	var hash string
	if err := row.Scan(&hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("load account: %w", err)
	}
	return verifyPassword(hash, password)
}

func (r *postgresRepository) GetAccount(id string) (models.Account, bool) {
	row := r.pool.QueryRow(context.Background(),
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	account, err := scanAccount(row)
	if err != nil {
		return models.Account{}, false
	}
	return account, true
}

func (r *postgresRepository) GetAccountByUsername(username string) (models.Account, bool) {
	row := r.pool.QueryRow(context.Background(),
		`SELECT `+accountColumns+` FROM accounts WHERE username = $1`, models.NormalizeUsername(username))
	account, err := scanAccount(row)
	if err != nil {
		return models.Account{}, false
	}
	return account, true
}

func (r *postgresRepository) UpdateUsername(id, username string) (models.Account, error) {
	normalized := models.NormalizeUsername(username)
	if !models.ValidUsername(normalized) {
		return models.Account{}, errors.New("username is invalid")
	}

	row := r.pool.QueryRow(context.Background(), `
UPDATE accounts SET username = $2 WHERE id = $1
RETURNING `+accountColumns, id, normalized)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, ErrAccountNotFound
		}
		if isUniqueViolation(err, "accounts_username_idx") {
			return models.Account{}, ErrUsernameTaken
		}
		return models.Account{}, fmt.Errorf("update username: %w", err)
	}
	return account, nil
}

func (r *postgresRepository) UpdatePassword(id, current, next string) (models.Account, error) {
	if len(next) < 8 {
		return models.Account{}, errors.New("password must be at least 8 characters")
	}
	hashed, err := hashPassword(next)
	if err != nil {
		return models.Account{}, fmt.Errorf("hash password: %w", err)
	}

	ctx := context.Background()
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Account{}, fmt.Errorf("begin password update: %w", err)
	}
	defer rollbackTx(ctx, tx)

	row := tx.QueryRow(ctx, `SELECT password_hash FROM accounts WHERE id = $1 FOR UPDATE`, id)
	var hash string
	if err := row.Scan(&hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, ErrAccountNotFound
		}
		return models.Account{}, fmt.Errorf("load account: %w", err)
	}
	if err := verifyPassword(hash, current); err != nil {
		return models.Account{}, err
	}

	row = tx.QueryRow(ctx, `
UPDATE accounts SET password_hash = $2 WHERE id = $1
RETURNING `+accountColumns, id, hashed)
	account, err := scanAccount(row)
	if err != nil {
		return models.Account{}, fmt.Errorf("update password: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Account{}, fmt.Errorf("commit password update: %w", err)
	}
	return account, nil
}

func (r *postgresRepository) SetProfileImage(id string, key *string) (models.Account, error) {
	row := r.pool.QueryRow(context.Background(), `
UPDATE accounts SET profile_image = $2 WHERE id = $1
RETURNING `+accountColumns, id, key)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, ErrAccountNotFound
		}
		return models.Account{}, fmt.Errorf("update profile image: %w", err)
	}
	return account, nil
}

func (r *postgresRepository) EnrollTwoFactor(id, secret string) (models.Account, error) {
	row := r.pool.QueryRow(context.Background(), `
UPDATE accounts SET two_factor_secret = $2, two_factor_enabled = $3 WHERE id = $1
RETURNING `+accountColumns, id, secret, secret != "")
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, ErrAccountNotFound
		}
		return models.Account{}, fmt.Errorf("update two-factor enrollment: %w", err)
	}
	return account, nil
}

// Playlist operations

const playlistColumns = `id, owner_id, name, songs, is_active, created_at, updated_at`

func scanPlaylist(row pgx.Row) (models.Playlist, error) {
	var playlist models.Playlist
	var songs []byte
	err := row.Scan(
		&playlist.ID,
		&playlist.OwnerID,
		&playlist.Name,
		&songs,
		&playlist.IsActive,
		&playlist.CreatedAt,
		&playlist.UpdatedAt,
	)
	if err != nil {
		return models.Playlist{}, err
	}
	if err := json.Unmarshal(songs, &playlist.Songs); err != nil {
		return models.Playlist{}, fmt.Errorf("decode playlist songs: %w", err)
	}
	return playlist, nil
}

func (r *postgresRepository) insertPlaylist(ownerID, name string, songs []models.PlaylistSong) (models.Playlist, error) {
	trimmed, err := validatePlaylistName(name)
	if err != nil {
		return models.Playlist{}, err
	}
	id, err := generateID()
	if err != nil {
		return models.Playlist{}, err
	}
	if songs == nil {
		songs = []models.PlaylistSong{}
	}
	encoded, err := json.Marshal(songs)
	if err != nil {
		return models.Playlist{}, fmt.Errorf("encode playlist songs: %w", err)
	}

	ctx := context.Background()
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Playlist{}, fmt.Errorf("begin playlist create: %w", err)
	}
	defer rollbackTx(ctx, tx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, ownerID).Scan(&exists); err != nil {
		return models.Playlist{}, fmt.Errorf("check account: %w", err)
	}
	if !exists {
		return models.Playlist{}, ErrAccountNotFound
	}

	var owned int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM playlists WHERE owner_id = $1`, ownerID).Scan(&owned); err != nil {
		return models.Playlist{}, fmt.Errorf("count playlists: %w", err)
	}
	if owned >= models.MaxPlaylistsPerAccount {
		return models.Playlist{}, ErrPlaylistLimit
	}

	now := time.Now().UTC()
	playlist := models.Playlist{
		ID:        id,
		OwnerID:   ownerID,
		Name:      trimmed,
		Songs:     songs,
		IsActive:  owned == 0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = tx.Exec(ctx, `
INSERT INTO playlists (id, owner_id, name, songs, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, playlist.ID, playlist.OwnerID, playlist.Name, encoded, playlist.IsActive, playlist.CreatedAt, playlist.UpdatedAt)
	if err != nil {
		return models.Playlist{}, fmt.Errorf("insert playlist: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Playlist{}, fmt.Errorf("commit playlist create: %w", err)
	}
	return playlist, nil
}

func (r *postgresRepository) CreatePlaylist(ownerID, name string) (models.Playlist, error) {
	return r.insertPlaylist(ownerID, name, nil)
}

func (r *postgresRepository) ImportPlaylist(ownerID, name string, songs []models.PlaylistSong) (models.Playlist, error) {
	return r.insertPlaylist(ownerID, name, append([]models.PlaylistSong(nil), songs...))
}

// classifyPlaylistMiss distinguishes a playlist owned by another account
// from one that does not exist at all.
func (r *postgresRepository) classifyPlaylistMiss(ctx context.Context, playlistID string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM playlists WHERE id = $1)`, playlistID).Scan(&exists); err != nil {
		return fmt.Errorf("check playlist: %w", err)
	}
	if exists {
		return ErrPlaylistForbidden
	}
	return ErrPlaylistNotFound
}

func (r *postgresRepository) DeletePlaylist(ownerID, playlistID string) error {
	ctx := context.Background()
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM playlists WHERE id = $1 AND owner_id = $2`, playlistID, ownerID)
	if err != nil {
		return fmt.Errorf("delete playlist: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.classifyPlaylistMiss(ctx, playlistID)
	}
	return nil
}

func (r *postgresRepository) ListPlaylists(ownerID string) []models.Playlist {
	rows, err := r.pool.Query(context.Background(),
		`SELECT `+playlistColumns+` FROM playlists WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var playlists []models.Playlist
	for rows.Next() {
		playlist, err := scanPlaylist(rows)
		if err != nil {
			return nil
		}
		playlists = append(playlists, playlist)
	}
	if rows.Err() != nil {
		return nil
	}
	return playlists
}

func (r *postgresRepository) GetPlaylist(ownerID, playlistID string) (models.Playlist, error) {
	row := r.pool.QueryRow(context.Background(),
		`SELECT `+playlistColumns+` FROM playlists WHERE id = $1`, playlistID)
	playlist, err := scanPlaylist(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Playlist{}, ErrPlaylistNotFound
		}
		return models.Playlist{}, fmt.Errorf("load playlist: %w", err)
	}
	if playlist.OwnerID != ownerID {
		return models.Playlist{}, ErrPlaylistForbidden
	}
	return playlist, nil
}

// mutateSongs loads the playlist queue under a row lock, applies fn, and
// writes the result back.
func (r *postgresRepository) mutateSongs(ownerID, playlistID string, fn func([]models.PlaylistSong) ([]models.PlaylistSong, error)) (models.Playlist, error) {
	ctx := context.Background()
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Playlist{}, fmt.Errorf("begin playlist update: %w", err)
	}
	defer rollbackTx(ctx, tx)

	row := tx.QueryRow(ctx,
		`SELECT `+playlistColumns+` FROM playlists WHERE id = $1 FOR UPDATE`, playlistID)
	playlist, err := scanPlaylist(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Playlist{}, ErrPlaylistNotFound
		}
		return models.Playlist{}, fmt.Errorf("load playlist: %w", err)
	}
	if playlist.OwnerID != ownerID {
		return models.Playlist{}, ErrPlaylistForbidden
	}

	songs, err := fn(playlist.Songs)
	if err != nil {
		return models.Playlist{}, err
	}
	if songs == nil {
		songs = []models.PlaylistSong{}
	}
	encoded, err := json.Marshal(songs)
	if err != nil {
		return models.Playlist{}, fmt.Errorf("encode playlist songs: %w", err)
	}

	playlist.Songs = songs
	playlist.UpdatedAt = time.Now().UTC()
	_, err = tx.Exec(ctx,
		`UPDATE playlists SET songs = $2, updated_at = $3 WHERE id = $1`, playlistID, encoded, playlist.UpdatedAt)
	if err != nil {
		return models.Playlist{}, fmt.Errorf("update playlist songs: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Playlist{}, fmt.Errorf("commit playlist update: %w", err)
	}
	return playlist, nil
}

func (r *postgresRepository) AddPlaylistSong(ownerID, playlistID string, song models.PlaylistSong) (models.Playlist, error) {
	return r.mutateSongs(ownerID, playlistID, func(songs []models.PlaylistSong) ([]models.PlaylistSong, error) {
		if len(songs) >= models.MaxSongsPerPlaylist {
			return nil, ErrSongLimit
		}
		return append([]models.PlaylistSong{song}, songs...), nil
	})
}

func (r *postgresRepository) RemovePlaylistSong(ownerID, playlistID, subID string) (models.Playlist, error) {
	return r.mutateSongs(ownerID, playlistID, func(songs []models.PlaylistSong) ([]models.PlaylistSong, error) {
		for i, song := range songs {
			if song.SubID == subID {
				return append(songs[:i], songs[i+1:]...), nil
			}
		}
		return nil, ErrSongNotFound
	})
}

func (r *postgresRepository) MovePlaylistSong(ownerID, playlistID, subID string, position int) (models.Playlist, error) {
	return r.mutateSongs(ownerID, playlistID, func(songs []models.PlaylistSong) ([]models.PlaylistSong, error) {
		index := -1
		for i, song := range songs {
			if song.SubID == subID {
				index = i
				break
			}
		}
		if index < 0 {
			return nil, ErrSongNotFound
		}
		if position < 0 {
			position = 0
		}
		if position > len(songs)-1 {
			position = len(songs) - 1
		}
		if position == index {
			return songs, nil
		}
		moved := songs[index]
		songs = append(songs[:index], songs[index+1:]...)
		return append(songs[:position], append([]models.PlaylistSong{moved}, songs[position:]...)...), nil
	})
}

func (r *postgresRepository) RenamePlaylist(ownerID, playlistID, name string) (models.Playlist, error) {
	trimmed, err := validatePlaylistName(name)
	if err != nil {
		return models.Playlist{}, err
	}
	ctx := context.Background()
	row := r.pool.QueryRow(ctx, `
UPDATE playlists SET name = $3, updated_at = $4 WHERE id = $1 AND owner_id = $2
RETURNING `+playlistColumns, playlistID, ownerID, trimmed, time.Now().UTC())
	playlist, err := scanPlaylist(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Playlist{}, r.classifyPlaylistMiss(ctx, playlistID)
		}
		return models.Playlist{}, fmt.Errorf("rename playlist: %w", err)
	}
	return playlist, nil
}

func (r *postgresRepository) ActivatePlaylist(ownerID, playlistID string) (models.Playlist, error) {
	ctx := context.Background()
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Playlist{}, fmt.Errorf("begin playlist activation: %w", err)
	}
	defer rollbackTx(ctx, tx)

	row := tx.QueryRow(ctx,
		`SELECT owner_id, is_active FROM playlists WHERE id = $1 FOR UPDATE`, playlistID)
	var rowOwner string
	var active bool
	if err := row.Scan(&rowOwner, &active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Playlist{}, ErrPlaylistNotFound
		}
		return models.Playlist{}, fmt.Errorf("load playlist: %w", err)
	}
	if rowOwner != ownerID {
		return models.Playlist{}, ErrPlaylistForbidden
	}
	if active {
		return models.Playlist{}, ErrAlreadyActive
	}

	if _, err := tx.Exec(ctx,
		`UPDATE playlists SET is_active = FALSE WHERE owner_id = $1 AND is_active`, ownerID); err != nil {
		return models.Playlist{}, fmt.Errorf("deactivate playlists: %w", err)
	}
	row = tx.QueryRow(ctx, `
UPDATE playlists SET is_active = TRUE, updated_at = $3 WHERE id = $1 AND owner_id = $2
RETURNING `+playlistColumns, playlistID, ownerID, time.Now().UTC())
	playlist, err := scanPlaylist(row)
	if err != nil {
		return models.Playlist{}, fmt.Errorf("activate playlist: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Playlist{}, fmt.Errorf("commit playlist activation: %w", err)
	}
	return playlist, nil
}

// Room operations

const roomColumns = `id, name, slug, owner_id, staff, background, description, welcome_message, queue_cycle, queue_locked, queue_history, created_at, updated_at`

func scanRoom(row pgx.Row) (models.Room, error) {
	var room models.Room
	var staff, history []byte
	err := row.Scan(
		&room.ID,
		&room.Name,
		&room.Slug,
		&room.OwnerID,
		&staff,
		&room.Background,
		&room.Description,
		&room.WelcomeMessage,
		&room.QueueCycle,
		&room.QueueLocked,
		&history,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if err != nil {
		return models.Room{}, err
	}
	if err := json.Unmarshal(staff, &room.Staff); err != nil {
		return models.Room{}, fmt.Errorf("decode room staff: %w", err)
	}
	if err := json.Unmarshal(history, &room.QueueHistory); err != nil {
		return models.Room{}, fmt.Errorf("decode room queue history: %w", err)
	}
	return room, nil
}

func (r *postgresRepository) CreateRoom(params CreateRoomParams) (models.Room, error) {
	name, err := validateRoomName(params.Name)
	if err != nil {
		return models.Room{}, err
	}
	slug := NormalizeSlug(params.Slug)
	if slug == "" {
		slug = NormalizeSlug(name)
	}
	if !slugPattern.MatchString(slug) {
		return models.Room{}, errors.New("room slug is invalid")
	}
	id, err := generateID()
	if err != nil {
		return models.Room{}, err
	}

	ctx := context.Background()
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Room{}, fmt.Errorf("begin room create: %w", err)
	}
	defer rollbackTx(ctx, tx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, params.OwnerID).Scan(&exists); err != nil {
		return models.Room{}, fmt.Errorf("check account: %w", err)
	}
	if !exists {
		return models.Room{}, ErrAccountNotFound
	}

	if params.OwnerID != r.cfg.RoomCapExemptID {
		var owned int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM rooms WHERE owner_id = $1`, params.OwnerID).Scan(&owned); err != nil {
			return models.Room{}, fmt.Errorf("count rooms: %w", err)
		}
		if owned >= models.MaxRoomsPerAccount {
			return models.Room{}, ErrRoomLimit
		}
	}

	now := time.Now().UTC()
	room := models.Room{
		ID:             id,
		Name:           name,
		Slug:           slug,
		OwnerID:        params.OwnerID,
		Staff:          []models.RoomStaff{{UserID: params.OwnerID, Rank: models.StaffRankOwner, PromotedBy: params.OwnerID}},
		Description:    strings.TrimSpace(params.Description),
		WelcomeMessage: strings.TrimSpace(params.WelcomeMessage),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	staff, err := json.Marshal(room.Staff)
	if err != nil {
		return models.Room{}, fmt.Errorf("encode room staff: %w", err)
	}
	_, err = tx.Exec(ctx, `
INSERT INTO rooms (id, name, slug, owner_id, staff, description, welcome_message, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`, room.ID, room.Name, room.Slug, room.OwnerID, staff, room.Description, room.WelcomeMessage, room.CreatedAt, room.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "rooms_slug_idx") {
			return models.Room{}, ErrSlugTaken
		}
		return models.Room{}, fmt.Errorf("insert room: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Room{}, fmt.Errorf("commit room create: %w", err)
	}
	return room, nil
}

func (r *postgresRepository) DeleteRoom(id string) error {
	tag, err := r.pool.Exec(context.Background(), `DELETE FROM rooms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (r *postgresRepository) GetRoom(id string) (models.Room, bool) {
	row := r.pool.QueryRow(context.Background(),
		`SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id)
	room, err := scanRoom(row)
	if err != nil {
		return models.Room{}, false
	}
	return room, true
}

func (r *postgresRepository) GetRoomBySlug(slug string) (models.Room, bool) {
	row := r.pool.QueryRow(context.Background(),
		`SELECT `+roomColumns+` FROM rooms WHERE slug = $1`, NormalizeSlug(slug))
	room, err := scanRoom(row)
	if err != nil {
		return models.Room{}, false
	}
	return room, true
}

func (r *postgresRepository) ListRooms(limit int) []models.Room {
	query := `SELECT ` + roomColumns + ` FROM rooms ORDER BY created_at`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(context.Background(), query, args...)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil
		}
		rooms = append(rooms, room)
	}
	if rows.Err() != nil {
		return nil
	}
	return rooms
}

func (r *postgresRepository) UpdateRoomSettings(id string, update RoomSettingsUpdate) (models.Room, error) {
	ctx := context.Background()
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Room{}, fmt.Errorf("begin room update: %w", err)
	}
	defer rollbackTx(ctx, tx)

	row := tx.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1 FOR UPDATE`, id)
	room, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Room{}, ErrRoomNotFound
		}
		return models.Room{}, fmt.Errorf("load room: %w", err)
	}

	if update.Name != nil {
		name, err := validateRoomName(*update.Name)
		if err != nil {
			return models.Room{}, err
		}
		room.Name = name
	}
	if update.Description != nil {
		room.Description = strings.TrimSpace(*update.Description)
	}
	if update.WelcomeMessage != nil {
		room.WelcomeMessage = strings.TrimSpace(*update.WelcomeMessage)
	}
	if update.QueueCycle != nil {
		room.QueueCycle = *update.QueueCycle
	}
	if update.QueueLocked != nil {
		room.QueueLocked = *update.QueueLocked
	}
	room.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx, `
UPDATE rooms SET name = $2, description = $3, welcome_message = $4, queue_cycle = $5, queue_locked = $6, updated_at = $7
WHERE id = $1
`, id, room.Name, room.Description, room.WelcomeMessage, room.QueueCycle, room.QueueLocked, room.UpdatedAt)
	if err != nil {
		return models.Room{}, fmt.Errorf("update room: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Room{}, fmt.Errorf("commit room update: %w", err)
	}
	return room, nil
}

func (r *postgresRepository) UpdateRoomBackground(id, key string) (models.Room, error) {
	row := r.pool.QueryRow(context.Background(), `
UPDATE rooms SET background = $2, updated_at = $3 WHERE id = $1
RETURNING `+roomColumns, id, key, time.Now().UTC())
	room, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Room{}, ErrRoomNotFound
		}
		return models.Room{}, fmt.Errorf("update room background: %w", err)
	}
	return room, nil
}

func (r *postgresRepository) PromoteStaff(roomID, userID string, rank int, promotedBy string) (models.Room, error) {
	ctx := context.Background()
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Room{}, fmt.Errorf("begin staff update: %w", err)
	}
	defer rollbackTx(ctx, tx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return models.Room{}, fmt.Errorf("check account: %w", err)
	}
	if !exists {
		return models.Room{}, ErrAccountNotFound
	}

	row := tx.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1 FOR UPDATE`, roomID)
	room, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Room{}, ErrRoomNotFound
		}
		return models.Room{}, fmt.Errorf("load room: %w", err)
	}

	staff := append([]models.RoomStaff(nil), room.Staff...)
	index := -1
	for i, member := range staff {
		if member.UserID == userID {
			index = i
			break
		}
	}
	switch {
	case rank <= 0 && index >= 0:
		staff = append(staff[:index], staff[index+1:]...)
	case rank > 0 && index >= 0:
		staff[index].Rank = rank
		staff[index].PromotedBy = promotedBy
	case rank > 0:
		staff = append(staff, models.RoomStaff{UserID: userID, Rank: rank, PromotedBy: promotedBy})
	}
	room.Staff = staff
	room.UpdatedAt = time.Now().UTC()

	encoded, err := json.Marshal(staff)
	if err != nil {
		return models.Room{}, fmt.Errorf("encode room staff: %w", err)
	}
	_, err = tx.Exec(ctx, `UPDATE rooms SET staff = $2, updated_at = $3 WHERE id = $1`, roomID, encoded, room.UpdatedAt)
	if err != nil {
		return models.Room{}, fmt.Errorf("update room staff: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Room{}, fmt.Errorf("commit staff update: %w", err)
	}
	return room, nil
}

func (r *postgresRepository) AppendQueueHistory(roomID string, entry models.QueueHistoryEntry) error {
	ctx := context.Background()
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin history append: %w", err)
	}
	defer rollbackTx(ctx, tx)

	row := tx.QueryRow(ctx, `SELECT queue_history FROM rooms WHERE id = $1 FOR UPDATE`, roomID)
	var encoded []byte
	if err := row.Scan(&encoded); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRoomNotFound
		}
		return fmt.Errorf("load room history: %w", err)
	}
	var history []models.QueueHistoryEntry
	if err := json.Unmarshal(encoded, &history); err != nil {
		return fmt.Errorf("decode room history: %w", err)
	}

	history = append(history, entry)
	if len(history) > 50 {
		history = history[len(history)-50:]
	}
	updated, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode room history: %w", err)
	}
	_, err = tx.Exec(ctx, `UPDATE rooms SET queue_history = $2, updated_at = $3 WHERE id = $1`, roomID, updated, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update room history: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit history append: %w", err)
	}
	return nil
}

// Search cache operations

func (r *postgresRepository) GetSearchResults(query string) ([]models.Track, bool) {
	key := normalizeQuery(query)
	if key == "" {
		return nil, false
	}
	row := r.pool.QueryRow(context.Background(),
		`SELECT results FROM search_cache WHERE query = $1 AND created_at > $2`,
		key, time.Now().UTC().Add(-SearchCacheRetention))
	var encoded []byte
	if err := row.Scan(&encoded); err != nil {
		return nil, false
	}
	var results []models.Track
	if err := json.Unmarshal(encoded, &results); err != nil {
		return nil, false
	}
	return results, true
}

func (r *postgresRepository) PutSearchResults(query string, results []models.Track) error {
	key := normalizeQuery(query)
	if key == "" {
		return nil
	}
	if results == nil {
		results = []models.Track{}
	}
	encoded, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode search results: %w", err)
	}
	_, err = r.pool.Exec(context.Background(), `
INSERT INTO search_cache (query, results, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (query) DO UPDATE SET results = EXCLUDED.results, created_at = EXCLUDED.created_at
`, key, encoded, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store search results: %w", err)
	}
	return nil
}

func (r *postgresRepository) PurgeExpiredSearchResults(now time.Time) (int, error) {
	tag, err := r.pool.Exec(context.Background(),
		`DELETE FROM search_cache WHERE created_at <= $1`, now.UTC().Add(-SearchCacheRetention))
	if err != nil {
		return 0, fmt.Errorf("purge search cache: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

var _ Repository = (*postgresRepository)(nil)
