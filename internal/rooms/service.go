// Package rooms coordinates the durable room records with their ephemeral
// presence state: creation with provisioning, merged reads, popularity
// listings, and the DJ rotation.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"mixroom/internal/models"
	"mixroom/internal/observability/logging"
	"mixroom/internal/pagination"
	"mixroom/internal/presence"
	"mixroom/internal/storage"
)

const (
	// PopularPageSize is the page length for popularity listings.
	PopularPageSize = 20
	// popularScanLimit bounds how many durable rooms one listing considers.
	popularScanLimit = 300
)

// ErrForbidden is returned when the actor's staff rank does not permit the
// requested room mutation.
var ErrForbidden = errors.New("insufficient staff rank")

// ErrNoPlayableSong is returned when a user steps up to the decks without a
// playable song at the head of their active playlist.
var ErrNoPlayableSong = errors.New("no playable song available")

// View pairs a durable room record with its ephemeral presence snapshot.
type View struct {
	Room  models.Room
	State presence.RoomState
}

// SongSource supplies the track a user would play next, typically the head
// of their active playlist. ok is false when the user has nothing to play.
type SongSource interface {
	NextSong(userID string) (presence.Song, bool)
}

type Service struct {
	repo   storage.Repository
	store  presence.Store
	songs  SongSource
	logger *slog.Logger
}

func NewService(repo storage.Repository, store presence.Store, songs SongSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, store: store, songs: songs, logger: logger}
}

// mapPresenceErr folds a missing presence entry into the room-not-found
// sentinel: a room without valid presence state is unusable and reads as
// absent rather than half-open.
func mapPresenceErr(err error) error {
	if errors.Is(err, presence.ErrNotFound) {
		return storage.ErrRoomNotFound
	}
	return err
}

// Create inserts the durable record and provisions presence state before
// reporting success. If provisioning fails the durable insert is rolled
// back so no room exists that clients can see but never enter.
func (s *Service) Create(ctx context.Context, params storage.CreateRoomParams) (View, error) {
	room, err := s.repo.CreateRoom(params)
	if err != nil {
		return View{}, err
	}
	if err := s.store.Provision(ctx, room.ID); err != nil {
		if rollbackErr := s.repo.DeleteRoom(room.ID); rollbackErr != nil {
			s.logger.Error("failed to roll back room after provision failure",
				"room_id", room.ID, "error", rollbackErr)
		}
		return View{}, fmt.Errorf("provision room state: %w", err)
	}
	state, err := s.store.Get(ctx, room.ID)
	if err != nil {
		return View{}, mapPresenceErr(err)
	}
	return View{Room: room, State: state}, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (View, error) {
	room, ok := s.repo.GetRoom(id)
	if !ok {
		return View{}, storage.ErrRoomNotFound
	}
	return s.withState(ctx, room)
}

func (s *Service) GetBySlug(ctx context.Context, slug string) (View, error) {
	room, ok := s.repo.GetRoomBySlug(slug)
	if !ok {
		return View{}, storage.ErrRoomNotFound
	}
	return s.withState(ctx, room)
}

func (s *Service) withState(ctx context.Context, room models.Room) (View, error) {
	state, err := s.store.Get(ctx, room.ID)
	if err != nil {
		return View{}, mapPresenceErr(err)
	}
	return View{Room: room, State: state}, nil
}

// ListPopular returns one page of active rooms ordered by listener count.
// Rooms without listeners, and rooms whose presence entry is missing or
// invalid, are not listed.
func (s *Service) ListPopular(ctx context.Context, page int) (pagination.Page[View], error) {
	rooms := s.repo.ListRooms(popularScanLimit)
	ids := make([]string, len(rooms))
	for i, room := range rooms {
		ids[i] = room.ID
	}

	states, err := s.store.GetMany(ctx, ids)
	if err != nil {
		return pagination.Page[View]{}, fmt.Errorf("load room states: %w", err)
	}

	views := make([]View, 0, len(states))
	for _, room := range rooms {
		state, ok := states[room.ID]
		if !ok || state.ListenerCount() == 0 {
			continue
		}
		views = append(views, View{Room: room, State: state})
	}
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].State.ListenerCount() > views[j].State.ListenerCount()
	})
	return pagination.Paginate(views, PopularPageSize, page), nil
}

func (s *Service) Join(ctx context.Context, roomID, userID string) (presence.RoomState, error) {
	state, err := s.store.Join(ctx, roomID, userID)
	if err != nil {
		return presence.RoomState{}, mapPresenceErr(err)
	}
	return state, nil
}

// Leave removes the user from the room. If the leaving user held the decks,
// the rotation advances to the next waiting DJ.
func (s *Service) Leave(ctx context.Context, roomID, userID string) (presence.RoomState, error) {
	state, err := s.store.Leave(ctx, roomID, userID)
	if err != nil {
		return presence.RoomState{}, mapPresenceErr(err)
	}
	if state.CurrentDJ == nil && len(state.Waitlist) > 0 {
		return s.rotate(ctx, roomID)
	}
	return state, nil
}

// BecomeDJ puts the user on the decks when they are free, otherwise at the
// back of the waitlist. A locked queue admits only room staff.
func (s *Service) BecomeDJ(ctx context.Context, roomID, userID string) (presence.RoomState, error) {
	room, found := s.repo.GetRoom(roomID)
	if !found {
		return presence.RoomState{}, storage.ErrRoomNotFound
	}
	if room.QueueLocked && room.StaffRank(userID) <= 0 {
		return presence.RoomState{}, fmt.Errorf("queue is locked: %w", ErrForbidden)
	}

	state, err := s.store.Get(ctx, roomID)
	if err != nil {
		return presence.RoomState{}, mapPresenceErr(err)
	}
	if state.CurrentDJ != nil {
		if state.CurrentDJ.UserID == userID {
			return state, nil
		}
		state, err = s.store.PushWaitlist(ctx, roomID, userID)
		if err != nil {
			return presence.RoomState{}, mapPresenceErr(err)
		}
		return state, nil
	}

	song, ok := s.songs.NextSong(userID)
	if !ok {
		return presence.RoomState{}, ErrNoPlayableSong
	}
	return s.startPlay(ctx, roomID, userID, song)
}

func (s *Service) LeaveWaitlist(ctx context.Context, roomID, userID string) (presence.RoomState, error) {
	state, err := s.store.DropWaitlist(ctx, roomID, userID)
	if err != nil {
		return presence.RoomState{}, mapPresenceErr(err)
	}
	return state, nil
}

// Advance ends the current play and hands the decks to the next waiting DJ,
// or clears them when nobody waits.
func (s *Service) Advance(ctx context.Context, roomID string) (presence.RoomState, error) {
	return s.rotate(ctx, roomID)
}

// rotate pops waitlist entries until it finds a user with a playable song.
// Users without one lose their slot rather than blocking the rotation. When
// the room cycles its queue, the outgoing DJ rejoins the back of the
// waitlist as long as they still have something to play.
func (s *Service) rotate(ctx context.Context, roomID string) (presence.RoomState, error) {
	room, found := s.repo.GetRoom(roomID)
	if !found {
		return presence.RoomState{}, storage.ErrRoomNotFound
	}
	if room.QueueCycle {
		state, err := s.store.Get(ctx, roomID)
		if err != nil {
			return presence.RoomState{}, mapPresenceErr(err)
		}
		if outgoing := state.CurrentDJ; outgoing != nil {
			if _, ok := s.songs.NextSong(outgoing.UserID); ok {
				if _, err := s.store.PushWaitlist(ctx, roomID, outgoing.UserID); err != nil {
					return presence.RoomState{}, mapPresenceErr(err)
				}
			}
		}
	}

	for {
		userID, _, ok, err := s.store.PopWaitlist(ctx, roomID)
		if err != nil {
			return presence.RoomState{}, mapPresenceErr(err)
		}
		if !ok {
			state, err := s.store.SetDJ(ctx, roomID, nil)
			if err != nil {
				return presence.RoomState{}, mapPresenceErr(err)
			}
			return state, nil
		}
		song, found := s.songs.NextSong(userID)
		if !found {
			logging.WithContext(ctx, s.logger).Debug("skipping waitlist entry with no playable song",
				"room_id", roomID, "user_id", userID)
			continue
		}
		return s.startPlay(ctx, roomID, userID, song)
	}
}

// startPlay seats the DJ and records the play in the room's durable history.
// A history write failure does not interrupt playback.
func (s *Service) startPlay(ctx context.Context, roomID, userID string, song presence.Song) (presence.RoomState, error) {
	state, err := s.store.SetDJ(ctx, roomID, &presence.DJ{
		UserID:  userID,
		Song:    song,
		Upvotes: []string{},
		Grabs:   []string{},
	})
	if err != nil {
		return presence.RoomState{}, mapPresenceErr(err)
	}

	entry := models.QueueHistoryEntry{
		ID:       uuid.NewString(),
		CID:      song.CID,
		Title:    song.Title,
		PlayedBy: userID,
		PlayedAt: time.Now().UTC(),
	}
	if err := s.repo.AppendQueueHistory(roomID, entry); err != nil {
		logging.WithContext(ctx, s.logger).Warn("failed to record queue history",
			"room_id", roomID, "user_id", userID, "error", err)
	}
	return state, nil
}

// UpdateSettings applies a partial settings update after verifying the actor
// holds at least manager rank in the room.
func (s *Service) UpdateSettings(actorID, roomID string, update storage.RoomSettingsUpdate) (models.Room, error) {
	if err := s.requireRank(roomID, actorID, models.StaffRankManager); err != nil {
		return models.Room{}, err
	}
	return s.repo.UpdateRoomSettings(roomID, update)
}

// SetBackground stores the object key of an uploaded room background.
func (s *Service) SetBackground(actorID, roomID, key string) (models.Room, error) {
	if err := s.requireRank(roomID, actorID, models.StaffRankManager); err != nil {
		return models.Room{}, err
	}
	return s.repo.UpdateRoomBackground(roomID, key)
}

// PromoteStaff changes userID's staff rank. The actor must outrank both the
// target's current and proposed rank, and the owner cannot be demoted.
func (s *Service) PromoteStaff(actorID, roomID, userID string, rank int) (models.Room, error) {
	room, ok := s.repo.GetRoom(roomID)
	if !ok {
		return models.Room{}, storage.ErrRoomNotFound
	}
	actorRank := room.StaffRank(actorID)
	if userID == room.OwnerID {
		return models.Room{}, ErrForbidden
	}
	if actorRank <= room.StaffRank(userID) || actorRank <= rank {
		return models.Room{}, ErrForbidden
	}
	return s.repo.PromoteStaff(roomID, userID, rank, actorID)
}

func (s *Service) requireRank(roomID, actorID string, rank int) error {
	room, ok := s.repo.GetRoom(roomID)
	if !ok {
		return storage.ErrRoomNotFound
	}
	if room.StaffRank(actorID) < rank {
		return ErrForbidden
	}
	return nil
}
