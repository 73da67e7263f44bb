package storage

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"

	"mixroom/internal/models"
)

// Room operations

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// NormalizeSlug lowercases a candidate slug and collapses whitespace runs
// into single hyphens.
func NormalizeSlug(slug string) string {
	normalized := strings.ToLower(strings.TrimSpace(slug))
	return strings.Join(strings.Fields(normalized), "-")
}

func validateRoomName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", errors.New("room name is required")
	}
	if len(trimmed) > 60 {
		return "", errors.New("room name too long")
	}
	return trimmed, nil
}

func (s *Storage) CreateRoom(params CreateRoomParams) (models.Room, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Accounts[params.OwnerID]; !ok {
		return models.Room{}, ErrAccountNotFound
	}

	owned := 0
	for _, room := range s.data.Rooms {
		if room.Slug == slug {
			return models.Room{}, ErrSlugTaken
		}
		if room.OwnerID == params.OwnerID {
			owned++
		}
	}
	if params.OwnerID != s.roomCapExemptID && owned >= models.MaxRoomsPerAccount {
		return models.Room{}, ErrRoomLimit
	}

	id, err := generateID()
	if err != nil {
		return models.Room{}, err
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

	s.data.Rooms[id] = room
	if err := s.persist(); err != nil {
		delete(s.data.Rooms, id)
		return models.Room{}, err
	}
	return cloneRoom(room), nil
}

// DeleteRoom removes a room record. Room creation uses it to roll back the
// durable insert when presence provisioning fails.
func (s *Storage) DeleteRoom(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.data.Rooms[id]
	if !ok {
		return ErrRoomNotFound
	}

	delete(s.data.Rooms, id)
	if err := s.persist(); err != nil {
		s.data.Rooms[id] = room
		return err
	}
	return nil
}

func (s *Storage) GetRoom(id string) (models.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.data.Rooms[id]
	if !ok {
		return models.Room{}, false
	}
	return cloneRoom(room), true
}

func (s *Storage) GetRoomBySlug(slug string) (models.Room, bool) {
	normalized := NormalizeSlug(slug)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, room := range s.data.Rooms {
		if room.Slug == normalized {
			return cloneRoom(room), true
		}
	}
	return models.Room{}, false
}

// ListRooms returns up to limit rooms ordered oldest first. A non-positive
// limit returns everything.
func (s *Storage) ListRooms(limit int) []models.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]models.Room, 0, len(s.data.Rooms))
	for _, room := range s.data.Rooms {
		rooms = append(rooms, cloneRoom(room))
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})
	if limit > 0 && len(rooms) > limit {
		rooms = rooms[:limit]
	}
	return rooms
}

func (s *Storage) UpdateRoomSettings(id string, update RoomSettingsUpdate) (models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.data.Rooms[id]
	if !ok {
		return models.Room{}, ErrRoomNotFound
	}

	previous := cloneRoom(room)
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

	s.data.Rooms[id] = room
	if err := s.persist(); err != nil {
		s.data.Rooms[id] = previous
		return models.Room{}, err
	}
	return cloneRoom(room), nil
}

func (s *Storage) UpdateRoomBackground(id, key string) (models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.data.Rooms[id]
	if !ok {
		return models.Room{}, ErrRoomNotFound
	}

	previous := cloneRoom(room)
	room.Background = key
	room.UpdatedAt = time.Now().UTC()
	s.data.Rooms[id] = room
	if err := s.persist(); err != nil {
		s.data.Rooms[id] = previous
		return models.Room{}, err
	}
	return cloneRoom(room), nil
}

// PromoteStaff sets the staff rank for userID, adding them to the staff list
// if absent. Rank zero removes the entry. Authorization is checked by the
// room service.
func (s *Storage) PromoteStaff(roomID, userID string, rank int, promotedBy string) (models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.data.Rooms[roomID]
	if !ok {
		return models.Room{}, ErrRoomNotFound
	}
	if _, ok := s.data.Accounts[userID]; !ok {
		return models.Room{}, ErrAccountNotFound
	}

	previous := cloneRoom(room)
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

	s.data.Rooms[roomID] = room
	if err := s.persist(); err != nil {
		s.data.Rooms[roomID] = previous
		return models.Room{}, err
	}
	return cloneRoom(room), nil
}

// AppendQueueHistory records a played song in the room's durable history.
// History is capped at the most recent 50 entries.
func (s *Storage) AppendQueueHistory(roomID string, entry models.QueueHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.data.Rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}

	previous := cloneRoom(room)
	history := append([]models.QueueHistoryEntry(nil), room.QueueHistory...)
	history = append(history, entry)
	if len(history) > 50 {
		history = history[len(history)-50:]
	}
	room.QueueHistory = history
	room.UpdatedAt = time.Now().UTC()

	s.data.Rooms[roomID] = room
	if err := s.persist(); err != nil {
		s.data.Rooms[roomID] = previous
		return err
	}
	return nil
}
