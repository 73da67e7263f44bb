// Package presence tracks the ephemeral, rapidly changing state of a room:
// who is listening, who is playing, and who waits for the decks. Room
// records themselves live in the durable store; this layer only knows
// room ids.
package presence

import (
	"context"
	"errors"
	"time"
)

// SchemaVersion identifies the stored state layout. Entries carrying any
// other version fail validation and read as absent.
const SchemaVersion = 1

// ErrNotFound is returned when a room has no presence entry, or its entry
// failed validation.
var ErrNotFound = errors.New("room presence not found")

// Song is the track a DJ is currently playing.
type Song struct {
	CID       string `json:"cid"`
	Title     string `json:"title"`
	Duration  int    `json:"duration"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// DJ describes the active performer and the audience reaction to the
// current song.
type DJ struct {
	UserID  string   `json:"userId"`
	Song    Song     `json:"song"`
	Upvotes []string `json:"upvotes"`
	Grabs   []string `json:"grabs"`
}

// RoomState is the full ephemeral snapshot for one room.
type RoomState struct {
	Version   int       `json:"version"`
	CurrentDJ *DJ       `json:"currentDj"`
	Users     []string  `json:"users"`
	Waitlist  []string  `json:"waitlist"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ListenerCount reports how many users are present in the room.
func (s RoomState) ListenerCount() int {
	return len(s.Users)
}

func emptyState(now time.Time) RoomState {
	return RoomState{
		Version:   SchemaVersion,
		Users:     []string{},
		Waitlist:  []string{},
		UpdatedAt: now,
	}
}

// Store holds per-room ephemeral state plus short-lived cooldown counters.
type Store interface {
	// Provision writes the empty state for a newly created room. Creation
	// is not considered successful until this returns.
	Provision(ctx context.Context, roomID string) error
	Get(ctx context.Context, roomID string) (RoomState, error)
	// GetMany bulk-fetches states; rooms without a valid entry are omitted
	// from the result.
	GetMany(ctx context.Context, roomIDs []string) (map[string]RoomState, error)
	Join(ctx context.Context, roomID, userID string) (RoomState, error)
	Leave(ctx context.Context, roomID, userID string) (RoomState, error)
	SetDJ(ctx context.Context, roomID string, dj *DJ) (RoomState, error)
	PushWaitlist(ctx context.Context, roomID, userID string) (RoomState, error)
	// PopWaitlist removes and returns the waitlist head; ok is false when
	// the waitlist is empty.
	PopWaitlist(ctx context.Context, roomID string) (userID string, state RoomState, ok bool, err error)
	// DropWaitlist removes userID from the waitlist without leaving the room.
	DropWaitlist(ctx context.Context, roomID, userID string) (RoomState, error)
	Delete(ctx context.Context, roomID string) error

	// Cooldown marks key for ttl if it is not already marked, reporting
	// whether the cooldown was already active.
	Cooldown(ctx context.Context, key string, ttl time.Duration) (active bool, err error)
	// CooldownRemaining reports the time left on an active cooldown, zero
	// when none is active.
	CooldownRemaining(ctx context.Context, key string) (time.Duration, error)
}

func stateKey(roomID string) string {
	return "room:" + roomID + ":state"
}

func cooldownKey(key string) string {
	return "cooldown:" + key
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func remove(values []string, target string) []string {
	out := values[:0]
	for _, value := range values {
		if value != target {
			out = append(out, value)
		}
	}
	return out
}
