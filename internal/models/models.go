package models

import (
	"regexp"
	"strings"
	"time"
)

const (
	// MaxPlaylistsPerAccount caps how many playlists a single account may own.
	MaxPlaylistsPerAccount = 5
	// MaxSongsPerPlaylist caps the ordered song queue inside one playlist.
	MaxSongsPerPlaylist = 150
	// MaxPlaylistNameLength bounds user-supplied playlist names.
	MaxPlaylistNameLength = 50
	// MaxRoomsPerAccount caps room ownership for non-privileged accounts.
	MaxRoomsPerAccount = 3

	// MinUsernameLength and MaxUsernameLength bound account usernames.
	MinUsernameLength = 3
	MaxUsernameLength = 45

	// StaffRankOwner is the rank seeded for the creator of a room.
	StaffRankOwner = 755
	// StaffRankManager is the minimum rank allowed to change room settings.
	StaffRankManager = 500
)

type Account struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Username         string    `json:"username"`
	PasswordHash     string    `json:"passwordHash,omitempty"`
	ProfileImage     *string   `json:"profileImage,omitempty"`
	TwoFactorSecret  string    `json:"twoFactorSecret,omitempty"`
	TwoFactorEnabled bool      `json:"twoFactorEnabled"`
	Rank             int       `json:"rank"`
	CreatedAt        time.Time `json:"createdAt"`
}

var usernamePattern = regexp.MustCompile(`^[a-z0-9]+(?:[._-][a-z0-9]+)*$`)

// ValidUsername reports whether the candidate satisfies the username
// constraints: 3-45 characters, lowercase alphanumerics with single
// interior separators (no leading, trailing, or doubled '.', '_', '-').
func ValidUsername(username string) bool {
	if len(username) < MinUsernameLength || len(username) > MaxUsernameLength {
		return false
	}
	return usernamePattern.MatchString(username)
}

// NormalizeUsername lowercases and trims a candidate username before
// validation and uniqueness checks.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Track is a resolved piece of media from an external provider. Playlist
// songs and cached search results are both built from tracks.
type Track struct {
	CID         string `json:"cid"`
	Title       string `json:"title"`
	Duration    int    `json:"duration"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	Type        string `json:"type"`
	Unavailable bool   `json:"unavailable"`
}

type Playlist struct {
	ID        string         `json:"id"`
	OwnerID   string         `json:"ownerId"`
	Name      string         `json:"name"`
	Songs     []PlaylistSong `json:"songs"`
	IsActive  bool           `json:"isActive"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// PlaylistSong is an entry in a playlist's ordered queue. Position zero is
// next-to-play; new songs are inserted at the front.
type PlaylistSong struct {
	SubID       string `json:"subId"`
	CID         string `json:"cid"`
	Title       string `json:"title"`
	Duration    int    `json:"duration"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	Type        string `json:"type"`
	Unavailable bool   `json:"unavailable"`
}

type Room struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	Slug           string              `json:"slug"`
	OwnerID        string              `json:"ownerId"`
	Staff          []RoomStaff         `json:"staff"`
	Background     string              `json:"background,omitempty"`
	Description    string              `json:"description,omitempty"`
	WelcomeMessage string              `json:"welcomeMessage,omitempty"`
	QueueCycle     bool                `json:"queueCycle"`
	QueueLocked    bool                `json:"queueLocked"`
	QueueHistory   []QueueHistoryEntry `json:"queueHistory,omitempty"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

type RoomStaff struct {
	UserID     string `json:"userId"`
	Rank       int    `json:"rank"`
	PromotedBy string `json:"promotedBy"`
}

// StaffRank returns the staff rank held by userID in the room, or zero when
// the user is not on staff.
func (r Room) StaffRank(userID string) int {
	for _, member := range r.Staff {
		if member.UserID == userID {
			return member.Rank
		}
	}
	return 0
}

// QueueHistoryEntry records one previously played song with attribution.
type QueueHistoryEntry struct {
	ID       string    `json:"id"`
	CID      string    `json:"cid"`
	Title    string    `json:"title"`
	PlayedBy string    `json:"playedBy"`
	PlayedAt time.Time `json:"playedAt"`
}
