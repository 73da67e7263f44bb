package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mixroom/internal/models"
)

// Playlists

type createPlaylistRequest struct {
	Name string `json:"name"`
}

type deletePlaylistRequest struct {
	Password string `json:"password"`
}

type renamePlaylistRequest struct {
	Name string `json:"name"`
}

type importPlaylistRequest struct {
	Name       string `json:"name"`
	PlaylistID string `json:"playlistId"`
}

type moveSongRequest struct {
	Position *int `json:"position"`
	Top      bool `json:"top"`
}

type playlistResponse struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	IsActive  bool                `json:"isActive"`
	SongCount int                 `json:"songCount"`
	Songs     []playlistSongEntry `json:"songs,omitempty"`
	CreatedAt string              `json:"createdAt"`
	UpdatedAt string              `json:"updatedAt"`
}

type playlistSongEntry struct {
	SubID       string `json:"subId"`
	CID         string `json:"cid"`
	Title       string `json:"title"`
	Duration    int    `json:"duration"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	Type        string `json:"type"`
	Unavailable bool   `json:"unavailable"`
}

func newPlaylistSongEntry(song models.PlaylistSong) playlistSongEntry {
	return playlistSongEntry{
		SubID:       song.SubID,
		CID:         song.CID,
		Title:       song.Title,
		Duration:    song.Duration,
		Thumbnail:   song.Thumbnail,
		Type:        song.Type,
		Unavailable: song.Unavailable,
	}
}

func newPlaylistResponse(playlist models.Playlist, includeSongs bool) playlistResponse {
	resp := playlistResponse{
		ID:        playlist.ID,
		Name:      playlist.Name,
		IsActive:  playlist.IsActive,
		SongCount: len(playlist.Songs),
		CreatedAt: playlist.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt: playlist.UpdatedAt.Format(time.RFC3339Nano),
	}
	if includeSongs {
		resp.Songs = make([]playlistSongEntry, 0, len(playlist.Songs))
		for _, song := range playlist.Songs {
			resp.Songs = append(resp.Songs, newPlaylistSongEntry(song))
		}
	}
	return resp
}

func (h *Handler) PlaylistCollection(w http.ResponseWriter, r *http.Request) {
	account, ok := h.requireAuthenticatedAccount(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		owned := h.Playlists.List(account.ID)
		response := make([]playlistResponse, 0, len(owned))
		for _, playlist := range owned {
			response = append(response, newPlaylistResponse(playlist, false))
		}
		writeJSON(w, http.StatusOK, response)
	case http.MethodPost:
		var req createPlaylistRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		playlist, err := h.Playlists.Create(account.ID, req.Name)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newPlaylistResponse(playlist, true))
	default:
		methodNotAllowed(w, r, "GET, POST")
	}
}

func (h *Handler) PlaylistImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	account, ok := h.requireAuthenticatedAccount(w, r)
	if !ok {
		return
	}

	var req importPlaylistRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.PlaylistID) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("playlistId is required"))
		return
	}

	playlist, err := h.Playlists.Import(r.Context(), account.ID, req.Name, req.PlaylistID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPlaylistResponse(playlist, true))
}

func (h *Handler) PlaylistSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	if _, ok := h.requireAuthenticatedAccount(w, r); !ok {
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("query parameter q is required"))
		return
	}
	results, err := h.Playlists.Search(r.Context(), query)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]models.Track{"results": results})
}

// PlaylistByID routes /api/playlists/{id} and its sub-resources.
func (h *Handler) PlaylistByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/playlists/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("playlist id missing"))
		return
	}

	account, ok := h.requireAuthenticatedAccount(w, r)
	if !ok {
		return
	}
	playlistID := parts[0]

	if len(parts) == 1 {
		h.handlePlaylistRoot(w, r, account.ID, playlistID)
		return
	}

	switch parts[1] {
	case "activate":
		if len(parts) != 2 {
			break
		}
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, "PUT")
			return
		}
		playlist, err := h.Playlists.Activate(account.ID, playlistID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newPlaylistResponse(playlist, false))
		return
	case "songs":
		h.handlePlaylistSongs(w, r, account.ID, playlistID, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, fmt.Errorf("unknown playlist path"))
}

func (h *Handler) handlePlaylistRoot(w http.ResponseWriter, r *http.Request, ownerID, playlistID string) {
	switch r.Method {
	case http.MethodGet:
		playlist, err := h.Playlists.Get(ownerID, playlistID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newPlaylistResponse(playlist, true))
	case http.MethodPatch:
		var req renamePlaylistRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		playlist, err := h.Playlists.Rename(ownerID, playlistID, req.Name)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newPlaylistResponse(playlist, false))
	case http.MethodDelete:
		var req deletePlaylistRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.Playlists.Delete(ownerID, playlistID, req.Password); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, "GET, PATCH, DELETE")
	}
}

func (h *Handler) handlePlaylistSongs(w http.ResponseWriter, r *http.Request, ownerID, playlistID string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			page := 1
			if raw := r.URL.Query().Get("page"); raw != "" {
				parsed, err := strconv.Atoi(raw)
				if err != nil {
					writeError(w, http.StatusBadRequest, fmt.Errorf("invalid page %q", raw))
					return
				}
				page = parsed
			}
			result, err := h.Playlists.SongsPage(ownerID, playlistID, page)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			songs := make([]playlistSongEntry, 0, len(result.Items))
			for _, song := range result.Items {
				songs = append(songs, newPlaylistSongEntry(song))
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"songs":      songs,
				"prev":       result.Prev,
				"next":       result.Next,
				"totalPages": result.TotalPages,
			})
		case http.MethodPut:
			cid := strings.TrimSpace(r.URL.Query().Get("cid"))
			if cid == "" {
				writeError(w, http.StatusBadRequest, fmt.Errorf("query parameter cid is required"))
				return
			}
			playlist, err := h.Playlists.AddSong(r.Context(), ownerID, playlistID, cid)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, newPlaylistResponse(playlist, true))
		default:
			methodNotAllowed(w, r, "GET, PUT")
		}
		return
	}

	songID := rest[0]
	if songID == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("song id missing"))
		return
	}

	if len(rest) == 1 {
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, "DELETE")
			return
		}
		playlist, err := h.Playlists.RemoveSong(ownerID, playlistID, songID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newPlaylistResponse(playlist, true))
		return
	}

	if len(rest) == 2 && rest[1] == "move" {
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, "PUT")
			return
		}
		var req moveSongRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		var playlist models.Playlist
		var err error
		switch {
		case req.Top:
			playlist, err = h.Playlists.MoveSongToTop(ownerID, playlistID, songID)
		case req.Position != nil:
			playlist, err = h.Playlists.MoveSong(ownerID, playlistID, songID, *req.Position)
		default:
			writeError(w, http.StatusBadRequest, fmt.Errorf("position or top is required"))
			return
		}
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newPlaylistResponse(playlist, true))
		return
	}

	writeError(w, http.StatusNotFound, fmt.Errorf("unknown playlist path"))
}
