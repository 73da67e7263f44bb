package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mixroom/internal/models"
	"mixroom/internal/observability/logging"
	"mixroom/internal/presence"
	"mixroom/internal/rooms"
	"mixroom/internal/storage"
)

// Rooms

type createRoomRequest struct {
	Name           string `json:"name"`
	Slug           string `json:"slug"`
	Description    string `json:"description"`
	WelcomeMessage string `json:"welcomeMessage"`
}

type updateRoomSettingsRequest struct {
	Name           *string `json:"name"`
	Description    *string `json:"description"`
	WelcomeMessage *string `json:"welcomeMessage"`
	QueueCycle     *bool   `json:"queueCycle"`
	QueueLocked    *bool   `json:"queueLocked"`
}

type promoteStaffRequest struct {
	UserID string `json:"userId"`
	Rank   int    `json:"rank"`
}

type roomResponse struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Slug           string           `json:"slug"`
	OwnerID        string           `json:"ownerId"`
	Description    string           `json:"description,omitempty"`
	WelcomeMessage string           `json:"welcomeMessage,omitempty"`
	Background     string           `json:"background,omitempty"`
	QueueCycle     bool             `json:"queueCycle"`
	QueueLocked    bool             `json:"queueLocked"`
	Staff          []roomStaffEntry `json:"staff"`
	CreatedAt      string           `json:"createdAt"`
	UpdatedAt      string           `json:"updatedAt"`
}

type roomStaffEntry struct {
	UserID     string `json:"userId"`
	Rank       int    `json:"rank"`
	PromotedBy string `json:"promotedBy"`
}

type roomViewResponse struct {
	Room      roomResponse       `json:"room"`
	Owner     *roomOwner         `json:"owner,omitempty"`
	State     presence.RoomState `json:"state"`
	Listeners int                `json:"listeners"`
}

// roomOwner is the embedded owner summary on a room view, so clients can
// render the owner without a second account lookup.
type roomOwner struct {
	ID           string  `json:"id"`
	Username     string  `json:"username"`
	ProfileImage *string `json:"profileImage,omitempty"`
}

func newRoomResponse(room models.Room) roomResponse {
	staff := make([]roomStaffEntry, 0, len(room.Staff))
	for _, member := range room.Staff {
		staff = append(staff, roomStaffEntry{UserID: member.UserID, Rank: member.Rank, PromotedBy: member.PromotedBy})
	}
	return roomResponse{
		ID:             room.ID,
		Name:           room.Name,
		Slug:           room.Slug,
		OwnerID:        room.OwnerID,
		Description:    room.Description,
		WelcomeMessage: room.WelcomeMessage,
		Background:     room.Background,
		QueueCycle:     room.QueueCycle,
		QueueLocked:    room.QueueLocked,
		Staff:          staff,
		CreatedAt:      room.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:      room.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func (h *Handler) newRoomViewResponse(view rooms.View) roomViewResponse {
	resp := roomViewResponse{
		Room:      newRoomResponse(view.Room),
		State:     view.State,
		Listeners: view.State.ListenerCount(),
	}
	if account, ok := h.Store.GetAccount(view.Room.OwnerID); ok {
		owner := roomOwner{ID: account.ID, Username: account.Username}
		if account.ProfileImage != nil {
			image := *account.ProfileImage
			owner.ProfileImage = &image
		}
		resp.Owner = &owner
	}
	return resp
}

// RoomCollection handles POST /api/rooms (create) and GET /api/rooms
// (popularity listing).
func (h *Handler) RoomCollection(w http.ResponseWriter, r *http.Request) {
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
		result, err := h.Rooms.ListPopular(r.Context(), page)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		views := make([]roomViewResponse, 0, len(result.Items))
		for _, view := range result.Items {
			views = append(views, h.newRoomViewResponse(view))
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"rooms":      views,
			"prev":       result.Prev,
			"next":       result.Next,
			"totalPages": result.TotalPages,
		})
	case http.MethodPost:
		account, ok := h.requireAuthenticatedAccount(w, r)
		if !ok {
			return
		}
		var req createRoomRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		view, err := h.Rooms.Create(r.Context(), storage.CreateRoomParams{
			OwnerID:        account.ID,
			Name:           req.Name,
			Slug:           req.Slug,
			Description:    req.Description,
			WelcomeMessage: req.WelcomeMessage,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, h.newRoomViewResponse(view))
	default:
		methodNotAllowed(w, r, "GET, POST")
	}
}

// RoomByPath routes /api/rooms/@{slug} and /api/rooms/{id}/... sub-resources.
func (h *Handler) RoomByPath(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("room path missing"))
		return
	}

	if slug, ok := strings.CutPrefix(parts[0], "@"); ok {
		if len(parts) != 1 {
			writeError(w, http.StatusNotFound, fmt.Errorf("unknown room path"))
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, "GET")
			return
		}
		view, err := h.Rooms.GetBySlug(r.Context(), slug)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, h.newRoomViewResponse(view))
		return
	}

	roomID := parts[0]
	r = r.WithContext(logging.ContextWithRoomID(r.Context(), roomID))
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, "GET")
			return
		}
		view, err := h.Rooms.GetByID(r.Context(), roomID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, h.newRoomViewResponse(view))
		return
	}

	account, ok := h.requireAuthenticatedAccount(w, r)
	if !ok {
		return
	}

	if len(parts) == 2 {
		switch parts[1] {
		case "join":
			h.roomPresenceMutation(w, r, func() (presence.RoomState, error) {
				return h.Rooms.Join(r.Context(), roomID, account.ID)
			})
			return
		case "leave":
			h.roomPresenceMutation(w, r, func() (presence.RoomState, error) {
				return h.Rooms.Leave(r.Context(), roomID, account.ID)
			})
			return
		case "waitlist":
			h.handleWaitlist(w, r, roomID, account.ID)
			return
		case "advance":
			h.handleAdvance(w, r, roomID, account.ID)
			return
		case "settings":
			h.handleRoomSettings(w, r, roomID, account.ID)
			return
		case "background":
			h.handleRoomBackground(w, r, roomID, account.ID)
			return
		case "staff":
			h.handleRoomStaff(w, r, roomID, account.ID)
			return
		}
	}

	writeError(w, http.StatusNotFound, fmt.Errorf("unknown room path"))
}

func (h *Handler) roomPresenceMutation(w http.ResponseWriter, r *http.Request, mutate func() (presence.RoomState, error)) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	state, err := mutate()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) handleWaitlist(w http.ResponseWriter, r *http.Request, roomID, accountID string) {
	switch r.Method {
	case http.MethodPost:
		state, err := h.Rooms.BecomeDJ(r.Context(), roomID, accountID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	case http.MethodDelete:
		state, err := h.Rooms.LeaveWaitlist(r.Context(), roomID, accountID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	default:
		methodNotAllowed(w, r, "POST, DELETE")
	}
}

// handleAdvance ends the current play. Only the seated DJ or room staff may
// force the rotation forward.
func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request, roomID, accountID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	view, err := h.Rooms.GetByID(r.Context(), roomID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	isDJ := view.State.CurrentDJ != nil && view.State.CurrentDJ.UserID == accountID
	if !isDJ && view.Room.StaffRank(accountID) < models.StaffRankManager {
		writeError(w, http.StatusForbidden, fmt.Errorf("only the current dj or room staff may advance the queue"))
		return
	}
	state, err := h.Rooms.Advance(r.Context(), roomID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) handleRoomSettings(w http.ResponseWriter, r *http.Request, roomID, accountID string) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r, "PATCH")
		return
	}
	var req updateRoomSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	room, err := h.Rooms.UpdateSettings(accountID, roomID, storage.RoomSettingsUpdate{
		Name:           req.Name,
		Description:    req.Description,
		WelcomeMessage: req.WelcomeMessage,
		QueueCycle:     req.QueueCycle,
		QueueLocked:    req.QueueLocked,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRoomResponse(room))
}

func (h *Handler) handleRoomBackground(w http.ResponseWriter, r *http.Request, roomID, accountID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}

	data, contentType, ext, ok := h.readImageUpload(w, r)
	if !ok {
		return
	}

	digest := sha256.Sum256(data)
	key := fmt.Sprintf("rooms/%s/background-%s.%s", roomID, hex.EncodeToString(digest[:8]), ext)
	if err := h.Objects.Put(r.Context(), key, contentType, bytes.NewReader(data), int64(len(data))); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	room, err := h.Rooms.SetBackground(accountID, roomID, key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRoomResponse(room))
}

func (h *Handler) handleRoomStaff(w http.ResponseWriter, r *http.Request, roomID, accountID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, "PUT")
		return
	}
	var req promoteStaffRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("userId is required"))
		return
	}
	room, err := h.Rooms.PromoteStaff(accountID, roomID, req.UserID, req.Rank)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRoomResponse(room))
}
