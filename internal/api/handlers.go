// Package api contains the HTTP handlers for the public REST surface.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"mixroom/internal/auth"
	"mixroom/internal/models"
	"mixroom/internal/objectstore"
	"mixroom/internal/playlists"
	"mixroom/internal/presence"
	"mixroom/internal/rooms"
	"mixroom/internal/storage"
)

type Handler struct {
	Store     storage.Repository
	Tokens    *auth.TokenManager
	Playlists *playlists.Service
	Rooms     *rooms.Service
	Presence  presence.Store
	Objects   objectstore.Store
	Logger    *slog.Logger
}

func NewHandler(store storage.Repository, tokens *auth.TokenManager, playlistSvc *playlists.Service, roomSvc *rooms.Service, presenceStore presence.Store, objects objectstore.Store, logger *slog.Logger) *Handler {
	if objects == nil {
		objects = objectstore.Disabled{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:     store,
		Tokens:    tokens,
		Playlists: playlistSvc,
		Rooms:     roomSvc,
		Presence:  presenceStore,
		Objects:   objects,
		Logger:    logger,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := h.Store.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status})
}

// Auth

type signupRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type authResponse struct {
	Account accountResponse `json:"account"`
	Tokens  auth.TokenPair  `json:"tokens"`
}

type accountResponse struct {
	ID               string  `json:"id"`
	Email            string  `json:"email"`
	Username         string  `json:"username"`
	ProfileImage     *string `json:"profileImage,omitempty"`
	TwoFactorEnabled bool    `json:"twoFactorEnabled"`
	Rank             int     `json:"rank"`
	CreatedAt        string  `json:"createdAt"`
}

func newAccountResponse(account models.Account) accountResponse {
	resp := accountResponse{
		ID:               account.ID,
		Email:            account.Email,
		Username:         account.Username,
		TwoFactorEnabled: account.TwoFactorEnabled,
		Rank:             account.Rank,
		CreatedAt:        account.CreatedAt.Format(time.RFC3339Nano),
	}
	if account.ProfileImage != nil {
		image := *account.ProfileImage
		resp.ProfileImage = &image
	}
	return resp
}

func (h *Handler) newAuthResponse(account models.Account) (authResponse, error) {
	pair, err := h.Tokens.Issue(account.ID)
	if err != nil {
		return authResponse{}, err
	}
	return authResponse{Account: newAccountResponse(account), Tokens: pair}, nil
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}

	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("password must be at least 8 characters"))
		return
	}

	account, err := h.Store.CreateAccount(storage.CreateAccountParams{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	response, err := h.newAuthResponse(account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, response)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	account, err := h.Store.AuthenticateAccount(req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid credentials"))
		return
	}

	response, err := h.newAuthResponse(account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}

	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	pair, err := h.Tokens.Refresh(req.RefreshToken)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]auth.TokenPair{"tokens": pair})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}

	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.Tokens.Revoke(req.RefreshToken); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
