package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func createPlaylist(t *testing.T, env *testEnv, accountID, name string) playlistResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/playlists", jsonBody(t, createPlaylistRequest{Name: name}))
	req = env.authenticated(t, accountID, req)
	recorder := httptest.NewRecorder()
	env.handler.PlaylistCollection(recorder, req)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create playlist returned %d: %s", recorder.Code, recorder.Body.String())
	}
	var playlist playlistResponse
	decodeBody(t, recorder, &playlist)
	return playlist
}

func addSong(t *testing.T, env *testEnv, accountID, playlistID, cid string) playlistResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPut, "/api/playlists/"+playlistID+"/songs?cid="+cid, nil)
	req = env.authenticated(t, accountID, req)
	recorder := httptest.NewRecorder()
	env.handler.PlaylistByID(recorder, req)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("add song returned %d: %s", recorder.Code, recorder.Body.String())
	}
	var playlist playlistResponse
	decodeBody(t, recorder, &playlist)
	return playlist
}

func TestPlaylistCreateAndList(t *testing.T) {
	env := newTestEnv(t)
	created := env.signup(t, "dj@example.com", "dj-nova", "correct horse battery")

	playlist := createPlaylist(t, env, created.Account.ID, "late night")
	if !playlist.IsActive {
		t.Fatalf("expected the first playlist to activate itself")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/playlists", nil)
	req = env.authenticated(t, created.Account.ID, req)
	recorder := httptest.NewRecorder()
	env.handler.PlaylistCollection(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("list returned %d: %s", recorder.Code, recorder.Body.String())
	}
	var listed []playlistResponse
	decodeBody(t, recorder, &listed)
	if len(listed) != 1 || listed[0].ID != playlist.ID {
		t.Fatalf("expected the created playlist in the listing, got %+v", listed)
	}
	if listed[0].Songs != nil {
		t.Fatalf("expected the listing to omit song bodies")
	}
}

func TestPlaylistSongFlow(t *testing.T) {
	env := newTestEnv(t)
	created := env.signup(t, "dj@example.com", "dj-nova", "correct horse battery")
	playlist := createPlaylist(t, env, created.Account.ID, "late night")

	withFirst := addSong(t, env, created.Account.ID, playlist.ID, "cid-1")
	if withFirst.SongCount != 1 {
		t.Fatalf("expected one song, got %d", withFirst.SongCount)
	}
	withSecond := addSong(t, env, created.Account.ID, playlist.ID, "cid-2")
	if withSecond.SongCount != 2 {
		t.Fatalf("expected two songs, got %d", withSecond.SongCount)
	}
	// Additions go to the front of the queue.
	if withSecond.Songs[0].CID != "cid-2" {
		t.Fatalf("expected newest song first, got %q", withSecond.Songs[0].CID)
	}

	// Move the older song back to the top.
	target := withSecond.Songs[1]
	req := httptest.NewRequest(http.MethodPut, "/api/playlists/"+playlist.ID+"/songs/"+target.SubID+"/move",
		jsonBody(t, moveSongRequest{Top: true}))
	req = env.authenticated(t, created.Account.ID, req)
	recorder := httptest.NewRecorder()
	env.handler.PlaylistByID(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("move returned %d: %s", recorder.Code, recorder.Body.String())
	}
	var moved playlistResponse
	decodeBody(t, recorder, &moved)
	if moved.Songs[0].SubID != target.SubID {
		t.Fatalf("expected %q at the top, got %q", target.SubID, moved.Songs[0].SubID)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/playlists/"+playlist.ID+"/songs/"+target.SubID, nil)
	req = env.authenticated(t, created.Account.ID, req)
	recorder = httptest.NewRecorder()
	env.handler.PlaylistByID(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("remove returned %d: %s", recorder.Code, recorder.Body.String())
	}
	var afterRemove playlistResponse
	decodeBody(t, recorder, &afterRemove)
	if afterRemove.SongCount != 1 {
		t.Fatalf("expected one song after removal, got %d", afterRemove.SongCount)
	}
}

func TestPlaylistSongsPagination(t *testing.T) {
	env := newTestEnv(t)
	created := env.signup(t, "dj@example.com", "dj-nova", "correct horse battery")
	playlist := createPlaylist(t, env, created.Account.ID, "late night")
	addSong(t, env, created.Account.ID, playlist.ID, "cid-1")
	addSong(t, env, created.Account.ID, playlist.ID, "cid-2")

	req := httptest.NewRequest(http.MethodGet, "/api/playlists/"+playlist.ID+"/songs?page=1", nil)
	req = env.authenticated(t, created.Account.ID, req)
	recorder := httptest.NewRecorder()
	env.handler.PlaylistByID(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("songs page returned %d: %s", recorder.Code, recorder.Body.String())
	}
	var page struct {
		Songs      []playlistSongEntry `json:"songs"`
		Prev       bool                `json:"prev"`
		Next       bool                `json:"next"`
		TotalPages int                 `json:"totalPages"`
	}
	decodeBody(t, recorder, &page)
	if len(page.Songs) != 2 || page.TotalPages != 1 || page.Prev || page.Next {
		t.Fatalf("unexpected page shape: %+v", page)
	}
}

func TestPlaylistAddUnknownSong(t *testing.T) {
	env := newTestEnv(t)
	created := env.signup(t, "dj@example.com", "dj-nova", "correct horse battery")
	playlist := createPlaylist(t, env, created.Account.ID, "late night")

	req := httptest.NewRequest(http.MethodPut, "/api/playlists/"+playlist.ID+"/songs?cid=missing", nil)
	req = env.authenticated(t, created.Account.ID, req)
	recorder := httptest.NewRecorder()
	env.handler.PlaylistByID(recorder, req)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown cid, got %d", recorder.Code)
	}
}

func TestPlaylistDeleteRequiresPassword(t *testing.T) {
	env := newTestEnv(t)
	created := env.signup(t, "dj@example.com", "dj-nova", "correct horse battery")
	playlist := createPlaylist(t, env, created.Account.ID, "late night")

	del := func(password string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodDelete, "/api/playlists/"+playlist.ID,
			jsonBody(t, deletePlaylistRequest{Password: password}))
		req = env.authenticated(t, created.Account.ID, req)
		recorder := httptest.NewRecorder()
		env.handler.PlaylistByID(recorder, req)
		return recorder
	}

	if got := del("wrong password").Code; got != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a wrong password, got %d", got)
	}
	if got := del("correct horse battery").Code; got != http.StatusNoContent {
		t.Fatalf("expected 204 for the right password, got %d", got)
	}
}

func TestPlaylistRenameAndActivate(t *testing.T) {
	env := newTestEnv(t)
	created := env.signup(t, "dj@example.com", "dj-nova", "correct horse battery")
	first := createPlaylist(t, env, created.Account.ID, "first")
	second := createPlaylist(t, env, created.Account.ID, "second")

	req := httptest.NewRequest(http.MethodPatch, "/api/playlists/"+second.ID,
		jsonBody(t, renamePlaylistRequest{Name: "renamed"}))
	req = env.authenticated(t, created.Account.ID, req)
	recorder := httptest.NewRecorder()
	env.handler.PlaylistByID(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("rename returned %d: %s", recorder.Code, recorder.Body.String())
	}
	var renamed playlistResponse
	decodeBody(t, recorder, &renamed)
	if renamed.Name != "renamed" {
		t.Fatalf("expected renamed playlist, got %q", renamed.Name)
	}

	req = httptest.NewRequest(http.MethodPut, "/api/playlists/"+second.ID+"/activate", nil)
	req = env.authenticated(t, created.Account.ID, req)
	recorder = httptest.NewRecorder()
	env.handler.PlaylistByID(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("activate returned %d: %s", recorder.Code, recorder.Body.String())
	}
	var activated playlistResponse
	decodeBody(t, recorder, &activated)
	if !activated.IsActive {
		t.Fatalf("expected playlist to be active")
	}

	// Activating an already-active playlist conflicts.
	recorder = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPut, "/api/playlists/"+second.ID+"/activate", nil)
	req = env.authenticated(t, created.Account.ID, req)
	env.handler.PlaylistByID(recorder, req)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 for re-activation, got %d", recorder.Code)
	}

	// The previously active playlist lost its flag.
	req = httptest.NewRequest(http.MethodGet, "/api/playlists/"+first.ID, nil)
	req = env.authenticated(t, created.Account.ID, req)
	recorder = httptest.NewRecorder()
	env.handler.PlaylistByID(recorder, req)
	var firstNow playlistResponse
	decodeBody(t, recorder, &firstNow)
	if firstNow.IsActive {
		t.Fatalf("expected the old active playlist to deactivate")
	}
}

func TestPlaylistOwnedByAnotherAccountIsForbidden(t *testing.T) {
	env := newTestEnv(t)
	owner := env.signup(t, "dj@example.com", "dj-nova", "correct horse battery")
	playlist := createPlaylist(t, env, owner.Account.ID, "late night")
	intruder := env.signup(t, "rival@example.com", "rival-dj", "correct horse battery")

	req := httptest.NewRequest(http.MethodGet, "/api/playlists/"+playlist.ID, nil)
	req = env.authenticated(t, intruder.Account.ID, req)
	recorder := httptest.NewRecorder()
	env.handler.PlaylistByID(recorder, req)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another account's playlist, got %d: %s", recorder.Code, recorder.Body.String())
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/playlists/"+playlist.ID,
		jsonBody(t, deletePlaylistRequest{Password: "correct horse battery"}))
	req = env.authenticated(t, intruder.Account.ID, req)
	recorder = httptest.NewRecorder()
	env.handler.PlaylistByID(recorder, req)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on delete, got %d: %s", recorder.Code, recorder.Body.String())
	}

	// An id that matches nothing still reads as missing.
	req = httptest.NewRequest(http.MethodGet, "/api/playlists/unknown", nil)
	req = env.authenticated(t, intruder.Account.ID, req)
	recorder = httptest.NewRecorder()
	env.handler.PlaylistByID(recorder, req)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown playlist, got %d", recorder.Code)
	}
}

func TestPlaylistSearch(t *testing.T) {
	env := newTestEnv(t)
	created := env.signup(t, "dj@example.com", "dj-nova", "correct horse battery")

	req := httptest.NewRequest(http.MethodGet, "/api/playlists/search?q=first", nil)
	req = env.authenticated(t, created.Account.ID, req)
	recorder := httptest.NewRecorder()
	env.handler.PlaylistSearch(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("search returned %d: %s", recorder.Code, recorder.Body.String())
	}
	var payload struct {
		Results []struct {
			CID   string `json:"cid"`
			Title string `json:"title"`
		} `json:"results"`
	}
	decodeBody(t, recorder, &payload)
	if len(payload.Results) != 1 || payload.Results[0].CID != "cid-1" {
		t.Fatalf("expected cid-1 in results, got %+v", payload.Results)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/playlists/search", nil)
	req = env.authenticated(t, created.Account.ID, req)
	recorder = httptest.NewRecorder()
	env.handler.PlaylistSearch(recorder, req)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without a query, got %d", recorder.Code)
	}
}

func TestPlaylistImportRequiresPlaylistID(t *testing.T) {
	env := newTestEnv(t)
	created := env.signup(t, "dj@example.com", "dj-nova", "correct horse battery")

	req := httptest.NewRequest(http.MethodPost, "/api/playlists/import",
		jsonBody(t, importPlaylistRequest{Name: "copied"}))
	req = env.authenticated(t, created.Account.ID, req)
	recorder := httptest.NewRecorder()
	env.handler.PlaylistImport(recorder, req)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without playlistId, got %d", recorder.Code)
	}
}
