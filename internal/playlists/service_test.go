package playlists

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"mixroom/internal/media"
	"mixroom/internal/models"
	"mixroom/internal/storage"
)

type fakeProvider struct {
	tracks        map[string]models.Track
	pages         map[string]media.PlaylistPage
	resolveCalls  int
	playlistCalls int
}

func (f *fakeProvider) Resolve(ctx context.Context, cids []string) ([]models.Track, error) {
	f.resolveCalls++
	var tracks []models.Track
	for _, cid := range cids {
		if track, ok := f.tracks[cid]; ok {
			tracks = append(tracks, track)
		}
	}
	return tracks, nil
}

func (f *fakeProvider) Search(ctx context.Context, query string) ([]models.Track, error) {
	var tracks []models.Track
	for _, track := range f.tracks {
		tracks = append(tracks, track)
	}
	return tracks, nil
}

func (f *fakeProvider) PlaylistPage(ctx context.Context, playlistID, pageToken string) (media.PlaylistPage, error) {
	f.playlistCalls++
	page, ok := f.pages[pageToken]
	if !ok {
		return media.PlaylistPage{}, nil
	}
	return page, nil
}

func newTestService(t *testing.T, provider *fakeProvider) (*Service, *storage.Storage, models.Account) {
	t.Helper()
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	account, err := store.CreateAccount(storage.CreateAccountParams{
		Email:    "listener@example.com",
		Username: "listener",
		Password: "correct horse battery",
	})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	search := media.NewSearchCache(provider, store, nil)
	return NewService(store, provider, search, nil), store, account
}

func TestAddSongResolvesAndFrontInserts(t *testing.T) {
	provider := &fakeProvider{tracks: map[string]models.Track{
		"abc": {CID: "abc", Title: "first", Duration: 100, Type: "yt"},
		"def": {CID: "def", Title: "second", Duration: 200, Type: "yt"},
	}}
	svc, _, account := newTestService(t, provider)

	playlist, err := svc.Create(account.ID, "mix")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	playlist, err = svc.AddSong(context.Background(), account.ID, playlist.ID, "abc")
	if err != nil {
		t.Fatalf("AddSong: %v", err)
	}
	playlist, err = svc.AddSong(context.Background(), account.ID, playlist.ID, "def")
	if err != nil {
		t.Fatalf("AddSong: %v", err)
	}

	if len(playlist.Songs) != 2 {
		t.Fatalf("expected 2 songs, got %d", len(playlist.Songs))
	}
	if playlist.Songs[0].CID != "def" {
		t.Fatalf("expected newest song first, got %s", playlist.Songs[0].CID)
	}
	if playlist.Songs[0].SubID == "" || playlist.Songs[0].SubID == playlist.Songs[1].SubID {
		t.Fatal("expected unique sub-ids")
	}
}

func TestAddSongUnknownCID(t *testing.T) {
	provider := &fakeProvider{tracks: map[string]models.Track{}}
	svc, _, account := newTestService(t, provider)

	playlist, err := svc.Create(account.ID, "mix")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.AddSong(context.Background(), account.ID, playlist.ID, "vanished"); !errors.Is(err, media.ErrVideoNotFound) {
		t.Fatalf("expected ErrVideoNotFound, got %v", err)
	}
}

func TestAddSongValidatesBeforeProviderTraffic(t *testing.T) {
	provider := &fakeProvider{tracks: map[string]models.Track{
		"abc": {CID: "abc", Title: "first", Type: "yt"},
	}}
	svc, store, account := newTestService(t, provider)

	if _, err := svc.AddSong(context.Background(), account.ID, "missing", "abc"); !errors.Is(err, storage.ErrPlaylistNotFound) {
		t.Fatalf("expected ErrPlaylistNotFound, got %v", err)
	}
	if provider.resolveCalls != 0 {
		t.Fatalf("expected no resolve calls for a missing playlist, got %d", provider.resolveCalls)
	}

	playlist, err := svc.Create(account.ID, "mix")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 0; i < models.MaxSongsPerPlaylist; i++ {
		if _, err := store.AddPlaylistSong(account.ID, playlist.ID, models.PlaylistSong{
			SubID: fmt.Sprintf("sub-%03d", i), CID: fmt.Sprintf("cid-%03d", i), Title: "filler",
		}); err != nil {
			t.Fatalf("AddPlaylistSong %d: %v", i, err)
		}
	}

	if _, err := svc.AddSong(context.Background(), account.ID, playlist.ID, "abc"); !errors.Is(err, storage.ErrSongLimit) {
		t.Fatalf("expected ErrSongLimit, got %v", err)
	}
	if provider.resolveCalls != 0 {
		t.Fatalf("expected no resolve calls on a full playlist, got %d", provider.resolveCalls)
	}
}

func TestDeleteRequiresPassword(t *testing.T) {
	provider := &fakeProvider{}
	svc, _, account := newTestService(t, provider)

	playlist, err := svc.Create(account.ID, "mix")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.Delete(account.ID, playlist.ID, "wrong"); !errors.Is(err, storage.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := svc.Delete(account.ID, playlist.ID, "correct horse battery"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(account.ID, playlist.ID); !errors.Is(err, storage.ErrPlaylistNotFound) {
		t.Fatalf("expected ErrPlaylistNotFound, got %v", err)
	}
}

func TestImportWalksPagesAndTruncates(t *testing.T) {
	tracks := make(map[string]models.Track)
	var pageOne, pageTwo, pageThree, pageFour, pageFive []string
	for i := 0; i < 250; i++ {
		cid := fmt.Sprintf("cid-%03d", i)
		tracks[cid] = models.Track{CID: cid, Title: cid, Type: "yt"}
		switch {
		case i < 50:
			pageOne = append(pageOne, cid)
		case i < 100:
			pageTwo = append(pageTwo, cid)
		case i < 150:
			pageThree = append(pageThree, cid)
		case i < 200:
			pageFour = append(pageFour, cid)
		default:
			pageFive = append(pageFive, cid)
		}
	}
	provider := &fakeProvider{
		tracks: tracks,
		pages: map[string]media.PlaylistPage{
			"":   {CIDs: pageOne, NextPageToken: "p2"},
			"p2": {CIDs: pageTwo, NextPageToken: "p3"},
			"p3": {CIDs: pageThree, NextPageToken: "p4"},
			"p4": {CIDs: pageFour, NextPageToken: "p5"},
			"p5": {CIDs: pageFive},
		},
	}
	svc, _, account := newTestService(t, provider)

	playlist, err := svc.Import(context.Background(), account.ID, "imported", "external-id")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(playlist.Songs) != 200 {
		t.Fatalf("expected import truncated to 200 songs, got %d", len(playlist.Songs))
	}
	if provider.playlistCalls != 4 {
		t.Fatalf("expected 4 page fetches, got %d", provider.playlistCalls)
	}
	if playlist.Songs[0].CID != "cid-000" {
		t.Fatalf("expected provider order preserved, got %s first", playlist.Songs[0].CID)
	}
}

func TestImportCapCheckedBeforeProviderTraffic(t *testing.T) {
	provider := &fakeProvider{}
	svc, _, account := newTestService(t, provider)

	for i := 0; i < models.MaxPlaylistsPerAccount; i++ {
		if _, err := svc.Create(account.ID, fmt.Sprintf("mix %d", i)); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}

	if _, err := svc.Import(context.Background(), account.ID, "overflow", "external-id"); !errors.Is(err, storage.ErrPlaylistLimit) {
		t.Fatalf("expected ErrPlaylistLimit, got %v", err)
	}
	if provider.playlistCalls != 0 || provider.resolveCalls != 0 {
		t.Fatal("expected no provider traffic when the cap is hit")
	}
}

func TestSongsPagePaginates(t *testing.T) {
	tracks := make(map[string]models.Track)
	provider := &fakeProvider{tracks: tracks}
	svc, _, account := newTestService(t, provider)

	playlist, err := svc.Create(account.ID, "mix")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 0; i < 45; i++ {
		cid := fmt.Sprintf("cid-%02d", i)
		tracks[cid] = models.Track{CID: cid, Title: cid}
		if _, err := svc.AddSong(context.Background(), account.ID, playlist.ID, cid); err != nil {
			t.Fatalf("AddSong %d: %v", i, err)
		}
	}

	page, err := svc.SongsPage(account.ID, playlist.ID, 3)
	if err != nil {
		t.Fatalf("SongsPage: %v", err)
	}
	if len(page.Items) != 5 || page.TotalPages != 3 || page.Next != nil {
		t.Fatalf("unexpected page: len=%d total=%d next=%v", len(page.Items), page.TotalPages, page.Next)
	}
}
