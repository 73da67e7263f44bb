package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"

	"mixroom/internal/auth"
	"mixroom/internal/media"
	"mixroom/internal/models"
	"mixroom/internal/playlists"
	"mixroom/internal/presence"
	"mixroom/internal/rooms"
	"mixroom/internal/storage"
)

type stubProvider struct {
	tracks map[string]models.Track
	pages  map[string]media.PlaylistPage
}

func (p *stubProvider) Resolve(_ context.Context, cids []string) ([]models.Track, error) {
	var tracks []models.Track
	for _, cid := range cids {
		if track, ok := p.tracks[cid]; ok {
			tracks = append(tracks, track)
		}
	}
	return tracks, nil
}

func (p *stubProvider) Search(_ context.Context, query string) ([]models.Track, error) {
	var results []models.Track
	for _, track := range p.tracks {
		if strings.Contains(strings.ToLower(track.Title), strings.ToLower(query)) {
			results = append(results, track)
		}
	}
	return results, nil
}

func (p *stubProvider) PlaylistPage(_ context.Context, playlistID, pageToken string) (media.PlaylistPage, error) {
	key := playlistID + "/" + pageToken
	page, ok := p.pages[key]
	if !ok {
		return media.PlaylistPage{}, fmt.Errorf("unknown playlist page %q", key)
	}
	return page, nil
}

type memoryObjects struct {
	data   map[string][]byte
	putErr error
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{data: make(map[string][]byte)}
}

func (m *memoryObjects) Put(_ context.Context, key, _ string, r io.Reader, _ int64) error {
	if m.putErr != nil {
		return m.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.data[key] = data
	return nil
}

func (m *memoryObjects) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

type testEnv struct {
	handler  *Handler
	provider *stubProvider
	objects  *memoryObjects
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}

	provider := &stubProvider{
		tracks: map[string]models.Track{
			"cid-1": {CID: "cid-1", Title: "First Song", Duration: 212, Type: "yt"},
			"cid-2": {CID: "cid-2", Title: "Second Song", Duration: 180, Type: "yt"},
		},
		pages: map[string]media.PlaylistPage{},
	}
	search := media.NewSearchCache(provider, store, logger)
	tokens := auth.NewTokenManager([]byte("test-secret"), auth.WithRefreshStore(auth.NewMemoryRefreshStore()))
	presenceStore := presence.NewMemoryStore()
	playlistSvc := playlists.NewService(store, provider, search, logger)
	roomSvc := rooms.NewService(store, presenceStore, rooms.NewActivePlaylistSource(store), logger)
	objects := newMemoryObjects()

	handler := NewHandler(store, tokens, playlistSvc, roomSvc, presenceStore, objects, logger)
	return &testEnv{handler: handler, provider: provider, objects: objects}
}

func jsonBody(t *testing.T, payload interface{}) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(data)
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
}

func (env *testEnv) signup(t *testing.T, email, username, password string) authResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", jsonBody(t, signupRequest{
		Email:    email,
		Username: username,
		Password: password,
	}))
	recorder := httptest.NewRecorder()
	env.handler.Signup(recorder, req)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("signup returned %d: %s", recorder.Code, recorder.Body.String())
	}
	var response authResponse
	decodeBody(t, recorder, &response)
	return response
}

func (env *testEnv) authenticated(t *testing.T, accountID string, req *http.Request) *http.Request {
	t.Helper()
	account, ok := env.handler.Store.GetAccount(accountID)
	if !ok {
		t.Fatalf("account %s not found", accountID)
	}
	return req.WithContext(ContextWithAccount(req.Context(), account))
}

// newMultipartImage writes a single "file" part into body and returns the
// multipart content type for the request header.
func newMultipartImage(t *testing.T, body *bytes.Buffer, contentType string, data []byte) string {
	t.Helper()
	writer := multipart.NewWriter(body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="image"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create multipart part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write multipart part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return writer.FormDataContentType()
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	recorder := httptest.NewRecorder()
	env.handler.Health(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestSignupLoginRefreshFlow(t *testing.T) {
	env := newTestEnv(t)
	created := env.signup(t, "dj@example.com", "dj-nova", "correct horse battery")
	if created.Account.Username != "dj-nova" {
		t.Fatalf("expected username dj-nova, got %q", created.Account.Username)
	}
	if created.Tokens.AccessToken == "" || created.Tokens.RefreshToken == "" {
		t.Fatalf("expected a full token pair on signup")
	}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", jsonBody(t, loginRequest{
		Email:    "dj@example.com",
		Password: "correct horse battery",
	}))
	recorder := httptest.NewRecorder()
	env.handler.Login(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("login returned %d: %s", recorder.Code, recorder.Body.String())
	}
	var loggedIn authResponse
	decodeBody(t, recorder, &loggedIn)

	req = httptest.NewRequest(http.MethodPost, "/api/auth/refresh", jsonBody(t, refreshRequest{
		RefreshToken: loggedIn.Tokens.RefreshToken,
	}))
	recorder = httptest.NewRecorder()
	env.handler.Refresh(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("refresh returned %d: %s", recorder.Code, recorder.Body.String())
	}

	// Rotation consumed the presented token.
	req = httptest.NewRequest(http.MethodPost, "/api/auth/refresh", jsonBody(t, refreshRequest{
		RefreshToken: loggedIn.Tokens.RefreshToken,
	}))
	recorder = httptest.NewRecorder()
	env.handler.Refresh(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected reused refresh token to return 401, got %d", recorder.Code)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "dj@example.com", "dj-nova", "correct horse battery")

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", jsonBody(t, loginRequest{
		Email:    "dj@example.com",
		Password: "wrong password",
	}))
	recorder := httptest.NewRecorder()
	env.handler.Login(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestSignupValidation(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", jsonBody(t, signupRequest{
		Email:    "dj@example.com",
		Username: "dj-nova",
		Password: "short",
	}))
	recorder := httptest.NewRecorder()
	env.handler.Signup(recorder, req)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for short password, got %d", recorder.Code)
	}

	env.signup(t, "dj@example.com", "dj-nova", "correct horse battery")
	req = httptest.NewRequest(http.MethodPost, "/api/auth/signup", jsonBody(t, signupRequest{
		Email:    "dj@example.com",
		Username: "other-name",
		Password: "correct horse battery",
	}))
	recorder = httptest.NewRecorder()
	env.handler.Signup(recorder, req)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d", recorder.Code)
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	created := env.signup(t, "dj@example.com", "dj-nova", "correct horse battery")

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", jsonBody(t, refreshRequest{
		RefreshToken: created.Tokens.RefreshToken,
	}))
	recorder := httptest.NewRecorder()
	env.handler.Logout(recorder, req)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/auth/refresh", jsonBody(t, refreshRequest{
		RefreshToken: created.Tokens.RefreshToken,
	}))
	recorder = httptest.NewRecorder()
	env.handler.Refresh(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked token to return 401, got %d", recorder.Code)
	}
}

func TestMeRequiresAuthentication(t *testing.T) {
	env := newTestEnv(t)
	recorder := httptest.NewRecorder()
	env.handler.Me(recorder, httptest.NewRequest(http.MethodGet, "/api/accounts/me", nil))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestUsernameChangeCooldown(t *testing.T) {
	env := newTestEnv(t)
	created := env.signup(t, "dj@example.com", "dj-nova", "correct horse battery")

	change := func(username string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPatch, "/api/accounts/username", jsonBody(t, updateUsernameRequest{Username: username}))
		req = env.authenticated(t, created.Account.ID, req)
		recorder := httptest.NewRecorder()
		env.handler.Username(recorder, req)
		return recorder
	}

	recorder := change("dj-supernova")
	if recorder.Code != http.StatusOK {
		t.Fatalf("first rename returned %d: %s", recorder.Code, recorder.Body.String())
	}
	var renamed accountResponse
	decodeBody(t, recorder, &renamed)
	if renamed.Username != "dj-supernova" {
		t.Fatalf("expected new username, got %q", renamed.Username)
	}

	recorder = change("dj-hypernova")
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 inside the cooldown, got %d", recorder.Code)
	}
	if recorder.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header on cooldown response")
	}
}

func TestCheckUsername(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "dj@example.com", "dj-nova", "correct horse battery")

	check := func(candidate string) usernameAvailabilityResponse {
		req := httptest.NewRequest(http.MethodGet, "/api/accounts/check/"+candidate, nil)
		recorder := httptest.NewRecorder()
		env.handler.CheckUsername(recorder, req)
		if recorder.Code != http.StatusOK {
			t.Fatalf("check returned %d: %s", recorder.Code, recorder.Body.String())
		}
		var response usernameAvailabilityResponse
		decodeBody(t, recorder, &response)
		return response
	}

	if got := check("dj-nova"); !got.Valid || got.Available {
		t.Fatalf("expected taken username to be valid but unavailable, got %+v", got)
	}
	if got := check("fresh-name"); !got.Valid || !got.Available {
		t.Fatalf("expected free username to be valid and available, got %+v", got)
	}
	if got := check("-bad-"); got.Valid {
		t.Fatalf("expected malformed username to be invalid, got %+v", got)
	}
}

func TestPasswordChangeRevokesSessions(t *testing.T) {
	env := newTestEnv(t)
	created := env.signup(t, "dj@example.com", "dj-nova", "correct horse battery")

	req := httptest.NewRequest(http.MethodPatch, "/api/accounts/password", jsonBody(t, updatePasswordRequest{
		Current: "correct horse battery",
		New:     "horse battery staple",
	}))
	req = env.authenticated(t, created.Account.ID, req)
	recorder := httptest.NewRecorder()
	env.handler.Password(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("password change returned %d: %s", recorder.Code, recorder.Body.String())
	}
	var refreshed authResponse
	decodeBody(t, recorder, &refreshed)

	// The pre-change refresh token must be dead.
	req = httptest.NewRequest(http.MethodPost, "/api/auth/refresh", jsonBody(t, refreshRequest{
		RefreshToken: created.Tokens.RefreshToken,
	}))
	recorder = httptest.NewRecorder()
	env.handler.Refresh(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected old session to be revoked, got %d", recorder.Code)
	}

	// The pair minted alongside the change still works.
	req = httptest.NewRequest(http.MethodPost, "/api/auth/refresh", jsonBody(t, refreshRequest{
		RefreshToken: refreshed.Tokens.RefreshToken,
	}))
	recorder = httptest.NewRecorder()
	env.handler.Refresh(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected fresh session to survive, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestProfileImageUploadAndDelete(t *testing.T) {
	env := newTestEnv(t)
	created := env.signup(t, "dj@example.com", "dj-nova", "correct horse battery")

	var body bytes.Buffer
	writer := newMultipartImage(t, &body, "image/png", []byte("png-bytes"))

	req := httptest.NewRequest(http.MethodPost, "/api/accounts/pfp", &body)
	req.Header.Set("Content-Type", writer)
	req = env.authenticated(t, created.Account.ID, req)
	recorder := httptest.NewRecorder()
	env.handler.ProfileImage(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("upload returned %d: %s", recorder.Code, recorder.Body.String())
	}
	var updated accountResponse
	decodeBody(t, recorder, &updated)
	if updated.ProfileImage == nil || !strings.HasPrefix(*updated.ProfileImage, "avatars/"+created.Account.ID+"/") {
		t.Fatalf("expected avatar key, got %v", updated.ProfileImage)
	}
	if len(env.objects.data) != 1 {
		t.Fatalf("expected one stored object, got %d", len(env.objects.data))
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/accounts/pfp", nil)
	req = env.authenticated(t, created.Account.ID, req)
	recorder = httptest.NewRecorder()
	env.handler.ProfileImage(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("delete returned %d: %s", recorder.Code, recorder.Body.String())
	}
	updated = accountResponse{}
	decodeBody(t, recorder, &updated)
	if updated.ProfileImage != nil {
		t.Fatalf("expected profile image cleared, got %v", *updated.ProfileImage)
	}
	if len(env.objects.data) != 0 {
		t.Fatalf("expected object removed, got %d", len(env.objects.data))
	}
}

func TestProfileImageCooldownArmedOnlyAfterSuccess(t *testing.T) {
	env := newTestEnv(t)
	created := env.signup(t, "dj@example.com", "dj-nova", "correct horse battery")

	upload := func() *httptest.ResponseRecorder {
		var body bytes.Buffer
		writer := newMultipartImage(t, &body, "image/png", []byte("png-bytes"))
		req := httptest.NewRequest(http.MethodPost, "/api/accounts/pfp", &body)
		req.Header.Set("Content-Type", writer)
		req = env.authenticated(t, created.Account.ID, req)
		recorder := httptest.NewRecorder()
		env.handler.ProfileImage(recorder, req)
		return recorder
	}

	env.objects.putErr = fmt.Errorf("bucket unavailable")
	if got := upload().Code; got != http.StatusInternalServerError {
		t.Fatalf("expected 500 when the object store fails, got %d", got)
	}

	// The failed attempt must not start the cooldown.
	env.objects.putErr = nil
	if got := upload().Code; got != http.StatusOK {
		t.Fatalf("expected retry to succeed, got %d", got)
	}

	recorder := upload()
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 right after a successful change, got %d", recorder.Code)
	}
	if recorder.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on the cooldown response")
	}
}

func TestTwoFactorEnrollment(t *testing.T) {
	env := newTestEnv(t)
	created := env.signup(t, "dj@example.com", "dj-nova", "correct horse battery")

	send := func(method, password, secret string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/api/accounts/2fa",
			jsonBody(t, twoFactorRequest{Password: password, Secret: secret}))
		req = env.authenticated(t, created.Account.ID, req)
		recorder := httptest.NewRecorder()
		env.handler.TwoFactor(recorder, req)
		return recorder
	}

	if got := send(http.MethodPost, "wrong password", "JBSWY3DPEHPK3PXP").Code; got != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a wrong password, got %d", got)
	}
	if got := send(http.MethodPost, "correct horse battery", "").Code; got != http.StatusBadRequest {
		t.Fatalf("expected 400 without a secret, got %d", got)
	}

	recorder := send(http.MethodPost, "correct horse battery", "JBSWY3DPEHPK3PXP")
	if recorder.Code != http.StatusOK {
		t.Fatalf("enroll returned %d: %s", recorder.Code, recorder.Body.String())
	}
	var account accountResponse
	decodeBody(t, recorder, &account)
	if !account.TwoFactorEnabled {
		t.Fatalf("expected two-factor enabled after enrollment")
	}

	recorder = send(http.MethodDelete, "correct horse battery", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("disable returned %d: %s", recorder.Code, recorder.Body.String())
	}
	decodeBody(t, recorder, &account)
	if account.TwoFactorEnabled {
		t.Fatalf("expected two-factor disabled")
	}
}
