package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected a log line, got none")
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		t.Fatalf("decode log line %q: %v", line, err)
	}
	return payload
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestNewRespectsLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Writer: &buf, Format: FormatJSON})

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info below warn to be dropped, got %q", buf.String())
	}

	logger.Warn("kept", "room", "abc")
	payload := decodeLine(t, &buf)
	if payload["msg"] != "kept" || payload["room"] != "abc" {
		t.Fatalf("unexpected payload: %v", payload)
	}

	buf.Reset()
	text := New(Config{Writer: &buf, Format: FormatText})
	text.Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("expected text format output, got %q", buf.String())
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := WithComponent(New(Config{Writer: &buf}), "rooms")
	logger.Info("ready")
	if payload := decodeLine(t, &buf); payload["component"] != "rooms" {
		t.Fatalf("expected component=rooms, got %v", payload["component"])
	}
	if WithComponent(nil, "rooms") != nil {
		t.Fatal("expected nil logger to stay nil")
	}
}

func TestContextIdentifiers(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-123")
	ctx = ContextWithRoomID(ctx, "room-456")

	if id, ok := RequestIDFromContext(ctx); !ok || id != "req-123" {
		t.Fatalf("expected request id req-123, got %q", id)
	}
	if id, ok := RoomIDFromContext(ctx); !ok || id != "room-456" {
		t.Fatalf("expected room id room-456, got %q", id)
	}

	// Blank values never land on the context.
	if ctx := ContextWithRequestID(context.Background(), "  "); ctx != context.Background() {
		t.Fatal("expected blank request id to be ignored")
	}
	if _, ok := RoomIDFromContext(context.Background()); ok {
		t.Fatal("expected no room id on a fresh context")
	}
}

func TestWithContextAnnotatesLogger(t *testing.T) {
	var buf bytes.Buffer
	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithRoomID(ctx, "room-1")

	WithContext(ctx, New(Config{Writer: &buf})).Info("state changed")
	payload := decodeLine(t, &buf)
	if payload["request_id"] != "req-1" {
		t.Fatalf("expected request_id req-1, got %v", payload["request_id"])
	}
	if payload["room_id"] != "room-1" {
		t.Fatalf("expected room_id room-1, got %v", payload["room_id"])
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})

	handler := RequestLogger(RequestLoggerConfig{
		Logger: logger,
		AdditionalFields: func(r *http.Request, status int, _ time.Duration) []any {
			return []any{"extra", r.Header.Get("X-Extra")}
		},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/rooms/abc123/join", nil)
	req.Header.Set("X-Extra", "present")
	req = req.WithContext(ContextWithRequestID(req.Context(), "req-9"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	payload := decodeLine(t, &buf)
	if payload["method"] != http.MethodPost || payload["path"] != "/api/rooms/abc123/join" {
		t.Fatalf("unexpected request fields: %v", payload)
	}
	if payload["status"] != float64(http.StatusAccepted) {
		t.Fatalf("expected status 202, got %v", payload["status"])
	}
	if payload["bytes"] != float64(2) {
		t.Fatalf("expected 2 bytes written, got %v", payload["bytes"])
	}
	if payload["request_id"] != "req-9" {
		t.Fatalf("expected request_id req-9, got %v", payload["request_id"])
	}
	if payload["extra"] != "present" {
		t.Fatalf("expected extra field, got %v", payload["extra"])
	}
	if _, ok := payload["remote_addr"]; !ok {
		t.Fatal("expected remote_addr by default")
	}
}

func TestRequestLoggerDisableRemoteAddr(t *testing.T) {
	var buf bytes.Buffer
	handler := RequestLogger(RequestLoggerConfig{
		Logger:            New(Config{Writer: &buf}),
		DisableRemoteAddr: true,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if _, ok := decodeLine(t, &buf)["remote_addr"]; ok {
		t.Fatal("expected remote_addr to be omitted")
	}
}
