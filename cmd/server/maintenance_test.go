package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeTokenPurger struct {
	calls chan struct{}
	err   error
}

func newFakeTokenPurger() *fakeTokenPurger {
	return &fakeTokenPurger{calls: make(chan struct{}, 1)}
}

func (f *fakeTokenPurger) PurgeExpired() error {
	select {
	case f.calls <- struct{}{}:
	default:
	}
	return f.err
}

type fakeSearchPurger struct {
	calls chan struct{}
}

func newFakeSearchPurger() *fakeSearchPurger {
	return &fakeSearchPurger{calls: make(chan struct{}, 1)}
}

func (f *fakeSearchPurger) PurgeExpiredSearchResults(time.Time) (int, error) {
	select {
	case f.calls <- struct{}{}:
	default:
	}
	return 0, nil
}

type manualTicker struct {
	c       chan time.Time
	stopped chan struct{}
}

func newManualTicker() *manualTicker {
	return &manualTicker{
		c:       make(chan time.Time, 1),
		stopped: make(chan struct{}),
	}
}

func (m *manualTicker) C() <-chan time.Time {
	return m.c
}

func (m *manualTicker) Stop() {
	select {
	case <-m.stopped:
		return
	default:
		close(m.stopped)
	}
}

func (m *manualTicker) Tick() {
	select {
	case m.c <- time.Now():
	default:
	}
}

func TestStartMaintenanceWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := newManualTicker()
	tokens := newFakeTokenPurger()
	search := newFakeSearchPurger()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	stop := startMaintenanceWorkerWithTicker(ctx, logger, tokens, search, time.Minute, func(time.Duration) purgeTicker {
		return ticker
	})

	ticker.Tick()
	select {
	case <-tokens.calls:
	case <-time.After(time.Second):
		t.Fatal("expected token purge to be invoked")
	}
	select {
	case <-search.calls:
	case <-time.After(time.Second):
		t.Fatal("expected search purge to be invoked")
	}

	cancel()
	stop()

	select {
	case <-ticker.stopped:
	case <-time.After(time.Second):
		t.Fatal("expected ticker to stop after context cancellation")
	}
}

func TestStartMaintenanceWorkerDisabledWithoutTargets(t *testing.T) {
	stop := startMaintenanceWorker(context.Background(), nil, nil, nil, time.Minute)
	stop()
}
