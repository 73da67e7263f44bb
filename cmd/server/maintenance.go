package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type tokenPurger interface {
	PurgeExpired() error
}

type searchPurger interface {
	PurgeExpiredSearchResults(now time.Time) (int, error)
}

type purgeTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) purgeTicker

// startMaintenanceWorker periodically drops expired refresh tokens and stale
// search cache rows. The returned function stops the worker and blocks until
// it has exited.
func startMaintenanceWorker(ctx context.Context, logger *slog.Logger, tokens tokenPurger, search searchPurger, interval time.Duration) func() {
	return startMaintenanceWorkerWithTicker(ctx, logger, tokens, search, interval, func(d time.Duration) purgeTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func startMaintenanceWorkerWithTicker(
	ctx context.Context,
	logger *slog.Logger,
	tokens tokenPurger,
	search searchPurger,
	interval time.Duration,
	newTicker tickerFactory,
) func() {
	if (tokens == nil && search == nil) || interval <= 0 {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	ticker := newTicker(interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			ticker.Stop()
			close(done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C():
				if tokens != nil {
					if err := tokens.PurgeExpired(); err != nil && logger != nil {
						logger.Error("failed to purge expired refresh tokens", "error", err)
					}
				}
				if search != nil {
					purged, err := search.PurgeExpiredSearchResults(time.Now().UTC())
					if err != nil && logger != nil {
						logger.Error("failed to purge expired search results", "error", err)
					} else if purged > 0 && logger != nil {
						logger.Debug("purged expired search results", "count", purged)
					}
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
