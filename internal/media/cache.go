package media

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"mixroom/internal/models"
)

// SearchStore is the durable cache the search path reads through. Entries
// age out of the store on its own retention schedule.
type SearchStore interface {
	GetSearchResults(query string) ([]models.Track, bool)
	PutSearchResults(query string, results []models.Track) error
}

// SearchCache serves metadata searches from the durable cache, deduplicating
// concurrent identical queries so each one reaches the provider at most once
// per retention window.
type SearchCache struct {
	provider Provider
	store    SearchStore
	logger   *slog.Logger
	group    singleflight.Group
}

func NewSearchCache(provider Provider, store SearchStore, logger *slog.Logger) *SearchCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchCache{provider: provider, store: store, logger: logger}
}

// Lookup returns cached results when fresh, otherwise queries the provider
// and caches what it returns. A cache write failure is logged, not fatal:
// the caller still gets the provider's results.
func (c *SearchCache) Lookup(ctx context.Context, query string) ([]models.Track, error) {
	if results, ok := c.store.GetSearchResults(query); ok {
		return results, nil
	}

	value, err, _ := c.group.Do(query, func() (any, error) {
		if results, ok := c.store.GetSearchResults(query); ok {
			return results, nil
		}
		results, err := c.provider.Search(ctx, query)
		if err != nil {
			return nil, err
		}
		if err := c.store.PutSearchResults(query, results); err != nil {
			c.logger.Warn("failed to cache search results", "query", query, "error", err)
		}
		return results, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]models.Track), nil
}
