package storage

import (
	"strings"
	"time"

	"mixroom/internal/models"
)

// Search cache operations
//
// Metadata query results are cached durably so repeated searches avoid
// provider quota. Entries age out after SearchCacheRetention; reads treat
// stale entries as misses even before the purge worker removes them.

func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

func (s *Storage) GetSearchResults(query string) ([]models.Track, bool) {
	key := normalizeQuery(query)
	if key == "" {
		return nil, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.data.SearchCache[key]
	if !ok {
		return nil, false
	}
	if time.Since(entry.CreatedAt) > SearchCacheRetention {
		return nil, false
	}
	return append([]models.Track(nil), entry.Results...), true
}

func (s *Storage) PutSearchResults(query string, results []models.Track) error {
	key := normalizeQuery(query)
	if key == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, existed := s.data.SearchCache[key]
	s.data.SearchCache[key] = SearchCacheEntry{
		Query:     key,
		Results:   append([]models.Track(nil), results...),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.persist(); err != nil {
		if existed {
			s.data.SearchCache[key] = previous
		} else {
			delete(s.data.SearchCache, key)
		}
		return err
	}
	return nil
}

// PurgeExpiredSearchResults deletes entries older than the retention window
// and reports how many were removed.
func (s *Storage) PurgeExpiredSearchResults(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := make(map[string]SearchCacheEntry)
	for key, entry := range s.data.SearchCache {
		if now.Sub(entry.CreatedAt) > SearchCacheRetention {
			expired[key] = entry
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}

	for key := range expired {
		delete(s.data.SearchCache, key)
	}
	if err := s.persist(); err != nil {
		for key, entry := range expired {
			s.data.SearchCache[key] = entry
		}
		return 0, err
	}
	return len(expired), nil
}
