// Package media resolves songs against external metadata providers and
// caches search results in the durable store.
package media

import (
	"context"
	"errors"

	"mixroom/internal/models"
)

// ErrVideoNotFound is returned when a content id resolves to nothing, either
// because it never existed or the provider no longer serves it.
var ErrVideoNotFound = errors.New("video not found")

// PlaylistPage is one page of an external playlist listing.
type PlaylistPage struct {
	CIDs          []string
	NextPageToken string
}

// Provider resolves content ids and queries against an external catalog.
type Provider interface {
	// Resolve fetches metadata for the given content ids, batching requests
	// as the provider requires. Unknown ids are omitted from the result.
	Resolve(ctx context.Context, cids []string) ([]models.Track, error)
	Search(ctx context.Context, query string) ([]models.Track, error)
	PlaylistPage(ctx context.Context, playlistID, pageToken string) (PlaylistPage, error)
}
