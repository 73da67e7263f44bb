package media

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"mixroom/internal/models"
)

const (
	defaultYouTubeBaseURL = "https://www.googleapis.com/youtube/v3"
	// resolveBatchSize is the provider's maximum ids per videos.list call.
	resolveBatchSize = 50
	searchMaxResults = 25
)

// YouTube talks to the YouTube Data API v3. The HTTP client and base URL
// are injectable so tests can point it at a local server.
type YouTube struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// YouTubeOption adjusts the client configuration.
type YouTubeOption func(*YouTube)

// WithHTTPClient replaces the HTTP client used for API calls.
func WithHTTPClient(client *http.Client) YouTubeOption {
	return func(y *YouTube) {
		if client != nil {
			y.httpClient = client
		}
	}
}

// WithBaseURL points the client at an alternate API endpoint.
func WithBaseURL(baseURL string) YouTubeOption {
	return func(y *YouTube) {
		if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
			y.baseURL = trimmed
		}
	}
}

func NewYouTube(apiKey string, opts ...YouTubeOption) *YouTube {
	client := &YouTube{
		apiKey:     apiKey,
		baseURL:    defaultYouTubeBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type videoListResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title      string `json:"title"`
			Thumbnails struct {
				Medium struct {
					URL string `json:"url"`
				} `json:"medium"`
				Default struct {
					URL string `json:"url"`
				} `json:"default"`
			} `json:"thumbnails"`
		} `json:"snippet"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
		Status struct {
			UploadStatus  string `json:"uploadStatus"`
			PrivacyStatus string `json:"privacyStatus"`
		} `json:"status"`
	} `json:"items"`
}

type searchListResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
	} `json:"items"`
}

type playlistItemsResponse struct {
	NextPageToken string `json:"nextPageToken"`
	Items         []struct {
		ContentDetails struct {
			VideoID string `json:"videoId"`
		} `json:"contentDetails"`
	} `json:"items"`
}

func (y *YouTube) get(ctx context.Context, path string, params url.Values, out any) error {
	params.Set("key", y.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build provider request: %w", err)
	}
	resp, err := y.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}

// Resolve fetches metadata for the given ids in batches of fifty. Ids the
// provider does not know are silently absent from the result.
func (y *YouTube) Resolve(ctx context.Context, cids []string) ([]models.Track, error) {
	tracks := make([]models.Track, 0, len(cids))
	for start := 0; start < len(cids); start += resolveBatchSize {
		end := start + resolveBatchSize
		if end > len(cids) {
			end = len(cids)
		}

		params := url.Values{}
		params.Set("part", "snippet,contentDetails,status")
		params.Set("id", strings.Join(cids[start:end], ","))
		params.Set("maxResults", strconv.Itoa(resolveBatchSize))

		var resp videoListResponse
		if err := y.get(ctx, "/videos", params, &resp); err != nil {
			return nil, err
		}
		for _, item := range resp.Items {
			thumbnail := item.Snippet.Thumbnails.Medium.URL
			if thumbnail == "" {
				thumbnail = item.Snippet.Thumbnails.Default.URL
			}
			tracks = append(tracks, models.Track{
				CID:         item.ID,
				Title:       item.Snippet.Title,
				Duration:    parseISODuration(item.ContentDetails.Duration),
				Thumbnail:   thumbnail,
				Type:        "yt",
				Unavailable: item.Status.UploadStatus == "rejected" || item.Status.UploadStatus == "deleted" || item.Status.PrivacyStatus == "private",
			})
		}
	}
	return tracks, nil
}

func (y *YouTube) Search(ctx context.Context, query string) ([]models.Track, error) {
	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("type", "video")
	params.Set("maxResults", strconv.Itoa(searchMaxResults))
	params.Set("q", query)

	var resp searchListResponse
	if err := y.get(ctx, "/search", params, &resp); err != nil {
		return nil, err
	}

	cids := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.ID.VideoID != "" {
			cids = append(cids, item.ID.VideoID)
		}
	}
	if len(cids) == 0 {
		return []models.Track{}, nil
	}
	return y.Resolve(ctx, cids)
}

func (y *YouTube) PlaylistPage(ctx context.Context, playlistID, pageToken string) (PlaylistPage, error) {
	params := url.Values{}
	params.Set("part", "contentDetails")
	params.Set("maxResults", strconv.Itoa(resolveBatchSize))
	params.Set("playlistId", playlistID)
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	var resp playlistItemsResponse
	if err := y.get(ctx, "/playlistItems", params, &resp); err != nil {
		return PlaylistPage{}, err
	}

	page := PlaylistPage{NextPageToken: resp.NextPageToken}
	for _, item := range resp.Items {
		if item.ContentDetails.VideoID != "" {
			page.CIDs = append(page.CIDs, item.ContentDetails.VideoID)
		}
	}
	return page, nil
}

var isoDurationPattern = regexp.MustCompile(`^P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// parseISODuration converts an ISO-8601 duration to whole seconds. The
// provider occasionally reports very long videos in weeks (e.g. "P1W"),
// which naive H/M/S parsers drop to zero.
func parseISODuration(value string) int {
	match := isoDurationPattern.FindStringSubmatch(strings.TrimSpace(value))
	if match == nil {
		return 0
	}
	atoi := func(s string) int {
		if s == "" {
			return 0
		}
		n, _ := strconv.Atoi(s)
		return n
	}
	weeks := atoi(match[1])
	days := atoi(match[2])
	hours := atoi(match[3])
	minutes := atoi(match[4])
	seconds := atoi(match[5])
	return ((weeks*7+days)*24+hours)*3600 + minutes*60 + seconds
}

var _ Provider = (*YouTube)(nil)
