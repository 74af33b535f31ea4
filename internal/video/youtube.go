package video

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/fedineko/crabo/internal/extract"
	"github.com/fedineko/crabo/internal/snapshot"
)

const youTubeAPI = "https://www.googleapis.com/youtube/v3/videos"

// thumbnailPriority prefers a mid-size image that nearly always exists.
var thumbnailPriority = []string{"high", "standard", "maxres", "medium", "default"}

type youTubeThumbnail struct {
	URL string `json:"url"`
}

type youTubeResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title        string                      `json:"title"`
			Description  string                      `json:"description"`
			ChannelTitle string                      `json:"channelTitle"`
			Thumbnails   map[string]youTubeThumbnail `json:"thumbnails"`
			Tags         []string                    `json:"tags"`
		} `json:"snippet"`
	} `json:"items"`
}

// YouTube uses the YouTube Data API v3.
type YouTube struct {
	fetcher snapshot.Fetcher
	apiKey  string
	s       settings
}

// NewYouTube builds a YouTube client.
func NewYouTube(fetcher snapshot.Fetcher, apiKey string, opts ...Option) *YouTube {
	return &YouTube{fetcher: fetcher, apiKey: apiKey, s: newSettings(youTubeAPI, opts)}
}

// Snapshot implements Client.
func (y *YouTube) Snapshot(ctx context.Context, u *url.URL) (snapshot.Snapshot, error) {
	if y.apiKey == "" {
		return snapshot.Snapshot{}, fmt.Errorf("%w: youtube api key is empty", ErrNotConfigured)
	}
	id, ok := YouTubeVideoID(u)
	if !ok {
		return snapshot.Snapshot{}, fmt.Errorf("%w: %s", ErrUnsupportedURL, u)
	}

	q := url.Values{}
	q.Set("id", id)
	q.Set("key", y.apiKey)
	q.Set("part", "snippet")
	q.Set("fields", "items(id,snippet)")

	var resp youTubeResponse
	if err := getJSON(ctx, y.fetcher, y.s, y.s.endpoint+"?"+q.Encode(), &resp); err != nil {
		return snapshot.Snapshot{}, err
	}
	if len(resp.Items) == 0 {
		return snapshot.Snapshot{}, fmt.Errorf("%w: youtube %s", ErrNotFound, id)
	}
	item := resp.Items[0].Snippet

	snap := snapshot.Snapshot{
		URL:         u.String(),
		Title:       extract.Clean(item.Title),
		Description: extract.Clean(item.Description),
		SiteName:    extract.Clean(item.ChannelTitle),
		Provider:    "YouTube",
		Source:      snapshot.SourceVideo,
		FetchedAt:   y.s.clock.Now(),
	}
	for _, key := range thumbnailPriority {
		if thumb, ok := item.Thumbnails[key]; ok && thumb.URL != "" {
			snap.ImageURL = thumb.URL
			snap.ImageType = extract.GuessImageType(thumb.URL)
			break
		}
	}
	for _, tag := range item.Tags {
		if tag = extract.Clean(tag); tag != "" {
			snap.Tags = append(snap.Tags, "#"+tag)
		}
	}
	return snap, nil
}

// YouTubeVideoID extracts the video ID from youtu.be and youtube.com links.
func YouTubeVideoID(u *url.URL) (string, bool) {
	host := strings.ToLower(u.Hostname())
	path := strings.Trim(u.Path, "/")
	switch {
	case strings.HasSuffix(host, "youtu.be"):
		id, _, _ := strings.Cut(path, "/")
		return id, id != ""
	case strings.HasSuffix(host, "youtube.com"):
		if v := u.Query().Get("v"); v != "" {
			return v, true
		}
		for _, prefix := range []string{"shorts/", "embed/", "live/"} {
			if rest, ok := strings.CutPrefix(path, prefix); ok {
				id, _, _ := strings.Cut(rest, "/")
				return id, id != ""
			}
		}
	}
	return "", false
}
