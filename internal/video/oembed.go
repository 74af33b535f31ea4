package video

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/fedineko/crabo/internal/extract"
	"github.com/fedineko/crabo/internal/snapshot"
)

type oEmbedResponse struct {
	Type         string `json:"type"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	AuthorName   string `json:"author_name"`
	ProviderName string `json:"provider_name"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// OEmbed resolves links through per-host oEmbed endpoints.
type OEmbed struct {
	fetcher   snapshot.Fetcher
	endpoints map[string]string
	s         settings
}

// NewOEmbed builds an oEmbed client from host -> endpoint.
func NewOEmbed(fetcher snapshot.Fetcher, endpoints map[string]string, opts ...Option) *OEmbed {
	normalized := make(map[string]string, len(endpoints))
	for host, endpoint := range endpoints {
		normalized[strings.ToLower(strings.TrimPrefix(host, "www."))] = endpoint
	}
	return &OEmbed{fetcher: fetcher, endpoints: normalized, s: newSettings("", opts)}
}

// Hosts lists the hosts that have an endpoint.
func (o *OEmbed) Hosts() []string {
	hosts := make([]string, 0, len(o.endpoints))
	for host := range o.endpoints {
		hosts = append(hosts, host, "*."+host)
	}
	return hosts
}

func (o *OEmbed) endpointFor(host string) (string, bool) {
	host = strings.ToLower(host)
	for {
		if endpoint, ok := o.endpoints[host]; ok {
			return endpoint, true
		}
		_, parent, found := strings.Cut(host, ".")
		if !found || !strings.Contains(parent, ".") {
			return "", false
		}
		host = parent
	}
}

// Snapshot implements Client.
func (o *OEmbed) Snapshot(ctx context.Context, u *url.URL) (snapshot.Snapshot, error) {
	endpoint, ok := o.endpointFor(u.Hostname())
	if !ok {
		return snapshot.Snapshot{}, fmt.Errorf("%w: no oEmbed endpoint for %s", ErrUnsupportedURL, u.Hostname())
	}
	q := url.Values{}
	q.Set("url", u.String())
	q.Set("format", "json")
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}

	var resp oEmbedResponse
	if err := getJSON(ctx, o.fetcher, o.s, endpoint+sep+q.Encode(), &resp); err != nil {
		return snapshot.Snapshot{}, err
	}
	snap := snapshot.Snapshot{
		URL:         u.String(),
		Title:       extract.Clean(resp.Title),
		Description: extract.Clean(resp.Description),
		SiteName:    extract.Clean(resp.AuthorName),
		Provider:    extract.Clean(resp.ProviderName),
		Source:      snapshot.SourceVideo,
		FetchedAt:   o.s.clock.Now(),
	}
	if thumb, ok := extract.ResolveURL(u, resp.ThumbnailURL); ok {
		snap.ImageURL = thumb
		snap.ImageType = extract.GuessImageType(thumb)
	}
	if snap.Empty() {
		return snapshot.Snapshot{}, fmt.Errorf("%w: empty oEmbed response for %s", ErrNotFound, u)
	}
	return snap, nil
}
