package video

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/fedineko/crabo/internal/extract"
	"github.com/fedineko/crabo/internal/snapshot"
)

const (
	biliBiliAPI       = "https://api.bilibili.com"
	biliBiliShortBase = "https://b23.tv"
)

type biliBiliResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		BVID  string `json:"bvid"`
		Pic   string `json:"pic"`
		Title string `json:"title"`
		Desc  string `json:"desc"`
		Owner struct {
			Name string `json:"name"`
		} `json:"owner"`
	} `json:"data"`
}

// BiliBili uses the public web-interface view API.
type BiliBili struct {
	fetcher snapshot.Fetcher
	s       settings
}

// NewBiliBili builds a BiliBili client.
func NewBiliBili(fetcher snapshot.Fetcher, opts ...Option) *BiliBili {
	s := newSettings(biliBiliAPI, opts)
	if s.shortBase == "" {
		s.shortBase = biliBiliShortBase
	}
	return &BiliBili{fetcher: fetcher, s: s}
}

// Snapshot implements Client. Short b23.tv links are resolved first.
func (b *BiliBili) Snapshot(ctx context.Context, u *url.URL) (snapshot.Snapshot, error) {
	id, ok := BiliBiliVideoID(u)
	if !ok {
		return snapshot.Snapshot{}, fmt.Errorf("%w: %s", ErrUnsupportedURL, u)
	}
	if !strings.HasPrefix(id, "BV") {
		if resolved, ok := b.resolveShort(ctx, id); ok {
			id = resolved
		}
	}

	endpoint := strings.TrimSuffix(b.s.endpoint, "/") + "/x/web-interface/view?bvid=" + url.QueryEscape(id)
	var resp biliBiliResponse
	if err := getJSON(ctx, b.fetcher, b.s, endpoint, &resp); err != nil {
		return snapshot.Snapshot{}, err
	}
	if resp.Code != 0 {
		return snapshot.Snapshot{}, fmt.Errorf("%w: bilibili %s: code %d %s", ErrNotFound, id, resp.Code, resp.Message)
	}

	snap := snapshot.Snapshot{
		URL:         u.String(),
		Title:       extract.Clean(resp.Data.Title),
		Description: extract.Clean(resp.Data.Desc),
		SiteName:    extract.Clean(resp.Data.Owner.Name),
		Provider:    "BiliBili",
		Source:      snapshot.SourceVideo,
		FetchedAt:   b.s.clock.Now(),
	}
	if pic, ok := extract.ResolveURL(u, resp.Data.Pic); ok {
		snap.ImageURL = pic
		snap.ImageType = extract.GuessImageType(pic)
	}
	return snap, nil
}

// resolveShort follows one redirect hop of a short link by hand.
func (b *BiliBili) resolveShort(ctx context.Context, short string) (string, bool) {
	resp, err := b.fetcher.Fetch(ctx, snapshot.FetchRequest{
		URL:         strings.TrimSuffix(b.s.shortBase, "/") + "/" + url.PathEscape(short),
		Method:      http.MethodHead,
		Headers:     b.s.headers(),
		Timeout:     b.s.timeout,
		NoRedirects: true,
	})
	if err != nil && snapshot.StatusCode(err) == 0 {
		return "", false
	}
	location := resp.Headers.Get("Location")
	if location == "" {
		return "", false
	}
	target, perr := url.Parse(location)
	if perr != nil {
		return "", false
	}
	id, ok := BiliBiliVideoID(target)
	if !ok || !strings.HasPrefix(id, "BV") {
		return "", false
	}
	return id, true
}

// BiliBiliVideoID returns the BV id of a bilibili.com link or the short
// code of a b23.tv link.
func BiliBiliVideoID(u *url.URL) (string, bool) {
	host := strings.ToLower(u.Hostname())
	path := strings.Trim(u.Path, "/")
	switch {
	case strings.HasSuffix(host, "b23.tv"):
		return path, path != ""
	case strings.HasSuffix(host, "bilibili.com"):
		rest, ok := strings.CutPrefix(path, "video/")
		if !ok {
			return "", false
		}
		id, _, _ := strings.Cut(rest, "/")
		return id, id != ""
	}
	return "", false
}
