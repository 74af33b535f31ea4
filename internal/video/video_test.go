package video

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fedineko/crabo/internal/snapshot"
)

type routeFetcher struct {
	mu       sync.Mutex
	routes   map[string]snapshot.FetchResponse
	errs     map[string]error
	requests []snapshot.FetchRequest
}

func (r *routeFetcher) Fetch(_ context.Context, req snapshot.FetchRequest) (snapshot.FetchResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	for prefix, err := range r.errs {
		if strings.HasPrefix(req.URL, prefix) {
			return r.routes[prefix], err
		}
	}
	for prefix, resp := range r.routes {
		if strings.HasPrefix(req.URL, prefix) {
			return resp, nil
		}
	}
	return snapshot.FetchResponse{}, &snapshot.StatusError{URL: req.URL, StatusCode: http.StatusNotFound}
}

func body(s string) snapshot.FetchResponse {
	return snapshot.FetchResponse{StatusCode: http.StatusOK, Body: []byte(s)}
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

var fixed = snapshot.ClockFunc(func() time.Time { return time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC) })

func TestYouTubeVideoID(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://youtu.be/x8?si=HxxxJ":                "x8",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ": "dQw4w9WgXcQ",
		"https://m.youtube.com/shorts/abc123/":        "abc123",
		"https://www.youtube.com/embed/xyz":           "xyz",
		"https://www.youtube.com/channel/UC123":       "",
		"https://youtu.be/":                           "",
		"https://example.com/watch?v=dQw4w9WgXcQ":     "",
	}
	for raw, want := range cases {
		got, ok := YouTubeVideoID(mustURL(t, raw))
		require.Equal(t, want != "", ok, raw)
		require.Equal(t, want, got, raw)
	}
}

func TestYouTubeSnapshot(t *testing.T) {
	t.Parallel()

	f := &routeFetcher{routes: map[string]snapshot.FetchResponse{
		"https://api.test/videos": body(`{"items":[{"id":"abc","snippet":{
			"title":"A &amp; B","description":"<b>Desc</b>","channelTitle":"Chan",
			"thumbnails":{"default":{"url":"https://i.ytimg.com/vi/abc/default.jpg"},
			              "medium":{"url":"https://i.ytimg.com/vi/abc/mq.jpg"},
			              "high":{"url":"https://i.ytimg.com/vi/abc/hq.jpg"}},
			"tags":["go","crawler"]}}]}`),
	}}
	yt := NewYouTube(f, "secret", WithEndpoint("https://api.test/videos"), WithClock(fixed))

	snap, err := yt.Snapshot(context.Background(), mustURL(t, "https://youtu.be/abc"))
	require.NoError(t, err)
	require.Equal(t, "A & B", snap.Title)
	require.Equal(t, "Desc", snap.Description)
	require.Equal(t, "https://i.ytimg.com/vi/abc/hq.jpg", snap.ImageURL)
	require.Equal(t, "image/jpeg", snap.ImageType)
	require.Equal(t, []string{"#go", "#crawler"}, snap.Tags)
	require.Equal(t, snapshot.SourceVideo, snap.Source)
	require.Equal(t, "YouTube", snap.Provider)
	require.Equal(t, fixed.Now(), snap.FetchedAt)

	require.Len(t, f.requests, 1)
	q := mustURL(t, f.requests[0].URL).Query()
	require.Equal(t, "abc", q.Get("id"))
	require.Equal(t, "secret", q.Get("key"))
	require.Equal(t, "snippet", q.Get("part"))
}

func TestYouTubeErrors(t *testing.T) {
	t.Parallel()

	f := &routeFetcher{routes: map[string]snapshot.FetchResponse{
		"https://api.test/videos": body(`{"items":[]}`),
	}}
	_, err := NewYouTube(f, "").Snapshot(context.Background(), mustURL(t, "https://youtu.be/abc"))
	require.ErrorIs(t, err, ErrNotConfigured)

	yt := NewYouTube(f, "k", WithEndpoint("https://api.test/videos"))
	_, err = yt.Snapshot(context.Background(), mustURL(t, "https://youtube.com/feed"))
	require.ErrorIs(t, err, ErrUnsupportedURL)

	_, err = yt.Snapshot(context.Background(), mustURL(t, "https://youtu.be/abc"))
	require.ErrorIs(t, err, ErrNotFound)

	f.errs = map[string]error{"https://api.test/videos": errors.New("boom")}
	_, err = yt.Snapshot(context.Background(), mustURL(t, "https://youtu.be/abc"))
	require.Error(t, err)
	require.NotContains(t, err.Error(), "key=k", "api key must not leak into errors")
}

func TestBiliBiliVideoID(t *testing.T) {
	t.Parallel()

	id, ok := BiliBiliVideoID(mustURL(t, "https://www.bilibili.com/video/BV1a2b3c/?share_source=copy_web"))
	require.True(t, ok)
	require.Equal(t, "BV1a2b3c", id)

	id, ok = BiliBiliVideoID(mustURL(t, "https://b23.tv/xYz12"))
	require.True(t, ok)
	require.Equal(t, "xYz12", id)

	_, ok = BiliBiliVideoID(mustURL(t, "https://space.bilibili.com/1234"))
	require.False(t, ok)
}

func TestBiliBiliSnapshotResolvesShortLink(t *testing.T) {
	t.Parallel()

	f := &routeFetcher{
		routes: map[string]snapshot.FetchResponse{
			"https://short.test/xYz12": {
				StatusCode: http.StatusFound,
				Headers:    http.Header{"Location": {"https://www.bilibili.com/video/BV1xx411c7mD?p=1"}},
			},
			"https://api.test/x/web-interface/view?bvid=BV1xx411c7mD": body(`{"code":0,"message":"0","data":{
				"bvid":"BV1xx411c7mD","pic":"//i0.hdslb.com/bfs/archive/a.png","title":"Title","desc":"Desc",
				"owner":{"name":"Uploader"}}}`),
		},
		errs: map[string]error{
			"https://short.test/xYz12": &snapshot.StatusError{StatusCode: http.StatusFound},
		},
	}
	bb := NewBiliBili(f, WithEndpoint("https://api.test"), WithShortLinkBase("https://short.test"))

	snap, err := bb.Snapshot(context.Background(), mustURL(t, "https://b23.tv/xYz12"))
	require.NoError(t, err)
	require.Equal(t, "Title", snap.Title)
	require.Equal(t, "Desc", snap.Description)
	require.Equal(t, "https://i0.hdslb.com/bfs/archive/a.png", snap.ImageURL)
	require.Equal(t, "BiliBili", snap.Provider)
	require.Equal(t, "Uploader", snap.SiteName)

	require.Equal(t, http.MethodHead, f.requests[0].Method)
	require.True(t, f.requests[0].NoRedirects)
}

func TestBiliBiliAPIErrorCode(t *testing.T) {
	t.Parallel()

	f := &routeFetcher{routes: map[string]snapshot.FetchResponse{
		"https://api.test/x/web-interface/view": body(`{"code":-404,"message":"not found"}`),
	}}
	bb := NewBiliBili(f, WithEndpoint("https://api.test"))
	_, err := bb.Snapshot(context.Background(), mustURL(t, "https://www.bilibili.com/video/BVmissing"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOEmbedSnapshot(t *testing.T) {
	t.Parallel()

	f := &routeFetcher{routes: map[string]snapshot.FetchResponse{
		"https://oembed.test/": body(`{"type":"video","title":"Clip","author_name":"Someone",
			"provider_name":"Streamable","thumbnail_url":"https://cdn.test/t.jpg"}`),
	}}
	o := NewOEmbed(f, map[string]string{"www.streamable.com": "https://oembed.test/"})
	require.ElementsMatch(t, []string{"streamable.com", "*.streamable.com"}, o.Hosts())

	snap, err := o.Snapshot(context.Background(), mustURL(t, "https://streamable.com/abc"))
	require.NoError(t, err)
	require.Equal(t, "Clip", snap.Title)
	require.Equal(t, "Streamable", snap.Provider)
	require.Equal(t, "https://cdn.test/t.jpg", snap.ImageURL)
	require.Equal(t, "https://streamable.com/abc", mustURL(t, f.requests[0].URL).Query().Get("url"))

	_, err = o.Snapshot(context.Background(), mustURL(t, "https://example.com/abc"))
	require.ErrorIs(t, err, ErrUnsupportedURL)
}
