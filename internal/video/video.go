// Package video builds snapshots for video hosting links through the
// hosts' public APIs instead of scraping their pages.
package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/fedineko/crabo/internal/snapshot"
)

// Errors returned by video clients.
var (
	ErrUnsupportedURL = errors.New("not a recognized video link")
	ErrNotFound       = errors.New("video not found")
	ErrNotConfigured  = errors.New("video provider not configured")
)

// Client resolves a video link into a snapshot.
type Client interface {
	Snapshot(ctx context.Context, u *url.URL) (snapshot.Snapshot, error)
}

// Option tunes a client.
type Option func(*settings)

type settings struct {
	endpoint  string
	shortBase string
	userAgent string
	timeout   time.Duration
	maxBytes  int64
	clock     snapshot.Clock
}

// WithEndpoint overrides the API base URL.
func WithEndpoint(endpoint string) Option {
	return func(s *settings) { s.endpoint = endpoint }
}

// WithShortLinkBase overrides the short-link host used for resolution.
func WithShortLinkBase(base string) Option {
	return func(s *settings) { s.shortBase = base }
}

// WithUserAgent sets the outbound User-Agent.
func WithUserAgent(ua string) Option {
	return func(s *settings) { s.userAgent = ua }
}

// WithTimeout bounds each API call.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithClock sets the clock used for FetchedAt.
func WithClock(c snapshot.Clock) Option {
	return func(s *settings) { s.clock = c }
}

func newSettings(endpoint string, opts []Option) settings {
	s := settings{
		endpoint: endpoint,
		timeout:  10 * time.Second,
		maxBytes: 2 << 20,
		clock:    snapshot.ClockFunc(time.Now),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func (s settings) headers() http.Header {
	h := http.Header{"Accept": {"application/json"}}
	if s.userAgent != "" {
		h.Set("User-Agent", s.userAgent)
	}
	return h
}

func getJSON(ctx context.Context, fetcher snapshot.Fetcher, s settings, endpoint string, out any) error {
	resp, err := fetcher.Fetch(ctx, snapshot.FetchRequest{
		URL:      endpoint,
		Method:   http.MethodGet,
		Headers:  s.headers(),
		MaxBytes: s.maxBytes,
		Timeout:  s.timeout,
	})
	if err != nil {
		return fmt.Errorf("call %s: %w", redact(endpoint), err)
	}
	if resp.Truncated {
		return fmt.Errorf("response from %s exceeds %d bytes", redact(endpoint), s.maxBytes)
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", redact(endpoint), err)
	}
	return nil
}

// redact drops API keys from endpoints that end up in errors and logs.
func redact(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "<invalid endpoint>"
	}
	q := u.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
