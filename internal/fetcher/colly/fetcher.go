// Package collyfetcher implements snapshot.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/fedineko/crabo/internal/snapshot"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultMaxBodySize = 1 << 20
)

// Config controls collector behavior.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int64
}

// Fetcher implements snapshot.Fetcher using a Colly collector per request
// over one shared, pooled transport.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	return &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(),
	}
}

// NewWithTransport builds a Fetcher over an existing transport (primarily for testing).
func NewWithTransport(cfg Config, transport http.RoundTripper) *Fetcher {
	f := New(cfg)
	if transport != nil {
		f.transport = transport
	}
	return f
}

// Fetch executes a single HTTP exchange. The body is cut at the request's
// size cap and flagged as truncated rather than failing. Non-2xx responses
// are returned together with a *snapshot.StatusError.
func (f *Fetcher) Fetch(ctx context.Context, request snapshot.FetchRequest) (snapshot.FetchResponse, error) {
	var (
		result   snapshot.FetchResponse
		fetchErr error
	)
	maxBytes := request.MaxBytes
	if maxBytes <= 0 {
		maxBytes = f.cfg.MaxBodySize
	}
	start := time.Now()
	collector := f.buildCollector(ctx, request, maxBytes)
	f.configureCollectorHooks(collector, request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request, &fetchErr); err != nil {
		return snapshot.FetchResponse{}, err
	}
	if int64(len(result.Body)) > maxBytes {
		result.Body = result.Body[:maxBytes]
		result.Truncated = true
	}
	if result.StatusCode < 200 || result.StatusCode > 299 {
		return result, &snapshot.StatusError{URL: request.URL, StatusCode: result.StatusCode}
	}
	return result, nil
}

func (f *Fetcher) buildCollector(ctx context.Context, request snapshot.FetchRequest, maxBytes int64) *colly.Collector {
	collector := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.StdlibContext(ctx),
	)
	collector.WithTransport(f.transport)
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.ParseHTTPErrorResponse = true
	collector.DetectCharset = true
	// One extra byte tells a body exactly at the cap from a longer one.
	collector.MaxBodySize = int(maxBytes) + 1

	timeout := request.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	collector.SetRequestTimeout(timeout)
	if request.NoRedirects {
		collector.SetRedirectHandler(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		})
	}
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request snapshot.FetchRequest,
	start time.Time,
	result *snapshot.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = snapshot.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	request snapshot.FetchRequest,
	fetchErr *error,
) error {
	done := make(chan error, 1)
	go func() {
		if request.Method == http.MethodHead {
			done <- collector.Head(request.URL)
			return
		}
		done <- collector.Visit(request.URL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit %s: %w", request.URL, err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response %s: %w", request.URL, *fetchErr)
		}
		return nil
	}
}

func copyHeaders(request snapshot.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
}
