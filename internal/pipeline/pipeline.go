// Package pipeline produces a snapshot for a URL, enforcing site health,
// robots.txt and page-level directives before any content is used.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/fedineko/crabo/internal/classifier"
	"github.com/fedineko/crabo/internal/extract"
	"github.com/fedineko/crabo/internal/metrics"
	"github.com/fedineko/crabo/internal/policy/ratelimit"
	"github.com/fedineko/crabo/internal/robots"
	"github.com/fedineko/crabo/internal/sitehealth"
	"github.com/fedineko/crabo/internal/snapshot"
	"github.com/fedineko/crabo/internal/video"
)

// Config tunes a Pipeline.
type Config struct {
	AgentToken      string
	UserAgent       string
	FetchTimeout    time.Duration
	MaxDocumentSize int64
	// CacheTTL of zero disables writing to the snapshot store.
	CacheTTL time.Duration
	// Topic receives every produced snapshot when a Publisher is set.
	Topic string
}

// Deps are the collaborators a Pipeline composes. Store, Publisher,
// Limiter and Video entries are optional.
type Deps struct {
	Tracker    *sitehealth.Tracker
	Robots     *robots.Resolver
	Classifier *classifier.Classifier
	Fetcher    snapshot.Fetcher
	Video      map[string]video.Client
	Store      snapshot.Store
	Publisher  snapshot.Publisher
	Limiter    *ratelimit.Limiter
	Clock      snapshot.Clock
	Logger     *zap.Logger
}

// Pipeline runs the snapshot flow for one URL at a time; it is safe for
// concurrent use.
type Pipeline struct {
	cfg        Config
	tracker    *sitehealth.Tracker
	robots     *robots.Resolver
	classifier *classifier.Classifier
	fetcher    snapshot.Fetcher
	video      map[string]video.Client
	store      snapshot.Store
	publisher  snapshot.Publisher
	limiter    *ratelimit.Limiter
	clock      snapshot.Clock
	logger     *zap.Logger
}

// New validates deps and returns a Pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	switch {
	case deps.Tracker == nil:
		return nil, errors.New("pipeline requires a site health tracker")
	case deps.Robots == nil:
		return nil, errors.New("pipeline requires a robots resolver")
	case deps.Classifier == nil:
		return nil, errors.New("pipeline requires a classifier")
	case deps.Fetcher == nil:
		return nil, errors.New("pipeline requires a fetcher")
	}
	if cfg.AgentToken == "" {
		return nil, errors.New("pipeline requires an agent token")
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.MaxDocumentSize <= 0 {
		cfg.MaxDocumentSize = 1 << 20
	}
	clock := deps.Clock
	if clock == nil {
		clock = snapshot.ClockFunc(time.Now)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:        cfg,
		tracker:    deps.Tracker,
		robots:     deps.Robots,
		classifier: deps.Classifier,
		fetcher:    deps.Fetcher,
		video:      deps.Video,
		store:      deps.Store,
		publisher:  deps.Publisher,
		limiter:    deps.Limiter,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Produce parses rawURL and runs the pipeline for it.
func (p *Pipeline) Produce(ctx context.Context, rawURL string) (snapshot.Snapshot, error) {
	u, err := snapshot.ParseURL(rawURL)
	if err != nil {
		metrics.ObserveSnapshot("none", snapshot.Kind(err), 0)
		return snapshot.Snapshot{}, err
	}
	return p.ProduceRequest(ctx, snapshot.Request{URL: u, RequestedAt: p.clock.Now()})
}

// ProduceRequest runs the pipeline for an already parsed request.
func (p *Pipeline) ProduceRequest(ctx context.Context, req snapshot.Request) (snapshot.Snapshot, error) {
	start := time.Now()
	if req.URL == nil {
		return snapshot.Snapshot{}, fmt.Errorf("%w: missing url", snapshot.ErrInvalidURL)
	}
	u := snapshot.NormalizeURL(req.URL)
	host := u.Hostname()
	class := p.classifier.Classify(u)
	source := class.Kind.String()

	snap, result, err := p.run(ctx, u, host, class, req.BypassCache)
	metrics.ObserveSnapshot(source, result, time.Since(start))

	logger := p.logger.With(zap.String("url", u.String()), zap.String("result", result))
	switch {
	case err == nil:
		logger.Debug("snapshot produced", zap.Duration("duration", time.Since(start)))
	case errors.Is(err, snapshot.ErrDisallowedByRobots), errors.Is(err, snapshot.ErrIgnoredHost):
		logger.Debug("snapshot refused", zap.Error(err))
	default:
		logger.Info("snapshot failed", zap.Error(err))
	}
	return snap, err
}

func (p *Pipeline) run(
	ctx context.Context,
	u *url.URL,
	host string,
	class classifier.Classification,
	bypassCache bool,
) (snapshot.Snapshot, string, error) {
	if p.classifier.Ignored(host) {
		err := fmt.Errorf("%w: %s", snapshot.ErrIgnoredHost, host)
		return snapshot.Snapshot{}, snapshot.Kind(err), err
	}

	key := snapshot.CacheKey(u)
	if !bypassCache {
		if snap, ok := p.lookup(ctx, key); ok {
			return snap, "cached", nil
		}
	}

	if p.tracker.Check(host) == sitehealth.Suppressed {
		err := fmt.Errorf("%w: %s", snapshot.ErrSiteSuppressed, host)
		return snapshot.Snapshot{}, snapshot.Kind(err), err
	}

	// Past the gate every exit records exactly one outcome.
	decision, err := p.robots.IsAllowedURL(ctx, u, p.cfg.AgentToken)
	if err != nil {
		p.tracker.RecordOutcome(host, sitehealth.OtherError)
		return snapshot.Snapshot{}, "canceled", fmt.Errorf("check robots.txt: %w", err)
	}
	if decision == robots.Denied {
		p.tracker.RecordOutcome(host, sitehealth.OtherError)
		err := fmt.Errorf("%w: %s", snapshot.ErrDisallowedByRobots, u.String())
		return snapshot.Snapshot{}, snapshot.Kind(err), err
	}

	var snap snapshot.Snapshot
	if class.Kind == classifier.VideoAPI {
		snap, err = p.fromVideo(ctx, u, class.Provider)
	} else {
		snap, err = p.fromHTML(ctx, u, host)
	}
	if err != nil {
		outcome, result := p.classifyFailure(ctx, err)
		p.tracker.RecordOutcome(host, outcome)
		return snapshot.Snapshot{}, result, err
	}
	p.tracker.RecordOutcome(host, sitehealth.Success)

	p.remember(ctx, key, snap)
	result := "ok"
	if snap.BlockedByDirective {
		result = "blocked_by_directive"
	} else {
		p.publish(ctx, snap)
	}
	return snap, result, nil
}

// classifyFailure maps a collaborator error to the tracker outcome and the
// metric label. Caller cancellation is never the site's fault.
func (p *Pipeline) classifyFailure(ctx context.Context, err error) (sitehealth.Outcome, string) {
	switch {
	case ctx.Err() != nil:
		return sitehealth.OtherError, "canceled"
	case errors.Is(err, snapshot.ErrFetchFailed):
		return sitehealth.ConnectionError, snapshot.Kind(err)
	default:
		return sitehealth.OtherError, snapshot.Kind(err)
	}
}

func (p *Pipeline) fromVideo(ctx context.Context, u *url.URL, provider string) (snapshot.Snapshot, error) {
	client, ok := p.video[provider]
	if !ok || client == nil {
		return snapshot.Snapshot{}, fmt.Errorf("%w: %s: %w", snapshot.ErrExtractionFailed, provider, video.ErrNotConfigured)
	}
	snap, err := client.Snapshot(ctx, u)
	if err != nil {
		if ctx.Err() != nil {
			return snapshot.Snapshot{}, fmt.Errorf("video %s: %w", provider, ctx.Err())
		}
		return snapshot.Snapshot{}, fmt.Errorf("%w: video %s: %w", snapshot.ErrExtractionFailed, provider, err)
	}
	snap.URL = u.String()
	snap.Source = snapshot.SourceVideo
	if snap.Provider == "" {
		snap.Provider = provider
	}
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = p.clock.Now()
	}
	return snap, nil
}

func (p *Pipeline) fromHTML(ctx context.Context, u *url.URL, host string) (snapshot.Snapshot, error) {
	if err := p.limiter.Wait(ctx, host); err != nil {
		return snapshot.Snapshot{}, err
	}

	headers := http.Header{}
	if p.cfg.UserAgent != "" {
		headers.Set("User-Agent", p.cfg.UserAgent)
	}
	headers.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")
	resp, err := p.fetcher.Fetch(ctx, snapshot.FetchRequest{
		URL:      u.String(),
		Method:   http.MethodGet,
		Headers:  headers,
		MaxBytes: p.cfg.MaxDocumentSize,
		Timeout:  p.cfg.FetchTimeout,
	})
	if err != nil {
		if snapshot.IsConnectionError(err) && ctx.Err() == nil {
			return snapshot.Snapshot{}, fmt.Errorf("%w: %w", snapshot.ErrFetchFailed, err)
		}
		return snapshot.Snapshot{}, fmt.Errorf("%w: %w", snapshot.ErrExtractionFailed, err)
	}
	if resp.Truncated {
		p.logger.Debug("document truncated before parsing",
			zap.String("url", u.String()), zap.Int64("max_bytes", p.cfg.MaxDocumentSize))
	}

	page := u
	if resp.URL != "" {
		if final, perr := url.Parse(resp.URL); perr == nil && final.IsAbs() {
			page = final
		}
	}
	res, err := extract.Document(resp.Body, page, p.cfg.AgentToken)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("%w: %w", snapshot.ErrExtractionFailed, err)
	}

	snap := snapshot.Snapshot{
		URL:       u.String(),
		Source:    snapshot.SourceHTML,
		FetchedAt: p.clock.Now(),
	}
	if res.Blocked() {
		snap.BlockedByDirective = true
		return snap, nil
	}
	snap.Title = res.Title
	snap.Description = res.Description
	snap.ImageURL = res.ImageURL
	snap.ImageType = res.ImageType
	snap.SiteName = res.SiteName
	snap.ApplicationName = res.ApplicationName
	return snap, nil
}

func (p *Pipeline) lookup(ctx context.Context, key string) (snapshot.Snapshot, bool) {
	if p.store == nil {
		return snapshot.Snapshot{}, false
	}
	snap, ok, err := p.store.Get(ctx, key)
	if err != nil {
		p.logger.Warn("snapshot cache read failed", zap.String("key", key), zap.Error(err))
		return snapshot.Snapshot{}, false
	}
	metrics.ObserveCacheLookup(ok)
	return snap, ok
}

func (p *Pipeline) remember(ctx context.Context, key string, snap snapshot.Snapshot) {
	if p.store == nil || p.cfg.CacheTTL <= 0 {
		return
	}
	if err := p.store.Set(ctx, key, snap, p.cfg.CacheTTL); err != nil {
		p.logger.Warn("snapshot cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (p *Pipeline) publish(ctx context.Context, snap snapshot.Snapshot) {
	if p.publisher == nil || p.cfg.Topic == "" {
		return
	}
	id, err := p.publisher.Publish(ctx, p.cfg.Topic, snap)
	if err != nil {
		p.logger.Warn("snapshot publish failed", zap.String("url", snap.URL), zap.Error(err))
		return
	}
	p.logger.Debug("snapshot published", zap.String("url", snap.URL), zap.String("message_id", id))
}
