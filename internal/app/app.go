// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fedineko/crabo/internal/classifier"
	"github.com/fedineko/crabo/internal/clock/system"
	"github.com/fedineko/crabo/internal/config"
	collyfetcher "github.com/fedineko/crabo/internal/fetcher/colly"
	"github.com/fedineko/crabo/internal/pipeline"
	"github.com/fedineko/crabo/internal/policy/ratelimit"
	"github.com/fedineko/crabo/internal/policycache"
	"github.com/fedineko/crabo/internal/publisher/pubsub"
	"github.com/fedineko/crabo/internal/robots"
	"github.com/fedineko/crabo/internal/sitehealth"
	"github.com/fedineko/crabo/internal/snapshot"
	"github.com/fedineko/crabo/internal/storage/memory"
	"github.com/fedineko/crabo/internal/storage/postgres"
	"github.com/fedineko/crabo/internal/video"
)

// App holds the shared, long-lived services. It is built once at startup
// and closed by the command that created it.
type App struct {
	logger   *zap.Logger
	cfg      config.Config
	pipeline *pipeline.Pipeline
	tracker  *sitehealth.Tracker
	closers  []func() error
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Pipeline returns the snapshot pipeline.
func (a *App) Pipeline() *pipeline.Pipeline {
	return a.pipeline
}

// Tracker exposes site health state.
func (a *App) Tracker() *sitehealth.Tracker {
	return a.tracker
}

// New wires every service from cfg. It fails fast if a configured backend
// cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("initializing application services")
	a := &App{logger: logger, cfg: cfg}
	clock := system.New()

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.Agent.UserAgent,
		Timeout:     cfg.Fetch.Timeout,
		MaxBodySize: cfg.Fetch.MaxDocumentSize,
	})

	tracker, err := sitehealth.New(sitehealth.Config{
		ErrorThreshold:      cfg.Health.ErrorThreshold,
		Window:              cfg.Health.Window,
		SuppressionDuration: cfg.Health.SuppressionDuration,
		Capacity:            cfg.Health.Capacity,
	}, sitehealth.WithLogger(logger.Named("sitehealth")))
	if err != nil {
		return nil, fmt.Errorf("init site health tracker: %w", err)
	}
	a.tracker = tracker

	policies, err := policycache.New[*robots.Policy](cfg.Robots.CacheCapacity)
	if err != nil {
		return nil, fmt.Errorf("init robots cache: %w", err)
	}
	resolver, err := robots.NewResolver(fetcher, policies, clock, robots.Config{
		CacheTTL:        cfg.Robots.CacheTTL,
		FetchFailureTTL: cfg.Robots.FetchFailureTTL,
		MaxBytes:        cfg.Robots.MaxBytes,
		FetchTimeout:    cfg.Robots.FetchTimeout,
		UserAgent:       cfg.Agent.UserAgent,
	}, logger.Named("robots"), robots.WithConnectionErrorHook(func(host string) {
		tracker.RecordOutcome(host, sitehealth.ConnectionError)
	}))
	if err != nil {
		return nil, fmt.Errorf("init robots resolver: %w", err)
	}

	limiter, err := ratelimit.New(ratelimit.Config{
		PerHostRPS: cfg.Fetch.RateLimitPerHost,
		Burst:      cfg.Fetch.RateLimitBurst,
		MaxHosts:   cfg.Health.Capacity,
	})
	if err != nil {
		return nil, fmt.Errorf("init rate limiter: %w", err)
	}

	providers, clients := buildVideoClients(cfg, fetcher, clock, logger)

	store, err := a.buildStore(ctx)
	if err != nil {
		return nil, err
	}

	var publisher snapshot.Publisher
	if cfg.PubSub.Enabled() {
		logger.Info("publishing snapshots to pubsub", zap.String("topic", cfg.PubSub.TopicName))
		pub, err := pubsub.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		publisher = pub
	}

	p, err := pipeline.New(pipeline.Config{
		AgentToken:      cfg.Agent.Token,
		UserAgent:       cfg.Agent.UserAgent,
		FetchTimeout:    cfg.Fetch.Timeout,
		MaxDocumentSize: cfg.Fetch.MaxDocumentSize,
		CacheTTL:        cfg.Snapshot.CacheTTL,
		Topic:           cfg.PubSub.TopicName,
	}, pipeline.Deps{
		Tracker:    tracker,
		Robots:     resolver,
		Classifier: classifier.New(providers, cfg.Snapshot.IgnoredHosts),
		Fetcher:    fetcher,
		Video:      clients,
		Store:      store,
		Publisher:  publisher,
		Limiter:    limiter,
		Clock:      clock,
		Logger:     logger.Named("pipeline"),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init pipeline: %w", err)
	}
	a.pipeline = p

	logger.Info("application services initialized",
		zap.String("agent_token", cfg.Agent.Token),
		zap.String("cache_backend", cfg.Snapshot.CacheBackend),
		zap.Int("video_providers", len(clients)),
	)
	return a, nil
}

func (a *App) buildStore(ctx context.Context) (snapshot.Store, error) {
	cfg := a.cfg
	switch cfg.Snapshot.CacheBackend {
	case config.CacheBackendMemory, "":
		store, err := memory.NewSnapshotStore(cfg.Snapshot.CacheCapacity)
		if err != nil {
			return nil, fmt.Errorf("init memory snapshot cache: %w", err)
		}
		return store, nil
	case config.CacheBackendPostgres:
		a.logger.Info("connecting to postgres snapshot cache", zap.String("table", cfg.DB.Table))
		store, err := postgres.NewSnapshotStore(ctx, postgres.SnapshotStoreConfig{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres snapshot cache: %w", err)
		}
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		return store, nil
	case config.CacheBackendNone:
		a.logger.Info("snapshot cache disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown snapshot cache backend: %s", cfg.Snapshot.CacheBackend)
	}
}

// buildVideoClients returns the provider host patterns handed to the
// classifier together with the clients serving them. A provider without a
// client is left out so its links fall back to the HTML path.
func buildVideoClients(
	cfg config.Config,
	fetcher snapshot.Fetcher,
	clock snapshot.Clock,
	logger *zap.Logger,
) (map[string][]string, map[string]video.Client) {
	opts := []video.Option{
		video.WithUserAgent(cfg.Agent.UserAgent),
		video.WithTimeout(cfg.Fetch.Timeout),
		video.WithClock(clock),
	}
	providers := make(map[string][]string)
	clients := make(map[string]video.Client)
	for name, hosts := range cfg.Video.Providers {
		switch name {
		case "youtube":
			if cfg.Video.YouTubeAPIKey == "" {
				logger.Warn("video.youtube_api_key not set; youtube links use page metadata")
				continue
			}
			clients[name] = video.NewYouTube(fetcher, cfg.Video.YouTubeAPIKey, opts...)
		case "bilibili":
			clients[name] = video.NewBiliBili(fetcher, opts...)
		default:
			logger.Warn("no client for video provider", zap.String("provider", name))
			continue
		}
		providers[name] = append([]string(nil), hosts...)
	}
	if len(cfg.Video.OEmbedEndpoints) > 0 {
		endpoints := make(map[string]string, len(cfg.Video.OEmbedEndpoints))
		for _, e := range cfg.Video.OEmbedEndpoints {
			endpoints[e.Host] = e.Endpoint
		}
		oembed := video.NewOEmbed(fetcher, endpoints, opts...)
		clients["oembed"] = oembed
		providers["oembed"] = oembed.Hosts()
	}
	return providers, clients
}

// Close shuts down every service in reverse construction order.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing application services", zap.Error(err))
	}
}
