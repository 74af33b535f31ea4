package robots

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fedineko/crabo/internal/metrics"
	"github.com/fedineko/crabo/internal/policycache"
	"github.com/fedineko/crabo/internal/snapshot"
)

// Config controls fetching and caching of robots.txt.
type Config struct {
	CacheTTL        time.Duration
	FetchFailureTTL time.Duration
	MaxBytes        int64
	FetchTimeout    time.Duration
	UserAgent       string
	// Scheme is used when IsAllowed is called with a bare host.
	Scheme string
}

func (c Config) withDefaults() Config {
	if c.CacheTTL <= 0 {
		c.CacheTTL = 24 * time.Hour
	}
	if c.FetchFailureTTL <= 0 {
		c.FetchFailureTTL = 10 * time.Minute
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 512 << 10
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	if c.Scheme == "" {
		c.Scheme = "https"
	}
	return c
}

// Resolver answers robots.txt questions, fetching each host's file at most
// once per cache lifetime regardless of how many callers ask concurrently.
type Resolver struct {
	cfg     Config
	fetcher snapshot.Fetcher
	cache   *policycache.Cache[*Policy]
	flights singleflight.Group
	clock   snapshot.Clock
	logger  *zap.Logger
	onConn  func(host string)
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithConnectionErrorHook registers fn to be told about hosts whose
// robots.txt fetch failed at the connection level (timeout, refused, DNS).
// fn receives the host name without port.
func WithConnectionErrorHook(fn func(host string)) Option {
	return func(r *Resolver) {
		r.onConn = fn
	}
}

// NewResolver builds a Resolver backed by cache.
func NewResolver(
	fetcher snapshot.Fetcher,
	cache *policycache.Cache[*Policy],
	clock snapshot.Clock,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) (*Resolver, error) {
	if fetcher == nil {
		return nil, errors.New("robots resolver requires a fetcher")
	}
	if cache == nil {
		return nil, errors.New("robots resolver requires a cache")
	}
	if clock == nil {
		clock = snapshot.ClockFunc(time.Now)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{
		cfg:     cfg.withDefaults(),
		fetcher: fetcher,
		cache:   cache,
		clock:   clock,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// IsAllowed evaluates path on host for agentToken using the configured scheme.
func (r *Resolver) IsAllowed(ctx context.Context, host, path, agentToken string) (Decision, error) {
	return r.check(ctx, r.cfg.Scheme, host, path, agentToken)
}

// IsAllowedURL evaluates target, fetching robots.txt over target's scheme.
func (r *Resolver) IsAllowedURL(ctx context.Context, target *url.URL, agentToken string) (Decision, error) {
	path := target.EscapedPath()
	if target.RawQuery != "" {
		path += "?" + target.RawQuery
	}
	return r.check(ctx, target.Scheme, target.Host, path, agentToken)
}

func (r *Resolver) check(ctx context.Context, scheme, host, path, agentToken string) (Decision, error) {
	policy, err := r.Policy(ctx, scheme, host)
	if err != nil {
		return Allowed, err
	}
	decision := policy.Evaluate(path, agentToken)
	metrics.ObserveRobotsDecision(decision.String())
	return decision, nil
}

// Policy returns the live policy for host, fetching it on a cache miss.
// Concurrent misses for the same host share one fetch. The fetch runs
// detached from ctx, so a caller that gives up only stops waiting.
func (r *Resolver) Policy(ctx context.Context, scheme, host string) (*Policy, error) {
	key := strings.ToLower(host)
	if p, ok := r.cache.Get(key); ok {
		return p, nil
	}
	ch := r.flights.DoChan(key, func() (any, error) {
		if p, ok := r.cache.Get(key); ok {
			return p, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.FetchTimeout)
		defer cancel()
		p := r.fetch(fetchCtx, scheme, key)
		// The entry must not outlive FetchedAt+TTL.
		if ttl := p.TTL - r.clock.Now().Sub(p.FetchedAt); ttl > 0 {
			r.cache.Put(key, p, ttl)
		}
		return p, nil
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for robots.txt of %s: %w", key, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		p, ok := res.Val.(*Policy)
		if !ok {
			return nil, fmt.Errorf("robots flight returned %T", res.Val)
		}
		return p, nil
	}
}

// fetch never fails: anything short of a complete 2xx body yields an empty,
// permissive policy that expires after the failure TTL. FetchedAt is taken
// once the response is in.
func (r *Resolver) fetch(ctx context.Context, scheme, host string) *Policy {
	robotsURL := (&url.URL{Scheme: scheme, Host: host, Path: "/robots.txt"}).String()

	headers := http.Header{}
	if r.cfg.UserAgent != "" {
		headers.Set("User-Agent", r.cfg.UserAgent)
	}
	resp, err := r.fetcher.Fetch(ctx, snapshot.FetchRequest{
		URL:      robotsURL,
		Method:   http.MethodGet,
		Headers:  headers,
		MaxBytes: r.cfg.MaxBytes,
		Timeout:  r.cfg.FetchTimeout,
	})
	now := r.clock.Now()
	fallback := &Policy{Host: host, FetchedAt: now, TTL: r.cfg.FetchFailureTTL}
	switch {
	case err != nil:
		code := snapshot.StatusCode(err)
		if code == http.StatusNotFound || code == http.StatusForbidden {
			r.logger.Debug("no robots.txt; allowing all", zap.String("host", host), zap.Int("status", code))
			metrics.ObserveRobotsFetch("missing")
		} else {
			r.logger.Warn("robots fetch failed; allowing all", zap.String("host", host), zap.Error(err))
			metrics.ObserveRobotsFetch("error")
		}
		if r.onConn != nil && snapshot.IsConnectionError(err) {
			r.onConn((&url.URL{Host: host}).Hostname())
		}
		return fallback
	case resp.Truncated:
		r.logger.Warn("robots.txt exceeds size cap; allowing all",
			zap.String("host", host), zap.Int64("max_bytes", r.cfg.MaxBytes))
		metrics.ObserveRobotsFetch("oversized")
		return fallback
	}

	metrics.ObserveRobotsFetch("ok")
	return &Policy{
		Host:      host,
		Rules:     Parse(resp.Body),
		FetchedAt: now,
		TTL:       r.cfg.CacheTTL,
	}
}
