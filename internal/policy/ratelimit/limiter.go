// Package ratelimit implements a per-host token bucket used to space out
// page fetches to the same site.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/time/rate"

	"github.com/fedineko/crabo/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// PerHostRPS of zero or less disables limiting.
	PerHostRPS float64
	Burst      int
	// MaxHosts bounds the number of tracked hosts.
	MaxHosts int
}

// Limiter manages per-host rate limits.
type Limiter struct {
	mu       sync.Mutex
	limiters *simplelru.LRU[string, *rate.Limiter]
	rate     rate.Limit
	burst    int
}

// New creates a new Limiter.
func New(cfg Config) (*Limiter, error) {
	r := rate.Limit(cfg.PerHostRPS)
	if cfg.PerHostRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxHosts := cfg.MaxHosts
	if maxHosts <= 0 {
		maxHosts = 4096
	}
	limiters, err := simplelru.NewLRU[string, *rate.Limiter](maxHosts, nil)
	if err != nil {
		return nil, fmt.Errorf("create limiter lru: %w", err)
	}
	return &Limiter{limiters: limiters, rate: r, burst: burst}, nil
}

// Enabled reports whether the limiter ever delays.
func (l *Limiter) Enabled() bool {
	return l != nil && l.rate != rate.Inf
}

// Wait blocks until host may be fetched again, respecting the context.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	if !l.Enabled() {
		return nil
	}
	host = strings.ToLower(host)
	l.mu.Lock()
	limiter, ok := l.limiters.Get(host)
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters.Add(host, limiter)
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}
