// Package sitehealth counts connection failures per host and suppresses
// hosts that fail too often within a sliding window.
package sitehealth

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"

	"github.com/fedineko/crabo/internal/metrics"
)

// State is the breaker state of a host.
type State int

const (
	// Allowed (closed): requests proceed normally.
	Allowed State = iota
	// Suppressed (open): requests fail fast until the suppression ends.
	Suppressed
)

func (s State) String() string {
	if s == Suppressed {
		return "suppressed"
	}
	return "allowed"
}

// Outcome is what a pipeline run reports back for a host.
type Outcome int

const (
	// Success is a completed snapshot.
	Success Outcome = iota
	// ConnectionError is a timeout, refused or reset connection.
	ConnectionError
	// OtherError is any failure that is not connection-level.
	OtherError
)

func (o Outcome) String() string {
	switch o {
	case ConnectionError:
		return "connection_error"
	case OtherError:
		return "other_error"
	default:
		return "success"
	}
}

// Record is the health state of one host.
type Record struct {
	Host            string
	WindowStart     time.Time
	ErrorCount      int
	SuppressedUntil time.Time
}

// Suppressed reports whether the record is open at now.
func (r Record) Suppressed(now time.Time) bool {
	return !r.SuppressedUntil.IsZero() && now.Before(r.SuppressedUntil)
}

// Config tunes the breaker.
type Config struct {
	ErrorThreshold      int
	Window              time.Duration
	SuppressionDuration time.Duration
	Capacity            int
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		ErrorThreshold:      5,
		Window:              5 * time.Minute,
		SuppressionDuration: 15 * time.Minute,
		Capacity:            4096,
	}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(t *Tracker) { t.now = fn }
}

// WithLogger attaches a logger for state transitions.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// Tracker holds per-host records, bounded by LRU eviction.
// All operations take a single lock, so each is atomic.
type Tracker struct {
	mu      sync.Mutex
	records *simplelru.LRU[string, *Record]
	cfg     Config
	now     func() time.Time
	logger  *zap.Logger
}

// New builds a Tracker.
func New(cfg Config, opts ...Option) (*Tracker, error) {
	if cfg.ErrorThreshold <= 0 {
		return nil, fmt.Errorf("error threshold must be > 0, got %d", cfg.ErrorThreshold)
	}
	if cfg.Window <= 0 || cfg.SuppressionDuration <= 0 {
		return nil, fmt.Errorf("window and suppression duration must be > 0")
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	records, err := simplelru.NewLRU[string, *Record](cfg.Capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	t := &Tracker{
		records: records,
		cfg:     cfg,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Check returns Suppressed while host's suppression is in force. Expiry
// needs no transition: the first check after it simply returns Allowed.
func (t *Tracker) Check(host string) State {
	key := normalizeHost(host)
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records.Get(key)
	if ok && rec.Suppressed(t.now()) {
		return Suppressed
	}
	return Allowed
}

// RecordOutcome applies one pipeline outcome to host. Only connection
// errors move the counters; successes never reset them early.
func (t *Tracker) RecordOutcome(host string, outcome Outcome) {
	metrics.ObserveSiteOutcome(outcome.String())
	if outcome != ConnectionError {
		return
	}
	key := normalizeHost(host)
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records.Get(key)
	if !ok {
		rec = &Record{Host: key, WindowStart: now}
		t.records.Add(key, rec)
	}
	if now.Sub(rec.WindowStart) >= t.cfg.Window {
		rec.WindowStart = now
		rec.ErrorCount = 0
	}
	rec.ErrorCount++
	if rec.ErrorCount >= t.cfg.ErrorThreshold {
		rec.SuppressedUntil = now.Add(t.cfg.SuppressionDuration)
		rec.ErrorCount = 0
		rec.WindowStart = now
		metrics.ObserveSuppression()
		t.logger.Warn("suppressing host",
			zap.String("host", key),
			zap.Int("threshold", t.cfg.ErrorThreshold),
			zap.Time("until", rec.SuppressedUntil),
		)
	}
}

// Snapshot returns a copy of host's record.
func (t *Tracker) Snapshot(host string) (Record, bool) {
	key := normalizeHost(host)
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records.Peek(key)
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSpace(host))
}
