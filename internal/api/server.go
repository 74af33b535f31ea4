package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fedineko/crabo/internal/config"
	"github.com/fedineko/crabo/internal/metrics"
	"github.com/fedineko/crabo/internal/snapshot"
)

const maxBatchURLs = 100

// Snapshotter produces snapshots; *pipeline.Pipeline satisfies it.
type Snapshotter interface {
	ProduceRequest(ctx context.Context, req snapshot.Request) (snapshot.Snapshot, error)
}

// Server wires HTTP handlers to the snapshot pipeline.
type Server struct {
	router      chi.Router
	snapshotter Snapshotter
	cfg         config.Config
	logger      *zap.Logger
	now         func() time.Time
}

// NewServer constructs a Server with middleware and routes.
func NewServer(snapshotter Snapshotter, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		snapshotter: snapshotter,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Post("/snap", s.snapBatch)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/snapshot", s.snapshotOne)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.snapshotter == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type snapshotRequest struct {
	URL         string `json:"url"`
	BypassCache bool   `json:"bypass_cache"`
}

type batchRequest struct {
	URLs        []string `json:"urls"`
	BypassCache bool     `json:"bypass_cache"`
}

type batchResponse struct {
	Snapshots []snapshot.Snapshot `json:"snapshots"`
}

func (s *Server) snapshotOne(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	snap, err := s.produce(r.Context(), req.URL, req.BypassCache)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) snapBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls required")
		return
	}
	if len(req.URLs) > maxBatchURLs {
		writeError(w, http.StatusRequestEntityTooLarge, "too many urls")
		return
	}

	results := make([]*snapshot.Snapshot, len(req.URLs))
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(max(1, s.cfg.Snapshot.BatchConcurrency))
	for i, rawURL := range req.URLs {
		g.Go(func() error {
			snap, err := s.produce(ctx, rawURL, req.BypassCache)
			if err != nil {
				s.logger.Debug("batch entry skipped",
					zap.String("request_id", RequestID(r.Context())),
					zap.String("url", rawURL),
					zap.String("kind", snapshot.Kind(err)),
				)
				return nil
			}
			results[i] = &snap
			return nil
		})
	}
	// Entries always return nil; a failed URL is simply left out.
	g.Wait()

	resp := batchResponse{Snapshots: make([]snapshot.Snapshot, 0, len(results))}
	for _, snap := range results {
		if snap != nil {
			resp.Snapshots = append(resp.Snapshots, *snap)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) produce(ctx context.Context, rawURL string, bypass bool) (snapshot.Snapshot, error) {
	if s.snapshotter == nil {
		return snapshot.Snapshot{}, errors.New("pipeline not configured")
	}
	u, err := snapshot.ParseURL(rawURL)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	return s.snapshotter.ProduceRequest(ctx, snapshot.Request{
		URL:         u,
		RequestedAt: s.now(),
		BypassCache: bypass,
	})
}

// statusFor maps a pipeline error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, snapshot.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, snapshot.ErrDisallowedByRobots):
		return http.StatusForbidden
	case errors.Is(err, snapshot.ErrIgnoredHost):
		return http.StatusUnprocessableEntity
	case errors.Is(err, snapshot.ErrSiteSuppressed):
		return http.StatusServiceUnavailable
	case errors.Is(err, snapshot.ErrFetchFailed), errors.Is(err, snapshot.ErrExtractionFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writePipelineError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{
		"error": err.Error(),
		"kind":  snapshot.Kind(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
