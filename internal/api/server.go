// Package api exposes the HTTP interface for the pipeline service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/badgerdata/marketpipe/internal/collector"
	"github.com/badgerdata/marketpipe/internal/config"
	"github.com/badgerdata/marketpipe/internal/metrics"
	"github.com/badgerdata/marketpipe/internal/pipeline"
	"github.com/badgerdata/marketpipe/internal/runstore"
	"github.com/badgerdata/marketpipe/internal/source"
)

// Server wires HTTP handlers to the submitter and the run ledger.
type Server struct {
	router    chi.Router
	registry  *source.Registry
	runs      pipeline.RunStore
	submitter *collector.Submitter
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	registry *source.Registry,
	runs pipeline.RunStore,
	submitter *collector.Submitter,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		registry:  registry,
		runs:      runs,
		submitter: submitter,
		cfg:       cfg,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/sources", s.listSources)
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.submitRun)
			r.Get("/", s.listRuns)
			r.Get("/{run_id}", s.getRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The ledger is the only hard dependency for accepting submissions.
	if _, err := s.runs.ListRuns(r.Context(), "", 1); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "run ledger unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type sourceInfo struct {
	Name    string `json:"name"`
	Cadence string `json:"cadence"`
	Table   string `json:"table"`
}

func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	sources := make([]sourceInfo, 0)
	for _, src := range s.registry.All() {
		sources = append(sources, sourceInfo{
			Name:    src.Name(),
			Cadence: string(src.Cadence()),
			Table:   src.Table().Name,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

type submitRunRequest struct {
	Source         string `json:"source"`
	SampleFallback *bool  `json:"sample_fallback"`
}

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	var req submitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Source == "" {
		s.writeError(w, http.StatusBadRequest, "source is required")
		return
	}
	if _, ok := s.registry.Get(req.Source); !ok {
		s.writeError(w, http.StatusNotFound, "unknown source")
		return
	}

	fallback := s.cfg.Collector.SampleFallback
	if req.SampleFallback != nil {
		fallback = *req.SampleFallback
	}

	submitCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	run, err := s.submitter.Submit(submitCtx, req.Source, pipeline.TriggerAPI, fallback)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"run": run})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, runstore.ErrRunNotFound) {
			s.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "run lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	src := r.URL.Query().Get("source")
	if src != "" {
		if _, ok := s.registry.Get(src); !ok {
			s.writeError(w, http.StatusNotFound, "unknown source")
			return
		}
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(r.Context(), src, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "run listing failed")
		return
	}
	if runs == nil {
		runs = []pipeline.Run{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
