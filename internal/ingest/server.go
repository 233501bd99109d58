// Package ingest exposes the HTTP entry point: event envelopes in, incident
// outcomes out, plus the metrics and health endpoints. Incidents are
// independent; the server processes many in parallel up to a configured cap.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nimishmehta8779/aiops-devops-agent/internal/metrics"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/normalizer"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/patterns"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/storage"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/types"
	"github.com/nimishmehta8779/aiops-devops-agent/internal/workflow"
)

// Server is the ingest HTTP server.
type Server struct {
	addr       string
	normalizer *normalizer.Normalizer
	engine     *workflow.Engine
	store      storage.Store
	analyzer   *patterns.Analyzer
	metrics    *metrics.Metrics
	logger     *slog.Logger

	// sem caps concurrently processed incidents across all requests.
	sem *semaphore.Weighted
}

// NewServer creates the ingest server.
func NewServer(addr string, n *normalizer.Normalizer, engine *workflow.Engine, store storage.Store, analyzer *patterns.Analyzer, m *metrics.Metrics, maxConcurrent int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Server{
		addr:       addr,
		normalizer: n,
		engine:     engine,
		store:      store,
		analyzer:   analyzer,
		metrics:    m,
		logger:     logger,
		sem:        semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/events", s.handleEvent)
	r.Post("/events/batch", s.handleEventBatch)
	r.Post("/patterns/observe", s.handlePatternObserve)
	r.Get("/incidents/{correlationID}", s.handleGetIncident)
	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("ingest server listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ingest server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ignoredResponse is the non-error payload for unrecognized envelopes.
type ignoredResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// handleEvent processes one envelope synchronously and returns the outcome.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var env normalizer.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid envelope: %v", err))
		return
	}

	outcome, err := s.process(r.Context(), &env)
	if err != nil {
		if errors.Is(err, types.ErrIgnoredEvent) {
			writeJSON(w, http.StatusOK, ignoredResponse{Status: "ignored", Reason: "unknown_event_type"})
			return
		}
		s.logger.Error("event processing failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// batchResponse pairs each envelope with its outcome or error.
type batchResponse struct {
	Outcomes []*workflow.Outcome `json:"outcomes"`
	Ignored  int                 `json:"ignored"`
	Errors   []string            `json:"errors,omitempty"`
}

// handleEventBatch processes multiple envelopes in parallel. One failing
// envelope does not abort the rest.
func (s *Server) handleEventBatch(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Events []normalizer.Envelope `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid batch: %v", err))
		return
	}

	outcomes := make([]*workflow.Outcome, len(payload.Events))
	errs := make([]error, len(payload.Events))

	g, gctx := errgroup.WithContext(r.Context())
	for i := range payload.Events {
		g.Go(func() error {
			outcomes[i], errs[i] = s.process(gctx, &payload.Events[i])
			return nil
		})
	}
	g.Wait() // goroutines never return errors; failures land in errs

	resp := batchResponse{}
	for i, outcome := range outcomes {
		switch {
		case errs[i] == nil:
			resp.Outcomes = append(resp.Outcomes, outcome)
		case errors.Is(errs[i], types.ErrIgnoredEvent):
			resp.Ignored++
		default:
			resp.Errors = append(resp.Errors, errs[i].Error())
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// process normalizes and runs one envelope under the concurrency cap.
func (s *Server) process(ctx context.Context, env *normalizer.Envelope) (*workflow.Outcome, error) {
	ictx, err := s.normalizer.Normalize(env)
	if err != nil {
		return nil, err
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire incident slot: %w", err)
	}
	defer s.sem.Release(1)

	return s.engine.ProcessEvent(ctx, ictx)
}

// handlePatternObserve feeds one log-pattern observation to the analyzer.
func (s *Server) handlePatternObserve(w http.ResponseWriter, r *http.Request) {
	if s.analyzer == nil {
		writeError(w, http.StatusNotImplemented, "pattern analysis not configured")
		return
	}
	var obs patterns.Observation
	if err := json.NewDecoder(r.Body).Decode(&obs); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid observation: %v", err))
		return
	}
	if obs.LogGroup == "" || obs.Pattern == "" {
		writeError(w, http.StatusBadRequest, "log_group and pattern are required")
		return
	}

	verdict, err := s.analyzer.Observe(r.Context(), &obs)
	if err != nil {
		s.logger.Error("pattern observation failed", "key", obs.Key(), "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

// handleGetIncident returns the stored incident record.
func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	correlationID := chi.URLParam(r, "correlationID")
	inc, err := s.store.Get(r.Context(), correlationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if inc == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("incident %s not found", correlationID))
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
