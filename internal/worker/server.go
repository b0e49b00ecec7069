// Package worker exposes expression evaluation over HTTP for out-of-process
// deployment. Evaluation runs the same code path as the engine's local
// fallback, so remote and local results are identical.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/veyra/stronghold/internal/engine"
)

const shutdownGrace = 10 * time.Second

// Server is the HTTP evaluation worker.
type Server struct {
	addr string
	log  *slog.Logger
}

// NewServer builds a worker listening on addr.
func NewServer(addr string, log *slog.Logger) *Server {
	return &Server{addr: addr, log: log}
}

// Router builds the worker's HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/v1/evaluate", s.handleEvaluate)
	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("evaluation worker listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down evaluation worker")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type evalBatchRequest struct {
	Items []engine.EvalRequest `json:"items"`
}

type evalBatchResponse struct {
	Results []engine.EvalResponse `json:"results"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evalBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	results := engine.EvaluateLocal(req.Items)
	if results == nil {
		results = []engine.EvalResponse{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(evalBatchResponse{Results: results}); err != nil {
		s.log.WarnContext(r.Context(), "failed to write evaluation response", "error", err)
	}
}
