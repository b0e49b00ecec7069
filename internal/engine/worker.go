package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/veyra/stronghold/internal/types"
)

// Wire shapes shared with the evaluation worker.

// EvalRequest is one expression plus the context to evaluate it against.
type EvalRequest struct {
	Expression types.Expression `json:"expression"`
	Context    map[string]any   `json:"context"`
}

// EvalResponse mirrors expr.Result over the wire.
type EvalResponse struct {
	OK    bool   `json:"ok"`
	Value any    `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

type evalBatchRequest struct {
	Items []EvalRequest `json:"items"`
}

type evalBatchResponse struct {
	Results []EvalResponse `json:"results"`
}

const (
	// probeTTL caches the worker liveness probe so hot read paths do not
	// issue one health request per evaluation.
	probeTTL = 5 * time.Second

	workerTimeout = 10 * time.Second
)

// WorkerClient delegates expression batches to a remote evaluation worker.
// Unavailability is not an error: callers fall back to local evaluation.
type WorkerClient struct {
	baseURL string
	client  *http.Client
	log     *slog.Logger

	mu        sync.Mutex
	alive     bool
	checkedAt time.Time
}

// NewWorkerClient builds a client for the worker at baseURL.
func NewWorkerClient(baseURL string, log *slog.Logger) *WorkerClient {
	return &WorkerClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: workerTimeout},
		log:     log,
	}
}

// Alive probes the worker's health endpoint. The verdict is cached for a few
// seconds in both directions.
func (w *WorkerClient) Alive(ctx context.Context) bool {
	w.mu.Lock()
	if time.Since(w.checkedAt) < probeTTL {
		alive := w.alive
		w.mu.Unlock()
		return alive
	}
	w.mu.Unlock()

	alive := w.probe(ctx)

	w.mu.Lock()
	w.alive = alive
	w.checkedAt = time.Now()
	w.mu.Unlock()
	return alive
}

func (w *WorkerClient) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// EvaluateBatch sends a batch of expressions to the worker. The result slice
// is index-aligned with items.
func (w *WorkerClient) EvaluateBatch(ctx context.Context, items []EvalRequest) ([]EvalResponse, error) {
	body, err := json.Marshal(evalBatchRequest{Items: items})
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/v1/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("worker unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("worker returned status %d", resp.StatusCode)
	}

	var batch evalBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return nil, fmt.Errorf("failed to decode worker response: %w", err)
	}
	if len(batch.Results) != len(items) {
		return nil, fmt.Errorf("worker returned %d results for %d items", len(batch.Results), len(items))
	}
	return batch.Results, nil
}
