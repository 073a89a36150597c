package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/restyle-ai/llmpool/internal/config"
	"github.com/restyle-ai/llmpool/internal/httputil"
	"github.com/restyle-ai/llmpool/internal/pool"
	"github.com/restyle-ai/llmpool/internal/transport"
	"github.com/restyle-ai/llmpool/internal/types"
	"github.com/restyle-ai/llmpool/internal/usage"
)

// Handler exposes the dispatch pool over HTTP to the document pipeline
// stages.
type Handler struct {
	pool      *pool.Pool
	ledger    *usage.Ledger
	modelsCfg func() *config.ModelsConfig
}

func NewHandler(p *pool.Pool, ledger *usage.Ledger, modelsCfg func() *config.ModelsConfig) *Handler {
	return &Handler{pool: p, ledger: ledger, modelsCfg: modelsCfg}
}

type generateRequest struct {
	Prompt      string         `json:"prompt"`
	System      string         `json:"system,omitempty"`
	Model       string         `json:"model"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	Temperature float64        `json:"temperature,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

type batchGenerateRequest struct {
	Prompts       []string       `json:"prompts"`
	System        string         `json:"system,omitempty"`
	Model         string         `json:"model"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   float64        `json:"temperature,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
	MaxConcurrent int            `json:"max_concurrent,omitempty"`
}

// Generate handles POST /v1/generate — one dispatched call.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	var body generateRequest
	if !decodeJSON(w, r, reqID, &body) {
		return
	}
	if body.Prompt == "" {
		httputil.WriteBadRequestError(w, reqID, "prompt is required")
		return
	}
	if body.Model == "" {
		httputil.WriteBadRequestError(w, reqID, "model is required")
		return
	}

	req := h.buildRequest(body.Prompt, body.System, body.Model, body.MaxTokens, body.Temperature, body.Extra)
	resp, err := h.pool.Call(r.Context(), req)
	if err != nil {
		h.writeCallError(w, reqID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GenerateBatch handles POST /v1/generate/batch — order-preserving
// fan-out with per-element failure isolation.
func (h *Handler) GenerateBatch(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	var body batchGenerateRequest
	if !decodeJSON(w, r, reqID, &body) {
		return
	}
	if len(body.Prompts) == 0 {
		httputil.WriteBadRequestError(w, reqID, "prompts is required")
		return
	}
	if body.Model == "" {
		httputil.WriteBadRequestError(w, reqID, "model is required")
		return
	}

	reqs := make([]types.Request, len(body.Prompts))
	for i, prompt := range body.Prompts {
		reqs[i] = h.buildRequest(prompt, body.System, body.Model, body.MaxTokens, body.Temperature, body.Extra)
	}

	results := h.pool.CallMany(r.Context(), reqs, body.MaxConcurrent)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"results": results})
}

// PoolStats handles GET /v1/pool/stats.
func (h *Handler) PoolStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.pool.Stats())
}

// CacheClear handles POST /v1/pool/cache/clear.
func (h *Handler) CacheClear(w http.ResponseWriter, r *http.Request) {
	h.pool.ClearCache()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "cleared"})
}

// Usage handles GET /v1/usage?since=24h — durable ledger totals.
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	window := 24 * time.Hour
	if raw := r.URL.Query().Get("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			httputil.WriteBadRequestError(w, reqID, "since must be a positive duration, e.g. 24h")
			return
		}
		window = d
	}

	totals, err := h.ledger.TotalsSince(r.Context(), time.Now().Add(-window))
	if err != nil {
		slog.Error("usage totals query failed", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "Failed to query usage totals")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(totals)
}

func (h *Handler) buildRequest(prompt, system, model string, maxTokens int, temperature float64, extra map[string]any) types.Request {
	if maxTokens <= 0 && h.modelsCfg != nil {
		if settings, ok := h.modelsCfg().Models[model]; ok {
			maxTokens = settings.MaxTokens
		}
	}
	return types.Request{
		Prompt:      prompt,
		System:      system,
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Extra:       extra,
	}
}

func (h *Handler) writeCallError(w http.ResponseWriter, reqID string, err error) {
	switch {
	case errors.Is(err, pool.ErrBudgetExceeded):
		httputil.WriteBudgetExceededError(w, reqID, "Daily spend budget exceeded")
	case isNonRetryableProviderError(err):
		slog.Error("provider rejected request", "request_id", reqID, "error", err)
		httputil.WriteBadRequestError(w, reqID, "Provider rejected the request: "+err.Error())
	default:
		slog.Error("dispatch failed", "request_id", reqID, "error", err)
		httputil.WriteServiceUnavailableError(w, reqID, "Dispatch failed: "+err.Error())
	}
}

func isNonRetryableProviderError(err error) bool {
	var perr *transport.ProviderError
	return errors.As(err, &perr) && !perr.Transient()
}

func decodeJSON(w http.ResponseWriter, r *http.Request, reqID string, dest any) bool {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequestError(w, reqID, "Failed to read request body")
		return false
	}
	defer r.Body.Close()

	if err := json.Unmarshal(data, dest); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return false
	}
	return true
}
