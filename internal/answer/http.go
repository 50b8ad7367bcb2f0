package answer

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

type chatRequest struct {
	Question string  `json:"question"`
	Category *string `json:"category,omitempty"`
	Section  *string `json:"section,omitempty"`
}

type chatResponse struct {
	Answer     string `json:"answer"`
	IsFallback bool   `json:"isFallback"`
	FromCache  bool   `json:"fromCache"`
}

type healthResponse struct {
	Status string `json:"status"`
	Valkey *bool  `json:"valkeyHealthy,omitempty"`
}

type invalidateResponse struct {
	Removed int `json:"removed"`
}

// ServeChat handles POST /chat: answer one question, JSON in and out.
func (p *Pipeline) ServeChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		p.WriteError(w, http.StatusMethodNotAllowed, "chat requires POST")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		p.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := p.Answer(r.Context(), req.Question, req.Category, req.Section)
	if err != nil {
		if errors.Is(err, ErrEmptyQuestion) {
			p.WriteError(w, http.StatusBadRequest, "question required")
			return
		}
		p.logger.ErrorContext(r.Context(), "chat request failed", slog.Any("error", err))
		p.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Answer:     result.Answer,
		IsFallback: result.IsFallback,
		FromCache:  result.FromCache,
	})
}

// ServeHealth handles GET /healthz. The service is healthy whenever it can
// serve chat traffic; a down distributed tier is reported but does not fail
// the check.
func (p *Pipeline) ServeHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		p.WriteError(w, http.StatusMethodNotAllowed, "health requires GET")
		return
	}

	resp := healthResponse{Status: "ok"}
	if stats := p.cache.Stats(r.Context()); stats.Valkey != nil {
		resp.Valkey = &stats.Valkey.Healthy
	}
	writeJSON(w, http.StatusOK, resp)
}

// ServeCacheStats handles GET /cache/stats with the combined tier snapshot.
func (p *Pipeline) ServeCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		p.WriteError(w, http.StatusMethodNotAllowed, "cache stats requires GET")
		return
	}
	writeJSON(w, http.StatusOK, p.CacheStats(r.Context()))
}

// ServeCacheInvalidate handles DELETE /cache. With a ?question= fragment only
// matching entries are dropped; without one the whole cache is cleared.
func (p *Pipeline) ServeCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		p.WriteError(w, http.StatusMethodNotAllowed, "cache invalidation requires DELETE")
		return
	}

	fragment := strings.TrimSpace(r.URL.Query().Get("question"))
	if fragment == "" {
		before := p.cache.Stats(r.Context()).Local.Size
		p.cache.Clear(r.Context())
		writeJSON(w, http.StatusOK, invalidateResponse{Removed: before})
		return
	}
	writeJSON(w, http.StatusOK, invalidateResponse{Removed: p.Invalidate(r.Context(), fragment)})
}

// WriteError emits the error envelope shared by every endpoint.
func (p *Pipeline) WriteError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
